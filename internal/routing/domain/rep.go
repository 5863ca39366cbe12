package domain

import (
	"time"

	"github.com/google/uuid"
)

// PerformanceTier groups reps by historical results.
type PerformanceTier string

const (
	TierTop       PerformanceTier = "top"
	TierSenior    PerformanceTier = "senior"
	TierStandard  PerformanceTier = "standard"
	TierRampingUp PerformanceTier = "ramping_up"
)

// AvailabilityStatus is the rep's current presence state.
type AvailabilityStatus string

const (
	AvailabilityAvailable   AvailabilityStatus = "available"
	AvailabilityBusy        AvailabilityStatus = "busy"
	AvailabilityMeeting     AvailabilityStatus = "meeting"
	AvailabilityTraining    AvailabilityStatus = "training"
	AvailabilityOutOfOffice AvailabilityStatus = "out_of_office"
	AvailabilityVacation    AvailabilityStatus = "vacation"
)

// SkillSet is the fixed vector of twelve named skill scores (0-100 each).
type SkillSet struct {
	Prospecting       float64 `json:"prospecting"`
	Qualification     float64 `json:"qualification"`
	Discovery         float64 `json:"discovery"`
	ProductKnowledge  float64 `json:"productKnowledge"`
	DemoDelivery      float64 `json:"demoDelivery"`
	ObjectionHandling float64 `json:"objectionHandling"`
	Negotiation       float64 `json:"negotiation"`
	Closing           float64 `json:"closing"`
	AccountExpansion  float64 `json:"accountExpansion"`
	Forecasting       float64 `json:"forecasting"`
	Communication     float64 `json:"communication"`
	TechnicalDepth    float64 `json:"technicalDepth"`
}

// CustomCapacityRule is an organization-defined capacity ceiling beyond the
// built-in active/daily/weekly limits.
type CustomCapacityRule struct {
	Name      string  `json:"name"`
	Condition string  `json:"condition"`
	Limit     float64 `json:"limit"`
	Current   float64 `json:"current"`
}

// Capacity holds the configured workload ceilings for a rep.
type Capacity struct {
	MaxActiveLeads      int                  `json:"maxActiveLeads"`
	MaxNewLeadsPerDay   int                  `json:"maxNewLeadsPerDay"`
	MaxNewLeadsPerWeek  int                  `json:"maxNewLeadsPerWeek"`
	MaxPipelineValue    *float64             `json:"maxPipelineValue,omitempty"`
	CustomRules         []CustomCapacityRule `json:"customRules,omitempty"`
}

// Workload holds the rep's current load. Active/daily/weekly counters and
// pipeline value are the source of truth; utilization and remaining capacity
// are always derived from them, never stored, to avoid drift.
type Workload struct {
	ActiveLeads           int     `json:"activeLeads"`
	LeadsAssignedToday    int     `json:"leadsAssignedToday"`
	LeadsAssignedThisWeek int     `json:"leadsAssignedThisWeek"`
	PipelineValue         float64 `json:"pipelineValue"`
}

// Utilization returns the active-lead utilization in [0,1]. A rep with no
// configured ceiling reports full utilization so scoring treats them as
// having no headroom.
func (w Workload) Utilization(cap Capacity) float64 {
	if cap.MaxActiveLeads <= 0 {
		return 1
	}
	u := float64(w.ActiveLeads) / float64(cap.MaxActiveLeads)
	if u > 1 {
		return 1
	}
	return u
}

// RolledOver zeroes the daily counter when lastAssigned falls on an earlier
// day than now, and the weekly counter when it falls in an earlier ISO week.
// The stored counters are raw; rollover is applied when a rep is read and
// when an assignment is written, so the per-day and per-week ceilings reopen
// without a scheduled reset job.
func (w Workload) RolledOver(lastAssigned, now time.Time) Workload {
	if lastAssigned.IsZero() {
		return w
	}
	ly, lw := lastAssigned.ISOWeek()
	ny, nw := now.ISOWeek()
	if ly != ny || lw != nw {
		w.LeadsAssignedThisWeek = 0
	}
	ld, nd := lastAssigned.Format("2006-01-02"), now.Format("2006-01-02")
	if ld != nd {
		w.LeadsAssignedToday = 0
	}
	return w
}

// RemainingCapacity returns how many more active leads the rep can hold.
func (w Workload) RemainingCapacity(cap Capacity) int {
	remaining := cap.MaxActiveLeads - w.ActiveLeads
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Specializations describe what a rep is good at selling, and to whom.
type Specializations struct {
	Industries     []string `json:"industries,omitempty"`
	CompanySizes   []string `json:"companySizes,omitempty"`
	Products       []string `json:"products,omitempty"`
	UseCases       []string `json:"useCases,omitempty"`
	Languages      []string `json:"languages,omitempty"`
	Certifications []string `json:"certifications,omitempty"`
}

// Empty reports whether the rep declares no specializations at all.
func (s Specializations) Empty() bool {
	return len(s.Industries) == 0 && len(s.CompanySizes) == 0 &&
		len(s.Products) == 0 && len(s.UseCases) == 0 &&
		len(s.Languages) == 0 && len(s.Certifications) == 0
}

// Territory is a named scope (geographic and/or vertical) used for
// rep-to-lead matching. Priority breaks ties when several reps match.
type Territory struct {
	Name       string   `json:"name"`
	Countries  []string `json:"countries,omitempty"`
	Regions    []string `json:"regions,omitempty"`
	Industries []string `json:"industries,omitempty"`
	Priority   int      `json:"priority"`
}

// Matches reports whether the lead falls inside this territory. A territory
// with only geographic criteria matches on geography alone; one with only
// vertical criteria matches on industry alone; one with both requires both.
func (t Territory) Matches(lead Lead) bool {
	geoScoped := len(t.Countries) > 0 || len(t.Regions) > 0
	vertScoped := len(t.Industries) > 0

	if !geoScoped && !vertScoped {
		return false
	}
	if geoScoped && !t.matchesGeo(lead) {
		return false
	}
	if vertScoped && !containsFold(t.Industries, lead.Industry) {
		return false
	}
	return true
}

func (t Territory) matchesGeo(lead Lead) bool {
	if len(t.Countries) > 0 && containsFold(t.Countries, lead.Country) {
		return true
	}
	if len(t.Regions) > 0 && containsFold(t.Regions, lead.Region) {
		return true
	}
	return false
}

// WorkingHours bounds when a rep receives automatic assignments.
type WorkingHours struct {
	Timezone  string `json:"timezone"`
	StartHour int    `json:"startHour"` // 0-23, inclusive
	EndHour   int    `json:"endHour"`   // 0-23, exclusive
	Days      []int  `json:"days"`      // time.Weekday values
}

// Contains reports whether t falls inside the working hours window.
// A zero-value window (no timezone) means always available.
func (wh WorkingHours) Contains(t time.Time) bool {
	if wh.Timezone == "" {
		return true
	}
	loc, err := time.LoadLocation(wh.Timezone)
	if err != nil {
		return true
	}
	local := t.In(loc)

	if len(wh.Days) > 0 {
		dayOK := false
		for _, d := range wh.Days {
			if int(local.Weekday()) == d {
				dayOK = true
				break
			}
		}
		if !dayOK {
			return false
		}
	}

	hour := local.Hour()
	return hour >= wh.StartHour && hour < wh.EndHour
}

// RoutingPreferences hold a rep's assignment preferences.
type RoutingPreferences struct {
	PreferredSources    []string       `json:"preferredSources,omitempty"`
	PreferredPriorities []PriorityTier `json:"preferredPriorities,omitempty"`
	AutoAccept          bool           `json:"autoAccept"`
	NotifyOnAssignment  bool           `json:"notifyOnAssignment"`
	WorkingHours        *WorkingHours  `json:"workingHours,omitempty"`
}

// SalesRep is a sales representative eligible to receive leads.
type SalesRep struct {
	ID              uuid.UUID
	OrganizationID  uuid.UUID
	TeamID          *uuid.UUID
	Name            string
	Email           string
	Tier            PerformanceTier
	OverallScore    float64 // 0-100
	Skills          SkillSet
	Capacity        Capacity
	Workload        Workload
	Specializations Specializations
	Territories     []Territory
	IsAvailable     bool
	Status          AvailabilityStatus
	Preferences     RoutingPreferences
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// BestTerritoryPriority returns the highest priority among the rep's
// territories matching the lead, or -1 when none match.
func (r SalesRep) BestTerritoryPriority(lead Lead) int {
	best := -1
	for _, t := range r.Territories {
		if t.Matches(lead) && t.Priority > best {
			best = t.Priority
		}
	}
	return best
}
