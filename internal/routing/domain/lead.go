// Package domain holds the core types and business rules of the lead routing
// bounded context. It has no infrastructure dependencies.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// LeadStatus is the lifecycle state of a lead.
type LeadStatus string

const (
	LeadStatusNew          LeadStatus = "new"
	LeadStatusRouting      LeadStatus = "routing"
	LeadStatusAssigned     LeadStatus = "assigned"
	LeadStatusContacted    LeadStatus = "contacted"
	LeadStatusQualified    LeadStatus = "qualified"
	LeadStatusDisqualified LeadStatus = "disqualified"
	LeadStatusNurture      LeadStatus = "nurture"
	LeadStatusConverted    LeadStatus = "converted"
	LeadStatusLost         LeadStatus = "lost"
)

// PriorityTier buckets leads for routing urgency.
type PriorityTier string

const (
	PriorityHot  PriorityTier = "hot"
	PriorityWarm PriorityTier = "warm"
	PriorityCold PriorityTier = "cold"
)

// terminalLeadStatuses are statuses after which a lead record is immutable.
var terminalLeadStatuses = map[LeadStatus]bool{
	LeadStatusConverted: true,
	LeadStatusLost:      true,
}

// IsTerminalLeadStatus reports whether the status freezes the lead.
func IsTerminalLeadStatus(status LeadStatus) bool {
	return terminalLeadStatuses[status]
}

// routableLeadStatuses are statuses from which a routing attempt may start.
var routableLeadStatuses = map[LeadStatus]bool{
	LeadStatusNew:     true,
	LeadStatusRouting: true,
	LeadStatusNurture: true,
}

// IsRoutable reports whether a lead in the given status can enter the
// routing pipeline. Assigned leads re-enter only through the reassignment
// workflow, which bypasses this check deliberately.
func IsRoutable(status LeadStatus) bool {
	return routableLeadStatuses[status]
}

// Lead is a prospective customer record entering the routing pipeline.
// Quality, intent and fit scores are pre-computed upstream; this engine
// consumes them, it never derives them from raw behavioral data.
type Lead struct {
	ID             uuid.UUID
	OrganizationID uuid.UUID
	CompanyName    string
	CompanySize    int
	Industry       string
	Country        string
	Region         string
	Source         string
	QualityScore   *float64 // 0-100, nil when the upstream scorer has no signal
	IntentScore    *float64 // 0-100
	FitScore       *float64 // 0-100
	Priority       PriorityTier
	Status         LeadStatus
	EstimatedValue float64
	Products       []string
	UseCases       []string
	Language       string
	Tags           []string
	// Metadata is an opaque pass-through bag. Built-in routing logic never
	// matches on it; custom rule conditions may, via dynamic field lookup.
	Metadata  map[string]any
	CreatedAt time.Time
	UpdatedAt time.Time
}
