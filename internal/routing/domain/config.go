package domain

import (
	"time"

	"github.com/google/uuid"
)

// StrategyWeights are the five factor weights of the composite match score.
// Each weight is in [0,1]; they need not sum to 1 and are normalized before
// use.
type StrategyWeights struct {
	Performance    float64 `json:"performance"`
	Capacity       float64 `json:"capacity"`
	Specialization float64 `json:"specialization"`
	Territory      float64 `json:"territory"`
	Availability   float64 `json:"availability"`
}

// Normalized returns the weights scaled so they sum to 1. All-zero weights
// normalize to the uniform distribution so scoring always has a defined
// result.
func (w StrategyWeights) Normalized() StrategyWeights {
	sum := w.Performance + w.Capacity + w.Specialization + w.Territory + w.Availability
	if sum <= 0 {
		return StrategyWeights{Performance: 0.2, Capacity: 0.2, Specialization: 0.2, Territory: 0.2, Availability: 0.2}
	}
	return StrategyWeights{
		Performance:    w.Performance / sum,
		Capacity:       w.Capacity / sum,
		Specialization: w.Specialization / sum,
		Territory:      w.Territory / sum,
		Availability:   w.Availability / sum,
	}
}

// clamp01 bounds each weight to [0,1].
func (w StrategyWeights) clamp01() StrategyWeights {
	c := func(v float64) float64 {
		if v < 0 {
			return 0
		}
		if v > 1 {
			return 1
		}
		return v
	}
	return StrategyWeights{
		Performance:    c(w.Performance),
		Capacity:       c(w.Capacity),
		Specialization: c(w.Specialization),
		Territory:      c(w.Territory),
		Availability:   c(w.Availability),
	}
}

// HotLeadRouting controls preferential treatment of hot leads.
type HotLeadRouting struct {
	RouteToTopPerformers   bool    `json:"routeToTopPerformers"`
	TopPerformerPercentile float64 `json:"topPerformerPercentile"` // 0-100, e.g. 80 = top 20%
	PerformanceBoost       float64 `json:"performanceBoost"`       // multiplier applied to the performance sub-score
}

// WorkloadBalance controls the periodic rebalancing thresholds.
type WorkloadBalance struct {
	MaxUtilizationSpread float64       `json:"maxUtilizationSpread"` // 0-1
	CheckInterval        time.Duration `json:"checkInterval"`
}

// ResetCadence is how often round-robin cursors restart from zero.
type ResetCadence string

const (
	ResetDaily   ResetCadence = "daily"
	ResetWeekly  ResetCadence = "weekly"
	ResetMonthly ResetCadence = "monthly"
	ResetNever   ResetCadence = "never"
)

// RoundRobinSettings tune the sequencer.
type RoundRobinSettings struct {
	ResetCadence   ResetCadence `json:"resetCadence"`
	SkipAtCapacity bool         `json:"skipAtCapacity"`
}

// ReassignmentSettings bound the reassignment workflow.
type ReassignmentSettings struct {
	MaxReassignments  int  `json:"maxReassignments"`
	ReassignAfterDays int  `json:"reassignAfterDays"` // no first contact within N days triggers a sweep
	AutoReassign      bool `json:"autoReassign"`
	AckTimeoutHours   int  `json:"ackTimeoutHours"` // pending assignments expire after this
}

// QueueSettings control the fallback queue.
type QueueSettings struct {
	EscalateAfterHours int `json:"escalateAfterHours"`
	MaxSize            int `json:"maxSize"`
}

// NotificationSettings toggle outbound notifications. Delivery itself is a
// collaborator concern; this engine only publishes events.
type NotificationSettings struct {
	NotifyRepOnAssignment     bool `json:"notifyRepOnAssignment"`
	NotifyManagerOnEscalation bool `json:"notifyManagerOnEscalation"`
}

// RoutingConfiguration is the org-wide tunable surface of the engine.
// Singleton per organization, versioned by UpdatedAt.
type RoutingConfiguration struct {
	OrganizationID  uuid.UUID            `json:"organizationId"`
	DefaultStrategy RoutingStrategy      `json:"defaultStrategy"`
	Weights         StrategyWeights      `json:"weights"`
	HotLeads        HotLeadRouting       `json:"hotLeads"`
	WorkloadBalance WorkloadBalance      `json:"workloadBalance"`
	RoundRobin      RoundRobinSettings   `json:"roundRobin"`
	Reassignment    ReassignmentSettings `json:"reassignment"`
	Queue           QueueSettings        `json:"queue"`
	Notifications   NotificationSettings `json:"notifications"`
	BusinessHours   *WorkingHours        `json:"businessHours,omitempty"`
	UpdatedAt       time.Time            `json:"updatedAt"`
}

// DefaultRoutingConfiguration returns the documented defaults applied when
// an organization has not tuned its routing. Defaults live here, once, not
// scattered through call sites.
func DefaultRoutingConfiguration(orgID uuid.UUID) RoutingConfiguration {
	return RoutingConfiguration{
		OrganizationID:  orgID,
		DefaultStrategy: StrategyHybrid,
		Weights: StrategyWeights{
			Performance:    0.30,
			Capacity:       0.20,
			Specialization: 0.20,
			Territory:      0.20,
			Availability:   0.10,
		},
		HotLeads: HotLeadRouting{
			RouteToTopPerformers:   true,
			TopPerformerPercentile: 80,
			PerformanceBoost:       1.25,
		},
		WorkloadBalance: WorkloadBalance{
			MaxUtilizationSpread: 0.4,
			CheckInterval:        30 * time.Minute,
		},
		RoundRobin: RoundRobinSettings{
			ResetCadence:   ResetWeekly,
			SkipAtCapacity: true,
		},
		Reassignment: ReassignmentSettings{
			MaxReassignments:  3,
			ReassignAfterDays: 2,
			AutoReassign:      true,
			AckTimeoutHours:   4,
		},
		Queue: QueueSettings{
			EscalateAfterHours: 8,
			MaxSize:            500,
		},
		Notifications: NotificationSettings{
			NotifyRepOnAssignment:     true,
			NotifyManagerOnEscalation: true,
		},
	}
}

// Sanitize clamps out-of-range numeric fields and fills empty enums with
// defaults. Called once when a configuration is loaded or updated.
func (c RoutingConfiguration) Sanitize() RoutingConfiguration {
	out := c
	out.Weights = c.Weights.clamp01()
	if !ValidStrategy(out.DefaultStrategy) {
		out.DefaultStrategy = StrategyHybrid
	}
	switch out.RoundRobin.ResetCadence {
	case ResetDaily, ResetWeekly, ResetMonthly, ResetNever:
	default:
		out.RoundRobin.ResetCadence = ResetWeekly
	}
	if out.HotLeads.TopPerformerPercentile < 0 {
		out.HotLeads.TopPerformerPercentile = 0
	}
	if out.HotLeads.TopPerformerPercentile > 100 {
		out.HotLeads.TopPerformerPercentile = 100
	}
	if out.HotLeads.PerformanceBoost < 1 {
		out.HotLeads.PerformanceBoost = 1
	}
	if out.Reassignment.MaxReassignments < 0 {
		out.Reassignment.MaxReassignments = 0
	}
	return out
}
