package engine

import (
	"context"
	"time"

	"github.com/google/uuid"

	"leadrouter_backend/internal/routing/domain"
)

// Store interfaces are defined here, on the consumer side. The repository
// package provides the pgx implementations.

// LeadStore loads and transitions leads.
type LeadStore interface {
	GetLead(ctx context.Context, orgID, leadID uuid.UUID) (domain.Lead, error)
	UpdateLeadStatus(ctx context.Context, orgID, leadID uuid.UUID, status domain.LeadStatus) error
}

// RepStore loads sales reps with their capacity and workload.
type RepStore interface {
	GetRep(ctx context.Context, orgID, repID uuid.UUID) (domain.SalesRep, error)
	ListReps(ctx context.Context, orgID uuid.UUID) ([]domain.SalesRep, error)
}

// RuleStore loads routing rules.
type RuleStore interface {
	ListRules(ctx context.Context, orgID uuid.UUID) ([]domain.RoutingRule, error)
}

// ConfigStore loads the organization's routing configuration. Implementations
// return the documented defaults when the organization has not stored one.
type ConfigStore interface {
	GetConfiguration(ctx context.Context, orgID uuid.UUID) (domain.RoutingConfiguration, error)
}

// AssignmentStore persists the append-only assignment history.
type AssignmentStore interface {
	CreateAssignment(ctx context.Context, a domain.LeadAssignment) error
	GetAssignment(ctx context.Context, orgID, assignmentID uuid.UUID) (domain.LeadAssignment, error)
	// GetCurrentAssignment returns the lead's most recent non-superseded
	// assignment.
	GetCurrentAssignment(ctx context.Context, orgID, leadID uuid.UUID) (domain.LeadAssignment, error)
	// Supersede moves an assignment to the given status and releases the
	// rep's workload counters for it. Refused for terminal assignments.
	Supersede(ctx context.Context, orgID, assignmentID uuid.UUID, status domain.AssignmentStatus, reason string) error
	UpdateStatus(ctx context.Context, orgID, assignmentID uuid.UUID, status domain.AssignmentStatus) error
	// ListExpiredPending returns pending assignments whose ExpiresAt has
	// passed, across organizations, for the scheduler sweep.
	ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]domain.LeadAssignment, error)
	// ListUncontacted returns active assignments with no first contact,
	// oldest first, for the reassignment sweep.
	ListUncontacted(ctx context.Context, now time.Time, limit int) ([]domain.LeadAssignment, error)
}

// QueueStore is the fallback routing queue.
type QueueStore interface {
	Enqueue(ctx context.Context, q domain.QueuedLead) error
	Dequeue(ctx context.Context, orgID, leadID uuid.UUID) error
	Depth(ctx context.Context, orgID uuid.UUID) (int, error)
}
