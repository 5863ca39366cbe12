package domain

import (
	"time"

	"github.com/google/uuid"
)

// AssignmentMethod records how an assignment came to be.
type AssignmentMethod string

const (
	MethodAutomatic    AssignmentMethod = "automatic"
	MethodManual       AssignmentMethod = "manual"
	MethodRoundRobin   AssignmentMethod = "round_robin"
	MethodClaimed      AssignmentMethod = "claimed"
	MethodReassignment AssignmentMethod = "reassignment"
)

// AssignmentStatus is the lifecycle state of an assignment.
type AssignmentStatus string

const (
	AssignmentPending    AssignmentStatus = "pending"
	AssignmentActive     AssignmentStatus = "active"
	AssignmentCompleted  AssignmentStatus = "completed"
	AssignmentExpired    AssignmentStatus = "expired"
	AssignmentRejected   AssignmentStatus = "rejected"
	AssignmentReassigned AssignmentStatus = "reassigned"
)

// terminalAssignmentStatuses mark assignments that can never change again.
var terminalAssignmentStatuses = map[AssignmentStatus]bool{
	AssignmentCompleted:  true,
	AssignmentReassigned: true,
}

// IsTerminalAssignmentStatus reports whether the status is final.
// Expired and rejected assignments are not terminal: the reassignment
// workflow supersedes them.
func IsTerminalAssignmentStatus(status AssignmentStatus) bool {
	return terminalAssignmentStatuses[status]
}

// SubScores are the five factor scores (0-100 each) behind a composite.
type SubScores struct {
	Performance    float64 `json:"performance"`
	Capacity       float64 `json:"capacity"`
	Specialization float64 `json:"specialization"`
	Territory      float64 `json:"territory"`
	Availability   float64 `json:"availability"`
}

// Alternative is a ranked non-winning candidate, kept on the assignment for
// observability and for the reassignment workflow to consult later.
type Alternative struct {
	RepID     uuid.UUID `json:"repId"`
	Score     float64   `json:"score"`
	SubScores SubScores `json:"subScores"`
	Reasons   []string  `json:"reasons,omitempty"`
}

// LeadAssignment is the output record of one routing attempt. Assignments
// are append-only: a reassignment supersedes the old record with a new one,
// preserving lineage, and never mutates scores or reasons in place.
type LeadAssignment struct {
	ID             uuid.UUID
	OrganizationID uuid.UUID
	LeadID         uuid.UUID
	RepID          uuid.UUID
	Method         AssignmentMethod
	Strategy       RoutingStrategy
	MatchedRuleIDs []uuid.UUID
	Score          float64
	SubScores      SubScores
	Confidence     float64 // 0-1
	Reason         string
	Alternatives   []Alternative
	Status         AssignmentStatus
	AssignedAt     time.Time
	ExpiresAt      *time.Time
	FirstContactAt *time.Time
	QualifiedAt    *time.Time
	ConvertedAt    *time.Time
	// Reassignment lineage
	PreviousRepID      *uuid.UUID
	ReassignmentReason string
	ReassignmentCount  int
}

// QueuedLead is a routing-queue entry created when no rep could take the
// lead. Draining the queue is a collaborator concern except for the
// scheduler's retry sweep.
type QueuedLead struct {
	ID             uuid.UUID
	OrganizationID uuid.UUID
	LeadID         uuid.UUID
	Queue          string
	Priority       int // routing priority 1-10, higher drains first
	Reason         string
	EnqueuedAt     time.Time
}
