package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	domevents "leadrouter_backend/internal/events"
	"leadrouter_backend/internal/routing/domain"
	"leadrouter_backend/platform/apperr"
	"leadrouter_backend/platform/events"
)

// Reassign moves a lead from its current rep to a new one. The current
// assignment is superseded, never mutated: a fresh record carries the
// lineage (previous rep, reason, incremented count). The current rep is
// excluded from the new candidate pool unless the caller forces a specific
// rep.
func (e *Engine) Reassign(ctx context.Context, orgID, leadID uuid.UUID, reason string, forceRepID *uuid.UUID) (Decision, error) {
	current, err := e.assignments.GetCurrentAssignment(ctx, orgID, leadID)
	if err != nil {
		return Decision{}, err
	}
	if domain.IsTerminalAssignmentStatus(current.Status) {
		return Decision{}, apperr.Conflict(fmt.Sprintf("assignment is %s and cannot be reassigned", current.Status))
	}

	cfg, err := e.configs.GetConfiguration(ctx, orgID)
	if err != nil {
		return Decision{}, err
	}
	if err := e.reassignmentGate(ctx, cfg.Sanitize(), current, reason); err != nil {
		return Decision{}, err
	}

	// Supersede before rerouting so the lead never holds two live
	// assignments at once. A failed reroute after this point leaves the
	// lead unassigned, never double-assigned.
	if err := e.assignments.Supersede(ctx, orgID, current.ID, domain.AssignmentReassigned, reason); err != nil {
		return Decision{}, apperr.Wrap(apperr.KindUnavailable, "superseding assignment", err).WithOp("engine.Reassign")
	}
	return e.rerouteFrom(ctx, current, reason, forceRepID)
}

// reassignmentGate enforces the per-lead reassignment ceiling. A breach
// escalates to a human instead of bouncing the lead between reps forever.
func (e *Engine) reassignmentGate(ctx context.Context, cfg domain.RoutingConfiguration, prev domain.LeadAssignment, reason string) error {
	if prev.ReassignmentCount < cfg.Reassignment.MaxReassignments {
		return nil
	}
	e.bus.Publish(ctx, domevents.EscalationRequired{
		BaseEvent:      events.NewBaseEvent(),
		OrganizationID: prev.OrganizationID,
		LeadID:         prev.LeadID,
		Reason:         fmt.Sprintf("reassignment limit (%d) reached: %s", cfg.Reassignment.MaxReassignments, reason),
	})
	return ErrReassignmentLimit
}

// rerouteFrom routes a lead away from its previous assignment, enforcing the
// reassignment limit and carrying the lineage. It does not supersede prev;
// callers decide the superseded status (reassigned, rejected, expired).
func (e *Engine) rerouteFrom(ctx context.Context, prev domain.LeadAssignment, reason string, forceRepID *uuid.UUID) (Decision, error) {
	cfg, err := e.configs.GetConfiguration(ctx, prev.OrganizationID)
	if err != nil {
		return Decision{}, err
	}
	cfg = cfg.Sanitize()

	if err := e.reassignmentGate(ctx, cfg, prev, reason); err != nil {
		return Decision{}, err
	}

	opts := RouteOptions{
		ForceRepID:        forceRepID,
		ExcludeRepIDs:     []uuid.UUID{prev.RepID},
		Method:            domain.MethodReassignment,
		previousRepID:     &prev.RepID,
		reassignReason:    reason,
		reassignmentCount: prev.ReassignmentCount + 1,
		skipRoutableCheck: true,
	}
	if forceRepID != nil {
		opts.ExcludeRepIDs = nil
	}

	decision, err := e.RouteLead(ctx, prev.OrganizationID, prev.LeadID, opts)
	if err != nil {
		return Decision{}, err
	}

	if decision.Outcome == OutcomeAssigned && decision.Assignment != nil {
		e.bus.Publish(ctx, domevents.LeadReassigned{
			BaseEvent:         events.NewBaseEvent(),
			OrganizationID:    prev.OrganizationID,
			LeadID:            prev.LeadID,
			FromRepID:         prev.RepID,
			ToRepID:           decision.Assignment.RepID,
			AssignmentID:      decision.Assignment.ID,
			Reason:            reason,
			ReassignmentCount: decision.Assignment.ReassignmentCount,
		})
	}
	return decision, nil
}

// AcceptAssignment moves a pending assignment to active. Only the pending
// state accepts; anything else conflicts.
func (e *Engine) AcceptAssignment(ctx context.Context, orgID, assignmentID uuid.UUID) error {
	a, err := e.assignments.GetAssignment(ctx, orgID, assignmentID)
	if err != nil {
		return err
	}
	if a.Status != domain.AssignmentPending {
		return apperr.Conflict(fmt.Sprintf("assignment is %s, only pending assignments can be accepted", a.Status))
	}
	return e.assignments.UpdateStatus(ctx, orgID, assignmentID, domain.AssignmentActive)
}

// RejectAssignment marks a pending assignment rejected and, when the
// organization auto-reassigns, immediately routes the lead to someone else.
// The returned decision is nil when no automatic reassignment ran.
func (e *Engine) RejectAssignment(ctx context.Context, orgID, assignmentID uuid.UUID, reason string) (*Decision, error) {
	a, err := e.assignments.GetAssignment(ctx, orgID, assignmentID)
	if err != nil {
		return nil, err
	}
	if a.Status != domain.AssignmentPending {
		return nil, apperr.Conflict(fmt.Sprintf("assignment is %s, only pending assignments can be rejected", a.Status))
	}

	if reason == "" {
		reason = "rejected by rep"
	}
	if err := e.assignments.Supersede(ctx, orgID, assignmentID, domain.AssignmentRejected, reason); err != nil {
		return nil, err
	}

	cfg, err := e.configs.GetConfiguration(ctx, orgID)
	if err != nil {
		return nil, err
	}
	if !cfg.Sanitize().Reassignment.AutoReassign {
		return nil, nil
	}

	decision, err := e.rerouteFrom(ctx, a, "rep_rejected: "+reason, nil)
	if err != nil {
		// The limit breach already escalated; the rejection itself stands.
		if errors.Is(err, ErrReassignmentLimit) {
			return nil, nil
		}
		return nil, err
	}
	return &decision, nil
}

// SweepExpired expires pending assignments whose acknowledgement window
// passed and reroutes their leads where auto-reassign is on. Returns how many
// assignments were expired. Run by the scheduler.
func (e *Engine) SweepExpired(ctx context.Context, now time.Time, limit int) (int, error) {
	stale, err := e.assignments.ListExpiredPending(ctx, now, limit)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, a := range stale {
		if err := e.assignments.Supersede(ctx, a.OrganizationID, a.ID, domain.AssignmentExpired, "acknowledgement timeout"); err != nil {
			e.log.DatabaseError("engine.SweepExpired", err)
			continue
		}
		expired++

		cfg, err := e.configs.GetConfiguration(ctx, a.OrganizationID)
		if err != nil || !cfg.Sanitize().Reassignment.AutoReassign {
			continue
		}
		if _, err := e.rerouteFrom(ctx, a, "assignment expired without acknowledgement", nil); err != nil && !errors.Is(err, ErrReassignmentLimit) {
			e.log.Warn("expired assignment could not be rerouted",
				"lead_id", a.LeadID.String(), "error", err.Error())
		}
	}
	return expired, nil
}

// SweepUncontacted reassigns active leads whose rep has not made first
// contact within the configured window. Run by the scheduler.
func (e *Engine) SweepUncontacted(ctx context.Context, now time.Time, limit int) (int, error) {
	stale, err := e.assignments.ListUncontacted(ctx, now, limit)
	if err != nil {
		return 0, err
	}

	swept := 0
	for _, a := range stale {
		cfg, err := e.configs.GetConfiguration(ctx, a.OrganizationID)
		if err != nil {
			continue
		}
		cfg = cfg.Sanitize()
		if !cfg.Reassignment.AutoReassign || cfg.Reassignment.ReassignAfterDays <= 0 {
			continue
		}
		cutoff := now.Add(-time.Duration(cfg.Reassignment.ReassignAfterDays) * 24 * time.Hour)
		if a.AssignedAt.After(cutoff) {
			continue
		}

		// Gate before superseding: a lead at the limit stays with its rep
		// and escalates instead of being stripped with nowhere to go.
		if err := e.reassignmentGate(ctx, cfg, a, "no first contact within window"); err != nil {
			continue
		}
		if err := e.assignments.Supersede(ctx, a.OrganizationID, a.ID, domain.AssignmentReassigned, "no first contact within window"); err != nil {
			e.log.DatabaseError("engine.SweepUncontacted", err)
			continue
		}
		if _, err := e.rerouteFrom(ctx, a, "no first contact within window", nil); err != nil && !errors.Is(err, ErrReassignmentLimit) {
			e.log.Warn("stale assignment could not be rerouted",
				"lead_id", a.LeadID.String(), "error", err.Error())
		}
		swept++
	}
	return swept, nil
}
