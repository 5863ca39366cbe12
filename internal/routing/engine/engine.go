// Package engine is the routing decision pipeline: rule evaluation, candidate
// scoring, reservation and commit. One routing attempt walks a fixed state
// progression (received, rules evaluated, scored, reserved, then committed,
// queued or rejected) and always lands in exactly one terminal outcome.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	domevents "leadrouter_backend/internal/events"
	"leadrouter_backend/internal/routing/capacity"
	"leadrouter_backend/internal/routing/domain"
	"leadrouter_backend/internal/routing/match"
	"leadrouter_backend/internal/routing/roundrobin"
	ruleeval "leadrouter_backend/internal/routing/rules"
	"leadrouter_backend/platform/apperr"
	"leadrouter_backend/platform/events"
	"leadrouter_backend/platform/logger"
)

// Outcome is the terminal state of one routing attempt.
type Outcome string

const (
	OutcomeAssigned Outcome = "assigned"
	OutcomeQueued   Outcome = "queued"
	OutcomeRejected Outcome = "rejected"
)

// maxAlternatives bounds how many runner-up candidates are stored on an
// assignment.
const maxAlternatives = 3

// Decision is the full result of a routing attempt, returned to the caller
// and summarized into the assignment record.
type Decision struct {
	Outcome        Outcome
	Assignment     *domain.LeadAssignment
	Queued         *domain.QueuedLead
	RejectReason   string
	Strategy       domain.RoutingStrategy
	MatchedRuleIDs []uuid.UUID
	EvaluatedRules int
	CandidateCount int
	Alternatives   []domain.Alternative
	ProcessingMs   float64
}

// RouteOptions tune a single routing attempt.
type RouteOptions struct {
	// ForceRepID bypasses scoring and assigns to the given rep. The rep must
	// still pass the eligibility gate and reservation.
	ForceRepID *uuid.UUID
	// ExcludeRepIDs removes reps from the candidate pool. The reassignment
	// workflow excludes the current rep.
	ExcludeRepIDs []uuid.UUID
	// Method overrides the recorded assignment method.
	Method domain.AssignmentMethod
	// Strategy overrides the configured default strategy. A rule's
	// assign_by_strategy hint still wins over this.
	Strategy *domain.RoutingStrategy
	// reassignment lineage, set internally by Reassign.
	previousRepID     *uuid.UUID
	reassignReason    string
	reassignmentCount int
	skipRoutableCheck bool
	// teamID narrows the pool to one team, set by an assign_to_team rule.
	teamID *uuid.UUID
}

func withTeamFilter(opts RouteOptions, teamID uuid.UUID) RouteOptions {
	opts.teamID = &teamID
	return opts
}

// Engine coordinates one routing attempt end to end.
type Engine struct {
	leads       LeadStore
	reps        RepStore
	rules       RuleStore
	configs     ConfigStore
	assignments AssignmentStore
	queue       QueueStore
	evaluator   *ruleeval.Evaluator
	tracker     *capacity.Tracker
	sequencer   *roundrobin.Sequencer
	bus         events.Bus
	log         *logger.Logger
	retryLimit  int
	now         func() time.Time
}

// New wires the engine. retryLimit bounds reservation attempts per routing
// attempt; at least one attempt always runs.
func New(
	leads LeadStore,
	reps RepStore,
	rules RuleStore,
	configs ConfigStore,
	assignments AssignmentStore,
	queue QueueStore,
	evaluator *ruleeval.Evaluator,
	tracker *capacity.Tracker,
	sequencer *roundrobin.Sequencer,
	bus events.Bus,
	log *logger.Logger,
	retryLimit int,
) *Engine {
	if retryLimit < 1 {
		retryLimit = 1
	}
	return &Engine{
		leads:       leads,
		reps:        reps,
		rules:       rules,
		configs:     configs,
		assignments: assignments,
		queue:       queue,
		evaluator:   evaluator,
		tracker:     tracker,
		sequencer:   sequencer,
		bus:         bus,
		log:         log,
		retryLimit:  retryLimit,
		now:         time.Now,
	}
}

// WithClock overrides the engine's clock. Test hook.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// RouteLead runs the full decision pipeline for one lead. Persistence
// failures surface as errors; every business dead end (no eligible rep, lost
// reservations, rule rejection) lands in a queued or rejected Decision
// instead.
func (e *Engine) RouteLead(ctx context.Context, orgID, leadID uuid.UUID, opts RouteOptions) (Decision, error) {
	started := e.now()

	lead, err := e.leads.GetLead(ctx, orgID, leadID)
	if err != nil {
		return Decision{}, err
	}
	if !opts.skipRoutableCheck {
		if domain.IsTerminalLeadStatus(lead.Status) {
			return Decision{}, apperr.Conflict(fmt.Sprintf("lead is %s and cannot be routed", lead.Status))
		}
		if !domain.IsRoutable(lead.Status) {
			return Decision{}, apperr.Conflict(fmt.Sprintf("lead in status %s is not routable", lead.Status))
		}
	}

	cfg, err := e.configs.GetConfiguration(ctx, orgID)
	if err != nil {
		return Decision{}, err
	}
	cfg = cfg.Sanitize()

	ruleSet, err := e.rules.ListRules(ctx, orgID)
	if err != nil {
		return Decision{}, err
	}
	ruleOutcome := e.evaluator.Evaluate(ruleSet, lead)

	decision := Decision{
		MatchedRuleIDs: ruleOutcome.MatchedRuleIDs,
		EvaluatedRules: ruleOutcome.Evaluated,
	}

	if ruleOutcome.Hints.NotifyManager {
		e.bus.Publish(ctx, domevents.ManagerNotified{
			BaseEvent:      events.NewBaseEvent(),
			OrganizationID: orgID,
			LeadID:         lead.ID,
			Reason:         ruleOutcome.Hints.NotifyReason,
		})
	}

	// A terminal rule action preempts scoring entirely.
	if t := ruleOutcome.Terminal; t != nil {
		switch t.Type {
		case domain.ActionReject:
			return e.reject(ctx, lead, decision, started, t.Reason)
		case domain.ActionAssignToRep:
			if t.RepID != nil {
				opts.ForceRepID = t.RepID
			}
		case domain.ActionAssignToTeam:
			if t.TeamID != nil {
				opts.ExcludeRepIDs = nil
				opts = withTeamFilter(opts, *t.TeamID)
			}
		}
	}

	if q := ruleOutcome.Hints.RouteToQueue; q != "" && opts.ForceRepID == nil {
		return e.enqueue(ctx, lead, cfg, decision, started, q, "rule_routed_to_queue")
	}

	strategy := cfg.DefaultStrategy
	if opts.Strategy != nil && domain.ValidStrategy(*opts.Strategy) {
		strategy = *opts.Strategy
	}
	if ruleOutcome.Hints.StrategyOverride != nil {
		strategy = *ruleOutcome.Hints.StrategyOverride
	}
	decision.Strategy = strategy

	candidates, err := e.candidatePool(ctx, orgID, lead, opts)
	if err != nil {
		return Decision{}, err
	}
	decision.CandidateCount = len(candidates)

	if len(candidates) == 0 {
		return e.enqueue(ctx, lead, cfg, decision, started, "default", "no_eligible_rep")
	}

	var winner *match.Ranked
	var reservation *capacity.Reservation

	if opts.ForceRepID != nil {
		winner, reservation, err = e.reserveForced(ctx, lead, candidates, cfg, strategy)
	} else if strategy == domain.StrategyRoundRobin {
		winner, reservation, err = e.reserveRoundRobin(ctx, lead, candidates, cfg, strategy)
	} else {
		winner, reservation, err = e.reserveRanked(ctx, lead, candidates, cfg, strategy, &decision)
	}
	if err != nil {
		if errors.Is(err, ErrNoEligibleRep) || errors.Is(err, ErrReservationConflict) || errors.Is(err, context.DeadlineExceeded) {
			return e.enqueue(ctx, lead, cfg, decision, started, "default", reasonFor(err))
		}
		return Decision{}, err
	}

	assignment, err := e.commit(ctx, lead, cfg, *winner, reservation, strategy, opts, decision)
	if err != nil {
		// Reservation released so the slot is not leaked; the caller sees the
		// persistence failure as a 5xx.
		_ = e.tracker.Release(ctx, reservation)
		return Decision{}, err
	}

	decision.Outcome = OutcomeAssigned
	decision.Assignment = &assignment
	decision.ProcessingMs = e.sinceMs(started)

	e.log.RoutingDecision(lead.ID.String(), assignment.RepID.String(), string(strategy), string(OutcomeAssigned), assignment.Score, decision.ProcessingMs)
	e.bus.Publish(ctx, domevents.LeadAssigned{
		BaseEvent:      events.NewBaseEvent(),
		OrganizationID: orgID,
		LeadID:         lead.ID,
		RepID:          assignment.RepID,
		AssignmentID:   assignment.ID,
		Strategy:       string(strategy),
		Score:          assignment.Score,
		NotifyRep:      cfg.Notifications.NotifyRepOnAssignment && winner.Rep.Preferences.NotifyOnAssignment,
	})
	return decision, nil
}

// candidatePool loads the org's reps and applies the hard gate: exclusions,
// team filter, availability, working hours and capacity ceilings.
func (e *Engine) candidatePool(ctx context.Context, orgID uuid.UUID, lead domain.Lead, opts RouteOptions) ([]match.Candidate, error) {
	all, err := e.reps.ListReps(ctx, orgID)
	if err != nil {
		return nil, err
	}

	excluded := make(map[uuid.UUID]bool, len(opts.ExcludeRepIDs))
	for _, id := range opts.ExcludeRepIDs {
		excluded[id] = true
	}

	candidates := make([]match.Candidate, 0, len(all))
	for _, rep := range all {
		if excluded[rep.ID] {
			continue
		}
		if opts.teamID != nil && (rep.TeamID == nil || *rep.TeamID != *opts.teamID) {
			continue
		}
		if opts.ForceRepID != nil && rep.ID != *opts.ForceRepID {
			continue
		}

		elig, err := e.tracker.Eligibility(ctx, rep, lead)
		if err != nil {
			if errors.Is(err, capacity.ErrLockTimeout) {
				continue
			}
			return nil, err
		}
		if !elig.Eligible {
			continue
		}

		util, err := e.tracker.EffectiveUtilization(ctx, rep)
		if err != nil {
			if errors.Is(err, capacity.ErrLockTimeout) {
				continue
			}
			return nil, err
		}
		candidates = append(candidates, match.Candidate{Rep: rep, Utilization: util})
	}
	return candidates, nil
}

// reserveRanked scores the pool and walks it best-first, reserving the first
// candidate that still has room. Lost races consume the retry budget.
func (e *Engine) reserveRanked(ctx context.Context, lead domain.Lead, candidates []match.Candidate, cfg domain.RoutingConfiguration, strategy domain.RoutingStrategy, decision *Decision) (*match.Ranked, *capacity.Reservation, error) {
	ranked := match.Rank(lead, candidates, cfg, strategy)
	if len(ranked) == 0 {
		// territory_based drops candidates without a territory match.
		return nil, nil, ErrNoEligibleRep
	}
	decision.Alternatives = alternativesFrom(ranked)

	attempts := 0
	for i := range ranked {
		if attempts >= e.retryLimit {
			break
		}
		attempts++

		res, err := e.tracker.Reserve(ctx, ranked[i].Rep, lead)
		if err != nil {
			if errors.Is(err, capacity.ErrAtCapacity) || errors.Is(err, capacity.ErrLockTimeout) {
				continue
			}
			return nil, nil, err
		}
		return &ranked[i], res, nil
	}
	return nil, nil, ErrReservationConflict
}

// reserveRoundRobin asks the sequencer for the next rep in rotation, retrying
// within the budget when a reservation races away.
func (e *Engine) reserveRoundRobin(ctx context.Context, lead domain.Lead, candidates []match.Candidate, cfg domain.RoutingConfiguration, strategy domain.RoutingStrategy) (*match.Ranked, *capacity.Reservation, error) {
	byID := make(map[uuid.UUID]match.Candidate, len(candidates))
	pool := make([]domain.SalesRep, 0, len(candidates))
	for _, c := range candidates {
		byID[c.Rep.ID] = c
		pool = append(pool, c.Rep)
	}

	scope := "org:" + lead.OrganizationID.String()
	atCapacity := func(rep domain.SalesRep) bool {
		c, ok := byID[rep.ID]
		return ok && c.Rep.Workload.RemainingCapacity(c.Rep.Capacity) == 0
	}

	for attempt := 0; attempt < e.retryLimit; attempt++ {
		rep, ok := e.sequencer.Next(scope, pool, cfg.RoundRobin, atCapacity)
		if !ok {
			return nil, nil, ErrNoEligibleRep
		}

		res, err := e.tracker.Reserve(ctx, rep, lead)
		if err != nil {
			if errors.Is(err, capacity.ErrAtCapacity) || errors.Is(err, capacity.ErrLockTimeout) {
				continue
			}
			return nil, nil, err
		}

		ranked := match.Rank(lead, []match.Candidate{byID[rep.ID]}, cfg, strategy)
		return &ranked[0], res, nil
	}
	return nil, nil, ErrReservationConflict
}

// reserveForced reserves the single forced candidate. The pool has already
// been narrowed to that rep by candidatePool.
func (e *Engine) reserveForced(ctx context.Context, lead domain.Lead, candidates []match.Candidate, cfg domain.RoutingConfiguration, strategy domain.RoutingStrategy) (*match.Ranked, *capacity.Reservation, error) {
	if len(candidates) == 0 {
		return nil, nil, ErrNoEligibleRep
	}
	ranked := match.Rank(lead, candidates, cfg, strategy)
	if len(ranked) == 0 {
		return nil, nil, ErrNoEligibleRep
	}

	res, err := e.tracker.Reserve(ctx, ranked[0].Rep, lead)
	if err != nil {
		if errors.Is(err, capacity.ErrAtCapacity) || errors.Is(err, capacity.ErrLockTimeout) {
			return nil, nil, ErrReservationConflict
		}
		return nil, nil, err
	}
	return &ranked[0], res, nil
}

// commit writes the assignment record, applies the workload deltas and
// transitions the lead. The assignment row is written first: if the tracker
// commit then fails, the row is orphaned but workload counters stay honest,
// and the scheduler's sweep repairs the discrepancy.
func (e *Engine) commit(ctx context.Context, lead domain.Lead, cfg domain.RoutingConfiguration, winner match.Ranked, res *capacity.Reservation, strategy domain.RoutingStrategy, opts RouteOptions, decision Decision) (domain.LeadAssignment, error) {
	now := e.now()

	method := opts.Method
	if method == "" {
		method = domain.MethodAutomatic
		if strategy == domain.StrategyRoundRobin {
			method = domain.MethodRoundRobin
		}
	}

	autoAccept := winner.Rep.Preferences.AutoAccept || method == domain.MethodManual
	status := domain.AssignmentPending
	var expiresAt *time.Time
	if autoAccept {
		status = domain.AssignmentActive
	} else if cfg.Reassignment.AckTimeoutHours > 0 {
		t := now.Add(time.Duration(cfg.Reassignment.AckTimeoutHours) * time.Hour)
		expiresAt = &t
	}

	assignment := domain.LeadAssignment{
		ID:                 uuid.New(),
		OrganizationID:     lead.OrganizationID,
		LeadID:             lead.ID,
		RepID:              winner.Rep.ID,
		Method:             method,
		Strategy:           strategy,
		MatchedRuleIDs:     decision.MatchedRuleIDs,
		Score:              winner.Score,
		SubScores:          winner.SubScores,
		Confidence:         confidence(winner, decision.Alternatives),
		Reason:             reasonText(winner),
		Alternatives:       trimSelf(decision.Alternatives, winner.Rep.ID),
		Status:             status,
		AssignedAt:         now,
		ExpiresAt:          expiresAt,
		PreviousRepID:      opts.previousRepID,
		ReassignmentReason: opts.reassignReason,
		ReassignmentCount:  opts.reassignmentCount,
	}

	if err := e.assignments.CreateAssignment(ctx, assignment); err != nil {
		return domain.LeadAssignment{}, apperr.Wrap(apperr.KindUnavailable, "persisting assignment", err).WithOp("engine.commit")
	}
	if err := e.tracker.Commit(ctx, res); err != nil {
		return domain.LeadAssignment{}, apperr.Wrap(apperr.KindUnavailable, "committing reservation", err).WithOp("engine.commit")
	}
	if err := e.leads.UpdateLeadStatus(ctx, lead.OrganizationID, lead.ID, domain.LeadStatusAssigned); err != nil {
		e.log.DatabaseError("engine.commit.lead_status", err)
	}
	return assignment, nil
}

// enqueue parks the lead in the routing queue. A full queue escalates instead
// of dropping the lead silently.
func (e *Engine) enqueue(ctx context.Context, lead domain.Lead, cfg domain.RoutingConfiguration, decision Decision, started time.Time, queueName, reason string) (Decision, error) {
	depth, err := e.queue.Depth(ctx, lead.OrganizationID)
	if err != nil {
		return Decision{}, err
	}
	if cfg.Queue.MaxSize > 0 && depth >= cfg.Queue.MaxSize {
		e.bus.Publish(ctx, domevents.EscalationRequired{
			BaseEvent:      events.NewBaseEvent(),
			OrganizationID: lead.OrganizationID,
			LeadID:         lead.ID,
			Reason:         "routing queue full",
		})
		decision.Outcome = OutcomeRejected
		decision.RejectReason = "routing queue full"
		decision.ProcessingMs = e.sinceMs(started)
		return decision, nil
	}

	priority := 5
	if lead.QualityScore != nil {
		priority = int(*lead.QualityScore/10) + 1
		if priority > 10 {
			priority = 10
		}
		if priority < 1 {
			priority = 1
		}
	}

	queued := domain.QueuedLead{
		ID:             uuid.New(),
		OrganizationID: lead.OrganizationID,
		LeadID:         lead.ID,
		Queue:          queueName,
		Priority:       priority,
		Reason:         reason,
		EnqueuedAt:     e.now(),
	}
	if err := e.queue.Enqueue(ctx, queued); err != nil {
		return Decision{}, apperr.Wrap(apperr.KindUnavailable, "queueing lead", err).WithOp("engine.enqueue")
	}
	if err := e.leads.UpdateLeadStatus(ctx, lead.OrganizationID, lead.ID, domain.LeadStatusRouting); err != nil {
		e.log.DatabaseError("engine.enqueue.lead_status", err)
	}

	decision.Outcome = OutcomeQueued
	decision.Queued = &queued
	decision.ProcessingMs = e.sinceMs(started)

	e.log.RoutingDecision(lead.ID.String(), "", string(decision.Strategy), string(OutcomeQueued), 0, decision.ProcessingMs)
	e.bus.Publish(ctx, domevents.LeadQueued{
		BaseEvent:      events.NewBaseEvent(),
		OrganizationID: lead.OrganizationID,
		LeadID:         lead.ID,
		Queue:          queueName,
		Reason:         reason,
	})
	return decision, nil
}

// reject finalizes a rule-rejected lead.
func (e *Engine) reject(ctx context.Context, lead domain.Lead, decision Decision, started time.Time, reason string) (Decision, error) {
	if reason == "" {
		reason = "rejected by routing rule"
	}
	if err := e.leads.UpdateLeadStatus(ctx, lead.OrganizationID, lead.ID, domain.LeadStatusDisqualified); err != nil {
		e.log.DatabaseError("engine.reject.lead_status", err)
	}

	decision.Outcome = OutcomeRejected
	decision.RejectReason = reason
	decision.ProcessingMs = e.sinceMs(started)
	e.log.RoutingDecision(lead.ID.String(), "", "", string(OutcomeRejected), 0, decision.ProcessingMs)
	return decision, nil
}

func (e *Engine) sinceMs(started time.Time) float64 {
	return float64(e.now().Sub(started).Microseconds()) / 1000
}

func reasonFor(err error) string {
	switch {
	case errors.Is(err, ErrNoEligibleRep):
		return "no_eligible_rep"
	case errors.Is(err, ErrReservationConflict):
		return "reservation_conflict"
	case errors.Is(err, context.DeadlineExceeded):
		return "routing_deadline_exceeded"
	default:
		return "routing_failed"
	}
}

func alternativesFrom(ranked []match.Ranked) []domain.Alternative {
	n := len(ranked)
	if n > maxAlternatives+1 {
		n = maxAlternatives + 1
	}
	out := make([]domain.Alternative, 0, n)
	for _, r := range ranked[:n] {
		out = append(out, domain.Alternative{
			RepID:     r.Rep.ID,
			Score:     r.Score,
			SubScores: r.SubScores,
			Reasons:   r.Reasons,
		})
	}
	return out
}

// trimSelf drops the winner from the alternatives list.
func trimSelf(alts []domain.Alternative, winnerID uuid.UUID) []domain.Alternative {
	out := make([]domain.Alternative, 0, len(alts))
	for _, a := range alts {
		if a.RepID != winnerID {
			out = append(out, a)
		}
	}
	if len(out) > maxAlternatives {
		out = out[:maxAlternatives]
	}
	return out
}

// confidence is the winner's score scaled to [0,1], discounted when the
// runner-up was close enough that the pick was effectively a coin toss.
func confidence(winner match.Ranked, alts []domain.Alternative) float64 {
	conf := winner.Score / 100
	for _, a := range alts {
		if a.RepID == winner.Rep.ID {
			continue
		}
		if winner.Score-a.Score < 5 {
			conf *= 0.85
		}
		break
	}
	if conf > 1 {
		conf = 1
	}
	if conf < 0 {
		conf = 0
	}
	return conf
}

func reasonText(winner match.Ranked) string {
	if len(winner.Reasons) == 0 {
		return "highest composite score"
	}
	return fmt.Sprintf("highest composite score (%v)", winner.Reasons)
}
