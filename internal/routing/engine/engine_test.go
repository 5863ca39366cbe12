package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	domevents "leadrouter_backend/internal/events"
	"leadrouter_backend/internal/routing/capacity"
	"leadrouter_backend/internal/routing/domain"
	"leadrouter_backend/internal/routing/roundrobin"
	ruleeval "leadrouter_backend/internal/routing/rules"
	"leadrouter_backend/platform/apperr"
	"leadrouter_backend/platform/events"
	"leadrouter_backend/platform/logger"
)

// ---------------------------------------------------------------------------
// in-memory fakes

type memStore struct {
	mu            sync.Mutex
	leads         map[uuid.UUID]domain.Lead
	reps          map[uuid.UUID]domain.SalesRep
	rules         []domain.RoutingRule
	config        domain.RoutingConfiguration
	assignments   map[uuid.UUID]domain.LeadAssignment
	queued        []domain.QueuedLead
	failCreate    error
	failSupersede error
}

func newMemStore(orgID uuid.UUID) *memStore {
	return &memStore{
		leads:       make(map[uuid.UUID]domain.Lead),
		reps:        make(map[uuid.UUID]domain.SalesRep),
		config:      domain.DefaultRoutingConfiguration(orgID),
		assignments: make(map[uuid.UUID]domain.LeadAssignment),
	}
}

func (s *memStore) GetLead(ctx context.Context, orgID, leadID uuid.UUID) (domain.Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.leads[leadID]
	if !ok {
		return domain.Lead{}, apperr.NotFound("lead not found")
	}
	return l, nil
}

func (s *memStore) UpdateLeadStatus(ctx context.Context, orgID, leadID uuid.UUID, status domain.LeadStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l := s.leads[leadID]
	l.Status = status
	s.leads[leadID] = l
	return nil
}

func (s *memStore) GetRep(ctx context.Context, orgID, repID uuid.UUID) (domain.SalesRep, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reps[repID]
	if !ok {
		return domain.SalesRep{}, apperr.NotFound("rep not found")
	}
	return r, nil
}

func (s *memStore) ListReps(ctx context.Context, orgID uuid.UUID) ([]domain.SalesRep, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.SalesRep, 0, len(s.reps))
	for _, r := range s.reps {
		out = append(out, r)
	}
	return out, nil
}

func (s *memStore) ListRules(ctx context.Context, orgID uuid.UUID) ([]domain.RoutingRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.RoutingRule(nil), s.rules...), nil
}

func (s *memStore) GetConfiguration(ctx context.Context, orgID uuid.UUID) (domain.RoutingConfiguration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.config, nil
}

func (s *memStore) CreateAssignment(ctx context.Context, a domain.LeadAssignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failCreate != nil {
		return s.failCreate
	}
	s.assignments[a.ID] = a
	return nil
}

func (s *memStore) GetAssignment(ctx context.Context, orgID, id uuid.UUID) (domain.LeadAssignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.assignments[id]
	if !ok {
		return domain.LeadAssignment{}, apperr.NotFound("assignment not found")
	}
	return a, nil
}

func (s *memStore) GetCurrentAssignment(ctx context.Context, orgID, leadID uuid.UUID) (domain.LeadAssignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var current *domain.LeadAssignment
	for id := range s.assignments {
		a := s.assignments[id]
		if a.LeadID != leadID {
			continue
		}
		if a.Status == domain.AssignmentReassigned || a.Status == domain.AssignmentRejected || a.Status == domain.AssignmentExpired {
			continue
		}
		if current == nil || a.AssignedAt.After(current.AssignedAt) {
			current = &a
		}
	}
	if current == nil {
		return domain.LeadAssignment{}, apperr.NotFound("no current assignment")
	}
	return *current, nil
}

func (s *memStore) Supersede(ctx context.Context, orgID, id uuid.UUID, status domain.AssignmentStatus, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSupersede != nil {
		return s.failSupersede
	}
	a, ok := s.assignments[id]
	if !ok {
		return apperr.NotFound("assignment not found")
	}
	if domain.IsTerminalAssignmentStatus(a.Status) {
		return apperr.Conflict("assignment is terminal")
	}
	a.Status = status
	s.assignments[id] = a
	return nil
}

func (s *memStore) UpdateStatus(ctx context.Context, orgID, id uuid.UUID, status domain.AssignmentStatus) error {
	return s.Supersede(ctx, orgID, id, status, "")
}

func (s *memStore) ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]domain.LeadAssignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.LeadAssignment
	for _, a := range s.assignments {
		if a.Status == domain.AssignmentPending && a.ExpiresAt != nil && a.ExpiresAt.Before(now) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *memStore) ListUncontacted(ctx context.Context, now time.Time, limit int) ([]domain.LeadAssignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.LeadAssignment
	for _, a := range s.assignments {
		if a.Status == domain.AssignmentActive && a.FirstContactAt == nil {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *memStore) Enqueue(ctx context.Context, q domain.QueuedLead) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queued = append(s.queued, q)
	return nil
}

func (s *memStore) Dequeue(ctx context.Context, orgID, leadID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.queued[:0]
	for _, q := range s.queued {
		if q.LeadID != leadID {
			out = append(out, q)
		}
	}
	s.queued = out
	return nil
}

func (s *memStore) Depth(ctx context.Context, orgID uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queued), nil
}

// ApplyAssignment makes memStore double as the capacity committer.
func (s *memStore) ApplyAssignment(ctx context.Context, orgID, repID uuid.UUID, value float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.reps[repID]
	r.Workload.ActiveLeads++
	r.Workload.LeadsAssignedToday++
	r.Workload.LeadsAssignedThisWeek++
	r.Workload.PipelineValue += value
	s.reps[repID] = r
	return nil
}

// recordingBus captures published events synchronously.
type recordingBus struct {
	mu     sync.Mutex
	events []events.Event
}

func (b *recordingBus) Publish(ctx context.Context, e events.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, e)
}
func (b *recordingBus) PublishSync(ctx context.Context, e events.Event) error {
	b.Publish(ctx, e)
	return nil
}
func (b *recordingBus) Subscribe(name string, h events.Handler) {}

func (b *recordingBus) named(name string) []events.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []events.Event
	for _, e := range b.events {
		if e.EventName() == name {
			out = append(out, e)
		}
	}
	return out
}

// ---------------------------------------------------------------------------
// fixture

type fixture struct {
	orgID  uuid.UUID
	store  *memStore
	bus    *recordingBus
	engine *Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	orgID := uuid.New()
	store := newMemStore(orgID)
	bus := &recordingBus{}
	log := logger.New("test")

	eng := New(
		store, store, store, store, store, store,
		ruleeval.NewEvaluator(log),
		capacity.NewTracker(store, 200*time.Millisecond),
		roundrobin.NewSequencer(),
		bus, log, 3,
	)
	return &fixture{orgID: orgID, store: store, bus: bus, engine: eng}
}

func (f *fixture) addLead(lead domain.Lead) domain.Lead {
	if lead.ID == uuid.Nil {
		lead.ID = uuid.New()
	}
	lead.OrganizationID = f.orgID
	if lead.Status == "" {
		lead.Status = domain.LeadStatusNew
	}
	f.store.leads[lead.ID] = lead
	return lead
}

func (f *fixture) addRep(rep domain.SalesRep) domain.SalesRep {
	if rep.ID == uuid.Nil {
		rep.ID = uuid.New()
	}
	rep.OrganizationID = f.orgID
	if rep.Status == "" {
		rep.Status = domain.AvailabilityAvailable
		rep.IsAvailable = true
	}
	if rep.Capacity.MaxActiveLeads == 0 {
		rep.Capacity.MaxActiveLeads = 10
	}
	f.store.reps[rep.ID] = rep
	return rep
}

// ---------------------------------------------------------------------------
// tests

func TestRouteLeadAssignsBestCandidate(t *testing.T) {
	f := newFixture(t)
	lead := f.addLead(domain.Lead{})
	f.addRep(domain.SalesRep{OverallScore: 40})
	best := f.addRep(domain.SalesRep{OverallScore: 95})

	d, err := f.engine.RouteLead(context.Background(), f.orgID, lead.ID, RouteOptions{})
	if err != nil {
		t.Fatalf("RouteLead: %v", err)
	}
	if d.Outcome != OutcomeAssigned {
		t.Fatalf("outcome = %s, want assigned", d.Outcome)
	}
	if d.Assignment.RepID != best.ID {
		t.Errorf("expected the stronger rep to win")
	}
	if f.store.leads[lead.ID].Status != domain.LeadStatusAssigned {
		t.Errorf("lead status should be assigned, got %s", f.store.leads[lead.ID].Status)
	}
	if got := f.bus.named(domevents.LeadAssignedEvent); len(got) != 1 {
		t.Errorf("expected one lead.assigned event, got %d", len(got))
	}
	// Workload committed.
	if f.store.reps[best.ID].Workload.ActiveLeads != 1 {
		t.Errorf("winner's workload should be incremented")
	}
}

func TestRouteLeadQueuesWhenNoEligibleRep(t *testing.T) {
	f := newFixture(t)
	lead := f.addLead(domain.Lead{})
	rep := f.addRep(domain.SalesRep{})
	rep.IsAvailable = false
	f.store.reps[rep.ID] = rep

	d, err := f.engine.RouteLead(context.Background(), f.orgID, lead.ID, RouteOptions{})
	if err != nil {
		t.Fatalf("RouteLead: %v", err)
	}
	if d.Outcome != OutcomeQueued {
		t.Fatalf("outcome = %s, want queued", d.Outcome)
	}
	if d.Queued == nil || d.Queued.Reason != "no_eligible_rep" {
		t.Errorf("queued reason wrong: %+v", d.Queued)
	}
	if len(f.store.queued) != 1 {
		t.Errorf("lead should be in the queue")
	}
	if got := f.bus.named(domevents.LeadQueuedEvent); len(got) != 1 {
		t.Errorf("expected one lead.queued event, got %d", len(got))
	}
}

func TestRouteLeadRejectRule(t *testing.T) {
	f := newFixture(t)
	lead := f.addLead(domain.Lead{Country: "XX"})
	f.addRep(domain.SalesRep{OverallScore: 80})

	f.store.rules = []domain.RoutingRule{{
		ID: uuid.New(), Enabled: true, Priority: 1,
		Conditions: []domain.RuleCondition{{Field: "country", Operator: domain.OpEquals, Value: "XX"}},
		Actions:    []domain.RuleAction{{Type: domain.ActionReject, Reason: "unsupported market"}},
	}}

	d, err := f.engine.RouteLead(context.Background(), f.orgID, lead.ID, RouteOptions{})
	if err != nil {
		t.Fatalf("RouteLead: %v", err)
	}
	if d.Outcome != OutcomeRejected || d.RejectReason != "unsupported market" {
		t.Fatalf("expected rule rejection, got %+v", d)
	}
	if f.store.leads[lead.ID].Status != domain.LeadStatusDisqualified {
		t.Errorf("rejected lead should be disqualified")
	}
}

func TestRouteLeadForcedByRule(t *testing.T) {
	f := newFixture(t)
	lead := f.addLead(domain.Lead{Country: "DE"})
	f.addRep(domain.SalesRep{OverallScore: 99})
	target := f.addRep(domain.SalesRep{OverallScore: 10})

	f.store.rules = []domain.RoutingRule{{
		ID: uuid.New(), Enabled: true, Priority: 1,
		Conditions: []domain.RuleCondition{{Field: "country", Operator: domain.OpEquals, Value: "DE"}},
		Actions:    []domain.RuleAction{{Type: domain.ActionAssignToRep, RepID: &target.ID}},
	}}

	d, err := f.engine.RouteLead(context.Background(), f.orgID, lead.ID, RouteOptions{})
	if err != nil {
		t.Fatalf("RouteLead: %v", err)
	}
	if d.Outcome != OutcomeAssigned || d.Assignment.RepID != target.ID {
		t.Errorf("rule-forced rep should win regardless of score: %+v", d.Assignment)
	}
	if len(d.MatchedRuleIDs) != 1 {
		t.Errorf("matched rule should be recorded")
	}
}

func TestRouteLeadRetriesPastFullRep(t *testing.T) {
	f := newFixture(t)
	lead := f.addLead(domain.Lead{})

	full := f.addRep(domain.SalesRep{OverallScore: 95})
	full.Workload.ActiveLeads = 10 // at MaxActiveLeads
	f.store.reps[full.ID] = full
	backup := f.addRep(domain.SalesRep{OverallScore: 60})

	d, err := f.engine.RouteLead(context.Background(), f.orgID, lead.ID, RouteOptions{})
	if err != nil {
		t.Fatalf("RouteLead: %v", err)
	}
	if d.Outcome != OutcomeAssigned || d.Assignment.RepID != backup.ID {
		t.Errorf("full rep should be passed over for the backup")
	}
}

func TestRouteLeadNotRoutableStatus(t *testing.T) {
	f := newFixture(t)
	lead := f.addLead(domain.Lead{Status: domain.LeadStatusConverted})

	_, err := f.engine.RouteLead(context.Background(), f.orgID, lead.ID, RouteOptions{})
	if !apperr.Is(err, apperr.KindConflict) {
		t.Errorf("converted lead should conflict, got %v", err)
	}
}

func TestRouteLeadPersistenceFailureReleasesReservation(t *testing.T) {
	f := newFixture(t)
	lead := f.addLead(domain.Lead{})
	rep := f.addRep(domain.SalesRep{OverallScore: 80})
	rep.Capacity.MaxActiveLeads = 1
	f.store.reps[rep.ID] = rep

	f.store.failCreate = errors.New("db down")
	_, err := f.engine.RouteLead(context.Background(), f.orgID, lead.ID, RouteOptions{})
	if !apperr.Is(err, apperr.KindUnavailable) {
		t.Fatalf("expected unavailable error, got %v", err)
	}

	// The reservation was released: routing works once the database is back.
	f.store.failCreate = nil
	d, err := f.engine.RouteLead(context.Background(), f.orgID, lead.ID, RouteOptions{})
	if err != nil || d.Outcome != OutcomeAssigned {
		t.Errorf("slot should be free after release: %v %+v", err, d)
	}
}

func TestRouteLeadQueueFullEscalates(t *testing.T) {
	f := newFixture(t)
	f.store.config.Queue.MaxSize = 1
	f.store.queued = []domain.QueuedLead{{ID: uuid.New()}}
	lead := f.addLead(domain.Lead{})
	// No reps at all.

	d, err := f.engine.RouteLead(context.Background(), f.orgID, lead.ID, RouteOptions{})
	if err != nil {
		t.Fatalf("RouteLead: %v", err)
	}
	if d.Outcome != OutcomeRejected {
		t.Fatalf("full queue should reject, got %s", d.Outcome)
	}
	if got := f.bus.named(domevents.EscalationRequiredEvent); len(got) != 1 {
		t.Errorf("expected an escalation event, got %d", len(got))
	}
}

func TestRouteLeadStrategyOverrideHint(t *testing.T) {
	f := newFixture(t)
	lead := f.addLead(domain.Lead{Priority: domain.PriorityHot})
	f.addRep(domain.SalesRep{OverallScore: 50})

	strategy := domain.StrategyWorkloadBalanced
	f.store.rules = []domain.RoutingRule{{
		ID: uuid.New(), Enabled: true, Priority: 1,
		Conditions: []domain.RuleCondition{{Field: "priority", Operator: domain.OpEquals, Value: "hot"}},
		Actions:    []domain.RuleAction{{Type: domain.ActionAssignByStrategy, Strategy: &strategy}},
	}}

	d, err := f.engine.RouteLead(context.Background(), f.orgID, lead.ID, RouteOptions{})
	if err != nil {
		t.Fatalf("RouteLead: %v", err)
	}
	if d.Strategy != strategy {
		t.Errorf("strategy = %s, want %s", d.Strategy, strategy)
	}
	if d.Assignment != nil && d.Assignment.Strategy != strategy {
		t.Errorf("assignment should record the overridden strategy")
	}
}

func TestRouteLeadRoundRobinRotates(t *testing.T) {
	f := newFixture(t)
	f.store.config.DefaultStrategy = domain.StrategyRoundRobin
	f.addRep(domain.SalesRep{OverallScore: 90})
	f.addRep(domain.SalesRep{OverallScore: 10})

	seen := make(map[uuid.UUID]int)
	for i := 0; i < 4; i++ {
		lead := f.addLead(domain.Lead{})
		d, err := f.engine.RouteLead(context.Background(), f.orgID, lead.ID, RouteOptions{})
		if err != nil {
			t.Fatalf("RouteLead %d: %v", i, err)
		}
		if d.Outcome != OutcomeAssigned {
			t.Fatalf("outcome %d = %s", i, d.Outcome)
		}
		if d.Assignment.Method != domain.MethodRoundRobin {
			t.Errorf("method should be round_robin, got %s", d.Assignment.Method)
		}
		seen[d.Assignment.RepID]++
	}
	for id, n := range seen {
		if n != 2 {
			t.Errorf("rep %s got %d leads, want 2", id, n)
		}
	}
}

func TestReassignExcludesCurrentRepAndKeepsLineage(t *testing.T) {
	f := newFixture(t)
	lead := f.addLead(domain.Lead{})
	first := f.addRep(domain.SalesRep{OverallScore: 95, Preferences: domain.RoutingPreferences{AutoAccept: true}})
	second := f.addRep(domain.SalesRep{OverallScore: 40, Preferences: domain.RoutingPreferences{AutoAccept: true}})

	d1, err := f.engine.RouteLead(context.Background(), f.orgID, lead.ID, RouteOptions{})
	if err != nil || d1.Assignment.RepID != first.ID {
		t.Fatalf("setup routing failed: %v %+v", err, d1.Assignment)
	}

	d2, err := f.engine.Reassign(context.Background(), f.orgID, lead.ID, "manager request", nil)
	if err != nil {
		t.Fatalf("Reassign: %v", err)
	}
	if d2.Outcome != OutcomeAssigned {
		t.Fatalf("outcome = %s", d2.Outcome)
	}
	if d2.Assignment.RepID != second.ID {
		t.Errorf("current rep must be excluded from reassignment")
	}
	if d2.Assignment.PreviousRepID == nil || *d2.Assignment.PreviousRepID != first.ID {
		t.Errorf("lineage should record the previous rep")
	}
	if d2.Assignment.ReassignmentCount != 1 {
		t.Errorf("reassignment count = %d, want 1", d2.Assignment.ReassignmentCount)
	}
	if d2.Assignment.Method != domain.MethodReassignment {
		t.Errorf("method = %s, want reassignment", d2.Assignment.Method)
	}

	old, _ := f.store.GetAssignment(context.Background(), f.orgID, d1.Assignment.ID)
	if old.Status != domain.AssignmentReassigned {
		t.Errorf("old assignment should be superseded, got %s", old.Status)
	}
	if got := f.bus.named(domevents.LeadReassignedEvent); len(got) != 1 {
		t.Errorf("expected one lead.reassigned event, got %d", len(got))
	}
}

func TestReassignLimitEscalates(t *testing.T) {
	f := newFixture(t)
	f.store.config.Reassignment.MaxReassignments = 1
	lead := f.addLead(domain.Lead{Status: domain.LeadStatusAssigned})
	rep := f.addRep(domain.SalesRep{Preferences: domain.RoutingPreferences{AutoAccept: true}})

	// Seed an assignment already at the limit.
	f.store.assignments[uuid.New()] = domain.LeadAssignment{
		ID: uuid.New(), OrganizationID: f.orgID, LeadID: lead.ID, RepID: rep.ID,
		Status: domain.AssignmentActive, ReassignmentCount: 1, AssignedAt: time.Now(),
	}

	_, err := f.engine.Reassign(context.Background(), f.orgID, lead.ID, "again", nil)
	if !errors.Is(err, ErrReassignmentLimit) {
		t.Fatalf("expected ErrReassignmentLimit, got %v", err)
	}
	if got := f.bus.named(domevents.EscalationRequiredEvent); len(got) != 1 {
		t.Errorf("limit breach should escalate, got %d events", len(got))
	}
}

func TestReassignFailedSupersedeNeverDoubleAssigns(t *testing.T) {
	f := newFixture(t)
	lead := f.addLead(domain.Lead{})
	first := f.addRep(domain.SalesRep{OverallScore: 90, Preferences: domain.RoutingPreferences{AutoAccept: true}})
	f.addRep(domain.SalesRep{OverallScore: 50, Preferences: domain.RoutingPreferences{AutoAccept: true}})

	d1, err := f.engine.RouteLead(context.Background(), f.orgID, lead.ID, RouteOptions{})
	if err != nil || d1.Outcome != OutcomeAssigned {
		t.Fatalf("setup routing failed: %v %+v", err, d1)
	}

	f.store.failSupersede = errors.New("db down")
	if _, err := f.engine.Reassign(context.Background(), f.orgID, lead.ID, "manager request", nil); !apperr.Is(err, apperr.KindUnavailable) {
		t.Fatalf("expected unavailable error, got %v", err)
	}

	// No replacement was created and the original assignment still stands, so
	// the lead never holds two live assignments.
	if len(f.store.assignments) != 1 {
		t.Fatalf("expected only the original assignment, got %d", len(f.store.assignments))
	}
	current, err := f.store.GetCurrentAssignment(context.Background(), f.orgID, lead.ID)
	if err != nil || current.ID != d1.Assignment.ID || current.RepID != first.ID {
		t.Errorf("original assignment should be untouched: %v %+v", err, current)
	}
}

func TestConcurrentRoutingNeverDoubleBooks(t *testing.T) {
	f := newFixture(t)
	f.store.config.Weights = domain.StrategyWeights{Performance: 0.5, Capacity: 0.5}
	eu := []domain.Territory{{Name: "EU", Countries: []string{"NL"}, Priority: 1}}
	lead := f.addLead(domain.Lead{Priority: domain.PriorityHot, Country: "NL"})

	// Equal performance; rep A's empty book gives it the higher capacity
	// sub-score, but it only has room for one lead.
	repA := f.addRep(domain.SalesRep{
		OverallScore: 70, Territories: eu,
		Capacity:    domain.Capacity{MaxActiveLeads: 1},
		Preferences: domain.RoutingPreferences{AutoAccept: true},
	})
	repB := f.addRep(domain.SalesRep{
		OverallScore: 70, Territories: eu,
		Capacity:    domain.Capacity{MaxActiveLeads: 5},
		Workload:    domain.Workload{ActiveLeads: 2},
		Preferences: domain.RoutingPreferences{AutoAccept: true},
	})

	type result struct {
		d   Decision
		err error
	}
	results := make(chan result, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := f.engine.RouteLead(context.Background(), f.orgID, lead.ID, RouteOptions{})
			results <- result{d, err}
		}()
	}
	wg.Wait()
	close(results)

	assignedTo := make(map[uuid.UUID]int)
	for r := range results {
		if r.err != nil {
			// The slower call may observe the lead already assigned.
			if !apperr.Is(r.err, apperr.KindConflict) {
				t.Fatalf("unexpected routing error: %v", r.err)
			}
			continue
		}
		switch r.d.Outcome {
		case OutcomeAssigned:
			assignedTo[r.d.Assignment.RepID]++
		case OutcomeQueued:
		default:
			t.Fatalf("unexpected outcome %s", r.d.Outcome)
		}
	}

	if assignedTo[repA.ID] != 1 {
		t.Errorf("rep A must win exactly one of the races, got %d", assignedTo[repA.ID])
	}
	if assignedTo[repB.ID] > 1 {
		t.Errorf("rep B assigned %d times", assignedTo[repB.ID])
	}
	if got := f.store.reps[repA.ID].Workload.ActiveLeads; got > 1 {
		t.Errorf("rep A overbooked: %d active leads with a ceiling of 1", got)
	}
}

func TestNotifyManagerRuleDoesNotShortCircuit(t *testing.T) {
	f := newFixture(t)
	lead := f.addLead(domain.Lead{Priority: domain.PriorityHot})
	rep := f.addRep(domain.SalesRep{OverallScore: 80})

	ruleID := uuid.New()
	f.store.rules = []domain.RoutingRule{{
		ID: ruleID, Enabled: true, Priority: 1,
		Conditions: []domain.RuleCondition{{Field: "priority", Operator: domain.OpEquals, Value: "hot"}},
		Actions:    []domain.RuleAction{{Type: domain.ActionNotifyManager, Reason: "hot lead inbound"}},
	}}

	d, err := f.engine.RouteLead(context.Background(), f.orgID, lead.ID, RouteOptions{})
	if err != nil {
		t.Fatalf("RouteLead: %v", err)
	}
	if d.Outcome != OutcomeAssigned || d.Assignment.RepID != rep.ID {
		t.Fatalf("a notify action must not stop routing: %+v", d)
	}

	notified := f.bus.named(domevents.ManagerNotifiedEvent)
	if len(notified) != 1 {
		t.Fatalf("expected one manager notification, got %d", len(notified))
	}
	if got := notified[0].(domevents.ManagerNotified); got.LeadID != lead.ID || got.Reason != "hot lead inbound" {
		t.Errorf("notification payload wrong: %+v", got)
	}

	found := false
	for _, id := range d.Assignment.MatchedRuleIDs {
		if id == ruleID {
			found = true
		}
	}
	if !found {
		t.Errorf("the notify rule should be recorded on the assignment")
	}
}

func TestRejectAssignmentAutoReassigns(t *testing.T) {
	f := newFixture(t)
	lead := f.addLead(domain.Lead{})
	f.addRep(domain.SalesRep{OverallScore: 90}) // no auto-accept: pending
	f.addRep(domain.SalesRep{OverallScore: 50, Preferences: domain.RoutingPreferences{AutoAccept: true}})

	d1, err := f.engine.RouteLead(context.Background(), f.orgID, lead.ID, RouteOptions{})
	if err != nil {
		t.Fatalf("RouteLead: %v", err)
	}
	if d1.Assignment.Status != domain.AssignmentPending {
		t.Fatalf("assignment should start pending, got %s", d1.Assignment.Status)
	}
	if d1.Assignment.ExpiresAt == nil {
		t.Fatalf("pending assignment should carry an acknowledgement deadline")
	}

	d2, err := f.engine.RejectAssignment(context.Background(), f.orgID, d1.Assignment.ID, "on vacation next week")
	if err != nil {
		t.Fatalf("RejectAssignment: %v", err)
	}
	if d2 == nil || d2.Outcome != OutcomeAssigned {
		t.Fatalf("auto-reassign should have routed the lead: %+v", d2)
	}
	if d2.Assignment.RepID == d1.Assignment.RepID {
		t.Errorf("rejecting rep must not get the lead back")
	}
}

func TestAcceptAssignment(t *testing.T) {
	f := newFixture(t)
	lead := f.addLead(domain.Lead{})
	f.addRep(domain.SalesRep{OverallScore: 70})

	d, err := f.engine.RouteLead(context.Background(), f.orgID, lead.ID, RouteOptions{})
	if err != nil {
		t.Fatalf("RouteLead: %v", err)
	}
	if err := f.engine.AcceptAssignment(context.Background(), f.orgID, d.Assignment.ID); err != nil {
		t.Fatalf("AcceptAssignment: %v", err)
	}
	a, _ := f.store.GetAssignment(context.Background(), f.orgID, d.Assignment.ID)
	if a.Status != domain.AssignmentActive {
		t.Errorf("accepted assignment should be active, got %s", a.Status)
	}

	// Accepting twice conflicts.
	if err := f.engine.AcceptAssignment(context.Background(), f.orgID, d.Assignment.ID); !apperr.Is(err, apperr.KindConflict) {
		t.Errorf("second accept should conflict, got %v", err)
	}
}

func TestSweepExpired(t *testing.T) {
	f := newFixture(t)
	lead := f.addLead(domain.Lead{Status: domain.LeadStatusAssigned})
	first := f.addRep(domain.SalesRep{OverallScore: 90})
	f.addRep(domain.SalesRep{OverallScore: 50, Preferences: domain.RoutingPreferences{AutoAccept: true}})

	past := time.Now().Add(-time.Hour)
	expiredID := uuid.New()
	f.store.assignments[expiredID] = domain.LeadAssignment{
		ID: expiredID, OrganizationID: f.orgID, LeadID: lead.ID, RepID: first.ID,
		Status: domain.AssignmentPending, ExpiresAt: &past, AssignedAt: past.Add(-4 * time.Hour),
	}

	n, err := f.engine.SweepExpired(context.Background(), time.Now(), 100)
	if err != nil {
		t.Fatalf("SweepExpired: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 expired, got %d", n)
	}
	a, _ := f.store.GetAssignment(context.Background(), f.orgID, expiredID)
	if a.Status != domain.AssignmentExpired {
		t.Errorf("assignment should be expired, got %s", a.Status)
	}

	// Auto-reassign routed the lead to the second rep.
	current, err := f.store.GetCurrentAssignment(context.Background(), f.orgID, lead.ID)
	if err != nil {
		t.Fatalf("no replacement assignment: %v", err)
	}
	if current.RepID == first.ID {
		t.Errorf("expired rep should not keep the lead")
	}
}
