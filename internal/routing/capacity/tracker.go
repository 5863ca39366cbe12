// Package capacity tracks rep workload against configured ceilings and
// arbitrates concurrent assignment attempts through a reserve/commit/release
// protocol. Reservations are the only mutation path during routing; workload
// counters in the database change only on commit.
package capacity

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/google/uuid"

	"leadrouter_backend/internal/routing/domain"
)

var (
	// ErrAtCapacity means the rep has no headroom left for this lead, counting
	// both committed workload and outstanding reservations.
	ErrAtCapacity = errors.New("rep is at capacity")

	// ErrLockTimeout means the rep's reservation lock could not be acquired
	// before the deadline. Callers treat it like a lost race and move on to
	// the next candidate.
	ErrLockTimeout = errors.New("reservation lock timeout")
)

const shardCount = 64

// Committer persists a committed assignment's workload deltas.
type Committer interface {
	ApplyAssignment(ctx context.Context, orgID, repID uuid.UUID, estimatedValue float64) error
}

// Eligibility is the outcome of the hard capacity/availability gate. Reasons
// name every failed check, not just the first, so callers can report why a
// rep was excluded.
type Eligibility struct {
	Eligible bool
	Reasons  []string
}

// Reservation is a held slot on a rep, produced by Reserve and consumed by
// exactly one of Commit or Release.
type Reservation struct {
	RepID          uuid.UUID
	OrganizationID uuid.UUID
	EstimatedValue float64
	settled        bool
}

// pendingLoad is the in-flight reservation delta for one rep, layered on top
// of the persisted workload counters.
type pendingLoad struct {
	active   int
	today    int
	week     int
	pipeline float64
	day      string // YYYY-MM-DD stamp of the today counter
	week0    string // ISO year-week stamp of the week counter
}

type shard struct {
	mu      chan struct{} // 1-slot semaphore, acquired with a deadline
	pending map[uuid.UUID]*pendingLoad
}

// Tracker arbitrates reservations. Locks are sharded by rep ID so contention
// on one rep never blocks reservations on another.
type Tracker struct {
	shards    [shardCount]*shard
	committer Committer
	timeout   time.Duration
	now       func() time.Time
}

// NewTracker builds a tracker. timeout bounds how long Reserve waits for a
// rep's lock before giving up with ErrLockTimeout.
func NewTracker(committer Committer, timeout time.Duration) *Tracker {
	t := &Tracker{
		committer: committer,
		timeout:   timeout,
		now:       time.Now,
	}
	for i := range t.shards {
		s := &shard{
			mu:      make(chan struct{}, 1),
			pending: make(map[uuid.UUID]*pendingLoad),
		}
		s.mu <- struct{}{}
		t.shards[i] = s
	}
	return t
}

// WithClock overrides the tracker's clock. Test hook.
func (t *Tracker) WithClock(now func() time.Time) *Tracker {
	t.now = now
	return t
}

func (t *Tracker) shardFor(repID uuid.UUID) *shard {
	h := fnv.New32a()
	h.Write(repID[:])
	return t.shards[h.Sum32()%shardCount]
}

func (s *shard) acquire(ctx context.Context, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-s.mu:
		return nil
	case <-timer.C:
		return ErrLockTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *shard) release() {
	s.mu <- struct{}{}
}

// Eligibility applies the hard gate: availability, working hours and every
// configured capacity ceiling, counting outstanding reservations. It takes
// the rep's lock briefly to read a consistent pending view.
func (t *Tracker) Eligibility(ctx context.Context, rep domain.SalesRep, lead domain.Lead) (Eligibility, error) {
	s := t.shardFor(rep.ID)
	if err := s.acquire(ctx, t.timeout); err != nil {
		return Eligibility{}, err
	}
	defer s.release()

	pending := t.pendingLocked(s, rep.ID)
	reasons := checkCeilings(rep, lead, pending)
	reasons = append(checkAvailability(rep, t.now()), reasons...)

	return Eligibility{Eligible: len(reasons) == 0, Reasons: reasons}, nil
}

// Reserve atomically checks headroom and holds a slot on the rep. The caller
// must settle the reservation with Commit or Release; an unsettled
// reservation leaks the slot until the process restarts, which is why the
// engine settles in a defer.
func (t *Tracker) Reserve(ctx context.Context, rep domain.SalesRep, lead domain.Lead) (*Reservation, error) {
	s := t.shardFor(rep.ID)
	if err := s.acquire(ctx, t.timeout); err != nil {
		return nil, err
	}
	defer s.release()

	pending := t.pendingLocked(s, rep.ID)
	if reasons := checkCeilings(rep, lead, pending); len(reasons) > 0 {
		return nil, fmt.Errorf("%w: %v", ErrAtCapacity, reasons)
	}

	pending.active++
	pending.today++
	pending.week++
	pending.pipeline += lead.EstimatedValue

	return &Reservation{
		RepID:          rep.ID,
		OrganizationID: rep.OrganizationID,
		EstimatedValue: lead.EstimatedValue,
	}, nil
}

// Commit persists the assignment's workload deltas and settles the
// reservation. On persistence failure the reservation stays held and the
// error propagates; the caller decides whether to retry or release.
func (t *Tracker) Commit(ctx context.Context, res *Reservation) error {
	if res == nil || res.settled {
		return nil
	}
	if err := t.committer.ApplyAssignment(ctx, res.OrganizationID, res.RepID, res.EstimatedValue); err != nil {
		return err
	}

	s := t.shardFor(res.RepID)
	if err := s.acquire(ctx, t.timeout); err != nil {
		return err
	}
	defer s.release()

	// The delta now lives in the database; drop the in-flight copy so the
	// next workload read does not double-count it.
	t.drop(s, res)
	res.settled = true
	return nil
}

// Release returns the reserved slot without persisting anything. Idempotent.
func (t *Tracker) Release(ctx context.Context, res *Reservation) error {
	if res == nil || res.settled {
		return nil
	}
	s := t.shardFor(res.RepID)
	if err := s.acquire(ctx, t.timeout); err != nil {
		return err
	}
	defer s.release()

	t.drop(s, res)
	res.settled = true
	return nil
}

func (t *Tracker) drop(s *shard, res *Reservation) {
	pending := t.pendingLocked(s, res.RepID)
	pending.active--
	pending.today--
	pending.week--
	pending.pipeline -= res.EstimatedValue
	if pending.active < 0 {
		pending.active = 0
	}
	if pending.today < 0 {
		pending.today = 0
	}
	if pending.week < 0 {
		pending.week = 0
	}
	if pending.pipeline < 0 {
		pending.pipeline = 0
	}
}

// pendingLocked returns the rep's pending delta, rolling the daily and weekly
// counters over when the clock has crossed a boundary. Caller holds the shard
// lock.
func (t *Tracker) pendingLocked(s *shard, repID uuid.UUID) *pendingLoad {
	now := t.now()
	day := now.Format("2006-01-02")
	y, w := now.ISOWeek()
	week := fmt.Sprintf("%d-%02d", y, w)

	p, ok := s.pending[repID]
	if !ok {
		p = &pendingLoad{day: day, week0: week}
		s.pending[repID] = p
	}
	if p.day != day {
		p.today = 0
		p.day = day
	}
	if p.week0 != week {
		p.week = 0
		p.week0 = week
	}
	return p
}

func checkAvailability(rep domain.SalesRep, now time.Time) []string {
	var reasons []string
	if !rep.IsAvailable {
		reasons = append(reasons, "rep_unavailable")
	}
	switch rep.Status {
	case domain.AvailabilityOutOfOffice, domain.AvailabilityVacation:
		reasons = append(reasons, "rep_"+string(rep.Status))
	}
	if wh := rep.Preferences.WorkingHours; wh != nil && !wh.Contains(now) {
		reasons = append(reasons, "outside_working_hours")
	}
	return reasons
}

// checkCeilings compares workload plus pending reservations against every
// configured ceiling. A zero ceiling means the dimension is unlimited, except
// MaxActiveLeads where zero means the rep takes no leads at all.
func checkCeilings(rep domain.SalesRep, lead domain.Lead, pending *pendingLoad) []string {
	var reasons []string
	w, c := rep.Workload, rep.Capacity

	if w.ActiveLeads+pending.active >= c.MaxActiveLeads {
		reasons = append(reasons, "at_active_lead_capacity")
	}
	if c.MaxNewLeadsPerDay > 0 && w.LeadsAssignedToday+pending.today >= c.MaxNewLeadsPerDay {
		reasons = append(reasons, "at_daily_capacity")
	}
	if c.MaxNewLeadsPerWeek > 0 && w.LeadsAssignedThisWeek+pending.week >= c.MaxNewLeadsPerWeek {
		reasons = append(reasons, "at_weekly_capacity")
	}
	if c.MaxPipelineValue != nil && w.PipelineValue+pending.pipeline+lead.EstimatedValue > *c.MaxPipelineValue {
		reasons = append(reasons, "over_pipeline_value_limit")
	}
	for _, rule := range c.CustomRules {
		if rule.Limit > 0 && rule.Current >= rule.Limit {
			reasons = append(reasons, "custom_rule_"+rule.Name)
		}
	}
	return reasons
}

// EffectiveUtilization is the rep's active-lead utilization including
// outstanding reservations, used by the capacity sub-score so two concurrent
// routing attempts do not both see the same headroom.
func (t *Tracker) EffectiveUtilization(ctx context.Context, rep domain.SalesRep) (float64, error) {
	s := t.shardFor(rep.ID)
	if err := s.acquire(ctx, t.timeout); err != nil {
		return 0, err
	}
	defer s.release()

	pending := t.pendingLocked(s, rep.ID)
	adjusted := rep.Workload
	adjusted.ActiveLeads += pending.active
	return adjusted.Utilization(rep.Capacity), nil
}
