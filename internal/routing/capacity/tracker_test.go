package capacity

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"leadrouter_backend/internal/routing/domain"
)

type fakeCommitter struct {
	mu    sync.Mutex
	calls int
	fail  error
}

func (f *fakeCommitter) ApplyAssignment(ctx context.Context, orgID, repID uuid.UUID, value float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	f.calls++
	return nil
}

func testRep(maxActive int) domain.SalesRep {
	return domain.SalesRep{
		ID:             uuid.New(),
		OrganizationID: uuid.New(),
		IsAvailable:    true,
		Status:         domain.AvailabilityAvailable,
		Capacity:       domain.Capacity{MaxActiveLeads: maxActive},
	}
}

func TestReserveRespectsCeiling(t *testing.T) {
	tr := NewTracker(&fakeCommitter{}, 100*time.Millisecond)
	rep := testRep(2)
	ctx := context.Background()

	r1, err := tr.Reserve(ctx, rep, domain.Lead{})
	if err != nil {
		t.Fatalf("first reserve: %v", err)
	}
	if _, err := tr.Reserve(ctx, rep, domain.Lead{}); err != nil {
		t.Fatalf("second reserve: %v", err)
	}
	if _, err := tr.Reserve(ctx, rep, domain.Lead{}); !errors.Is(err, ErrAtCapacity) {
		t.Fatalf("third reserve should hit the ceiling, got %v", err)
	}

	// Releasing frees the slot again.
	if err := tr.Release(ctx, r1); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, err := tr.Reserve(ctx, rep, domain.Lead{}); err != nil {
		t.Errorf("reserve after release: %v", err)
	}
}

func TestReserveNeverOverbooksUnderContention(t *testing.T) {
	tr := NewTracker(&fakeCommitter{}, time.Second)
	rep := testRep(5)
	ctx := context.Background()

	var won atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := tr.Reserve(ctx, rep, domain.Lead{}); err == nil {
				won.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := won.Load(); got != 5 {
		t.Errorf("exactly 5 reservations should win, got %d", got)
	}
}

func TestCommitPersistsAndSettles(t *testing.T) {
	committer := &fakeCommitter{}
	tr := NewTracker(committer, 100*time.Millisecond)
	rep := testRep(1)
	ctx := context.Background()

	res, err := tr.Reserve(ctx, rep, domain.Lead{EstimatedValue: 1000})
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := tr.Commit(ctx, res); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if committer.calls != 1 {
		t.Errorf("committer should be called once, got %d", committer.calls)
	}

	// Commit is idempotent on a settled reservation.
	if err := tr.Commit(ctx, res); err != nil {
		t.Fatalf("second commit: %v", err)
	}
	if committer.calls != 1 {
		t.Errorf("settled reservation must not re-commit, got %d calls", committer.calls)
	}
}

func TestCommitFailureKeepsReservation(t *testing.T) {
	committer := &fakeCommitter{fail: errors.New("db down")}
	tr := NewTracker(committer, 100*time.Millisecond)
	rep := testRep(1)
	ctx := context.Background()

	res, err := tr.Reserve(ctx, rep, domain.Lead{})
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := tr.Commit(ctx, res); err == nil {
		t.Fatal("commit should surface the persistence error")
	}

	// The slot is still held; a second reservation must fail.
	if _, err := tr.Reserve(ctx, rep, domain.Lead{}); !errors.Is(err, ErrAtCapacity) {
		t.Errorf("slot should remain held after a failed commit, got %v", err)
	}

	// Release still works after the failure.
	if err := tr.Release(ctx, res); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, err := tr.Reserve(ctx, rep, domain.Lead{}); err != nil {
		t.Errorf("reserve after release: %v", err)
	}
}

func TestDailyCounterRollsOver(t *testing.T) {
	day1 := time.Date(2026, 3, 2, 23, 0, 0, 0, time.UTC)
	current := day1
	tr := NewTracker(&fakeCommitter{}, 100*time.Millisecond).WithClock(func() time.Time { return current })

	rep := testRep(100)
	rep.Capacity.MaxNewLeadsPerDay = 1
	ctx := context.Background()

	if _, err := tr.Reserve(ctx, rep, domain.Lead{}); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if _, err := tr.Reserve(ctx, rep, domain.Lead{}); !errors.Is(err, ErrAtCapacity) {
		t.Fatalf("daily ceiling should block, got %v", err)
	}

	// Midnight passes; the pending daily counter resets.
	current = day1.Add(2 * time.Hour)
	if _, err := tr.Reserve(ctx, rep, domain.Lead{}); err != nil {
		t.Errorf("reserve after rollover: %v", err)
	}
}

func TestEligibilityReasons(t *testing.T) {
	tr := NewTracker(&fakeCommitter{}, 100*time.Millisecond)
	ctx := context.Background()

	rep := testRep(0) // zero MaxActiveLeads: takes no leads
	rep.IsAvailable = false
	rep.Status = domain.AvailabilityVacation

	elig, err := tr.Eligibility(ctx, rep, domain.Lead{})
	if err != nil {
		t.Fatalf("eligibility: %v", err)
	}
	if elig.Eligible {
		t.Fatal("rep should be ineligible")
	}

	want := map[string]bool{
		"rep_unavailable":         false,
		"rep_vacation":            false,
		"at_active_lead_capacity": false,
	}
	for _, r := range elig.Reasons {
		if _, ok := want[r]; ok {
			want[r] = true
		}
	}
	for reason, seen := range want {
		if !seen {
			t.Errorf("missing reason %q in %v", reason, elig.Reasons)
		}
	}
}

func TestEffectiveUtilizationCountsReservations(t *testing.T) {
	tr := NewTracker(&fakeCommitter{}, 100*time.Millisecond)
	rep := testRep(10)
	rep.Workload.ActiveLeads = 5
	ctx := context.Background()

	u, err := tr.EffectiveUtilization(ctx, rep)
	if err != nil {
		t.Fatalf("utilization: %v", err)
	}
	if u != 0.5 {
		t.Fatalf("expected 0.5, got %v", u)
	}

	if _, err := tr.Reserve(ctx, rep, domain.Lead{}); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	u, err = tr.EffectiveUtilization(ctx, rep)
	if err != nil {
		t.Fatalf("utilization: %v", err)
	}
	if u != 0.6 {
		t.Errorf("reservation should count toward utilization, got %v", u)
	}
}
