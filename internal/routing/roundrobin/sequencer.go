// Package roundrobin hands out reps in a fair rotating order. Cursors are
// in-process, per scope (organization, or organization plus rule), and reset
// on a configurable cadence. Restart fairness is not a goal: losing cursors
// on redeploy skews one rotation at worst.
package roundrobin

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"leadrouter_backend/internal/routing/domain"
)

type cursor struct {
	pos   int
	epoch string
}

// Sequencer tracks rotation cursors. Safe for concurrent use.
type Sequencer struct {
	mu      sync.Mutex
	cursors map[string]*cursor
	now     func() time.Time
}

func NewSequencer() *Sequencer {
	return &Sequencer{
		cursors: make(map[string]*cursor),
		now:     time.Now,
	}
}

// WithClock overrides the sequencer's clock. Test hook.
func (s *Sequencer) WithClock(now func() time.Time) *Sequencer {
	s.now = now
	return s
}

// Next returns the next rep in rotation for the scope. Reps are ordered by ID
// so rotation order is stable regardless of how the caller loaded them. When
// SkipAtCapacity is set, reps failing the atCapacity check are passed over,
// bounded to one full cycle; if every rep is at capacity Next reports false.
// With skipping off, the pointed-at rep is returned as-is and the caller's
// reservation step decides.
func (s *Sequencer) Next(scope string, reps []domain.SalesRep, settings domain.RoundRobinSettings, atCapacity func(domain.SalesRep) bool) (domain.SalesRep, bool) {
	if len(reps) == 0 {
		return domain.SalesRep{}, false
	}

	ordered := make([]domain.SalesRep, len(reps))
	copy(ordered, reps)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].ID.String() < ordered[j].ID.String() })

	s.mu.Lock()
	defer s.mu.Unlock()

	epoch := s.epochFor(settings.ResetCadence)
	c, ok := s.cursors[scope]
	if !ok || c.epoch != epoch {
		c = &cursor{epoch: epoch}
		s.cursors[scope] = c
	}

	// At most one full cycle, so a fully saturated pool terminates.
	for attempts := 0; attempts < len(ordered); attempts++ {
		rep := ordered[c.pos%len(ordered)]
		c.pos++

		if settings.SkipAtCapacity && atCapacity != nil && atCapacity(rep) {
			continue
		}
		return rep, true
	}
	return domain.SalesRep{}, false
}

// Reset clears the cursor for a scope. Used when an organization's rep pool
// changes shape enough that the old position is meaningless.
func (s *Sequencer) Reset(scope string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cursors, scope)
}

// epochFor stamps the current reset period. When the stamp changes between
// calls the cursor restarts from the top of the rotation.
func (s *Sequencer) epochFor(cadence domain.ResetCadence) string {
	now := s.now()
	switch cadence {
	case domain.ResetDaily:
		return now.Format("2006-01-02")
	case domain.ResetWeekly:
		y, w := now.ISOWeek()
		return fmt.Sprintf("%d-W%02d", y, w)
	case domain.ResetMonthly:
		return now.Format("2006-01")
	default:
		return ""
	}
}
