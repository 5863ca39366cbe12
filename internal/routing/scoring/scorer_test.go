package scoring

import (
	"reflect"
	"testing"
	"time"

	"github.com/google/uuid"

	"leadrouter_backend/internal/routing/domain"
)

func fp(v float64) *float64 { return &v }

func TestScoreDefaultsToNeutral(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	lead := domain.Lead{
		ID:        uuid.New(),
		CreatedAt: now.Add(-48 * time.Hour),
	}

	q := Score(lead, now)

	if q.Scores.Intent != 50 || q.Scores.Fit != 50 {
		t.Fatalf("missing signals should score neutral, got intent=%v fit=%v", q.Scores.Intent, q.Scores.Fit)
	}
	if q.Tier != TierStandard {
		t.Errorf("expected standard tier for a neutral lead, got %s", q.Tier)
	}
	found := false
	for _, ind := range q.Indicators {
		if ind == "unscored_upstream" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected unscored_upstream indicator, got %v", q.Indicators)
	}
}

func TestScoreTiers(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		lead domain.Lead
		want Tier
	}{
		{
			name: "premium for strong signals",
			lead: domain.Lead{
				IntentScore:    fp(95),
				FitScore:       fp(90),
				QualityScore:   fp(92),
				Source:         "referral",
				EstimatedValue: 150000,
				CompanySize:    2000,
				CreatedAt:      now.Add(-2 * time.Hour),
			},
			want: TierPremium,
		},
		{
			name: "basic for weak signals",
			lead: domain.Lead{
				IntentScore:  fp(10),
				FitScore:     fp(15),
				QualityScore: fp(12),
				Source:       "purchased list",
				CreatedAt:    now.Add(-30 * 24 * time.Hour),
			},
			want: TierBasic,
		},
		{
			name: "standard in between",
			lead: domain.Lead{
				IntentScore: fp(55),
				FitScore:    fp(50),
				Source:      "website",
				CreatedAt:   now.Add(-5 * 24 * time.Hour),
			},
			want: TierStandard,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Score(tt.lead, now)
			if got.Tier != tt.want {
				t.Errorf("tier = %s (score %.1f), want %s", got.Tier, got.OverallScore, tt.want)
			}
		})
	}
}

func TestRoutingPriorityMonotonic(t *testing.T) {
	prev := 0
	for score := 0.0; score <= 100; score += 5 {
		p := routingPriority(score)
		if p < 1 || p > 10 {
			t.Fatalf("priority %d out of range for score %v", p, score)
		}
		if p < prev {
			t.Fatalf("priority not monotonic: score %v gave %d after %d", score, p, prev)
		}
		prev = p
	}
	if routingPriority(100) != 10 {
		t.Errorf("a perfect score should map to priority 10")
	}
}

func TestScoreDeterministic(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	lead := domain.Lead{
		IntentScore:    fp(72),
		FitScore:       fp(64),
		Source:         "webinar",
		EstimatedValue: 30000,
		CreatedAt:      now.Add(-10 * time.Hour),
	}

	a := Score(lead, now)
	b := Score(lead, now)
	if !reflect.DeepEqual(toComparable(a), toComparable(b)) {
		t.Errorf("same inputs produced different outputs: %+v vs %+v", a, b)
	}
}

// toComparable strips the indicator slice so the structs compare with ==.
func toComparable(q Quality) Quality {
	q.Indicators = nil
	return q
}
