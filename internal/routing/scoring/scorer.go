// Package scoring normalizes raw lead signals into the quality profile the
// routing pipeline consumes: an overall 0-100 score, a tier, four factor
// scores and a 1-10 routing priority.
package scoring

import (
	"math"
	"strings"
	"time"

	"leadrouter_backend/internal/routing/domain"
)

const (
	// neutralScore is substituted for any missing signal. A lead must always
	// be routable, so the scorer never fails; it degrades to neutral.
	neutralScore = 50.0

	// Factor weights of the overall score. Intent dominates: a lead asking
	// for a demo outranks a well-fitting lead that never engaged.
	intentWeight     = 0.35
	fitWeight        = 0.30
	engagementWeight = 0.20
	potentialWeight  = 0.15
)

// Tier buckets the overall quality score.
type Tier string

const (
	TierPremium  Tier = "premium"
	TierStandard Tier = "standard"
	TierBasic    Tier = "basic"
)

// FactorScores are the four normalized quality factors.
type FactorScores struct {
	Intent     float64 `json:"intent"`
	Fit        float64 `json:"fit"`
	Engagement float64 `json:"engagement"`
	Potential  float64 `json:"potential"`
}

// Quality is the scorer output.
type Quality struct {
	OverallScore    float64      `json:"overallScore"`
	Tier            Tier         `json:"tier"`
	Scores          FactorScores `json:"scores"`
	Indicators      []string     `json:"indicators,omitempty"`
	RoutingPriority int          `json:"routingPriority"` // 1-10, queue ordering only
}

// sourceEngagement maps acquisition channels to an engagement baseline.
// Referral and direct channels convert best; purchased lists worst.
var sourceEngagement = []struct {
	keywords []string
	score    float64
}{
	{[]string{"referral"}, 85},
	{[]string{"direct", "inbound"}, 75},
	{[]string{"website", "organic", "demo"}, 70},
	{[]string{"email", "newsletter"}, 60},
	{[]string{"event", "webinar"}, 60},
	{[]string{"social", "linkedin"}, 55},
	{[]string{"search", "ppc", "ads"}, 50},
	{[]string{"partner", "affiliate"}, 45},
	{[]string{"cold", "outbound"}, 35},
	{[]string{"purchased", "list"}, 25},
}

// Score computes the lead quality profile. Pure and deterministic: the same
// lead and the same evaluation time always produce the same output, and
// missing signals default to neutral rather than erroring.
func Score(lead domain.Lead, now time.Time) Quality {
	intent := orNeutral(lead.IntentScore)
	fit := orNeutral(lead.FitScore)
	engagement := scoreEngagement(lead, now)
	potential := scorePotential(lead)

	// The upstream quality score, when present, anchors the blend: it
	// already encodes signals this engine does not see.
	overall := intent*intentWeight + fit*fitWeight + engagement*engagementWeight + potential*potentialWeight
	if lead.QualityScore != nil {
		overall = (overall + clamp(*lead.QualityScore, 0, 100)) / 2
	}
	overall = clamp(overall, 0, 100)

	return Quality{
		OverallScore:    math.Round(overall*10) / 10,
		Tier:            tierFor(overall),
		Scores:          FactorScores{Intent: intent, Fit: fit, Engagement: engagement, Potential: potential},
		Indicators:      indicators(lead, intent, fit, engagement, potential),
		RoutingPriority: routingPriority(overall),
	}
}

// routingPriority buckets the overall score into deciles: 10 is the top
// decile. Monotonic in the score; used only for queue ordering, never for
// eligibility.
func routingPriority(overall float64) int {
	p := int(overall/10) + 1
	if p < 1 {
		p = 1
	}
	if p > 10 {
		p = 10
	}
	return p
}

func tierFor(overall float64) Tier {
	switch {
	case overall >= 75:
		return TierPremium
	case overall >= 45:
		return TierStandard
	default:
		return TierBasic
	}
}

func scoreEngagement(lead domain.Lead, now time.Time) float64 {
	score := neutralScore

	if lead.Source != "" {
		source := strings.ToLower(lead.Source)
		for _, entry := range sourceEngagement {
			if containsAny(source, entry.keywords) {
				score = entry.score
				break
			}
		}
	}

	// Fresh leads engage better; stale ones cool off.
	age := now.Sub(lead.CreatedAt)
	switch {
	case age <= 24*time.Hour:
		score += 10
	case age <= 72*time.Hour:
		score += 5
	case age > 14*24*time.Hour:
		score -= 10
	}

	return clamp(score, 0, 100)
}

func scorePotential(lead domain.Lead) float64 {
	score := neutralScore

	switch {
	case lead.EstimatedValue >= 100000:
		score += 30
	case lead.EstimatedValue >= 25000:
		score += 20
	case lead.EstimatedValue >= 5000:
		score += 10
	case lead.EstimatedValue > 0:
		score += 0
	default:
		// No value estimate stays neutral.
	}

	switch {
	case lead.CompanySize >= 1000:
		score += 10
	case lead.CompanySize >= 100:
		score += 5
	}

	return clamp(score, 0, 100)
}

func indicators(lead domain.Lead, intent, fit, engagement, potential float64) []string {
	var out []string
	if intent >= 75 {
		out = append(out, "high_intent")
	}
	if fit >= 75 {
		out = append(out, "strong_fit")
	}
	if engagement >= 70 {
		out = append(out, "engaged")
	}
	if potential >= 75 {
		out = append(out, "high_value")
	}
	if lead.Priority == domain.PriorityHot {
		out = append(out, "hot_lead")
	}
	if lead.IntentScore == nil && lead.FitScore == nil && lead.QualityScore == nil {
		out = append(out, "unscored_upstream")
	}
	return out
}

func orNeutral(v *float64) float64 {
	if v == nil {
		return neutralScore
	}
	return clamp(*v, 0, 100)
}

func clamp(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}
