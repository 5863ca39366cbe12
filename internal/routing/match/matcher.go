// Package match ranks eligible sales reps for a lead. Five factor scores
// (0-100 each) are blended into a composite through the strategy's
// normalized weights; ranking is deterministic, with a fixed tie-break chain
// for near-equal composites.
package match

import (
	"fmt"
	"sort"
	"strings"

	"leadrouter_backend/internal/routing/domain"
)

// tieEpsilon is the composite-score distance under which two candidates are
// considered tied and the tie-break chain decides.
const tieEpsilon = 0.5

// Candidate pairs a rep with their reservation-aware utilization. The
// capacity tracker supplies the utilization so concurrent routing attempts
// see each other's holds.
type Candidate struct {
	Rep         domain.SalesRep
	Utilization float64
}

// Ranked is one scored candidate in descending composite order.
type Ranked struct {
	Rep       domain.SalesRep
	Score     float64
	SubScores domain.SubScores
	Reasons   []string
}

// Rank scores every candidate and orders them best-first. The candidates are
// assumed to have already passed the hard eligibility gate; scoring
// differentiates rather than excludes, with one exception: under the
// territory-based strategy a zero territory score makes the rep ineligible.
func Rank(lead domain.Lead, candidates []Candidate, cfg domain.RoutingConfiguration, strategy domain.RoutingStrategy) []Ranked {
	if len(candidates) == 0 {
		return nil
	}

	weights := WeightsFor(strategy, cfg.Weights)
	boostCutoff := topPerformerCutoff(candidates, cfg.HotLeads.TopPerformerPercentile)

	ranked := make([]Ranked, 0, len(candidates))
	for _, c := range candidates {
		ranked = append(ranked, score(lead, c, cfg, weights, boostCutoff))
	}

	if strategy == domain.StrategyTerritoryBased {
		kept := ranked[:0]
		for _, r := range ranked {
			if r.SubScores.Territory > 0 {
				kept = append(kept, r)
			}
		}
		ranked = kept
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if diff := a.Score - b.Score; diff >= tieEpsilon || diff <= -tieEpsilon {
			return a.Score > b.Score
		}
		// Tie-break chain: territory priority, then headroom, then rep ID so
		// the order is total and reproducible.
		ap, bp := a.Rep.BestTerritoryPriority(lead), b.Rep.BestTerritoryPriority(lead)
		if ap != bp {
			return ap > bp
		}
		aw, bw := a.Rep.Workload.ActiveLeads, b.Rep.Workload.ActiveLeads
		if aw != bw {
			return aw < bw
		}
		return a.Rep.ID.String() < b.Rep.ID.String()
	})
	return ranked
}

func score(lead domain.Lead, c Candidate, cfg domain.RoutingConfiguration, w domain.StrategyWeights, boostCutoff float64) Ranked {
	var reasons []string

	performance := clamp100(c.Rep.OverallScore)
	if cfg.HotLeads.RouteToTopPerformers && lead.Priority == domain.PriorityHot && c.Rep.OverallScore >= boostCutoff {
		performance = clamp100(performance * cfg.HotLeads.PerformanceBoost)
		reasons = append(reasons, "top_performer_boost")
	}

	capacityScore := clamp100(100 * (1 - c.Utilization))

	specialization, specReasons := specializationScore(lead, c.Rep.Specializations)
	reasons = append(reasons, specReasons...)

	territory, terrReason := territoryScore(lead, c.Rep)
	if terrReason != "" {
		reasons = append(reasons, terrReason)
	}

	availability := availabilityScore(c.Rep.Status)

	sub := domain.SubScores{
		Performance:    performance,
		Capacity:       capacityScore,
		Specialization: specialization,
		Territory:      territory,
		Availability:   availability,
	}

	composite := sub.Performance*w.Performance +
		sub.Capacity*w.Capacity +
		sub.Specialization*w.Specialization +
		sub.Territory*w.Territory +
		sub.Availability*w.Availability

	return Ranked{Rep: c.Rep, Score: clamp100(composite), SubScores: sub, Reasons: reasons}
}

// topPerformerCutoff returns the OverallScore at the configured percentile of
// the candidate pool. Reps at or above the cutoff are the "top performers"
// hot leads prefer.
func topPerformerCutoff(candidates []Candidate, percentile float64) float64 {
	if len(candidates) == 0 {
		return 0
	}
	scores := make([]float64, 0, len(candidates))
	for _, c := range candidates {
		scores = append(scores, c.Rep.OverallScore)
	}
	sort.Float64s(scores)

	idx := int(percentile / 100 * float64(len(scores)))
	if idx >= len(scores) {
		idx = len(scores) - 1
	}
	if idx < 0 {
		idx = 0
	}
	return scores[idx]
}

// specializationScore is the fraction of applicable dimensions the rep
// matches, scaled to 0-100. A dimension is applicable when the lead carries
// data for it AND the rep declares preferences in it. A rep with declared
// specializations that match nothing scores 0; a rep declaring none sits at
// the neutral 50 so generalists stay routable.
func specializationScore(lead domain.Lead, s domain.Specializations) (float64, []string) {
	if s.Empty() {
		return 50, nil
	}

	considered, matched := 0, 0
	var reasons []string

	check := func(name string, declared []string, hit bool, hasData bool) {
		if len(declared) == 0 || !hasData {
			return
		}
		considered++
		if hit {
			matched++
			reasons = append(reasons, "specialization_"+name)
		}
	}

	check("industry", s.Industries, containsFold(s.Industries, lead.Industry), lead.Industry != "")
	check("company_size", s.CompanySizes, containsFold(s.CompanySizes, sizeBucket(lead.CompanySize)), lead.CompanySize > 0)
	check("product", s.Products, overlapFold(s.Products, lead.Products), len(lead.Products) > 0)
	check("use_case", s.UseCases, overlapFold(s.UseCases, lead.UseCases), len(lead.UseCases) > 0)
	check("language", s.Languages, containsFold(s.Languages, lead.Language), lead.Language != "")

	if considered == 0 {
		return 50, nil
	}
	return float64(matched) / float64(considered) * 100, reasons
}

// territoryScore: a matching territory scores 70 plus 10 per priority level
// (capped at 100); no match, including a rep with no declared territories,
// scores 0.
func territoryScore(lead domain.Lead, rep domain.SalesRep) (float64, string) {
	best := rep.BestTerritoryPriority(lead)
	if best < 0 {
		return 0, ""
	}
	score := 70 + float64(best)*10
	if score > 100 {
		score = 100
	}
	for _, t := range rep.Territories {
		if t.Matches(lead) && t.Priority == best {
			return score, fmt.Sprintf("territory_match:%s", t.Name)
		}
	}
	return score, "territory_match"
}

// availabilityScore: available and busy reps take leads at full score,
// meeting and training are soft-unavailable, out-of-office and vacation
// score nothing.
func availabilityScore(status domain.AvailabilityStatus) float64 {
	switch status {
	case domain.AvailabilityAvailable, domain.AvailabilityBusy:
		return 100
	case domain.AvailabilityMeeting, domain.AvailabilityTraining:
		return 50
	default:
		return 0
	}
}

// sizeBucket maps a headcount to the named segments reps specialize in.
func sizeBucket(size int) string {
	switch {
	case size >= 1000:
		return "enterprise"
	case size >= 100:
		return "mid_market"
	case size > 0:
		return "smb"
	default:
		return ""
	}
}

func clamp100(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

func containsFold(list []string, target string) bool {
	if target == "" {
		return false
	}
	for _, item := range list {
		if strings.EqualFold(item, target) {
			return true
		}
	}
	return false
}

func overlapFold(a, b []string) bool {
	for _, item := range b {
		if containsFold(a, item) {
			return true
		}
	}
	return false
}
