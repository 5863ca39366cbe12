package match

import "leadrouter_backend/internal/routing/domain"

// WeightsFor resolves the factor weights for a strategy. Every named
// strategy is the hybrid composite with its irrelevant factors zeroed out,
// so ranking has exactly one code path; Normalized rescales whatever
// survives. Round-robin keeps capacity and availability only, because its
// ordering comes from the sequencer, not from scores.
func WeightsFor(strategy domain.RoutingStrategy, configured domain.StrategyWeights) domain.StrategyWeights {
	w := configured
	switch strategy {
	case domain.StrategyPerformanceWeighted:
		w.Capacity, w.Specialization, w.Territory = 0, 0, 0
	case domain.StrategyWorkloadBalanced:
		w.Performance, w.Specialization, w.Territory = 0, 0, 0
	case domain.StrategyTerritoryBased:
		w.Performance, w.Capacity, w.Specialization = 0, 0, 0
	case domain.StrategySkillMatched:
		w.Performance, w.Capacity, w.Territory = 0, 0, 0
	case domain.StrategyRoundRobin:
		w.Performance, w.Specialization, w.Territory = 0, 0, 0
	case domain.StrategyHybrid:
	}
	return w.Normalized()
}
