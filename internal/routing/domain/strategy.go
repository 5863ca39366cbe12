package domain

import "strings"

// RoutingStrategy is the weighting/selection policy used to rank candidate
// reps for a lead. Every named strategy is a special case of the hybrid
// weighted composite with irrelevant weights zeroed out, so there is exactly
// one scoring code path.
type RoutingStrategy string

const (
	StrategyPerformanceWeighted RoutingStrategy = "performance_weighted"
	StrategyWorkloadBalanced    RoutingStrategy = "workload_balanced"
	StrategyTerritoryBased      RoutingStrategy = "territory_based"
	StrategySkillMatched        RoutingStrategy = "skill_matched"
	StrategyRoundRobin          RoutingStrategy = "round_robin"
	StrategyHybrid              RoutingStrategy = "hybrid"
)

// ValidStrategy reports whether s names a known routing strategy.
func ValidStrategy(s RoutingStrategy) bool {
	switch s {
	case StrategyPerformanceWeighted, StrategyWorkloadBalanced, StrategyTerritoryBased,
		StrategySkillMatched, StrategyRoundRobin, StrategyHybrid:
		return true
	}
	return false
}

// containsFold reports whether list contains target, case-insensitively.
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
