// Package rules evaluates organization-defined routing rules against a lead
// before generic scoring runs. Rules run in priority order; the first rule
// with a terminal action wins, non-terminal actions accumulate as hints.
package rules

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"leadrouter_backend/internal/routing/domain"
	"leadrouter_backend/platform/logger"
)

// Hints are the non-terminal outcomes collected while evaluating rules. They
// shape the scoring phase instead of ending it.
type Hints struct {
	StrategyOverride *domain.RoutingStrategy
	RouteToQueue     string
	NotifyManager    bool
	NotifyReason     string
}

// Outcome is the result of a full rule pass over one lead.
type Outcome struct {
	MatchedRuleIDs []uuid.UUID
	Terminal       *domain.RuleAction // nil when no terminal action fired
	TerminalRuleID uuid.UUID
	Hints          Hints
	Evaluated      int
}

// Evaluator runs routing rules. Stateless; safe for concurrent use.
type Evaluator struct {
	log *logger.Logger
}

func NewEvaluator(log *logger.Logger) *Evaluator {
	return &Evaluator{log: log}
}

// Evaluate runs the enabled rules against the lead, lowest Priority first.
// A malformed rule (unknown operator, bad regex, uncomparable values) never
// aborts the pass: it is logged and treated as non-matching.
func (e *Evaluator) Evaluate(ruleSet []domain.RoutingRule, lead domain.Lead) Outcome {
	ordered := make([]domain.RoutingRule, 0, len(ruleSet))
	for _, r := range ruleSet {
		if r.Enabled {
			ordered = append(ordered, r)
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Priority < ordered[j].Priority })

	var out Outcome
	for _, rule := range ordered {
		out.Evaluated++

		matched, err := e.matches(rule, lead)
		if err != nil {
			e.log.RuleSkipped(rule.ID.String(), err.Error())
			continue
		}
		if !matched {
			continue
		}

		out.MatchedRuleIDs = append(out.MatchedRuleIDs, rule.ID)
		if terminal := e.applyActions(rule, &out.Hints); terminal != nil {
			out.Terminal = terminal
			out.TerminalRuleID = rule.ID
			return out
		}
	}
	return out
}

// applyActions folds the rule's actions into the hints and returns the first
// terminal action, if any. Actions within one rule run in order; a terminal
// action stops the rest.
func (e *Evaluator) applyActions(rule domain.RoutingRule, hints *Hints) *domain.RuleAction {
	for i := range rule.Actions {
		action := rule.Actions[i]
		if action.Type.Terminal() {
			return &action
		}
		switch action.Type {
		case domain.ActionAssignByStrategy:
			if action.Strategy != nil && domain.ValidStrategy(*action.Strategy) {
				hints.StrategyOverride = action.Strategy
			} else {
				e.log.RuleSkipped(rule.ID.String(), "assign_by_strategy action without a valid strategy")
			}
		case domain.ActionRouteToQueue:
			if action.Queue != "" {
				hints.RouteToQueue = action.Queue
			}
		case domain.ActionNotifyManager:
			hints.NotifyManager = true
			if action.Reason != "" {
				hints.NotifyReason = action.Reason
			}
		default:
			e.log.RuleSkipped(rule.ID.String(), fmt.Sprintf("unknown action type %q", action.Type))
		}
	}
	return nil
}

// matches folds the flat condition chain strictly left-to-right. The
// connector on condition i combines the running result with condition i; it
// is ignored on the first condition. A rule with no conditions never matches.
func (e *Evaluator) matches(rule domain.RoutingRule, lead domain.Lead) (bool, error) {
	if len(rule.Conditions) == 0 {
		return false, nil
	}

	result, err := evalCondition(rule.Conditions[0], lead)
	if err != nil {
		return false, err
	}
	for _, cond := range rule.Conditions[1:] {
		v, err := evalCondition(cond, lead)
		if err != nil {
			return false, err
		}
		switch cond.Connector {
		case domain.ConnectorOr:
			result = result || v
		case domain.ConnectorAnd, "":
			result = result && v
		default:
			return false, fmt.Errorf("unknown connector %q", cond.Connector)
		}
	}
	return result, nil
}

func evalCondition(cond domain.RuleCondition, lead domain.Lead) (bool, error) {
	field, ok := lookupField(lead, cond.Field)
	if !ok {
		// Unknown fields compare as absent, not as errors: orgs add metadata
		// keys faster than rules get cleaned up.
		field = nil
	}

	switch cond.Operator {
	case domain.OpEquals:
		return looseEqual(field, cond.Value), nil
	case domain.OpNotEquals:
		return !looseEqual(field, cond.Value), nil
	case domain.OpGreaterThan, domain.OpGreaterThanOrEqual, domain.OpLessThan, domain.OpLessThanOrEqual:
		a, aok := toFloat(field)
		b, bok := toFloat(cond.Value)
		if !aok || !bok {
			return false, fmt.Errorf("operator %s needs numeric operands for field %q", cond.Operator, cond.Field)
		}
		switch cond.Operator {
		case domain.OpGreaterThan:
			return a > b, nil
		case domain.OpGreaterThanOrEqual:
			return a >= b, nil
		case domain.OpLessThan:
			return a < b, nil
		default:
			return a <= b, nil
		}
	case domain.OpContains, domain.OpNotContains:
		got := containsValue(field, cond.Value)
		if cond.Operator == domain.OpNotContains {
			return !got, nil
		}
		return got, nil
	case domain.OpIn, domain.OpNotIn:
		list, err := toStringList(cond.Value)
		if err != nil {
			return false, fmt.Errorf("operator %s needs a list value for field %q: %w", cond.Operator, cond.Field, err)
		}
		got := false
		fieldStr := toString(field)
		for _, item := range list {
			if strings.EqualFold(item, fieldStr) {
				got = true
				break
			}
		}
		if cond.Operator == domain.OpNotIn {
			return !got, nil
		}
		return got, nil
	case domain.OpMatchesRegex:
		pattern, ok := cond.Value.(string)
		if !ok {
			return false, fmt.Errorf("matches_regex needs a string pattern for field %q", cond.Field)
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return false, fmt.Errorf("invalid regex on field %q: %w", cond.Field, err)
		}
		return re.MatchString(toString(field)), nil
	default:
		return false, fmt.Errorf("unknown operator %q", cond.Operator)
	}
}

// lookupField resolves a condition field name against the lead. Built-in
// fields are matched by name; anything else falls through to the metadata
// bag.
func lookupField(lead domain.Lead, name string) (any, bool) {
	switch strings.ToLower(name) {
	case "company_name", "companyname":
		return lead.CompanyName, true
	case "company_size", "companysize":
		return lead.CompanySize, true
	case "industry":
		return lead.Industry, true
	case "country":
		return lead.Country, true
	case "region":
		return lead.Region, true
	case "source":
		return lead.Source, true
	case "quality_score", "qualityscore":
		return deref(lead.QualityScore), true
	case "intent_score", "intentscore":
		return deref(lead.IntentScore), true
	case "fit_score", "fitscore":
		return deref(lead.FitScore), true
	case "priority":
		return string(lead.Priority), true
	case "status":
		return string(lead.Status), true
	case "estimated_value", "estimatedvalue":
		return lead.EstimatedValue, true
	case "products":
		return lead.Products, true
	case "use_cases", "usecases":
		return lead.UseCases, true
	case "language":
		return lead.Language, true
	case "tags":
		return lead.Tags, true
	}
	if v, ok := lead.Metadata[name]; ok {
		return v, true
	}
	return nil, false
}

func deref(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

// looseEqual compares with numeric coercion first, string folding second.
// JSON decoding turns every rule number into float64, so "equals 50" must
// match an int field holding 50.
func looseEqual(a, b any) bool {
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			return af == bf
		}
	}
	return strings.EqualFold(toString(a), toString(b))
}

func containsValue(field, value any) bool {
	needle := toString(value)
	if needle == "" {
		return false
	}
	switch f := field.(type) {
	case []string:
		for _, item := range f {
			if strings.EqualFold(item, needle) {
				return true
			}
		}
		return false
	case []any:
		for _, item := range f {
			if strings.EqualFold(toString(item), needle) {
				return true
			}
		}
		return false
	case string:
		return strings.Contains(strings.ToLower(f), strings.ToLower(needle))
	case nil:
		return false
	default:
		return strings.Contains(strings.ToLower(toString(f)), strings.ToLower(needle))
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	case nil:
		return 0, false
	default:
		return 0, false
	}
}

func toString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case nil:
		return ""
	case fmt.Stringer:
		return s.String()
	default:
		return fmt.Sprintf("%v", v)
	}
}

func toStringList(v any) ([]string, error) {
	switch list := v.(type) {
	case []string:
		return list, nil
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			out = append(out, toString(item))
		}
		return out, nil
	default:
		return nil, fmt.Errorf("expected a list, got %T", v)
	}
}
