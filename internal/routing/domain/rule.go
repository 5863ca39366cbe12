package domain

import (
	"time"

	"github.com/google/uuid"
)

// RuleType categorizes a routing rule.
type RuleType string

const (
	RuleTypeTerritory      RuleType = "territory"
	RuleTypePerformance    RuleType = "performance"
	RuleTypeWorkload       RuleType = "workload"
	RuleTypeSpecialization RuleType = "specialization"
	RuleTypeRoundRobin     RuleType = "round_robin"
	RuleTypeCustom         RuleType = "custom"
)

// Operator is the comparison applied by a rule condition.
type Operator string

const (
	OpEquals             Operator = "equals"
	OpNotEquals          Operator = "not_equals"
	OpGreaterThan        Operator = "greater_than"
	OpGreaterThanOrEqual Operator = "greater_than_or_equal"
	OpLessThan           Operator = "less_than"
	OpLessThanOrEqual    Operator = "less_than_or_equal"
	OpContains           Operator = "contains"
	OpNotContains        Operator = "not_contains"
	OpIn                 Operator = "in"
	OpNotIn              Operator = "not_in"
	OpMatchesRegex       Operator = "matches_regex"
)

// Connector chains a condition to the preceding one. Chains are flat and
// evaluated strictly left-to-right; there is no operator precedence and no
// parenthesization (documented limitation of the rule schema).
type Connector string

const (
	ConnectorAnd Connector = "and"
	ConnectorOr  Connector = "or"
)

// RuleCondition is one element of a rule's flat condition chain. Connector
// applies between this condition and the running result of everything to its
// left; it is ignored on the first condition.
type RuleCondition struct {
	Field     string    `json:"field"`
	Operator  Operator  `json:"operator"`
	Value     any       `json:"value"`
	Connector Connector `json:"connector,omitempty"`
}

// ActionType identifies what a fired rule does.
type ActionType string

const (
	ActionAssignToRep      ActionType = "assign_to_rep"
	ActionAssignToTeam     ActionType = "assign_to_team"
	ActionAssignByStrategy ActionType = "assign_by_strategy"
	ActionRouteToQueue     ActionType = "route_to_queue"
	ActionNotifyManager    ActionType = "notify_manager"
	ActionReject           ActionType = "reject"
)

// Terminal reports whether the action ends rule evaluation and skips
// generic scoring.
func (a ActionType) Terminal() bool {
	switch a {
	case ActionAssignToRep, ActionAssignToTeam, ActionReject:
		return true
	}
	return false
}

// RuleAction is one action executed when a rule fires.
type RuleAction struct {
	Type     ActionType       `json:"type"`
	RepID    *uuid.UUID       `json:"repId,omitempty"`    // assign_to_rep
	TeamID   *uuid.UUID       `json:"teamId,omitempty"`   // assign_to_team
	Strategy *RoutingStrategy `json:"strategy,omitempty"` // assign_by_strategy
	Queue    string           `json:"queue,omitempty"`    // route_to_queue
	Reason   string           `json:"reason,omitempty"`   // reject / notify_manager
}

// RoutingRule is an ordered, enableable organization-defined rule evaluated
// before generic scoring. Rules run by Priority ascending; the first rule
// whose condition chain matches and whose actions include a terminal action
// short-circuits the rest of the pipeline.
type RoutingRule struct {
	ID             uuid.UUID
	OrganizationID uuid.UUID
	Name           string
	Type           RuleType
	Priority       int
	Enabled        bool
	Conditions     []RuleCondition
	Actions        []RuleAction
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
