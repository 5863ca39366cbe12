// Package transport holds the request and response shapes of the routing
// HTTP API, and their mapping to and from domain types. Handlers never
// expose domain structs directly.
package transport

import (
	"time"

	"github.com/google/uuid"

	"leadrouter_backend/internal/routing/domain"
	"leadrouter_backend/internal/routing/engine"
)

// ---------------------------------------------------------------------------
// requests

// RouteLeadRequest triggers a routing attempt.
type RouteLeadRequest struct {
	LeadID   string  `json:"leadId" binding:"required,uuid"`
	RepID    *string `json:"repId,omitempty" binding:"omitempty,uuid"`
	Strategy *string `json:"strategy,omitempty" binding:"omitempty,routing_strategy"`
}

// ReassignRequest moves a lead to a different rep.
type ReassignRequest struct {
	Reason string  `json:"reason" binding:"required,min=3,max=500"`
	RepID  *string `json:"repId,omitempty" binding:"omitempty,uuid"`
}

// RejectAssignmentRequest declines a pending assignment.
type RejectAssignmentRequest struct {
	Reason string `json:"reason" binding:"max=500"`
}

// ConditionDTO mirrors domain.RuleCondition on the wire.
type ConditionDTO struct {
	Field     string `json:"field" binding:"required"`
	Operator  string `json:"operator" binding:"required"`
	Value     any    `json:"value"`
	Connector string `json:"connector,omitempty" binding:"omitempty,oneof=and or"`
}

// ActionDTO mirrors domain.RuleAction on the wire.
type ActionDTO struct {
	Type     string  `json:"type" binding:"required"`
	RepID    *string `json:"repId,omitempty" binding:"omitempty,uuid"`
	TeamID   *string `json:"teamId,omitempty" binding:"omitempty,uuid"`
	Strategy *string `json:"strategy,omitempty" binding:"omitempty,routing_strategy"`
	Queue    string  `json:"queue,omitempty"`
	Reason   string  `json:"reason,omitempty"`
}

// UpsertRuleRequest creates or replaces a routing rule.
type UpsertRuleRequest struct {
	Name       string         `json:"name" binding:"required,min=2,max=120"`
	Type       string         `json:"type" binding:"required,oneof=territory performance workload specialization round_robin custom"`
	Priority   int            `json:"priority" binding:"min=0,max=10000"`
	Enabled    *bool          `json:"enabled,omitempty"`
	Conditions []ConditionDTO `json:"conditions" binding:"required,min=1,dive"`
	Actions    []ActionDTO    `json:"actions" binding:"required,min=1,dive"`
}

// ---------------------------------------------------------------------------
// responses

// SubScoresDTO carries the five factor scores.
type SubScoresDTO struct {
	Performance    float64 `json:"performance"`
	Capacity       float64 `json:"capacity"`
	Specialization float64 `json:"specialization"`
	Territory      float64 `json:"territory"`
	Availability   float64 `json:"availability"`
}

// AlternativeDTO is a non-winning candidate.
type AlternativeDTO struct {
	RepID     string       `json:"repId"`
	Score     float64      `json:"score"`
	SubScores SubScoresDTO `json:"subScores"`
	Reasons   []string     `json:"reasons,omitempty"`
}

// AssignmentResponse is one assignment record.
type AssignmentResponse struct {
	ID                 string           `json:"id"`
	LeadID             string           `json:"leadId"`
	RepID              string           `json:"repId"`
	Method             string           `json:"method"`
	Strategy           string           `json:"strategy"`
	MatchedRuleIDs     []string         `json:"matchedRuleIds,omitempty"`
	Score              float64          `json:"score"`
	SubScores          SubScoresDTO     `json:"subScores"`
	Confidence         float64          `json:"confidence"`
	Reason             string           `json:"reason,omitempty"`
	Alternatives       []AlternativeDTO `json:"alternatives,omitempty"`
	Status             string           `json:"status"`
	AssignedAt         time.Time        `json:"assignedAt"`
	ExpiresAt          *time.Time       `json:"expiresAt,omitempty"`
	PreviousRepID      *string          `json:"previousRepId,omitempty"`
	ReassignmentReason string           `json:"reassignmentReason,omitempty"`
	ReassignmentCount  int              `json:"reassignmentCount"`
}

// QueuedLeadResponse is one routing-queue entry.
type QueuedLeadResponse struct {
	LeadID     string    `json:"leadId"`
	Queue      string    `json:"queue"`
	Priority   int       `json:"priority"`
	Reason     string    `json:"reason"`
	EnqueuedAt time.Time `json:"enqueuedAt"`
}

// DecisionResponse is the outcome of a routing attempt.
type DecisionResponse struct {
	Outcome        string              `json:"outcome"`
	Assignment     *AssignmentResponse `json:"assignment,omitempty"`
	Queued         *QueuedLeadResponse `json:"queued,omitempty"`
	RejectReason   string              `json:"rejectReason,omitempty"`
	Strategy       string              `json:"strategy,omitempty"`
	MatchedRuleIDs []string            `json:"matchedRuleIds,omitempty"`
	EvaluatedRules int                 `json:"evaluatedRules"`
	CandidateCount int                 `json:"candidateCount"`
	ProcessingMs   float64             `json:"processingMs"`
}

// RuleResponse is one routing rule.
type RuleResponse struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	Type       string         `json:"type"`
	Priority   int            `json:"priority"`
	Enabled    bool           `json:"enabled"`
	Conditions []ConditionDTO `json:"conditions"`
	Actions    []ActionDTO    `json:"actions"`
	CreatedAt  time.Time      `json:"createdAt"`
	UpdatedAt  time.Time      `json:"updatedAt"`
}

// ---------------------------------------------------------------------------
// mapping

// ToDecisionResponse flattens an engine decision for the wire.
func ToDecisionResponse(d engine.Decision) DecisionResponse {
	resp := DecisionResponse{
		Outcome:        string(d.Outcome),
		RejectReason:   d.RejectReason,
		Strategy:       string(d.Strategy),
		MatchedRuleIDs: uuidStrings(d.MatchedRuleIDs),
		EvaluatedRules: d.EvaluatedRules,
		CandidateCount: d.CandidateCount,
		ProcessingMs:   d.ProcessingMs,
	}
	if d.Assignment != nil {
		a := ToAssignmentResponse(*d.Assignment)
		resp.Assignment = &a
	}
	if d.Queued != nil {
		resp.Queued = &QueuedLeadResponse{
			LeadID:     d.Queued.LeadID.String(),
			Queue:      d.Queued.Queue,
			Priority:   d.Queued.Priority,
			Reason:     d.Queued.Reason,
			EnqueuedAt: d.Queued.EnqueuedAt,
		}
	}
	return resp
}

func ToAssignmentResponse(a domain.LeadAssignment) AssignmentResponse {
	resp := AssignmentResponse{
		ID:                 a.ID.String(),
		LeadID:             a.LeadID.String(),
		RepID:              a.RepID.String(),
		Method:             string(a.Method),
		Strategy:           string(a.Strategy),
		MatchedRuleIDs:     uuidStrings(a.MatchedRuleIDs),
		Score:              a.Score,
		SubScores:          toSubScoresDTO(a.SubScores),
		Confidence:         a.Confidence,
		Reason:             a.Reason,
		Status:             string(a.Status),
		AssignedAt:         a.AssignedAt,
		ExpiresAt:          a.ExpiresAt,
		ReassignmentReason: a.ReassignmentReason,
		ReassignmentCount:  a.ReassignmentCount,
	}
	if a.PreviousRepID != nil {
		s := a.PreviousRepID.String()
		resp.PreviousRepID = &s
	}
	for _, alt := range a.Alternatives {
		resp.Alternatives = append(resp.Alternatives, AlternativeDTO{
			RepID:     alt.RepID.String(),
			Score:     alt.Score,
			SubScores: toSubScoresDTO(alt.SubScores),
			Reasons:   alt.Reasons,
		})
	}
	return resp
}

func ToQueuedLeadResponse(q domain.QueuedLead) QueuedLeadResponse {
	return QueuedLeadResponse{
		LeadID:     q.LeadID.String(),
		Queue:      q.Queue,
		Priority:   q.Priority,
		Reason:     q.Reason,
		EnqueuedAt: q.EnqueuedAt,
	}
}

func ToRuleResponse(r domain.RoutingRule) RuleResponse {
	resp := RuleResponse{
		ID:        r.ID.String(),
		Name:      r.Name,
		Type:      string(r.Type),
		Priority:  r.Priority,
		Enabled:   r.Enabled,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
	for _, c := range r.Conditions {
		resp.Conditions = append(resp.Conditions, ConditionDTO{
			Field:     c.Field,
			Operator:  string(c.Operator),
			Value:     c.Value,
			Connector: string(c.Connector),
		})
	}
	for _, a := range r.Actions {
		dto := ActionDTO{
			Type:   string(a.Type),
			Queue:  a.Queue,
			Reason: a.Reason,
		}
		if a.RepID != nil {
			s := a.RepID.String()
			dto.RepID = &s
		}
		if a.TeamID != nil {
			s := a.TeamID.String()
			dto.TeamID = &s
		}
		if a.Strategy != nil {
			s := string(*a.Strategy)
			dto.Strategy = &s
		}
		resp.Actions = append(resp.Actions, dto)
	}
	return resp
}

// ToDomainRule converts an upsert request into a domain rule. The caller
// supplies identity and timestamps.
func (req UpsertRuleRequest) ToDomainRule(id, orgID uuid.UUID, now time.Time) (domain.RoutingRule, error) {
	rule := domain.RoutingRule{
		ID:             id,
		OrganizationID: orgID,
		Name:           req.Name,
		Type:           domain.RuleType(req.Type),
		Priority:       req.Priority,
		Enabled:        true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if req.Enabled != nil {
		rule.Enabled = *req.Enabled
	}

	for _, c := range req.Conditions {
		rule.Conditions = append(rule.Conditions, domain.RuleCondition{
			Field:     c.Field,
			Operator:  domain.Operator(c.Operator),
			Value:     c.Value,
			Connector: domain.Connector(c.Connector),
		})
	}
	for _, a := range req.Actions {
		action := domain.RuleAction{
			Type:   domain.ActionType(a.Type),
			Queue:  a.Queue,
			Reason: a.Reason,
		}
		if a.RepID != nil {
			id, err := uuid.Parse(*a.RepID)
			if err != nil {
				return domain.RoutingRule{}, err
			}
			action.RepID = &id
		}
		if a.TeamID != nil {
			id, err := uuid.Parse(*a.TeamID)
			if err != nil {
				return domain.RoutingRule{}, err
			}
			action.TeamID = &id
		}
		if a.Strategy != nil {
			s := domain.RoutingStrategy(*a.Strategy)
			action.Strategy = &s
		}
		rule.Actions = append(rule.Actions, action)
	}
	return rule, nil
}

func toSubScoresDTO(s domain.SubScores) SubScoresDTO {
	return SubScoresDTO{
		Performance:    s.Performance,
		Capacity:       s.Capacity,
		Specialization: s.Specialization,
		Territory:      s.Territory,
		Availability:   s.Availability,
	}
}

func uuidStrings(ids []uuid.UUID) []string {
	if len(ids) == 0 {
		return nil
	}
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, id.String())
	}
	return out
}
