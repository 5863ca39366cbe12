// Package handler exposes the routing engine over HTTP.
package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"leadrouter_backend/internal/routing/domain"
	"leadrouter_backend/internal/routing/engine"
	"leadrouter_backend/internal/routing/repository"
	"leadrouter_backend/internal/routing/transport"
	"leadrouter_backend/platform/apperr"
	"leadrouter_backend/platform/httpkit"
	"leadrouter_backend/platform/logger"
)

// RoutingEngine is the decision pipeline surface the handler drives.
type RoutingEngine interface {
	RouteLead(ctx context.Context, orgID, leadID uuid.UUID, opts engine.RouteOptions) (engine.Decision, error)
	Reassign(ctx context.Context, orgID, leadID uuid.UUID, reason string, forceRepID *uuid.UUID) (engine.Decision, error)
	AcceptAssignment(ctx context.Context, orgID, assignmentID uuid.UUID) error
	RejectAssignment(ctx context.Context, orgID, assignmentID uuid.UUID, reason string) (*engine.Decision, error)
}

// Store is the read/CRUD surface behind the non-routing endpoints.
type Store interface {
	GetCurrentAssignment(ctx context.Context, orgID, leadID uuid.UUID) (domain.LeadAssignment, error)
	ListAssignmentsForLead(ctx context.Context, orgID, leadID uuid.UUID) ([]domain.LeadAssignment, error)
	ListRules(ctx context.Context, orgID uuid.UUID) ([]domain.RoutingRule, error)
	GetRule(ctx context.Context, orgID, ruleID uuid.UUID) (domain.RoutingRule, error)
	CreateRule(ctx context.Context, rule domain.RoutingRule) error
	UpdateRule(ctx context.Context, rule domain.RoutingRule) error
	DeleteRule(ctx context.Context, orgID, ruleID uuid.UUID) error
	GetConfiguration(ctx context.Context, orgID uuid.UUID) (domain.RoutingConfiguration, error)
	UpsertConfiguration(ctx context.Context, cfg domain.RoutingConfiguration) (domain.RoutingConfiguration, error)
	ListQueue(ctx context.Context, orgID uuid.UUID, limit int) ([]domain.QueuedLead, error)
	GetAnalytics(ctx context.Context, orgID uuid.UUID, since time.Time) (repository.Analytics, error)
}

// Handler wires the routing endpoints.
type Handler struct {
	engine RoutingEngine
	store  Store
	log    *logger.Logger
}

func New(eng RoutingEngine, store Store, log *logger.Logger) *Handler {
	return &Handler{engine: eng, store: store, log: log}
}

// RouteLead handles POST /route.
func (h *Handler) RouteLead(c *gin.Context) {
	orgID, ok := httpkit.OrgID(c)
	if !ok {
		httpkit.Error(c, http.StatusBadRequest, "missing organization scope", nil)
		return
	}

	var req transport.RouteLeadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	leadID := uuid.MustParse(req.LeadID)
	opts := engine.RouteOptions{}
	if req.RepID != nil {
		id := uuid.MustParse(*req.RepID)
		opts.ForceRepID = &id
		opts.Method = domain.MethodManual
	}
	if req.Strategy != nil {
		s := domain.RoutingStrategy(*req.Strategy)
		opts.Strategy = &s
	}

	decision, err := h.engine.RouteLead(c.Request.Context(), orgID, leadID, opts)
	if err != nil {
		httpkit.FromError(c, err)
		return
	}
	httpkit.JSON(c, http.StatusCreated, transport.ToDecisionResponse(decision))
}

// ReassignLead handles POST /leads/:id/reassign.
func (h *Handler) ReassignLead(c *gin.Context) {
	orgID, ok := httpkit.OrgID(c)
	if !ok {
		httpkit.Error(c, http.StatusBadRequest, "missing organization scope", nil)
		return
	}
	leadID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, "invalid lead id", nil)
		return
	}

	var req transport.ReassignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	var forceRepID *uuid.UUID
	if req.RepID != nil {
		id := uuid.MustParse(*req.RepID)
		forceRepID = &id
	}

	decision, err := h.engine.Reassign(c.Request.Context(), orgID, leadID, req.Reason, forceRepID)
	if err != nil {
		if errors.Is(err, engine.ErrReassignmentLimit) {
			httpkit.Error(c, http.StatusConflict, "reassignment limit reached, escalated to manager", nil)
			return
		}
		httpkit.FromError(c, err)
		return
	}
	httpkit.JSON(c, http.StatusCreated, transport.ToDecisionResponse(decision))
}

// AcceptAssignment handles POST /assignments/:id/accept.
func (h *Handler) AcceptAssignment(c *gin.Context) {
	orgID, ok := httpkit.OrgID(c)
	if !ok {
		httpkit.Error(c, http.StatusBadRequest, "missing organization scope", nil)
		return
	}
	assignmentID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, "invalid assignment id", nil)
		return
	}

	if err := h.engine.AcceptAssignment(c.Request.Context(), orgID, assignmentID); err != nil {
		httpkit.FromError(c, err)
		return
	}
	httpkit.OK(c, gin.H{"status": "active"})
}

// RejectAssignment handles POST /assignments/:id/reject.
func (h *Handler) RejectAssignment(c *gin.Context) {
	orgID, ok := httpkit.OrgID(c)
	if !ok {
		httpkit.Error(c, http.StatusBadRequest, "missing organization scope", nil)
		return
	}
	assignmentID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, "invalid assignment id", nil)
		return
	}

	var req transport.RejectAssignmentRequest
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		httpkit.Error(c, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	decision, err := h.engine.RejectAssignment(c.Request.Context(), orgID, assignmentID, req.Reason)
	if err != nil {
		httpkit.FromError(c, err)
		return
	}
	if decision == nil {
		httpkit.OK(c, gin.H{"status": "rejected"})
		return
	}
	httpkit.OK(c, transport.ToDecisionResponse(*decision))
}

// GetLeadAssignments handles GET /leads/:id/assignments, returning the full
// lineage, newest first.
func (h *Handler) GetLeadAssignments(c *gin.Context) {
	orgID, ok := httpkit.OrgID(c)
	if !ok {
		httpkit.Error(c, http.StatusBadRequest, "missing organization scope", nil)
		return
	}
	leadID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, "invalid lead id", nil)
		return
	}

	assignments, err := h.store.ListAssignmentsForLead(c.Request.Context(), orgID, leadID)
	if err != nil {
		httpkit.FromError(c, err)
		return
	}

	out := make([]transport.AssignmentResponse, 0, len(assignments))
	for _, a := range assignments {
		out = append(out, transport.ToAssignmentResponse(a))
	}
	httpkit.OK(c, gin.H{"assignments": out})
}

// GetCurrentAssignment handles GET /leads/:id/assignment.
func (h *Handler) GetCurrentAssignment(c *gin.Context) {
	orgID, ok := httpkit.OrgID(c)
	if !ok {
		httpkit.Error(c, http.StatusBadRequest, "missing organization scope", nil)
		return
	}
	leadID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, "invalid lead id", nil)
		return
	}

	a, err := h.store.GetCurrentAssignment(c.Request.Context(), orgID, leadID)
	if err != nil {
		httpkit.FromError(c, err)
		return
	}
	httpkit.OK(c, transport.ToAssignmentResponse(a))
}

// ---------------------------------------------------------------------------
// configuration

// GetConfiguration handles GET /config.
func (h *Handler) GetConfiguration(c *gin.Context) {
	orgID, ok := httpkit.OrgID(c)
	if !ok {
		httpkit.Error(c, http.StatusBadRequest, "missing organization scope", nil)
		return
	}
	cfg, err := h.store.GetConfiguration(c.Request.Context(), orgID)
	if err != nil {
		httpkit.FromError(c, err)
		return
	}
	httpkit.OK(c, cfg)
}

// UpdateConfiguration handles PUT /config with a full configuration
// document. Unknown strategies and out-of-range values are sanitized, not
// rejected.
func (h *Handler) UpdateConfiguration(c *gin.Context) {
	orgID, ok := httpkit.OrgID(c)
	if !ok {
		httpkit.Error(c, http.StatusBadRequest, "missing organization scope", nil)
		return
	}

	var cfg domain.RoutingConfiguration
	if err := c.ShouldBindJSON(&cfg); err != nil {
		httpkit.Error(c, http.StatusBadRequest, "invalid configuration body", err.Error())
		return
	}
	cfg.OrganizationID = orgID

	stored, err := h.store.UpsertConfiguration(c.Request.Context(), cfg)
	if err != nil {
		httpkit.FromError(c, err)
		return
	}
	httpkit.OK(c, stored)
}

// ---------------------------------------------------------------------------
// rules

// ListRules handles GET /rules.
func (h *Handler) ListRules(c *gin.Context) {
	orgID, ok := httpkit.OrgID(c)
	if !ok {
		httpkit.Error(c, http.StatusBadRequest, "missing organization scope", nil)
		return
	}
	rules, err := h.store.ListRules(c.Request.Context(), orgID)
	if err != nil {
		httpkit.FromError(c, err)
		return
	}
	out := make([]transport.RuleResponse, 0, len(rules))
	for _, r := range rules {
		out = append(out, transport.ToRuleResponse(r))
	}
	httpkit.OK(c, gin.H{"rules": out})
}

// GetRule handles GET /rules/:id.
func (h *Handler) GetRule(c *gin.Context) {
	orgID, ok := httpkit.OrgID(c)
	if !ok {
		httpkit.Error(c, http.StatusBadRequest, "missing organization scope", nil)
		return
	}
	ruleID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, "invalid rule id", nil)
		return
	}
	rule, err := h.store.GetRule(c.Request.Context(), orgID, ruleID)
	if err != nil {
		httpkit.FromError(c, err)
		return
	}
	httpkit.OK(c, transport.ToRuleResponse(rule))
}

// CreateRule handles POST /rules.
func (h *Handler) CreateRule(c *gin.Context) {
	orgID, ok := httpkit.OrgID(c)
	if !ok {
		httpkit.Error(c, http.StatusBadRequest, "missing organization scope", nil)
		return
	}

	var req transport.UpsertRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, "invalid rule body", err.Error())
		return
	}

	rule, err := req.ToDomainRule(uuid.New(), orgID, time.Now())
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, "invalid rule body", err.Error())
		return
	}
	if err := validateRule(rule); err != nil {
		httpkit.FromError(c, err)
		return
	}
	if err := h.store.CreateRule(c.Request.Context(), rule); err != nil {
		httpkit.FromError(c, err)
		return
	}
	httpkit.JSON(c, http.StatusCreated, transport.ToRuleResponse(rule))
}

// UpdateRule handles PUT /rules/:id.
func (h *Handler) UpdateRule(c *gin.Context) {
	orgID, ok := httpkit.OrgID(c)
	if !ok {
		httpkit.Error(c, http.StatusBadRequest, "missing organization scope", nil)
		return
	}
	ruleID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, "invalid rule id", nil)
		return
	}

	var req transport.UpsertRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, "invalid rule body", err.Error())
		return
	}

	rule, err := req.ToDomainRule(ruleID, orgID, time.Now())
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, "invalid rule body", err.Error())
		return
	}
	if err := validateRule(rule); err != nil {
		httpkit.FromError(c, err)
		return
	}
	if err := h.store.UpdateRule(c.Request.Context(), rule); err != nil {
		httpkit.FromError(c, err)
		return
	}
	httpkit.OK(c, transport.ToRuleResponse(rule))
}

// DeleteRule handles DELETE /rules/:id.
func (h *Handler) DeleteRule(c *gin.Context) {
	orgID, ok := httpkit.OrgID(c)
	if !ok {
		httpkit.Error(c, http.StatusBadRequest, "missing organization scope", nil)
		return
	}
	ruleID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, "invalid rule id", nil)
		return
	}
	if err := h.store.DeleteRule(c.Request.Context(), orgID, ruleID); err != nil {
		httpkit.FromError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ---------------------------------------------------------------------------
// queue and analytics

// GetQueue handles GET /queue.
func (h *Handler) GetQueue(c *gin.Context) {
	orgID, ok := httpkit.OrgID(c)
	if !ok {
		httpkit.Error(c, http.StatusBadRequest, "missing organization scope", nil)
		return
	}

	limit := 100
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 1000 {
			httpkit.Error(c, http.StatusBadRequest, "limit must be between 1 and 1000", nil)
			return
		}
		limit = n
	}

	queued, err := h.store.ListQueue(c.Request.Context(), orgID, limit)
	if err != nil {
		httpkit.FromError(c, err)
		return
	}
	out := make([]transport.QueuedLeadResponse, 0, len(queued))
	for _, q := range queued {
		out = append(out, transport.ToQueuedLeadResponse(q))
	}
	httpkit.OK(c, gin.H{"queue": out})
}

// GetAnalytics handles GET /analytics. The optional `days` query bounds the
// window (default 30).
func (h *Handler) GetAnalytics(c *gin.Context) {
	orgID, ok := httpkit.OrgID(c)
	if !ok {
		httpkit.Error(c, http.StatusBadRequest, "missing organization scope", nil)
		return
	}

	days := 30
	if raw := c.Query("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 365 {
			httpkit.Error(c, http.StatusBadRequest, "days must be between 1 and 365", nil)
			return
		}
		days = n
	}

	since := time.Now().AddDate(0, 0, -days)
	analytics, err := h.store.GetAnalytics(c.Request.Context(), orgID, since)
	if err != nil {
		httpkit.FromError(c, err)
		return
	}
	httpkit.OK(c, analytics)
}

// validateRule enforces the semantic constraints binding tags cannot: known
// operators, and terminal actions carrying their target.
func validateRule(rule domain.RoutingRule) error {
	for _, cond := range rule.Conditions {
		switch cond.Operator {
		case domain.OpEquals, domain.OpNotEquals, domain.OpGreaterThan, domain.OpGreaterThanOrEqual,
			domain.OpLessThan, domain.OpLessThanOrEqual, domain.OpContains, domain.OpNotContains,
			domain.OpIn, domain.OpNotIn, domain.OpMatchesRegex:
		default:
			return apperr.Validation("unknown condition operator").WithDetails(string(cond.Operator))
		}
	}
	for _, action := range rule.Actions {
		switch action.Type {
		case domain.ActionAssignToRep:
			if action.RepID == nil {
				return apperr.Validation("assign_to_rep action requires repId")
			}
		case domain.ActionAssignToTeam:
			if action.TeamID == nil {
				return apperr.Validation("assign_to_team action requires teamId")
			}
		case domain.ActionAssignByStrategy:
			if action.Strategy == nil || !domain.ValidStrategy(*action.Strategy) {
				return apperr.Validation("assign_by_strategy action requires a valid strategy")
			}
		case domain.ActionRouteToQueue:
			if action.Queue == "" {
				return apperr.Validation("route_to_queue action requires a queue name")
			}
		case domain.ActionNotifyManager, domain.ActionReject:
		default:
			return apperr.Validation("unknown action type").WithDetails(string(action.Type))
		}
	}
	return nil
}
