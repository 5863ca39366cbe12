package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
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
	"leadrouter_backend/platform/validator"
)

type fakeEngine struct {
	decision     engine.Decision
	rejectResult *engine.Decision
	err          error

	routedOrg  uuid.UUID
	routedLead uuid.UUID
	routedOpts engine.RouteOptions

	reassignReason string
	reassignForce  *uuid.UUID
}

func (f *fakeEngine) RouteLead(_ context.Context, orgID, leadID uuid.UUID, opts engine.RouteOptions) (engine.Decision, error) {
	f.routedOrg, f.routedLead, f.routedOpts = orgID, leadID, opts
	return f.decision, f.err
}

func (f *fakeEngine) Reassign(_ context.Context, orgID, leadID uuid.UUID, reason string, forceRepID *uuid.UUID) (engine.Decision, error) {
	f.routedOrg, f.routedLead = orgID, leadID
	f.reassignReason, f.reassignForce = reason, forceRepID
	return f.decision, f.err
}

func (f *fakeEngine) AcceptAssignment(context.Context, uuid.UUID, uuid.UUID) error {
	return f.err
}

func (f *fakeEngine) RejectAssignment(context.Context, uuid.UUID, uuid.UUID, string) (*engine.Decision, error) {
	return f.rejectResult, f.err
}

type fakeStore struct {
	rules       map[uuid.UUID]domain.RoutingRule
	assignments []domain.LeadAssignment
	queue       []domain.QueuedLead
	analytics   repository.Analytics
	config      domain.RoutingConfiguration
	err         error
}

func newFakeStore() *fakeStore {
	return &fakeStore{rules: map[uuid.UUID]domain.RoutingRule{}}
}

func (f *fakeStore) GetCurrentAssignment(_ context.Context, _, _ uuid.UUID) (domain.LeadAssignment, error) {
	if f.err != nil {
		return domain.LeadAssignment{}, f.err
	}
	if len(f.assignments) == 0 {
		return domain.LeadAssignment{}, apperr.NotFound("assignment not found")
	}
	return f.assignments[0], nil
}

func (f *fakeStore) ListAssignmentsForLead(_ context.Context, _, _ uuid.UUID) ([]domain.LeadAssignment, error) {
	return f.assignments, f.err
}

func (f *fakeStore) ListRules(_ context.Context, _ uuid.UUID) ([]domain.RoutingRule, error) {
	var out []domain.RoutingRule
	for _, r := range f.rules {
		out = append(out, r)
	}
	return out, f.err
}

func (f *fakeStore) GetRule(_ context.Context, _, ruleID uuid.UUID) (domain.RoutingRule, error) {
	rule, ok := f.rules[ruleID]
	if !ok {
		return domain.RoutingRule{}, apperr.NotFound("rule not found")
	}
	return rule, nil
}

func (f *fakeStore) CreateRule(_ context.Context, rule domain.RoutingRule) error {
	if f.err != nil {
		return f.err
	}
	f.rules[rule.ID] = rule
	return nil
}

func (f *fakeStore) UpdateRule(_ context.Context, rule domain.RoutingRule) error {
	if _, ok := f.rules[rule.ID]; !ok {
		return apperr.NotFound("rule not found")
	}
	f.rules[rule.ID] = rule
	return nil
}

func (f *fakeStore) DeleteRule(_ context.Context, _, ruleID uuid.UUID) error {
	if _, ok := f.rules[ruleID]; !ok {
		return apperr.NotFound("rule not found")
	}
	delete(f.rules, ruleID)
	return nil
}

func (f *fakeStore) GetConfiguration(_ context.Context, orgID uuid.UUID) (domain.RoutingConfiguration, error) {
	if f.config.OrganizationID == uuid.Nil {
		return domain.DefaultRoutingConfiguration(orgID), nil
	}
	return f.config, f.err
}

func (f *fakeStore) UpsertConfiguration(_ context.Context, cfg domain.RoutingConfiguration) (domain.RoutingConfiguration, error) {
	f.config = cfg.Sanitize()
	return f.config, f.err
}

func (f *fakeStore) ListQueue(_ context.Context, _ uuid.UUID, _ int) ([]domain.QueuedLead, error) {
	return f.queue, f.err
}

func (f *fakeStore) GetAnalytics(_ context.Context, _ uuid.UUID, _ time.Time) (repository.Analytics, error) {
	return f.analytics, f.err
}

func newTestRouter(t *testing.T, eng *fakeEngine, store *fakeStore) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	if err := transport.RegisterValidations(validator.New()); err != nil {
		t.Fatalf("registering validations: %v", err)
	}
	h := New(eng, store, logger.New("test"))

	r := gin.New()
	g := r.Group("/api/v1/routing")
	g.Use(httpkit.OrganizationScope())
	g.POST("/route", h.RouteLead)
	g.POST("/leads/:id/reassign", h.ReassignLead)
	g.POST("/assignments/:id/accept", h.AcceptAssignment)
	g.POST("/assignments/:id/reject", h.RejectAssignment)
	g.GET("/leads/:id/assignment", h.GetCurrentAssignment)
	g.GET("/rules", h.ListRules)
	g.POST("/rules", h.CreateRule)
	g.DELETE("/rules/:id", h.DeleteRule)
	g.GET("/queue", h.GetQueue)
	g.GET("/analytics", h.GetAnalytics)
	return r
}

func doRequest(t *testing.T, r *gin.Engine, method, path string, body any, orgID string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encoding body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if orgID != "" {
		req.Header.Set(httpkit.OrgIDHeader, orgID)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRouteLead(t *testing.T) {
	orgID := uuid.New()
	leadID := uuid.New()
	repID := uuid.New()

	eng := &fakeEngine{decision: engine.Decision{Outcome: engine.OutcomeAssigned}}
	r := newTestRouter(t, eng, newFakeStore())

	w := doRequest(t, r, http.MethodPost, "/api/v1/routing/route",
		map[string]any{"leadId": leadID.String(), "repId": repID.String()}, orgID.String())
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", w.Code, w.Body.String())
	}

	if eng.routedOrg != orgID || eng.routedLead != leadID {
		t.Errorf("engine called with org %s lead %s", eng.routedOrg, eng.routedLead)
	}
	if eng.routedOpts.ForceRepID == nil || *eng.routedOpts.ForceRepID != repID {
		t.Error("expected forced rep from repId")
	}
	if eng.routedOpts.Method != domain.MethodManual {
		t.Errorf("method = %q, want manual", eng.routedOpts.Method)
	}

	var resp struct {
		Outcome string `json:"outcome"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.Outcome != "assigned" {
		t.Errorf("outcome = %q, want assigned", resp.Outcome)
	}
}

func TestRouteLeadRequiresOrganization(t *testing.T) {
	r := newTestRouter(t, &fakeEngine{}, newFakeStore())

	w := doRequest(t, r, http.MethodPost, "/api/v1/routing/route",
		map[string]any{"leadId": uuid.NewString()}, "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}

	w = doRequest(t, r, http.MethodPost, "/api/v1/routing/route",
		map[string]any{"leadId": uuid.NewString()}, "not-a-uuid")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for invalid org header", w.Code)
	}
}

func TestRouteLeadRejectsBadBody(t *testing.T) {
	r := newTestRouter(t, &fakeEngine{}, newFakeStore())
	orgID := uuid.NewString()

	tests := []struct {
		name string
		body map[string]any
	}{
		{"missing lead id", map[string]any{}},
		{"malformed lead id", map[string]any{"leadId": "nope"}},
		{"unknown strategy", map[string]any{"leadId": uuid.NewString(), "strategy": "coin_flip"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(t, r, http.MethodPost, "/api/v1/routing/route", tt.body, orgID)
			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400: %s", w.Code, w.Body.String())
			}
		})
	}
}

func TestReassignLimitMapsToConflict(t *testing.T) {
	eng := &fakeEngine{err: engine.ErrReassignmentLimit}
	r := newTestRouter(t, eng, newFakeStore())

	w := doRequest(t, r, http.MethodPost, "/api/v1/routing/leads/"+uuid.NewString()+"/reassign",
		map[string]any{"reason": "no contact made"}, uuid.NewString())
	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409: %s", w.Code, w.Body.String())
	}
}

func TestReassignPassesReasonAndForcedRep(t *testing.T) {
	eng := &fakeEngine{decision: engine.Decision{Outcome: engine.OutcomeAssigned}}
	r := newTestRouter(t, eng, newFakeStore())
	repID := uuid.New()

	w := doRequest(t, r, http.MethodPost, "/api/v1/routing/leads/"+uuid.NewString()+"/reassign",
		map[string]any{"reason": "customer asked for senior rep", "repId": repID.String()}, uuid.NewString())
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", w.Code, w.Body.String())
	}
	if eng.reassignReason != "customer asked for senior rep" {
		t.Errorf("reason = %q", eng.reassignReason)
	}
	if eng.reassignForce == nil || *eng.reassignForce != repID {
		t.Error("expected forced rep to reach the engine")
	}
}

func TestRejectAssignmentWithoutBody(t *testing.T) {
	eng := &fakeEngine{}
	r := newTestRouter(t, eng, newFakeStore())

	w := doRequest(t, r, http.MethodPost, "/api/v1/routing/assignments/"+uuid.NewString()+"/reject",
		nil, uuid.NewString())
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}

	var resp map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp["status"] != "rejected" {
		t.Errorf("status = %q, want rejected", resp["status"])
	}
}

func TestCreateRuleValidation(t *testing.T) {
	r := newTestRouter(t, &fakeEngine{}, newFakeStore())
	orgID := uuid.NewString()

	valid := map[string]any{
		"name":     "enterprise to queue",
		"type":     "custom",
		"priority": 10,
		"conditions": []map[string]any{
			{"field": "company_size", "operator": "greater_than", "value": 1000},
		},
		"actions": []map[string]any{
			{"type": "route_to_queue", "queue": "enterprise"},
		},
	}

	tests := []struct {
		name       string
		mutate     func(m map[string]any)
		wantStatus int
	}{
		{"valid rule", func(m map[string]any) {}, http.StatusCreated},
		{"unknown operator", func(m map[string]any) {
			m["conditions"] = []map[string]any{{"field": "source", "operator": "sounds_like", "value": "x"}}
		}, http.StatusBadRequest},
		{"assign_to_rep without target", func(m map[string]any) {
			m["actions"] = []map[string]any{{"type": "assign_to_rep"}}
		}, http.StatusBadRequest},
		{"route_to_queue without queue", func(m map[string]any) {
			m["actions"] = []map[string]any{{"type": "route_to_queue"}}
		}, http.StatusBadRequest},
		{"unknown rule type", func(m map[string]any) { m["type"] = "astrology" }, http.StatusBadRequest},
		{"no conditions", func(m map[string]any) { m["conditions"] = []map[string]any{} }, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := map[string]any{}
			for k, v := range valid {
				body[k] = v
			}
			tt.mutate(body)

			w := doRequest(t, r, http.MethodPost, "/api/v1/routing/rules", body, orgID)
			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d: %s", w.Code, tt.wantStatus, w.Body.String())
			}
		})
	}
}

func TestDeleteRule(t *testing.T) {
	store := newFakeStore()
	ruleID := uuid.New()
	store.rules[ruleID] = domain.RoutingRule{ID: ruleID, Name: "r"}
	r := newTestRouter(t, &fakeEngine{}, store)
	orgID := uuid.NewString()

	w := doRequest(t, r, http.MethodDelete, "/api/v1/routing/rules/"+ruleID.String(), nil, orgID)
	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", w.Code)
	}

	w = doRequest(t, r, http.MethodDelete, "/api/v1/routing/rules/"+ruleID.String(), nil, orgID)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404 on second delete", w.Code)
	}
}

func TestGetQueueLimitBounds(t *testing.T) {
	r := newTestRouter(t, &fakeEngine{}, newFakeStore())
	orgID := uuid.NewString()

	for _, limit := range []string{"0", "1001", "abc"} {
		w := doRequest(t, r, http.MethodGet, "/api/v1/routing/queue?limit="+limit, nil, orgID)
		if w.Code != http.StatusBadRequest {
			t.Errorf("limit %s: status = %d, want 400", limit, w.Code)
		}
	}

	w := doRequest(t, r, http.MethodGet, "/api/v1/routing/queue?limit=50", nil, orgID)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
}

func TestGetAnalytics(t *testing.T) {
	store := newFakeStore()
	store.analytics = repository.Analytics{
		TotalAssignments: 12,
		QueuedLeads:      3,
		ByStrategy:       map[string]int{"hybrid": 12},
		ByMethod:         map[string]int{"automatic": 12},
	}
	r := newTestRouter(t, &fakeEngine{}, store)

	w := doRequest(t, r, http.MethodGet, "/api/v1/routing/analytics", nil, uuid.NewString())
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	var resp repository.Analytics
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.TotalAssignments != 12 || resp.QueuedLeads != 3 {
		t.Errorf("analytics = %+v", resp)
	}

	w = doRequest(t, r, http.MethodGet, "/api/v1/routing/analytics?days=999", nil, uuid.NewString())
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for out-of-range days", w.Code)
	}
}

func TestGetCurrentAssignmentNotFound(t *testing.T) {
	r := newTestRouter(t, &fakeEngine{}, newFakeStore())

	w := doRequest(t, r, http.MethodGet, "/api/v1/routing/leads/"+uuid.NewString()+"/assignment",
		nil, uuid.NewString())
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}
