// Package routing wires the lead routing bounded context: decision engine,
// rule evaluation, capacity tracking and the HTTP surface.
package routing

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	domevents "leadrouter_backend/internal/events"
	apphttp "leadrouter_backend/internal/http"
	"leadrouter_backend/internal/routing/capacity"
	"leadrouter_backend/internal/routing/engine"
	"leadrouter_backend/internal/routing/handler"
	"leadrouter_backend/internal/routing/repository"
	"leadrouter_backend/internal/routing/roundrobin"
	ruleeval "leadrouter_backend/internal/routing/rules"
	"leadrouter_backend/internal/routing/transport"
	"leadrouter_backend/platform/config"
	"leadrouter_backend/platform/events"
	"leadrouter_backend/platform/logger"
	"leadrouter_backend/platform/validator"
)

// Module is the routing feature module.
type Module struct {
	repo    *repository.Repository
	engine  *engine.Engine
	handler *handler.Handler
	log     *logger.Logger
}

// NewModule assembles the routing context and subscribes it to inbound
// domain events.
func NewModule(pool *pgxpool.Pool, bus events.Bus, cfg config.EngineConfig, log *logger.Logger) *Module {
	if err := transport.RegisterValidations(validator.New()); err != nil {
		log.Error("registering routing validations", "error", err.Error())
	}

	repo := repository.New(pool)
	tracker := capacity.NewTracker(repo, cfg.GetReservationTimeout())
	eng := engine.New(
		repo, repo, repo, repo, repo, repo,
		ruleeval.NewEvaluator(log),
		tracker,
		roundrobin.NewSequencer(),
		bus, log,
		cfg.GetReserveRetryLimit(),
	)

	m := &Module{
		repo:    repo,
		engine:  eng,
		handler: handler.New(eng, repo, log),
		log:     log,
	}

	// New leads route automatically; a failed attempt lands in the queue, so
	// the handler itself never errors the bus.
	bus.Subscribe(domevents.LeadCreatedEvent, events.HandlerFunc(m.onLeadCreated))
	return m
}

func (m *Module) Name() string { return "routing" }

// Engine exposes the decision engine to the scheduler worker.
func (m *Module) Engine() *engine.Engine { return m.engine }

// Repository exposes the store to the scheduler worker.
func (m *Module) Repository() *repository.Repository { return m.repo }

// RegisterRoutes mounts the routing API under /api/v1/routing.
func (m *Module) RegisterRoutes(rc apphttp.RouterContext) {
	g := rc.API.Group("/routing")

	g.POST("/route", rc.RouteLimiter, m.handler.RouteLead)

	g.GET("/leads/:id/assignment", m.handler.GetCurrentAssignment)
	g.GET("/leads/:id/assignments", m.handler.GetLeadAssignments)
	g.POST("/leads/:id/reassign", rc.RouteLimiter, m.handler.ReassignLead)

	g.POST("/assignments/:id/accept", m.handler.AcceptAssignment)
	g.POST("/assignments/:id/reject", m.handler.RejectAssignment)

	g.GET("/config", m.handler.GetConfiguration)
	g.PUT("/config", m.handler.UpdateConfiguration)

	g.GET("/rules", m.handler.ListRules)
	g.POST("/rules", m.handler.CreateRule)
	g.GET("/rules/:id", m.handler.GetRule)
	g.PUT("/rules/:id", m.handler.UpdateRule)
	g.DELETE("/rules/:id", m.handler.DeleteRule)

	g.GET("/queue", m.handler.GetQueue)
	g.GET("/analytics", m.handler.GetAnalytics)
}

func (m *Module) onLeadCreated(ctx context.Context, event events.Event) error {
	created, ok := event.(domevents.LeadCreated)
	if !ok {
		return nil
	}
	if _, err := m.engine.RouteLead(ctx, created.OrganizationID, created.LeadID, engine.RouteOptions{}); err != nil {
		m.log.Warn("auto-routing new lead failed",
			"lead_id", created.LeadID.String(), "error", err.Error())
	}
	return nil
}
