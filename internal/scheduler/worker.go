package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	domevents "leadrouter_backend/internal/events"
	"leadrouter_backend/internal/routing/engine"
	"leadrouter_backend/internal/routing/repository"
	"leadrouter_backend/platform/config"
	"leadrouter_backend/platform/events"
	"leadrouter_backend/platform/logger"
)

// Sweep cadences. Sweeps are cheap and idempotent, so they run often; the
// payload limit bounds each run.
const (
	expireSweepSpec       = "@every 5m"
	reassignmentSweepSpec = "@every 30m"
	queueEscalationSpec   = "@every 15m"
)

// Worker processes routing maintenance tasks and schedules their periodic
// runs.
type Worker struct {
	server    *asynq.Server
	scheduler *asynq.Scheduler
	engine    *engine.Engine
	repo      *repository.Repository
	bus       events.Bus
	log       *logger.Logger
	queue     string
}

func NewWorker(cfg config.SchedulerConfig, eng *engine.Engine, repo *repository.Repository, bus events.Bus, log *logger.Logger) (*Worker, error) {
	connOpt, err := RedisConnOpt(cfg)
	if err != nil {
		return nil, err
	}

	queue := cfg.GetAsynqQueueName()
	server := asynq.NewServer(connOpt, asynq.Config{
		Concurrency: cfg.GetAsynqConcurrency(),
		Queues:      map[string]int{queue: 1},
	})
	scheduler := asynq.NewScheduler(connOpt, &asynq.SchedulerOpts{Location: time.UTC})

	return &Worker{
		server:    server,
		scheduler: scheduler,
		engine:    eng,
		repo:      repo,
		bus:       bus,
		log:       log,
		queue:     queue,
	}, nil
}

// Run starts the task server and the periodic scheduler, and stops both when
// the context is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeExpireSweep, w.handleExpireSweep)
	mux.HandleFunc(TypeReassignmentSweep, w.handleReassignmentSweep)
	mux.HandleFunc(TypeQueueEscalation, w.handleQueueEscalation)

	if err := w.registerPeriodic(); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return w.server.Run(mux)
	})
	g.Go(func() error {
		return w.scheduler.Run()
	})
	g.Go(func() error {
		<-gctx.Done()
		w.scheduler.Shutdown()
		w.server.Shutdown()
		return nil
	})
	return g.Wait()
}

func (w *Worker) registerPeriodic() error {
	specs := map[string]func(int) (*asynq.Task, error){
		expireSweepSpec:       NewExpireSweepTask,
		reassignmentSweepSpec: NewReassignmentSweepTask,
		queueEscalationSpec:   NewQueueEscalationTask,
	}
	for spec, build := range specs {
		task, err := build(0)
		if err != nil {
			return err
		}
		if _, err := w.scheduler.Register(spec, task, asynq.Queue(w.queue)); err != nil {
			return fmt.Errorf("registering %s: %w", task.Type(), err)
		}
	}
	return nil
}

func (w *Worker) handleExpireSweep(ctx context.Context, task *asynq.Task) error {
	p := parseSweepPayload(task.Payload())
	n, err := w.engine.SweepExpired(ctx, time.Now(), p.Limit)
	if err != nil {
		return err
	}
	if n > 0 {
		w.log.Info("expire sweep completed", "expired", n)
	}
	return nil
}

func (w *Worker) handleReassignmentSweep(ctx context.Context, task *asynq.Task) error {
	p := parseSweepPayload(task.Payload())
	n, err := w.engine.SweepUncontacted(ctx, time.Now(), p.Limit)
	if err != nil {
		return err
	}
	if n > 0 {
		w.log.Info("reassignment sweep completed", "reassigned", n)
	}
	return nil
}

// handleQueueEscalation walks aged queue entries and escalates the ones past
// their organization's window. Escalated entries leave the queue; ownership
// is with a human from there.
func (w *Worker) handleQueueEscalation(ctx context.Context, task *asynq.Task) error {
	p := parseSweepPayload(task.Payload())
	now := time.Now()

	// One hour is the floor of every escalation window, so older entries are
	// the only candidates worth loading.
	entries, err := w.repo.ListQueuedBefore(ctx, now.Add(-1*time.Hour), p.Limit)
	if err != nil {
		return err
	}

	escalated := 0
	for _, q := range entries {
		cfg, err := w.repo.GetConfiguration(ctx, q.OrganizationID)
		if err != nil {
			w.log.DatabaseError("scheduler.queue_escalation.config", err)
			continue
		}
		window := time.Duration(cfg.Queue.EscalateAfterHours) * time.Hour
		if window <= 0 || q.EnqueuedAt.After(now.Add(-window)) {
			continue
		}

		w.bus.Publish(ctx, domevents.EscalationRequired{
			BaseEvent:      events.NewBaseEvent(),
			OrganizationID: q.OrganizationID,
			LeadID:         q.LeadID,
			Reason:         fmt.Sprintf("queued for more than %dh without assignment", cfg.Queue.EscalateAfterHours),
		})
		if err := w.repo.Dequeue(ctx, q.OrganizationID, q.LeadID); err != nil {
			w.log.DatabaseError("scheduler.queue_escalation.dequeue", err)
			continue
		}
		escalated++
	}
	if escalated > 0 {
		w.log.Info("queue escalation completed", "escalated", escalated)
	}
	return nil
}
