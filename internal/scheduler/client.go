package scheduler

import (
	"crypto/tls"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"leadrouter_backend/platform/config"
)

// RedisConnOpt builds the asynq connection options from the configured Redis
// URL.
func RedisConnOpt(cfg config.SchedulerConfig) (asynq.RedisConnOpt, error) {
	opt, err := redis.ParseURL(cfg.GetRedisURL())
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}

	connOpt := asynq.RedisClientOpt{
		Addr:     opt.Addr,
		Username: opt.Username,
		Password: opt.Password,
		DB:       opt.DB,
	}
	if opt.TLSConfig != nil {
		connOpt.TLSConfig = opt.TLSConfig
		if cfg.GetRedisTLSInsecure() {
			connOpt.TLSConfig = &tls.Config{InsecureSkipVerify: true}
		}
	}
	return connOpt, nil
}

// Client enqueues routing maintenance tasks.
type Client struct {
	client *asynq.Client
	queue  string
}

func NewClient(cfg config.SchedulerConfig) (*Client, error) {
	connOpt, err := RedisConnOpt(cfg)
	if err != nil {
		return nil, err
	}
	return &Client{
		client: asynq.NewClient(connOpt),
		queue:  cfg.GetAsynqQueueName(),
	}, nil
}

// EnqueueExpireSweep schedules one expire sweep run.
func (c *Client) EnqueueExpireSweep(limit int) error {
	task, err := NewExpireSweepTask(limit)
	if err != nil {
		return err
	}
	_, err = c.client.Enqueue(task, asynq.Queue(c.queue))
	return err
}

// EnqueueReassignmentSweep schedules one reassignment sweep run.
func (c *Client) EnqueueReassignmentSweep(limit int) error {
	task, err := NewReassignmentSweepTask(limit)
	if err != nil {
		return err
	}
	_, err = c.client.Enqueue(task, asynq.Queue(c.queue))
	return err
}

// EnqueueQueueEscalation schedules one queue escalation run.
func (c *Client) EnqueueQueueEscalation(limit int) error {
	task, err := NewQueueEscalationTask(limit)
	if err != nil {
		return err
	}
	_, err = c.client.Enqueue(task, asynq.Queue(c.queue))
	return err
}

// Close releases the underlying Redis connections.
func (c *Client) Close() error {
	return c.client.Close()
}
