package scheduler

import (
	"encoding/json"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
)

type stubConfig struct {
	redisURL    string
	tlsInsecure bool
	queue       string
	concurrency int
}

func (c stubConfig) GetRedisURL() string       { return c.redisURL }
func (c stubConfig) GetRedisTLSInsecure() bool { return c.tlsInsecure }
func (c stubConfig) GetAsynqQueueName() string { return c.queue }
func (c stubConfig) GetAsynqConcurrency() int  { return c.concurrency }

func TestRedisConnOpt(t *testing.T) {
	opt, err := RedisConnOpt(stubConfig{redisURL: "redis://:secret@localhost:6379/2"})
	if err != nil {
		t.Fatalf("RedisConnOpt: %v", err)
	}
	client, ok := opt.(asynq.RedisClientOpt)
	if !ok {
		t.Fatalf("expected RedisClientOpt, got %T", opt)
	}
	if client.Addr != "localhost:6379" {
		t.Errorf("addr = %q, want localhost:6379", client.Addr)
	}
	if client.Password != "secret" {
		t.Errorf("password = %q, want secret", client.Password)
	}
	if client.DB != 2 {
		t.Errorf("db = %d, want 2", client.DB)
	}

	if _, err := RedisConnOpt(stubConfig{redisURL: "not-a-url"}); err == nil {
		t.Error("expected error for malformed redis url")
	}
}

func TestParseSweepPayload(t *testing.T) {
	tests := []struct {
		name string
		raw  []byte
		want int
	}{
		{"valid limit", []byte(`{"limit":50}`), 50},
		{"zero limit falls back", []byte(`{"limit":0}`), defaultSweepLimit},
		{"negative limit falls back", []byte(`{"limit":-1}`), defaultSweepLimit},
		{"malformed json falls back", []byte(`{{`), defaultSweepLimit},
		{"empty payload falls back", nil, defaultSweepLimit},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := parseSweepPayload(tt.raw).Limit; got != tt.want {
				t.Errorf("limit = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestNewSweepTaskDefaultsLimit(t *testing.T) {
	task, err := NewExpireSweepTask(0)
	if err != nil {
		t.Fatalf("NewExpireSweepTask: %v", err)
	}
	if task.Type() != TypeExpireSweep {
		t.Errorf("type = %q, want %q", task.Type(), TypeExpireSweep)
	}
	var p SweepPayload
	if err := json.Unmarshal(task.Payload(), &p); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if p.Limit != defaultSweepLimit {
		t.Errorf("limit = %d, want %d", p.Limit, defaultSweepLimit)
	}
}

func TestClientEnqueuesSweeps(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("starting miniredis: %v", err)
	}
	defer mr.Close()

	cfg := stubConfig{redisURL: "redis://" + mr.Addr(), queue: "routing"}
	client, err := NewClient(cfg)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	defer client.Close()

	if err := client.EnqueueExpireSweep(25); err != nil {
		t.Fatalf("EnqueueExpireSweep: %v", err)
	}
	if err := client.EnqueueQueueEscalation(0); err != nil {
		t.Fatalf("EnqueueQueueEscalation: %v", err)
	}

	connOpt, err := RedisConnOpt(cfg)
	if err != nil {
		t.Fatalf("RedisConnOpt: %v", err)
	}
	inspector := asynq.NewInspector(connOpt)
	defer inspector.Close()

	pending, err := inspector.ListPendingTasks("routing")
	if err != nil {
		t.Fatalf("ListPendingTasks: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("pending tasks = %d, want 2", len(pending))
	}

	byType := map[string]SweepPayload{}
	for _, task := range pending {
		var p SweepPayload
		if err := json.Unmarshal(task.Payload, &p); err != nil {
			t.Fatalf("unmarshal %s payload: %v", task.Type, err)
		}
		byType[task.Type] = p
	}
	if p, ok := byType[TypeExpireSweep]; !ok || p.Limit != 25 {
		t.Errorf("expire sweep payload = %+v, want limit 25", p)
	}
	if p, ok := byType[TypeQueueEscalation]; !ok || p.Limit != defaultSweepLimit {
		t.Errorf("queue escalation payload = %+v, want default limit", p)
	}
}
