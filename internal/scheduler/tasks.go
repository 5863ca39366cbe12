// Package scheduler runs the periodic routing maintenance work over asynq:
// expiring unacknowledged assignments, sweeping uncontacted leads back into
// routing, and escalating queue entries that aged out.
package scheduler

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

// Task type names. The queue they run on comes from configuration.
const (
	TypeExpireSweep       = "routing:expire_sweep"
	TypeReassignmentSweep = "routing:reassignment_sweep"
	TypeQueueEscalation   = "routing:queue_escalation"
)

// SweepPayload bounds how much one sweep run processes.
type SweepPayload struct {
	Limit int `json:"limit"`
}

const defaultSweepLimit = 200

// NewExpireSweepTask expires pending assignments past their acknowledgement
// deadline.
func NewExpireSweepTask(limit int) (*asynq.Task, error) {
	return newSweepTask(TypeExpireSweep, limit)
}

// NewReassignmentSweepTask reroutes active assignments with no first contact
// inside the configured window.
func NewReassignmentSweepTask(limit int) (*asynq.Task, error) {
	return newSweepTask(TypeReassignmentSweep, limit)
}

// NewQueueEscalationTask escalates queued leads that nobody picked up.
func NewQueueEscalationTask(limit int) (*asynq.Task, error) {
	return newSweepTask(TypeQueueEscalation, limit)
}

func newSweepTask(taskType string, limit int) (*asynq.Task, error) {
	if limit <= 0 {
		limit = defaultSweepLimit
	}
	payload, err := json.Marshal(SweepPayload{Limit: limit})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(taskType, payload), nil
}

func parseSweepPayload(raw []byte) SweepPayload {
	p := SweepPayload{Limit: defaultSweepLimit}
	if len(raw) > 0 {
		// A malformed payload falls back to the default limit rather than
		// failing the sweep.
		if err := json.Unmarshal(raw, &p); err != nil || p.Limit <= 0 {
			p.Limit = defaultSweepLimit
		}
	}
	return p
}
