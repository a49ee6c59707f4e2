// Package jobs runs background work over Asynq: today the clearing
// integrity scan, scheduled nightly and available on demand.
package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskClearingIntegrity verifies committed clearing results.
	TaskClearingIntegrity = "clearing:integrity"
)

// ClearingIntegrityPayload bounds one integrity scan.
type ClearingIntegrityPayload struct {
	AsOf time.Time `json:"as_of"`
}

// NewClearingIntegrityTask constructs an Asynq task.
func NewClearingIntegrityTask(payload ClearingIntegrityPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskClearingIntegrity, data), nil
}
