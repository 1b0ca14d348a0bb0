package jobs

import (
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskRBACIntegrityScan scans the RBAC store for orphaned or unused data.
	TaskRBACIntegrityScan = "rbac:integrity_scan"
)

// IntegrityScanPayload parameterises an integrity scan run.
type IntegrityScanPayload struct {
	// Trigger names who asked for the run, e.g. "cron" or "cli".
	Trigger string `json:"trigger"`
}

// NewIntegrityScanTask constructs an Asynq task for the integrity scan.
func NewIntegrityScanTask(trigger string) (*asynq.Task, error) {
	if trigger == "" {
		trigger = "manual"
	}
	data, err := json.Marshal(IntegrityScanPayload{Trigger: trigger})
	if err != nil {
		return nil, fmt.Errorf("jobs: encode integrity payload: %w", err)
	}
	return asynq.NewTask(TaskRBACIntegrityScan, data, asynq.Queue(QueueDefault)), nil
}
