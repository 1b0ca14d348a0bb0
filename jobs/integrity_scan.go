package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/odyssey-rbac/internal/jobs"
	"github.com/odyssey-erp/odyssey-rbac/internal/rbac"
)

// IntegritySource produces an integrity report. *rbac.Service satisfies it.
type IntegritySource interface {
	Integrity(ctx context.Context) (rbac.IntegrityReport, error)
}

// IntegrityScanJob reports active users without roles, roles without
// permissions and dangling association rows.
type IntegrityScanJob struct {
	Source  IntegritySource
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewIntegrityScanJob initialises the integrity scan handler.
func NewIntegrityScanJob(source IntegritySource, logger *slog.Logger, metrics *jobmetrics.Metrics) *IntegrityScanJob {
	return &IntegrityScanJob{Source: source, Logger: logger, Metrics: metrics}
}

// Handle executes the scan. Findings are reported, not repaired.
func (j *IntegrityScanJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Source == nil {
		return errors.New("integrity scan: handler not configured")
	}
	var payload IntegrityScanPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	_, err := j.Run(ctx, payload.Trigger)
	return err
}

// Run performs one scan outside the queue, for example from the CLI.
func (j *IntegrityScanJob) Run(ctx context.Context, trigger string) (rbac.IntegrityReport, error) {
	start := time.Now()
	tracker := j.Metrics.Track(TaskRBACIntegrityScan)
	logger := j.logger().With(slog.String("trigger", trigger))

	report, err := j.Source.Integrity(ctx)
	if err != nil {
		logger.Error("integrity scan failed", slog.Any("error", err))
		return rbac.IntegrityReport{}, tracker.End(err)
	}
	for kind, count := range report.Findings() {
		j.Metrics.SetFindings(kind, count)
		if count > 0 {
			logger.Warn("rbac integrity finding", slog.String("kind", kind), slog.Int("count", count))
		}
	}
	if len(report.ActiveUsersWithoutRoles) > 0 {
		logger.Info("active users without roles", slog.Any("user_ids", report.ActiveUsersWithoutRoles))
	}
	if len(report.RolesWithoutPermissions) > 0 {
		logger.Info("roles without permissions", slog.Any("role_ids", report.RolesWithoutPermissions))
	}
	logger.Info("completed integrity scan",
		slog.Int("findings", report.Total()),
		slog.Duration("duration", time.Since(start)),
	)
	return report, tracker.End(nil)
}

func (j *IntegrityScanJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
