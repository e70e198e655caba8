package jobs

import (
	"context"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/meridian-erp/meridian-erp/internal/alerts"
	jobmetrics "github.com/meridian-erp/meridian-erp/internal/jobs"
)

// CoreReturnSweepJob surfaces core returns that are past their deadline.
// Overdue is a read-time condition, so the sweep only reports; it never
// rewrites document status.
type CoreReturnSweepJob struct {
	service *alerts.Service
	logger  *slog.Logger
	metrics *jobmetrics.Metrics
}

// NewCoreReturnSweepJob constructs the job. Metrics may be nil.
func NewCoreReturnSweepJob(service *alerts.Service, logger *slog.Logger, metrics *jobmetrics.Metrics) *CoreReturnSweepJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &CoreReturnSweepJob{service: service, logger: logger, metrics: metrics}
}

// Handle processes TaskCoreReturnSweep tasks.
func (j *CoreReturnSweepJob) Handle(ctx context.Context, _ *asynq.Task) error {
	tracker := j.metrics.Track("core_return_sweep")
	overdue, err := j.service.OverdueCoreReturns(ctx)
	if err != nil {
		j.logger.Error("core return sweep", slog.Any("error", err))
		return tracker.End(err)
	}

	j.metrics.SetOverdueCoreReturns(len(overdue))
	for _, item := range overdue {
		j.logger.Warn("core return overdue",
			slog.Int64("document_id", item.DocumentID),
			slog.String("number", item.Number),
			slog.Int64("party_id", item.PartyID),
			slog.Time("due_date", item.DueDate),
		)
	}
	j.logger.Info("core return sweep complete", slog.Int("overdue", len(overdue)))
	return tracker.End(nil)
}
