package jobs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/meridian-erp/meridian-erp/internal/alerts"
	jobmetrics "github.com/meridian-erp/meridian-erp/internal/jobs"
)

// ReorderScanJob runs the reorder point sweep against current stock levels.
type ReorderScanJob struct {
	service *alerts.Service
	logger  *slog.Logger
	metrics *jobmetrics.Metrics
}

// NewReorderScanJob constructs the job. Metrics may be nil.
func NewReorderScanJob(service *alerts.Service, logger *slog.Logger, metrics *jobmetrics.Metrics) *ReorderScanJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReorderScanJob{service: service, logger: logger, metrics: metrics}
}

// Handle processes TaskReorderScan tasks.
func (j *ReorderScanJob) Handle(ctx context.Context, t *asynq.Task) error {
	var payload ReorderScanPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			j.logger.Error("reorder scan payload", slog.Any("error", err))
			return asynq.SkipRetry
		}
	}

	tracker := j.metrics.Track("reorder_scan")
	result, err := j.service.CheckReorderPoints(ctx, payload.WarehouseID)
	if err != nil {
		j.logger.Error("reorder scan", slog.Any("error", err))
		return tracker.End(err)
	}

	j.logger.Info("reorder scan complete",
		slog.Int64("warehouse_id", payload.WarehouseID),
		slog.Int("scanned", result.Scanned),
		slog.Int("below", result.Below),
		slog.Int("created", len(result.Created)),
	)
	return tracker.End(nil)
}
