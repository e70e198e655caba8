package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskReorderScan sweeps stock levels and raises reorder alerts.
	TaskReorderScan = "alerts:reorder_scan"
	// TaskCoreReturnSweep reports core returns past their due date.
	TaskCoreReturnSweep = "alerts:core_return_sweep"
)

// ReorderScanPayload scopes a reorder scan. WarehouseID zero scans all
// warehouses.
type ReorderScanPayload struct {
	WarehouseID int64 `json:"warehouse_id"`
}

// NewReorderScanTask constructs an Asynq task for a reorder point sweep.
func NewReorderScanTask(warehouseID int64) (*asynq.Task, error) {
	data, err := json.Marshal(ReorderScanPayload{WarehouseID: warehouseID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskReorderScan, data), nil
}

// NewCoreReturnSweepTask constructs an Asynq task for the overdue core
// return sweep. The task carries no payload.
func NewCoreReturnSweepTask() *asynq.Task {
	return asynq.NewTask(TaskCoreReturnSweep, nil)
}
