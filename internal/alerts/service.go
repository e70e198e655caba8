package alerts

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/meridian-erp/meridian-erp/internal/docflow"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// ScanObserver counts alerts opened by reorder scans.
type ScanObserver interface {
	ObserveAlertsCreated(n int)
}

// Service runs the reorder scan and drives the alert lifecycle.
type Service struct {
	repo    RepositoryPort
	audit   shared.AuditPort
	metrics ScanObserver
	machine *docflow.Machine
	logger  *slog.Logger
	now     func() time.Time
}

// NewService constructs the alerts service. Audit and metrics may be
// nil.
func NewService(repo RepositoryPort, audit shared.AuditPort, metrics ScanObserver, logger *slog.Logger) (*Service, error) {
	machine, err := docflow.NewMachine(docflow.ReorderAlertTable(), nil)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: audit, metrics: metrics, machine: machine, logger: logger, now: time.Now}, nil
}

// ScanResult reports one reorder scan.
type ScanResult struct {
	Scanned int
	Below   int
	Created []ReorderAlert
}

// CheckReorderPoints scans stock levels and opens a PENDING alert for
// every below-threshold (item, warehouse) pair that does not already
// have one. Rerunning with unchanged stock creates nothing, so the
// scan can run on a schedule without dedup bookkeeping.
func (s *Service) CheckReorderPoints(ctx context.Context, warehouseID int64) (*ScanResult, error) {
	levels, err := s.repo.ListStockLevels(ctx, warehouseID)
	if err != nil {
		return nil, err
	}
	result := &ScanResult{Scanned: len(levels)}
	for _, level := range levels {
		if !level.BelowThreshold() {
			continue
		}
		result.Below++
		alert := ReorderAlert{
			ItemID:       level.ItemID,
			WarehouseID:  level.WarehouseID,
			Status:       docflow.StatusPending,
			StockOnHand:  level.OnHand,
			ReorderLevel: level.ReorderLevel,
			SuggestedQty: level.SuggestedQty(),
		}
		created, err := s.repo.CreateOpenAlert(ctx, &alert)
		if err != nil {
			return nil, err
		}
		if created {
			result.Created = append(result.Created, alert)
		}
	}
	if s.metrics != nil {
		s.metrics.ObserveAlertsCreated(len(result.Created))
	}
	s.logger.Info("reorder scan",
		slog.Int("scanned", result.Scanned),
		slog.Int("below_threshold", result.Below),
		slog.Int("created", len(result.Created)))
	return result, nil
}

// Acknowledge marks the alert as seen.
func (s *Service) Acknowledge(ctx context.Context, id, actorID int64) (*ReorderAlert, error) {
	return s.transition(ctx, id, actorID, docflow.EventAcknowledge, nil)
}

// Resolve closes the alert without a purchase order, for stock
// replenished another way.
func (s *Service) Resolve(ctx context.Context, id, actorID int64) (*ReorderAlert, error) {
	return s.transition(ctx, id, actorID, docflow.EventResolve, nil)
}

// MarkPOCreated closes the alert against the purchase order the
// conversion pipeline created from it. Not exposed over HTTP; only
// the pipeline calls it.
func (s *Service) MarkPOCreated(ctx context.Context, id, actorID, poID int64) (*ReorderAlert, error) {
	return s.transition(ctx, id, actorID, docflow.EventCreatePO, &poID)
}

func (s *Service) transition(ctx context.Context, id, actorID int64, event docflow.Event, poID *int64) (*ReorderAlert, error) {
	alert, err := s.repo.GetAlert(ctx, id)
	if err != nil {
		return nil, err
	}
	next, err := s.machine.Transition(ctx, alert.View(), event)
	if err != nil {
		return nil, err
	}
	if err := s.repo.SaveStatus(ctx, id, next, poID); err != nil {
		return nil, err
	}
	from := alert.Status
	alert.Status = next
	if poID != nil {
		alert.POID = poID
	}
	s.recordAudit(ctx, actorID, alert, from, event)
	return alert, nil
}

// GetAlert loads one alert.
func (s *Service) GetAlert(ctx context.Context, id int64) (*ReorderAlert, error) {
	return s.repo.GetAlert(ctx, id)
}

// ListAlerts returns alerts, optionally filtered by status.
func (s *Service) ListAlerts(ctx context.Context, status docflow.State, limit int) ([]ReorderAlert, error) {
	return s.repo.ListAlerts(ctx, status, limit)
}

// OverdueCoreReturns lists open core returns past their due date as of
// now. The flag is computed here on every call, never stored.
func (s *Service) OverdueCoreReturns(ctx context.Context) ([]OverdueCoreReturn, error) {
	return s.repo.ListOverdueCoreReturns(ctx, s.now())
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, alert *ReorderAlert, from docflow.State, event docflow.Event) {
	if s.audit == nil {
		return
	}
	entry := shared.AuditLog{
		ActorID:  actorID,
		Action:   "ALERT_" + string(event),
		Entity:   "REORDER_ALERT",
		EntityID: fmt.Sprintf("%d", alert.ID),
		Meta: map[string]any{
			"from":    string(from),
			"to":      string(alert.Status),
			"subject": alert.SubjectKey(),
		},
		At: time.Now(),
	}
	if err := s.audit.Record(ctx, entry); err != nil {
		s.logger.Warn("audit record failed", slog.Any("error", err))
	}
}
