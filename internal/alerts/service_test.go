package alerts

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/meridian-erp/meridian-erp/internal/docflow"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

type memoryRepo struct {
	levels      []StockLevel
	alerts      map[int64]*ReorderAlert
	openSubject map[string]int64
	overdue     []OverdueCoreReturn
	nextID      int64
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{alerts: make(map[int64]*ReorderAlert), openSubject: make(map[string]int64)}
}

func (r *memoryRepo) ListStockLevels(ctx context.Context, warehouseID int64) ([]StockLevel, error) {
	var out []StockLevel
	for _, l := range r.levels {
		if warehouseID != 0 && l.WarehouseID != warehouseID {
			continue
		}
		out = append(out, l)
	}
	return out, nil
}

func (r *memoryRepo) CreateOpenAlert(ctx context.Context, alert *ReorderAlert) (bool, error) {
	if _, exists := r.openSubject[alert.SubjectKey()]; exists {
		return false, nil
	}
	r.nextID++
	alert.ID = r.nextID
	alert.CreatedAt = time.Now()
	clone := *alert
	r.alerts[alert.ID] = &clone
	r.openSubject[alert.SubjectKey()] = alert.ID
	return true, nil
}

func (r *memoryRepo) GetAlert(ctx context.Context, id int64) (*ReorderAlert, error) {
	a, ok := r.alerts[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	clone := *a
	return &clone, nil
}

func (r *memoryRepo) ListAlerts(ctx context.Context, status docflow.State, limit int) ([]ReorderAlert, error) {
	var out []ReorderAlert
	for _, a := range r.alerts {
		if status != "" && a.Status != status {
			continue
		}
		out = append(out, *a)
	}
	return out, nil
}

func (r *memoryRepo) SaveStatus(ctx context.Context, id int64, status docflow.State, poID *int64) error {
	a, ok := r.alerts[id]
	if !ok {
		return shared.ErrNotFound
	}
	a.Status = status
	if poID != nil {
		a.POID = poID
	}
	if status != docflow.StatusPending && status != docflow.StatusAcknowledged {
		delete(r.openSubject, a.SubjectKey())
	}
	return nil
}

func (r *memoryRepo) ListOverdueCoreReturns(ctx context.Context, asOf time.Time) ([]OverdueCoreReturn, error) {
	var out []OverdueCoreReturn
	for _, o := range r.overdue {
		if o.DueDate.Before(asOf) {
			out = append(out, o)
		}
	}
	return out, nil
}

func newTestService(t *testing.T, repo *memoryRepo) *Service {
	t.Helper()
	svc, err := NewService(repo, nil, nil, nil)
	require.NoError(t, err)
	return svc
}

func TestCheckReorderPointsCreatesAlerts(t *testing.T) {
	repo := newMemoryRepo()
	repo.levels = []StockLevel{
		{ItemID: 1, WarehouseID: 1, OnHand: 2, ReorderLevel: 10, ReorderQty: 5},
		{ItemID: 2, WarehouseID: 1, OnHand: 50, ReorderLevel: 10, ReorderQty: 5},
	}
	svc := newTestService(t, repo)

	result, err := svc.CheckReorderPoints(context.Background(), 0)
	require.NoError(t, err)
	require.Equal(t, 2, result.Scanned)
	require.Equal(t, 1, result.Below)
	require.Len(t, result.Created, 1)

	alert := result.Created[0]
	require.Equal(t, docflow.StatusPending, alert.Status)
	require.Equal(t, int64(1), alert.ItemID)
	// Gap (10-2=8) beats the configured reorder qty of 5.
	require.Equal(t, int64(8), alert.SuggestedQty)
}

func TestCheckReorderPointsIdempotent(t *testing.T) {
	repo := newMemoryRepo()
	repo.levels = []StockLevel{
		{ItemID: 1, WarehouseID: 1, OnHand: 0, ReorderLevel: 10, ReorderQty: 20},
	}
	svc := newTestService(t, repo)
	ctx := context.Background()

	first, err := svc.CheckReorderPoints(ctx, 0)
	require.NoError(t, err)
	require.Len(t, first.Created, 1)

	second, err := svc.CheckReorderPoints(ctx, 0)
	require.NoError(t, err)
	require.Empty(t, second.Created)

	open, err := svc.ListAlerts(ctx, docflow.StatusPending, 0)
	require.NoError(t, err)
	require.Len(t, open, 1)
}

func TestReorderQtyUsedWhenLargerThanGap(t *testing.T) {
	repo := newMemoryRepo()
	repo.levels = []StockLevel{
		{ItemID: 1, WarehouseID: 1, OnHand: 9, ReorderLevel: 10, ReorderQty: 25},
	}
	svc := newTestService(t, repo)

	result, err := svc.CheckReorderPoints(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, result.Created, 1)
	require.Equal(t, int64(25), result.Created[0].SuggestedQty)
}

func TestAlertLifecycle(t *testing.T) {
	repo := newMemoryRepo()
	repo.levels = []StockLevel{{ItemID: 1, WarehouseID: 1, OnHand: 0, ReorderLevel: 5, ReorderQty: 5}}
	svc := newTestService(t, repo)
	ctx := context.Background()

	result, err := svc.CheckReorderPoints(ctx, 0)
	require.NoError(t, err)
	id := result.Created[0].ID

	alert, err := svc.Acknowledge(ctx, id, 1)
	require.NoError(t, err)
	require.Equal(t, docflow.StatusAcknowledged, alert.Status)

	alert, err = svc.Resolve(ctx, id, 1)
	require.NoError(t, err)
	require.Equal(t, docflow.StatusResolved, alert.Status)

	// Resolved is terminal.
	_, err = svc.Acknowledge(ctx, id, 1)
	var illegal *docflow.IllegalTransitionError
	require.ErrorAs(t, err, &illegal)
}

func TestResolvedSubjectCanAlertAgain(t *testing.T) {
	repo := newMemoryRepo()
	repo.levels = []StockLevel{{ItemID: 1, WarehouseID: 1, OnHand: 0, ReorderLevel: 5, ReorderQty: 5}}
	svc := newTestService(t, repo)
	ctx := context.Background()

	result, err := svc.CheckReorderPoints(ctx, 0)
	require.NoError(t, err)
	_, err = svc.Resolve(ctx, result.Created[0].ID, 1)
	require.NoError(t, err)

	again, err := svc.CheckReorderPoints(ctx, 0)
	require.NoError(t, err)
	require.Len(t, again.Created, 1)
	require.NotEqual(t, result.Created[0].ID, again.Created[0].ID)
}

func TestMarkPOCreatedLinksOrder(t *testing.T) {
	repo := newMemoryRepo()
	repo.levels = []StockLevel{{ItemID: 1, WarehouseID: 1, OnHand: 0, ReorderLevel: 5, ReorderQty: 5}}
	svc := newTestService(t, repo)
	ctx := context.Background()

	result, err := svc.CheckReorderPoints(ctx, 0)
	require.NoError(t, err)

	alert, err := svc.MarkPOCreated(ctx, result.Created[0].ID, 1, 99)
	require.NoError(t, err)
	require.Equal(t, docflow.StatusPOCreated, alert.Status)
	require.NotNil(t, alert.POID)
	require.Equal(t, int64(99), *alert.POID)
}

func TestOverdueCoreReturnsReadTime(t *testing.T) {
	repo := newMemoryRepo()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	repo.overdue = []OverdueCoreReturn{
		{DocumentID: 1, Number: "CRN-2602-0001", DueDate: now.Add(-24 * time.Hour)},
		{DocumentID: 2, Number: "CRN-2602-0002", DueDate: now.Add(24 * time.Hour)},
	}
	svc := newTestService(t, repo)
	svc.now = func() time.Time { return now }

	overdue, err := svc.OverdueCoreReturns(context.Background())
	require.NoError(t, err)
	require.Len(t, overdue, 1)
	require.Equal(t, int64(1), overdue[0].DocumentID)
}
