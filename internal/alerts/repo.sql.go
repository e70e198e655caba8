package alerts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-erp/meridian-erp/internal/docflow"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// OverdueCoreReturn is a core return past its due date, derived at
// read time from the documents table.
type OverdueCoreReturn struct {
	DocumentID int64
	Number     string
	PartyID    int64
	DueDate    time.Time
}

// RepositoryPort defines data access for the alert engine.
type RepositoryPort interface {
	ListStockLevels(ctx context.Context, warehouseID int64) ([]StockLevel, error)
	// CreateOpenAlert inserts a PENDING alert unless an open one already
	// exists for the subject. Returns created=false on the duplicate.
	CreateOpenAlert(ctx context.Context, alert *ReorderAlert) (created bool, err error)
	GetAlert(ctx context.Context, id int64) (*ReorderAlert, error)
	ListAlerts(ctx context.Context, status docflow.State, limit int) ([]ReorderAlert, error)
	// SaveStatus writes the alert's status and optional purchase order
	// link.
	SaveStatus(ctx context.Context, id int64, status docflow.State, poID *int64) error
	ListOverdueCoreReturns(ctx context.Context, asOf time.Time) ([]OverdueCoreReturn, error)
}

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const alertColumns = `id, item_id, warehouse_id, status, stock_on_hand, reorder_level, suggested_qty, po_id, created_at, updated_at`

func scanAlert(row pgx.Row) (*ReorderAlert, error) {
	var a ReorderAlert
	err := row.Scan(&a.ID, &a.ItemID, &a.WarehouseID, &a.Status, &a.StockOnHand, &a.ReorderLevel, &a.SuggestedQty, &a.POID, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return &a, nil
}

// ListStockLevels returns current levels, optionally for one warehouse.
func (r *Repository) ListStockLevels(ctx context.Context, warehouseID int64) ([]StockLevel, error) {
	rows, err := r.pool.Query(ctx, `SELECT item_id, warehouse_id, on_hand, reorder_level, reorder_qty
FROM stock_levels WHERE ($1 = 0 OR warehouse_id = $1) ORDER BY warehouse_id, item_id`, warehouseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var levels []StockLevel
	for rows.Next() {
		var l StockLevel
		if err := rows.Scan(&l.ItemID, &l.WarehouseID, &l.OnHand, &l.ReorderLevel, &l.ReorderQty); err != nil {
			return nil, err
		}
		levels = append(levels, l)
	}
	return levels, rows.Err()
}

// CreateOpenAlert inserts the alert. A partial unique index on
// subject_key over open statuses makes the second insert for the same
// subject fail with 23505, which reads as "already open", not an error.
func (r *Repository) CreateOpenAlert(ctx context.Context, alert *ReorderAlert) (bool, error) {
	err := r.pool.QueryRow(ctx, `INSERT INTO reorder_alerts (item_id, warehouse_id, subject_key, status, stock_on_hand, reorder_level, suggested_qty, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,NOW(),NOW()) RETURNING id, created_at, updated_at`,
		alert.ItemID, alert.WarehouseID, alert.SubjectKey(), alert.Status, alert.StockOnHand, alert.ReorderLevel, alert.SuggestedQty).
		Scan(&alert.ID, &alert.CreatedAt, &alert.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return false, nil
		}
		return false, fmt.Errorf("alerts: create alert: %w", err)
	}
	return true, nil
}

// GetAlert loads one alert.
func (r *Repository) GetAlert(ctx context.Context, id int64) (*ReorderAlert, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+alertColumns+` FROM reorder_alerts WHERE id = $1`, id)
	return scanAlert(row)
}

// ListAlerts returns alerts, optionally filtered by status.
func (r *Repository) ListAlerts(ctx context.Context, status docflow.State, limit int) ([]ReorderAlert, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `SELECT `+alertColumns+` FROM reorder_alerts
WHERE ($1 = '' OR status = $1) ORDER BY id DESC LIMIT $2`, string(status), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var alerts []ReorderAlert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, *a)
	}
	return alerts, rows.Err()
}

// SaveStatus writes the new status. Closing an alert clears its
// subject_key so a later scan may open a fresh one for the subject.
func (r *Repository) SaveStatus(ctx context.Context, id int64, status docflow.State, poID *int64) error {
	open := status == docflow.StatusPending || status == docflow.StatusAcknowledged
	var tag pgconn.CommandTag
	var err error
	if open {
		tag, err = r.pool.Exec(ctx, `UPDATE reorder_alerts SET status=$1, po_id=COALESCE($2, po_id), updated_at=NOW() WHERE id=$3`, status, poID, id)
	} else {
		tag, err = r.pool.Exec(ctx, `UPDATE reorder_alerts SET status=$1, po_id=COALESCE($2, po_id), subject_key=NULL, updated_at=NOW() WHERE id=$3`, status, poID, id)
	}
	if err != nil {
		return fmt.Errorf("alerts: save status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// ListOverdueCoreReturns reads open core returns past their due date.
// Overdue is never stored; this is the only place it is evaluated.
func (r *Repository) ListOverdueCoreReturns(ctx context.Context, asOf time.Time) ([]OverdueCoreReturn, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, number, party_id, due_date FROM documents
WHERE kind = $1 AND status = $2 AND due_date IS NOT NULL AND due_date < $3 ORDER BY due_date`,
		docflow.KindCoreReturn, docflow.StatusPending, asOf)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []OverdueCoreReturn
	for rows.Next() {
		var o OverdueCoreReturn
		if err := rows.Scan(&o.DocumentID, &o.Number, &o.PartyID, &o.DueDate); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}
