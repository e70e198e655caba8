package payments

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-erp/meridian-erp/internal/docflow"
	"github.com/meridian-erp/meridian-erp/internal/money"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// RepositoryPort defines data access for the allocation engine.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetPayment(ctx context.Context, id int64) (*Payment, []AllocationRow, error)
	ListPayments(ctx context.Context, partyID int64, limit int) ([]Payment, error)
}

// TxRepository exposes the writes that must commit together: the
// payment, its allocation rows and every target balance update.
type TxRepository interface {
	CreatePayment(ctx context.Context, p *Payment) (int64, error)
	InsertAllocation(ctx context.Context, row AllocationRow) error
	// LockTarget reads the target document under FOR UPDATE.
	LockTarget(ctx context.Context, documentID int64) (TargetDoc, error)
	// ApplyToTarget advances amount_paid and status, guarded by the
	// version read in LockTarget.
	ApplyToTarget(ctx context.Context, documentID int64, amountPaid money.Amount, status docflow.State, expectedVersion int64) error
}

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithTx wraps callback in a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return err
	}
	wrapper := &txRepo{tx: tx}
	if err := fn(ctx, wrapper); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

// GetPayment loads a payment with its allocation rows.
func (r *Repository) GetPayment(ctx context.Context, id int64) (*Payment, []AllocationRow, error) {
	var p Payment
	err := r.pool.QueryRow(ctx, `SELECT id, reference, party_id, currency, amount, unallocated, paid_at, method, note, created_at
FROM payments WHERE id = $1`, id).Scan(&p.ID, &p.Reference, &p.PartyID, &p.Currency, &p.Amount, &p.Unallocated, &p.PaidAt, &p.Method, &p.Note, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, shared.ErrNotFound
		}
		return nil, nil, err
	}
	rows, err := r.pool.Query(ctx, `SELECT id, payment_id, document_id, amount, position, created_at
FROM payment_allocations WHERE payment_id = $1 ORDER BY position`, id)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()
	var allocs []AllocationRow
	for rows.Next() {
		var a AllocationRow
		if err := rows.Scan(&a.ID, &a.PaymentID, &a.DocumentID, &a.Amount, &a.Position, &a.CreatedAt); err != nil {
			return nil, nil, err
		}
		allocs = append(allocs, a)
	}
	return &p, allocs, rows.Err()
}

// ListPayments returns recent payments, optionally for one party.
func (r *Repository) ListPayments(ctx context.Context, partyID int64, limit int) ([]Payment, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `SELECT id, reference, party_id, currency, amount, unallocated, paid_at, method, note, created_at
FROM payments WHERE ($1 = 0 OR party_id = $1) ORDER BY id DESC LIMIT $2`, partyID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var payments []Payment
	for rows.Next() {
		var p Payment
		if err := rows.Scan(&p.ID, &p.Reference, &p.PartyID, &p.Currency, &p.Amount, &p.Unallocated, &p.PaidAt, &p.Method, &p.Note, &p.CreatedAt); err != nil {
			return nil, err
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

type txRepo struct {
	tx pgx.Tx
}

func (r *txRepo) CreatePayment(ctx context.Context, p *Payment) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO payments (reference, party_id, currency, amount, unallocated, paid_at, method, note, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,NOW()) RETURNING id`,
		p.Reference, p.PartyID, p.Currency, p.Amount, p.Unallocated, p.PaidAt, p.Method, p.Note).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("payments: create payment: %w", err)
	}
	p.ID = id
	return id, nil
}

func (r *txRepo) InsertAllocation(ctx context.Context, row AllocationRow) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO payment_allocations (payment_id, document_id, amount, position, created_at)
VALUES ($1,$2,$3,$4,NOW())`, row.PaymentID, row.DocumentID, row.Amount, row.Position)
	if err != nil {
		return fmt.Errorf("payments: insert allocation: %w", err)
	}
	return nil
}

func (r *txRepo) LockTarget(ctx context.Context, documentID int64) (TargetDoc, error) {
	var t TargetDoc
	err := r.tx.QueryRow(ctx, `SELECT id, kind, status, grand_total, amount_paid, version
FROM documents WHERE id = $1 FOR UPDATE`, documentID).Scan(&t.ID, &t.Kind, &t.Status, &t.GrandTotal, &t.AmountPaid, &t.Version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return TargetDoc{}, fmt.Errorf("payments: target %d: %w", documentID, shared.ErrNotFound)
		}
		return TargetDoc{}, err
	}
	return t, nil
}

func (r *txRepo) ApplyToTarget(ctx context.Context, documentID int64, amountPaid money.Amount, status docflow.State, expectedVersion int64) error {
	tag, err := r.tx.Exec(ctx, `UPDATE documents SET amount_paid=$1, status=$2, version=version+1, updated_at=NOW()
WHERE id=$3 AND version=$4`, amountPaid, status, documentID, expectedVersion)
	if err != nil {
		return fmt.Errorf("payments: apply to target: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("payments: target %d: %w", documentID, shared.ErrConcurrentModification)
	}
	return nil
}
