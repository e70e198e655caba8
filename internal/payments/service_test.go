package payments

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/meridian-erp/meridian-erp/internal/docflow"
	"github.com/meridian-erp/meridian-erp/internal/money"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

type memoryRepo struct {
	targets     map[int64]*TargetDoc
	payments    map[int64]*Payment
	allocations []AllocationRow
	nextID      int64
	// failApply simulates a lost version race on the given document.
	failApply map[int64]bool
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		targets:   make(map[int64]*TargetDoc),
		payments:  make(map[int64]*Payment),
		failApply: make(map[int64]bool),
	}
}

type memoryTx struct {
	repo *memoryRepo
	// staged writes commit only when the callback returns nil.
	payments    []*Payment
	allocations []AllocationRow
	applied     map[int64]struct {
		paid    money.Amount
		status  docflow.State
		version int64
	}
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	tx := &memoryTx{repo: r, applied: make(map[int64]struct {
		paid    money.Amount
		status  docflow.State
		version int64
	})}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	for _, p := range tx.payments {
		r.payments[p.ID] = p
	}
	r.allocations = append(r.allocations, tx.allocations...)
	for id, w := range tx.applied {
		t := r.targets[id]
		t.AmountPaid = w.paid
		t.Status = w.status
		t.Version = w.version
	}
	return nil
}

func (r *memoryRepo) GetPayment(ctx context.Context, id int64) (*Payment, []AllocationRow, error) {
	p, ok := r.payments[id]
	if !ok {
		return nil, nil, shared.ErrNotFound
	}
	var allocs []AllocationRow
	for _, a := range r.allocations {
		if a.PaymentID == id {
			allocs = append(allocs, a)
		}
	}
	return p, allocs, nil
}

func (r *memoryRepo) ListPayments(ctx context.Context, partyID int64, limit int) ([]Payment, error) {
	var out []Payment
	for _, p := range r.payments {
		if partyID != 0 && p.PartyID != partyID {
			continue
		}
		out = append(out, *p)
	}
	return out, nil
}

func (tx *memoryTx) CreatePayment(ctx context.Context, p *Payment) (int64, error) {
	tx.repo.nextID++
	p.ID = tx.repo.nextID
	clone := *p
	tx.payments = append(tx.payments, &clone)
	return p.ID, nil
}

func (tx *memoryTx) InsertAllocation(ctx context.Context, row AllocationRow) error {
	tx.repo.nextID++
	row.ID = tx.repo.nextID
	tx.allocations = append(tx.allocations, row)
	return nil
}

func (tx *memoryTx) LockTarget(ctx context.Context, documentID int64) (TargetDoc, error) {
	t, ok := tx.repo.targets[documentID]
	if !ok {
		return TargetDoc{}, shared.ErrNotFound
	}
	return *t, nil
}

func (tx *memoryTx) ApplyToTarget(ctx context.Context, documentID int64, amountPaid money.Amount, status docflow.State, expectedVersion int64) error {
	if tx.repo.failApply[documentID] {
		return shared.ErrConcurrentModification
	}
	t, ok := tx.repo.targets[documentID]
	if !ok || t.Version != expectedVersion {
		return shared.ErrConcurrentModification
	}
	tx.applied[documentID] = struct {
		paid    money.Amount
		status  docflow.State
		version int64
	}{paid: amountPaid, status: status, version: expectedVersion + 1}
	return nil
}

func addInvoice(repo *memoryRepo, id int64, total, paid string, status docflow.State) {
	repo.targets[id] = &TargetDoc{
		ID:         id,
		Kind:       docflow.KindInvoice,
		Status:     status,
		GrandTotal: money.MustParse(total),
		AmountPaid: money.MustParse(paid),
		Version:    1,
	}
}

func TestAllocatePartialPayment(t *testing.T) {
	repo := newMemoryRepo()
	addInvoice(repo, 1, "500.00", "0.00", docflow.StatusSent)
	svc := NewService(repo, nil, nil, Config{AllowAdvance: true}, nil)

	result, err := svc.Allocate(context.Background(), AllocateInput{
		PartyID:  7,
		Amount:   money.MustParse("300.00"),
		Requests: []Request{{DocumentID: 1, Amount: money.MustParse("300.00")}},
	})
	require.NoError(t, err)
	require.Equal(t, "0.00", result.Unallocated.String())
	require.NotEmpty(t, result.Payment.Reference)

	target := repo.targets[1]
	require.Equal(t, "300.00", target.AmountPaid.String())
	require.Equal(t, docflow.StatusPartiallyPaid, target.Status)
	require.Equal(t, "200.00", target.Balance().String())
	require.Equal(t, int64(2), target.Version)
}

func TestAllocateFullPaymentLandsPaid(t *testing.T) {
	repo := newMemoryRepo()
	addInvoice(repo, 1, "500.00", "200.00", docflow.StatusPartiallyPaid)
	svc := NewService(repo, nil, nil, Config{}, nil)

	_, err := svc.Allocate(context.Background(), AllocateInput{
		PartyID:  7,
		Amount:   money.MustParse("300.00"),
		Requests: []Request{{DocumentID: 1, Amount: money.MustParse("300.00")}},
	})
	require.NoError(t, err)
	require.Equal(t, docflow.StatusPaid, repo.targets[1].Status)
	require.Equal(t, money.Amount(0), repo.targets[1].Balance())
}

func TestAllocateAcrossTargetsAtomic(t *testing.T) {
	repo := newMemoryRepo()
	addInvoice(repo, 1, "100.00", "0.00", docflow.StatusSent)
	addInvoice(repo, 2, "100.00", "0.00", docflow.StatusSent)
	repo.failApply[2] = true
	svc := NewService(repo, nil, nil, Config{}, nil)

	_, err := svc.Allocate(context.Background(), AllocateInput{
		PartyID: 7,
		Amount:  money.MustParse("200.00"),
		Requests: []Request{
			{DocumentID: 1, Amount: money.MustParse("100.00")},
			{DocumentID: 2, Amount: money.MustParse("100.00")},
		},
	})
	require.ErrorIs(t, err, shared.ErrConcurrentModification)

	// Nothing committed: the first target is untouched and no payment
	// or allocation rows exist.
	require.Equal(t, "0.00", repo.targets[1].AmountPaid.String())
	require.Empty(t, repo.payments)
	require.Empty(t, repo.allocations)
}

func TestAllocateOverRequestBeforeWrites(t *testing.T) {
	repo := newMemoryRepo()
	addInvoice(repo, 1, "500.00", "0.00", docflow.StatusSent)
	svc := NewService(repo, nil, nil, Config{}, nil)

	_, err := svc.Allocate(context.Background(), AllocateInput{
		PartyID: 7,
		Amount:  money.MustParse("100.00"),
		Requests: []Request{
			{DocumentID: 1, Amount: money.MustParse("150.00")},
		},
	})
	var over *OverAllocationError
	require.ErrorAs(t, err, &over)
	require.Empty(t, repo.payments)
	require.Equal(t, "0.00", repo.targets[1].AmountPaid.String())
}

func TestAllocateRejectsNonPayableTarget(t *testing.T) {
	repo := newMemoryRepo()
	repo.targets[1] = &TargetDoc{ID: 1, Kind: docflow.KindQuote, Status: docflow.StatusSent, Version: 1}
	svc := NewService(repo, nil, nil, Config{}, nil)

	_, err := svc.Allocate(context.Background(), AllocateInput{
		PartyID:  7,
		Amount:   money.MustParse("10.00"),
		Requests: []Request{{DocumentID: 1, Amount: money.MustParse("10.00")}},
	})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestAllocateAdvanceKeptOnPayment(t *testing.T) {
	repo := newMemoryRepo()
	addInvoice(repo, 1, "50.00", "0.00", docflow.StatusSent)
	svc := NewService(repo, nil, nil, Config{AllowAdvance: true}, nil)

	result, err := svc.Allocate(context.Background(), AllocateInput{
		PartyID:  7,
		Amount:   money.MustParse("80.00"),
		Requests: []Request{{DocumentID: 1, Amount: money.MustParse("50.00")}},
	})
	require.NoError(t, err)
	require.Equal(t, "30.00", result.Unallocated.String())
	require.Equal(t, "30.00", result.Payment.Unallocated.String())
	require.Equal(t, docflow.StatusPaid, repo.targets[1].Status)
}

func TestAllocateRejectsZeroAmount(t *testing.T) {
	svc := NewService(newMemoryRepo(), nil, nil, Config{}, nil)
	_, err := svc.Allocate(context.Background(), AllocateInput{PartyID: 1, Amount: 0})
	require.ErrorIs(t, err, shared.ErrValidation)
}
