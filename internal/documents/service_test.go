package documents

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/meridian-erp/meridian-erp/internal/docflow"
	"github.com/meridian-erp/meridian-erp/internal/money"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

type memoryRepo struct {
	docs   map[int64]*Document
	nextID int64
	seq    map[string]int
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{docs: make(map[int64]*Document), seq: make(map[string]int)}
}

type memoryTx struct {
	repo *memoryRepo
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, &memoryTx{repo: r})
}

func (r *memoryRepo) Get(ctx context.Context, id int64) (*Document, error) {
	return (&memoryTx{repo: r}).Get(ctx, id)
}

func (r *memoryRepo) List(ctx context.Context, filter ListFilter) ([]Document, error) {
	var out []Document
	for _, d := range r.docs {
		if filter.Kind != "" && d.Kind != filter.Kind {
			continue
		}
		out = append(out, *d)
	}
	return out, nil
}

func (r *memoryRepo) ListChildren(ctx context.Context, parentID int64, kind docflow.Kind) ([]Document, error) {
	var out []Document
	for _, d := range r.docs {
		if d.SourceID == nil || *d.SourceID != parentID {
			continue
		}
		if kind != "" && d.Kind != kind {
			continue
		}
		out = append(out, *d)
	}
	return out, nil
}

func (tx *memoryTx) Get(ctx context.Context, id int64) (*Document, error) {
	d, ok := tx.repo.docs[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	clone := *d
	clone.Lines = append([]Line(nil), d.Lines...)
	return &clone, nil
}

func (tx *memoryTx) Insert(ctx context.Context, doc *Document) (int64, error) {
	tx.repo.nextID++
	doc.ID = tx.repo.nextID
	doc.Version = 1
	clone := *doc
	clone.Lines = append([]Line(nil), doc.Lines...)
	tx.repo.docs[doc.ID] = &clone
	return doc.ID, nil
}

func (tx *memoryTx) ReplaceLines(ctx context.Context, docID int64, lines []Line) error {
	d, ok := tx.repo.docs[docID]
	if !ok {
		return shared.ErrNotFound
	}
	d.Lines = append([]Line(nil), lines...)
	return nil
}

func (tx *memoryTx) Save(ctx context.Context, doc *Document, expectedVersion int64) error {
	stored, ok := tx.repo.docs[doc.ID]
	if !ok {
		return shared.ErrNotFound
	}
	if stored.Version != expectedVersion {
		return fmt.Errorf("documents: %d: %w", doc.ID, shared.ErrConcurrentModification)
	}
	clone := *doc
	clone.Version = expectedVersion + 1
	clone.Lines = stored.Lines
	tx.repo.docs[doc.ID] = &clone
	doc.Version = clone.Version
	return nil
}

func (tx *memoryTx) CountActiveChildren(ctx context.Context, parentID int64, kind docflow.Kind) (int, error) {
	n := 0
	for _, d := range tx.repo.docs {
		if d.SourceID == nil || *d.SourceID != parentID || d.Kind != kind {
			continue
		}
		if d.Status == docflow.StatusVoid || d.Status == docflow.StatusCancelled {
			continue
		}
		n++
	}
	return n, nil
}

func (tx *memoryTx) NextNumber(ctx context.Context, kind docflow.Kind, at time.Time) (string, error) {
	key := string(kind) + at.Format("0601")
	tx.repo.seq[key]++
	return fmt.Sprintf("%s-%s-%04d", NumberPrefix(kind), at.Format("0601"), tx.repo.seq[key]), nil
}

func ratePtr(percent string) *money.Rate {
	r, err := money.ParseRate(percent)
	if err != nil {
		panic(err)
	}
	return &r
}

func TestCreateComputesTotals(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil, nil)

	doc, err := svc.Create(context.Background(), CreateInput{
		Kind:    docflow.KindInvoice,
		PartyID: 7,
		Lines: []LineInput{
			{ItemID: 1, Quantity: 10, UnitPrice: money.MustParse("25.00"), DiscountPercent: ratePtr("10"), TaxRatePercent: 600},
		},
	})
	require.NoError(t, err)
	require.Equal(t, docflow.StatusDraft, doc.Status)
	require.Equal(t, "MYR", doc.Currency)
	require.Contains(t, doc.Number, "INV-")
	require.Equal(t, "238.50", doc.Totals.GrandTotal.String())
	require.Equal(t, "238.50", doc.Balance().String())
	require.Equal(t, int64(1), doc.Version)
}

func TestCreateRejectsAlertKindAndEmptyLines(t *testing.T) {
	svc := NewService(newMemoryRepo(), nil, nil, nil, nil)
	ctx := context.Background()

	_, err := svc.Create(ctx, CreateInput{Kind: docflow.KindReorderAlert, PartyID: 1, Lines: []LineInput{{ItemID: 1, Quantity: 1}}})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.Create(ctx, CreateInput{Kind: docflow.KindQuote, PartyID: 1})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestCreateRejectsShippingOffOrders(t *testing.T) {
	svc := NewService(newMemoryRepo(), nil, nil, nil, nil)
	_, err := svc.Create(context.Background(), CreateInput{
		Kind:     docflow.KindInvoice,
		PartyID:  1,
		Shipping: money.MustParse("5.00"),
		Lines:    []LineInput{{ItemID: 1, Quantity: 1, UnitPrice: 100}},
	})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestUpdateDraftLinesLockedAfterTransition(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil, nil)
	ctx := context.Background()

	doc, err := svc.Create(ctx, CreateInput{
		Kind:    docflow.KindQuote,
		PartyID: 1,
		Lines:   []LineInput{{ItemID: 1, Quantity: 1, UnitPrice: money.MustParse("10.00")}},
	})
	require.NoError(t, err)

	_, err = svc.Transition(ctx, doc.ID, docflow.EventSend, 0)
	require.NoError(t, err)

	_, err = svc.UpdateDraftLines(ctx, doc.ID, UpdateLinesInput{
		Lines: []LineInput{{ItemID: 1, Quantity: 2, UnitPrice: money.MustParse("10.00")}},
	})
	var locked *docflow.DocumentLockedError
	require.ErrorAs(t, err, &locked)
	require.Equal(t, docflow.StatusSent, locked.Status)
}

func TestUpdateDraftLinesRecomputesTotals(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil, nil)
	ctx := context.Background()

	doc, err := svc.Create(ctx, CreateInput{
		Kind:    docflow.KindSalesOrder,
		PartyID: 1,
		Lines:   []LineInput{{ItemID: 1, Quantity: 1, UnitPrice: money.MustParse("10.00")}},
	})
	require.NoError(t, err)

	updated, err := svc.UpdateDraftLines(ctx, doc.ID, UpdateLinesInput{
		Lines:    []LineInput{{ItemID: 1, Quantity: 3, UnitPrice: money.MustParse("10.00")}},
		Shipping: money.MustParse("4.00"),
	})
	require.NoError(t, err)
	require.Equal(t, "34.00", updated.Totals.GrandTotal.String())
	require.Equal(t, int64(2), updated.Version)
}

func TestUpdateDraftLinesVersionConflict(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil, nil)
	ctx := context.Background()

	doc, err := svc.Create(ctx, CreateInput{
		Kind:    docflow.KindQuote,
		PartyID: 1,
		Lines:   []LineInput{{ItemID: 1, Quantity: 1, UnitPrice: money.MustParse("10.00")}},
	})
	require.NoError(t, err)

	_, err = svc.UpdateDraftLines(ctx, doc.ID, UpdateLinesInput{
		Lines:           []LineInput{{ItemID: 1, Quantity: 2, UnitPrice: money.MustParse("10.00")}},
		ExpectedVersion: doc.Version + 5,
	})
	require.ErrorIs(t, err, shared.ErrConcurrentModification)
}

func TestCancelOrderBlockedByActiveBill(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil, nil)
	ctx := context.Background()

	po, err := svc.Create(ctx, CreateInput{
		Kind:    docflow.KindPurchaseOrder,
		PartyID: 2,
		Lines:   []LineInput{{ItemID: 1, Quantity: 5, UnitPrice: money.MustParse("20.00")}},
	})
	require.NoError(t, err)

	_, err = svc.Create(ctx, CreateInput{
		Kind:     docflow.KindBill,
		PartyID:  2,
		SourceID: &po.ID,
		Lines:    []LineInput{{ItemID: 1, Quantity: 5, UnitPrice: money.MustParse("20.00")}},
	})
	require.NoError(t, err)

	_, err = svc.Transition(ctx, po.ID, docflow.EventCancel, 0)
	var violation *docflow.GuardViolationError
	require.ErrorAs(t, err, &violation)
	require.Contains(t, violation.Reason, "order has active bills")

	stored, err := svc.Get(ctx, po.ID)
	require.NoError(t, err)
	require.Equal(t, docflow.StatusDraft, stored.Status)
}

func TestCancelOrderAllowedAfterBillVoided(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil, nil)
	ctx := context.Background()

	po, err := svc.Create(ctx, CreateInput{
		Kind:    docflow.KindPurchaseOrder,
		PartyID: 2,
		Lines:   []LineInput{{ItemID: 1, Quantity: 5, UnitPrice: money.MustParse("20.00")}},
	})
	require.NoError(t, err)

	bill, err := svc.Create(ctx, CreateInput{
		Kind:     docflow.KindBill,
		PartyID:  2,
		SourceID: &po.ID,
		Lines:    []LineInput{{ItemID: 1, Quantity: 5, UnitPrice: money.MustParse("20.00")}},
	})
	require.NoError(t, err)

	_, err = svc.Transition(ctx, bill.ID, docflow.EventVoid, 0)
	require.NoError(t, err)

	updated, err := svc.Transition(ctx, po.ID, docflow.EventCancel, 0)
	require.NoError(t, err)
	require.Equal(t, docflow.StatusCancelled, updated.Status)
}

func TestTransitionUnknownEvent(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil, nil)
	ctx := context.Background()

	doc, err := svc.Create(ctx, CreateInput{
		Kind:    docflow.KindQuote,
		PartyID: 1,
		Lines:   []LineInput{{ItemID: 1, Quantity: 1, UnitPrice: 100}},
	})
	require.NoError(t, err)

	_, err = svc.Transition(ctx, doc.ID, docflow.EventDeliver, 0)
	var illegal *docflow.IllegalTransitionError
	require.ErrorAs(t, err, &illegal)
}

type recordingSubmitter struct {
	calls []int64
	err   error
}

func (s *recordingSubmitter) Submit(ctx context.Context, doc *Document) (SubmissionResult, error) {
	s.calls = append(s.calls, doc.ID)
	if s.err != nil {
		return SubmissionResult{}, s.err
	}
	return SubmissionResult{Status: "ACCEPTED", ReferenceID: "EI-1"}, nil
}

func TestSendInvoiceNotifiesSubmitterAdvisory(t *testing.T) {
	repo := newMemoryRepo()
	submitter := &recordingSubmitter{err: errors.New("gateway down")}
	svc := NewService(repo, nil, nil, submitter, nil)
	ctx := context.Background()

	inv, err := svc.Create(ctx, CreateInput{
		Kind:    docflow.KindInvoice,
		PartyID: 1,
		Lines:   []LineInput{{ItemID: 1, Quantity: 1, UnitPrice: money.MustParse("10.00")}},
	})
	require.NoError(t, err)

	updated, err := svc.Transition(ctx, inv.ID, docflow.EventSend, 0)
	require.NoError(t, err)
	require.Equal(t, docflow.StatusSent, updated.Status)
	require.Equal(t, []int64{inv.ID}, submitter.calls)
}
