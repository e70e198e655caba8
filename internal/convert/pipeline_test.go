package convert

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/meridian-erp/meridian-erp/internal/alerts"
	"github.com/meridian-erp/meridian-erp/internal/docflow"
	"github.com/meridian-erp/meridian-erp/internal/documents"
	"github.com/meridian-erp/meridian-erp/internal/money"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

type memoryRepo struct {
	docs       map[int64]*documents.Document
	nextID     int64
	seq        int
	failInsert bool
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{docs: make(map[int64]*documents.Document)}
}

type memoryTx struct {
	repo *memoryRepo
	// staged mutations apply only on a nil callback return.
	inserted []*documents.Document
	saved    []*documents.Document
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, documents.TxRepository) error) error {
	tx := &memoryTx{repo: r}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	for _, d := range tx.inserted {
		clone := *d
		r.docs[d.ID] = &clone
	}
	for _, d := range tx.saved {
		clone := *d
		clone.Version = d.Version + 1
		r.docs[d.ID] = &clone
	}
	return nil
}

func (r *memoryRepo) Get(ctx context.Context, id int64) (*documents.Document, error) {
	return (&memoryTx{repo: r}).Get(ctx, id)
}

func (r *memoryRepo) List(ctx context.Context, filter documents.ListFilter) ([]documents.Document, error) {
	return nil, nil
}

func (r *memoryRepo) ListChildren(ctx context.Context, parentID int64, kind docflow.Kind) ([]documents.Document, error) {
	var out []documents.Document
	for _, d := range r.docs {
		if d.SourceID != nil && *d.SourceID == parentID && (kind == "" || d.Kind == kind) {
			out = append(out, *d)
		}
	}
	return out, nil
}

func (tx *memoryTx) Get(ctx context.Context, id int64) (*documents.Document, error) {
	d, ok := tx.repo.docs[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	clone := *d
	clone.Lines = append([]documents.Line(nil), d.Lines...)
	return &clone, nil
}

func (tx *memoryTx) Insert(ctx context.Context, doc *documents.Document) (int64, error) {
	if tx.repo.failInsert {
		return 0, errors.New("insert failed")
	}
	tx.repo.nextID++
	doc.ID = tx.repo.nextID
	doc.Version = 1
	tx.inserted = append(tx.inserted, doc)
	return doc.ID, nil
}

func (tx *memoryTx) ReplaceLines(ctx context.Context, docID int64, lines []documents.Line) error {
	return nil
}

func (tx *memoryTx) Save(ctx context.Context, doc *documents.Document, expectedVersion int64) error {
	stored, ok := tx.repo.docs[doc.ID]
	if !ok {
		return shared.ErrNotFound
	}
	if stored.Version != expectedVersion {
		return shared.ErrConcurrentModification
	}
	tx.saved = append(tx.saved, doc)
	return nil
}

func (tx *memoryTx) CountActiveChildren(ctx context.Context, parentID int64, kind docflow.Kind) (int, error) {
	n := 0
	for _, d := range tx.repo.docs {
		if d.SourceID != nil && *d.SourceID == parentID && d.Kind == kind {
			n++
		}
	}
	return n, nil
}

func (tx *memoryTx) NextNumber(ctx context.Context, kind docflow.Kind, at time.Time) (string, error) {
	tx.repo.seq++
	return fmt.Sprintf("%s-%s-%04d", documents.NumberPrefix(kind), at.Format("0601"), tx.repo.seq), nil
}

func (r *memoryRepo) seed(kind docflow.Kind, status docflow.State) *documents.Document {
	r.nextID++
	doc := &documents.Document{
		ID:          r.nextID,
		Number:      fmt.Sprintf("%s-%d", documents.NumberPrefix(kind), r.nextID),
		Kind:        kind,
		Status:      status,
		PartyID:     7,
		Currency:    money.DefaultCurrency,
		PricingMode: money.TaxExclusive,
		IssueDate:   time.Now(),
		Version:     1,
		Lines: []documents.Line{
			{ItemID: 1, Quantity: 10, UnitPrice: money.MustParse("25.00"), TaxRatePercent: 600, LineOrder: 1},
		},
	}
	totals, results, err := money.ComputeDocument([]money.LineInput{doc.Lines[0].CalcInput()}, doc.PricingMode, money.DocumentDiscount{}, 0)
	if err != nil {
		panic(err)
	}
	doc.Lines[0].Subtotal = results[0].Subtotal
	doc.Lines[0].Tax = results[0].Tax
	doc.Lines[0].Taxable = results[0].Taxable
	doc.Lines[0].Amount = results[0].Amount
	doc.Totals = totals
	r.docs[doc.ID] = doc
	return doc
}

type stubAlerts struct {
	alerts  map[int64]*alerts.ReorderAlert
	closed  []int64
	failOne bool
}

func (s *stubAlerts) GetAlert(ctx context.Context, id int64) (*alerts.ReorderAlert, error) {
	a, ok := s.alerts[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	clone := *a
	return &clone, nil
}

func (s *stubAlerts) MarkPOCreated(ctx context.Context, id, actorID, poID int64) (*alerts.ReorderAlert, error) {
	if s.failOne {
		s.failOne = false
		return nil, errors.New("alert store down")
	}
	a := s.alerts[id]
	a.Status = docflow.StatusPOCreated
	a.POID = &poID
	s.closed = append(s.closed, id)
	return a, nil
}

func TestQuoteToOrder(t *testing.T) {
	repo := newMemoryRepo()
	quote := repo.seed(docflow.KindQuote, docflow.StatusAccepted)
	svc := NewService(repo, nil, nil, nil, nil)

	order, err := svc.QuoteToOrder(context.Background(), quote.ID, ConvertInput{})
	require.NoError(t, err)
	require.Equal(t, docflow.KindSalesOrder, order.Kind)
	require.Equal(t, docflow.StatusDraft, order.Status)
	require.Equal(t, quote.ID, *order.SourceID)
	require.Equal(t, quote.Totals.GrandTotal, order.Totals.GrandTotal)
	require.Contains(t, order.Number, "SO-")

	stored, err := repo.Get(context.Background(), quote.ID)
	require.NoError(t, err)
	require.Equal(t, docflow.StatusConverted, stored.Status)
}

func TestQuoteToOrderIllegalFromTerminal(t *testing.T) {
	repo := newMemoryRepo()
	quote := repo.seed(docflow.KindQuote, docflow.StatusRejected)
	svc := NewService(repo, nil, nil, nil, nil)

	_, err := svc.QuoteToOrder(context.Background(), quote.ID, ConvertInput{})
	var illegal *docflow.IllegalTransitionError
	require.ErrorAs(t, err, &illegal)
}

func TestQuoteToOrderAtomicOnChildFailure(t *testing.T) {
	repo := newMemoryRepo()
	quote := repo.seed(docflow.KindQuote, docflow.StatusAccepted)
	repo.failInsert = true
	svc := NewService(repo, nil, nil, nil, nil)

	_, err := svc.QuoteToOrder(context.Background(), quote.ID, ConvertInput{})
	require.Error(t, err)

	stored, err := repo.Get(context.Background(), quote.ID)
	require.NoError(t, err)
	require.Equal(t, docflow.StatusAccepted, stored.Status)
	require.Len(t, repo.docs, 1)
}

func TestOrderToInvoice(t *testing.T) {
	repo := newMemoryRepo()
	order := repo.seed(docflow.KindSalesOrder, docflow.StatusConfirmed)
	svc := NewService(repo, nil, nil, nil, nil)

	due := time.Now().Add(30 * 24 * time.Hour)
	invoice, err := svc.OrderToInvoice(context.Background(), order.ID, ConvertInput{DueDate: &due})
	require.NoError(t, err)
	require.Equal(t, docflow.KindInvoice, invoice.Kind)
	require.Equal(t, docflow.StatusDraft, invoice.Status)
	require.NotNil(t, invoice.DueDate)
	require.Equal(t, order.Totals.GrandTotal, invoice.Totals.GrandTotal)

	// The order itself does not move; invoicing progress is projected.
	stored, err := repo.Get(context.Background(), order.ID)
	require.NoError(t, err)
	require.Equal(t, docflow.StatusConfirmed, stored.Status)
}

func TestOrderToInvoiceFromDraftLocked(t *testing.T) {
	repo := newMemoryRepo()
	order := repo.seed(docflow.KindSalesOrder, docflow.StatusDraft)
	svc := NewService(repo, nil, nil, nil, nil)

	_, err := svc.OrderToInvoice(context.Background(), order.ID, ConvertInput{})
	var locked *docflow.DocumentLockedError
	require.ErrorAs(t, err, &locked)
}

func TestOrderToInvoiceKindMismatch(t *testing.T) {
	repo := newMemoryRepo()
	quote := repo.seed(docflow.KindQuote, docflow.StatusAccepted)
	svc := NewService(repo, nil, nil, nil, nil)

	_, err := svc.OrderToInvoice(context.Background(), quote.ID, ConvertInput{})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestPOToBill(t *testing.T) {
	repo := newMemoryRepo()
	po := repo.seed(docflow.KindPurchaseOrder, docflow.StatusIssued)
	svc := NewService(repo, nil, nil, nil, nil)

	bill, err := svc.POToBill(context.Background(), po.ID, ConvertInput{})
	require.NoError(t, err)
	require.Equal(t, docflow.KindBill, bill.Kind)
	require.Equal(t, docflow.StatusDraft, bill.Status)
	require.Contains(t, bill.Number, "BILL-")
}

func TestAlertToPO(t *testing.T) {
	repo := newMemoryRepo()
	stub := &stubAlerts{alerts: map[int64]*alerts.ReorderAlert{
		5: {ID: 5, ItemID: 11, WarehouseID: 1, Status: docflow.StatusPending, SuggestedQty: 8},
	}}
	svc := NewService(repo, stub, nil, nil, nil)

	po, err := svc.AlertToPO(context.Background(), AlertToPOInput{
		AlertID:    5,
		SupplierID: 3,
		UnitPrice:  money.MustParse("12.50"),
	})
	require.NoError(t, err)
	require.Equal(t, docflow.KindPurchaseOrder, po.Kind)
	require.Equal(t, docflow.StatusDraft, po.Status)
	require.Len(t, po.Lines, 1)
	require.Equal(t, int64(11), po.Lines[0].ItemID)
	require.Equal(t, int64(8), po.Lines[0].Quantity)
	require.Equal(t, "100.00", po.Totals.GrandTotal.String())
	require.Equal(t, []int64{5}, stub.closed)
}

func TestAlertToPOClosedAlertRejected(t *testing.T) {
	repo := newMemoryRepo()
	stub := &stubAlerts{alerts: map[int64]*alerts.ReorderAlert{
		5: {ID: 5, ItemID: 11, Status: docflow.StatusResolved},
	}}
	svc := NewService(repo, stub, nil, nil, nil)

	_, err := svc.AlertToPO(context.Background(), AlertToPOInput{AlertID: 5, SupplierID: 3, UnitPrice: 100})
	var illegal *docflow.IllegalTransitionError
	require.ErrorAs(t, err, &illegal)
	require.Empty(t, repo.docs)
}

func TestPOsFromAlertsContinuesOnError(t *testing.T) {
	repo := newMemoryRepo()
	stub := &stubAlerts{alerts: map[int64]*alerts.ReorderAlert{
		1: {ID: 1, ItemID: 11, Status: docflow.StatusPending, SuggestedQty: 2},
		3: {ID: 3, ItemID: 13, Status: docflow.StatusPending, SuggestedQty: 4},
	}}
	svc := NewService(repo, stub, nil, nil, nil)

	results := svc.POsFromAlerts(context.Background(), []AlertToPOInput{
		{AlertID: 1, SupplierID: 3, UnitPrice: 100},
		{AlertID: 2, SupplierID: 3, UnitPrice: 100},
		{AlertID: 3, SupplierID: 3, UnitPrice: 100},
	}, BatchOptions{})
	require.Len(t, results, 3)
	require.NoError(t, results[0].Err)
	require.ErrorIs(t, results[1].Err, shared.ErrNotFound)
	require.NoError(t, results[2].Err)
}

func TestPOsFromAlertsStopOnError(t *testing.T) {
	repo := newMemoryRepo()
	stub := &stubAlerts{alerts: map[int64]*alerts.ReorderAlert{
		3: {ID: 3, ItemID: 13, Status: docflow.StatusPending, SuggestedQty: 4},
	}}
	svc := NewService(repo, stub, nil, nil, nil)

	results := svc.POsFromAlerts(context.Background(), []AlertToPOInput{
		{AlertID: 2, SupplierID: 3, UnitPrice: 100},
		{AlertID: 3, SupplierID: 3, UnitPrice: 100},
	}, BatchOptions{StopOnError: true})
	require.Len(t, results, 1)
	require.Error(t, results[0].Err)
}
