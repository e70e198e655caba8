package documents

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-erp/meridian-erp/internal/docflow"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Repository provides PostgreSQL backed persistence for document
// aggregates.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const docColumns = `id, number, kind, status, party_id, currency, pricing_mode,
doc_discount_percent, doc_discount_amount,
subtotal, discount_total, shipping, tax_total, grand_total, amount_paid,
source_id, issue_date, due_date, valid_until, note, version, created_at, updated_at`

const lineColumns = `id, document_id, item_id, description, quantity, unit_price,
discount_percent, discount_amount, tax_rate_id, tax_percent,
subtotal, discount, taxable, tax, amount, line_order`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*Document, error) {
	var d Document
	err := row.Scan(&d.ID, &d.Number, &d.Kind, &d.Status, &d.PartyID, &d.Currency, &d.PricingMode,
		&d.DocDiscountPercent, &d.DocDiscountAmount,
		&d.Totals.Subtotal, &d.Totals.DiscountTotal, &d.Totals.Shipping, &d.Totals.TaxTotal, &d.Totals.GrandTotal, &d.AmountPaid,
		&d.SourceID, &d.IssueDate, &d.DueDate, &d.ValidUntil, &d.Note, &d.Version, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return &d, nil
}

func scanLines(rows pgx.Rows) ([]Line, error) {
	defer rows.Close()
	var lines []Line
	for rows.Next() {
		var l Line
		if err := rows.Scan(&l.ID, &l.DocumentID, &l.ItemID, &l.Description, &l.Quantity, &l.UnitPrice,
			&l.DiscountPercent, &l.DiscountAmount, &l.TaxRateID, &l.TaxRatePercent,
			&l.Subtotal, &l.Discount, &l.Taxable, &l.Tax, &l.Amount, &l.LineOrder); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

func getDocument(ctx context.Context, q interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}, id int64, forUpdate bool) (*Document, error) {
	query := `SELECT ` + docColumns + ` FROM documents WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	doc, err := scanDocument(q.QueryRow(ctx, query, id))
	if err != nil {
		return nil, err
	}
	rows, err := q.Query(ctx, `SELECT `+lineColumns+` FROM document_lines WHERE document_id = $1 ORDER BY line_order`, id)
	if err != nil {
		return nil, err
	}
	doc.Lines, err = scanLines(rows)
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// Get loads a document aggregate.
func (r *Repository) Get(ctx context.Context, id int64) (*Document, error) {
	return getDocument(ctx, r.pool, id, false)
}

// List returns headers matching the filter, without lines.
func (r *Repository) List(ctx context.Context, filter ListFilter) ([]Document, error) {
	query := `SELECT ` + docColumns + ` FROM documents WHERE 1=1`
	args := []any{}
	if filter.Kind != "" {
		args = append(args, filter.Kind)
		query += fmt.Sprintf(" AND kind = $%d", len(args))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if filter.PartyID != 0 {
		args = append(args, filter.PartyID)
		query += fmt.Sprintf(" AND party_id = $%d", len(args))
	}
	query += " ORDER BY id DESC"
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	query += fmt.Sprintf(" LIMIT $%d", len(args))
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var docs []Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, *doc)
	}
	return docs, rows.Err()
}

// ListChildren returns child documents of parent with their lines.
func (r *Repository) ListChildren(ctx context.Context, parentID int64, kind docflow.Kind) ([]Document, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+docColumns+` FROM documents WHERE source_id = $1 AND ($2 = '' OR kind = $2) ORDER BY id`, parentID, string(kind))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var docs []Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, *doc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range docs {
		lineRows, err := r.pool.Query(ctx, `SELECT `+lineColumns+` FROM document_lines WHERE document_id = $1 ORDER BY line_order`, docs[i].ID)
		if err != nil {
			return nil, err
		}
		docs[i].Lines, err = scanLines(lineRows)
		if err != nil {
			return nil, err
		}
	}
	return docs, nil
}

// WithTx wraps fn in a repeatable-read transaction.
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

type txRepo struct {
	tx pgx.Tx
}

func (r *txRepo) Get(ctx context.Context, id int64) (*Document, error) {
	return getDocument(ctx, r.tx, id, true)
}

func (r *txRepo) Insert(ctx context.Context, doc *Document) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO documents
(number, kind, status, party_id, currency, pricing_mode,
 doc_discount_percent, doc_discount_amount,
 subtotal, discount_total, shipping, tax_total, grand_total, amount_paid,
 source_id, issue_date, due_date, valid_until, note, version, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,1,NOW(),NOW())
RETURNING id`,
		doc.Number, doc.Kind, doc.Status, doc.PartyID, doc.Currency, doc.PricingMode,
		doc.DocDiscountPercent, doc.DocDiscountAmount,
		doc.Totals.Subtotal, doc.Totals.DiscountTotal, doc.Totals.Shipping, doc.Totals.TaxTotal, doc.Totals.GrandTotal, doc.AmountPaid,
		doc.SourceID, doc.IssueDate, doc.DueDate, doc.ValidUntil, doc.Note).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("documents: insert: %w", err)
	}
	doc.ID = id
	doc.Version = 1
	if err := r.ReplaceLines(ctx, id, doc.Lines); err != nil {
		return 0, err
	}
	return id, nil
}

func (r *txRepo) ReplaceLines(ctx context.Context, docID int64, lines []Line) error {
	if _, err := r.tx.Exec(ctx, `DELETE FROM document_lines WHERE document_id = $1`, docID); err != nil {
		return fmt.Errorf("documents: delete lines: %w", err)
	}
	for i, l := range lines {
		order := l.LineOrder
		if order == 0 {
			order = i + 1
		}
		if _, err := r.tx.Exec(ctx, `INSERT INTO document_lines
(document_id, item_id, description, quantity, unit_price,
 discount_percent, discount_amount, tax_rate_id, tax_percent,
 subtotal, discount, taxable, tax, amount, line_order)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
			docID, l.ItemID, l.Description, l.Quantity, l.UnitPrice,
			l.DiscountPercent, l.DiscountAmount, l.TaxRateID, l.TaxRatePercent,
			l.Subtotal, l.Discount, l.Taxable, l.Tax, l.Amount, order); err != nil {
			return fmt.Errorf("documents: insert line: %w", err)
		}
	}
	return nil
}

func (r *txRepo) Save(ctx context.Context, doc *Document, expectedVersion int64) error {
	tag, err := r.tx.Exec(ctx, `UPDATE documents SET
status=$1, doc_discount_percent=$2, doc_discount_amount=$3,
subtotal=$4, discount_total=$5, shipping=$6, tax_total=$7, grand_total=$8,
amount_paid=$9, due_date=$10, valid_until=$11, note=$12, version=version+1, updated_at=NOW()
WHERE id=$13 AND version=$14`,
		doc.Status, doc.DocDiscountPercent, doc.DocDiscountAmount,
		doc.Totals.Subtotal, doc.Totals.DiscountTotal, doc.Totals.Shipping, doc.Totals.TaxTotal, doc.Totals.GrandTotal,
		doc.AmountPaid, doc.DueDate, doc.ValidUntil, doc.Note, doc.ID, expectedVersion)
	if err != nil {
		return fmt.Errorf("documents: save: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("documents: save %d: %w", doc.ID, shared.ErrConcurrentModification)
	}
	doc.Version = expectedVersion + 1
	return nil
}

func (r *txRepo) CountActiveChildren(ctx context.Context, parentID int64, kind docflow.Kind) (int, error) {
	var n int
	err := r.tx.QueryRow(ctx, `SELECT COUNT(*) FROM documents
WHERE source_id = $1 AND kind = $2 AND status NOT IN ('VOID','CANCELLED')`, parentID, kind).Scan(&n)
	return n, err
}

var numberPrefixes = map[docflow.Kind]string{
	docflow.KindQuote:         "QT",
	docflow.KindSalesOrder:    "SO",
	docflow.KindInvoice:       "INV",
	docflow.KindPurchaseOrder: "PO",
	docflow.KindBill:          "BILL",
	docflow.KindSalesReturn:   "SR",
	docflow.KindCoreReturn:    "CRN",
}

// NumberPrefix returns the document number prefix for a kind.
func NumberPrefix(kind docflow.Kind) string {
	return numberPrefixes[kind]
}

func (r *txRepo) NextNumber(ctx context.Context, kind docflow.Kind, at time.Time) (string, error) {
	prefix, ok := numberPrefixes[kind]
	if !ok {
		return "", fmt.Errorf("documents: no number prefix for kind %s", kind)
	}
	period := at.Format("0601")
	var seq int64
	err := r.tx.QueryRow(ctx, `INSERT INTO document_counters (kind, period, seq)
VALUES ($1, $2, 1)
ON CONFLICT (kind, period) DO UPDATE SET seq = document_counters.seq + 1
RETURNING seq`, kind, period).Scan(&seq)
	if err != nil {
		return "", fmt.Errorf("documents: next number: %w", err)
	}
	return fmt.Sprintf("%s-%s-%04d", prefix, period, seq), nil
}
