package documents

import (
	"strconv"
	"time"

	"github.com/meridian-erp/meridian-erp/internal/docflow"
	"github.com/meridian-erp/meridian-erp/internal/money"
)

// Document is the header of a financial document aggregate. Status and
// totals are only ever written through Service transitions.
type Document struct {
	ID          int64
	Number      string
	Kind        docflow.Kind
	Status      docflow.State
	PartyID     int64
	Currency    string
	PricingMode money.PricingMode
	Totals      money.DocumentTotals
	// Document-level discount inputs. Totals are always recomputed
	// from these plus the lines, never trusted as stored.
	DocDiscountPercent *money.Rate
	DocDiscountAmount  *money.Amount
	// AmountPaid is maintained by the payment allocation engine and is
	// meaningful for invoices and bills only.
	AmountPaid money.Amount
	SourceID   *int64
	IssueDate  time.Time
	DueDate    *time.Time
	ValidUntil *time.Time
	Note       string
	Version    int64
	CreatedAt  time.Time
	UpdatedAt  time.Time
	Lines      []Line
}

// Balance is the open amount, never negative by construction: the
// allocator clips to it before any write.
func (d *Document) Balance() money.Amount {
	return d.Totals.GrandTotal - d.AmountPaid
}

// Payable reports whether the kind carries AmountPaid/Balance.
func (d *Document) Payable() bool {
	return d.Kind == docflow.KindInvoice || d.Kind == docflow.KindBill
}

// View adapts the aggregate for the transition engine.
func (d *Document) View() docflow.View {
	return docflow.View{ID: d.ID, Kind: d.Kind, Status: d.Status, Balance: d.Balance()}
}

// Line is one priced item row. Derived figures are stored for
// reporting but recomputed from the inputs on every mutation.
type Line struct {
	ID              int64
	DocumentID      int64
	ItemID          int64
	Description     string
	Quantity        int64
	UnitPrice       money.Amount
	DiscountPercent *money.Rate
	DiscountAmount  *money.Amount
	TaxRateID       *int64
	TaxRatePercent  money.Rate
	Subtotal        money.Amount
	Discount        money.Amount
	Taxable         money.Amount
	Tax             money.Amount
	Amount          money.Amount
	LineOrder       int
}

// CalcInput converts the line to calculator input.
func (l Line) CalcInput() money.LineInput {
	return money.LineInput{
		ItemID:          itemKey(l.ItemID),
		Quantity:        l.Quantity,
		UnitPrice:       l.UnitPrice,
		DiscountPercent: l.DiscountPercent,
		DiscountAmount:  l.DiscountAmount,
		TaxRatePercent:  l.TaxRatePercent,
	}
}

func itemKey(id int64) string {
	if id == 0 {
		return ""
	}
	return "item:" + strconv.FormatInt(id, 10)
}

// Discount returns the document-level discount inputs.
func (d *Document) Discount() money.DocumentDiscount {
	return money.DocumentDiscount{Percent: d.DocDiscountPercent, Amount: d.DocDiscountAmount}
}

// applyResults copies calculator output onto the line rows.
func applyResults(lines []Line, results []money.LineResult) {
	for i := range lines {
		lines[i].Subtotal = results[i].Subtotal
		lines[i].Discount = results[i].Discount
		lines[i].Taxable = results[i].Taxable
		lines[i].Tax = results[i].Tax
		lines[i].Amount = results[i].Amount
	}
}
