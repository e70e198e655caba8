package payments

import (
	"time"

	"github.com/meridian-erp/meridian-erp/internal/docflow"
	"github.com/meridian-erp/meridian-erp/internal/money"
)

// Payment is a received or issued amount to distribute over open
// invoices or bills.
type Payment struct {
	ID          int64
	Reference   string
	PartyID     int64
	Currency    string
	Amount      money.Amount
	Unallocated money.Amount
	PaidAt      time.Time
	Method      string
	Note        string
	CreatedAt   time.Time
}

// AllocationRow is a persisted split. Rows reference documents by id,
// never by embedded copy, so balance recomputation reads current
// truth.
type AllocationRow struct {
	ID         int64
	PaymentID  int64
	DocumentID int64
	Amount     money.Amount
	Position   int
	CreatedAt  time.Time
}

// TargetDoc is the slice of a document the allocation engine needs:
// identity, lifecycle position and balance inputs, plus the version
// that guards the write.
type TargetDoc struct {
	ID         int64
	Kind       docflow.Kind
	Status     docflow.State
	GrandTotal money.Amount
	AmountPaid money.Amount
	Version    int64
}

// Balance is the open amount on the target as read.
func (t TargetDoc) Balance() money.Amount {
	return t.GrandTotal - t.AmountPaid
}
