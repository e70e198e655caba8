package projection

import (
	"time"

	"github.com/meridian-erp/meridian-erp/internal/docflow"
	"github.com/meridian-erp/meridian-erp/internal/documents"
)

// ChildStatus is a read-time aggregate derived from child documents.
// It is never stored; the authoritative state lives on the children.
type ChildStatus string

const (
	NotInvoiced       ChildStatus = "NOT_INVOICED"
	PartiallyInvoiced ChildStatus = "PARTIALLY_INVOICED"
	Invoiced          ChildStatus = "INVOICED"

	NotReceived       ChildStatus = "NOT_RECEIVED"
	PartiallyReceived ChildStatus = "PARTIALLY_RECEIVED"
	Received          ChildStatus = "RECEIVED"

	NotBilled       ChildStatus = "NOT_BILLED"
	PartiallyBilled ChildStatus = "PARTIALLY_BILLED"
	Billed          ChildStatus = "BILLED"
)

// ProjectInvoiceStatus derives how much of a sales order has been
// invoiced by comparing per-item quantities against its non-void
// invoices.
func ProjectInvoiceStatus(order *documents.Document, invoices []documents.Document) ChildStatus {
	return project(order, invoices, activeChild, NotInvoiced, PartiallyInvoiced, Invoiced)
}

// ProjectReceiveStatus derives how much of a purchase order has
// arrived. Receipt is recorded on the bill: a bill still in DRAFT has
// not been received yet and does not count.
func ProjectReceiveStatus(po *documents.Document, bills []documents.Document) ChildStatus {
	return project(po, bills, receivedChild, NotReceived, PartiallyReceived, Received)
}

// ProjectBillStatus derives how much of a purchase order has been
// billed, counting every non-void bill including drafts.
func ProjectBillStatus(po *documents.Document, bills []documents.Document) ChildStatus {
	return project(po, bills, activeChild, NotBilled, PartiallyBilled, Billed)
}

func activeChild(d documents.Document) bool {
	return d.Status != docflow.StatusVoid && d.Status != docflow.StatusCancelled
}

func receivedChild(d documents.Document) bool {
	return activeChild(d) && d.Status != docflow.StatusDraft
}

// project walks child lines and compares covered quantities per item
// against the parent's own lines.
func project(parent *documents.Document, children []documents.Document, counts func(documents.Document) bool, none, partial, full ChildStatus) ChildStatus {
	wanted := make(map[int64]int64, len(parent.Lines))
	for _, l := range parent.Lines {
		wanted[l.ItemID] += l.Quantity
	}

	covered := make(map[int64]int64, len(wanted))
	var any bool
	for _, child := range children {
		if !counts(child) {
			continue
		}
		for _, l := range child.Lines {
			if l.Quantity <= 0 {
				continue
			}
			covered[l.ItemID] += l.Quantity
			any = true
		}
	}
	if !any {
		return none
	}
	for itemID, qty := range wanted {
		if covered[itemID] < qty {
			return partial
		}
	}
	return full
}

// EffectiveStatus layers the date-driven states over the stored one at
// read time. A quote past its validity reads EXPIRED, an open invoice
// or bill past its due date reads OVERDUE; the stored status is never
// rewritten for either.
func EffectiveStatus(doc *documents.Document, now time.Time) docflow.State {
	switch doc.Kind {
	case docflow.KindQuote:
		if doc.Status == docflow.StatusSent && doc.ValidUntil != nil && doc.ValidUntil.Before(now) {
			return docflow.StatusExpired
		}
	case docflow.KindInvoice, docflow.KindBill:
		if overdueEligible(doc.Status) && doc.Balance() > 0 && doc.DueDate != nil && doc.DueDate.Before(now) {
			return docflow.StatusOverdue
		}
	}
	return doc.Status
}

func overdueEligible(s docflow.State) bool {
	switch s {
	case docflow.StatusSent, docflow.StatusReceived, docflow.StatusPartiallyPaid:
		return true
	}
	return false
}
