package docflow

// Shared lifecycle states. Kinds reuse names where the semantics
// match; each table still stands alone.
const (
	StatusDraft             State = "DRAFT"
	StatusPending           State = "PENDING"
	StatusSent              State = "SENT"
	StatusAccepted          State = "ACCEPTED"
	StatusRejected          State = "REJECTED"
	StatusExpired           State = "EXPIRED"
	StatusConverted         State = "CONVERTED"
	StatusConfirmed         State = "CONFIRMED"
	StatusCancelled         State = "CANCELLED"
	StatusShipped           State = "SHIPPED"
	StatusDelivered         State = "DELIVERED"
	StatusClosed            State = "CLOSED"
	StatusIssued            State = "ISSUED"
	StatusPartiallyReceived State = "PARTIALLY_RECEIVED"
	StatusReceived          State = "RECEIVED"
	StatusPartiallyPaid     State = "PARTIALLY_PAID"
	StatusPaid              State = "PAID"
	StatusOverdue           State = "OVERDUE"
	StatusVoid              State = "VOID"
	StatusRefunded          State = "REFUNDED"
	StatusCredited          State = "CREDITED"
	StatusAcknowledged      State = "ACKNOWLEDGED"
	StatusResolved          State = "RESOLVED"
	StatusPOCreated         State = "PO_CREATED"
)

// Transition events.
const (
	EventSend           Event = "SEND"
	EventAccept         Event = "ACCEPT"
	EventReject         Event = "REJECT"
	EventExpire         Event = "EXPIRE"
	EventConvert        Event = "CONVERT"
	EventConfirm        Event = "CONFIRM"
	EventCancel         Event = "CANCEL"
	EventShip           Event = "SHIP"
	EventDeliver        Event = "DELIVER"
	EventClose          Event = "CLOSE"
	EventIssue          Event = "ISSUE"
	EventReceivePartial Event = "RECEIVE_PARTIAL"
	EventReceive        Event = "RECEIVE"
	EventPaymentApplied Event = "PAYMENT_APPLIED"
	EventMarkOverdue    Event = "MARK_OVERDUE"
	EventVoid           Event = "VOID"
	EventRefund         Event = "REFUND"
	EventCredit         Event = "CREDIT"
	EventAcknowledge    Event = "ACKNOWLEDGE"
	EventCreatePO       Event = "CREATE_PO"
	EventResolve        Event = "RESOLVE"
)

// Guard names. The owning service supplies the checks.
const (
	GuardNoOpenInvoices = "no_open_invoices"
	GuardNoActiveBills  = "no_active_bills"
)

// resolvePayment lands payment-driven transitions on PAID when the
// balance has reached zero, PARTIALLY_PAID otherwise.
func resolvePayment(v View) State {
	if v.Balance == 0 {
		return StatusPaid
	}
	return StatusPartiallyPaid
}

// QuoteTable: DRAFT -> {SENT, CONVERTED, REJECTED};
// SENT -> {ACCEPTED, EXPIRED, REJECTED, CONVERTED};
// ACCEPTED -> {CONVERTED}.
func QuoteTable() *Table {
	return &Table{
		Kind:     KindQuote,
		Initial:  StatusDraft,
		Terminal: map[State]bool{StatusConverted: true, StatusRejected: true, StatusExpired: true},
		Edges: map[State][]Edge{
			StatusDraft: {
				{Event: EventSend, To: StatusSent},
				{Event: EventConvert, To: StatusConverted},
				{Event: EventReject, To: StatusRejected},
			},
			StatusSent: {
				{Event: EventAccept, To: StatusAccepted},
				{Event: EventExpire, To: StatusExpired},
				{Event: EventReject, To: StatusRejected},
				{Event: EventConvert, To: StatusConverted},
			},
			StatusAccepted: {
				{Event: EventConvert, To: StatusConverted},
			},
		},
	}
}

// SalesOrderTable: DRAFT -> {CONFIRMED, CANCELLED};
// CONFIRMED -> {SHIPPED, CANCELLED (guarded)}; SHIPPED -> {DELIVERED};
// DELIVERED -> {CLOSED}.
func SalesOrderTable() *Table {
	return &Table{
		Kind:     KindSalesOrder,
		Initial:  StatusDraft,
		Terminal: map[State]bool{StatusClosed: true, StatusCancelled: true},
		Edges: map[State][]Edge{
			StatusDraft: {
				{Event: EventConfirm, To: StatusConfirmed},
				{Event: EventCancel, To: StatusCancelled},
			},
			StatusConfirmed: {
				{Event: EventShip, To: StatusShipped},
				{Event: EventCancel, To: StatusCancelled, Guards: []string{GuardNoOpenInvoices}},
			},
			StatusShipped: {
				{Event: EventDeliver, To: StatusDelivered},
			},
			StatusDelivered: {
				{Event: EventClose, To: StatusClosed},
			},
		},
	}
}

// PurchaseOrderTable: DRAFT -> {ISSUED, CANCELLED};
// ISSUED -> {PARTIALLY_RECEIVED, RECEIVED, CANCELLED};
// PARTIALLY_RECEIVED -> {RECEIVED}; RECEIVED -> {CLOSED}.
// Every cancel edge requires the PO to have no active bill.
func PurchaseOrderTable() *Table {
	return &Table{
		Kind:     KindPurchaseOrder,
		Initial:  StatusDraft,
		Terminal: map[State]bool{StatusClosed: true, StatusCancelled: true},
		Edges: map[State][]Edge{
			StatusDraft: {
				{Event: EventIssue, To: StatusIssued},
				{Event: EventCancel, To: StatusCancelled, Guards: []string{GuardNoActiveBills}},
			},
			StatusIssued: {
				{Event: EventReceivePartial, To: StatusPartiallyReceived},
				{Event: EventReceive, To: StatusReceived},
				{Event: EventCancel, To: StatusCancelled, Guards: []string{GuardNoActiveBills}},
			},
			StatusPartiallyReceived: {
				{Event: EventReceive, To: StatusReceived},
			},
			StatusReceived: {
				{Event: EventClose, To: StatusClosed},
			},
		},
	}
}

// receivableEdges is the shared post-issue shape of Invoice and Bill:
// payment-driven PARTIALLY_PAID/PAID, read-side OVERDUE marking, and
// VOID from any non-PAID state.
func receivableEdges(open State) map[State][]Edge {
	return map[State][]Edge{
		StatusDraft: {
			{Event: EventVoid, To: StatusVoid},
		},
		open: {
			{Event: EventPaymentApplied, Resolve: resolvePayment},
			{Event: EventMarkOverdue, To: StatusOverdue},
			{Event: EventVoid, To: StatusVoid},
		},
		StatusPartiallyPaid: {
			{Event: EventPaymentApplied, Resolve: resolvePayment},
			{Event: EventMarkOverdue, To: StatusOverdue},
			{Event: EventVoid, To: StatusVoid},
		},
		StatusOverdue: {
			{Event: EventPaymentApplied, Resolve: resolvePayment},
			{Event: EventVoid, To: StatusVoid},
		},
	}
}

// InvoiceTable: DRAFT -> SENT, then balance/due-date driven.
func InvoiceTable() *Table {
	edges := receivableEdges(StatusSent)
	edges[StatusDraft] = append(edges[StatusDraft], Edge{Event: EventSend, To: StatusSent})
	return &Table{
		Kind:     KindInvoice,
		Initial:  StatusDraft,
		Terminal: map[State]bool{StatusPaid: true, StatusVoid: true},
		Edges:    edges,
	}
}

// BillTable mirrors InvoiceTable with RECEIVED as the open state.
func BillTable() *Table {
	edges := receivableEdges(StatusReceived)
	edges[StatusDraft] = append(edges[StatusDraft], Edge{Event: EventReceive, To: StatusReceived})
	return &Table{
		Kind:     KindBill,
		Initial:  StatusDraft,
		Terminal: map[State]bool{StatusPaid: true, StatusVoid: true},
		Edges:    edges,
	}
}

// SalesReturnTable: DRAFT -> {CONFIRMED, CANCELLED};
// CONFIRMED -> {RECEIVED}; RECEIVED -> {REFUNDED}.
func SalesReturnTable() *Table {
	return &Table{
		Kind:     KindSalesReturn,
		Initial:  StatusDraft,
		Terminal: map[State]bool{StatusRefunded: true, StatusCancelled: true},
		Edges: map[State][]Edge{
			StatusDraft: {
				{Event: EventConfirm, To: StatusConfirmed},
				{Event: EventCancel, To: StatusCancelled},
			},
			StatusConfirmed: {
				{Event: EventReceive, To: StatusReceived},
			},
			StatusReceived: {
				{Event: EventRefund, To: StatusRefunded},
			},
		},
	}
}

// CoreReturnTable: PENDING -> {RECEIVED, REJECTED};
// RECEIVED -> {CREDITED, REJECTED}.
func CoreReturnTable() *Table {
	return &Table{
		Kind:     KindCoreReturn,
		Initial:  StatusPending,
		Terminal: map[State]bool{StatusCredited: true, StatusRejected: true},
		Edges: map[State][]Edge{
			StatusPending: {
				{Event: EventReceive, To: StatusReceived},
				{Event: EventReject, To: StatusRejected},
			},
			StatusReceived: {
				{Event: EventCredit, To: StatusCredited},
				{Event: EventReject, To: StatusRejected},
			},
		},
	}
}

// ReorderAlertTable: PENDING -> {ACKNOWLEDGED, PO_CREATED, RESOLVED};
// ACKNOWLEDGED -> {PO_CREATED, RESOLVED}. The alert lifecycle runs on
// the same engine as documents.
func ReorderAlertTable() *Table {
	return &Table{
		Kind:     KindReorderAlert,
		Initial:  StatusPending,
		Terminal: map[State]bool{StatusPOCreated: true, StatusResolved: true},
		Edges: map[State][]Edge{
			StatusPending: {
				{Event: EventAcknowledge, To: StatusAcknowledged},
				{Event: EventCreatePO, To: StatusPOCreated},
				{Event: EventResolve, To: StatusResolved},
			},
			StatusAcknowledged: {
				{Event: EventCreatePO, To: StatusPOCreated},
				{Event: EventResolve, To: StatusResolved},
			},
		},
	}
}

// TableFor returns the table for a document kind.
func TableFor(kind Kind) (*Table, bool) {
	switch kind {
	case KindQuote:
		return QuoteTable(), true
	case KindSalesOrder:
		return SalesOrderTable(), true
	case KindInvoice:
		return InvoiceTable(), true
	case KindPurchaseOrder:
		return PurchaseOrderTable(), true
	case KindBill:
		return BillTable(), true
	case KindSalesReturn:
		return SalesReturnTable(), true
	case KindCoreReturn:
		return CoreReturnTable(), true
	case KindReorderAlert:
		return ReorderAlertTable(), true
	default:
		return nil, false
	}
}

// AllTables enumerates every kind's table, used by wiring and tests.
func AllTables() []*Table {
	return []*Table{
		QuoteTable(),
		SalesOrderTable(),
		PurchaseOrderTable(),
		InvoiceTable(),
		BillTable(),
		SalesReturnTable(),
		CoreReturnTable(),
		ReorderAlertTable(),
	}
}
