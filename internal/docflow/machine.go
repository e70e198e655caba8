package docflow

import (
	"context"
	"fmt"

	"github.com/meridian-erp/meridian-erp/internal/money"
)

// Kind identifies a document family with its own transition table.
type Kind string

const (
	KindQuote         Kind = "QUOTE"
	KindSalesOrder    Kind = "SALES_ORDER"
	KindInvoice       Kind = "INVOICE"
	KindPurchaseOrder Kind = "PURCHASE_ORDER"
	KindBill          Kind = "BILL"
	KindSalesReturn   Kind = "SALES_RETURN"
	KindCoreReturn    Kind = "CORE_RETURN"
	KindReorderAlert  Kind = "REORDER_ALERT"
)

// State is a named lifecycle state.
type State string

// Event is a named transition trigger.
type Event string

// View is the read-only slice of a document the engine needs to pick
// and guard an edge.
type View struct {
	ID      int64
	Kind    Kind
	Status  State
	Balance money.Amount
}

// GuardFunc checks a precondition beyond the (state, event) pair. A
// nil return lets the transition proceed; any error blocks it and is
// wrapped in GuardViolationError.
type GuardFunc func(ctx context.Context, v View) error

// Edge is one row of a transition table.
type Edge struct {
	Event  Event
	To     State
	Guards []string
	// Resolve overrides To when the destination depends on document
	// data, e.g. PaymentApplied landing on PARTIALLY_PAID or PAID.
	Resolve func(v View) State
}

// Table is the full transition table for one document kind.
type Table struct {
	Kind     Kind
	Initial  State
	Terminal map[State]bool
	Edges    map[State][]Edge
}

// IllegalTransitionError reports an event with no edge from the
// current state.
type IllegalTransitionError struct {
	Kind  Kind
	From  State
	Event Event
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("docflow: %s has no transition %s from %s", e.Kind, e.Event, e.From)
}

// GuardViolationError reports an edge blocked by an unmet
// precondition.
type GuardViolationError struct {
	Guard  string
	Reason string
}

func (e *GuardViolationError) Error() string {
	return fmt.Sprintf("docflow: guard %s: %s", e.Guard, e.Reason)
}

// DocumentLockedError reports an edit attempted outside the initial
// state.
type DocumentLockedError struct {
	Kind   Kind
	Status State
}

func (e *DocumentLockedError) Error() string {
	return fmt.Sprintf("docflow: %s in %s is not editable", e.Kind, e.Status)
}

// Editable reports whether line items may still be mutated. Only the
// initial (DRAFT/PENDING) state is editable.
func (t *Table) Editable(s State) bool {
	return s == t.Initial
}

// IsTerminal reports whether the state has no outgoing edges.
func (t *Table) IsTerminal(s State) bool {
	return t.Terminal[s]
}

// edge finds the table row for (from, event).
func (t *Table) edge(from State, ev Event) (Edge, error) {
	for _, e := range t.Edges[from] {
		if e.Event == ev {
			return e, nil
		}
	}
	return Edge{}, &IllegalTransitionError{Kind: t.Kind, From: from, Event: ev}
}

// Validate asserts structural invariants: terminal states carry no
// outgoing edges, every edge destination is a known state, and the
// initial state exists.
func (t *Table) Validate() error {
	states := map[State]bool{t.Initial: true}
	for s := range t.Terminal {
		states[s] = true
	}
	for from, edges := range t.Edges {
		states[from] = true
		for _, e := range edges {
			if e.To != "" {
				states[e.To] = true
			}
		}
	}
	for from, edges := range t.Edges {
		if t.Terminal[from] && len(edges) > 0 {
			return fmt.Errorf("docflow: %s terminal state %s has outgoing edges", t.Kind, from)
		}
		for _, e := range edges {
			if e.To == "" && e.Resolve == nil {
				return fmt.Errorf("docflow: %s edge %s from %s has no destination", t.Kind, e.Event, from)
			}
		}
	}
	if !states[t.Initial] {
		return fmt.Errorf("docflow: %s initial state missing", t.Kind)
	}
	return nil
}

// Machine binds a table to the guard implementations supplied by the
// owning service.
type Machine struct {
	table  *Table
	guards map[string]GuardFunc
}

// NewMachine wires guards into a table. Every guard named by an edge
// must be provided.
func NewMachine(table *Table, guards map[string]GuardFunc) (*Machine, error) {
	if err := table.Validate(); err != nil {
		return nil, err
	}
	for _, edges := range table.Edges {
		for _, e := range edges {
			for _, g := range e.Guards {
				if _, ok := guards[g]; !ok {
					return nil, fmt.Errorf("docflow: %s guard %s not provided", table.Kind, g)
				}
			}
		}
	}
	return &Machine{table: table, guards: guards}, nil
}

// Table exposes the bound table.
func (m *Machine) Table() *Table {
	return m.table
}

// Transition resolves the next state for (v.Status, ev), running
// guards first. It performs no writes; callers apply the returned
// state atomically with their own side effects.
func (m *Machine) Transition(ctx context.Context, v View, ev Event) (State, error) {
	e, err := m.table.edge(v.Status, ev)
	if err != nil {
		return "", err
	}
	for _, name := range e.Guards {
		if err := m.guards[name](ctx, v); err != nil {
			return "", &GuardViolationError{Guard: name, Reason: err.Error()}
		}
	}
	if e.Resolve != nil {
		return e.Resolve(v), nil
	}
	return e.To, nil
}
