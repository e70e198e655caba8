package payments

import (
	"errors"
	"fmt"

	"github.com/meridian-erp/meridian-erp/internal/money"
)

// Target is an open document eligible to receive part of a payment,
// with its balance as read by the caller.
type Target struct {
	DocumentID int64
	Balance    money.Amount
}

// Request is a caller-specified split of the payment. Order matters
// and is preserved for auditability.
type Request struct {
	DocumentID int64
	Amount     money.Amount
}

// Allocation is one applied split.
type Allocation struct {
	DocumentID int64
	Amount     money.Amount
}

// Config tunes allocation policy.
type Config struct {
	// AllowAdvance keeps an unallocated remainder as a valid outcome.
	// When false, any remainder rejects the whole allocation.
	AllowAdvance bool
}

// OverAllocationError reports requested splits exceeding the payment.
// Raised before any write.
type OverAllocationError struct {
	Payment   money.Amount
	Requested money.Amount
}

func (e *OverAllocationError) Error() string {
	return fmt.Sprintf("payments: requested %s exceeds payment %s", e.Requested, e.Payment)
}

// ErrAdvanceNotAllowed rejects a remainder when advances are disabled.
var ErrAdvanceNotAllowed = errors.New("payments: unallocated remainder not permitted")

// ErrUnknownTarget rejects a request against a document not offered as
// a target.
var ErrUnknownTarget = errors.New("payments: request references unknown target")

// Allocate splits payment across the requested documents. Pure: it
// reads the balances it is given and performs no I/O.
//
// Each request is clipped to the target's remaining balance, so the
// applied total can undershoot the requested total; the difference
// joins the unallocated remainder (an advance). Requests exceeding the
// payment amount fail with OverAllocationError before anything is
// applied.
func Allocate(payment money.Amount, targets []Target, requested []Request, cfg Config) ([]Allocation, money.Amount, error) {
	if payment <= 0 {
		return nil, 0, fmt.Errorf("payments: payment amount must be positive")
	}

	var totalRequested money.Amount
	for _, req := range requested {
		if req.Amount <= 0 {
			return nil, 0, fmt.Errorf("payments: allocation amount for document %d must be positive", req.DocumentID)
		}
		totalRequested += req.Amount
	}
	if totalRequested > payment {
		return nil, 0, &OverAllocationError{Payment: payment, Requested: totalRequested}
	}

	remaining := make(map[int64]money.Amount, len(targets))
	for _, t := range targets {
		remaining[t.DocumentID] = t.Balance
	}

	var allocations []Allocation
	var applied money.Amount
	for _, req := range requested {
		balance, ok := remaining[req.DocumentID]
		if !ok {
			return nil, 0, fmt.Errorf("%w: document %d", ErrUnknownTarget, req.DocumentID)
		}
		amount := req.Amount
		if amount > balance {
			amount = balance
		}
		if amount == 0 {
			continue
		}
		remaining[req.DocumentID] = balance - amount
		applied += amount
		allocations = append(allocations, Allocation{DocumentID: req.DocumentID, Amount: amount})
	}

	unallocated := payment - applied
	if unallocated > 0 && !cfg.AllowAdvance {
		return nil, 0, ErrAdvanceNotAllowed
	}
	return allocations, unallocated, nil
}
