package payments

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/meridian-erp/meridian-erp/internal/docflow"
	"github.com/meridian-erp/meridian-erp/internal/money"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// ProjectionInvalidator drops cached projections for touched
// documents after an allocation commits.
type ProjectionInvalidator interface {
	Invalidate(ctx context.Context, documentIDs ...int64)
}

// Service applies payments across open invoices and bills.
type Service struct {
	repo        RepositoryPort
	audit       shared.AuditPort
	projections ProjectionInvalidator
	cfg         Config
	logger      *slog.Logger
}

// NewService constructs the payments service.
func NewService(repo RepositoryPort, audit shared.AuditPort, projections ProjectionInvalidator, cfg Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: audit, projections: projections, cfg: cfg, logger: logger}
}

// AllocateInput describes one payment and its requested splits, in
// the order they must be applied.
type AllocateInput struct {
	PartyID  int64
	Currency string
	Amount   money.Amount
	PaidAt   time.Time
	Method   string
	Note     string
	Requests []Request
	ActorID  int64
}

// AllocationResult reports what was applied.
type AllocationResult struct {
	Payment     Payment
	Allocations []Allocation
	Unallocated money.Amount
}

// Allocate records the payment and distributes it over the requested
// documents in one transaction: every target balance and status
// updates, or none does. Balances are re-read under lock, so a
// concurrent allocation either serializes behind this one or fails the
// version check with ConcurrentModificationError.
func (s *Service) Allocate(ctx context.Context, input AllocateInput) (*AllocationResult, error) {
	if input.Amount <= 0 {
		return nil, fmt.Errorf("payments: amount must be positive: %w", shared.ErrValidation)
	}
	if input.Currency == "" {
		input.Currency = money.DefaultCurrency
	}
	if err := money.ValidCurrency(input.Currency); err != nil {
		return nil, fmt.Errorf("%w: %w", shared.ErrValidation, err)
	}
	if input.PaidAt.IsZero() {
		input.PaidAt = time.Now()
	}

	var result AllocationResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		// Lock every requested target in request order and collect
		// current balances; the pure allocator then works on exactly
		// what this transaction sees.
		targetsByID := make(map[int64]TargetDoc, len(input.Requests))
		var targets []Target
		for _, req := range input.Requests {
			if _, seen := targetsByID[req.DocumentID]; seen {
				continue
			}
			t, err := tx.LockTarget(ctx, req.DocumentID)
			if err != nil {
				return err
			}
			if t.Kind != docflow.KindInvoice && t.Kind != docflow.KindBill {
				return fmt.Errorf("payments: document %d is a %s, not payable: %w", t.ID, t.Kind, shared.ErrValidation)
			}
			targetsByID[t.ID] = t
			targets = append(targets, Target{DocumentID: t.ID, Balance: t.Balance()})
		}

		allocations, unallocated, err := Allocate(input.Amount, targets, input.Requests, s.cfg)
		if err != nil {
			return err
		}

		payment := Payment{
			Reference:   uuid.NewString(),
			PartyID:     input.PartyID,
			Currency:    input.Currency,
			Amount:      input.Amount,
			Unallocated: unallocated,
			PaidAt:      input.PaidAt,
			Method:      input.Method,
			Note:        input.Note,
		}
		if _, err := tx.CreatePayment(ctx, &payment); err != nil {
			return err
		}

		// Merge per-document totals; a payment may split over the same
		// target more than once but the balance moves once.
		appliedByDoc := make(map[int64]money.Amount)
		for _, a := range allocations {
			appliedByDoc[a.DocumentID] += a.Amount
		}
		for docID, applied := range appliedByDoc {
			t := targetsByID[docID]
			newPaid := t.AmountPaid + applied
			view := docflow.View{ID: t.ID, Kind: t.Kind, Status: t.Status, Balance: t.GrandTotal - newPaid}
			machine, err := paymentMachine(t.Kind)
			if err != nil {
				return err
			}
			next, err := machine.Transition(ctx, view, docflow.EventPaymentApplied)
			if err != nil {
				return err
			}
			if err := tx.ApplyToTarget(ctx, docID, newPaid, next, t.Version); err != nil {
				return err
			}
		}

		for i, a := range allocations {
			row := AllocationRow{PaymentID: payment.ID, DocumentID: a.DocumentID, Amount: a.Amount, Position: i + 1}
			if err := tx.InsertAllocation(ctx, row); err != nil {
				return err
			}
		}

		result = AllocationResult{Payment: payment, Allocations: allocations, Unallocated: unallocated}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.recordAudit(ctx, input.ActorID, &result)
	if s.projections != nil {
		ids := make([]int64, 0, len(result.Allocations))
		for _, a := range result.Allocations {
			ids = append(ids, a.DocumentID)
		}
		s.projections.Invalidate(ctx, ids...)
	}
	return &result, nil
}

// GetPayment returns one payment with its allocation rows.
func (s *Service) GetPayment(ctx context.Context, id int64) (*Payment, []AllocationRow, error) {
	return s.repo.GetPayment(ctx, id)
}

// ListPayments returns recent payments.
func (s *Service) ListPayments(ctx context.Context, partyID int64, limit int) ([]Payment, error) {
	return s.repo.ListPayments(ctx, partyID, limit)
}

// paymentMachine builds the guard-free machine for payable kinds.
func paymentMachine(kind docflow.Kind) (*docflow.Machine, error) {
	table, ok := docflow.TableFor(kind)
	if !ok {
		return nil, fmt.Errorf("payments: no table for kind %s", kind)
	}
	// Invoice and Bill tables carry no guards; payment application is
	// constrained by the edge set alone.
	return docflow.NewMachine(table, nil)
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, result *AllocationResult) {
	if s.audit == nil {
		return
	}
	meta := map[string]any{
		"amount":      result.Payment.Amount.String(),
		"unallocated": result.Unallocated.String(),
		"targets":     len(result.Allocations),
	}
	entry := shared.AuditLog{
		ActorID:  actorID,
		Action:   "PAYMENT_ALLOCATE",
		Entity:   "PAYMENT",
		EntityID: result.Payment.Reference,
		Meta:     meta,
		At:       time.Now(),
	}
	if err := s.audit.Record(ctx, entry); err != nil {
		s.logger.Warn("audit record failed", slog.Any("error", err))
	}
}
