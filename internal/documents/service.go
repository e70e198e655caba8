package documents

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/meridian-erp/meridian-erp/internal/docflow"
	"github.com/meridian-erp/meridian-erp/internal/money"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// ProjectionInvalidator drops cached read-side projections for a
// document after its aggregate changed.
type ProjectionInvalidator interface {
	Invalidate(ctx context.Context, documentIDs ...int64)
}

// SubmissionResult is the advisory answer from the e-invoicing
// collaborator.
type SubmissionResult struct {
	Status      string
	ReferenceID string
}

// EInvoiceSubmitter submits an issued invoice to the tax authority
// collaborator. The engine neither blocks on nor retries it.
type EInvoiceSubmitter interface {
	Submit(ctx context.Context, doc *Document) (SubmissionResult, error)
}

// Service owns every mutation of document aggregates.
type Service struct {
	repo        RepositoryPort
	audit       shared.AuditPort
	projections ProjectionInvalidator
	submitter   EInvoiceSubmitter
	logger      *slog.Logger
}

// NewService constructs the documents service. Audit, projections and
// submitter may be nil where the caller does not wire them (tests).
func NewService(repo RepositoryPort, audit shared.AuditPort, projections ProjectionInvalidator, submitter EInvoiceSubmitter, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: audit, projections: projections, submitter: submitter, logger: logger}
}

// LineInput describes one requested line.
type LineInput struct {
	ItemID          int64
	Description     string
	Quantity        int64
	UnitPrice       money.Amount
	DiscountPercent *money.Rate
	DiscountAmount  *money.Amount
	TaxRateID       *int64
	TaxRatePercent  money.Rate
	LineOrder       int
}

// CreateInput describes a document to create in its initial state.
type CreateInput struct {
	Kind               docflow.Kind
	PartyID            int64
	Currency           string
	PricingMode        money.PricingMode
	IssueDate          time.Time
	DueDate            *time.Time
	ValidUntil         *time.Time
	SourceID           *int64
	Note               string
	Lines              []LineInput
	DocDiscountPercent *money.Rate
	DocDiscountAmount  *money.Amount
	Shipping           money.Amount
	ActorID            int64
}

// UpdateLinesInput replaces the line set of a draft document.
type UpdateLinesInput struct {
	Lines              []LineInput
	DocDiscountPercent *money.Rate
	DocDiscountAmount  *money.Amount
	Shipping           money.Amount
	// ExpectedVersion guards against concurrent edits; zero means
	// "the version as loaded in this call".
	ExpectedVersion int64
	ActorID         int64
}

func buildLines(inputs []LineInput) []Line {
	lines := make([]Line, len(inputs))
	for i, in := range inputs {
		order := in.LineOrder
		if order == 0 {
			order = i + 1
		}
		lines[i] = Line{
			ItemID:          in.ItemID,
			Description:     in.Description,
			Quantity:        in.Quantity,
			UnitPrice:       in.UnitPrice,
			DiscountPercent: in.DiscountPercent,
			DiscountAmount:  in.DiscountAmount,
			TaxRateID:       in.TaxRateID,
			TaxRatePercent:  in.TaxRatePercent,
			LineOrder:       order,
		}
	}
	return lines
}

// shippable kinds are the only ones that may carry a shipping charge.
func shippable(kind docflow.Kind) bool {
	return kind == docflow.KindSalesOrder || kind == docflow.KindPurchaseOrder
}

// recompute derives totals and per-line figures from inputs.
func recompute(doc *Document) error {
	calcInputs := make([]money.LineInput, len(doc.Lines))
	for i, l := range doc.Lines {
		calcInputs[i] = l.CalcInput()
	}
	totals, results, err := money.ComputeDocument(calcInputs, doc.PricingMode, doc.Discount(), doc.Totals.Shipping)
	if err != nil {
		return err
	}
	applyResults(doc.Lines, results)
	doc.Totals = totals
	return nil
}

// Create validates and persists a new document in its table's initial
// state, with totals computed from the lines.
func (s *Service) Create(ctx context.Context, input CreateInput) (*Document, error) {
	table, ok := docflow.TableFor(input.Kind)
	if !ok || input.Kind == docflow.KindReorderAlert {
		return nil, fmt.Errorf("documents: unsupported kind %q: %w", input.Kind, shared.ErrValidation)
	}
	if input.PartyID == 0 {
		return nil, fmt.Errorf("documents: party required: %w", shared.ErrValidation)
	}
	if len(input.Lines) == 0 {
		return nil, fmt.Errorf("documents: at least one line required: %w", shared.ErrValidation)
	}
	if input.Currency == "" {
		input.Currency = money.DefaultCurrency
	}
	if err := money.ValidCurrency(input.Currency); err != nil {
		return nil, fmt.Errorf("%w: %w", shared.ErrValidation, err)
	}
	if input.Shipping != 0 && !shippable(input.Kind) {
		return nil, fmt.Errorf("documents: shipping not allowed on %s: %w", input.Kind, shared.ErrValidation)
	}
	if input.PricingMode == "" {
		input.PricingMode = money.TaxExclusive
	}
	if input.IssueDate.IsZero() {
		input.IssueDate = time.Now()
	}

	doc := &Document{
		Kind:               input.Kind,
		Status:             table.Initial,
		PartyID:            input.PartyID,
		Currency:           input.Currency,
		PricingMode:        input.PricingMode,
		DocDiscountPercent: input.DocDiscountPercent,
		DocDiscountAmount:  input.DocDiscountAmount,
		SourceID:           input.SourceID,
		IssueDate:          input.IssueDate,
		DueDate:            input.DueDate,
		ValidUntil:         input.ValidUntil,
		Note:               input.Note,
		Lines:              buildLines(input.Lines),
	}
	doc.Totals.Shipping = input.Shipping
	if err := recompute(doc); err != nil {
		return nil, err
	}

	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		number, err := tx.NextNumber(ctx, doc.Kind, doc.IssueDate)
		if err != nil {
			return err
		}
		doc.Number = number
		_, err = tx.Insert(ctx, doc)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.recordAudit(ctx, input.ActorID, "DOC_CREATE", doc, map[string]any{"number": doc.Number, "kind": doc.Kind})
	return doc, nil
}

// UpdateDraftLines replaces the line set while the document is still
// in its initial state; anywhere else the aggregate is locked.
func (s *Service) UpdateDraftLines(ctx context.Context, id int64, input UpdateLinesInput) (*Document, error) {
	if len(input.Lines) == 0 {
		return nil, fmt.Errorf("documents: at least one line required: %w", shared.ErrValidation)
	}
	var updated *Document
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		doc, err := tx.Get(ctx, id)
		if err != nil {
			return err
		}
		table, _ := docflow.TableFor(doc.Kind)
		if !table.Editable(doc.Status) {
			return &docflow.DocumentLockedError{Kind: doc.Kind, Status: doc.Status}
		}
		if input.Shipping != 0 && !shippable(doc.Kind) {
			return fmt.Errorf("documents: shipping not allowed on %s: %w", doc.Kind, shared.ErrValidation)
		}
		expected := input.ExpectedVersion
		if expected == 0 {
			expected = doc.Version
		}
		doc.Lines = buildLines(input.Lines)
		for i := range doc.Lines {
			doc.Lines[i].DocumentID = doc.ID
		}
		doc.DocDiscountPercent = input.DocDiscountPercent
		doc.DocDiscountAmount = input.DocDiscountAmount
		doc.Totals.Shipping = input.Shipping
		if err := recompute(doc); err != nil {
			return err
		}
		if err := tx.Save(ctx, doc, expected); err != nil {
			return err
		}
		if err := tx.ReplaceLines(ctx, doc.ID, doc.Lines); err != nil {
			return err
		}
		updated = doc
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.recordAudit(ctx, input.ActorID, "DOC_UPDATE_LINES", updated, map[string]any{"lines": len(updated.Lines)})
	s.invalidate(ctx, updated)
	return updated, nil
}

// Transition applies one lifecycle event atomically: guard checks,
// state change and totals recompute commit together or not at all.
func (s *Service) Transition(ctx context.Context, id int64, event docflow.Event, actorID int64) (*Document, error) {
	var updated *Document
	var from docflow.State
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		doc, err := tx.Get(ctx, id)
		if err != nil {
			return err
		}
		machine, err := s.machineFor(doc.Kind, tx)
		if err != nil {
			return err
		}
		from = doc.Status
		next, err := machine.Transition(ctx, doc.View(), event)
		if err != nil {
			return err
		}
		doc.Status = next
		if err := recompute(doc); err != nil {
			return err
		}
		if err := tx.Save(ctx, doc, doc.Version); err != nil {
			return err
		}
		updated = doc
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.recordAudit(ctx, actorID, "DOC_TRANSITION", updated, map[string]any{
		"event": event,
		"from":  from,
		"to":    updated.Status,
	})
	s.invalidate(ctx, updated)
	s.notifyEInvoice(ctx, updated, event)
	return updated, nil
}

// Get loads one aggregate.
func (s *Service) Get(ctx context.Context, id int64) (*Document, error) {
	return s.repo.Get(ctx, id)
}

// List returns document headers.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Document, error) {
	return s.repo.List(ctx, filter)
}

// machineFor binds the kind's table to guards running against the
// current transaction, so guard reads see the same snapshot the write
// will commit against.
func (s *Service) machineFor(kind docflow.Kind, tx TxRepository) (*docflow.Machine, error) {
	table, ok := docflow.TableFor(kind)
	if !ok {
		return nil, fmt.Errorf("documents: unsupported kind %q: %w", kind, shared.ErrValidation)
	}
	guards := map[string]docflow.GuardFunc{
		docflow.GuardNoOpenInvoices: func(ctx context.Context, v docflow.View) error {
			n, err := tx.CountActiveChildren(ctx, v.ID, docflow.KindInvoice)
			if err != nil {
				return err
			}
			if n > 0 {
				return errors.New("order has unvoided invoices")
			}
			return nil
		},
		docflow.GuardNoActiveBills: func(ctx context.Context, v docflow.View) error {
			n, err := tx.CountActiveChildren(ctx, v.ID, docflow.KindBill)
			if err != nil {
				return err
			}
			if n > 0 {
				return errors.New("order has active bills")
			}
			return nil
		},
	}
	return docflow.NewMachine(table, guards)
}

func (s *Service) invalidate(ctx context.Context, doc *Document) {
	if s.projections == nil {
		return
	}
	ids := []int64{doc.ID}
	if doc.SourceID != nil {
		ids = append(ids, *doc.SourceID)
	}
	s.projections.Invalidate(ctx, ids...)
}

// notifyEInvoice forwards a freshly issued invoice to the tax
// collaborator. Failures are logged and dropped: submission is
// advisory and must never undo or block a committed transition.
func (s *Service) notifyEInvoice(ctx context.Context, doc *Document, event docflow.Event) {
	if s.submitter == nil || doc.Kind != docflow.KindInvoice || event != docflow.EventSend {
		return
	}
	res, err := s.submitter.Submit(ctx, doc)
	if err != nil {
		s.logger.Warn("e-invoice submission failed",
			slog.Int64("document_id", doc.ID),
			slog.Any("error", err))
		return
	}
	s.logger.Info("e-invoice submitted",
		slog.Int64("document_id", doc.ID),
		slog.String("status", res.Status),
		slog.String("reference", res.ReferenceID))
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, doc *Document, meta map[string]any) {
	if s.audit == nil || doc == nil {
		return
	}
	entry := shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   string(doc.Kind),
		EntityID: fmt.Sprintf("%d", doc.ID),
		Meta:     meta,
		At:       time.Now(),
	}
	if err := s.audit.Record(ctx, entry); err != nil {
		s.logger.Warn("audit record failed", slog.String("action", action), slog.Any("error", err))
	}
}
