package convert

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/meridian-erp/meridian-erp/internal/alerts"
	"github.com/meridian-erp/meridian-erp/internal/docflow"
	"github.com/meridian-erp/meridian-erp/internal/documents"
	"github.com/meridian-erp/meridian-erp/internal/money"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// AlertCloser is the slice of the alerts service the pipeline needs.
type AlertCloser interface {
	GetAlert(ctx context.Context, id int64) (*alerts.ReorderAlert, error)
	MarkPOCreated(ctx context.Context, id, actorID, poID int64) (*alerts.ReorderAlert, error)
}

// ProjectionInvalidator drops cached projections after a conversion.
type ProjectionInvalidator interface {
	Invalidate(ctx context.Context, documentIDs ...int64)
}

// Service clones documents down the lifecycle chain. Each conversion
// creates the child and moves the parent inside one transaction, so a
// failed child create leaves the parent exactly as it was.
type Service struct {
	repo        documents.RepositoryPort
	alerts      AlertCloser
	audit       shared.AuditPort
	projections ProjectionInvalidator
	logger      *slog.Logger
}

// NewService constructs the conversion service.
func NewService(repo documents.RepositoryPort, alertCloser AlertCloser, audit shared.AuditPort, projections ProjectionInvalidator, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, alerts: alertCloser, audit: audit, projections: projections, logger: logger}
}

// ConvertInput carries the per-conversion knobs.
type ConvertInput struct {
	// DueDate applies to the created invoice or bill.
	DueDate *time.Time
	ActorID int64
}

// QuoteToOrder converts an accepted (or still circulating) quote into
// a draft sales order carrying the same lines, and marks the quote
// CONVERTED.
func (s *Service) QuoteToOrder(ctx context.Context, quoteID int64, input ConvertInput) (*documents.Document, error) {
	ev := docflow.EventConvert
	return s.convert(ctx, quoteID, docflow.KindQuote, docflow.KindSalesOrder, &ev, input)
}

// OrderToInvoice creates a draft invoice from a confirmed sales order.
// The order's own status does not move: how much of it is invoiced is
// a projection over its children.
func (s *Service) OrderToInvoice(ctx context.Context, orderID int64, input ConvertInput) (*documents.Document, error) {
	return s.convert(ctx, orderID, docflow.KindSalesOrder, docflow.KindInvoice, nil, input)
}

// POToBill creates a draft bill from an issued purchase order.
func (s *Service) POToBill(ctx context.Context, poID int64, input ConvertInput) (*documents.Document, error) {
	return s.convert(ctx, poID, docflow.KindPurchaseOrder, docflow.KindBill, nil, input)
}

// convertible reports whether the parent can spawn a child right now.
// Quotes additionally pass through their own CONVERT edge; for orders
// the rule is "confirmed and not dead".
func convertible(doc *documents.Document) error {
	switch doc.Status {
	case docflow.StatusDraft:
		return &docflow.DocumentLockedError{Kind: doc.Kind, Status: doc.Status}
	case docflow.StatusCancelled, docflow.StatusVoid, docflow.StatusRejected, docflow.StatusExpired:
		return &docflow.IllegalTransitionError{Kind: doc.Kind, From: doc.Status, Event: docflow.EventConvert}
	}
	return nil
}

func (s *Service) convert(ctx context.Context, parentID int64, parentKind, childKind docflow.Kind, parentEvent *docflow.Event, input ConvertInput) (*documents.Document, error) {
	var child *documents.Document
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx documents.TxRepository) error {
		parent, err := tx.Get(ctx, parentID)
		if err != nil {
			return err
		}
		if parent.Kind != parentKind {
			return fmt.Errorf("convert: document %d is a %s, expected %s: %w", parentID, parent.Kind, parentKind, shared.ErrValidation)
		}

		if parentEvent != nil {
			// The parent's own table decides whether conversion is legal
			// from its current state.
			machine, err := docflow.NewMachine(mustTable(parentKind), nil)
			if err != nil {
				return err
			}
			next, err := machine.Transition(ctx, parent.View(), *parentEvent)
			if err != nil {
				return err
			}
			parent.Status = next
		} else if err := convertible(parent); err != nil {
			return err
		}

		child, err = s.buildChild(parent, childKind, input.DueDate)
		if err != nil {
			return err
		}
		number, err := tx.NextNumber(ctx, childKind, child.IssueDate)
		if err != nil {
			return err
		}
		child.Number = number
		if _, err := tx.Insert(ctx, child); err != nil {
			return err
		}
		if parentEvent != nil {
			if err := tx.Save(ctx, parent, parent.Version); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.recordAudit(ctx, input.ActorID, "DOC_CONVERT", child, map[string]any{
		"source_id": parentID,
		"from_kind": parentKind,
		"to_kind":   childKind,
	})
	if s.projections != nil {
		s.projections.Invalidate(ctx, parentID, child.ID)
	}
	return child, nil
}

// buildChild clones the parent's lines and reprices them from inputs;
// stored derived figures on the parent are never trusted across the
// conversion.
func (s *Service) buildChild(parent *documents.Document, childKind docflow.Kind, dueDate *time.Time) (*documents.Document, error) {
	table := mustTable(childKind)
	sourceID := parent.ID
	child := &documents.Document{
		Kind:               childKind,
		Status:             table.Initial,
		PartyID:            parent.PartyID,
		Currency:           parent.Currency,
		PricingMode:        parent.PricingMode,
		DocDiscountPercent: parent.DocDiscountPercent,
		DocDiscountAmount:  parent.DocDiscountAmount,
		SourceID:           &sourceID,
		IssueDate:          time.Now(),
		DueDate:            dueDate,
		Lines:              cloneLines(parent.Lines),
	}
	// Shipping stays on orders; invoices and bills carry the goods
	// value only.
	if childKind == docflow.KindSalesOrder || childKind == docflow.KindPurchaseOrder {
		child.Totals.Shipping = parent.Totals.Shipping
	}

	calcInputs := make([]money.LineInput, len(child.Lines))
	for i, l := range child.Lines {
		calcInputs[i] = l.CalcInput()
	}
	totals, results, err := money.ComputeDocument(calcInputs, child.PricingMode, child.Discount(), child.Totals.Shipping)
	if err != nil {
		return nil, err
	}
	for i := range child.Lines {
		child.Lines[i].Subtotal = results[i].Subtotal
		child.Lines[i].Discount = results[i].Discount
		child.Lines[i].Taxable = results[i].Taxable
		child.Lines[i].Tax = results[i].Tax
		child.Lines[i].Amount = results[i].Amount
	}
	child.Totals = totals
	return child, nil
}

func cloneLines(src []documents.Line) []documents.Line {
	out := make([]documents.Line, len(src))
	for i, l := range src {
		out[i] = documents.Line{
			ItemID:          l.ItemID,
			Description:     l.Description,
			Quantity:        l.Quantity,
			UnitPrice:       l.UnitPrice,
			DiscountPercent: l.DiscountPercent,
			DiscountAmount:  l.DiscountAmount,
			TaxRateID:       l.TaxRateID,
			TaxRatePercent:  l.TaxRatePercent,
			LineOrder:       l.LineOrder,
		}
	}
	return out
}

func mustTable(kind docflow.Kind) *docflow.Table {
	table, ok := docflow.TableFor(kind)
	if !ok {
		panic(fmt.Sprintf("convert: no table for kind %s", kind))
	}
	return table
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, doc *documents.Document, meta map[string]any) {
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
		s.logger.Warn("audit record failed", slog.Any("error", err))
	}
}
