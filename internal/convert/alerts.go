package convert

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/meridian-erp/meridian-erp/internal/docflow"
	"github.com/meridian-erp/meridian-erp/internal/documents"
	"github.com/meridian-erp/meridian-erp/internal/money"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// AlertToPOInput describes one purchase order to raise from a reorder
// alert. The alert knows the item and quantity; the supplier and unit
// cost come from the caller.
type AlertToPOInput struct {
	AlertID    int64
	SupplierID int64
	UnitPrice  money.Amount
	Currency   string
	ActorID    int64
}

// AlertToPO creates a draft purchase order for the alert's suggested
// quantity and closes the alert as PO_CREATED. The order is created
// first; if that fails the alert stays open and untouched.
func (s *Service) AlertToPO(ctx context.Context, input AlertToPOInput) (*documents.Document, error) {
	if s.alerts == nil {
		return nil, fmt.Errorf("convert: alert service not wired")
	}
	alert, err := s.alerts.GetAlert(ctx, input.AlertID)
	if err != nil {
		return nil, err
	}
	if !alert.Open() {
		return nil, &docflow.IllegalTransitionError{Kind: docflow.KindReorderAlert, From: alert.Status, Event: docflow.EventCreatePO}
	}
	if input.SupplierID == 0 {
		return nil, fmt.Errorf("convert: supplier required: %w", shared.ErrValidation)
	}
	if input.UnitPrice < 0 {
		return nil, fmt.Errorf("convert: unit price must not be negative: %w", shared.ErrValidation)
	}
	if input.Currency == "" {
		input.Currency = money.DefaultCurrency
	}

	qty := alert.SuggestedQty
	if qty <= 0 {
		qty = 1
	}
	table := mustTable(docflow.KindPurchaseOrder)
	po := &documents.Document{
		Kind:        docflow.KindPurchaseOrder,
		Status:      table.Initial,
		PartyID:     input.SupplierID,
		Currency:    input.Currency,
		PricingMode: money.TaxExclusive,
		IssueDate:   time.Now(),
		Lines: []documents.Line{{
			ItemID:    alert.ItemID,
			Quantity:  qty,
			UnitPrice: input.UnitPrice,
			LineOrder: 1,
		}},
	}

	calcInputs := []money.LineInput{po.Lines[0].CalcInput()}
	totals, results, err := money.ComputeDocument(calcInputs, po.PricingMode, money.DocumentDiscount{}, 0)
	if err != nil {
		return nil, err
	}
	po.Lines[0].Subtotal = results[0].Subtotal
	po.Lines[0].Discount = results[0].Discount
	po.Lines[0].Taxable = results[0].Taxable
	po.Lines[0].Tax = results[0].Tax
	po.Lines[0].Amount = results[0].Amount
	po.Totals = totals

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx documents.TxRepository) error {
		number, err := tx.NextNumber(ctx, po.Kind, po.IssueDate)
		if err != nil {
			return err
		}
		po.Number = number
		_, err = tx.Insert(ctx, po)
		return err
	})
	if err != nil {
		return nil, err
	}

	if _, err := s.alerts.MarkPOCreated(ctx, alert.ID, input.ActorID, po.ID); err != nil {
		// The order exists either way; surface the alert failure so the
		// caller can retry closing it.
		s.logger.Error("alert close after po create",
			slog.Int64("alert_id", alert.ID),
			slog.Int64("po_id", po.ID),
			slog.Any("error", err))
		return po, fmt.Errorf("convert: po %d created but alert %d not closed: %w", po.ID, alert.ID, err)
	}

	s.recordAudit(ctx, input.ActorID, "ALERT_TO_PO", po, map[string]any{
		"alert_id": alert.ID,
		"item_id":  alert.ItemID,
		"quantity": qty,
	})
	return po, nil
}

// BatchOptions tunes batch conversion behaviour.
type BatchOptions struct {
	// StopOnError aborts the batch at the first failure instead of
	// reporting it and continuing.
	StopOnError bool
}

// BatchResult is the outcome for one alert in a batch.
type BatchResult struct {
	AlertID int64
	POID    int64
	Err     error
}

// POsFromAlerts raises purchase orders for many alerts, each
// independently: one failure never rolls back the orders already
// created.
func (s *Service) POsFromAlerts(ctx context.Context, inputs []AlertToPOInput, opts BatchOptions) []BatchResult {
	results := make([]BatchResult, 0, len(inputs))
	for _, in := range inputs {
		res := BatchResult{AlertID: in.AlertID}
		po, err := s.AlertToPO(ctx, in)
		if err != nil {
			res.Err = err
		}
		if po != nil {
			res.POID = po.ID
		}
		results = append(results, res)
		if err != nil && opts.StopOnError {
			break
		}
	}
	return results
}
