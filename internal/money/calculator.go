package money

import "fmt"

// PricingMode selects how unit prices relate to tax.
type PricingMode string

const (
	// TaxExclusive prices carry no tax; tax is added on the
	// post-discount taxable base.
	TaxExclusive PricingMode = "TAX_EXCLUSIVE"
	// TaxInclusive prices embed tax; it is backed out of the unit
	// price before any discounting.
	TaxInclusive PricingMode = "TAX_INCLUSIVE"
)

// LineInput is one priced document line.
type LineInput struct {
	ItemID          string
	Quantity        int64
	UnitPrice       Amount
	DiscountPercent *Rate
	DiscountAmount  *Amount
	TaxRateID       string
	TaxRatePercent  Rate
}

// LineResult carries the derived figures for a line. Every field is
// recomputed from LineInput; nothing here is authoritative on its own.
type LineResult struct {
	Subtotal Amount
	Discount Amount
	Taxable  Amount
	Tax      Amount
	Amount   Amount
}

// DocumentDiscount is an optional document-level discount, either a
// percent of the post-line-discount subtotal or a fixed amount capped
// at it.
type DocumentDiscount struct {
	Percent *Rate
	Amount  *Amount
}

// DocumentTotals aggregates line results with document-level discount
// and shipping.
type DocumentTotals struct {
	Subtotal      Amount
	DiscountTotal Amount
	Shipping      Amount
	TaxTotal      Amount
	GrandTotal    Amount
}

// InvalidLineError reports a line that cannot be priced.
type InvalidLineError struct {
	ItemID string
	Reason string
}

func (e *InvalidLineError) Error() string {
	return fmt.Sprintf("money: invalid line %s: %s", e.ItemID, e.Reason)
}

// AmbiguousDiscountError reports a line (or document, empty ItemID)
// carrying both a percent and a fixed discount.
type AmbiguousDiscountError struct {
	ItemID string
}

func (e *AmbiguousDiscountError) Error() string {
	if e.ItemID == "" {
		return "money: document discount percent and amount both set"
	}
	return fmt.Sprintf("money: line %s: discount percent and amount both set", e.ItemID)
}

// ComputeLine derives the line figures. Pure; no I/O.
func ComputeLine(in LineInput, mode PricingMode) (LineResult, error) {
	if in.Quantity <= 0 {
		return LineResult{}, &InvalidLineError{ItemID: in.ItemID, Reason: "quantity must be positive"}
	}
	if in.UnitPrice < 0 {
		return LineResult{}, &InvalidLineError{ItemID: in.ItemID, Reason: "unit price must not be negative"}
	}
	if in.TaxRatePercent < 0 || in.TaxRatePercent > rateScale {
		return LineResult{}, &InvalidLineError{ItemID: in.ItemID, Reason: "tax percent out of range"}
	}
	if in.DiscountPercent != nil && in.DiscountAmount != nil {
		return LineResult{}, &AmbiguousDiscountError{ItemID: in.ItemID}
	}

	unitPrice := in.UnitPrice
	if mode == TaxInclusive && in.TaxRatePercent > 0 {
		// Back the tax out of the inclusive price before discounting.
		unitPrice = roundHalfUpDiv(int64(in.UnitPrice)*rateScale, rateScale+int64(in.TaxRatePercent))
	}

	subtotal := Amount(in.Quantity) * unitPrice

	var discount Amount
	switch {
	case in.DiscountPercent != nil:
		p := *in.DiscountPercent
		if p < 0 || p > rateScale {
			return LineResult{}, &InvalidLineError{ItemID: in.ItemID, Reason: "discount percent out of range"}
		}
		discount = mulRate(subtotal, p)
	case in.DiscountAmount != nil:
		discount = *in.DiscountAmount
		if discount < 0 {
			return LineResult{}, &InvalidLineError{ItemID: in.ItemID, Reason: "discount amount must not be negative"}
		}
		if discount > subtotal {
			return LineResult{}, &InvalidLineError{ItemID: in.ItemID, Reason: "discount amount exceeds line subtotal"}
		}
	}

	taxable := subtotal - discount
	tax := mulRate(taxable, in.TaxRatePercent)

	return LineResult{
		Subtotal: subtotal,
		Discount: discount,
		Taxable:  taxable,
		Tax:      tax,
		Amount:   taxable + tax,
	}, nil
}

// ComputeDocument derives document totals from the lines plus an
// optional document-level discount and shipping charge. Pure; no I/O.
func ComputeDocument(lines []LineInput, mode PricingMode, docDiscount DocumentDiscount, shipping Amount) (DocumentTotals, []LineResult, error) {
	if shipping < 0 {
		return DocumentTotals{}, nil, &InvalidLineError{Reason: "shipping must not be negative"}
	}
	if docDiscount.Percent != nil && docDiscount.Amount != nil {
		return DocumentTotals{}, nil, &AmbiguousDiscountError{}
	}

	results := make([]LineResult, 0, len(lines))
	var subtotal, lineDiscounts, taxTotal Amount
	for _, in := range lines {
		res, err := ComputeLine(in, mode)
		if err != nil {
			return DocumentTotals{}, nil, err
		}
		results = append(results, res)
		subtotal += res.Subtotal
		lineDiscounts += res.Discount
		taxTotal += res.Tax
	}

	// Document-level discount applies to the subtotal net of line
	// discounts; a fixed discount is capped there so the grand total
	// cannot go negative from discounting alone.
	netBase := subtotal - lineDiscounts
	var docLevel Amount
	switch {
	case docDiscount.Percent != nil:
		p := *docDiscount.Percent
		if p < 0 || p > rateScale {
			return DocumentTotals{}, nil, &InvalidLineError{Reason: "document discount percent out of range"}
		}
		docLevel = mulRate(netBase, p)
	case docDiscount.Amount != nil:
		docLevel = *docDiscount.Amount
		if docLevel < 0 {
			return DocumentTotals{}, nil, &InvalidLineError{Reason: "document discount must not be negative"}
		}
		if docLevel > netBase {
			docLevel = netBase
		}
	}

	discountTotal := lineDiscounts + docLevel
	grand := subtotal - discountTotal + shipping + taxTotal

	return DocumentTotals{
		Subtotal:      subtotal,
		DiscountTotal: discountTotal,
		Shipping:      shipping,
		TaxTotal:      taxTotal,
		GrandTotal:    grand,
	}, results, nil
}
