package documents

import (
	"time"

	"github.com/meridian-erp/meridian-erp/internal/docflow"
	"github.com/meridian-erp/meridian-erp/internal/money"
)

// LineRequest is the boundary shape of one line. Monetary values are
// 2dp decimal strings; percents allow 2dp of percent.
type LineRequest struct {
	ItemID          int64   `json:"item_id" validate:"required"`
	Description     string  `json:"description"`
	Quantity        int64   `json:"quantity" validate:"required,gt=0"`
	UnitPrice       string  `json:"unit_price" validate:"required"`
	DiscountPercent *string `json:"discount_percent,omitempty"`
	DiscountAmount  *string `json:"discount_amount,omitempty"`
	TaxRateID       *int64  `json:"tax_rate_id,omitempty"`
	TaxPercent      string  `json:"tax_percent"`
	LineOrder       int     `json:"line_order"`
}

func (r LineRequest) toInput() (LineInput, error) {
	price, err := money.Parse(r.UnitPrice)
	if err != nil {
		return LineInput{}, err
	}
	in := LineInput{
		ItemID:      r.ItemID,
		Description: r.Description,
		Quantity:    r.Quantity,
		UnitPrice:   price,
		TaxRateID:   r.TaxRateID,
		LineOrder:   r.LineOrder,
	}
	if r.TaxPercent != "" {
		rate, err := money.ParseRate(r.TaxPercent)
		if err != nil {
			return LineInput{}, err
		}
		in.TaxRatePercent = rate
	}
	if r.DiscountPercent != nil {
		rate, err := money.ParseRate(*r.DiscountPercent)
		if err != nil {
			return LineInput{}, err
		}
		in.DiscountPercent = &rate
	}
	if r.DiscountAmount != nil {
		amt, err := money.Parse(*r.DiscountAmount)
		if err != nil {
			return LineInput{}, err
		}
		in.DiscountAmount = &amt
	}
	return in, nil
}

// CreateDocumentRequest is the JSON payload for document creation.
type CreateDocumentRequest struct {
	Kind            string        `json:"kind" validate:"required"`
	PartyID         int64         `json:"party_id" validate:"required"`
	Currency        string        `json:"currency"`
	PricingMode     string        `json:"pricing_mode"`
	IssueDate       *time.Time    `json:"issue_date,omitempty"`
	DueDate         *time.Time    `json:"due_date,omitempty"`
	ValidUntil      *time.Time    `json:"valid_until,omitempty"`
	SourceID        *int64        `json:"source_id,omitempty"`
	Note            string        `json:"note"`
	Lines           []LineRequest `json:"lines" validate:"required,min=1,dive"`
	DiscountPercent *string       `json:"discount_percent,omitempty"`
	DiscountAmount  *string       `json:"discount_amount,omitempty"`
	Shipping        string        `json:"shipping"`
}

func (r CreateDocumentRequest) toInput(actorID int64) (CreateInput, error) {
	in := CreateInput{
		Kind:        docflow.Kind(r.Kind),
		PartyID:     r.PartyID,
		Currency:    r.Currency,
		PricingMode: money.PricingMode(r.PricingMode),
		DueDate:     r.DueDate,
		ValidUntil:  r.ValidUntil,
		SourceID:    r.SourceID,
		Note:        r.Note,
		ActorID:     actorID,
	}
	if r.IssueDate != nil {
		in.IssueDate = *r.IssueDate
	}
	for _, lr := range r.Lines {
		line, err := lr.toInput()
		if err != nil {
			return CreateInput{}, err
		}
		in.Lines = append(in.Lines, line)
	}
	if r.DiscountPercent != nil {
		rate, err := money.ParseRate(*r.DiscountPercent)
		if err != nil {
			return CreateInput{}, err
		}
		in.DocDiscountPercent = &rate
	}
	if r.DiscountAmount != nil {
		amt, err := money.Parse(*r.DiscountAmount)
		if err != nil {
			return CreateInput{}, err
		}
		in.DocDiscountAmount = &amt
	}
	if r.Shipping != "" {
		shipping, err := money.Parse(r.Shipping)
		if err != nil {
			return CreateInput{}, err
		}
		in.Shipping = shipping
	}
	return in, nil
}

func parseRatePtr(value string) (*money.Rate, error) {
	rate, err := money.ParseRate(value)
	if err != nil {
		return nil, err
	}
	return &rate, nil
}

func parseAmountPtr(value string) (*money.Amount, error) {
	amt, err := money.Parse(value)
	if err != nil {
		return nil, err
	}
	return &amt, nil
}

// UpdateLinesRequest replaces a draft's lines.
type UpdateLinesRequest struct {
	Lines           []LineRequest `json:"lines" validate:"required,min=1,dive"`
	DiscountPercent *string       `json:"discount_percent,omitempty"`
	DiscountAmount  *string       `json:"discount_amount,omitempty"`
	Shipping        string        `json:"shipping"`
	ExpectedVersion int64         `json:"expected_version"`
}

// TransitionRequest names the lifecycle event to apply.
type TransitionRequest struct {
	Event string `json:"event" validate:"required"`
}

// LineResponse renders a line with derived figures.
type LineResponse struct {
	ID              int64   `json:"id"`
	ItemID          int64   `json:"item_id"`
	Description     string  `json:"description,omitempty"`
	Quantity        int64   `json:"quantity"`
	UnitPrice       string  `json:"unit_price"`
	DiscountPercent *string `json:"discount_percent,omitempty"`
	DiscountAmount  *string `json:"discount_amount,omitempty"`
	TaxRateID       *int64  `json:"tax_rate_id,omitempty"`
	TaxPercent      string  `json:"tax_percent"`
	Subtotal        string  `json:"subtotal"`
	Discount        string  `json:"discount"`
	Taxable         string  `json:"taxable"`
	Tax             string  `json:"tax"`
	Amount          string  `json:"amount"`
	LineOrder       int     `json:"line_order"`
}

// DocumentResponse renders a document aggregate.
type DocumentResponse struct {
	ID            int64          `json:"id"`
	Number        string         `json:"number"`
	Kind          string         `json:"kind"`
	Status        string         `json:"status"`
	PartyID       int64          `json:"party_id"`
	Currency      string         `json:"currency"`
	PricingMode   string         `json:"pricing_mode"`
	Subtotal      string         `json:"subtotal"`
	DiscountTotal string         `json:"discount_total"`
	Shipping      string         `json:"shipping"`
	TaxTotal      string         `json:"tax_total"`
	GrandTotal    string         `json:"grand_total"`
	AmountPaid    string         `json:"amount_paid,omitempty"`
	Balance       string         `json:"balance,omitempty"`
	SourceID      *int64         `json:"source_id,omitempty"`
	IssueDate     time.Time      `json:"issue_date"`
	DueDate       *time.Time     `json:"due_date,omitempty"`
	ValidUntil    *time.Time     `json:"valid_until,omitempty"`
	Note          string         `json:"note,omitempty"`
	Version       int64          `json:"version"`
	Lines         []LineResponse `json:"lines,omitempty"`
}

// ToResponse converts the aggregate to its boundary shape.
func ToResponse(d *Document) DocumentResponse {
	resp := DocumentResponse{
		ID:            d.ID,
		Number:        d.Number,
		Kind:          string(d.Kind),
		Status:        string(d.Status),
		PartyID:       d.PartyID,
		Currency:      d.Currency,
		PricingMode:   string(d.PricingMode),
		Subtotal:      d.Totals.Subtotal.String(),
		DiscountTotal: d.Totals.DiscountTotal.String(),
		Shipping:      d.Totals.Shipping.String(),
		TaxTotal:      d.Totals.TaxTotal.String(),
		GrandTotal:    d.Totals.GrandTotal.String(),
		SourceID:      d.SourceID,
		IssueDate:     d.IssueDate,
		DueDate:       d.DueDate,
		ValidUntil:    d.ValidUntil,
		Note:          d.Note,
		Version:       d.Version,
	}
	if d.Payable() {
		resp.AmountPaid = d.AmountPaid.String()
		resp.Balance = d.Balance().String()
	}
	for _, l := range d.Lines {
		lr := LineResponse{
			ID:          l.ID,
			ItemID:      l.ItemID,
			Description: l.Description,
			Quantity:    l.Quantity,
			UnitPrice:   l.UnitPrice.String(),
			TaxRateID:   l.TaxRateID,
			TaxPercent:  l.TaxRatePercent.Percent(),
			Subtotal:    l.Subtotal.String(),
			Discount:    l.Discount.String(),
			Taxable:     l.Taxable.String(),
			Tax:         l.Tax.String(),
			Amount:      l.Amount.String(),
			LineOrder:   l.LineOrder,
		}
		if l.DiscountPercent != nil {
			p := l.DiscountPercent.Percent()
			lr.DiscountPercent = &p
		}
		if l.DiscountAmount != nil {
			a := l.DiscountAmount.String()
			lr.DiscountAmount = &a
		}
		resp.Lines = append(resp.Lines, lr)
	}
	return resp
}
