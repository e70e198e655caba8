package money

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func ratePtr(percent string) *Rate {
	r, err := ParseRate(percent)
	if err != nil {
		panic(err)
	}
	return &r
}

func amountPtr(value string) *Amount {
	a := MustParse(value)
	return &a
}

func TestComputeLineDiscountAndTax(t *testing.T) {
	res, err := ComputeLine(LineInput{
		ItemID:          "item:1",
		Quantity:        10,
		UnitPrice:       MustParse("25.00"),
		DiscountPercent: ratePtr("10"),
		TaxRatePercent:  600,
	}, TaxExclusive)
	require.NoError(t, err)

	require.Equal(t, "250.00", res.Subtotal.String())
	require.Equal(t, "25.00", res.Discount.String())
	require.Equal(t, "225.00", res.Taxable.String())
	require.Equal(t, "13.50", res.Tax.String())
	require.Equal(t, "238.50", res.Amount.String())
}

func TestComputeLineAmountIdentity(t *testing.T) {
	cases := []LineInput{
		{ItemID: "a", Quantity: 1, UnitPrice: MustParse("0.01"), TaxRatePercent: 600},
		{ItemID: "b", Quantity: 3, UnitPrice: MustParse("19.99"), DiscountAmount: amountPtr("5.00")},
		{ItemID: "c", Quantity: 7, UnitPrice: MustParse("123.45"), DiscountPercent: ratePtr("12.5"), TaxRatePercent: 1000},
		{ItemID: "d", Quantity: 100, UnitPrice: MustParse("0.03"), DiscountPercent: ratePtr("33.33"), TaxRatePercent: 600},
		{ItemID: "e", Quantity: 2, UnitPrice: 0},
	}
	for _, in := range cases {
		res, err := ComputeLine(in, TaxExclusive)
		require.NoError(t, err, in.ItemID)
		require.Equal(t, res.Subtotal-res.Discount+res.Tax, res.Amount, in.ItemID)
		require.GreaterOrEqual(t, int64(res.Amount), int64(0), in.ItemID)
	}
}

func TestComputeLineTaxInclusive(t *testing.T) {
	// 106.00 inclusive of 6% backs out to a 100.00 unit price.
	res, err := ComputeLine(LineInput{
		ItemID:         "inc",
		Quantity:       1,
		UnitPrice:      MustParse("106.00"),
		TaxRatePercent: 600,
	}, TaxInclusive)
	require.NoError(t, err)
	require.Equal(t, "100.00", res.Subtotal.String())
	require.Equal(t, "6.00", res.Tax.String())
	require.Equal(t, "106.00", res.Amount.String())
}

func TestComputeLineRejectsBadInput(t *testing.T) {
	var invalid *InvalidLineError
	var ambiguous *AmbiguousDiscountError

	_, err := ComputeLine(LineInput{ItemID: "z", Quantity: 0, UnitPrice: 100}, TaxExclusive)
	require.ErrorAs(t, err, &invalid)

	_, err = ComputeLine(LineInput{ItemID: "z", Quantity: 1, UnitPrice: -1}, TaxExclusive)
	require.ErrorAs(t, err, &invalid)

	_, err = ComputeLine(LineInput{ItemID: "z", Quantity: 1, UnitPrice: 100, TaxRatePercent: 10001}, TaxExclusive)
	require.ErrorAs(t, err, &invalid)

	_, err = ComputeLine(LineInput{
		ItemID: "z", Quantity: 1, UnitPrice: 100,
		DiscountPercent: ratePtr("5"), DiscountAmount: amountPtr("1.00"),
	}, TaxExclusive)
	require.ErrorAs(t, err, &ambiguous)
	require.Equal(t, "z", ambiguous.ItemID)

	_, err = ComputeLine(LineInput{
		ItemID: "z", Quantity: 1, UnitPrice: MustParse("1.00"),
		DiscountAmount: amountPtr("2.00"),
	}, TaxExclusive)
	require.ErrorAs(t, err, &invalid)
}

func TestComputeDocumentTotals(t *testing.T) {
	lines := []LineInput{
		{ItemID: "a", Quantity: 10, UnitPrice: MustParse("25.00"), DiscountPercent: ratePtr("10"), TaxRatePercent: 600},
		{ItemID: "b", Quantity: 2, UnitPrice: MustParse("50.00")},
	}
	totals, results, err := ComputeDocument(lines, TaxExclusive, DocumentDiscount{}, MustParse("15.00"))
	require.NoError(t, err)
	require.Len(t, results, 2)

	require.Equal(t, "350.00", totals.Subtotal.String())
	require.Equal(t, "25.00", totals.DiscountTotal.String())
	require.Equal(t, "15.00", totals.Shipping.String())
	require.Equal(t, "13.50", totals.TaxTotal.String())
	require.Equal(t, "353.50", totals.GrandTotal.String())
	require.Equal(t, totals.Subtotal-totals.DiscountTotal+totals.Shipping+totals.TaxTotal, totals.GrandTotal)
}

func TestComputeDocumentPercentDiscountOnNetBase(t *testing.T) {
	lines := []LineInput{
		{ItemID: "a", Quantity: 1, UnitPrice: MustParse("100.00"), DiscountAmount: amountPtr("20.00")},
	}
	totals, _, err := ComputeDocument(lines, TaxExclusive, DocumentDiscount{Percent: ratePtr("10")}, 0)
	require.NoError(t, err)

	// 10% of the 80.00 net base, not of the 100.00 subtotal.
	require.Equal(t, "28.00", totals.DiscountTotal.String())
	require.Equal(t, "72.00", totals.GrandTotal.String())
}

func TestComputeDocumentFixedDiscountCapped(t *testing.T) {
	lines := []LineInput{
		{ItemID: "a", Quantity: 1, UnitPrice: MustParse("30.00")},
	}
	totals, _, err := ComputeDocument(lines, TaxExclusive, DocumentDiscount{Amount: amountPtr("500.00")}, 0)
	require.NoError(t, err)
	require.Equal(t, "30.00", totals.DiscountTotal.String())
	require.Equal(t, "0.00", totals.GrandTotal.String())
}

func TestComputeDocumentAmbiguousDiscount(t *testing.T) {
	lines := []LineInput{{ItemID: "a", Quantity: 1, UnitPrice: 100}}
	_, _, err := ComputeDocument(lines, TaxExclusive, DocumentDiscount{Percent: ratePtr("5"), Amount: amountPtr("1.00")}, 0)
	var ambiguous *AmbiguousDiscountError
	require.ErrorAs(t, err, &ambiguous)
	require.Empty(t, ambiguous.ItemID)
}

func TestComputeDocumentFailsOnFirstBadLine(t *testing.T) {
	lines := []LineInput{
		{ItemID: "ok", Quantity: 1, UnitPrice: 100},
		{ItemID: "bad", Quantity: -1, UnitPrice: 100},
	}
	_, _, err := ComputeDocument(lines, TaxExclusive, DocumentDiscount{}, 0)
	var invalid *InvalidLineError
	require.ErrorAs(t, err, &invalid)
	require.Equal(t, "bad", invalid.ItemID)
}

func TestParseRejectsExcessPrecision(t *testing.T) {
	_, err := Parse("10.005")
	var invalid *InvalidAmountError
	require.True(t, errors.As(err, &invalid))

	a, err := Parse("10.50")
	require.NoError(t, err)
	require.Equal(t, Amount(1050), a)
	require.Equal(t, "10.50", a.String())
}

func TestRoundingHalfUp(t *testing.T) {
	// 0.125 of a sen rounds up, 0.124 rounds down.
	require.Equal(t, Amount(13), mulRate(Amount(250), 500))
	require.Equal(t, Amount(12), mulRate(Amount(249), 500))
}
