package cart

import "github.com/shopspring/decimal"

var hundred = decimal.NewFromInt(100)

// Totals aggregates the computed amounts for a cart. Values carry full
// decimal precision; rounding is a display concern.
type Totals struct {
	Subtotal   decimal.Decimal `json:"subtotal"`
	Discount   decimal.Decimal `json:"discountAmount"`
	Taxable    decimal.Decimal `json:"taxableAmount"`
	Tax        decimal.Decimal `json:"taxAmount"`
	GrandTotal decimal.Decimal `json:"grandTotal"`
}

// ComputeTotals derives order totals from the cart. It holds no state and
// must be re-invoked after every mutation to lines, discount, or tax. A
// degenerate cart produces zero totals.
func ComputeTotals(c Cart) Totals {
	subtotal := decimal.Zero
	for _, line := range c.Lines {
		subtotal = subtotal.Add(line.UnitPrice.Mul(decimal.NewFromInt(int64(line.Quantity))))
	}
	discount := subtotal.Mul(c.DiscountPercent.Div(hundred))
	taxable := subtotal.Sub(discount)
	tax := taxable.Mul(c.TaxPercent.Div(hundred))
	return Totals{
		Subtotal:   subtotal,
		Discount:   discount,
		Taxable:    taxable,
		Tax:        tax,
		GrandTotal: taxable.Add(tax),
	}
}
