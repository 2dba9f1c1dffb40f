package cart

import "testing"

func TestComputeTotalsWorkedExample(t *testing.T) {
	c := Cart{
		Lines:           []Line{{ProductID: "p1", Name: "Soap", UnitPrice: dec("10"), Quantity: 3, AvailableStock: 10}},
		DiscountPercent: dec("10"),
		TaxPercent:      dec("16"),
	}
	totals := ComputeTotals(c)

	if !totals.Subtotal.Equal(dec("30")) {
		t.Fatalf("subtotal: got %s, want 30", totals.Subtotal)
	}
	if !totals.Discount.Equal(dec("3")) {
		t.Fatalf("discount: got %s, want 3", totals.Discount)
	}
	if !totals.Taxable.Equal(dec("27")) {
		t.Fatalf("taxable: got %s, want 27", totals.Taxable)
	}
	if !totals.Tax.Equal(dec("4.32")) {
		t.Fatalf("tax: got %s, want 4.32", totals.Tax)
	}
	if !totals.GrandTotal.Equal(dec("31.32")) {
		t.Fatalf("grand total: got %s, want 31.32", totals.GrandTotal)
	}
}

func TestComputeTotalsEmptyCart(t *testing.T) {
	totals := ComputeTotals(Cart{DiscountPercent: dec("10"), TaxPercent: dec("16")})
	for name, v := range map[string]string{
		"subtotal": totals.Subtotal.String(),
		"discount": totals.Discount.String(),
		"taxable":  totals.Taxable.String(),
		"tax":      totals.Tax.String(),
		"grand":    totals.GrandTotal.String(),
	} {
		if v != "0" {
			t.Fatalf("%s: got %s, want 0", name, v)
		}
	}
}

func TestComputeTotalsIdempotent(t *testing.T) {
	c := Cart{
		Lines: []Line{
			{ProductID: "p1", UnitPrice: dec("19.99"), Quantity: 2, AvailableStock: 4},
			{ProductID: "p2", UnitPrice: dec("0.35"), Quantity: 7, AvailableStock: 9},
		},
		DiscountPercent: dec("12.5"),
		TaxPercent:      dec("18"),
	}
	first := ComputeTotals(c)
	second := ComputeTotals(c)

	if !first.Subtotal.Equal(second.Subtotal) || !first.Discount.Equal(second.Discount) ||
		!first.Taxable.Equal(second.Taxable) || !first.Tax.Equal(second.Tax) ||
		!first.GrandTotal.Equal(second.GrandTotal) {
		t.Fatalf("recomputation diverged: %+v vs %+v", first, second)
	}
}

func TestGrandTotalIdentity(t *testing.T) {
	carts := []Cart{
		{},
		{
			Lines:           []Line{{ProductID: "p1", UnitPrice: dec("3.33"), Quantity: 3, AvailableStock: 3}},
			DiscountPercent: dec("33.33"),
			TaxPercent:      dec("7.7"),
		},
		{
			Lines: []Line{
				{ProductID: "p1", UnitPrice: dec("100"), Quantity: 1, AvailableStock: 1},
				{ProductID: "p2", UnitPrice: dec("0.01"), Quantity: 99, AvailableStock: 99},
			},
			DiscountPercent: dec("100"),
			TaxPercent:      dec("16"),
		},
	}
	for i, c := range carts {
		totals := ComputeTotals(c)
		identity := totals.Subtotal.Sub(totals.Discount).Add(totals.Tax)
		if !totals.GrandTotal.Equal(identity) {
			t.Fatalf("cart %d: grand total %s != subtotal - discount + tax %s", i, totals.GrandTotal, identity)
		}
	}
}

func TestComputeTotalsZeroPercentages(t *testing.T) {
	c := Cart{Lines: []Line{{ProductID: "p1", UnitPrice: dec("5"), Quantity: 4, AvailableStock: 8}}}
	totals := ComputeTotals(c)
	if !totals.GrandTotal.Equal(dec("20")) {
		t.Fatalf("grand total: got %s, want 20", totals.GrandTotal)
	}
	if !totals.Discount.IsZero() || !totals.Tax.IsZero() {
		t.Fatalf("expected zero discount and tax, got %s / %s", totals.Discount, totals.Tax)
	}
}
