package cart

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func TestClampQuantityBounds(t *testing.T) {
	cases := []struct {
		requested, stock, want int
	}{
		{5, 10, 5},
		{100, 7, 7},
		{0, 7, 1},
		{-5, 7, 1},
		{1, 1, 1},
	}
	for _, tc := range cases {
		if got := ClampQuantity(tc.requested, tc.stock); got != tc.want {
			t.Fatalf("ClampQuantity(%d, %d) = %d, want %d", tc.requested, tc.stock, got, tc.want)
		}
	}
}

func TestMergeAppendsNewLine(t *testing.T) {
	c, err := Merge(Cart{}, Incoming{ProductID: "p1", Name: "Soap", UnitPrice: dec("2.50"), AvailableStock: 5})
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if len(c.Lines) != 1 {
		t.Fatalf("expected 1 line, got %d", len(c.Lines))
	}
	if c.Lines[0].Quantity != 1 {
		t.Fatalf("expected quantity 1, got %d", c.Lines[0].Quantity)
	}
}

func TestMergeIncrementsExistingLine(t *testing.T) {
	in := Incoming{ProductID: "p1", Name: "Soap", UnitPrice: dec("2.50"), AvailableStock: 5}
	c, err := Merge(Cart{}, in)
	if err != nil {
		t.Fatalf("first merge: %v", err)
	}
	c, err = Merge(c, in)
	if err != nil {
		t.Fatalf("second merge: %v", err)
	}
	if len(c.Lines) != 1 {
		t.Fatalf("expected single merged line, got %d", len(c.Lines))
	}
	if c.Lines[0].Quantity != 2 {
		t.Fatalf("expected quantity 2, got %d", c.Lines[0].Quantity)
	}
}

func TestMergeClampsAtStockCeiling(t *testing.T) {
	in := Incoming{ProductID: "p1", Name: "Soap", UnitPrice: dec("2.50"), AvailableStock: 2}
	var c Cart
	var err error
	for i := 0; i < 4; i++ {
		c, err = Merge(c, in)
		if err != nil {
			t.Fatalf("merge %d: %v", i, err)
		}
	}
	if c.Lines[0].Quantity != 2 {
		t.Fatalf("expected quantity clamped to 2, got %d", c.Lines[0].Quantity)
	}
}

func TestMergeRejectsZeroStock(t *testing.T) {
	base, _ := Merge(Cart{}, Incoming{ProductID: "p1", Name: "Soap", UnitPrice: dec("2.50"), AvailableStock: 5})
	got, err := Merge(base, Incoming{ProductID: "p2", Name: "Towel", UnitPrice: dec("4.00"), AvailableStock: 0})
	if !errors.Is(err, ErrOutOfStock) {
		t.Fatalf("expected ErrOutOfStock, got %v", err)
	}
	if len(got.Lines) != len(base.Lines) {
		t.Fatalf("cart changed on rejected merge")
	}
}

func TestMergeRefreshesPriceAndStock(t *testing.T) {
	c, _ := Merge(Cart{}, Incoming{ProductID: "p1", Name: "Soap", UnitPrice: dec("2.50"), AvailableStock: 5})
	c, err := Merge(c, Incoming{ProductID: "p1", Name: "Soap", UnitPrice: dec("3.00"), AvailableStock: 8})
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if !c.Lines[0].UnitPrice.Equal(dec("3.00")) {
		t.Fatalf("expected refreshed price 3.00, got %s", c.Lines[0].UnitPrice)
	}
	if c.Lines[0].AvailableStock != 8 {
		t.Fatalf("expected refreshed stock 8, got %d", c.Lines[0].AvailableStock)
	}
}

func TestMergePreservesInsertionOrder(t *testing.T) {
	var c Cart
	for _, id := range []string{"p1", "p2", "p3"} {
		var err error
		c, err = Merge(c, Incoming{ProductID: id, Name: id, UnitPrice: dec("1.00"), AvailableStock: 3})
		if err != nil {
			t.Fatalf("merge %s: %v", id, err)
		}
	}
	c, _ = Merge(c, Incoming{ProductID: "p2", Name: "p2", UnitPrice: dec("1.00"), AvailableStock: 3})
	want := []string{"p1", "p2", "p3"}
	for i, id := range want {
		if c.Lines[i].ProductID != id {
			t.Fatalf("line %d: expected %s, got %s", i, id, c.Lines[i].ProductID)
		}
	}
}

func TestSetQuantityClampsHighAndLow(t *testing.T) {
	c, _ := Merge(Cart{}, Incoming{ProductID: "p1", Name: "Soap", UnitPrice: dec("2.50"), AvailableStock: 7})

	c, err := SetQuantity(c, "p1", 100)
	if err != nil {
		t.Fatalf("set quantity: %v", err)
	}
	if c.Lines[0].Quantity != 7 {
		t.Fatalf("expected clamp to 7, got %d", c.Lines[0].Quantity)
	}

	c, err = SetQuantity(c, "p1", -5)
	if err != nil {
		t.Fatalf("set quantity: %v", err)
	}
	if c.Lines[0].Quantity != 1 {
		t.Fatalf("expected clamp to 1, got %d", c.Lines[0].Quantity)
	}
}

func TestSetQuantityUnknownLine(t *testing.T) {
	_, err := SetQuantity(Cart{}, "missing", 3)
	if !errors.Is(err, ErrLineNotFound) {
		t.Fatalf("expected ErrLineNotFound, got %v", err)
	}
}

func TestSetPriceRejectsNegative(t *testing.T) {
	base, _ := Merge(Cart{}, Incoming{ProductID: "p1", Name: "Soap", UnitPrice: dec("2.50"), AvailableStock: 5})
	got, err := SetPrice(base, "p1", dec("-1"))
	if !errors.Is(err, ErrInvalidPrice) {
		t.Fatalf("expected ErrInvalidPrice, got %v", err)
	}
	if !got.Lines[0].UnitPrice.Equal(dec("2.50")) {
		t.Fatalf("price changed on rejected edit")
	}

	got, err = SetPrice(base, "p1", dec("1.75"))
	if err != nil {
		t.Fatalf("set price: %v", err)
	}
	if !got.Lines[0].UnitPrice.Equal(dec("1.75")) {
		t.Fatalf("expected price 1.75, got %s", got.Lines[0].UnitPrice)
	}
}

func TestRemoveLine(t *testing.T) {
	c, _ := Merge(Cart{}, Incoming{ProductID: "p1", Name: "Soap", UnitPrice: dec("2.50"), AvailableStock: 5})
	c, _ = Merge(c, Incoming{ProductID: "p2", Name: "Towel", UnitPrice: dec("4.00"), AvailableStock: 5})

	c = RemoveLine(c, "p1")
	if len(c.Lines) != 1 || c.Lines[0].ProductID != "p2" {
		t.Fatalf("unexpected lines after removal: %+v", c.Lines)
	}

	c = RemoveLine(c, "missing")
	if len(c.Lines) != 1 {
		t.Fatalf("removal of absent product mutated cart")
	}
}

func dec(v string) decimal.Decimal {
	d, err := decimal.NewFromString(v)
	if err != nil {
		panic(err)
	}
	return d
}
