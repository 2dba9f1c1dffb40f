// Package cart implements the in-memory POS cart: line merging against
// available stock, quantity and price edits, and total computation. All
// operations are pure value transformations; persistence and stock
// authority live elsewhere.
package cart

import (
	"errors"

	"github.com/shopspring/decimal"
)

var (
	// ErrOutOfStock is returned when merging a product whose available stock is zero.
	ErrOutOfStock = errors.New("cart: product out of stock")
	// ErrInvalidPrice is returned when a manual price edit is negative.
	ErrInvalidPrice = errors.New("cart: price cannot be negative")
	// ErrLineNotFound is returned when an edit targets a product not in the cart.
	ErrLineNotFound = errors.New("cart: line not found")
)

// Line is one product entry in an in-progress sale. Quantity is always at
// least 1 and never exceeds AvailableStock, the last-known stock ceiling
// captured when the product was merged.
type Line struct {
	ProductID      string          `json:"productId"`
	Name           string          `json:"name"`
	UnitPrice      decimal.Decimal `json:"unitPrice"`
	Quantity       int             `json:"quantity"`
	AvailableStock int             `json:"availableStock"`
}

// Cart holds the lines of a checkout session in insertion order together
// with the session-level discount and tax percentages.
type Cart struct {
	Lines           []Line          `json:"lines"`
	DiscountPercent decimal.Decimal `json:"discountPercent"`
	TaxPercent      decimal.Decimal `json:"taxPercent"`
}

// Incoming describes a scanned or selected product about to be merged.
// AvailableStock is the product's last-known stock at lookup time.
type Incoming struct {
	ProductID      string
	Name           string
	UnitPrice      decimal.Decimal
	AvailableStock int
}

// ClampQuantity bounds a requested quantity to [1, availableStock].
// Callers must reject zero-stock products before clamping; a floor of 1 on
// a zero-stock item would be wrong.
func ClampQuantity(requested, availableStock int) int {
	if requested < 1 {
		requested = 1
	}
	if requested > availableStock {
		requested = availableStock
	}
	return requested
}

// Merge adds the incoming product to the cart or increments its existing
// line. The existing line's unit price and stock ceiling are refreshed from
// the incoming snapshot: the product may have been repriced or restocked
// since it was first scanned, and the latest lookup wins. A rejected merge
// returns the cart unchanged.
func Merge(c Cart, in Incoming) (Cart, error) {
	if in.AvailableStock == 0 {
		return c, ErrOutOfStock
	}
	lines := make([]Line, len(c.Lines))
	copy(lines, c.Lines)
	for i, line := range lines {
		if line.ProductID != in.ProductID {
			continue
		}
		lines[i].Quantity = ClampQuantity(line.Quantity+1, in.AvailableStock)
		lines[i].UnitPrice = in.UnitPrice
		lines[i].AvailableStock = in.AvailableStock
		c.Lines = lines
		return c, nil
	}
	c.Lines = append(lines, Line{
		ProductID:      in.ProductID,
		Name:           in.Name,
		UnitPrice:      in.UnitPrice,
		Quantity:       1,
		AvailableStock: in.AvailableStock,
	})
	return c, nil
}

// SetQuantity applies a manual quantity edit, clamped against the line's
// current stock ceiling. Requests below 1 clamp to 1; removing a line is a
// separate explicit operation.
func SetQuantity(c Cart, productID string, requested int) (Cart, error) {
	idx := indexOf(c, productID)
	if idx < 0 {
		return c, ErrLineNotFound
	}
	lines := make([]Line, len(c.Lines))
	copy(lines, c.Lines)
	lines[idx].Quantity = ClampQuantity(requested, lines[idx].AvailableStock)
	c.Lines = lines
	return c, nil
}

// SetPrice applies a manual unit price edit to a single line.
func SetPrice(c Cart, productID string, price decimal.Decimal) (Cart, error) {
	if price.IsNegative() {
		return c, ErrInvalidPrice
	}
	idx := indexOf(c, productID)
	if idx < 0 {
		return c, ErrLineNotFound
	}
	lines := make([]Line, len(c.Lines))
	copy(lines, c.Lines)
	lines[idx].UnitPrice = price
	c.Lines = lines
	return c, nil
}

// RemoveLine deletes the line for the given product. Removing an absent
// product is a no-op.
func RemoveLine(c Cart, productID string) Cart {
	idx := indexOf(c, productID)
	if idx < 0 {
		return c
	}
	lines := make([]Line, 0, len(c.Lines)-1)
	lines = append(lines, c.Lines[:idx]...)
	lines = append(lines, c.Lines[idx+1:]...)
	c.Lines = lines
	return c
}

func indexOf(c Cart, productID string) int {
	for i, line := range c.Lines {
		if line.ProductID == productID {
			return i
		}
	}
	return -1
}
