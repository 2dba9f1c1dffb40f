package reports

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// ErrStoreUnavailable indicates the reports store dependency is not configured.
var ErrStoreUnavailable = errors.New("reports: store unavailable")

// SalesDay is one day of aggregated sales.
type SalesDay struct {
	Day        time.Time       `json:"day"`
	AllOrders  int64           `json:"allOrders"`
	PaidOrders int64           `json:"paidOrders"`
	Revenue    decimal.Decimal `json:"revenue"`
}

// InventoryLine is a product's stock position with its retail value.
type InventoryLine struct {
	ProductID   string          `json:"productId"`
	Name        string          `json:"name"`
	Barcode     string          `json:"barcode"`
	Stock       int             `json:"stock"`
	Price       decimal.Decimal `json:"price"`
	RetailValue decimal.Decimal `json:"retailValue"`
}

// BestSeller is a product ranked by quantity sold.
type BestSeller struct {
	ProductID    string          `json:"productId"`
	Name         string          `json:"name"`
	QuantitySold int64           `json:"quantitySold"`
	Revenue      decimal.Decimal `json:"revenue"`
}

// Querier defines the database access required for report aggregation.
type Querier interface {
	SalesDailyRange(ctx context.Context, from, to time.Time) ([]SalesDay, error)
	InventoryValuation(ctx context.Context) ([]InventoryLine, error)
	TopProducts(ctx context.Context, from, to time.Time, limit int) ([]BestSeller, error)
}

// NewQuerier constructs a Querier backed by a pgx connection pool.
func NewQuerier(pool *pgxpool.Pool) Querier {
	return &pgQuerier{pool: pool}
}

type pgQuerier struct {
	pool *pgxpool.Pool
}

// SalesDailyRange aggregates orders per day, inclusive of from and exclusive
// of to. Cancelled orders count toward allOrders but not revenue.
func (q *pgQuerier) SalesDailyRange(ctx context.Context, from, to time.Time) ([]SalesDay, error) {
	if q == nil || q.pool == nil {
		return nil, ErrStoreUnavailable
	}
	rows, err := q.pool.Query(ctx, `
		SELECT date_trunc('day', o.created_at) AS day,
		       COUNT(*) AS all_orders,
		       COUNT(*) FILTER (WHERE s.status = 'paid') AS paid_orders,
		       COALESCE(SUM(o.total_amount) FILTER (WHERE o.status <> 'cancelled'), 0) AS revenue
		FROM orders o
		LEFT JOIN sales s ON s.order_id = o.id
		WHERE o.created_at >= $1 AND o.created_at < $2
		GROUP BY 1
		ORDER BY 1`,
		from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SalesDay
	for rows.Next() {
		var d SalesDay
		if err := rows.Scan(&d.Day, &d.AllOrders, &d.PaidOrders, &d.Revenue); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// InventoryValuation lists every product with its stock and retail value,
// lowest stock first.
func (q *pgQuerier) InventoryValuation(ctx context.Context) ([]InventoryLine, error) {
	if q == nil || q.pool == nil {
		return nil, ErrStoreUnavailable
	}
	rows, err := q.pool.Query(ctx, `
		SELECT id, name, barcode, stock, price, price * stock AS retail_value
		FROM products
		ORDER BY stock ASC, name ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []InventoryLine
	for rows.Next() {
		var l InventoryLine
		if err := rows.Scan(&l.ProductID, &l.Name, &l.Barcode, &l.Stock, &l.Price, &l.RetailValue); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// TopProducts ranks products by quantity sold across non-cancelled orders in
// the given window.
func (q *pgQuerier) TopProducts(ctx context.Context, from, to time.Time, limit int) ([]BestSeller, error) {
	if q == nil || q.pool == nil {
		return nil, ErrStoreUnavailable
	}
	rows, err := q.pool.Query(ctx, `
		SELECT oi.product_id,
		       MAX(oi.name) AS name,
		       SUM(oi.quantity) AS quantity_sold,
		       SUM(oi.subtotal) AS revenue
		FROM order_items oi
		JOIN orders o ON o.id = oi.order_id
		WHERE o.status <> 'cancelled'
		  AND o.created_at >= $1 AND o.created_at < $2
		GROUP BY oi.product_id
		ORDER BY quantity_sold DESC, revenue DESC
		LIMIT $3`,
		from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []BestSeller
	for rows.Next() {
		var b BestSeller
		if err := rows.Scan(&b.ProductID, &b.Name, &b.QuantitySold, &b.Revenue); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}
