package sales

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// ErrStoreUnavailable indicates the sales store dependency is not configured.
var ErrStoreUnavailable = errors.New("sales: store unavailable")

// ErrInsufficientStock is returned when an order line exceeds available stock
// at commit time.
var ErrInsufficientStock = errors.New("sales: insufficient stock")

// ErrOrderNotCancellable is returned when cancelling an order whose payment
// has already been taken.
var ErrOrderNotCancellable = errors.New("sales: order has an active payment")

// ErrAlreadyCancelled is returned when cancelling a cancelled order twice.
var ErrAlreadyCancelled = errors.New("sales: order already cancelled")

// Order statuses.
const (
	OrderPending   = "pending"
	OrderCompleted = "completed"
	OrderCancelled = "cancelled"
)

// Sale (payment) statuses.
const (
	SalePending  = "pending"
	SalePaid     = "paid"
	SaleHalfPaid = "half-paid"
	SaleRefunded = "refunded"
	SaleVoided   = "voided"
)

// Order is a stored POS order with its computed totals.
type Order struct {
	ID              uuid.UUID
	InvoiceNumber   string
	CustomerName    string
	Status          string
	DiscountPercent decimal.Decimal
	TaxPercent      decimal.Decimal
	Subtotal        decimal.Decimal
	DiscountAmount  decimal.Decimal
	TaxableAmount   decimal.Decimal
	TaxAmount       decimal.Decimal
	TotalAmount     decimal.Decimal
	PreparedBy      *uuid.UUID
	CreatedAt       time.Time
	UpdatedAt       time.Time
	Items           []OrderItem
	Sale            *Sale
}

// OrderItem is one line of a stored order.
type OrderItem struct {
	ID        uuid.UUID
	OrderID   uuid.UUID
	ProductID uuid.UUID
	Name      string
	Quantity  int
	UnitPrice decimal.Decimal
	Subtotal  decimal.Decimal
}

// Sale is the payment record attached to an order.
type Sale struct {
	ID            uuid.UUID
	OrderID       uuid.UUID
	InvoiceNumber string
	OrderTotal    decimal.Decimal
	Status        string
	AmountPaid    decimal.Decimal
	PaymentMethod string
	Notes         string
	PaidAt        *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ProductSnapshot is the authoritative product state an order is built from.
type ProductSnapshot struct {
	ID    uuid.UUID
	Name  string
	Price decimal.Decimal
	Stock int
}

// DraftItem is a fully resolved order line ready to persist.
type DraftItem struct {
	ProductID uuid.UUID
	Name      string
	Quantity  int
	UnitPrice decimal.Decimal
	Subtotal  decimal.Decimal
}

// OrderDraft carries everything CreateOrder persists in one transaction.
type OrderDraft struct {
	InvoicePrefix   string
	CustomerName    string
	DiscountPercent decimal.Decimal
	TaxPercent      decimal.Decimal
	Subtotal        decimal.Decimal
	DiscountAmount  decimal.Decimal
	TaxableAmount   decimal.Decimal
	TaxAmount       decimal.Decimal
	TotalAmount     decimal.Decimal
	PreparedBy      *uuid.UUID
	Items           []DraftItem
}

// OrderFilter captures list filters for orders.
type OrderFilter struct {
	Status string
	Limit  int
	Offset int
}

// SaleFilter captures list filters for sales.
type SaleFilter struct {
	Status string
	Limit  int
	Offset int
}

// Store provides database accessors for orders and sales.
type Store interface {
	GetProducts(ctx context.Context, ids []uuid.UUID) ([]ProductSnapshot, error)
	CreateOrder(ctx context.Context, draft OrderDraft) (Order, error)
	GetOrder(ctx context.Context, id uuid.UUID) (Order, error)
	ListOrders(ctx context.Context, filter OrderFilter) ([]Order, error)
	CountOrders(ctx context.Context, filter OrderFilter) (int64, error)
	CancelOrder(ctx context.Context, id uuid.UUID) (Order, error)
	GetSale(ctx context.Context, id uuid.UUID) (Sale, error)
	ListSales(ctx context.Context, filter SaleFilter) ([]Sale, error)
	CountSales(ctx context.Context, filter SaleFilter) (int64, error)
	AddSalePayment(ctx context.Context, id uuid.UUID, amount decimal.Decimal, method, notes string) (Sale, error)
	UpdateSalePayment(ctx context.Context, sale Sale) (Sale, error)
}

// NewStore constructs a Store backed by a pgx connection pool.
func NewStore(pool *pgxpool.Pool) Store {
	return &pgStore{pool: pool}
}

type pgStore struct {
	pool *pgxpool.Pool
}

// GetProducts fetches product snapshots for the given IDs.
func (s *pgStore) GetProducts(ctx context.Context, ids []uuid.UUID) ([]ProductSnapshot, error) {
	if s == nil || s.pool == nil {
		return nil, ErrStoreUnavailable
	}
	rows, err := s.pool.Query(ctx, `SELECT id, name, price, stock FROM products WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	snapshots := make([]ProductSnapshot, 0, len(ids))
	for rows.Next() {
		var p ProductSnapshot
		if err := rows.Scan(&p.ID, &p.Name, &p.Price, &p.Stock); err != nil {
			return nil, err
		}
		snapshots = append(snapshots, p)
	}
	return snapshots, rows.Err()
}

// CreateOrder persists an order with its items, decrements stock, writes the
// matching exit movements, and opens the pending sale. Stock decrements are
// conditional: a line that no longer fits available stock aborts the whole
// transaction with ErrInsufficientStock.
func (s *pgStore) CreateOrder(ctx context.Context, draft OrderDraft) (Order, error) {
	if s == nil || s.pool == nil {
		return Order{}, ErrStoreUnavailable
	}
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Order{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// The per-prefix counter upsert takes a row lock, so concurrent checkouts
	// for the same day serialize here and each sees a distinct sequence.
	var seq int
	if err := tx.QueryRow(ctx, `INSERT INTO invoice_counters (prefix, value)
VALUES ($1, 1)
ON CONFLICT (prefix) DO UPDATE SET value = invoice_counters.value + 1
RETURNING value`, draft.InvoicePrefix).Scan(&seq); err != nil {
		return Order{}, err
	}
	invoice := fmt.Sprintf("%s%04d", draft.InvoicePrefix, seq)

	order := Order{
		InvoiceNumber:   invoice,
		CustomerName:    draft.CustomerName,
		Status:          OrderPending,
		DiscountPercent: draft.DiscountPercent,
		TaxPercent:      draft.TaxPercent,
		Subtotal:        draft.Subtotal,
		DiscountAmount:  draft.DiscountAmount,
		TaxableAmount:   draft.TaxableAmount,
		TaxAmount:       draft.TaxAmount,
		TotalAmount:     draft.TotalAmount,
		PreparedBy:      draft.PreparedBy,
	}
	row := tx.QueryRow(ctx, `INSERT INTO orders (invoice_number, customer_name, status, discount_percent, tax_percent, subtotal, discount_amount, taxable_amount, tax_amount, total_amount, prepared_by)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
RETURNING id, created_at, updated_at`,
		invoice, draft.CustomerName, OrderPending, draft.DiscountPercent, draft.TaxPercent,
		draft.Subtotal, draft.DiscountAmount, draft.TaxableAmount, draft.TaxAmount, draft.TotalAmount, draft.PreparedBy)
	if err := row.Scan(&order.ID, &order.CreatedAt, &order.UpdatedAt); err != nil {
		return Order{}, err
	}

	order.Items = make([]OrderItem, 0, len(draft.Items))
	for _, item := range draft.Items {
		tag, err := tx.Exec(ctx, `UPDATE products SET stock = stock - $2, updated_at = now()
WHERE id = $1 AND stock >= $2`, item.ProductID, item.Quantity)
		if err != nil {
			return Order{}, err
		}
		if tag.RowsAffected() == 0 {
			return Order{}, ErrInsufficientStock
		}
		if _, err := tx.Exec(ctx, `INSERT INTO stock_movements (product_id, type, quantity, reason, created_by)
VALUES ($1, 'exit', $2, 'sold', $3)`, item.ProductID, item.Quantity, draft.PreparedBy); err != nil {
			return Order{}, err
		}
		stored := OrderItem{
			OrderID:   order.ID,
			ProductID: item.ProductID,
			Name:      item.Name,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			Subtotal:  item.Subtotal,
		}
		if err := tx.QueryRow(ctx, `INSERT INTO order_items (order_id, product_id, name, quantity, unit_price, subtotal)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING id`, order.ID, item.ProductID, item.Name, item.Quantity, item.UnitPrice, item.Subtotal).Scan(&stored.ID); err != nil {
			return Order{}, err
		}
		order.Items = append(order.Items, stored)
	}

	sale := Sale{OrderID: order.ID, InvoiceNumber: invoice, OrderTotal: draft.TotalAmount, Status: SalePending, AmountPaid: decimal.Zero}
	if err := tx.QueryRow(ctx, `INSERT INTO sales (order_id, status, amount_paid)
VALUES ($1, $2, 0)
RETURNING id, created_at, updated_at`, order.ID, SalePending).Scan(&sale.ID, &sale.CreatedAt, &sale.UpdatedAt); err != nil {
		return Order{}, err
	}
	order.Sale = &sale

	if err := tx.Commit(ctx); err != nil {
		return Order{}, err
	}
	return order, nil
}

const orderColumns = `id, invoice_number, customer_name, status, discount_percent, tax_percent, subtotal, discount_amount, taxable_amount, tax_amount, total_amount, prepared_by, created_at, updated_at`

func scanOrder(row pgx.Row) (Order, error) {
	var o Order
	err := row.Scan(&o.ID, &o.InvoiceNumber, &o.CustomerName, &o.Status, &o.DiscountPercent, &o.TaxPercent,
		&o.Subtotal, &o.DiscountAmount, &o.TaxableAmount, &o.TaxAmount, &o.TotalAmount, &o.PreparedBy, &o.CreatedAt, &o.UpdatedAt)
	return o, err
}

// GetOrder fetches one order with its items and sale.
func (s *pgStore) GetOrder(ctx context.Context, id uuid.UUID) (Order, error) {
	if s == nil || s.pool == nil {
		return Order{}, ErrStoreUnavailable
	}
	order, err := scanOrder(s.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if err != nil {
		return Order{}, err
	}
	if err := s.loadItems(ctx, &order); err != nil {
		return Order{}, err
	}
	sale, err := s.saleByOrder(ctx, order.ID)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return Order{}, err
	}
	if err == nil {
		order.Sale = &sale
	}
	return order, nil
}

func (s *pgStore) loadItems(ctx context.Context, order *Order) error {
	rows, err := s.pool.Query(ctx, `SELECT id, order_id, product_id, name, quantity, unit_price, subtotal
FROM order_items WHERE order_id = $1 ORDER BY id`, order.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var item OrderItem
		if err := rows.Scan(&item.ID, &item.OrderID, &item.ProductID, &item.Name, &item.Quantity, &item.UnitPrice, &item.Subtotal); err != nil {
			return err
		}
		order.Items = append(order.Items, item)
	}
	return rows.Err()
}

const saleColumns = `s.id, s.order_id, o.invoice_number, o.total_amount, s.status, s.amount_paid, s.payment_method, s.notes, s.paid_at, s.created_at, s.updated_at`

func scanSale(row pgx.Row) (Sale, error) {
	var sale Sale
	err := row.Scan(&sale.ID, &sale.OrderID, &sale.InvoiceNumber, &sale.OrderTotal, &sale.Status,
		&sale.AmountPaid, &sale.PaymentMethod, &sale.Notes, &sale.PaidAt, &sale.CreatedAt, &sale.UpdatedAt)
	return sale, err
}

func (s *pgStore) saleByOrder(ctx context.Context, orderID uuid.UUID) (Sale, error) {
	return scanSale(s.pool.QueryRow(ctx, `SELECT `+saleColumns+`
FROM sales s JOIN orders o ON o.id = s.order_id
WHERE s.order_id = $1`, orderID))
}

// ListOrders fetches orders newest first.
func (s *pgStore) ListOrders(ctx context.Context, filter OrderFilter) ([]Order, error) {
	if s == nil || s.pool == nil {
		return nil, ErrStoreUnavailable
	}
	rows, err := s.pool.Query(ctx, `SELECT `+orderColumns+` FROM orders
WHERE ($1 = '' OR status = $1)
ORDER BY created_at DESC
LIMIT $2 OFFSET $3`, filter.Status, filter.Limit, filter.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	orders := make([]Order, 0, filter.Limit)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	return orders, rows.Err()
}

// CountOrders counts orders matching the filter.
func (s *pgStore) CountOrders(ctx context.Context, filter OrderFilter) (int64, error) {
	if s == nil || s.pool == nil {
		return 0, ErrStoreUnavailable
	}
	var total int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM orders WHERE ($1 = '' OR status = $1)`, filter.Status).Scan(&total)
	return total, err
}

// CancelOrder voids a pending or refunded order, restoring each line's stock
// and recording the matching entry movements. Orders holding an active
// payment fail with ErrOrderNotCancellable.
func (s *pgStore) CancelOrder(ctx context.Context, id uuid.UUID) (Order, error) {
	if s == nil || s.pool == nil {
		return Order{}, ErrStoreUnavailable
	}
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Order{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	order, err := scanOrder(tx.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return Order{}, err
	}
	if order.Status == OrderCancelled {
		return Order{}, ErrAlreadyCancelled
	}
	var saleStatus string
	if err := tx.QueryRow(ctx, `SELECT status FROM sales WHERE order_id = $1 FOR UPDATE`, id).Scan(&saleStatus); err != nil {
		return Order{}, err
	}
	if saleStatus == SalePaid || saleStatus == SaleHalfPaid {
		return Order{}, ErrOrderNotCancellable
	}

	rows, err := tx.Query(ctx, `SELECT product_id, quantity FROM order_items WHERE order_id = $1`, id)
	if err != nil {
		return Order{}, err
	}
	type restore struct {
		productID uuid.UUID
		quantity  int
	}
	var restores []restore
	for rows.Next() {
		var r restore
		if err := rows.Scan(&r.productID, &r.quantity); err != nil {
			rows.Close()
			return Order{}, err
		}
		restores = append(restores, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return Order{}, err
	}

	for _, r := range restores {
		if _, err := tx.Exec(ctx, `UPDATE products SET stock = stock + $2, updated_at = now() WHERE id = $1`, r.productID, r.quantity); err != nil {
			return Order{}, err
		}
		if _, err := tx.Exec(ctx, `INSERT INTO stock_movements (product_id, type, quantity, reason)
VALUES ($1, 'entry', $2, 'returned')`, r.productID, r.quantity); err != nil {
			return Order{}, err
		}
	}

	if _, err := tx.Exec(ctx, `UPDATE orders SET status = $2, updated_at = now() WHERE id = $1`, id, OrderCancelled); err != nil {
		return Order{}, err
	}
	if _, err := tx.Exec(ctx, `UPDATE sales SET status = $2, updated_at = now() WHERE order_id = $1`, id, SaleVoided); err != nil {
		return Order{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Order{}, err
	}
	order.Status = OrderCancelled
	return order, nil
}

// GetSale fetches one sale with order metadata joined in.
func (s *pgStore) GetSale(ctx context.Context, id uuid.UUID) (Sale, error) {
	if s == nil || s.pool == nil {
		return Sale{}, ErrStoreUnavailable
	}
	return scanSale(s.pool.QueryRow(ctx, `SELECT `+saleColumns+`
FROM sales s JOIN orders o ON o.id = s.order_id
WHERE s.id = $1`, id))
}

// ListSales fetches sales newest first.
func (s *pgStore) ListSales(ctx context.Context, filter SaleFilter) ([]Sale, error) {
	if s == nil || s.pool == nil {
		return nil, ErrStoreUnavailable
	}
	rows, err := s.pool.Query(ctx, `SELECT `+saleColumns+`
FROM sales s JOIN orders o ON o.id = s.order_id
WHERE ($1 = '' OR s.status = $1)
ORDER BY s.created_at DESC
LIMIT $2 OFFSET $3`, filter.Status, filter.Limit, filter.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sales := make([]Sale, 0, filter.Limit)
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			return nil, err
		}
		sales = append(sales, sale)
	}
	return sales, rows.Err()
}

// CountSales counts sales matching the filter.
func (s *pgStore) CountSales(ctx context.Context, filter SaleFilter) (int64, error) {
	if s == nil || s.pool == nil {
		return 0, ErrStoreUnavailable
	}
	var total int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM sales WHERE ($1 = '' OR status = $1)`, filter.Status).Scan(&total)
	return total, err
}

// AddSalePayment atomically adds a payment to an open sale. The increment,
// status transition, and paid timestamp happen in one statement so two
// concurrent confirmations can never lose an amount. Closed sales match no
// row and surface pgx.ErrNoRows.
func (s *pgStore) AddSalePayment(ctx context.Context, id uuid.UUID, amount decimal.Decimal, method, notes string) (Sale, error) {
	if s == nil || s.pool == nil {
		return Sale{}, ErrStoreUnavailable
	}
	return scanSale(s.pool.QueryRow(ctx, `UPDATE sales s
SET amount_paid = s.amount_paid + $2,
    payment_method = $3,
    notes = $4,
    status = CASE WHEN s.amount_paid + $2 >= o.total_amount THEN $5 ELSE $6 END,
    paid_at = CASE WHEN s.amount_paid + $2 >= o.total_amount THEN now() ELSE s.paid_at END,
    updated_at = now()
FROM orders o
WHERE s.id = $1 AND o.id = s.order_id AND s.status IN ($7, $6)
RETURNING `+saleColumns,
		id, amount, method, notes, SalePaid, SaleHalfPaid, SalePending))
}

// UpdateSalePayment overwrites the mutable payment fields of a sale.
func (s *pgStore) UpdateSalePayment(ctx context.Context, sale Sale) (Sale, error) {
	if s == nil || s.pool == nil {
		return Sale{}, ErrStoreUnavailable
	}
	tag, err := s.pool.Exec(ctx, `UPDATE sales
SET status = $2, amount_paid = $3, payment_method = $4, notes = $5, paid_at = $6, updated_at = now()
WHERE id = $1`, sale.ID, sale.Status, sale.AmountPaid, sale.PaymentMethod, sale.Notes, sale.PaidAt)
	if err != nil {
		return Sale{}, err
	}
	if tag.RowsAffected() == 0 {
		return Sale{}, pgx.ErrNoRows
	}
	return s.GetSale(ctx, sale.ID)
}
