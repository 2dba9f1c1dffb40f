package inventory

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// ErrStoreUnavailable indicates the inventory store dependency is not configured.
var ErrStoreUnavailable = errors.New("inventory: store unavailable")

// ErrInsufficientStock is returned when an exit movement would drive a
// product's stock below zero.
var ErrInsufficientStock = errors.New("inventory: insufficient stock")

// MovementType discriminates stock entries from exits.
type MovementType string

// Movement types.
const (
	MovementEntry MovementType = "entry"
	MovementExit  MovementType = "exit"
)

// Movement reasons.
const (
	ReasonSold     = "sold"
	ReasonReturned = "returned"
	ReasonDamaged  = "damaged"
	ReasonOther    = "other"
)

// Movement is one append-only stock adjustment. ResultingStock is populated
// on creation only.
type Movement struct {
	ID             uuid.UUID
	ProductID      uuid.UUID
	ProductName    string
	Type           MovementType
	Quantity       int
	Reason         string
	CreatedBy      *uuid.UUID
	CreatedAt      time.Time
	ResultingStock int
}

// MovementFilter captures list filters for movements.
type MovementFilter struct {
	ProductID *uuid.UUID
	Type      MovementType
	Limit     int
	Offset    int
}

// StockLevel is the current stock position of one product.
type StockLevel struct {
	ProductID   uuid.UUID
	Name        string
	Barcode     string
	Price       decimal.Decimal
	Stock       int
	RetailValue decimal.Decimal
}

// Store provides database accessors for stock movements and levels.
type Store interface {
	CreateMovement(ctx context.Context, m Movement) (Movement, error)
	ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error)
	CountMovements(ctx context.Context, filter MovementFilter) (int64, error)
	ListStockLevels(ctx context.Context) ([]StockLevel, error)
}

// NewStore constructs a Store backed by a pgx connection pool.
func NewStore(pool *pgxpool.Pool) Store {
	return &pgStore{pool: pool}
}

type pgStore struct {
	pool *pgxpool.Pool
}

// CreateMovement inserts a movement and applies the stock delta atomically.
// An exit that would leave negative stock fails with ErrInsufficientStock.
func (s *pgStore) CreateMovement(ctx context.Context, m Movement) (Movement, error) {
	if s == nil || s.pool == nil {
		return Movement{}, ErrStoreUnavailable
	}
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Movement{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	delta := m.Quantity
	if m.Type == MovementExit {
		delta = -m.Quantity
	}
	err = tx.QueryRow(ctx, `UPDATE products SET stock = stock + $2, updated_at = now()
WHERE id = $1 AND stock + $2 >= 0
RETURNING stock, name`, m.ProductID, delta).Scan(&m.ResultingStock, &m.ProductName)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// distinguish missing product from an exhausted one
			var exists bool
			if lookupErr := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM products WHERE id = $1)`, m.ProductID).Scan(&exists); lookupErr != nil {
				return Movement{}, lookupErr
			}
			if exists {
				return Movement{}, ErrInsufficientStock
			}
			return Movement{}, pgx.ErrNoRows
		}
		return Movement{}, err
	}

	row := tx.QueryRow(ctx, `INSERT INTO stock_movements (product_id, type, quantity, reason, created_by)
VALUES ($1, $2, $3, $4, $5)
RETURNING id, created_at`, m.ProductID, string(m.Type), m.Quantity, m.Reason, m.CreatedBy)
	if err := row.Scan(&m.ID, &m.CreatedAt); err != nil {
		return Movement{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Movement{}, err
	}
	return m, nil
}

const movementColumns = `sm.id, sm.product_id, p.name, sm.type, sm.quantity, sm.reason, sm.created_by, sm.created_at`

// ListMovements fetches movements newest first with product names joined in.
func (s *pgStore) ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error) {
	if s == nil || s.pool == nil {
		return nil, ErrStoreUnavailable
	}
	rows, err := s.pool.Query(ctx, `SELECT `+movementColumns+`
FROM stock_movements sm
JOIN products p ON p.id = sm.product_id
WHERE ($1::uuid IS NULL OR sm.product_id = $1)
  AND ($2 = '' OR sm.type = $2)
ORDER BY sm.created_at DESC
LIMIT $3 OFFSET $4`, filter.ProductID, string(filter.Type), filter.Limit, filter.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	movements := make([]Movement, 0, filter.Limit)
	for rows.Next() {
		var m Movement
		if err := rows.Scan(&m.ID, &m.ProductID, &m.ProductName, &m.Type, &m.Quantity, &m.Reason, &m.CreatedBy, &m.CreatedAt); err != nil {
			return nil, err
		}
		movements = append(movements, m)
	}
	return movements, rows.Err()
}

// CountMovements counts movements matching the filter.
func (s *pgStore) CountMovements(ctx context.Context, filter MovementFilter) (int64, error) {
	if s == nil || s.pool == nil {
		return 0, ErrStoreUnavailable
	}
	var total int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM stock_movements
WHERE ($1::uuid IS NULL OR product_id = $1)
  AND ($2 = '' OR type = $2)`, filter.ProductID, string(filter.Type)).Scan(&total)
	return total, err
}

// ListStockLevels returns every product's current stock, lowest stock first.
func (s *pgStore) ListStockLevels(ctx context.Context) ([]StockLevel, error) {
	if s == nil || s.pool == nil {
		return nil, ErrStoreUnavailable
	}
	rows, err := s.pool.Query(ctx, `SELECT id, name, barcode, price, stock, price * stock AS retail_value
FROM products
ORDER BY stock ASC, name ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	levels := make([]StockLevel, 0, 64)
	for rows.Next() {
		var lvl StockLevel
		if err := rows.Scan(&lvl.ProductID, &lvl.Name, &lvl.Barcode, &lvl.Price, &lvl.Stock, &lvl.RetailValue); err != nil {
			return nil, err
		}
		levels = append(levels, lvl)
	}
	return levels, rows.Err()
}
