package exchange

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// ErrStoreUnavailable indicates the exchange store dependency is not configured.
var ErrStoreUnavailable = errors.New("exchange: store unavailable")

// Rate is one stored exchange rate revision. The current rate is the newest
// row; older rows are the audit history.
type Rate struct {
	ID        uuid.UUID
	Rate      decimal.Decimal
	UpdatedBy *uuid.UUID
	CreatedAt time.Time
}

// Store provides database accessors for exchange rates.
type Store interface {
	InsertRate(ctx context.Context, rate decimal.Decimal, updatedBy *uuid.UUID) (Rate, error)
	LatestRate(ctx context.Context) (Rate, error)
	ListRates(ctx context.Context, limit int) ([]Rate, error)
}

// NewStore constructs a Store backed by a pgx connection pool.
func NewStore(pool *pgxpool.Pool) Store {
	return &pgStore{pool: pool}
}

type pgStore struct {
	pool *pgxpool.Pool
}

// InsertRate appends a new rate revision.
func (s *pgStore) InsertRate(ctx context.Context, rate decimal.Decimal, updatedBy *uuid.UUID) (Rate, error) {
	if s == nil || s.pool == nil {
		return Rate{}, ErrStoreUnavailable
	}
	row := s.pool.QueryRow(ctx, `INSERT INTO exchange_rates (rate, updated_by)
VALUES ($1, $2)
RETURNING id, rate, updated_by, created_at`, rate, updatedBy)
	var stored Rate
	err := row.Scan(&stored.ID, &stored.Rate, &stored.UpdatedBy, &stored.CreatedAt)
	return stored, err
}

// LatestRate fetches the newest rate revision.
func (s *pgStore) LatestRate(ctx context.Context) (Rate, error) {
	if s == nil || s.pool == nil {
		return Rate{}, ErrStoreUnavailable
	}
	row := s.pool.QueryRow(ctx, `SELECT id, rate, updated_by, created_at
FROM exchange_rates ORDER BY created_at DESC LIMIT 1`)
	var stored Rate
	err := row.Scan(&stored.ID, &stored.Rate, &stored.UpdatedBy, &stored.CreatedAt)
	return stored, err
}

// ListRates fetches the most recent rate revisions, newest first.
func (s *pgStore) ListRates(ctx context.Context, limit int) ([]Rate, error) {
	if s == nil || s.pool == nil {
		return nil, ErrStoreUnavailable
	}
	if limit < 1 || limit > 500 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `SELECT id, rate, updated_by, created_at
FROM exchange_rates ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	rates := make([]Rate, 0, limit)
	for rows.Next() {
		var r Rate
		if err := rows.Scan(&r.ID, &r.Rate, &r.UpdatedBy, &r.CreatedAt); err != nil {
			return nil, err
		}
		rates = append(rates, r)
	}
	return rates, rows.Err()
}
