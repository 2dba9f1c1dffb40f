package auth

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrStoreUnavailable indicates the auth store dependency is not configured.
var ErrStoreUnavailable = errors.New("auth: store unavailable")

// Account is the credential-bearing view of a user.
type Account struct {
	ID           uuid.UUID
	Name         string
	Email        string
	PasswordHash string
	Role         string
	Active       bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Store provides the credential lookups the auth flow needs.
type Store interface {
	GetAccountByEmail(ctx context.Context, email string) (Account, error)
	GetAccountByID(ctx context.Context, id uuid.UUID) (Account, error)
}

// NewStore constructs a Store backed by a pgx connection pool.
func NewStore(pool *pgxpool.Pool) Store {
	return &pgStore{pool: pool}
}

type pgStore struct {
	pool *pgxpool.Pool
}

const accountColumns = `id, name, email, password_hash, role, active, created_at, updated_at`

// GetAccountByEmail fetches a user by normalised email.
func (s *pgStore) GetAccountByEmail(ctx context.Context, email string) (Account, error) {
	if s == nil || s.pool == nil {
		return Account{}, ErrStoreUnavailable
	}
	row := s.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM users WHERE email = $1`, email)
	var a Account
	err := row.Scan(&a.ID, &a.Name, &a.Email, &a.PasswordHash, &a.Role, &a.Active, &a.CreatedAt, &a.UpdatedAt)
	return a, err
}

// GetAccountByID fetches a user by ID.
func (s *pgStore) GetAccountByID(ctx context.Context, id uuid.UUID) (Account, error) {
	if s == nil || s.pool == nil {
		return Account{}, ErrStoreUnavailable
	}
	row := s.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM users WHERE id = $1`, id)
	var a Account
	err := row.Scan(&a.ID, &a.Name, &a.Email, &a.PasswordHash, &a.Role, &a.Active, &a.CreatedAt, &a.UpdatedAt)
	return a, err
}
