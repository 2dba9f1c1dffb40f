package user

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrStoreUnavailable indicates the user store dependency is not configured.
var ErrStoreUnavailable = errors.New("user: store unavailable")

// Record is the persisted user model.
type Record struct {
	ID           uuid.UUID
	Name         string
	Email        string
	PasswordHash string
	Role         string
	Active       bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Filter narrows user listings.
type Filter struct {
	Role   string
	Active *bool
	Limit  int
	Offset int
}

// Store persists user accounts.
type Store interface {
	Insert(ctx context.Context, rec Record) (Record, error)
	Update(ctx context.Context, rec Record) (Record, error)
	UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string) error
	Delete(ctx context.Context, id uuid.UUID) error
	GetByID(ctx context.Context, id uuid.UUID) (Record, error)
	List(ctx context.Context, f Filter) ([]Record, error)
	Count(ctx context.Context, f Filter) (int64, error)
}

// NewStore constructs a Store backed by a pgx connection pool.
func NewStore(pool *pgxpool.Pool) Store {
	return &pgStore{pool: pool}
}

type pgStore struct {
	pool *pgxpool.Pool
}

const userColumns = `id, name, email, password_hash, role, active, created_at, updated_at`

func scanRecord(row pgx.Row) (Record, error) {
	var r Record
	err := row.Scan(&r.ID, &r.Name, &r.Email, &r.PasswordHash, &r.Role, &r.Active, &r.CreatedAt, &r.UpdatedAt)
	return r, err
}

func (s *pgStore) Insert(ctx context.Context, rec Record) (Record, error) {
	if s == nil || s.pool == nil {
		return Record{}, ErrStoreUnavailable
	}
	row := s.pool.QueryRow(ctx, `
		INSERT INTO users (name, email, password_hash, role, active)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+userColumns,
		rec.Name, rec.Email, rec.PasswordHash, rec.Role, rec.Active)
	return scanRecord(row)
}

func (s *pgStore) Update(ctx context.Context, rec Record) (Record, error) {
	if s == nil || s.pool == nil {
		return Record{}, ErrStoreUnavailable
	}
	row := s.pool.QueryRow(ctx, `
		UPDATE users
		SET name = $2, email = $3, role = $4, active = $5, updated_at = now()
		WHERE id = $1
		RETURNING `+userColumns,
		rec.ID, rec.Name, rec.Email, rec.Role, rec.Active)
	return scanRecord(row)
}

func (s *pgStore) UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string) error {
	if s == nil || s.pool == nil {
		return ErrStoreUnavailable
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE users SET password_hash = $2, updated_at = now() WHERE id = $1`,
		id, passwordHash)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (s *pgStore) Delete(ctx context.Context, id uuid.UUID) error {
	if s == nil || s.pool == nil {
		return ErrStoreUnavailable
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (s *pgStore) GetByID(ctx context.Context, id uuid.UUID) (Record, error) {
	if s == nil || s.pool == nil {
		return Record{}, ErrStoreUnavailable
	}
	row := s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return scanRecord(row)
}

func (s *pgStore) List(ctx context.Context, f Filter) ([]Record, error) {
	if s == nil || s.pool == nil {
		return nil, ErrStoreUnavailable
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE ($1 = '' OR role = $1)
		  AND ($2::boolean IS NULL OR active = $2)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4`,
		f.Role, f.Active, f.Limit, f.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *pgStore) Count(ctx context.Context, f Filter) (int64, error) {
	if s == nil || s.pool == nil {
		return 0, ErrStoreUnavailable
	}
	var total int64
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM users
		WHERE ($1 = '' OR role = $1)
		  AND ($2::boolean IS NULL OR active = $2)`,
		f.Role, f.Active).Scan(&total)
	return total, err
}
