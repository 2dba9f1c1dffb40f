package catalog

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// ErrStoreUnavailable indicates the catalog store dependency is not configured.
var ErrStoreUnavailable = errors.New("catalog: store unavailable")

// Product is a catalog item as stored.
type Product struct {
	ID          uuid.UUID
	Name        string
	Description string
	Barcode     string
	Price       decimal.Decimal
	CategoryID  *uuid.UUID
	Condition   string
	Size        string
	Color       string
	ImageURL    string
	Stock       int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Category is a catalog grouping; ParentID nil means top level.
type Category struct {
	ID        uuid.UUID
	Name      string
	ParentID  *uuid.UUID
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ProductFilter captures list filters for products.
type ProductFilter struct {
	Query      string
	CategoryID *uuid.UUID
	Limit      int
	Offset     int
}

// Store provides database accessors for catalog entities.
type Store interface {
	InsertProduct(ctx context.Context, p Product) (Product, error)
	UpdateProduct(ctx context.Context, p Product) (Product, error)
	DeleteProduct(ctx context.Context, id uuid.UUID) error
	GetProductByID(ctx context.Context, id uuid.UUID) (Product, error)
	GetProductByBarcode(ctx context.Context, barcode string) (Product, error)
	ListProducts(ctx context.Context, filter ProductFilter) ([]Product, error)
	CountProducts(ctx context.Context, filter ProductFilter) (int64, error)
	SearchProductsByName(ctx context.Context, prefix string, limit int) ([]Product, error)
	InsertCategory(ctx context.Context, c Category) (Category, error)
	UpdateCategory(ctx context.Context, c Category) (Category, error)
	DeleteCategory(ctx context.Context, id uuid.UUID) error
	GetCategoryByID(ctx context.Context, id uuid.UUID) (Category, error)
	ListCategories(ctx context.Context) ([]Category, error)
}

// NewStore constructs a Store backed by a pgx connection pool.
func NewStore(pool *pgxpool.Pool) Store {
	return &pgStore{pool: pool}
}

type pgStore struct {
	pool *pgxpool.Pool
}

const productColumns = `id, name, description, barcode, price, category_id, condition, size, color, image_url, stock, created_at, updated_at`

func scanProduct(row pgx.Row) (Product, error) {
	var p Product
	err := row.Scan(&p.ID, &p.Name, &p.Description, &p.Barcode, &p.Price, &p.CategoryID,
		&p.Condition, &p.Size, &p.Color, &p.ImageURL, &p.Stock, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

// InsertProduct persists a new product and returns the stored row.
func (s *pgStore) InsertProduct(ctx context.Context, p Product) (Product, error) {
	if s == nil || s.pool == nil {
		return Product{}, ErrStoreUnavailable
	}
	row := s.pool.QueryRow(ctx, `INSERT INTO products (name, description, barcode, price, category_id, condition, size, color, image_url, stock)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
RETURNING `+productColumns,
		p.Name, p.Description, p.Barcode, p.Price, p.CategoryID, p.Condition, p.Size, p.Color, p.ImageURL, p.Stock)
	return scanProduct(row)
}

// UpdateProduct overwrites a product by ID and returns the stored row.
func (s *pgStore) UpdateProduct(ctx context.Context, p Product) (Product, error) {
	if s == nil || s.pool == nil {
		return Product{}, ErrStoreUnavailable
	}
	row := s.pool.QueryRow(ctx, `UPDATE products
SET name = $2, description = $3, barcode = $4, price = $5, category_id = $6,
    condition = $7, size = $8, color = $9, image_url = $10, updated_at = now()
WHERE id = $1
RETURNING `+productColumns,
		p.ID, p.Name, p.Description, p.Barcode, p.Price, p.CategoryID, p.Condition, p.Size, p.Color, p.ImageURL)
	return scanProduct(row)
}

// DeleteProduct removes a product by ID.
func (s *pgStore) DeleteProduct(ctx context.Context, id uuid.UUID) error {
	if s == nil || s.pool == nil {
		return ErrStoreUnavailable
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM products WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// GetProductByID fetches a product by ID.
func (s *pgStore) GetProductByID(ctx context.Context, id uuid.UUID) (Product, error) {
	if s == nil || s.pool == nil {
		return Product{}, ErrStoreUnavailable
	}
	return scanProduct(s.pool.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id))
}

// GetProductByBarcode fetches a product by its unique barcode.
func (s *pgStore) GetProductByBarcode(ctx context.Context, barcode string) (Product, error) {
	if s == nil || s.pool == nil {
		return Product{}, ErrStoreUnavailable
	}
	return scanProduct(s.pool.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE barcode = $1`, barcode))
}

// ListProducts fetches products matching the filter, newest first.
func (s *pgStore) ListProducts(ctx context.Context, filter ProductFilter) ([]Product, error) {
	if s == nil || s.pool == nil {
		return nil, ErrStoreUnavailable
	}
	query := strings.TrimSpace(filter.Query)
	rows, err := s.pool.Query(ctx, `SELECT `+productColumns+` FROM products
WHERE ($1 = '' OR name ILIKE '%' || $1 || '%' OR barcode = $1)
  AND ($2::uuid IS NULL OR category_id = $2)
ORDER BY created_at DESC
LIMIT $3 OFFSET $4`, query, filter.CategoryID, filter.Limit, filter.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]Product, 0, filter.Limit)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

// CountProducts counts products matching the filter.
func (s *pgStore) CountProducts(ctx context.Context, filter ProductFilter) (int64, error) {
	if s == nil || s.pool == nil {
		return 0, ErrStoreUnavailable
	}
	query := strings.TrimSpace(filter.Query)
	var total int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM products
WHERE ($1 = '' OR name ILIKE '%' || $1 || '%' OR barcode = $1)
  AND ($2::uuid IS NULL OR category_id = $2)`, query, filter.CategoryID).Scan(&total)
	return total, err
}

// SearchProductsByName fetches products whose name starts with prefix.
func (s *pgStore) SearchProductsByName(ctx context.Context, prefix string, limit int) ([]Product, error) {
	if s == nil || s.pool == nil {
		return nil, ErrStoreUnavailable
	}
	rows, err := s.pool.Query(ctx, `SELECT `+productColumns+` FROM products
WHERE name ILIKE $1 || '%'
ORDER BY name ASC
LIMIT $2`, strings.TrimSpace(prefix), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]Product, 0, limit)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

// InsertCategory persists a new category.
func (s *pgStore) InsertCategory(ctx context.Context, c Category) (Category, error) {
	if s == nil || s.pool == nil {
		return Category{}, ErrStoreUnavailable
	}
	row := s.pool.QueryRow(ctx, `INSERT INTO categories (name, parent_id)
VALUES ($1, $2)
RETURNING id, name, parent_id, created_at, updated_at`, c.Name, c.ParentID)
	var stored Category
	err := row.Scan(&stored.ID, &stored.Name, &stored.ParentID, &stored.CreatedAt, &stored.UpdatedAt)
	return stored, err
}

// UpdateCategory overwrites a category by ID.
func (s *pgStore) UpdateCategory(ctx context.Context, c Category) (Category, error) {
	if s == nil || s.pool == nil {
		return Category{}, ErrStoreUnavailable
	}
	row := s.pool.QueryRow(ctx, `UPDATE categories
SET name = $2, parent_id = $3, updated_at = now()
WHERE id = $1
RETURNING id, name, parent_id, created_at, updated_at`, c.ID, c.Name, c.ParentID)
	var stored Category
	err := row.Scan(&stored.ID, &stored.Name, &stored.ParentID, &stored.CreatedAt, &stored.UpdatedAt)
	return stored, err
}

// DeleteCategory removes a category by ID. Children are re-rooted by the
// schema's ON DELETE SET NULL.
func (s *pgStore) DeleteCategory(ctx context.Context, id uuid.UUID) error {
	if s == nil || s.pool == nil {
		return ErrStoreUnavailable
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM categories WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// GetCategoryByID fetches a category by ID.
func (s *pgStore) GetCategoryByID(ctx context.Context, id uuid.UUID) (Category, error) {
	if s == nil || s.pool == nil {
		return Category{}, ErrStoreUnavailable
	}
	row := s.pool.QueryRow(ctx, `SELECT id, name, parent_id, created_at, updated_at FROM categories WHERE id = $1`, id)
	var c Category
	err := row.Scan(&c.ID, &c.Name, &c.ParentID, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}

// ListCategories returns all categories ordered by name.
func (s *pgStore) ListCategories(ctx context.Context) ([]Category, error) {
	if s == nil || s.pool == nil {
		return nil, ErrStoreUnavailable
	}
	rows, err := s.pool.Query(ctx, `SELECT id, name, parent_id, created_at, updated_at FROM categories ORDER BY name ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	categories := make([]Category, 0, 16)
	for rows.Next() {
		var c Category
		if err := rows.Scan(&c.ID, &c.Name, &c.ParentID, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		categories = append(categories, c)
	}
	return categories, rows.Err()
}
