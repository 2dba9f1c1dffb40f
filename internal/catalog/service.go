package catalog

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	validator "github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/ihirwe-dev/backend-pos/internal/common"
	"github.com/ihirwe-dev/backend-pos/internal/obs"
)

const (
	productsCachePrefix   = "catalog:products:"
	categoriesCacheKey    = "catalog:categories:all"
	pgUniqueViolationCode = "23505"
)

// Service orchestrates catalog queries, validation, and caching.
type Service struct {
	store        Store
	cache        *Cache
	validate     *validator.Validate
	defaultLimit int
	maxLimit     int
}

// ServiceConfig groups Service dependencies.
type ServiceConfig struct {
	Store        Store
	Cache        *Cache
	Validate     *validator.Validate
	DefaultLimit int
	MaxLimit     int
}

// ProductInput is the create/update payload for products.
type ProductInput struct {
	Name        string          `json:"name" validate:"required,max=200"`
	Description string          `json:"description" validate:"max=2000"`
	Barcode     string          `json:"barcode" validate:"required,max=64"`
	Price       decimal.Decimal `json:"price"`
	CategoryID  *string         `json:"categoryId" validate:"omitempty,uuid"`
	Condition   string          `json:"condition" validate:"max=50"`
	Size        string          `json:"size" validate:"max=50"`
	Color       string          `json:"color" validate:"max=50"`
	ImageURL    string          `json:"imageUrl" validate:"omitempty,url"`
	Stock       int             `json:"stock" validate:"gte=0"`
}

// CategoryInput is the create/update payload for categories.
type CategoryInput struct {
	Name     string  `json:"name" validate:"required,max=100"`
	ParentID *string `json:"parentId" validate:"omitempty,uuid"`
}

// ProductPayload is the public product representation.
type ProductPayload struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Barcode     string          `json:"barcode"`
	Price       decimal.Decimal `json:"price"`
	CategoryID  *string         `json:"categoryId,omitempty"`
	Condition   string          `json:"condition,omitempty"`
	Size        string          `json:"size,omitempty"`
	Color       string          `json:"color,omitempty"`
	ImageURL    string          `json:"imageUrl,omitempty"`
	Stock       int             `json:"stock"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

// CategoryPayload is the public category representation.
type CategoryPayload struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	ParentID *string `json:"parentId,omitempty"`
}

// ListParams captures filters for product listing.
type ListParams struct {
	Query      string
	CategoryID *string
	Page       int
	Limit      int
}

// ProductListResult contains list data and pagination metadata.
type ProductListResult struct {
	Items []ProductPayload
	Total int64
	Page  int
	Limit int
}

// NewService constructs a Service instance.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, errors.New("catalog: store is required")
	}
	validate := cfg.Validate
	if validate == nil {
		validate = validator.New()
	}
	defaultLimit := cfg.DefaultLimit
	if defaultLimit < 1 {
		defaultLimit = 20
	}
	maxLimit := cfg.MaxLimit
	if maxLimit < 1 {
		maxLimit = 100
	}
	if defaultLimit > maxLimit {
		defaultLimit = maxLimit
	}
	return &Service{
		store:        cfg.Store,
		cache:        cfg.Cache,
		validate:     validate,
		defaultLimit: defaultLimit,
		maxLimit:     maxLimit,
	}, nil
}

// CreateProduct validates and persists a new product.
func (s *Service) CreateProduct(ctx context.Context, in ProductInput) (ProductPayload, error) {
	if err := s.validateProductInput(in); err != nil {
		return ProductPayload{}, err
	}
	categoryID, err := s.resolveCategoryID(ctx, in.CategoryID)
	if err != nil {
		return ProductPayload{}, err
	}
	stored, err := s.store.InsertProduct(ctx, Product{
		Name:        strings.TrimSpace(in.Name),
		Description: strings.TrimSpace(in.Description),
		Barcode:     strings.TrimSpace(in.Barcode),
		Price:       in.Price,
		CategoryID:  categoryID,
		Condition:   strings.TrimSpace(in.Condition),
		Size:        strings.TrimSpace(in.Size),
		Color:       strings.TrimSpace(in.Color),
		ImageURL:    strings.TrimSpace(in.ImageURL),
		Stock:       in.Stock,
	})
	if err != nil {
		if isUniqueViolation(err) {
			return ProductPayload{}, &common.AppError{Code: "CONFLICT", Message: "barcode already registered", HTTPStatus: http.StatusConflict, Err: err}
		}
		return ProductPayload{}, fmt.Errorf("insert product: %w", err)
	}
	s.invalidateProducts(ctx)
	return toProductPayload(stored), nil
}

// UpdateProduct validates and overwrites an existing product. Stock is not
// updatable here; stock changes go through stock movements.
func (s *Service) UpdateProduct(ctx context.Context, id string, in ProductInput) (ProductPayload, error) {
	productID, err := parseID(id)
	if err != nil {
		return ProductPayload{}, err
	}
	if err := s.validateProductInput(in); err != nil {
		return ProductPayload{}, err
	}
	categoryID, err := s.resolveCategoryID(ctx, in.CategoryID)
	if err != nil {
		return ProductPayload{}, err
	}
	stored, err := s.store.UpdateProduct(ctx, Product{
		ID:          productID,
		Name:        strings.TrimSpace(in.Name),
		Description: strings.TrimSpace(in.Description),
		Barcode:     strings.TrimSpace(in.Barcode),
		Price:       in.Price,
		CategoryID:  categoryID,
		Condition:   strings.TrimSpace(in.Condition),
		Size:        strings.TrimSpace(in.Size),
		Color:       strings.TrimSpace(in.Color),
		ImageURL:    strings.TrimSpace(in.ImageURL),
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ProductPayload{}, productNotFound(err)
		}
		if isUniqueViolation(err) {
			return ProductPayload{}, &common.AppError{Code: "CONFLICT", Message: "barcode already registered", HTTPStatus: http.StatusConflict, Err: err}
		}
		return ProductPayload{}, fmt.Errorf("update product: %w", err)
	}
	s.invalidateProducts(ctx)
	return toProductPayload(stored), nil
}

// DeleteProduct removes a product by ID.
func (s *Service) DeleteProduct(ctx context.Context, id string) error {
	productID, err := parseID(id)
	if err != nil {
		return err
	}
	if err := s.store.DeleteProduct(ctx, productID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return productNotFound(err)
		}
		return fmt.Errorf("delete product: %w", err)
	}
	s.invalidateProducts(ctx)
	return nil
}

// GetProduct fetches a single product by ID.
func (s *Service) GetProduct(ctx context.Context, id string) (ProductPayload, error) {
	productID, err := parseID(id)
	if err != nil {
		return ProductPayload{}, err
	}
	stored, err := s.store.GetProductByID(ctx, productID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ProductPayload{}, productNotFound(err)
		}
		return ProductPayload{}, fmt.Errorf("get product: %w", err)
	}
	return toProductPayload(stored), nil
}

// ListProducts returns a filtered product page. The unfiltered first page is
// served read-through from Redis.
func (s *Service) ListProducts(ctx context.Context, params ListParams) (ProductListResult, error) {
	page := params.Page
	if page < 1 {
		page = 1
	}
	limit := params.Limit
	if limit < 1 {
		limit = s.defaultLimit
	}
	if limit > s.maxLimit {
		limit = s.maxLimit
	}

	key, cacheable := s.listCacheKey(params, page, limit)
	if cacheable {
		var cached cachedProductList
		if ok, err := s.cache.GetJSON(ctx, key, &cached); err == nil && ok {
			return ProductListResult{Items: cached.Items, Total: cached.Total, Page: page, Limit: limit}, nil
		}
	}

	var categoryID *uuid.UUID
	if params.CategoryID != nil {
		parsed, err := parseID(*params.CategoryID)
		if err != nil {
			return ProductListResult{}, err
		}
		categoryID = &parsed
	}
	filter := ProductFilter{
		Query:      strings.TrimSpace(params.Query),
		CategoryID: categoryID,
		Limit:      limit,
		Offset:     common.Offset(page, limit),
	}
	total, err := s.store.CountProducts(ctx, filter)
	if err != nil {
		return ProductListResult{}, fmt.Errorf("count products: %w", err)
	}
	rows, err := s.store.ListProducts(ctx, filter)
	if err != nil {
		return ProductListResult{}, fmt.Errorf("list products: %w", err)
	}
	items := make([]ProductPayload, 0, len(rows))
	for _, row := range rows {
		items = append(items, toProductPayload(row))
	}
	if cacheable {
		_ = s.cache.SetJSON(ctx, key, cachedProductList{Items: items, Total: total})
	}
	return ProductListResult{Items: items, Total: total, Page: page, Limit: limit}, nil
}

// ScanBarcode resolves a barcode to the product with its current price and
// available stock. Unknown barcodes are a 404.
func (s *Service) ScanBarcode(ctx context.Context, barcode string) (ProductPayload, error) {
	barcode = strings.TrimSpace(barcode)
	if barcode == "" {
		return ProductPayload{}, badRequest("barcode", "barcode is required", nil)
	}
	stored, err := s.store.GetProductByBarcode(ctx, barcode)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			countScan("not_found")
			return ProductPayload{}, &common.AppError{Code: "NOT_FOUND", Message: "no product matches this barcode", HTTPStatus: http.StatusNotFound, Err: err}
		}
		return ProductPayload{}, fmt.Errorf("get product by barcode: %w", err)
	}
	countScan("found")
	return toProductPayload(stored), nil
}

func countScan(result string) {
	if obs.BarcodeScanTotal != nil {
		obs.BarcodeScanTotal.WithLabelValues(result).Inc()
	}
}

// SearchSimilar returns products whose name starts with the given prefix.
func (s *Service) SearchSimilar(ctx context.Context, prefix string, limit int) ([]ProductPayload, error) {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return []ProductPayload{}, nil
	}
	if limit < 1 || limit > s.maxLimit {
		limit = s.defaultLimit
	}
	rows, err := s.store.SearchProductsByName(ctx, prefix, limit)
	if err != nil {
		return nil, fmt.Errorf("search products: %w", err)
	}
	items := make([]ProductPayload, 0, len(rows))
	for _, row := range rows {
		items = append(items, toProductPayload(row))
	}
	return items, nil
}

// CreateCategory validates and persists a new category.
func (s *Service) CreateCategory(ctx context.Context, in CategoryInput) (CategoryPayload, error) {
	if err := s.validate.Struct(in); err != nil {
		return CategoryPayload{}, validationError(err)
	}
	parentID, err := s.resolveCategoryID(ctx, in.ParentID)
	if err != nil {
		return CategoryPayload{}, err
	}
	stored, err := s.store.InsertCategory(ctx, Category{Name: strings.TrimSpace(in.Name), ParentID: parentID})
	if err != nil {
		return CategoryPayload{}, fmt.Errorf("insert category: %w", err)
	}
	s.invalidateCategories(ctx)
	return toCategoryPayload(stored), nil
}

// UpdateCategory overwrites a category. Reparenting is checked against the
// ancestor chain so a category can never become its own descendant.
func (s *Service) UpdateCategory(ctx context.Context, id string, in CategoryInput) (CategoryPayload, error) {
	categoryID, err := parseID(id)
	if err != nil {
		return CategoryPayload{}, err
	}
	if err := s.validate.Struct(in); err != nil {
		return CategoryPayload{}, validationError(err)
	}
	parentID, err := s.resolveCategoryID(ctx, in.ParentID)
	if err != nil {
		return CategoryPayload{}, err
	}
	if parentID != nil {
		if *parentID == categoryID {
			return CategoryPayload{}, badRequest("parentId", "category cannot be its own parent", nil)
		}
		cyclic, err := s.isAncestor(ctx, categoryID, *parentID)
		if err != nil {
			return CategoryPayload{}, err
		}
		if cyclic {
			return CategoryPayload{}, badRequest("parentId", "category cannot be moved under its own descendant", nil)
		}
	}
	stored, err := s.store.UpdateCategory(ctx, Category{ID: categoryID, Name: strings.TrimSpace(in.Name), ParentID: parentID})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return CategoryPayload{}, categoryNotFound(err)
		}
		return CategoryPayload{}, fmt.Errorf("update category: %w", err)
	}
	s.invalidateCategories(ctx)
	return toCategoryPayload(stored), nil
}

// DeleteCategory removes a category by ID.
func (s *Service) DeleteCategory(ctx context.Context, id string) error {
	categoryID, err := parseID(id)
	if err != nil {
		return err
	}
	if err := s.store.DeleteCategory(ctx, categoryID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return categoryNotFound(err)
		}
		return fmt.Errorf("delete category: %w", err)
	}
	s.invalidateCategories(ctx)
	return nil
}

// ListCategories returns all categories, redis-cached.
func (s *Service) ListCategories(ctx context.Context) ([]CategoryPayload, error) {
	var cached []CategoryPayload
	if ok, err := s.cache.GetJSON(ctx, categoriesCacheKey, &cached); err == nil && ok {
		return cached, nil
	}
	rows, err := s.store.ListCategories(ctx)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	items := make([]CategoryPayload, 0, len(rows))
	for _, row := range rows {
		items = append(items, toCategoryPayload(row))
	}
	_ = s.cache.SetJSON(ctx, categoriesCacheKey, items)
	return items, nil
}

func (s *Service) validateProductInput(in ProductInput) error {
	if err := s.validate.Struct(in); err != nil {
		return validationError(err)
	}
	if in.Price.IsNegative() {
		return badRequest("price", "price cannot be negative", nil)
	}
	return nil
}

// resolveCategoryID parses and existence-checks an optional category reference.
func (s *Service) resolveCategoryID(ctx context.Context, raw *string) (*uuid.UUID, error) {
	if raw == nil || strings.TrimSpace(*raw) == "" {
		return nil, nil
	}
	id, err := parseID(*raw)
	if err != nil {
		return nil, err
	}
	if _, err := s.store.GetCategoryByID(ctx, id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, categoryNotFound(err)
		}
		return nil, fmt.Errorf("get category: %w", err)
	}
	return &id, nil
}

// isAncestor reports whether candidate sits below root in the category tree.
func (s *Service) isAncestor(ctx context.Context, root, candidate uuid.UUID) (bool, error) {
	seen := make(map[uuid.UUID]struct{})
	current := candidate
	for {
		if _, ok := seen[current]; ok {
			return false, nil
		}
		seen[current] = struct{}{}
		cat, err := s.store.GetCategoryByID(ctx, current)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return false, nil
			}
			return false, fmt.Errorf("get category: %w", err)
		}
		if cat.ParentID == nil {
			return false, nil
		}
		if *cat.ParentID == root {
			return true, nil
		}
		current = *cat.ParentID
	}
}

func (s *Service) listCacheKey(params ListParams, page, limit int) (string, bool) {
	if s.cache == nil {
		return "", false
	}
	if strings.TrimSpace(params.Query) != "" || params.CategoryID != nil {
		return "", false
	}
	if page != 1 || limit != s.defaultLimit {
		return "", false
	}
	return productsCachePrefix + "list:recent", true
}

func (s *Service) invalidateProducts(ctx context.Context) {
	_ = s.cache.InvalidatePrefix(ctx, productsCachePrefix)
}

func (s *Service) invalidateCategories(ctx context.Context) {
	_ = s.cache.InvalidatePrefix(ctx, "catalog:categories:")
}

type cachedProductList struct {
	Items []ProductPayload `json:"items"`
	Total int64            `json:"total"`
}

func toProductPayload(p Product) ProductPayload {
	payload := ProductPayload{
		ID:          p.ID.String(),
		Name:        p.Name,
		Description: p.Description,
		Barcode:     p.Barcode,
		Price:       p.Price,
		Condition:   p.Condition,
		Size:        p.Size,
		Color:       p.Color,
		ImageURL:    p.ImageURL,
		Stock:       p.Stock,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
	if p.CategoryID != nil {
		id := p.CategoryID.String()
		payload.CategoryID = &id
	}
	return payload
}

func toCategoryPayload(c Category) CategoryPayload {
	payload := CategoryPayload{ID: c.ID.String(), Name: c.Name}
	if c.ParentID != nil {
		id := c.ParentID.String()
		payload.ParentID = &id
	}
	return payload
}

func parseID(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return uuid.Nil, badRequest("id", "invalid identifier", err)
	}
	return id, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolationCode
}

func productNotFound(err error) *common.AppError {
	return &common.AppError{Code: "NOT_FOUND", Message: "product not found", HTTPStatus: http.StatusNotFound, Err: err}
}

func categoryNotFound(err error) *common.AppError {
	return &common.AppError{Code: "NOT_FOUND", Message: "category not found", HTTPStatus: http.StatusNotFound, Err: err}
}

func badRequest(field, message string, err error) *common.AppError {
	return &common.AppError{
		Code:       "BAD_REQUEST",
		Message:    message,
		HTTPStatus: http.StatusBadRequest,
		Err:        err,
		Details:    map[string]any{"field": field},
	}
}

func validationError(err error) *common.AppError {
	var fieldErrs validator.ValidationErrors
	details := map[string]any{}
	if errors.As(err, &fieldErrs) {
		for _, fe := range fieldErrs {
			details[fe.Field()] = fe.Tag()
		}
	}
	return &common.AppError{
		Code:       "VALIDATION",
		Message:    "request validation failed",
		HTTPStatus: http.StatusUnprocessableEntity,
		Err:        err,
		Details:    details,
	}
}
