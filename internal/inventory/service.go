package inventory

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
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/ihirwe-dev/backend-pos/internal/common"
	"github.com/ihirwe-dev/backend-pos/internal/jobs"
	"github.com/ihirwe-dev/backend-pos/internal/obs"
)

// Service orchestrates stock movement recording and stock level reads.
type Service struct {
	store             Store
	validate          *validator.Validate
	enqueuer          jobs.Enqueuer
	logger            zerolog.Logger
	lowStockThreshold int
	defaultLimit      int
	maxLimit          int
}

// ServiceConfig groups Service dependencies.
type ServiceConfig struct {
	Store             Store
	Validate          *validator.Validate
	Enqueuer          jobs.Enqueuer
	Logger            zerolog.Logger
	LowStockThreshold int
	DefaultLimit      int
	MaxLimit          int
}

// MovementInput is the create payload for stock movements.
type MovementInput struct {
	ProductID string `json:"productId" validate:"required,uuid"`
	Type      string `json:"type" validate:"required,oneof=entry exit"`
	Quantity  int    `json:"quantity" validate:"required,gt=0"`
	Reason    string `json:"reason" validate:"omitempty,oneof=sold returned damaged other"`
}

// MovementPayload is the public movement representation.
type MovementPayload struct {
	ID          string    `json:"id"`
	ProductID   string    `json:"productId"`
	ProductName string    `json:"productName,omitempty"`
	Type        string    `json:"type"`
	Quantity    int       `json:"quantity"`
	Reason      string    `json:"reason"`
	CreatedBy   *string   `json:"createdBy,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// StockLevelPayload is one row of the stock level report.
type StockLevelPayload struct {
	ProductID   string          `json:"productId"`
	Name        string          `json:"name"`
	Barcode     string          `json:"barcode"`
	Price       decimal.Decimal `json:"price"`
	Stock       int             `json:"stock"`
	RetailValue decimal.Decimal `json:"retailValue"`
	LowStock    bool            `json:"lowStock"`
}

// MovementListResult contains list data and pagination metadata.
type MovementListResult struct {
	Items []MovementPayload
	Total int64
	Page  int
	Limit int
}

// ListParams captures filters for the movement listing.
type ListParams struct {
	ProductID *string
	Type      string
	Page      int
	Limit     int
}

// NewService constructs a Service instance.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, errors.New("inventory: store is required")
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
	threshold := cfg.LowStockThreshold
	if threshold < 0 {
		threshold = 0
	}
	return &Service{
		store:             cfg.Store,
		validate:          validate,
		enqueuer:          cfg.Enqueuer,
		logger:            cfg.Logger,
		lowStockThreshold: threshold,
		defaultLimit:      defaultLimit,
		maxLimit:          maxLimit,
	}, nil
}

// RecordMovement validates and persists one stock movement, adjusting the
// product's stock atomically.
func (s *Service) RecordMovement(ctx context.Context, in MovementInput, createdBy *uuid.UUID) (MovementPayload, error) {
	if err := s.validate.Struct(in); err != nil {
		return MovementPayload{}, validationError(err)
	}
	productID, err := uuid.Parse(in.ProductID)
	if err != nil {
		return MovementPayload{}, &common.AppError{Code: "BAD_REQUEST", Message: "invalid product identifier", HTTPStatus: http.StatusBadRequest, Err: err}
	}
	reason := strings.TrimSpace(in.Reason)
	if reason == "" {
		reason = ReasonOther
	}
	movement, err := s.store.CreateMovement(ctx, Movement{
		ProductID: productID,
		Type:      MovementType(in.Type),
		Quantity:  in.Quantity,
		Reason:    reason,
		CreatedBy: createdBy,
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrInsufficientStock):
			return MovementPayload{}, &common.AppError{Code: "INSUFFICIENT_STOCK", Message: "exit exceeds available stock", HTTPStatus: http.StatusConflict, Err: err}
		case errors.Is(err, pgx.ErrNoRows):
			return MovementPayload{}, &common.AppError{Code: "NOT_FOUND", Message: "product not found", HTTPStatus: http.StatusNotFound, Err: err}
		default:
			return MovementPayload{}, fmt.Errorf("create movement: %w", err)
		}
	}
	if obs.StockMovementsTotal != nil {
		obs.StockMovementsTotal.WithLabelValues(string(movement.Type), movement.Reason).Inc()
	}
	if movement.Type == MovementExit && movement.ResultingStock <= s.lowStockThreshold {
		s.publishLowStock(ctx, movement)
	}
	return toMovementPayload(movement), nil
}

// publishLowStock enqueues a low-stock alert. A missing queue or enqueue
// failure never fails the movement itself.
func (s *Service) publishLowStock(ctx context.Context, m Movement) {
	if s.enqueuer == nil {
		return
	}
	task, err := jobs.NewLowStockTask(jobs.LowStockPayload{
		ProductID: m.ProductID.String(),
		Name:      m.ProductName,
		Stock:     m.ResultingStock,
		Threshold: s.lowStockThreshold,
	})
	if err != nil {
		s.logger.Error().Err(err).Msg("build low stock task")
		return
	}
	if _, err := s.enqueuer.EnqueueContext(ctx, task); err != nil {
		s.logger.Error().Err(err).Str("productId", m.ProductID.String()).Msg("enqueue low stock task")
	}
}

// ListMovements returns a movement page, newest first.
func (s *Service) ListMovements(ctx context.Context, params ListParams) (MovementListResult, error) {
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
	filter := MovementFilter{
		Type:   MovementType(strings.TrimSpace(params.Type)),
		Limit:  limit,
		Offset: common.Offset(page, limit),
	}
	if params.ProductID != nil && strings.TrimSpace(*params.ProductID) != "" {
		id, err := uuid.Parse(strings.TrimSpace(*params.ProductID))
		if err != nil {
			return MovementListResult{}, &common.AppError{Code: "BAD_REQUEST", Message: "invalid product identifier", HTTPStatus: http.StatusBadRequest, Err: err}
		}
		filter.ProductID = &id
	}
	if filter.Type != "" && filter.Type != MovementEntry && filter.Type != MovementExit {
		return MovementListResult{}, &common.AppError{Code: "BAD_REQUEST", Message: "type must be entry or exit", HTTPStatus: http.StatusBadRequest}
	}
	total, err := s.store.CountMovements(ctx, filter)
	if err != nil {
		return MovementListResult{}, fmt.Errorf("count movements: %w", err)
	}
	rows, err := s.store.ListMovements(ctx, filter)
	if err != nil {
		return MovementListResult{}, fmt.Errorf("list movements: %w", err)
	}
	items := make([]MovementPayload, 0, len(rows))
	for _, row := range rows {
		items = append(items, toMovementPayload(row))
	}
	return MovementListResult{Items: items, Total: total, Page: page, Limit: limit}, nil
}

// StockLevels returns the current stock position of every product.
func (s *Service) StockLevels(ctx context.Context) ([]StockLevelPayload, error) {
	rows, err := s.store.ListStockLevels(ctx)
	if err != nil {
		return nil, fmt.Errorf("list stock levels: %w", err)
	}
	items := make([]StockLevelPayload, 0, len(rows))
	for _, row := range rows {
		items = append(items, StockLevelPayload{
			ProductID:   row.ProductID.String(),
			Name:        row.Name,
			Barcode:     row.Barcode,
			Price:       row.Price,
			Stock:       row.Stock,
			RetailValue: row.RetailValue,
			LowStock:    row.Stock <= s.lowStockThreshold,
		})
	}
	return items, nil
}

func toMovementPayload(m Movement) MovementPayload {
	payload := MovementPayload{
		ID:          m.ID.String(),
		ProductID:   m.ProductID.String(),
		ProductName: m.ProductName,
		Type:        string(m.Type),
		Quantity:    m.Quantity,
		Reason:      m.Reason,
		CreatedAt:   m.CreatedAt,
	}
	if m.CreatedBy != nil {
		id := m.CreatedBy.String()
		payload.CreatedBy = &id
	}
	return payload
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
