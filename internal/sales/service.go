package sales

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

	"github.com/ihirwe-dev/backend-pos/internal/cart"
	"github.com/ihirwe-dev/backend-pos/internal/common"
	"github.com/ihirwe-dev/backend-pos/internal/jobs"
	"github.com/ihirwe-dev/backend-pos/internal/obs"
)

// Service orchestrates POS quotes, order creation, cancellation, and payments.
type Service struct {
	store        Store
	validate     *validator.Validate
	enqueuer     jobs.Enqueuer
	logger       zerolog.Logger
	now          func() time.Time
	defaultLimit int
	maxLimit     int
}

// ServiceConfig groups Service dependencies.
type ServiceConfig struct {
	Store        Store
	Validate     *validator.Validate
	Enqueuer     jobs.Enqueuer
	Logger       zerolog.Logger
	Now          func() time.Time
	DefaultLimit int
	MaxLimit     int
}

// QuoteLine is one requested line of a quote or order.
type QuoteLine struct {
	ProductID string           `json:"productId" validate:"required,uuid"`
	Quantity  int              `json:"quantity" validate:"required,gt=0"`
	UnitPrice *decimal.Decimal `json:"unitPrice,omitempty"`
}

// QuoteInput is the POST /pos/quote payload.
type QuoteInput struct {
	Lines           []QuoteLine     `json:"lines" validate:"required,min=1,dive"`
	DiscountPercent decimal.Decimal `json:"discountPercent"`
	TaxPercent      decimal.Decimal `json:"taxPercent"`
}

// OrderInput is the POST /orders payload.
type OrderInput struct {
	CustomerName    string          `json:"customerName" validate:"max=200"`
	Lines           []QuoteLine     `json:"lines" validate:"required,min=1,dive"`
	DiscountPercent decimal.Decimal `json:"discountPercent"`
	TaxPercent      decimal.Decimal `json:"taxPercent"`
}

// PaymentInput is the POST /sales/{id}/confirm-payment payload.
type PaymentInput struct {
	Method     string          `json:"method" validate:"required,max=50"`
	AmountPaid decimal.Decimal `json:"amountPaid"`
	Notes      string          `json:"notes" validate:"max=500"`
}

// QuotePayload is the server-computed quote response.
type QuotePayload struct {
	Lines  []cart.Line `json:"lines"`
	Totals cart.Totals `json:"totals"`
}

// OrderItemPayload is the public order line representation.
type OrderItemPayload struct {
	ProductID string          `json:"productId"`
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
	Subtotal  decimal.Decimal `json:"subtotal"`
}

// OrderPayload is the public order representation.
type OrderPayload struct {
	ID              string             `json:"id"`
	InvoiceNumber   string             `json:"invoiceNumber"`
	CustomerName    string             `json:"customerName,omitempty"`
	Status          string             `json:"status"`
	DiscountPercent decimal.Decimal    `json:"discountPercent"`
	TaxPercent      decimal.Decimal    `json:"taxPercent"`
	Subtotal        decimal.Decimal    `json:"subtotal"`
	DiscountAmount  decimal.Decimal    `json:"discountAmount"`
	TaxableAmount   decimal.Decimal    `json:"taxableAmount"`
	TaxAmount       decimal.Decimal    `json:"taxAmount"`
	TotalAmount     decimal.Decimal    `json:"totalAmount"`
	Items           []OrderItemPayload `json:"items,omitempty"`
	Sale            *SalePayload       `json:"sale,omitempty"`
	CreatedAt       time.Time          `json:"createdAt"`
}

// SalePayload is the public payment representation, including the derived
// remaining and overpaid amounts.
type SalePayload struct {
	ID            string          `json:"id"`
	OrderID       string          `json:"orderId"`
	InvoiceNumber string          `json:"invoiceNumber"`
	Status        string          `json:"status"`
	OrderTotal    decimal.Decimal `json:"orderTotal"`
	AmountPaid    decimal.Decimal `json:"amountPaid"`
	Remaining     decimal.Decimal `json:"remaining"`
	OverPaid      decimal.Decimal `json:"overPaid"`
	PaymentMethod string          `json:"paymentMethod,omitempty"`
	Notes         string          `json:"notes,omitempty"`
	PaidAt        *time.Time      `json:"paidAt,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
}

// OrderListResult contains list data and pagination metadata.
type OrderListResult struct {
	Items []OrderPayload
	Total int64
	Page  int
	Limit int
}

// SaleListResult contains list data and pagination metadata.
type SaleListResult struct {
	Items []SalePayload
	Total int64
	Page  int
	Limit int
}

// NewService constructs a Service instance.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, errors.New("sales: store is required")
	}
	validate := cfg.Validate
	if validate == nil {
		validate = validator.New()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	defaultLimit := cfg.DefaultLimit
	if defaultLimit < 1 {
		defaultLimit = 20
	}
	maxLimit := cfg.MaxLimit
	if maxLimit < 1 {
		maxLimit = 100
	}
	return &Service{
		store:        cfg.Store,
		validate:     validate,
		enqueuer:     cfg.Enqueuer,
		logger:       cfg.Logger,
		now:          now,
		defaultLimit: defaultLimit,
		maxLimit:     maxLimit,
	}, nil
}

// Quote replays the requested lines over authoritative stock and returns the
// server-computed totals. Client-sent totals are never trusted.
func (s *Service) Quote(ctx context.Context, in QuoteInput) (QuotePayload, error) {
	if err := s.validate.Struct(in); err != nil {
		return QuotePayload{}, validationError(err)
	}
	if err := validatePercents(in.DiscountPercent, in.TaxPercent); err != nil {
		return QuotePayload{}, err
	}
	built, err := s.buildCart(ctx, in.Lines, in.DiscountPercent, in.TaxPercent, true)
	if err != nil {
		return QuotePayload{}, err
	}
	return QuotePayload{Lines: built.Lines, Totals: cart.ComputeTotals(built)}, nil
}

// CreateOrder validates the requested lines against live stock, recomputes
// the totals server-side, and persists the order atomically.
func (s *Service) CreateOrder(ctx context.Context, in OrderInput, preparedBy *uuid.UUID) (OrderPayload, error) {
	if err := s.validate.Struct(in); err != nil {
		countOrder("rejected")
		return OrderPayload{}, validationError(err)
	}
	if err := validatePercents(in.DiscountPercent, in.TaxPercent); err != nil {
		countOrder("rejected")
		return OrderPayload{}, err
	}
	built, err := s.buildCart(ctx, in.Lines, in.DiscountPercent, in.TaxPercent, false)
	if err != nil {
		countOrder("rejected")
		return OrderPayload{}, err
	}
	totals := cart.ComputeTotals(built)

	items := make([]DraftItem, 0, len(built.Lines))
	for _, line := range built.Lines {
		productID, err := uuid.Parse(line.ProductID)
		if err != nil {
			countOrder("rejected")
			return OrderPayload{}, fmt.Errorf("parse product id: %w", err)
		}
		qty := decimal.NewFromInt(int64(line.Quantity))
		items = append(items, DraftItem{
			ProductID: productID,
			Name:      line.Name,
			Quantity:  line.Quantity,
			UnitPrice: line.UnitPrice,
			Subtotal:  line.UnitPrice.Mul(qty),
		})
	}

	order, err := s.store.CreateOrder(ctx, OrderDraft{
		InvoicePrefix:   "INV-" + s.now().Format("20060102") + "-",
		CustomerName:    strings.TrimSpace(in.CustomerName),
		DiscountPercent: in.DiscountPercent,
		TaxPercent:      in.TaxPercent,
		Subtotal:        totals.Subtotal,
		DiscountAmount:  totals.Discount,
		TaxableAmount:   totals.Taxable,
		TaxAmount:       totals.Tax,
		TotalAmount:     totals.GrandTotal,
		PreparedBy:      preparedBy,
		Items:           items,
	})
	if err != nil {
		if errors.Is(err, ErrInsufficientStock) {
			countOrder("rejected")
			return OrderPayload{}, insufficientStock(err, nil)
		}
		countOrder("error")
		return OrderPayload{}, fmt.Errorf("create order: %w", err)
	}
	countOrder("created")
	s.publishOrderCreated(ctx, order)
	return toOrderPayload(order), nil
}

// GetOrder fetches one order with its items and payment.
func (s *Service) GetOrder(ctx context.Context, id string) (OrderPayload, error) {
	orderID, err := parseID(id)
	if err != nil {
		return OrderPayload{}, err
	}
	order, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return OrderPayload{}, orderNotFound(err)
		}
		return OrderPayload{}, fmt.Errorf("get order: %w", err)
	}
	return toOrderPayload(order), nil
}

// ListOrders returns an order page, newest first.
func (s *Service) ListOrders(ctx context.Context, status string, page, limit int) (OrderListResult, error) {
	page, limit = s.clampPage(page, limit)
	status = strings.TrimSpace(status)
	if status != "" && status != OrderPending && status != OrderCompleted && status != OrderCancelled {
		return OrderListResult{}, badRequest("status", "unknown order status", nil)
	}
	filter := OrderFilter{Status: status, Limit: limit, Offset: common.Offset(page, limit)}
	total, err := s.store.CountOrders(ctx, filter)
	if err != nil {
		return OrderListResult{}, fmt.Errorf("count orders: %w", err)
	}
	rows, err := s.store.ListOrders(ctx, filter)
	if err != nil {
		return OrderListResult{}, fmt.Errorf("list orders: %w", err)
	}
	items := make([]OrderPayload, 0, len(rows))
	for _, row := range rows {
		items = append(items, toOrderPayload(row))
	}
	return OrderListResult{Items: items, Total: total, Page: page, Limit: limit}, nil
}

// CancelOrder voids an order and restores its stock. Orders with an active
// payment must be refunded first.
func (s *Service) CancelOrder(ctx context.Context, id string) (OrderPayload, error) {
	orderID, err := parseID(id)
	if err != nil {
		return OrderPayload{}, err
	}
	order, err := s.store.CancelOrder(ctx, orderID)
	if err != nil {
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			return OrderPayload{}, orderNotFound(err)
		case errors.Is(err, ErrAlreadyCancelled):
			return OrderPayload{}, &common.AppError{Code: "CONFLICT", Message: "order is already cancelled", HTTPStatus: http.StatusConflict, Err: err}
		case errors.Is(err, ErrOrderNotCancellable):
			return OrderPayload{}, &common.AppError{Code: "CONFLICT", Message: "order has an active payment; refund it first", HTTPStatus: http.StatusConflict, Err: err}
		default:
			return OrderPayload{}, fmt.Errorf("cancel order: %w", err)
		}
	}
	if obs.OrdersCancelledTotal != nil {
		obs.OrdersCancelledTotal.Inc()
	}
	return toOrderPayload(order), nil
}

// ListSales returns a sale page, newest first.
func (s *Service) ListSales(ctx context.Context, status string, page, limit int) (SaleListResult, error) {
	page, limit = s.clampPage(page, limit)
	status = strings.TrimSpace(status)
	switch status {
	case "", SalePending, SalePaid, SaleHalfPaid, SaleRefunded, SaleVoided:
	default:
		return SaleListResult{}, badRequest("status", "unknown sale status", nil)
	}
	filter := SaleFilter{Status: status, Limit: limit, Offset: common.Offset(page, limit)}
	total, err := s.store.CountSales(ctx, filter)
	if err != nil {
		return SaleListResult{}, fmt.Errorf("count sales: %w", err)
	}
	rows, err := s.store.ListSales(ctx, filter)
	if err != nil {
		return SaleListResult{}, fmt.Errorf("list sales: %w", err)
	}
	items := make([]SalePayload, 0, len(rows))
	for _, row := range rows {
		items = append(items, toSalePayload(row))
	}
	return SaleListResult{Items: items, Total: total, Page: page, Limit: limit}, nil
}

// ConfirmPayment records a payment against a sale. The resulting status is
// paid when the running amount covers the order total, otherwise half-paid.
func (s *Service) ConfirmPayment(ctx context.Context, id string, in PaymentInput) (SalePayload, error) {
	saleID, err := parseID(id)
	if err != nil {
		return SalePayload{}, err
	}
	if err := s.validate.Struct(in); err != nil {
		return SalePayload{}, validationError(err)
	}
	if !in.AmountPaid.IsPositive() {
		return SalePayload{}, badRequest("amountPaid", "amount paid must be positive", nil)
	}
	sale, err := s.store.GetSale(ctx, saleID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return SalePayload{}, saleNotFound(err)
		}
		return SalePayload{}, fmt.Errorf("get sale: %w", err)
	}
	switch sale.Status {
	case SaleRefunded, SaleVoided:
		return SalePayload{}, &common.AppError{Code: "CONFLICT", Message: "sale is closed", HTTPStatus: http.StatusConflict}
	case SalePaid:
		return SalePayload{}, &common.AppError{Code: "CONFLICT", Message: "sale is already fully paid", HTTPStatus: http.StatusConflict}
	}

	// The increment happens store-side in a single statement; a concurrent
	// confirmation that settled the sale first matches no row.
	updated, err := s.store.AddSalePayment(ctx, saleID, in.AmountPaid, strings.TrimSpace(in.Method), strings.TrimSpace(in.Notes))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return SalePayload{}, &common.AppError{Code: "CONFLICT", Message: "sale is no longer payable", HTTPStatus: http.StatusConflict, Err: err}
		}
		return SalePayload{}, fmt.Errorf("add payment: %w", err)
	}
	if obs.PaymentsConfirmedTotal != nil {
		obs.PaymentsConfirmedTotal.WithLabelValues(updated.Status).Inc()
	}
	return toSalePayload(updated), nil
}

// RefundSale marks a paid or half-paid sale as refunded.
func (s *Service) RefundSale(ctx context.Context, id string) (SalePayload, error) {
	saleID, err := parseID(id)
	if err != nil {
		return SalePayload{}, err
	}
	sale, err := s.store.GetSale(ctx, saleID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return SalePayload{}, saleNotFound(err)
		}
		return SalePayload{}, fmt.Errorf("get sale: %w", err)
	}
	if sale.Status != SalePaid && sale.Status != SaleHalfPaid {
		return SalePayload{}, &common.AppError{Code: "CONFLICT", Message: "only paid sales can be refunded", HTTPStatus: http.StatusConflict}
	}
	sale.Status = SaleRefunded
	updated, err := s.store.UpdateSalePayment(ctx, sale)
	if err != nil {
		return SalePayload{}, fmt.Errorf("update sale: %w", err)
	}
	if obs.PaymentsConfirmedTotal != nil {
		obs.PaymentsConfirmedTotal.WithLabelValues(SaleRefunded).Inc()
	}
	return toSalePayload(updated), nil
}

// buildCart resolves requested lines against product snapshots. With
// clampQuantities the requested amount is bounded to available stock (quote
// behaviour); without it, exceeding stock is a rejection (order behaviour).
func (s *Service) buildCart(ctx context.Context, lines []QuoteLine, discount, tax decimal.Decimal, clampQuantities bool) (cart.Cart, error) {
	merged := make([]QuoteLine, 0, len(lines))
	index := make(map[string]int, len(lines))
	ids := make([]uuid.UUID, 0, len(lines))
	for _, line := range lines {
		id, err := uuid.Parse(line.ProductID)
		if err != nil {
			return cart.Cart{}, badRequest("productId", "invalid product identifier", err)
		}
		if at, ok := index[line.ProductID]; ok {
			merged[at].Quantity += line.Quantity
			if line.UnitPrice != nil {
				merged[at].UnitPrice = line.UnitPrice
			}
			continue
		}
		index[line.ProductID] = len(merged)
		merged = append(merged, line)
		ids = append(ids, id)
	}

	snapshots, err := s.store.GetProducts(ctx, ids)
	if err != nil {
		return cart.Cart{}, fmt.Errorf("get products: %w", err)
	}
	byID := make(map[string]ProductSnapshot, len(snapshots))
	for _, snap := range snapshots {
		byID[snap.ID.String()] = snap
	}

	built := cart.Cart{DiscountPercent: discount, TaxPercent: tax}
	for _, line := range merged {
		snap, ok := byID[line.ProductID]
		if !ok {
			return cart.Cart{}, &common.AppError{
				Code: "NOT_FOUND", Message: "product not found", HTTPStatus: http.StatusNotFound,
				Details: map[string]any{"productId": line.ProductID},
			}
		}
		next, err := cart.Merge(built, cart.Incoming{
			ProductID:      line.ProductID,
			Name:           snap.Name,
			UnitPrice:      snap.Price,
			AvailableStock: snap.Stock,
		})
		if err != nil {
			return cart.Cart{}, &common.AppError{
				Code: "OUT_OF_STOCK", Message: "product is out of stock", HTTPStatus: http.StatusConflict,
				Err: err, Details: map[string]any{"productId": line.ProductID},
			}
		}
		if !clampQuantities && line.Quantity > snap.Stock {
			return cart.Cart{}, insufficientStock(nil, map[string]any{
				"productId": line.ProductID,
				"requested": line.Quantity,
				"available": snap.Stock,
			})
		}
		if next, err = cart.SetQuantity(next, line.ProductID, line.Quantity); err != nil {
			return cart.Cart{}, fmt.Errorf("set quantity: %w", err)
		}
		if line.UnitPrice != nil {
			if next, err = cart.SetPrice(next, line.ProductID, *line.UnitPrice); err != nil {
				return cart.Cart{}, &common.AppError{
					Code: "INVALID_PRICE", Message: "unit price cannot be negative", HTTPStatus: http.StatusBadRequest,
					Err: err, Details: map[string]any{"productId": line.ProductID},
				}
			}
		}
		built = next
	}
	return built, nil
}

func (s *Service) publishOrderCreated(ctx context.Context, order Order) {
	if s.enqueuer == nil {
		return
	}
	task, err := jobs.NewOrderCreatedTask(jobs.OrderCreatedPayload{
		OrderID:       order.ID.String(),
		InvoiceNumber: order.InvoiceNumber,
		CustomerName:  order.CustomerName,
		TotalAmount:   order.TotalAmount.String(),
		CreatedAt:     order.CreatedAt,
	})
	if err != nil {
		s.logger.Error().Err(err).Str("order_id", order.ID.String()).Msg("build order-created task")
		return
	}
	if _, err := s.enqueuer.EnqueueContext(ctx, task); err != nil {
		s.logger.Error().Err(err).Str("order_id", order.ID.String()).Msg("enqueue order-created task")
	}
}

func (s *Service) clampPage(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = s.defaultLimit
	}
	if limit > s.maxLimit {
		limit = s.maxLimit
	}
	return page, limit
}

func countOrder(result string) {
	if obs.OrdersCreatedTotal != nil {
		obs.OrdersCreatedTotal.WithLabelValues(result).Inc()
	}
}

func validatePercents(discount, tax decimal.Decimal) error {
	if discount.IsNegative() || discount.GreaterThan(decimal.NewFromInt(100)) {
		return badRequest("discountPercent", "discount percent must be between 0 and 100", nil)
	}
	if tax.IsNegative() {
		return badRequest("taxPercent", "tax percent cannot be negative", nil)
	}
	return nil
}

func toOrderPayload(order Order) OrderPayload {
	payload := OrderPayload{
		ID:              order.ID.String(),
		InvoiceNumber:   order.InvoiceNumber,
		CustomerName:    order.CustomerName,
		Status:          order.Status,
		DiscountPercent: order.DiscountPercent,
		TaxPercent:      order.TaxPercent,
		Subtotal:        order.Subtotal,
		DiscountAmount:  order.DiscountAmount,
		TaxableAmount:   order.TaxableAmount,
		TaxAmount:       order.TaxAmount,
		TotalAmount:     order.TotalAmount,
		CreatedAt:       order.CreatedAt,
	}
	for _, item := range order.Items {
		payload.Items = append(payload.Items, OrderItemPayload{
			ProductID: item.ProductID.String(),
			Name:      item.Name,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			Subtotal:  item.Subtotal,
		})
	}
	if order.Sale != nil {
		sale := toSalePayload(*order.Sale)
		payload.Sale = &sale
	}
	return payload
}

func toSalePayload(sale Sale) SalePayload {
	remaining := sale.OrderTotal.Sub(sale.AmountPaid)
	overPaid := decimal.Zero
	if remaining.IsNegative() {
		overPaid = remaining.Neg()
		remaining = decimal.Zero
	}
	return SalePayload{
		ID:            sale.ID.String(),
		OrderID:       sale.OrderID.String(),
		InvoiceNumber: sale.InvoiceNumber,
		Status:        sale.Status,
		OrderTotal:    sale.OrderTotal,
		AmountPaid:    sale.AmountPaid,
		Remaining:     remaining,
		OverPaid:      overPaid,
		PaymentMethod: sale.PaymentMethod,
		Notes:         sale.Notes,
		PaidAt:        sale.PaidAt,
		CreatedAt:     sale.CreatedAt,
	}
}

func parseID(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return uuid.Nil, badRequest("id", "invalid identifier", err)
	}
	return id, nil
}

func insufficientStock(err error, details map[string]any) *common.AppError {
	return &common.AppError{
		Code:       "INSUFFICIENT_STOCK",
		Message:    "requested quantity exceeds available stock",
		HTTPStatus: http.StatusConflict,
		Err:        err,
		Details:    details,
	}
}

func orderNotFound(err error) *common.AppError {
	return &common.AppError{Code: "NOT_FOUND", Message: "order not found", HTTPStatus: http.StatusNotFound, Err: err}
}

func saleNotFound(err error) *common.AppError {
	return &common.AppError{Code: "NOT_FOUND", Message: "sale not found", HTTPStatus: http.StatusNotFound, Err: err}
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
