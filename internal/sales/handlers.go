package sales

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/ihirwe-dev/backend-pos/internal/common"
)

// Handler exposes POS order and payment endpoints.
type Handler struct {
	service *Service
}

// HandlerConfig configures the Handler dependencies.
type HandlerConfig struct {
	Service *Service
}

// NewHandler constructs a Handler.
func NewHandler(cfg HandlerConfig) *Handler {
	return &Handler{service: cfg.Service}
}

// Quote handles POST /pos/quote.
func (h *Handler) Quote(w http.ResponseWriter, r *http.Request) {
	if h.service == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "sales service not configured", nil)
		return
	}
	var in QuoteInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid JSON payload", nil)
		return
	}
	quote, err := h.service.Quote(r.Context(), in)
	if err != nil {
		common.RenderError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": quote})
}

// CreateOrder handles POST /orders.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	if h.service == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "sales service not configured", nil)
		return
	}
	var in OrderInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid JSON payload", nil)
		return
	}
	var preparedBy *uuid.UUID
	if raw, ok := common.UserID(r.Context()); ok {
		if id, err := uuid.Parse(raw); err == nil {
			preparedBy = &id
		}
	}
	order, err := h.service.CreateOrder(r.Context(), in, preparedBy)
	if err != nil {
		common.RenderError(w, err)
		return
	}
	common.JSON(w, http.StatusCreated, map[string]any{"data": order})
}

// GetOrder handles GET /orders/{id}.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.service.GetOrder(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		common.RenderError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": order})
}

// ListOrders handles GET /orders with status filter and pagination.
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	page, limit := common.ParsePagination(r, h.service.defaultLimit, h.service.maxLimit)
	result, err := h.service.ListOrders(r.Context(), r.URL.Query().Get("status"), page, limit)
	if err != nil {
		common.RenderError(w, err)
		return
	}
	w.Header().Set("X-Total-Count", strconv.FormatInt(result.Total, 10))
	common.JSON(w, http.StatusOK, map[string]any{
		"data":       result.Items,
		"pagination": common.Pagination{Page: result.Page, PerPage: result.Limit, TotalItems: result.Total},
	})
}

// CancelOrder handles POST /orders/{id}/cancel.
func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.service.CancelOrder(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		common.RenderError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": order})
}

// ListSales handles GET /sales with status filter and pagination.
func (h *Handler) ListSales(w http.ResponseWriter, r *http.Request) {
	page, limit := common.ParsePagination(r, h.service.defaultLimit, h.service.maxLimit)
	result, err := h.service.ListSales(r.Context(), r.URL.Query().Get("status"), page, limit)
	if err != nil {
		common.RenderError(w, err)
		return
	}
	w.Header().Set("X-Total-Count", strconv.FormatInt(result.Total, 10))
	common.JSON(w, http.StatusOK, map[string]any{
		"data":       result.Items,
		"pagination": common.Pagination{Page: result.Page, PerPage: result.Limit, TotalItems: result.Total},
	})
}

// ConfirmPayment handles POST /sales/{id}/confirm-payment.
func (h *Handler) ConfirmPayment(w http.ResponseWriter, r *http.Request) {
	var in PaymentInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid JSON payload", nil)
		return
	}
	sale, err := h.service.ConfirmPayment(r.Context(), chi.URLParam(r, "id"), in)
	if err != nil {
		common.RenderError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": sale})
}

// RefundSale handles POST /sales/{id}/refund.
func (h *Handler) RefundSale(w http.ResponseWriter, r *http.Request) {
	sale, err := h.service.RefundSale(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		common.RenderError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": sale})
}
