package exchange

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ihirwe-dev/backend-pos/internal/common"
)

// Handler exposes the exchange rate endpoints.
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

// Current handles GET /exchange-rate.
func (h *Handler) Current(w http.ResponseWriter, r *http.Request) {
	if h.service == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "exchange service not configured", nil)
		return
	}
	rate, err := h.service.CurrentRate(r.Context())
	if err != nil {
		common.RenderError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": rate})
}

// Update handles PUT /exchange-rate.
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	if h.service == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "exchange service not configured", nil)
		return
	}
	var in struct {
		Rate decimal.Decimal `json:"rate"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid JSON payload", nil)
		return
	}
	var updatedBy *uuid.UUID
	if raw, ok := common.UserID(r.Context()); ok {
		if id, err := uuid.Parse(raw); err == nil {
			updatedBy = &id
		}
	}
	rate, err := h.service.UpdateRate(r.Context(), in.Rate, updatedBy)
	if err != nil {
		common.RenderError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": rate})
}

// History handles GET /exchange-rate/history.
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	limit := common.AtoiDefault(r.URL.Query().Get("limit"), 50)
	rates, err := h.service.History(r.Context(), limit)
	if err != nil {
		common.RenderError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": rates})
}
