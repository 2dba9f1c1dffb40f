package inventory

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/ihirwe-dev/backend-pos/internal/common"
)

// Handler exposes stock movement and stock level endpoints.
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

// CreateMovement handles POST /stock-movements.
func (h *Handler) CreateMovement(w http.ResponseWriter, r *http.Request) {
	if h.service == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "inventory service not configured", nil)
		return
	}
	var in MovementInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid JSON payload", nil)
		return
	}
	var createdBy *uuid.UUID
	if raw, ok := common.UserID(r.Context()); ok {
		if id, err := uuid.Parse(raw); err == nil {
			createdBy = &id
		}
	}
	movement, err := h.service.RecordMovement(r.Context(), in, createdBy)
	if err != nil {
		common.RenderError(w, err)
		return
	}
	common.JSON(w, http.StatusCreated, map[string]any{"data": movement})
}

// ListMovements handles GET /stock-movements with product and type filters.
func (h *Handler) ListMovements(w http.ResponseWriter, r *http.Request) {
	if h.service == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "inventory service not configured", nil)
		return
	}
	page, limit := common.ParsePagination(r, h.service.defaultLimit, h.service.maxLimit)
	params := ListParams{
		Type:  r.URL.Query().Get("type"),
		Page:  page,
		Limit: limit,
	}
	if v := r.URL.Query().Get("productId"); v != "" {
		params.ProductID = &v
	}
	result, err := h.service.ListMovements(r.Context(), params)
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

// StockLevels handles GET /inventory.
func (h *Handler) StockLevels(w http.ResponseWriter, r *http.Request) {
	if h.service == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "inventory service not configured", nil)
		return
	}
	levels, err := h.service.StockLevels(r.Context())
	if err != nil {
		common.RenderError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": levels})
}
