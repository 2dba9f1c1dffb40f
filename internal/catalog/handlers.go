package catalog

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/ihirwe-dev/backend-pos/internal/common"
)

// Handler exposes catalog endpoints.
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

// ListProducts handles GET /products with search and pagination.
func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	if h.service == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "catalog service not configured", nil)
		return
	}
	page, limit := common.ParsePagination(r, h.service.defaultLimit, h.service.maxLimit)
	params := ListParams{
		Query: r.URL.Query().Get("q"),
		Page:  page,
		Limit: limit,
	}
	if v := r.URL.Query().Get("categoryId"); v != "" {
		params.CategoryID = &v
	}
	result, err := h.service.ListProducts(r.Context(), params)
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

// GetProduct handles GET /products/{id}.
func (h *Handler) GetProduct(w http.ResponseWriter, r *http.Request) {
	product, err := h.service.GetProduct(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		common.RenderError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": product})
}

// CreateProduct handles POST /products.
func (h *Handler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	var in ProductInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid JSON payload", nil)
		return
	}
	product, err := h.service.CreateProduct(r.Context(), in)
	if err != nil {
		common.RenderError(w, err)
		return
	}
	common.JSON(w, http.StatusCreated, map[string]any{"data": product})
}

// UpdateProduct handles PUT /products/{id}.
func (h *Handler) UpdateProduct(w http.ResponseWriter, r *http.Request) {
	var in ProductInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid JSON payload", nil)
		return
	}
	product, err := h.service.UpdateProduct(r.Context(), chi.URLParam(r, "id"), in)
	if err != nil {
		common.RenderError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": product})
}

// DeleteProduct handles DELETE /products/{id}.
func (h *Handler) DeleteProduct(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteProduct(r.Context(), chi.URLParam(r, "id")); err != nil {
		common.RenderError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ScanBarcode handles POST /pos/scan-barcode.
func (h *Handler) ScanBarcode(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Barcode string `json:"barcode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid JSON payload", nil)
		return
	}
	product, err := h.service.ScanBarcode(r.Context(), in.Barcode)
	if err != nil {
		common.RenderError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": product})
}

// SearchProducts handles GET /pos/products/search?q=prefix.
func (h *Handler) SearchProducts(w http.ResponseWriter, r *http.Request) {
	limit := common.AtoiDefault(r.URL.Query().Get("limit"), 10)
	items, err := h.service.SearchSimilar(r.Context(), r.URL.Query().Get("q"), limit)
	if err != nil {
		common.RenderError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": items})
}

// ListCategories handles GET /categories.
func (h *Handler) ListCategories(w http.ResponseWriter, r *http.Request) {
	items, err := h.service.ListCategories(r.Context())
	if err != nil {
		common.RenderError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": items})
}

// CreateCategory handles POST /categories.
func (h *Handler) CreateCategory(w http.ResponseWriter, r *http.Request) {
	var in CategoryInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid JSON payload", nil)
		return
	}
	category, err := h.service.CreateCategory(r.Context(), in)
	if err != nil {
		common.RenderError(w, err)
		return
	}
	common.JSON(w, http.StatusCreated, map[string]any{"data": category})
}

// UpdateCategory handles PUT /categories/{id}.
func (h *Handler) UpdateCategory(w http.ResponseWriter, r *http.Request) {
	var in CategoryInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid JSON payload", nil)
		return
	}
	category, err := h.service.UpdateCategory(r.Context(), chi.URLParam(r, "id"), in)
	if err != nil {
		common.RenderError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": category})
}

// DeleteCategory handles DELETE /categories/{id}.
func (h *Handler) DeleteCategory(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteCategory(r.Context(), chi.URLParam(r, "id")); err != nil {
		common.RenderError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
