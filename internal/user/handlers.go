package user

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/ihirwe-dev/backend-pos/internal/common"
)

// Handler exposes user administration endpoints.
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

// List handles GET /users.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	if h.service == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "user service not configured", nil)
		return
	}
	page, limit := common.ParsePagination(r, 20, 100)
	f := Filter{
		Role:   r.URL.Query().Get("role"),
		Limit:  limit,
		Offset: (page - 1) * limit,
	}
	if raw := r.URL.Query().Get("active"); raw != "" {
		active, err := strconv.ParseBool(raw)
		if err != nil {
			common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "active must be true or false", nil)
			return
		}
		f.Active = &active
	}
	users, total, err := h.service.List(r.Context(), f)
	if err != nil {
		common.RenderError(w, err)
		return
	}
	w.Header().Set("X-Total-Count", strconv.FormatInt(total, 10))
	common.JSON(w, http.StatusOK, map[string]any{
		"data":       users,
		"pagination": common.Pagination{Page: page, PerPage: limit, TotalItems: total},
	})
}

// Get handles GET /users/{id}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	if h.service == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "user service not configured", nil)
		return
	}
	payload, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		common.RenderError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": payload})
}

// Create handles POST /users.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	if h.service == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "user service not configured", nil)
		return
	}
	var in Input
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid JSON payload", nil)
		return
	}
	payload, err := h.service.Create(r.Context(), in)
	if err != nil {
		common.RenderError(w, err)
		return
	}
	common.JSON(w, http.StatusCreated, map[string]any{"data": payload})
}

// Update handles PUT /users/{id}.
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	if h.service == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "user service not configured", nil)
		return
	}
	var in Input
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid JSON payload", nil)
		return
	}
	payload, err := h.service.Update(r.Context(), chi.URLParam(r, "id"), in)
	if err != nil {
		common.RenderError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": payload})
}

// ResetPassword handles PUT /users/{id}/password.
func (h *Handler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	if h.service == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "user service not configured", nil)
		return
	}
	var in PasswordInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid JSON payload", nil)
		return
	}
	if err := h.service.ResetPassword(r.Context(), chi.URLParam(r, "id"), in); err != nil {
		common.RenderError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Delete handles DELETE /users/{id}.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	if h.service == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "user service not configured", nil)
		return
	}
	actorID, _ := common.UserID(r.Context())
	if err := h.service.Delete(r.Context(), chi.URLParam(r, "id"), actorID); err != nil {
		common.RenderError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
