package reports

import (
	"net/http"
	"time"

	"github.com/ihirwe-dev/backend-pos/internal/common"
)

// Handler exposes report read endpoints.
type Handler struct {
	Svc *Service
}

// Sales returns daily sales aggregates for the requested range.
func (h *Handler) Sales(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "REPORTS_NOT_CONFIGURED", "reports service not configured", nil)
		return
	}
	from, to, ok := h.parseRange(w, r)
	if !ok {
		return
	}
	rows, err := h.Svc.Sales(r.Context(), from, to)
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "REPORTS_ERROR", err.Error(), nil)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": rows})
}

// Inventory returns the stock valuation report.
func (h *Handler) Inventory(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "REPORTS_NOT_CONFIGURED", "reports service not configured", nil)
		return
	}
	rows, err := h.Svc.Inventory(r.Context())
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "REPORTS_ERROR", err.Error(), nil)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": rows})
}

// BestSelling returns the top products by quantity sold.
func (h *Handler) BestSelling(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "REPORTS_NOT_CONFIGURED", "reports service not configured", nil)
		return
	}
	from, to, ok := h.parseRange(w, r)
	if !ok {
		return
	}
	limit := common.AtoiDefault(r.URL.Query().Get("limit"), 10)
	if limit <= 0 {
		limit = 10
	}
	rows, err := h.Svc.BestSelling(r.Context(), from, to, limit)
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "REPORTS_ERROR", err.Error(), nil)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": rows})
}

func (h *Handler) parseRange(w http.ResponseWriter, r *http.Request) (from, to time.Time, ok bool) {
	query := r.URL.Query()
	fromStr := query.Get("from")
	toStr := query.Get("to")
	now := h.Svc.now()
	var err error
	if fromStr != "" && toStr != "" {
		from, err = time.Parse(time.RFC3339, fromStr)
		if err != nil {
			common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid from date", nil)
			return
		}
		to, err = time.Parse(time.RFC3339, toStr)
		if err != nil {
			common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid to date", nil)
			return
		}
	} else {
		days := h.Svc.DefaultRange
		if days <= 0 {
			days = 30
		}
		if raw := query.Get("days"); raw != "" {
			parsed := common.AtoiDefault(raw, days)
			if parsed > 0 {
				days = parsed
			}
		}
		to = now
		from = to.AddDate(0, 0, -days)
	}
	if !from.Before(to) {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "from must be before to", nil)
		return
	}
	return from, to, true
}
