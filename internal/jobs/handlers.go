package jobs

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/ihirwe-dev/backend-pos/internal/common"
	"github.com/ihirwe-dev/backend-pos/internal/exchange"
	"github.com/ihirwe-dev/backend-pos/internal/reports"
)

// Handlers holds the worker-side dependencies for task processing.
type Handlers struct {
	Logger     zerolog.Logger
	Mail       common.EmailSender
	AlertEmail string
	Reports    *reports.Service
	Exchange   *exchange.Service
}

// Register attaches every task handler to the mux.
func (h *Handlers) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(TypeOrderCreated, h.HandleOrderCreated)
	mux.HandleFunc(TypeLowStockAlert, h.HandleLowStock)
	mux.HandleFunc(TypeReportWarm, h.HandleReportWarm)
	mux.HandleFunc(TypeExchangeSync, h.HandleExchangeSync)
}

// HandleOrderCreated sends the order receipt to the back office.
func (h *Handlers) HandleOrderCreated(_ context.Context, task *asynq.Task) error {
	var p OrderCreatedPayload
	if err := json.Unmarshal(task.Payload(), &p); err != nil {
		return fmt.Errorf("order created: decode payload: %w", err)
	}
	h.Logger.Info().
		Str("orderId", p.OrderID).
		Str("invoice", p.InvoiceNumber).
		Str("total", p.TotalAmount).
		Msg("order created")
	if h.Mail == nil || h.AlertEmail == "" {
		return nil
	}
	subject := fmt.Sprintf("Order %s", p.InvoiceNumber)
	body := fmt.Sprintf("Order %s for %s totalling %s was created at %s.",
		p.InvoiceNumber, p.CustomerName, p.TotalAmount, p.CreatedAt.Format("2006-01-02 15:04"))
	return h.Mail.Send(h.AlertEmail, subject, body)
}

// HandleLowStock emails the back office when a product crosses the threshold.
func (h *Handlers) HandleLowStock(_ context.Context, task *asynq.Task) error {
	var p LowStockPayload
	if err := json.Unmarshal(task.Payload(), &p); err != nil {
		return fmt.Errorf("low stock: decode payload: %w", err)
	}
	h.Logger.Warn().
		Str("productId", p.ProductID).
		Str("name", p.Name).
		Int("stock", p.Stock).
		Int("threshold", p.Threshold).
		Msg("low stock")
	if h.Mail == nil || h.AlertEmail == "" {
		return nil
	}
	subject := fmt.Sprintf("Low stock: %s", p.Name)
	body := fmt.Sprintf("%s is down to %d units (threshold %d). Restock soon.", p.Name, p.Stock, p.Threshold)
	return h.Mail.Send(h.AlertEmail, subject, body)
}

// HandleReportWarm refreshes the dashboard report caches.
func (h *Handlers) HandleReportWarm(ctx context.Context, task *asynq.Task) error {
	if h.Reports == nil {
		return nil
	}
	var p ReportWarmPayload
	if len(task.Payload()) > 0 {
		if err := json.Unmarshal(task.Payload(), &p); err != nil {
			return fmt.Errorf("report warm: decode payload: %w", err)
		}
	}
	if err := h.Reports.Warm(ctx); err != nil {
		return fmt.Errorf("report warm: %w", err)
	}
	h.Logger.Info().Str("report", p.Report).Msg("report caches warmed")
	return nil
}

// HandleExchangeSync pulls the latest rate from the configured feed.
func (h *Handlers) HandleExchangeSync(ctx context.Context, _ *asynq.Task) error {
	if h.Exchange == nil {
		return nil
	}
	payload, err := h.Exchange.SyncFromFeed(ctx)
	if err != nil {
		return fmt.Errorf("exchange sync: %w", err)
	}
	h.Logger.Info().Str("rate", payload.Rate.String()).Msg("exchange rate synced")
	return nil
}
