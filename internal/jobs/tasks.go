// Package jobs defines the asynq task surface shared by the API and the worker.
package jobs

import (
	"context"
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

// Task type names. The API enqueues, cmd/worker consumes.
const (
	TypeOrderCreated  = "order:created"
	TypeLowStockAlert = "stock:low"
	TypeReportWarm    = "report:warm"
	TypeExchangeSync  = "exchange:sync"
)

// Enqueuer is the subset of asynq.Client the services need. Nil-safe wrappers
// in the services mean a missing queue degrades to synchronous-only behaviour.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// OrderCreatedPayload rides on TypeOrderCreated.
type OrderCreatedPayload struct {
	OrderID       string    `json:"orderId"`
	InvoiceNumber string    `json:"invoiceNumber"`
	CustomerName  string    `json:"customerName"`
	TotalAmount   string    `json:"totalAmount"`
	CreatedAt     time.Time `json:"createdAt"`
}

// LowStockPayload rides on TypeLowStockAlert.
type LowStockPayload struct {
	ProductID string `json:"productId"`
	Name      string `json:"name"`
	Stock     int    `json:"stock"`
	Threshold int    `json:"threshold"`
}

// ReportWarmPayload rides on TypeReportWarm.
type ReportWarmPayload struct {
	Report string `json:"report"`
	Days   int    `json:"days"`
}

// NewOrderCreatedTask builds the fan-out task emitted after order creation.
func NewOrderCreatedTask(p OrderCreatedPayload) (*asynq.Task, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeOrderCreated, data, asynq.MaxRetry(5), asynq.Timeout(time.Minute)), nil
}

// NewLowStockTask builds a low-stock alert task.
func NewLowStockTask(p LowStockPayload) (*asynq.Task, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeLowStockAlert, data, asynq.MaxRetry(3), asynq.Timeout(30*time.Second)), nil
}

// NewReportWarmTask builds a report cache warm task.
func NewReportWarmTask(p ReportWarmPayload) (*asynq.Task, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeReportWarm, data, asynq.MaxRetry(1), asynq.Timeout(2*time.Minute)), nil
}

// NewExchangeSyncTask builds the periodic exchange rate refresh task.
func NewExchangeSyncTask() *asynq.Task {
	return asynq.NewTask(TypeExchangeSync, nil, asynq.MaxRetry(3), asynq.Timeout(30*time.Second))
}
