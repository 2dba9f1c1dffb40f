package jobs_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/ihirwe-dev/backend-pos/internal/common"
	"github.com/ihirwe-dev/backend-pos/internal/jobs"
	"github.com/ihirwe-dev/backend-pos/internal/reports"
)

type stubQuerier struct {
	calls int
}

func (s *stubQuerier) SalesDailyRange(_ context.Context, from, _ time.Time) ([]reports.SalesDay, error) {
	s.calls++
	return []reports.SalesDay{{Day: from}}, nil
}

func (s *stubQuerier) InventoryValuation(context.Context) ([]reports.InventoryLine, error) {
	return nil, nil
}

func (s *stubQuerier) TopProducts(context.Context, time.Time, time.Time, int) ([]reports.BestSeller, error) {
	return nil, nil
}

func TestHandleOrderCreatedSendsReceipt(t *testing.T) {
	mail := &common.InMemoryEmail{}
	h := &jobs.Handlers{Logger: zerolog.Nop(), Mail: mail, AlertEmail: "office@example.com"}

	task, err := jobs.NewOrderCreatedTask(jobs.OrderCreatedPayload{
		OrderID:       "o1",
		InvoiceNumber: "INV-20250315-0001",
		CustomerName:  "Walk-in",
		TotalAmount:   "31.32",
		CreatedAt:     time.Date(2025, 3, 15, 10, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	require.NoError(t, h.HandleOrderCreated(context.Background(), task))
	require.Len(t, mail.Outbox, 1)
	require.Equal(t, "office@example.com", mail.Outbox[0].To)
	require.Contains(t, mail.Outbox[0].Subject, "INV-20250315-0001")
	require.Contains(t, mail.Outbox[0].HTML, "31.32")
}

func TestHandleLowStockWithoutMailIsNoop(t *testing.T) {
	h := &jobs.Handlers{Logger: zerolog.Nop()}
	task, err := jobs.NewLowStockTask(jobs.LowStockPayload{ProductID: "p1", Name: "Widget", Stock: 2, Threshold: 5})
	require.NoError(t, err)
	require.NoError(t, h.HandleLowStock(context.Background(), task))
}

func TestHandleLowStockSendsAlert(t *testing.T) {
	mail := &common.InMemoryEmail{}
	h := &jobs.Handlers{Logger: zerolog.Nop(), Mail: mail, AlertEmail: "office@example.com"}
	task, err := jobs.NewLowStockTask(jobs.LowStockPayload{ProductID: "p1", Name: "Widget", Stock: 2, Threshold: 5})
	require.NoError(t, err)
	require.NoError(t, h.HandleLowStock(context.Background(), task))
	require.Len(t, mail.Outbox, 1)
	require.Contains(t, mail.Outbox[0].Subject, "Widget")
}

func TestHandleReportWarm(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	q := &stubQuerier{}
	h := &jobs.Handlers{
		Logger:  zerolog.Nop(),
		Reports: &reports.Service{Q: q, R: rdb, TTL: time.Minute, DefaultRange: 7},
	}
	task, err := jobs.NewReportWarmTask(jobs.ReportWarmPayload{Report: "dashboard", Days: 7})
	require.NoError(t, err)
	require.NoError(t, h.HandleReportWarm(context.Background(), task))
	require.Equal(t, 1, q.calls)
}

func TestHandleExchangeSyncWithoutServiceIsNoop(t *testing.T) {
	h := &jobs.Handlers{Logger: zerolog.Nop()}
	require.NoError(t, h.HandleExchangeSync(context.Background(), jobs.NewExchangeSyncTask()))
}
