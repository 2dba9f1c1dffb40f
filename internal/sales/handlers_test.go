package sales_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/ihirwe-dev/backend-pos/internal/sales"
)

type fakeStore struct {
	products map[uuid.UUID]*sales.ProductSnapshot
	orders   map[uuid.UUID]*sales.Order
	sales    map[uuid.UUID]*sales.Sale
	counters map[string]int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		products: map[uuid.UUID]*sales.ProductSnapshot{},
		orders:   map[uuid.UUID]*sales.Order{},
		sales:    map[uuid.UUID]*sales.Sale{},
		counters: map[string]int{},
	}
}

func (f *fakeStore) addProduct(name, price string, stock int) uuid.UUID {
	id := uuid.New()
	f.products[id] = &sales.ProductSnapshot{ID: id, Name: name, Price: decimal.RequireFromString(price), Stock: stock}
	return id
}

func (f *fakeStore) GetProducts(_ context.Context, ids []uuid.UUID) ([]sales.ProductSnapshot, error) {
	var out []sales.ProductSnapshot
	for _, id := range ids {
		if p, ok := f.products[id]; ok {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (f *fakeStore) CreateOrder(_ context.Context, draft sales.OrderDraft) (sales.Order, error) {
	for _, item := range draft.Items {
		p, ok := f.products[item.ProductID]
		if !ok || p.Stock < item.Quantity {
			return sales.Order{}, sales.ErrInsufficientStock
		}
	}
	f.counters[draft.InvoicePrefix]++
	order := sales.Order{
		ID:              uuid.New(),
		InvoiceNumber:   fmt.Sprintf("%s%04d", draft.InvoicePrefix, f.counters[draft.InvoicePrefix]),
		CustomerName:    draft.CustomerName,
		Status:          sales.OrderPending,
		DiscountPercent: draft.DiscountPercent,
		TaxPercent:      draft.TaxPercent,
		Subtotal:        draft.Subtotal,
		DiscountAmount:  draft.DiscountAmount,
		TaxableAmount:   draft.TaxableAmount,
		TaxAmount:       draft.TaxAmount,
		TotalAmount:     draft.TotalAmount,
		PreparedBy:      draft.PreparedBy,
		CreatedAt:       time.Now(),
	}
	for _, item := range draft.Items {
		f.products[item.ProductID].Stock -= item.Quantity
		order.Items = append(order.Items, sales.OrderItem{
			ID: uuid.New(), OrderID: order.ID, ProductID: item.ProductID,
			Name: item.Name, Quantity: item.Quantity, UnitPrice: item.UnitPrice, Subtotal: item.Subtotal,
		})
	}
	sale := &sales.Sale{
		ID: uuid.New(), OrderID: order.ID, InvoiceNumber: order.InvoiceNumber,
		OrderTotal: order.TotalAmount, Status: sales.SalePending, AmountPaid: decimal.Zero, CreatedAt: time.Now(),
	}
	f.sales[sale.ID] = sale
	saleCopy := *sale
	order.Sale = &saleCopy
	f.orders[order.ID] = &order
	return order, nil
}

func (f *fakeStore) GetOrder(_ context.Context, id uuid.UUID) (sales.Order, error) {
	order, ok := f.orders[id]
	if !ok {
		return sales.Order{}, pgx.ErrNoRows
	}
	return *order, nil
}

func (f *fakeStore) ListOrders(_ context.Context, filter sales.OrderFilter) ([]sales.Order, error) {
	var out []sales.Order
	for _, o := range f.orders {
		if filter.Status == "" || o.Status == filter.Status {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (f *fakeStore) CountOrders(ctx context.Context, filter sales.OrderFilter) (int64, error) {
	rows, _ := f.ListOrders(ctx, filter)
	return int64(len(rows)), nil
}

func (f *fakeStore) saleForOrder(orderID uuid.UUID) *sales.Sale {
	for _, s := range f.sales {
		if s.OrderID == orderID {
			return s
		}
	}
	return nil
}

func (f *fakeStore) CancelOrder(_ context.Context, id uuid.UUID) (sales.Order, error) {
	order, ok := f.orders[id]
	if !ok {
		return sales.Order{}, pgx.ErrNoRows
	}
	if order.Status == sales.OrderCancelled {
		return sales.Order{}, sales.ErrAlreadyCancelled
	}
	sale := f.saleForOrder(id)
	if sale != nil && (sale.Status == sales.SalePaid || sale.Status == sales.SaleHalfPaid) {
		return sales.Order{}, sales.ErrOrderNotCancellable
	}
	for _, item := range order.Items {
		f.products[item.ProductID].Stock += item.Quantity
	}
	order.Status = sales.OrderCancelled
	if sale != nil {
		sale.Status = sales.SaleVoided
	}
	return *order, nil
}

func (f *fakeStore) GetSale(_ context.Context, id uuid.UUID) (sales.Sale, error) {
	sale, ok := f.sales[id]
	if !ok {
		return sales.Sale{}, pgx.ErrNoRows
	}
	return *sale, nil
}

func (f *fakeStore) ListSales(_ context.Context, filter sales.SaleFilter) ([]sales.Sale, error) {
	var out []sales.Sale
	for _, s := range f.sales {
		if filter.Status == "" || s.Status == filter.Status {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (f *fakeStore) CountSales(ctx context.Context, filter sales.SaleFilter) (int64, error) {
	rows, _ := f.ListSales(ctx, filter)
	return int64(len(rows)), nil
}

func (f *fakeStore) AddSalePayment(_ context.Context, id uuid.UUID, amount decimal.Decimal, method, notes string) (sales.Sale, error) {
	stored, ok := f.sales[id]
	if !ok || (stored.Status != sales.SalePending && stored.Status != sales.SaleHalfPaid) {
		return sales.Sale{}, pgx.ErrNoRows
	}
	stored.AmountPaid = stored.AmountPaid.Add(amount)
	stored.PaymentMethod = method
	stored.Notes = notes
	if stored.AmountPaid.GreaterThanOrEqual(stored.OrderTotal) {
		stored.Status = sales.SalePaid
		paidAt := time.Now()
		stored.PaidAt = &paidAt
	} else {
		stored.Status = sales.SaleHalfPaid
	}
	return *stored, nil
}

func (f *fakeStore) UpdateSalePayment(_ context.Context, sale sales.Sale) (sales.Sale, error) {
	stored, ok := f.sales[sale.ID]
	if !ok {
		return sales.Sale{}, pgx.ErrNoRows
	}
	stored.Status = sale.Status
	stored.AmountPaid = sale.AmountPaid
	stored.PaymentMethod = sale.PaymentMethod
	stored.Notes = sale.Notes
	stored.PaidAt = sale.PaidAt
	return *stored, nil
}

var testDay = time.Date(2025, 3, 15, 10, 0, 0, 0, time.UTC)

func newTestHandler(t *testing.T, store *fakeStore) *sales.Handler {
	t.Helper()
	svc, err := sales.NewService(sales.ServiceConfig{
		Store: store,
		Now:   func() time.Time { return testDay },
	})
	require.NoError(t, err)
	return sales.NewHandler(sales.HandlerConfig{Service: svc})
}

func withURLParam(r *http.Request, key, value string) *http.Request {
	routeCtx := chi.NewRouteContext()
	routeCtx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, routeCtx))
}

type orderEnvelope struct {
	Data sales.OrderPayload `json:"data"`
}

type saleEnvelope struct {
	Data sales.SalePayload `json:"data"`
}

func TestQuote(t *testing.T) {
	store := newFakeStore()
	productID := store.addProduct("Widget", "10", 3)
	handler := newTestHandler(t, store)

	t.Run("quantity clamps to stock and totals are computed server-side", func(t *testing.T) {
		body := `{"lines":[{"productId":"` + productID.String() + `","quantity":99}],"discountPercent":"10","taxPercent":"16"}`
		req := httptest.NewRequest(http.MethodPost, "/pos/quote", strings.NewReader(body))
		rec := httptest.NewRecorder()
		handler.Quote(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp struct {
			Data sales.QuotePayload `json:"data"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.Len(t, resp.Data.Lines, 1)
		require.Equal(t, 3, resp.Data.Lines[0].Quantity)
		require.True(t, resp.Data.Totals.Subtotal.Equal(decimal.NewFromInt(30)))
		require.True(t, resp.Data.Totals.Discount.Equal(decimal.NewFromInt(3)))
		require.True(t, resp.Data.Totals.Taxable.Equal(decimal.NewFromInt(27)))
		require.True(t, resp.Data.Totals.Tax.Equal(decimal.RequireFromString("4.32")))
		require.True(t, resp.Data.Totals.GrandTotal.Equal(decimal.RequireFromString("31.32")))
	})

	t.Run("out of stock product is rejected", func(t *testing.T) {
		emptyID := store.addProduct("Empty", "5", 0)
		body := `{"lines":[{"productId":"` + emptyID.String() + `","quantity":1}]}`
		req := httptest.NewRequest(http.MethodPost, "/pos/quote", strings.NewReader(body))
		rec := httptest.NewRecorder()
		handler.Quote(rec, req)
		require.Equal(t, http.StatusConflict, rec.Code)

		var resp struct {
			Error struct {
				Code string `json:"code"`
			} `json:"error"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.Equal(t, "OUT_OF_STOCK", resp.Error.Code)
	})

	t.Run("unknown product is 404", func(t *testing.T) {
		body := `{"lines":[{"productId":"` + uuid.NewString() + `","quantity":1}]}`
		req := httptest.NewRequest(http.MethodPost, "/pos/quote", strings.NewReader(body))
		rec := httptest.NewRecorder()
		handler.Quote(rec, req)
		require.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("discount above 100 is rejected", func(t *testing.T) {
		body := `{"lines":[{"productId":"` + productID.String() + `","quantity":1}],"discountPercent":"101"}`
		req := httptest.NewRequest(http.MethodPost, "/pos/quote", strings.NewReader(body))
		rec := httptest.NewRecorder()
		handler.Quote(rec, req)
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

// orderFixture builds one store and handler per subtest so stock drained by
// one case can never leak into the next.
func orderFixture(t *testing.T) (*fakeStore, *sales.Handler, uuid.UUID, uuid.UUID) {
	t.Helper()
	store := newFakeStore()
	widget := store.addProduct("Widget", "10", 5)
	gadget := store.addProduct("Gadget", "4.50", 2)
	return store, newTestHandler(t, store), widget, gadget
}

func TestCreateOrder(t *testing.T) {
	t.Run("happy path decrements stock and opens a pending sale", func(t *testing.T) {
		store, handler, widget, gadget := orderFixture(t)
		body := `{"customerName":"Alice","lines":[
{"productId":"` + widget.String() + `","quantity":2},
{"productId":"` + gadget.String() + `","quantity":1}
],"discountPercent":"10","taxPercent":"16"}`
		req := httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(body))
		rec := httptest.NewRecorder()
		handler.CreateOrder(rec, req)
		require.Equal(t, http.StatusCreated, rec.Code)

		var resp orderEnvelope
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.Equal(t, "INV-20250315-0001", resp.Data.InvoiceNumber)
		require.Equal(t, sales.OrderPending, resp.Data.Status)
		require.Len(t, resp.Data.Items, 2)
		// 2*10 + 1*4.50 = 24.50; 10% discount; 16% tax
		require.True(t, resp.Data.Subtotal.Equal(decimal.RequireFromString("24.50")))
		require.True(t, resp.Data.TotalAmount.Equal(decimal.RequireFromString("25.578")))
		require.NotNil(t, resp.Data.Sale)
		require.Equal(t, sales.SalePending, resp.Data.Sale.Status)
		require.Equal(t, 3, store.products[widget].Stock)
		require.Equal(t, 1, store.products[gadget].Stock)
	})

	t.Run("second order increments the daily invoice sequence", func(t *testing.T) {
		store, handler, widget, _ := orderFixture(t)
		createOrder(t, handler, widget, 1)
		body := `{"lines":[{"productId":"` + widget.String() + `","quantity":1}]}`
		req := httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(body))
		rec := httptest.NewRecorder()
		handler.CreateOrder(rec, req)
		require.Equal(t, http.StatusCreated, rec.Code)

		var resp orderEnvelope
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.Equal(t, "INV-20250315-0002", resp.Data.InvoiceNumber)
		require.Equal(t, 3, store.products[widget].Stock)
	})

	t.Run("insufficient stock is rejected", func(t *testing.T) {
		_, handler, _, gadget := orderFixture(t)
		body := `{"lines":[{"productId":"` + gadget.String() + `","quantity":50}]}`
		req := httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(body))
		rec := httptest.NewRecorder()
		handler.CreateOrder(rec, req)
		require.Equal(t, http.StatusConflict, rec.Code)

		var resp struct {
			Error struct {
				Code string `json:"code"`
			} `json:"error"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.Equal(t, "INSUFFICIENT_STOCK", resp.Error.Code)
	})

	t.Run("duplicate lines are merged", func(t *testing.T) {
		store, handler, widget, _ := orderFixture(t)
		body := `{"lines":[
{"productId":"` + widget.String() + `","quantity":1},
{"productId":"` + widget.String() + `","quantity":1}
]}`
		req := httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(body))
		rec := httptest.NewRecorder()
		handler.CreateOrder(rec, req)
		require.Equal(t, http.StatusCreated, rec.Code)

		var resp orderEnvelope
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.Len(t, resp.Data.Items, 1)
		require.Equal(t, 2, resp.Data.Items[0].Quantity)
		require.Equal(t, 3, store.products[widget].Stock)
	})

	t.Run("price override applies per line", func(t *testing.T) {
		_, handler, widget, _ := orderFixture(t)
		body := `{"lines":[{"productId":"` + widget.String() + `","quantity":1,"unitPrice":"7.50"}]}`
		req := httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(body))
		rec := httptest.NewRecorder()
		handler.CreateOrder(rec, req)
		require.Equal(t, http.StatusCreated, rec.Code)

		var resp orderEnvelope
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.True(t, resp.Data.Subtotal.Equal(decimal.RequireFromString("7.50")))
	})

	t.Run("negative price override is rejected", func(t *testing.T) {
		_, handler, widget, _ := orderFixture(t)
		body := `{"lines":[{"productId":"` + widget.String() + `","quantity":1,"unitPrice":"-1"}]}`
		req := httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(body))
		rec := httptest.NewRecorder()
		handler.CreateOrder(rec, req)
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("empty lines are rejected", func(t *testing.T) {
		_, handler, _, _ := orderFixture(t)
		req := httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(`{"lines":[]}`))
		rec := httptest.NewRecorder()
		handler.CreateOrder(rec, req)
		require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	})
}

func createOrder(t *testing.T, handler *sales.Handler, productID uuid.UUID, qty int) sales.OrderPayload {
	t.Helper()
	body := `{"lines":[{"productId":"` + productID.String() + `","quantity":` + fmt.Sprint(qty) + `}]}`
	req := httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(body))
	rec := httptest.NewRecorder()
	handler.CreateOrder(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)
	var resp orderEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Data
}

func TestCancelOrder(t *testing.T) {
	store := newFakeStore()
	productID := store.addProduct("Widget", "10", 5)
	handler := newTestHandler(t, store)

	order := createOrder(t, handler, productID, 2)
	require.Equal(t, 3, store.products[productID].Stock)

	t.Run("cancel restores stock and voids the sale", func(t *testing.T) {
		req := withURLParam(httptest.NewRequest(http.MethodPost, "/orders/"+order.ID+"/cancel", nil), "id", order.ID)
		rec := httptest.NewRecorder()
		handler.CancelOrder(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp orderEnvelope
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.Equal(t, sales.OrderCancelled, resp.Data.Status)
		require.Equal(t, 5, store.products[productID].Stock)
	})

	t.Run("double cancel conflicts", func(t *testing.T) {
		req := withURLParam(httptest.NewRequest(http.MethodPost, "/orders/"+order.ID+"/cancel", nil), "id", order.ID)
		rec := httptest.NewRecorder()
		handler.CancelOrder(rec, req)
		require.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("paid order cannot be cancelled", func(t *testing.T) {
		paid := createOrder(t, handler, productID, 1)
		payReq := withURLParam(httptest.NewRequest(http.MethodPost, "/sales/"+paid.Sale.ID+"/confirm-payment",
			strings.NewReader(`{"method":"cash","amountPaid":"100"}`)), "id", paid.Sale.ID)
		payRec := httptest.NewRecorder()
		handler.ConfirmPayment(payRec, payReq)
		require.Equal(t, http.StatusOK, payRec.Code)

		req := withURLParam(httptest.NewRequest(http.MethodPost, "/orders/"+paid.ID+"/cancel", nil), "id", paid.ID)
		rec := httptest.NewRecorder()
		handler.CancelOrder(rec, req)
		require.Equal(t, http.StatusConflict, rec.Code)
	})
}

func TestConfirmPaymentAndRefund(t *testing.T) {
	store := newFakeStore()
	productID := store.addProduct("Widget", "10", 20)
	handler := newTestHandler(t, store)

	order := createOrder(t, handler, productID, 3) // total 30
	saleID := order.Sale.ID

	confirm := func(amount string) *httptest.ResponseRecorder {
		req := withURLParam(httptest.NewRequest(http.MethodPost, "/sales/"+saleID+"/confirm-payment",
			strings.NewReader(`{"method":"cash","amountPaid":"`+amount+`"}`)), "id", saleID)
		rec := httptest.NewRecorder()
		handler.ConfirmPayment(rec, req)
		return rec
	}

	t.Run("partial payment is half-paid with remaining", func(t *testing.T) {
		rec := confirm("12")
		require.Equal(t, http.StatusOK, rec.Code)

		var resp saleEnvelope
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.Equal(t, sales.SaleHalfPaid, resp.Data.Status)
		require.True(t, resp.Data.AmountPaid.Equal(decimal.NewFromInt(12)))
		require.True(t, resp.Data.Remaining.Equal(decimal.NewFromInt(18)))
		require.True(t, resp.Data.OverPaid.IsZero())
		require.Nil(t, resp.Data.PaidAt)
	})

	t.Run("covering payment is paid with overpaid tracked", func(t *testing.T) {
		rec := confirm("20")
		require.Equal(t, http.StatusOK, rec.Code)

		var resp saleEnvelope
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.Equal(t, sales.SalePaid, resp.Data.Status)
		require.True(t, resp.Data.AmountPaid.Equal(decimal.NewFromInt(32)))
		require.True(t, resp.Data.Remaining.IsZero())
		require.True(t, resp.Data.OverPaid.Equal(decimal.NewFromInt(2)))
		require.NotNil(t, resp.Data.PaidAt)
	})

	t.Run("paying a settled sale conflicts", func(t *testing.T) {
		rec := confirm("5")
		require.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("refund then cancel succeeds", func(t *testing.T) {
		refundReq := withURLParam(httptest.NewRequest(http.MethodPost, "/sales/"+saleID+"/refund", nil), "id", saleID)
		refundRec := httptest.NewRecorder()
		handler.RefundSale(refundRec, refundReq)
		require.Equal(t, http.StatusOK, refundRec.Code)

		var resp saleEnvelope
		require.NoError(t, json.Unmarshal(refundRec.Body.Bytes(), &resp))
		require.Equal(t, sales.SaleRefunded, resp.Data.Status)

		cancelReq := withURLParam(httptest.NewRequest(http.MethodPost, "/orders/"+order.ID+"/cancel", nil), "id", order.ID)
		cancelRec := httptest.NewRecorder()
		handler.CancelOrder(cancelRec, cancelReq)
		require.Equal(t, http.StatusOK, cancelRec.Code)
	})

	t.Run("refunding an unpaid sale conflicts", func(t *testing.T) {
		other := createOrder(t, handler, productID, 1)
		req := withURLParam(httptest.NewRequest(http.MethodPost, "/sales/"+other.Sale.ID+"/refund", nil), "id", other.Sale.ID)
		rec := httptest.NewRecorder()
		handler.RefundSale(rec, req)
		require.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("zero amount is rejected", func(t *testing.T) {
		other := createOrder(t, handler, productID, 1)
		req := withURLParam(httptest.NewRequest(http.MethodPost, "/sales/"+other.Sale.ID+"/confirm-payment",
			strings.NewReader(`{"method":"cash","amountPaid":"0"}`)), "id", other.Sale.ID)
		rec := httptest.NewRecorder()
		handler.ConfirmPayment(rec, req)
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})
}
