package catalog_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/ihirwe-dev/backend-pos/internal/catalog"
	"github.com/ihirwe-dev/backend-pos/internal/obs"
)

type fakeStore struct {
	products   map[uuid.UUID]catalog.Product
	categories map[uuid.UUID]catalog.Category
	order      []uuid.UUID
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		products:   map[uuid.UUID]catalog.Product{},
		categories: map[uuid.UUID]catalog.Category{},
	}
}

func (f *fakeStore) InsertProduct(_ context.Context, p catalog.Product) (catalog.Product, error) {
	for _, existing := range f.products {
		if existing.Barcode == p.Barcode {
			return catalog.Product{}, errUniqueBarcode{}
		}
	}
	p.ID = uuid.New()
	p.CreatedAt = time.Now()
	p.UpdatedAt = p.CreatedAt
	f.products[p.ID] = p
	f.order = append(f.order, p.ID)
	return p, nil
}

func (f *fakeStore) UpdateProduct(_ context.Context, p catalog.Product) (catalog.Product, error) {
	existing, ok := f.products[p.ID]
	if !ok {
		return catalog.Product{}, pgx.ErrNoRows
	}
	p.Stock = existing.Stock
	p.CreatedAt = existing.CreatedAt
	p.UpdatedAt = time.Now()
	f.products[p.ID] = p
	return p, nil
}

func (f *fakeStore) DeleteProduct(_ context.Context, id uuid.UUID) error {
	if _, ok := f.products[id]; !ok {
		return pgx.ErrNoRows
	}
	delete(f.products, id)
	return nil
}

func (f *fakeStore) GetProductByID(_ context.Context, id uuid.UUID) (catalog.Product, error) {
	p, ok := f.products[id]
	if !ok {
		return catalog.Product{}, pgx.ErrNoRows
	}
	return p, nil
}

func (f *fakeStore) GetProductByBarcode(_ context.Context, barcode string) (catalog.Product, error) {
	for _, p := range f.products {
		if p.Barcode == barcode {
			return p, nil
		}
	}
	return catalog.Product{}, pgx.ErrNoRows
}

func (f *fakeStore) matches(p catalog.Product, filter catalog.ProductFilter) bool {
	if filter.Query != "" && !strings.Contains(strings.ToLower(p.Name), strings.ToLower(filter.Query)) && p.Barcode != filter.Query {
		return false
	}
	if filter.CategoryID != nil {
		if p.CategoryID == nil || *p.CategoryID != *filter.CategoryID {
			return false
		}
	}
	return true
}

func (f *fakeStore) ListProducts(_ context.Context, filter catalog.ProductFilter) ([]catalog.Product, error) {
	var out []catalog.Product
	for _, id := range f.order {
		p, ok := f.products[id]
		if ok && f.matches(p, filter) {
			out = append(out, p)
		}
	}
	if filter.Offset < len(out) {
		out = out[filter.Offset:]
	} else {
		out = nil
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (f *fakeStore) CountProducts(_ context.Context, filter catalog.ProductFilter) (int64, error) {
	var total int64
	for _, p := range f.products {
		if f.matches(p, filter) {
			total++
		}
	}
	return total, nil
}

func (f *fakeStore) SearchProductsByName(_ context.Context, prefix string, limit int) ([]catalog.Product, error) {
	var out []catalog.Product
	for _, id := range f.order {
		p := f.products[id]
		if strings.HasPrefix(strings.ToLower(p.Name), strings.ToLower(prefix)) {
			out = append(out, p)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeStore) InsertCategory(_ context.Context, c catalog.Category) (catalog.Category, error) {
	c.ID = uuid.New()
	f.categories[c.ID] = c
	return c, nil
}

func (f *fakeStore) UpdateCategory(_ context.Context, c catalog.Category) (catalog.Category, error) {
	if _, ok := f.categories[c.ID]; !ok {
		return catalog.Category{}, pgx.ErrNoRows
	}
	f.categories[c.ID] = c
	return c, nil
}

func (f *fakeStore) DeleteCategory(_ context.Context, id uuid.UUID) error {
	if _, ok := f.categories[id]; !ok {
		return pgx.ErrNoRows
	}
	delete(f.categories, id)
	return nil
}

func (f *fakeStore) GetCategoryByID(_ context.Context, id uuid.UUID) (catalog.Category, error) {
	c, ok := f.categories[id]
	if !ok {
		return catalog.Category{}, pgx.ErrNoRows
	}
	return c, nil
}

func (f *fakeStore) ListCategories(_ context.Context) ([]catalog.Category, error) {
	out := make([]catalog.Category, 0, len(f.categories))
	for _, c := range f.categories {
		out = append(out, c)
	}
	return out, nil
}

type errUniqueBarcode struct{}

func (errUniqueBarcode) Error() string { return "duplicate barcode" }

func newTestHandler(t *testing.T) (*catalog.Handler, *fakeStore) {
	t.Helper()
	store := newFakeStore()
	svc, err := catalog.NewService(catalog.ServiceConfig{Store: store, DefaultLimit: 20, MaxLimit: 100})
	require.NoError(t, err)
	return catalog.NewHandler(catalog.HandlerConfig{Service: svc}), store
}

func withURLParam(r *http.Request, key, value string) *http.Request {
	routeCtx := chi.NewRouteContext()
	routeCtx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, routeCtx))
}

type productEnvelope struct {
	Data catalog.ProductPayload `json:"data"`
}

func TestProductLifecycle(t *testing.T) {
	handler, _ := newTestHandler(t)

	body := `{"name":"Black Shirt","barcode":"4006381333931","price":"10","stock":3}`
	req := httptest.NewRequest(http.MethodPost, "/products", strings.NewReader(body))
	rec := httptest.NewRecorder()
	handler.CreateProduct(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	var created productEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.Equal(t, "Black Shirt", created.Data.Name)
	require.True(t, created.Data.Price.Equal(decimal.NewFromInt(10)))
	require.Equal(t, 3, created.Data.Stock)

	t.Run("duplicate barcode conflicts", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/products", strings.NewReader(body))
		rec := httptest.NewRecorder()
		handler.CreateProduct(rec, req)
		// the fake returns a generic error, so only the service-level happy
		// path asserts 409; here we require a non-2xx status
		require.GreaterOrEqual(t, rec.Code, 400)
	})

	t.Run("get by id", func(t *testing.T) {
		req := withURLParam(httptest.NewRequest(http.MethodGet, "/products/"+created.Data.ID, nil), "id", created.Data.ID)
		rec := httptest.NewRecorder()
		handler.GetProduct(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("update", func(t *testing.T) {
		update := `{"name":"Black Shirt XL","barcode":"4006381333931","price":"12.50"}`
		req := withURLParam(httptest.NewRequest(http.MethodPut, "/products/"+created.Data.ID, strings.NewReader(update)), "id", created.Data.ID)
		rec := httptest.NewRecorder()
		handler.UpdateProduct(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)

		var updated productEnvelope
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &updated))
		require.Equal(t, "Black Shirt XL", updated.Data.Name)
		require.True(t, updated.Data.Price.Equal(decimal.RequireFromString("12.50")))
		// stock only moves through stock movements
		require.Equal(t, 3, updated.Data.Stock)
	})

	t.Run("list", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/products", nil)
		rec := httptest.NewRecorder()
		handler.ListProducts(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, "1", rec.Header().Get("X-Total-Count"))
	})

	t.Run("delete", func(t *testing.T) {
		req := withURLParam(httptest.NewRequest(http.MethodDelete, "/products/"+created.Data.ID, nil), "id", created.Data.ID)
		rec := httptest.NewRecorder()
		handler.DeleteProduct(rec, req)
		require.Equal(t, http.StatusNoContent, rec.Code)

		getReq := withURLParam(httptest.NewRequest(http.MethodGet, "/products/"+created.Data.ID, nil), "id", created.Data.ID)
		getRec := httptest.NewRecorder()
		handler.GetProduct(getRec, getReq)
		require.Equal(t, http.StatusNotFound, getRec.Code)
	})
}

func TestProductValidation(t *testing.T) {
	handler, _ := newTestHandler(t)

	cases := []struct {
		name string
		body string
	}{
		{"missing name", `{"barcode":"123","price":"5"}`},
		{"missing barcode", `{"name":"Thing","price":"5"}`},
		{"negative price", `{"name":"Thing","barcode":"123","price":"-1"}`},
		{"negative stock", `{"name":"Thing","barcode":"123","price":"5","stock":-2}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/products", strings.NewReader(tc.body))
			rec := httptest.NewRecorder()
			handler.CreateProduct(rec, req)
			require.GreaterOrEqual(t, rec.Code, 400)
			require.Less(t, rec.Code, 500)
		})
	}
}

func TestScanBarcode(t *testing.T) {
	obs.MustRegisterDomainMetrics("catalogtest", prometheus.NewRegistry())
	handler, store := newTestHandler(t)
	_, err := store.InsertProduct(context.Background(), catalog.Product{
		Name:    "Soda Can",
		Barcode: "5901234123457",
		Price:   decimal.RequireFromString("1.25"),
		Stock:   7,
	})
	require.NoError(t, err)

	t.Run("known barcode", func(t *testing.T) {
		before := testutil.ToFloat64(obs.BarcodeScanTotal.WithLabelValues("found"))
		req := httptest.NewRequest(http.MethodPost, "/pos/scan-barcode", strings.NewReader(`{"barcode":"5901234123457"}`))
		rec := httptest.NewRecorder()
		handler.ScanBarcode(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp productEnvelope
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.Equal(t, "Soda Can", resp.Data.Name)
		require.Equal(t, 7, resp.Data.Stock)
		require.Equal(t, before+1, testutil.ToFloat64(obs.BarcodeScanTotal.WithLabelValues("found")))
	})

	t.Run("unknown barcode is 404", func(t *testing.T) {
		before := testutil.ToFloat64(obs.BarcodeScanTotal.WithLabelValues("not_found"))
		req := httptest.NewRequest(http.MethodPost, "/pos/scan-barcode", strings.NewReader(`{"barcode":"0000000000000"}`))
		rec := httptest.NewRecorder()
		handler.ScanBarcode(rec, req)
		require.Equal(t, http.StatusNotFound, rec.Code)
		require.Equal(t, before+1, testutil.ToFloat64(obs.BarcodeScanTotal.WithLabelValues("not_found")))
	})

	t.Run("empty barcode is 400", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/pos/scan-barcode", strings.NewReader(`{"barcode":"  "}`))
		rec := httptest.NewRecorder()
		handler.ScanBarcode(rec, req)
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestSearchProducts(t *testing.T) {
	handler, store := newTestHandler(t)
	for _, name := range []string{"Black Shirt", "Black Jeans", "White Shirt"} {
		_, err := store.InsertProduct(context.Background(), catalog.Product{
			Name:    name,
			Barcode: "bc-" + name,
			Price:   decimal.NewFromInt(10),
			Stock:   1,
		})
		require.NoError(t, err)
	}

	req := httptest.NewRequest(http.MethodGet, "/pos/products/search?q=black", nil)
	rec := httptest.NewRecorder()
	handler.SearchProducts(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data []catalog.ProductPayload `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Data, 2)
}

func TestCategoryReparenting(t *testing.T) {
	handler, store := newTestHandler(t)

	root, err := store.InsertCategory(context.Background(), catalog.Category{Name: "Clothing"})
	require.NoError(t, err)
	childID := root.ID
	child, err := store.InsertCategory(context.Background(), catalog.Category{Name: "Shirts", ParentID: &childID})
	require.NoError(t, err)

	t.Run("move root under its own child is rejected", func(t *testing.T) {
		payload, _ := json.Marshal(catalog.CategoryInput{Name: "Clothing", ParentID: strPtr(child.ID.String())})
		req := withURLParam(httptest.NewRequest(http.MethodPut, "/categories/"+root.ID.String(), bytes.NewReader(payload)), "id", root.ID.String())
		rec := httptest.NewRecorder()
		handler.UpdateCategory(rec, req)
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("self parent is rejected", func(t *testing.T) {
		payload, _ := json.Marshal(catalog.CategoryInput{Name: "Clothing", ParentID: strPtr(root.ID.String())})
		req := withURLParam(httptest.NewRequest(http.MethodPut, "/categories/"+root.ID.String(), bytes.NewReader(payload)), "id", root.ID.String())
		rec := httptest.NewRecorder()
		handler.UpdateCategory(rec, req)
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("valid reparent succeeds", func(t *testing.T) {
		other, err := store.InsertCategory(context.Background(), catalog.Category{Name: "Outerwear"})
		require.NoError(t, err)
		payload, _ := json.Marshal(catalog.CategoryInput{Name: "Shirts", ParentID: strPtr(other.ID.String())})
		req := withURLParam(httptest.NewRequest(http.MethodPut, "/categories/"+child.ID.String(), bytes.NewReader(payload)), "id", child.ID.String())
		rec := httptest.NewRecorder()
		handler.UpdateCategory(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
	})
}

func strPtr(s string) *string { return &s }
