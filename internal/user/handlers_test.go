package user_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"testing"
	"time"

	"github.com/alexedwards/argon2id"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"

	"github.com/ihirwe-dev/backend-pos/internal/common"
	"github.com/ihirwe-dev/backend-pos/internal/user"
)

type fakeStore struct {
	records map[uuid.UUID]user.Record
	seq     int
}

func newFakeStore() *fakeStore {
	return &fakeStore{records: map[uuid.UUID]user.Record{}}
}

func (f *fakeStore) emailExists(email string, exclude uuid.UUID) bool {
	for id, rec := range f.records {
		if rec.Email == email && id != exclude {
			return true
		}
	}
	return false
}

func (f *fakeStore) Insert(_ context.Context, rec user.Record) (user.Record, error) {
	if f.emailExists(rec.Email, uuid.Nil) {
		return user.Record{}, &pgconn.PgError{Code: "23505"}
	}
	f.seq++
	rec.ID = uuid.New()
	rec.CreatedAt = time.Now().UTC().Add(time.Duration(f.seq) * time.Millisecond)
	rec.UpdatedAt = rec.CreatedAt
	f.records[rec.ID] = rec
	return rec, nil
}

func (f *fakeStore) Update(_ context.Context, rec user.Record) (user.Record, error) {
	current, ok := f.records[rec.ID]
	if !ok {
		return user.Record{}, pgx.ErrNoRows
	}
	if f.emailExists(rec.Email, rec.ID) {
		return user.Record{}, &pgconn.PgError{Code: "23505"}
	}
	current.Name = rec.Name
	current.Email = rec.Email
	current.Role = rec.Role
	current.Active = rec.Active
	current.UpdatedAt = time.Now().UTC()
	f.records[rec.ID] = current
	return current, nil
}

func (f *fakeStore) UpdatePassword(_ context.Context, id uuid.UUID, hash string) error {
	rec, ok := f.records[id]
	if !ok {
		return pgx.ErrNoRows
	}
	rec.PasswordHash = hash
	f.records[id] = rec
	return nil
}

func (f *fakeStore) Delete(_ context.Context, id uuid.UUID) error {
	if _, ok := f.records[id]; !ok {
		return pgx.ErrNoRows
	}
	delete(f.records, id)
	return nil
}

func (f *fakeStore) GetByID(_ context.Context, id uuid.UUID) (user.Record, error) {
	rec, ok := f.records[id]
	if !ok {
		return user.Record{}, pgx.ErrNoRows
	}
	return rec, nil
}

func (f *fakeStore) matches(rec user.Record, filter user.Filter) bool {
	if filter.Role != "" && rec.Role != filter.Role {
		return false
	}
	if filter.Active != nil && rec.Active != *filter.Active {
		return false
	}
	return true
}

func (f *fakeStore) List(_ context.Context, filter user.Filter) ([]user.Record, error) {
	var out []user.Record
	for _, rec := range f.records {
		if f.matches(rec, filter) {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (f *fakeStore) Count(_ context.Context, filter user.Filter) (int64, error) {
	var total int64
	for _, rec := range f.records {
		if f.matches(rec, filter) {
			total++
		}
	}
	return total, nil
}

func newTestHandler(t *testing.T) (*user.Handler, *fakeStore) {
	t.Helper()
	store := newFakeStore()
	svc, err := user.NewService(user.ServiceConfig{Store: store})
	require.NoError(t, err)
	return user.NewHandler(user.HandlerConfig{Service: svc}), store
}

func withURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func createUser(t *testing.T, handler *user.Handler, body string) user.Payload {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/users", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	handler.Create(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var resp struct {
		Data user.Payload `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Data
}

func TestUserLifecycle(t *testing.T) {
	handler, store := newTestHandler(t)

	created := createUser(t, handler, `{"name":"Alice","email":"Alice@Example.com","password":"longenough1","role":"cashier"}`)
	require.Equal(t, "alice@example.com", created.Email)
	require.Equal(t, "cashier", created.Role)
	require.True(t, created.Active)

	t.Run("duplicate email conflicts", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/users", bytes.NewBufferString(`{"name":"Clone","email":"alice@example.com","password":"longenough1","role":"cashier"}`))
		rec := httptest.NewRecorder()
		handler.Create(rec, req)
		require.Equal(t, http.StatusConflict, rec.Code)
		require.Contains(t, rec.Body.String(), "EMAIL_TAKEN")
	})

	t.Run("password is hashed at rest", func(t *testing.T) {
		stored := store.records[uuid.MustParse(created.ID)]
		require.NotEqual(t, "longenough1", stored.PasswordHash)
		ok, err := argon2id.ComparePasswordAndHash("longenough1", stored.PasswordHash)
		require.NoError(t, err)
		require.True(t, ok)
	})

	t.Run("update role and active flag", func(t *testing.T) {
		body := bytes.NewBufferString(`{"name":"Alice A.","email":"alice@example.com","role":"admin","active":false}`)
		req := withURLParam(httptest.NewRequest(http.MethodPut, "/users/"+created.ID, body), "id", created.ID)
		rec := httptest.NewRecorder()
		handler.Update(rec, req)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var resp struct {
			Data user.Payload `json:"data"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.Equal(t, "admin", resp.Data.Role)
		require.False(t, resp.Data.Active)
	})

	t.Run("reset password", func(t *testing.T) {
		body := bytes.NewBufferString(`{"password":"another-pass-9"}`)
		req := withURLParam(httptest.NewRequest(http.MethodPut, "/users/"+created.ID+"/password", body), "id", created.ID)
		rec := httptest.NewRecorder()
		handler.ResetPassword(rec, req)
		require.Equal(t, http.StatusNoContent, rec.Code)

		stored := store.records[uuid.MustParse(created.ID)]
		ok, err := argon2id.ComparePasswordAndHash("another-pass-9", stored.PasswordHash)
		require.NoError(t, err)
		require.True(t, ok)
	})

	t.Run("delete then fetch 404", func(t *testing.T) {
		req := withURLParam(httptest.NewRequest(http.MethodDelete, "/users/"+created.ID, nil), "id", created.ID)
		rec := httptest.NewRecorder()
		handler.Delete(rec, req)
		require.Equal(t, http.StatusNoContent, rec.Code)

		req = withURLParam(httptest.NewRequest(http.MethodGet, "/users/"+created.ID, nil), "id", created.ID)
		rec = httptest.NewRecorder()
		handler.Get(rec, req)
		require.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestUserValidation(t *testing.T) {
	handler, _ := newTestHandler(t)

	cases := []struct {
		name string
		body string
	}{
		{"missing name", `{"email":"a@b.com","password":"longenough1","role":"cashier"}`},
		{"bad email", `{"name":"A","email":"not-an-email","password":"longenough1","role":"cashier"}`},
		{"short password", `{"name":"A","email":"a@b.com","password":"short","role":"cashier"}`},
		{"missing password", `{"name":"A","email":"a@b.com","role":"cashier"}`},
		{"unknown role", `{"name":"A","email":"a@b.com","password":"longenough1","role":"superuser"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/users", bytes.NewBufferString(tc.body))
			rec := httptest.NewRecorder()
			handler.Create(rec, req)
			require.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())
		})
	}
}

func TestUserListFilters(t *testing.T) {
	handler, _ := newTestHandler(t)
	createUser(t, handler, `{"name":"Admin","email":"admin@example.com","password":"longenough1","role":"admin"}`)
	for i := 0; i < 3; i++ {
		createUser(t, handler, fmt.Sprintf(`{"name":"Cashier %d","email":"cashier%d@example.com","password":"longenough1","role":"cashier"}`, i, i))
	}

	t.Run("role filter", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/users?role=cashier", nil)
		rec := httptest.NewRecorder()
		handler.List(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, "3", rec.Header().Get("X-Total-Count"))
	})

	t.Run("unknown role rejected", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/users?role=wizard", nil)
		rec := httptest.NewRecorder()
		handler.List(rec, req)
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("invalid active flag rejected", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/users?active=maybe", nil)
		rec := httptest.NewRecorder()
		handler.List(rec, req)
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestSelfDeleteBlocked(t *testing.T) {
	handler, _ := newTestHandler(t)
	created := createUser(t, handler, `{"name":"Admin","email":"admin@example.com","password":"longenough1","role":"admin"}`)

	ctx := common.WithUserID(context.Background(), created.ID)
	req := withURLParam(httptest.NewRequest(http.MethodDelete, "/users/"+created.ID, nil).WithContext(ctx), "id", created.ID)
	rec := httptest.NewRecorder()
	handler.Delete(rec, req)
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Contains(t, rec.Body.String(), "SELF_DELETE")
}
