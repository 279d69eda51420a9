package idempotency

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vinuvisthara/api/internal/platform/auth"
	"github.com/vinuvisthara/api/internal/platform/requestctx"
)

var fixedTime = time.Date(2024, time.June, 1, 12, 0, 0, 0, time.UTC)

func newGuarded(store Store, status int, calls *atomic.Int32) http.Handler {
	mw := Middleware(store, WithClock(func() time.Time { return fixedTime }))
	return mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Location", "/api/v1/orders/ord-1")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(map[string]any{"call": n})
	}))
}

func postOrder(uid, key, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/orders", bytes.NewBufferString(body))
	if key != "" {
		req.Header.Set(defaultHeaderName, key)
	}
	if uid != "" {
		req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: uid}))
	}
	return req
}

func TestMiddlewareWithoutKeyPassesThrough(t *testing.T) {
	var calls atomic.Int32
	h := newGuarded(NewMemoryStore(), http.StatusCreated, &calls)
	for range 2 {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, postOrder("cust-1", "", `{}`))
		require.Equal(t, http.StatusCreated, rr.Code)
	}
	assert.Equal(t, int32(2), calls.Load())
}

func TestMiddlewareReplaysCompletedResponse(t *testing.T) {
	var calls atomic.Int32
	h := newGuarded(NewMemoryStore(), http.StatusCreated, &calls)

	first := httptest.NewRecorder()
	h.ServeHTTP(first, postOrder("cust-1", "key-1", `{"payment_method":"cod"}`))
	second := httptest.NewRecorder()
	h.ServeHTTP(second, postOrder("cust-1", "key-1", `{"payment_method":"cod"}`))

	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, "true", second.Header().Get(replayHeaderName))
	assert.Equal(t, "/api/v1/orders/ord-1", second.Header().Get("Location"))
	assert.JSONEq(t, first.Body.String(), second.Body.String())
}

func TestMiddlewareExposesKeyToHandler(t *testing.T) {
	var seen string
	h := Middleware(NewMemoryStore())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = requestctx.IdempotencyKey(r.Context())
		w.WriteHeader(http.StatusCreated)
	}))
	h.ServeHTTP(httptest.NewRecorder(), postOrder("cust-1", " key-9 ", `{}`))
	assert.Equal(t, "key-9", seen)
}

func TestMiddlewareScopesKeysPerCustomer(t *testing.T) {
	var calls atomic.Int32
	h := newGuarded(NewMemoryStore(), http.StatusCreated, &calls)
	h.ServeHTTP(httptest.NewRecorder(), postOrder("cust-1", "shared", `{}`))
	h.ServeHTTP(httptest.NewRecorder(), postOrder("cust-2", "shared", `{}`))
	assert.Equal(t, int32(2), calls.Load())
}

func TestMiddlewareRejectsKeyReuseWithDifferentBody(t *testing.T) {
	var calls atomic.Int32
	h := newGuarded(NewMemoryStore(), http.StatusCreated, &calls)
	h.ServeHTTP(httptest.NewRecorder(), postOrder("cust-1", "key-1", `{"payment_method":"cod"}`))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, postOrder("cust-1", "key-1", `{"payment_method":"gateway"}`))
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	assert.Equal(t, int32(1), calls.Load())
}

func TestMiddlewareReleasesKeyAfterServerError(t *testing.T) {
	var calls atomic.Int32
	store := NewMemoryStore()
	h := newGuarded(store, http.StatusServiceUnavailable, &calls)
	h.ServeHTTP(httptest.NewRecorder(), postOrder("cust-1", "key-1", `{}`))
	h.ServeHTTP(httptest.NewRecorder(), postOrder("cust-1", "key-1", `{}`))
	assert.Equal(t, int32(2), calls.Load())
}

func TestMiddlewareReportsInFlightKey(t *testing.T) {
	store := NewMemoryStore()
	_, _, err := store.Reserve(context.Background(), "uid:cust-1|key-1", documentID("POST /orders\n{}"), fixedTime, time.Hour)
	require.NoError(t, err)

	var calls atomic.Int32
	rr := httptest.NewRecorder()
	newGuarded(store, http.StatusCreated, &calls).ServeHTTP(rr, postOrder("cust-1", "key-1", `{}`))
	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Zero(t, calls.Load())
}

func TestMemoryStoreExpiresReservations(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	state, _, err := store.Reserve(ctx, "k", "fp", fixedTime, time.Minute)
	require.NoError(t, err)
	require.Equal(t, StateNew, state)

	state, _, err = store.Reserve(ctx, "k", "other", fixedTime.Add(30*time.Second), time.Minute)
	assert.ErrorIs(t, err, ErrFingerprintMismatch)

	state, _, err = store.Reserve(ctx, "k", "other", fixedTime.Add(2*time.Minute), time.Minute)
	require.NoError(t, err)
	assert.Equal(t, StateNew, state)
}
