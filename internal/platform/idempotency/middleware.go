package idempotency

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/vinuvisthara/api/internal/platform/auth"
	"github.com/vinuvisthara/api/internal/platform/httpx"
	"github.com/vinuvisthara/api/internal/platform/requestctx"
)

const (
	defaultHeaderName = "Idempotency-Key"
	replayHeaderName  = "Idempotent-Replayed"
	maxKeyLength      = 255
	maxBufferedBody   = 1 << 20
)

type middlewareConfig struct {
	header string
	ttl    time.Duration
	clock  func() time.Time
	logger *zap.Logger
}

// Option customises Middleware.
type Option func(*middlewareConfig)

// WithHeader overrides the request header carrying the key.
func WithHeader(name string) Option {
	return func(cfg *middlewareConfig) {
		if name = strings.TrimSpace(name); name != "" {
			cfg.header = name
		}
	}
}

// WithTTL sets how long a key stays reserved.
func WithTTL(ttl time.Duration) Option {
	return func(cfg *middlewareConfig) {
		if ttl > 0 {
			cfg.ttl = ttl
		}
	}
}

// WithClock injects the time source.
func WithClock(now func() time.Time) Option {
	return func(cfg *middlewareConfig) {
		if now != nil {
			cfg.clock = now
		}
	}
}

// WithLogger sets the logger for store failures.
func WithLogger(logger *zap.Logger) Option {
	return func(cfg *middlewareConfig) {
		if logger != nil {
			cfg.logger = logger
		}
	}
}

// Middleware guards a route with optional idempotency keys. Requests without
// the header run normally. Keys are scoped to the signed-in customer or guest
// session. Responses below 500 are stored and replayed; server errors release
// the key so the client may retry.
func Middleware(store Store, opts ...Option) func(http.Handler) http.Handler {
	cfg := middlewareConfig{header: defaultHeaderName, ttl: DefaultTTL, clock: time.Now, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&cfg)
	}
	return func(next http.Handler) http.Handler {
		if store == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			key := strings.TrimSpace(r.Header.Get(cfg.header))
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}
			if len(key) > maxKeyLength {
				httpx.WriteError(ctx, w, httpx.NewError("invalid_idempotency_key", "idempotency key is too long", http.StatusBadRequest))
				return
			}

			ctx = requestctx.WithIdempotencyKey(ctx, key)
			ctx = requestctx.WithLogger(ctx, requestctx.Logger(ctx).With(zap.String("idempotency_key", key)))
			r = r.WithContext(ctx)

			body, err := io.ReadAll(io.LimitReader(r.Body, maxBufferedBody))
			if err != nil {
				httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "unable to read request body", http.StatusBadRequest))
				return
			}
			_ = r.Body.Close()
			r.Body = io.NopCloser(bytes.NewReader(body))

			scoped := requester(ctx) + "|" + key
			fingerprint := documentID(r.Method + " " + r.URL.Path + "\n" + string(body))
			state, record, err := store.Reserve(ctx, scoped, fingerprint, cfg.clock().UTC(), cfg.ttl)
			switch {
			case errors.Is(err, ErrFingerprintMismatch):
				httpx.WriteError(ctx, w, httpx.NewError("idempotency_key_reused", "idempotency key was used for a different request", http.StatusUnprocessableEntity))
				return
			case err != nil:
				cfg.logger.Warn("idempotency: reserve failed", zap.Error(err))
				httpx.WriteError(ctx, w, httpx.NewError("idempotency_unavailable", "unable to process idempotency key", http.StatusServiceUnavailable))
				return
			}

			switch state {
			case StateCompleted:
				replay(w, record)
				return
			case StatePending:
				httpx.WriteError(ctx, w, httpx.NewError("idempotency_in_progress", "a request with this idempotency key is in progress", http.StatusConflict))
				return
			}

			rec := &recorder{parent: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			if rec.status >= http.StatusInternalServerError {
				if err := store.Release(context.WithoutCancel(ctx), scoped); err != nil {
					cfg.logger.Warn("idempotency: release failed", zap.Error(err))
				}
				return
			}
			record.Status = rec.status
			record.Header = storedHeader(w.Header())
			record.Body = rec.body.Bytes()
			if err := store.Complete(context.WithoutCancel(ctx), record); err != nil {
				cfg.logger.Warn("idempotency: store response failed", zap.Error(err))
			}
		})
	}
}

func requester(ctx context.Context) string {
	if identity, ok := auth.IdentityFromContext(ctx); ok && identity != nil && identity.UID != "" {
		return "uid:" + identity.UID
	}
	if session, ok := auth.GuestSessionFromContext(ctx); ok {
		return "guest:" + session
	}
	return "anonymous"
}

func replay(w http.ResponseWriter, record Record) {
	for name, values := range record.Header {
		for _, value := range values {
			w.Header().Add(name, value)
		}
	}
	w.Header().Set(replayHeaderName, "true")
	status := record.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = w.Write(record.Body)
}

// recorder passes the response through while keeping a copy of it.
type recorder struct {
	parent      http.ResponseWriter
	status      int
	wroteHeader bool
	body        bytes.Buffer
}

func (r *recorder) Header() http.Header { return r.parent.Header() }

func (r *recorder) WriteHeader(status int) {
	if r.wroteHeader {
		return
	}
	r.wroteHeader = true
	r.status = status
	r.parent.WriteHeader(status)
}

func (r *recorder) Write(b []byte) (int, error) {
	if !r.wroteHeader {
		r.WriteHeader(http.StatusOK)
	}
	r.body.Write(b)
	return r.parent.Write(b)
}
