package auth

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/vinuvisthara/api/internal/platform/ttlcache"
)

const (
	defaultWebhookEventHeader = "X-Gateway-Event-Id"
	defaultWebhookMaxBody     = 1 << 20
	defaultReplayWindow       = 24 * time.Hour
)

// SignatureCheck reports whether signature authenticates body under secret.
type SignatureCheck func(secret string, body []byte, signature string) bool

// SecretSource yields the current webhook secret; rotated values take effect
// on the next request.
type SecretSource func(ctx context.Context) (string, error)

type webhookBodyKey struct{}

// WebhookBody returns the raw, already verified request body.
func WebhookBody(ctx context.Context) ([]byte, bool) {
	body, ok := ctx.Value(webhookBodyKey{}).([]byte)
	return body, ok
}

// WebhookVerifier authenticates gateway webhooks signed with a shared secret
// and drops redeliveries of an event id it has already accepted.
type WebhookVerifier struct {
	secret          SecretSource
	check           SignatureCheck
	signatureHeader string
	eventHeader     string
	maxBody         int64
	replayWindow    time.Duration
	seen            *ttlcache.Cache[struct{}]
	logger          *zap.Logger
}

// WebhookOption customises a WebhookVerifier.
type WebhookOption func(*WebhookVerifier)

// WithSignatureHeader overrides the header carrying the hex signature.
func WithSignatureHeader(name string) WebhookOption {
	return func(v *WebhookVerifier) {
		if name = strings.TrimSpace(name); name != "" {
			v.signatureHeader = name
		}
	}
}

// WithWebhookLogger sets the logger.
func WithWebhookLogger(logger *zap.Logger) WebhookOption {
	return func(v *WebhookVerifier) {
		if logger != nil {
			v.logger = logger
		}
	}
}

// WithWebhookClock injects a clock for the replay window.
func WithWebhookClock(now func() time.Time) WebhookOption {
	return func(v *WebhookVerifier) {
		v.seen = ttlcache.New(ttlcache.WithClock[struct{}](now))
	}
}

// NewWebhookVerifier builds a verifier.
func NewWebhookVerifier(secret SecretSource, check SignatureCheck, opts ...WebhookOption) *WebhookVerifier {
	v := &WebhookVerifier{
		secret:          secret,
		check:           check,
		signatureHeader: "X-Gateway-Signature",
		eventHeader:     defaultWebhookEventHeader,
		maxBody:         defaultWebhookMaxBody,
		replayWindow:    defaultReplayWindow,
		seen:            ttlcache.New[struct{}](),
		logger:          zap.NewNop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}
	return v
}

// RequireSignature verifies the body signature before next runs. Replayed
// event ids are acknowledged with 200 without reaching next.
func (v *WebhookVerifier) RequireSignature() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			signature := strings.TrimSpace(r.Header.Get(v.signatureHeader))
			if signature == "" {
				respondAuthError(ctx, w, http.StatusUnauthorized, "signature_missing", "webhook signature missing")
				return
			}
			body, err := io.ReadAll(io.LimitReader(r.Body, v.maxBody+1))
			if err != nil {
				respondAuthError(ctx, w, http.StatusBadRequest, "invalid_body", "unable to read webhook body")
				return
			}
			if int64(len(body)) > v.maxBody {
				respondAuthError(ctx, w, http.StatusRequestEntityTooLarge, "body_too_large", "webhook body too large")
				return
			}
			secret, err := v.loadSecret(ctx)
			if err != nil {
				v.logger.Error("auth: webhook secret unavailable", zap.Error(err))
				respondAuthError(ctx, w, http.StatusServiceUnavailable, "verification_unavailable", "webhook verification unavailable")
				return
			}
			if !v.check(secret, body, signature) {
				v.logger.Warn("auth: webhook signature mismatch")
				respondAuthError(ctx, w, http.StatusUnauthorized, "invalid_signature", "webhook signature invalid")
				return
			}

			eventID := strings.TrimSpace(r.Header.Get(v.eventHeader))
			if eventID != "" {
				if _, dup := v.seen.Get(eventID); dup {
					v.logger.Info("auth: webhook replay ignored", zap.String("eventId", eventID))
					w.WriteHeader(http.StatusOK)
					return
				}
			}

			r.Body = io.NopCloser(bytes.NewReader(body))
			recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(recorder, r.WithContext(context.WithValue(ctx, webhookBodyKey{}, body)))
			if eventID != "" && recorder.status < http.StatusInternalServerError {
				v.seen.Set(eventID, struct{}{}, v.replayWindow)
			}
		})
	}
}

func (v *WebhookVerifier) loadSecret(ctx context.Context) (string, error) {
	if v.secret == nil || v.check == nil {
		return "", errors.New("auth: webhook verifier not configured")
	}
	secret, err := v.secret(ctx)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(secret) == "" {
		return "", errors.New("auth: webhook secret empty")
	}
	return secret, nil
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
