package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	jwt "github.com/golang-jwt/jwt/v4"
	"go.uber.org/zap"
)

var (
	// ErrJWKSKeyNotFound is returned when the requested key ID is absent from the JWKS document.
	ErrJWKSKeyNotFound = errors.New("auth: jwks key not found")
	// ErrJWKSFetchFailed wraps transport or decoding errors while refreshing JWKS.
	ErrJWKSFetchFailed = errors.New("auth: jwks fetch failed")
)

const (
	// GoogleJWKSURL publishes the keys signing Google service account ID tokens.
	GoogleJWKSURL = "https://www.googleapis.com/oauth2/v3/certs"

	defaultJWKSRefreshInterval = 15 * time.Minute
	defaultJWKSRefreshTimeout  = 5 * time.Second
	minJWKSMissRefresh         = 30 * time.Second
)

// JWKSCache fetches a JSON Web Key Set on demand and reuses it until the
// response's max-age elapses. Unknown key ids force a refresh at most every
// thirty seconds so rotated keys are picked up.
type JWKSCache struct {
	url     string
	client  *http.Client
	logger  *zap.Logger
	now     func() time.Time
	timeout time.Duration

	mu          sync.Mutex
	keys        map[string]jose.JSONWebKey
	expiry      time.Time
	lastFetched time.Time
}

// JWKSOption customises JWKSCache behaviour.
type JWKSOption func(*JWKSCache)

// WithJWKSHTTPClient overrides the HTTP client used to fetch JWKS documents.
func WithJWKSHTTPClient(client *http.Client) JWKSOption {
	return func(c *JWKSCache) {
		if client != nil {
			c.client = client
		}
	}
}

// WithJWKSLogger sets the logger.
func WithJWKSLogger(logger *zap.Logger) JWKSOption {
	return func(c *JWKSCache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithJWKSClock injects a clock for tests.
func WithJWKSClock(now func() time.Time) JWKSOption {
	return func(c *JWKSCache) {
		if now != nil {
			c.now = now
		}
	}
}

// NewJWKSCache constructs a cache for url.
func NewJWKSCache(url string, opts ...JWKSOption) *JWKSCache {
	c := &JWKSCache{
		url:     strings.TrimSpace(url),
		client:  &http.Client{Timeout: 10 * time.Second},
		logger:  zap.NewNop(),
		now:     time.Now,
		timeout: defaultJWKSRefreshTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Keyfunc adapts the cache to jwt.Parser.
func (c *JWKSCache) Keyfunc(ctx context.Context) jwt.Keyfunc {
	return func(token *jwt.Token) (any, error) {
		kid, _ := token.Header["kid"].(string)
		if kid == "" {
			return nil, fmt.Errorf("%w: token has no kid", ErrJWKSKeyNotFound)
		}
		return c.Key(ctx, kid)
	}
}

// Key returns the public key for kid, refreshing the set when it is stale or
// does not contain kid.
func (c *JWKSCache) Key(ctx context.Context, kid string) (any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	key, found := c.keys[kid]
	stale := now.After(c.expiry)
	if found && !stale {
		return key.Key, nil
	}
	if stale || now.Sub(c.lastFetched) >= minJWKSMissRefresh {
		if err := c.refreshLocked(ctx); err != nil {
			if found {
				c.logger.Warn("auth: jwks refresh failed, serving stale key", zap.Error(err))
				return key.Key, nil
			}
			return nil, err
		}
		if key, found = c.keys[kid]; found {
			return key.Key, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrJWKSKeyNotFound, kid)
}

func (c *JWKSCache) refreshLocked(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrJWKSFetchFailed, err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrJWKSFetchFailed, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: unexpected status %d", ErrJWKSFetchFailed, resp.StatusCode)
	}

	var set jose.JSONWebKeySet
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return fmt.Errorf("%w: decode jwks: %v", ErrJWKSFetchFailed, err)
	}
	keys := make(map[string]jose.JSONWebKey, len(set.Keys))
	for _, jwk := range set.Keys {
		if jwk.KeyID != "" && jwk.Valid() {
			keys[jwk.KeyID] = jwk
		}
	}
	if len(keys) == 0 {
		return fmt.Errorf("%w: empty key set", ErrJWKSFetchFailed)
	}

	validity := parseMaxAge(resp.Header.Get("Cache-Control"))
	if validity <= 0 {
		validity = defaultJWKSRefreshInterval
	}
	now := c.now()
	c.keys = keys
	c.lastFetched = now
	c.expiry = now.Add(validity)
	c.logger.Debug("auth: refreshed jwks", zap.Int("keys", len(keys)), zap.Duration("validFor", validity))
	return nil
}

func parseMaxAge(header string) time.Duration {
	for _, part := range strings.Split(header, ",") {
		name, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok || !strings.EqualFold(name, "max-age") {
			continue
		}
		if seconds, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64); err == nil && seconds > 0 {
			return time.Duration(seconds) * time.Second
		}
	}
	return 0
}

// OperatorIdentity is the verified service account or IAP user calling
// fulfillment endpoints.
type OperatorIdentity struct {
	Subject string
	Email   string
	Issuer  string
}

type operatorContextKey struct{}

// WithOperator attaches the operator identity to ctx.
func WithOperator(ctx context.Context, op *OperatorIdentity) context.Context {
	return context.WithValue(ctx, operatorContextKey{}, op)
}

// OperatorFromContext returns the operator identity stored by RequireOperator.
func OperatorFromContext(ctx context.Context) (*OperatorIdentity, bool) {
	op, ok := ctx.Value(operatorContextKey{}).(*OperatorIdentity)
	return op, ok && op != nil
}

// OIDCValidator validates Google-signed OIDC or IAP tokens for operator routes.
type OIDCValidator struct {
	cache     *JWKSCache
	audiences []string
	issuers   map[string]struct{}
	logger    *zap.Logger
	now       func() time.Time
}

// NewOIDCValidator builds a validator accepting tokens for any of audiences
// issued by one of issuers.
func NewOIDCValidator(cache *JWKSCache, audiences []string, issuers []string, logger *zap.Logger) *OIDCValidator {
	if logger == nil {
		logger = zap.NewNop()
	}
	v := &OIDCValidator{cache: cache, issuers: map[string]struct{}{}, logger: logger, now: time.Now}
	for _, aud := range audiences {
		if aud = strings.TrimSpace(aud); aud != "" {
			v.audiences = append(v.audiences, aud)
		}
	}
	for _, iss := range issuers {
		if iss = strings.TrimSpace(iss); iss != "" {
			v.issuers[iss] = struct{}{}
		}
	}
	return v
}

// Verify parses and validates a raw token.
func (v *OIDCValidator) Verify(ctx context.Context, raw string) (*OperatorIdentity, error) {
	if v == nil || v.cache == nil || len(v.audiences) == 0 {
		return nil, errors.New("auth: oidc verification not configured")
	}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}))
	claims := jwt.MapClaims{}
	if _, err := parser.ParseWithClaims(raw, claims, v.cache.Keyfunc(ctx)); err != nil {
		return nil, err
	}
	issuer, _ := claims["iss"].(string)
	if len(v.issuers) > 0 {
		if _, ok := v.issuers[issuer]; !ok {
			return nil, fmt.Errorf("auth: oidc issuer %q not allowed", issuer)
		}
	}
	matched := false
	for _, aud := range v.audiences {
		if claims.VerifyAudience(aud, true) {
			matched = true
			break
		}
	}
	if !matched {
		return nil, errors.New("auth: oidc audience mismatch")
	}
	subject, _ := claims["sub"].(string)
	email, _ := claims["email"].(string)
	return &OperatorIdentity{Subject: subject, Email: email, Issuer: issuer}, nil
}

// RequireOperator rejects requests without a valid operator token.
func (v *OIDCValidator) RequireOperator() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			raw := extractOIDCToken(r)
			if raw == "" {
				respondAuthError(ctx, w, http.StatusUnauthorized, "unauthenticated", "operator token missing")
				return
			}
			op, err := v.Verify(ctx, raw)
			if err != nil {
				status := http.StatusUnauthorized
				if errors.Is(err, ErrJWKSFetchFailed) {
					status = http.StatusServiceUnavailable
				}
				if v != nil {
					v.logger.Warn("auth: operator token rejected", zap.Error(err))
				}
				respondAuthError(ctx, w, status, "invalid_token", "operator token verification failed")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithOperator(ctx, op)))
		})
	}
}

func extractOIDCToken(r *http.Request) string {
	if bearer, ok := extractBearerToken(r.Header.Get("Authorization")); ok {
		return bearer
	}
	return strings.TrimSpace(r.Header.Get("X-Goog-Iap-Jwt-Assertion"))
}
