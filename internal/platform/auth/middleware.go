package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	firebaseauth "firebase.google.com/go/v4/auth"

	"github.com/vinuvisthara/api/internal/platform/httpx"
)

const (
	defaultRoleClaim     = "role"
	defaultVerifyTimeout = 5 * time.Second

	// GuestSessionHeader carries the anonymous cart session for signed-out shoppers.
	GuestSessionHeader = "X-Guest-Session"

	minGuestSessionLen = 16
	maxGuestSessionLen = 128
)

var (
	// ErrTokenExpired signals that the provided Firebase ID token has expired.
	ErrTokenExpired = errors.New("auth: firebase id token expired")
	// ErrTokenInvalid signals that the provided Firebase ID token is invalid for other reasons.
	ErrTokenInvalid = errors.New("auth: firebase id token invalid")
)

// TokenVerifier verifies Firebase ID tokens.
type TokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*firebaseauth.Token, error)
}

// Authenticator turns Firebase ID tokens and guest session headers into
// request identities.
type Authenticator struct {
	verifier  TokenVerifier
	roleClaim string
	timeout   time.Duration
}

// Option customises Authenticator behaviour.
type Option func(*Authenticator)

// WithRoleClaim overrides the custom claim used for role extraction.
func WithRoleClaim(claim string) Option {
	return func(a *Authenticator) {
		if claim = strings.TrimSpace(claim); claim != "" {
			a.roleClaim = claim
		}
	}
}

// WithVerificationTimeout bounds token verification.
func WithVerificationTimeout(d time.Duration) Option {
	return func(a *Authenticator) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// NewAuthenticator constructs an Authenticator. A nil verifier rejects every
// bearer token but still admits guests on AllowGuest routes.
func NewAuthenticator(verifier TokenVerifier, opts ...Option) *Authenticator {
	a := &Authenticator{
		verifier:  verifier,
		roleClaim: defaultRoleClaim,
		timeout:   defaultVerifyTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// RequireCustomer admits only signed-in callers holding one of roles
// (any role when none are given).
func (a *Authenticator) RequireCustomer(roles ...string) func(http.Handler) http.Handler {
	allowed := roleSet(roles)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenStr, ok := extractBearerToken(r.Header.Get("Authorization"))
			if !ok {
				respondAuthError(r.Context(), w, http.StatusUnauthorized, "unauthenticated", "authorization header missing or invalid")
				return
			}
			identity, err := a.verify(r.Context(), tokenStr)
			if err != nil {
				respondVerificationError(r.Context(), w, err)
				return
			}
			if len(allowed) > 0 && !hasAllowedRole(identity.Roles, allowed) {
				respondAuthError(r.Context(), w, http.StatusForbidden, "insufficient_role", "identity does not have required role")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
		})
	}
}

// AllowGuest admits either a signed-in customer or a guest presenting a
// session id in GuestSessionHeader. A present but invalid bearer token is
// rejected rather than downgraded to a guest.
func (a *Authenticator) AllowGuest() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if header := r.Header.Get("Authorization"); strings.TrimSpace(header) != "" {
				tokenStr, ok := extractBearerToken(header)
				if !ok {
					respondAuthError(ctx, w, http.StatusUnauthorized, "unauthenticated", "authorization header invalid")
					return
				}
				identity, err := a.verify(ctx, tokenStr)
				if err != nil {
					respondVerificationError(ctx, w, err)
					return
				}
				ctx = WithIdentity(ctx, identity)
			}
			if session, ok := guestSession(r.Header.Get(GuestSessionHeader)); ok {
				ctx = WithGuestSession(ctx, session)
			}
			if _, signedIn := IdentityFromContext(ctx); !signedIn {
				if _, guest := GuestSessionFromContext(ctx); !guest {
					respondAuthError(ctx, w, http.StatusUnauthorized, "unauthenticated", "sign in or supply a guest session")
					return
				}
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func (a *Authenticator) verify(ctx context.Context, tokenStr string) (*Identity, error) {
	if a == nil || a.verifier == nil {
		return nil, ErrTokenInvalid
	}
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	token, err := a.verifier.VerifyIDToken(ctx, tokenStr)
	if err != nil {
		return nil, err
	}
	identity := &Identity{
		UID:    token.UID,
		Email:  claimAsString(token.Claims, "email"),
		Locale: claimAsString(token.Claims, "locale"),
		Roles:  rolesFromClaims(token.Claims, a.roleClaim),
		token:  token,
	}
	if len(identity.Roles) == 0 {
		identity.Roles = []string{RoleCustomer}
	}
	return identity, nil
}

func guestSession(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if len(raw) < minGuestSessionLen || len(raw) > maxGuestSessionLen {
		return "", false
	}
	for _, c := range raw {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
		default:
			return "", false
		}
	}
	return raw, true
}

func roleSet(roles []string) map[string]struct{} {
	allowed := make(map[string]struct{}, len(roles))
	for _, role := range roles {
		if role = normaliseRole(role); role != "" {
			allowed[role] = struct{}{}
		}
	}
	return allowed
}

func hasAllowedRole(identityRoles []string, allowed map[string]struct{}) bool {
	for _, role := range identityRoles {
		if _, ok := allowed[normaliseRole(role)]; ok {
			return true
		}
	}
	return false
}

func rolesFromClaims(claims map[string]any, key string) []string {
	var raw []string
	switch v := claims[key].(type) {
	case string:
		raw = []string{v}
	case []string:
		raw = v
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok {
				raw = append(raw, s)
			}
		}
	case map[string]any:
		for role, enabled := range v {
			if on, ok := enabled.(bool); ok && on {
				raw = append(raw, role)
			}
		}
	}
	out := make([]string, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))
	for _, role := range raw {
		role = normaliseRole(role)
		if role == "" {
			continue
		}
		if _, dup := seen[role]; dup {
			continue
		}
		seen[role] = struct{}{}
		out = append(out, role)
	}
	return out
}

func claimAsString(claims map[string]any, key string) string {
	if v, ok := claims[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

func extractBearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func respondAuthError(ctx context.Context, w http.ResponseWriter, status int, code, message string) {
	httpx.WriteError(ctx, w, httpx.NewError(code, message, status))
}

func respondVerificationError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrTokenExpired), firebaseauth.IsIDTokenExpired(err):
		respondAuthError(ctx, w, http.StatusUnauthorized, "token_expired", "firebase id token expired")
	default:
		respondAuthError(ctx, w, http.StatusUnauthorized, "invalid_token", "firebase id token verification failed")
	}
}
