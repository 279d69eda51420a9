package handlers

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/vinuvisthara/api/internal/platform/auth"
	"github.com/vinuvisthara/api/internal/platform/httpx"
)

const limiterIdleTTL = 10 * time.Minute

// keyedLimiter keeps one token bucket per caller key.
type keyedLimiter struct {
	limit rate.Limit
	burst int
	clock func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// newKeyedLimiter allows perMinute requests per key with an equal burst.
// A non-positive perMinute disables limiting.
func newKeyedLimiter(perMinute int, clock func() time.Time) *keyedLimiter {
	if perMinute <= 0 {
		return nil
	}
	if clock == nil {
		clock = time.Now
	}
	return &keyedLimiter{
		limit:   rate.Limit(float64(perMinute) / 60),
		burst:   perMinute,
		clock:   clock,
		buckets: make(map[string]*bucket),
	}
}

func (l *keyedLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	key = strings.TrimSpace(key)
	if key == "" {
		key = "anonymous"
	}
	now := l.clock()
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok {
		l.pruneLocked(now)
		b = &bucket{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[key] = b
	}
	b.lastSeen = now
	return b.limiter.AllowN(now, 1)
}

func (l *keyedLimiter) pruneLocked(now time.Time) {
	for key, b := range l.buckets {
		if now.Sub(b.lastSeen) > limiterIdleTTL {
			delete(l.buckets, key)
		}
	}
}

// rateLimit rejects requests over the caller's budget with 429. Callers are
// keyed by customer uid, then guest session, then client IP.
func rateLimit(l *keyedLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if l == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !l.Allow(callerKey(r)) {
				httpx.WriteError(r.Context(), w, httpx.NewError("rate_limited", "too many requests", http.StatusTooManyRequests).
					WithRetryAfter(time.Second))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func callerKey(r *http.Request) string {
	ctx := r.Context()
	if identity, ok := auth.IdentityFromContext(ctx); ok && identity != nil && identity.UID != "" {
		return "uid:" + identity.UID
	}
	if session, ok := auth.GuestSessionFromContext(ctx); ok {
		return "guest:" + session
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}
