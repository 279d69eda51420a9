// Package idempotency replays the stored response of a mutating request when a
// client retries it with the same Idempotency-Key.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"time"
)

// DefaultTTL bounds how long a key stays reserved.
const DefaultTTL = 24 * time.Hour

// State is the outcome of reserving a key.
type State int

const (
	// StateNew means the caller owns the key and must run the request.
	StateNew State = iota
	// StateCompleted means a stored response exists for the key.
	StateCompleted
	// StatePending means another request holds the key.
	StatePending
)

// ErrFingerprintMismatch is returned when a key is reused for a different request.
var ErrFingerprintMismatch = errors.New("idempotency: key reused with a different request")

// Record is the persisted state of one key.
type Record struct {
	Key         string
	Fingerprint string
	Completed   bool
	Status      int
	Header      map[string][]string
	Body        []byte
	ExpiresAt   time.Time
}

// Store persists reservations and completed responses.
type Store interface {
	Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (State, Record, error)
	Complete(ctx context.Context, record Record) error
	Release(ctx context.Context, key string) error
}

func documentID(key string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(key)))
	return hex.EncodeToString(sum[:])
}

// replayableHeaders are copied into the stored response.
var replayableHeaders = []string{"Content-Type", "Location", "Cache-Control"}

func storedHeader(src http.Header) map[string][]string {
	out := make(map[string][]string)
	for _, name := range replayableHeaders {
		if values := src.Values(name); len(values) > 0 {
			out[name] = append([]string(nil), values...)
		}
	}
	return out
}
