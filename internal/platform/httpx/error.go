// Package httpx writes the API's JSON error envelope.
package httpx

import (
	"context"
	"encoding/json"
	"maps"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/vinuvisthara/api/internal/platform/requestctx"
)

// Error is the body of every non-2xx API response:
//
//	{"error": code, "message": ..., "status": 409, "retryable": false,
//	 "request_id": ..., "trace_id": ..., <details>}
//
// Details are merged at the top level so clients can read fields such as
// product_id or fulfillment_status directly.
type Error struct {
	Code       string
	Message    string
	Status     int
	Retryable  bool
	RetryAfter time.Duration
	RequestID  string
	TraceID    string
	Details    map[string]any
}

// NewError builds an error envelope. Rate limiting, carrier gateway failures
// and unavailable dependencies are marked retryable.
func NewError(code, message string, status int) Error {
	if status == 0 {
		status = http.StatusInternalServerError
	}
	return Error{
		Code:      clip(code, 80),
		Message:   clip(message, 512),
		Status:    status,
		Retryable: retryableStatus(status),
	}
}

func retryableStatus(status int) bool {
	switch status {
	case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

func (e Error) WithRequestID(id string) Error {
	e.RequestID = clip(id, 80)
	return e
}

func (e Error) WithTraceID(id string) Error {
	e.TraceID = clip(id, 64)
	return e
}

// WithRetryAfter marks the error retryable and sets the Retry-After header,
// rounded up to whole seconds.
func (e Error) WithRetryAfter(d time.Duration) Error {
	if d <= 0 {
		return e
	}
	e.Retryable = true
	e.RetryAfter = d
	return e
}

// WithDetails merges details into the envelope. Reserved keys are ignored.
func (e Error) WithDetails(details map[string]any) Error {
	if len(details) == 0 {
		return e
	}
	merged := maps.Clone(e.Details)
	if merged == nil {
		merged = make(map[string]any, len(details))
	}
	for k, v := range details {
		if _, reserved := reservedKeys[k]; reserved {
			continue
		}
		merged[k] = v
	}
	e.Details = merged
	return e
}

var reservedKeys = map[string]struct{}{
	"error": {}, "message": {}, "status": {}, "retryable": {}, "request_id": {}, "trace_id": {},
}

// WriteError writes err as JSON. Request and trace ids default to the ones on ctx.
func WriteError(ctx context.Context, w http.ResponseWriter, err Error) {
	status := err.Status
	if status == 0 {
		status = http.StatusInternalServerError
	}

	payload := make(map[string]any, len(err.Details)+6)
	for k, v := range err.Details {
		payload[k] = v
	}
	payload["error"] = err.Code
	payload["message"] = err.Message
	payload["status"] = status
	if err.Retryable {
		payload["retryable"] = true
	}

	requestID := err.RequestID
	if requestID == "" {
		requestID = clip(middleware.GetReqID(ctx), 80)
	}
	if requestID != "" {
		payload["request_id"] = requestID
	}
	traceID := err.TraceID
	if traceID == "" {
		traceID = clip(requestctx.TraceID(ctx), 64)
	}
	if traceID != "" {
		payload["trace_id"] = traceID
	}

	if err.RetryAfter > 0 {
		secs := int64((err.RetryAfter + time.Second - 1) / time.Second)
		w.Header().Set("Retry-After", strconv.FormatInt(secs, 10))
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func clip(value string, limit int) string {
	if limit <= 0 {
		limit = 256
	}
	value = strings.TrimSpace(strings.NewReplacer("\n", " ", "\r", " ").Replace(value))
	if len(value) > limit {
		value = value[:limit]
	}
	return value
}
