package carrier

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConfigured is returned by every call when credentials are missing.
	ErrNotConfigured = errors.New("carrier: not configured")
	// ErrOrderFailed marks a non-success response from the carrier API.
	ErrOrderFailed = errors.New("carrier: request failed")
	// ErrResponseIncomplete marks a success response lacking required identifiers.
	ErrResponseIncomplete = errors.New("carrier: response incomplete")
)

// Error describes a failed carrier call.
type Error struct {
	Op         string
	StatusCode int
	Body       string
	Kind       error
	Err        error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := "carrier " + e.Op
	if e.Kind != nil {
		msg += ": " + e.Kind.Error()
	}
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the failure kind and the underlying cause.
func (e *Error) Unwrap() []error {
	if e == nil {
		return nil
	}
	out := make([]error, 0, 2)
	if e.Kind != nil {
		out = append(out, e.Kind)
	}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

func failed(op string, status int, body string, cause error) *Error {
	return &Error{Op: op, StatusCode: status, Body: body, Kind: ErrOrderFailed, Err: cause}
}

func incomplete(op string, detail string) *Error {
	return &Error{Op: op, Kind: ErrResponseIncomplete, Err: errors.New(detail)}
}
