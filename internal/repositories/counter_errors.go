package repositories

import (
	"errors"
	"fmt"
)

// CounterErrorCode classifies sequence failures.
type CounterErrorCode string

const (
	CounterErrorUnknown      CounterErrorCode = "counter_unknown"
	CounterErrorInvalidInput CounterErrorCode = "counter_invalid_input"
	// CounterErrorExhausted means the sequence has no numbers left in its
	// period, e.g. a yearly order counter past its last printable number.
	CounterErrorExhausted CounterErrorCode = "counter_exhausted"
)

// CounterError reports a failure issuing the next number from a counter.
type CounterError struct {
	CounterID string
	Code      CounterErrorCode
	Message   string
	Err       error
}

func (e *CounterError) Error() string {
	if e == nil {
		return ""
	}
	if e.CounterID != "" {
		return fmt.Sprintf("counter %s: %s", e.CounterID, e.Message)
	}
	return e.Message
}

func (e *CounterError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches another *CounterError with the same code, so callers can test
// errors.Is(err, &CounterError{Code: CounterErrorExhausted}).
func (e *CounterError) Is(target error) bool {
	t, ok := target.(*CounterError)
	return ok && e != nil && t.Code == e.Code
}

// NewCounterError builds a counter error. An empty message defaults to the code.
func NewCounterError(code CounterErrorCode, counterID, message string, err error) *CounterError {
	if message == "" {
		message = string(code)
	}
	return &CounterError{
		CounterID: counterID,
		Code:      code,
		Message:   message,
		Err:       err,
	}
}

// IsCounterExhausted reports whether err says a counter ran out of numbers.
func IsCounterExhausted(err error) bool {
	var ce *CounterError
	return errors.As(err, &ce) && ce.Code == CounterErrorExhausted
}
