package services

import (
	"errors"
	"fmt"
	"strings"

	"github.com/vinuvisthara/api/internal/carrier"
	domain "github.com/vinuvisthara/api/internal/domain"
	"github.com/vinuvisthara/api/internal/repositories"
)

var (
	// ErrNotFound indicates the requested cart, order or payment does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict indicates a concurrent modification or duplicate write.
	ErrConflict = errors.New("conflict")
	// ErrUnavailable indicates a backing store or collaborator is unreachable.
	ErrUnavailable = errors.New("unavailable")
	// ErrPaymentAlreadyCompleted is returned when paying an order that is already paid.
	ErrPaymentAlreadyCompleted = errors.New("payment already completed")

	// ErrValidation is matched by every *ValidationError.
	ErrValidation = errors.New("validation failed")
	// ErrInsufficientStock is matched by every *InsufficientStockError.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrInvalidCoupon signals a coupon that is unknown, inactive, expired or already used.
	ErrInvalidCoupon = errors.New("invalid coupon")
	// ErrOrderCreationFailed is returned for any unexpected failure inside the order transaction.
	ErrOrderCreationFailed = errors.New("order creation failed")
	// ErrPaymentVerificationFailed signals a signature mismatch or a gateway error during verification.
	ErrPaymentVerificationFailed = errors.New("payment verification failed")
	// ErrCarrierNotConfigured signals missing carrier credentials.
	ErrCarrierNotConfigured = carrier.ErrNotConfigured
	// ErrCarrierOrderFailed signals a carrier call that returned an error response.
	ErrCarrierOrderFailed = carrier.ErrOrderFailed
	// ErrCarrierResponseIncomplete signals a carrier response lacking required identifiers.
	ErrCarrierResponseIncomplete = carrier.ErrResponseIncomplete
	// ErrStateTransitionInvalid is matched by every *StateTransitionError.
	ErrStateTransitionInvalid = errors.New("state transition invalid")
)

// ValidationError describes bad input. It never accompanies a state change.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e == nil {
		return ""
	}
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed: %s %s", e.Field, e.Reason)
}

// Is makes errors.Is(err, ErrValidation) match.
func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func newValidationError(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// InsufficientStockError names the product that cannot cover the requested quantity.
type InsufficientStockError struct {
	ProductID   string
	ProductName string
	Requested   int
	Available   int
}

func (e *InsufficientStockError) Error() string {
	if e == nil {
		return ""
	}
	name := strings.TrimSpace(e.ProductName)
	if name == "" {
		name = e.ProductID
	}
	return fmt.Sprintf("insufficient stock for %s: requested %d, available %d", name, e.Requested, e.Available)
}

// Is makes errors.Is(err, ErrInsufficientStock) match.
func (e *InsufficientStockError) Is(target error) bool { return target == ErrInsufficientStock }

// StateTransitionError records a fulfillment action attempted from the wrong state.
type StateTransitionError struct {
	Action string
	From   domain.FulfillmentStatus
	Status domain.OrderStatus
}

func (e *StateTransitionError) Error() string {
	if e == nil {
		return ""
	}
	if e.Status != "" {
		return fmt.Sprintf("cannot %s order in status %s (fulfillment %s)", e.Action, e.Status, e.From)
	}
	return fmt.Sprintf("cannot %s order in fulfillment status %s", e.Action, e.From)
}

// Is makes errors.Is(err, ErrStateTransitionInvalid) match.
func (e *StateTransitionError) Is(target error) bool { return target == ErrStateTransitionInvalid }

// userFacing reports whether err belongs to the taxonomy that is safe to return
// to callers verbatim.
func userFacing(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInsufficientStock) ||
		errors.Is(err, ErrInvalidCoupon) ||
		errors.Is(err, ErrStateTransitionInvalid)
}

func mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}
	return err
}

func isNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}
