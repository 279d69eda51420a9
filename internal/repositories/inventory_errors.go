package repositories

import "fmt"

// InventoryErrorCode enumerates repository error causes for stock operations.
type InventoryErrorCode string

const (
	InventoryErrorUnknown           InventoryErrorCode = "inventory_unknown"
	InventoryErrorInsufficientStock InventoryErrorCode = "inventory_insufficient_stock"
	InventoryErrorProductNotFound   InventoryErrorCode = "inventory_product_not_found"
)

// InventoryError carries the product and quantities involved in a failed stock change.
type InventoryError struct {
	Op        string
	Code      InventoryErrorCode
	ProductID string
	Requested int
	Available int
	Err       error
}

// Error implements the error interface.
func (e *InventoryError) Error() string {
	if e == nil {
		return ""
	}
	msg := fmt.Sprintf("%s: product %s (requested %d, available %d)", e.Code, e.ProductID, e.Requested, e.Available)
	if e.Op != "" {
		return e.Op + ": " + msg
	}
	return msg
}

// Unwrap exposes the underlying error, if any.
func (e *InventoryError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// IsNotFound reports whether the product was missing.
func (e *InventoryError) IsNotFound() bool {
	return e != nil && e.Code == InventoryErrorProductNotFound
}

// IsConflict reports whether the stock no longer permits the change.
func (e *InventoryError) IsConflict() bool {
	return e != nil && e.Code == InventoryErrorInsufficientStock
}

// IsUnavailable is always false for inventory errors.
func (e *InventoryError) IsUnavailable() bool { return false }

// NewInsufficientStockError constructs the error returned when stock cannot cover a request.
func NewInsufficientStockError(op, productID string, requested, available int) *InventoryError {
	return &InventoryError{
		Op:        op,
		Code:      InventoryErrorInsufficientStock,
		ProductID: productID,
		Requested: requested,
		Available: available,
	}
}
