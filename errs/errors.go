// Package errs defines the domain error taxonomy shared by the ledger,
// the reservation store and the engine.
package errs

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates an unknown stock item or reservation.
	ErrNotFound = errors.New("not found")

	// ErrConflict indicates an optimistic concurrency token mismatch.
	// The ledger surfaces it so callers can re-read and retry; the engine
	// retries a bounded number of times before exposing it as transient.
	ErrConflict = errors.New("concurrency token mismatch")

	// ErrDuplicateOrder indicates a reserve request for an order that
	// already has reservations. The order ID is the idempotency key.
	ErrDuplicateOrder = errors.New("order already has reservations")

	// ErrInvalidState indicates a transition attempted on a terminal
	// reservation.
	ErrInvalidState = errors.New("invalid reservation state transition")
)

// InsufficientStockError is a business failure, not a bug: the sellable pool
// cannot cover the requested quantity.
type InsufficientStockError struct {
	ProductID string
	Requested int64
	Available int64
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s: requested %d, available %d",
		e.ProductID, e.Requested, e.Available)
}

// IsInsufficientStock reports whether err wraps an InsufficientStockError.
func IsInsufficientStock(err error) bool {
	var ise *InsufficientStockError
	return errors.As(err, &ise)
}
