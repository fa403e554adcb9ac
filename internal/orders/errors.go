package orders

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidTransition       = errors.New("invalid status transition")
	ErrInsufficientStock       = errors.New("insufficient stock")
	ErrNotFound                = errors.New("not found")
	ErrStoreUnavailable        = errors.New("durable store unavailable")
	ErrMirrorSyncFailed        = errors.New("mirror sync failed")
	ErrNotificationFailed      = errors.New("notification failed")
	ErrRevisionConflict        = errors.New("revision conflict")
	ErrDuplicateIdempotencyKey = errors.New("idempotency key already used")
	ErrOrderTerminal           = errors.New("order is in a terminal status")
	ErrInvalidQuantity         = errors.New("quantity must be positive")
	ErrValidation              = errors.New("validation failed")
)

// InvalidTransitionError identifies the rejected from/to pair.
type InvalidTransitionError struct {
	From Status
	To   Status
}

func (e *InvalidTransitionError) Error() string {
	if e.From == "" {
		return fmt.Sprintf("invalid status transition: history must start at %s, got %s", StatusPending, e.To)
	}
	return fmt.Sprintf("invalid status transition: %s -> %s", e.From, e.To)
}

func (e *InvalidTransitionError) Is(target error) bool { return target == ErrInvalidTransition }

// InsufficientStockError carries the product that could not be reserved.
type InsufficientStockError struct {
	ProductID string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s: requested %d, available %d", e.ProductID, e.Requested, e.Available)
}

func (e *InsufficientStockError) Is(target error) bool { return target == ErrInsufficientStock }

// Shortfall is the number of units missing to satisfy the request.
func (e *InsufficientStockError) Shortfall() int {
	if d := e.Requested - e.Available; d > 0 {
		return d
	}
	return 0
}

// NotFoundf wraps ErrNotFound with the kind and id of the missing entity.
func NotFoundf(kind, id string) error {
	return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
}
