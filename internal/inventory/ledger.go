// Package inventory is the stock ledger: it reserves and releases product
// quantities without ever letting available stock drop below zero.
package inventory

import (
	"context"
	"sync"

	"github.com/AmrNabih-hub/Souk-El-Syarat-sub003/internal/orders"
)

// Ledger tracks available quantity per product. Operations on one product
// are mutually exclusive; operations on different products never block
// each other.
type Ledger interface {
	// Reserve decrements available stock by qty or fails with
	// *orders.InsufficientStockError, leaving stock untouched.
	Reserve(ctx context.Context, productID string, qty int) error
	// Release increments available stock by qty.
	Release(ctx context.Context, productID string, qty int) error
	Available(ctx context.Context, productID string) (int, error)
	SetStock(ctx context.Context, productID string, qty int) error
}

type cell struct {
	mu        sync.Mutex
	available int
}

// MemoryLedger keeps one mutex per product.
type MemoryLedger struct {
	cells sync.Map // productID -> *cell
}

func NewMemoryLedger() *MemoryLedger { return &MemoryLedger{} }

func (l *MemoryLedger) cell(productID string) (*cell, error) {
	v, ok := l.cells.Load(productID)
	if !ok {
		return nil, orders.NotFoundf("product", productID)
	}
	return v.(*cell), nil
}

func (l *MemoryLedger) Reserve(_ context.Context, productID string, qty int) error {
	if qty <= 0 {
		return orders.ErrInvalidQuantity
	}
	c, err := l.cell(productID)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.available < qty {
		return &orders.InsufficientStockError{ProductID: productID, Requested: qty, Available: c.available}
	}
	c.available -= qty
	return nil
}

func (l *MemoryLedger) Release(_ context.Context, productID string, qty int) error {
	if qty <= 0 {
		return orders.ErrInvalidQuantity
	}
	c, err := l.cell(productID)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.available += qty
	c.mu.Unlock()
	return nil
}

func (l *MemoryLedger) Available(_ context.Context, productID string) (int, error) {
	c, err := l.cell(productID)
	if err != nil {
		return 0, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.available, nil
}

// SetStock creates the product or overwrites its available quantity.
func (l *MemoryLedger) SetStock(_ context.Context, productID string, qty int) error {
	if qty < 0 {
		return orders.ErrInvalidQuantity
	}
	v, _ := l.cells.LoadOrStore(productID, &cell{})
	c := v.(*cell)
	c.mu.Lock()
	c.available = qty
	c.mu.Unlock()
	return nil
}

// ReserveAll reserves every (product, qty) pair or none of them. Pairs are
// reserved in the given order and already reserved pairs are released when
// a later one fails.
func ReserveAll(ctx context.Context, l Ledger, items []Item) error {
	done := make([]Item, 0, len(items))
	for _, it := range items {
		if err := l.Reserve(ctx, it.ProductID, it.Qty); err != nil {
			if rerr := ReleaseAll(context.WithoutCancel(ctx), l, done); rerr != nil {
				return &RollbackError{Cause: err, Rollback: rerr}
			}
			return err
		}
		done = append(done, it)
	}
	return nil
}

// ReleaseAll releases every pair, continuing past failures and returning the
// first error.
func ReleaseAll(ctx context.Context, l Ledger, items []Item) error {
	var first error
	for _, it := range items {
		if err := l.Release(ctx, it.ProductID, it.Qty); err != nil && first == nil {
			first = err
		}
	}
	return first
}

type Item struct {
	ProductID string
	Qty       int
}

// RollbackError reports a reservation failure whose compensation also
// failed, leaving stock that must be reconciled.
type RollbackError struct {
	Cause    error
	Rollback error
}

func (e *RollbackError) Error() string {
	return "reserve: " + e.Cause.Error() + " (rollback failed: " + e.Rollback.Error() + ")"
}

func (e *RollbackError) Unwrap() error { return e.Cause }
