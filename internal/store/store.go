// Package store holds the durable, strongly consistent copy of every order.
package store

import (
	"context"
	"slices"
	"sort"
	"time"

	"github.com/AmrNabih-hub/Souk-El-Syarat-sub003/internal/orders"
)

// Store is the canonical record. Every write is conditional on the revision
// the caller last read; a successful write bumps the revision by one.
type Store interface {
	// Put writes o when the stored revision equals expectedRevision.
	// expectedRevision 0 means the order must not exist yet.
	Put(ctx context.Context, o *orders.Order, expectedRevision int64) error
	Get(ctx context.Context, id string) (*orders.Order, error)
	// Patch applies a field-level update and returns the new record.
	Patch(ctx context.Context, id string, expectedRevision int64, p Patch) (*orders.Order, error)
	Query(ctx context.Context, f Filter) ([]*orders.Order, error)
	FindByIdempotencyKey(ctx context.Context, key string) (*orders.Order, error)
}

// Filter selects orders for historical listing. Zero fields match anything.
type Filter struct {
	CustomerID string
	VendorID   string
	Status     orders.Status
	From       time.Time // created_at >= From
	To         time.Time // created_at < To
	Limit      int
}

func (f Filter) Match(o *orders.Order) bool {
	if f.CustomerID != "" && o.CustomerID != f.CustomerID {
		return false
	}
	if f.VendorID != "" && !o.HasVendor(f.VendorID) {
		return false
	}
	if f.Status != "" && o.Status != f.Status {
		return false
	}
	if !f.From.IsZero() && o.CreatedAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !o.CreatedAt.Before(f.To) {
		return false
	}
	return true
}

// Patch is a field-level update that never touches status.
type Patch struct {
	Payment     *orders.Payment
	Shipping    *orders.Shipping
	AppendNotes []orders.Note
	UpdatedAt   time.Time
}

// Apply mutates o in place and bumps its revision.
func (p Patch) Apply(o *orders.Order) {
	if p.Payment != nil {
		o.Payment = *p.Payment
	}
	if p.Shipping != nil {
		o.Shipping = *p.Shipping
	}
	if len(p.AppendNotes) > 0 {
		o.Notes = append(slices.Clone(o.Notes), p.AppendNotes...)
	}
	if !p.UpdatedAt.IsZero() {
		o.UpdatedAt = p.UpdatedAt
	}
	o.Revision++
}

// SortNewestFirst orders by created_at descending, id breaking ties, and
// applies the limit.
func SortNewestFirst(list []*orders.Order, limit int) []*orders.Order {
	sort.Slice(list, func(i, j int) bool {
		if !list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].CreatedAt.After(list[j].CreatedAt)
		}
		return list[i].ID > list[j].ID
	})
	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	return list
}
