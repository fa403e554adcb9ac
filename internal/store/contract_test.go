package store

import (
	"context"
	"testing"
	"time"

	"github.com/AmrNabih-hub/Souk-El-Syarat-sub003/internal/orders"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

func sampleOrder(id, customer string, created time.Time, vendors ...string) *orders.Order {
	o := &orders.Order{
		ID:         id,
		Number:     "ORD-" + id,
		CustomerID: customer,
		VendorIDs:  vendors,
		Items:      []orders.LineItem{{ProductID: "P-" + id, VendorID: vendors[0], Name: "Brake pads", Qty: 2, UnitPriceCents: 1500, SubtotalCents: 3000}},
		Totals:     orders.Totals{SubtotalCents: 3000, GrandCents: 3000},
		Address:    orders.Address{FullName: "Mona", Street: "1 Nile St", City: "Cairo", Country: "EG"},
		Payment:    orders.Payment{Method: "card", Status: orders.PaymentPending, AmountCents: 3000},
		Shipping:   orders.Shipping{Method: "standard", Status: orders.ShippingPending},
	}
	o.Open(created, customer)
	return o
}

// testStoreContract exercises the behaviour every Store backend shares.
func testStoreContract(t *testing.T, s Store) {
	ctx := context.Background()

	t.Run("put and get", func(t *testing.T) {
		o := sampleOrder("o-1", "c-1", t0, "v-1")
		require.NoError(t, s.Put(ctx, o, 0))
		assert.Equal(t, int64(1), o.Revision)

		got, err := s.Get(ctx, "o-1")
		require.NoError(t, err)
		assert.Equal(t, "ORD-o-1", got.Number)
		assert.Equal(t, orders.StatusPending, got.Status)
		assert.Equal(t, int64(1), got.Revision)
		assert.Len(t, got.History, 1)
		assert.True(t, got.CreatedAt.Equal(t0))
		assert.Equal(t, o.Items, got.Items)
	})

	t.Run("create twice conflicts", func(t *testing.T) {
		err := s.Put(ctx, sampleOrder("o-1", "c-1", t0, "v-1"), 0)
		assert.ErrorIs(t, err, orders.ErrRevisionConflict)
	})

	t.Run("revision compare and swap", func(t *testing.T) {
		o, err := s.Get(ctx, "o-1")
		require.NoError(t, err)
		require.NoError(t, o.Transition(orders.StatusConfirmed, t0.Add(time.Minute), "v-1", ""))

		stale := o.Clone()
		require.NoError(t, s.Put(ctx, o, 1))
		assert.Equal(t, int64(2), o.Revision)

		assert.ErrorIs(t, s.Put(ctx, stale, 1), orders.ErrRevisionConflict)

		got, err := s.Get(ctx, "o-1")
		require.NoError(t, err)
		assert.Equal(t, orders.StatusConfirmed, got.Status)
		assert.NoError(t, orders.ValidateHistory(got.History))
	})

	t.Run("patch", func(t *testing.T) {
		paidAt := t0.Add(2 * time.Minute)
		p := Patch{
			Payment:     &orders.Payment{Method: "card", Status: orders.PaymentCompleted, TransactionID: "tx-9", AmountCents: 3000, PaidAt: &paidAt},
			AppendNotes: []orders.Note{{ActorID: "v-1", Text: "gift wrap", CreatedAt: paidAt}},
			UpdatedAt:   paidAt,
		}
		_, err := s.Patch(ctx, "o-1", 1, p)
		assert.ErrorIs(t, err, orders.ErrRevisionConflict)

		got, err := s.Patch(ctx, "o-1", 2, p)
		require.NoError(t, err)
		assert.Equal(t, int64(3), got.Revision)
		assert.Equal(t, orders.StatusConfirmed, got.Status)

		reread, err := s.Get(ctx, "o-1")
		require.NoError(t, err)
		assert.Equal(t, int64(3), reread.Revision)
		assert.Equal(t, orders.PaymentCompleted, reread.Payment.Status)
		assert.Equal(t, "tx-9", reread.Payment.TransactionID)
		require.Len(t, reread.Notes, 1)
		assert.Equal(t, "gift wrap", reread.Notes[0].Text)

		_, err = s.Patch(ctx, "missing", 1, p)
		assert.ErrorIs(t, err, orders.ErrNotFound)
	})

	t.Run("not found", func(t *testing.T) {
		_, err := s.Get(ctx, "missing")
		assert.ErrorIs(t, err, orders.ErrNotFound)
		_, err = s.FindByIdempotencyKey(ctx, "missing")
		assert.ErrorIs(t, err, orders.ErrNotFound)
	})

	t.Run("idempotency key is unique", func(t *testing.T) {
		a := sampleOrder("o-2", "c-1", t0.Add(time.Hour), "v-2")
		a.IdempotencyKey = "k-1"
		require.NoError(t, s.Put(ctx, a, 0))

		b := sampleOrder("o-3", "c-1", t0.Add(time.Hour), "v-2")
		b.IdempotencyKey = "k-1"
		assert.ErrorIs(t, s.Put(ctx, b, 0), orders.ErrDuplicateIdempotencyKey)

		got, err := s.FindByIdempotencyKey(ctx, "k-1")
		require.NoError(t, err)
		assert.Equal(t, "o-2", got.ID)

		_, err = s.Get(ctx, "o-3")
		assert.ErrorIs(t, err, orders.ErrNotFound)
	})

	t.Run("query", func(t *testing.T) {
		require.NoError(t, s.Put(ctx, sampleOrder("o-4", "c-2", t0.Add(2*time.Hour), "v-1", "v-2"), 0))

		all, err := s.Query(ctx, Filter{})
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, []string{"o-4", "o-2", "o-1"}, ids(all))

		byCustomer, err := s.Query(ctx, Filter{CustomerID: "c-1"})
		require.NoError(t, err)
		assert.Equal(t, []string{"o-2", "o-1"}, ids(byCustomer))

		byVendor, err := s.Query(ctx, Filter{VendorID: "v-2"})
		require.NoError(t, err)
		assert.Equal(t, []string{"o-4", "o-2"}, ids(byVendor))

		byStatus, err := s.Query(ctx, Filter{Status: orders.StatusConfirmed})
		require.NoError(t, err)
		assert.Equal(t, []string{"o-1"}, ids(byStatus))

		window, err := s.Query(ctx, Filter{From: t0.Add(30 * time.Minute), To: t0.Add(2 * time.Hour)})
		require.NoError(t, err)
		assert.Equal(t, []string{"o-2"}, ids(window))

		limited, err := s.Query(ctx, Filter{Limit: 1})
		require.NoError(t, err)
		assert.Equal(t, []string{"o-4"}, ids(limited))
	})
}

func ids(list []*orders.Order) []string {
	out := make([]string, 0, len(list))
	for _, o := range list {
		out = append(out, o.ID)
	}
	return out
}
