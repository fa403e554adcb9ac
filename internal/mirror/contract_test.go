package mirror

import (
	"context"
	"testing"
	"time"

	"github.com/AmrNabih-hub/Souk-El-Syarat-sub003/internal/orders"
	"github.com/AmrNabih-hub/Souk-El-Syarat-sub003/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

func sampleOrder(id, customer string, created time.Time, rev int64, vendors ...string) *orders.Order {
	o := &orders.Order{
		ID:         id,
		Number:     "ORD-" + id,
		CustomerID: customer,
		VendorIDs:  vendors,
		Items:      []orders.LineItem{{ProductID: "P1", VendorID: vendors[0], Qty: 1, UnitPriceCents: 500, SubtotalCents: 500}},
		Totals:     orders.Totals{SubtotalCents: 500, GrandCents: 500},
		Payment:    orders.Payment{Method: "cod", Status: orders.PaymentPending},
		Shipping:   orders.Shipping{Method: "standard", Status: orders.ShippingPending},
	}
	o.Open(created, customer)
	o.Revision = rev
	return o
}

func recv(t *testing.T, ch <-chan *orders.Order) *orders.Order {
	t.Helper()
	select {
	case o, ok := <-ch:
		require.True(t, ok, "watch channel closed")
		return o
	case <-time.After(2 * time.Second):
		t.Fatal("no change delivered")
		return nil
	}
}

func testMirrorContract(t *testing.T, m Mirror) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes, err := m.Watch(ctx)
	require.NoError(t, err)

	t.Run("put get and watch", func(t *testing.T) {
		applied, err := m.Put(ctx, sampleOrder("o-1", "c-1", t0, 1, "v-1"))
		require.NoError(t, err)
		assert.True(t, applied)

		got, err := m.Get(ctx, "o-1")
		require.NoError(t, err)
		assert.Equal(t, int64(1), got.Revision)
		assert.Equal(t, "c-1", got.CustomerID)

		ch := recv(t, changes)
		assert.Equal(t, "o-1", ch.ID)
		assert.Equal(t, int64(1), ch.Revision)
	})

	t.Run("stale revision is ignored", func(t *testing.T) {
		newer := sampleOrder("o-1", "c-1", t0, 3, "v-1")
		require.NoError(t, newer.Transition(orders.StatusConfirmed, t0.Add(time.Minute), "v-1", ""))
		applied, err := m.Put(ctx, newer)
		require.NoError(t, err)
		assert.True(t, applied)
		assert.Equal(t, int64(3), recv(t, changes).Revision)

		applied, err = m.Put(ctx, sampleOrder("o-1", "c-1", t0, 2, "v-1"))
		require.NoError(t, err)
		assert.False(t, applied)

		got, err := m.Get(ctx, "o-1")
		require.NoError(t, err)
		assert.Equal(t, int64(3), got.Revision)
		assert.Equal(t, orders.StatusConfirmed, got.Status)
	})

	t.Run("patch", func(t *testing.T) {
		got, err := m.Patch(ctx, "o-1", store.Patch{AppendNotes: []orders.Note{{ActorID: "c-1", Text: "ring twice"}}})
		require.NoError(t, err)
		assert.Equal(t, int64(4), got.Revision)
		assert.Equal(t, int64(4), recv(t, changes).Revision)

		_, err = m.Patch(ctx, "missing", store.Patch{})
		assert.ErrorIs(t, err, orders.ErrNotFound)
	})

	t.Run("query", func(t *testing.T) {
		for _, o := range []*orders.Order{
			sampleOrder("o-2", "c-1", t0.Add(time.Hour), 1, "v-2"),
			sampleOrder("o-3", "c-2", t0.Add(2*time.Hour), 1, "v-1", "v-2"),
		} {
			_, err := m.Put(ctx, o)
			require.NoError(t, err)
			recv(t, changes)
		}

		all, err := m.Query(ctx, store.Filter{})
		require.NoError(t, err)
		assert.Equal(t, []string{"o-3", "o-2", "o-1"}, ids(all))

		byCustomer, err := m.Query(ctx, store.Filter{CustomerID: "c-1"})
		require.NoError(t, err)
		assert.Equal(t, []string{"o-2", "o-1"}, ids(byCustomer))

		byVendor, err := m.Query(ctx, store.Filter{VendorID: "v-1"})
		require.NoError(t, err)
		assert.Equal(t, []string{"o-3", "o-1"}, ids(byVendor))

		confirmed, err := m.Query(ctx, store.Filter{Status: orders.StatusConfirmed})
		require.NoError(t, err)
		assert.Equal(t, []string{"o-1"}, ids(confirmed))

		window, err := m.Query(ctx, store.Filter{From: t0.Add(time.Minute), To: t0.Add(2 * time.Hour)})
		require.NoError(t, err)
		assert.Equal(t, []string{"o-2"}, ids(window))

		none, err := m.Query(ctx, store.Filter{CustomerID: "nobody"})
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("missing", func(t *testing.T) {
		_, err := m.Get(ctx, "missing")
		assert.ErrorIs(t, err, orders.ErrNotFound)
	})
}

func ids(list []*orders.Order) []string {
	out := make([]string, 0, len(list))
	for _, o := range list {
		out = append(out, o.ID)
	}
	return out
}
