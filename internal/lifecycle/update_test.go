package lifecycle

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/AmrNabih-hub/Souk-El-Syarat-sub003/internal/hub"
	"github.com/AmrNabih-hub/Souk-El-Syarat-sub003/internal/inventory"
	"github.com/AmrNabih-hub/Souk-El-Syarat-sub003/internal/notify"
	"github.com/AmrNabih-hub/Souk-El-Syarat-sub003/internal/orders"
	"github.com/AmrNabih-hub/Souk-El-Syarat-sub003/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func (f *fixture) create(t *testing.T, qty int) *orders.Order {
	t.Helper()
	o, err := f.m.CreateOrder(context.Background(), input("", item("p-1", "v-1", qty), item("p-2", "v-2", 1)))
	require.NoError(t, err)
	f.m.Wait()
	f.sent.reset()
	return o
}

func statuses(o *orders.Order) []orders.Status {
	out := make([]orders.Status, 0, len(o.History))
	for _, h := range o.History {
		out = append(out, h.Status)
	}
	return out
}

func TestUpdateStatus_SkippingAStepIsRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.create(t, 2)

	_, err := f.m.UpdateStatus(ctx, o.ID, orders.StatusShipped, "v-1", "")
	require.ErrorIs(t, err, orders.ErrInvalidTransition)
	var te *orders.InvalidTransitionError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, orders.StatusPending, te.From)
	assert.Equal(t, orders.StatusShipped, te.To)

	got, err := f.m.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Revision)
	assert.Equal(t, orders.StatusPending, got.Status)
}

func TestUpdateStatus_ConfirmThenCancelRestoresStock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.create(t, 2)
	require.Equal(t, 3, f.stock(t, "p-1"))

	_, err := f.m.UpdateStatus(ctx, o.ID, orders.StatusConfirmed, "v-1", "accepted")
	require.NoError(t, err)
	cancelled, err := f.m.UpdateStatus(ctx, o.ID, orders.StatusCancelled, "c-1", "changed my mind")
	require.NoError(t, err)

	assert.Equal(t, 5, f.stock(t, "p-1"))
	assert.Equal(t, 10, f.stock(t, "p-2"))
	assert.Equal(t, []orders.Status{orders.StatusPending, orders.StatusConfirmed, orders.StatusCancelled}, statuses(cancelled))
	assert.NoError(t, orders.ValidateHistory(cancelled.History))
	assert.NotNil(t, cancelled.CancelledAt)
	assert.Equal(t, int64(3), cancelled.Revision)

	// a second cancel is refused by the transition table, not by the ledger
	_, err = f.m.UpdateStatus(ctx, o.ID, orders.StatusCancelled, "c-1", "")
	require.ErrorIs(t, err, orders.ErrInvalidTransition)
	assert.Equal(t, 5, f.stock(t, "p-1"))

	f.m.Wait()
	cats := f.sent.categories()
	assert.Equal(t, []string{"c-1"}, cats[notify.CategoryStatusChanged])
	assert.ElementsMatch(t, []string{"c-1", "v-1", "v-2"}, cats[notify.CategoryOrderCancelled])
}

func TestUpdateStatus_FullWalkToDelivered(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.create(t, 1)

	var got *orders.Order
	for _, s := range []orders.Status{orders.StatusConfirmed, orders.StatusProcessing, orders.StatusShipped, orders.StatusDelivered} {
		var err error
		got, err = f.m.UpdateStatus(ctx, o.ID, s, "v-1", "")
		require.NoError(t, err)
	}
	require.NotNil(t, got.CompletedAt)
	assert.Nil(t, got.CancelledAt)
	assert.Equal(t, int64(5), got.Revision)
	assert.NoError(t, orders.ValidateHistory(got.History))
	assert.Equal(t, 4, f.stock(t, "p-1"), "delivery keeps the reservation")

	f.m.Wait()
	assert.Equal(t, []string{"c-1"}, f.sent.categories()[notify.CategoryOrderDelivered])
}

func TestUpdateStatus_ConcurrentCallersOnOneOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.create(t, 1)

	var (
		wg      sync.WaitGroup
		won     atomic.Int32
		refused atomic.Int32
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.m.UpdateStatus(ctx, o.ID, orders.StatusCancelled, "c-1", "")
			switch {
			case err == nil:
				won.Add(1)
			case errors.Is(err, orders.ErrInvalidTransition):
				refused.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), won.Load())
	assert.Equal(t, int32(9), refused.Load())
	assert.Equal(t, 5, f.stock(t, "p-1"), "stock credited exactly once")
}

// racingStore lets another writer bump the revision right before the first
// conditional update, as a second process would.
type racingStore struct {
	*store.Memory
	once sync.Once
}

func (s *racingStore) Put(ctx context.Context, o *orders.Order, expected int64) error {
	if expected > 0 {
		s.once.Do(func() {
			_, _ = s.Memory.Patch(ctx, o.ID, expected, store.Patch{
				AppendNotes: []orders.Note{{ActorID: "ops", Text: "called customer", CreatedAt: t0}},
				UpdatedAt:   t0,
			})
		})
	}
	return s.Memory.Put(ctx, o, expected)
}

func TestUpdateStatus_RevisionConflictIsRetriedOnFreshRead(t *testing.T) {
	f := newFixture(t, func(m *store.Memory) store.Store { return &racingStore{Memory: m} })
	ctx := context.Background()
	o := f.create(t, 2)

	got, err := f.m.CancelOrder(ctx, o.ID, "c-1", "")
	require.NoError(t, err)

	assert.Equal(t, orders.StatusCancelled, got.Status)
	assert.Equal(t, int64(3), got.Revision)
	require.Len(t, got.Notes, 1, "the other writer's note survives")
	assert.Equal(t, 5, f.stock(t, "p-1"), "released once despite the retry")
}

func TestUpdateStatus_StoreFailureLeavesEverythingUntouched(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.create(t, 2)
	f.mem.SetFailure(errors.New("connection refused"))

	_, err := f.m.CancelOrder(ctx, o.ID, "c-1", "")
	require.ErrorIs(t, err, orders.ErrStoreUnavailable)

	assert.Equal(t, 3, f.stock(t, "p-1"), "released stock taken back")
	mirrored, err := f.mirror.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusPending, mirrored.Status)
	f.m.Wait()
	assert.Empty(t, f.sent.categories())
}

func TestUpdateStatus_AmbiguousWriteThatLandedSucceeds(t *testing.T) {
	f, ls := newLossyFixture(t)
	o := f.create(t, 2)
	ls.lossy.Store(true)

	got, err := f.m.CancelOrder(context.Background(), o.ID, "c-1", "")
	require.NoError(t, err)
	assert.Equal(t, orders.StatusCancelled, got.Status)
	assert.Equal(t, 5, f.stock(t, "p-1"))
}

func TestCancelOrder_LandedButUnreadableKeepsStockReleased(t *testing.T) {
	f, ls := newLossyFixture(t)
	ctx := context.Background()
	o := f.create(t, 2)
	ls.lossy.Store(true)
	ls.blind.Store(-1)

	_, err := f.m.CancelOrder(ctx, o.ID, "c-1", "")
	require.ErrorIs(t, err, orders.ErrStoreUnavailable)
	require.ErrorIs(t, err, errOutcomeUnknown)
	assert.Equal(t, 5, f.stock(t, "p-1"), "not reserved again for a cancelled order")
	assert.Equal(t, 10, f.stock(t, "p-2"))

	ls.heal()
	got, err := f.mem.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusCancelled, got.Status)

	_, err = f.m.CancelOrder(ctx, o.ID, "c-1", "")
	require.ErrorIs(t, err, orders.ErrInvalidTransition)
	assert.Equal(t, 5, f.stock(t, "p-1"))
	assert.Equal(t, 10, f.stock(t, "p-2"))
	assert.Empty(t, f.m.credits.get(o.ID))
}

func TestCancelOrder_UnwrittenAndUnreadableIsNotReleasedTwice(t *testing.T) {
	f, ls := newLossyFixture(t)
	ctx := context.Background()
	o := f.create(t, 2)
	ls.dropping.Store(true)
	ls.blind.Store(-1)

	_, err := f.m.CancelOrder(ctx, o.ID, "c-1", "")
	require.ErrorIs(t, err, errOutcomeUnknown)
	assert.Equal(t, 5, f.stock(t, "p-1"))

	ls.heal()
	got, err := f.m.CancelOrder(ctx, o.ID, "c-1", "")
	require.NoError(t, err)
	assert.Equal(t, orders.StatusCancelled, got.Status)
	assert.Equal(t, 5, f.stock(t, "p-1"))
	assert.Equal(t, 10, f.stock(t, "p-2"))
	assert.Empty(t, f.m.credits.get(o.ID))
}

func TestAddNote_TakesBackStockOfUnwrittenCancel(t *testing.T) {
	f, ls := newLossyFixture(t)
	ctx := context.Background()
	o := f.create(t, 2)
	ls.dropping.Store(true)
	ls.blind.Store(-1)

	_, err := f.m.CancelOrder(ctx, o.ID, "c-1", "")
	require.ErrorIs(t, err, errOutcomeUnknown)

	ls.heal()
	got, err := f.m.AddNote(ctx, o.ID, "ops", "customer kept the order")
	require.NoError(t, err)
	assert.Equal(t, orders.StatusPending, got.Status)
	assert.Equal(t, 3, f.stock(t, "p-1"))
	assert.Equal(t, 9, f.stock(t, "p-2"))
	assert.Empty(t, f.m.credits.get(o.ID))
}

// drainingStore sells the stock a cancel just released and bumps the
// revision, so taking the stock back fails and the cancel retries.
type drainingStore struct {
	*store.Memory
	ledger *inventory.MemoryLedger
	once   sync.Once
}

func (s *drainingStore) Put(ctx context.Context, o *orders.Order, expected int64) error {
	if expected > 0 {
		s.once.Do(func() {
			_ = s.ledger.Reserve(ctx, "p-1", 5)
			_, _ = s.Memory.Patch(ctx, o.ID, expected, store.Patch{
				AppendNotes: []orders.Note{{ActorID: "ops", Text: "stock audit", CreatedAt: t0}},
				UpdatedAt:   t0,
			})
		})
	}
	return s.Memory.Put(ctx, o, expected)
}

func TestCancelOrder_FailedCompensationIsNotReleasedAgain(t *testing.T) {
	var ds *drainingStore
	f := newFixture(t, func(m *store.Memory) store.Store {
		ds = &drainingStore{Memory: m}
		return ds
	})
	ds.ledger = f.ledger
	ctx := context.Background()
	o := f.create(t, 2)

	got, err := f.m.CancelOrder(ctx, o.ID, "c-1", "")
	require.NoError(t, err)
	assert.Equal(t, orders.StatusCancelled, got.Status)
	assert.Equal(t, int64(3), got.Revision)

	assert.Equal(t, 0, f.stock(t, "p-1"), "released once, then sold")
	assert.Equal(t, 10, f.stock(t, "p-2"))
	assert.Empty(t, f.m.credits.get(o.ID))
}

func TestUpdateStatus_UnknownOrder(t *testing.T) {
	f := newFixture(t)
	_, err := f.m.UpdateStatus(context.Background(), "nope", orders.StatusConfirmed, "v-1", "")
	assert.ErrorIs(t, err, orders.ErrNotFound)
}

func TestMirrorFailureDoesNotFailTheCaller(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.create(t, 1)
	f.mirror.SetFailure(errors.New("redis: connection pool timeout"))

	got, err := f.m.UpdateStatus(ctx, o.ID, orders.StatusConfirmed, "v-1", "")
	require.NoError(t, err)
	assert.Equal(t, orders.StatusConfirmed, got.Status)
	assert.Equal(t, 1, f.syncer.Pending())

	stale, err := f.mirror.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusPending, stale.Status)

	f.mirror.SetFailure(nil)
	assert.Equal(t, 0, f.syncer.Flush(ctx))
	fresh, err := f.mirror.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusConfirmed, fresh.Status)
}

func TestNotificationFailureIsSwallowed(t *testing.T) {
	f := newFixture(t)
	f.sent.fail = errors.New("broker down")

	o, err := f.m.CreateOrder(context.Background(), input("", item("p-1", "v-1", 1)))
	require.NoError(t, err)
	f.m.Wait()

	_, err = f.m.GetOrder(context.Background(), o.ID)
	assert.NoError(t, err)
}

func TestCancelOrder_RefundsCompletedPayment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.create(t, 1)

	paid, err := f.m.UpdatePaymentStatus(ctx, o.ID, PaymentUpdate{Status: orders.PaymentCompleted, TransactionID: "tx-1"})
	require.NoError(t, err)
	require.NotNil(t, paid.Payment.PaidAt)
	assert.Equal(t, orders.StatusPending, paid.Status)

	got, err := f.m.CancelOrder(ctx, o.ID, "c-1", "out of town")
	require.NoError(t, err)
	assert.Equal(t, orders.PaymentRefunded, got.Payment.Status)
	assert.Equal(t, got.Totals.GrandCents, got.Payment.RefundAmountCents)
	require.NotNil(t, got.Payment.RefundedAt)
	assert.Equal(t, "out of town", got.History[len(got.History)-1].Note)

	f.m.Wait()
	assert.ElementsMatch(t, []string{"c-1", "c-1", "v-1", "v-2"}, f.sent.categories()[notify.CategoryPaymentUpdated])
}

func TestCancelOrder_PendingPaymentIsNotRefunded(t *testing.T) {
	f := newFixture(t)
	o := f.create(t, 1)
	got, err := f.m.CancelOrder(context.Background(), o.ID, "c-1", "")
	require.NoError(t, err)
	assert.Equal(t, orders.PaymentPending, got.Payment.Status)
	assert.Nil(t, got.Payment.RefundedAt)
}

func TestUpdatePaymentStatus_ReplayIsNoop(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.create(t, 1)
	up := PaymentUpdate{Status: orders.PaymentCompleted, TransactionID: "tx-9", AmountCents: o.Totals.GrandCents}

	first, err := f.m.UpdatePaymentStatus(ctx, o.ID, up)
	require.NoError(t, err)
	again, err := f.m.UpdatePaymentStatus(ctx, o.ID, up)
	require.NoError(t, err)
	assert.Equal(t, first.Revision, again.Revision)
	assert.Equal(t, first.Payment.PaidAt, again.Payment.PaidAt)

	_, err = f.m.UpdatePaymentStatus(ctx, o.ID, PaymentUpdate{Status: "bounced"})
	assert.ErrorIs(t, err, orders.ErrValidation)
}

func TestUpdateShippingStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.create(t, 1)
	eta := t0.Add(72 * time.Hour)

	got, err := f.m.UpdateShippingStatus(ctx, o.ID, ShippingUpdate{
		Status: orders.ShippingInTransit, Carrier: "aramex", TrackingID: "TRK-1", EstimatedDelivery: &eta,
	})
	require.NoError(t, err)
	assert.Equal(t, orders.StatusPending, got.Status, "shipping never moves the order status")
	assert.Equal(t, "TRK-1", got.Shipping.TrackingID)
	assert.Equal(t, eta, *got.Shipping.EstimatedDelivery)

	got, err = f.m.UpdateShippingStatus(ctx, o.ID, ShippingUpdate{Status: orders.ShippingDelivered})
	require.NoError(t, err)
	assert.Equal(t, "aramex", got.Shipping.Carrier)
	assert.NotNil(t, got.Shipping.ActualDelivery)

	f.m.Wait()
	assert.Len(t, f.sent.categories()[notify.CategoryShippingUpdated], 2)
}

func TestUpdateShippingStatus_TerminalOrderRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.create(t, 1)
	_, err := f.m.CancelOrder(ctx, o.ID, "c-1", "")
	require.NoError(t, err)

	_, err = f.m.UpdateShippingStatus(ctx, o.ID, ShippingUpdate{Status: orders.ShippingInTransit})
	assert.ErrorIs(t, err, orders.ErrOrderTerminal)
}

func TestAddNote(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.create(t, 1)

	got, err := f.m.AddNote(ctx, o.ID, "v-1", "  gift wrap please ")
	require.NoError(t, err)
	require.Len(t, got.Notes, 1)
	assert.Equal(t, "gift wrap please", got.Notes[0].Text)
	assert.Equal(t, int64(2), got.Revision)

	_, err = f.m.AddNote(ctx, o.ID, "v-1", " ")
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, map[string]string{"note": "required"}, ve.Fields)
}

func TestListOrders(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.create(t, 1)
	b := f.create(t, 1)
	_, err := f.m.UpdateStatus(ctx, a.ID, orders.StatusConfirmed, "v-1", "")
	require.NoError(t, err)

	all, err := f.m.ListOrders(ctx, store.Filter{VendorID: "v-2"})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, b.ID, all[0].ID, "newest first")

	confirmed, err := f.m.ListOrders(ctx, store.Filter{Status: orders.StatusConfirmed})
	require.NoError(t, err)
	require.Len(t, confirmed, 1)
	assert.Equal(t, a.ID, confirmed[0].ID)
}

func TestRebuildMirror(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.mirror.SetFailure(errors.New("down"))
	o := f.create(t, 1)
	f.mirror.SetFailure(nil)

	_, err := f.mirror.Get(ctx, o.ID)
	require.ErrorIs(t, err, orders.ErrNotFound)

	n, err := f.m.RebuildMirror(ctx, store.Filter{})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 0, f.syncer.Pending())
	_, err = f.mirror.Get(ctx, o.ID)
	assert.NoError(t, err)
}

func TestSubscribersSeeEveryChange(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	h := hub.New(f.mirror, zap.NewNop())
	require.NoError(t, h.Start(ctx))
	defer h.Close()
	o := f.create(t, 1)

	early, err := h.SubscribeOrder(ctx, o.ID)
	require.NoError(t, err)
	defer early.Close()
	assert.Equal(t, orders.StatusPending, recv(t, early).Orders[0].Status)

	_, err = f.m.UpdateStatus(ctx, o.ID, orders.StatusConfirmed, "v-1", "")
	require.NoError(t, err)
	u := recv(t, early)
	assert.False(t, u.Snapshot)
	assert.Equal(t, orders.StatusConfirmed, u.Orders[0].Status)

	late, err := h.SubscribeVendorOrders(ctx, "v-1")
	require.NoError(t, err)
	defer late.Close()
	u = recv(t, late)
	assert.True(t, u.Snapshot)
	require.Len(t, u.Orders, 1)
	assert.Equal(t, orders.StatusConfirmed, u.Orders[0].Status)
}

func recv(t *testing.T, st *hub.Stream) hub.Update {
	t.Helper()
	select {
	case u, ok := <-st.C:
		require.True(t, ok)
		return u
	case <-time.After(2 * time.Second):
		t.Fatal("no update")
		return hub.Update{}
	}
}
