package mirror

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/AmrNabih-hub/Souk-El-Syarat-sub003/internal/orders"
	"github.com/AmrNabih-hub/Souk-El-Syarat-sub003/internal/store"
	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func fastBackOff() backoff.BackOff { return backoff.NewConstantBackOff(5 * time.Millisecond) }

func TestSyncer_QueuesAndRetries(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := NewMemory()
	s := NewSyncer(m, zaptest.NewLogger(t), WithBackOff(fastBackOff))
	m.SetFailure(errors.New("connection refused"))

	err := s.Sync(ctx, sampleOrder("o-1", "c-1", t0, 1, "v-1"))
	assert.ErrorIs(t, err, orders.ErrMirrorSyncFailed)
	assert.Equal(t, 1, s.Pending())

	_ = s.Sync(ctx, sampleOrder("o-1", "c-1", t0, 2, "v-1"))
	_ = s.Sync(ctx, sampleOrder("o-2", "c-1", t0, 1, "v-1"))
	assert.Equal(t, 2, s.Pending(), "one entry per order")

	done := make(chan struct{})
	go func() {
		_ = s.Run(ctx)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 2, s.Pending(), "still failing")

	m.SetFailure(nil)
	require.Eventually(t, func() bool { return s.Pending() == 0 }, 2*time.Second, 5*time.Millisecond)

	got, err := m.Get(ctx, "o-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Revision, "latest queued revision wins")

	cancel()
	<-done
}

func TestSyncer_SuccessClearsOlderQueuedRevision(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	s := NewSyncer(m, nil)

	m.SetFailure(errors.New("down"))
	_ = s.Sync(ctx, sampleOrder("o-1", "c-1", t0, 1, "v-1"))
	m.SetFailure(nil)

	require.NoError(t, s.Sync(ctx, sampleOrder("o-1", "c-1", t0, 2, "v-1")))
	assert.Equal(t, 0, s.Pending())
}

func TestSyncer_Rebuild(t *testing.T) {
	ctx := context.Background()
	src := store.NewMemory()
	for _, o := range []*orders.Order{
		sampleOrder("o-1", "c-1", t0, 0, "v-1"),
		sampleOrder("o-2", "c-2", t0.Add(time.Hour), 0, "v-2"),
	} {
		require.NoError(t, src.Put(ctx, o, 0))
	}

	m := NewMemory()
	s := NewSyncer(m, zaptest.NewLogger(t))
	n, err := s.Rebuild(ctx, src, store.Filter{})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	list, err := m.Query(ctx, store.Filter{})
	require.NoError(t, err)
	assert.Equal(t, []string{"o-2", "o-1"}, ids(list))

	n, err = s.Rebuild(ctx, src, store.Filter{CustomerID: "c-1"})
	require.NoError(t, err)
	assert.Equal(t, 1, n, "same revision is rewritten")

	m.SetFailure(errors.New("down"))
	_, err = s.Rebuild(ctx, src, store.Filter{})
	assert.ErrorIs(t, err, orders.ErrMirrorSyncFailed)
}
