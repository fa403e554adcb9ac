package redisx

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClaim(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := New(mr.Addr())
	ctx := context.Background()
	require.NoError(t, Ping(ctx, rdb))

	key := fmt.Sprintf(KeyDedup, "payments", "evt-1")
	won, err := Claim(ctx, rdb, key, TTLDedup)
	require.NoError(t, err)
	assert.True(t, won)

	won, err = Claim(ctx, rdb, key, TTLDedup)
	require.NoError(t, err)
	assert.False(t, won)

	mr.FastForward(TTLDedup + time.Second)
	won, err = Claim(ctx, rdb, key, TTLDedup)
	require.NoError(t, err)
	assert.True(t, won)
}
