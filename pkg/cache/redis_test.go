package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wyfcoding/investportal/pkg/logger"
)

func newTestCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewFromClient(client, logger.Discard()), mr
}

func TestJSONRoundTripAndMiss(t *testing.T) {
	rc, mr := newTestCache(t)
	ctx := context.Background()

	type payload struct {
		ID     string `json:"id"`
		Amount string `json:"amount"`
	}

	var got payload
	assert.ErrorIs(t, rc.GetJSON(ctx, "escrow:account:missing", &got), ErrMiss)

	require.NoError(t, rc.SetJSON(ctx, "escrow:account:a1", payload{ID: "a1", Amount: "100"}, time.Minute))
	require.NoError(t, rc.GetJSON(ctx, "escrow:account:a1", &got))
	assert.Equal(t, "a1", got.ID)

	mr.FastForward(2 * time.Minute)
	assert.ErrorIs(t, rc.GetJSON(ctx, "escrow:account:a1", &got), ErrMiss)
}

func TestDelete(t *testing.T) {
	rc, mr := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, rc.SetJSON(ctx, "k", 1, 0))
	require.NoError(t, rc.Delete(ctx, "k"))
	assert.False(t, mr.Exists("k"))
	require.NoError(t, rc.Delete(ctx))
}
