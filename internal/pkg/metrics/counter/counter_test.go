package counter

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebhookCounter(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	ctx := context.Background()
	c := NewWebhookCounter(client)

	require.NoError(t, c.Add(ctx, "card", OutcomeProcessed))
	require.NoError(t, c.Add(ctx, "Card", OutcomeProcessed))
	require.NoError(t, c.Add(ctx, "card", OutcomeDuplicate))
	require.NoError(t, c.Add(ctx, "wallet", OutcomeInvalidSignature))

	snap, err := c.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), snap["card"][OutcomeProcessed])
	assert.Equal(t, int64(1), snap["card"][OutcomeDuplicate])
	assert.Equal(t, int64(1), snap["wallet"][OutcomeInvalidSignature])

	drained, err := c.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, snap, drained)

	snap, err = c.Snapshot(ctx)
	require.NoError(t, err)
	assert.Empty(t, snap)

	drained, err = c.Drain(ctx)
	require.NoError(t, err)
	assert.Empty(t, drained)
}

func TestNilWebhookCounter(t *testing.T) {
	var c *WebhookCounter
	assert.NoError(t, c.Add(context.Background(), "card", OutcomeError))
	snap, err := c.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Empty(t, snap)
}
