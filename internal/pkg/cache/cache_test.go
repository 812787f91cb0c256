package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/ManuelReschke/subsync/app/models"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscriptionKey(t *testing.T) {
	assert.Equal(t, "subsync:subscription:user-1", SubscriptionKey("user-1"))
}

func TestEntryRoundTripKeepsNullMarker(t *testing.T) {
	raw, err := encodeEntry(nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"subscription":null}`, string(raw))

	sub, err := decodeEntry(raw)
	require.NoError(t, err)
	assert.Nil(t, sub)

	_, err = decodeEntry([]byte("{"))
	assert.Error(t, err)
}

func TestEntryRoundTripKeepsSnapshot(t *testing.T) {
	end := int64(1_760_000_000)
	price := "price_123"
	in := &models.BillingSubscription{
		CustomerID:       "cus_1",
		Status:           models.BillingStatusActive,
		PriceID:          &price,
		CurrentPeriodEnd: &end,
	}

	raw, err := encodeEntry(in)
	require.NoError(t, err)
	out, err := decodeEntry(raw)
	require.NoError(t, err)

	assert.True(t, in.SameSnapshot(out))
}

// TestSubscriptionCacheAgainstRedis runs only when TEST_REDIS_ADDR points at
// a disposable Redis instance.
func TestSubscriptionCacheAgainstRedis(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	client := redis.NewClient(&redis.Options{Addr: addr, DB: 15})
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.Ping(ctx).Err())

	c := NewSubscriptionCache(client, time.Minute)
	userID := "cache-test-user"
	t.Cleanup(func() { _ = c.Invalidate(ctx, userID) })

	_, hit, err := c.Get(ctx, userID)
	require.NoError(t, err)
	assert.False(t, hit)

	require.NoError(t, c.Set(ctx, userID, nil))
	sub, hit, err := c.Get(ctx, userID)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Nil(t, sub)

	ttl, err := client.TTL(ctx, SubscriptionKey(userID)).Result()
	require.NoError(t, err)
	assert.True(t, ttl > 0 && ttl <= time.Minute)

	// a fill never replaces an entry a writer stored
	price := "price_stale"
	stale := &models.BillingSubscription{CustomerID: "cus_1", Status: models.BillingStatusActive, PriceID: &price}
	require.NoError(t, c.Fill(ctx, userID, stale))
	sub, hit, err = c.Get(ctx, userID)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Nil(t, sub)

	require.NoError(t, c.Invalidate(ctx, userID))
	_, hit, err = c.Get(ctx, userID)
	require.NoError(t, err)
	assert.False(t, hit)

	require.NoError(t, c.Fill(ctx, userID, stale))
	sub, hit, err = c.Get(ctx, userID)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.True(t, stale.SameSnapshot(sub))
}
