package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/davidleathers/dependable-auction-exchange-backend/internal/domain/listing"
	"github.com/davidleathers/dependable-auction-exchange-backend/internal/domain/values"
)

func newTestClient(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client, mr
}

func TestRedisCache_GetSet(t *testing.T) {
	client, _ := newTestClient(t)
	c := NewRedisCache(client, zaptest.NewLogger(t))
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", "v", time.Minute))
	got, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", got)

	_, err = c.Get(ctx, "missing")
	assert.ErrorAs(t, err, &ErrKeyNotFound{})

	require.NoError(t, c.Delete(ctx, "k"))
	_, err = c.Get(ctx, "k")
	assert.Error(t, err)
}

func TestRedisCache_JSONRoundTrip(t *testing.T) {
	client, _ := newTestClient(t)
	c := NewRedisCache(client, zaptest.NewLogger(t))
	ctx := context.Background()

	in := map[string]int64{"current_price": 1500}
	require.NoError(t, c.SetJSON(ctx, "snap", in, time.Minute))

	var out map[string]int64
	require.NoError(t, c.GetJSON(ctx, "snap", &out))
	assert.Equal(t, in, out)
}

func TestRateLimiter_SlidingWindow(t *testing.T) {
	client, _ := newTestClient(t)
	rl := NewRedisRateLimiter(client, zaptest.NewLogger(t))
	ctx := context.Background()

	bidder := uuid.NewString()
	for i := 0; i < 3; i++ {
		ok, err := rl.Allow(ctx, bidder, 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, ok, "request %d should be allowed", i+1)
	}

	ok, err := rl.Allow(ctx, bidder, 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "fourth request should be limited")

	remaining, err := rl.Remaining(ctx, bidder, 3, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 0, remaining)

	// a different bidder has a separate window
	ok, err = rl.Allow(ctx, uuid.NewString(), 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, rl.Reset(ctx, bidder))
	ok, err = rl.Allow(ctx, bidder, 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestListingCache_BrowseRoundTrip(t *testing.T) {
	client, mr := newTestClient(t)
	lc := NewListingCache(NewRedisCache(client, zaptest.NewLogger(t)), zaptest.NewLogger(t))
	ctx := context.Background()

	_, hit := lc.GetBrowse(ctx, listing.StatusActive, 10)
	assert.False(t, hit)

	l, err := listing.NewListing(uuid.New(), "Walnut desk", "",
		values.NewMoneyFromCents(5000), time.Now().Add(time.Hour), time.Now())
	require.NoError(t, err)

	lc.PutBrowse(ctx, listing.StatusActive, 10, []*listing.Listing{l})

	got, hit := lc.GetBrowse(ctx, listing.StatusActive, 10)
	require.True(t, hit)
	require.Len(t, got, 1)
	assert.Equal(t, l.ID, got[0].ID)
	assert.Equal(t, int64(5000), got[0].StartPrice.Cents())

	// entries age out
	mr.FastForward(BrowseTTL + time.Second)
	_, hit = lc.GetBrowse(ctx, listing.StatusActive, 10)
	assert.False(t, hit)
}
