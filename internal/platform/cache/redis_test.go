package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

type payload struct {
	Name  string  `json:"name"`
	Total float64 `json:"total"`
}

func newTestCache(t *testing.T) (*TTLCache, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewTTLCache(client, time.Minute), srv
}

func TestFetchJSONPopulatesAndServesFromCache(t *testing.T) {
	ctx := context.Background()
	cache, srv := newTestCache(t)

	calls := 0
	loader := func(context.Context) (any, error) {
		calls++
		return payload{Name: "summary", Total: 42.5}, nil
	}

	var got payload
	require.NoError(t, cache.FetchJSON(ctx, "k1", &got, loader))
	require.Equal(t, payload{Name: "summary", Total: 42.5}, got)
	require.Equal(t, 1, calls)
	require.True(t, srv.Exists("k1"))

	var cached payload
	require.NoError(t, cache.FetchJSON(ctx, "k1", &cached, loader))
	require.Equal(t, got, cached)
	require.Equal(t, 1, calls, "second fetch must hit the cache")
}

func TestFetchJSONExpiry(t *testing.T) {
	ctx := context.Background()
	cache, srv := newTestCache(t)

	calls := 0
	loader := func(context.Context) (any, error) {
		calls++
		return payload{Name: "v", Total: float64(calls)}, nil
	}

	var got payload
	require.NoError(t, cache.FetchJSON(ctx, "k1", &got, loader))
	srv.FastForward(2 * time.Minute)

	require.NoError(t, cache.FetchJSON(ctx, "k1", &got, loader))
	require.Equal(t, 2, calls, "expired key must reload")
	require.Equal(t, 2.0, got.Total)
}

func TestFetchJSONLoaderError(t *testing.T) {
	ctx := context.Background()
	cache, srv := newTestCache(t)

	boom := errors.New("boom")
	var got payload
	err := cache.FetchJSON(ctx, "k1", &got, func(context.Context) (any, error) {
		return nil, boom
	})
	require.ErrorIs(t, err, boom)
	require.False(t, srv.Exists("k1"), "failed loads must not be cached")
}

func TestInvalidate(t *testing.T) {
	ctx := context.Background()
	cache, srv := newTestCache(t)

	var got payload
	require.NoError(t, cache.FetchJSON(ctx, "k1", &got, func(context.Context) (any, error) {
		return payload{Name: "x"}, nil
	}))
	require.True(t, srv.Exists("k1"))

	require.NoError(t, cache.Invalidate(ctx, "k1"))
	require.False(t, srv.Exists("k1"))
}

func TestNilCacheDegradesToLoader(t *testing.T) {
	ctx := context.Background()

	var nilCache *TTLCache
	var got payload
	require.NoError(t, nilCache.FetchJSON(ctx, "k1", &got, func(context.Context) (any, error) {
		return payload{Name: "direct", Total: 7}, nil
	}))
	require.Equal(t, payload{Name: "direct", Total: 7}, got)
	require.NoError(t, nilCache.Invalidate(ctx, "k1"))
}
