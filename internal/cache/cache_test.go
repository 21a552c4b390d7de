package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	return NewRedisCache(rdb, "test:rt:"), mr
}

func TestRedisCache_SetGet(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c, mr := newTestCache(t)

	exp := time.Now().Add(time.Hour).Truncate(time.Second).UTC()
	require.NoError(t, c.Set(ctx, "h1", &RefreshEntry{UserID: 42, ExpiresAt: exp}, time.Hour))

	e, ok, err := c.Get(ctx, "h1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(42), e.UserID)
	require.False(t, e.Revoked)
	require.True(t, exp.Equal(e.ExpiresAt))

	require.True(t, mr.Exists("test:rt:h1"))
	require.Equal(t, time.Hour, mr.TTL("test:rt:h1"))

	mr.FastForward(2 * time.Hour)
	_, ok, err = c.Get(ctx, "h1")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRedisCache_KeepsSubSecondExpiry(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c, _ := newTestCache(t)

	exp := time.Date(2025, 1, 8, 12, 0, 0, 123_456_789, time.UTC)
	require.NoError(t, c.Set(ctx, "h2", &RefreshEntry{UserID: 1, ExpiresAt: exp}, time.Hour))

	e, ok, err := c.Get(ctx, "h2")
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, exp.Equal(e.ExpiresAt), e.ExpiresAt)
}

func TestRedisCache_MarkRevoked(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c, mr := newTestCache(t)

	require.NoError(t, c.Set(ctx, "h1", &RefreshEntry{UserID: 1, ExpiresAt: time.Now().Add(time.Hour)}, time.Hour))
	require.NoError(t, c.MarkRevoked(ctx, "h1"))

	e, ok, err := c.Get(ctx, "h1")
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, e.Revoked)
	require.Equal(t, time.Hour, mr.TTL("test:rt:h1"))

	// отсутствующий ключ не создается
	require.NoError(t, c.MarkRevoked(ctx, "missing"))
	require.False(t, mr.Exists("test:rt:missing"))
}

func TestRedisCache_CorruptedEntry(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c, mr := newTestCache(t)

	mr.HSet("test:rt:bad", "uid", "not-a-number", "exp", "1")
	_, _, err := c.Get(ctx, "bad")
	require.Error(t, err)
}

func TestDial(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	rdb, err := Dial(context.Background(), "redis://"+mr.Addr()+"/0")
	require.NoError(t, err)
	require.NoError(t, rdb.Close())

	_, err = Dial(context.Background(), "::not a url::")
	require.Error(t, err)
}
