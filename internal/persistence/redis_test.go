package persistence

import (
	"context"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T, quota int) (*RedisBackend, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	backend, err := NewRedisBackend("redis://"+s.Addr(), "", quota)
	require.NoError(t, err)
	t.Cleanup(func() { backend.Close() })
	return backend, s
}

func TestRedisBackend_GetSetRemove(t *testing.T) {
	backend, s := setupTestRedis(t, 0)
	ctx := context.Background()

	_, err := backend.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, backend.Set(ctx, "current_day", `"day2"`))
	v, err := backend.Get(ctx, "current_day")
	require.NoError(t, err)
	assert.Equal(t, `"day2"`, v)

	raw, err := s.Get("tripsync:current_day")
	require.NoError(t, err)
	assert.Equal(t, `"day2"`, raw, "stored under prefix")

	require.NoError(t, backend.Remove(ctx, "current_day"))
	_, err = backend.Get(ctx, "current_day")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisBackend_KeysScopedToPrefix(t *testing.T) {
	backend, s := setupTestRedis(t, 0)
	ctx := context.Background()

	require.NoError(t, s.Set("someone-else", "x"))
	require.NoError(t, backend.Set(ctx, "b", "1"))
	require.NoError(t, backend.Set(ctx, "a", "2"))

	keys, err := backend.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, keys)
}

func TestRedisBackend_Quota(t *testing.T) {
	backend, _ := setupTestRedis(t, 32)
	ctx := context.Background()

	require.NoError(t, backend.Set(ctx, "k", strings.Repeat("x", 20)))
	require.NoError(t, backend.Set(ctx, "k", strings.Repeat("y", 30)), "overwrite frees the old value")

	err := backend.Set(ctx, "other", "zzzz")
	assert.ErrorIs(t, err, ErrQuotaExceeded)
}

func TestRedisBackend_WithLocal(t *testing.T) {
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	backend := NewRedisBackendWithClient(client, "trip:", 0)
	defer backend.Close()

	ctx := context.Background()
	local := NewLocal(backend, zerolog.Nop())

	_, err := local.SaveDocument(ctx, testDoc())
	require.NoError(t, err)
	assert.False(t, s.Exists("trip:"+CanaryKey), "canary removed")

	loaded := local.LoadDocument(ctx)
	require.NotNil(t, loaded)
	assert.Equal(t, "Kansai", loaded.Title)
}
