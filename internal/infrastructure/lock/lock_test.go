package lock

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNoop(t *testing.T) {
	t.Parallel()

	release, ok, err := Noop{}.TryLock(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, release(context.Background()))
}

func TestKeyFor(t *testing.T) {
	t.Parallel()

	assert.Equal(t, KeyFor("tendersync"), KeyFor("tendersync"))
	assert.NotEqual(t, KeyFor("tendersync"), KeyFor("tendersync-other"))
}

func TestRedis_ExclusiveAndReleasable(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}

	ctx := context.Background()
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })

	key := "tendersync:test:" + uuid.NewString()
	first := NewRedis(client, key, time.Minute)
	second := NewRedis(client, key, time.Minute)

	release, ok, err := first.TryLock(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = second.TryLock(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "second holder must yield")

	require.NoError(t, release(ctx))

	release, ok, err = second.TryLock(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, release(ctx))
}
