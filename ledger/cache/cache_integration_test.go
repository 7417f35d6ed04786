//go:build integration

package cache

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"

	"github.com/pilacorp/go-identity-sdk/ledger/memledger"
)

func newRedis(t *testing.T) *redis.Client {
	t.Helper()
	ctx := context.Background()

	container, err := tcredis.Run(ctx, "redis:7-alpine")
	testcontainers.CleanupContainer(t, container)
	require.NoError(t, err, "failed to start redis container")

	addr, err := container.ConnectionString(ctx)
	require.NoError(t, err)

	opts, err := redis.ParseURL(addr)
	require.NoError(t, err)

	client := redis.NewClient(opts)
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.Ping(ctx).Err())

	return client
}

func TestRedisReadThrough(t *testing.T) {
	ctx := context.Background()
	client := newRedis(t)

	l := memledger.New()
	published := publish(t, l)

	next := &countingResolver{next: l}
	r, err := NewResolver(next, Config{Store: client, TTL: time.Minute})
	require.NoError(t, err)

	for range 2 {
		doc, err := r.Resolve(ctx, published.ID())
		require.NoError(t, err)
		assert.Equal(t, published.ID(), doc.ID())
	}
	assert.Equal(t, int32(1), next.calls.Load())

	ttl, err := client.TTL(ctx, DefaultKeyPrefix+published.ID().String()).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
	assert.LessOrEqual(t, ttl, time.Minute)

	r.Invalidate(ctx, published.ID())
	exists, err := client.Exists(ctx, DefaultKeyPrefix+published.ID().String()).Result()
	require.NoError(t, err)
	assert.Zero(t, exists)
}
