package redisstore_test

import (
	"context"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/boddenberg/esim-fleet-bfa/internal/infra/redisstore"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// testRedis connects to REDIS_TEST_URL and skips when it is not set or unreachable.
func testRedis(t *testing.T) *redis.Client {
	t.Helper()
	url := os.Getenv("REDIS_TEST_URL")
	if url == "" {
		t.Skip("REDIS_TEST_URL not set")
	}
	rdb, err := redisstore.Connect(context.Background(), url)
	if err != nil {
		t.Skipf("redis unavailable: %v", err)
	}
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func uniqueSuffix() string {
	return strconv.FormatInt(time.Now().UnixNano(), 36)
}

func TestIdempotencyKeys_ReserveOnce(t *testing.T) {
	rdb := testRedis(t)
	keys := redisstore.NewIdempotencyKeys(rdb)
	ctx := context.Background()
	key := "assign:test:" + uniqueSuffix()

	ok, err := keys.Reserve(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = keys.Reserve(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, keys.Release(ctx, key))
	ok, err = keys.Reserve(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, keys.Release(ctx, key))
}

func TestCancelMarks_RoundTrip(t *testing.T) {
	rdb := testRedis(t)
	marks := redisstore.NewCancelMarks(rdb, time.Minute, zap.NewNop())
	ctx := context.Background()

	employeeID := time.Now().UnixNano() % 1_000_000_000
	at := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, marks.Mark(ctx, employeeID, 42, at))
	require.NoError(t, marks.Mark(ctx, employeeID, 43, at.Add(time.Second)))

	got, err := marks.Marks(ctx, employeeID, employeeID+1)
	require.NoError(t, err)

	ts, ok := got.CancelledAt(employeeID, 42)
	require.True(t, ok)
	assert.True(t, at.Equal(ts))
	_, ok = got.CancelledAt(employeeID, 43)
	assert.True(t, ok)
	_, ok = got.CancelledAt(employeeID+1, 42)
	assert.False(t, ok)

	ttl, err := rdb.TTL(ctx, "esim:cancelled:"+strconv.FormatInt(employeeID, 10)).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
}
