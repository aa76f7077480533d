package distance

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orderflow/internal/types"
)

func setupRedis(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("ORDER_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("ORDER_TEST_REDIS_ADDR not set; skipping Redis-backed cache tests")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = rdb.Close() })
	require.NoError(t, rdb.FlushDB(context.Background()).Err())
	return rdb
}

func TestCached_SecondCallServedFromRedis(t *testing.T) {
	rdb := setupRedis(t)
	var calls atomic.Int32
	upstream := ProviderFunc(func(context.Context, []types.Point) ([]int64, error) {
		calls.Add(1)
		return []int64{1200, 3800}, nil
	})
	c := NewCached(upstream, rdb, time.Minute, time.Second, logrus.New())
	ctx := context.Background()

	first, err := c.Legs(ctx, trip)
	require.NoError(t, err)
	second, err := c.Legs(ctx, trip)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), calls.Load())

	ttl, err := rdb.TTL(ctx, legKeys(trip)[0]).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
}

func TestCached_PartialHitRefetchesWholeTrip(t *testing.T) {
	rdb := setupRedis(t)
	ctx := context.Background()
	require.NoError(t, rdb.Set(ctx, legKeys(trip)[0], 999, time.Minute).Err())

	var calls atomic.Int32
	upstream := ProviderFunc(func(context.Context, []types.Point) ([]int64, error) {
		calls.Add(1)
		return []int64{1200, 3800}, nil
	})
	legs, err := NewCached(upstream, rdb, time.Minute, time.Second, logrus.New()).Legs(ctx, trip)
	require.NoError(t, err)
	assert.Equal(t, []int64{1200, 3800}, legs)
	assert.Equal(t, int32(1), calls.Load())
}

func TestCached_ConcurrentMissesShareOneUpstreamCall(t *testing.T) {
	rdb := setupRedis(t)
	var calls atomic.Int32
	gate := make(chan struct{})
	upstream := ProviderFunc(func(context.Context, []types.Point) ([]int64, error) {
		calls.Add(1)
		<-gate
		return []int64{1200, 3800}, nil
	})
	c := NewCached(upstream, rdb, time.Minute, time.Second, logrus.New())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			legs, err := c.Legs(context.Background(), trip)
			assert.NoError(t, err)
			assert.Equal(t, []int64{1200, 3800}, legs)
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(gate)
	wg.Wait()

	assert.LessOrEqual(t, calls.Load(), int32(2))
}

// unreachableRedis fails every command immediately, so the cache degrades to
// pass-through and the flight sharing can be tested without a server.
func unreachableRedis(t *testing.T) *redis.Client {
	t.Helper()
	rdb := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func TestCached_CancelledCallerDoesNotFailSharedFetch(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int32
	upstream := ProviderFunc(func(ctx context.Context, _ []types.Point) ([]int64, error) {
		if calls.Add(1) == 1 {
			close(entered)
		}
		select {
		case <-release:
			return []int64{1200, 3800}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})
	c := NewCached(upstream, unreachableRedis(t), time.Minute, 5*time.Second, logrus.New())

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := c.Legs(firstCtx, trip)
		firstErr <- err
	}()
	<-entered

	type result struct {
		legs []int64
		err  error
	}
	second := make(chan result, 1)
	go func() {
		legs, err := c.Legs(context.Background(), trip)
		second <- result{legs, err}
	}()
	// Let the second caller join the in-flight fetch before the first leaves.
	time.Sleep(100 * time.Millisecond)

	cancelFirst()
	require.ErrorIs(t, <-firstErr, context.Canceled)

	close(release)
	got := <-second
	require.NoError(t, got.err)
	assert.Equal(t, []int64{1200, 3800}, got.legs)
	assert.Equal(t, int32(1), calls.Load())
}

func TestCached_SharedFetchIsBoundedByFetchTimeout(t *testing.T) {
	upstream := ProviderFunc(func(ctx context.Context, _ []types.Point) ([]int64, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	c := NewCached(upstream, unreachableRedis(t), time.Minute, 50*time.Millisecond, logrus.New())

	start := time.Now()
	_, err := c.Legs(context.Background(), trip)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)
}
