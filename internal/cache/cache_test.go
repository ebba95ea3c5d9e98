package cache

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twamm-labs/twamm/backend/internal/config"
)

type pairSummary struct {
	ID  string  `json:"id"`
	Fee float64 `json:"fee"`
}

func TestGetCachesUntilTTL(t *testing.T) {
	store := NewMemoryStore()
	now := time.Unix(1_000, 0)
	store.now = func() time.Time { return now }
	c := New(store, 10*time.Second, nil)

	var calls int
	fetch := func(context.Context) (pairSummary, error) {
		calls++
		return pairSummary{ID: "a-b", Fee: float64(calls)}, nil
	}

	first, err := Get(context.Background(), c, "pair:a-b", 0, fetch)
	require.NoError(t, err)
	second, err := Get(context.Background(), c, "pair:a-b", 0, fetch)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, calls)

	now = now.Add(10 * time.Second)
	third, err := Get(context.Background(), c, "pair:a-b", 0, fetch)
	require.NoError(t, err)
	assert.Equal(t, 2.0, third.Fee)
	assert.Equal(t, 2, calls)
}

func TestGetDedupesConcurrentMisses(t *testing.T) {
	c := New(NewMemoryStore(), time.Minute, nil)

	var calls atomic.Int32
	release := make(chan struct{})
	started := make(chan struct{})
	var once sync.Once
	fetch := func(context.Context) ([]string, error) {
		calls.Add(1)
		once.Do(func() { close(started) })
		<-release
		return []string{"pool-1", "pool-2"}, nil
	}

	const callers = 8
	var wg sync.WaitGroup
	results := make([][]string, callers)
	errs := make([]error, callers)
	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0], errs[0] = Get(context.Background(), c, "pools", 0, fetch)
	}()
	<-started
	for i := 1; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = Get(context.Background(), c, "pools", 0, fetch)
		}(i)
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for i := range results {
		require.NoError(t, errs[i])
		assert.Equal(t, []string{"pool-1", "pool-2"}, results[i])
	}
	results[0][0] = "mutated"
	assert.Equal(t, "pool-1", results[1][0], "callers get independent copies")
}

func TestGetDoesNotCacheErrors(t *testing.T) {
	c := New(NewMemoryStore(), time.Minute, nil)
	rpcErr := errors.New("rpc unavailable")

	_, err := Get(context.Background(), c, "multisig", 0, func(context.Context) (int, error) {
		return 0, rpcErr
	})
	assert.ErrorIs(t, err, rpcErr)

	value, err := Get(context.Background(), c, "multisig", 0, func(context.Context) (int, error) {
		return 7, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 7, value)
}

func TestInvalidateForcesRefetch(t *testing.T) {
	c := New(NewMemoryStore(), time.Minute, nil)
	var calls int
	fetch := func(context.Context) (int, error) {
		calls++
		return calls, nil
	}

	_, err := Get(context.Background(), c, "orders:owner", 0, fetch)
	require.NoError(t, err)
	c.Invalidate(context.Background(), "orders:owner")
	value, err := Get(context.Background(), c, "orders:owner", 0, fetch)
	require.NoError(t, err)
	assert.Equal(t, 2, value)
}

func TestMemoryStoreRejectsEmptyKey(t *testing.T) {
	assert.ErrorIs(t, NewMemoryStore().Set(context.Background(), "", []byte("x"), time.Second), errEmptyKey)
}

func TestOpenSelectsBackend(t *testing.T) {
	c, closeFn, err := Open(context.Background(), config.CacheConfig{Backend: "memory", TTL: time.Second}, nil)
	require.NoError(t, err)
	assert.Equal(t, time.Second, c.TTL())
	assert.NoError(t, closeFn())

	_, _, err = Open(context.Background(), config.CacheConfig{Backend: "memcached"}, nil)
	assert.Error(t, err)
}

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("TWAMM_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TWAMM_TEST_REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })

	ctx := context.Background()
	store := NewRedisStore(client, "twamm-test")
	t.Cleanup(func() { _ = store.Delete(ctx, "pair") })

	_, ok, err := store.Get(ctx, "pair")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Set(ctx, "pair", []byte(`{"id":"a-b"}`), time.Minute))
	value, ok, err := store.Get(ctx, "pair")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.JSONEq(t, `{"id":"a-b"}`, string(value))

	ttl, err := client.TTL(ctx, "twamm-test:pair").Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
}
