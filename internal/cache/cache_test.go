package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type payload struct {
	Items []string `json:"items"`
}

func TestGetOrFetch_FetchesOnceWithinTTL(t *testing.T) {
	c := New(NewMemoryStore(100), nil, nil)
	ctx := context.Background()

	calls := 0
	fetch := func(ctx context.Context) (payload, error) {
		calls++
		return payload{Items: []string{"a", "b"}}, nil
	}

	first, cached, err := GetOrFetch(ctx, c, "k", time.Minute, fetch)
	require.NoError(t, err)
	assert.False(t, cached)

	second, cached, err := GetOrFetch(ctx, c, "k", time.Minute, fetch)
	require.NoError(t, err)
	assert.True(t, cached)

	assert.Equal(t, 1, calls)
	assert.Equal(t, first, second)
	assert.Equal(t, int64(1), c.Stats().Hits)
	assert.Equal(t, int64(1), c.Stats().Writes)
	require.NotNil(t, c.Stats().Entries)
	assert.Equal(t, 1, *c.Stats().Entries)
}

func TestGetOrFetch_ExpiredEntryRefetches(t *testing.T) {
	store := NewMemoryStore(100)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }
	c := New(store, nil, nil)
	ctx := context.Background()

	calls := 0
	fetch := func(ctx context.Context) (int, error) {
		calls++
		return calls, nil
	}

	v, _, err := GetOrFetch(ctx, c, "k", time.Hour, fetch)
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	now = now.Add(59 * time.Minute)
	v, _, _ = GetOrFetch(ctx, c, "k", time.Hour, fetch)
	assert.Equal(t, 1, v)

	now = now.Add(time.Minute)
	v, cached, _ := GetOrFetch(ctx, c, "k", time.Hour, fetch)
	assert.Equal(t, 2, v)
	assert.False(t, cached)
}

func TestGetOrFetch_SkipCacheBypassesReadAndWrite(t *testing.T) {
	store := NewMemoryStore(100)
	c := New(store, nil, nil)
	ctx := context.Background()

	calls := 0
	fetch := func(ctx context.Context) (string, error) {
		calls++
		return "fresh", nil
	}

	_, _, err := GetOrFetch(ctx, c, "k", time.Minute, fetch, SkipCache(true))
	require.NoError(t, err)
	assert.Equal(t, 0, store.Len())

	_, _, _ = GetOrFetch(ctx, c, "k", time.Minute, fetch)
	_, cached, _ := GetOrFetch(ctx, c, "k", time.Minute, fetch, SkipCache(true))
	assert.False(t, cached)
	assert.Equal(t, 3, calls)
}

func TestGetOrFetch_ErrorsAreNotCached(t *testing.T) {
	c := New(NewMemoryStore(100), nil, nil)
	ctx := context.Background()
	boom := errors.New("boom")

	_, _, err := GetOrFetch(ctx, c, "k", time.Minute, func(ctx context.Context) (int, error) {
		return 0, boom
	})
	assert.ErrorIs(t, err, boom)

	v, cached, err := GetOrFetch(ctx, c, "k", time.Minute, func(ctx context.Context) (int, error) {
		return 7, nil
	})
	require.NoError(t, err)
	assert.False(t, cached)
	assert.Equal(t, 7, v)
}

func TestGetOrFetch_SingleFlightCollapsesConcurrentMisses(t *testing.T) {
	c := New(NewMemoryStore(100), &Config{SingleFlight: true}, nil)
	ctx := context.Background()

	var calls atomic.Int32
	release := make(chan struct{})
	fetch := func(ctx context.Context) (string, error) {
		calls.Add(1)
		<-release
		return "v", nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, _, err := GetOrFetch(ctx, c, "same", time.Minute, fetch)
			assert.NoError(t, err)
			assert.Equal(t, "v", v)
		}()
	}

	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
}

func TestGetOrFetch_FollowerOutlivesCancelledLeader(t *testing.T) {
	c := New(NewMemoryStore(100), &Config{SingleFlight: true}, nil)

	var calls atomic.Int32
	started := make(chan struct{})
	fetch := func(ctx context.Context) (string, error) {
		if calls.Add(1) == 1 {
			close(started)
			<-ctx.Done()
			return "", ctx.Err()
		}
		return "fresh", nil
	}

	leaderCtx, cancel := context.WithCancel(context.Background())
	leaderErr := make(chan error, 1)
	go func() {
		_, _, err := GetOrFetch(leaderCtx, c, "shared", time.Minute, fetch)
		leaderErr <- err
	}()
	<-started

	type result struct {
		v      string
		cached bool
		err    error
	}
	follower := make(chan result, 1)
	go func() {
		v, cached, err := GetOrFetch(context.Background(), c, "shared", time.Minute, fetch)
		follower <- result{v, cached, err}
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	assert.ErrorIs(t, <-leaderErr, context.Canceled)
	got := <-follower
	require.NoError(t, got.err)
	assert.Equal(t, "fresh", got.v)
	assert.False(t, got.cached)
	assert.Equal(t, int32(2), calls.Load())

	v, cached, err := GetOrFetch(context.Background(), c, "shared", time.Minute, fetch)
	require.NoError(t, err)
	assert.Equal(t, "fresh", v)
	assert.True(t, cached)
}

type failingStore struct{}

func (failingStore) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, errors.New("store down")
}

func (failingStore) Set(context.Context, string, []byte, time.Duration) error {
	return errors.New("store down")
}

func (failingStore) Delete(context.Context, string) error { return nil }

func TestGetOrFetch_StoreFailureStillReturnsValue(t *testing.T) {
	c := New(failingStore{}, nil, nil)

	v, cached, err := GetOrFetch(context.Background(), c, "k", time.Minute, func(ctx context.Context) (int, error) {
		return 42, nil
	})
	require.NoError(t, err)
	assert.False(t, cached)
	assert.Equal(t, 42, v)
	assert.Equal(t, int64(2), c.Stats().StoreErrors)
}

func TestMemoryStore_EvictsLeastRecentlyUsed(t *testing.T) {
	store := NewMemoryStore(2)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "a", []byte("1"), time.Minute))
	require.NoError(t, store.Set(ctx, "b", []byte("2"), time.Minute))
	_, ok, _ := store.Get(ctx, "a")
	require.True(t, ok)
	require.NoError(t, store.Set(ctx, "c", []byte("3"), time.Minute))

	_, ok, _ = store.Get(ctx, "b")
	assert.False(t, ok, "b should have been evicted")
	_, ok, _ = store.Get(ctx, "a")
	assert.True(t, ok)
	assert.Equal(t, 2, store.Len())
}

func TestKey(t *testing.T) {
	a := Key("serp", "maps", "30.0000000,-97.0000000", "dentist near me", "20")
	b := Key("serp", "maps", "30.0000000,-97.0000000", "dentist near me", "20")
	c := Key("serp", "maps", "30.0000000,-97.0000000", "dentist", "20")
	d := Key("serp", "maps", "30.0000000,-97.0000000dentist", "", "20")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.NotEqual(t, c, d)
	assert.Contains(t, a, "serp:")
}
