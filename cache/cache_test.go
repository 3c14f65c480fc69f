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

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestManager(ttl time.Duration) (*Manager, *fakeClock) {
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	return NewManager(NewMemoryStore(WithClock(clock.Now)), ttl), clock
}

func TestFetchCachesWithinTTL(t *testing.T) {
	m, clock := newTestManager(time.Minute)
	ctx := context.Background()

	calls := 0
	producer := func(ctx context.Context) ([]string, error) {
		calls++
		return []string{"a.safetensors", "b.safetensors"}, nil
	}

	v, err := Fetch(ctx, m, "checkpoints", producer)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.safetensors", "b.safetensors"}, v)

	clock.Advance(59 * time.Second)
	v, err = Fetch(ctx, m, "checkpoints", producer)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.safetensors", "b.safetensors"}, v)
	assert.Equal(t, 1, calls)
}

func TestFetchRefreshesAfterExpiry(t *testing.T) {
	m, clock := newTestManager(time.Minute)
	ctx := context.Background()

	calls := 0
	producer := func(ctx context.Context) (int, error) {
		calls++
		return calls, nil
	}

	v, err := Fetch(ctx, m, "k", producer)
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	clock.Advance(time.Minute)
	v, err = Fetch(ctx, m, "k", producer)
	require.NoError(t, err)
	assert.Equal(t, 2, v)

	v, err = Fetch(ctx, m, "k", producer)
	require.NoError(t, err)
	assert.Equal(t, 2, v)
}

func TestFetchDoesNotCacheErrors(t *testing.T) {
	m, _ := newTestManager(time.Minute)
	ctx := context.Background()

	boom := errors.New("backend down")
	calls := 0
	producer := func(ctx context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "", boom
		}
		return "ok", nil
	}

	_, err := Fetch(ctx, m, "k", producer)
	assert.ErrorIs(t, err, boom)

	v, err := Fetch(ctx, m, "k", producer)
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
	assert.Equal(t, 2, calls)
}

func TestFetchDeduplicatesConcurrentMisses(t *testing.T) {
	m, _ := newTestManager(time.Minute)
	ctx := context.Background()

	var calls int32
	release := make(chan struct{})
	producer := func(ctx context.Context) (string, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return "value", nil
	}

	const n = 8
	var wg sync.WaitGroup
	results := make([]string, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = Fetch(ctx, m, "k", producer)
		}(i)
	}

	// give the goroutines time to join the flight
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "value", results[i])
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	v, err := Fetch(ctx, m, "k", producer)
	require.NoError(t, err)
	assert.Equal(t, "value", v)
}

func TestFetchSurvivesCancelledFlightStarter(t *testing.T) {
	m, _ := newTestManager(time.Minute)

	started := make(chan struct{})
	release := make(chan struct{})
	producer := func(ctx context.Context) (string, error) {
		close(started)
		select {
		case <-release:
			return "value", nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	ctxA, cancelA := context.WithCancel(context.Background())
	errA := make(chan error, 1)
	go func() {
		_, err := Fetch(ctxA, m, "k", producer)
		errA <- err
	}()
	<-started

	type result struct {
		v   string
		err error
	}
	resB := make(chan result, 1)
	go func() {
		v, err := Fetch(context.Background(), m, "k", producer)
		resB <- result{v, err}
	}()
	// give the second caller time to join the flight
	time.Sleep(50 * time.Millisecond)

	cancelA()
	assert.ErrorIs(t, <-errA, context.Canceled)

	close(release)
	b := <-resB
	require.NoError(t, b.err)
	assert.Equal(t, "value", b.v)

	v, err := Fetch(context.Background(), m, "k", func(ctx context.Context) (string, error) {
		return "", errors.New("must be served from the cache")
	})
	require.NoError(t, err)
	assert.Equal(t, "value", v)
}

func TestInvalidateAndClear(t *testing.T) {
	m, _ := newTestManager(time.Minute)
	ctx := context.Background()

	calls := 0
	producer := func(ctx context.Context) (int, error) {
		calls++
		return calls, nil
	}

	_, err := Fetch(ctx, m, "a", producer)
	require.NoError(t, err)
	_, err = Fetch(ctx, m, "b", producer)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)

	require.NoError(t, m.Invalidate(ctx, "a"))
	v, err := Fetch(ctx, m, "a", producer)
	require.NoError(t, err)
	assert.Equal(t, 3, v)

	require.NoError(t, m.Clear(ctx))
	v, err = Fetch(ctx, m, "b", producer)
	require.NoError(t, err)
	assert.Equal(t, 4, v)
}

type brokenStore struct{}

func (brokenStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	return nil, false, errors.New("store offline")
}

func (brokenStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return errors.New("store offline")
}

func (brokenStore) Delete(ctx context.Context, key string) error { return nil }
func (brokenStore) Clear(ctx context.Context) error             { return nil }

func TestFetchBypassesFailingStore(t *testing.T) {
	m := NewManager(brokenStore{}, time.Minute)
	v, err := Fetch(context.Background(), m, "k", func(ctx context.Context) (string, error) {
		return "fresh", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "fresh", v)
}

func TestNewManagerDefaults(t *testing.T) {
	m := NewManager(nil, 0)
	assert.Equal(t, DefaultTTL, m.TTL())
	_, ok := m.store.(*MemoryStore)
	assert.True(t, ok)
}

func TestMemoryStoreExpiresOnRead(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	s := NewMemoryStore(WithClock(clock.Now))
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "k", []byte("v"), time.Second))
	data, ok, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("v"), data)

	clock.Advance(time.Second)
	_, ok, err = s.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 0, s.Len())
}
