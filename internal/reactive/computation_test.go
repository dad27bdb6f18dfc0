package reactive

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	apperrors "github.com/streamspace/reactive-query-server/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testTimeout = 2 * time.Second

func waitFor(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(testTimeout):
		t.Fatal("timed out waiting for computation callback")
	}
}

func TestComputationFirstSubscribeForcesARun(t *testing.T) {
	notifier := NewNotifier(ScopeGlobal)
	var runs int32

	done := make(chan struct{}, 1)
	compute := func(ctx context.Context) (int, error) {
		atomic.AddInt32(&runs, 1)
		return 1, nil
	}

	c := NewComputation[int](context.Background(), []Source{notifier}, compute, CacheNone, 0, 0)
	c.Subscribe(func(v int) { done <- struct{}{} }, func(err *apperrors.AppError) {})

	waitFor(t, done)
	assert.Equal(t, int32(1), atomic.LoadInt32(&runs))
}

func TestComputationRecomputesOnDependencyFire(t *testing.T) {
	notifier := NewNotifier(ScopeGlobal)
	var calls int32

	results := make(chan int, 4)
	compute := func(ctx context.Context) (int, error) {
		n := atomic.AddInt32(&calls, 1)
		return int(n), nil
	}

	c := NewComputation[int](context.Background(), []Source{notifier}, compute, CacheNone, 0, 0)
	c.Subscribe(func(v int) { results <- v }, func(err *apperrors.AppError) {})

	require.Equal(t, 1, <-results)

	notifier.Notify()
	require.Equal(t, 2, <-results)
}

func TestComputationCachedValueDeliveredWithoutRecompute(t *testing.T) {
	notifier := NewNotifier(ScopeGlobal)
	var runs int32

	first := make(chan int, 1)
	compute := func(ctx context.Context) (int, error) {
		atomic.AddInt32(&runs, 1)
		return 7, nil
	}

	c := NewComputation[int](context.Background(), []Source{notifier}, compute, CacheInfinite, 0, 0)
	c.Subscribe(func(v int) { first <- v }, func(err *apperrors.AppError) {})
	require.Equal(t, 7, <-first)

	var second int
	sub2Done := make(chan struct{})
	c.Subscribe(func(v int) {
		second = v
		close(sub2Done)
	}, func(err *apperrors.AppError) {})

	waitFor(t, sub2Done)
	assert.Equal(t, 7, second)
	assert.Equal(t, int32(1), atomic.LoadInt32(&runs), "second subscribe should reuse the cached value, not recompute")
}

func TestComputationOverlappingFiresCoalesceToOneFollowUp(t *testing.T) {
	notifier := NewNotifier(ScopeGlobal)
	var calls int32
	release := make(chan struct{})

	compute := func(ctx context.Context) (int, error) {
		n := atomic.AddInt32(&calls, 1)
		if n == 1 {
			<-release // hold the first run in flight while fires pile up
		}
		return int(n), nil
	}

	results := make(chan int, 8)
	c := NewComputation[int](context.Background(), []Source{notifier}, compute, CacheNone, 0, 0)
	c.Subscribe(func(v int) { results <- v }, func(err *apperrors.AppError) {})

	// Let the first (blocking) run actually start before firing more.
	time.Sleep(50 * time.Millisecond)
	notifier.Notify()
	notifier.Notify()
	notifier.Notify()

	close(release)

	first := <-results
	second := <-results
	assert.Equal(t, 1, first)
	assert.Equal(t, 2, second, "three overlapping fires must coalesce into exactly one follow-up run")

	select {
	case v := <-results:
		t.Fatalf("unexpected third delivery: %d", v)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestComputationDebounceCoalescesBurstIntoOneRun(t *testing.T) {
	notifier := NewNotifier(ScopeGlobal)
	var runs int32

	compute := func(ctx context.Context) (int, error) {
		return int(atomic.AddInt32(&runs, 1)), nil
	}

	results := make(chan int, 4)
	c := NewComputation[int](context.Background(), []Source{notifier}, compute, CacheNone, 0, 20*time.Millisecond)
	c.Subscribe(func(v int) { results <- v }, func(err *apperrors.AppError) {})
	require.Equal(t, 1, <-results)

	notifier.Notify()
	notifier.Notify()
	notifier.Notify()

	select {
	case v := <-results:
		assert.Equal(t, 2, v)
	case <-time.After(testTimeout):
		t.Fatal("debounced run never delivered")
	}

	select {
	case v := <-results:
		t.Fatalf("unexpected extra delivery after debounced burst: %d", v)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestComputationErrorDeliveredToOnError(t *testing.T) {
	notifier := NewNotifier(ScopeGlobal)
	compute := func(ctx context.Context) (int, error) {
		return 0, assertErr{}
	}

	errCh := make(chan *apperrors.AppError, 1)
	c := NewComputation[int](context.Background(), []Source{notifier}, compute, CacheNone, 0, 0)
	c.Subscribe(func(v int) {}, func(err *apperrors.AppError) { errCh <- err })

	select {
	case err := <-errCh:
		require.Error(t, err)
	case <-time.After(testTimeout):
		t.Fatal("expected error callback")
	}
}

func TestComputationScopeUnionIsSessionWhenAnyDepIsSession(t *testing.T) {
	global := NewNotifier(ScopeGlobal)
	sessionStore := NewSessionStore[int](0)
	ctx := WithSession(context.Background(), SessionID("scope-union"))
	sessionSrc, err := sessionStore.AsSource(ctx)
	require.NoError(t, err)

	assert.Equal(t, ScopeGlobal, InferScope([]Source{global}))
	assert.Equal(t, ScopeSession, InferScope([]Source{global, sessionSrc}))
}

func TestComputationUnsubscribeStopsFurtherDelivery(t *testing.T) {
	notifier := NewNotifier(ScopeGlobal)
	var delivered int32

	compute := func(ctx context.Context) (int, error) { return 1, nil }

	c := NewComputation[int](context.Background(), []Source{notifier}, compute, CacheNone, 0, 0)
	first := make(chan struct{}, 1)
	handle := c.Subscribe(func(v int) {
		atomic.AddInt32(&delivered, 1)
		select {
		case first <- struct{}{}:
		default:
		}
	}, func(err *apperrors.AppError) {})

	waitFor(t, first)
	handle.Cancel()

	before := atomic.LoadInt32(&delivered)
	notifier.Notify()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, before, atomic.LoadInt32(&delivered))
}

type assertErr struct{}

func (assertErr) Error() string { return "boom" }

// fakeDistributedCache is an in-memory stand-in for a Redis-backed
// DistributedCache, letting the remote-cache wiring be exercised without a
// real Redis instance.
type fakeDistributedCache struct {
	mu      sync.Mutex
	entries map[string][]byte
}

func newFakeDistributedCache() *fakeDistributedCache {
	return &fakeDistributedCache{entries: make(map[string][]byte)}
}

func (f *fakeDistributedCache) Get(ctx context.Context, key string, target any) error {
	f.mu.Lock()
	data, ok := f.entries[key]
	f.mu.Unlock()
	if !ok {
		return assertErr{}
	}
	return json.Unmarshal(data, target)
}

func (f *fakeDistributedCache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.entries[key] = data
	f.mu.Unlock()
	return nil
}

func TestComputationWritesThroughToDistributedCacheOnCacheModes(t *testing.T) {
	fake := newFakeDistributedCache()
	SetDistributedCache(fake)
	defer SetDistributedCache(nil)

	compute := func(ctx context.Context) (int, error) { return 99, nil }

	c := NewComputation[int](context.Background(), nil, compute, CacheInfinite, 0, 0, WithCacheKey("computation:test-key"))
	done := make(chan struct{}, 1)
	c.Subscribe(func(v int) { done <- struct{}{} }, func(err *apperrors.AppError) {})
	waitFor(t, done)

	require.Eventually(t, func() bool {
		fake.mu.Lock()
		_, ok := fake.entries["computation:test-key"]
		fake.mu.Unlock()
		return ok
	}, testTimeout, 5*time.Millisecond)
}

func TestComputationLoadsFromDistributedCacheOnFirstSubscribeInsteadOfRecomputing(t *testing.T) {
	fake := newFakeDistributedCache()
	data, _ := json.Marshal(42)
	fake.entries["computation:seeded"] = data
	SetDistributedCache(fake)
	defer SetDistributedCache(nil)

	var runs int32
	compute := func(ctx context.Context) (int, error) {
		atomic.AddInt32(&runs, 1)
		return 0, nil
	}

	c := NewComputation[int](context.Background(), nil, compute, CacheInfinite, 0, 0, WithCacheKey("computation:seeded"))
	var got int
	done := make(chan struct{}, 1)
	c.Subscribe(func(v int) {
		got = v
		done <- struct{}{}
	}, func(err *apperrors.AppError) {})

	waitFor(t, done)
	assert.Equal(t, 42, got)
	assert.Equal(t, int32(0), atomic.LoadInt32(&runs), "a distributed cache hit should skip the local recompute")
}
