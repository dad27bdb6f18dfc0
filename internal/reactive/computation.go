package reactive

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	apperrors "github.com/streamspace/reactive-query-server/internal/errors"
)

// CacheMode controls whether a DerivedComputation retains its last produced
// value between recomputes.
type CacheMode int

const (
	// CacheNone never retains a value; every subscribe forces a fresh run.
	CacheNone CacheMode = iota
	// CacheTTL retains the value until ttl elapses after it was produced.
	CacheTTL
	// CacheInfinite retains the value until the computation itself is
	// discarded.
	CacheInfinite
)

// ComputationOption configures optional Computation behavior at
// construction time, without disturbing NewComputation's existing call
// sites.
type ComputationOption func(*computationOptions)

type computationOptions struct {
	cacheKey string
}

// WithCacheKey gives the computation a stable key under which its value is
// mirrored to the distributed cache, when one is installed and CacheMode is
// not CacheNone. Typically the same dedup key the subscription registry
// uses, so every replica serving the same (session, action, params) shares
// one cached value.
func WithCacheKey(key string) ComputationOption {
	return func(o *computationOptions) { o.cacheKey = key }
}

type computationState int

const (
	stateIdle computationState = iota
	stateScheduled
	stateRunning
)

// ComputeFunc produces a DerivedComputation's value. It receives the
// ambient session context the computation was created under, so a
// session-scoped dependency read inside it resolves to the right session.
type ComputeFunc[T any] func(ctx context.Context) (T, error)

type computationSub[T any] struct {
	id        uint64
	onValue   func(T)
	onError   func(*apperrors.AppError)
	cancelled atomic.Bool
}

// Computation is a derived computation: it re-runs compute over a set of
// dependency sources, fanning out the result (or an error) to every current
// subscriber, with caching, debouncing, and overlap coalescing exactly as
// specified for the reactive runtime's state machine.
type Computation[T any] struct {
	mu      sync.Mutex
	deps    []Source
	compute ComputeFunc[T]
	scope   Scope
	baseCtx context.Context

	cacheMode CacheMode
	ttl       time.Duration
	debounce  time.Duration

	state           computationState
	pendingFollowUp bool

	hasLastValue bool
	lastValue    T
	expiryAt     time.Time

	debounceTimer *time.Timer
	expiryTimer   *time.Timer

	subs      []*computationSub[T]
	nextSubID uint64

	depHandles []*Handle

	cacheKey string
}

// NewComputation constructs a derived computation over deps. ctx carries the
// ambient session the computation was created under; it is passed to every
// invocation of compute, including ones triggered by a later dependency
// fire, so a query's compute body always observes the session it belongs to.
func NewComputation[T any](ctx context.Context, deps []Source, compute ComputeFunc[T], cacheMode CacheMode, ttl, debounce time.Duration, opts ...ComputationOption) *Computation[T] {
	o := &computationOptions{}
	for _, opt := range opts {
		opt(o)
	}
	return &Computation[T]{
		deps:      deps,
		compute:   compute,
		scope:     InferScope(deps),
		baseCtx:   ctx,
		cacheMode: cacheMode,
		ttl:       ttl,
		debounce:  debounce,
		state:     stateIdle,
		cacheKey:  o.cacheKey,
	}
}

// Scope reports whether this computation's result is session- or
// global-scoped, inferred from its dependencies (session if any dependency
// is session-scoped).
func (c *Computation[T]) Scope() Scope { return c.scope }

// Subscribe attaches onValue/onError and returns a cancellable handle. If a
// cached value is present it is delivered immediately and no recompute is
// triggered; otherwise a run is forced, whether or not this is the first
// subscriber, so no subscriber is ever left waiting on a dependency fire
// that may never come.
func (c *Computation[T]) Subscribe(onValue func(T), onError func(*apperrors.AppError)) *Handle {
	c.mu.Lock()
	c.nextSubID++
	sub := &computationSub[T]{id: c.nextSubID, onValue: onValue, onError: onError}
	c.subs = append(c.subs, sub)
	first := len(c.subs) == 1
	if first {
		c.attachDepsLocked()
	}
	hasCached := c.hasLastValue
	cachedVal := c.lastValue
	tryRemote := !hasCached && first && c.cacheMode != CacheNone && c.cacheKey != ""
	c.mu.Unlock()

	switch {
	case hasCached:
		onValue(cachedVal)
	case tryRemote && c.loadFromRemote(&cachedVal):
		c.mu.Lock()
		c.hasLastValue = true
		c.lastValue = cachedVal
		c.resetExpiryTimerLocked()
		c.mu.Unlock()
		onValue(cachedVal)
	default:
		c.fire()
	}

	return newHandle(func() {
		sub.cancelled.Store(true)
		c.afterUnsubscribe()
	})
}

// attachDepsLocked subscribes to every dependency source, forwarding each
// fire into this computation's own fire(). Must be called with c.mu held.
func (c *Computation[T]) attachDepsLocked() {
	for _, dep := range c.deps {
		c.depHandles = append(c.depHandles, dep.subscribeRaw(c.fire))
	}
}

func (c *Computation[T]) afterUnsubscribe() {
	c.mu.Lock()
	live := c.subs[:0]
	for _, s := range c.subs {
		if !s.cancelled.Load() {
			live = append(live, s)
		}
	}
	c.subs = live

	var depHandles []*Handle
	if len(c.subs) == 0 {
		depHandles = c.depHandles
		c.depHandles = nil
		if c.debounceTimer != nil {
			c.debounceTimer.Stop()
			c.debounceTimer = nil
		}
		if c.state == stateScheduled {
			c.state = stateIdle
		}
	}
	c.mu.Unlock()

	for _, h := range depHandles {
		h.Cancel()
	}
}

// fire drives the idle/scheduled/running/running+pending state machine: it
// is invoked by a dependency firing, or synchronously by Subscribe whenever
// a subscriber arrives with no cached value present.
func (c *Computation[T]) fire() {
	c.mu.Lock()
	switch c.state {
	case stateIdle:
		if c.debounce > 0 {
			c.state = stateScheduled
			c.resetDebounceTimerLocked()
			c.mu.Unlock()
			return
		}
		c.state = stateRunning
		c.mu.Unlock()
		c.runAsync()
		return
	case stateScheduled:
		c.resetDebounceTimerLocked()
		c.mu.Unlock()
		return
	case stateRunning:
		// running+pending: exactly one follow-up run is coalesced no
		// matter how many fires arrive before the in-flight run returns.
		c.pendingFollowUp = true
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
}

func (c *Computation[T]) resetDebounceTimerLocked() {
	if c.debounceTimer != nil {
		c.debounceTimer.Stop()
	}
	c.debounceTimer = time.AfterFunc(c.debounce, c.onDebounceElapsed)
}

func (c *Computation[T]) onDebounceElapsed() {
	c.mu.Lock()
	if c.state != stateScheduled {
		c.mu.Unlock()
		return
	}
	c.state = stateRunning
	c.mu.Unlock()
	c.runAsync()
}

// runAsync executes compute in its own goroutine so a slow or suspended
// recompute never blocks the connection that triggered it.
func (c *Computation[T]) runAsync() {
	go func() {
		val, err := c.compute(c.baseCtx)

		c.mu.Lock()
		followUp := c.pendingFollowUp
		c.pendingFollowUp = false
		if followUp {
			c.state = stateRunning
		} else {
			c.state = stateIdle
		}

		shouldStoreRemote := false
		if err == nil && c.cacheMode != CacheNone {
			c.lastValue = val
			c.hasLastValue = true
			c.resetExpiryTimerLocked()
			shouldStoreRemote = c.cacheKey != ""
		}

		subsSnapshot := make([]*computationSub[T], len(c.subs))
		copy(subsSnapshot, c.subs)
		c.mu.Unlock()

		if shouldStoreRemote {
			go c.storeToRemote(val)
		}

		if err != nil {
			appErr := apperrors.ComputeFailure(err)
			for _, sub := range subsSnapshot {
				if !sub.cancelled.Load() {
					sub.onError(appErr)
				}
			}
		} else {
			for _, sub := range subsSnapshot {
				if !sub.cancelled.Load() {
					sub.onValue(val)
				}
			}
		}

		if followUp {
			c.runAsync()
		}
	}()
}

func (c *Computation[T]) resetExpiryTimerLocked() {
	if c.cacheMode != CacheTTL {
		return
	}
	c.expiryAt = time.Now().Add(c.ttl)
	if c.expiryTimer != nil {
		c.expiryTimer.Stop()
	}
	c.expiryTimer = time.AfterFunc(c.ttl, func() {
		c.mu.Lock()
		c.hasLastValue = false
		var zero T
		c.lastValue = zero
		c.mu.Unlock()
	})
}

// EvictIfExpired clears lastValue if this is a CacheTTL computation whose
// cached value's expiry deadline has already passed. It exists as a
// janitor-driven backstop for a time.AfterFunc that may have been starved
// by a busy process; under normal scheduling the timer itself clears the
// value first and this is a no-op. Returns true if it evicted a value.
func (c *Computation[T]) EvictIfExpired(now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cacheMode != CacheTTL || !c.hasLastValue || now.Before(c.expiryAt) {
		return false
	}
	c.hasLastValue = false
	var zero T
	c.lastValue = zero
	return true
}

// loadFromRemote tries to populate out from the distributed cache, returning
// true on a hit. A miss or disabled cache is not an error here: it just
// falls through to forcing a normal compute run.
func (c *Computation[T]) loadFromRemote(out *T) bool {
	dc := getDistributedCache()
	if dc == nil {
		return false
	}
	return dc.Get(c.baseCtx, c.cacheKey, out) == nil
}

// storeToRemote mirrors val to the distributed cache under this
// computation's cache key. CacheInfinite stores with no expiration; the
// cache backend still owns its own disabled-mode no-op behavior.
func (c *Computation[T]) storeToRemote(val T) {
	dc := getDistributedCache()
	if dc == nil {
		return
	}
	ttl := c.ttl
	if c.cacheMode == CacheInfinite {
		ttl = 0
	}
	_ = dc.Set(c.baseCtx, c.cacheKey, val, ttl)
}

// InferScope implements the scope union rule: a derived result is
// session-scoped if any of its dependencies is session-scoped, global
// otherwise.
func InferScope(deps []Source) Scope {
	for _, d := range deps {
		if d.Scope() == ScopeSession {
			return ScopeSession
		}
	}
	return ScopeGlobal
}
