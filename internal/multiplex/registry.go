package multiplex

import (
	"sync"

	"github.com/streamspace/reactive-query-server/internal/reactive"
)

// dedupKey renders the (sessionId, actionName, paramsFingerprint) triple
// into a single string key for the active registry. The separator is a
// control character that cannot appear in a session id, action name, or a
// JSON fingerprint.
func dedupKey(sessionID reactive.SessionID, name, fingerprint string) string {
	const sep = "\x1f"
	return string(sessionID) + sep + name + sep + fingerprint
}

// activeEntry is one live (sessionId, actionName, paramsFingerprint)
// subscription record: a shared LiveResult and the set of connection-local
// subscriptions (subId -> cancel handle) currently attached to it.
type activeEntry struct {
	mu          sync.Mutex
	result      *reactive.LiveResult
	subscribers map[string]*reactive.Handle
}

// registry is the process-wide `active` map from §4.5. A single mutex
// guards map membership; each entry guards its own subscriber set, matching
// the concurrency model's "single logical critical section per
// subscribe/unsubscribe call, fine-grained sharding permitted" guidance.
type registry struct {
	mu      sync.Mutex
	entries map[string]*activeEntry
}

func newRegistry() *registry {
	return &registry{entries: make(map[string]*activeEntry)}
}

// getOrCreate returns the existing entry for key, or creates one from
// build() if none exists yet. build is called at most once per key, while
// the registry lock is held, so two concurrent subscribes racing on a
// brand-new key can never construct two computations for it.
func (r *registry) getOrCreate(key string, build func() (*reactive.LiveResult, error)) (*activeEntry, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if entry, ok := r.entries[key]; ok {
		return entry, false, nil
	}

	result, err := build()
	if err != nil {
		return nil, false, err
	}

	entry := &activeEntry{result: result, subscribers: make(map[string]*reactive.Handle)}
	r.entries[key] = entry
	return entry, true, nil
}

// dropIfEmpty removes key from the registry once its subscriber set is
// empty, which is also what releases the computation's last subscriber and
// its dependency subscriptions (via Handle.Cancel having already been
// called by the caller before dropIfEmpty runs).
func (r *registry) dropIfEmpty(key string, entry *activeEntry) {
	entry.mu.Lock()
	empty := len(entry.subscribers) == 0
	entry.mu.Unlock()

	if !empty {
		return
	}

	r.mu.Lock()
	if current, ok := r.entries[key]; ok && current == entry {
		delete(r.entries, key)
	}
	r.mu.Unlock()
}

func (r *registry) get(key string) (*activeEntry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[key]
	return entry, ok
}

// len reports how many distinct entries are currently live.
func (r *registry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// evictExpired sweeps every live entry's result for a TTL cached value past
// its expiry deadline, as a backstop against a starved expiry timer. It
// snapshots the entry set under r.mu and evicts outside the lock, so a slow
// eviction on one entry never blocks a concurrent subscribe/unsubscribe on
// another. Returns how many entries it actually evicted.
func (r *registry) evictExpired() int {
	r.mu.Lock()
	entries := make([]*activeEntry, 0, len(r.entries))
	for _, entry := range r.entries {
		entries = append(entries, entry)
	}
	r.mu.Unlock()

	evicted := 0
	for _, entry := range entries {
		if entry.result.EvictExpired() {
			evicted++
		}
	}
	return evicted
}
