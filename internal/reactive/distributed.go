package reactive

import (
	"context"
	"sync"
	"time"
)

// DistributedCache is the optional interface a cache-mode computation's
// value is mirrored through, so a ttl_ms/infinite result is shared across
// replicas instead of held only in this process's memory. Satisfied
// structurally by *cache.Cache without either package importing the other.
type DistributedCache interface {
	Get(ctx context.Context, key string, target any) error
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
}

var (
	distributedCacheMu sync.RWMutex
	distributedCache   DistributedCache
)

// SetDistributedCache installs the process-wide distributed cache. Passing
// nil (the default) leaves caching purely in-process.
func SetDistributedCache(dc DistributedCache) {
	distributedCacheMu.Lock()
	defer distributedCacheMu.Unlock()
	distributedCache = dc
}

func getDistributedCache() DistributedCache {
	distributedCacheMu.RLock()
	defer distributedCacheMu.RUnlock()
	return distributedCache
}
