// Package cache provides an optional Redis-backed distributed cache for
// derived computation values.
//
// This file defines key naming conventions for the cache entries the
// reactive engine may write: one entry per live (sessionId, actionName,
// paramsFingerprint) key, holding the last computed value for a cache-mode
// computation so it can be shared across replicas.
package cache

import "fmt"

// Key prefixes for different resource types.
const (
	PrefixComputation = "computation"
	PrefixSession     = "session"
)

// ComputationKey returns the cache key for a derived computation's last
// value, keyed by its dedup key (sessionId, actionName, paramsFingerprint).
func ComputationKey(dedupKey string) string {
	return fmt.Sprintf("%s:%s", PrefixComputation, dedupKey)
}

// SessionPattern returns the invalidation pattern for every computation
// belonging to one session, for invalidation when a session ends. Dedup
// keys separate the session id from the rest with "\x1f", so the pattern
// does too.
func SessionPattern(sessionID string) string {
	return fmt.Sprintf("%s:%s\x1f*", PrefixComputation, sessionID)
}

// SessionSlotKey returns the cache key for a session-scoped store's
// distributed value slot.
func SessionSlotKey(sessionID, storeID string) string {
	return fmt.Sprintf("%s:%s:store:%s", PrefixSession, sessionID, storeID)
}
