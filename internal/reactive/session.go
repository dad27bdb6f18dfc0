package reactive

import (
	"context"
	"sync"

	appErrors "github.com/streamspace/reactive-query-server/internal/errors"
)

// SessionID identifies one connection's session. It is opaque to the
// reactive engine; the subscription multiplexer mints one per connection.
type SessionID string

type sessionCtxKey struct{}

// WithSession binds id as the ambient current session for ctx and every
// continuation derived from it. This is the Go substitute for the
// continuation-local "current session" slot: there is no goroutine-local
// storage, so the binding travels explicitly through context.Context.
func WithSession(ctx context.Context, id SessionID) context.Context {
	return context.WithValue(ctx, sessionCtxKey{}, id)
}

// SessionFromContext returns the ambient session id bound to ctx, if any.
func SessionFromContext(ctx context.Context) (SessionID, bool) {
	id, ok := ctx.Value(sessionCtxKey{}).(SessionID)
	return id, ok
}

// RequireSession returns the ambient session id bound to ctx, or a
// NoSessionContext AppError if none is bound.
func RequireSession(ctx context.Context) (SessionID, error) {
	id, ok := SessionFromContext(ctx)
	if !ok {
		return "", appErrors.NoSessionContext()
	}
	return id, nil
}

// sessionReleaser is implemented by every SessionStore so the registry can
// drop a disconnected session's slots without each store having to be
// enumerated by hand at the call site.
type sessionReleaser interface {
	releaseSession(SessionID)
}

var (
	registryMu sync.Mutex
	registry   []sessionReleaser
)

func registerSessionStore(r sessionReleaser) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry = append(registry, r)
}

// ReleaseSession drops every session-scoped store slot owned by id across
// every SessionStore the process has created. The subscription multiplexer
// calls this once, after it has cancelled all of the session's
// subscriptions, per the connection-close sequence.
func ReleaseSession(id SessionID) {
	registryMu.Lock()
	releasers := make([]sessionReleaser, len(registry))
	copy(releasers, registry)
	registryMu.Unlock()

	for _, r := range releasers {
		r.releaseSession(id)
	}
}

// SessionStore is a logical family of Store[T] slots, one per session id,
// created lazily on first access and routed through the ambient session
// bound to a context.Context. It is the session-scoped analogue of Store[T].
type SessionStore[T any] struct {
	mu      sync.Mutex
	initial T
	slots   map[SessionID]*Store[T]
}

// NewSessionStore creates a session-scoped store family with the given
// per-slot initial value.
func NewSessionStore[T any](initial T) *SessionStore[T] {
	s := &SessionStore[T]{initial: initial, slots: make(map[SessionID]*Store[T])}
	registerSessionStore(s)
	return s
}

func (s *SessionStore[T]) slotFor(id SessionID) *Store[T] {
	s.mu.Lock()
	defer s.mu.Unlock()

	if slot, ok := s.slots[id]; ok {
		return slot
	}
	slot := NewStore[T](ScopeSession, s.initial)
	s.slots[id] = slot
	return slot
}

// Get returns the current session's value, or NoSessionContext if ctx has
// no ambient session bound.
func (s *SessionStore[T]) Get(ctx context.Context) (T, error) {
	id, err := RequireSession(ctx)
	if err != nil {
		var zero T
		return zero, err
	}
	return s.slotFor(id).Get(), nil
}

// Set stores v under the current session's slot and fans out to that
// session's subscribers only.
func (s *SessionStore[T]) Set(ctx context.Context, v T) error {
	id, err := RequireSession(ctx)
	if err != nil {
		return err
	}
	s.slotFor(id).Set(v)
	return nil
}

// Mutate applies fn to the current session's value and fans out the result.
func (s *SessionStore[T]) Mutate(ctx context.Context, fn func(prev T) T) error {
	id, err := RequireSession(ctx)
	if err != nil {
		return err
	}
	s.slotFor(id).Mutate(fn)
	return nil
}

// Subscribe attaches fn to the current session's slot.
func (s *SessionStore[T]) Subscribe(ctx context.Context, fn func(T)) (*Handle, error) {
	id, err := RequireSession(ctx)
	if err != nil {
		return nil, err
	}
	return s.slotFor(id).Subscribe(fn), nil
}

// AsSource returns the Source view of the current session's slot, for use
// as a derived computation dependency. It requires ctx to carry an ambient
// session id at the time the dependency is resolved (subscribe time).
func (s *SessionStore[T]) AsSource(ctx context.Context) (Source, error) {
	id, err := RequireSession(ctx)
	if err != nil {
		return nil, err
	}
	return s.slotFor(id), nil
}

func (s *SessionStore[T]) releaseSession(id SessionID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.slots, id)
}
