package multiplex

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/rs/zerolog"

	"github.com/streamspace/reactive-query-server/internal/cache"
	apperrors "github.com/streamspace/reactive-query-server/internal/errors"
	"github.com/streamspace/reactive-query-server/internal/reactive"
)

// connSub is one subscription owned by a Connection: which registry entry it
// lives under, so unsubscribe and disconnect cleanup can find it again.
type connSub struct {
	key    string
	handle *reactive.Handle
}

// Connection holds one WebSocket connection's dispatch state: its session
// id, the named action set it can invoke, and the subIds it currently owns.
// A Connection is driven by a single goroutine (the transport's read pump),
// so Dispatch calls for one connection are strictly sequential; no frame for
// a given connection is ever processed out of order or concurrently with
// another, matching the per-connection FIFO guarantee.
type Connection struct {
	id       reactive.SessionID
	actions  map[string]reactive.Action
	registry *registry
	send     func(v any) error
	log      zerolog.Logger

	mu   sync.Mutex
	subs map[string]connSub
}

// NewConnection builds a Connection bound to id, dispatching subscribe,
// unsubscribe, and mutation frames against actions. send delivers one
// JSON-encodable outbound frame to the transport; it must be safe to call
// from the goroutine Dispatch runs on.
func NewConnection(id reactive.SessionID, actions map[string]reactive.Action, reg *registry, send func(v any) error, log zerolog.Logger) *Connection {
	return &Connection{
		id:       id,
		actions:  actions,
		registry: reg,
		send:     send,
		log:      log,
		subs:     make(map[string]connSub),
	}
}

// ID returns this connection's session id.
func (c *Connection) ID() reactive.SessionID { return c.id }

// Dispatch decodes and routes one inbound frame. It binds the connection's
// session id as the ambient session for every action invoked from raw, so
// session-scoped stores and RequireSession resolve correctly.
func (c *Connection) Dispatch(ctx context.Context, raw []byte) {
	var frame InboundFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		c.emitError("", "", apperrors.InvalidInput(err.Error()))
		return
	}

	ctx = reactive.WithSession(ctx, c.id)

	switch frame.Type {
	case TypeSubscribe:
		c.handleSubscribe(ctx, frame)
	case TypeUnsubscribe:
		c.handleUnsubscribe(frame)
	case TypeMutation:
		c.handleMutation(ctx, frame)
	default:
		c.emitError(frame.Name, frame.RequestID, apperrors.InvalidInput("unknown frame type: "+frame.Type))
	}
}

func (c *Connection) handleSubscribe(ctx context.Context, frame InboundFrame) {
	action, ok := c.actions[frame.Name]
	if !ok {
		c.emitError(frame.Name, "", apperrors.UnknownAction(frame.Name))
		return
	}
	query, ok := action.(*reactive.QueryDef)
	if !ok {
		c.emitError(frame.Name, "", apperrors.InvalidInput(frame.Name+" is not subscribable"))
		return
	}

	args, err := query.ParseParams(frame.Params)
	if err != nil {
		c.emitError(frame.Name, "", err)
		return
	}

	fingerprint, err := reactive.Fingerprint(args)
	if err != nil {
		c.emitError(frame.Name, "", apperrors.InvalidInput(err.Error()))
		return
	}
	key := dedupKey(c.id, frame.Name, fingerprint)

	entry, ok := c.registry.get(key)
	if !ok {
		result, err := query.BuildForKey(ctx, args, cache.ComputationKey(key))
		if err != nil {
			c.emitError(frame.Name, "", err)
			return
		}

		live, ok := result.(*reactive.LiveResult)
		if !ok {
			// Immediate: deliver once, never enter the registry, never dedup.
			immediate := result.(*reactive.ImmediateResult)
			c.send(newUpdateFrame(frame.Name, frame.SubID, immediate.Value))
			return
		}

		entry, _, err = c.registry.getOrCreate(key, func() (*reactive.LiveResult, error) {
			return live, nil
		})
		if err != nil {
			c.emitError(frame.Name, "", err)
			return
		}
	}

	handle := entry.result.Subscribe(
		func(val any) { c.send(newUpdateFrame(frame.Name, frame.SubID, val)) },
		func(appErr *apperrors.AppError) { c.send(appErr.ToErrorFrame(frame.Name, "")) },
	)

	entry.mu.Lock()
	entry.subscribers[frame.SubID] = handle
	entry.mu.Unlock()

	c.mu.Lock()
	c.subs[frame.SubID] = connSub{key: key, handle: handle}
	c.mu.Unlock()
}

func (c *Connection) handleUnsubscribe(frame InboundFrame) {
	c.mu.Lock()
	cs, ok := c.subs[frame.SubID]
	if ok {
		delete(c.subs, frame.SubID)
	}
	c.mu.Unlock()
	if !ok {
		return
	}
	c.detach(frame.SubID, cs)
}

func (c *Connection) handleMutation(ctx context.Context, frame InboundFrame) {
	action, ok := c.actions[frame.Name]
	if !ok {
		c.emitError(frame.Name, frame.RequestID, apperrors.UnknownAction(frame.Name))
		return
	}
	mutation, ok := action.(*reactive.MutationDef)
	if !ok {
		c.emitError(frame.Name, frame.RequestID, apperrors.InvalidInput(frame.Name+" is not a mutation"))
		return
	}

	args, err := mutation.ParseParams(frame.Params)
	if err != nil {
		c.emitError(frame.Name, frame.RequestID, err)
		return
	}

	val, err := mutation.Run(ctx, args)
	if err != nil {
		c.emitError(frame.Name, frame.RequestID, err)
		return
	}

	c.send(newMutationResultFrame(frame.Name, frame.RequestID, val))
}

// Close cancels every subscription this connection owns and releases its
// session-scoped store slots. Safe to call once, on disconnect.
func (c *Connection) Close() {
	c.mu.Lock()
	owned := c.subs
	c.subs = nil
	c.mu.Unlock()

	for subID, cs := range owned {
		c.detach(subID, cs)
	}

	reactive.ReleaseSession(c.id)
}

// detach cancels one subscription's handle, removes it from its registry
// entry, and drops the entry if that emptied it.
func (c *Connection) detach(subID string, cs connSub) {
	entry, ok := c.registry.get(cs.key)
	if !ok {
		return
	}

	entry.mu.Lock()
	handle, ok := entry.subscribers[subID]
	if ok {
		delete(entry.subscribers, subID)
	}
	entry.mu.Unlock()

	if ok {
		handle.Cancel()
	}

	c.registry.dropIfEmpty(cs.key, entry)
}

func (c *Connection) emitError(name, requestID string, err error) {
	appErr, ok := err.(*apperrors.AppError)
	if !ok {
		appErr = apperrors.InternalServer(err.Error())
	}
	c.log.Debug().Str("action", name).Str("code", appErr.Code).Msg("dispatch error")
	c.send(appErr.ToErrorFrame(name, requestID))
}
