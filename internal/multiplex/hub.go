package multiplex

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	apperrors "github.com/streamspace/reactive-query-server/internal/errors"
	"github.com/streamspace/reactive-query-server/internal/reactive"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	sendBuffer = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ActionFactory builds the named action set available to a freshly
// connected session. It is called once per connection, so an action set
// that wants per-session state can close over a new instance of it here.
type ActionFactory func() map[string]reactive.Action

// Hub owns every live WebSocket connection and the process-wide active
// computation registry they share. Registering and unregistering wsClients
// is protected by a single mutex; each client's own read/write pumps run in
// their own goroutines, matching the hub/client split the rest of the
// connection-handling code in this codebase uses.
type Hub struct {
	mu      sync.RWMutex
	clients map[*wsClient]bool

	registry *registry
	actions  ActionFactory
	log      zerolog.Logger
}

// NewHub builds a Hub whose connections invoke actions built by factory.
func NewHub(factory ActionFactory, log zerolog.Logger) *Hub {
	return &Hub{
		clients:  make(map[*wsClient]bool),
		registry: newRegistry(),
		actions:  factory,
		log:      log,
	}
}

// ClientCount returns the number of currently connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ActiveComputations returns the number of distinct live subscription
// registry entries, for use as the janitor's periodic gauge source.
func (h *Hub) ActiveComputations() int {
	return h.registry.len()
}

// EvictExpired sweeps every live registry entry for a TTL cached value past
// its expiry deadline, for use as the janitor's periodic eviction backstop.
func (h *Hub) EvictExpired() int {
	return h.registry.evictExpired()
}

// wsClient binds one upgraded WebSocket connection to its Connection
// dispatcher and a buffered outbound channel.
type wsClient struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	mux  *Connection
}

// enqueue marshals v and queues it for delivery; it is passed to Connection
// as its send callback. A full buffer means this client is too slow to keep
// up and is reported as a transport failure rather than blocking the
// dispatcher that produced v.
func (c *wsClient) enqueue(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	select {
	case c.send <- data:
		return nil
	default:
		return apperrors.Transport(fmt.Errorf("client %s send buffer full", c.mux.ID()))
	}
}

// ServeWS upgrades r into a WebSocket connection, mints a new session for
// it, and starts its read/write pumps. The session id lives only as long as
// the connection: disconnect releases every subscription and session-scoped
// store slot it owned.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	sessionID := reactive.SessionID(uuid.NewString())
	client := &wsClient{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBuffer),
	}
	client.mux = NewConnection(sessionID, h.actions(), h.registry, client.enqueue, h.log)

	h.register(client)
	h.log.Info().Str("session", string(sessionID)).Int("clients", h.ClientCount()).Msg("client connected")

	go client.writePump()
	go client.readPump()
}

func (h *Hub) register(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = true
}

func (h *Hub) unregister(c *wsClient) {
	h.mu.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()

	if ok {
		c.mux.Close()
		h.log.Info().Str("session", string(c.mux.ID())).Int("clients", h.ClientCount()).Msg("client disconnected")
	}
}

// writePump drains c.send to the underlying connection and keeps it alive
// with periodic pings: one goroutine per connection, a write deadline per
// frame. Unlike the teacher's chat hub, queued messages are never coalesced
// onto one websocket text message: the wire protocol commits to one JSON
// frame per transport message, so each queued frame gets its own
// NextWriter/Write/Close cycle.
func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump reads frames off the connection and dispatches them one at a
// time, in arrival order, onto the bound Connection. This goroutine is the
// single dispatcher for this session: sequencing here is what gives the
// subscribe/unsubscribe/mutation handling its per-connection FIFO guarantee.
func (c *wsClient) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Warn().Err(err).Str("session", string(c.mux.ID())).Msg("websocket read error")
			}
			break
		}

		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		c.mux.Dispatch(context.Background(), message)
	}
}
