package notifiers

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog"

	"github.com/streamspace/reactive-query-server/internal/metrics"
	"github.com/streamspace/reactive-query-server/internal/reactive"
)

// pqNotifierEntry is one LISTEN channel's share of a PostgresNotifier: its
// own reactive source, lazily wired to the shared connection.
type pqNotifierEntry struct {
	channel string
	source  *reactive.LazyNotifier
}

// PostgresNotifier bridges Postgres LISTEN/NOTIFY channels into
// reactive.Source values, one per channel, sharing a single underlying
// pq.Listener connection. A channel is only LISTENed on while at least one
// subscriber is attached to its source, and UNLISTENed the moment the last
// one drops, so an idle channel holds no server-side listener slot.
type PostgresNotifier struct {
	connString   string
	minReconnect time.Duration
	maxReconnect time.Duration
	log          zerolog.Logger

	mu       sync.Mutex
	listener *pq.Listener
	entries  map[string]*pqNotifierEntry
	closed   bool

	connected atomic.Bool
}

// Healthy reports whether this adapter is currently reachable. Before any
// channel has a subscriber there is no connection to check yet, so it
// reports healthy vacuously; once a connection has been attempted, it
// reflects the most recent pq.Listener connection event.
func (n *PostgresNotifier) Healthy() bool {
	n.mu.Lock()
	started := n.listener != nil
	n.mu.Unlock()
	if !started {
		return true
	}
	return n.connected.Load()
}

// NewPostgresNotifier prepares the adapter against connString. No
// connection is opened here: the underlying pq.Listener is created lazily,
// the first time any channel returned by NotifierFor gets its first
// subscriber.
func NewPostgresNotifier(connString string, minReconnect, maxReconnect time.Duration, log zerolog.Logger) (*PostgresNotifier, error) {
	return &PostgresNotifier{
		connString:   connString,
		minReconnect: minReconnect,
		maxReconnect: maxReconnect,
		log:          log,
		entries:      make(map[string]*pqNotifierEntry),
	}, nil
}

// NotifierFor returns the reactive.Source backing channel, creating its
// entry on first call. Calling NotifierFor twice for the same channel
// returns the same source, so every caller shares one LISTEN per channel.
func (n *PostgresNotifier) NotifierFor(channel string) reactive.Source {
	n.mu.Lock()
	entry, ok := n.entries[channel]
	if !ok {
		entry = &pqNotifierEntry{channel: channel}
		entry.source = reactive.NewLazyNotifier(reactive.ScopeGlobal,
			func() { n.startListening(entry) },
			func() { n.stopListening(entry) },
		)
		n.entries[channel] = entry
	}
	n.mu.Unlock()
	return entry.source
}

// ensureListenerLocked lazily creates the shared pq.Listener and its pump
// goroutine. Must be called with n.mu held.
func (n *PostgresNotifier) ensureListenerLocked() *pq.Listener {
	if n.listener != nil {
		return n.listener
	}

	eventCallback := func(ev pq.ListenerEventType, err error) {
		switch ev {
		case pq.ListenerEventConnected:
			n.connected.Store(true)
			n.log.Info().Msg("postgres notifier connected")
		case pq.ListenerEventDisconnected:
			n.connected.Store(false)
			n.log.Warn().Err(err).Msg("postgres notifier disconnected, will reconnect")
		case pq.ListenerEventReconnected:
			n.connected.Store(true)
			n.log.Info().Msg("postgres notifier reconnected")
		case pq.ListenerEventConnectionAttemptFailed:
			n.connected.Store(false)
			n.log.Error().Err(err).Msg("postgres notifier connection attempt failed")
		}
	}

	n.listener = pq.NewListener(n.connString, n.minReconnect, n.maxReconnect, eventCallback)
	go n.pump(n.listener)
	return n.listener
}

func (n *PostgresNotifier) startListening(entry *pqNotifierEntry) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return
	}
	listener := n.ensureListenerLocked()
	if err := listener.Listen(entry.channel); err != nil {
		n.log.Error().Err(err).Str("channel", entry.channel).Msg("failed to listen on postgres channel")
	}
}

func (n *PostgresNotifier) stopListening(entry *pqNotifierEntry) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed || n.listener == nil {
		return
	}
	if err := n.listener.Unlisten(entry.channel); err != nil {
		n.log.Warn().Err(err).Str("channel", entry.channel).Msg("failed to unlisten postgres channel")
	}
}

// pump dispatches every notification on listener to the entry whose channel
// it was published on, regardless of which (if any) channels are currently
// listened to by other entries.
func (n *PostgresNotifier) pump(listener *pq.Listener) {
	for {
		select {
		case notification, ok := <-listener.Notify:
			if !ok {
				return
			}
			if notification == nil {
				continue
			}
			n.mu.Lock()
			entry, ok := n.entries[notification.Channel]
			n.mu.Unlock()
			if !ok {
				continue
			}
			metrics.NotifierFires.WithLabelValues("postgres").Inc()
			entry.source.Notify()
		case <-time.After(90 * time.Second):
			// lib/pq recommends a periodic Ping to detect a half-open
			// connection the driver itself wouldn't otherwise notice.
			go listener.Ping()
		}
	}
}

// Close stops every active listen and releases the underlying connection.
func (n *PostgresNotifier) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.closed = true
	if n.listener == nil {
		return nil
	}
	return n.listener.Close()
}
