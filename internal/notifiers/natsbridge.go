package notifiers

import (
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/streamspace/reactive-query-server/internal/metrics"
	"github.com/streamspace/reactive-query-server/internal/reactive"
)

// NATSBridge propagates a notifier fire across replicas: a local Broadcast
// publishes to subject, and every replica (including the publisher's own
// process on a different connection) fans that out to a local
// reactive.Notifier. Each message carries the publisher's replica id purely
// so a bridge ignores its own publications; Broadcast does not fire the
// local notifier, so a caller that wants the local fire does it itself.
type NATSBridge struct {
	conn      *nats.Conn
	sub       *nats.Subscription
	notifier  *reactive.Notifier
	replicaID string
	subject   string
	log       zerolog.Logger
}

// NewNATSBridge connects to url and subscribes to subject.
func NewNATSBridge(url, subject string, log zerolog.Logger) (*NATSBridge, error) {
	conn, err := nats.Connect(url)
	if err != nil {
		return nil, err
	}

	b := &NATSBridge{
		conn:      conn,
		notifier:  reactive.NewNotifier(reactive.ScopeGlobal),
		replicaID: uuid.NewString(),
		subject:   subject,
		log:       log,
	}

	sub, err := conn.Subscribe(subject, b.handle)
	if err != nil {
		conn.Close()
		return nil, err
	}
	b.sub = sub

	return b, nil
}

func (b *NATSBridge) handle(msg *nats.Msg) {
	if string(msg.Data) == b.replicaID {
		return
	}
	metrics.NotifierFires.WithLabelValues("nats").Inc()
	b.notifier.Notify()
}

// Source returns this adapter's notifier for use as a query dependency.
func (b *NATSBridge) Source() reactive.Source { return b.notifier }

// Healthy reports whether the underlying NATS connection is currently up.
func (b *NATSBridge) Healthy() bool {
	return b.conn.IsConnected()
}

// Broadcast tells every other replica subscribed to this subject to fire
// their local notifier. It does not fire this process's own notifier;
// callers that changed state locally must have already done so directly.
func (b *NATSBridge) Broadcast() error {
	return b.conn.Publish(b.subject, []byte(b.replicaID))
}

// Close unsubscribes and closes the underlying NATS connection.
func (b *NATSBridge) Close() error {
	if err := b.sub.Unsubscribe(); err != nil {
		b.log.Warn().Err(err).Msg("nats bridge unsubscribe failed")
	}
	b.conn.Close()
	return nil
}
