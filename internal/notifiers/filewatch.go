package notifiers

import (
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/streamspace/reactive-query-server/internal/metrics"
	"github.com/streamspace/reactive-query-server/internal/reactive"
)

// FileNotifier bridges filesystem change events for a set of paths into a
// reactive.Source. The watch itself starts lazily on first subscribe and
// stops when the last subscriber drops. start calls Notify once right after
// the watch begins, but LazyNotifier runs start before it attaches the
// subscriber that triggered it, so that tick reaches no subscriber: a
// subscriber receives ticks only for filesystem events after it attached.
type FileNotifier struct {
	watcher *fsnotify.Watcher
	paths   []string
	log     zerolog.Logger
	source  *reactive.LazyNotifier

	mu       sync.Mutex
	pumpStop chan struct{}
	closed   atomic.Bool
}

// NewFileNotifier prepares a watcher for paths; paths are not actually
// added to it until the adapter's source gets its first subscriber.
func NewFileNotifier(paths []string, log zerolog.Logger) (*FileNotifier, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	n := &FileNotifier{watcher: watcher, paths: paths, log: log}
	n.source = reactive.NewLazyNotifier(reactive.ScopeGlobal, n.start, n.stop)
	return n, nil
}

// Source returns this adapter's source for use as a query dependency.
func (n *FileNotifier) Source() reactive.Source { return n.source }

// Healthy reports whether the underlying watcher is still usable. A file
// watch has no remote endpoint to lose connectivity to; it is only ever
// unhealthy once the watcher has been closed.
func (n *FileNotifier) Healthy() bool {
	return !n.closed.Load()
}

func (n *FileNotifier) start() {
	for _, p := range n.paths {
		if err := n.watcher.Add(p); err != nil {
			n.log.Error().Err(err).Str("path", p).Msg("failed to watch path")
		}
	}

	stop := make(chan struct{})
	n.mu.Lock()
	n.pumpStop = stop
	n.mu.Unlock()

	go n.pump(stop)
	n.source.Notify()
}

func (n *FileNotifier) stop() {
	n.mu.Lock()
	stop := n.pumpStop
	n.pumpStop = nil
	n.mu.Unlock()

	if stop != nil {
		close(stop)
	}
	for _, p := range n.paths {
		n.watcher.Remove(p)
	}
}

func (n *FileNotifier) pump(stop chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case event, ok := <-n.watcher.Events:
			if !ok {
				return
			}
			n.log.Debug().Str("path", event.Name).Str("op", event.Op.String()).Msg("file notifier event")
			metrics.NotifierFires.WithLabelValues("file").Inc()
			n.source.Notify()
		case err, ok := <-n.watcher.Errors:
			if !ok {
				return
			}
			n.log.Warn().Err(err).Msg("file notifier watch error")
		}
	}
}

// Close stops watching and releases the underlying OS resources.
func (n *FileNotifier) Close() error {
	n.closed.Store(true)
	return n.watcher.Close()
}
