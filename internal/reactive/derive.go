package reactive

import "sync"

// DerivedNotifier subscribes to a set of input sources and fires once,
// carrying no value, whenever any input fires. Its scope follows the same
// union rule as a Computation's: session-scoped if any input is, global
// otherwise. Dependency subscriptions are acquired lazily on first
// subscriber and released when the last one drops, matching the
// zero-subscriber invariant that applies to every derived source.
type DerivedNotifier struct {
	mu         sync.Mutex
	notifier   *Notifier
	deps       []Source
	depHandles []*Handle
}

// Derive builds a notifier over deps that fires whenever any of them fires.
func Derive(deps ...Source) *DerivedNotifier {
	return &DerivedNotifier{
		notifier: NewNotifier(InferScope(deps)),
		deps:     deps,
	}
}

// Scope implements Source.
func (d *DerivedNotifier) Scope() Scope { return d.notifier.Scope() }

// Subscribe registers fn to fire on any dependency change.
func (d *DerivedNotifier) Subscribe(fn func()) *Handle {
	d.mu.Lock()
	if len(d.depHandles) == 0 {
		for _, dep := range d.deps {
			d.depHandles = append(d.depHandles, dep.subscribeRaw(d.notifier.Notify))
		}
	}
	d.mu.Unlock()

	inner := d.notifier.Subscribe(fn)

	return newHandle(func() {
		inner.Cancel()
		d.releaseIfEmpty()
	})
}

func (d *DerivedNotifier) subscribeRaw(fn func()) *Handle {
	return d.Subscribe(fn)
}

func (d *DerivedNotifier) releaseIfEmpty() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.notifier.SubscriberCount() > 0 || len(d.depHandles) == 0 {
		return
	}
	for _, h := range d.depHandles {
		h.Cancel()
	}
	d.depHandles = nil
}

// LazyNotifier is a Notifier whose backing external resource (a database
// LISTEN, a filesystem watch) is started lazily on first subscribe and
// stopped the moment the last subscriber drops, the same lazy-lifecycle
// rule DerivedNotifier applies to dependency sources, generalized to an
// arbitrary start/stop pair instead of a fixed set of Sources. start and
// stop are each called at most once between a 0→1 and the following 1→0
// subscriber transition.
type LazyNotifier struct {
	mu       sync.Mutex
	notifier *Notifier
	start    func()
	stop     func()
	started  bool
}

// NewLazyNotifier builds a LazyNotifier with the given scope, invoking start
// when the first subscriber attaches and stop when the last one leaves.
func NewLazyNotifier(scope Scope, start, stop func()) *LazyNotifier {
	return &LazyNotifier{notifier: NewNotifier(scope), start: start, stop: stop}
}

// Scope implements Source.
func (l *LazyNotifier) Scope() Scope { return l.notifier.Scope() }

// Notify fans out to every current subscriber, exactly as Notifier.Notify.
func (l *LazyNotifier) Notify() { l.notifier.Notify() }

// Subscribe registers fn, starting the backing resource first if this is the
// first subscriber since the last stop.
func (l *LazyNotifier) Subscribe(fn func()) *Handle {
	l.mu.Lock()
	if !l.started {
		l.started = true
		l.mu.Unlock()
		l.start()
	} else {
		l.mu.Unlock()
	}

	inner := l.notifier.Subscribe(fn)

	return newHandle(func() {
		inner.Cancel()
		l.releaseIfEmpty()
	})
}

func (l *LazyNotifier) subscribeRaw(fn func()) *Handle {
	return l.Subscribe(fn)
}

func (l *LazyNotifier) releaseIfEmpty() {
	l.mu.Lock()
	if l.notifier.SubscriberCount() > 0 || !l.started {
		l.mu.Unlock()
		return
	}
	l.started = false
	l.mu.Unlock()
	l.stop()
}
