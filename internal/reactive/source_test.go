package reactive

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreSubscribeDeliversCurrentValueImmediately(t *testing.T) {
	s := NewStore[int](ScopeGlobal, 42)

	var got int
	s.Subscribe(func(v int) { got = v })

	assert.Equal(t, 42, got)
}

func TestStoreSetFansOutToEverySubscriberInOrder(t *testing.T) {
	s := NewStore[int](ScopeGlobal, 0)

	var order []string
	s.Subscribe(func(v int) { order = append(order, "a") })
	s.Subscribe(func(v int) { order = append(order, "b") })

	order = nil
	s.Set(1)

	assert.Equal(t, []string{"a", "b"}, order)
}

func TestStoreSetNoEqualitySuppression(t *testing.T) {
	s := NewStore[int](ScopeGlobal, 0)

	count := 0
	s.Subscribe(func(v int) { count++ })

	count = 0
	s.Set(5)
	s.Set(5)

	assert.Equal(t, 2, count)
}

func TestStoreMutateSeesPreviousValue(t *testing.T) {
	s := NewStore[[]int](ScopeGlobal, []int{1, 2})

	s.Mutate(func(prev []int) []int {
		return append(append([]int{}, prev...), 3)
	})

	require.Equal(t, []int{1, 2, 3}, s.Get())
}

func TestStoreCancelStopsFutureDelivery(t *testing.T) {
	s := NewStore[int](ScopeGlobal, 0)

	count := 0
	handle := s.Subscribe(func(v int) { count++ })
	count = 0

	handle.Cancel()
	s.Set(1)

	assert.Equal(t, 0, count)
}

func TestStoreCancelIsIdempotent(t *testing.T) {
	s := NewStore[int](ScopeGlobal, 0)
	handle := s.Subscribe(func(v int) {})

	assert.NotPanics(t, func() {
		handle.Cancel()
		handle.Cancel()
	})
}

func TestNotifierSubscribeDeliversNoInitialEvent(t *testing.T) {
	n := NewNotifier(ScopeGlobal)

	fired := false
	n.Subscribe(func() { fired = true })

	assert.False(t, fired)
}

func TestNotifierNotifyFansOutToAllSubscribers(t *testing.T) {
	n := NewNotifier(ScopeGlobal)

	aFired, bFired := false, false
	n.Subscribe(func() { aFired = true })
	n.Subscribe(func() { bFired = true })

	n.Notify()

	assert.True(t, aFired)
	assert.True(t, bFired)
}

func TestNotifierSubscriberCountTracksCancellation(t *testing.T) {
	n := NewNotifier(ScopeGlobal)

	h1 := n.Subscribe(func() {})
	n.Subscribe(func() {})
	assert.Equal(t, 2, n.SubscriberCount())

	h1.Cancel()
	assert.Equal(t, 1, n.SubscriberCount())
}

func TestScopeString(t *testing.T) {
	assert.Equal(t, "global", ScopeGlobal.String())
	assert.Equal(t, "session", ScopeSession.String())
}
