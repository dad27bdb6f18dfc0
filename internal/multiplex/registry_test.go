package multiplex

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamspace/reactive-query-server/internal/reactive"
)

func TestDedupKeyDistinguishesSessionActionAndFingerprint(t *testing.T) {
	k1 := dedupKey(reactive.SessionID("s1"), "itemsList", "{}")
	k2 := dedupKey(reactive.SessionID("s2"), "itemsList", "{}")
	k3 := dedupKey(reactive.SessionID("s1"), "otherQuery", "{}")
	k4 := dedupKey(reactive.SessionID("s1"), "itemsList", `{"id":1}`)

	assert.NotEqual(t, k1, k2)
	assert.NotEqual(t, k1, k3)
	assert.NotEqual(t, k1, k4)
}

func TestDedupKeySameInputsProduceSameKey(t *testing.T) {
	k1 := dedupKey(reactive.SessionID("s1"), "itemsList", "{}")
	k2 := dedupKey(reactive.SessionID("s1"), "itemsList", "{}")
	assert.Equal(t, k1, k2)
}

func newTestLiveResult(t *testing.T) *reactive.LiveResult {
	t.Helper()
	q := &reactive.QueryDef{
		Compute: func(ctx context.Context, args any) (any, error) {
			return "v", nil
		},
	}
	result, err := q.Build(context.Background(), nil)
	require.NoError(t, err)
	live, ok := result.(*reactive.LiveResult)
	require.True(t, ok)
	return live
}

func TestRegistryGetOrCreateBuildsOnceForSameKey(t *testing.T) {
	r := newRegistry()
	builds := 0

	build := func() (*reactive.LiveResult, error) {
		builds++
		return newTestLiveResult(t), nil
	}

	entry1, created1, err := r.getOrCreate("key-a", build)
	require.NoError(t, err)
	assert.True(t, created1)

	entry2, created2, err := r.getOrCreate("key-a", build)
	require.NoError(t, err)
	assert.False(t, created2)
	assert.Same(t, entry1, entry2)
	assert.Equal(t, 1, builds)
}

func TestRegistryGetOrCreateDifferentKeysBuildIndependently(t *testing.T) {
	r := newRegistry()

	e1, _, err := r.getOrCreate("key-a", func() (*reactive.LiveResult, error) {
		return newTestLiveResult(t), nil
	})
	require.NoError(t, err)

	e2, _, err := r.getOrCreate("key-b", func() (*reactive.LiveResult, error) {
		return newTestLiveResult(t), nil
	})
	require.NoError(t, err)

	assert.NotSame(t, e1, e2)
}

func TestRegistryDropIfEmptyRemovesOnlyWhenNoSubscribers(t *testing.T) {
	r := newRegistry()
	entry, _, err := r.getOrCreate("key-a", func() (*reactive.LiveResult, error) {
		return newTestLiveResult(t), nil
	})
	require.NoError(t, err)

	entry.subscribers["sub-1"] = &reactive.Handle{}
	r.dropIfEmpty("key-a", entry)
	_, ok := r.get("key-a")
	assert.True(t, ok, "entry with a live subscriber must not be dropped")

	delete(entry.subscribers, "sub-1")
	r.dropIfEmpty("key-a", entry)
	_, ok = r.get("key-a")
	assert.False(t, ok, "entry with no subscribers left must be dropped")
}

func TestRegistryLenReflectsLiveEntries(t *testing.T) {
	r := newRegistry()
	assert.Equal(t, 0, r.len())

	r.getOrCreate("key-a", func() (*reactive.LiveResult, error) {
		return newTestLiveResult(t), nil
	})
	assert.Equal(t, 1, r.len())
}

func TestRegistryGetMissingKey(t *testing.T) {
	r := newRegistry()
	_, ok := r.get("nope")
	assert.False(t, ok)
}
