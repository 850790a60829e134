package ephemeral

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreSetGetDelete(t *testing.T) {
	s := NewStore()
	var notified int
	unsub := s.SubscribeLocalUpdates(func() { notified++ })

	s.Set("2000", []byte("online"))
	v, ok := s.Get("2000")
	require.True(t, ok)
	assert.Equal(t, []byte("online"), v)
	assert.Equal(t, 1, notified)

	s.Delete("2000")
	_, ok = s.Get("2000")
	assert.False(t, ok)
	assert.Equal(t, 2, notified)

	unsub()
	s.Set("2000", []byte("again"))
	assert.Equal(t, 2, notified, "unsubscribed callback should not fire")
}

func TestStoreEncodeApplyRoundTrip(t *testing.T) {
	a := NewStore()
	a.Set("2000", []byte("online"))
	a.Set("3000", []byte("away"))

	blob, err := a.EncodeAll()
	require.NoError(t, err)

	b := NewStore()
	require.NoError(t, b.Apply(blob))

	assert.Equal(t, a.GetAllStates(), b.GetAllStates())
}

func TestManagerGetOrCreateIsStable(t *testing.T) {
	m := NewManager(nil)
	s1 := m.GetOrCreate("d1", "presence")
	s2 := m.GetOrCreate("d1", "presence")
	assert.Same(t, s1, s2)
}

func TestManagerRegisterExternalRejectsDuplicate(t *testing.T) {
	m := NewManager(nil)
	require.NoError(t, m.RegisterExternal("d1", "presence", NewStore()))

	err := m.RegisterExternal("d1", "presence", NewStore())
	var already ErrStoreAlreadyRegistered
	require.ErrorAs(t, err, &already)
	assert.Equal(t, "d1", already.DocID)
}

func TestManagerOnLocalChangeFires(t *testing.T) {
	var gotDoc, gotNS string
	m := NewManager(func(docID, namespace string) {
		gotDoc, gotNS = docID, namespace
	})

	store := m.GetOrCreate("d1", "presence")
	store.Set("2000", []byte("online"))

	assert.Equal(t, "d1", gotDoc)
	assert.Equal(t, "presence", gotNS)
}

func TestManagerEncodeAllForDocSkipsEmpty(t *testing.T) {
	m := NewManager(nil)
	store := m.GetOrCreate("d1", "presence")
	store.Set("2000", []byte("online"))
	store.Set("3000", []byte{})

	entries := m.EncodeAllForDoc("d1")
	require.Len(t, entries, 1)
	assert.Equal(t, "2000", entries[0].PeerID)
	assert.Equal(t, "presence", entries[0].Namespace)
}

func TestManagerResetUnsubscribesAndClears(t *testing.T) {
	calls := 0
	m := NewManager(func(string, string) { calls++ })
	store := m.GetOrCreate("d1", "presence")
	store.Set("2000", []byte("a"))
	assert.Equal(t, 1, calls)

	m.Reset()
	_, ok := m.Get("d1", "presence")
	assert.False(t, ok)

	// The old store reference is still usable by whoever held it, but its
	// updates should no longer reach the manager's callback.
	store.Set("2000", []byte("b"))
	assert.Equal(t, 1, calls)
}
