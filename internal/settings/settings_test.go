package settings

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/openenterprise/greenhouse/internal/clock"
	"github.com/openenterprise/greenhouse/internal/kvstore"
	"github.com/openenterprise/greenhouse/internal/msglog"
	"github.com/openenterprise/greenhouse/internal/relay"
)

type memBlobStore struct {
	data map[string][]byte
}

func newMemBlobStore() *memBlobStore { return &memBlobStore{data: make(map[string][]byte)} }

func (m *memBlobStore) Get(namespace, key string) ([]byte, bool, error) {
	v, ok := m.data[namespace+"/"+key]
	return v, ok, nil
}
func (m *memBlobStore) Put(namespace, key string, value []byte) error {
	m.data[namespace+"/"+key] = append([]byte(nil), value...)
	return nil
}
func (m *memBlobStore) Delete(namespace, key string) error {
	delete(m.data, namespace+"/"+key)
	return nil
}
func (m *memBlobStore) EraseAll() error { m.data = make(map[string][]byte); return nil }
func (m *memBlobStore) Close() error    { return nil }

type fakeDriver struct{}

func (fakeDriver) SetEnergized(energized bool) error { return nil }

type fakeRestarter struct{ calls int }

func (f *fakeRestarter) RestartProcess() { f.calls++ }

func TestSaveSkipsUnchangedCategory(t *testing.T) {
	blob := newMemBlobStore()
	kv := kvstore.New(blob)
	s := New(kv, msglog.New(0), clock.New(), nil, nil)

	s.Register(NewFuncCategory("temp", "sensors", "temp",
		func() map[string]any { return map[string]any{"trip": 30.0} },
		func(map[string]any) error { return nil }))

	require.NoError(t, s.Save())
	require.Contains(t, blob.data, "sensors/temp")
	// A second save with an identical snapshot must not rewrite the key:
	// compare() returns false for the unchanged category, so the key
	// removed from the backing store here stays absent.
	delete(blob.data, "sensors/temp")
	require.NoError(t, s.Save())
	require.NotContains(t, blob.data, "sensors/temp")
}

func TestRelayCategoryRoundTrip(t *testing.T) {
	kv := kvstore.New(newMemBlobStore())
	s := New(kv, msglog.New(0), clock.New(), nil, nil)

	r := relay.New("pump", fakeDriver{}, nil, nil)
	require.NoError(t, r.SetTimer(3600, 7200, 0x7F))

	var attached relay.ClientID
	cat := NewRelayCategory("relay0", "relays", "relay0", r, "settings", func(id relay.ClientID) {
		attached = id
	})
	s.Register(cat)
	require.NoError(t, s.Save())

	// Simulate a fresh process: new relay, new Saver, load from the same
	// backing store.
	r2 := relay.New("pump", fakeDriver{}, nil, nil)
	s2 := New(kv, msglog.New(0), clock.New(), nil, nil)
	var attached2 relay.ClientID
	cat2 := NewRelayCategory("relay0", "relays", "relay0", r2, "settings", func(id relay.ClientID) {
		attached2 = id
	})
	s2.Register(cat2)
	s2.Load()

	require.Equal(t, 3600, r2.Timer().OnTime)
	require.Equal(t, 7200, r2.Timer().OffTime)
	require.NotEqual(t, relay.ClientID{}, attached2)
	// Save alone never reattaches: only Load's Restore calls onAttach.
	require.Equal(t, relay.ClientID{}, attached)
}

func TestSaveAndRestartPersistsLogTailAndRestarts(t *testing.T) {
	kv := kvstore.New(newMemBlobStore())
	log := msglog.New(0)
	log.Append(msglog.LevelCritical, "heartbeat", "task expired")

	restarter := &fakeRestarter{}
	s := New(kv, log, clock.New(), restarter, nil)
	s.SaveAndRestart("heartbeat failure threshold reached")

	require.Equal(t, 1, restarter.calls)

	ns, err := kv.Open(restartNamespace)
	require.NoError(t, err)
	defer ns.Release()
	tail, status, err := ns.Read(logTailKey)
	require.NoError(t, err)
	require.Equal(t, kvstore.ReadOK, status)
	require.Contains(t, string(tail), "task expired")
}

func TestLoadSkipsCategoryOnReadFailureWithoutError(t *testing.T) {
	kv := kvstore.New(newMemBlobStore())
	s := New(kv, msglog.New(0), clock.New(), nil, nil)

	restoreCalled := false
	s.Register(NewFuncCategory("never-saved", "sensors", "x",
		func() map[string]any { return nil },
		func(map[string]any) error { restoreCalled = true; return nil }))

	require.NotPanics(t, func() { s.Load() })
	require.False(t, restoreCalled, "NEW_ENTRY must not call Restore")
}
