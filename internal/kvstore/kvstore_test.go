package kvstore

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// memBlobStore is an in-memory BlobStore fake used so these tests exercise
// the CRC/namespace/key-length logic without a real sqlite file.
type memBlobStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemBlobStore() *memBlobStore {
	return &memBlobStore{data: make(map[string][]byte)}
}

func (m *memBlobStore) Get(namespace, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[namespace+"/"+key]
	return v, ok, nil
}

func (m *memBlobStore) Put(namespace, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]byte, len(value))
	copy(cp, value)
	m.data[namespace+"/"+key] = cp
	return nil
}

func (m *memBlobStore) Delete(namespace, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, namespace+"/"+key)
	return nil
}

func (m *memBlobStore) EraseAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = make(map[string][]byte)
	return nil
}

func (m *memBlobStore) Close() error { return nil }

func TestRoundTrip(t *testing.T) {
	s := New(newMemBlobStore())
	ns, err := s.Open("settings")
	require.NoError(t, err)
	defer ns.Release()

	status, err := ns.Write("tempSave", []byte("hello world"))
	require.NoError(t, err)
	require.Equal(t, WriteOK, status)

	got, status, err := ns.Read("tempSave")
	require.NoError(t, err)
	require.Equal(t, ReadOK, status)
	require.Equal(t, []byte("hello world"), got)
}

func TestNewEntryDistinctFromReadFail(t *testing.T) {
	s := New(newMemBlobStore())
	ns, _ := s.Open("settings")
	defer ns.Release()

	_, status, err := ns.Read("neverWritten")
	require.NoError(t, err)
	require.Equal(t, NewEntry, status)
}

func TestCorruptedCRCYieldsReadFail(t *testing.T) {
	blob := newMemBlobStore()
	s := New(blob)
	ns, _ := s.Open("settings")
	defer ns.Release()

	_, err := ns.Write("lightSave", []byte{1, 2, 3, 4, 5})
	require.NoError(t, err)

	// Flip a byte in the stored value without updating its CRC.
	raw, _, _ := blob.Get("settings", "lightSave")
	raw[0] ^= 0xFF
	blob.Put("settings", "lightSave", raw)

	out := make([]byte, 5)
	n, status, err := ns.ReadInto("lightSave", out)
	require.NoError(t, err)
	require.Equal(t, ReadFail, status)
	require.Equal(t, 0, n)
	for _, b := range out {
		require.Equal(t, byte(0), b)
	}
}

func TestWriteBeforeReadOptimizationSkipsRewrite(t *testing.T) {
	blob := newMemBlobStore()
	s := New(blob)
	ns, _ := s.Open("settings")
	defer ns.Release()

	_, err := ns.Write("k", []byte("same"))
	require.NoError(t, err)
	csBefore, _, _ := blob.Get("settings", "CSk")

	status, err := ns.Write("k", []byte("same"))
	require.NoError(t, err)
	require.Equal(t, WriteOK, status)
	csAfter, _, _ := blob.Get("settings", "CSk")
	require.Equal(t, csBefore, csAfter)
}

func TestKeyLengthRules(t *testing.T) {
	s := New(newMemBlobStore())
	ns, _ := s.Open("settings")
	defer ns.Release()

	_, err := ns.Write("", []byte("x"))
	require.ErrorIs(t, err, ErrKeyLength)

	_, err = ns.Write("thisKeyIsWayTooLong", []byte("x"))
	require.ErrorIs(t, err, ErrKeyLength)

	status, err := ns.Write("twelve12char", []byte("ok"))
	require.NoError(t, err)
	require.Equal(t, WriteOK, status)
}

func TestNamespaceLengthRules(t *testing.T) {
	s := New(newMemBlobStore())
	_, err := s.Open("waaaaaaaaaaaaaaaaaaaay-too-long")
	require.ErrorIs(t, err, ErrKeyLength)
}

func TestDoubleOpenIsNoOp(t *testing.T) {
	s := New(newMemBlobStore())
	ns1, err := s.Open("settings")
	require.NoError(t, err)
	ns2, err := s.Open("settings")
	require.NoError(t, err)

	ns1.Release()
	// Namespace still considered open (refcount 1) -- writes still succeed.
	status, err := ns2.Write("k", []byte("v"))
	require.NoError(t, err)
	require.Equal(t, WriteOK, status)
	ns2.Release()
}

func TestCRC32MatchesIEEE(t *testing.T) {
	// Known CRC-32/Ethernet value for ASCII "123456789" is 0xCBF43926.
	require.Equal(t, uint32(0xCBF43926), CRC32([]byte("123456789")))
}

func TestEraseAll(t *testing.T) {
	blob := newMemBlobStore()
	s := New(blob)
	ns, _ := s.Open("settings")
	ns.Write("k", []byte("v"))
	ns.Release()

	require.NoError(t, s.EraseAll())
	ns2, _ := s.Open("settings")
	defer ns2.Release()
	_, status, _ := ns2.Read("k")
	require.Equal(t, NewEntry, status)
}
