package heartbeat

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeRestarter struct {
	calls []string
}

func (f *fakeRestarter) SaveAndRestart(reason string) {
	f.calls = append(f.calls, reason)
}

func TestRegisterRogerUpSurvives(t *testing.T) {
	s := New(nil, nil)
	id, err := s.Register("temphum", 3)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		s.RogerUp(id, 3)
		s.Manage()
	}
	require.Equal(t, uint8(0), s.slots[id].failureCount)
}

func TestExpiryTriggersRestartAtThreshold(t *testing.T) {
	r := &fakeRestarter{}
	s := New(nil, r)
	id, err := s.Register("task", 3)
	require.NoError(t, err)

	// Ticks 1-3 decrement 3->0. Ticks 4+ increment failure_count.
	for i := 0; i < 3; i++ {
		s.Manage()
	}
	require.Equal(t, uint8(0), s.slots[id].remaining)
	require.Equal(t, uint8(0), s.slots[id].failureCount)

	s.Manage() // failure 1
	require.Equal(t, uint8(1), s.slots[id].failureCount)
	require.Empty(t, r.calls)

	s.Manage() // failure 2
	require.Empty(t, r.calls)

	s.Manage() // failure 3 -> restart, exactly once
	require.Len(t, r.calls, 1)
}

func TestSuspendPreventsExpiry(t *testing.T) {
	s := New(nil, nil)
	id, _ := s.Register("task", 1)
	s.Suspend(id, "alert-http-call")

	for i := 0; i < 10; i++ {
		s.Manage()
	}
	require.Equal(t, uint8(0), s.slots[id].failureCount)
}

func TestReleaseExtendsDeadline(t *testing.T) {
	s := New(nil, nil)
	id, _ := s.Register("task", 0)
	s.Release(id)
	require.Greater(t, s.slots[id].remaining, uint8(0))
}

func TestSuspendAllBlocksManage(t *testing.T) {
	r := &fakeRestarter{}
	s := New(nil, r)
	id, _ := s.Register("task", 0)
	s.SuspendAll("http")
	for i := 0; i < HeartbeatResetFails+1; i++ {
		s.Manage()
	}
	require.Equal(t, uint8(0), s.slots[id].failureCount)
	require.Empty(t, r.calls)
	s.ReleaseAll()
	require.Greater(t, s.slots[id].remaining, uint8(0))
}

func TestRegisterFullReturnsErrFull(t *testing.T) {
	s := New(nil, nil)
	for i := 0; i < MaxSlots; i++ {
		_, err := s.Register("t", 5)
		require.NoError(t, err)
	}
	_, err := s.Register("overflow", 5)
	require.ErrorIs(t, err, ErrFull)
}

func TestCallerTagTruncated(t *testing.T) {
	s := New(nil, nil)
	id, err := s.Register("this-tag-is-way-too-long-for-a-slot", 5)
	require.NoError(t, err)
	require.LessOrEqual(t, len(s.slots[id].callerTag), MaxCallerTagLen)
}
