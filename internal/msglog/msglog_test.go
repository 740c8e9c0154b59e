package msglog

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAppendAndString(t *testing.T) {
	l := New(time.Second)
	l.Append(LevelInfo, "relay", "energized")
	l.Append(LevelError, "nvs", "read fail")
	s := l.String()
	require.Contains(t, s, "INFO: relay energized")
	require.Contains(t, s, "ERROR: nvs read fail")
	require.Contains(t, s, ";")
}

func TestSemicolonRewrittenToColon(t *testing.T) {
	l := New(time.Second)
	l.Append(LevelInfo, "x", "a;b;c")
	require.NotContains(t, strings.SplitN(l.String(), ";", 2)[0][:5], ";")
	require.Contains(t, l.String(), "a:b:c")
}

func TestDedupSkipsRepeat(t *testing.T) {
	l := New(time.Second)
	l.Append(LevelInfo, "x", "same")
	l.Append(LevelInfo, "x", "same")
	entries := strings.Split(l.String(), ";")
	require.Len(t, entries, 1)
}

func TestRingEvictsOldestWhenFull(t *testing.T) {
	l := New(time.Second)
	longMsg := strings.Repeat("a", 100)
	for i := 0; i < 200; i++ {
		l.Append(LevelInfo, "x", longMsg+string(rune('A'+i%26)))
	}
	require.LessOrEqual(t, len(l.String()), RingSize)
}

func TestOLEDMessageAutoClears(t *testing.T) {
	l := New(30 * time.Millisecond)
	l.SetOLED("WiFi: connecting")
	require.Equal(t, "WiFi: connecting", l.OLEDMessage())
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, "", l.OLEDMessage())
}

func TestTailCutAtEntryBoundary(t *testing.T) {
	l := New(time.Second)
	l.Append(LevelInfo, "a", "one")
	l.Append(LevelInfo, "b", "two")
	l.Append(LevelInfo, "c", "three")
	tail := l.Tail(12)
	require.False(t, strings.HasPrefix(tail, ";"))
	for _, e := range strings.Split(tail, ";") {
		require.LessOrEqual(t, len(e), MaxEntrySize)
	}
}
