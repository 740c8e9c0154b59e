// Package msglog implements the bounded message log ring and the OLED
// transient-message surface from spec.md §3.5/C6. It is grounded on the
// teacher's telemetry package (telemetry/telemetry.go's fixed-size
// LogEntry ring and Severity* constants, telemetry/slog.go's slog.Handler
// bridge), generalized from a network-exported OTLP queue into the
// spec's local append/evict/dedup ring of ';'-delimited entries.
package msglog

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"
)

const (
	// RingSize is the ring's total byte budget, per spec.md §3.5.
	RingSize = 8192
	// MaxEntrySize bounds a single formatted entry (including the ';'
	// delimiter), per spec.md §3.5/§9.
	MaxEntrySize = 128
)

// Level mirrors the teacher's OTLP severity levels (telemetry.Severity*),
// renamed to the spec's plain log levels.
type Level int

const (
	LevelInfo Level = iota
	LevelWarn
	LevelError
	LevelCritical
)

func (l Level) String() string {
	switch l {
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	case LevelCritical:
		return "CRITICAL"
	default:
		return "INFO"
	}
}

// Log is the bounded, append-only message ring plus the single-slot OLED
// transient message. Safe for concurrent use; append-only under its own
// mutex per spec.md §5 ("The log ring is append-only under its mutex").
type Log struct {
	mu      sync.Mutex
	entries []string // oldest first, each already formatted and delimiter-safe
	size    int      // sum of len(entry)+1 for the ';' delimiter
	lastRaw string   // last appended "LEVEL: tag msg" before dedup check

	oledMsg          string
	oledLastWrite    time.Time
	msgClearSeconds  time.Duration
}

// New returns an empty Log. msgClearSeconds is how long an OLED message
// stays visible after its last write before auto-clearing, per spec.md
// §3.5.
func New(msgClearSeconds time.Duration) *Log {
	if msgClearSeconds <= 0 {
		msgClearSeconds = 5 * time.Second
	}
	return &Log{msgClearSeconds: msgClearSeconds}
}

// sanitize rewrites ';' to ':' so it can never be mistaken for the
// delimiter, per spec.md §3.5/§9.
func sanitize(s string) string {
	return strings.ReplaceAll(s, ";", ":")
}

func formatEntry(level Level, tag, msg string) string {
	entry := level.String() + ": " + tag + " " + msg
	entry = sanitize(entry)
	if len(entry) > MaxEntrySize-1 {
		entry = entry[:MaxEntrySize-1] // leave room for the ';' delimiter
	}
	return entry
}

// Append adds one log entry, evicting the oldest whole entries to make
// room if the ring is full, and skipping the append if it is an exact
// repeat of the previous entry (the table's "de-dup").
func (l *Log) Append(level Level, tag, msg string) {
	entry := formatEntry(level, tag, msg)

	l.mu.Lock()
	defer l.mu.Unlock()

	if entry == l.lastRaw {
		return
	}
	l.lastRaw = entry

	need := len(entry) + 1 // +1 for ';' delimiter
	for l.size+need > RingSize && len(l.entries) > 0 {
		evicted := l.entries[0]
		l.entries = l.entries[1:]
		l.size -= len(evicted) + 1
	}
	l.entries = append(l.entries, entry)
	l.size += need
}

// String returns the full ring contents as a single ';'-delimited string.
func (l *Log) String() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return strings.Join(l.entries, ";")
}

// Tail returns the most recent whole entries that fit in maxBytes, cut at
// an entry boundary, for C13's save-and-restart log-tail snapshot (spec.md
// §4.8, "LOG_TAIL_SIZE"). The newest entry is always included, even when
// it alone is longer than maxBytes.
func (l *Log) Tail(maxBytes int) string {
	l.mu.Lock()
	defer l.mu.Unlock()

	var kept []string
	total := 0
	for i := len(l.entries) - 1; i >= 0; i-- {
		e := l.entries[i]
		if total+len(e)+1 > maxBytes && len(kept) > 0 {
			break
		}
		kept = append([]string{e}, kept...)
		total += len(e) + 1
		if total >= maxBytes {
			break
		}
	}
	return strings.Join(kept, ";")
}

// SetOLED writes the transient OLED message, resetting its auto-clear
// timer.
func (l *Log) SetOLED(msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.oledMsg = msg
	l.oledLastWrite = time.Now()
}

// OLEDMessage returns the current transient message, or "" if it has
// auto-cleared (msgClearSeconds elapsed since its last write).
func (l *Log) OLEDMessage() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.oledMsg == "" {
		return ""
	}
	if time.Since(l.oledLastWrite) > l.msgClearSeconds {
		return ""
	}
	return l.oledMsg
}

// SlogHandler bridges log/slog records into the Log ring, the direct
// generalization of the teacher's telemetry.SlogHandler (telemetry/slog.go):
// every record at Info level or above is mapped to a ring entry, using
// the logger's group as the entry's tag.
type SlogHandler struct {
	log   *Log
	inner slog.Handler
	level slog.Leveler
	group string
}

// NewSlogHandler wraps inner (typically a slog.TextHandler writing to
// stderr/a file) so every record is also appended to log.
func NewSlogHandler(log *Log, inner slog.Handler, level slog.Leveler) *SlogHandler {
	return &SlogHandler{log: log, inner: inner, level: level}
}

func (h *SlogHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *SlogHandler) Handle(ctx context.Context, r slog.Record) error {
	err := h.inner.Handle(ctx, r)
	if r.Level >= slog.LevelInfo {
		h.log.Append(slogLevelToRingLevel(r.Level), h.group, r.Message)
	}
	return err
}

func (h *SlogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &SlogHandler{log: h.log, inner: h.inner.WithAttrs(attrs), level: h.level, group: h.group}
}

func (h *SlogHandler) WithGroup(name string) slog.Handler {
	g := name
	if h.group != "" {
		g = h.group + "." + name
	}
	return &SlogHandler{log: h.log, inner: h.inner.WithGroup(name), level: h.level, group: g}
}

func slogLevelToRingLevel(level slog.Level) Level {
	switch {
	case level >= slog.LevelError:
		return LevelError
	case level >= slog.LevelWarn:
		return LevelWarn
	default:
		return LevelInfo
	}
}
