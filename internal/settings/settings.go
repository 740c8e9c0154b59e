// Package settings implements the settings saver (spec.md §4.8, C13):
// change-detected persistence of every sensor/relay category to the
// key/value store, boot-time load with relay reattachment, and
// save-and-restart. It is grounded on the teacher's flash-settings
// save/load pair in main.go, generalized from one fixed struct blob to
// a set of independently-compared categories.
package settings

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/openenterprise/greenhouse/internal/clock"
	"github.com/openenterprise/greenhouse/internal/collab"
	"github.com/openenterprise/greenhouse/internal/kvstore"
	"github.com/openenterprise/greenhouse/internal/msglog"
	"github.com/openenterprise/greenhouse/internal/relay"
)

// DefaultAutoSaveInterval is spec.md §4.8's AUTO_SAVE_FRQ default.
const DefaultAutoSaveInterval = 5 * time.Minute

// LogTailSize bounds the save-and-restart log snapshot, per spec.md
// §4.8 ("the last LOG_TAIL_SIZE bytes of the message log").
const LogTailSize = 1024

const restartNamespace = "restart"
const logTailKey = "logtail"
const restartTimeKey = "rstime"

// Category is one persisted settings unit: temp, hum, a relay, a soil
// channel, or light, per spec.md §4.8's "for each of {temp, hum, four
// relays, four soil, light}".
type Category interface {
	Name() string
	Namespace() string
	Key() string
	Snapshot() map[string]any
	Restore(data map[string]any) error
}

// Saver is the settings saver.
type Saver struct {
	kv        *kvstore.Store
	log       *msglog.Log
	clk       *clock.Clock
	restarter collab.Restarter
	logger    *slog.Logger

	mu         sync.Mutex
	categories []Category
	masters    map[string][]byte
}

// New returns a Saver backed by kv, with log/clk used for the
// save-and-restart snapshot.
func New(kv *kvstore.Store, log *msglog.Log, clk *clock.Clock, restarter collab.Restarter, logger *slog.Logger) *Saver {
	return &Saver{kv: kv, log: log, clk: clk, restarter: restarter, logger: logger, masters: make(map[string][]byte)}
}

// Register adds a category to be saved/loaded.
func (s *Saver) Register(c Category) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.categories = append(s.categories, c)
}

// compare reports whether current differs from the cached master bytes
// for name, updating the cached master when it does -- spec.md §4.8's
// "generic compare(current, new) -> bool that also overwrites the
// master when different."
func (s *Saver) compare(name string, current []byte) bool {
	cached, ok := s.masters[name]
	if ok && bytes.Equal(cached, current) {
		return false
	}
	s.masters[name] = current
	return true
}

// Save writes every category whose snapshot changed since the last save,
// per spec.md §4.8.
func (s *Saver) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range s.categories {
		data, err := json.Marshal(c.Snapshot())
		if err != nil {
			return fmt.Errorf("settings: marshal %s: %w", c.Name(), err)
		}
		if !s.compare(c.Name(), data) {
			continue
		}

		ns, err := s.kv.Open(c.Namespace())
		if err != nil {
			return fmt.Errorf("settings: open %s: %w", c.Namespace(), err)
		}
		_, err = ns.Write(c.Key(), data)
		ns.Release()
		if err != nil {
			if s.logger != nil {
				s.logger.Error("settings:save-failed", slog.String("category", c.Name()), slog.String("err", err.Error()))
			}
			return err
		}
	}
	return nil
}

// Load reads every category's persisted blob and restores it, per
// spec.md §4.8. Individual failures are logged and skipped; Load never
// fails outright, matching a boot-time best-effort recovery.
func (s *Saver) Load() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range s.categories {
		ns, err := s.kv.Open(c.Namespace())
		if err != nil {
			if s.logger != nil {
				s.logger.Error("settings:load-open-failed", slog.String("category", c.Name()))
			}
			continue
		}
		data, status, err := ns.Read(c.Key())
		ns.Release()
		if err != nil || status != kvstore.ReadOK {
			if s.logger != nil {
				s.logger.Warn("settings:load-skip", slog.String("category", c.Name()), slog.Any("status", status))
			}
			continue
		}

		var decoded map[string]any
		if err := json.Unmarshal(data, &decoded); err != nil {
			if s.logger != nil {
				s.logger.Error("settings:load-decode-failed", slog.String("category", c.Name()))
			}
			continue
		}
		if err := c.Restore(decoded); err != nil {
			if s.logger != nil {
				s.logger.Error("settings:load-restore-failed", slog.String("category", c.Name()), slog.String("err", err.Error()))
			}
			continue
		}
		s.masters[c.Name()] = data
	}

	s.emitLastSession()
}

// emitLastSession logs the previous session's saved log tail and restart
// timestamp, per spec.md §4.8's "After loading, read and emit the
// previous session's last log-tail and restart-timestamp entries."
func (s *Saver) emitLastSession() {
	ns, err := s.kv.Open(restartNamespace)
	if err != nil {
		return
	}
	defer ns.Release()

	if tail, status, err := ns.Read(logTailKey); err == nil && status == kvstore.ReadOK && s.logger != nil {
		s.logger.Info("settings:previous-session-log-tail", slog.String("tail", string(tail)))
	}
	if ts, status, err := ns.Read(restartTimeKey); err == nil && status == kvstore.ReadOK && s.logger != nil {
		s.logger.Info("settings:previous-session-restart-time", slog.String("at", string(ts)))
	}
}

// SaveAndRestart implements heartbeat.Restarter and alert.Restarter:
// save(), snapshot the log tail, record the restart timestamp, then
// restart the process, per spec.md §4.8.
func (s *Saver) SaveAndRestart(reason string) {
	if s.logger != nil {
		s.logger.Error("settings:save-and-restart", slog.String("reason", reason))
	}
	_ = s.Save()

	s.mu.Lock()
	ns, err := s.kv.Open(restartNamespace)
	if err == nil {
		tail := s.log.Tail(LogTailSize)
		_, _ = ns.Write(logTailKey, []byte(tail))

		wall := s.clk.Wall()
		_, _ = ns.Write(restartTimeKey, []byte(fmt.Sprintf("%02d:%02d:%02d@%d", wall.Hour, wall.Minute, wall.Second, s.clk.Seconds())))
		ns.Release()
	}
	s.mu.Unlock()

	if s.restarter != nil {
		s.restarter.RestartProcess()
	}
}

// RelayCategory adapts a relay's daily timer into a settings.Category,
// reattaching the relay client on Restore per spec.md §4.8.
type RelayCategory struct {
	name      string
	namespace string
	key       string
	relay     *relay.Relay
	callerTag string
	onAttach  func(relay.ClientID)
}

// NewRelayCategory returns a Category persisting relayRef's timer and
// reattaching it as callerTag on load, invoking onAttach with the
// freshly acquired ClientID.
func NewRelayCategory(name, namespace, key string, relayRef *relay.Relay, callerTag string, onAttach func(relay.ClientID)) *RelayCategory {
	return &RelayCategory{name: name, namespace: namespace, key: key, relay: relayRef, callerTag: callerTag, onAttach: onAttach}
}

func (r *RelayCategory) Name() string      { return r.name }
func (r *RelayCategory) Namespace() string { return r.namespace }
func (r *RelayCategory) Key() string       { return r.key }

func (r *RelayCategory) Snapshot() map[string]any {
	t := r.relay.Timer()
	return map[string]any{"on_time": t.OnTime, "off_time": t.OffTime, "weekdays": t.Weekdays}
}

func (r *RelayCategory) Restore(data map[string]any) error {
	onTime := toInt(data["on_time"])
	offTime := toInt(data["off_time"])
	weekdays := uint8(toInt(data["weekdays"]))
	if err := r.relay.SetTimer(onTime, offTime, weekdays); err != nil {
		return err
	}
	id, err := r.relay.Acquire(r.callerTag)
	if err != nil {
		return err
	}
	if r.onAttach != nil {
		r.onAttach(id)
	}
	return nil
}

func toInt(v any) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	default:
		return 0
	}
}

// FuncCategory adapts an arbitrary snapshot/restore function pair (cmd/ghd
// uses it for the temp/hum bound configuration) into a Category.
type FuncCategory struct {
	name, namespace, key string
	snapshot             func() map[string]any
	restore              func(map[string]any) error
}

// NewFuncCategory returns a Category backed by snapshot/restore funcs.
func NewFuncCategory(name, namespace, key string, snapshot func() map[string]any, restore func(map[string]any) error) *FuncCategory {
	return &FuncCategory{name: name, namespace: namespace, key: key, snapshot: snapshot, restore: restore}
}

func (f *FuncCategory) Name() string                 { return f.name }
func (f *FuncCategory) Namespace() string            { return f.namespace }
func (f *FuncCategory) Key() string                  { return f.key }
func (f *FuncCategory) Snapshot() map[string]any     { return f.snapshot() }
func (f *FuncCategory) Restore(data map[string]any) error { return f.restore(data) }
