// Package relay implements the multi-owner, reference-counted relay
// actuator from spec.md §3.2/§4.2 (C7): a fixed 10-slot client arbitration
// table with forced-off override and a daily time-of-day scheduler. It
// follows the §9 re-architecture guidance directly: "model as a
// reference-counted actuator: an enum of client states in a fixed-size
// table, not a dynamic map."
package relay

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/openenterprise/greenhouse/internal/clock"
	"github.com/openenterprise/greenhouse/internal/flagreg"
)

// MaxClients is the per-relay client table size, per spec.md §3.2.
const MaxClients = 10

// TimerOff is the sentinel that disables a timer edge, per spec.md §3.2.
const TimerOff = 99999

const secondsPerDay = 86400

// State is the relay's own state machine, per spec.md §3.2.
type State int

const (
	Off State = iota
	On
	ForcedOff
	ForceRemoved
)

// ClientState is a single client slot's state, per spec.md §3.2.
type ClientState int

const (
	Available ClientState = iota
	Reserved
	ClientOn
	ClientOff
)

// ClientID identifies an acquired client slot. The spec calls this an
// "opaque id"; per SPEC_FULL.md's DOMAIN STACK this is backed by a UUID
// for external stability while the arbitration table itself stays the
// fixed-size array spec.md §3.2 requires (the UUID is only a lookup key
// into that array, never a substitute for it).
type ClientID uuid.UUID

// ErrFull is returned by Acquire when all MaxClients slots are taken.
var ErrFull = errors.New("relay: no free client slots")

// ErrUnknownClient is returned when an operation references a ClientID
// that was never acquired (or has since been released).
var ErrUnknownClient = errors.New("relay: unknown client id")

type clientSlot struct {
	id    ClientID
	state ClientState
	tag   string
}

// Timer is the per-relay daily on/off scheduler, per spec.md §3.2.
type Timer struct {
	OnTime   int // seconds-of-day, or TimerOff
	OffTime  int
	OnSet    bool
	OffSet   bool
	Weekdays uint8 // bit0=Sun .. bit6=Sat
	Ready    bool
}

// Driver is the physical actuation collaborator; each relay owns exactly
// one GPIO/output per spec.md §5 ("Physical GPIOs are owned by exactly
// one component").
type Driver interface {
	SetEnergized(energized bool) error
}

// Relay is one arbitrated actuator.
type Relay struct {
	mu sync.Mutex

	name    string
	driver  Driver
	log     *slog.Logger
	metrics Observer

	state      State
	clients    [MaxClients]clientSlot
	physicalOn bool
	timer      Timer
}

// Observer receives relay state-transition notifications for the ambient
// metrics surface (internal/metrics); nil is a valid no-op observer.
type Observer interface {
	RelayStateChanged(name string, physicalOn bool)
}

// New returns a relay named name (used in logs/metrics) driven by driver.
func New(name string, driver Driver, logger *slog.Logger, metrics Observer) *Relay {
	r := &Relay{name: name, driver: driver, log: logger, metrics: metrics}
	r.timer = Timer{OnTime: TimerOff, OffTime: TimerOff}
	return r
}

// Acquire reserves a client slot for callerTag (truncated to 15 chars to
// match the §3.3 tag convention), returning its opaque ClientID.
func (r *Relay) Acquire(callerTag string) (ClientID, error) {
	if len(callerTag) > 15 {
		callerTag = callerTag[:15]
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.clients {
		if r.clients[i].state == Available && r.clients[i].id == (ClientID{}) {
			id := ClientID(uuid.New())
			r.clients[i] = clientSlot{id: id, state: Reserved, tag: callerTag}
			return id, nil
		}
	}
	if r.log != nil {
		r.log.Error("relay:acquire-failed", slog.String("relay", r.name), slog.String("tag", callerTag))
	}
	return ClientID{}, ErrFull
}

// Release frees a previously acquired client slot, per spec.md §3.2
// ("released on detachment").
func (r *Relay) Release(id ClientID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if i := r.findLocked(id); i >= 0 {
		r.clients[i] = clientSlot{}
	}
}

func (r *Relay) findLocked(id ClientID) int {
	for i := range r.clients {
		if r.clients[i].id == id && r.clients[i].state != Available {
			return i
		}
	}
	return -1
}

func (r *Relay) anyClientOnLocked() bool {
	for i := range r.clients {
		if r.clients[i].state == ClientOn {
			return true
		}
	}
	return false
}

// RequestOn asks for id's slot to be ON. id must come from a still-live
// Acquire (RequestOff alone never invalidates it). No-op (returns nil) if
// the relay is currently FORCED_OFF, per spec.md §4.2.
func (r *Relay) RequestOn(id ClientID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state == ForcedOff {
		return nil
	}

	i := r.findLocked(id)
	if i < 0 {
		return ErrUnknownClient
	}
	r.clients[i].state = ClientOn

	if !r.physicalOn {
		if err := r.energizeLocked(); err != nil {
			return err
		}
	}
	r.state = On
	return nil
}

// RequestOff asks for id's slot to be OFF. The slot stays bound to id
// (state ClientOff) rather than freeing, per spec.md §3.2's "client ids
// are reserved at subscriber init and released on detachment" — only
// Release frees a slot back to Available, so a long-lived client can
// cycle RequestOff/RequestOn indefinitely on the same id. If no slot
// remains ON, the relay physically de-energizes.
func (r *Relay) RequestOff(id ClientID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	i := r.findLocked(id)
	if i < 0 {
		return ErrUnknownClient
	}
	r.clients[i].state = ClientOff

	if r.physicalOn && !r.anyClientOnLocked() {
		if err := r.deenergizeLocked(); err != nil {
			return err
		}
		if r.state == On {
			r.state = Off
		}
	}
	return nil
}

// ForceOff unconditionally de-energizes regardless of client requests,
// per spec.md §4.2.
func (r *Relay) ForceOff() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = ForcedOff
	return r.deenergizeLocked()
}

// RemoveForce clears the force-off override; normal arbitration resumes
// on the next RequestOn, but RemoveForce alone never re-energizes
// (spec.md §8 scenario S1).
func (r *Relay) RemoveForce() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = ForceRemoved
}

func (r *Relay) energizeLocked() error {
	if r.driver != nil {
		if err := r.driver.SetEnergized(true); err != nil {
			if r.log != nil {
				r.log.Error("relay:energize-failed", slog.String("relay", r.name), slog.String("err", err.Error()))
			}
			return err
		}
	}
	r.physicalOn = true
	r.logTransition("on")
	return nil
}

func (r *Relay) deenergizeLocked() error {
	if r.driver != nil {
		if err := r.driver.SetEnergized(false); err != nil {
			if r.log != nil {
				r.log.Error("relay:deenergize-failed", slog.String("relay", r.name), slog.String("err", err.Error()))
			}
			return err
		}
	}
	r.physicalOn = false
	r.logTransition("off")
	return nil
}

func (r *Relay) logTransition(what string) {
	if r.log != nil {
		r.log.Info("relay:transition", slog.String("relay", r.name), slog.String("state", what))
	}
	if r.metrics != nil {
		r.metrics.RelayStateChanged(r.name, r.physicalOn)
	}
}

// IsPhysicallyOn reports physical_on per the invariant in spec.md §8.1.
func (r *Relay) IsPhysicallyOn() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state != ForcedOff && r.physicalOn
}

// State returns the relay's own state machine value.
func (r *Relay) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// SetTimer validates and installs the daily on/off schedule, per spec.md
// §4.2.
func (r *Relay) SetTimer(onTime, offTime int, weekdays uint8) error {
	if err := validateTimerEdge(onTime); err != nil {
		return err
	}
	if err := validateTimerEdge(offTime); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.timer.OnTime = onTime
	r.timer.OffTime = offTime
	r.timer.OnSet = onTime != TimerOff
	r.timer.OffSet = offTime != TimerOff
	r.timer.Weekdays = weekdays
	r.timer.Ready = r.timer.OnSet && r.timer.OffSet && onTime != offTime
	return nil
}

func validateTimerEdge(v int) error {
	if v == TimerOff {
		return nil
	}
	if v < 0 || v >= secondsPerDay {
		return errors.New("relay: timer edge out of range")
	}
	return nil
}

// Timer returns a copy of the current timer configuration.
func (r *Relay) Timer() Timer {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.timer
}

// ManageTimer evaluates the daily scheduler against now, requesting the
// relay on/off through the given scheduler client id, per spec.md §4.2's
// half-open interval rules (with midnight wrap when off < on).
func (r *Relay) ManageTimer(now clock.WallTime, weekday int, schedulerClient ClientID) error {
	r.mu.Lock()
	t := r.timer
	r.mu.Unlock()

	if !t.Ready {
		return nil
	}
	if t.Weekdays&flagreg.WeekdayMask(weekday) == 0 {
		return nil
	}

	sec := now.SecondsOfDay
	var wantOn bool
	switch {
	case t.OnTime < t.OffTime:
		wantOn = sec >= t.OnTime && sec < t.OffTime
	case t.OnTime > t.OffTime:
		wantOn = sec >= t.OnTime || sec < t.OffTime
	default:
		return nil // on_time == off_time, not reachable when Ready
	}

	if wantOn {
		return r.RequestOn(schedulerClient)
	}
	return r.RequestOff(schedulerClient)
}

// ReportFields returns this relay's contribution to the hourly report
// compile, per spec.md §4.6's `"reN":{state,timer:{…}}` format. key is
// the report key to nest under (e.g. "re0").
func (r *Relay) ReportFields(key string) map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return map[string]any{
		key: map[string]any{
			"state": int(r.state),
			"timer": map[string]any{
				"onTime":   r.timer.OnTime,
				"offTime":  r.timer.OffTime,
				"weekdays": r.timer.Weekdays,
			},
		},
	}
}
