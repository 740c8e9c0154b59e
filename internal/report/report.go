// Package report implements the hourly report / daily clear-averages
// scheduler (spec.md §4.6, C12). It is grounded on the teacher's
// hardware-watermark reporting cadence in main.go (a 1Hz tick deciding
// whether to act this second), generalized into the three scheduled
// windows the spec requires: clear-averages, new-day, and hourly report.
package report

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/openenterprise/greenhouse/internal/clock"
	"github.com/openenterprise/greenhouse/version"
)

// DefaultClearTime is spec.md §4.6's default clear-averages time of day,
// 23:59:00 (86340 seconds).
const DefaultClearTime = 86340

// MaxClearTime is the spec.md §4.6 clamp ("clamped to <= 86340").
const MaxClearTime = 86340

// DefaultPadding bounds the clear-averages/new-day windows, per spec.md
// §4.6 ("PADDING <= 60").
const DefaultPadding = 10

// MaxReportRetries is spec.md §4.6's "retry up to 3 times within the
// same hour."
const MaxReportRetries = 3

// Sender is C8's send_report operation.
type Sender interface {
	SendReport(ctx context.Context, reportJSON []byte) error
}

// ClearableSensor is any sensor task whose averages the scheduler clears
// once per day, per spec.md §4.6.
type ClearableSensor interface {
	ClearAverages()
}

// Reporter supplies one sensor family's contribution to the hourly
// report JSON, per spec.md §4.6's compile format.
type Reporter interface {
	ReportFields() map[string]any
}

// KeyedReporter is satisfied by collaborators whose ReportFields needs a
// caller-supplied nesting key, such as relay.Relay's "reN" slots.
type KeyedReporter interface {
	ReportFields(key string) map[string]any
}

// RelayReporter adapts a KeyedReporter to the zero-arg Reporter
// interface by binding it to a fixed report key, so each relay can be
// registered with AddSensor alongside the sensor families.
type RelayReporter struct {
	Key      string
	Reporter KeyedReporter
}

func (r RelayReporter) ReportFields() map[string]any {
	return r.Reporter.ReportFields(r.Key)
}

// Scheduler is the report/averages scheduler.
type Scheduler struct {
	clearTime int
	padding   int

	clock   *clock.Clock
	sender  Sender
	log     *slog.Logger
	sensors []ClearableSensor
	reports []Reporter

	inClearWindow bool
	inNewDayWindow bool
	lastHour       int
	lastHourValid  bool
	retriesThisHour int

	firmwareVersion string
	stationID       string

	lastCompiled []byte
}

// New returns a Scheduler driven by clk, sending reports through sender.
func New(clk *clock.Clock, sender Sender, logger *slog.Logger, stationID string) *Scheduler {
	return &Scheduler{
		clearTime:       DefaultClearTime,
		padding:         DefaultPadding,
		clock:           clk,
		sender:          sender,
		log:             logger,
		firmwareVersion: version.Version,
		stationID:       stationID,
	}
}

// AddSensor registers a sensor family for both daily clearing and hourly
// report compilation.
func (s *Scheduler) AddSensor(sensor ClearableSensor, reporter Reporter) {
	s.sensors = append(s.sensors, sensor)
	if reporter != nil {
		s.reports = append(s.reports, reporter)
	}
}

// SetTimer installs the clear-averages time of day, clamped per
// spec.md §4.6.
func (s *Scheduler) SetTimer(secondsOfDay int) {
	if secondsOfDay > MaxClearTime || secondsOfDay < 0 {
		secondsOfDay = DefaultClearTime
	}
	s.clearTime = secondsOfDay
}

// Manage runs the 1Hz scheduler tick, per spec.md §4.6.
func (s *Scheduler) Manage(ctx context.Context) {
	wall := s.clock.Wall()
	sec := wall.SecondsOfDay

	s.manageClearWindow(sec)
	s.manageNewDayWindow(sec)
	s.manageHourlyReport(ctx, wall)
}

func (s *Scheduler) manageClearWindow(sec int) {
	inWindow := sec >= s.clearTime && sec < s.clearTime+s.padding
	if inWindow && !s.inClearWindow {
		for _, sensor := range s.sensors {
			sensor.ClearAverages()
		}
		if s.log != nil {
			s.log.Info("report:averages-cleared")
		}
	}
	s.inClearWindow = inWindow
}

func (s *Scheduler) manageNewDayWindow(sec int) {
	inWindow := sec >= 0 && sec < s.padding
	if inWindow && !s.inNewDayWindow {
		if s.log != nil {
			s.log.Info("NEW DAY")
		}
	}
	s.inNewDayWindow = inWindow
}

func (s *Scheduler) manageHourlyReport(ctx context.Context, wall clock.WallTime) {
	if s.lastHourValid && wall.Hour == s.lastHour {
		return
	}

	body := s.compile(wall)
	err := s.sender.SendReport(ctx, body)
	if err == nil {
		s.lastHour = wall.Hour
		s.lastHourValid = true
		s.retriesThisHour = 0
		return
	}

	s.retriesThisHour++
	if s.log != nil {
		s.log.Warn("report:send-retry", slog.Int("attempt", s.retriesThisHour), slog.Any("err", err))
	}
	if s.retriesThisHour >= MaxReportRetries {
		// Exhausted retries: advance anyway, per spec.md §4.6.
		s.lastHour = wall.Hour
		s.lastHourValid = true
		s.retriesThisHour = 0
	}
}

// compile builds the stable-keys report JSON from spec.md §4.6.
func (s *Scheduler) compile(wall clock.WallTime) []byte {
	fields := map[string]any{
		"firmv":     s.firmwareVersion,
		"id":        s.stationID,
		"sysTime":   s.clock.Seconds(),
		"hhmmss":    formatHHMMSS(wall),
		"timeCalib": boolToInt(s.clock.IsCalibrated()),
	}
	for _, r := range s.reports {
		for k, v := range r.ReportFields() {
			fields[k] = v
		}
	}
	body, _ := json.Marshal(fields)
	s.lastCompiled = body
	return body
}

// Snapshot returns the most recently compiled report body, or nil if no
// report has been compiled yet. Used by internal/api's /report route.
func (s *Scheduler) Snapshot() []byte {
	return s.lastCompiled
}

func formatHHMMSS(w clock.WallTime) string {
	return itoa(w.Hour) + ":" + itoa(w.Minute) + ":" + itoa(w.Second)
}

func itoa(v int) string {
	if v < 10 {
		return "0" + string(rune('0'+v))
	}
	return string(rune('0'+v/10)) + string(rune('0'+v%10))
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
