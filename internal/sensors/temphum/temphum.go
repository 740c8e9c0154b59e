// Package temphum implements the temperature/humidity sensor task
// (spec.md §3.3/§4.5, C9): read SHT3x, update running averages, evaluate
// relay and alert bounds with hysteresis, and dispatch sensor up/down
// health alerts. It is grounded on the teacher's periodic polling loop
// in main.go (read sensor, update state, sleep) and the retrieved
// periph.io AHT20 driver example for the read-then-derive-values shape.
package temphum

import (
	"context"
	"log/slog"

	"github.com/openenterprise/greenhouse/internal/alert"
	"github.com/openenterprise/greenhouse/internal/bound"
	"github.com/openenterprise/greenhouse/internal/collab"
	"github.com/openenterprise/greenhouse/internal/relay"
)

// MaxConsecutiveReadFailures flips the display-error flag, per spec.md
// §4.5 ("N consecutive read failures (default 3)").
const MaxConsecutiveReadFailures = 3

// Hysteresis default in degrees C / %RH; implementations tune per bound.
const DefaultHysteresis = 0.5

// Averages holds the running-mean state for one channel (temp or hum),
// per spec.md §3.3.
type Averages struct {
	Current   float64
	Previous  float64
	PollCount int
}

// Update applies the running-mean update formula from spec.md §4.5:
// avg_new = avg_old + (sample - avg_old) / poll_count_new.
func (a *Averages) Update(sample float64) {
	a.PollCount++
	a.Current += (sample - a.Current) / float64(a.PollCount)
}

// Clear rotates current into previous and resets the poll count, per
// spec.md §4.6's clear_averages operation.
func (a *Averages) Clear() {
	a.Previous = a.Current
	a.Current = 0
	a.PollCount = 0
}

// RelayAttachment binds a Bound to a relay client slot, per spec.md
// §3.3's RelayBound.
type RelayAttachment struct {
	Bound    bound.Bound
	Relay    *relay.Relay
	ClientID relay.ClientID
	Attached bool
}

// Evaluate runs the bound and, if attached and the relay handler's
// preconditions hold (safe, consecutive-count met, condition != NONE),
// drives the relay per spec.md §4.5's "Relay handler".
func (r *RelayAttachment) Evaluate(value float64, safe bool, consecCts int) {
	if !safe || !r.Attached || r.Bound.Condition == bound.None {
		return
	}
	r.Bound.Evaluate(value, DefaultHysteresis, consecCts)
	if r.Bound.Active() {
		_ = r.Relay.RequestOn(r.ClientID)
	} else {
		_ = r.Relay.RequestOff(r.ClientID)
	}
}

// TempHum is the temp/humidity sensor task state.
type TempHum struct {
	driver   collab.TempHumDriver
	alertc   *alert.Client
	log      *slog.Logger
	consecCts int

	TempC, TempF, Hum float64
	Safe              bool
	consecFailures    int

	TempAvg Averages
	HumAvg  Averages

	TempRelay RelayAttachment
	HumRelay  RelayAttachment

	TempAlert bound.AlertBound
	HumAlert  bound.AlertBound
}

// New returns a TempHum task driven by driver, dispatching alerts
// through alertc.
func New(driver collab.TempHumDriver, alertc *alert.Client, logger *slog.Logger, consecCts int) *TempHum {
	if consecCts <= 0 {
		consecCts = bound.DefaultConsecCts
	}
	return &TempHum{driver: driver, alertc: alertc, log: logger, consecCts: consecCts}
}

// Sample performs one full sample iteration per spec.md §4.5's common
// contract: read, update safe/error flag, update averages when safe,
// evaluate bounds when safe.
func (t *TempHum) Sample(ctx context.Context) {
	values, err := t.driver.ReadAllChannels(ctx)
	if err != nil {
		t.consecFailures++
		wasSafe := t.Safe
		if t.consecFailures >= MaxConsecutiveReadFailures {
			t.Safe = false
		}
		if wasSafe && !t.Safe && t.log != nil {
			t.log.Error("temphum:sensor-unsafe", slog.String("err", err.Error()))
		}
		t.alertc.MonitorSensor(ctx, "temphum", 0, 1, 0, 0)
		return
	}

	wasSafe := t.Safe
	t.consecFailures = 0
	t.Safe = true
	if !wasSafe && t.log != nil {
		t.log.Info("temphum:sensor-recovered")
	}
	t.alertc.MonitorSensor(ctx, "temphum", 1, 1, 0, 0)

	t.TempC = values.TempC
	t.TempF = values.TempC*9/5 + 32
	t.Hum = values.Hum

	t.TempAvg.Update(t.TempC)
	t.HumAvg.Update(t.Hum)

	t.TempRelay.Evaluate(t.TempC, t.Safe, t.consecCts)
	t.HumRelay.Evaluate(t.Hum, t.Safe, t.consecCts)

	t.evaluateAlert(ctx, &t.TempAlert, t.TempC, "temperature")
	t.evaluateAlert(ctx, &t.HumAlert, t.Hum, "humidity")
}

func (t *TempHum) evaluateAlert(ctx context.Context, ab *bound.AlertBound, value float64, label string) {
	if !ab.Enabled || ab.Condition == bound.None {
		return
	}
	fired := ab.Evaluate(value, DefaultHysteresis, t.consecCts)
	if ab.ShouldDispatch(fired) {
		msg := label + " bound tripped"
		if !ab.Active() {
			msg = label + " bound cleared"
		}
		_ = t.alertc.SendAlert(ctx, msg, "temphum")
	}
}

// ClearAverages rotates both channels' averages, per spec.md §4.6.
func (t *TempHum) ClearAverages() {
	t.TempAvg.Clear()
	t.HumAvg.Clear()
}

// ReportFields implements report.Reporter, contributing this family's
// current/previous averages to the hourly report compile, per spec.md
// §4.6's `"temp":…, "tempAvg":…, "tempPrevAvg":…` format.
func (t *TempHum) ReportFields() map[string]any {
	return map[string]any{
		"temp":        t.TempC,
		"tempAvg":     t.TempAvg.Current,
		"tempPrevAvg": t.TempAvg.Previous,
		"hum":         t.Hum,
		"humAvg":      t.HumAvg.Current,
		"humPrevAvg":  t.HumAvg.Previous,
		"temphumSafe": t.Safe,
	}
}
