// Package soil implements the four-channel soil moisture sensor task
// (spec.md §3.3/§4.5, C11): alert-only bounds, no relay attachment.
// Grounded on the same polling-loop shape as internal/sensors/temphum.
package soil

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/openenterprise/greenhouse/internal/alert"
	"github.com/openenterprise/greenhouse/internal/bound"
	"github.com/openenterprise/greenhouse/internal/collab"
)

// Channels is the fixed soil ADC channel count (spec.md §9 resolves the
// open question: the source had both a literal 4 and a separate config
// constant; 4 physical channels is what the ADC wiring actually reads).
const Channels = 4

// MaxConsecutiveReadFailures mirrors spec.md §4.5's default of 3.
const MaxConsecutiveReadFailures = 3

const defaultHysteresis = 50.0

// Averages is the shared running-mean accumulator, per spec.md §4.5.
type Averages struct {
	Current   float64
	Previous  float64
	PollCount int
}

func (a *Averages) Update(sample float64) {
	a.PollCount++
	a.Current += (sample - a.Current) / float64(a.PollCount)
}

func (a *Averages) Clear() {
	a.Previous = a.Current
	a.Current = 0
	a.PollCount = 0
}

// Soil is the soil sensor task state: four independent channels, each
// alert-only, per spec.md §3.3.
type Soil struct {
	driver    collab.SoilDriver
	alertc    *alert.Client
	log       *slog.Logger
	consecCts int

	Values [Channels]int
	Safe   bool
	consecFailures int

	Avg [Channels]Averages

	Alert [Channels]bound.AlertBound
}

// New returns a Soil task.
func New(driver collab.SoilDriver, alertc *alert.Client, logger *slog.Logger, consecCts int) *Soil {
	if consecCts <= 0 {
		consecCts = bound.DefaultConsecCts
	}
	return &Soil{driver: driver, alertc: alertc, log: logger, consecCts: consecCts}
}

// Sample performs one full sample iteration per spec.md §4.5: read all
// four channels sequentially, update averages when safe, evaluate each
// channel's AlertBound.
func (s *Soil) Sample(ctx context.Context) {
	values, err := s.driver.ReadAllChannels(ctx)
	if err != nil {
		s.consecFailures++
		wasSafe := s.Safe
		if s.consecFailures >= MaxConsecutiveReadFailures {
			s.Safe = false
		}
		if wasSafe && !s.Safe && s.log != nil {
			s.log.Error("soil:sensor-unsafe", slog.String("err", err.Error()))
		}
		return
	}

	wasSafe := s.Safe
	s.consecFailures = 0
	s.Safe = true
	if !wasSafe && s.log != nil {
		s.log.Info("soil:sensor-recovered")
	}

	s.Values = values
	for i, v := range values {
		s.Avg[i].Update(float64(v))

		ab := &s.Alert[i]
		if !ab.Enabled || ab.Condition == bound.None {
			continue
		}
		fired := ab.Evaluate(float64(v), defaultHysteresis, s.consecCts)
		if ab.ShouldDispatch(fired) {
			msg := "soil channel bound tripped"
			if !ab.Active() {
				msg = "soil channel bound cleared"
			}
			_ = s.alertc.SendAlert(ctx, msg, "soil")
		}
	}
}

// ClearAverages rotates every channel's averages, per spec.md §4.6.
func (s *Soil) ClearAverages() {
	for i := range s.Avg {
		s.Avg[i].Clear()
	}
}

// ReportFields implements report.Reporter, contributing each soil
// channel's current/previous averages to the hourly report compile,
// per spec.md §4.6.
func (s *Soil) ReportFields() map[string]any {
	fields := map[string]any{"soilSafe": s.Safe}
	for i := range s.Values {
		fields[fmt.Sprintf("soil%d", i)] = s.Values[i]
		fields[fmt.Sprintf("soil%dAvg", i)] = s.Avg[i].Current
		fields[fmt.Sprintf("soil%dPrevAvg", i)] = s.Avg[i].Previous
	}
	return fields
}
