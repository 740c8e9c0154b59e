// Package light implements the light sensor task (spec.md §3.3/§4.5,
// C10): read the AS7341 spectral channels and the photoresistor, update
// averages, maintain the hourly trend ring, track day/night light
// duration, and drive a relay from the photoresistor reading. It reuses
// the same polling-loop shape as internal/sensors/temphum, grounded on
// the teacher's main.go periodic read loop.
package light

import (
	"context"
	"log/slog"

	"github.com/openenterprise/greenhouse/internal/bound"
	"github.com/openenterprise/greenhouse/internal/collab"
	"github.com/openenterprise/greenhouse/internal/relay"
)

// TrendHours resolves spec.md §9's open question ("the exact TREND_HOURS
// value ... does not fix them"): 48 hours gives a two-day rolling window,
// enough to compare today against yesterday at the same hour without the
// unbounded growth an "implementation-defined, >=24" minimum invites.
const TrendHours = 48

// MaxConsecutiveReadFailures mirrors spec.md §4.5's default of 3.
const MaxConsecutiveReadFailures = 3

// DayNightConsecCts is the debounce count for the day/night transition,
// per spec.md §4.5 ("a 5-consecutive-count debounced transition").
const DayNightConsecCts = 5

// SpectralAverages holds running means for the 8 spectral channels plus
// clear/NIR, per spec.md §3.3.
type SpectralAverages struct {
	Channels [8]Averages
	Clear    Averages
	NIR      Averages
}

// Averages is the shared running-mean accumulator (spec.md §4.5's
// formula), duplicated from temphum's shape since light's multiple
// channels each need an independent instance.
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

// TrendSample is one hourly trend ring entry, per spec.md §4.5.
type TrendSample struct {
	Photo  float64
	Clear  float64
	Hour   int
}

// Light is the light sensor task state.
type Light struct {
	spectral collab.SpectralDriver
	photo    collab.PhotoDriver
	log      *slog.Logger
	consecCts int

	Color collab.Color
	Photo int
	Safe  bool
	consecFailures int

	SpectralAvg SpectralAverages
	PhotoAvg    Averages

	Trend      [TrendHours]TrendSample
	trendCount int
	trendHead  int
	lastTrendHour int
	trendHourValid bool

	DarkVal int // photoresistor threshold at or above which it is considered "light"

	lightOn        bool
	dayNightOnCt   int
	dayNightOffCt  int
	lightStartSec  int64
	lastDuration   int64

	PhotoRelay RelayAttachment
}

// RelayAttachment binds a Bound to a relay client slot driven by the
// photoresistor reading, per spec.md §3.3's RelayBound.
type RelayAttachment struct {
	Bound    bound.Bound
	Relay    *relay.Relay
	ClientID relay.ClientID
	Attached bool
}

func (r *RelayAttachment) Evaluate(value float64, safe bool, consecCts int) {
	if !safe || !r.Attached || r.Bound.Condition == bound.None {
		return
	}
	r.Bound.Evaluate(value, 50, consecCts)
	if r.Bound.Active() {
		_ = r.Relay.RequestOn(r.ClientID)
	} else {
		_ = r.Relay.RequestOff(r.ClientID)
	}
}

// New returns a Light task. darkVal is the photoresistor threshold at or
// above which the environment is considered "light" (spec.md §4.5).
func New(spectral collab.SpectralDriver, photo collab.PhotoDriver, logger *slog.Logger, consecCts, darkVal int) *Light {
	if consecCts <= 0 {
		consecCts = bound.DefaultConsecCts
	}
	return &Light{spectral: spectral, photo: photo, log: logger, consecCts: consecCts, DarkVal: darkVal}
}

// Sample performs one full sample iteration per spec.md §4.5.
func (l *Light) Sample(ctx context.Context, nowMonotonicSec int64, wallHour int) {
	color, errC := l.spectral.ReadAll(ctx)
	photo, errP := l.photo.ReadPhoto(ctx)

	if errC != nil || errP != nil {
		l.consecFailures++
		wasSafe := l.Safe
		if l.consecFailures >= MaxConsecutiveReadFailures {
			l.Safe = false
		}
		if wasSafe && !l.Safe && l.log != nil {
			l.log.Error("light:sensor-unsafe")
		}
		return
	}

	wasSafe := l.Safe
	l.consecFailures = 0
	l.Safe = true
	if !wasSafe && l.log != nil {
		l.log.Info("light:sensor-recovered")
	}

	l.Color = color
	l.Photo = photo

	for i, v := range color.Channels {
		l.SpectralAvg.Channels[i].Update(float64(v))
	}
	l.SpectralAvg.Clear.Update(float64(color.Clear))
	l.SpectralAvg.NIR.Update(float64(color.NIR))
	l.PhotoAvg.Update(float64(photo))

	l.PhotoRelay.Evaluate(float64(photo), l.Safe, l.consecCts)
	l.updateDayNight(photo, nowMonotonicSec)
	l.updateHourlyTrend(wallHour)
}

// updateDayNight implements the debounced day/night transition from
// spec.md §4.5: photoresistor at or above DarkVal for DayNightConsecCts
// consecutive samples marks "light start"; below it for the same count
// marks "light end".
func (l *Light) updateDayNight(photo int, nowMonotonicSec int64) {
	isLight := photo >= l.DarkVal

	if isLight {
		l.dayNightOffCt = 0
		if !l.lightOn {
			l.dayNightOnCt++
			if l.dayNightOnCt >= DayNightConsecCts {
				l.lightOn = true
				l.dayNightOnCt = 0
				l.lightStartSec = nowMonotonicSec
			}
		}
	} else {
		l.dayNightOnCt = 0
		if l.lightOn {
			l.dayNightOffCt++
			if l.dayNightOffCt >= DayNightConsecCts {
				l.lightOn = false
				l.dayNightOffCt = 0
				l.lastDuration = nowMonotonicSec - l.lightStartSec
				if l.log != nil {
					l.log.Info("light:period-ended")
				}
			}
		}
	}
}

// LightDuration returns the current contiguous light-period length, or
// the last completed period's length when not currently in a light
// period, per spec.md §4.5.
func (l *Light) LightDuration(nowMonotonicSec int64) int64 {
	if l.lightOn {
		return nowMonotonicSec - l.lightStartSec
	}
	return l.lastDuration
}

// updateHourlyTrend appends the current averages to the trend ring once
// per wall-clock hour, per spec.md §4.5/§4.6.
func (l *Light) updateHourlyTrend(wallHour int) {
	if l.trendHourValid && wallHour == l.lastTrendHour {
		return
	}
	l.lastTrendHour = wallHour
	l.trendHourValid = true

	l.Trend[l.trendHead] = TrendSample{Photo: l.PhotoAvg.Current, Clear: l.SpectralAvg.Clear.Current, Hour: wallHour}
	l.trendHead = (l.trendHead + 1) % TrendHours
	if l.trendCount < TrendHours {
		l.trendCount++
	}
}

// TrendSnapshot returns the trend ring's entries oldest-first.
func (l *Light) TrendSnapshot() []TrendSample {
	out := make([]TrendSample, 0, l.trendCount)
	start := (l.trendHead - l.trendCount + TrendHours) % TrendHours
	for i := 0; i < l.trendCount; i++ {
		out = append(out, l.Trend[(start+i)%TrendHours])
	}
	return out
}

// ClearAverages rotates every channel's averages, per spec.md §4.6.
func (l *Light) ClearAverages() {
	for i := range l.SpectralAvg.Channels {
		l.SpectralAvg.Channels[i].Clear()
	}
	l.SpectralAvg.Clear.Clear()
	l.SpectralAvg.NIR.Clear()
	l.PhotoAvg.Clear()
}

// ReportFields implements report.Reporter, contributing the photoresistor
// and clear-channel averages plus the current light/dark state to the
// hourly report compile, per spec.md §4.6.
func (l *Light) ReportFields() map[string]any {
	return map[string]any{
		"photo":        l.Photo,
		"photoAvg":     l.PhotoAvg.Current,
		"photoPrevAvg": l.PhotoAvg.Previous,
		"clearAvg":     l.SpectralAvg.Clear.Current,
		"lightOn":      l.lightOn,
		"lightSafe":    l.Safe,
	}
}
