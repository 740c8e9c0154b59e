// Package clock provides monotonic and wall-clock-of-day time for the
// greenhouse controller. It mirrors the teacher's NTP-calibration pattern
// in main.go (syncNTP + runtime.AdjustTimeOffset) but exposes the
// calibration as an explicit, testable one-shot operation instead of a
// global runtime offset, per spec.md §4.1.
package clock

import (
	"sync/atomic"
	"time"
)

const secondsPerDay = 86400

// WallTime is a calendar-free time-of-day value, per spec.md §3.1.
type WallTime struct {
	Hour         int
	Minute       int
	Second       int
	SecondsOfDay int
}

// Clock tracks monotonic time since construction and an optional
// one-shot calibration that maps monotonic seconds to seconds-of-day.
//
// All three calibration fields are stored behind a single atomic so
// readers never observe a torn (epochSecond, calibratedAt, calibrated)
// triple -- the §4.1 "short critical section" is implemented as a
// single atomic store of one packed value instead of a mutex.
type Clock struct {
	boot time.Time

	// packed holds, atomically: calibrated(1) | secondsOfDayAtCalib(17) | monotonicAtCalibSeconds(32)
	packed atomic.Uint64
}

// New returns a Clock whose monotonic epoch is now.
func New() *Clock {
	return &Clock{boot: time.Now()}
}

func pack(calibrated bool, secondsOfDayAtCalib int, monotonicAtCalib int64) uint64 {
	var v uint64
	if calibrated {
		v |= 1 << 49
	}
	v |= uint64(secondsOfDayAtCalib&0x1FFFF) << 32
	v |= uint64(uint32(monotonicAtCalib))
	return v
}

func unpack(v uint64) (calibrated bool, secondsOfDayAtCalib int, monotonicAtCalib int64) {
	calibrated = v&(1<<49) != 0
	secondsOfDayAtCalib = int((v >> 32) & 0x1FFFF)
	monotonicAtCalib = int64(uint32(v))
	return
}

// NowMonotonic returns micros, millis and seconds elapsed since boot.
// Never fails, and never wraps within a mission lifetime (uses int64).
func (c *Clock) NowMonotonic() (micros, millis, seconds int64) {
	d := time.Since(c.boot)
	return d.Microseconds(), d.Milliseconds(), int64(d.Seconds())
}

// Seconds returns monotonic seconds since boot.
func (c *Clock) Seconds() int64 {
	_, _, s := c.NowMonotonic()
	return s
}

// Calibrate sets the wall-clock epoch: the given seconds-of-day is
// recorded as corresponding to the current monotonic second. Out-of-range
// input is clamped into 0..86399 per spec.md §4.1 ("clamps or rejects out
// of range per impl"); this implementation clamps and still calibrates,
// since a greenhouse controller should prefer a degraded wall clock over
// an uncalibrated one.
func (c *Clock) Calibrate(secondsOfDay int) {
	if secondsOfDay < 0 {
		secondsOfDay = 0
	}
	if secondsOfDay >= secondsPerDay {
		secondsOfDay = secondsPerDay - 1
	}
	now := c.Seconds()
	c.packed.Store(pack(true, secondsOfDay, now))
}

// IsCalibrated reports whether Calibrate has ever been called.
func (c *Clock) IsCalibrated() bool {
	calibrated, _, _ := unpack(c.packed.Load())
	return calibrated
}

// Wall computes the current seconds-of-day modulo 86400 and derives
// hh:mm:ss from it. Before calibration, seconds-of-day is reported
// relative to an implicit epoch of "boot == midnight" -- first-boot
// behavior is implementation-defined per spec.md §3.1; callers should
// check IsCalibrated before trusting absolute time-of-day.
func (c *Clock) Wall() WallTime {
	calibrated, secondsOfDayAtCalib, monotonicAtCalib := unpack(c.packed.Load())
	now := c.Seconds()

	var sod int
	if calibrated {
		elapsed := now - monotonicAtCalib
		sod = int(((elapsed + int64(secondsOfDayAtCalib)) % secondsPerDay))
		if sod < 0 {
			sod += secondsPerDay
		}
	} else {
		sod = int(now % secondsPerDay)
	}

	return WallTime{
		Hour:         sod / 3600,
		Minute:       (sod % 3600) / 60,
		Second:       sod % 60,
		SecondsOfDay: sod,
	}
}

// Now returns a convenience time.Time built from the monotonic clock,
// for log timestamps and report JSON fields only -- schedulers must use
// Wall()/SecondsOfDay, never this value, per SPEC_FULL.md §3.1.
func (c *Clock) Now() time.Time {
	return c.boot.Add(time.Duration(c.Seconds()) * time.Second)
}
