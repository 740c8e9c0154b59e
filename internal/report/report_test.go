package report

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/openenterprise/greenhouse/internal/clock"
)

type fakeSender struct {
	calls int
	fail  bool
	last  []byte
}

func (f *fakeSender) SendReport(ctx context.Context, body []byte) error {
	f.calls++
	f.last = body
	if f.fail {
		return errors.New("send failed")
	}
	return nil
}

type fakeSensor struct {
	cleared int
}

func (f *fakeSensor) ClearAverages() { f.cleared++ }

type fakeReporter struct{}

func (fakeReporter) ReportFields() map[string]any {
	return map[string]any{"temp": 21.5}
}

func newTestClock(calibratedSecondsOfDay int) *clock.Clock {
	c := clock.New()
	c.Calibrate(calibratedSecondsOfDay)
	return c
}

func TestHourlyReportSendsOncePerHour(t *testing.T) {
	c := newTestClock(0)
	sender := &fakeSender{}
	s := New(c, sender, nil, "station-1")

	s.Manage(context.Background())
	require.Equal(t, 1, sender.calls)

	s.Manage(context.Background())
	require.Equal(t, 1, sender.calls, "same hour must not resend")
}

func TestHourlyReportRetriesThenAdvances(t *testing.T) {
	c := newTestClock(0)
	sender := &fakeSender{fail: true}
	s := New(c, sender, nil, "station-1")

	for i := 0; i < MaxReportRetries; i++ {
		s.Manage(context.Background())
	}
	require.Equal(t, MaxReportRetries, sender.calls)
	require.True(t, s.lastHourValid, "must advance past the hour once retries are exhausted")

	sender.fail = false
	s.Manage(context.Background())
	require.Equal(t, MaxReportRetries, sender.calls, "already advanced, should not resend same hour")
}

func TestClearAveragesWindowFiresOnce(t *testing.T) {
	c := newTestClock(DefaultClearTime)
	sender := &fakeSender{}
	s := New(c, sender, nil, "station-1")
	sensor := &fakeSensor{}
	s.AddSensor(sensor, nil)

	s.Manage(context.Background())
	require.Equal(t, 1, sensor.cleared)

	s.Manage(context.Background())
	require.Equal(t, 1, sensor.cleared, "window stays open but must only clear once")
}

func TestReportCompileIncludesSensorFields(t *testing.T) {
	c := newTestClock(3600)
	sender := &fakeSender{}
	s := New(c, sender, nil, "station-1")
	s.AddSensor(&fakeSensor{}, fakeReporter{})

	s.Manage(context.Background())

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(sender.last, &decoded))
	require.Equal(t, "station-1", decoded["id"])
	require.Equal(t, 1.0, decoded["timeCalib"])
	require.Equal(t, 21.5, decoded["temp"])
}

func TestSetTimerClampsToMax(t *testing.T) {
	c := newTestClock(0)
	s := New(c, &fakeSender{}, nil, "s")
	s.SetTimer(99999)
	require.Equal(t, DefaultClearTime, s.clearTime)
}
