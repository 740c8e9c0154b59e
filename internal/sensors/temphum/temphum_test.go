package temphum

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/openenterprise/greenhouse/internal/alert"
	"github.com/openenterprise/greenhouse/internal/bound"
	"github.com/openenterprise/greenhouse/internal/collab"
	"github.com/openenterprise/greenhouse/internal/relay"
)

type fakeDriver struct {
	values collab.ShtValues
	err    error
}

func (f *fakeDriver) ReadAllChannels(ctx context.Context) (collab.ShtValues, error) {
	return f.values, f.err
}

type readyCreds struct{}

func (readyCreds) GetAPIKey() (string, bool) { return "k", true }
func (readyCreds) GetPhone() (string, bool)  { return "p", true }

type readyNetwork struct{}

func (readyNetwork) Mode() collab.NetworkMode              { return collab.ModeStation }
func (readyNetwork) IsActive() bool                        { return true }
func (readyNetwork) StationDetails() collab.StationDetails { return collab.StationDetails{} }

func TestAveragesRunningMean(t *testing.T) {
	var a Averages
	a.Update(10)
	a.Update(20)
	a.Update(30)
	require.InDelta(t, 20.0, a.Current, 1e-9)
	require.Equal(t, 3, a.PollCount)
}

func TestAveragesClearRotates(t *testing.T) {
	var a Averages
	a.Update(10)
	a.Clear()
	require.Equal(t, 10.0, a.Previous)
	require.Equal(t, 0.0, a.Current)
	require.Equal(t, 0, a.PollCount)
}

func TestSampleUpdatesTempAndAverages(t *testing.T) {
	d := &fakeDriver{values: collab.ShtValues{TempC: 25.0, Hum: 50.0}}
	th := New(d, alert.New("http://unused", readyCreds{}, readyNetwork{}, nil, nil, nil, nil), nil, 3)
	th.Sample(context.Background())
	require.True(t, th.Safe)
	require.Equal(t, 25.0, th.TempC)
	require.Equal(t, 77.0, th.TempF)
	require.Equal(t, 1, th.TempAvg.PollCount)
}

func TestConsecutiveFailuresFlipSafeAfterThreshold(t *testing.T) {
	d := &fakeDriver{err: errors.New("i2c timeout")}
	th := New(d, alert.New("http://unused", readyCreds{}, readyNetwork{}, nil, nil, nil, nil), nil, 3)
	th.Safe = true
	th.Sample(context.Background())
	require.True(t, th.Safe, "one failure must not clear safe")
	th.Sample(context.Background())
	require.True(t, th.Safe, "two failures must not clear safe")
	th.Sample(context.Background())
	require.False(t, th.Safe, "three consecutive failures must clear safe")
}

func TestSingleGoodReadRestoresSafe(t *testing.T) {
	d := &fakeDriver{err: errors.New("fail")}
	th := New(d, alert.New("http://unused", readyCreds{}, readyNetwork{}, nil, nil, nil, nil), nil, 3)
	for i := 0; i < MaxConsecutiveReadFailures; i++ {
		th.Sample(context.Background())
	}
	require.False(t, th.Safe)

	d.err = nil
	d.values = collab.ShtValues{TempC: 20, Hum: 40}
	th.Sample(context.Background())
	require.True(t, th.Safe)
}

func TestRelayAttachmentDrivesRelay(t *testing.T) {
	fd := new(relayTestDriver)
	r := relay.New("heater", fd, nil, nil)
	id, err := r.Acquire("temphum")
	require.NoError(t, err)

	ra := RelayAttachment{
		Bound:    bound.NewBound(bound.LessThan, 18.0),
		Relay:    r,
		ClientID: id,
		Attached: true,
	}
	ra.Evaluate(17.0, true, 1)
	require.True(t, r.IsPhysicallyOn())

	ra.Evaluate(19.0, true, 1)
	require.False(t, r.IsPhysicallyOn())
}

func TestAlertFiresOnBoundTrip(t *testing.T) {
	var posts int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		posts++
		w.Write([]byte("OK"))
	}))
	defer srv.Close()

	d := &fakeDriver{values: collab.ShtValues{TempC: 40.0, Hum: 50}}
	ac := alert.New(srv.URL, readyCreds{}, readyNetwork{}, nil, nil, nil, nil)
	th := New(d, ac, nil, 1)
	th.TempAlert = bound.AlertBound{Bound: bound.NewBound(bound.GtrThan, 35.0), Enabled: true}

	th.Sample(context.Background())
	require.Equal(t, 1, posts)
}

type relayTestDriver struct{}

func (relayTestDriver) SetEnergized(energized bool) error { return nil }
