package soil

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/openenterprise/greenhouse/internal/alert"
	"github.com/openenterprise/greenhouse/internal/bound"
	"github.com/openenterprise/greenhouse/internal/collab"
)

type fakeDriver struct {
	values [Channels]int
	err    error
}

func (f *fakeDriver) ReadAllChannels(ctx context.Context) ([4]int, error) {
	return f.values, f.err
}

type readyCreds struct{}

func (readyCreds) GetAPIKey() (string, bool) { return "k", true }
func (readyCreds) GetPhone() (string, bool)  { return "p", true }

type readyNetwork struct{}

func (readyNetwork) Mode() collab.NetworkMode              { return collab.ModeStation }
func (readyNetwork) IsActive() bool                        { return true }
func (readyNetwork) StationDetails() collab.StationDetails { return collab.StationDetails{} }

func TestSampleUpdatesChannelAverages(t *testing.T) {
	d := &fakeDriver{values: [Channels]int{100, 200, 300, 400}}
	s := New(d, alert.New("http://unused", readyCreds{}, readyNetwork{}, nil, nil, nil, nil), nil, 1)
	s.Sample(context.Background())
	require.True(t, s.Safe)
	require.Equal(t, [Channels]int{100, 200, 300, 400}, s.Values)
	for i := range s.Avg {
		require.Equal(t, 1, s.Avg[i].PollCount)
	}
}

func TestConsecutiveFailuresFlipSafe(t *testing.T) {
	d := &fakeDriver{err: errors.New("adc error")}
	s := New(d, alert.New("http://unused", readyCreds{}, readyNetwork{}, nil, nil, nil, nil), nil, 1)
	s.Safe = true
	for i := 0; i < MaxConsecutiveReadFailures-1; i++ {
		s.Sample(context.Background())
		require.True(t, s.Safe)
	}
	s.Sample(context.Background())
	require.False(t, s.Safe)
}

func TestAlertBoundDispatchesOnChannelTrip(t *testing.T) {
	var posts int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		posts++
		w.Write([]byte("OK"))
	}))
	defer srv.Close()

	d := &fakeDriver{values: [Channels]int{4000, 200, 300, 400}}
	ac := alert.New(srv.URL, readyCreds{}, readyNetwork{}, nil, nil, nil, nil)
	s := New(d, ac, nil, 1)
	s.Alert[0] = bound.AlertBound{Bound: bound.NewBound(bound.GtrThan, 3500), Enabled: true}

	s.Sample(context.Background())
	require.Equal(t, 1, posts)
}

func TestNoRelayAttachmentField(t *testing.T) {
	// Soil channels are alert-only per spec.md §3.3: the Soil struct
	// must not expose any relay attachment field.
	var s Soil
	_ = s.Alert // compiles only if Alert exists
	typ := reflect.TypeOf(s)
	for i := 0; i < typ.NumField(); i++ {
		require.NotContains(t, typ.Field(i).Name, "Relay")
	}
}
