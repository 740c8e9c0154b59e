// Package fake provides in-memory collab.* implementations for tests
// and for running the daemon without real hardware attached.
package fake

import (
	"context"
	"log/slog"
	"sync"

	"github.com/openenterprise/greenhouse/internal/collab"
)

// Network is a settable fake collab.Network.
type Network struct {
	mu      sync.Mutex
	mode    collab.NetworkMode
	active  bool
	details collab.StationDetails
}

// NewNetwork returns a Network initially in station mode and active,
// the common case for daemon tests that need the alert client ready.
func NewNetwork() *Network {
	return &Network{mode: collab.ModeStation, active: true}
}

func (n *Network) Set(mode collab.NetworkMode, active bool, details collab.StationDetails) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.mode, n.active, n.details = mode, active, details
}

func (n *Network) Mode() collab.NetworkMode {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.mode
}

func (n *Network) IsActive() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.active
}

func (n *Network) StationDetails() collab.StationDetails {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.details
}

// Credentials is a settable fake collab.CredentialProvider.
type Credentials struct {
	APIKey, Phone       string
	HaveKey, HavePhone bool
}

func (c Credentials) GetAPIKey() (string, bool) { return c.APIKey, c.HaveKey }
func (c Credentials) GetPhone() (string, bool)  { return c.Phone, c.HavePhone }

// Restarter records restart requests instead of exiting the process.
type Restarter struct {
	mu    sync.Mutex
	Calls int
}

func (r *Restarter) RestartProcess() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Calls++
}

// SpectralDriver returns a fixed collab.Color.
type SpectralDriver struct {
	Color collab.Color
	Err   error
}

func (d SpectralDriver) ReadAll(ctx context.Context) (collab.Color, error) { return d.Color, d.Err }

// PhotoDriver returns a fixed photoresistor reading.
type PhotoDriver struct {
	Value int
	Err   error
}

func (d PhotoDriver) ReadPhoto(ctx context.Context) (int, error) { return d.Value, d.Err }

// TempHumDriver returns a fixed reading.
type TempHumDriver struct {
	Values collab.ShtValues
	Err    error
}

func (d TempHumDriver) ReadAllChannels(ctx context.Context) (collab.ShtValues, error) {
	return d.Values, d.Err
}

// SoilDriver returns fixed channel readings.
type SoilDriver struct {
	Values [4]int
	Err    error
}

func (d SoilDriver) ReadAllChannels(ctx context.Context) ([4]int, error) { return d.Values, d.Err }

// RelayDriver is an in-memory relay.Driver for running the daemon
// without a physical GPIO attached, logging each transition the way the
// real collab/linux.GPIORelayDriver would energize a pin.
type RelayDriver struct {
	mu  sync.Mutex
	log *slog.Logger
	name string

	Energized bool
}

// NewRelayDriver returns a RelayDriver that logs transitions under name.
func NewRelayDriver(name string, logger *slog.Logger) *RelayDriver {
	return &RelayDriver{name: name, log: logger}
}

func (d *RelayDriver) SetEnergized(energized bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Energized = energized
	if d.log != nil {
		d.log.Info("fake:relay-set", slog.String("relay", d.name), slog.Bool("energized", energized))
	}
	return nil
}
