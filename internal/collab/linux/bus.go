package linux

import (
	"fmt"
	"net"
	"os"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"

	"github.com/openenterprise/greenhouse/internal/collab"
)

// OpenBus initializes the periph.io host drivers and opens the named
// I2C bus (empty string selects the system default), the same
// host.Init()-then-registry-lookup sequence periph.io's own examples use.
func OpenBus(name string) (i2c.BusCloser, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("linux: host init: %w", err)
	}
	bus, err := i2creg.Open(name)
	if err != nil {
		return nil, fmt.Errorf("linux: open i2c bus %q: %w", name, err)
	}
	return bus, nil
}

// GPIORelayDriver drives one relay.Driver over a single GPIO pin, active
// high, per spec.md §5's "physical GPIOs are owned by exactly one
// component" rule: each relay gets its own GPIORelayDriver instance.
type GPIORelayDriver struct {
	pin gpio.PinIO
}

// OpenGPIORelayDriver resolves pinName (e.g. "GPIO17") through periph.io's
// pin registry and returns a driver for it. host.Init must already have
// been called, typically via OpenBus.
func OpenGPIORelayDriver(pinName string) (*GPIORelayDriver, error) {
	pin := gpioreg.ByName(pinName)
	if pin == nil {
		return nil, fmt.Errorf("linux: no such gpio pin %q", pinName)
	}
	return &GPIORelayDriver{pin: pin}, nil
}

// SetEnergized implements relay.Driver.
func (d *GPIORelayDriver) SetEnergized(energized bool) error {
	return d.pin.Out(gpio.Level(energized))
}

// Network implements collab.Network on top of the host's own network
// stack, standing in for the teacher's cyw43439 WiFi-chip AP/STA state
// machine. A Linux-class deployment target already joins its network
// before the daemon starts (NetworkManager/systemd-networkd own that),
// so this collaborator only ever reports "station" mode: active when a
// non-loopback interface carries an address, NONE otherwise. WAP/
// WAP_SETUP modes stay implementation-only (fake.Network exercises them
// in tests) since provisioning a brand-new AP is out of scope for a host
// OS that is already on a network.
type Network struct {
	hostname string
}

// NewNetwork returns a Network collaborator that reflects the local
// host's network state.
func NewNetwork() *Network {
	host, _ := os.Hostname()
	return &Network{hostname: host}
}

func (n *Network) Mode() collab.NetworkMode {
	if n.primaryAddr() == "" {
		return collab.ModeNone
	}
	return collab.ModeStation
}

func (n *Network) IsActive() bool {
	return n.primaryAddr() != ""
}

func (n *Network) StationDetails() collab.StationDetails {
	addr := n.primaryAddr()
	status := "down"
	if addr != "" {
		status = "up"
	}
	return collab.StationDetails{
		SSID:   n.hostname,
		IP:     addr,
		MDNS:   n.hostname + ".local",
		RSSI:   "n/a",
		Heap:   "n/a",
		Status: status,
	}
}

func (n *Network) primaryAddr() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return ""
	}
	for _, a := range addrs {
		ipNet, ok := a.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() {
			continue
		}
		if ip4 := ipNet.IP.To4(); ip4 != nil {
			return ip4.String()
		}
	}
	return ""
}
