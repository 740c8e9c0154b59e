// Package config loads the greenhouse controller's boot-time operator
// configuration from a TOML file. It generalizes the teacher's
// go:embed text-file-with-trimmed-override pattern into a single
// config.toml carrying first-boot defaults only: runtime-mutable
// settings (relay timers, sensor bounds, trip values) are never read
// from here, they live exclusively in the key/value store loaded by
// internal/settings.
package config

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
)

// Defaults used when config.toml omits a field.
const (
	DefaultWakeInterval   = 1 * time.Second
	DefaultReportInterval = 1 * time.Hour
	DefaultNTPServer      = "time.cloudflare.com"
	DefaultSQLitePath     = "greenhouse.db"
)

// Config is the parsed contents of config.toml.
type Config struct {
	StationID string `toml:"station_id"`

	Alert struct {
		Endpoint string `toml:"endpoint"`
	} `toml:"alert"`

	Heartbeat struct {
		UDPTarget string `toml:"udp_target"`
	} `toml:"heartbeat"`

	Clock struct {
		NTPServer string `toml:"ntp_server"`
	} `toml:"clock"`

	Storage struct {
		SQLitePath string `toml:"sqlite_path"`
	} `toml:"storage"`

	Intervals struct {
		Wake   string `toml:"wake"`
		Report string `toml:"report"`
	} `toml:"intervals"`

	Console struct {
		ListenAddr string `toml:"listen_addr"`
	} `toml:"console"`

	API struct {
		ListenAddr string `toml:"listen_addr"`
	} `toml:"api"`

	I2C struct {
		BusName string `toml:"bus_name"`
	} `toml:"i2c"`
}

// Load parses the TOML file at path.
func Load(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	return &cfg, nil
}

// NTPServer returns the configured NTP-equivalent wall-clock source,
// falling back to DefaultNTPServer when unset.
func (c *Config) NTPServer() string {
	if c.Clock.NTPServer != "" {
		return c.Clock.NTPServer
	}
	return DefaultNTPServer
}

// SQLitePath returns the configured key/value store database path,
// falling back to DefaultSQLitePath when unset.
func (c *Config) SQLitePath() string {
	if c.Storage.SQLitePath != "" {
		return c.Storage.SQLitePath
	}
	return DefaultSQLitePath
}

// WakeInterval returns the configured 1Hz-class scheduler tick,
// falling back to DefaultWakeInterval when unset or unparseable.
func (c *Config) WakeInterval() time.Duration {
	if d, err := time.ParseDuration(c.Intervals.Wake); err == nil && d > 0 {
		return d
	}
	return DefaultWakeInterval
}

// ReportInterval returns the configured hourly-report cadence, falling
// back to DefaultReportInterval when unset or unparseable.
func (c *Config) ReportInterval() time.Duration {
	if d, err := time.ParseDuration(c.Intervals.Report); err == nil && d > 0 {
		return d
	}
	return DefaultReportInterval
}
