// Package linux implements the collab.* device/network/restart
// contracts against real hardware on a Linux-class device (e.g. a
// Raspberry Pi), the deployment target SPEC_FULL.md's preamble adopts
// in place of the teacher's bare-metal RP2350. The I2C drivers are
// grounded on the retrieved periph.io AHT20 example's Dev/i2c.Bus
// pattern; the process restart primitive is grounded on the teacher's
// ota/ota.go reboot-into-new-image call, adapted to a plain process
// restart via syscall.Reboot.
package linux

import (
	"context"
	"encoding/binary"
	"fmt"
	"syscall"
	"time"

	"periph.io/x/conn/v3/i2c"

	"github.com/openenterprise/greenhouse/internal/collab"
)

// I2C device addresses, per the greenhouse's sensor wiring.
const (
	AddrSHT3x  uint16 = 0x44
	AddrAS7341 uint16 = 0x39
	AddrADS1115Soil uint16 = 0x49
)

// TempHumDriver reads an SHT3x over I2C, per spec.md §6.1's
// ReadAllChannels contract.
type TempHumDriver struct {
	bus i2c.Bus
}

// NewTempHumDriver returns a TempHumDriver on the given bus.
func NewTempHumDriver(bus i2c.Bus) *TempHumDriver {
	return &TempHumDriver{bus: bus}
}

func (d *TempHumDriver) ReadAllChannels(ctx context.Context) (collab.ShtValues, error) {
	dev := &i2c.Dev{Bus: d.bus, Addr: AddrSHT3x}

	// 0x2C06: single-shot, high repeatability, clock stretching enabled.
	if err := dev.Tx([]byte{0x2C, 0x06}, nil); err != nil {
		return collab.ShtValues{}, fmt.Errorf("sht3x: measure cmd: %w", err)
	}
	time.Sleep(15 * time.Millisecond)

	buf := make([]byte, 6)
	if err := dev.Tx(nil, buf); err != nil {
		return collab.ShtValues{}, fmt.Errorf("sht3x: read: %w", err)
	}

	rawTemp := binary.BigEndian.Uint16(buf[0:2])
	rawHum := binary.BigEndian.Uint16(buf[3:5])

	tempC := -45 + 175*(float64(rawTemp)/65535.0)
	hum := 100 * (float64(rawHum) / 65535.0)
	return collab.ShtValues{TempC: tempC, Hum: hum}, nil
}

// SpectralDriver reads an AS7341 over I2C, per spec.md §3.3's 8 spectral
// channels + clear + NIR.
type SpectralDriver struct {
	bus i2c.Bus
}

// NewSpectralDriver returns a SpectralDriver on the given bus.
func NewSpectralDriver(bus i2c.Bus) *SpectralDriver {
	return &SpectralDriver{bus: bus}
}

const as7341ChannelDataReg = 0x95

func (d *SpectralDriver) ReadAll(ctx context.Context) (collab.Color, error) {
	dev := &i2c.Dev{Bus: d.bus, Addr: AddrAS7341}

	buf := make([]byte, 20) // 10 channels x 2 bytes, per the device's register map
	if err := dev.Tx([]byte{as7341ChannelDataReg}, buf); err != nil {
		return collab.Color{}, fmt.Errorf("as7341: read: %w", err)
	}

	var c collab.Color
	for i := 0; i < 8; i++ {
		c.Channels[i] = binary.LittleEndian.Uint16(buf[i*2 : i*2+2])
	}
	c.Clear = binary.LittleEndian.Uint16(buf[16:18])
	c.NIR = binary.LittleEndian.Uint16(buf[18:20])
	return c, nil
}

// PhotoDriver reads the analog photoresistor channel through an
// ADS1115-class ADC over I2C, per spec.md §3.3 (12-bit, 0..4094).
type PhotoDriver struct {
	bus     i2c.Bus
	addr    uint16
	channel byte
}

// NewPhotoDriver returns a PhotoDriver reading channel on the ADC at addr.
func NewPhotoDriver(bus i2c.Bus, addr uint16, channel byte) *PhotoDriver {
	return &PhotoDriver{bus: bus, addr: addr, channel: channel}
}

func (d *PhotoDriver) ReadPhoto(ctx context.Context) (int, error) {
	return readADS1115Channel(d.bus, d.addr, d.channel)
}

// SoilDriver reads four 12-bit ADC channels, per spec.md §3.3.
type SoilDriver struct {
	bus  i2c.Bus
	addr uint16
}

// NewSoilDriver returns a SoilDriver reading all four channels of the
// ADC at addr.
func NewSoilDriver(bus i2c.Bus, addr uint16) *SoilDriver {
	return &SoilDriver{bus: bus, addr: addr}
}

func (d *SoilDriver) ReadAllChannels(ctx context.Context) ([4]int, error) {
	var out [4]int
	for ch := byte(0); ch < 4; ch++ {
		v, err := readADS1115Channel(d.bus, d.addr, ch)
		if err != nil {
			return out, fmt.Errorf("soil: channel %d: %w", ch, err)
		}
		out[ch] = v
	}
	return out, nil
}

// readADS1115Channel performs a single-shot conversion on the given
// single-ended input and returns a 0..4094 scaled reading.
func readADS1115Channel(bus i2c.Bus, addr uint16, channel byte) (int, error) {
	dev := &i2c.Dev{Bus: bus, Addr: addr}

	muxBits := 0x04 | (channel & 0x03) // single-ended AINx vs GND
	config := uint16(0x8000) | // start single conversion
		uint16(muxBits)<<12 |
		uint16(0x01)<<9 | // +-4.096V gain
		uint16(0x01)<<8 | // single-shot mode
		uint16(0x83) // 128 SPS, disable comparator

	cmd := []byte{0x01, byte(config >> 8), byte(config)}
	if err := dev.Tx(cmd, nil); err != nil {
		return 0, fmt.Errorf("ads1115: config write: %w", err)
	}
	time.Sleep(10 * time.Millisecond)

	buf := make([]byte, 2)
	if err := dev.Tx([]byte{0x00}, buf); err != nil {
		return 0, fmt.Errorf("ads1115: conversion read: %w", err)
	}

	raw := int(int16(binary.BigEndian.Uint16(buf)))
	scaled := raw * 4094 / 32767
	if scaled < 0 {
		scaled = 0
	}
	if scaled > 4094 {
		scaled = 4094
	}
	return scaled, nil
}

// Restarter restarts the process by rebooting the host, grounded on the
// teacher's ota/ota.go bootrom restart call adapted from an OTA image
// swap to a plain reboot.
type Restarter struct{}

func (Restarter) RestartProcess() {
	_ = syscall.Reboot(syscall.LINUX_REBOOT_CMD_RESTART)
}
