// Copyright 2026 The Zaparoo Project Contributors.
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package i2c reads the RD-03D through an SC16IS750 I2C-to-UART bridge
package i2c

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	rd03d "github.com/ZaparooProject/go-rd03d"
	"github.com/ZaparooProject/go-rd03d/internal/bridge"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"
)

const (
	// DefaultAddress is the SC16IS750 7-bit address with A1 and A0 tied to VDD.
	DefaultAddress uint16 = 0x48

	// maxClockFreq is the fastest clock the bridge supports.
	maxClockFreq = 400 * physic.KiloHertz

	traceDepth = 32
)

// ErrInvalidAddress is returned for a bus path whose address suffix cannot be parsed
var ErrInvalidAddress = errors.New("invalid I2C address")

// Transport implements rd03d.ByteSource over an SC16IS750 on an I2C bus
type Transport struct {
	*bridge.Stream
	dev       *i2c.Dev
	bus       i2c.BusCloser // nil when the caller owns the bus
	trace     *rd03d.TraceBuffer
	busName   string
	crystalHz int
}

// Option configures a Transport
type Option func(*Transport)

// WithCrystal sets the bridge crystal frequency in Hz
func WithCrystal(hz int) Option {
	return func(t *Transport) {
		t.crystalHz = hz
	}
}

// ParsePath splits a detection path such as "/dev/i2c-1:0x48" into bus name
// and address. A bare bus name selects DefaultAddress.
func ParsePath(path string) (busName string, addr uint16, err error) {
	busName, suffix, found := strings.Cut(path, ":")
	if !found {
		return busName, DefaultAddress, nil
	}
	v, err := strconv.ParseUint(suffix, 0, 7)
	if err != nil {
		return "", 0, fmt.Errorf("%w %q: %w", ErrInvalidAddress, suffix, err)
	}
	return busName, uint16(v), nil
}

// New opens busName and connects to the bridge at addr. The bridge UART is
// left unconfigured until SetBaudRate is called (rd03d.Sensor.Init does this).
func New(busName string, addr uint16, opts ...Option) (*Transport, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize periph host: %w", err)
	}

	bus, err := i2creg.Open(busName)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open I2C bus %s: %w", rd03d.ErrDeviceNotFound, busName, err)
	}
	_ = bus.SetSpeed(maxClockFreq) // keep the bus default if it refuses

	t, err := NewWithBus(bus, busName, addr, opts...)
	if err != nil {
		_ = bus.Close()
		return nil, err
	}
	t.bus = bus
	return t, nil
}

// NewFromPath opens a transport from a detection path, see ParsePath
func NewFromPath(path string, opts ...Option) (*Transport, error) {
	busName, addr, err := ParsePath(path)
	if err != nil {
		return nil, err
	}
	return New(busName, addr, opts...)
}

// NewWithBus connects to the bridge at addr on an already open bus. The bus
// is not closed by Close.
func NewWithBus(bus i2c.Bus, busName string, addr uint16, opts ...Option) (*Transport, error) {
	t := &Transport{
		dev:     &i2c.Dev{Addr: addr, Bus: bus},
		busName: busName,
		trace:   rd03d.NewTraceBuffer(string(rd03d.TransportI2C), fmt.Sprintf("%s:%#02x", busName, addr), traceDepth),
	}
	for _, opt := range opts {
		opt(t)
	}

	b := bridge.New(t, t.crystalHz)
	if err := b.Ping(); err != nil {
		if errors.Is(err, rd03d.ErrInvalidResponse) {
			err = rd03d.NewInvalidResponseError("ping", busName, err)
		}
		return nil, fmt.Errorf("no SC16IS750 at %s address %#02x: %w", busName, addr, t.trace.WrapError(err))
	}
	t.Stream = bridge.NewStream(b, t.trace.WrapError)
	return t, nil
}

// ReadReg implements bridge.RegisterIO
func (t *Transport) ReadReg(reg byte) (byte, error) {
	w := []byte{bridge.SubAddress(reg, 0)}
	r := make([]byte, 1)
	t.trace.RecordTX(w, "read reg")
	if err := t.dev.Tx(w, r); err != nil {
		return 0, rd03d.NewTransportReadError("read register", t.busName, err)
	}
	t.trace.RecordRX(r, "")
	return r[0], nil
}

// WriteReg implements bridge.RegisterIO
func (t *Transport) WriteReg(reg, val byte) error {
	w := []byte{bridge.SubAddress(reg, 0), val}
	t.trace.RecordTX(w, "write reg")
	if err := t.dev.Tx(w, nil); err != nil {
		return rd03d.NewTransportWriteError("write register", t.busName, err)
	}
	return nil
}

// ReadFIFO implements bridge.RegisterIO
func (t *Transport) ReadFIFO(buf []byte) error {
	w := []byte{bridge.SubAddress(bridge.RegRHR, 0)}
	t.trace.RecordTX(w, "read FIFO")
	if err := t.dev.Tx(w, buf); err != nil {
		return rd03d.NewTransportReadError("read FIFO", t.busName, err)
	}
	t.trace.RecordRX(buf, "")
	return nil
}

// BusName returns the I2C bus the bridge is on
func (t *Transport) BusName() string {
	return t.busName
}

// Address returns the bridge's 7-bit address
func (t *Transport) Address() uint16 {
	return t.dev.Addr
}

// Close stops the transport and releases the bus if New opened it
func (t *Transport) Close() error {
	if !t.MarkClosed() || t.bus == nil {
		return nil
	}
	if err := t.bus.Close(); err != nil {
		return fmt.Errorf("failed to close I2C bus %s: %w", t.busName, err)
	}
	return nil
}

// Type implements rd03d.ByteSource
func (*Transport) Type() rd03d.TransportType {
	return rd03d.TransportI2C
}

var (
	_ rd03d.ByteSource     = (*Transport)(nil)
	_ rd03d.BaudRateSetter = (*Transport)(nil)
	_ bridge.RegisterIO    = (*Transport)(nil)
)
