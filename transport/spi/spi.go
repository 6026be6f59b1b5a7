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

// Package spi reads the RD-03D through an SC16IS750 SPI-to-UART bridge
package spi

import (
	"errors"
	"fmt"

	rd03d "github.com/ZaparooProject/go-rd03d"
	"github.com/ZaparooProject/go-rd03d/internal/bridge"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
)

const (
	// DefaultSpeed is well inside the bridge's 4 MHz SPI limit.
	DefaultSpeed = 4 * physic.MegaHertz

	mode       = spi.Mode0
	traceDepth = 32
)

// Transport implements rd03d.ByteSource over an SC16IS750 on an SPI port
type Transport struct {
	*bridge.Stream
	port      spi.PortCloser // nil when the caller owns the port
	conn      spi.Conn
	trace     *rd03d.TraceBuffer
	portName  string
	speed     physic.Frequency
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

// WithSpeed sets the SPI clock
func WithSpeed(f physic.Frequency) Option {
	return func(t *Transport) {
		if f > 0 {
			t.speed = f
		}
	}
}

// New opens portName (e.g. "/dev/spidev0.0" or "SPI0.0") and connects to the
// bridge. The bridge UART is left unconfigured until SetBaudRate is called.
func New(portName string, opts ...Option) (*Transport, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize periph host: %w", err)
	}

	port, err := spireg.Open(portName)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open SPI port %s: %w", rd03d.ErrDeviceNotFound, portName, err)
	}

	t, err := NewWithPort(port, portName, opts...)
	if err != nil {
		_ = port.Close()
		return nil, err
	}
	t.port = port
	return t, nil
}

// NewWithPort connects to the bridge through an already open port. The port
// is not closed by Close.
func NewWithPort(port spi.Port, portName string, opts ...Option) (*Transport, error) {
	t := &Transport{
		portName: portName,
		speed:    DefaultSpeed,
		trace:    rd03d.NewTraceBuffer(string(rd03d.TransportSPI), portName, traceDepth),
	}
	for _, opt := range opts {
		opt(t)
	}

	conn, err := port.Connect(t.speed, mode, 8)
	if err != nil {
		return nil, fmt.Errorf("failed to connect SPI %s: %w", portName, err)
	}
	t.conn = conn

	b := bridge.New(t, t.crystalHz)
	if err := b.Ping(); err != nil {
		if errors.Is(err, rd03d.ErrInvalidResponse) {
			err = rd03d.NewInvalidResponseError("ping", portName, err)
		}
		return nil, fmt.Errorf("no SC16IS750 on %s: %w", portName, t.trace.WrapError(err))
	}
	t.Stream = bridge.NewStream(b, t.trace.WrapError)
	return t, nil
}

// ReadReg implements bridge.RegisterIO
func (t *Transport) ReadReg(reg byte) (byte, error) {
	w := []byte{bridge.ReadFlag | bridge.SubAddress(reg, 0), 0x00}
	r := make([]byte, len(w))
	t.trace.RecordTX(w[:1], "read reg")
	if err := t.conn.Tx(w, r); err != nil {
		return 0, rd03d.NewTransportReadError("read register", t.portName, err)
	}
	t.trace.RecordRX(r[1:], "")
	return r[1], nil
}

// WriteReg implements bridge.RegisterIO
func (t *Transport) WriteReg(reg, val byte) error {
	w := []byte{bridge.SubAddress(reg, 0), val}
	t.trace.RecordTX(w, "write reg")
	if err := t.conn.Tx(w, nil); err != nil {
		return rd03d.NewTransportWriteError("write register", t.portName, err)
	}
	return nil
}

// ReadFIFO implements bridge.RegisterIO
func (t *Transport) ReadFIFO(buf []byte) error {
	w := make([]byte, len(buf)+1)
	w[0] = bridge.ReadFlag | bridge.SubAddress(bridge.RegRHR, 0)
	r := make([]byte, len(w))
	t.trace.RecordTX(w[:1], "read FIFO")
	if err := t.conn.Tx(w, r); err != nil {
		return rd03d.NewTransportReadError("read FIFO", t.portName, err)
	}
	copy(buf, r[1:])
	t.trace.RecordRX(buf, "")
	return nil
}

// PortName returns the SPI port the bridge is on
func (t *Transport) PortName() string {
	return t.portName
}

// Speed returns the configured SPI clock
func (t *Transport) Speed() physic.Frequency {
	return t.speed
}

// Close stops the transport and releases the port if New opened it
func (t *Transport) Close() error {
	if !t.MarkClosed() || t.port == nil {
		return nil
	}
	if err := t.port.Close(); err != nil {
		return fmt.Errorf("failed to close SPI port %s: %w", t.portName, err)
	}
	return nil
}

// Type implements rd03d.ByteSource
func (*Transport) Type() rd03d.TransportType {
	return rd03d.TransportSPI
}

var (
	_ rd03d.ByteSource     = (*Transport)(nil)
	_ rd03d.BaudRateSetter = (*Transport)(nil)
	_ bridge.RegisterIO    = (*Transport)(nil)
)
