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

// Package uart reads the RD-03D from a host serial port, typically a USB-UART
// adapter wired to the module's TX pin.
package uart

import (
	"errors"
	"fmt"
	"io/fs"
	"runtime"
	"sync"
	"time"

	rd03d "github.com/ZaparooProject/go-rd03d"
	"go.bug.st/serial"
)

// readChunkSize is how many bytes one port read may fetch; about eight frames.
const readChunkSize = 256

// Transport implements rd03d.ByteSource over a serial port.
//
// Serial reads are buffered: Available reads whatever the driver holds, with
// the short read timeout, and ReadByte serves from that buffer.
type Transport struct {
	port        serial.Port
	readErr     error
	portName    string
	buf         []byte
	head        int
	baudRate    int
	readTimeout time.Duration
	mu          sync.Mutex
	closed      bool
}

// Option configures a Transport
type Option func(*Transport)

// WithBaudRate sets the line speed used to open the port
func WithBaudRate(baud int) Option {
	return func(t *Transport) {
		t.baudRate = baud
	}
}

// WithReadTimeout sets how long Available waits for the driver when the
// buffer is empty
func WithReadTimeout(timeout time.Duration) Option {
	return func(t *Transport) {
		t.readTimeout = timeout
	}
}

// defaultReadTimeout keeps Available close to non-blocking. Windows drivers
// need a longer timeout to return partial reads reliably.
func defaultReadTimeout() time.Duration {
	if runtime.GOOS == "windows" {
		return 20 * time.Millisecond
	}
	return 5 * time.Millisecond
}

func lineMode(baud int) *serial.Mode {
	return &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
}

func newTransport(portName string, opts []Option) (*Transport, error) {
	t := &Transport{
		portName:    portName,
		baudRate:    rd03d.DefaultBaudRate,
		readTimeout: defaultReadTimeout(),
		buf:         make([]byte, 0, readChunkSize*2),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.baudRate <= 0 {
		return nil, fmt.Errorf("%w: %d", rd03d.ErrInvalidBaudRate, t.baudRate)
	}
	return t, nil
}

// New opens portName at the configured baud rate (256000 unless overridden).
func New(portName string, opts ...Option) (*Transport, error) {
	t, err := newTransport(portName, opts)
	if err != nil {
		return nil, err
	}

	port, err := serial.Open(portName, lineMode(t.baudRate))
	if err != nil {
		return nil, classifyOpenError(portName, err)
	}
	if err := port.SetReadTimeout(t.readTimeout); err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("failed to set UART read timeout: %w", err)
	}

	t.port = port
	rd03d.Debugf("UART %s opened at %d baud", portName, t.baudRate)
	return t, nil
}

// NewWithPort wraps an already open port. The port's mode is left as is.
func NewWithPort(port serial.Port, portName string, opts ...Option) (*Transport, error) {
	t, err := newTransport(portName, opts)
	if err != nil {
		return nil, err
	}
	if err := port.SetReadTimeout(t.readTimeout); err != nil {
		return nil, fmt.Errorf("failed to set UART read timeout: %w", err)
	}
	t.port = port
	return t, nil
}

// classifyOpenError maps a missing port to rd03d.ErrDeviceNotFound so
// connection retries wait for a USB adapter that is still enumerating.
func classifyOpenError(portName string, err error) error {
	var portErr *serial.PortError
	if errors.Is(err, fs.ErrNotExist) || (errors.As(err, &portErr) && portErr.Code() == serial.PortNotFound) {
		return fmt.Errorf("%w: UART port %s: %w", rd03d.ErrDeviceNotFound, portName, err)
	}
	return fmt.Errorf("failed to open UART port %s: %w", portName, err)
}

// classifyReadError wraps a port read failure for rd03d.IsFatal/IsRetryable
func (t *Transport) classifyReadError(err error) error {
	var portErr *serial.PortError
	if errors.As(err, &portErr) && portErr.Code() == serial.PortClosed {
		return rd03d.NewTransportError("read", t.portName, rd03d.ErrTransportClosed, rd03d.ErrorTypePermanent)
	}
	return rd03d.NewTransportReadError("read", t.portName, err)
}

// fill reads one chunk from the port into the buffer. Caller holds mu.
func (t *Transport) fill() {
	if t.readErr != nil {
		return
	}
	if t.head == len(t.buf) {
		t.buf = t.buf[:0]
		t.head = 0
	}

	var chunk [readChunkSize]byte
	n, err := t.port.Read(chunk[:])
	t.buf = append(t.buf, chunk[:n]...)
	if err != nil {
		t.readErr = t.classifyReadError(err)
	}
}

// Available reports whether ReadByte has a byte or an error to return. With
// an empty buffer it reads the port once, which waits up to the read timeout.
func (t *Transport) Available() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return false
	}
	if t.head < len(t.buf) {
		return true
	}
	t.fill()
	return t.head < len(t.buf) || t.readErr != nil
}

// ReadByte returns the next buffered byte, rd03d.ErrNoData when nothing has
// arrived, or the read error that stopped the stream.
func (t *Transport) ReadByte() (byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return 0, rd03d.ErrTransportClosed
	}
	if t.head == len(t.buf) {
		t.fill()
	}
	if t.head < len(t.buf) {
		b := t.buf[t.head]
		t.head++
		return b, nil
	}
	if err := t.readErr; err != nil {
		t.readErr = nil
		return 0, err
	}
	return 0, rd03d.ErrNoData
}

// SetBaudRate changes the line speed. Buffered bytes received at the old
// speed are discarded.
func (t *Transport) SetBaudRate(baud int) error {
	if baud <= 0 {
		return fmt.Errorf("%w: %d", rd03d.ErrInvalidBaudRate, baud)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return rd03d.ErrTransportClosed
	}
	if err := t.port.SetMode(lineMode(baud)); err != nil {
		return fmt.Errorf("UART set baud rate %d failed: %w", baud, err)
	}
	if err := t.port.ResetInputBuffer(); err != nil {
		rd03d.Debugf("UART %s input reset failed: %v", t.portName, err)
	}
	t.buf = t.buf[:0]
	t.head = 0
	t.readErr = nil
	t.baudRate = baud
	return nil
}

// BaudRate returns the current line speed
func (t *Transport) BaudRate() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.baudRate
}

// PortName returns the serial device path
func (t *Transport) PortName() string {
	return t.portName
}

// Close closes the transport connection
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true
	if t.port != nil {
		if err := t.port.Close(); err != nil {
			return fmt.Errorf("UART close failed: %w", err)
		}
	}
	return nil
}

// Type returns the transport type
func (*Transport) Type() rd03d.TransportType {
	return rd03d.TransportUART
}

var (
	_ rd03d.ByteSource     = (*Transport)(nil)
	_ rd03d.BaudRateSetter = (*Transport)(nil)
)
