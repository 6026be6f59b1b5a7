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

package rd03d

import (
	"sync"
)

// ByteSource supplies raw bytes from the radar one at a time.
// This can be implemented by UART, I2C/SPI bridge, or mock backends.
//
// Available reports whether a byte can be read now and ReadByte returns
// ErrNoData when nothing is buffered. Neither may wait for data indefinitely,
// but a source with an empty buffer may wait a short, bounded time for its
// driver in Available: the UART transport waits up to its read timeout (5 ms,
// 20 ms on Windows) before reporting false.
type ByteSource interface {
	// Available returns true if at least one byte can be read without blocking
	Available() bool

	// ReadByte returns the next buffered byte
	ReadByte() (byte, error)

	// Close closes the underlying connection
	Close() error

	// Type returns the transport type
	Type() TransportType
}

// BaudRateSetter is implemented by sources whose line speed can be changed after opening
type BaudRateSetter interface {
	SetBaudRate(baud int) error
}

// TransportType represents the type of transport
type TransportType string

const (
	// TransportUART represents a host serial port.
	TransportUART TransportType = "uart"
	// TransportI2C represents an SC16IS750 bridge on an I2C bus.
	TransportI2C TransportType = "i2c"
	// TransportSPI represents an SC16IS750 bridge on an SPI bus.
	TransportSPI TransportType = "spi"
	// TransportMock represents a mock transport for testing
	TransportMock TransportType = "mock"
)

// MockSource provides an in-memory ByteSource for testing
type MockSource struct {
	readErr  error
	pending  []byte
	baudRate int
	reads    int
	mu       sync.Mutex
	closed   bool
}

// NewMockSource creates a new mock source holding no data
func NewMockSource() *MockSource {
	return &MockSource{}
}

// Available implements ByteSource
func (m *MockSource) Available() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.closed && (len(m.pending) > 0 || m.readErr != nil)
}

// ReadByte implements ByteSource
func (m *MockSource) ReadByte() (byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, ErrTransportClosed
	}
	if m.readErr != nil {
		return 0, m.readErr
	}
	if len(m.pending) == 0 {
		return 0, ErrNoData
	}

	b := m.pending[0]
	m.pending = m.pending[1:]
	m.reads++
	return b, nil
}

// Close implements ByteSource
func (m *MockSource) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

// Type implements ByteSource
func (*MockSource) Type() TransportType {
	return TransportMock
}

// SetBaudRate implements BaudRateSetter
func (m *MockSource) SetBaudRate(baud int) error {
	if baud <= 0 {
		return ErrInvalidBaudRate
	}
	m.mu.Lock()
	m.baudRate = baud
	m.mu.Unlock()
	return nil
}

// Test helper methods

// Write queues bytes to be returned by ReadByte. It never fails.
func (m *MockSource) Write(p []byte) (int, error) {
	m.mu.Lock()
	m.pending = append(m.pending, p...)
	m.mu.Unlock()
	return len(p), nil
}

// SetError makes every following ReadByte fail with err; nil clears it
func (m *MockSource) SetError(err error) {
	m.mu.Lock()
	m.readErr = err
	m.mu.Unlock()
}

// Pending returns how many queued bytes have not been read yet
func (m *MockSource) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// ReadCount returns how many bytes have been read successfully
func (m *MockSource) ReadCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reads
}

// BaudRate returns the last baud rate set through SetBaudRate
func (m *MockSource) BaudRate() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.baudRate
}

// IsClosed reports whether Close has been called
func (m *MockSource) IsClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

var (
	_ ByteSource     = (*MockSource)(nil)
	_ BaudRateSetter = (*MockSource)(nil)
)
