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

// Package rd03d decodes the target reports an Ai-Thinker RD-03D mmWave radar
// streams over its UART. A Sensor pulls bytes from a ByteSource, locks onto
// the frame preamble and keeps the most recent Target; transports for host
// serial ports and SC16IS750 I2C/SPI bridges live under transport/.
package rd03d

import (
	"context"
	"errors"
	"fmt"

	"github.com/ZaparooProject/go-rd03d/internal/frame"
)

// ErrNilSource is returned by New when no byte source is given
var ErrNilSource = errors.New("byte source is nil")

// Option configures a Sensor
type Option func(*Sensor) error

// WithBaudRate sets the line speed applied by Init. Sources that cannot change
// speed (see BaudRateSetter) ignore it.
func WithBaudRate(baud int) Option {
	return func(s *Sensor) error {
		if baud <= 0 {
			return fmt.Errorf("%w: %d", ErrInvalidBaudRate, baud)
		}
		s.baudRate = baud
		return nil
	}
}

// Stats counts what the sensor has seen on the wire since it was created
type Stats struct {
	// BytesRead is the number of bytes taken from the source
	BytesRead uint64
	// FramesDecoded is the number of frames that replaced the target
	FramesDecoded uint64
	// TrailerMismatches is the number of complete frames dropped for a bad trailer
	TrailerMismatches uint64
	// DecodeErrors is the number of frames whose payload could not be decoded
	DecodeErrors uint64
}

// Sensor reads an RD-03D's frame stream from a ByteSource and keeps the most
// recently decoded target.
//
// Thread Safety: Sensor is NOT thread-safe. Update, Target and the other
// methods must be called from one goroutine. polling.Session wraps a Sensor
// for concurrent use.
type Sensor struct {
	source      ByteSource
	sync        frame.Synchronizer
	target      Target
	stats       Stats
	baudRate    int
	initialized bool
}

// New creates a sensor reading from source. The source is not touched until
// Init or Update is called.
func New(source ByteSource, opts ...Option) (*Sensor, error) {
	if source == nil {
		return nil, ErrNilSource
	}

	sensor := &Sensor{
		source:   source,
		baudRate: DefaultBaudRate,
	}

	for _, opt := range opts {
		if err := opt(sensor); err != nil {
			return nil, err
		}
	}

	return sensor, nil
}

// Init prepares the source at the configured baud rate
func (s *Sensor) Init() error {
	return s.InitContext(context.Background())
}

// InitContext prepares the source at the configured baud rate
func (s *Sensor) InitContext(ctx context.Context) error {
	return s.initWithBaud(ctx, s.baudRate)
}

// InitWithBaud prepares the source at an explicit baud rate, which also
// becomes the sensor's configured rate.
func (s *Sensor) InitWithBaud(baud int) error {
	return s.initWithBaud(context.Background(), baud)
}

func (s *Sensor) initWithBaud(ctx context.Context, baud int) error {
	if baud <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidBaudRate, baud)
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("init cancelled: %w", err)
	}

	if setter, ok := s.source.(BaudRateSetter); ok {
		if err := setter.SetBaudRate(baud); err != nil {
			return fmt.Errorf("failed to set baud rate %d on %s source: %w", baud, s.source.Type(), err)
		}
	} else {
		Debugf("%s source has a fixed line speed, ignoring baud rate %d", s.source.Type(), baud)
	}

	s.baudRate = baud
	s.sync.Reset()
	s.initialized = true
	Debugf("sensor initialized on %s source at %d baud", s.source.Type(), baud)
	return nil
}

// Update drains every byte the source has available and applies each valid
// frame to the target, the last one winning. It reports whether at least one
// frame was applied. Protocol noise and read failures are never surfaced; use
// UpdateContext to see read errors.
//
// Draining ends at the first Available call that reports false, so Update
// returns after at most one source wait on an empty buffer, such as the UART
// transport's read timeout.
func (s *Sensor) Update() bool {
	updated, err := s.UpdateContext(context.Background())
	if err != nil {
		Debugf("update stopped: %v", err)
	}
	return updated
}

// UpdateContext is Update with cancellation, checked between bytes. It
// returns the read error that stopped draining, if any. Frames applied before
// the error still count towards the returned bool.
func (s *Sensor) UpdateContext(ctx context.Context) (bool, error) {
	updated := false
	for s.source.Available() {
		if err := ctx.Err(); err != nil {
			return updated, fmt.Errorf("update cancelled: %w", err)
		}

		b, err := s.source.ReadByte()
		if errors.Is(err, ErrNoData) {
			break
		}
		if err != nil {
			return updated, fmt.Errorf("failed to read from %s source: %w", s.source.Type(), err)
		}

		s.stats.BytesRead++
		if s.feed(b) {
			updated = true
		}
	}
	return updated, nil
}

// feed pushes one byte through the synchronizer and reports whether it completed an applied frame
func (s *Sensor) feed(b byte) bool {
	payload, ev := s.sync.Feed(b)
	switch ev {
	case frame.EventFrame:
		target, err := DecodeTarget(payload)
		if err != nil {
			s.stats.DecodeErrors++
			Debugf("frame dropped: %v", err)
			return false
		}
		s.target = target
		s.stats.FramesDecoded++
		return true
	case frame.EventTrailerMismatch:
		s.stats.TrailerMismatches++
		Debugln("frame dropped: trailer mismatch")
	case frame.EventNone:
	}
	return false
}

// Target returns the most recently decoded target, or the zero Target when no
// frame has been decoded yet
func (s *Sensor) Target() Target {
	return s.target
}

// Stats returns the sensor's wire counters
func (s *Sensor) Stats() Stats {
	return s.stats
}

// BaudRate returns the configured baud rate
func (s *Sensor) BaudRate() int {
	return s.baudRate
}

// Initialized reports whether Init has completed successfully
func (s *Sensor) Initialized() bool {
	return s.initialized
}

// Source returns the underlying byte source
func (s *Sensor) Source() ByteSource {
	return s.source
}

// Close closes the underlying byte source
func (s *Sensor) Close() error {
	if s.source != nil {
		if err := s.source.Close(); err != nil {
			return fmt.Errorf("failed to close source: %w", err)
		}
	}
	return nil
}
