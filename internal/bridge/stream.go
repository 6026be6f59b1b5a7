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

package bridge

import (
	"fmt"
	"sync"

	rd03d "github.com/ZaparooProject/go-rd03d"
)

// Stream serves a bridge's receive FIFO one byte at a time. Transports embed
// it to implement rd03d.ByteSource and rd03d.BaudRateSetter.
type Stream struct {
	bridge  *Bridge
	wrapErr func(error) error
	readErr error
	buf     [FIFOSize]byte
	head    int
	n       int
	mu      sync.Mutex
	closed  bool
}

// NewStream creates a stream over b. wrapErr, if set, decorates every bus
// error before it is returned (transports use it to attach a register trace).
func NewStream(b *Bridge, wrapErr func(error) error) *Stream {
	if wrapErr == nil {
		wrapErr = func(err error) error { return err }
	}
	return &Stream{bridge: b, wrapErr: wrapErr}
}

// fill drains the FIFO into the buffer. Caller holds mu.
func (s *Stream) fill() {
	if s.readErr != nil {
		return
	}
	n, err := s.bridge.Drain(s.buf[:])
	s.head, s.n = 0, n
	if err != nil {
		s.readErr = s.wrapErr(err)
	}
}

// Available reports whether ReadByte has a byte or an error to return
func (s *Stream) Available() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}
	if s.head < s.n {
		return true
	}
	s.fill()
	return s.head < s.n || s.readErr != nil
}

// ReadByte returns the next FIFO byte, rd03d.ErrNoData when the FIFO is
// empty, or the bus error that stopped the stream
func (s *Stream) ReadByte() (byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, rd03d.ErrTransportClosed
	}
	if s.head == s.n {
		s.fill()
	}
	if s.head < s.n {
		b := s.buf[s.head]
		s.head++
		return b, nil
	}
	if err := s.readErr; err != nil {
		s.readErr = nil
		return 0, err
	}
	return 0, rd03d.ErrNoData
}

// SetBaudRate reprograms the bridge UART and drops anything buffered
func (s *Stream) SetBaudRate(baud int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return rd03d.ErrTransportClosed
	}
	if err := s.bridge.Configure(baud); err != nil {
		return fmt.Errorf("bridge set baud rate %d failed: %w", baud, s.wrapErr(err))
	}
	s.head, s.n = 0, 0
	s.readErr = nil
	return nil
}

// BaudRate returns the rate the bridge UART was last configured for
func (s *Stream) BaudRate() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bridge.Baud()
}

// Bridge returns the underlying register driver
func (s *Stream) Bridge() *Bridge {
	return s.bridge
}

// MarkClosed stops the stream. It returns false if it was already closed.
func (s *Stream) MarkClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.closed = true
	return true
}

var _ rd03d.BaudRateSetter = (*Stream)(nil)
