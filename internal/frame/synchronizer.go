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

package frame

// State is the synchronizer's position within a frame
type State int

const (
	// StateWaitPreamble0 hunts for the first preamble byte (0xAA)
	StateWaitPreamble0 State = iota
	// StateWaitPreamble1 expects 0xFF
	StateWaitPreamble1
	// StateWaitPreamble2 expects 0x03
	StateWaitPreamble2
	// StateWaitPreamble3 expects 0x00
	StateWaitPreamble3
	// StateReceivePayload accumulates payload and trailer bytes
	StateReceivePayload
)

// String returns a human-readable state name
func (s State) String() string {
	switch s {
	case StateWaitPreamble0:
		return "wait_preamble_0"
	case StateWaitPreamble1:
		return "wait_preamble_1"
	case StateWaitPreamble2:
		return "wait_preamble_2"
	case StateWaitPreamble3:
		return "wait_preamble_3"
	case StateReceivePayload:
		return "receive_payload"
	default:
		return "unknown"
	}
}

// Event reports what a single fed byte completed
type Event int

const (
	// EventNone means the byte was consumed without completing a frame
	EventNone Event = iota
	// EventFrame means a complete frame with a valid trailer was received
	EventFrame
	// EventTrailerMismatch means a full frame was received but its trailer was wrong
	EventTrailerMismatch
)

// Synchronizer locks onto the RD-03D frame preamble inside an unstructured byte
// stream and collects the fixed-size payload that follows it.
//
// A byte that breaks a partial preamble sends the synchronizer back to hunting,
// unless that byte is itself 0xAA, in which case it starts the next preamble
// attempt. Payload bytes are never rescanned: once the preamble is complete the
// next BufferSize bytes belong to the frame. There is no timeout; a stalled
// stream leaves the synchronizer waiting in StateReceivePayload until more
// bytes arrive or Reset is called.
//
// The zero value is ready to use. A Synchronizer is not safe for concurrent use.
type Synchronizer struct {
	buf   [BufferSize]byte
	n     int // write cursor, always in [0, BufferSize)
	state State
}

// NewSynchronizer returns a synchronizer hunting for a preamble
func NewSynchronizer() *Synchronizer {
	return &Synchronizer{}
}

// State returns the current parser state
func (s *Synchronizer) State() State {
	return s.state
}

// Buffered returns how many payload/trailer bytes have been collected for the current frame
func (s *Synchronizer) Buffered() int {
	return s.n
}

// Reset discards any partial frame and resumes preamble hunting
func (s *Synchronizer) Reset() {
	s.state = StateWaitPreamble0
	s.n = 0
}

// Feed advances the state machine by one byte.
//
// On EventFrame the returned payload holds the PayloadSize bytes between
// preamble and trailer. It aliases the synchronizer's buffer and is only valid
// until the next call to Feed or Reset; copy it to keep it.
func (s *Synchronizer) Feed(b byte) (payload []byte, ev Event) {
	switch s.state {
	case StateWaitPreamble0:
		s.restart(b)
	case StateWaitPreamble1:
		s.expect(b, Preamble1, StateWaitPreamble2)
	case StateWaitPreamble2:
		s.expect(b, Preamble2, StateWaitPreamble3)
	case StateWaitPreamble3:
		if b == Preamble3 {
			s.n = 0
		}
		s.expect(b, Preamble3, StateReceivePayload)
	case StateReceivePayload:
		return s.receive(b)
	default:
		s.Reset()
	}
	return nil, EventNone
}

// expect moves to next when b matches want, otherwise restarts preamble hunting
func (s *Synchronizer) expect(b, want byte, next State) {
	if b == want {
		s.state = next
		return
	}
	s.restart(b)
}

// restart begins a new preamble attempt if b is its first byte
func (s *Synchronizer) restart(b byte) {
	if b == Preamble0 {
		s.state = StateWaitPreamble1
		return
	}
	s.state = StateWaitPreamble0
}

// receive stores one payload/trailer byte and closes the frame once the buffer is full
func (s *Synchronizer) receive(b byte) (payload []byte, ev Event) {
	if s.n < 0 || s.n >= len(s.buf) {
		s.Reset()
		return nil, EventNone
	}
	s.buf[s.n] = b
	s.n++
	if s.n < len(s.buf) {
		return nil, EventNone
	}

	valid := ValidTrailer(s.buf[:])
	s.Reset()
	if !valid {
		return nil, EventTrailerMismatch
	}
	return s.buf[:PayloadSize], EventFrame
}
