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

// Package testing provides simulated RD-03D hardware for tests: a frame
// generator that behaves like the module's UART output, and read wrappers that
// reproduce the latency and fragmentation of USB-UART adapters.
package testing

import (
	"encoding/binary"
	"io"
	"math/rand/v2"
	"sync"

	"github.com/ZaparooProject/go-rd03d/internal/frame"
)

// RadarTarget is one simulated first-slot report
type RadarTarget struct {
	X             int16
	Y             int16
	Speed         int16
	PixelDistance uint16
}

// NoTarget is the report the module sends when nothing is tracked
var NoTarget = RadarTarget{}

// RadarConfig configures a VirtualRadar
type RadarConfig struct {
	// MaxNoiseBytes inserts up to this many random non-0xAA bytes before each frame
	MaxNoiseBytes int
	// CorruptEvery gives every Nth frame a bad trailer (0 = never)
	CorruptEvery int
	// Seed makes noise reproducible (0 = random)
	Seed uint64
	// Loop replays the queued targets forever instead of ending with io.EOF
	Loop bool
}

// VirtualRadar streams RD-03D frames for a queue of targets.
//
// It implements io.ReadWriter so it can stand in for a serial connection:
// reads return the byte stream, writes are accepted and counted but do not
// affect the output.
type VirtualRadar struct {
	rng       *rand.Rand
	targets   []RadarTarget
	pending   []byte
	config    RadarConfig
	next      int
	emitted   int
	corrupted int
	written   int
	mu        sync.Mutex
}

// NewVirtualRadar creates a radar that will report targets in order
func NewVirtualRadar(config RadarConfig, targets ...RadarTarget) *VirtualRadar {
	seed := config.Seed
	if seed == 0 {
		seed = rand.Uint64() //nolint:gosec // test data
	}
	return &VirtualRadar{
		config:  config,
		targets: append([]RadarTarget(nil), targets...),
		rng:     rand.New(rand.NewPCG(seed, seed^0x5A5A5A5A)), //nolint:gosec // test data
	}
}

// Queue appends targets to the report queue
func (r *VirtualRadar) Queue(targets ...RadarTarget) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.targets = append(r.targets, targets...)
}

// Read fills buf from the generated stream. It returns io.EOF once every
// queued target has been sent, unless the radar loops.
func (r *VirtualRadar) Read(buf []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(buf) == 0 {
		return 0, nil
	}
	for len(r.pending) < len(buf) {
		if !r.generate() {
			break
		}
	}
	if len(r.pending) == 0 {
		return 0, io.EOF
	}

	n := copy(buf, r.pending)
	r.pending = r.pending[n:]
	return n, nil
}

// Write accepts and discards configuration commands
func (r *VirtualRadar) Write(data []byte) (int, error) {
	r.mu.Lock()
	r.written += len(data)
	r.mu.Unlock()
	return len(data), nil
}

// NextFrame returns the next frame the radar would send, without noise
func (r *VirtualRadar) NextFrame() ([]byte, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.take()
	if !ok {
		return nil, false
	}
	return r.encode(t), true
}

// FramesEmitted returns how many frames have been generated
func (r *VirtualRadar) FramesEmitted() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.emitted
}

// CorruptedFrames returns how many generated frames carry a bad trailer
func (r *VirtualRadar) CorruptedFrames() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.corrupted
}

// BytesWritten returns how many bytes have been written to the radar
func (r *VirtualRadar) BytesWritten() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.written
}

// generate appends noise and one frame to pending; false when the queue is exhausted
func (r *VirtualRadar) generate() bool {
	t, ok := r.take()
	if !ok {
		return false
	}
	if r.config.MaxNoiseBytes > 0 {
		for range r.rng.IntN(r.config.MaxNoiseBytes + 1) {
			r.pending = append(r.pending, r.noiseByte())
		}
	}
	r.pending = append(r.pending, r.encode(t)...)
	return true
}

func (r *VirtualRadar) take() (RadarTarget, bool) {
	if len(r.targets) == 0 {
		return RadarTarget{}, false
	}
	if r.next >= len(r.targets) {
		if !r.config.Loop {
			return RadarTarget{}, false
		}
		r.next = 0
	}
	t := r.targets[r.next]
	r.next++
	return t, true
}

// noiseByte never returns 0xAA so noise cannot open a preamble
func (r *VirtualRadar) noiseByte() byte {
	b := byte(r.rng.UintN(255))
	if b >= frame.Preamble0 {
		b++
	}
	return b
}

func (r *VirtualRadar) encode(t RadarTarget) []byte {
	out, err := frame.BuildFrame(EncodePayload(t))
	if err != nil {
		panic(err) // EncodePayload always returns PayloadSize bytes
	}
	r.emitted++
	if r.config.CorruptEvery > 0 && r.emitted%r.config.CorruptEvery == 0 {
		out[len(out)-1] = 0x00
		r.corrupted++
	}
	return out
}

// EncodePayload builds the 24-byte payload for t. NoTarget encodes as all
// zeros, the module's empty slot. Otherwise the two trailing target slots are
// filled with a fixed pattern the decoder must ignore.
func EncodePayload(t RadarTarget) []byte {
	p := make([]byte, frame.PayloadSize)
	if t == NoTarget {
		return p
	}
	binary.LittleEndian.PutUint16(p[0:], EncodeSigned(t.X))
	binary.LittleEndian.PutUint16(p[2:], EncodeSigned(t.Y))
	binary.LittleEndian.PutUint16(p[4:], EncodeSigned(t.Speed))
	binary.LittleEndian.PutUint16(p[6:], t.PixelDistance)
	for i := 8; i < frame.PayloadSize; i++ {
		p[i] = byte(i * 7)
	}
	return p
}

// EncodeSigned converts v to the module's sign-magnitude field, high bit set for positive
func EncodeSigned(v int16) uint16 {
	if v >= 0 {
		return uint16(v) | 0x8000
	}
	if v == -32768 {
		return 0x7FFF
	}
	return uint16(-v)
}
