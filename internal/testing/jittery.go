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

package testing

import (
	"io"
	"math/rand/v2"
	"time"
)

// JitterConfig configures the behavior of JitteryReader.
type JitterConfig struct {
	// MaxLatencyMs sleeps up to this long before each read
	MaxLatencyMs int
	// FragmentMinBytes is the smallest fragment returned when FragmentReads is set
	FragmentMinBytes int
	// StallAfterBytes stalls once after this many bytes have been returned
	StallAfterBytes int
	// StallDuration is how long the stall lasts
	StallDuration time.Duration
	// Seed makes fragmentation reproducible (0 = random)
	Seed uint64
	// FragmentReads returns a random number of the available bytes per read
	FragmentReads bool
	// USBBoundaryStress never returns data across a 64-byte boundary, like a
	// full-speed USB bulk endpoint
	USBBoundaryStress bool
}

// DefaultJitterConfig returns a sensible default configuration for testing.
func DefaultJitterConfig() JitterConfig {
	return JitterConfig{
		MaxLatencyMs:     2,
		FragmentReads:    true,
		FragmentMinBytes: 1,
	}
}

// JitteryReader wraps a byte stream to reproduce how USB-UART bridges
// (CH340, CP210x, FTDI) deliver data: with unpredictable latency and in
// fragments that ignore frame boundaries. Bytes are buffered, never dropped,
// so the concatenation of all reads equals the backend stream.
type JitteryReader struct {
	backend             io.Reader
	rng                 *rand.Rand
	readBuf             []byte
	config              JitterConfig
	bytesReadSinceStall int
	stallTriggered      bool
}

// NewJitteryReader wraps backend with jitter simulation.
func NewJitteryReader(backend io.Reader, config JitterConfig) *JitteryReader {
	seed := config.Seed
	if seed == 0 {
		seed = rand.Uint64() //nolint:gosec // test data
	}
	if config.FragmentMinBytes < 1 {
		config.FragmentMinBytes = 1
	}

	return &JitteryReader{
		backend: backend,
		config:  config,
		rng:     rand.New(rand.NewPCG(seed, seed^0xDEADBEEF)), //nolint:gosec // test data
		readBuf: make([]byte, 0, 256),
	}
}

// Read returns the next fragment of the backend stream.
func (j *JitteryReader) Read(buf []byte) (int, error) {
	if j.config.MaxLatencyMs > 0 {
		if delay := time.Duration(j.rng.IntN(j.config.MaxLatencyMs+1)) * time.Millisecond; delay > 0 {
			time.Sleep(delay)
		}
	}

	if len(j.readBuf) == 0 {
		tmp := make([]byte, 256)
		n, err := j.backend.Read(tmp)
		if n == 0 {
			return 0, err //nolint:wrapcheck // pass-through wrapper
		}
		j.readBuf = append(j.readBuf, tmp[:n]...)
	}

	toReturn := min(len(j.readBuf), len(buf))
	toReturn = j.applyStall(toReturn)
	toReturn = j.applyUSBBoundary(toReturn)

	if j.config.FragmentReads && toReturn > j.config.FragmentMinBytes {
		toReturn = j.config.FragmentMinBytes + j.rng.IntN(toReturn-j.config.FragmentMinBytes+1)
	}

	copy(buf, j.readBuf[:toReturn])
	j.readBuf = j.readBuf[toReturn:]
	j.bytesReadSinceStall += toReturn
	return toReturn, nil
}

// applyStall limits reads up to the stall point, then stalls once
func (j *JitteryReader) applyStall(toReturn int) int {
	if j.config.StallAfterBytes <= 0 || j.stallTriggered {
		return toReturn
	}
	if j.bytesReadSinceStall >= j.config.StallAfterBytes {
		j.stallTriggered = true
		if j.config.StallDuration > 0 {
			time.Sleep(j.config.StallDuration)
		}
		return toReturn
	}
	return min(toReturn, j.config.StallAfterBytes-j.bytesReadSinceStall)
}

func (j *JitteryReader) applyUSBBoundary(toReturn int) int {
	if !j.config.USBBoundaryStress || toReturn == 0 {
		return toReturn
	}
	untilBoundary := 64 - j.bytesReadSinceStall%64
	return min(toReturn, untilBoundary)
}

// ResetStallState re-arms the stall.
func (j *JitteryReader) ResetStallState() {
	j.bytesReadSinceStall = 0
	j.stallTriggered = false
}

// Buffered returns how many bytes have been read from the backend but not yet returned.
func (j *JitteryReader) Buffered() int {
	return len(j.readBuf)
}
