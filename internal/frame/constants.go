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

// Frame preamble bytes, in wire order
const (
	Preamble0 = 0xAA
	Preamble1 = 0xFF
	Preamble2 = 0x03
	Preamble3 = 0x00
)

// Frame trailer bytes, in wire order
const (
	Trailer0 = 0x55
	Trailer1 = 0xCC
)

// Frame size limits
const (
	PreambleSize = 4
	PayloadSize  = 24 // first target (8 bytes) plus two undecoded target slots
	TrailerSize  = 2
	// BufferSize is the accumulation capacity after the preamble: payload plus trailer.
	BufferSize = PayloadSize + TrailerSize
	// FrameSize is the full on-wire frame length.
	FrameSize = PreambleSize + BufferSize
)

// Preamble and Trailer as byte sequences, for building and matching whole frames
var (
	Preamble = []byte{Preamble0, Preamble1, Preamble2, Preamble3}
	Trailer  = []byte{Trailer0, Trailer1}
)
