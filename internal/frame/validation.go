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

import "errors"

// ErrPayloadSize is returned by BuildFrame when the payload is not exactly PayloadSize bytes.
var ErrPayloadSize = errors.New("payload must be exactly 24 bytes")

// ValidTrailer reports whether buf holds a complete payload followed by the fixed trailer.
// Buffers shorter than BufferSize are never valid.
func ValidTrailer(buf []byte) bool {
	if len(buf) < BufferSize {
		return false
	}
	return buf[PayloadSize] == Trailer0 && buf[PayloadSize+1] == Trailer1
}

// BuildFrame wraps a payload with the preamble and trailer, producing the on-wire frame.
func BuildFrame(payload []byte) ([]byte, error) {
	if len(payload) != PayloadSize {
		return nil, ErrPayloadSize
	}
	frm := make([]byte, 0, FrameSize)
	frm = append(frm, Preamble...)
	frm = append(frm, payload...)
	frm = append(frm, Trailer...)
	return frm, nil
}
