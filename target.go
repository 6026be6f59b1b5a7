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
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/ZaparooProject/go-rd03d/internal/frame"
)

// ErrInvalidPayloadLength is returned when a payload is not exactly PayloadSize bytes.
var ErrInvalidPayloadLength = errors.New("invalid payload length")

// PayloadSize is the number of payload bytes between the frame preamble and trailer.
const PayloadSize = frame.PayloadSize

// Field offsets of the first target slot within a payload. Bytes 8 to 23 carry
// two further target slots which are not decoded.
const (
	offsetX             = 0
	offsetY             = 2
	offsetSpeed         = 4
	offsetPixelDistance = 6
)

// signFlag marks a positive value in the module's sign-magnitude encoding
const (
	signFlag      = 0x8000
	magnitudeMask = 0x7FFF
)

// Target is the decoded state of the first tracked object.
//
// A Target is always produced as a whole; Distance and Angle are derived from
// X and Y in the same decode and are zero when Detected is false. The zero
// value means no target has been reported.
type Target struct {
	// X is the lateral offset in millimeters, negative to the left of the sensor.
	X int16 `json:"x_mm"`
	// Y is the forward offset in millimeters.
	Y int16 `json:"y_mm"`
	// Speed is the radial velocity in cm/s.
	Speed int16 `json:"speed_cm_s"`
	// Distance is sqrt(X²+Y²) in millimeters.
	Distance float64 `json:"distance_mm"`
	// Angle is the bearing in degrees, 0 straight ahead, positive towards +X.
	Angle float64 `json:"angle_deg"`
	// Detected is false when the module reported an empty slot.
	Detected bool `json:"detected"`
}

// String returns a human-readable representation of the target
func (t Target) String() string {
	if !t.Detected {
		return "no target"
	}
	return fmt.Sprintf("x=%dmm y=%dmm speed=%dcm/s distance=%.1fmm angle=%.1f°",
		t.X, t.Y, t.Speed, t.Distance, t.Angle)
}

// DecodeTarget decodes the first target slot of a 24-byte frame payload.
//
// Coordinates and speed use sign-magnitude encoding where the high bit set
// means positive. The module reports "no target" by zeroing the x, y, speed and
// pixel distance fields. Payloads of any other length are refused with
// ErrInvalidPayloadLength.
func DecodeTarget(payload []byte) (Target, error) {
	if len(payload) != PayloadSize {
		return Target{}, fmt.Errorf("%w: got %d bytes, want %d", ErrInvalidPayloadLength, len(payload), PayloadSize)
	}

	rawX := binary.LittleEndian.Uint16(payload[offsetX:])
	rawY := binary.LittleEndian.Uint16(payload[offsetY:])
	rawSpeed := binary.LittleEndian.Uint16(payload[offsetSpeed:])
	rawPixelDistance := binary.LittleEndian.Uint16(payload[offsetPixelDistance:])

	target := Target{
		X:        decodeSigned(rawX),
		Y:        decodeSigned(rawY),
		Speed:    decodeSigned(rawSpeed),
		Detected: rawX != 0 || rawY != 0 || rawSpeed != 0 || rawPixelDistance != 0,
	}
	if target.Detected {
		target.Distance, target.Angle = polar(target.X, target.Y)
	}
	return target, nil
}

// decodeSigned converts a sign-magnitude field to a signed value
func decodeSigned(raw uint16) int16 {
	magnitude := int16(raw & magnitudeMask)
	if raw&signFlag != 0 {
		return magnitude
	}
	return -magnitude
}

// polar returns the distance in mm and the bearing in degrees for a position.
// The atan2 result is rotated by 90° so the sensor's forward axis is 0°, then
// negated so the sign follows X.
func polar(x, y int16) (distance, angle float64) {
	fx, fy := float64(x), float64(y)
	distance = math.Sqrt(fx*fx + fy*fy)
	angle = -((math.Atan2(fy, fx) - math.Pi/2) * 180 / math.Pi)
	return distance, angle
}
