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
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidReading is returned when a reading line cannot be parsed
var ErrInvalidReading = errors.New("invalid reading line")

// readingFields is the number of integers in a reading line
const readingFields = 6

// Reading is a target snapshot rounded to whole units, in the line format the
// RD-03D host firmware answers a READ request with:
//
//	<timestamp ms> <x mm> <y mm> <distance mm> <angle deg> <speed cm/s>
type Reading struct {
	TimestampMS int64
	X           int64
	Y           int64
	Distance    int64
	Angle       int64
	Speed       int64
}

// NewReading rounds a target to a Reading stamped with ts
func NewReading(t Target, ts time.Time) Reading {
	return Reading{
		TimestampMS: ts.UnixMilli(),
		X:           int64(t.X),
		Y:           int64(t.Y),
		Distance:    int64(math.Round(t.Distance)),
		Angle:       int64(math.Round(t.Angle)),
		Speed:       int64(t.Speed),
	}
}

// String formats the reading as a single space-separated line without a newline
func (r Reading) String() string {
	return fmt.Sprintf("%d %d %d %d %d %d", r.TimestampMS, r.X, r.Y, r.Distance, r.Angle, r.Speed)
}

// IsZero reports whether every field is zero. Hosts treat such lines as "no data".
func (r Reading) IsZero() bool {
	return r == Reading{}
}

// ParseReading parses a reading line produced by Reading.String or the host firmware
func ParseReading(line string) (Reading, error) {
	parts := strings.Fields(line)
	if len(parts) != readingFields {
		return Reading{}, fmt.Errorf("%w: expected %d fields, got %d", ErrInvalidReading, readingFields, len(parts))
	}

	var vals [readingFields]int64
	for i, p := range parts {
		v, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return Reading{}, fmt.Errorf("%w: field %d: %w", ErrInvalidReading, i, err)
		}
		vals[i] = v
	}

	return Reading{
		TimestampMS: vals[0],
		X:           vals[1],
		Y:           vals[2],
		Distance:    vals[3],
		Angle:       vals[4],
		Speed:       vals[5],
	}, nil
}
