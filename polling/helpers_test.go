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

package polling

import (
	"testing"
	"time"

	rd03d "github.com/ZaparooProject/go-rd03d"
	"github.com/ZaparooProject/go-rd03d/internal/frame"
	virt "github.com/ZaparooProject/go-rd03d/internal/testing"
	"github.com/stretchr/testify/require"
)

var (
	targetAhead = virt.RadarTarget{X: 0, Y: 1500, Speed: 0, PixelDistance: 300}
	targetLeft  = virt.RadarTarget{X: -600, Y: 800, Speed: -12, PixelDistance: 200}
)

// createInitializedSensor creates a sensor over a mock source, ready to poll
func createInitializedSensor(t testing.TB) (*rd03d.Sensor, *rd03d.MockSource) {
	t.Helper()
	source := rd03d.NewMockSource()
	sensor, err := rd03d.New(source)
	require.NoError(t, err)
	require.NoError(t, sensor.Init())
	return sensor, source
}

// queueFrames writes one well-formed frame per target to the mock source
func queueFrames(t testing.TB, source *rd03d.MockSource, targets ...virt.RadarTarget) {
	t.Helper()
	for _, target := range targets {
		f, err := frame.BuildFrame(virt.EncodePayload(target))
		require.NoError(t, err)
		_, _ = source.Write(f)
	}
}

// fastConfig polls quickly and never reports a target stale on its own
func fastConfig() *Config {
	return &Config{
		PollInterval: 2 * time.Millisecond,
		StaleTimeout: time.Hour,
	}
}
