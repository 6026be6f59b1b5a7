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

//nolint:paralleltest // Tests mutate package-level probeDeviceFn and enumerateFn
package uart

import (
	"context"
	"errors"
	"testing"

	"github.com/ZaparooProject/go-rd03d/detection"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial/enumerator"
)

func stubProbe(t *testing.T, result bool) *int {
	t.Helper()
	calls := 0
	orig := probeDeviceFn
	probeDeviceFn = func(context.Context, string, *detection.Options) bool {
		calls++
		return result
	}
	t.Cleanup(func() { probeDeviceFn = orig })
	return &calls
}

func TestProcessPort_SafeMode_SilentAdapterDiscarded(t *testing.T) {
	// A CH340 is the radar's usual adapter, but one that never sends a frame
	// must not be reported; it would shadow a real radar enumerated later
	stubProbe(t, false)

	port := &serialPort{Path: "/dev/ttyUSB0", Name: "ttyUSB0", VIDPID: "1A86:7523"}
	_, included := (&detector{}).processPort(context.Background(), port, &detection.Options{Mode: detection.Safe})
	assert.False(t, included)
}

func TestProcessPort_SafeMode_FrameGivesHighConfidence(t *testing.T) {
	stubProbe(t, true)

	port := &serialPort{Path: "/dev/ttyUSB0", Name: "ttyUSB0", VIDPID: "1A86:7523", Product: "USB Serial"}
	device, included := (&detector{}).processPort(context.Background(), port, &detection.Options{Mode: detection.Safe})
	require.True(t, included)
	assert.Equal(t, detection.High, device.Confidence)
	assert.Equal(t, "uart", device.Transport)
	assert.Equal(t, "1A86:7523", device.Metadata["vidpid"])
	assert.Equal(t, "USB Serial", device.Metadata["product"])
}

func TestProcessPort_PassiveMode_NeverProbes(t *testing.T) {
	calls := stubProbe(t, true)
	det := &detector{}
	opts := &detection.Options{Mode: detection.Passive}

	device, included := det.processPort(context.Background(),
		&serialPort{Path: "/dev/ttyUSB0", VIDPID: "10C4:EA60"}, opts)
	require.True(t, included)
	assert.Equal(t, detection.Medium, device.Confidence)

	_, included = det.processPort(context.Background(),
		&serialPort{Path: "/dev/ttyACM0", VIDPID: "AAAA:BBBB"}, opts)
	assert.False(t, included)
	assert.Zero(t, *calls)
}

func TestFilterPorts(t *testing.T) {
	ports := []serialPort{
		{Path: "/dev/ttyUSB0", Name: "ttyUSB0", VIDPID: "1A86:7523"},
		{Path: "/dev/ttyUSB1", Name: "ttyUSB1", VIDPID: "10C4:EA60"},
		{Path: "/dev/ttyACM0", Name: "ttyACM0", VIDPID: "2341:0043"},
		{Path: "/dev/ttyAMA0", Name: "ttyAMA0"},
		{Path: "/dev/ttyS5", Name: "ttyS5"},
	}
	det := &detector{}

	opts := detection.DefaultOptions()
	opts.IgnorePaths = []string{"/dev/ttyUSB1"}
	var paths []string
	for _, p := range det.filterPorts(ports, &opts) {
		paths = append(paths, p.Path)
	}
	assert.Equal(t, []string{"/dev/ttyUSB0", "/dev/ttyAMA0"}, paths)

	opts.Mode = detection.Full
	assert.Len(t, det.filterPorts(ports, &opts), 3, "Full mode keeps unknown ports but still honors the lists")
}

func TestDetect_EnumeratedPorts(t *testing.T) {
	stubProbe(t, true)
	orig := enumerateFn
	enumerateFn = func() ([]*enumerator.PortDetails, error) {
		return []*enumerator.PortDetails{
			{Name: "/dev/ttyUSB7", IsUSB: true, VID: "1a86", PID: "7523", Product: "USB Serial"},
		}, nil
	}
	t.Cleanup(func() { enumerateFn = orig })

	opts := detection.DefaultOptions()
	devices, err := New().Detect(context.Background(), &opts)
	require.NoError(t, err)

	var found bool
	for _, d := range devices {
		if d.Path == "/dev/ttyUSB7" {
			found = true
			assert.Equal(t, "1A86:7523", d.Metadata["vidpid"])
		}
	}
	assert.True(t, found)
}

func TestDetect_EnumeratorFailureWithoutFallback(t *testing.T) {
	orig := enumerateFn
	enumerateFn = func() ([]*enumerator.PortDetails, error) {
		return nil, errors.New("no udev")
	}
	t.Cleanup(func() { enumerateFn = orig })

	ports, err := getSerialPorts(context.Background())
	if len(ports) > 0 {
		t.Skip("host has board UARTs")
	}
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no udev")
}

func TestMergePorts(t *testing.T) {
	merged := mergePorts(
		[]serialPort{{Path: "/dev/ttyUSB0"}},
		[]serialPort{
			{Path: "/dev/ttyUSB0", VIDPID: "1A86:7523", Manufacturer: "QinHeng"},
			{Path: "/dev/ttyAMA0"},
		},
	)
	require.Len(t, merged, 2)
	assert.Equal(t, "1A86:7523", merged[0].VIDPID)
	assert.Equal(t, "QinHeng", merged[0].Manufacturer)
	assert.Equal(t, "/dev/ttyAMA0", merged[1].Path)
}

func TestIsLikelyAdapter(t *testing.T) {
	assert.True(t, isLikelyAdapter(&serialPort{VIDPID: "1a86:55d4"}))
	assert.True(t, isLikelyAdapter(&serialPort{Product: "CP2102 USB to UART Bridge Controller"}))
	assert.False(t, isLikelyAdapter(&serialPort{VIDPID: "2341:0043", Product: "Arduino Uno"}))
}
