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

//nolint:paralleltest // Tests mutate environment and package-level hooks
package spi

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/ZaparooProject/go-rd03d/detection"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func isolate(t *testing.T, probeResult bool) {
	t.Helper()
	origPaths, origProbe := configPaths, probeFn
	configPaths = func() []string { return nil }
	probeFn = func(context.Context, Config, *detection.Options) bool { return probeResult }
	t.Setenv("RD03D_SPI_DEVICE", "")
	t.Cleanup(func() { configPaths, probeFn = origPaths, origProbe })
}

func TestParseConfigs(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		devices []string
		wantErr bool
	}{
		{
			name:    "yaml_list",
			data:    "- device: /dev/spidev0.0\n  crystal_hz: 24000000\n- device: /dev/spidev0.1\n",
			devices: []string{"/dev/spidev0.0", "/dev/spidev0.1"},
		},
		{
			name:    "yaml_single",
			data:    "device: /dev/spidev1.0\nname: radar\n",
			devices: []string{"/dev/spidev1.0"},
		},
		{
			name:    "json_list",
			data:    `[{"device": "/dev/spidev0.0", "metadata": {"room": "hall"}}]`,
			devices: []string{"/dev/spidev0.0"},
		},
		{
			name:    "entries_without_device_dropped",
			data:    "- name: nothing\n- device: /dev/spidev0.0\n",
			devices: []string{"/dev/spidev0.0"},
		},
		{
			name:    "garbage",
			data:    "{{{",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			configs, err := parseConfigs([]byte(tt.data))
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			var devices []string
			for _, c := range configs {
				assert.True(t, c.declared)
				devices = append(devices, c.Device)
			}
			assert.Equal(t, tt.devices, devices)
		})
	}
}

func TestLoadConfigFile_FirstReadableWins(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.yaml")
	good := filepath.Join(dir, "good.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("{{{"), 0o600))
	require.NoError(t, os.WriteFile(good, []byte("device: /dev/spidev0.0\ncrystal_hz: 24000000\n"), 0o600))

	configs := loadConfigFile([]string{filepath.Join(dir, "missing.yaml"), bad, good})
	require.Len(t, configs, 1)
	assert.Equal(t, 24_000_000, configs[0].CrystalHz)
}

func TestLoadEnvConfig(t *testing.T) {
	t.Setenv("RD03D_SPI_DEVICE", "/dev/spidev0.1")
	t.Setenv("RD03D_SPI_CRYSTAL", "24000000")

	config := loadEnvConfig()
	require.NotNil(t, config)
	assert.Equal(t, "/dev/spidev0.1", config.Device)
	assert.Equal(t, 24_000_000, config.CrystalHz)

	t.Setenv("RD03D_SPI_DEVICE", "")
	assert.Nil(t, loadEnvConfig())
}

func TestDetect_SafeModeReportsDeclaredOnly(t *testing.T) {
	isolate(t, true)
	t.Setenv("RD03D_SPI_DEVICE", "/dev/spidev0.0")

	opts := detection.Options{Mode: detection.Safe}
	devices, err := New().Detect(context.Background(), &opts)
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.Equal(t, detection.Low, devices[0].Confidence, "no probe outside Full mode")
	assert.Equal(t, "SPI bridge from environment", devices[0].Name)
}

func TestDetect_NothingDeclared(t *testing.T) {
	isolate(t, true)

	opts := detection.Options{Mode: detection.Safe}
	_, err := New().Detect(context.Background(), &opts)
	require.ErrorIs(t, err, detection.ErrNoDevicesFound)
}

func TestDetect_FullModeProbes(t *testing.T) {
	isolate(t, true)
	t.Setenv("RD03D_SPI_DEVICE", "/dev/spidev0.0")

	opts := detection.Options{Mode: detection.Full}
	devices, err := New().Detect(context.Background(), &opts)
	require.NoError(t, err)
	assert.Equal(t, detection.High, devices[0].Confidence)
}

func TestDetect_FullModeKeepsDeclaredOnFailedProbe(t *testing.T) {
	isolate(t, false)
	t.Setenv("RD03D_SPI_DEVICE", "/dev/spidev0.0")

	opts := detection.Options{Mode: detection.Full}
	devices, err := New().Detect(context.Background(), &opts)
	require.NoError(t, err)
	require.NotEmpty(t, devices)
	assert.Equal(t, "/dev/spidev0.0", devices[0].Path)
	assert.Equal(t, detection.Low, devices[0].Confidence)
}

func TestDetect_IgnorePaths(t *testing.T) {
	isolate(t, true)
	t.Setenv("RD03D_SPI_DEVICE", "/dev/spidev0.0")

	opts := detection.Options{Mode: detection.Safe, IgnorePaths: []string{"/dev/spidev0.0"}}
	_, err := New().Detect(context.Background(), &opts)
	require.ErrorIs(t, err, detection.ErrNoDevicesFound)
}

func TestCreateDeviceInfo(t *testing.T) {
	device := createDeviceInfo(Config{
		Device:    "/dev/spidev0.0",
		CrystalHz: 24_000_000,
		Metadata:  map[string]string{"room": "hall"},
	})
	assert.Equal(t, "spi", device.Transport)
	assert.Equal(t, "SPI bridge at /dev/spidev0.0", device.Name)
	assert.Equal(t, "24000000", device.Metadata["crystal_hz"])
	assert.Equal(t, "hall", device.Metadata["room"])
}

func TestDeduplicateConfigs(t *testing.T) {
	unique := deduplicateConfigs([]Config{
		{Device: "/dev/spidev0.0", Name: "declared", declared: true},
		{Device: "/dev/spidev0.0"},
		{Device: "/dev/spidev0.1"},
	})
	require.Len(t, unique, 2)
	assert.Equal(t, "declared", unique[0].Name)
}
