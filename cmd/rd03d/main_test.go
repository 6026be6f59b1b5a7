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

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	rd03d "github.com/ZaparooProject/go-rd03d"
	"github.com/ZaparooProject/go-rd03d/detection"
	"github.com/ZaparooProject/go-rd03d/internal/frame"
	virt "github.com/ZaparooProject/go-rd03d/internal/testing"
	"github.com/ZaparooProject/go-rd03d/polling"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createMockSensor(t *testing.T, targets ...virt.RadarTarget) (*rd03d.Sensor, *rd03d.MockSource) {
	t.Helper()
	source := rd03d.NewMockSource()
	for _, target := range targets {
		f, err := frame.BuildFrame(virt.EncodePayload(target))
		require.NoError(t, err)
		_, _ = source.Write(f)
	}
	sensor, err := rd03d.New(source)
	require.NoError(t, err)
	require.NoError(t, sensor.Init())
	return sensor, source
}

func TestParseConfig_Defaults(t *testing.T) {
	t.Parallel()

	cfg, err := parseConfig(nil, io.Discard)
	require.NoError(t, err)
	assert.Empty(t, cfg.Device)
	assert.Equal(t, rd03d.DefaultBaudRate, cfg.Baud)
	assert.Equal(t, formatText, cfg.Format)
	assert.Equal(t, 100*time.Millisecond, cfg.PollInterval)
	assert.Equal(t, time.Second, cfg.StaleTimeout)
	assert.Zero(t, cfg.Soak)
	assert.False(t, cfg.Debug)
}

func TestParseConfig_Flags(t *testing.T) {
	t.Parallel()

	cfg, err := parseConfig([]string{
		"-device", "/dev/ttyUSB0", "-baud", "115200", "-format", "json",
		"-debug", "-session-log", "/tmp/logs", "-poll", "50ms",
	}, io.Discard)
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyUSB0", cfg.Device)
	assert.Equal(t, 115200, cfg.Baud)
	assert.Equal(t, formatJSON, cfg.Format)
	assert.True(t, cfg.Debug)
	assert.Equal(t, "/tmp/logs", cfg.SessionLog)
	assert.Equal(t, 50*time.Millisecond, cfg.PollInterval)
}

func TestParseConfig_FileWithFlagOverride(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "rd03d.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
device: /dev/i2c-1:0x48
crystal_hz: 24000000
format: line
stale_timeout: 2s
`), 0o600))

	cfg, err := parseConfig([]string{"-config", path, "-format", "json"}, io.Discard)
	require.NoError(t, err)
	assert.Equal(t, "/dev/i2c-1:0x48", cfg.Device)
	assert.Equal(t, 24000000, cfg.CrystalHz)
	assert.Equal(t, 2*time.Second, cfg.StaleTimeout)
	assert.Equal(t, formatJSON, cfg.Format, "flags override the file")
	assert.Equal(t, rd03d.DefaultBaudRate, cfg.Baud, "unset values keep their defaults")
}

func TestParseConfig_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		args    []string
		wantErr error
	}{
		{name: "UnknownFormat", args: []string{"-format", "xml"}, wantErr: errUnknownFormat},
		{name: "BadBaud", args: []string{"-baud", "0"}, wantErr: rd03d.ErrInvalidBaudRate},
		{name: "Help", args: []string{"-h"}, wantErr: flag.ErrHelp},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := parseConfig(tt.args, io.Discard)
			require.ErrorIs(t, err, tt.wantErr)
		})
	}

	_, err := parseConfig([]string{"-config", filepath.Join(t.TempDir(), "missing.yaml")}, io.Discard)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestMainWithExitCode_InvalidFlags(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 2, mainWithExitCode([]string{"-format", "xml"}))
}

func TestTransportForPath(t *testing.T) {
	t.Parallel()

	tests := []struct {
		path string
		want rd03d.TransportType
	}{
		{"/dev/ttyUSB0", rd03d.TransportUART},
		{"COM3", rd03d.TransportUART},
		{"/dev/serial0", rd03d.TransportUART},
		{"/dev/i2c-1:0x48", rd03d.TransportI2C},
		{"/dev/spidev0.0", rd03d.TransportSPI},
		{"SPI0.1", rd03d.TransportSPI},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, transportForPath(tt.path))
		})
	}
}

func TestNewSource_Errors(t *testing.T) {
	t.Parallel()

	cfg := defaultConfig()

	_, err := cfg.newSource("")
	require.Error(t, err)

	_, err = cfg.newSourceFromDevice(detection.DeviceInfo{Transport: "can", Path: "can0"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported transport type")
}

func TestPrinter_Formats(t *testing.T) {
	t.Parallel()

	ts := time.UnixMilli(1700000000123)
	target := rd03d.Target{X: -300, Y: 400, Speed: 12, Distance: 500, Angle: -36.87, Detected: true}

	t.Run("Text", func(t *testing.T) {
		t.Parallel()
		var buf bytes.Buffer
		p := newPrinter(&buf, formatText)
		require.NoError(t, p.detected(target, ts))
		require.NoError(t, p.lost(ts))
		assert.Equal(t,
			"Target detected: x=-300mm y=400mm speed=12cm/s distance=500.0mm angle=-36.9°\nTarget lost\n",
			buf.String())
	})

	t.Run("Line", func(t *testing.T) {
		t.Parallel()
		var buf bytes.Buffer
		p := newPrinter(&buf, formatLine)
		require.NoError(t, p.updated(target, ts))
		require.NoError(t, p.lost(ts))

		lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
		require.Len(t, lines, 2)
		reading, err := rd03d.ParseReading(lines[0])
		require.NoError(t, err)
		assert.Equal(t, rd03d.NewReading(target, ts), reading)

		lost, err := rd03d.ParseReading(lines[1])
		require.NoError(t, err)
		assert.True(t, lost.IsZero())
	})

	t.Run("JSON", func(t *testing.T) {
		t.Parallel()
		var buf bytes.Buffer
		p := newPrinter(&buf, formatJSON)
		require.NoError(t, p.detected(target, ts))
		require.NoError(t, p.lost(ts))

		dec := json.NewDecoder(&buf)
		var first, second targetEvent
		require.NoError(t, dec.Decode(&first))
		require.NoError(t, dec.Decode(&second))

		assert.Equal(t, "detected", first.Event)
		assert.Equal(t, int64(1700000000123), first.TimestampMS)
		require.NotNil(t, first.Target)
		assert.Equal(t, target, *first.Target)
		assert.Equal(t, "lost", second.Event)
		assert.Nil(t, second.Target)
	})
}

func TestNewSession_PrintsUpdates(t *testing.T) {
	t.Parallel()

	sensor, source := createMockSensor(t, virt.RadarTarget{X: 0, Y: 1000, PixelDistance: 100})
	cfg := defaultConfig()
	cfg.Format = formatLine

	var buf bytes.Buffer
	session := newSession(sensor, cfg, newPrinter(&buf, cfg.Format))
	defer func() { _ = session.Close() }()

	require.NoError(t, session.PollOnce(context.Background()))
	f, err := frame.BuildFrame(virt.EncodePayload(virt.NoTarget))
	require.NoError(t, err)
	_, _ = source.Write(f)
	require.NoError(t, session.PollOnce(context.Background()))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	reading, err := rd03d.ParseReading(lines[0])
	require.NoError(t, err)
	assert.Equal(t, int64(1000), reading.Y)
	assert.Equal(t, int64(1000), reading.Distance)
	assert.Equal(t, "0 0 0 0 0 0", lines[1])
}

func TestRunStreamMode_Cancelled(t *testing.T) {
	t.Parallel()

	sensor, _ := createMockSensor(t)
	session := polling.NewSession(sensor, &polling.Config{PollInterval: time.Millisecond, StaleTimeout: time.Second})
	defer func() { _ = session.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := runStreamMode(ctx, session)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRunStreamMode_FatalError(t *testing.T) {
	t.Parallel()

	sensor, source := createMockSensor(t)
	source.SetError(rd03d.ErrTransportClosed)
	session := polling.NewSession(sensor, &polling.Config{PollInterval: time.Millisecond, StaleTimeout: time.Second})
	defer func() { _ = session.Close() }()

	err := runStreamMode(context.Background(), session)
	require.ErrorIs(t, err, rd03d.ErrTransportClosed)
	assert.Contains(t, err.Error(), "polling stopped")
}

func TestBuildSoakReport(t *testing.T) {
	t.Parallel()

	stats := rd03d.Stats{BytesRead: 3000, FramesDecoded: 95, TrailerMismatches: 5}
	metrics := polling.Metrics{Frames: 95, PollCycles: 100, PollErrors: 1}

	report := buildSoakReport(stats, metrics, 10*time.Second, nil)
	assert.True(t, report.Success)
	assert.Equal(t, "10s", report.Duration)
	assert.InDelta(t, 9.5, report.FramesPerSecond, 0.001)
	assert.InDelta(t, 0.05, report.MismatchRate, 0.0001)
	assert.Empty(t, report.StopError)

	trace := rd03d.NewTraceBuffer("i2c", "/dev/i2c-1:0x48", 4)
	trace.RecordRX([]byte{0xAA, 0xFF}, "fifo")
	stopErr := trace.WrapError(rd03d.ErrTransportClosed)

	failed := buildSoakReport(stats, metrics, time.Second, stopErr)
	assert.False(t, failed.Success)
	assert.Contains(t, failed.StopError, "closed")
	assert.NotEmpty(t, failed.Trace)

	idle := buildSoakReport(rd03d.Stats{}, polling.Metrics{}, time.Second, nil)
	assert.False(t, idle.Success, "no frames means the link is not working")
	assert.Zero(t, idle.MismatchRate)
}

func TestRunSoakMode(t *testing.T) {
	t.Parallel()

	sensor, _ := createMockSensor(t,
		virt.RadarTarget{X: 100, Y: 900, PixelDistance: 10},
		virt.RadarTarget{X: 120, Y: 880, PixelDistance: 10},
	)
	session := polling.NewSession(sensor, &polling.Config{PollInterval: time.Millisecond, StaleTimeout: time.Second})
	defer func() { _ = session.Close() }()

	reportPath := filepath.Join(t.TempDir(), "soak.json")
	cfg := defaultConfig()
	cfg.Device = "mock"
	cfg.Soak = 30 * time.Millisecond
	cfg.SoakReport = reportPath

	var out bytes.Buffer
	require.NoError(t, runSoakMode(context.Background(), session, cfg, &out))
	assert.Contains(t, out.String(), "Soak test: PASS")

	data, err := os.ReadFile(reportPath)
	require.NoError(t, err)
	var report SoakReport
	require.NoError(t, json.Unmarshal(data, &report))
	assert.True(t, report.Success)
	assert.Equal(t, int64(2), report.Frames)
	assert.Equal(t, string(rd03d.TransportMock), report.Transport)
	assert.Equal(t, rd03d.DefaultBaudRate, report.BaudRate)
}

func TestRunSoakMode_NoFrames(t *testing.T) {
	t.Parallel()

	sensor, _ := createMockSensor(t)
	session := polling.NewSession(sensor, &polling.Config{PollInterval: time.Millisecond, StaleTimeout: time.Second})
	defer func() { _ = session.Close() }()

	cfg := defaultConfig()
	cfg.Soak = 10 * time.Millisecond

	var out bytes.Buffer
	err := runSoakMode(context.Background(), session, cfg, &out)
	require.True(t, errors.Is(err, errSoakFailed))
	assert.Contains(t, out.String(), "Soak test: FAIL")
}
