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

// Package i2c detects SC16IS750 bridges carrying an RD-03D on I2C buses.
// Importing it registers the detector with the detection package.
package i2c

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime"

	rd03d "github.com/ZaparooProject/go-rd03d"
	"github.com/ZaparooProject/go-rd03d/detection"
	"github.com/ZaparooProject/go-rd03d/internal/probe"
	"github.com/ZaparooProject/go-rd03d/transport/i2c"
)

// commonAddresses are the four A1/A0 strap settings of most breakout boards
var commonAddresses = []uint16{0x48, 0x49, 0x4C, 0x4D}

// allAddresses returns the sixteen addresses the SC16IS750 can strap to
func allAddresses() []uint16 {
	addrs := make([]uint16, 0, 16)
	for a := uint16(0x48); a <= 0x57; a++ {
		addrs = append(addrs, a)
	}
	return addrs
}

// detector implements the Detector interface for I2C bridges
type detector struct{}

// New creates a new I2C detector
func New() detection.Detector {
	return &detector{}
}

func init() {
	detection.RegisterDetector(New())
}

// Transport returns the transport type
func (*detector) Transport() string {
	return string(rd03d.TransportI2C)
}

// Detect pings candidate bridge addresses on every I2C bus. Passive mode never
// touches a bus and finds nothing.
func (*detector) Detect(ctx context.Context, opts *detection.Options) ([]detection.DeviceInfo, error) {
	if runtime.GOOS != "linux" {
		return nil, detection.ErrUnsupportedPlatform
	}
	if opts.Mode == detection.Passive {
		return nil, detection.ErrNoDevicesFound
	}

	buses, err := listBusesFn()
	if err != nil {
		return nil, err
	}

	addrs := commonAddresses
	if opts.Mode == detection.Full {
		addrs = allAddresses()
	}

	var devices []detection.DeviceInfo
	for _, bus := range buses {
		for _, addr := range addrs {
			if ctx.Err() != nil {
				return devices, detection.ErrDetectionTimeout
			}
			path := fmt.Sprintf("%s:%#02x", bus, addr)
			if detection.IsPathIgnored(path, opts.IgnorePaths) {
				continue
			}
			if confidence, ok := probeFn(ctx, bus, addr, opts); ok {
				devices = append(devices, detection.DeviceInfo{
					Transport:  string(rd03d.TransportI2C),
					Path:       path,
					Name:       fmt.Sprintf("SC16IS750 at %#02x on %s", addr, filepath.Base(bus)),
					Confidence: confidence,
					Metadata: map[string]string{
						"bus":     bus,
						"address": fmt.Sprintf("%#02x", addr),
					},
				})
			}
		}
	}

	if len(devices) == 0 {
		return nil, detection.ErrNoDevicesFound
	}
	return devices, nil
}

// listBusesFn and probeFn are swapped out by tests
var (
	listBusesFn = listBuses
	probeFn     = probeBridge
)

// listBuses returns the I2C character devices
func listBuses() ([]string, error) {
	buses, err := filepath.Glob("/dev/i2c-*")
	if err != nil {
		return nil, fmt.Errorf("failed to list I2C buses: %w", err)
	}
	return buses, nil
}

// probeBridge pings a bridge (Medium). In Full mode it then configures the
// bridge UART and requires a radar frame (High); a bridge without a radar is
// dropped.
func probeBridge(ctx context.Context, bus string, addr uint16, opts *detection.Options) (detection.Confidence, bool) {
	t, err := i2c.New(bus, addr, i2c.WithCrystal(opts.CrystalHz))
	if err != nil {
		return detection.Low, false
	}
	defer func() { _ = t.Close() }()

	if opts.Mode != detection.Full {
		return detection.Medium, true
	}

	if err := t.SetBaudRate(probe.BaudRate(opts.BaudRate)); err != nil {
		rd03d.Debugf("i2c probe %s:%#02x: %v", bus, addr, err)
		return detection.Low, false
	}
	path := fmt.Sprintf("%s:%#02x", bus, addr)
	if err := probe.Listen(ctx, t, path, probe.Window(opts.ProbeWindow), 1); err != nil {
		rd03d.Debugf("i2c probe %s: %v", path, err)
		return detection.Low, false
	}
	return detection.High, true
}
