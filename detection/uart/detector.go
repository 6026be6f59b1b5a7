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

// Package uart detects RD-03D radars on serial ports. Importing it registers
// the detector with the detection package.
package uart

import (
	"context"
	"strings"

	rd03d "github.com/ZaparooProject/go-rd03d"
	"github.com/ZaparooProject/go-rd03d/detection"
	"github.com/ZaparooProject/go-rd03d/internal/probe"
	"github.com/ZaparooProject/go-rd03d/transport/uart"
)

// fullModeFrames is how many consecutive good frames Full mode requires
const fullModeFrames = 2

// detector implements the Detector interface for serial ports
type detector struct{}

// New creates a new UART detector
func New() detection.Detector {
	return &detector{}
}

func init() {
	detection.RegisterDetector(New())
}

// Transport returns the transport type
func (*detector) Transport() string {
	return string(rd03d.TransportUART)
}

// Detect searches serial ports for a streaming RD-03D
func (d *detector) Detect(ctx context.Context, opts *detection.Options) ([]detection.DeviceInfo, error) {
	ports, err := getSerialPorts(ctx)
	if err != nil {
		return nil, err
	}
	if len(ports) == 0 {
		return nil, detection.ErrNoDevicesFound
	}

	devices := d.processPortsToDevices(ctx, d.filterPorts(ports, opts), opts)
	if len(devices) == 0 {
		return nil, detection.ErrNoDevicesFound
	}
	return devices, nil
}

// filterPorts drops blocked and ignored ports, and in non-Full modes ports
// that look like neither a USB-UART adapter nor a board UART
func (*detector) filterPorts(ports []serialPort, opts *detection.Options) []serialPort {
	var filtered []serialPort
	for _, port := range ports {
		if port.VIDPID != "" && detection.IsBlocked(port.VIDPID, opts.Blocklist) {
			continue
		}
		if detection.IsPathIgnored(port.Path, opts.IgnorePaths) {
			continue
		}
		if opts.Mode != detection.Full && !isLikelyAdapter(&port) && !isBoardUART(&port) {
			continue
		}
		filtered = append(filtered, port)
	}
	return filtered
}

// processPortsToDevices probes ports in order until the context ends
func (d *detector) processPortsToDevices(ctx context.Context, ports []serialPort,
	opts *detection.Options,
) []detection.DeviceInfo {
	var devices []detection.DeviceInfo
	for i := range ports {
		if ctx.Err() != nil {
			return devices
		}
		if device, ok := d.processPort(ctx, &ports[i], opts); ok {
			devices = append(devices, device)
		}
	}
	return devices
}

// processPort decides whether a port is reported and with which confidence
func (*detector) processPort(ctx context.Context, port *serialPort,
	opts *detection.Options,
) (detection.DeviceInfo, bool) {
	device := createDeviceInfo(port)

	if opts.Mode == detection.Passive {
		if !isLikelyAdapter(port) {
			return detection.DeviceInfo{}, false
		}
		device.Confidence = detection.Medium
		return device, true
	}

	// A known adapter chip that stays silent is some other device, so
	// nothing short of a frame qualifies a port
	if !probeDeviceFn(ctx, port.Path, opts) {
		return detection.DeviceInfo{}, false
	}
	device.Confidence = detection.High
	return device, true
}

// createDeviceInfo builds a low-confidence DeviceInfo from port data
func createDeviceInfo(port *serialPort) detection.DeviceInfo {
	device := detection.DeviceInfo{
		Transport:  string(rd03d.TransportUART),
		Path:       port.Path,
		Name:       port.Name,
		Confidence: detection.Low,
		Metadata:   make(map[string]string),
	}
	if port.VIDPID != "" {
		device.Metadata["vidpid"] = port.VIDPID
	}
	if port.Manufacturer != "" {
		device.Metadata["manufacturer"] = port.Manufacturer
	}
	if port.Product != "" {
		device.Metadata["product"] = port.Product
	}
	if port.SerialNumber != "" {
		device.Metadata["serial"] = port.SerialNumber
	}
	return device
}

// knownAdapters are the USB-UART chips found on RD-03D carrier boards and
// the usual 3.3V adapters
var knownAdapters = []string{
	"1A86:7523", // QinHeng CH340
	"1A86:55D4", // QinHeng CH9102
	"10C4:EA60", // Silicon Labs CP210x
	"0403:6001", // FTDI FT232R
	"0403:6015", // FTDI FT231X
	"067B:2303", // Prolific PL2303
}

// isLikelyAdapter checks the VID:PID and descriptor strings of a USB port
func isLikelyAdapter(port *serialPort) bool {
	vidpid := strings.ToUpper(port.VIDPID)
	for _, known := range knownAdapters {
		if vidpid == known {
			return true
		}
	}

	descriptor := strings.ToLower(port.Product + " " + port.Manufacturer)
	for _, keyword := range []string{"rd-03", "mmwave", "radar", "usb-serial", "uart bridge"} {
		if strings.Contains(descriptor, keyword) {
			return true
		}
	}
	return false
}

// isBoardUART matches the on-board UARTs of single-board computers
func isBoardUART(port *serialPort) bool {
	name := strings.ToLower(port.Name)
	for _, prefix := range []string{"ttyama", "ttyths", "serial0", "ttys0"} {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

// probeDeviceFn is swapped out by tests
var probeDeviceFn = probeDevice

// probeDevice opens a port and listens for RD-03D frames.
//
// The probe only reads: nothing is sent, so whatever else might be on the
// port is left undisturbed. It makes a single attempt; connection retries
// belong to rd03d.ConnectSensor, not to scanning.
func probeDevice(ctx context.Context, path string, opts *detection.Options) bool {
	transport, err := uart.New(path, uart.WithBaudRate(probe.BaudRate(opts.BaudRate)))
	if err != nil {
		rd03d.Debugf("uart probe %s: %v", path, err)
		return false
	}
	defer func() { _ = transport.Close() }()

	want := 1
	if opts.Mode == detection.Full {
		want = fullModeFrames
	}
	if err := probe.Listen(ctx, transport, path, probe.Window(opts.ProbeWindow), want); err != nil {
		rd03d.Debugf("uart probe %s: %v", path, err)
		return false
	}
	return true
}
