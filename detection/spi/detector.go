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

// Package spi detects SC16IS750 bridges carrying an RD-03D on SPI ports.
// Importing it registers the detector with the detection package.
//
// An SPI probe has to write to whatever sits on the bus, so ports are only
// probed in Full mode. In the other modes the detector reports the devices a
// user declared, through a config file or RD03D_SPI_DEVICE, without touching them.
package spi

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"

	rd03d "github.com/ZaparooProject/go-rd03d"
	"github.com/ZaparooProject/go-rd03d/detection"
	"github.com/ZaparooProject/go-rd03d/internal/probe"
	"github.com/ZaparooProject/go-rd03d/transport/spi"
	"gopkg.in/yaml.v3"
)

// Config declares an SPI bridge. Config files hold one Config or a list of them.
type Config struct {
	// Additional metadata
	Metadata map[string]string `yaml:"metadata,omitempty"`
	// Device path (e.g., "/dev/spidev0.0")
	Device string `yaml:"device"`
	// Human-readable name
	Name string `yaml:"name,omitempty"`
	// Bridge crystal in Hz (0 = detection.Options.CrystalHz)
	CrystalHz int `yaml:"crystal_hz,omitempty"`
	// declared is set for configs from a file or the environment
	declared bool
}

// detector implements the Detector interface for SPI bridges
type detector struct{}

// New creates a new SPI detector
func New() detection.Detector {
	return &detector{}
}

func init() {
	detection.RegisterDetector(New())
}

// Transport returns the transport type
func (*detector) Transport() string {
	return string(rd03d.TransportSPI)
}

// Detect reports declared bridges and, in Full mode, probes every SPI port
func (*detector) Detect(ctx context.Context, opts *detection.Options) ([]detection.DeviceInfo, error) {
	var devices []detection.DeviceInfo
	for _, config := range gatherConfigs(opts.Mode == detection.Full) {
		if ctx.Err() != nil {
			return devices, detection.ErrDetectionTimeout
		}
		if detection.IsPathIgnored(config.Device, opts.IgnorePaths) {
			continue
		}

		device := createDeviceInfo(config)
		if opts.Mode == detection.Full {
			if probeFn(ctx, config, opts) {
				device.Confidence = detection.High
			} else if !config.declared {
				continue
			}
		}
		devices = append(devices, device)
	}

	if len(devices) == 0 {
		return nil, detection.ErrNoDevicesFound
	}
	return devices, nil
}

// configPaths are searched in order; the first readable file wins
var configPaths = func() []string {
	paths := []string{"rd03d-spi.yaml", ".rd03d-spi.yaml"}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "rd03d", "spi.yaml"))
	}
	return append(paths, "/etc/rd03d/spi.yaml")
}

// gatherConfigs collects declared configs and, when scan is set, every spidev node
func gatherConfigs(scan bool) []Config {
	var configs []Config
	if fileConfigs := loadConfigFile(configPaths()); fileConfigs != nil {
		configs = append(configs, fileConfigs...)
	}
	if envConfig := loadEnvConfig(); envConfig != nil {
		configs = append(configs, *envConfig)
	}
	if scan && runtime.GOOS == "linux" {
		configs = append(configs, scanSpidev()...)
	}
	return deduplicateConfigs(configs)
}

// loadConfigFile loads the first config file found. JSON files parse too.
func loadConfigFile(paths []string) []Config {
	for _, path := range paths {
		data, err := os.ReadFile(path) // #nosec G304 -- fixed search list
		if err != nil {
			continue
		}
		configs, err := parseConfigs(data)
		if err != nil {
			rd03d.Debugf("ignoring SPI config %s: %v", path, err)
			continue
		}
		return configs
	}
	return nil
}

// parseConfigs accepts a list of configs or a single one
func parseConfigs(data []byte) ([]Config, error) {
	var configs []Config
	if err := yaml.Unmarshal(data, &configs); err != nil {
		var single Config
		if err2 := yaml.Unmarshal(data, &single); err2 != nil {
			return nil, fmt.Errorf("failed to parse SPI config: %w", err)
		}
		configs = []Config{single}
	}

	valid := configs[:0]
	for _, c := range configs {
		if c.Device == "" {
			continue
		}
		c.declared = true
		valid = append(valid, c)
	}
	return valid, nil
}

// loadEnvConfig reads RD03D_SPI_DEVICE and RD03D_SPI_CRYSTAL
func loadEnvConfig() *Config {
	device := os.Getenv("RD03D_SPI_DEVICE")
	if device == "" {
		return nil
	}

	config := Config{
		Device:   device,
		Name:     "SPI bridge from environment",
		declared: true,
	}
	if crystal := os.Getenv("RD03D_SPI_CRYSTAL"); crystal != "" {
		if hz, err := strconv.Atoi(crystal); err == nil {
			config.CrystalHz = hz
		}
	}
	return &config
}

// scanSpidev lists the spidev character devices
func scanSpidev() []Config {
	matches, err := filepath.Glob("/dev/spidev*")
	if err != nil {
		return nil
	}
	configs := make([]Config, 0, len(matches))
	for _, path := range matches {
		configs = append(configs, Config{Device: path})
	}
	return configs
}

// deduplicateConfigs keeps the first config per device
func deduplicateConfigs(configs []Config) []Config {
	seen := make(map[string]bool)
	var unique []Config
	for _, config := range configs {
		if !seen[config.Device] {
			seen[config.Device] = true
			unique = append(unique, config)
		}
	}
	return unique
}

// createDeviceInfo creates a low-confidence DeviceInfo from a Config
func createDeviceInfo(config Config) detection.DeviceInfo {
	device := detection.DeviceInfo{
		Transport:  string(rd03d.TransportSPI),
		Path:       config.Device,
		Name:       config.Name,
		Confidence: detection.Low,
		Metadata:   make(map[string]string),
	}
	for k, v := range config.Metadata {
		device.Metadata[k] = v
	}
	if config.CrystalHz > 0 {
		device.Metadata["crystal_hz"] = strconv.Itoa(config.CrystalHz)
	}
	if device.Name == "" {
		device.Name = "SPI bridge at " + config.Device
	}
	return device
}

// probeFn is swapped out by tests
var probeFn = probeBridge

// probeBridge pings the bridge, sets the radar's line speed and waits for a frame
func probeBridge(ctx context.Context, config Config, opts *detection.Options) bool {
	crystal := config.CrystalHz
	if crystal == 0 {
		crystal = opts.CrystalHz
	}

	t, err := spi.New(config.Device, spi.WithCrystal(crystal))
	if err != nil {
		return false
	}
	defer func() { _ = t.Close() }()

	if err := t.SetBaudRate(probe.BaudRate(opts.BaudRate)); err != nil {
		rd03d.Debugf("spi probe %s: %v", config.Device, err)
		return false
	}
	if err := probe.Listen(ctx, t, config.Device, probe.Window(opts.ProbeWindow), 1); err != nil {
		rd03d.Debugf("spi probe %s: %v", config.Device, err)
		return false
	}
	return true
}
