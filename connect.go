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
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ZaparooProject/go-rd03d/detection"
)

// SourceFactory opens a byte source for a device path
type SourceFactory func(path string) (ByteSource, error)

// SourceFromDeviceFactory opens a byte source for a detected device
type SourceFromDeviceFactory func(device detection.DeviceInfo) (ByteSource, error)

// DeviceDetector finds candidate devices for auto-detection
type DeviceDetector func(ctx context.Context, opts *detection.Options) ([]detection.DeviceInfo, error)

// ConnectOption represents a functional option for ConnectSensor
type ConnectOption func(*connectConfig) error

type connectConfig struct {
	sourceFactory       SourceFactory
	sourceDeviceFactory SourceFromDeviceFactory
	deviceDetector      DeviceDetector
	sensorOptions       []Option
	timeout             time.Duration
	connectionRetries   int
	autoDetect          bool
}

// WithAutoDetection enables automatic device detection instead of using a specific path
func WithAutoDetection() ConnectOption {
	return func(c *connectConfig) error {
		c.autoDetect = true
		return nil
	}
}

// WithSensorOptions adds sensor-level options
func WithSensorOptions(opts ...Option) ConnectOption {
	return func(c *connectConfig) error {
		c.sensorOptions = append(c.sensorOptions, opts...)
		return nil
	}
}

// WithConnectTimeout bounds the whole connection attempt, detection included
func WithConnectTimeout(timeout time.Duration) ConnectOption {
	return func(c *connectConfig) error {
		if timeout <= 0 {
			return fmt.Errorf("connect timeout must be positive, got %v", timeout)
		}
		c.timeout = timeout
		return nil
	}
}

// WithSourceFactory sets the function used to open a device path
func WithSourceFactory(factory SourceFactory) ConnectOption {
	return func(c *connectConfig) error {
		c.sourceFactory = factory
		return nil
	}
}

// WithSourceFromDeviceFactory sets the function used to open a detected device
func WithSourceFromDeviceFactory(factory SourceFromDeviceFactory) ConnectOption {
	return func(c *connectConfig) error {
		c.sourceDeviceFactory = factory
		return nil
	}
}

// WithConnectionRetries sets the number of attempts made to open a manual path
func WithConnectionRetries(maxAttempts int) ConnectOption {
	return func(c *connectConfig) error {
		if maxAttempts < 1 {
			return fmt.Errorf("connection retries must be at least 1, got %d", maxAttempts)
		}
		c.connectionRetries = maxAttempts
		return nil
	}
}

// WithDeviceDetector replaces detection.DetectAll for auto-detection
func WithDeviceDetector(detector DeviceDetector) ConnectOption {
	return func(c *connectConfig) error {
		c.deviceDetector = detector
		return nil
	}
}

func applyConnectOptions(opts []ConnectOption) (*connectConfig, error) {
	config := &connectConfig{
		timeout:           ConnectionRetryTimeout,
		connectionRetries: DefaultConnectionRetries,
	}

	for _, opt := range opts {
		if err := opt(config); err != nil {
			return nil, fmt.Errorf("failed to apply connect option: %w", err)
		}
	}

	return config, nil
}

// ConnectSensor opens and initializes a sensor from a device path or by
// auto-detection. Manual paths are retried, since USB serial adapters often
// appear a moment before they can be opened; auto-detection makes one attempt.
//
// Example usage:
//
//	// Connect to a specific port
//	sensor, err := rd03d.ConnectSensor(ctx, "/dev/ttyUSB0",
//		rd03d.WithSourceFactory(func(path string) (rd03d.ByteSource, error) {
//			return uart.New(path)
//		}))
//
//	// Auto-detect
//	sensor, err := rd03d.ConnectSensor(ctx, "", rd03d.WithAutoDetection(),
//		rd03d.WithSourceFromDeviceFactory(factory))
func ConnectSensor(ctx context.Context, path string, opts ...ConnectOption) (*Sensor, error) {
	config, err := applyConnectOptions(opts)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, config.timeout)
	defer cancel()

	if config.autoDetect || path == "" {
		source, err := createAutoDetectedSource(ctx, config)
		if err != nil {
			return nil, fmt.Errorf("failed to create source: %w", err)
		}
		return setupSensor(ctx, source, config)
	}

	return connectManual(ctx, path, config)
}

// connectManual opens path with retries, closing the source after each failed attempt
func connectManual(ctx context.Context, path string, config *connectConfig) (*Sensor, error) {
	if config.sourceFactory == nil {
		return nil, errors.New("source factory not provided")
	}

	retryConfig := ConnectionRetryConfig()
	retryConfig.MaxAttempts = config.connectionRetries
	retryConfig.RetryTimeout = config.timeout

	var sensor *Sensor
	err := RetryWithConfig(ctx, retryConfig, func() error {
		source, err := config.sourceFactory(path)
		if err != nil {
			return fmt.Errorf("failed to open %s: %w", path, err)
		}
		sensor, err = setupSensor(ctx, source, config)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect after %d attempts: %w", config.connectionRetries, err)
	}
	return sensor, nil
}

// setupSensor wraps source in an initialized Sensor, closing the source on failure
func setupSensor(ctx context.Context, source ByteSource, config *connectConfig) (*Sensor, error) {
	sensor, err := New(source, config.sensorOptions...)
	if err != nil {
		_ = source.Close()
		return nil, fmt.Errorf("failed to create sensor: %w", err)
	}

	if err := sensor.InitContext(ctx); err != nil {
		_ = source.Close()
		return nil, fmt.Errorf("failed to initialize sensor: %w", err)
	}

	return sensor, nil
}

// createAutoDetectedSource opens the first device found by detection
func createAutoDetectedSource(ctx context.Context, config *connectConfig) (ByteSource, error) {
	if config.sourceDeviceFactory == nil {
		return nil, errors.New("source device factory not provided")
	}

	opts := detection.DefaultOptions()
	opts.Mode = detection.Safe

	detector := config.deviceDetector
	if detector == nil {
		detector = detection.DetectAll
	}

	devices, err := detector(ctx, &opts)
	if err != nil {
		return nil, fmt.Errorf("failed to detect devices: %w", err)
	}
	if len(devices) == 0 {
		return nil, fmt.Errorf("%w: no RD-03D sensors detected", ErrDeviceNotFound)
	}

	device := devices[0]
	Debugf("auto-detected %s", device)
	return config.sourceDeviceFactory(device)
}
