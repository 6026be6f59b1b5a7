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

// Command rd03d streams target reports from an RD-03D radar.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	rd03d "github.com/ZaparooProject/go-rd03d"
	"github.com/ZaparooProject/go-rd03d/detection"
	_ "github.com/ZaparooProject/go-rd03d/detection/i2c"
	_ "github.com/ZaparooProject/go-rd03d/detection/spi"
	_ "github.com/ZaparooProject/go-rd03d/detection/uart"
	"github.com/ZaparooProject/go-rd03d/polling"
	"github.com/ZaparooProject/go-rd03d/transport/i2c"
	"github.com/ZaparooProject/go-rd03d/transport/spi"
	"github.com/ZaparooProject/go-rd03d/transport/uart"
	"gopkg.in/yaml.v3"
)

// config is the merged result of the optional YAML file and the flags
type config struct {
	Device       string        `yaml:"device"`
	Format       string        `yaml:"format"`
	SessionLog   string        `yaml:"session_log"`
	SoakReport   string        `yaml:"soak_report"`
	Baud         int           `yaml:"baud"`
	CrystalHz    int           `yaml:"crystal_hz"`
	PollInterval time.Duration `yaml:"poll_interval"`
	StaleTimeout time.Duration `yaml:"stale_timeout"`
	Soak         time.Duration `yaml:"soak"`
	Debug        bool          `yaml:"debug"`
}

func defaultConfig() *config {
	pollCfg := polling.DefaultConfig()
	return &config{
		Format:       formatText,
		Baud:         rd03d.DefaultBaudRate,
		PollInterval: pollCfg.PollInterval,
		StaleTimeout: pollCfg.StaleTimeout,
	}
}

// parseConfig parses args, loads the -config file if given and applies
// every explicitly set flag on top of it
func parseConfig(args []string, stderr io.Writer) (*config, error) {
	defaults := defaultConfig()
	flags := *defaults
	var configPath string

	fs := flag.NewFlagSet("rd03d", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&configPath, "config", "", "YAML configuration file (flags override its values)")
	fs.StringVar(&flags.Device, "device", "", "Device path (auto-detect if empty)")
	fs.IntVar(&flags.Baud, "baud", defaults.Baud, "UART baud rate")
	fs.IntVar(&flags.CrystalHz, "crystal", 0, "SC16IS750 crystal frequency in Hz for I2C/SPI bridges")
	fs.StringVar(&flags.Format, "format", defaults.Format, "Output format: text, line or json")
	fs.DurationVar(&flags.PollInterval, "poll", defaults.PollInterval, "Polling interval")
	fs.DurationVar(&flags.StaleTimeout, "stale", defaults.StaleTimeout, "Report the target lost after this long without frames")
	fs.DurationVar(&flags.Soak, "soak", 0, "Run a soak test for this long and report link statistics")
	fs.StringVar(&flags.SoakReport, "soak-report", "", "Write the soak test report as JSON to this file")
	fs.BoolVar(&flags.Debug, "debug", false, "Enable debug output")
	fs.StringVar(&flags.SessionLog, "session-log", "", "Directory for a rotating session log")

	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("failed to parse flags: %w", err)
	}

	cfg := defaults
	if configPath != "" {
		loaded, err := loadConfigFile(configPath, defaults)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	fs.Visit(func(f *flag.Flag) {
		applyFlag(cfg, &flags, f.Name)
	})

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadConfigFile decodes a YAML file over a copy of base
func loadConfigFile(path string, base *config) (*config, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from the command line
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := *base
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return &cfg, nil
}

// applyFlag copies one explicitly set flag value into cfg
func applyFlag(cfg, flags *config, name string) {
	switch name {
	case "device":
		cfg.Device = flags.Device
	case "baud":
		cfg.Baud = flags.Baud
	case "crystal":
		cfg.CrystalHz = flags.CrystalHz
	case "format":
		cfg.Format = flags.Format
	case "poll":
		cfg.PollInterval = flags.PollInterval
	case "stale":
		cfg.StaleTimeout = flags.StaleTimeout
	case "soak":
		cfg.Soak = flags.Soak
	case "soak-report":
		cfg.SoakReport = flags.SoakReport
	case "debug":
		cfg.Debug = flags.Debug
	case "session-log":
		cfg.SessionLog = flags.SessionLog
	}
}

func (c *config) validate() error {
	if c.Baud <= 0 {
		return fmt.Errorf("%w: %d", rd03d.ErrInvalidBaudRate, c.Baud)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive, got %v", c.PollInterval)
	}
	if !validFormat(c.Format) {
		return fmt.Errorf("%w: %q", errUnknownFormat, c.Format)
	}
	return nil
}

// i2cOptions returns the bridge options for an I2C device
func (c *config) i2cOptions() []i2c.Option {
	if c.CrystalHz <= 0 {
		return nil
	}
	return []i2c.Option{i2c.WithCrystal(c.CrystalHz)}
}

func (c *config) spiOptions() []spi.Option {
	if c.CrystalHz <= 0 {
		return nil
	}
	return []spi.Option{spi.WithCrystal(c.CrystalHz)}
}

// newSourceFromDevice opens the transport matching a detected device
func (c *config) newSourceFromDevice(device detection.DeviceInfo) (rd03d.ByteSource, error) {
	switch strings.ToLower(device.Transport) {
	case string(rd03d.TransportUART):
		source, err := uart.New(device.Path, uart.WithBaudRate(c.Baud))
		if err != nil {
			return nil, fmt.Errorf("failed to create UART transport: %w", err)
		}
		return source, nil
	case string(rd03d.TransportI2C):
		source, err := i2c.NewFromPath(device.Path, c.i2cOptions()...)
		if err != nil {
			return nil, fmt.Errorf("failed to create I2C transport: %w", err)
		}
		return source, nil
	case string(rd03d.TransportSPI):
		opts := c.spiOptions()
		if hz, ok := device.Metadata["crystal_hz"]; ok && c.CrystalHz <= 0 {
			if crystal, err := strconv.Atoi(hz); err == nil {
				opts = append(opts, spi.WithCrystal(crystal))
			}
		}
		source, err := spi.New(device.Path, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create SPI transport: %w", err)
		}
		return source, nil
	default:
		return nil, fmt.Errorf("unsupported transport type: %s", device.Transport)
	}
}

// transportForPath guesses the transport from a device path
func transportForPath(path string) rd03d.TransportType {
	pathLower := strings.ToLower(path)
	switch {
	case strings.Contains(pathLower, "i2c"):
		return rd03d.TransportI2C
	case strings.Contains(pathLower, "spi"):
		return rd03d.TransportSPI
	default:
		return rd03d.TransportUART
	}
}

// newSource opens a device path, defaulting to UART for serial ports
func (c *config) newSource(path string) (rd03d.ByteSource, error) {
	if path == "" {
		return nil, errors.New("empty device path")
	}
	return c.newSourceFromDevice(detection.DeviceInfo{
		Transport: string(transportForPath(path)),
		Path:      path,
	})
}

func connectToSensor(ctx context.Context, cfg *config) (*rd03d.Sensor, error) {
	connectOpts := []rd03d.ConnectOption{
		rd03d.WithSensorOptions(rd03d.WithBaudRate(cfg.Baud)),
		rd03d.WithConnectTimeout(5 * time.Second),
	}

	if cfg.Device == "" {
		// Auto-detection case
		connectOpts = append(connectOpts,
			rd03d.WithAutoDetection(),
			rd03d.WithSourceFromDeviceFactory(cfg.newSourceFromDevice))
		rd03d.Debugln("auto-detecting RD-03D devices")
	} else {
		// Specific device path
		connectOpts = append(connectOpts, rd03d.WithSourceFactory(cfg.newSource))
		rd03d.Debugf("opening device: %s", cfg.Device)
	}

	sensor, err := rd03d.ConnectSensor(ctx, cfg.Device, connectOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RD-03D: %w", err)
	}
	return sensor, nil
}

func newSession(sensor *rd03d.Sensor, cfg *config, out *printer) *polling.Session {
	pollCfg := polling.DefaultConfig()
	pollCfg.PollInterval = cfg.PollInterval
	pollCfg.StaleTimeout = cfg.StaleTimeout

	session := polling.NewSession(sensor, pollCfg)
	session.SetReopenFunc(func(ctx context.Context) (*rd03d.Sensor, error) {
		return connectToSensor(ctx, cfg)
	})
	session.SetOnTargetDetected(func(target rd03d.Target) error {
		return out.detected(target, time.Now())
	})
	session.SetOnTargetUpdated(func(target rd03d.Target) error {
		return out.updated(target, time.Now())
	})
	session.SetOnTargetLost(func() {
		_ = out.lost(time.Now())
	})
	return session
}

// runStreamMode prints every update until ctx is cancelled or polling fails
func runStreamMode(ctx context.Context, session *polling.Session) error {
	if err := session.Start(ctx); err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}

	select {
	case <-session.Done():
		if err := session.Err(); err != nil {
			return fmt.Errorf("polling stopped: %w", err)
		}
		return nil
	case <-ctx.Done():
		// Context cancelled - session.Close() will be called by defer
		return ctx.Err()
	}
}

func run(ctx context.Context, cfg *config, stdout io.Writer) error {
	if cfg.SessionLog != "" {
		path, err := rd03d.InitSessionLog(cfg.SessionLog)
		if err != nil {
			return fmt.Errorf("failed to open session log: %w", err)
		}
		defer func() { _ = rd03d.CloseSessionLog() }()
		_, _ = fmt.Fprintf(os.Stderr, "Session log: %s\n", path)
	}

	sensor, err := connectToSensor(ctx, cfg)
	if err != nil {
		return err
	}

	out := newPrinter(stdout, cfg.Format)
	session := newSession(sensor, cfg, out)
	defer func() {
		_ = session.Close()
		// A reconnect may have replaced the sensor
		if err := session.GetSensor().Close(); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "Failed to close device: %v\n", err)
		}
	}()

	if cfg.Soak > 0 {
		return runSoakMode(ctx, session, cfg, stdout)
	}
	return runStreamMode(ctx, session)
}

func main() {
	os.Exit(mainWithExitCode(os.Args[1:]))
}

func mainWithExitCode(args []string) int {
	cfg, err := parseConfig(args, os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 2
	}

	// Enable debug output if --debug flag is set
	if cfg.Debug {
		rd03d.SetDebugEnabled(true)
	}

	// Setup signal handling for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		_, _ = fmt.Fprint(os.Stderr, "\nShutting down gracefully...\n")
		cancel()
	}()

	// Run the main application logic
	if err := run(ctx, cfg, os.Stdout); err != nil {
		if errors.Is(err, context.Canceled) {
			// User requested shutdown, exit cleanly
			return 0
		}
		_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if trace := rd03d.GetTrace(err); trace != nil {
			_, _ = fmt.Fprint(os.Stderr, trace.FormatTrace())
		}
		return 1
	}
	return 0
}
