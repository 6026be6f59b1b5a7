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
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	rd03d "github.com/ZaparooProject/go-rd03d"
	"github.com/ZaparooProject/go-rd03d/polling"
)

var errSoakFailed = errors.New("soak test failed")

// SoakReport summarizes a soak run: how much of the radar's stream made it
// through the link intact
type SoakReport struct {
	Started           time.Time `json:"started"`
	Device            string    `json:"device"`
	Transport         string    `json:"transport"`
	Duration          string    `json:"duration"`
	StopError         string    `json:"stop_error,omitempty"`
	Trace             []string  `json:"trace,omitempty"`
	BytesRead         uint64    `json:"bytes_read"`
	TrailerMismatches uint64    `json:"trailer_mismatches"`
	DecodeErrors      uint64    `json:"decode_errors"`
	Frames            int64     `json:"frames"`
	PollCycles        int64     `json:"poll_cycles"`
	PollErrors        int64     `json:"poll_errors"`
	Recoveries        int64     `json:"recoveries"`
	FramesPerSecond   float64   `json:"frames_per_second"`
	MismatchRate      float64   `json:"mismatch_rate"`
	BaudRate          int       `json:"baud_rate"`
	Success           bool      `json:"success"`
}

func printSoakBanner(out io.Writer, d time.Duration) {
	_, _ = fmt.Fprintln(out, "========================================")
	_, _ = fmt.Fprintln(out, "RD-03D Link Soak Test")
	_, _ = fmt.Fprintln(out, "========================================")
	_, _ = fmt.Fprintf(out, "Duration: %v\n", d)
	_, _ = fmt.Fprintln(out, "Keep a target moving in front of the sensor. Press Ctrl+C to stop early.")
	_, _ = fmt.Fprintln(out)
}

// runSoakMode polls for cfg.Soak and reports link statistics
func runSoakMode(ctx context.Context, session *polling.Session, cfg *config, out io.Writer) error {
	printSoakBanner(out, cfg.Soak)

	soakCtx, cancel := context.WithTimeout(ctx, cfg.Soak)
	defer cancel()

	started := time.Now()
	if err := session.Start(soakCtx); err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}

	select {
	case <-session.Done():
	case <-soakCtx.Done():
	}
	stopErr := session.Stop()
	elapsed := time.Since(started)

	sensor := session.GetSensor()
	report := buildSoakReport(sensor.Stats(), session.Metrics(), elapsed, stopErr)
	report.Started = started
	report.Device = cfg.Device
	report.Transport = string(sensor.Source().Type())
	report.BaudRate = sensor.BaudRate()

	printSoakSummary(out, report)

	if cfg.SoakReport != "" {
		if err := writeSoakReport(cfg.SoakReport, report); err != nil {
			return err
		}
		_, _ = fmt.Fprintf(out, "Report written to: %s\n", cfg.SoakReport)
	}

	switch {
	case stopErr != nil:
		return fmt.Errorf("soak test stopped: %w", stopErr)
	case ctx.Err() != nil:
		return ctx.Err()
	case !report.Success:
		return errSoakFailed
	default:
		return nil
	}
}

// buildSoakReport derives the report counters and rates
func buildSoakReport(stats rd03d.Stats, metrics polling.Metrics, elapsed time.Duration, stopErr error) *SoakReport {
	report := &SoakReport{
		Duration:          elapsed.Round(time.Millisecond).String(),
		BytesRead:         stats.BytesRead,
		TrailerMismatches: stats.TrailerMismatches,
		DecodeErrors:      stats.DecodeErrors,
		Frames:            metrics.Frames,
		PollCycles:        metrics.PollCycles,
		PollErrors:        metrics.PollErrors,
		Recoveries:        metrics.Recoveries,
	}

	if seconds := elapsed.Seconds(); seconds > 0 {
		report.FramesPerSecond = float64(metrics.Frames) / seconds
	}
	if total := float64(stats.FramesDecoded + stats.TrailerMismatches); total > 0 {
		report.MismatchRate = float64(stats.TrailerMismatches) / total
	}

	if stopErr != nil {
		report.StopError = stopErr.Error()
		if trace := rd03d.GetTrace(stopErr); trace != nil {
			report.Trace = strings.Split(strings.TrimRight(trace.FormatTrace(), "\n"), "\n")
		}
	}

	report.Success = stopErr == nil && metrics.Frames > 0
	return report
}

func printSoakSummary(out io.Writer, report *SoakReport) {
	status := "PASS"
	if !report.Success {
		status = "FAIL"
	}

	_, _ = fmt.Fprintln(out)
	_, _ = fmt.Fprintln(out, "========================================")
	_, _ = fmt.Fprintf(out, "Soak test: %s\n", status)
	_, _ = fmt.Fprintln(out, "========================================")
	_, _ = fmt.Fprintf(out, "Duration:           %s\n", report.Duration)
	_, _ = fmt.Fprintf(out, "Bytes read:         %d\n", report.BytesRead)
	_, _ = fmt.Fprintf(out, "Frames:             %d (%.1f/s)\n", report.Frames, report.FramesPerSecond)
	_, _ = fmt.Fprintf(out, "Trailer mismatches: %d (%.2f%%)\n", report.TrailerMismatches, report.MismatchRate*100)
	_, _ = fmt.Fprintf(out, "Poll errors:        %d\n", report.PollErrors)
	_, _ = fmt.Fprintf(out, "Recoveries:         %d\n", report.Recoveries)
	if report.StopError != "" {
		_, _ = fmt.Fprintf(out, "Stopped by:         %s\n", report.StopError)
	}
}

func writeSoakReport(path string, report *SoakReport) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal soak report: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write soak report: %w", err)
	}
	return nil
}
