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
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	rd03d "github.com/ZaparooProject/go-rd03d"
	"github.com/ZaparooProject/go-rd03d/internal/syncutil"
)

const (
	formatText = "text"
	formatLine = "line"
	formatJSON = "json"
)

var errUnknownFormat = errors.New("unknown output format")

func validFormat(format string) bool {
	switch format {
	case formatText, formatLine, formatJSON:
		return true
	default:
		return false
	}
}

// targetEvent is one JSON output record
type targetEvent struct {
	Target      *rd03d.Target `json:"target,omitempty"`
	Event       string        `json:"event"`
	TimestampMS int64         `json:"timestamp_ms"`
}

// printer writes session events in the selected format. Events arrive from
// the polling goroutine and the stale timer, so writes are serialized.
type printer struct {
	out    io.Writer
	enc    *json.Encoder
	format string
	mu     syncutil.Mutex
}

func newPrinter(out io.Writer, format string) *printer {
	return &printer{
		out:    out,
		enc:    json.NewEncoder(out),
		format: format,
	}
}

func (p *printer) detected(target rd03d.Target, ts time.Time) error {
	return p.target("detected", target, ts)
}

func (p *printer) updated(target rd03d.Target, ts time.Time) error {
	return p.target("updated", target, ts)
}

func (p *printer) target(event string, target rd03d.Target, ts time.Time) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var err error
	switch p.format {
	case formatLine:
		_, err = fmt.Fprintln(p.out, rd03d.NewReading(target, ts))
	case formatJSON:
		err = p.enc.Encode(targetEvent{Event: event, TimestampMS: ts.UnixMilli(), Target: &target})
	default:
		_, err = fmt.Fprintf(p.out, "Target %s: %s\n", event, target)
	}
	if err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

// lost reports the target gone. The line format prints an all-zero reading,
// which readers of that format treat as no data.
func (p *printer) lost(ts time.Time) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var err error
	switch p.format {
	case formatLine:
		_, err = fmt.Fprintln(p.out, rd03d.Reading{})
	case formatJSON:
		err = p.enc.Encode(targetEvent{Event: "lost", TimestampMS: ts.UnixMilli()})
	default:
		_, err = fmt.Fprintln(p.out, "Target lost")
	}
	if err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}
