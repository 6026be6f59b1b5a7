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

// Package probe recognizes an RD-03D by listening to a byte source. The
// detectors of every transport share it.
package probe

import (
	"context"
	"errors"
	"fmt"
	"time"

	rd03d "github.com/ZaparooProject/go-rd03d"
	"github.com/ZaparooProject/go-rd03d/internal/frame"
)

// idlePoll is how long Listen waits when the source has nothing buffered
const idlePoll = time.Millisecond

// Listen waits for want consecutive frames with valid trailers from source
// within window and returns nil once they arrive. A trailer mismatch restarts
// the count. name identifies the source in errors.
//
// When the window closes it returns an rd03d timeout error if the source sent
// nothing at all, or rd03d.ErrDeviceNotSupported if bytes arrived but did not
// form frames. A read error other than rd03d.ErrNoData ends the probe early.
func Listen(ctx context.Context, source rd03d.ByteSource, name string, window time.Duration, want int) error {
	if want < 1 {
		want = 1
	}
	listenCtx, cancel := context.WithTimeout(ctx, window)
	defer cancel()

	var sync frame.Synchronizer
	got, received := 0, 0
	for listenCtx.Err() == nil {
		if !source.Available() {
			time.Sleep(idlePoll)
			continue
		}
		b, err := source.ReadByte()
		if errors.Is(err, rd03d.ErrNoData) {
			continue
		}
		if err != nil {
			return fmt.Errorf("probe read failed: %w", err)
		}
		received++

		switch _, ev := sync.Feed(b); ev {
		case frame.EventFrame:
			got++
			if got >= want {
				return nil
			}
		case frame.EventTrailerMismatch:
			got = 0
		case frame.EventNone:
		}
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	if received == 0 {
		return rd03d.NewTimeoutError("listen", name)
	}
	return fmt.Errorf("%w: %s sent %d bytes without %d consecutive frames",
		rd03d.ErrDeviceNotSupported, name, received, want)
}

// Window returns configured when set, otherwise rd03d.ProbeWindow, which
// covers more than three frame periods
func Window(configured time.Duration) time.Duration {
	if configured > 0 {
		return configured
	}
	return rd03d.ProbeWindow
}

// BaudRate returns configured when set, otherwise the module's factory rate
func BaudRate(configured int) int {
	if configured > 0 {
		return configured
	}
	return rd03d.DefaultBaudRate
}
