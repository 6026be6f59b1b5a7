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

package polling

import (
	"context"
	"errors"
	"fmt"
	"time"

	rd03d "github.com/ZaparooProject/go-rd03d"
	"github.com/ZaparooProject/go-rd03d/internal/syncutil"
)

// ErrSleepDetected is the recovery cause passed after a host sleep/wake gap
var ErrSleepDetected = errors.New("host sleep detected")

// ErrNoReopen is returned when a fatal error needs a new source but no
// ReopenFunc was configured
var ErrNoReopen = errors.New("no reopen function configured")

// SensorRecoverer handles sensor recovery after sleep/wake or transport failures
type SensorRecoverer interface {
	// AttemptRecovery tries to bring the sensor back after cause.
	// Returns nil if recovery was successful, error otherwise.
	AttemptRecovery(ctx context.Context, cause error) error

	// GetSensor returns the current sensor reference (may change after reconnection)
	GetSensor() *rd03d.Sensor
}

// ReopenFunc opens a fresh sensor, typically by reconnecting its transport
type ReopenFunc func(ctx context.Context) (*rd03d.Sensor, error)

// DefaultRecoverer implements a tiered recovery strategy:
// 1. Soft reset: re-apply the baud rate and resynchronize the frame parser
// 2. Full reconnection via user-provided reopen function
//
// The soft tier is skipped when the cause is fatal (rd03d.IsFatal), since the
// old source is unusable.
type DefaultRecoverer struct {
	sensor      *rd03d.Sensor
	reopenFunc  ReopenFunc
	backoff     time.Duration
	maxAttempts int
	mu          syncutil.Mutex
}

// NewDefaultRecoverer creates a recoverer with tiered recovery strategy.
// If reopenFunc is nil, only soft reset will be attempted.
func NewDefaultRecoverer(
	sensor *rd03d.Sensor,
	reopenFunc ReopenFunc,
	backoff time.Duration,
	maxAttempts int,
) *DefaultRecoverer {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if backoff <= 0 {
		backoff = 500 * time.Millisecond
	}
	return &DefaultRecoverer{
		sensor:      sensor,
		reopenFunc:  reopenFunc,
		backoff:     backoff,
		maxAttempts: maxAttempts,
	}
}

// AttemptRecovery implements tiered recovery with backoff between attempts
func (r *DefaultRecoverer) AttemptRecovery(ctx context.Context, cause error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	fatal := rd03d.IsFatal(cause)
	if fatal && r.reopenFunc == nil {
		return fmt.Errorf("%w: %w", ErrNoReopen, cause)
	}

	var lastErr error

	for attempt := range r.maxAttempts {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(r.backoff):
			}
		}

		// Tier 1: soft reset, only while the source is still usable
		if !fatal {
			err := r.sensor.InitContext(ctx)
			if err == nil {
				rd03d.Debugf("recovery: soft reset succeeded after %v", cause)
				return nil
			}
			lastErr = err
		}

		// Tier 2: full reconnection (if reopenFunc provided)
		if r.reopenFunc != nil {
			_ = r.sensor.Close()
			newSensor, reopenErr := r.reopenFunc(ctx)
			if reopenErr == nil {
				r.sensor = newSensor
				rd03d.Debugf("recovery: reopened sensor after %v", cause)
				return nil
			}
			lastErr = reopenErr
		}
	}

	return lastErr
}

// GetSensor returns the current sensor reference.
// This may return a different sensor after a successful reconnection.
func (r *DefaultRecoverer) GetSensor() *rd03d.Sensor {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sensor
}
