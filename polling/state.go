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
	"time"

	rd03d "github.com/ZaparooProject/go-rd03d"
)

// TrackingState is the session's view of the radar's target slot
type TrackingState int

const (
	// StateIdle means no target is being tracked
	StateIdle TrackingState = iota
	// StateTracking means the last frame reported a target and it has not gone stale
	StateTracking
)

// String returns a human-readable state name
func (s TrackingState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateTracking:
		return "tracking"
	default:
		return "unknown"
	}
}

// TargetState is a snapshot of the tracked target.
//
// Generation increments every time the stale timer is re-armed or stopped. A
// timer callback carrying an older generation lost a race with a fresh frame.
type TargetState struct {
	FirstSeen     time.Time
	LastSeen      time.Time
	StaleTimer    *time.Timer
	Target        rd03d.Target
	Generation    uint64
	TrackingState TrackingState
	Present       bool
}

// safeTimerStop stops a timer and drains its channel if it already fired
func safeTimerStop(timer *time.Timer) {
	if timer != nil {
		// Stop the timer first
		stopped := timer.Stop()
		// If Stop() returned false, the timer already fired and the value was sent to C
		// In that case, we need to drain the channel to prevent blocking
		if !stopped {
			select {
			case <-timer.C:
				// Timer fired, drained the channel
			default:
				// Timer was already drained or never fired
			}
		}
	}
}

// TransitionToTracking records a fresh detection and re-arms the stale timer.
// The callback receives the generation it was armed for.
func (ts *TargetState) TransitionToTracking(target rd03d.Target, now time.Time, timeout time.Duration, onStale func(uint64)) {
	if !ts.Present {
		ts.FirstSeen = now
	}
	ts.TrackingState = StateTracking
	ts.Present = true
	ts.Target = target
	ts.LastSeen = now
	ts.Generation++

	safeTimerStop(ts.StaleTimer)
	ts.StaleTimer = nil
	if timeout > 0 && onStale != nil {
		gen := ts.Generation
		ts.StaleTimer = time.AfterFunc(timeout, func() { onStale(gen) })
	}
}

// TransitionToIdle forgets the tracked target and stops the stale timer
func (ts *TargetState) TransitionToIdle() {
	ts.TrackingState = StateIdle
	ts.Present = false
	ts.Target = rd03d.Target{}
	ts.FirstSeen = time.Time{}
	ts.Generation++
	safeTimerStop(ts.StaleTimer)
	ts.StaleTimer = nil
}

// IsCurrent reports whether a stale timer armed for gen still applies
func (ts *TargetState) IsCurrent(gen uint64) bool {
	return ts.Present && ts.Generation == gen
}
