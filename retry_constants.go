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

import "time"

// Connection retry constants control sensor connection behavior.
const (
	// DefaultConnectionRetries is the number of attempts to open a sensor.
	DefaultConnectionRetries = 3
	// ConnectionInitialBackoff is the initial delay between connection attempts.
	ConnectionInitialBackoff = 100 * time.Millisecond
	// ConnectionMaxBackoff is the maximum delay between connection attempts.
	ConnectionMaxBackoff = 500 * time.Millisecond
	// ConnectionBackoffMultiplier is the exponential backoff multiplier.
	ConnectionBackoffMultiplier = 2.0
	// ConnectionJitter is the random jitter factor (0.0-1.0).
	ConnectionJitter = 0.1
	// ConnectionRetryTimeout is the overall timeout for all connection attempts.
	ConnectionRetryTimeout = 10 * time.Second
)

// Stream constants describe the RD-03D's serial output.
const (
	// DefaultBaudRate is the module's factory line speed.
	DefaultBaudRate = 256000
	// FrameInterval is roughly how often the module emits a frame in
	// multi-target mode. Polling faster than this yields no new data.
	FrameInterval = 100 * time.Millisecond
	// ProbeWindow is how long detection listens for a preamble on a candidate port.
	// Long enough for at least three frames.
	ProbeWindow = 350 * time.Millisecond
)
