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
	"sync"
	"sync/atomic"
	"time"

	"github.com/ZaparooProject/go-rd03d/internal/syncutil"
)

// ErrAlreadyRunning is returned by Start when the polling goroutine is active
var ErrAlreadyRunning = errors.New("polling already running")

// PollFunc performs one polling cycle. A non-nil error stops the actor.
type PollFunc func(ctx context.Context) error

// SensorActor owns the polling goroutine: it calls a PollFunc immediately on
// Start and then on every tick until the context is cancelled, Stop is
// called, or the PollFunc fails.
type SensorActor struct {
	poll     PollFunc
	cancel   context.CancelFunc
	done     chan struct{}
	err      error
	wg       sync.WaitGroup // Tracks polling goroutine lifecycle
	interval time.Duration
	mu       syncutil.Mutex
	running  atomic.Bool
}

// NewSensorActor creates an actor calling poll every interval
func NewSensorActor(interval time.Duration, poll PollFunc) *SensorActor {
	if interval <= 0 {
		interval = DefaultConfig().PollInterval
	}
	return &SensorActor{
		poll:     poll,
		interval: interval,
	}
}

// Start launches the polling goroutine. The goroutine stops when ctx is
// cancelled, so ctx must outlive the polling run.
func (a *SensorActor) Start(ctx context.Context) error {
	if !a.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	a.mu.Lock()
	a.cancel = cancel
	a.done = done
	a.err = nil
	a.mu.Unlock()

	a.wg.Add(1)
	go a.pollLoop(runCtx, done)
	return nil
}

// pollLoop runs continuous polling until stopped
func (a *SensorActor) pollLoop(ctx context.Context, done chan struct{}) {
	defer a.wg.Done()

	err := a.run(ctx)
	if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
		err = nil
	}

	a.mu.Lock()
	a.err = err
	a.cancel()
	a.mu.Unlock()

	a.running.Store(false)
	close(done)
}

func (a *SensorActor) run(ctx context.Context) error {
	// Perform immediate poll before entering ticker loop for responsive startup
	if err := a.poll(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := a.poll(ctx); err != nil {
				return err
			}
		}
	}
}

// Stop cancels the polling goroutine, waits for it to exit and returns the
// error that ended it, if any
func (a *SensorActor) Stop() error {
	a.mu.Lock()
	cancel := a.cancel
	a.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	// Wait for polling goroutine to fully exit
	a.wg.Wait()
	return a.Err()
}

// Done returns a channel closed when the current polling goroutine exits.
// It is nil before the first Start.
func (a *SensorActor) Done() <-chan struct{} {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.done
}

// Err returns the error that stopped the last polling goroutine. A stop by
// context cancellation or Stop is not an error.
func (a *SensorActor) Err() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.err
}

// Running reports whether the polling goroutine is active
func (a *SensorActor) Running() bool {
	return a.running.Load()
}

// Interval returns the polling interval
func (a *SensorActor) Interval() time.Duration {
	return a.interval
}
