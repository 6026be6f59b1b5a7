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

// Package polling runs a Sensor in the background and turns its frames into
// target detected, updated and lost events.
package polling

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	rd03d "github.com/ZaparooProject/go-rd03d"
	"github.com/ZaparooProject/go-rd03d/internal/syncutil"
)

// ErrSessionClosed is returned when a closed session is started or polled
var ErrSessionClosed = errors.New("session closed")

// Metrics tracks operational counters of a Session
type Metrics struct {
	PollCycles      int64         // Total number of polling cycles
	Frames          int64         // Frames decoded by the sensor during polling
	PollErrors      int64         // Number of polling errors
	CallbackErrors  int64         // Number of callback errors
	Recoveries      int64         // Successful sleep or transport recoveries
	LastPollLatency time.Duration // Duration of last polling operation
}

// Session continuously drains a Sensor and tracks the radar's target.
//
// OnTargetDetected fires when a target appears, OnTargetUpdated for every
// further frame that still reports it, and OnTargetLost when a frame reports
// an empty slot or no frame arrives within Config.StaleTimeout. Callbacks run
// on the polling goroutine, except a stale OnTargetLost which runs on a timer
// goroutine. A callback error or panic stops polling.
type Session struct {
	config           *Config
	OnTargetDetected func(target rd03d.Target) error
	OnTargetUpdated  func(target rd03d.Target) error
	OnTargetLost     func()
	sensor           *rd03d.Sensor
	recoverer        SensorRecoverer
	actor            *SensorActor
	lastPoll         time.Time
	state            TargetState
	stateMutex       syncutil.RWMutex
	sensorMutex      syncutil.RWMutex
	pollMutex        syncutil.Mutex

	pollCycles      atomic.Int64
	frames          atomic.Int64
	pollErrors      atomic.Int64
	callbackErrors  atomic.Int64
	recoveries      atomic.Int64
	lastPollLatency atomic.Int64 // in nanoseconds

	closed atomic.Bool
}

// NewSession creates a new target tracking session. A nil config selects
// DefaultConfig. Recovery starts out as soft reset only; see SetReopenFunc.
func NewSession(sensor *rd03d.Sensor, config *Config) *Session {
	if config == nil {
		config = DefaultConfig()
	}
	s := &Session{
		sensor: sensor,
		config: config,
		recoverer: NewDefaultRecoverer(sensor, nil,
			config.SleepRecovery.RecoveryBackoff, config.SleepRecovery.MaxRecoveryAttempts),
	}
	s.actor = NewSensorActor(config.PollInterval, s.pollTick)
	return s
}

// SetOnTargetDetected sets the callback for a newly appeared target
func (s *Session) SetOnTargetDetected(callback func(rd03d.Target) error) {
	s.stateMutex.Lock()
	defer s.stateMutex.Unlock()
	s.OnTargetDetected = callback
}

// SetOnTargetUpdated sets the callback for each further frame of a tracked target
func (s *Session) SetOnTargetUpdated(callback func(rd03d.Target) error) {
	s.stateMutex.Lock()
	defer s.stateMutex.Unlock()
	s.OnTargetUpdated = callback
}

// SetOnTargetLost sets the callback for a target that left or went stale
func (s *Session) SetOnTargetLost(callback func()) {
	s.stateMutex.Lock()
	defer s.stateMutex.Unlock()
	s.OnTargetLost = callback
}

// SetRecoverer replaces the recoverer used after host sleep and fatal
// transport errors. A nil recoverer disables recovery.
func (s *Session) SetRecoverer(recoverer SensorRecoverer) {
	s.pollMutex.Lock()
	defer s.pollMutex.Unlock()
	s.recoverer = recoverer
}

// SetReopenFunc enables full reconnection: after a fatal transport error
// the session closes the sensor and polls the one returned by reopen
func (s *Session) SetReopenFunc(reopen ReopenFunc) {
	s.SetRecoverer(NewDefaultRecoverer(s.GetSensor(), reopen,
		s.config.SleepRecovery.RecoveryBackoff, s.config.SleepRecovery.MaxRecoveryAttempts))
}

// GetSensor returns the sensor being polled, which changes after a reconnection
func (s *Session) GetSensor() *rd03d.Sensor {
	s.sensorMutex.RLock()
	defer s.sensorMutex.RUnlock()
	return s.sensor
}

func (s *Session) setSensor(sensor *rd03d.Sensor) {
	s.sensorMutex.Lock()
	defer s.sensorMutex.Unlock()
	s.sensor = sensor
}

// GetState returns the current tracking state
func (s *Session) GetState() TargetState {
	s.stateMutex.RLock()
	defer s.stateMutex.RUnlock()
	return s.state
}

// Latest returns the tracked target, the time of the frame that last reported
// it, and whether a target is tracked right now. Once the target is lost the
// zero Target is returned with the time it was last seen.
func (s *Session) Latest() (rd03d.Target, time.Time, bool) {
	s.stateMutex.RLock()
	defer s.stateMutex.RUnlock()
	return s.state.Target, s.state.LastSeen, s.state.Present
}

// DistanceMM returns the tracked target's distance in millimeters
func (s *Session) DistanceMM() (float64, bool) {
	s.stateMutex.RLock()
	defer s.stateMutex.RUnlock()
	if !s.state.Present {
		return 0, false
	}
	return s.state.Target.Distance, true
}

// Metrics returns a snapshot of the session counters
func (s *Session) Metrics() Metrics {
	return Metrics{
		PollCycles:      s.pollCycles.Load(),
		Frames:          s.frames.Load(),
		PollErrors:      s.pollErrors.Load(),
		CallbackErrors:  s.callbackErrors.Load(),
		Recoveries:      s.recoveries.Load(),
		LastPollLatency: time.Duration(s.lastPollLatency.Load()),
	}
}

// Start initializes the sensor if needed and launches background polling.
// It returns immediately; use Done and Err to learn when and why polling
// stopped on its own.
func (s *Session) Start(ctx context.Context) error {
	if s.closed.Load() {
		return ErrSessionClosed
	}

	sensor := s.GetSensor()
	if sensor == nil {
		return rd03d.ErrNilSource
	}
	if !sensor.Initialized() {
		if err := sensor.InitContext(ctx); err != nil {
			return fmt.Errorf("failed to initialize sensor: %w", err)
		}
	}

	s.pollMutex.Lock()
	s.lastPoll = time.Time{}
	s.pollMutex.Unlock()

	if err := s.actor.Start(ctx); err != nil {
		return fmt.Errorf("failed to start polling: %w", err)
	}
	return nil
}

// Run polls in the foreground until ctx is cancelled or polling fails
func (s *Session) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	<-s.actor.Done()
	if err := s.actor.Err(); err != nil {
		return err
	}
	return ctx.Err()
}

// Done returns a channel closed when background polling stops. It is nil
// before the first Start.
func (s *Session) Done() <-chan struct{} {
	return s.actor.Done()
}

// Err returns the error that stopped background polling, if any
func (s *Session) Err() error {
	return s.actor.Err()
}

// Stop halts background polling and returns the error that ended it, if any.
// The session can be started again.
func (s *Session) Stop() error {
	return s.actor.Stop()
}

// Close stops polling and the stale timer. Callbacks no longer fire after
// Close returns. The sensor is left open for the caller to close. Close
// waits for the polling goroutine, so it must not be called from a callback.
func (s *Session) Close() error {
	// Mark session as closed to prevent timer callbacks from executing
	s.closed.Store(true)

	_ = s.actor.Stop()

	s.stateMutex.Lock()
	safeTimerStop(s.state.StaleTimer)
	s.state.StaleTimer = nil
	s.stateMutex.Unlock()

	return nil
}

// PollOnce runs a single polling cycle: it drains the sensor, applies the
// newest target and fires callbacks. It is exported for callers driving their
// own loop. Host sleep detection only runs in background polling, since the
// spacing of manual calls says nothing about the host.
func (s *Session) PollOnce(ctx context.Context) error {
	return s.poll(ctx, false)
}

// pollTick is the background polling cycle
func (s *Session) pollTick(ctx context.Context) error {
	return s.poll(ctx, true)
}

func (s *Session) poll(ctx context.Context, detectSleep bool) error {
	s.pollMutex.Lock()
	defer s.pollMutex.Unlock()

	if s.closed.Load() {
		return ErrSessionClosed
	}

	if detectSleep {
		if err := s.checkSleep(ctx); err != nil {
			return err
		}
	}

	sensor := s.GetSensor()
	before := sensor.Stats().FramesDecoded
	start := time.Now()
	updated, err := sensor.UpdateContext(ctx)
	s.lastPollLatency.Store(time.Since(start).Nanoseconds())
	s.pollCycles.Add(1)
	if after := sensor.Stats().FramesDecoded; after > before {
		s.frames.Add(int64(after - before))
	}

	if updated {
		if cbErr := s.processTarget(sensor.Target(), time.Now()); cbErr != nil {
			return fmt.Errorf("callback error during polling: %w", cbErr)
		}
	}

	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		s.pollErrors.Add(1)
		if rd03d.IsFatal(err) {
			return s.handleFatal(ctx, err)
		}
		rd03d.Debugf("polling: %v", err)
	}
	return nil
}

// checkSleep compares the time since the previous background poll with the
// poll interval and recovers the sensor after a host sleep
func (s *Session) checkSleep(ctx context.Context) error {
	now := time.Now()
	last := s.lastPoll
	s.lastPoll = now
	if last.IsZero() {
		return nil
	}

	gap := now.Sub(last)
	if !s.config.SleepRecovery.DetectSleep(gap, s.config.PollInterval) {
		return nil
	}

	rd03d.Debugf("polling: %v since last poll, assuming host slept", gap)
	s.handleTargetLost()
	if err := s.attemptRecovery(ctx, ErrSleepDetected); err != nil {
		return fmt.Errorf("recovery after sleep failed: %w", err)
	}
	return nil
}

// handleFatal reports the target lost and tries to recover the transport
func (s *Session) handleFatal(ctx context.Context, err error) error {
	s.handleTargetLost()
	if recErr := s.attemptRecovery(ctx, err); recErr != nil {
		rd03d.Debugf("polling: recovery failed: %v", recErr)
		return fmt.Errorf("fatal transport error: %w", err)
	}
	return nil
}

func (s *Session) attemptRecovery(ctx context.Context, cause error) error {
	if s.recoverer == nil {
		return cause
	}
	if err := s.recoverer.AttemptRecovery(ctx, cause); err != nil {
		return err
	}
	s.recoveries.Add(1)
	s.setSensor(s.recoverer.GetSensor())
	return nil
}

// processTarget applies a freshly decoded target to the tracking state
func (s *Session) processTarget(target rd03d.Target, now time.Time) error {
	if !target.Detected {
		// The radar reported an empty slot
		s.handleTargetLost()
		return nil
	}

	s.stateMutex.Lock()
	wasPresent := s.state.Present
	s.state.TransitionToTracking(target, now, s.config.StaleTimeout, s.handleStale)
	onDetected := s.OnTargetDetected
	onUpdated := s.OnTargetUpdated
	s.stateMutex.Unlock()

	// Call callbacks outside of lock with panic recovery
	callback, name := onUpdated, "OnTargetUpdated"
	if !wasPresent {
		callback, name = onDetected, "OnTargetDetected"
	}
	if callback == nil {
		return nil
	}
	if err := s.safeCallCallback(callback, target, name); err != nil {
		s.callbackErrors.Add(1)
		return err
	}
	return nil
}

// handleStale runs on the stale timer's goroutine
func (s *Session) handleStale(gen uint64) {
	// Bail out if session is closed to prevent timer callbacks from executing after cleanup
	if s.closed.Load() {
		return
	}

	s.stateMutex.Lock()
	// A frame re-armed the timer after this one fired
	if !s.state.IsCurrent(gen) {
		s.stateMutex.Unlock()
		return
	}
	s.state.TransitionToIdle()
	onLost := s.OnTargetLost
	s.stateMutex.Unlock()

	rd03d.Debugf("polling: no frame for %v, target lost", s.config.StaleTimeout)
	s.safeCallLost(onLost)
}

// handleTargetLost moves to idle and fires OnTargetLost if a target was tracked
func (s *Session) handleTargetLost() {
	if s.closed.Load() {
		return
	}

	s.stateMutex.Lock()
	wasPresent := s.state.Present
	if wasPresent {
		s.state.TransitionToIdle()
	}
	onLost := s.OnTargetLost
	s.stateMutex.Unlock()

	// Call callback outside the lock to avoid potential deadlocks
	if wasPresent {
		s.safeCallLost(onLost)
	}
}

// safeCallCallback executes a callback with panic recovery
func (*Session) safeCallCallback(
	callback func(rd03d.Target) error,
	target rd03d.Target,
	callbackName string,
) error {
	var callbackErr error
	func() {
		defer func() {
			if r := recover(); r != nil {
				callbackErr = fmt.Errorf("%s callback panicked: %v", callbackName, r)
			}
		}()
		callbackErr = callback(target)
	}()
	if callbackErr != nil {
		return fmt.Errorf("%s callback failed: %w", callbackName, callbackErr)
	}
	return nil
}

// safeCallLost runs OnTargetLost, logging a panic instead of propagating it
func (s *Session) safeCallLost(onLost func()) {
	if onLost == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.callbackErrors.Add(1)
			rd03d.Debugf("OnTargetLost callback panicked: %v", r)
		}
	}()
	onLost()
}
