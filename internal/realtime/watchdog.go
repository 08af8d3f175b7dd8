// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_realtime

import (
	"sync"
	"time"
)

// scheduleFunc schedules fire after d and returns a cancel function. The
// default implementation wraps time.AfterFunc; tests substitute a manual
// trigger so watchdog behaviour is verifiable without real timers.
type scheduleFunc func(d time.Duration, fire func()) (cancel func() bool)

func timerSchedule(d time.Duration, fire func()) func() bool {
	t := time.AfterFunc(d, fire)
	return t.Stop
}

// watchdog is a cancelable delayed action with a generation counter. Arming
// a new delay increments the generation, so a timer that already left the
// runtime's timer heap observes its own staleness and becomes a no-op
// instead of firing an outdated action.
type watchdog struct {
	mu       sync.Mutex
	gen      uint64
	cancel   func() bool
	schedule scheduleFunc
}

func newWatchdog(schedule scheduleFunc) *watchdog {
	if schedule == nil {
		schedule = timerSchedule
	}
	return &watchdog{schedule: schedule}
}

// Arm schedules fn after d, superseding any previously armed action.
func (w *watchdog) Arm(d time.Duration, fn func()) {
	w.mu.Lock()
	if w.cancel != nil {
		w.cancel()
	}
	w.gen++
	gen := w.gen
	w.cancel = w.schedule(d, func() {
		w.mu.Lock()
		stale := gen != w.gen
		w.mu.Unlock()
		if !stale {
			fn()
		}
	})
	w.mu.Unlock()
}

// Disarm cancels the pending action, if any.
func (w *watchdog) Disarm() {
	w.mu.Lock()
	if w.cancel != nil {
		w.cancel()
		w.cancel = nil
	}
	w.gen++
	w.mu.Unlock()
}

// Generation exposes the current generation for staleness checks by pollers.
func (w *watchdog) Generation() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.gen
}
