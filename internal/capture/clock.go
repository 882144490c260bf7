// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package capture

import (
	"sync"
	"time"
)

// Clock accumulates active session time across stop/start cycles.
type Clock struct {
	mu          sync.Mutex
	now         func() time.Time
	running     bool
	start       time.Time
	accumulated time.Duration
}

// NewClock returns a stopped clock. A nil now uses time.Now.
func NewClock(now func() time.Time) *Clock {
	if now == nil {
		now = time.Now
	}
	return &Clock{now: now}
}

// Start begins a running interval. No-op while running.
func (c *Clock) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return
	}
	c.running = true
	c.start = c.now()
}

// Stop folds the running interval into the accumulated time and returns it.
func (c *Clock) Stop() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		c.accumulated += c.now().Sub(c.start)
		c.running = false
	}
	return c.accumulated
}

// Elapsed is the accumulated time plus the running interval, if any.
func (c *Clock) Elapsed() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return c.accumulated + c.now().Sub(c.start)
	}
	return c.accumulated
}

func (c *Clock) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Reset stops the clock and clears the accumulated time.
func (c *Clock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.running = false
	c.accumulated = 0
}

// Phase is the operator cue during the active window.
type Phase int

const (
	Grasp Phase = iota
	Release
)

func (p Phase) String() string {
	if p == Release {
		return "release"
	}
	return "grasp"
}

// PhaseAt returns the cue after elapsed active time, alternating every half.
func PhaseAt(elapsed, half time.Duration) Phase {
	if half <= 0 || elapsed < 0 {
		return Grasp
	}
	if (elapsed/half)%2 == 0 {
		return Grasp
	}
	return Release
}

// untilFlip is the active time left before the phase changes.
func untilFlip(elapsed, half time.Duration) time.Duration {
	if half <= 0 {
		return 0
	}
	return half - elapsed%half
}
