// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package series

import (
	"context"
	"time"

	"github.com/relabs-tech/glove_capture/internal/glove"
	"github.com/relabs-tech/glove_capture/internal/metrics"
)

const (
	DefaultDrainInterval = 100 * time.Millisecond
	DefaultIdleInterval  = 500 * time.Millisecond
)

// Source is the queue the drainer empties on every tick.
type Source interface {
	Drain() []glove.Sample
}

// Drainer moves queued samples into the store on a fixed tick while the
// gate is open, and backs off to the idle interval while it is closed.
type Drainer struct {
	Source Source
	Store  *Store
	// Gate reports whether streaming is enabled. Nil means always open.
	Gate func() bool

	Interval     time.Duration
	IdleInterval time.Duration
}

// Run blocks until ctx is cancelled.
func (d *Drainer) Run(ctx context.Context) error {
	interval := d.Interval
	if interval <= 0 {
		interval = DefaultDrainInterval
	}
	idle := d.IdleInterval
	if idle <= 0 {
		idle = DefaultIdleInterval
	}

	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}

		next := interval
		if d.Gate != nil && !d.Gate() {
			next = idle
		} else {
			d.Tick()
		}
		timer.Reset(next)
	}
}

// Tick performs one drain step and returns the number of samples applied.
func (d *Drainer) Tick() int {
	batch := d.Source.Drain()
	if len(batch) == 0 {
		return 0
	}
	metrics.DrainBatchSize.Observe(float64(len(batch)))
	d.Store.Apply(batch)
	return len(batch)
}
