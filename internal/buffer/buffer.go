// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package buffer holds the bounded queue between the link callbacks and the drain task.
package buffer

import (
	"sync"

	"github.com/relabs-tech/glove_capture/internal/glove"
	"github.com/relabs-tech/glove_capture/internal/metrics"
)

// DefaultCapacity is the number of samples held before the oldest is evicted.
const DefaultCapacity = 500

// Buffer is a bounded FIFO of samples with drop-oldest overflow.
// Push and Drain are O(1) under the lock.
type Buffer struct {
	mu       sync.Mutex
	items    []glove.Sample
	capacity int
	evicted  uint64
}

func New(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{
		items:    make([]glove.Sample, 0, capacity),
		capacity: capacity,
	}
}

// Push queues s. When the buffer is full the oldest sample is evicted and
// Push reports true.
func (b *Buffer) Push(s glove.Sample) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	evicted := false
	if len(b.items) >= b.capacity {
		b.items = b.items[1:]
		b.evicted++
		evicted = true
	}
	b.items = append(b.items, s)

	if evicted {
		metrics.BufferEvictions.Inc()
	}
	return evicted
}

// Drain removes and returns every queued sample, oldest first.
func (b *Buffer) Drain() []glove.Sample {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.items) == 0 {
		return nil
	}
	out := b.items
	b.items = make([]glove.Sample, 0, b.capacity)
	return out
}

// Clear drops every queued sample.
func (b *Buffer) Clear() {
	b.mu.Lock()
	b.items = make([]glove.Sample, 0, b.capacity)
	b.mu.Unlock()
}

func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}

func (b *Buffer) Cap() int {
	return b.capacity
}

// Evicted returns how many samples were dropped on overflow since creation.
func (b *Buffer) Evicted() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.evicted
}
