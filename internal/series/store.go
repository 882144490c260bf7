// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package series

import (
	"sync"
	"sync/atomic"

	"github.com/relabs-tech/glove_capture/internal/glove"
)

// Snapshot is an immutable copy of every channel series. Holders may read it
// from any goroutine; nothing in the store keeps a reference to its slices.
type Snapshot struct {
	Channels [glove.NumChannels][]Point `json:"channels"`
	Samples  int64                      `json:"samples"` // samples applied since the last reset
	Version  uint64                     `json:"version"`
}

var emptySnapshot = &Snapshot{}

// Empty reports whether every channel is empty.
func (s *Snapshot) Empty() bool {
	for _, pts := range s.Channels {
		if len(pts) > 0 {
			return false
		}
	}
	return true
}

// Group returns the series of the given channels, in the given order.
func (s *Snapshot) Group(channels []int) [][]Point {
	out := make([][]Point, len(channels))
	for i, ch := range channels {
		out[i] = s.Channels[ch]
	}
	return out
}

// IndexRange returns the smallest and largest sequence index held by any channel.
func (s *Snapshot) IndexRange() (lo, hi int64, ok bool) {
	for _, pts := range s.Channels {
		if len(pts) == 0 {
			continue
		}
		first, last := pts[0].Index, pts[len(pts)-1].Index
		if !ok || first < lo {
			lo = first
		}
		if !ok || last > hi {
			hi = last
		}
		ok = true
	}
	return lo, hi, ok
}

// Store owns the per-channel filters and series. Apply is called by the
// drain task only; readers get snapshots.
type Store struct {
	mu      sync.Mutex
	windows [glove.NumChannels]*Window
	series  [glove.NumChannels]*Series
	samples int64
	version uint64

	latest atomic.Pointer[Snapshot]

	subMu  sync.Mutex
	subs   map[int]chan *Snapshot
	nextID int
}

func NewStore(windowSize, maxPoints int) *Store {
	s := &Store{subs: make(map[int]chan *Snapshot)}
	for i := range s.windows {
		s.windows[i] = NewWindow(windowSize)
		s.series[i] = NewSeries(maxPoints)
	}
	s.latest.Store(emptySnapshot)
	return s
}

// Apply filters a drained batch in arrival order and publishes a new
// snapshot when the batch was not empty.
func (s *Store) Apply(batch []glove.Sample) bool {
	if len(batch) == 0 {
		return false
	}

	s.mu.Lock()
	for _, smp := range batch {
		for ch, raw := range smp.Values {
			mean := s.windows[ch].Push(raw)
			s.series[ch].Append(Point{Index: smp.Index, Value: mean})
		}
	}
	s.samples += int64(len(batch))
	s.publish(s.snapshotLocked())
	s.mu.Unlock()
	return true
}

// Snapshot returns the latest published snapshot. Never nil.
func (s *Store) Snapshot() *Snapshot {
	return s.latest.Load()
}

// Reset clears every window and series and publishes an empty snapshot.
func (s *Store) Reset() {
	s.mu.Lock()
	for i := range s.windows {
		s.windows[i].Reset()
		s.series[i].Reset()
	}
	s.samples = 0
	s.publish(s.snapshotLocked())
	s.mu.Unlock()
}

// Subscribe returns a channel receiving every published snapshot. A slow
// reader only ever sees the most recent ones. Call cancel to unsubscribe.
func (s *Store) Subscribe(buf int) (<-chan *Snapshot, func()) {
	if buf <= 0 {
		buf = 1
	}
	ch := make(chan *Snapshot, buf)

	s.subMu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = ch
	s.subMu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.subs, id)
			s.subMu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

func (s *Store) snapshotLocked() *Snapshot {
	s.version++
	snap := &Snapshot{Samples: s.samples, Version: s.version}
	for i, sr := range s.series {
		snap.Channels[i] = sr.Points()
	}
	return snap
}

// publish runs with s.mu held so snapshots go out in version order.
func (s *Store) publish(snap *Snapshot) {
	s.latest.Store(snap)

	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- snap:
		default:
			// reader is behind: replace its oldest pending snapshot
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snap:
			default:
			}
		}
	}
}
