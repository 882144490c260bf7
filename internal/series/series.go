// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package series

// DefaultMaxPoints bounds every channel series.
const DefaultMaxPoints = 1000

// Point is one filtered value at a sequence index.
type Point struct {
	Index int64   `json:"x"`
	Value float64 `json:"y"`
}

// Series is a bounded ring of points for one channel. Oldest points are
// evicted first once the bound is reached.
type Series struct {
	ring  []Point
	start int
	n     int
}

func NewSeries(max int) *Series {
	if max <= 0 {
		max = DefaultMaxPoints
	}
	return &Series{ring: make([]Point, max)}
}

// Append adds p, evicting the oldest point when full.
func (s *Series) Append(p Point) {
	if s.n < len(s.ring) {
		s.ring[(s.start+s.n)%len(s.ring)] = p
		s.n++
		return
	}
	s.ring[s.start] = p
	s.start = (s.start + 1) % len(s.ring)
}

func (s *Series) Len() int {
	return s.n
}

func (s *Series) Max() int {
	return len(s.ring)
}

// Points returns a copy of the points, oldest first.
func (s *Series) Points() []Point {
	out := make([]Point, s.n)
	for i := 0; i < s.n; i++ {
		out[i] = s.ring[(s.start+i)%len(s.ring)]
	}
	return out
}

func (s *Series) Reset() {
	s.start = 0
	s.n = 0
}
