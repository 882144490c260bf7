// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package series

import "gonum.org/v1/gonum/stat"

// DefaultWindow is the moving-average width in samples.
const DefaultWindow = 5

// Window is a per-channel moving-average filter over the last size raw values.
type Window struct {
	values []float64
	size   int
}

func NewWindow(size int) *Window {
	if size <= 0 {
		size = DefaultWindow
	}
	return &Window{values: make([]float64, 0, size), size: size}
}

// Push adds v, evicting the oldest value once full, and returns the new mean.
func (w *Window) Push(v float64) float64 {
	if len(w.values) == w.size {
		copy(w.values, w.values[1:])
		w.values = w.values[:w.size-1]
	}
	w.values = append(w.values, v)
	return w.Mean()
}

// Mean is the unweighted mean of the values currently held, 0 when empty.
func (w *Window) Mean() float64 {
	if len(w.values) == 0 {
		return 0
	}
	return stat.Mean(w.values, nil)
}

func (w *Window) Len() int {
	return len(w.values)
}

func (w *Window) Reset() {
	w.values = w.values[:0]
}
