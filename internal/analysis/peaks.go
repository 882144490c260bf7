// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package analysis

import "sort"

// smooth applies a centered moving average of width w. Values beyond the
// signal edges count as zero, so the first and last w/2 outputs taper.
// Signals shorter than w are returned unchanged.
func smooth(x []float64, w int) []float64 {
	out := make([]float64, len(x))
	if len(x) < w || w <= 1 {
		copy(out, x)
		return out
	}
	half := w / 2
	for i := range x {
		var sum float64
		for j := i - half; j <= i+half; j++ {
			if j >= 0 && j < len(x) {
				sum += x[j]
			}
		}
		out[i] = sum / float64(w)
	}
	return out
}

// localMaxima returns the index of every interior maximum. A flat top counts
// once, at its middle.
func localMaxima(x []float64) []int {
	var peaks []int
	i := 1
	for i < len(x)-1 {
		if x[i-1] < x[i] {
			ahead := i + 1
			for ahead < len(x)-1 && x[ahead] == x[i] {
				ahead++
			}
			if x[ahead] < x[i] {
				peaks = append(peaks, (i+ahead-1)/2)
				i = ahead
				continue
			}
		}
		i++
	}
	return peaks
}

// selectByDistance keeps the highest peaks so that no two kept peaks are
// closer than distance samples.
func selectByDistance(x []float64, peaks []int, distance int) []int {
	if distance <= 1 || len(peaks) < 2 {
		return peaks
	}

	order := make([]int, len(peaks))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return x[peaks[order[a]]] > x[peaks[order[b]]]
	})

	keep := make([]bool, len(peaks))
	for i := range keep {
		keep[i] = true
	}
	for _, idx := range order {
		if !keep[idx] {
			continue
		}
		for j := idx - 1; j >= 0 && peaks[idx]-peaks[j] < distance; j-- {
			keep[j] = false
		}
		for j := idx + 1; j < len(peaks) && peaks[j]-peaks[idx] < distance; j++ {
			keep[j] = false
		}
	}

	var out []int
	for i, p := range peaks {
		if keep[i] {
			out = append(out, p)
		}
	}
	return out
}

// prominence is the height of peak p above the higher of the two lowest
// points reachable on either side before climbing above x[p].
func prominence(x []float64, p int) float64 {
	leftMin := x[p]
	for i := p; i >= 0 && x[i] <= x[p]; i-- {
		if x[i] < leftMin {
			leftMin = x[i]
		}
	}
	rightMin := x[p]
	for i := p; i < len(x) && x[i] <= x[p]; i++ {
		if x[i] < rightMin {
			rightMin = x[i]
		}
	}
	base := leftMin
	if rightMin > base {
		base = rightMin
	}
	return x[p] - base
}

// findPeaks returns the maxima at least distance apart whose prominence is
// at least minProminence.
func findPeaks(x []float64, minProminence float64, distance int) []int {
	var out []int
	for _, p := range selectByDistance(x, localMaxima(x), distance) {
		if prominence(x, p) >= minProminence {
			out = append(out, p)
		}
	}
	return out
}

func negate(x []float64) []float64 {
	out := make([]float64, len(x))
	for i, v := range x {
		out[i] = -v
	}
	return out
}
