// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package analysis scores finger range of motion from an exported session.
//
// Each flex channel is smoothed, its peaks and troughs are located, and the
// mean peak-to-trough swing is compared with a healthy reference swing for
// that finger. The score is the swing as a percentage of the reference,
// clamped to [0, 100].
package analysis

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/relabs-tech/glove_capture/internal/glove"
	"github.com/relabs-tech/glove_capture/internal/result"
)

const (
	// SmoothingWindow is the moving-average width applied before peak search.
	SmoothingWindow = 11
	// MaxSamples caps the rows analysed per session.
	MaxSamples = 1000
)

// Fingers in flex channel order with their healthy peak-to-trough swing.
var (
	FingerNames       = [5]string{"Thumb", "Index", "Middle", "Ring", "Little"}
	HealthyThresholds = [5]float64{28.055, 195.985, 164.52, 177.4, 91.63}
)

var ErrNoFlexData = errors.New("no valid flex data")

const (
	StatusHealthy    = "Healthy"
	StatusNotHealthy = "Not Healthy"
	StatusNoPeaks    = "Not Enough Peaks/Troughs"
	StatusTooShort   = "Not Enough Data"
)

// Finger is the outcome for one flex channel.
type Finger struct {
	Name    string  `json:"name"`
	Diff    float64 `json:"diff"`
	Limit   float64 `json:"limit"`
	Score   float64 `json:"score"`
	Status  string  `json:"status"`
	Peaks   int     `json:"peaks"`
	Troughs int     `json:"troughs"`
}

func (f Finger) Healthy() bool {
	return f.Status == StatusHealthy
}

// Report is the analysis of one session.
type Report struct {
	Fingers []Finger `json:"fingers"`
	Samples int      `json:"samples"`
}

// Scores maps finger name to score.
func (r *Report) Scores() map[string]float64 {
	out := make(map[string]float64, len(r.Fingers))
	for _, f := range r.Fingers {
		out[f.Name] = f.Score
	}
	return out
}

// Summary renders the human-readable result text.
func (r *Report) Summary() string {
	lines := []string{"Finger Healthiness Analysis:"}
	for _, f := range r.Fingers {
		switch f.Status {
		case StatusTooShort:
			lines = append(lines, fmt.Sprintf("%s Finger: Not enough valid data points for analysis.", f.Name))
		case StatusNoPeaks:
			lines = append(lines, fmt.Sprintf("- %s: Could not calculate thresholds → %s (Score: %.1f)", f.Name, f.Status, f.Score))
		default:
			lines = append(lines, fmt.Sprintf("- %s: Diff=%.2f, Limit=%.2f → %s (Score: %.1f)", f.Name, f.Diff, f.Limit, f.Status, f.Score))
		}
	}
	return strings.Join(lines, "\n")
}

// Analyze scores the flex channels of rec. Rows with a missing flex value
// are skipped; only the first MaxSamples rows are used.
func Analyze(rec *result.Record) (*Report, error) {
	cols := make([][]float64, len(glove.FlexChannels))
	for i, ch := range glove.FlexChannels {
		cols[i] = rec.Column(glove.ChannelNames[ch])
		if cols[i] == nil {
			return nil, fmt.Errorf("column %s missing: %w", glove.ChannelNames[ch], ErrNoFlexData)
		}
	}

	n := len(cols[0])
	if n > MaxSamples {
		n = MaxSamples
	}
	flex := make([][]float64, len(cols))
	for row := 0; row < n; row++ {
		valid := true
		for _, c := range cols {
			if math.IsNaN(c[row]) {
				valid = false
				break
			}
		}
		if !valid {
			continue
		}
		for i, c := range cols {
			flex[i] = append(flex[i], c[row])
		}
	}
	if len(flex[0]) == 0 {
		return nil, ErrNoFlexData
	}

	rep := &Report{Samples: len(flex[0])}
	for i, raw := range flex {
		rep.Fingers = append(rep.Fingers, scoreFinger(FingerNames[i], HealthyThresholds[i], raw))
	}
	return rep, nil
}

func scoreFinger(name string, limit float64, raw []float64) Finger {
	f := Finger{Name: name, Limit: limit}
	if len(raw) < 2 {
		f.Status = StatusTooShort
		return f
	}

	signal := smooth(raw, SmoothingWindow)

	minProm := (floats.Max(signal) - floats.Min(signal)) * 0.1
	if math.IsNaN(minProm) || minProm <= 0 {
		minProm = stat.StdDev(signal, nil) * 0.5
	}
	distance := len(signal) / 10
	if distance < 1 {
		distance = 1
	}

	peaks := findPeaks(signal, minProm, distance)
	troughs := findPeaks(negate(signal), minProm, distance)
	f.Peaks, f.Troughs = len(peaks), len(troughs)

	if len(peaks) == 0 || len(troughs) == 0 {
		f.Status = StatusNoPeaks
		return f
	}

	f.Diff = stat.Mean(pick(signal, peaks), nil) - stat.Mean(pick(signal, troughs), nil)
	f.Score = math.Max(0, math.Min(100, f.Diff/limit*100))
	if f.Diff >= limit {
		f.Status = StatusHealthy
	} else {
		f.Status = StatusNotHealthy
	}
	return f
}

func pick(x []float64, idx []int) []float64 {
	out := make([]float64, len(idx))
	for i, j := range idx {
		out[i] = x[j]
	}
	return out
}
