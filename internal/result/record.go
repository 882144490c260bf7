// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package result exports a captured session and follows it through upload
// and remote analysis until a terminal result is available.
package result

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"strconv"

	"github.com/relabs-tech/glove_capture/internal/glove"
	"github.com/relabs-tech/glove_capture/internal/series"
)

// Record is an exported session: one row per sequence index, the index
// first and then every channel in export order. Treat it as read-only.
type Record struct {
	Columns []string
	Rows    [][]float64
}

// Export builds a record covering every index from the smallest to the
// largest one held by the snapshot. A channel without a point at some index
// contributes 0 there.
func Export(snap *series.Snapshot) (*Record, error) {
	if snap == nil {
		return nil, ErrNoData
	}
	lo, hi, ok := snap.IndexRange()
	if !ok {
		return nil, ErrNoData
	}

	n := int(hi-lo) + 1
	rows := make([][]float64, n)
	for i := range rows {
		rows[i] = make([]float64, glove.NumChannels+1)
		rows[i][0] = float64(lo + int64(i))
	}

	for col, ch := range glove.ExportOrder {
		for _, p := range snap.Channels[ch] {
			rows[p.Index-lo][col+1] = p.Value
		}
	}

	return &Record{Columns: glove.ExportColumns(), Rows: rows}, nil
}

func (r *Record) Len() int {
	return len(r.Rows)
}

// Column returns the values of the named column, nil if there is none.
func (r *Record) Column(name string) []float64 {
	idx := -1
	for i, c := range r.Columns {
		if c == name {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil
	}
	out := make([]float64, len(r.Rows))
	for i, row := range r.Rows {
		out[i] = row[idx]
	}
	return out
}

// WriteCSV writes the header and every row. The index column is written as
// an integer.
func (r *Record) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(r.Columns); err != nil {
		return err
	}

	fields := make([]string, len(r.Columns))
	for _, row := range r.Rows {
		for i, v := range row {
			if i == 0 {
				fields[i] = strconv.FormatInt(int64(v), 10)
				continue
			}
			fields[i] = strconv.FormatFloat(v, 'f', -1, 64)
		}
		if err := cw.Write(fields); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadCSV parses a record written by WriteCSV. Fields that are not numbers
// read as NaN so callers can decide what to drop.
func ReadCSV(rd io.Reader) (*Record, error) {
	cr := csv.NewReader(rd)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err == io.EOF {
		return nil, ErrNoData
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	rec := &Record{Columns: header}
	for {
		fields, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row %d: %w", len(rec.Rows)+1, err)
		}

		row := make([]float64, len(header))
		for i := range row {
			row[i] = math.NaN()
			if i < len(fields) {
				if v, err := strconv.ParseFloat(fields[i], 64); err == nil {
					row[i] = v
				}
			}
		}
		rec.Rows = append(rec.Rows, row)
	}

	if len(rec.Rows) == 0 {
		return nil, ErrNoData
	}
	return rec, nil
}
