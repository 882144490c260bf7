// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package decoder

import (
	"bytes"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"

	"github.com/relabs-tech/glove_capture/internal/glove"
	"github.com/relabs-tech/glove_capture/internal/metrics"
)

// MaxLineLength caps the bytes kept while waiting for a newline.
const MaxLineLength = 4096

var (
	ErrFieldCount = errors.New("wrong field count")
	ErrNoise      = errors.New("noise frame")
)

// Decoder turns the link byte stream into samples. It is not safe for
// concurrent use; the link session feeds it from a single goroutine.
type Decoder struct {
	buf  []byte
	next int64

	// OnDrop, if set, is called for every rejected line.
	OnDrop func(line string, err error)
	// Verbose logs every rejected line.
	Verbose bool
}

// New returns a decoder whose first sample gets index 0.
func New() *Decoder {
	return &Decoder{buf: make([]byte, 0, 256)}
}

// Feed appends chunk to the pending bytes and returns the samples of every
// complete line, in arrival order.
func (d *Decoder) Feed(chunk []byte) []glove.Sample {
	d.buf = append(d.buf, chunk...)

	var out []glove.Sample
	for {
		i := bytes.IndexByte(d.buf, '\n')
		if i < 0 {
			break
		}
		line := strings.TrimSpace(string(d.buf[:i]))
		d.buf = d.buf[i+1:]

		if line == "" {
			continue
		}

		frame, err := ParseLine(line)
		if err != nil {
			d.drop(line, err)
			continue
		}

		out = append(out, glove.Sample{Index: d.next, Values: frame})
		d.next++
		metrics.FramesDecoded.Inc()
	}

	if len(d.buf) > MaxLineLength {
		log.Printf("decoder: discarding %d bytes without newline", len(d.buf))
		d.buf = d.buf[:0]
	}

	// compact so the backing array does not grow with consumed bytes
	if cap(d.buf) > 4*MaxLineLength {
		d.buf = append(make([]byte, 0, 256), d.buf...)
	}

	return out
}

// NextIndex returns the index the next accepted sample will get.
func (d *Decoder) NextIndex() int64 {
	return d.next
}

// Reset drops pending bytes and restarts the sequence at 0.
func (d *Decoder) Reset() {
	d.buf = d.buf[:0]
	d.next = 0
}

func (d *Decoder) drop(line string, err error) {
	reason := "noise"
	if errors.Is(err, ErrFieldCount) {
		reason = "field_count"
	}
	metrics.FramesDropped.WithLabelValues(reason).Inc()

	if d.Verbose {
		log.Printf("decoder: dropped %q: %v", line, err)
	}
	if d.OnDrop != nil {
		d.OnDrop(line, err)
	}
}

// ParseLine parses one trimmed wire record. Tokens that are not numbers read as 0.
func ParseLine(line string) (glove.Frame, error) {
	var f glove.Frame

	fields := strings.Split(line, ",")
	if len(fields) != glove.NumChannels {
		return f, fmt.Errorf("%w: expected %d, got %d", ErrFieldCount, glove.NumChannels, len(fields))
	}

	for i, tok := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(tok), 64)
		if err != nil {
			v = 0
		}
		f[i] = v
	}

	if !f.Valid() {
		return f, fmt.Errorf("%w: all zero or out of range", ErrNoise)
	}
	return f, nil
}
