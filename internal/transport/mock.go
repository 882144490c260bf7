// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package transport

import (
	"context"
	"fmt"
	"log"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/relabs-tech/glove_capture/internal/glove"
	"github.com/relabs-tech/glove_capture/internal/link"
)

// DefaultMockRate is the number of wire records per second the mock glove sends.
const DefaultMockRate = 50

// Mock is a glove that accepts every request and, while streaming, emits
// smoothly changing wire records.
type Mock struct {
	Rate int

	events chan link.Event

	mu        sync.Mutex
	connected bool
	notify    uuid.UUID
	cancel    context.CancelFunc
	start     time.Time
}

func NewMock() *Mock {
	return &Mock{Rate: DefaultMockRate, events: make(chan link.Event, eventBuffer)}
}

func (m *Mock) Events() <-chan link.Event {
	return m.events
}

func (m *Mock) Connect(deviceID string) error {
	m.mu.Lock()
	m.connected = true
	m.start = time.Now()
	m.mu.Unlock()
	log.Printf("mock: glove %q connected", deviceID)
	m.events <- link.ConnectionChanged{Connected: true}
	return nil
}

func (m *Mock) RefreshCache() error {
	return nil
}

func (m *Mock) DiscoverServices() error {
	if !m.isConnected() {
		return errClosed
	}
	m.events <- link.ServicesDiscovered{Services: []link.Service{gloveService()}}
	return nil
}

func (m *Mock) EnableNotifications(ch uuid.UUID) error {
	m.mu.Lock()
	if !m.connected {
		m.mu.Unlock()
		return errClosed
	}
	m.notify = ch
	m.mu.Unlock()
	m.events <- link.DescriptorWritten{Characteristic: ch}
	return nil
}

// Write understands START and STOP; anything else is acknowledged and ignored.
func (m *Mock) Write(ch uuid.UUID, data []byte) error {
	if !m.isConnected() {
		return errClosed
	}

	switch string(data) {
	case "START":
		m.startStream()
	case "STOP":
		m.stopStream()
	}
	m.events <- link.CharacteristicWritten{Characteristic: ch, Value: data}
	return nil
}

func (m *Mock) Disconnect() error {
	m.stopStream()
	m.mu.Lock()
	m.connected = false
	m.mu.Unlock()
	return nil
}

func (m *Mock) isConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *Mock) startStream() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel

	rate := m.Rate
	if rate <= 0 {
		rate = DefaultMockRate
	}
	go m.stream(ctx, m.notify, m.start, time.Second/time.Duration(rate))
}

func (m *Mock) stopStream() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
}

func (m *Mock) stream(ctx context.Context, ch uuid.UUID, start time.Time, period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			line := MockLine(now.Sub(start).Seconds())
			select {
			case m.events <- link.DataReceived{Characteristic: ch, Data: []byte(line)}:
			case <-ctx.Done():
				return
			}
		}
	}
}

// MockLine renders one newline-terminated wire record for time t seconds:
// fingers flex and relax on a 10 s cycle, the hand slowly rocks.
func MockLine(t float64) string {
	var f glove.Frame

	grip := 0.5 - 0.5*math.Cos(2*math.Pi*t/10)
	f[glove.BioAmp] = 40*grip + 5*math.Sin(2*math.Pi*t*7)
	for i, ch := range glove.FlexChannels {
		f[ch] = 20 + 150*grip*(1-0.1*float64(i))
	}
	for i, ch := range glove.FSRChannels {
		f[ch] = 10 + 300*grip*(0.6+0.1*float64(i))
	}
	f[glove.AccelX] = 0.2 * math.Sin(t)
	f[glove.AccelY] = 0.2 * math.Cos(t*0.7)
	f[glove.AccelZ] = 9.81
	f[glove.GyroX] = 20 * math.Sin(t)
	f[glove.GyroY] = 15 * math.Cos(t*0.7)
	f[glove.GyroZ] = math.Mod(t*30, 360) - 180

	fields := make([]string, len(f))
	for i, v := range f {
		fields[i] = strconv.FormatFloat(v, 'f', 3, 64)
	}
	return fmt.Sprintf("%s\n", strings.Join(fields, ","))
}
