// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package transport holds link.Transport implementations: a UART bridge to
// the glove radio and a mock glove for development without hardware.
package transport

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"

	"github.com/google/uuid"
	serial "github.com/jacobsa/go-serial/serial"

	"github.com/relabs-tech/glove_capture/internal/link"
)

const eventBuffer = 64

var errClosed = errors.New("port closed")

// gloveService is what a bridge advertises once connected. The bridge only
// forwards the glove UART service.
func gloveService() link.Service {
	return link.Service{
		UUID:            link.ServiceUUID,
		Characteristics: []uuid.UUID{link.NotifyUUID, link.WriteUUID},
	}
}

// Serial talks to a radio bridge on a serial port. The bridge forwards the
// glove notification stream as raw bytes and writes anything it receives
// to the glove write characteristic, one command per line.
type Serial struct {
	Options serial.OpenOptions
	// Open defaults to serial.Open.
	Open func(serial.OpenOptions) (io.ReadWriteCloser, error)

	events chan link.Event

	mu      sync.Mutex
	port    io.ReadWriteCloser
	reading bool
}

// NewSerial returns a bridge transport for portName at baud, 8N1.
func NewSerial(portName string, baud uint) *Serial {
	return &Serial{
		Options: serial.OpenOptions{
			PortName:              portName,
			BaudRate:              baud,
			DataBits:              8,
			StopBits:              1,
			MinimumReadSize:       1,
			ParityMode:            serial.PARITY_NONE,
			InterCharacterTimeout: 0,
		},
		events: make(chan link.Event, eventBuffer),
	}
}

func (s *Serial) Events() <-chan link.Event {
	return s.events
}

func (s *Serial) Connect(deviceID string) error {
	open := s.Open
	if open == nil {
		open = serial.Open
	}

	port, err := open(s.Options)
	if err != nil {
		return fmt.Errorf("open %s: %w", s.Options.PortName, err)
	}

	s.mu.Lock()
	s.port = port
	s.reading = false
	s.mu.Unlock()

	log.Printf("serial: %s opened at %d baud for %q", s.Options.PortName, s.Options.BaudRate, deviceID)
	s.events <- link.ConnectionChanged{Connected: true}
	return nil
}

// RefreshCache is a no-op: the bridge holds no attribute cache.
func (s *Serial) RefreshCache() error {
	return nil
}

func (s *Serial) DiscoverServices() error {
	if s.current() == nil {
		return errClosed
	}
	s.events <- link.ServicesDiscovered{Services: []link.Service{gloveService()}}
	return nil
}

// EnableNotifications starts forwarding the port's byte stream.
func (s *Serial) EnableNotifications(ch uuid.UUID) error {
	s.mu.Lock()
	port := s.port
	start := port != nil && !s.reading
	if start {
		s.reading = true
	}
	s.mu.Unlock()

	if port == nil {
		return errClosed
	}
	if start {
		go s.readLoop(port, ch)
	}
	s.events <- link.DescriptorWritten{Characteristic: ch}
	return nil
}

func (s *Serial) Write(ch uuid.UUID, data []byte) error {
	port := s.current()
	if port == nil {
		return errClosed
	}

	line := append(append([]byte(nil), data...), '\n')
	_, err := port.Write(line)
	s.events <- link.CharacteristicWritten{Characteristic: ch, Value: data, Err: err}
	return nil
}

func (s *Serial) Disconnect() error {
	s.mu.Lock()
	port := s.port
	s.port = nil
	s.reading = false
	s.mu.Unlock()

	if port == nil {
		return nil
	}
	if err := port.Close(); err != nil {
		return err
	}
	log.Printf("serial: %s closed", s.Options.PortName)
	return nil
}

func (s *Serial) current() io.ReadWriteCloser {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port
}

func (s *Serial) readLoop(port io.ReadWriteCloser, ch uuid.UUID) {
	reader := bufio.NewReader(port)
	for {
		line, err := reader.ReadBytes('\n')
		if len(line) > 0 {
			s.events <- link.DataReceived{Characteristic: ch, Data: line}
		}
		if err != nil {
			// a port we closed ourselves is not a link loss
			if s.current() != port {
				return
			}
			log.Printf("serial: read error: %v", err)
			s.events <- link.ConnectionChanged{Connected: false, Err: err}
			return
		}
	}
}
