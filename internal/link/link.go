// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package link drives the wireless link to the glove: connection setup,
// service discovery, notification enable and the START/STOP control channel.
//
// The transport reports every completion as a typed Event. Session advances
// strictly on those events, so the whole state machine can be exercised by
// feeding synthetic events.
package link

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Nordic UART service used by the glove firmware.
var (
	ServiceUUID = uuid.MustParse("6e400001-b5a3-f393-e0a9-e50e24dcca9e")
	NotifyUUID  = uuid.MustParse("6e400003-b5a3-f393-e0a9-e50e24dcca9e")
	WriteUUID   = uuid.MustParse("6e400002-b5a3-f393-e0a9-e50e24dcca9e")
	// ClientConfigUUID is the notification-enable descriptor.
	ClientConfigUUID = uuid.MustParse("00002902-0000-1000-8000-00805f9b34fb")
)

var (
	ErrNotConnected           = errors.New("device not connected")
	ErrAlreadyConnected       = errors.New("link already active")
	ErrServiceNotFound        = errors.New("glove service not found")
	ErrCharacteristicNotFound = errors.New("glove characteristics not found")
	ErrNotificationsFailed    = errors.New("failed to enable notifications")
	ErrCommandFailed          = errors.New("failed to send command")
	ErrNotReady               = errors.New("device not ready, command failed")
	ErrDisconnected           = errors.New("device disconnected")
)

// State is the link state.
type State int

const (
	Disconnected State = iota
	Connecting
	ServiceDiscovery
	EnablingNotifications
	Ready
	Streaming
	Disconnecting
	Error
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case ServiceDiscovery:
		return "service_discovery"
	case EnablingNotifications:
		return "enabling_notifications"
	case Ready:
		return "ready"
	case Streaming:
		return "streaming"
	case Disconnecting:
		return "disconnecting"
	case Error:
		return "error"
	}
	return "unknown"
}

// settingUp reports whether s is a connection stage before Ready.
func (s State) settingUp() bool {
	return s == Connecting || s == ServiceDiscovery || s == EnablingNotifications
}

// Command is a control command sent on the write characteristic.
type Command int

const (
	CommandNone Command = iota
	CommandStart
	CommandStop
)

func (c Command) String() string {
	switch c {
	case CommandStart:
		return "START"
	case CommandStop:
		return "STOP"
	}
	return ""
}

// Payload is the ASCII form written to the device.
func (c Command) Payload() []byte {
	return []byte(c.String())
}

func parseCommand(b []byte) Command {
	switch string(b) {
	case "START":
		return CommandStart
	case "STOP":
		return CommandStop
	}
	return CommandNone
}

// Service is one discovered service and the characteristics it exposes.
type Service struct {
	UUID            uuid.UUID
	Characteristics []uuid.UUID
}

func (s Service) has(ch uuid.UUID) bool {
	for _, c := range s.Characteristics {
		if c == ch {
			return true
		}
	}
	return false
}

// Event is a transport completion or notification.
type Event interface {
	event()
}

type ConnectionChanged struct {
	Connected bool
	Err       error
}

type ServicesDiscovered struct {
	Services []Service
	Err      error
}

type DescriptorWritten struct {
	Characteristic uuid.UUID
	Err            error
}

type CharacteristicWritten struct {
	Characteristic uuid.UUID
	Value          []byte
	Err            error
}

type DataReceived struct {
	Characteristic uuid.UUID
	Data           []byte
}

func (ConnectionChanged) event()     {}
func (ServicesDiscovered) event()    {}
func (DescriptorWritten) event()     {}
func (CharacteristicWritten) event() {}
func (DataReceived) event()          {}

// Transport is the radio. Every method only issues the request; the outcome
// is reported later on Events.
type Transport interface {
	Connect(deviceID string) error
	RefreshCache() error
	DiscoverServices() error
	EnableNotifications(characteristic uuid.UUID) error
	Write(characteristic uuid.UUID, data []byte) error
	Disconnect() error
	Events() <-chan Event
}

// Change describes one observable step of the session.
type Change struct {
	From    State
	To      State
	Err     error   // diagnostic, nil on success
	Command Command // command acknowledged or abandoned by this step
	At      time.Time
}

// Acked reports whether the change acknowledges cmd.
func (c Change) Acked(cmd Command) bool {
	return c.Command == cmd && c.Err == nil
}

// Lost reports whether the change ends the connection.
func (c Change) Lost() bool {
	return c.From != c.To && (c.To == Disconnecting || c.To == Disconnected || c.To == Error)
}
