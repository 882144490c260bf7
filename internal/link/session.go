// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package link

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/relabs-tech/glove_capture/internal/buffer"
	"github.com/relabs-tech/glove_capture/internal/decoder"
	"github.com/relabs-tech/glove_capture/internal/metrics"
)

// Config holds the device identity and the settle delays between setup stages.
type Config struct {
	DeviceID string

	Service uuid.UUID
	Notify  uuid.UUID
	Write   uuid.UUID

	RefreshDelay    time.Duration // after connect, before discovery state
	DiscoveryDelay  time.Duration // before issuing discovery
	DescriptorDelay time.Duration // before writing the notification descriptor
	RetryDelay      time.Duration // single deferred command retry
}

func DefaultConfig() Config {
	return Config{
		Service:         ServiceUUID,
		Notify:          NotifyUUID,
		Write:           WriteUUID,
		RefreshDelay:    200 * time.Millisecond,
		DiscoveryDelay:  500 * time.Millisecond,
		DescriptorDelay: 200 * time.Millisecond,
		RetryDelay:      500 * time.Millisecond,
	}
}

// Session is the link state machine. Transport completions are fed through
// Handle (or Run); operator requests come through Connect, SetStreaming and
// Disconnect. Decoded samples go to the buffer.
type Session struct {
	tr  Transport
	cfg Config
	dec *decoder.Decoder
	buf *buffer.Buffer

	mu       sync.Mutex
	state    State
	gen      uint64 // bumped on every connect and teardown; stale timers compare it
	notify   uuid.UUID
	write    uuid.UUID
	handles  bool
	inflight Command
	retry    Command // command waiting for the deferred retry
	lastErr  error

	n notifier
}

func NewSession(tr Transport, cfg Config, dec *decoder.Decoder, buf *buffer.Buffer) *Session {
	def := DefaultConfig()
	if cfg.Service == uuid.Nil {
		cfg.Service = def.Service
	}
	if cfg.Notify == uuid.Nil {
		cfg.Notify = def.Notify
	}
	if cfg.Write == uuid.Nil {
		cfg.Write = def.Write
	}
	return &Session{tr: tr, cfg: cfg, dec: dec, buf: buf}
}

// OnChange registers fn for every state change, command acknowledgement and
// abandoned command. Changes are delivered in order, never concurrently.
func (s *Session) OnChange(fn func(Change)) {
	s.n.add(fn)
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Streaming reports whether START has been acknowledged.
func (s *Session) Streaming() bool {
	return s.State() == Streaming
}

// Err returns the diagnostic of the last failure, nil after a clean connect.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Connect starts connection setup. Only allowed from Disconnected or Error.
func (s *Session) Connect() error {
	s.mu.Lock()
	if s.state != Disconnected && s.state != Error {
		st := s.state
		s.mu.Unlock()
		return fmt.Errorf("connect in state %s: %w", st, ErrAlreadyConnected)
	}
	s.gen++
	s.lastErr = nil
	s.setLocked(Connecting, nil, CommandNone)
	s.mu.Unlock()
	s.n.dispatch()

	log.Printf("link: connecting to %q", s.cfg.DeviceID)
	if err := s.tr.Connect(s.cfg.DeviceID); err != nil {
		s.fail(fmt.Errorf("connect %q: %w", s.cfg.DeviceID, err))
		return err
	}
	return nil
}

// Disconnect tears the link down. No-op when already disconnected.
func (s *Session) Disconnect() error {
	s.mu.Lock()
	if s.state == Disconnected || s.state == Disconnecting {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()
	return s.teardown(nil)
}

// SetStreaming writes START or STOP. From Ready or Streaming the command is
// written at once. While setup is still in progress it is deferred to one
// retry after RetryDelay and abandoned with ErrNotReady if the link is still
// not ready then. Otherwise it is rejected with ErrNotConnected.
func (s *Session) SetStreaming(enable bool) error {
	cmd := CommandStop
	if enable {
		cmd = CommandStart
	}

	s.mu.Lock()
	switch {
	case s.state == Ready || s.state == Streaming:
		s.mu.Unlock()
		return s.send(cmd)
	case s.state.settingUp():
		armed := s.retry != CommandNone
		s.retry = cmd
		gen := s.gen
		s.mu.Unlock()
		if !armed {
			log.Printf("link: %s deferred, device not ready", cmd)
			time.AfterFunc(s.cfg.RetryDelay, func() { s.retryCommand(gen) })
		}
		return nil
	default:
		st := s.state
		s.mu.Unlock()
		return fmt.Errorf("%s in state %s: %w", cmd, st, ErrNotConnected)
	}
}

func (s *Session) retryCommand(gen uint64) {
	s.mu.Lock()
	cmd := s.retry
	s.retry = CommandNone
	if gen != s.gen || cmd == CommandNone {
		s.mu.Unlock()
		return
	}
	if s.state != Ready && s.state != Streaming {
		log.Printf("link: %s abandoned in state %s", cmd, s.state)
		s.n.enqueue(Change{From: s.state, To: s.state, Err: ErrNotReady, Command: cmd, At: time.Now()})
		s.mu.Unlock()
		s.n.dispatch()
		return
	}
	s.mu.Unlock()
	_ = s.send(cmd)
}

func (s *Session) send(cmd Command) error {
	s.mu.Lock()
	s.inflight = cmd
	ch := s.write
	s.mu.Unlock()

	if err := s.tr.Write(ch, cmd.Payload()); err != nil {
		err = fmt.Errorf("%s: %w: %v", cmd, ErrCommandFailed, err)
		s.fail(err)
		return err
	}
	return nil
}

// Run feeds transport events into Handle until ctx is done or the event
// channel is closed.
func (s *Session) Run(ctx context.Context) error {
	events := s.tr.Events()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			s.Handle(ev)
		}
	}
}

// Handle advances the state machine on one transport event.
func (s *Session) Handle(ev Event) {
	switch e := ev.(type) {
	case ConnectionChanged:
		s.onConnection(e)
	case ServicesDiscovered:
		s.onServices(e)
	case DescriptorWritten:
		s.onDescriptor(e)
	case CharacteristicWritten:
		s.onWritten(e)
	case DataReceived:
		s.onData(e)
	}
}

func (s *Session) onConnection(e ConnectionChanged) {
	s.mu.Lock()
	st := s.state
	gen := s.gen
	s.mu.Unlock()

	if e.Connected && e.Err == nil {
		if st != Connecting {
			return
		}
		if err := s.tr.RefreshCache(); err != nil {
			log.Printf("link: cache refresh failed: %v", err)
		}
		time.AfterFunc(s.cfg.RefreshDelay, func() { s.beginDiscovery(gen) })
		return
	}

	switch st {
	case Disconnected, Disconnecting, Error:
		return
	}
	err := ErrDisconnected
	if e.Err != nil {
		err = fmt.Errorf("%w: %v", ErrDisconnected, e.Err)
	}
	s.fail(err)
}

func (s *Session) beginDiscovery(gen uint64) {
	s.mu.Lock()
	if gen != s.gen || s.state != Connecting {
		s.mu.Unlock()
		return
	}
	s.setLocked(ServiceDiscovery, nil, CommandNone)
	s.mu.Unlock()
	s.n.dispatch()

	time.AfterFunc(s.cfg.DiscoveryDelay, func() {
		if !s.current(gen, ServiceDiscovery) {
			return
		}
		if err := s.tr.DiscoverServices(); err != nil {
			s.fail(fmt.Errorf("service discovery: %w", err))
		}
	})
}

func (s *Session) onServices(e ServicesDiscovered) {
	s.mu.Lock()
	if s.state != ServiceDiscovery {
		s.mu.Unlock()
		return
	}
	gen := s.gen
	s.mu.Unlock()

	if e.Err != nil {
		s.fail(fmt.Errorf("service discovery: %w", e.Err))
		return
	}

	var svc *Service
	for i := range e.Services {
		if e.Services[i].UUID == s.cfg.Service {
			svc = &e.Services[i]
			break
		}
	}
	if svc == nil {
		s.fail(ErrServiceNotFound)
		return
	}
	if !svc.has(s.cfg.Notify) || !svc.has(s.cfg.Write) {
		s.fail(ErrCharacteristicNotFound)
		return
	}

	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}
	s.notify = s.cfg.Notify
	s.write = s.cfg.Write
	s.handles = true
	s.setLocked(EnablingNotifications, nil, CommandNone)
	s.mu.Unlock()
	s.n.dispatch()

	time.AfterFunc(s.cfg.DescriptorDelay, func() {
		if !s.current(gen, EnablingNotifications) {
			return
		}
		if err := s.tr.EnableNotifications(s.cfg.Notify); err != nil {
			s.fail(fmt.Errorf("%w: %v", ErrNotificationsFailed, err))
		}
	})
}

func (s *Session) onDescriptor(e DescriptorWritten) {
	s.mu.Lock()
	if s.state != EnablingNotifications {
		s.mu.Unlock()
		return
	}
	if e.Err != nil {
		s.mu.Unlock()
		s.fail(fmt.Errorf("%w: %v", ErrNotificationsFailed, e.Err))
		return
	}
	s.setLocked(Ready, nil, CommandNone)
	s.mu.Unlock()
	s.n.dispatch()
	log.Printf("link: notifications enabled, device ready")
}

func (s *Session) onWritten(e CharacteristicWritten) {
	s.mu.Lock()
	if !s.handles || e.Characteristic != s.write {
		s.mu.Unlock()
		return
	}
	cmd := parseCommand(e.Value)
	if cmd == CommandNone {
		cmd = s.inflight
	}
	s.inflight = CommandNone
	s.mu.Unlock()

	if e.Err != nil {
		s.fail(fmt.Errorf("%s: %w: %v", cmd, ErrCommandFailed, e.Err))
		return
	}

	s.mu.Lock()
	if s.state != Ready && s.state != Streaming {
		s.mu.Unlock()
		return
	}
	switch cmd {
	case CommandStart:
		s.setLocked(Streaming, nil, cmd)
	case CommandStop:
		s.setLocked(Ready, nil, cmd)
	}
	s.mu.Unlock()
	s.n.dispatch()
}

func (s *Session) onData(e DataReceived) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.handles || e.Characteristic != s.notify {
		return
	}
	for _, smp := range s.dec.Feed(e.Data) {
		s.buf.Push(smp)
	}
}

// fail records err and tears the link down. Ignored once teardown started.
func (s *Session) fail(err error) {
	s.mu.Lock()
	if s.state == Disconnected || s.state == Disconnecting || s.state == Error {
		s.mu.Unlock()
		return
	}
	s.lastErr = err
	s.mu.Unlock()

	metrics.LinkFailures.Inc()
	log.Printf("link: %v", err)
	_ = s.teardown(err)
}

// teardown moves through Disconnecting, drops every per-connection handle
// and the pending samples, and ends in Disconnected, or Error when the
// transport cannot disconnect.
func (s *Session) teardown(reason error) error {
	s.mu.Lock()
	if s.state == Disconnecting {
		s.mu.Unlock()
		return nil
	}
	s.gen++
	s.setLocked(Disconnecting, reason, CommandNone)
	s.handles = false
	s.notify = uuid.Nil
	s.write = uuid.Nil
	s.inflight = CommandNone
	s.retry = CommandNone
	s.dec.Reset()
	s.buf.Clear()
	s.mu.Unlock()
	s.n.dispatch()

	derr := s.tr.Disconnect()

	s.mu.Lock()
	if derr != nil {
		derr = fmt.Errorf("disconnect: %w", derr)
		log.Printf("link: %v", derr)
		s.lastErr = derr
		s.setLocked(Error, derr, CommandNone)
	} else {
		s.setLocked(Disconnected, reason, CommandNone)
	}
	s.mu.Unlock()
	s.n.dispatch()
	return derr
}

func (s *Session) current(gen uint64, st State) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen == gen && s.state == st
}

// setLocked changes state and queues the notification. Callers hold s.mu
// and dispatch after unlocking.
func (s *Session) setLocked(to State, err error, cmd Command) {
	from := s.state
	s.state = to
	metrics.LinkState.Set(float64(to))
	if from != to {
		log.Printf("link: %s -> %s", from, to)
	}
	s.n.enqueue(Change{From: from, To: to, Err: err, Command: cmd, At: time.Now()})
}

// notifier delivers changes in the order they were queued. Whoever finds it
// idle delivers the whole queue; listeners may call back into the session.
type notifier struct {
	mu        sync.Mutex
	queue     []Change
	running   bool
	listeners []func(Change)
}

func (n *notifier) add(fn func(Change)) {
	n.mu.Lock()
	n.listeners = append(n.listeners, fn)
	n.mu.Unlock()
}

func (n *notifier) enqueue(c Change) {
	n.mu.Lock()
	n.queue = append(n.queue, c)
	n.mu.Unlock()
}

func (n *notifier) dispatch() {
	n.mu.Lock()
	if n.running {
		n.mu.Unlock()
		return
	}
	n.running = true
	for len(n.queue) > 0 {
		c := n.queue[0]
		n.queue = n.queue[1:]
		ls := n.listeners
		n.mu.Unlock()
		for _, fn := range ls {
			fn(c)
		}
		n.mu.Lock()
	}
	n.running = false
	n.mu.Unlock()
}
