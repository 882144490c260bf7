// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package capture runs one fixed-duration capture session: countdown,
// acknowledged stream start, grasp/release cueing, auto-stop and hand-off
// of the captured series to the result pipeline.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/relabs-tech/glove_capture/internal/link"
	"github.com/relabs-tech/glove_capture/internal/metrics"
	"github.com/relabs-tech/glove_capture/internal/result"
	"github.com/relabs-tech/glove_capture/internal/series"
)

var (
	ErrInvalidState         = errors.New("invalid session state")
	ErrLinkLost             = errors.New("device disconnected")
	ErrStartNotAcknowledged = errors.New("device did not start streaming")
)

type State int

const (
	Idle State = iota
	GetReady
	Active
	Paused
	Completed
	Exporting
	Finished
	Aborted
)

var stateNames = [...]string{"idle", "get_ready", "active", "paused", "completed", "exporting", "finished", "aborted"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(b []byte) error {
	for i, name := range stateNames {
		if name == string(b) {
			*s = State(i)
			return nil
		}
	}
	return fmt.Errorf("unknown session state %q", b)
}

func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *Phase) UnmarshalText(b []byte) error {
	switch string(b) {
	case "grasp":
		*p = Grasp
	case "release":
		*p = Release
	default:
		return fmt.Errorf("unknown phase %q", b)
	}
	return nil
}

// Config holds the session timing and the identity results are filed under.
type Config struct {
	Countdown       time.Duration
	Duration        time.Duration // cumulative active time
	HalfCycle       time.Duration // grasp/release half period
	StartAckTimeout time.Duration
	Identity        result.Identity
}

func DefaultConfig() Config {
	return Config{
		Countdown:       5 * time.Second,
		Duration:        120 * time.Second,
		HalfCycle:       5 * time.Second,
		StartAckTimeout: 5 * time.Second,
	}
}

// Controller switches the device stream. link.Session implements it.
type Controller interface {
	SetStreaming(enable bool) error
}

// SnapshotSource is the filtered series store. If it also has a Reset
// method, a new session clears it.
type SnapshotSource interface {
	Snapshot() *series.Snapshot
}

// Processor is the result pipeline.
type Processor interface {
	Process(ctx context.Context, snap *series.Snapshot, id result.Identity) result.Result
}

// Update is the observable session status.
type Update struct {
	State       State          `json:"state"`
	Phase       Phase          `json:"phase"`
	ElapsedMS   int64          `json:"elapsed_ms"`
	RemainingMS int64          `json:"remaining_ms"`
	CountdownMS int64          `json:"countdown_ms,omitempty"`
	Message     string         `json:"message,omitempty"`
	Progress    string         `json:"progress,omitempty"`
	Result      *result.Result `json:"result,omitempty"`
	At          time.Time      `json:"at"`
}

// Session owns its clock and every task it starts. Cancel stops them all.
type Session struct {
	cfg   Config
	ctl   Controller
	src   SnapshotSource
	proc  Processor
	clock *Clock

	mu            sync.Mutex
	state         State
	phase         Phase
	gen           uint64 // bumped when a session starts or ends early
	ctx           context.Context
	cancel        context.CancelFunc
	activeCancel  context.CancelFunc
	countdownEnd  time.Time
	awaitingStart bool
	startSeq      uint64
	ackTimer      *time.Timer
	stopSeq       uint64
	autoStop      *time.Timer
	message       string
	progress      string
	res           *result.Result
	lastErr       error

	wg sync.WaitGroup

	subMu  sync.Mutex
	subs   map[int]chan Update
	nextID int
}

func NewSession(cfg Config, ctl Controller, src SnapshotSource, proc Processor) *Session {
	def := DefaultConfig()
	if cfg.Duration <= 0 {
		cfg.Duration = def.Duration
	}
	if cfg.HalfCycle <= 0 {
		cfg.HalfCycle = def.HalfCycle
	}
	if cfg.StartAckTimeout <= 0 {
		cfg.StartAckTimeout = def.StartAckTimeout
	}
	if cfg.Countdown < 0 {
		cfg.Countdown = 0
	}
	return &Session{
		cfg:   cfg,
		ctl:   ctl,
		src:   src,
		proc:  proc,
		clock: NewClock(nil),
		subs:  make(map[int]chan Update),
	}
}

// Start begins the countdown. Allowed from Idle, Finished and Aborted; the
// clock and the series store start from zero.
func (s *Session) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case Idle, Finished, Aborted:
	default:
		return fmt.Errorf("start in state %s: %w", s.state, ErrInvalidState)
	}

	s.stopTasksLocked()
	s.clock.Reset()
	if r, ok := s.src.(interface{ Reset() }); ok {
		r.Reset()
	}
	s.res = nil
	s.lastErr = nil
	s.progress = ""

	s.gen++
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.countdownEnd = time.Now().Add(s.cfg.Countdown)
	s.setLocked(GetReady, "Get ready")

	s.wg.Add(1)
	go s.countdown(s.ctx, s.gen)
	return nil
}

// Pause freezes the clock and stops the stream.
func (s *Session) Pause() error {
	s.mu.Lock()
	if s.state != Active {
		st := s.state
		s.mu.Unlock()
		return fmt.Errorf("pause in state %s: %w", st, ErrInvalidState)
	}
	s.stopTasksLocked()
	s.clock.Stop()
	s.setLocked(Paused, "Paused")
	s.mu.Unlock()

	if err := s.ctl.SetStreaming(false); err != nil {
		log.Printf("capture: stop stream on pause: %v", err)
	}
	return nil
}

// Resume restarts the stream. The clock runs again once the device
// acknowledges.
func (s *Session) Resume() error {
	s.mu.Lock()
	if s.state != Paused || s.awaitingStart {
		st := s.state
		s.mu.Unlock()
		return fmt.Errorf("resume in state %s: %w", st, ErrInvalidState)
	}
	gen := s.gen
	s.mu.Unlock()

	s.requestStart(gen)
	return nil
}

// Stop ends the session early and hands the captured data to the pipeline.
func (s *Session) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Active && s.state != Paused {
		return fmt.Errorf("stop in state %s: %w", s.state, ErrInvalidState)
	}
	s.completeLocked("Session stopped")
	return nil
}

// Cancel aborts whatever the session is doing. Safe to call repeatedly.
func (s *Session) Cancel() {
	s.mu.Lock()
	streaming := s.state == Active || s.awaitingStart
	switch s.state {
	case GetReady, Active, Paused, Completed, Exporting:
		s.endLocked()
		s.setLocked(Aborted, "Session cancelled")
	default:
		s.endLocked()
	}
	s.mu.Unlock()

	if streaming {
		if err := s.ctl.SetStreaming(false); err != nil {
			log.Printf("capture: stop stream on cancel: %v", err)
		}
	}
}

// Reset cancels the session and returns it to Idle with a zero clock.
func (s *Session) Reset() {
	s.Cancel()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.clock.Reset()
	if r, ok := s.src.(interface{ Reset() }); ok {
		r.Reset()
	}
	s.res = nil
	s.lastErr = nil
	s.progress = ""
	s.setLocked(Idle, "")
}

// Wait blocks until every task of the session has returned.
func (s *Session) Wait() {
	s.wg.Wait()
}

// HandleLink consumes link changes: start acknowledgement, abandoned
// start commands and link loss.
func (s *Session) HandleLink(c link.Change) {
	switch {
	case c.Acked(link.CommandStart):
		s.startAcked()
	case c.Command == link.CommandStart && c.Err != nil:
		s.abort(s.generation(), fmt.Errorf("%w: %v", ErrStartNotAcknowledged, c.Err))
	case c.Lost():
		err := ErrLinkLost
		if c.Err != nil {
			err = fmt.Errorf("%w: %v", ErrLinkLost, c.Err)
		}
		s.abort(s.generation(), err)
	}
}

// ReportProgress updates the progress text while results are pending.
func (s *Session) ReportProgress(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Exporting {
		return
	}
	s.progress = msg
	s.publishLocked()
}

func (s *Session) Status() Update {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statusLocked()
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Elapsed is the cumulative active time.
func (s *Session) Elapsed() time.Duration {
	return s.clock.Elapsed()
}

// Result is the pipeline outcome of the last finished session.
func (s *Session) Result() *result.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.res
}

// Err is the reason of the last abort.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Subscribe returns a channel receiving every update. A slow reader loses
// the oldest pending updates. Call cancel to unsubscribe.
func (s *Session) Subscribe(buf int) (<-chan Update, func()) {
	if buf <= 0 {
		buf = 16
	}
	ch := make(chan Update, buf)

	s.subMu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = ch
	s.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.subs, id)
			s.subMu.Unlock()
			close(ch)
		})
	}
}

func (s *Session) generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen
}

func (s *Session) countdown(ctx context.Context, gen uint64) {
	defer s.wg.Done()

	timer := time.NewTimer(s.cfg.Countdown)
	defer timer.Stop()
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			if gen == s.gen && s.state == GetReady {
				s.publishLocked()
			}
			s.mu.Unlock()
		case <-timer.C:
			s.requestStart(gen)
			return
		}
	}
}

// requestStart sends START and waits for the acknowledgement. The clock
// does not run until it arrives.
func (s *Session) requestStart(gen uint64) {
	s.mu.Lock()
	if gen != s.gen || (s.state != GetReady && s.state != Paused) || s.awaitingStart {
		s.mu.Unlock()
		return
	}
	s.awaitingStart = true
	s.startSeq++
	seq := s.startSeq
	s.ackTimer = time.AfterFunc(s.cfg.StartAckTimeout, func() { s.startTimedOut(gen, seq) })
	s.message = "Starting data stream..."
	s.publishLocked()
	s.mu.Unlock()

	if err := s.ctl.SetStreaming(true); err != nil {
		s.abort(gen, fmt.Errorf("%w: %v", ErrStartNotAcknowledged, err))
	}
}

func (s *Session) startTimedOut(gen, seq uint64) {
	s.mu.Lock()
	pending := gen == s.gen && s.awaitingStart && seq == s.startSeq
	s.mu.Unlock()
	if pending {
		s.abort(gen, fmt.Errorf("%w within %s", ErrStartNotAcknowledged, s.cfg.StartAckTimeout))
	}
}

func (s *Session) startAcked() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.awaitingStart {
		return
	}
	s.awaitingStart = false
	if s.ackTimer != nil {
		s.ackTimer.Stop()
	}

	s.clock.Start()
	s.phase = PhaseAt(s.clock.Elapsed(), s.cfg.HalfCycle)
	s.setLocked(Active, "")
	s.armLocked()
}

// armLocked starts the auto-stop timer for the remaining active time and
// the cue task.
func (s *Session) armLocked() {
	gen := s.gen
	s.stopSeq++
	seq := s.stopSeq
	remaining := s.cfg.Duration - s.clock.Elapsed()
	s.autoStop = time.AfterFunc(remaining, func() { s.autoStopFired(gen, seq) })

	actx, cancel := context.WithCancel(s.ctx)
	s.activeCancel = cancel
	s.wg.Add(1)
	go s.cue(actx, gen)
}

// autoStopFired completes the session once the cumulative active time has
// reached the duration, re-arming for the rest otherwise.
func (s *Session) autoStopFired(gen, seq uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen || seq != s.stopSeq || s.state != Active {
		return
	}
	if rem := s.cfg.Duration - s.clock.Elapsed(); rem > 0 {
		s.autoStop = time.AfterFunc(rem, func() { s.autoStopFired(gen, seq) })
		return
	}
	s.completeLocked("Session complete")
}

func (s *Session) cue(ctx context.Context, gen uint64) {
	defer s.wg.Done()

	half := s.cfg.HalfCycle
	for {
		elapsed := s.clock.Elapsed()
		wait := time.Second - elapsed%time.Second
		if flip := untilFlip(elapsed, half); flip > 0 && flip < wait {
			wait = flip
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		s.mu.Lock()
		if gen != s.gen || s.state != Active {
			s.mu.Unlock()
			return
		}
		if p := PhaseAt(s.clock.Elapsed(), half); p != s.phase {
			s.phase = p
			log.Printf("capture: cue %s at %s", p, s.clock.Elapsed().Truncate(time.Millisecond))
		}
		s.publishLocked()
		s.mu.Unlock()
	}
}

// completeLocked freezes the clock, snapshots the series and starts the
// export task, which also stops the stream.
func (s *Session) completeLocked(msg string) {
	s.stopTasksLocked()
	elapsed := s.clock.Stop()
	log.Printf("capture: session completed after %s", elapsed.Truncate(time.Millisecond))
	s.setLocked(Completed, msg)

	snap := s.src.Snapshot()
	s.progress = ""
	s.setLocked(Exporting, "Processing data...")

	s.wg.Add(1)
	go s.export(s.ctx, s.gen, snap)
}

func (s *Session) export(ctx context.Context, gen uint64, snap *series.Snapshot) {
	defer s.wg.Done()

	if err := s.ctl.SetStreaming(false); err != nil {
		log.Printf("capture: stop stream: %v", err)
	}

	res := s.proc.Process(ctx, snap, s.cfg.Identity)

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen || s.state != Exporting {
		return
	}
	s.res = &res
	s.progress = ""
	s.setLocked(Finished, res.Message)
}

// abort ends a session that is still capturing.
func (s *Session) abort(gen uint64, err error) {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}
	switch s.state {
	case GetReady, Active, Paused:
	default:
		s.mu.Unlock()
		return
	}
	streaming := s.state == Active || s.awaitingStart
	s.endLocked()
	s.lastErr = err
	s.setLocked(Aborted, fmt.Sprintf("Session aborted: %v", err))
	s.mu.Unlock()

	log.Printf("capture: %v", err)
	if streaming && !errors.Is(err, ErrLinkLost) {
		if err := s.ctl.SetStreaming(false); err != nil {
			log.Printf("capture: stop stream on abort: %v", err)
		}
	}
}

// endLocked stops every task of the current session and invalidates its
// pending callbacks.
func (s *Session) endLocked() {
	s.stopTasksLocked()
	s.clock.Stop()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.gen++
}

func (s *Session) stopTasksLocked() {
	s.awaitingStart = false
	if s.ackTimer != nil {
		s.ackTimer.Stop()
		s.ackTimer = nil
	}
	if s.autoStop != nil {
		s.autoStop.Stop()
		s.autoStop = nil
	}
	if s.activeCancel != nil {
		s.activeCancel()
		s.activeCancel = nil
	}
}

func (s *Session) setLocked(to State, msg string) {
	from := s.state
	s.state = to
	s.message = msg
	metrics.SessionState.Set(float64(to))
	if from != to {
		log.Printf("capture: %s -> %s", from, to)
	}
	s.publishLocked()
}

func (s *Session) statusLocked() Update {
	elapsed := s.clock.Elapsed()
	remaining := s.cfg.Duration - elapsed
	if remaining < 0 {
		remaining = 0
	}
	u := Update{
		State:       s.state,
		Phase:       s.phase,
		ElapsedMS:   elapsed.Milliseconds(),
		RemainingMS: remaining.Milliseconds(),
		Message:     s.message,
		Progress:    s.progress,
		Result:      s.res,
		At:          time.Now(),
	}
	if s.state == GetReady {
		if left := time.Until(s.countdownEnd); left > 0 {
			u.CountdownMS = left.Milliseconds()
		}
	}
	return u
}

// publishLocked runs with s.mu held so updates go out in order. Sends never
// block: a full subscriber drops its oldest pending update.
func (s *Session) publishLocked() {
	u := s.statusLocked()

	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- u:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- u:
			default:
			}
		}
	}
}
