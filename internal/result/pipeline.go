// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package result

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/relabs-tech/glove_capture/internal/metrics"
	"github.com/relabs-tech/glove_capture/internal/series"
)

const (
	DefaultPollInterval = 5 * time.Second
	DefaultPollAttempts = 60
)

var (
	ErrNoData  = errors.New("no data to export")
	ErrUpload  = errors.New("upload failed")
	ErrTimeout = errors.New("processing timeout")
	ErrRemote  = errors.New("remote processing failed")
)

// Status of a remote analysis job.
type Status string

const (
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
)

// StatusRecord is what the analysis job writes under a session key.
type StatusRecord struct {
	Status       Status             `json:"status"`
	Result       string             `json:"result"`
	HealthScores map[string]float64 `json:"health_scores,omitempty"`
	Plots        []string           `json:"plots,omitempty"`
}

type Role string

const (
	RolePatient Role = "patient"
	RoleDoctor  Role = "doctor"
)

// Identity is the operator or subject a session belongs to.
type Identity struct {
	SubjectID   string `json:"subject_id"`
	Contact     string `json:"contact"`
	DisplayName string `json:"display_name"`
	Role        Role   `json:"role"`
}

// BlobStore keeps exported records and returns where they went.
type BlobStore interface {
	Put(ctx context.Context, key string, rec *Record) (string, error)
}

// StatusStore reads analysis job status. A missing record is (nil, nil).
type StatusStore interface {
	Get(ctx context.Context, key string) (*StatusRecord, error)
}

// IdentityRegistry links a session key to the subject it was recorded for.
type IdentityRegistry interface {
	SetCrossReference(ctx context.Context, key string, id Identity) error
}

type Outcome string

const (
	OutcomeCompleted    Outcome = "completed"
	OutcomeRemoteError  Outcome = "remote_error"
	OutcomeTimeout      Outcome = "timeout"
	OutcomeNoData       Outcome = "no_data"
	OutcomeUploadFailed Outcome = "upload_failed"
	OutcomeCancelled    Outcome = "cancelled"
)

// Result is the terminal state of one pipeline run. Message is always set.
type Result struct {
	Outcome      Outcome            `json:"outcome"`
	Key          string             `json:"key,omitempty"`
	Locator      string             `json:"locator,omitempty"`
	Message      string             `json:"message"`
	HealthScores map[string]float64 `json:"health_scores,omitempty"`
	Plots        []string           `json:"plots,omitempty"`
	Attempts     int                `json:"attempts"`
	Err          error              `json:"-"`
}

func (r Result) OK() bool {
	return r.Outcome == OutcomeCompleted
}

// Pipeline runs export, upload, registration and polling for one session.
type Pipeline struct {
	Sink     BlobStore
	Archive  BlobStore        // optional local copy, best-effort
	Status   StatusStore
	Registry IdentityRegistry // optional

	Interval time.Duration
	Attempts int

	// Progress receives human-readable progress text. Optional.
	Progress func(string)
	// NewKey defaults to NewSessionKey.
	NewKey func(time.Time) string
}

// NewSessionKey returns session_<yyyymmdd_hhmmss>_<random> in UTC.
func NewSessionKey(t time.Time) string {
	return fmt.Sprintf("session_%s_%s", t.UTC().Format("20060102_150405"), uuid.NewString()[:8])
}

// Process always returns a terminal Result.
func (p *Pipeline) Process(ctx context.Context, snap *series.Snapshot, id Identity) Result {
	res := p.process(ctx, snap, id)
	metrics.Results.WithLabelValues(string(res.Outcome)).Inc()
	if res.Err != nil {
		log.Printf("result: session %q %s: %v", res.Key, res.Outcome, res.Err)
	} else {
		log.Printf("result: session %q %s after %d polls", res.Key, res.Outcome, res.Attempts)
	}
	return res
}

func (p *Pipeline) process(ctx context.Context, snap *series.Snapshot, id Identity) Result {
	rec, err := Export(snap)
	if err != nil {
		return Result{Outcome: OutcomeNoData, Message: "No data to export", Err: err}
	}

	newKey := p.NewKey
	if newKey == nil {
		newKey = NewSessionKey
	}
	key := newKey(time.Now())

	if p.Archive != nil {
		if loc, err := p.Archive.Put(ctx, key, rec); err != nil {
			log.Printf("result: local archive of %q failed: %v", key, err)
		} else {
			log.Printf("result: archived %d rows to %s", rec.Len(), loc)
		}
	}

	p.progress("Uploading session data...")
	loc, err := p.Sink.Put(ctx, key, rec)
	if err != nil {
		return Result{
			Outcome: OutcomeUploadFailed,
			Key:     key,
			Message: fmt.Sprintf("Upload failed: %v", err),
			Err:     fmt.Errorf("%w: %v", ErrUpload, err),
		}
	}
	log.Printf("result: uploaded %d rows as %s", rec.Len(), loc)

	if id.Role == RolePatient && p.Registry != nil {
		if err := p.Registry.SetCrossReference(ctx, key, id); err != nil {
			log.Printf("result: identity cross reference for %q failed: %v", key, err)
		}
	}

	res := p.poll(ctx, key)
	res.Key = key
	res.Locator = loc
	return res
}

func (p *Pipeline) poll(ctx context.Context, key string) Result {
	interval := p.Interval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	attempts := p.Attempts
	if attempts <= 0 {
		attempts = DefaultPollAttempts
	}

	p.progress("Waiting for analysis...")
	timer := time.NewTimer(interval)
	defer timer.Stop()

	for attempt := 1; attempt <= attempts; attempt++ {
		select {
		case <-ctx.Done():
			return Result{
				Outcome:  OutcomeCancelled,
				Message:  "Processing cancelled",
				Attempts: attempt - 1,
				Err:      ctx.Err(),
			}
		case <-timer.C:
		}

		metrics.PollAttempts.Inc()
		rec, err := p.Status.Get(ctx, key)
		switch {
		case err != nil:
			log.Printf("result: status read %d/%d for %q: %v", attempt, attempts, key, err)
		case rec == nil:
		case rec.Status == StatusCompleted:
			msg := rec.Result
			if msg == "" {
				msg = "No result available"
			}
			return Result{
				Outcome:      OutcomeCompleted,
				Message:      msg,
				HealthScores: rec.HealthScores,
				Plots:        rec.Plots,
				Attempts:     attempt,
			}
		case rec.Status == StatusError:
			msg := rec.Result
			if msg == "" {
				msg = "Processing failed"
			}
			return Result{
				Outcome:  OutcomeRemoteError,
				Message:  msg,
				Attempts: attempt,
				Err:      fmt.Errorf("%w: %s", ErrRemote, msg),
			}
		case rec.Status == StatusProcessing:
			p.progress(fmt.Sprintf("AI algorithm processing... %ds elapsed", int((time.Duration(attempt) * interval).Seconds())))
		}

		timer.Reset(interval)
	}

	return Result{
		Outcome:  OutcomeTimeout,
		Message:  "Processing timeout - please try again later",
		Attempts: attempts,
		Err:      ErrTimeout,
	}
}

func (p *Pipeline) progress(msg string) {
	if p.Progress != nil {
		p.Progress(msg)
	}
}
