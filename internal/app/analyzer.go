// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/relabs-tech/glove_capture/internal/analysis"
	"github.com/relabs-tech/glove_capture/internal/config"
	"github.com/relabs-tech/glove_capture/internal/metrics"
	"github.com/relabs-tech/glove_capture/internal/notify"
	"github.com/relabs-tech/glove_capture/internal/result"
	"github.com/relabs-tech/glove_capture/internal/store"
)

// AnalysisStore is what the analysis job reads from and reports to.
type AnalysisStore interface {
	LoadRecord(ctx context.Context, key string) (*result.Record, error)
	SetStatus(ctx context.Context, key string, rec result.StatusRecord) error
}

// Analyzer scores uploaded sessions and records the outcome as the
// session's status.
type Analyzer struct {
	Store   AnalysisStore
	Timeout time.Duration // per job, zero means none
}

// Handle runs one job: processing, then completed or error.
func (a *Analyzer) Handle(ctx context.Context, key string) error {
	if a.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.Timeout)
		defer cancel()
	}

	if err := a.Store.SetStatus(ctx, key, result.StatusRecord{
		Status: result.StatusProcessing,
		Result: "AI algorithm processing...",
	}); err != nil {
		return err
	}

	rep, err := a.analyze(ctx, key)
	if err != nil {
		metrics.AnalysisJobs.WithLabelValues(string(result.StatusError)).Inc()
		log.Printf("analyzer: %s failed: %v", key, err)
		if serr := a.Store.SetStatus(ctx, key, result.StatusRecord{
			Status: result.StatusError,
			Result: fmt.Sprintf("Error processing data: %v", err),
		}); serr != nil {
			return serr
		}
		return err
	}

	metrics.AnalysisJobs.WithLabelValues(string(result.StatusCompleted)).Inc()
	log.Printf("analyzer: %s scored over %d samples", key, rep.Samples)
	return a.Store.SetStatus(ctx, key, result.StatusRecord{
		Status:       result.StatusCompleted,
		Result:       rep.Summary(),
		HealthScores: rep.Scores(),
	})
}

func (a *Analyzer) analyze(ctx context.Context, key string) (*analysis.Report, error) {
	rec, err := a.Store.LoadRecord(ctx, key)
	if err != nil {
		return nil, err
	}
	return analysis.Analyze(rec)
}

// analyzerQueue bounds the uploads waiting for the worker.
const analyzerQueue = 64

// RunAnalyzer consumes upload notifications and runs one job per session.
func RunAnalyzer() error {
	cfg := config.Get()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.NewRedis(cfg.RedisAddr, time.Duration(cfg.RedisBlobTTLHours)*time.Hour)
	if err != nil {
		return err
	}
	defer st.Close()

	client, err := notify.Connect(cfg.MQTTBroker, cfg.MQTTClientIDAnalyzer)
	if err != nil {
		return err
	}
	defer client.Disconnect(250)

	a := &Analyzer{Store: st, Timeout: time.Minute}
	jobs := make(chan string, analyzerQueue)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case key := <-jobs:
				if err := a.Handle(ctx, key); err != nil {
					log.Printf("analyzer: job %s: %v", key, err)
				}
			}
		}
	}()

	err = notify.Subscribe(client, cfg.TopicSessionUploaded, 1, func(_ string, payload []byte) {
		var up notify.Uploaded
		if err := json.Unmarshal(payload, &up); err != nil || up.Key == "" {
			log.Printf("analyzer: bad upload notification: %q", payload)
			return
		}
		select {
		case jobs <- up.Key:
			log.Printf("analyzer: queued %s", up.Key)
		default:
			log.Printf("analyzer: queue full, dropped %s", up.Key)
		}
	})
	if err != nil {
		return err
	}

	log.Println("analyzer: waiting for uploads")
	<-ctx.Done()
	log.Println("analyzer: shutting down")
	wg.Wait()
	return nil
}
