// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/relabs-tech/glove_capture/internal/buffer"
	"github.com/relabs-tech/glove_capture/internal/capture"
	"github.com/relabs-tech/glove_capture/internal/config"
	"github.com/relabs-tech/glove_capture/internal/decoder"
	"github.com/relabs-tech/glove_capture/internal/link"
	"github.com/relabs-tech/glove_capture/internal/notify"
	"github.com/relabs-tech/glove_capture/internal/result"
	"github.com/relabs-tech/glove_capture/internal/series"
	"github.com/relabs-tech/glove_capture/internal/store"
	"github.com/relabs-tech/glove_capture/internal/transport"
)

// RunCapture wires the station: glove link, series store, capture session,
// result pipeline, MQTT status publishing and the HTTP/WebSocket surface.
func RunCapture() error {
	cfg := config.Get()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.NewRedis(cfg.RedisAddr, time.Duration(cfg.RedisBlobTTLHours)*time.Hour)
	if err != nil {
		return err
	}
	defer st.Close()
	log.Printf("capture: connected to Redis at %s", cfg.RedisAddr)

	client, err := notify.Connect(cfg.MQTTBroker, cfg.MQTTClientIDCapture)
	if err != nil {
		return err
	}
	defer client.Disconnect(250)
	pub := notify.NewPublisher(client)

	tr, err := newTransport(cfg)
	if err != nil {
		return err
	}
	buf := buffer.New(cfg.SampleBufferSize)
	lnk := link.NewSession(tr, linkConfig(cfg), decoder.New(), buf)

	filtered := series.NewStore(cfg.MovingAverageWindow, cfg.SeriesMaxPoints)

	pipeline := &result.Pipeline{
		Sink:     &notify.NotifyingSink{Sink: st, Publisher: pub, Topic: cfg.TopicSessionUploaded},
		Status:   st,
		Registry: st,
		Interval: config.Millis(cfg.PollInterval),
		Attempts: cfg.PollAttempts,
	}
	if cfg.ExportDir != "" {
		pipeline.Archive = &store.FileSink{Dir: cfg.ExportDir}
	}

	sess := capture.NewSession(sessionConfig(cfg), lnk, filtered, pipeline)
	pipeline.Progress = sess.ReportProgress
	lnk.OnChange(sess.HandleLink)

	go func() {
		if err := lnk.Run(ctx); err != nil && err != context.Canceled {
			log.Printf("capture: link loop ended: %v", err)
		}
	}()

	drainer := &series.Drainer{
		Source:       buf,
		Store:        filtered,
		Gate:         lnk.Streaming,
		Interval:     config.Millis(cfg.DrainInterval),
		IdleInterval: config.Millis(cfg.DrainIdleInterval),
	}
	go drainer.Run(ctx)

	updates, stopUpdates := sess.Subscribe(32)
	defer stopUpdates()
	go publishSession(ctx, updates, pub, cfg.TopicSessionStatus, cfg.TopicSessionResult)

	if cfg.CueGPIOPin != "" {
		cue, err := NewCue(cfg.CueGPIOPin)
		if err != nil {
			log.Printf("capture: cue output disabled: %v", err)
		} else {
			cueUpdates, stopCue := sess.Subscribe(8)
			defer stopCue()
			go cue.Run(ctx, cueUpdates)
		}
	}

	if err := lnk.Connect(); err != nil {
		log.Printf("capture: initial connect failed: %v", err)
	}

	srv := NewServer(lnk, sess, filtered, st, cfg.WebStaticDir)
	err = srv.Run(ctx, fmt.Sprintf(":%d", cfg.WebServerPort))

	log.Println("capture: shutting down")
	sess.Cancel()
	sess.Wait()
	if derr := lnk.Disconnect(); derr != nil {
		log.Printf("capture: disconnect: %v", derr)
	}
	return err
}

func newTransport(cfg *config.Config) (link.Transport, error) {
	switch cfg.Transport {
	case "mock":
		m := transport.NewMock()
		m.Rate = cfg.MockRate
		return m, nil
	case "serial":
		return transport.NewSerial(cfg.SerialPort, uint(cfg.SerialBaudRate)), nil
	default:
		return nil, fmt.Errorf("unknown transport %q", cfg.Transport)
	}
}

func linkConfig(cfg *config.Config) link.Config {
	lc := link.DefaultConfig()
	lc.DeviceID = cfg.DeviceID
	lc.RefreshDelay = config.Millis(cfg.LinkRefreshDelay)
	lc.DiscoveryDelay = config.Millis(cfg.LinkDiscoveryDelay)
	lc.DescriptorDelay = config.Millis(cfg.LinkDescriptorDelay)
	lc.RetryDelay = config.Millis(cfg.LinkRetryDelay)
	return lc
}

func sessionConfig(cfg *config.Config) capture.Config {
	return capture.Config{
		Countdown:       config.Millis(cfg.Countdown),
		Duration:        config.Millis(cfg.SessionDuration),
		HalfCycle:       config.Millis(cfg.ActuationHalfCycle),
		StartAckTimeout: config.Millis(cfg.StartAckTimeout),
		Identity: result.Identity{
			SubjectID:   cfg.SubjectID,
			Contact:     cfg.SubjectContact,
			DisplayName: cfg.SubjectName,
			Role:        result.Role(cfg.SubjectRole),
		},
	}
}

// statusPublisher is what publishSession needs from notify.Publisher.
type statusPublisher interface {
	Publish(topic string, retained bool, v interface{}) error
}

// publishSession mirrors session updates on the retained status topic and
// sends every finished result once on the result topic.
func publishSession(ctx context.Context, updates <-chan capture.Update, pub statusPublisher, statusTopic, resultTopic string) {
	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-updates:
			if !ok {
				return
			}
			if err := pub.Publish(statusTopic, true, u); err != nil {
				log.Printf("capture: publish status: %v", err)
			}
			if u.State == capture.Finished && u.Result != nil {
				if err := pub.Publish(resultTopic, false, u.Result); err != nil {
					log.Printf("capture: publish result: %v", err)
				}
			}
		}
	}
}
