// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/relabs-tech/live_stabilizer/internal/clocksync"
	"github.com/relabs-tech/live_stabilizer/internal/config"
	"github.com/relabs-tech/live_stabilizer/internal/gcsv"
	"github.com/relabs-tech/live_stabilizer/internal/imu"
	"github.com/relabs-tech/live_stabilizer/internal/live"
	"github.com/relabs-tech/live_stabilizer/internal/metrics"
	"github.com/relabs-tech/live_stabilizer/internal/orientation"
	"github.com/relabs-tech/live_stabilizer/internal/pipeline"
)

func msToUS(ms int) int64 { return int64(ms) * 1000 }

// NewSession builds a session from cfg, loading the gyro bias file when one
// is configured.
func NewSession(cfg *config.Config, log *slog.Logger) (*live.Session, error) {
	smoothing := msToUS(cfg.SmoothingTimeConstantMS)
	if cfg.SmoothingTimeConstantMS == 0 {
		smoothing = -1
	}
	retentionUS, _ := live.RetentionUS(cfg.RetentionSeconds)
	opts := live.Options{
		RetentionUS:  retentionUS,
		LiveWindowUS: msToUS(cfg.LiveWindowMS),
		SmoothingUS:  smoothing,
		Clock:        clocksync.Map{Scale: cfg.ClockScale, Offset: cfg.ClockOffsetUS},
		Logger:       log,
	}
	if cfg.GyroBiasFile != "" {
		b, err := imu.LoadBias(cfg.GyroBiasFile)
		if err != nil {
			return nil, err
		}
		opts.GyroBias = b.Gyro
		log.Info("gyro bias loaded", "file", cfg.GyroBiasFile, "bias", b.Gyro, "confidence", b.Confidence)
	}
	return live.NewSession(opts), nil
}

// NewRunner builds a runner around s from cfg.
func NewRunner(cfg *config.Config, s *live.Session, m *metrics.Metrics, log *slog.Logger) (*pipeline.Runner, error) {
	policy, err := pipeline.ParseFramePolicy(cfg.FramePolicy)
	if err != nil {
		return nil, err
	}
	stream := live.Smoothed
	if cfg.RenderStream == "raw" {
		stream = live.Raw
	}
	return pipeline.NewRunner(s, pipeline.Config{
		SampleQueue:       cfg.SampleQueueCapacity,
		FrameQueue:        cfg.FrameQueueCapacity,
		IntegrateInterval: time.Duration(cfg.IntegrateIntervalMS) * time.Millisecond,
		Stream:            stream,
		PreMS:             cfg.QueryPreMS,
		PostMS:            cfg.QueryPostMS,
		CenterRatio:       cfg.CenterRatio,
		FallbackOK:        cfg.FallbackOK,
		Policy:            policy,
		Metrics:           m,
		Logger:            log,
	}), nil
}

// QueryDefaults returns the query tuning from cfg.
func QueryDefaults(cfg *config.Config) orientation.Query {
	return orientation.Query{
		PreMS:       cfg.QueryPreMS,
		PostMS:      cfg.QueryPostMS,
		CenterRatio: cfg.CenterRatio,
		FallbackOK:  cfg.FallbackOK,
	}
}

// RunLive runs the live daemon until ctx is cancelled: one enabled session,
// the runner loops, the configured sample source, a frame clock, the web API
// and the MQTT orientation publisher.
func RunLive(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	log.Info("starting live stabilizer", "source", cfg.IngestSource, "render_stream", cfg.RenderStream)

	m := metrics.New()
	session, err := NewSession(cfg, log)
	if err != nil {
		return err
	}
	runner, err := NewRunner(cfg, session, m, log)
	if err != nil {
		return err
	}
	session.Enable(cfg.RetentionSeconds)

	onHeader := func(text string, h gcsv.Header) {
		session.SetHeader(text)
		log.Info("gcsv header received", "id", h.ID, "vendor", h.Vendor, "tscale", h.TScale, "gscale", h.GScale)
	}

	hub := NewHub(log)
	runner.AddSink(hub.Sink())

	mqttClient, err := connectMQTT(cfg.MQTTBroker, cfg.MQTTClientIDLive, log)
	if err != nil {
		if cfg.IngestSource == "mqtt" {
			return fmt.Errorf("MQTT connect error: %w", err)
		}
		log.Warn("MQTT unavailable, orientation will not be published", "err", err)
	} else {
		defer mqttClient.Disconnect(250)
		runner.AddSink(OrientationPublisher(mqttClient, cfg.TopicOrientation, log))
	}

	web := NewWeb(WebOptions{
		Runner:           runner,
		Metrics:          m,
		Hub:              hub,
		Logger:           log,
		CalibrationsPath: cfg.CalibrationsPath,
		Defaults:         QueryDefaults(cfg),
	})
	frames := &FrameClock{
		FPS:     cfg.VideoFPS,
		DelayMS: float64(cfg.LiveWindowMS) / 2,
		Log:     log,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return runner.Run(ctx) })
	g.Go(func() error { return web.ListenAndServe(ctx, fmt.Sprintf(":%d", cfg.WebServerPort)) })
	g.Go(func() error { return frames.Run(ctx, runner) })
	g.Go(func() error {
		switch cfg.IngestSource {
		case "tcp":
			ls := &LineServer{Addr: cfg.IMUListenAddr, Sink: runner, OnHeader: onHeader, Log: log}
			return ls.ListenAndServe(ctx)
		case "serial":
			src := &SerialSource{Port: cfg.IMUSerialPort, Baud: cfg.IMUSerialBaud, Sink: runner, OnHeader: onHeader, Log: log}
			return src.Run(ctx)
		case "websocket":
			src := &WebsocketSource{URL: cfg.IMUWebsocketURL, Sink: runner, OnHeader: onHeader, Log: log}
			return src.Run(ctx)
		case "mqtt":
			if err := SubscribeSamples(mqttClient, cfg.TopicIMUSamples, runner, log); err != nil {
				return err
			}
			<-ctx.Done()
			return nil
		}
		return fmt.Errorf("unknown ingest source %q", cfg.IngestSource)
	})

	err = g.Wait()
	session.Disable()
	log.Info("live stabilizer stopped")
	return err
}
