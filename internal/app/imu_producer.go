// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/relabs-tech/live_stabilizer/internal/config"
	"github.com/relabs-tech/live_stabilizer/internal/imu"
)

// RunIMUProducer publishes mock samples as JSON on TOPIC_IMU_SAMPLES at hz
// until ctx is cancelled.
func RunIMUProducer(ctx context.Context, cfg *config.Config, hz float64, log *slog.Logger) error {
	log = log.With("component", "imu_producer")

	client, err := connectMQTT(cfg.MQTTBroker, cfg.MQTTClientIDProducer, log)
	if err != nil {
		return fmt.Errorf("MQTT connect error: %w", err)
	}
	defer client.Disconnect(250)

	src := imu.NewMockSource(hz, 0)
	ticker := time.NewTicker(src.Period())
	defer ticker.Stop()
	log.Info("starting publish loop", "topic", cfg.TopicIMUSamples, "hz", hz)

	var published int
	for {
		select {
		case <-ctx.Done():
			log.Info("stopped", "published", published)
			return nil
		case <-ticker.C:
		}

		s, err := src.Next()
		if err != nil {
			return err
		}
		payload, err := json.Marshal(s)
		if err != nil {
			log.Warn("json marshal error", "err", err)
			continue
		}
		if token := client.Publish(cfg.TopicIMUSamples, 0, false, payload); token.Wait() && token.Error() != nil {
			log.Warn("MQTT publish error", "err", token.Error())
			continue
		}
		published++
		if published%int(max(hz, 1)) == 0 {
			log.Debug("tick", "published", published, "t_us", s.SensorTimeUS)
		}
	}
}
