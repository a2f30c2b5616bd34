// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/live_stabilizer/internal/config"
	"github.com/relabs-tech/live_stabilizer/internal/imu"
	"github.com/relabs-tech/live_stabilizer/internal/pipeline"
)

// PrintFrameMessage decodes one orientation topic payload and prints it.
func PrintFrameMessage(out io.Writer, payload []byte) error {
	var res pipeline.FrameResult
	if err := json.Unmarshal(payload, &res); err != nil {
		return err
	}
	_, err := fmt.Fprintln(out, FormatFrame(res))
	return err
}

// PrintSampleMessage decodes one sample topic payload and prints it.
func PrintSampleMessage(out io.Writer, payload []byte) error {
	var s imu.Sample
	if err := json.Unmarshal(payload, &s); err != nil {
		return err
	}
	line := fmt.Sprintf("[IMU] t=%12dus  gx=%8.4f gy=%8.4f gz=%8.4f", s.SensorTimeUS, s.Gyro[0], s.Gyro[1], s.Gyro[2])
	if s.Accel != nil {
		line += fmt.Sprintf("  ax=%8.3f ay=%8.3f az=%8.3f", s.Accel[0], s.Accel[1], s.Accel[2])
	}
	_, err := fmt.Fprintln(out, line)
	return err
}

// RunConsoleMQTT prints every orientation message, and with samples set
// every raw sample message, until ctx is cancelled.
func RunConsoleMQTT(ctx context.Context, cfg *config.Config, out io.Writer, samples bool, log *slog.Logger) error {
	log = log.With("component", "console")

	client, err := connectMQTT(cfg.MQTTBroker, cfg.MQTTClientIDConsole, log)
	if err != nil {
		return fmt.Errorf("MQTT connect error: %w", err)
	}
	defer client.Disconnect(250)

	// callbacks run on paho goroutines
	var mu sync.Mutex
	subscribe := func(topic string, print func(io.Writer, []byte) error) error {
		token := client.Subscribe(topic, 0, func(_ mqtt.Client, msg mqtt.Message) {
			mu.Lock()
			defer mu.Unlock()
			if err := print(out, msg.Payload()); err != nil {
				log.Warn("unmarshal error", "topic", topic, "err", err)
			}
		})
		token.Wait()
		if token.Error() != nil {
			return token.Error()
		}
		log.Info("subscribed", "topic", topic)
		return nil
	}

	if err := subscribe(cfg.TopicOrientation, PrintFrameMessage); err != nil {
		return err
	}
	if samples {
		if err := subscribe(cfg.TopicIMUSamples, PrintSampleMessage); err != nil {
			return err
		}
	}

	<-ctx.Done()
	log.Info("shutting down")
	return nil
}
