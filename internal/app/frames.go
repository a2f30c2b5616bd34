// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/live_stabilizer/internal/pipeline"
	"github.com/relabs-tech/live_stabilizer/internal/timeutil"
)

// FrameTarget accepts frames. *pipeline.Runner satisfies it.
type FrameTarget interface {
	PushFrame(pipeline.Frame) error
	NowVideoUS() (int64, bool)
}

// FrameClock stands in for a video decoder: at FPS it asks for the
// orientation of the frame DelayMS behind the newest sample, so the query
// lands inside published windows.
type FrameClock struct {
	FPS     float64
	DelayMS float64
	Clock   timeutil.Clock
	Log     *slog.Logger

	index int64
}

// Run ticks until ctx is cancelled.
func (f *FrameClock) Run(ctx context.Context, target FrameTarget) error {
	clk := f.Clock
	if clk == nil {
		clk = timeutil.RealClock{}
	}
	tk := clk.NewTicker(time.Duration(float64(time.Second) / f.FPS))
	defer tk.Stop()
	if f.Log != nil {
		f.Log.Info("frame clock started", "component", "frame_clock", "fps", f.FPS, "delay_ms", f.DelayMS)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tk.C():
			f.Tick(target)
		}
	}
}

// Tick pushes one frame. It returns false before any sample has arrived.
func (f *FrameClock) Tick(target FrameTarget) bool {
	now, ok := target.NowVideoUS()
	if !ok {
		return false
	}
	fr := pipeline.Frame{Index: f.index, TimeMS: float64(now)/1000 - f.DelayMS}
	if err := target.PushFrame(fr); err != nil {
		return false
	}
	f.index++
	return true
}

// OrientationPublisher returns a sink publishing each rendered frame as JSON
// on topic. Publishing does not wait for the broker so the render loop never
// blocks on the network.
func OrientationPublisher(client mqtt.Client, topic string, log *slog.Logger) pipeline.Sink {
	log = log.With("component", "mqtt_publisher", "topic", topic)
	return func(res pipeline.FrameResult) {
		payload, err := json.Marshal(res)
		if err != nil {
			log.Warn("json marshal error", "err", err)
			return
		}
		token := client.Publish(topic, 0, false, payload)
		go func() {
			if token.Wait() && token.Error() != nil {
				log.Warn("MQTT publish error", "err", token.Error())
			}
		}()
	}
}

func connectMQTT(broker, clientID string, log *slog.Logger) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	log.Info("connected to MQTT broker", "broker", broker, "client_id", clientID)
	return client, nil
}
