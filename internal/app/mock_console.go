// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/relabs-tech/live_stabilizer/internal/config"
	"github.com/relabs-tech/live_stabilizer/internal/imu"
	"github.com/relabs-tech/live_stabilizer/internal/pipeline"
)

// mockSampleHz is the rate of the simulated IMU in the mock console.
const mockSampleHz = 200

// FormatFrame renders one frame result as a console line.
func FormatFrame(res pipeline.FrameResult) string {
	held := ""
	if res.Held {
		held = " (held)"
	}
	return fmt.Sprintf("[FRAME %5d] t=%10.3fms  ROLL=%7.2f  PITCH=%7.2f  YAW=%7.2f%s",
		res.Index, res.TimeMS, res.Pose.Roll, res.Pose.Pitch, res.Pose.Yaw, held)
}

// RunMockConsole runs a whole session in-process on simulated time: a mock
// IMU feeds the runner, integration runs every INTEGRATE_INTERVAL_MS of
// video time, and one frame per VIDEO_FPS period is rendered to out.
// Nothing sleeps, so seconds of capture replay instantly.
func RunMockConsole(cfg *config.Config, log *slog.Logger, out io.Writer, seconds float64, seed uint64) error {
	session, err := NewSession(cfg, log)
	if err != nil {
		return err
	}
	runner, err := NewRunner(cfg, session, nil, log)
	if err != nil {
		return err
	}
	session.Enable(cfg.RetentionSeconds)

	var (
		src        = imu.NewMockSource(mockSampleHz, seed)
		endUS      = int64(seconds * 1e6)
		integUS    = msToUS(cfg.IntegrateIntervalMS)
		frameUS    = int64(1e6 / cfg.VideoFPS)
		delayMS    = float64(cfg.LiveWindowMS) / 2
		nextInteg  int64
		nextFrame  int64
		index      int64
		rendered   int
		skipped    int
		lastSample int64
	)

	for {
		s, err := src.Next()
		if err != nil {
			return err
		}
		if s.SensorTimeUS > endUS {
			break
		}
		lastSample = s.SensorTimeUS
		runner.Ingest(s)

		now, _ := runner.NowVideoUS()
		if now >= nextInteg {
			runner.Tick()
			nextInteg = now + integUS
		}
		if now < nextFrame {
			continue
		}
		nextFrame = now + frameUS

		tMS := float64(now)/1000 - delayMS
		if tMS < 0 {
			continue
		}
		res, ok := runner.Render(pipeline.Frame{Index: index, TimeMS: tMS})
		index++
		if !ok {
			skipped++
			continue
		}
		rendered++
		fmt.Fprintln(out, FormatFrame(res))
	}

	st := session.Status()
	fmt.Fprintf(out, "done: %d frames rendered, %d skipped, last sample %dus, %d raw windows, %d smoothed windows\n",
		rendered, skipped, lastSample, st.Raw.Windows, st.Smoothed.Windows)
	return nil
}
