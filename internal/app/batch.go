// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"cmp"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strconv"

	"github.com/relabs-tech/live_stabilizer/internal/config"
	"github.com/relabs-tech/live_stabilizer/internal/gcsv"
	"github.com/relabs-tech/live_stabilizer/internal/live"
	"github.com/relabs-tech/live_stabilizer/internal/orientation"
)

// BatchSummary reports what RunBatch loaded and rendered.
type BatchSummary struct {
	RawWindows      int
	SmoothedWindows int
	Frames          int
	Missing         int
}

// RunBatch loads the original and stabilized quaternion streams of a
// per-frame CSV into the raw and smoothed stores of one session, then walks
// the loaded span at VIDEO_FPS and writes one CSV row per frame to out:
// t_ms, then roll/pitch/yaw in degrees for each stream. Frames a stream
// cannot answer leave its columns empty.
func RunBatch(cfg *config.Config, csvPath string, out io.Writer, log *slog.Logger) (BatchSummary, error) {
	org, err := gcsv.LoadQuaternionFile(csvPath, gcsv.Original)
	if err != nil {
		return BatchSummary{}, err
	}
	stab, err := gcsv.LoadQuaternionFile(csvPath, gcsv.Stabilized)
	if err != nil {
		return BatchSummary{}, err
	}
	return RenderBatch(cfg, org, stab, out, log)
}

// RenderBatch is RunBatch on already loaded streams.
func RenderBatch(cfg *config.Config, org, stab []orientation.TimedQuat, out io.Writer, log *slog.Logger) (BatchSummary, error) {
	session, err := NewSession(cfg, log)
	if err != nil {
		return BatchSummary{}, err
	}
	windowUS, stepUS := msToUS(cfg.BatchWindowMS), msToUS(cfg.BatchStepMS)

	// LoadBatch requires time order; files are only usually sorted
	org, stab = sortedByTime(org), sortedByTime(stab)

	var sum BatchSummary
	sum.RawWindows = session.LoadBatch(org, live.Raw, windowUS, stepUS)
	sum.SmoothedWindows = session.LoadBatch(stab, live.Smoothed, windowUS, stepUS)

	firstUS, lastUS, ok := batchSpan(org, stab)
	if !ok {
		log.Warn("batch input has no usable rows")
		return sum, nil
	}

	w := csv.NewWriter(out)
	if err := w.Write([]string{"t_ms", "roll", "pitch", "yaw", "stab_roll", "stab_pitch", "stab_yaw"}); err != nil {
		return sum, err
	}

	q := QueryDefaults(cfg)
	frameMS := 1000 / cfg.VideoFPS
	f := func(v float64) string { return strconv.FormatFloat(v, 'f', 4, 64) }
	for tMS := float64(firstUS) / 1000; tMS <= float64(lastUS)/1000; tMS += frameMS {
		q.TargetMS = tMS
		row := []string{f(tMS), "", "", "", "", "", ""}
		answered := false
		for i, st := range []live.Stream{live.Raw, live.Smoothed} {
			v, ok := session.Query(st, q)
			if !ok {
				continue
			}
			answered = true
			p := orientation.PoseFromQuat(v)
			row[1+3*i], row[2+3*i], row[3+3*i] = f(p.Roll), f(p.Pitch), f(p.Yaw)
		}
		if !answered {
			sum.Missing++
		}
		if err := w.Write(row); err != nil {
			return sum, err
		}
		sum.Frames++
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return sum, fmt.Errorf("write batch output: %w", err)
	}

	log.Info("batch rendered",
		"raw_windows", sum.RawWindows,
		"smoothed_windows", sum.SmoothedWindows,
		"frames", sum.Frames,
		"missing", sum.Missing,
	)
	return sum, nil
}

func sortedByTime(s []orientation.TimedQuat) []orientation.TimedQuat {
	if slices.IsSortedFunc(s, byTime) {
		return s
	}
	out := slices.Clone(s)
	slices.SortStableFunc(out, byTime)
	return out
}

func byTime(a, b orientation.TimedQuat) int { return cmp.Compare(a.TimeUS, b.TimeUS) }

func batchSpan(streams ...[]orientation.TimedQuat) (first, last int64, ok bool) {
	for _, s := range streams {
		for _, tq := range s {
			if !ok || tq.TimeUS < first {
				first = tq.TimeUS
			}
			if !ok || tq.TimeUS > last {
				last = tq.TimeUS
			}
			ok = true
		}
	}
	return first, last, ok
}
