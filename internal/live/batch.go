// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package live

import (
	"github.com/relabs-tech/live_stabilizer/internal/orientation"
)

// Default sliding-window geometry for LoadBatch.
const (
	DefaultBatchWindowUS = 3_000_000
	DefaultBatchStepUS   = 1_000_000
)

// LoadBatch publishes fixed-length sliding windows over a recorded,
// time-sorted orientation series into the given stream. Windows span
// [start, start+windowUS) and advance by stepUS; they are emitted while
// start+windowUS <= last+stepUS, and at least one is emitted for non-empty
// input. It returns the number of windows published.
//
// The input must already be sorted by time. Each sample is visited a
// bounded number of times, so the whole load is O(n) in the input length.
// Non-positive geometry falls back to the defaults.
func (s *Session) LoadBatch(samples []orientation.TimedQuat, st Stream, windowUS, stepUS int64) int {
	if len(samples) == 0 {
		return 0
	}
	if windowUS <= 0 {
		windowUS = DefaultBatchWindowUS
	}
	if stepUS <= 0 {
		stepUS = DefaultBatchStepUS
	}

	store := s.Store(st)
	first, last := samples[0].TimeUS, samples[len(samples)-1].TimeUS

	published := 0
	lo, hi := 0, 0
	for start := first; start == first || start+windowUS <= last+stepUS; start += stepUS {
		end := start + windowUS
		for lo < len(samples) && samples[lo].TimeUS < start {
			lo++
		}
		hi = max(hi, lo)
		for hi < len(samples) && samples[hi].TimeUS < end {
			hi++
		}

		w, ok := orientation.FromSamples(samples[lo:hi], start, end-1)
		if !ok {
			continue
		}
		store.Publish(w)
		published++
	}

	s.log.Info("batch loaded", "stream", st.String(), "samples", len(samples), "windows", published)
	return published
}
