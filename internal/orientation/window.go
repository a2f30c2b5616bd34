// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package orientation

import (
	"cmp"
	"math"
	"slices"

	"gonum.org/v1/gonum/num/quat"
)

// Window is an immutable, time-indexed table of unit orientations spanning a
// contiguous time range. Keys are strictly increasing; FirstUS and LastUS are
// the smallest and largest key. A Window is never mutated after FromSamples
// returns, so it may be shared freely between goroutines.
type Window struct {
	times   []int64
	quats   []quat.Number
	firstUS int64
	lastUS  int64
}

// FromSamples builds a window from every sample whose time lies in
// [startUS, endUS]. Samples with a non-finite or zero orientation are skipped
// and the rest are normalized. When two samples share a timestamp the later
// one in input order wins. ok is false when nothing survives.
func FromSamples(samples []TimedQuat, startUS, endUS int64) (*Window, bool) {
	kept := make([]TimedQuat, 0, len(samples))
	for _, s := range samples {
		if s.TimeUS < startUS || s.TimeUS > endUS {
			continue
		}
		q, ok := Normalize(s.Q)
		if !ok {
			continue
		}
		kept = append(kept, TimedQuat{TimeUS: s.TimeUS, Q: q})
	}
	if len(kept) == 0 {
		return nil, false
	}

	slices.SortStableFunc(kept, func(a, b TimedQuat) int { return cmp.Compare(a.TimeUS, b.TimeUS) })

	w := &Window{
		times: make([]int64, 0, len(kept)),
		quats: make([]quat.Number, 0, len(kept)),
	}
	for _, s := range kept {
		if n := len(w.times); n > 0 && w.times[n-1] == s.TimeUS {
			w.quats[n-1] = s.Q
			continue
		}
		w.times = append(w.times, s.TimeUS)
		w.quats = append(w.quats, s.Q)
	}
	w.firstUS = w.times[0]
	w.lastUS = w.times[len(w.times)-1]
	return w, true
}

// Len returns the number of samples.
func (w *Window) Len() int { return len(w.times) }

// FirstUS returns the earliest sample time.
func (w *Window) FirstUS() int64 { return w.firstUS }

// LastUS returns the latest sample time.
func (w *Window) LastUS() int64 { return w.lastUS }

// DurationUS returns LastUS - FirstUS.
func (w *Window) DurationUS() int64 { return w.lastUS - w.firstUS }

// MidUS returns the temporal midpoint (integer division).
func (w *Window) MidUS() int64 { return (w.firstUS + w.lastUS) / 2 }

// SpanUS returns max(0, LastUS - FirstUS).
func (w *Window) SpanUS() int64 { return max(0, w.lastUS-w.firstUS) }

// Samples returns a copy of the table in time order.
func (w *Window) Samples() []TimedQuat {
	out := make([]TimedQuat, len(w.times))
	for i := range w.times {
		out[i] = TimedQuat{TimeUS: w.times[i], Q: w.quats[i]}
	}
	return out
}

// CoversWithPadding reports whether the window holds preUS of lead and postUS
// of lag around targetUS.
func (w *Window) CoversWithPadding(targetUS, preUS, postUS int64) bool {
	return w.firstUS <= targetUS-preUS && w.lastUS >= targetUS+postUS
}

// IsCenteredFor reports whether targetUS lies within centerRatio of the
// half-span from the midpoint. A zero-span window is never centered; negative
// ratios are treated as 0.
func (w *Window) IsCenteredFor(targetUS int64, centerRatio float64) bool {
	span := w.SpanUS()
	if span == 0 {
		return false
	}
	tol := math.Max(centerRatio, 0) * (float64(span) / 2)
	return math.Abs(float64(targetUS)-float64(w.MidUS())) <= tol
}

// ValueAt returns the orientation at tUS. The time is clamped into
// [FirstUS, LastUS]; between two samples the result is the SLERP of the
// bracketing pair weighted by elapsed time.
func (w *Window) ValueAt(tUS int64) (quat.Number, bool) {
	if w == nil || len(w.times) == 0 {
		return quat.Number{}, false
	}
	tUS = min(max(tUS, w.firstUS), w.lastUS)

	i, found := slices.BinarySearch(w.times, tUS)
	if found {
		return w.quats[i], true
	}
	// clamped and not found: 0 < i < len
	t0, t1 := w.times[i-1], w.times[i]
	q0, q1 := w.quats[i-1], w.quats[i]
	dt := float64(t1 - t0)
	if dt <= 0 {
		return q0, true
	}
	return Slerp(q0, q1, float64(tUS-t0)/dt), true
}

// ValueAtMS is ValueAt with a millisecond timestamp.
func (w *Window) ValueAtMS(tMS float64) (quat.Number, bool) {
	return w.ValueAt(msToUS(tMS))
}

func msToUS(ms float64) int64 {
	return int64(math.Round(ms * 1000))
}
