// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package clocksync maps sensor-clock timestamps onto the video clock.
//
// Sensor and video captures run on independent clocks with a roughly constant
// drift over a session, so a single affine fit
//
//	video_us = round(Scale*sensor_us + Offset)
//
// is enough for session-length windows. The map is re-estimated out of band
// (see Fit) when a resync is requested.
package clocksync

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"
)

var (
	// ErrTooFewPairs is returned by Fit when fewer than two pairs are given.
	ErrTooFewPairs = errors.New("clocksync: need at least two timestamp pairs")
	// ErrDegenerateFit is returned by Fit when all sensor timestamps are equal
	// or the resulting parameters are not finite.
	ErrDegenerateFit = errors.New("clocksync: degenerate fit")
)

// Map is an affine sensor→video clock transform. All values are microseconds.
type Map struct {
	Scale  float64 `json:"scale"`
	Offset float64 `json:"offset"`
}

// Identity returns the map that leaves timestamps unchanged.
func Identity() Map {
	return Map{Scale: 1}
}

// ToVideoUS converts a sensor timestamp to video-clock microseconds.
// Results outside the int64 range clamp to its bounds; a NaN result maps to 0.
func (m Map) ToVideoUS(sensorUS int64) int64 {
	v := math.Round(m.Scale*float64(sensorUS) + m.Offset)
	switch {
	case math.IsNaN(v):
		return 0
	case v >= math.MaxInt64:
		return math.MaxInt64
	case v <= math.MinInt64:
		return math.MinInt64
	}
	return int64(v)
}

// String implements fmt.Stringer.
func (m Map) String() string {
	return fmt.Sprintf("video = %.9f*sensor %+.1fus", m.Scale, m.Offset)
}

// Pair is one simultaneous observation of both clocks.
type Pair struct {
	SensorUS int64 `json:"sensor_us"`
	VideoUS  int64 `json:"video_us"`
}

// Fit estimates a Map from observed pairs by ordinary least squares.
//
// Both clocks are re-based on the first pair before regressing so that large
// absolute clock values do not eat the float64 mantissa.
func Fit(pairs []Pair) (Map, error) {
	if len(pairs) < 2 {
		return Map{}, ErrTooFewPairs
	}

	base, vbase := pairs[0].SensorUS, pairs[0].VideoUS
	xs := make([]float64, len(pairs))
	ys := make([]float64, len(pairs))
	for i, p := range pairs {
		xs[i] = float64(p.SensorUS - base)
		ys[i] = float64(p.VideoUS - vbase)
	}
	if stat.Variance(xs, nil) == 0 {
		return Map{}, ErrDegenerateFit
	}

	// y - vbase = alpha + beta*(x - base)  =>  offset = alpha + vbase - beta*base
	alpha, beta := stat.LinearRegression(xs, ys, nil, false)
	m := Map{Scale: beta, Offset: alpha + float64(vbase) - beta*float64(base)}
	if math.IsNaN(m.Scale) || math.IsInf(m.Scale, 0) || math.IsNaN(m.Offset) || math.IsInf(m.Offset, 0) {
		return Map{}, ErrDegenerateFit
	}
	return m, nil
}
