// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package imu

import "math"

// Vec3 is a three-axis reading. Gyro values are rad/s, accel values are in the
// producer's units (only direction matters for tilt seeding).
type Vec3 [3]float64

// IsFinite reports whether all components are finite.
func (v Vec3) IsFinite() bool {
	for _, c := range v {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return false
		}
	}
	return true
}

// Sub returns v - o.
func (v Vec3) Sub(o Vec3) Vec3 {
	return Vec3{v[0] - o[0], v[1] - o[1], v[2] - o[2]}
}

// Scale returns v * k.
func (v Vec3) Scale(k float64) Vec3 {
	return Vec3{v[0] * k, v[1] * k, v[2] * k}
}

// Sample is a single orientation reading as produced by a sensor feed.
type Sample struct {
	SensorTimeUS int64 `json:"t_us"` // sensor clock
	Gyro         Vec3  `json:"gyro"`
	Accel        *Vec3 `json:"accel,omitempty"`
}

// Entry is a Sample whose timestamp has been rewritten into the video clock.
type Entry struct {
	TimeUS int64 // video clock
	Gyro   Vec3
	Accel  *Vec3
}

// Source is anything that can provide samples over time.
type Source interface {
	Next() (Sample, error)
}
