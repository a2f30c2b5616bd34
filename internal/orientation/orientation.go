// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package orientation holds the time-indexed orientation windows and the
// concurrent store that publishes, selects and prunes them.
//
// Orientations are unit quaternions (gonum quat.Number, Real = w). Every
// timestamp in this package is video-clock microseconds unless the name says
// otherwise.
package orientation

import (
	"math"

	"gonum.org/v1/gonum/num/quat"

	"github.com/relabs-tech/live_stabilizer/internal/imu"
)

// Pose is the Euler-angle view of an orientation, in degrees.
type Pose struct {
	Roll  float64 `json:"roll"`
	Pitch float64 `json:"pitch"`
	Yaw   float64 `json:"yaw"`
}

// TimedQuat is one orientation sample.
type TimedQuat struct {
	TimeUS int64       `json:"t_us"`
	Q      quat.Number `json:"q"`
}

// Identity is the zero rotation.
var Identity = quat.Number{Real: 1}

// ComputePoseFromAccel computes roll and pitch from accelerometer data only.
// Yaw is unobservable from gravity and is set to 0.
//
//	roll  = atan2(ay, az)
//	pitch = atan2(-ax, sqrt(ay² + az²))
func ComputePoseFromAccel(ax, ay, az float64) Pose {
	rollRad := math.Atan2(ay, az)
	pitchRad := math.Atan2(-ax, math.Sqrt(ay*ay+az*az))

	return Pose{
		Roll:  rollRad * 180.0 / math.Pi,
		Pitch: pitchRad * 180.0 / math.Pi,
		Yaw:   0,
	}
}

// FromAccel returns the tilt-only orientation implied by a gravity reading.
// ok is false for a zero or non-finite vector.
func FromAccel(a imu.Vec3) (quat.Number, bool) {
	if !a.IsFinite() || (a[0] == 0 && a[1] == 0 && a[2] == 0) {
		return quat.Number{}, false
	}
	return FromPose(ComputePoseFromAccel(a[0], a[1], a[2])), true
}

// FromPose converts Z-Y-X (yaw, pitch, roll) Euler angles in degrees to a
// unit quaternion.
func FromPose(p Pose) quat.Number {
	const d2r = math.Pi / 180
	cr, sr := math.Cos(p.Roll*d2r/2), math.Sin(p.Roll*d2r/2)
	cp, sp := math.Cos(p.Pitch*d2r/2), math.Sin(p.Pitch*d2r/2)
	cy, sy := math.Cos(p.Yaw*d2r/2), math.Sin(p.Yaw*d2r/2)

	return quat.Number{
		Real: cr*cp*cy + sr*sp*sy,
		Imag: sr*cp*cy - cr*sp*sy,
		Jmag: cr*sp*cy + sr*cp*sy,
		Kmag: cr*cp*sy - sr*sp*cy,
	}
}

// PoseFromQuat converts a unit quaternion to Z-Y-X Euler angles in degrees.
func PoseFromQuat(q quat.Number) Pose {
	const r2d = 180 / math.Pi
	w, x, y, z := q.Real, q.Imag, q.Jmag, q.Kmag

	roll := math.Atan2(2*(w*x+y*z), 1-2*(x*x+y*y))
	sinp := math.Max(-1, math.Min(1, 2*(w*y-z*x)))
	pitch := math.Asin(sinp)
	yaw := math.Atan2(2*(w*z+x*y), 1-2*(y*y+z*z))

	return Pose{Roll: roll * r2d, Pitch: pitch * r2d, Yaw: yaw * r2d}
}

// IsFinite reports whether every component of q is finite.
func IsFinite(q quat.Number) bool {
	for _, c := range [4]float64{q.Real, q.Imag, q.Jmag, q.Kmag} {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return false
		}
	}
	return true
}

// Normalize scales q to unit norm. ok is false for zero or non-finite input.
func Normalize(q quat.Number) (quat.Number, bool) {
	if !IsFinite(q) {
		return quat.Number{}, false
	}
	n := quat.Abs(q)
	if n == 0 || math.IsInf(n, 0) {
		return quat.Number{}, false
	}
	return quat.Scale(1/n, q), true
}

func dot(a, b quat.Number) float64 {
	return a.Real*b.Real + a.Imag*b.Imag + a.Jmag*b.Jmag + a.Kmag*b.Kmag
}

// Slerp interpolates along the shortest arc between unit quaternions q0 and
// q1. t = 0 yields q0 and t = 1 yields q1 (or its antipode, which is the same
// rotation).
func Slerp(q0, q1 quat.Number, t float64) quat.Number {
	d := dot(q0, q1)
	if d < 0 {
		q1 = quat.Scale(-1, q1)
		d = -d
	}

	// nearly parallel: sin(theta) underflows, fall back to normalized lerp
	if d > 0.9995 {
		q := quat.Add(quat.Scale(1-t, q0), quat.Scale(t, q1))
		if n, ok := Normalize(q); ok {
			return n
		}
		return q0
	}

	theta0 := math.Acos(d)
	theta := theta0 * t
	sin0 := math.Sin(theta0)
	s0 := math.Cos(theta) - d*math.Sin(theta)/sin0
	s1 := math.Sin(theta) / sin0
	return quat.Add(quat.Scale(s0, q0), quat.Scale(s1, q1))
}

// IntegrateGyro advances q by a body-frame angular rate w (rad/s) held for dt
// seconds: q ← q ⊗ exp(½·w·dt).
func IntegrateGyro(q quat.Number, w imu.Vec3, dt float64) quat.Number {
	half := 0.5 * dt
	dq := quat.Exp(quat.Number{Imag: w[0] * half, Jmag: w[1] * half, Kmag: w[2] * half})
	next := quat.Mul(q, dq)
	if n, ok := Normalize(next); ok {
		return n
	}
	return q
}
