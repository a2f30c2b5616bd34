// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package imu

import (
	"math"
	"math/rand/v2"
	"time"
)

// MockSource generates a smoothly wandering gyro/accel stream with an
// autoregressive random walk, stepping its own clock by a fixed period.
type MockSource struct {
	period time.Duration
	rho    float64
	rng    *rand.Rand

	tUS int64
	x   [6]float64
	v   [6]float64
}

// amplitude per channel: gyro x/y/z in deg/s, then accel x/y/z.
var mockAmplitude = [6]float64{11.3, 5.1, 17.1, 53.1, 15.3, 69.8}

// NewMockSource creates a mock source sampling at hz. A zero seed picks a
// time-based one.
func NewMockSource(hz float64, seed uint64) *MockSource {
	if hz <= 0 {
		hz = 100
	}
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return &MockSource{
		period: time.Duration(float64(time.Second) / hz),
		rho:    0.92,
		rng:    rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		x:      [6]float64{17, 14, 19, -42, -5, 99},
		v:      mockAmplitude,
	}
}

// Period returns the sampling period.
func (m *MockSource) Period() time.Duration { return m.period }

// Next returns the next sample. It never fails.
func (m *MockSource) Next() (Sample, error) {
	const dt = 0.01
	for i := range m.x {
		sigma := mockAmplitude[i] * math.Sqrt(1-m.rho*m.rho)
		m.v[i] = m.rho*m.v[i] + m.rng.NormFloat64()*sigma
		m.x[i] += m.v[i] * dt
	}

	s := Sample{
		SensorTimeUS: m.tUS,
		Gyro: Vec3{
			m.x[0] * math.Pi / 180,
			m.x[1] * math.Pi / 180,
			m.x[2] * math.Pi / 180,
		},
		Accel: &Vec3{m.x[3], m.x[4], m.x[5]},
	}
	m.tUS += m.period.Microseconds()
	return s, nil
}
