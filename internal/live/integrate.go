// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package live

import (
	"math"

	"gonum.org/v1/gonum/num/quat"

	"github.com/relabs-tech/live_stabilizer/internal/imu"
	"github.com/relabs-tech/live_stabilizer/internal/orientation"
)

// IntegrateLiveData turns ring entries that arrived since the previous call
// into orientation and publishes one raw and one smoothed window covering
// the last live-window span of the track. It returns false when the session
// is disabled or nothing new was integrated.
//
// Callers drive it from a fixed-interval ticker; concurrent calls serialize.
func (s *Session) IntegrateLiveData() bool {
	if !s.enabled.Load() {
		return false
	}

	s.integMu.Lock()
	defer s.integMu.Unlock()

	from := int64(math.MinInt64)
	if s.haveLast {
		from = s.lastUS + 1
	}
	bias := s.GyroBias()

	added := 0
	for e := range s.ring.Window(from, math.MaxInt64) {
		if s.step(e, bias) {
			added++
		}
	}
	if added == 0 {
		return false
	}

	retention := s.ring.Retention()
	s.trimTrack(s.lastUS - retention)
	s.publish(s.lastUS-s.liveWindowUS, s.lastUS)

	cutoff := s.lastUS - retention
	s.raw.RetireBefore(cutoff)
	s.smoothed.RetireBefore(cutoff)
	return true
}

// step advances the track by one entry. Entries that do not move time
// forward or carry a non-finite gyro are skipped. A gap longer than the live
// window restarts the track from the accelerometer tilt.
func (s *Session) step(e imu.Entry, bias imu.Vec3) bool {
	if s.haveLast && e.TimeUS <= s.lastUS {
		return false
	}
	if !e.Gyro.IsFinite() {
		return false
	}

	if !s.haveLast || e.TimeUS-s.lastUS > s.liveWindowUS {
		s.q = seed(e)
		s.track = s.track[:0]
	} else {
		dt := float64(e.TimeUS-s.lastUS) / 1e6
		s.q = orientation.IntegrateGyro(s.q, e.Gyro.Sub(bias), dt)
	}

	s.track = append(s.track, orientation.TimedQuat{TimeUS: e.TimeUS, Q: s.q})
	s.lastUS = e.TimeUS
	s.haveLast = true
	return true
}

func seed(e imu.Entry) quat.Number {
	if e.Accel != nil {
		if q, ok := orientation.FromAccel(*e.Accel); ok {
			return q
		}
	}
	return orientation.Identity
}

func (s *Session) trimTrack(cutoffUS int64) {
	i := 0
	for i < len(s.track) && s.track[i].TimeUS < cutoffUS {
		i++
	}
	if i == 0 {
		return
	}
	n := copy(s.track, s.track[i:])
	s.track = s.track[:n]
}

func (s *Session) publish(startUS, endUS int64) {
	lo := 0
	for lo < len(s.track) && s.track[lo].TimeUS < startUS {
		lo++
	}
	span := s.track[lo:]

	if w, ok := orientation.FromSamples(span, startUS, endUS); ok {
		s.raw.Publish(w)
	}
	if w, ok := orientation.FromSamples(orientation.Smooth(span, s.smoothingUS), startUS, endUS); ok {
		s.smoothed.Publish(w)
	}
}
