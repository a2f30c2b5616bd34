// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package live owns the state of one live stabilization session: the sample
// ring, the sensor→video clock map and the raw and smoothed window stores.
package live

import (
	"log/slog"
	"math"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/num/quat"

	"github.com/relabs-tech/live_stabilizer/internal/clocksync"
	"github.com/relabs-tech/live_stabilizer/internal/imu"
	"github.com/relabs-tech/live_stabilizer/internal/orientation"
)

// Stream selects one of the two orientation streams of a session.
type Stream int

const (
	// Raw is the integrated, unsmoothed orientation.
	Raw Stream = iota
	// Smoothed is the stabilized orientation.
	Smoothed
)

func (s Stream) String() string {
	if s == Smoothed {
		return "smoothed"
	}
	return "raw"
}

// Options configures a new Session. Zero values fall back to the defaults
// below; a negative SmoothingUS turns smoothing off.
type Options struct {
	RetentionUS  int64
	LiveWindowUS int64
	SmoothingUS  int64
	Clock        clocksync.Map
	GyroBias     imu.Vec3
	Logger       *slog.Logger
}

const (
	defaultRetentionUS  = 3_000_000
	defaultLiveWindowUS = 1_000_000
	defaultSmoothingUS  = 200_000
)

// Session aggregates the mutable state of a live capture. A session starts
// disabled; ingestion is accepted only between Enable and Disable, while
// queries work at any time against whatever windows exist.
type Session struct {
	id  uuid.UUID
	log *slog.Logger

	headerMu sync.RWMutex
	header   string

	ring     *imu.Ring
	clock    atomic.Pointer[clocksync.Map]
	bias     atomic.Pointer[imu.Vec3]
	raw      *orientation.Store
	smoothed *orientation.Store
	enabled  atomic.Bool

	liveWindowUS int64
	smoothingUS  int64

	// integration state, owned by IntegrateLiveData
	integMu  sync.Mutex
	track    []orientation.TimedQuat
	q        quat.Number
	lastUS   int64
	haveLast bool
}

// NewSession creates a disabled session.
func NewSession(opts Options) *Session {
	if opts.RetentionUS <= 0 {
		opts.RetentionUS = defaultRetentionUS
	}
	if opts.LiveWindowUS <= 0 {
		opts.LiveWindowUS = defaultLiveWindowUS
	}
	if opts.SmoothingUS == 0 {
		opts.SmoothingUS = defaultSmoothingUS
	}
	if opts.Clock.Scale == 0 {
		opts.Clock = clocksync.Identity()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	s := &Session{
		id:           uuid.New(),
		ring:         imu.NewRing(opts.RetentionUS),
		raw:          orientation.NewStore(),
		smoothed:     orientation.NewStore(),
		liveWindowUS: opts.LiveWindowUS,
		smoothingUS:  opts.SmoothingUS,
		q:            orientation.Identity,
	}
	s.log = opts.Logger.With("component", "session", "session_id", s.id.String())
	cm := opts.Clock
	s.clock.Store(&cm)
	b := opts.GyroBias
	s.bias.Store(&b)
	return s
}

// ID returns the session identifier.
func (s *Session) ID() uuid.UUID { return s.id }

// Header returns the capture header text received from the sensor feed.
func (s *Session) Header() string {
	s.headerMu.RLock()
	defer s.headerMu.RUnlock()
	return s.header
}

// SetHeader stores the capture header text.
func (s *Session) SetHeader(h string) {
	s.headerMu.Lock()
	s.header = h
	s.headerMu.Unlock()
}

// RetentionUS converts a retention horizon in seconds to microseconds,
// clamped to [1, math.MaxInt64]. ok is false unless seconds is positive and
// finite.
func RetentionUS(seconds float64) (us int64, ok bool) {
	if !(seconds > 0) || math.IsInf(seconds, 1) {
		return 0, false
	}
	v := math.Round(seconds * 1e6)
	if v >= math.MaxInt64 {
		return math.MaxInt64, true
	}
	return max(1, int64(v)), true
}

// Enable sets the ring retention and starts accepting samples. A retention
// that is not positive and finite keeps the current one.
func (s *Session) Enable(retentionSeconds float64) {
	if us, ok := RetentionUS(retentionSeconds); ok {
		s.ring.SetRetention(us)
	}
	s.enabled.Store(true)
	s.log.Info("enabled", "retention_us", s.ring.Retention())
}

// Disable stops ingestion. Accumulated windows stay queryable.
func (s *Session) Disable() {
	s.enabled.Store(false)
	s.log.Info("disabled")
}

// IsEnabled reports whether ingestion is accepted.
func (s *Session) IsEnabled() bool { return s.enabled.Load() }

// ClockMap returns the current sensor→video map.
func (s *Session) ClockMap() clocksync.Map { return *s.clock.Load() }

// UpdateClockMap swaps the sensor→video map. Samples already in the ring
// keep the times they were converted with.
func (s *Session) UpdateClockMap(m clocksync.Map) {
	s.clock.Store(&m)
	s.log.Info("clock map updated", "map", m.String())
}

// GyroBias returns the bias subtracted before integration.
func (s *Session) GyroBias() imu.Vec3 { return *s.bias.Load() }

// SetGyroBias replaces the gyro bias.
func (s *Session) SetGyroBias(b imu.Vec3) { s.bias.Store(&b) }

// Ring returns the sample ring.
func (s *Session) Ring() *imu.Ring { return s.ring }

// Store returns the window store for a stream.
func (s *Session) Store(st Stream) *orientation.Store {
	if st == Smoothed {
		return s.smoothed
	}
	return s.raw
}

// PushLiveSample feeds one sensor sample into the ring. It returns false,
// and does nothing, while the session is disabled.
func (s *Session) PushLiveSample(sample imu.Sample, nowVideoUS int64) bool {
	if !s.enabled.Load() {
		return false
	}
	s.ring.Push(sample, nowVideoUS, *s.clock.Load())
	return true
}

// OrientationAt answers a point-in-time query against the raw stream.
func (s *Session) OrientationAt(tMS, preMS, postMS, centerRatio float64) (quat.Number, bool) {
	return s.raw.OrientationAt(tMS, preMS, postMS, centerRatio)
}

// Query answers a point-in-time query against the chosen stream.
func (s *Session) Query(st Stream, q orientation.Query) (quat.Number, bool) {
	w, _, ok := s.Store(st).Select(q)
	if !ok {
		return quat.Number{}, false
	}
	return w.ValueAtMS(q.TargetMS)
}

// Status is a point-in-time summary of the session.
type Status struct {
	ID          string        `json:"id"`
	Enabled     bool          `json:"enabled"`
	Header      string        `json:"header,omitempty"`
	RingLen     int           `json:"ring_len"`
	RetentionUS int64         `json:"retention_us"`
	Clock       clocksync.Map `json:"clock"`
	Raw         StoreStatus   `json:"raw"`
	Smoothed    StoreStatus   `json:"smoothed"`
}

// StoreStatus summarizes one window store.
type StoreStatus struct {
	Windows int    `json:"windows"`
	Version uint64 `json:"version"`
	Pruned  uint64 `json:"pruned"`
}

func storeStatus(st *orientation.Store) StoreStatus {
	return StoreStatus{Windows: st.Len(), Version: st.Version(), Pruned: st.Pruned()}
}

// Status returns a summary of the session.
func (s *Session) Status() Status {
	return Status{
		ID:          s.id.String(),
		Enabled:     s.IsEnabled(),
		Header:      s.Header(),
		RingLen:     s.ring.Len(),
		RetentionUS: s.ring.Retention(),
		Clock:       s.ClockMap(),
		Raw:         storeStatus(s.raw),
		Smoothed:    storeStatus(s.smoothed),
	}
}
