// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package pipeline connects sample producers and frame consumers to a live
// session: bounded drop-oldest queues in front, an ingest loop feeding the
// ring, a fixed-interval integration loop, and a render loop answering one
// orientation query per frame.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/num/quat"

	"github.com/relabs-tech/live_stabilizer/internal/imu"
	"github.com/relabs-tech/live_stabilizer/internal/live"
	"github.com/relabs-tech/live_stabilizer/internal/metrics"
	"github.com/relabs-tech/live_stabilizer/internal/orientation"
	"github.com/relabs-tech/live_stabilizer/internal/timeutil"
)

// FramePolicy decides what the render loop does with a frame that has no
// orientation.
type FramePolicy int

const (
	// PolicyHold renders the frame with the last known orientation.
	PolicyHold FramePolicy = iota
	// PolicySkip drops the frame.
	PolicySkip
)

// ParseFramePolicy accepts "hold" or "skip".
func ParseFramePolicy(s string) (FramePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "hold", "":
		return PolicyHold, nil
	case "skip":
		return PolicySkip, nil
	}
	return PolicyHold, fmt.Errorf("unknown frame policy %q (want hold or skip)", s)
}

func (p FramePolicy) String() string {
	if p == PolicySkip {
		return "skip"
	}
	return "hold"
}

// Frame is one video frame awaiting an orientation.
type Frame struct {
	Index  int64   `json:"index"`
	TimeMS float64 `json:"t_ms"`
}

// FrameResult is the orientation chosen for a frame.
type FrameResult struct {
	Frame
	Q    quat.Number      `json:"q"`
	Pose orientation.Pose `json:"pose"`
	Held bool             `json:"held"`
}

// Sink receives rendered frames. It runs on the render goroutine.
type Sink func(FrameResult)

// Config tunes a Runner.
type Config struct {
	SampleQueue       int
	FrameQueue        int
	IntegrateInterval time.Duration
	Stream            live.Stream
	PreMS             float64
	PostMS            float64
	CenterRatio       float64
	FallbackOK        bool
	Policy            FramePolicy
	Clock             timeutil.Clock
	Metrics           *metrics.Metrics
	Logger            *slog.Logger
}

// Runner owns the goroutines around one session.
type Runner struct {
	session *live.Session
	cfg     Config
	samples *Queue[imu.Sample]
	frames  *Queue[Frame]
	log     *slog.Logger

	mu    sync.Mutex
	sinks []Sink

	stopped  atomic.Bool
	stopOnce sync.Once
	stopCh   chan struct{}

	nowMu   sync.Mutex
	nowUS   int64
	nowSeen bool

	lastQ    quat.Number
	haveLast bool
}

// NewRunner builds a runner; call Run to start it.
func NewRunner(s *live.Session, cfg Config) *Runner {
	if cfg.SampleQueue <= 0 {
		cfg.SampleQueue = 2048
	}
	if cfg.FrameQueue <= 0 {
		cfg.FrameQueue = 64
	}
	if cfg.IntegrateInterval <= 0 {
		cfg.IntegrateInterval = 10 * time.Millisecond
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Runner{
		session: s,
		cfg:     cfg,
		samples: NewQueue[imu.Sample](cfg.SampleQueue),
		frames:  NewQueue[Frame](cfg.FrameQueue),
		log:     cfg.Logger.With("component", "pipeline"),
		stopCh:  make(chan struct{}),
	}
}

// Session returns the session the runner feeds.
func (r *Runner) Session() *live.Session { return r.session }

// AddSink registers a consumer of rendered frames.
func (r *Runner) AddSink(s Sink) {
	r.mu.Lock()
	r.sinks = append(r.sinks, s)
	r.mu.Unlock()
}

// PushSample queues a sensor sample without blocking.
func (r *Runner) PushSample(s imu.Sample) error {
	evicted, err := r.samples.Push(s)
	if evicted {
		r.cfg.Metrics.AddSamplesDropped(1)
		r.log.Debug("sample queue full, dropped oldest")
	}
	return err
}

// PushFrame queues a frame without blocking.
func (r *Runner) PushFrame(f Frame) error {
	evicted, err := r.frames.Push(f)
	if evicted {
		r.cfg.Metrics.AddFramesDropped(1)
		r.log.Debug("frame queue full, dropped oldest")
	}
	return err
}

// SampleDrops and FrameDrops return the queue eviction counts.
func (r *Runner) SampleDrops() uint64 { return r.samples.Dropped() }
func (r *Runner) FrameDrops() uint64  { return r.frames.Dropped() }

// NowVideoUS returns the newest video time seen by the ingest loop. ok is
// false until the first sample arrives.
func (r *Runner) NowVideoUS() (us int64, ok bool) {
	r.nowMu.Lock()
	defer r.nowMu.Unlock()
	return r.nowUS, r.nowSeen
}

// advance moves the heartbeat forward to t and returns the new value.
func (r *Runner) advance(t int64) int64 {
	r.nowMu.Lock()
	defer r.nowMu.Unlock()
	if !r.nowSeen || t > r.nowUS {
		r.nowUS, r.nowSeen = t, true
	}
	return r.nowUS
}

// Stop asks every loop to finish. Queued samples and frames are still
// drained. Safe to call more than once.
func (r *Runner) Stop() {
	r.stopOnce.Do(func() {
		r.stopped.Store(true)
		close(r.stopCh)
		r.samples.Close()
		r.frames.Close()
	})
}

// Run starts the ingest, integrate and render loops and blocks until ctx is
// cancelled or Stop is called.
func (r *Runner) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return r.ingestLoop(ctx) })
	g.Go(func() error { return r.integrateLoop(ctx) })
	g.Go(func() error { return r.renderLoop(ctx) })
	g.Go(func() error {
		select {
		case <-ctx.Done():
			r.Stop()
		case <-r.stopCh:
		}
		return nil
	})

	r.log.Info("started",
		"integrate_interval", r.cfg.IntegrateInterval,
		"stream", r.cfg.Stream.String(),
		"policy", r.cfg.Policy.String(),
	)
	err := g.Wait()
	r.log.Info("stopped", "sample_drops", r.SampleDrops(), "frame_drops", r.FrameDrops())
	return err
}

func (r *Runner) ingestLoop(ctx context.Context) error {
	for !r.stopped.Load() || r.samples.Len() > 0 {
		s, ok := r.samples.Pop(ctx)
		if !ok {
			return nil
		}
		r.Ingest(s)
	}
	return nil
}

// Ingest pushes one sample into the session synchronously. The eviction
// heartbeat is the newest video time seen so far. Samples whose video time
// saturates the int64 range are rejected and do not move the heartbeat.
func (r *Runner) Ingest(s imu.Sample) bool {
	t := r.session.ClockMap().ToVideoUS(s.SensorTimeUS)
	if t == math.MinInt64 || t == math.MaxInt64 {
		r.cfg.Metrics.IncSamplesRejected()
		r.log.Debug("sample time out of range", "sensor_us", s.SensorTimeUS)
		return false
	}
	if !r.session.PushLiveSample(s, r.advance(t)) {
		r.cfg.Metrics.IncSamplesRejected()
		return false
	}
	r.cfg.Metrics.IncSamplesIngested()
	return true
}

func (r *Runner) integrateLoop(ctx context.Context) error {
	tk := r.cfg.Clock.NewTicker(r.cfg.IntegrateInterval)
	defer tk.Stop()

	for !r.stopped.Load() {
		select {
		case <-ctx.Done():
			return nil
		case <-r.stopCh:
			return nil
		case <-tk.C():
			r.Tick()
		}
	}
	return nil
}

// Tick runs one integration step and refreshes gauges.
func (r *Runner) Tick() bool {
	published := r.session.IntegrateLiveData()
	if published {
		r.cfg.Metrics.IncIntegrations()
	}
	r.RefreshGauges()
	return published
}

// RefreshGauges copies session sizes into the metrics.
func (r *Runner) RefreshGauges() {
	m := r.cfg.Metrics
	if m == nil {
		return
	}
	for _, st := range []live.Stream{live.Raw, live.Smoothed} {
		store := r.session.Store(st)
		m.SetStore(st.String(), store.Len(), store.Pruned())
	}
	m.SetRingEntries(r.session.Ring().Len())
}

func (r *Runner) renderLoop(ctx context.Context) error {
	for !r.stopped.Load() || r.frames.Len() > 0 {
		f, ok := r.frames.Pop(ctx)
		if !ok {
			return nil
		}
		if res, ok := r.Render(f); ok {
			r.emit(res)
		}
	}
	return nil
}

// Render answers the orientation query for one frame and applies the frame
// policy. ok is false when the frame is skipped. Render keeps the held
// orientation and must only be called from one goroutine at a time.
func (r *Runner) Render(f Frame) (FrameResult, bool) {
	q, ok := r.session.Query(r.cfg.Stream, orientation.Query{
		TargetMS:    f.TimeMS,
		PreMS:       r.cfg.PreMS,
		PostMS:      r.cfg.PostMS,
		CenterRatio: r.cfg.CenterRatio,
		FallbackOK:  r.cfg.FallbackOK,
	})

	res := FrameResult{Frame: f}
	switch {
	case ok:
		r.lastQ, r.haveLast = q, true
		res.Q = q
		r.cfg.Metrics.IncFramesRendered()
	case r.cfg.Policy == PolicyHold && r.haveLast:
		res.Q = r.lastQ
		res.Held = true
		r.cfg.Metrics.IncFramesHeld()
	default:
		r.cfg.Metrics.IncFramesSkipped()
		r.log.Debug("no orientation for frame", "index", f.Index, "t_ms", f.TimeMS)
		return FrameResult{}, false
	}
	res.Pose = orientation.PoseFromQuat(res.Q)
	return res, true
}

func (r *Runner) emit(res FrameResult) {
	r.mu.Lock()
	sinks := r.sinks
	r.mu.Unlock()
	for _, s := range sinks {
		s(res)
	}
}
