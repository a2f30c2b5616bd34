// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"gonum.org/v1/gonum/num/quat"

	"github.com/relabs-tech/live_stabilizer/internal/clocksync"
	"github.com/relabs-tech/live_stabilizer/internal/imu"
	"github.com/relabs-tech/live_stabilizer/internal/live"
	"github.com/relabs-tech/live_stabilizer/internal/logging"
	"github.com/relabs-tech/live_stabilizer/internal/metrics"
	"github.com/relabs-tech/live_stabilizer/internal/orientation"
	"github.com/relabs-tech/live_stabilizer/internal/pipeline"
)

// WebOptions configures the HTTP API.
type WebOptions struct {
	Runner           *pipeline.Runner
	Metrics          *metrics.Metrics
	Hub              *Hub
	Logger           *slog.Logger
	CalibrationsPath string

	// Defaults fills in query parameters a request leaves out. TargetMS is
	// ignored.
	Defaults orientation.Query
}

// Web serves the session API.
type Web struct {
	opts    WebOptions
	runner  *pipeline.Runner
	session *live.Session
	log     *slog.Logger
}

// NewWeb builds the API around a runner.
func NewWeb(opts WebOptions) *Web {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Web{
		opts:    opts,
		runner:  opts.Runner,
		session: opts.Runner.Session(),
		log:     opts.Logger.With("component", "web"),
	}
}

// Routes returns the router.
func (s *Web) Routes() http.Handler {
	r := chi.NewRouter()

	// websocket upgrades need the raw ResponseWriter, so they stay outside
	// the wrapping middleware
	if s.opts.Hub != nil {
		r.Handle("/ws/orientation", s.opts.Hub)
	}

	r.Group(func(r chi.Router) {
		r.Use(logging.RequestLogger(s.log))
		r.Use(metrics.RequestMiddleware(s.opts.Metrics))

		r.Get("/api/orientation", s.handleOrientation)
		r.Get("/api/status", s.handleStatus)
		r.Get("/api/windows", s.handleWindows)
		r.Post("/api/session/enable", s.handleEnable)
		r.Post("/api/session/disable", s.handleDisable)
		r.Post("/api/clock", s.handleClock)
		r.Post("/api/calibration/gyro", s.handleGyroCalibration)

		if s.opts.Metrics != nil {
			r.Handle("/metrics", s.opts.Metrics.Handler(s.runner.RefreshGauges))
		}
	})
	return r
}

// ListenAndServe serves on addr until ctx is cancelled.
func (s *Web) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	stop := context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	})
	defer stop()

	s.log.Info("web server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func floatParam(r *http.Request, key string, def float64) (float64, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("invalid %s %q", key, v)
	}
	return f, nil
}

func streamParam(r *http.Request) (live.Stream, error) {
	switch v := r.URL.Query().Get("stream"); v {
	case "", "raw":
		return live.Raw, nil
	case "smoothed":
		return live.Smoothed, nil
	default:
		return live.Raw, fmt.Errorf("invalid stream %q (want raw or smoothed)", v)
	}
}

// OrientationResponse is the body of GET /api/orientation.
type OrientationResponse struct {
	TimeMS float64          `json:"t_ms"`
	Stream string           `json:"stream"`
	Q      quat.Number      `json:"q"`
	Pose   orientation.Pose `json:"pose"`
}

func (s *Web) handleOrientation(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("t_ms") == "" {
		writeError(w, http.StatusBadRequest, "t_ms is required")
		return
	}
	st, err := streamParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	q := s.opts.Defaults
	for _, p := range []struct {
		key string
		dst *float64
	}{
		{"t_ms", &q.TargetMS},
		{"pre_ms", &q.PreMS},
		{"post_ms", &q.PostMS},
		{"center_ratio", &q.CenterRatio},
	} {
		if *p.dst, err = floatParam(r, p.key, *p.dst); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	if v := r.URL.Query().Get("fallback"); v != "" {
		if q.FallbackOK, err = strconv.ParseBool(v); err != nil {
			writeError(w, http.StatusBadRequest, "invalid fallback")
			return
		}
	}

	res, ok := s.session.Query(st, q)
	if !ok {
		writeError(w, http.StatusServiceUnavailable, "no orientation for that time")
		return
	}
	writeJSON(w, http.StatusOK, OrientationResponse{
		TimeMS: q.TargetMS,
		Stream: st.String(),
		Q:      res,
		Pose:   orientation.PoseFromQuat(res),
	})
}

// StatusResponse is the body of GET /api/status.
type StatusResponse struct {
	Session     live.Status `json:"session"`
	NowVideoUS  int64       `json:"now_video_us"`
	HaveSample  bool        `json:"have_sample"`
	SampleDrops uint64      `json:"sample_drops"`
	FrameDrops  uint64      `json:"frame_drops"`
	GyroBias    imu.Vec3    `json:"gyro_bias"`
	WSClients   int         `json:"ws_clients"`
}

func (s *Web) handleStatus(w http.ResponseWriter, r *http.Request) {
	now, seen := s.runner.NowVideoUS()
	resp := StatusResponse{
		Session:     s.session.Status(),
		NowVideoUS:  now,
		HaveSample:  seen,
		SampleDrops: s.runner.SampleDrops(),
		FrameDrops:  s.runner.FrameDrops(),
		GyroBias:    s.session.GyroBias(),
	}
	if s.opts.Hub != nil {
		resp.WSClients = s.opts.Hub.Clients()
	}
	writeJSON(w, http.StatusOK, resp)
}

// WindowInfo describes one published window.
type WindowInfo struct {
	FirstUS int64 `json:"first_us"`
	LastUS  int64 `json:"last_us"`
	Samples int   `json:"samples"`
}

func (s *Web) handleWindows(w http.ResponseWriter, r *http.Request) {
	st, err := streamParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	store := s.session.Store(st)
	windows := store.Windows()
	out := make([]WindowInfo, 0, len(windows))
	for _, win := range windows {
		out = append(out, WindowInfo{FirstUS: win.FirstUS(), LastUS: win.LastUS(), Samples: win.Len()})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"stream":  st.String(),
		"version": store.Version(),
		"windows": out,
	})
}

func (s *Web) handleEnable(w http.ResponseWriter, r *http.Request) {
	secs, err := floatParam(r, "retention_s", 0)
	if err != nil || secs <= 0 {
		writeError(w, http.StatusBadRequest, "retention_s must be a positive number")
		return
	}
	s.session.Enable(secs)
	s.log.Info("session enabled", "retention_s", secs)
	writeJSON(w, http.StatusOK, s.session.Status())
}

func (s *Web) handleDisable(w http.ResponseWriter, r *http.Request) {
	s.session.Disable()
	s.log.Info("session disabled")
	writeJSON(w, http.StatusOK, s.session.Status())
}

// ClockRequest is the body of POST /api/clock: either observed timestamp
// pairs to fit, or an explicit map.
type ClockRequest struct {
	Pairs []clocksync.Pair `json:"pairs,omitempty"`
	Map   *clocksync.Map   `json:"map,omitempty"`
}

func (s *Web) handleClock(w http.ResponseWriter, r *http.Request) {
	var req ClockRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	var m clocksync.Map
	switch {
	case req.Map != nil:
		m = *req.Map
		if m.Scale == 0 || math.IsNaN(m.Scale) || math.IsInf(m.Scale, 0) || math.IsNaN(m.Offset) || math.IsInf(m.Offset, 0) {
			writeError(w, http.StatusBadRequest, "map scale must be finite and non-zero")
			return
		}
	case len(req.Pairs) > 0:
		var err error
		if m, err = clocksync.Fit(req.Pairs); err != nil {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
	default:
		writeError(w, http.StatusBadRequest, "either pairs or map is required")
		return
	}

	s.session.UpdateClockMap(m)
	s.log.Info("clock map updated", "map", m.String())
	writeJSON(w, http.StatusOK, m)
}

// handleGyroCalibration estimates the gyro bias from what the ring holds,
// which must be a capture of the device lying still, and applies it. With
// save=true the estimate is also written under the calibrations path.
func (s *Web) handleGyroCalibration(w http.ResponseWriter, r *http.Request) {
	entries := s.session.Ring().Snapshot()
	samples := make([]imu.Sample, 0, len(entries))
	for _, e := range entries {
		samples = append(samples, imu.Sample{SensorTimeUS: e.TimeUS, Gyro: e.Gyro, Accel: e.Accel})
	}

	b, ok := imu.EstimateBias(samples)
	if !ok {
		writeError(w, http.StatusServiceUnavailable, "no samples to calibrate from")
		return
	}
	b.CalibrationAt = time.Now().UTC().Format(time.RFC3339)
	s.session.SetGyroBias(b.Gyro)
	s.log.Info("gyro bias applied", "bias", b.Gyro, "confidence", b.Confidence, "samples", b.Samples)

	resp := map[string]any{"bias": b}
	if save, _ := strconv.ParseBool(r.URL.Query().Get("save")); save {
		path := filepath.Join(s.opts.CalibrationsPath, biasFileName(time.Now()))
		if err := imu.WriteBias(path, b); err != nil {
			s.log.Error("failed to save calibration", "err", err)
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		resp["file"] = path
	}
	writeJSON(w, http.StatusOK, resp)
}

func biasFileName(t time.Time) string {
	return fmt.Sprintf("gyro_bias_%s.json", t.UTC().Format("20060102_150405"))
}
