// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package pipeline

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/live_stabilizer/internal/imu"
	"github.com/relabs-tech/live_stabilizer/internal/live"
	"github.com/relabs-tech/live_stabilizer/internal/logging"
	"github.com/relabs-tech/live_stabilizer/internal/metrics"
	"github.com/relabs-tech/live_stabilizer/internal/orientation"
	"github.com/relabs-tech/live_stabilizer/internal/timeutil"
)

func spin(tUS int64) imu.Sample {
	return imu.Sample{
		SensorTimeUS: tUS,
		Gyro:         imu.Vec3{0, 0, math.Pi / 2},
		Accel:        &imu.Vec3{0, 0, 9.81},
	}
}

func newTestRunner(policy FramePolicy, clock timeutil.Clock) (*Runner, *live.Session) {
	s := live.NewSession(live.Options{LiveWindowUS: 500_000, SmoothingUS: -1, Logger: logging.Discard()})
	r := NewRunner(s, Config{
		IntegrateInterval: 10 * time.Millisecond,
		Stream:            live.Raw,
		PreMS:             50,
		PostMS:            50,
		CenterRatio:       0.5,
		FallbackOK:        true,
		Policy:            policy,
		Clock:             clock,
		Metrics:           metrics.New(),
		Logger:            logging.Discard(),
	})
	return r, s
}

func TestParseFramePolicy(t *testing.T) {
	t.Parallel()

	p, err := ParseFramePolicy("SKIP")
	require.NoError(t, err)
	assert.Equal(t, PolicySkip, p)

	p, err = ParseFramePolicy("")
	require.NoError(t, err)
	assert.Equal(t, PolicyHold, p)

	_, err = ParseFramePolicy("blend")
	assert.Error(t, err)
}

func TestRunner_IngestAdvancesHeartbeat(t *testing.T) {
	t.Parallel()

	r, s := newTestRunner(PolicyHold, timeutil.RealClock{})
	_, ok := r.NowVideoUS()
	assert.False(t, ok, "no sample yet")

	assert.False(t, r.Ingest(spin(0)), "disabled session rejects")
	now, ok := r.NowVideoUS()
	require.True(t, ok)
	assert.Zero(t, now)

	s.Enable(3)
	assert.True(t, r.Ingest(spin(1000)))
	assert.True(t, r.Ingest(spin(500)))
	now, _ = r.NowVideoUS()
	assert.Equal(t, int64(1000), now)
	assert.Equal(t, 2, s.Ring().Len())
}

func TestRunner_IngestNegativeAndSaturatedTimes(t *testing.T) {
	t.Parallel()

	r, s := newTestRunner(PolicyHold, timeutil.RealClock{})
	s.Enable(3)

	require.True(t, r.Ingest(spin(-2000)))
	now, ok := r.NowVideoUS()
	require.True(t, ok)
	assert.Equal(t, int64(-2000), now)

	assert.False(t, r.Ingest(spin(math.MinInt64)))
	assert.False(t, r.Ingest(spin(math.MaxInt64)))
	now, _ = r.NowVideoUS()
	assert.Equal(t, int64(-2000), now)
	assert.Equal(t, 1, s.Ring().Len())
}

func TestRunner_RenderPolicies(t *testing.T) {
	t.Parallel()

	for _, tt := range []struct {
		policy   FramePolicy
		wantHeld bool
	}{
		{PolicyHold, true},
		{PolicySkip, false},
	} {
		t.Run(tt.policy.String(), func(t *testing.T) {
			t.Parallel()

			r, s := newTestRunner(tt.policy, timeutil.RealClock{})

			// nothing known yet: both policies skip
			_, ok := r.Render(Frame{Index: 0, TimeMS: 750})
			assert.False(t, ok)

			s.Enable(3)
			for i := int64(0); i <= 100; i++ {
				r.Ingest(spin(i * 10_000))
			}
			require.True(t, r.Tick())

			res, ok := r.Render(Frame{Index: 1, TimeMS: 750})
			require.True(t, ok)
			assert.False(t, res.Held)
			assert.InDelta(t, 67.5, res.Pose.Yaw, 1e-6)

			res, ok = r.Render(Frame{Index: 2, TimeMS: 5000})
			assert.Equal(t, tt.wantHeld, ok)
			if ok {
				assert.True(t, res.Held)
				assert.InDelta(t, 67.5, res.Pose.Yaw, 1e-6)
				assert.Equal(t, int64(2), res.Index)
			}
		})
	}
}

func TestRunner_EndToEnd(t *testing.T) {
	t.Parallel()

	clock := timeutil.NewMockClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	r, s := newTestRunner(PolicyHold, clock)
	s.Enable(3)

	results := make(chan FrameResult, 4)
	r.AddSink(func(res FrameResult) { results <- res })

	done := make(chan error, 1)
	go func() { done <- r.Run(context.Background()) }()

	for i := int64(0); i <= 100; i++ {
		require.NoError(t, r.PushSample(spin(i*10_000)))
	}
	require.Eventually(t, func() bool { return s.Ring().Len() == 101 }, time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return clock.TickerCount() == 1 }, time.Second, time.Millisecond)

	require.Eventually(t, func() bool {
		clock.Advance(10 * time.Millisecond)
		return s.Store(live.Raw).Len() == 1
	}, time.Second, time.Millisecond)

	require.NoError(t, r.PushFrame(Frame{Index: 7, TimeMS: 750}))
	select {
	case res := <-results:
		assert.Equal(t, int64(7), res.Index)
		assert.False(t, res.Held)
		want, _ := s.Store(live.Raw).Windows()[0].ValueAt(750_000)
		assert.InDelta(t, orientation.PoseFromQuat(want).Yaw, res.Pose.Yaw, 1e-9)
	case <-time.After(time.Second):
		t.Fatal("no frame rendered")
	}

	r.Stop()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("runner did not stop")
	}

	assert.ErrorIs(t, r.PushSample(spin(0)), ErrQueueClosed)
	assert.Zero(t, r.SampleDrops())
}

func TestRunner_StopsOnContextCancel(t *testing.T) {
	t.Parallel()

	r, _ := newTestRunner(PolicySkip, timeutil.NewMockClock(time.Time{}))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("runner ignored cancellation")
	}
}
