// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package orientation

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/num/quat"

	"github.com/relabs-tech/live_stabilizer/internal/imu"
)

const tol = 1e-9

func aboutZ(deg float64) quat.Number {
	return FromPose(Pose{Yaw: deg})
}

func assertQuatEqual(t *testing.T, want, got quat.Number, delta float64) {
	t.Helper()
	// q and -q are the same rotation
	if dot(want, got) < 0 {
		got = quat.Scale(-1, got)
	}
	assert.InDelta(t, want.Real, got.Real, delta, "w")
	assert.InDelta(t, want.Imag, got.Imag, delta, "x")
	assert.InDelta(t, want.Jmag, got.Jmag, delta, "y")
	assert.InDelta(t, want.Kmag, got.Kmag, delta, "z")
}

func TestFromSamples_FiltersRangeAndBadValues(t *testing.T) {
	t.Parallel()

	in := []TimedQuat{
		{TimeUS: -10, Q: Identity},
		{TimeUS: 0, Q: quat.Number{Real: 2}},
		{TimeUS: 5, Q: quat.Number{Real: math.NaN()}},
		{TimeUS: 7, Q: quat.Number{}},
		{TimeUS: 10, Q: aboutZ(10)},
		{TimeUS: 20, Q: quat.Number{Real: math.Inf(1)}},
		{TimeUS: 30, Q: aboutZ(30)},
		{TimeUS: 31, Q: Identity},
	}

	w, ok := FromSamples(in, 0, 30)
	require.True(t, ok)
	assert.Equal(t, 3, w.Len())
	assert.Equal(t, int64(0), w.FirstUS())
	assert.Equal(t, int64(30), w.LastUS())
	assert.Equal(t, int64(30), w.DurationUS())
	assert.Equal(t, int64(15), w.MidUS())

	// normalized on the way in
	assert.Equal(t, Identity, w.Samples()[0].Q)
}

func TestFromSamples_Empty(t *testing.T) {
	t.Parallel()

	_, ok := FromSamples(nil, 0, 100)
	assert.False(t, ok)

	_, ok = FromSamples([]TimedQuat{{TimeUS: 500, Q: Identity}}, 0, 100)
	assert.False(t, ok)

	_, ok = FromSamples([]TimedQuat{{TimeUS: 50, Q: quat.Number{Imag: math.NaN()}}}, 0, 100)
	assert.False(t, ok)
}

func TestFromSamples_DuplicateTimesKeepLast(t *testing.T) {
	t.Parallel()

	w, ok := FromSamples([]TimedQuat{
		{TimeUS: 10, Q: Identity},
		{TimeUS: 10, Q: aboutZ(45)},
		{TimeUS: 20, Q: Identity},
	}, 0, 100)
	require.True(t, ok)
	require.Equal(t, 2, w.Len())
	assertQuatEqual(t, aboutZ(45), w.Samples()[0].Q, tol)
}

func TestWindow_InvariantRandomized(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewPCG(7, 11))
	for round := 0; round < 50; round++ {
		n := 1 + rng.IntN(200)
		in := make([]TimedQuat, n)
		for i := range in {
			in[i] = TimedQuat{
				TimeUS: rng.Int64N(10_000),
				Q: quat.Number{
					Real: rng.NormFloat64(),
					Imag: rng.NormFloat64(),
					Jmag: rng.NormFloat64(),
					Kmag: rng.NormFloat64(),
				},
			}
		}

		w, ok := FromSamples(in, 0, 10_000)
		require.True(t, ok)

		samples := w.Samples()
		assert.Equal(t, samples[0].TimeUS, w.FirstUS())
		assert.Equal(t, samples[len(samples)-1].TimeUS, w.LastUS())
		for i, s := range samples {
			if i > 0 {
				require.Greater(t, s.TimeUS, samples[i-1].TimeUS)
			}
			require.InDelta(t, 1.0, quat.Abs(s.Q), tol)
		}
	}
}

func TestWindow_CoversWithPadding(t *testing.T) {
	t.Parallel()

	w, _ := FromSamples([]TimedQuat{{TimeUS: 1000, Q: Identity}, {TimeUS: 2000, Q: Identity}}, 0, 5000)

	tests := []struct {
		name             string
		target, pre, pst int64
		want             bool
	}{
		{"inside", 1500, 100, 100, true},
		{"exact lead", 1100, 100, 0, true},
		{"lead short by one", 1099, 100, 0, false},
		{"exact lag", 1900, 0, 100, true},
		{"lag short by one", 1901, 0, 100, false},
		{"outside", 2500, 0, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, w.CoversWithPadding(tt.target, tt.pre, tt.pst))
		})
	}
}

func TestWindow_IsCenteredForBoundary(t *testing.T) {
	t.Parallel()

	// span 1000, mid 500, tol = 0.5 * 500 = 250
	w, _ := FromSamples([]TimedQuat{{TimeUS: 0, Q: Identity}, {TimeUS: 1000, Q: Identity}}, 0, 1000)

	assert.True(t, w.IsCenteredFor(750, 0.5))
	assert.False(t, w.IsCenteredFor(751, 0.5))
	assert.True(t, w.IsCenteredFor(250, 0.5))
	assert.False(t, w.IsCenteredFor(249, 0.5))

	for _, r := range []float64{0, 0.1, 1, 10} {
		assert.True(t, w.IsCenteredFor(w.MidUS(), r), "ratio %v", r)
	}
	assert.False(t, w.IsCenteredFor(w.FirstUS()-1, 1))
	assert.True(t, w.IsCenteredFor(w.MidUS(), -3))
	assert.False(t, w.IsCenteredFor(w.MidUS()+1, -3))
}

func TestWindow_ZeroSpanNeverCentered(t *testing.T) {
	t.Parallel()

	w, ok := FromSamples([]TimedQuat{{TimeUS: 42, Q: Identity}}, 0, 100)
	require.True(t, ok)
	assert.Equal(t, int64(0), w.SpanUS())
	assert.False(t, w.IsCenteredFor(42, 100))

	q, ok := w.ValueAt(-1000)
	require.True(t, ok)
	assert.Equal(t, Identity, q)
}

func TestWindow_ValueAtRoundTrip(t *testing.T) {
	t.Parallel()

	w, ok := FromSamples([]TimedQuat{{TimeUS: 1000, Q: aboutZ(0)}, {TimeUS: 3000, Q: aboutZ(90)}}, 0, 5000)
	require.True(t, ok)
	stored := w.Samples()
	q0, q1 := stored[0].Q, stored[1].Q

	got, ok := w.ValueAt(1000)
	require.True(t, ok)
	assert.Equal(t, q0, got)

	got, ok = w.ValueAt(3000)
	require.True(t, ok)
	assert.Equal(t, q1, got)

	got, ok = w.ValueAt(2000)
	require.True(t, ok)
	assertQuatEqual(t, Slerp(q0, q1, 0.5), got, tol)
	assertQuatEqual(t, aboutZ(45), got, 1e-9)

	// clamped
	got, _ = w.ValueAt(-5)
	assert.Equal(t, q0, got)
	got, _ = w.ValueAtMS(99)
	assert.Equal(t, q1, got)
}

func TestWindow_ValueAtNil(t *testing.T) {
	t.Parallel()

	var w *Window
	_, ok := w.ValueAt(0)
	assert.False(t, ok)
}

func TestSlerp_ShortestPath(t *testing.T) {
	t.Parallel()

	q0 := aboutZ(10)
	q1 := quat.Scale(-1, aboutZ(30))
	assertQuatEqual(t, aboutZ(20), Slerp(q0, q1, 0.5), 1e-9)

	// nearly parallel path stays unit length
	got := Slerp(q0, aboutZ(10.001), 0.3)
	assert.InDelta(t, 1.0, quat.Abs(got), tol)
}

func TestIntegrateGyro_ConstantRate(t *testing.T) {
	t.Parallel()

	q := Identity
	// 90 deg/s about Z for one second in 100 steps
	w := imu.Vec3{0, 0, math.Pi / 2}
	for range 100 {
		q = IntegrateGyro(q, w, 0.01)
	}
	assertQuatEqual(t, aboutZ(90), q, 1e-9)
	assert.InDelta(t, 90, PoseFromQuat(q).Yaw, 1e-6)
}

func TestFromAccel_Tilt(t *testing.T) {
	t.Parallel()

	q, ok := FromAccel(imu.Vec3{0, 0, 9.81})
	require.True(t, ok)
	assertQuatEqual(t, Identity, q, tol)

	q, ok = FromAccel(imu.Vec3{0, 9.81, 0})
	require.True(t, ok)
	assert.InDelta(t, 90, PoseFromQuat(q).Roll, 1e-9)

	_, ok = FromAccel(imu.Vec3{})
	assert.False(t, ok)
	_, ok = FromAccel(imu.Vec3{math.NaN(), 0, 1})
	assert.False(t, ok)
}

func TestPoseRoundTrip(t *testing.T) {
	t.Parallel()

	p := Pose{Roll: 12, Pitch: -30, Yaw: 75}
	got := PoseFromQuat(FromPose(p))
	assert.InDelta(t, p.Roll, got.Roll, 1e-9)
	assert.InDelta(t, p.Pitch, got.Pitch, 1e-9)
	assert.InDelta(t, p.Yaw, got.Yaw, 1e-9)
}

func TestSmooth(t *testing.T) {
	t.Parallel()

	in := []TimedQuat{
		{TimeUS: 0, Q: aboutZ(0)},
		{TimeUS: 10_000, Q: aboutZ(0)},
		{TimeUS: 20_000, Q: aboutZ(40)},
		{TimeUS: 30_000, Q: aboutZ(0)},
		{TimeUS: 40_000, Q: aboutZ(0)},
	}

	same := Smooth(in, 0)
	assert.Equal(t, in, same)

	out := Smooth(in, 50_000)
	require.Len(t, out, len(in))
	spike := PoseFromQuat(out[2].Q).Yaw
	assert.Greater(t, spike, 0.0)
	assert.Less(t, spike, 40.0)
	for i := range out {
		assert.Equal(t, in[i].TimeUS, out[i].TimeUS)
		assert.InDelta(t, 1.0, quat.Abs(out[i].Q), tol)
	}
	// input untouched
	assert.Equal(t, aboutZ(40), in[2].Q)
}
