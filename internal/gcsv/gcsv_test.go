// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package gcsv

import (
	"fmt"
	"io"
	"math"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/live_stabilizer/internal/imu"
)

const sampleHeader = `GYROFLOW IMU LOG
version,1.3
id,live_stabilizer
orientation,YxZ
vendor,relabs
frame_rate,29.97
tscale,0.001
gscale,0.5
ascale,2
lens_model,wide
t,gx,gy,gz,ax,ay,az`

func TestParseHeader(t *testing.T) {
	t.Parallel()

	h := ParseHeader(sampleHeader)
	want := Header{
		Version:     "1.3",
		ID:          "live_stabilizer",
		Orientation: "YxZ",
		Vendor:      "relabs",
		FrameRate:   29.97,
		TScale:      0.001,
		GScale:      0.5,
		AScale:      2,
		Extra:       map[string]string{"lens_model": "wide"},
	}
	if diff := cmp.Diff(want, h); diff != "" {
		t.Errorf("ParseHeader mismatch (-want +got):\n%s", diff)
	}
}

func TestParseHeader_BadNumbersKeepDefaults(t *testing.T) {
	t.Parallel()

	h := ParseHeader("GYROFLOW IMU LOG\ntscale,abc\nfps,60\nframe_readout_direction,9")
	assert.Equal(t, 1.0, h.TScale)
	assert.Equal(t, 60.0, h.FrameRate)
	assert.Equal(t, 0, h.FrameReadoutDirection)
}

func TestHeader_FormatRoundTrip(t *testing.T) {
	t.Parallel()

	h := ParseHeader(sampleHeader)
	text := h.Format()
	assert.True(t, strings.HasPrefix(text, Magic+"\n"))
	assert.True(t, strings.HasSuffix(text, Columns+"\n"))
	if diff := cmp.Diff(h, ParseHeader(text)); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestParseLine(t *testing.T) {
	t.Parallel()

	h := Header{TScale: 0.001, GScale: 0.5, AScale: 2}

	s, err := ParseLine("1500, 2, 4, 6, 1, 0, -1", h)
	require.NoError(t, err)
	assert.Equal(t, int64(1_500_000), s.SensorTimeUS)
	assert.Equal(t, imu.Vec3{1, 2, 3}, s.Gyro)
	require.NotNil(t, s.Accel)
	assert.Equal(t, imu.Vec3{2, 0, -2}, *s.Accel)

	s, err = ParseLine("2,1,1,1", h)
	require.NoError(t, err)
	assert.Nil(t, s.Accel)
	assert.Equal(t, int64(2000), s.SensorTimeUS)
}

func TestParseLine_Errors(t *testing.T) {
	t.Parallel()

	h := DefaultHeader()

	_, err := ParseLine(Columns, h)
	assert.ErrorIs(t, err, ErrHeaderLine)
	_, err = ParseLine(Magic, h)
	assert.ErrorIs(t, err, ErrHeaderLine)
	_, err = ParseLine("1,2,3", h)
	assert.ErrorIs(t, err, ErrShortLine)
	_, err = ParseLine("1,x,3,4", h)
	assert.Error(t, err)
}

func TestParseLine_ClampsTime(t *testing.T) {
	t.Parallel()

	s, err := ParseLine("1e300,0,0,0", DefaultHeader())
	require.NoError(t, err)
	assert.Equal(t, int64(math.MaxInt64), s.SensorTimeUS)

	s, err = ParseLine("-1e300,0,0,0", DefaultHeader())
	require.NoError(t, err)
	assert.Equal(t, int64(math.MinInt64), s.SensorTimeUS)
}

func TestFormatLine_RoundTrip(t *testing.T) {
	t.Parallel()

	h := Header{TScale: 0.001, GScale: 0.25, AScale: 4}
	a := imu.Vec3{0.5, -1, 9.75}
	in := imu.Sample{SensorTimeUS: 123_456_000, Gyro: imu.Vec3{0.25, -0.5, 1}, Accel: &a}

	out, err := ParseLine(FormatLine(in, h), h)
	require.NoError(t, err)
	if diff := cmp.Diff(in, out); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestReader_HeaderThenSamples(t *testing.T) {
	t.Parallel()

	input := sampleHeader + "\n" +
		"0,2,2,2,0,0,4.905\n" +
		"garbage\n" +
		"\n" +
		"10,2,2,2\n"

	var gotText string
	var calls int
	r := NewReader(strings.NewReader(input), func(text string, h Header) {
		calls++
		gotText = text
		assert.Equal(t, 0.001, h.TScale)
	})

	s, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, int64(0), s.SensorTimeUS)
	assert.Equal(t, imu.Vec3{1, 1, 1}, s.Gyro)
	assert.Equal(t, imu.Vec3{0, 0, 9.81}, *s.Accel)

	s, err = r.Next()
	require.NoError(t, err)
	assert.Equal(t, int64(10_000), s.SensorTimeUS)

	_, err = r.Next()
	assert.ErrorIs(t, err, io.EOF)

	assert.Equal(t, 1, calls)
	assert.Equal(t, sampleHeader, gotText)
	assert.Equal(t, 1, r.Skipped())
	assert.Equal(t, "relabs", r.Header().Vendor)
}

func TestReader_Headerless(t *testing.T) {
	t.Parallel()

	r := NewReader(strings.NewReader("t,gx,gy,gz\n0.5,1,2,3\n"), nil)
	s, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, int64(500_000), s.SensorTimeUS)
	assert.Zero(t, r.Skipped())
}

func TestReader_SkipsOversizedLines(t *testing.T) {
	t.Parallel()

	huge := strings.Repeat("9", MaxLineLen+10)
	input := "t,gx,gy,gz\n0,1,2,3\n" + huge + "\n0.5,1,2,3\n" + huge
	r := NewReader(strings.NewReader(input), nil)

	s, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, int64(0), s.SensorTimeUS)

	s, err = r.Next()
	require.NoError(t, err)
	assert.Equal(t, int64(500_000), s.SensorTimeUS)
	assert.Equal(t, imu.Vec3{1, 2, 3}, s.Gyro)

	_, err = r.Next()
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, 2, r.Skipped())
}

func TestReader_LastLineWithoutNewline(t *testing.T) {
	t.Parallel()

	r := NewReader(strings.NewReader("0.25,1,2,3"), nil)
	s, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, int64(250_000), s.SensorTimeUS)
	_, err = r.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestReader_UnterminatedHeader(t *testing.T) {
	t.Parallel()

	r := NewReader(strings.NewReader("GYROFLOW IMU LOG\nversion,1.3\n"), nil)
	_, err := r.Next()
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func quatRow(frame int, tMS float64, org, stab [4]string) string {
	cols := make([]string, quatCSVCols)
	for i := range cols {
		cols[i] = "0"
	}
	cols[0] = fmt.Sprint(frame)
	cols[colTimestampMS] = fmt.Sprint(tMS)
	copy(cols[colOrgQuatW:], org[:])
	copy(cols[colStabQuatW:], stab[:])
	return strings.Join(cols, ",")
}

func TestReadQuaternionCSV(t *testing.T) {
	t.Parallel()

	header := strings.Repeat("c,", quatCSVCols-1) + "c"
	input := strings.Join([]string{
		header,
		quatRow(0, 0, [4]string{"1", "0", "0", "0"}, [4]string{"0", "1", "0", "0"}),
		quatRow(1, 33.3667, [4]string{"NaN", "0", "0", "0"}, [4]string{"0", "0", "1", "0"}),
		quatRow(2, 66.7334, [4]string{"0", "0", "0", "1"}, [4]string{"inf", "0", "0", "0"}),
	}, "\n")

	org, err := ReadQuaternionCSV(strings.NewReader(input), Original)
	require.NoError(t, err)
	require.Len(t, org, 2)
	assert.Equal(t, int64(0), org[0].TimeUS)
	assert.Equal(t, int64(66_733), org[1].TimeUS)
	assert.Equal(t, 1.0, org[1].Q.Kmag)

	stab, err := ReadQuaternionCSV(strings.NewReader(input), Stabilized)
	require.NoError(t, err)
	require.Len(t, stab, 2)
	assert.Equal(t, int64(33_367), stab[1].TimeUS)
	assert.Equal(t, 1.0, stab[1].Q.Jmag)
}

func TestReadQuaternionCSV_Errors(t *testing.T) {
	t.Parallel()

	header := strings.Repeat("c,", quatCSVCols-1) + "c"

	_, err := ReadQuaternionCSV(strings.NewReader(header+"\n1,2,3\n"), Original)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")

	bad := quatRow(0, 0, [4]string{"x", "0", "0", "0"}, [4]string{"1", "0", "0", "0"})
	_, err = ReadQuaternionCSV(strings.NewReader(header+"\n"+bad+"\n"), Original)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "col 11")

	out, err := ReadQuaternionCSV(strings.NewReader(""), Original)
	require.NoError(t, err)
	assert.Empty(t, out)
}
