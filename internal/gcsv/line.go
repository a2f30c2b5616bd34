// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package gcsv

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/relabs-tech/live_stabilizer/internal/imu"
)

var (
	// ErrHeaderLine is returned by ParseLine for a magic or column line.
	ErrHeaderLine = errors.New("gcsv: header line")
	// ErrShortLine is returned by ParseLine when fewer than four fields are
	// present.
	ErrShortLine = errors.New("gcsv: too few fields")
)

// ParseLine parses one data line using the scales in h. Accelerometer
// fields are optional; when fewer than three are present they are ignored.
func ParseLine(line string, h Header) (imu.Sample, error) {
	line = strings.TrimSpace(line)
	if isMagicLine(line) || isColumnLine(line) {
		return imu.Sample{}, ErrHeaderLine
	}
	fields := strings.Split(line, ",")
	if len(fields) < 4 {
		return imu.Sample{}, ErrShortLine
	}

	vals := make([]float64, 0, 7)
	for i, f := range fields[:min(len(fields), 7)] {
		v, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
		if err != nil {
			return imu.Sample{}, fmt.Errorf("gcsv: field %d: %w", i, err)
		}
		vals = append(vals, v)
	}

	s := imu.Sample{
		SensorTimeUS: secondsToUS(vals[0] * h.TScale),
		Gyro:         imu.Vec3{vals[1], vals[2], vals[3]}.Scale(h.GScale),
	}
	if len(vals) == 7 {
		a := imu.Vec3{vals[4], vals[5], vals[6]}.Scale(h.AScale)
		s.Accel = &a
	}
	return s, nil
}

func secondsToUS(sec float64) int64 {
	us := math.Round(sec * 1e6)
	switch {
	case math.IsNaN(us):
		return 0
	case us >= math.MaxInt64:
		return math.MaxInt64
	case us <= math.MinInt64:
		return math.MinInt64
	}
	return int64(us)
}

// FormatLine renders s as a data line, inverting the scales in h.
func FormatLine(s imu.Sample, h Header) string {
	f := func(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }

	t := float64(s.SensorTimeUS) / 1e6 / h.TScale
	g := s.Gyro.Scale(1 / h.GScale)

	var b strings.Builder
	b.WriteString(f(t))
	for _, v := range g {
		b.WriteByte(',')
		b.WriteString(f(v))
	}
	if s.Accel != nil {
		a := s.Accel.Scale(1 / h.AScale)
		for _, v := range a {
			b.WriteByte(',')
			b.WriteString(f(v))
		}
	}
	return b.String()
}
