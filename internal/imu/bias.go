// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package imu

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"gonum.org/v1/gonum/stat"
)

// Stillness thresholds on the mean per-axis gyro standard deviation (rad/s).
const (
	stillStdGood = 0.005
	stillStdBad  = 0.03

	// confidence never drops to hard zero for a non-empty capture
	confFloor = 0.05
)

// Bias is a static gyro bias estimate, subtracted from every gyro reading
// before integration.
type Bias struct {
	SchemaVersion int     `json:"schema_version"`
	CalibrationAt string  `json:"calibration_at"` // RFC3339
	Samples       int     `json:"samples"`
	DurationSec   float64 `json:"duration_sec"`
	Gyro          Vec3    `json:"gyro_bias"`
	StdDev        Vec3    `json:"gyro_stddev"`
	Confidence    float64 `json:"confidence"`
}

// EstimateBias computes the per-axis gyro mean and population standard
// deviation over a capture taken while the device was still. Non-finite
// readings are skipped. ok is false when nothing usable was given.
func EstimateBias(samples []Sample) (b Bias, ok bool) {
	var xs, ys, zs []float64
	var first, last int64
	for _, s := range samples {
		if !s.Gyro.IsFinite() {
			continue
		}
		if len(xs) == 0 {
			first = s.SensorTimeUS
		}
		last = s.SensorTimeUS
		xs = append(xs, s.Gyro[0])
		ys = append(ys, s.Gyro[1])
		zs = append(zs, s.Gyro[2])
	}
	if len(xs) == 0 {
		return Bias{}, false
	}

	mx, vx := stat.PopMeanVariance(xs, nil)
	my, vy := stat.PopMeanVariance(ys, nil)
	mz, vz := stat.PopMeanVariance(zs, nil)
	std := Vec3{math.Sqrt(vx), math.Sqrt(vy), math.Sqrt(vz)}

	return Bias{
		SchemaVersion: 1,
		CalibrationAt: time.Now().UTC().Format(time.RFC3339),
		Samples:       len(xs),
		DurationSec:   float64(last-first) / 1e6,
		Gyro:          Vec3{mx, my, mz},
		StdDev:        std,
		Confidence:    stillnessConfidence(std),
	}, true
}

func stillnessConfidence(std Vec3) float64 {
	s := (std[0] + std[1] + std[2]) / 3
	switch {
	case s <= stillStdGood:
		return 1.0
	case s >= stillStdBad:
		return confFloor
	default:
		t := (s - stillStdGood) / (stillStdBad - stillStdGood)
		return math.Max(confFloor, 1.0-0.95*t)
	}
}

// WriteBias stores b as indented JSON at path, creating parent directories.
func WriteBias(path string, b Bias) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create calibration dir: %w", err)
		}
	}
	data, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal calibration: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write calibration: %w", err)
	}
	return nil
}

// LoadBias reads a calibration file written by WriteBias.
func LoadBias(path string) (Bias, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return Bias{}, fmt.Errorf("read calibration: %w", err)
	}
	var b Bias
	if err := json.Unmarshal(data, &b); err != nil {
		return Bias{}, fmt.Errorf("parse calibration %s: %w", path, err)
	}
	if !b.Gyro.IsFinite() {
		return Bias{}, fmt.Errorf("calibration %s: non-finite gyro bias", path)
	}
	return b, nil
}
