// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/relabs-tech/live_stabilizer/internal/imu"
)

// ErrNoCalibrationSamples is returned when a capture holds no usable gyro
// readings.
var ErrNoCalibrationSamples = errors.New("calibration: no usable samples")

type sampleCollector struct{ samples []imu.Sample }

func (c *sampleCollector) PushSample(s imu.Sample) error {
	c.samples = append(c.samples, s)
	return nil
}

// EstimateBiasFromGCSV reads a GCSV capture of the device lying still and
// estimates the static gyro bias.
func EstimateBiasFromGCSV(r io.Reader) (imu.Bias, error) {
	var c sampleCollector
	if _, err := StreamGCSV(context.Background(), r, &c, nil); err != nil {
		return imu.Bias{}, err
	}
	b, ok := imu.EstimateBias(c.samples)
	if !ok {
		return imu.Bias{}, ErrNoCalibrationSamples
	}
	return b, nil
}

// RunCalibration estimates the gyro bias from the GCSV capture at logPath
// and writes it under outDir. It returns the estimate and the file written.
func RunCalibration(logPath, outDir string, log *slog.Logger) (imu.Bias, string, error) {
	f, err := os.Open(filepath.Clean(logPath))
	if err != nil {
		return imu.Bias{}, "", fmt.Errorf("open capture: %w", err)
	}
	defer f.Close()

	b, err := EstimateBiasFromGCSV(f)
	if err != nil {
		return imu.Bias{}, "", fmt.Errorf("%s: %w", logPath, err)
	}
	now := time.Now()
	b.CalibrationAt = now.UTC().Format(time.RFC3339)

	path := filepath.Join(outDir, biasFileName(now))
	if err := imu.WriteBias(path, b); err != nil {
		return b, "", err
	}
	log.Info("gyro calibration written",
		"file", path,
		"bias", b.Gyro,
		"stddev", b.StdDev,
		"confidence", b.Confidence,
		"samples", b.Samples,
	)
	return b, path, nil
}
