// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// ./cmd/calibration/main.go
//
// Static gyro bias calibration from a GCSV capture.
//
// Record a few seconds of GCSV with the device lying still, then:
//
//	go run ./cmd/calibration -in still.gcsv
//
// The bias (per-axis mean), its standard deviation and a stillness
// confidence are written as JSON under CALIBRATIONS_PATH. Point
// GYRO_BIAS_FILE at the result to have the live daemon subtract it.
package main

import (
	"flag"
	"fmt"
	"log"

	"github.com/relabs-tech/live_stabilizer/internal/app"
	"github.com/relabs-tech/live_stabilizer/internal/config"
	"github.com/relabs-tech/live_stabilizer/internal/logging"
)

func main() {
	configPath := flag.String("config", "", "path to configuration file (defaults when empty)")
	input := flag.String("in", "", "GCSV capture of the device lying still")
	flag.Parse()

	if *input == "" {
		log.Fatalf("-in is required")
	}
	if err := config.InitGlobal(*configPath); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	cfg := config.Get()

	b, path, err := app.RunCalibration(*input, cfg.CalibrationsPath, logging.New(cfg.LogLevel, cfg.LogFormat))
	if err != nil {
		log.Fatalf("fatal: %v", err)
	}

	fmt.Printf("gyro bias    : [% .6f % .6f % .6f] rad/s\n", b.Gyro[0], b.Gyro[1], b.Gyro[2])
	fmt.Printf("gyro stddev  : [% .6f % .6f % .6f] rad/s\n", b.StdDev[0], b.StdDev[1], b.StdDev[2])
	fmt.Printf("confidence   : %.2f (%d samples over %.1fs)\n", b.Confidence, b.Samples, b.DurationSec)
	fmt.Printf("written to   : %s\n", path)
}
