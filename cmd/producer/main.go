// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Command producer streams mock GCSV samples to the live daemon over TCP.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/relabs-tech/live_stabilizer/internal/app"
	"github.com/relabs-tech/live_stabilizer/internal/config"
	"github.com/relabs-tech/live_stabilizer/internal/logging"
)

func main() {
	configPath := flag.String("config", "./live_stabilizer.env", "path to configuration file")
	hz := flag.Float64("hz", 200, "sample rate")
	flag.Parse()

	log.Println("starting GCSV producer (mock IMU → TCP)")

	if err := config.InitGlobal(*configPath); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	cfg := config.Get()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err := app.RunGCSVProducer(ctx, cfg.IMUListenAddr, *hz, logger); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}
