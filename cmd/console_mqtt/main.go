// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

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
	samples := flag.Bool("samples", false, "also print raw IMU sample messages")
	flag.Parse()

	log.Println("starting stabilizer console (MQTT subscriber)")

	// Load configuration
	if err := config.InitGlobal(*configPath); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	cfg := config.Get()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.RunConsoleMQTT(ctx, cfg, os.Stdout, *samples, logging.New(cfg.LogLevel, cfg.LogFormat)); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}
