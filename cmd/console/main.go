// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package main

import (
	"flag"
	"log"
	"os"

	"github.com/relabs-tech/live_stabilizer/internal/app"
	"github.com/relabs-tech/live_stabilizer/internal/config"
	"github.com/relabs-tech/live_stabilizer/internal/logging"
)

func main() {
	configPath := flag.String("config", "", "path to configuration file (defaults when empty)")
	seconds := flag.Float64("seconds", 10, "simulated capture length")
	seed := flag.Uint64("seed", 0, "mock IMU seed (0 picks one)")
	flag.Parse()

	log.Println("starting stabilizer (mock console)")

	if err := config.InitGlobal(*configPath); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	cfg := config.Get()

	if err := app.RunMockConsole(cfg, logging.New(cfg.LogLevel, cfg.LogFormat), os.Stdout, *seconds, *seed); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}
