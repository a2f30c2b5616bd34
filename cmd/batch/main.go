// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Command batch loads a per-frame quaternion CSV into overlapping windows
// and writes the orientation of every frame, original and stabilized, as CSV.
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
	configPath := flag.String("config", "./live_stabilizer.env", "path to configuration file")
	input := flag.String("in", "", "per-frame quaternion CSV")
	output := flag.String("out", "", "output CSV (default stdout)")
	flag.Parse()

	if *input == "" {
		log.Fatalf("-in is required")
	}
	if err := config.InitGlobal(*configPath); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	cfg := config.Get()

	out := os.Stdout
	if *output != "" {
		f, err := os.Create(*output)
		if err != nil {
			log.Fatalf("failed to create output: %v", err)
		}
		defer f.Close()
		out = f
	}

	sum, err := app.RunBatch(cfg, *input, out, logging.New(cfg.LogLevel, cfg.LogFormat))
	if err != nil {
		log.Fatalf("fatal: %v", err)
	}
	log.Printf("batch: %d frames, %d without orientation", sum.Frames, sum.Missing)
}
