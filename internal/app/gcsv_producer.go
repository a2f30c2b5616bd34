// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/relabs-tech/live_stabilizer/internal/gcsv"
	"github.com/relabs-tech/live_stabilizer/internal/imu"
)

// ProducerHeader is the header the GCSV producer announces.
func ProducerHeader(hz float64) gcsv.Header {
	h := gcsv.DefaultHeader()
	h.Version = "1.3"
	h.ID = "live_stabilizer_producer"
	h.Orientation = "YxZ"
	h.Note = "development_test"
	h.Vendor = "relabs"
	h.FrameRate = hz
	h.TScale = 1e-6 // t column in microseconds
	return h
}

// ProduceGCSV writes h, then up to limit samples from src (limit <= 0 means
// unbounded) to w. A positive period paces the writes; zero writes as fast
// as possible. It returns the number of samples written.
func ProduceGCSV(ctx context.Context, w io.Writer, src imu.Source, h gcsv.Header, period time.Duration, limit int) (int, error) {
	bw := bufio.NewWriter(w)
	if _, err := bw.WriteString(h.Format()); err != nil {
		return 0, err
	}

	var tick <-chan time.Time
	if period > 0 {
		t := time.NewTicker(period)
		defer t.Stop()
		tick = t.C
	}

	n := 0
	for limit <= 0 || n < limit {
		if tick != nil {
			select {
			case <-ctx.Done():
				return n, bw.Flush()
			case <-tick:
			}
		} else if ctx.Err() != nil {
			return n, bw.Flush()
		}

		s, err := src.Next()
		if err != nil {
			bw.Flush()
			return n, err
		}
		if _, err := bw.WriteString(gcsv.FormatLine(s, h) + "\n"); err != nil {
			return n, err
		}
		n++
		if tick != nil {
			if err := bw.Flush(); err != nil {
				return n, err
			}
		}
	}
	return n, bw.Flush()
}

// RunGCSVProducer connects to the live daemon's line server, retrying every
// second until it answers, and streams mock samples at hz until ctx is
// cancelled or the connection drops.
func RunGCSVProducer(ctx context.Context, addr string, hz float64, log *slog.Logger) error {
	log = log.With("component", "gcsv_producer")
	log.Info("connecting", "addr", addr)

	var d net.Dialer
	var conn net.Conn
	for {
		var err error
		conn, err = d.DialContext(ctx, "tcp", addr)
		if err == nil {
			break
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(time.Second):
		}
	}
	defer conn.Close()
	log.Info("connected", "addr", addr, "hz", hz)

	src := imu.NewMockSource(hz, 0)
	n, err := ProduceGCSV(ctx, conn, src, ProducerHeader(hz), src.Period(), 0)
	log.Info("stopped", "samples", n)
	if ctx.Err() != nil {
		return nil
	}
	return err
}
