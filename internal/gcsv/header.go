// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package gcsv reads and writes the Gyroflow GCSV text format used to
// stream IMU samples: a header block of key,value lines opened by
// "GYROFLOW IMU LOG" and closed by the column line, followed by one
// "t,gx,gy,gz[,ax,ay,az]" line per sample.
package gcsv

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

const (
	// Magic opens a header block.
	Magic = "GYROFLOW IMU LOG"
	// Columns closes a header block.
	Columns = "t,gx,gy,gz,ax,ay,az"
)

// Header is the parsed GCSV header. Scales default to 1.
type Header struct {
	Version               string
	ID                    string
	Orientation           string
	Note                  string
	FWVersion             string
	Timestamp             string
	Vendor                string
	VideoFilename         string
	LensProfile           string
	LensInfo              string
	FrameReadoutTime      float64
	FrameReadoutDirection int
	FrameRate             float64

	// TScale converts the t column to seconds; GScale converts gyro columns
	// to rad/s; AScale converts accel columns to m/s².
	TScale float64
	GScale float64
	AScale float64

	// Extra holds keys this package does not interpret.
	Extra map[string]string
}

// DefaultHeader returns a header with unit scales.
func DefaultHeader() Header {
	return Header{TScale: 1, GScale: 1, AScale: 1}
}

func isColumnLine(line string) bool { return strings.HasPrefix(line, "t,") }
func isMagicLine(line string) bool  { return strings.HasPrefix(line, "GYROFLOW") }

// ParseHeader parses a header block. Magic, column and blank lines are
// ignored; numeric values that do not parse leave the default in place.
func ParseHeader(text string) Header {
	h := DefaultHeader()
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || isMagicLine(line) || isColumnLine(line) {
			continue
		}
		key, value, _ := strings.Cut(line, ",")
		h.set(strings.TrimSpace(key), strings.TrimSpace(value))
	}
	return h
}

func (h *Header) set(key, value string) {
	num := func(dst *float64) {
		if v, err := strconv.ParseFloat(value, 64); err == nil {
			*dst = v
		}
	}

	switch key {
	case "version":
		h.Version = value
	case "id":
		h.ID = value
	case "orientation":
		h.Orientation = value
	case "note":
		h.Note = value
	case "fwversion":
		h.FWVersion = value
	case "timestamp":
		h.Timestamp = value
	case "vendor":
		h.Vendor = value
	case "videofilename":
		h.VideoFilename = value
	case "lensprofile":
		h.LensProfile = value
	case "lens_info":
		h.LensInfo = value
	case "frame_readout_time":
		num(&h.FrameReadoutTime)
	case "frame_readout_direction":
		if v, err := strconv.Atoi(value); err == nil && v >= 0 && v <= 3 {
			h.FrameReadoutDirection = v
		}
	case "frame_rate", "fps":
		num(&h.FrameRate)
	case "tscale":
		num(&h.TScale)
	case "gscale":
		num(&h.GScale)
	case "ascale":
		num(&h.AScale)
	default:
		if h.Extra == nil {
			h.Extra = make(map[string]string)
		}
		h.Extra[key] = value
	}
}

// Format renders the header block, ending with the column line. Empty
// string fields and zero optional numbers are omitted.
func (h Header) Format() string {
	var b strings.Builder
	b.WriteString(Magic + "\n")

	str := func(k, v string) {
		if v != "" {
			fmt.Fprintf(&b, "%s,%s\n", k, v)
		}
	}
	flt := func(k string, v float64) {
		fmt.Fprintf(&b, "%s,%s\n", k, strconv.FormatFloat(v, 'g', -1, 64))
	}

	str("version", h.Version)
	str("id", h.ID)
	str("orientation", h.Orientation)
	str("note", h.Note)
	str("fwversion", h.FWVersion)
	str("timestamp", h.Timestamp)
	str("vendor", h.Vendor)
	str("videofilename", h.VideoFilename)
	str("lensprofile", h.LensProfile)
	str("lens_info", h.LensInfo)
	if h.FrameReadoutTime != 0 {
		flt("frame_readout_time", h.FrameReadoutTime)
		fmt.Fprintf(&b, "frame_readout_direction,%d\n", h.FrameReadoutDirection)
	}
	if h.FrameRate != 0 {
		flt("frame_rate", h.FrameRate)
	}
	flt("tscale", h.TScale)
	flt("gscale", h.GScale)
	flt("ascale", h.AScale)

	keys := make([]string, 0, len(h.Extra))
	for k := range h.Extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		str(k, h.Extra[k])
	}

	b.WriteString(Columns + "\n")
	return b.String()
}
