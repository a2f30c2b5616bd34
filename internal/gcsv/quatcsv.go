// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package gcsv

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/num/quat"

	"github.com/relabs-tech/live_stabilizer/internal/orientation"
)

// QuatStream picks which quaternion columns of a per-frame CSV to load.
type QuatStream int

const (
	// Original is the camera orientation as recorded.
	Original QuatStream = iota
	// Stabilized is the smoothed orientation.
	Stabilized
)

// Per-frame CSV layout (0-based columns).
const (
	colTimestampMS = 1
	colOrgQuatW    = 11
	colStabQuatW   = 19
	quatCSVCols    = 26
)

// ReadQuaternionCSV reads one quaternion stream from a per-frame CSV with a
// header row and 26 columns: frame, timestamp_ms, original accel, euler and
// gyro, original quaternion w,x,y,z (11-14), focus distance, stabilized
// euler, stabilized quaternion w,x,y,z (19-22), focal length and FOV scales.
//
// Rows whose quaternion is not finite are skipped. A row with the wrong
// column count or an unparsable number is an error naming its line.
// Samples come back in file order.
func ReadQuaternionCSV(r io.Reader, stream QuatStream) ([]orientation.TimedQuat, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	if _, err := cr.Read(); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("quaternion csv: header: %w", err)
	}

	qcol := colOrgQuatW
	if stream == Stabilized {
		qcol = colStabQuatW
	}

	var out []orientation.TimedQuat
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("quaternion csv line %d: %w", line, err)
		}
		if len(rec) != quatCSVCols {
			return nil, fmt.Errorf("quaternion csv line %d: expected %d columns, got %d", line, quatCSVCols, len(rec))
		}

		var v [5]float64
		for i, c := range []int{colTimestampMS, qcol, qcol + 1, qcol + 2, qcol + 3} {
			f, err := strconv.ParseFloat(strings.TrimSpace(rec[c]), 64)
			if err != nil {
				return nil, fmt.Errorf("quaternion csv line %d col %d: %w", line, c, err)
			}
			v[i] = f
		}

		q := quat.Number{Real: v[1], Imag: v[2], Jmag: v[3], Kmag: v[4]}
		if !orientation.IsFinite(q) || math.IsNaN(v[0]) || math.IsInf(v[0], 0) {
			continue
		}
		out = append(out, orientation.TimedQuat{TimeUS: int64(math.Round(v[0] * 1000)), Q: q})
	}
}

// LoadQuaternionFile is ReadQuaternionCSV on a file path.
func LoadQuaternionFile(path string, stream QuatStream) ([]orientation.TimedQuat, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("open quaternion csv: %w", err)
	}
	defer f.Close()

	out, err := ReadQuaternionCSV(f, stream)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return out, nil
}
