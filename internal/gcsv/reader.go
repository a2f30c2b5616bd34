// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package gcsv

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/relabs-tech/live_stabilizer/internal/imu"
)

// HeaderFunc receives the raw header text (without trailing newline) and its
// parsed form once the column line has been read.
type HeaderFunc func(text string, h Header)

// MaxLineLen is the longest line a Reader accepts. Longer lines are consumed
// and skipped like any other malformed line.
const MaxLineLen = 1 << 20

// Reader streams samples from a GCSV source. It implements imu.Source.
//
// A stream may begin with a header block; without one the default unit
// scales apply. Malformed data lines are skipped and counted.
type Reader struct {
	br       *bufio.Reader
	header   Header
	onHeader HeaderFunc
	skipped  int
}

var _ imu.Source = (*Reader)(nil)

// NewReader wraps r. onHeader may be nil.
func NewReader(r io.Reader, onHeader HeaderFunc) *Reader {
	return &Reader{br: bufio.NewReaderSize(r, 4096), header: DefaultHeader(), onHeader: onHeader}
}

// Header returns the header in effect.
func (r *Reader) Header() Header { return r.header }

// Skipped returns the number of malformed data lines dropped so far.
func (r *Reader) Skipped() int { return r.skipped }

// Next returns the next sample, or io.EOF at the end of the stream.
func (r *Reader) Next() (imu.Sample, error) {
	for {
		raw, tooLong, err := r.readLine()
		if errors.Is(err, io.EOF) {
			return imu.Sample{}, io.EOF
		}
		if err != nil {
			return imu.Sample{}, fmt.Errorf("gcsv: read: %w", err)
		}
		if tooLong {
			r.skipped++
			continue
		}
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}

		switch {
		case isMagicLine(line):
			// a header may also appear mid-stream; it replaces the old one
			if err := r.readHeader(line); err != nil {
				return imu.Sample{}, err
			}
			continue
		case isColumnLine(line):
			continue
		}

		s, err := ParseLine(line, r.header)
		if err != nil {
			r.skipped++
			continue
		}
		return s, nil
	}
}

func (r *Reader) readHeader(first string) error {
	var b strings.Builder
	b.WriteString(first)
	for {
		raw, tooLong, err := r.readLine()
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("gcsv: header not terminated by %q: %w", Columns, io.ErrUnexpectedEOF)
		}
		if err != nil {
			return fmt.Errorf("gcsv: read header: %w", err)
		}
		if tooLong {
			continue
		}
		line := strings.TrimSpace(raw)
		b.WriteByte('\n')
		b.WriteString(line)
		if isColumnLine(line) {
			text := b.String()
			r.header = ParseHeader(text)
			if r.onHeader != nil {
				r.onHeader(text, r.header)
			}
			return nil
		}
	}
}

// readLine returns the next line without its terminator. A line longer than
// MaxLineLen is read to its end and returned empty with tooLong set.
func (r *Reader) readLine() (string, bool, error) {
	var buf []byte
	tooLong := false
	for {
		chunk, more, err := r.br.ReadLine()
		if err != nil {
			if errors.Is(err, io.EOF) && (len(buf) > 0 || tooLong) {
				return string(buf), tooLong, nil
			}
			return "", false, err
		}
		if !tooLong {
			if len(buf)+len(chunk) > MaxLineLen {
				tooLong, buf = true, nil
			} else {
				buf = append(buf, chunk...)
			}
		}
		if !more {
			return string(buf), tooLong, nil
		}
	}
}
