// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package imu

import (
	"iter"
	"math"
	"sync"

	"github.com/relabs-tech/live_stabilizer/internal/clocksync"
)

// compactMin is the number of dead slots at the front of the backing slice
// that triggers a compaction.
const compactMin = 256

// Ring is a bounded, time-ordered buffer of samples expressed in video-clock
// time. Samples older than the retention horizon relative to the caller's
// "now" are evicted on every Push.
//
// One goroutine pushes; any number may read concurrently. Readers always work
// on a copy taken under the read lock, so a concurrent push or eviction never
// invalidates an iteration in progress.
type Ring struct {
	mu          sync.RWMutex
	buf         []Entry
	head        int // index of the oldest live entry in buf
	retentionUS int64
}

// NewRing creates a ring keeping retentionUS microseconds of history.
// Negative retention is treated as zero.
func NewRing(retentionUS int64) *Ring {
	return &Ring{retentionUS: max(0, retentionUS)}
}

// Retention returns the current retention horizon in microseconds.
func (r *Ring) Retention() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.retentionUS
}

// SetRetention changes the retention horizon. It takes effect on the next Push.
func (r *Ring) SetRetention(retentionUS int64) {
	r.mu.Lock()
	r.retentionUS = max(0, retentionUS)
	r.mu.Unlock()
}

// Push converts s into the video clock, appends it, and evicts entries from
// the front while nowVideoUS - front.TimeUS > retention. Entries exactly at the
// horizon are kept. Out-of-order timestamps are accepted as given.
func (r *Ring) Push(s Sample, nowVideoUS int64, cm clocksync.Map) {
	e := Entry{TimeUS: cm.ToVideoUS(s.SensorTimeUS), Gyro: s.Gyro, Accel: s.Accel}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.buf = append(r.buf, e)
	cutoff := horizon(nowVideoUS, r.retentionUS)
	for r.head < len(r.buf) && r.buf[r.head].TimeUS < cutoff {
		r.buf[r.head] = Entry{}
		r.head++
	}
	r.compact()
}

// horizon returns nowUS - retentionUS, saturating at the int64 minimum.
func horizon(nowUS, retentionUS int64) int64 {
	if nowUS < math.MinInt64+retentionUS {
		return math.MinInt64
	}
	return nowUS - retentionUS
}

// compact slides live entries to the front once the dead prefix is both large
// and at least half the slice, which keeps Push amortized O(1).
func (r *Ring) compact() {
	if r.head == len(r.buf) {
		r.buf = r.buf[:0]
		r.head = 0
		return
	}
	if r.head < compactMin || r.head*2 < len(r.buf) {
		return
	}
	n := copy(r.buf, r.buf[r.head:])
	clear(r.buf[n:])
	r.buf = r.buf[:n]
	r.head = 0
}

// Len returns the number of live entries.
func (r *Ring) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.buf) - r.head
}

// Snapshot returns a copy of the live entries in insertion order.
func (r *Ring) Snapshot() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Entry, len(r.buf)-r.head)
	copy(out, r.buf[r.head:])
	return out
}

// Window returns the entries whose time lies in [startUS, endUS]. Each range
// over the returned sequence takes a fresh consistent view of the ring and
// never mutates it.
func (r *Ring) Window(startUS, endUS int64) iter.Seq[Entry] {
	return func(yield func(Entry) bool) {
		r.mu.RLock()
		var view []Entry
		for _, e := range r.buf[r.head:] {
			if e.TimeUS >= startUS && e.TimeUS <= endUS {
				view = append(view, e)
			}
		}
		r.mu.RUnlock()

		for _, e := range view {
			if !yield(e) {
				return
			}
		}
	}
}

// Reset drops every entry.
func (r *Ring) Reset() {
	r.mu.Lock()
	clear(r.buf)
	r.buf = r.buf[:0]
	r.head = 0
	r.mu.Unlock()
}
