// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package orientation

import (
	"slices"
	"sync"
	"sync/atomic"

	"gonum.org/v1/gonum/num/quat"
)

// Query describes a point-in-time lookup on the video timeline.
// All fields are milliseconds except CenterRatio.
type Query struct {
	TargetMS    float64
	PreMS       float64
	PostMS      float64
	CenterRatio float64
	FallbackOK  bool
}

type queryUS struct {
	target, pre, post int64
	ratio             float64
}

func (q Query) us() queryUS {
	return queryUS{
		target: msToUS(q.TargetMS),
		pre:    msToUS(q.PreMS),
		post:   msToUS(q.PostMS),
		ratio:  q.CenterRatio,
	}
}

func (q queryUS) covers(w *Window) bool   { return w.CoversWithPadding(q.target, q.pre, q.post) }
func (q queryUS) centered(w *Window) bool { return w.IsCenteredFor(q.target, q.ratio) }

// Store is a concurrent, publish-ordered collection of windows.
//
// Publishers append in non-decreasing time order; the store does not check.
// Windows are handed out by pointer and never mutated, so a reader keeps a
// valid window even after the store prunes its own reference.
type Store struct {
	mu      sync.RWMutex
	windows []*Window
	version atomic.Uint64
	pruned  atomic.Uint64
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{}
}

// Publish appends w and returns the new version.
func (s *Store) Publish(w *Window) uint64 {
	s.mu.Lock()
	s.windows = append(s.windows, w)
	v := s.version.Add(1)
	s.mu.Unlock()
	return v
}

// Version returns the number of publishes so far. It does not take the lock.
func (s *Store) Version() uint64 { return s.version.Load() }

// Pruned returns the total number of windows removed by Select and
// RetireBefore.
func (s *Store) Pruned() uint64 { return s.pruned.Load() }

// Len returns the number of windows held.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.windows)
}

// Windows returns a copy of the current sequence, oldest first.
func (s *Store) Windows() []*Window {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.windows)
}

// Latest returns the most recently published window.
func (s *Store) Latest() (*Window, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.windows) == 0 {
		return nil, false
	}
	return s.windows[len(s.windows)-1], true
}

// resolve scans newest to oldest and returns the index of the window that
// answers q, or -1.
func (s *Store) resolve(q queryUS, fallbackOK bool) int {
	coverIdx := -1
	for i := len(s.windows) - 1; i >= 0; i-- {
		w := s.windows[i]
		if !q.covers(w) {
			continue
		}
		if q.centered(w) {
			return i
		}
		if coverIdx < 0 {
			coverIdx = i
		}
	}
	if fallbackOK {
		return coverIdx
	}
	return -1
}

// WindowForTime returns the window Select would choose, without pruning.
func (s *Store) WindowForTime(q Query) (*Window, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i := s.resolve(q.us(), q.FallbackOK)
	if i < 0 {
		return nil, false
	}
	return s.windows[i], true
}

// Select picks the newest window that covers the target with padding and is
// centered on it, falling back to the newest merely covering window when
// q.FallbackOK is set. Older windows that are also covering and centered for
// the same target are then pruned as redundant.
//
// The choice is made under the read lock. The write phase re-locates the
// chosen window in the current sequence, since concurrent publishes or prunes
// may have shifted it, and skips pruning if it is no longer there.
func (s *Store) Select(q Query) (*Window, uint64, bool) {
	qu := q.us()

	s.mu.RLock()
	idx := s.resolve(qu, q.FallbackOK)
	var chosen *Window
	if idx >= 0 {
		chosen = s.windows[idx]
	}
	s.mu.RUnlock()

	if chosen == nil {
		return nil, s.version.Load(), false
	}

	s.mu.Lock()
	s.pruneRedundant(chosen, idx, qu)
	s.mu.Unlock()

	return chosen, s.version.Load(), true
}

// pruneRedundant removes the windows older than chosen that are covering and
// centered for q. hint is where chosen sat when it was picked; if the
// sequence has changed since, chosen is looked up again, and nothing is
// removed when it is gone. The caller holds the write lock.
func (s *Store) pruneRedundant(chosen *Window, hint int, q queryUS) int {
	idx := hint
	if idx < 0 || idx >= len(s.windows) || s.windows[idx] != chosen {
		idx = slices.Index(s.windows, chosen)
	}
	removed := 0
	for i := 0; i < idx; {
		w := s.windows[i]
		if q.covers(w) && q.centered(w) {
			s.windows = slices.Delete(s.windows, i, i+1)
			idx--
			removed++
			continue
		}
		i++
	}
	s.pruned.Add(uint64(removed))
	return removed
}

// OrientationAt selects a window with fallback enabled and interpolates it at
// the target time.
func (s *Store) OrientationAt(tMS, preMS, postMS, centerRatio float64) (quat.Number, bool) {
	w, _, ok := s.Select(Query{
		TargetMS:    tMS,
		PreMS:       preMS,
		PostMS:      postMS,
		CenterRatio: centerRatio,
		FallbackOK:  true,
	})
	if !ok {
		return quat.Number{}, false
	}
	return w.ValueAtMS(tMS)
}

// RetireBefore removes every window whose LastUS is before cutoffUS, except
// the newest one. It returns the number removed.
func (s *Store) RetireBefore(cutoffUS int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.windows) < 2 {
		return 0
	}
	last := len(s.windows) - 1
	kept := make([]*Window, 0, len(s.windows))
	for _, w := range s.windows[:last] {
		if w.LastUS() >= cutoffUS {
			kept = append(kept, w)
		}
	}
	removed := last - len(kept)
	if removed == 0 {
		return 0
	}
	s.windows = append(kept, s.windows[last])
	s.pruned.Add(uint64(removed))
	return removed
}

// Reset drops every window. The version counter keeps counting.
func (s *Store) Reset() {
	s.mu.Lock()
	s.windows = nil
	s.mu.Unlock()
}
