// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// ErrQueueClosed is returned by Push after Close.
var ErrQueueClosed = errors.New("pipeline: queue closed")

// Queue is a bounded FIFO whose producers never block: pushing onto a full
// queue evicts the oldest element. Consumers block in Pop until an element
// arrives, the queue is closed and drained, or the context ends.
type Queue[T any] struct {
	mu     sync.Mutex
	buf    []T
	head   int
	n      int
	closed bool

	ready   chan struct{} // capacity 1, signalled on push
	done    chan struct{} // closed on Close
	once    sync.Once
	dropped atomic.Uint64
}

// NewQueue returns a queue holding at most capacity elements (minimum 1).
func NewQueue[T any](capacity int) *Queue[T] {
	return &Queue[T]{
		buf:   make([]T, max(capacity, 1)),
		ready: make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
}

// Push appends v. It reports whether an older element was evicted to make
// room.
func (q *Queue[T]) Push(v T) (evicted bool, err error) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false, ErrQueueClosed
	}
	if q.n == len(q.buf) {
		var zero T
		q.buf[q.head] = zero
		q.head = (q.head + 1) % len(q.buf)
		q.n--
		evicted = true
		q.dropped.Add(1)
	}
	q.buf[(q.head+q.n)%len(q.buf)] = v
	q.n++
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
	return evicted, nil
}

// TryPop removes the oldest element without blocking.
func (q *Queue[T]) TryPop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var zero T
	if q.n == 0 {
		return zero, false
	}
	v := q.buf[q.head]
	q.buf[q.head] = zero
	q.head = (q.head + 1) % len(q.buf)
	q.n--
	return v, true
}

// Pop removes the oldest element, waiting for one if necessary. ok is false
// once the queue is closed and empty, or when ctx ends.
func (q *Queue[T]) Pop(ctx context.Context) (v T, ok bool) {
	for {
		if v, ok = q.TryPop(); ok {
			// pass the wakeup on if more is queued
			if q.Len() > 0 {
				select {
				case q.ready <- struct{}{}:
				default:
				}
			}
			return v, true
		}
		select {
		case <-q.ready:
		case <-q.done:
			return q.TryPop()
		case <-ctx.Done():
			return v, false
		}
	}
}

// Close stops accepting elements and wakes every waiting consumer. Queued
// elements can still be popped.
func (q *Queue[T]) Close() {
	q.once.Do(func() {
		q.mu.Lock()
		q.closed = true
		q.mu.Unlock()
		close(q.done)
	})
}

// Len returns the number of queued elements.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.n
}

// Cap returns the capacity.
func (q *Queue[T]) Cap() int { return len(q.buf) }

// Dropped returns the number of elements evicted so far.
func (q *Queue[T]) Dropped() uint64 { return q.dropped.Load() }
