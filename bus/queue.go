// Copyright (c) The nbus Authors
// SPDX-License-Identifier: BSD-3-Clause

package bus

import (
	"bytes"
	"fmt"
	"io"
	"sync"
)

// endpointQueue is one endpoint's FIFO of routed, encoded frames.
//
// The router appends under the bus lock; the endpoint's reader pops
// under the queue's own lock, so independent readers never contend on
// the bus. Frames are shared between destination queues and copied
// out on pop.
type endpointQueue struct {
	mu     sync.Mutex
	frames [][]byte
	closed bool
	wake   chan struct{} // lazily made by waiting readers, closed on push/close
}

func (q *endpointQueue) push(frame []byte) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.frames = append(q.frames, frame)
	q.wakeLocked()
}

func (q *endpointQueue) wakeLocked() {
	if q.wake != nil {
		close(q.wake)
		q.wake = nil
	}
}

// pending returns the number of queued frames.
func (q *endpointQueue) pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.frames)
}

// nextLen returns the byte length of the head frame, or 0 if the
// queue is empty or closed. The value is stable until the head is
// popped, assuming a single reader.
func (q *endpointQueue) nextLen() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.frames) == 0 {
		return 0
	}
	return len(q.frames[0])
}

// tryPop attempts to consume the head frame, which must be exactly n
// bytes long. Exactly one of its results is meaningful:
//
//   - a non-nil frame on success;
//   - a non-nil wait channel when the queue is empty, closed when the
//     queue next becomes readable;
//   - a non-nil error: io.EOF once the queue is closed, or
//     ErrInvalidArgument when n is not the head frame's length.
func (q *endpointQueue) tryPop(n int) (frame []byte, wait <-chan struct{}, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil, nil, io.EOF
	}
	if len(q.frames) == 0 {
		if q.wake == nil {
			q.wake = make(chan struct{})
		}
		return nil, q.wake, nil
	}
	head := q.frames[0]
	if n != len(head) {
		return nil, nil, fmt.Errorf("%w: read of %d bytes, next message is %d", ErrInvalidArgument, n, len(head))
	}
	q.frames[0] = nil
	q.frames = q.frames[1:]
	return bytes.Clone(head), nil, nil
}

// popHead is tryPop without the length check, for callers that want
// the whole head frame regardless of size.
func (q *endpointQueue) popHead() (frame []byte, wait <-chan struct{}, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil, nil, io.EOF
	}
	if len(q.frames) == 0 {
		if q.wake == nil {
			q.wake = make(chan struct{})
		}
		return nil, q.wake, nil
	}
	head := q.frames[0]
	q.frames[0] = nil
	q.frames = q.frames[1:]
	return bytes.Clone(head), nil, nil
}

// drain discards all queued frames, keeping the queue usable.
func (q *endpointQueue) drain() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.frames = nil
}

// close discards the queue and wakes any blocked reader; subsequent
// reads return io.EOF.
func (q *endpointQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.frames = nil
	q.wakeLocked()
}
