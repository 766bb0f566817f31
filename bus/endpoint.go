// Copyright (c) The nbus Authors
// SPDX-License-Identifier: BSD-3-Clause

package bus

import (
	"fmt"
	"sync"
	"sync/atomic"

	"nbus.dev/wire"
)

// An Endpoint is one attached participant on the Bus: the handle
// through which a process binds names, sends messages, and drains its
// own queue. The device-like contract applies: writes carry exactly
// one whole message, and reads must ask for exactly the head
// message's length.
//
// An Endpoint's queue assumes a single reader. Control operations and
// Send are safe to call concurrently with reads and with each other.
type Endpoint struct {
	bus      *Bus
	id       uint32
	readOnly bool
	nonblock atomic.Bool
	q        *endpointQueue

	closeOnce sync.Once
}

// BoundAs returns the bus-assigned id of this endpoint.
func (e *Endpoint) BoundAs() uint32 { return e.id }

// SetNonblock switches the endpoint between blocking reads (the
// default: Read waits for a message) and non-blocking reads (an empty
// queue yields zero bytes immediately). It mirrors O_NONBLOCK and may
// be toggled at any time.
func (e *Endpoint) SetNonblock(on bool) { e.nonblock.Store(on) }

// Bind declares this endpoint's interest in name. With isReplier set
// it claims the name's unique replier slot, failing with
// [ErrAddressInUse] if another binding already holds it. Listener
// bindings are unrestricted; binding the same name repeatedly creates
// that many separate bindings. With isGuaranteed set, routed messages
// matching this binding are never silently dropped.
func (e *Endpoint) Bind(name string, isReplier, isGuaranteed bool) error {
	b := e.bus
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.attachedLocked(e) {
		return fmt.Errorf("%w: endpoint closed", ErrBadFileDescriptor)
	}
	return b.table.bind(e, name, isReplier, isGuaranteed)
}

// Unbind removes one binding matching name and both flags exactly,
// failing with [ErrInvalidArgument] when no such binding exists. With
// duplicate bindings in place, each Unbind removes a single one.
func (e *Endpoint) Unbind(name string, isReplier, isGuaranteed bool) error {
	b := e.bus
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.attachedLocked(e) {
		return fmt.Errorf("%w: endpoint closed", ErrBadFileDescriptor)
	}
	return b.table.unbind(e, name, isReplier, isGuaranteed)
}

// FindReplier returns the id of the endpoint bound as replier for the
// exact name, if any.
func (e *Endpoint) FindReplier(name string) (uint32, bool) {
	b := e.bus
	b.mu.Lock()
	defer b.mu.Unlock()
	rep, ok := b.table.findReplier(name)
	if !ok {
		return 0, false
	}
	return rep.id, true
}

// Reset clears the whole bus: see [Bus.Reset].
func (e *Endpoint) Reset() { e.bus.Reset() }

// NextMessageLen returns the encoded byte length of the next queued
// message, or 0 if none is pending. The value stays valid until that
// message is read.
func (e *Endpoint) NextMessageLen() int { return e.q.nextLen() }

// Read consumes the endpoint's next queued message, whose encoded
// length must be exactly n bytes (as reported by
// [Endpoint.NextMessageLen]); any other n fails with
// [ErrInvalidArgument] and leaves the queue untouched.
//
// An empty queue is not an error: a non-blocking endpoint returns
// (nil, nil) immediately, a blocking one waits for a message. Read
// returns io.EOF once the endpoint is closed.
func (e *Endpoint) Read(n int) ([]byte, error) {
	for {
		frame, wait, err := e.q.tryPop(n)
		if err != nil || frame != nil {
			return frame, err
		}
		if e.nonblock.Load() {
			return nil, nil
		}
		<-wait
	}
}

// ReadMessage reads and decodes the next queued message, whatever its
// length. Blocking and empty-queue behavior are as for
// [Endpoint.Read]: a non-blocking endpoint with nothing pending
// returns (nil, nil).
func (e *Endpoint) ReadMessage() (*wire.Message, error) {
	for {
		frame, wait, err := e.q.popHead()
		if err != nil {
			return nil, err
		}
		if frame != nil {
			return wire.Decode(frame)
		}
		if e.nonblock.Load() {
			return nil, nil
		}
		<-wait
	}
}

// Close detaches the endpoint from the bus: all its bindings are
// removed atomically, its queue is discarded, and any reader blocked
// on it is woken with io.EOF. Close is idempotent, and a closed
// endpoint fails every other operation with [ErrBadFileDescriptor]
// (reads fail with io.EOF).
func (e *Endpoint) Close() {
	e.closeOnce.Do(func() {
		e.bus.detach(e)
	})
}

// Send routes one message to every endpoint bound to m.Name,
// returning the bus-assigned message id. The codec's validation
// errors propagate unchanged; a name nobody is bound to fails with
// [ErrAddressNotAvailable] before any state changes. m.ID and m.From
// are ignored: the bus stamps both during routing.
func (e *Endpoint) Send(m *wire.Message) (uint32, error) {
	if e.readOnly {
		return 0, fmt.Errorf("%w: endpoint %d is read-only", ErrBadFileDescriptor, e.id)
	}
	frame, err := m.Encode()
	if err != nil {
		return 0, err
	}
	return e.bus.route(e, m.Name, frame)
}
