// Copyright (c) The nbus Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package bus implements a process-wide, name-addressed message bus.
//
// Endpoints attach to a Bus, bind hierarchical message names to
// declare interest, and exchange wire-encoded messages. Each message
// name admits many listener bindings but at most one replier binding
// bus-wide. Sending resolves the message name against the binding
// table and fans the encoded frame out to every interested endpoint's
// queue, atomically and in a single bus-global id order.
package bus

import (
	"errors"
	"expvar"
	"fmt"
	"sync"
	"time"

	"nbus.dev/types/logger"
)

var (
	// ErrInvalidArgument is returned for malformed control requests:
	// a bad binding name, an unbind with no exactly-matching binding,
	// or a read of the wrong length.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrAddressInUse is returned by Bind when a replier binding
	// already exists for the requested name.
	ErrAddressInUse = errors.New("replier already bound")

	// ErrAddressNotAvailable is returned by Send when no endpoint is
	// bound to the message name.
	ErrAddressNotAvailable = errors.New("no endpoint bound to name")

	// ErrBadFileDescriptor is returned for operations the endpoint
	// handle cannot perform: Send on a read-only endpoint, or any
	// operation on a closed one.
	ErrBadFileDescriptor = errors.New("operation not permitted on this endpoint")

	// ErrQueueFull is returned by Send when a destination with a
	// guaranteed binding has no queue space. Best-effort destinations
	// never fail a send; their messages are dropped instead.
	ErrQueueFull = errors.New("destination queue full")

	// ErrBusClosed is returned for operations on a closed Bus.
	ErrBusClosed = errors.New("bus closed")
)

// A Bus owns the binding table, the message-id counter, and the set
// of attached endpoints with their queues. All mutating operations
// (bind, unbind, detach, routing) serialize on a single lock, so a
// send always observes a consistent binding snapshot for the whole of
// its fan-out.
type Bus struct {
	logf     logger.Logf
	dropLogf logger.Logf // rate limited; drops can be per-message spammy

	mu        sync.Mutex
	closed    bool
	match     MatchPolicy
	maxQueued int // per-endpoint queue bound; 0 means unbounded
	lastMsgID uint32
	lastEndID uint32
	endpoints map[uint32]*Endpoint
	table     bindingTable

	routed     expvar.Int // messages accepted and fanned out
	dropped    expvar.Int // best-effort deliveries dropped on full queues
	noListener expvar.Int // sends failed for lack of any binding
}

// New returns a new Bus. Messages and control requests are exchanged
// through endpoint handles obtained from [Bus.Attach].
func New(logf logger.Logf) *Bus {
	if logf == nil {
		panic("bus.New: nil logf")
	}
	return &Bus{
		logf:      logf,
		dropLogf:  logger.RateLimitedFn(logf, 5*time.Second, 3, 16),
		match:     ExactMatch,
		endpoints: make(map[uint32]*Endpoint),
	}
}

// SetMatchPolicy sets the policy deciding which binding names match a
// message name. The default is [ExactMatch]. It must be called before
// any endpoint attaches.
func (b *Bus) SetMatchPolicy(p MatchPolicy) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.endpoints) > 0 {
		panic("bus.SetMatchPolicy: endpoints already attached")
	}
	b.match = p
}

// SetMaxQueueDepth bounds every endpoint queue to n pending messages.
// Zero (the default) means unbounded. With a bound in place, sends
// fail with [ErrQueueFull] when a guaranteed destination is full, and
// silently drop (with a counter and a rate-limited log line) for
// best-effort destinations.
func (b *Bus) SetMaxQueueDepth(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maxQueued = n
}

// Attach creates a new read-write endpoint on the bus.
func (b *Bus) Attach() (*Endpoint, error) {
	return b.attach(false)
}

// AttachReadOnly creates an endpoint that can bind and read but whose
// Send fails with [ErrBadFileDescriptor].
func (b *Bus) AttachReadOnly() (*Endpoint, error) {
	return b.attach(true)
}

func (b *Bus) attach(readOnly bool) (*Endpoint, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrBusClosed
	}
	b.lastEndID++
	ep := &Endpoint{
		bus:      b,
		id:       b.lastEndID,
		readOnly: readOnly,
		q:        &endpointQueue{},
	}
	b.endpoints[ep.id] = ep
	return ep, nil
}

// detach removes ep from the bus: all its bindings go away atomically
// and its queue is closed, waking any blocked reader.
func (b *Bus) detach(ep *Endpoint) {
	b.mu.Lock()
	if b.endpoints[ep.id] == ep {
		delete(b.endpoints, ep.id)
		b.table.removeOwner(ep)
	}
	b.mu.Unlock()
	ep.q.close()
}

// attachedLocked reports whether ep is still registered.
// Callers must hold b.mu.
func (b *Bus) attachedLocked(ep *Endpoint) bool {
	return b.endpoints[ep.id] == ep
}

// Reset clears the entire bus state as one atomic operation: every
// binding is removed and every endpoint queue is emptied. Endpoints
// stay attached and the message-id counter is preserved, so ids
// remain unique for the lifetime of the Bus.
func (b *Bus) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.table.reset()
	for _, ep := range b.endpoints {
		ep.q.drain()
	}
}

// Close detaches every endpoint and marks the bus unusable. Blocked
// readers are woken with io.EOF. Close is idempotent.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	eps := make([]*Endpoint, 0, len(b.endpoints))
	for _, ep := range b.endpoints {
		eps = append(eps, ep)
	}
	clear(b.endpoints)
	b.table.reset()
	b.mu.Unlock()

	for _, ep := range eps {
		ep.q.close()
	}
}

// A BindingInfo describes one entry of the binding table.
type BindingInfo struct {
	Endpoint     uint32
	IsReplier    bool
	IsGuaranteed bool
	Name         string
}

// Bindings returns a snapshot of the binding table. The ordering of
// the returned slice is unspecified; callers should compare it as a
// set.
func (b *Bus) Bindings() []BindingInfo {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.table.snapshot()
}

// ExpVar returns the bus's counters in expvar form, suitable for
// expvar.Publish.
func (b *Bus) ExpVar() expvar.Var {
	m := new(expvar.Map).Init()
	m.Set("counter_messages_routed", &b.routed)
	m.Set("counter_messages_dropped", &b.dropped)
	m.Set("counter_sends_no_listener", &b.noListener)
	m.Set("gauge_endpoints", expvar.Func(func() any {
		b.mu.Lock()
		defer b.mu.Unlock()
		return len(b.endpoints)
	}))
	m.Set("gauge_bindings", expvar.Func(func() any {
		b.mu.Lock()
		defer b.mu.Unlock()
		return len(b.table.entries)
	}))
	return m
}

func (b *Bus) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return fmt.Sprintf("Bus(endpoints=%d, bindings=%d, lastID=%d)",
		len(b.endpoints), len(b.table.entries), b.lastMsgID)
}
