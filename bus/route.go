// Copyright (c) The nbus Authors
// SPDX-License-Identifier: BSD-3-Clause

package bus

import (
	"fmt"

	"nbus.dev/wire"
)

// route delivers an already-encoded frame to every endpoint whose
// bindings match name.
//
// The whole of resolution, id assignment, and fan-out happens under
// the bus lock, so the destination set is a consistent snapshot: an
// endpoint detaching concurrently either receives the message or is
// not a destination at all, and every queue observes messages in the
// bus-global id order.
//
// A send with no matching binding fails with ErrAddressNotAvailable
// and has no effect: no id is consumed and no queue is touched.
// Likewise, when a bounded queue of a guaranteed destination is full
// the send fails with ErrQueueFull before any delivery. Best-effort
// destinations never fail a send; an over-full one just doesn't
// receive this message.
func (b *Bus) route(src *Endpoint, name string, frame []byte) (uint32, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0, ErrBusClosed
	}
	if !b.attachedLocked(src) {
		return 0, fmt.Errorf("%w: endpoint closed", ErrBadFileDescriptor)
	}

	dests := b.table.matchEndpoints(name, b.match)
	if len(dests) == 0 {
		b.noListener.Add(1)
		return 0, fmt.Errorf("%w: %q", ErrAddressNotAvailable, name)
	}

	if b.maxQueued > 0 {
		for ep, guaranteed := range dests {
			if guaranteed && ep.q.pending() >= b.maxQueued {
				return 0, fmt.Errorf("%w: endpoint %d", ErrQueueFull, ep.id)
			}
		}
	}

	b.lastMsgID++
	id := b.lastMsgID
	wire.Stamp(frame, id, src.id)

	for ep := range dests {
		if b.maxQueued > 0 && ep.q.pending() >= b.maxQueued {
			b.dropped.Add(1)
			b.dropLogf("bus: dropped message %d (%s) for endpoint %d: queue full", id, name, ep.id)
			continue
		}
		ep.q.push(frame)
	}
	b.routed.Add(1)
	return id, nil
}
