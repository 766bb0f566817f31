// Copyright (c) The nbus Authors
// SPDX-License-Identifier: BSD-3-Clause

package bus

import (
	"fmt"
	"slices"

	"nbus.dev/wire"
)

// A binding records one declared interest: an endpoint wants messages
// whose name matches name, optionally as the name's unique replier,
// optionally with guaranteed (never silently dropped) delivery.
type binding struct {
	owner      *Endpoint
	name       string
	replier    bool
	guaranteed bool
}

// bindingTable is the bus-wide set of bindings, kept in insertion
// order. Duplicate listener bindings are legal and occupy separate
// entries; unbind removes the first matching entry only. The table is
// not itself locked: the Bus serializes all access under its lock.
type bindingTable struct {
	entries []binding
}

func (t *bindingTable) bind(ep *Endpoint, name string, replier, guaranteed bool) error {
	if err := wire.CheckBindingName(name); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	if replier {
		for _, e := range t.entries {
			if e.replier && e.name == name {
				return fmt.Errorf("%w: %q has replier %d", ErrAddressInUse, name, e.owner.id)
			}
		}
	}
	t.entries = append(t.entries, binding{ep, name, replier, guaranteed})
	return nil
}

// unbind removes the first binding matching all four fields, in
// insertion order. It fails if no binding matches exactly.
func (t *bindingTable) unbind(ep *Endpoint, name string, replier, guaranteed bool) error {
	for i, e := range t.entries {
		if e.owner == ep && e.name == name && e.replier == replier && e.guaranteed == guaranteed {
			t.entries = slices.Delete(t.entries, i, i+1)
			return nil
		}
	}
	return fmt.Errorf("%w: not bound to %q (replier=%v, guaranteed=%v)", ErrInvalidArgument, name, replier, guaranteed)
}

// findReplier returns the endpoint holding the unique replier binding
// for the exact name, if any.
func (t *bindingTable) findReplier(name string) (*Endpoint, bool) {
	for _, e := range t.entries {
		if e.replier && e.name == name {
			return e.owner, true
		}
	}
	return nil, false
}

// matchEndpoints resolves a message name to its destination set under
// the given policy. Replier and listener bindings both count as
// interest. An endpoint appears once no matter how many of its
// bindings match; it is considered guaranteed if any matching binding
// is.
func (t *bindingTable) matchEndpoints(name string, policy MatchPolicy) map[*Endpoint]bool {
	var dests map[*Endpoint]bool
	for _, e := range t.entries {
		if !policy.Match(e.name, name) {
			continue
		}
		if dests == nil {
			dests = make(map[*Endpoint]bool)
		}
		dests[e.owner] = dests[e.owner] || e.guaranteed
	}
	return dests
}

// removeOwner drops every binding owned by ep.
func (t *bindingTable) removeOwner(ep *Endpoint) {
	t.entries = slices.DeleteFunc(t.entries, func(e binding) bool {
		return e.owner == ep
	})
}

func (t *bindingTable) reset() {
	t.entries = nil
}

func (t *bindingTable) snapshot() []BindingInfo {
	out := make([]BindingInfo, len(t.entries))
	for i, e := range t.entries {
		out[i] = BindingInfo{
			Endpoint:     e.owner.id,
			IsReplier:    e.replier,
			IsGuaranteed: e.guaranteed,
			Name:         e.name,
		}
	}
	return out
}
