// Copyright (c) The nbus Authors
// SPDX-License-Identifier: BSD-3-Clause

package bus_test

import (
	"errors"
	"slices"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"nbus.dev/bus"
	"nbus.dev/util/must"
	"nbus.dev/wire"
)

func newTestBus(t *testing.T) *bus.Bus {
	t.Helper()
	b := bus.New(t.Logf)
	t.Cleanup(b.Close)
	return b
}

// sortBindings normalizes a binding listing for comparison; the
// listing's own order is unspecified.
func sortBindings(bs []bus.BindingInfo) []bus.BindingInfo {
	bs = slices.Clone(bs)
	slices.SortFunc(bs, func(a, b bus.BindingInfo) int {
		if a.Endpoint != b.Endpoint {
			return int(a.Endpoint) - int(b.Endpoint)
		}
		return strings.Compare(a.Name, b.Name)
	})
	return bs
}

func TestReplierConflict(t *testing.T) {
	b := newTestBus(t)
	a := must.Get(b.Attach())
	c := must.Get(b.Attach())

	must.Do(a.Bind("$.Fred", true, false))
	if err := c.Bind("$.Fred", true, false); !errors.Is(err, bus.ErrAddressInUse) {
		t.Fatalf("second replier bind: err=%v, want ErrAddressInUse", err)
	}

	// Listener bindings to the same name are unrestricted.
	must.Do(c.Bind("$.Fred", false, false))
	// A different name's replier slot is independent.
	must.Do(c.Bind("$.Jim", true, false))
	// Unbinding the replier frees the slot.
	must.Do(a.Unbind("$.Fred", true, false))
	must.Do(c.Bind("$.Fred", true, false))
}

func TestBindValidation(t *testing.T) {
	b := newTestBus(t)
	ep := must.Get(b.Attach())

	for _, name := range []string{"", "$", "$.", "Fred", "$.Fred."} {
		if err := ep.Bind(name, false, false); !errors.Is(err, bus.ErrInvalidArgument) {
			t.Errorf("Bind(%q): err=%v, want ErrInvalidArgument", name, err)
		}
	}
	if got := b.Bindings(); len(got) != 0 {
		t.Errorf("table not empty after failed binds: %v", got)
	}

	// Wildcard names are bindable even under the exact-match policy.
	must.Do(ep.Bind("$.Fred.*", false, false))
}

func TestUnbindExactMatch(t *testing.T) {
	b := newTestBus(t)
	ep := must.Get(b.Attach())
	must.Do(ep.Bind("$.Fred", false, true))

	before := sortBindings(b.Bindings())
	for _, tc := range []struct {
		name                    string
		isReplier, isGuaranteed bool
	}{
		{"$.Fred", false, false}, // wrong guaranteed flag
		{"$.Fred", true, true},   // wrong replier flag
		{"$.Jim", false, true},   // wrong name
	} {
		err := ep.Unbind(tc.name, tc.isReplier, tc.isGuaranteed)
		if !errors.Is(err, bus.ErrInvalidArgument) {
			t.Errorf("Unbind(%q, %v, %v): err=%v, want ErrInvalidArgument", tc.name, tc.isReplier, tc.isGuaranteed, err)
		}
	}
	if diff := cmp.Diff(sortBindings(b.Bindings()), before); diff != "" {
		t.Errorf("failed unbinds mutated the table (-got+want):\n%s", diff)
	}

	must.Do(ep.Unbind("$.Fred", false, true))
	if got := b.Bindings(); len(got) != 0 {
		t.Errorf("table not empty after unbind: %v", got)
	}
}

func TestDuplicateBindings(t *testing.T) {
	b := newTestBus(t)
	ep := must.Get(b.Attach())

	for range 3 {
		must.Do(ep.Bind("$.Fred", false, false))
	}
	if got := len(b.Bindings()); got != 3 {
		t.Fatalf("got %d bindings, want 3", got)
	}
	for i := range 3 {
		if err := ep.Unbind("$.Fred", false, false); err != nil {
			t.Fatalf("unbind %d: %v", i, err)
		}
	}
	if err := ep.Unbind("$.Fred", false, false); !errors.Is(err, bus.ErrInvalidArgument) {
		t.Fatalf("fourth unbind: err=%v, want ErrInvalidArgument", err)
	}
}

func TestBoundAsAndFindReplier(t *testing.T) {
	b := newTestBus(t)
	a := must.Get(b.Attach())
	c := must.Get(b.Attach())

	if a.BoundAs() == 0 || c.BoundAs() == 0 || a.BoundAs() == c.BoundAs() {
		t.Fatalf("bad endpoint ids: %d, %d", a.BoundAs(), c.BoundAs())
	}

	if id, ok := c.FindReplier("$.Fred"); ok {
		t.Fatalf("FindReplier on unbound name: got %d, want none", id)
	}
	must.Do(a.Bind("$.Fred", true, false))
	id, ok := c.FindReplier("$.Fred")
	if !ok || id != a.BoundAs() {
		t.Fatalf("FindReplier = (%d, %v), want (%d, true)", id, ok, a.BoundAs())
	}
	// Listener bindings are invisible to FindReplier.
	must.Do(c.Bind("$.Jim", false, false))
	if _, ok := c.FindReplier("$.Jim"); ok {
		t.Fatal("FindReplier found a listener binding")
	}
}

func TestDetachRemovesBindings(t *testing.T) {
	b := newTestBus(t)
	a := must.Get(b.Attach())
	c := must.Get(b.Attach())
	must.Do(a.Bind("$.Fred", true, true))
	must.Do(a.Bind("$.Jim", false, false))
	must.Do(c.Bind("$.Sheila", false, false))

	a.Close()

	want := []bus.BindingInfo{{Endpoint: c.BoundAs(), Name: "$.Sheila"}}
	if diff := cmp.Diff(sortBindings(b.Bindings()), want); diff != "" {
		t.Errorf("bindings after detach (-got+want):\n%s", diff)
	}

	// The freed replier slot is rebindable.
	must.Do(c.Bind("$.Fred", true, false))

	// A closed endpoint fails all control operations.
	if err := a.Bind("$.Fred", false, false); !errors.Is(err, bus.ErrBadFileDescriptor) {
		t.Errorf("Bind on closed endpoint: err=%v, want ErrBadFileDescriptor", err)
	}
	if err := a.Unbind("$.Jim", false, false); !errors.Is(err, bus.ErrBadFileDescriptor) {
		t.Errorf("Unbind on closed endpoint: err=%v, want ErrBadFileDescriptor", err)
	}
	if _, err := a.Send(&wire.Message{Name: "$.Sheila"}); !errors.Is(err, bus.ErrBadFileDescriptor) {
		t.Errorf("Send on closed endpoint: err=%v, want ErrBadFileDescriptor", err)
	}
}

func TestReset(t *testing.T) {
	b := newTestBus(t)
	a := must.Get(b.Attach())
	c := must.Get(b.Attach())
	must.Do(c.Bind("$.Fred", true, false))

	first := must.Get(a.Send(&wire.Message{Name: "$.Fred"}))

	a.Reset()

	if got := b.Bindings(); len(got) != 0 {
		t.Errorf("bindings survived reset: %v", got)
	}
	c.SetNonblock(true)
	if m := must.Get(c.ReadMessage()); m != nil {
		t.Errorf("queue survived reset: %v", m)
	}

	// Endpoints stay attached and ids keep increasing.
	must.Do(c.Bind("$.Fred", false, false))
	second := must.Get(a.Send(&wire.Message{Name: "$.Fred"}))
	if second <= first {
		t.Errorf("message id went backwards across reset: %d then %d", first, second)
	}
}

func TestReadOnlyEndpoint(t *testing.T) {
	b := newTestBus(t)
	ro := must.Get(b.AttachReadOnly())
	rw := must.Get(b.Attach())

	must.Do(ro.Bind("$.Fred", false, false))
	if _, err := ro.Send(&wire.Message{Name: "$.Fred"}); !errors.Is(err, bus.ErrBadFileDescriptor) {
		t.Fatalf("Send on read-only endpoint: err=%v, want ErrBadFileDescriptor", err)
	}

	// It can still receive.
	sent := &wire.Message{Name: "$.Fred", Payload: []byte("data")}
	must.Get(rw.Send(sent))
	got := must.Get(ro.ReadMessage())
	if !wire.Equivalent(got, sent) {
		t.Fatalf("read-only endpoint read %+v, want equivalent of %+v", got, sent)
	}
}

func TestBusClose(t *testing.T) {
	b := bus.New(t.Logf)
	ep := must.Get(b.Attach())
	must.Do(ep.Bind("$.Fred", false, false))

	b.Close()
	b.Close() // idempotent

	if _, err := b.Attach(); !errors.Is(err, bus.ErrBusClosed) {
		t.Errorf("Attach after close: err=%v, want ErrBusClosed", err)
	}
	if _, err := ep.Send(&wire.Message{Name: "$.Fred"}); err == nil {
		t.Error("Send after close unexpectedly succeeded")
	}
}
