package transport

import (
	"strconv"
	"testing"
	"time"
)

func TestRegistry_RegisterUnregister(t *testing.T) {
	r := NewRegistry()
	c := newConn(nil, "127.0.0.1", 1)

	r.Register(c)
	if r.Count() != 1 {
		t.Fatalf("Count() = %d, want 1", r.Count())
	}
	r.Unregister(c)
	if r.Count() != 0 {
		t.Errorf("Count() = %d, want 0", r.Count())
	}
}

func TestRegistry_UnregisterStale(t *testing.T) {
	r := NewRegistry()
	stale := &conn{id: "same", done: make(chan struct{})}
	live := &conn{id: "same", done: make(chan struct{})}

	r.Register(stale)
	r.Register(live)
	r.Unregister(stale)

	if r.Count() != 1 {
		t.Errorf("stale unregister removed the live connection")
	}
}

func TestRegistry_CloseAll(t *testing.T) {
	r := NewRegistry()
	conns := []*conn{newConn(nil, "", 1), newConn(nil, "", 1)}
	for _, c := range conns {
		r.Register(c)
	}

	r.CloseAll("shutdown")

	for _, c := range conns {
		select {
		case <-c.done:
		default:
			t.Errorf("connection %s not closed", c.id)
		}
		if c.reason() != "shutdown" {
			t.Errorf("reason = %q", c.reason())
		}
	}
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	r := NewRegistry()
	done := make(chan struct{})

	go func() {
		defer close(done)
		for i := 0; i < 1000; i++ {
			r.Register(&conn{id: "c-" + strconv.Itoa(i), done: make(chan struct{})})
		}
	}()

	for i := 0; i < 1000; i++ {
		_ = r.Count()
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("registration did not finish")
	}
	if r.Count() != 1000 {
		t.Errorf("Count() = %d, want 1000", r.Count())
	}
}
