package realtime

import (
	"fmt"
	"sync"
	"testing"

	"github.com/rubiojr/pulse/pkg/core"
)

const (
	alice core.UserID = "alice"
	bob   core.UserID = "bob"
)

func drain(ch <-chan Event) []Event {
	var out []Event
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, ev)
		default:
			return out
		}
	}
}

func TestEmitToEmptyRoomIsNoOp(t *testing.T) {
	r := NewRegistry(4)
	if n := r.Emit(alice, Typing{From: bob}); n != 0 {
		t.Fatalf("expected 0 deliveries, got %d", n)
	}
}

func TestRegisterUnregisterLeavesNoDelivery(t *testing.T) {
	r := NewRegistry(4)
	r.Register("c1", alice)
	r.Unregister("c1")

	if n := r.Emit(alice, Typing{From: bob}); n != 0 {
		t.Fatalf("expected 0 deliveries after unregister, got %d", n)
	}
	if r.Connections(alice) != 0 {
		t.Fatalf("expected no connections for alice")
	}
	if len(r.Users()) != 0 {
		t.Fatalf("empty rooms must be dropped, got users %v", r.Users())
	}
}

func TestUnregisterIsIdempotent(t *testing.T) {
	r := NewRegistry(4)
	ch := r.Register("c1", alice)

	r.Unregister("c1")
	r.Unregister("c1")
	r.Unregister("never-registered")

	if _, ok := <-ch; ok {
		t.Fatalf("channel should be closed after unregister")
	}
	if r.Size() != 0 {
		t.Fatalf("expected empty registry, got %d", r.Size())
	}
}

func TestRegisterIsIdempotentPerConnection(t *testing.T) {
	r := NewRegistry(4)
	ch1 := r.Register("c1", alice)
	ch2 := r.Register("c1", alice)
	if ch1 != ch2 {
		t.Fatalf("re-registering the same connection must return the same channel")
	}
	if r.Connections(alice) != 1 {
		t.Fatalf("expected 1 connection, got %d", r.Connections(alice))
	}
	if n := r.Emit(alice, Typing{From: bob}); n != 1 {
		t.Fatalf("expected exactly one delivery, got %d", n)
	}
}

func TestRegisterMovesConnectionBetweenRooms(t *testing.T) {
	r := NewRegistry(4)
	ch := r.Register("c1", alice)
	r.Register("c1", bob)

	if r.Connections(alice) != 0 {
		t.Fatalf("connection should have left alice's room")
	}
	if n := r.Emit(bob, Typing{From: alice}); n != 1 {
		t.Fatalf("expected delivery to bob's room, got %d", n)
	}
	if got := drain(ch); len(got) != 1 {
		t.Fatalf("expected 1 event on the moved connection, got %d", len(got))
	}
}

func TestEmitReachesEveryConnectionOnce(t *testing.T) {
	r := NewRegistry(4)
	c1 := r.Register("c1", bob)
	c2 := r.Register("c2", bob)
	other := r.Register("c3", alice)

	msg := core.Message{ID: "m1", Sender: alice, Receiver: bob, Content: "hi"}
	if n := r.Emit(bob, ReceiveMessage{Message: msg}); n != 2 {
		t.Fatalf("expected 2 deliveries, got %d", n)
	}

	for name, ch := range map[string]<-chan Event{"c1": c1, "c2": c2} {
		got := drain(ch)
		if len(got) != 1 {
			t.Fatalf("%s: expected exactly one event, got %d", name, len(got))
		}
		rm, ok := got[0].(ReceiveMessage)
		if !ok || rm.Message.ID != "m1" {
			t.Fatalf("%s: unexpected event %#v", name, got[0])
		}
	}
	if got := drain(other); len(got) != 0 {
		t.Fatalf("alice's connection must not see bob's events, got %d", len(got))
	}
}

func TestEmitDropsForFullBuffer(t *testing.T) {
	r := NewRegistry(1)
	slow := r.Register("slow", bob)
	fast := r.Register("fast", bob)

	r.Emit(bob, Typing{From: alice})
	<-fast

	if n := r.Emit(bob, StopTyping{From: alice}); n != 1 {
		t.Fatalf("expected only the drained connection to receive, got %d", n)
	}
	if got := drain(slow); len(got) != 1 || got[0].Name() != EventTyping {
		t.Fatalf("slow connection should only hold the first event, got %v", got)
	}
}

func TestUsersSorted(t *testing.T) {
	r := NewRegistry(1)
	r.Register("c1", "carol")
	r.Register("c2", alice)
	r.Register("c3", bob)
	r.Register("c4", bob)

	got := r.Users()
	want := []core.UserID{alice, bob, "carol"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("Users() = %v, want %v", got, want)
	}
	if r.Size() != 4 {
		t.Fatalf("expected 4 connections, got %d", r.Size())
	}
}

func TestCloseClosesAllChannels(t *testing.T) {
	r := NewRegistry(1)
	ch := r.Register("c1", alice)
	r.Close()
	if _, ok := <-ch; ok {
		t.Fatalf("expected closed channel")
	}
	r.Unregister("c1")
	if r.Emit(alice, Typing{From: bob}) != 0 {
		t.Fatalf("expected no deliveries after close")
	}
}

// Connections come and go while emits run; nothing may panic with a send on
// a closed channel.
func TestConcurrentRegisterEmitUnregister(t *testing.T) {
	r := NewRegistry(8)
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				id := fmt.Sprintf("conn-%d-%d", i, j)
				ch := r.Register(id, bob)
				drain(ch)
				r.Unregister(id)
				r.Unregister(id)
			}
		}(i)
	}
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 500; j++ {
				r.Emit(bob, Typing{From: alice})
			}
		}()
	}
	wg.Wait()

	if r.Size() != 0 || r.Connections(bob) != 0 {
		t.Fatalf("expected empty registry, size=%d bob=%d", r.Size(), r.Connections(bob))
	}
}
