package realtime

import (
	"sync"

	"github.com/rubiojr/pulse/pkg/core"
	"github.com/samber/lo"
)

// Emitted is one event captured by a Recorder.
type Emitted struct {
	Room  core.UserID
	Event Event
}

// Recorder is a Broadcaster that keeps every emitted event in order instead
// of delivering it. Online marks rooms that count as connected; Emit returns
// 1 for those and 0 otherwise.
type Recorder struct {
	mu     sync.Mutex
	events []Emitted
	Online map[core.UserID]bool
}

var _ Broadcaster = (*Recorder)(nil)

func NewRecorder() *Recorder {
	return &Recorder{Online: make(map[core.UserID]bool)}
}

func (r *Recorder) Emit(room core.UserID, ev Event) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, Emitted{Room: room, Event: ev})
	if r.Online[room] {
		return 1
	}
	return 0
}

// Events returns a copy of everything emitted so far.
func (r *Recorder) Events() []Emitted {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Emitted, len(r.events))
	copy(out, r.events)
	return out
}

// For returns the events emitted to room.
func (r *Recorder) For(room core.UserID) []Event {
	return lo.FilterMap(r.Events(), func(e Emitted, _ int) (Event, bool) {
		return e.Event, e.Room == room
	})
}

// Names returns the event names emitted to room, in order.
func (r *Recorder) Names(room core.UserID) []string {
	return lo.Map(r.For(room), func(ev Event, _ int) string { return ev.Name() })
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}
