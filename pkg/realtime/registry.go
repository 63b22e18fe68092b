// Package realtime tracks live client connections and routes events to them.
//
// Every connection is bound to exactly one room, named after the identity of
// the user that owns it. Emitting to a room reaches all of that user's open
// connections (tabs, devices). Delivery is best effort: an empty room is a
// silent no-op and a connection whose buffer is full misses the event.
//
// The registry is process local. Sharing sessions across nodes would need an
// external broker behind the Broadcaster interface.
package realtime

import (
	"sort"
	"sync"

	"github.com/rubiojr/pulse/pkg/core"
	"github.com/rubiojr/pulse/pkg/log"
	"github.com/samber/lo"
)

// Broadcaster delivers an event to every connection in a room and returns
// how many connections received it.
type Broadcaster interface {
	Emit(room core.UserID, ev Event) int
}

const DefaultBufferSize = 256

type session struct {
	user core.UserID
	ch   chan Event
}

// Registry maps user identities to their live connections. It is safe for
// concurrent use.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*session
	rooms    map[core.UserID]map[string]*session
	bufSize  int
	logger   *log.Logger
}

var _ Broadcaster = (*Registry)(nil)

// NewRegistry returns an empty registry. bufSize is the per-connection event
// buffer; values <= 0 use DefaultBufferSize.
func NewRegistry(bufSize int) *Registry {
	if bufSize <= 0 {
		bufSize = DefaultBufferSize
	}
	return &Registry{
		sessions: make(map[string]*session),
		rooms:    make(map[core.UserID]map[string]*session),
		bufSize:  bufSize,
		logger:   log.ForService("realtime"),
	}
}

// Register binds connID to user's room and returns the channel the
// connection reads its events from.
//
// Registering the same connection again for the same user returns the
// existing channel. Registering it for another user moves it to that user's
// room; the channel is kept.
func (r *Registry) Register(connID string, user core.UserID) <-chan Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[connID]; ok {
		if s.user == user {
			return s.ch
		}
		r.leaveLocked(connID, s.user)
		s.user = user
		r.joinLocked(connID, s)
		r.logger.Debugf("connection %s moved to room %s", connID, user)
		return s.ch
	}

	s := &session{user: user, ch: make(chan Event, r.bufSize)}
	r.sessions[connID] = s
	r.joinLocked(connID, s)
	r.logger.Debugf("connection %s joined room %s (%d open)", connID, user, len(r.rooms[user]))
	return s.ch
}

// Unregister removes connID and closes its channel. Unknown ids are ignored,
// so it is safe to call for a connection that never finished its handshake
// or that was already removed.
func (r *Registry) Unregister(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[connID]
	if !ok {
		return
	}
	delete(r.sessions, connID)
	r.leaveLocked(connID, s.user)
	close(s.ch)
	r.logger.Debugf("connection %s left room %s", connID, s.user)
}

func (r *Registry) joinLocked(connID string, s *session) {
	room, ok := r.rooms[s.user]
	if !ok {
		room = make(map[string]*session)
		r.rooms[s.user] = room
	}
	room[connID] = s
}

// leaveLocked drops connID from user's room and drops the room once empty.
func (r *Registry) leaveLocked(connID string, user core.UserID) {
	room, ok := r.rooms[user]
	if !ok {
		return
	}
	delete(room, connID)
	if len(room) == 0 {
		delete(r.rooms, user)
	}
}

// Emit delivers ev to every connection currently in room without blocking.
//
// Channels are only closed under the write lock, so holding the read lock
// here guarantees no send reaches a closed connection.
func (r *Registry) Emit(room core.UserID, ev Event) int {
	if ev == nil {
		return 0
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	delivered := 0
	for connID, s := range r.rooms[room] {
		select {
		case s.ch <- ev:
			delivered++
		default:
			r.logger.Debugf("dropped %s for slow connection %s", ev.Name(), connID)
		}
	}
	return delivered
}

// Connections returns the number of open connections for user.
func (r *Registry) Connections(user core.UserID) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[user])
}

// Users returns the identities with at least one open connection, sorted.
func (r *Registry) Users() []core.UserID {
	r.mu.RLock()
	users := lo.Keys(r.rooms)
	r.mu.RUnlock()
	sort.Slice(users, func(i, j int) bool { return users[i] < users[j] })
	return users
}

// Size returns the number of open connections.
func (r *Registry) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Close unregisters every connection. Readers see their channels closed.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for connID, s := range r.sessions {
		close(s.ch)
		delete(r.sessions, connID)
	}
	r.rooms = make(map[core.UserID]map[string]*session)
}
