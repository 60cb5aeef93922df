package chat

import "sync"

// Session is a connected client handle that resolves to an authenticated user.
type Session interface {
	ID() string
	UserID() int64
}

// Registry tracks which sessions are present in which room. It is a
// membership registry only: it never delivers messages.
type Registry struct {
	mu            sync.RWMutex
	rooms         map[int64]*room
	singleSession bool
}

type room struct {
	mu      sync.Mutex
	members map[string]Session
}

// hasUser must be called with rm.mu held.
func (rm *room) hasUser(userID int64) bool {
	for _, m := range rm.members {
		if m.UserID() == userID {
			return true
		}
	}
	return false
}

// RegistryOption configures Registry.
type RegistryOption func(*Registry)

// WithSingleSessionPerUser makes Add evict earlier sessions of the same user
// in the same room.
func WithSingleSessionPerUser() RegistryOption {
	return func(r *Registry) { r.singleSession = true }
}

// NewRegistry returns an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{rooms: make(map[int64]*room)}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Add inserts s into the room. Adding the same handle twice is a no-op. With
// WithSingleSessionPerUser the user's previous sessions are removed and
// returned.
func (r *Registry) Add(roomID int64, s Session) []Session {
	evicted, _ := r.Join(roomID, s)
	return evicted
}

// Join is Add that also reports whether the user had no session in the room
// before s was inserted. Both results come from one critical section.
func (r *Registry) Join(roomID int64, s Session) (evicted []Session, entered bool) {
	for {
		rm := r.roomFor(roomID)

		r.mu.RLock()
		if r.rooms[roomID] != rm {
			// pruned between lookup and lock
			r.mu.RUnlock()
			continue
		}
		rm.mu.Lock()
		uid := s.UserID()
		entered = !rm.hasUser(uid)
		if r.singleSession {
			for id, m := range rm.members {
				if id != s.ID() && m.UserID() == uid {
					delete(rm.members, id)
					evicted = append(evicted, m)
				}
			}
		}
		rm.members[s.ID()] = s
		rm.mu.Unlock()
		r.mu.RUnlock()
		return evicted, entered
	}
}

func (r *Registry) roomFor(roomID int64) *room {
	r.mu.RLock()
	rm, ok := r.rooms[roomID]
	r.mu.RUnlock()
	if ok {
		return rm
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if rm, ok = r.rooms[roomID]; !ok {
		rm = &room{members: make(map[string]Session)}
		r.rooms[roomID] = rm
	}
	return rm
}

// Nonexistent reports whether no session in the room belongs to userID.
func (r *Registry) Nonexistent(roomID, userID int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rm, ok := r.rooms[roomID]
	if !ok {
		return true
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return !rm.hasUser(userID)
}

// Remove deletes s from the room and reports whether it was present.
func (r *Registry) Remove(roomID int64, s Session) bool {
	removed, _ := r.Leave(roomID, s)
	return removed
}

// Leave is Remove that also reports whether s was the user's last session in
// the room.
func (r *Registry) Leave(roomID int64, s Session) (removed, exited bool) {
	r.mu.RLock()
	rm, ok := r.rooms[roomID]
	if !ok {
		r.mu.RUnlock()
		return false, false
	}
	rm.mu.Lock()
	_, removed = rm.members[s.ID()]
	delete(rm.members, s.ID())
	exited = removed && !rm.hasUser(s.UserID())
	empty := len(rm.members) == 0
	rm.mu.Unlock()
	r.mu.RUnlock()

	if empty {
		r.prune(roomID, rm)
	}
	return removed, exited
}

// Kick removes every session of userID from the room and returns them.
func (r *Registry) Kick(roomID, userID int64) []Session {
	r.mu.RLock()
	rm, ok := r.rooms[roomID]
	if !ok {
		r.mu.RUnlock()
		return nil
	}
	rm.mu.Lock()
	var kicked []Session
	for id, m := range rm.members {
		if m.UserID() == userID {
			delete(rm.members, id)
			kicked = append(kicked, m)
		}
	}
	empty := len(rm.members) == 0
	rm.mu.Unlock()
	r.mu.RUnlock()

	if empty {
		r.prune(roomID, rm)
	}
	return kicked
}

func (r *Registry) prune(roomID int64, rm *room) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.rooms[roomID] != rm {
		return
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()
	if len(rm.members) == 0 {
		delete(r.rooms, roomID)
	}
}

// Sessions returns a snapshot of the room's members.
func (r *Registry) Sessions(roomID int64) []Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rm, ok := r.rooms[roomID]
	if !ok {
		return nil
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()
	out := make([]Session, 0, len(rm.members))
	for _, m := range rm.members {
		out = append(out, m)
	}
	return out
}

// Rooms returns the number of tracked rooms.
func (r *Registry) Rooms() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

// Len returns the total number of sessions across rooms.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, rm := range r.rooms {
		rm.mu.Lock()
		n += len(rm.members)
		rm.mu.Unlock()
	}
	return n
}
