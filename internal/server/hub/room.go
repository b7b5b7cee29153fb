package hub

import (
	"sync"
)

// session is one live WebSocket connection of a user. The room holds only
// the slot and the outdated channel; the connection itself stays with the
// serving goroutine, which deregisters in its cleanup path.
type session struct {
	slot     int
	outdated chan struct{}
}

// room is the per-user session registry plus broadcast fan-out.
type room struct {
	sessions []*session // slot-indexed, nil holes
}

// RoomManager tracks one room per user with live sessions. Rooms with zero
// members are dropped.
type RoomManager struct {
	mu    sync.Mutex
	rooms map[string]*room
}

func NewRoomManager() *RoomManager {
	return &RoomManager{rooms: map[string]*room{}}
}

// Join registers a new session and returns it.
func (m *RoomManager) Join(user string) *session {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rooms[user]
	if !ok {
		r = &room{}
		m.rooms[user] = r
	}

	s := &session{outdated: make(chan struct{}, 1)}
	for i, cur := range r.sessions {
		if cur == nil {
			s.slot = i
			r.sessions[i] = s
			return s
		}
	}
	s.slot = len(r.sessions)
	r.sessions = append(r.sessions, s)
	return s
}

// Leave removes a session slot; the last one out drops the room.
func (m *RoomManager) Leave(user string, slot int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rooms[user]
	if !ok || slot >= len(r.sessions) {
		return
	}
	r.sessions[slot] = nil

	for _, cur := range r.sessions {
		if cur != nil {
			return
		}
	}
	delete(m.rooms, user)
}

// Broadcast signals "outdated" to every session of the user except the
// originating slot. Sends are non-blocking: a laggy session misses the
// nudge and catches up on its next reconcile.
func (m *RoomManager) Broadcast(user string, exceptSlot int) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rooms[user]
	if !ok {
		return 0
	}

	notified := 0
	for _, s := range r.sessions {
		if s == nil || s.slot == exceptSlot {
			continue
		}
		select {
		case s.outdated <- struct{}{}:
			notified++
		default:
		}
	}
	return notified
}

// Members reports the number of live sessions for a user.
func (m *RoomManager) Members(user string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rooms[user]
	if !ok {
		return 0
	}
	n := 0
	for _, s := range r.sessions {
		if s != nil {
			n++
		}
	}
	return n
}
