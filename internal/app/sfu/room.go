package sfu

import (
	"sync"

	"github.com/dkeye/mediarelay/internal/domain"
)

type room struct {
	id      domain.RoomID
	channel string

	mu      sync.RWMutex
	members map[domain.UserID]*Participant
}

func (r *room) add(p *Participant) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.members[p.UserID()] = p
}

// remove drops user and reports whether the room is now empty.
func (r *room) remove(user domain.UserID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.members, user)
	return len(r.members) == 0
}

func (r *room) snapshot() []*Participant {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Participant, 0, len(r.members))
	for _, p := range r.members {
		out = append(out, p)
	}
	return out
}

func (r *room) len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}

// getOrCreateRoom must be called with s.mu held.
func (s *Server) getOrCreateRoom(id domain.RoomID, channel string) *room {
	if r, ok := s.rooms[id]; ok {
		return r
	}
	r := &room{id: id, channel: channel, members: make(map[domain.UserID]*Participant)}
	s.rooms[id] = r
	return r
}
