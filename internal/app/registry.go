package app

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/mediarelay/internal/core"
	"github.com/dkeye/mediarelay/internal/domain"
)

// Client is what the relay knows about one identified user.
type Client struct {
	UserID      domain.UserID
	RoomID      domain.RoomID
	IPAddress   string
	SSRC        uint32
	Participant core.Participant
}

// Registry maps user ids to live clients. A lookup miss is a normal outcome:
// the user may have been closed concurrently.
type Registry struct {
	mu      sync.RWMutex
	clients map[domain.UserID]*Client
}

func NewRegistry() *Registry {
	return &Registry{
		clients: make(map[domain.UserID]*Client),
	}
}

// Put stores c and returns the record it replaced, if any.
func (r *Registry) Put(c *Client) (*Client, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	old, ok := r.clients[c.UserID]
	r.clients[c.UserID] = c
	log.Info().Str("module", "app.registry").Str("user", string(c.UserID)).Str("room", string(c.RoomID)).Msg("client bound")
	return old, ok
}

func (r *Registry) Get(user domain.UserID) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[user]
	return c, ok
}

func (r *Registry) Remove(user domain.UserID) (*Client, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.clients[user]
	if !ok {
		return nil, false
	}
	delete(r.clients, user)
	log.Info().Str("module", "app.registry").Str("user", string(user)).Msg("client removed")
	return c, true
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}
