package sfu

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/mediarelay/internal/domain"
)

// RelayKey identifies one published track.
type RelayKey struct {
	Producer domain.UserID
	Kind     domain.TrackKind
}

type RelayManager struct {
	mu     sync.RWMutex
	relays map[RelayKey]*Relay
	// readers holds the exit signal of the latest loop started on a source.
	readers map[packetSource]<-chan struct{}
}

func NewRelayManager() *RelayManager {
	return &RelayManager{
		relays:  make(map[RelayKey]*Relay),
		readers: make(map[packetSource]<-chan struct{}),
	}
}

// Open returns the relay for key, creating it if needed.
func (m *RelayManager) Open(key RelayKey) *Relay {
	m.mu.Lock()
	defer m.mu.Unlock()
	if relay, ok := m.relays[key]; ok {
		return relay
	}
	relay := NewRelay()
	m.relays[key] = relay
	return relay
}

// Attach starts forwarding src on the relay for key. It is a no-op when the
// track is not published. When a stopped relay's loop still reads src, the
// new loop takes over only after that one has exited.
func (m *RelayManager) Attach(ctx context.Context, key RelayKey, src packetSource) bool {
	logger := log.With().
		Str("module", "sfu.relay").
		Str("producer", string(key.Producer)).
		Str("kind", string(key.Kind)).
		Uint32("ssrc", uint32(src.SSRC())).
		Logger()

	m.mu.Lock()
	relay, ok := m.relays[key]
	if !ok {
		m.mu.Unlock()
		return false
	}
	logger.Info().Msg("starting relay loop")
	done := relay.attach(ctx, src, m.readers[src], &logger)
	m.readers[src] = done
	m.mu.Unlock()

	go m.forgetReader(src, done)
	return true
}

func (m *RelayManager) forgetReader(src packetSource, done <-chan struct{}) {
	<-done
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.readers[src] == done {
		delete(m.readers, src)
	}
}

// AddSubscriber attaches an OutTrack to the relay of key for dst.
func (m *RelayManager) AddSubscriber(key RelayKey, dst domain.UserID, ot *OutTrack) bool {
	m.mu.RLock()
	relay, ok := m.relays[key]
	m.mu.RUnlock()
	if !ok {
		return false
	}
	relay.AddOutTrack(dst, ot)
	return true
}

// MarkSubscriberDelete marks dst's OutTrack on key as TrackStateDelete.
func (m *RelayManager) MarkSubscriberDelete(key RelayKey, dst domain.UserID) {
	m.mu.RLock()
	relay, ok := m.relays[key]
	m.mu.RUnlock()
	if !ok {
		return
	}
	if ot, ok := relay.OutTrack(dst); ok {
		ot.MarkDelete()
	}
}

// Close stops a relay and removes it from the manager.
func (m *RelayManager) Close(key RelayKey) {
	m.mu.Lock()
	relay, ok := m.relays[key]
	if ok {
		delete(m.relays, key)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	relay.stop()
}

func (m *RelayManager) Get(key RelayKey) (*Relay, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	relay, ok := m.relays[key]
	return relay, ok
}
