package core

import (
	"sync"

	"github.com/dkeye/mediarelay/internal/domain"
)

// Subscription identifies one consumed track.
type Subscription struct {
	Producer domain.UserID
	Kind     domain.TrackKind
}

// OutgoingResolver returns the SSRCs a consumer receives for one subscription.
// Zero values mean "not negotiated yet".
type OutgoingResolver func(sub Subscription) (ssrc, rtx uint32)

// ParticipantState is the per-participant record shared by the SFU
// implementation and the reconciliation engine. Producing flags are only
// changed through SetProducing, never derived from SSRC values.
type ParticipantState struct {
	user domain.UserID
	room domain.RoomID

	mu        sync.RWMutex
	incoming  domain.StreamSSRCs
	producing map[domain.TrackKind]bool
	subs      map[Subscription]struct{}
}

func NewParticipantState(user domain.UserID, room domain.RoomID) *ParticipantState {
	return &ParticipantState{
		user:      user,
		room:      room,
		producing: make(map[domain.TrackKind]bool, len(domain.TrackKinds)),
		subs:      make(map[Subscription]struct{}),
	}
}

func (s *ParticipantState) UserID() domain.UserID { return s.user }
func (s *ParticipantState) RoomID() domain.RoomID { return s.room }

func (s *ParticipantState) SetIncomingStreams(ssrcs domain.StreamSSRCs) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.incoming = ssrcs
}

func (s *ParticipantState) IncomingStreams() domain.StreamSSRCs {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.incoming
}

func (s *ParticipantState) IsProducing(kind domain.TrackKind) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.producing[kind]
}

func (s *ParticipantState) SetProducing(kind domain.TrackKind, on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if on {
		s.producing[kind] = true
		return
	}
	delete(s.producing, kind)
}

func (s *ParticipantState) SubscriptionsContain(producer domain.UserID, kind domain.TrackKind) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.subs[Subscription{Producer: producer, Kind: kind}]
	return ok
}

// RecordSubscription adds the subscription and reports whether the set
// changed. A participant is never subscribed to itself.
func (s *ParticipantState) RecordSubscription(producer domain.UserID, kind domain.TrackKind) bool {
	if producer == s.user {
		return false
	}
	key := Subscription{Producer: producer, Kind: kind}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subs[key]; ok {
		return false
	}
	s.subs[key] = struct{}{}
	return true
}

func (s *ParticipantState) RemoveSubscription(producer domain.UserID, kind domain.TrackKind) bool {
	key := Subscription{Producer: producer, Kind: kind}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subs[key]; !ok {
		return false
	}
	delete(s.subs, key)
	return true
}

// Subscriptions returns a snapshot of the subscription set.
func (s *ParticipantState) Subscriptions() []Subscription {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Subscription, 0, len(s.subs))
	for sub := range s.subs {
		out = append(out, sub)
	}
	return out
}

// ResolveOutgoingView returns the SSRCs this participant receives for
// producer. Kinds that are not subscribed stay zero.
func (s *ParticipantState) ResolveOutgoingView(producer domain.UserID, resolve OutgoingResolver) domain.SubscriptionView {
	var view domain.SubscriptionView
	if s.SubscriptionsContain(producer, domain.TrackAudio) {
		view.Audio, _ = resolve(Subscription{Producer: producer, Kind: domain.TrackAudio})
	}
	if s.SubscriptionsContain(producer, domain.TrackVideo) {
		view.Video, view.RTX = resolve(Subscription{Producer: producer, Kind: domain.TrackVideo})
	}
	return view
}
