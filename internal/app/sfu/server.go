// Package sfu is the in-process media engine the relay drives: rooms,
// participants, published tracks and their per-consumer copies.
package sfu

import (
	"cmp"
	"context"
	"slices"
	"sync"

	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/mediarelay/internal/adapters/rtc"
	"github.com/dkeye/mediarelay/internal/core"
	"github.com/dkeye/mediarelay/internal/domain"
)

var (
	ErrNoSSRC             = errors.New("publish without ssrc")
	ErrSelfSubscribe      = errors.New("participant cannot subscribe to itself")
	ErrUnknownParticipant = errors.New("unknown participant")
	ErrNotProducing       = errors.New("producer does not produce this kind")
	ErrForeignParticipant = errors.New("participant does not belong to this server")
	ErrNoMedia            = errors.New("offer has no media sections")
)

type Server struct {
	api       *webrtc.API
	iceConfig webrtc.Configuration
	relays    *RelayManager

	ctx    context.Context
	cancel context.CancelFunc

	mu           sync.RWMutex
	rooms        map[domain.RoomID]*room
	participants map[domain.UserID]*Participant
}

// NewServer creates an empty media server. ctx bounds every relay loop.
func NewServer(ctx context.Context, api *webrtc.API, iceConfig webrtc.Configuration) *Server {
	ctx, cancel := context.WithCancel(ctx)
	return &Server{
		api:          api,
		iceConfig:    iceConfig,
		relays:       NewRelayManager(),
		ctx:          ctx,
		cancel:       cancel,
		rooms:        make(map[domain.RoomID]*room),
		participants: make(map[domain.UserID]*Participant),
	}
}

var _ core.SFU = (*Server)(nil)

func (s *Server) Join(_ context.Context, roomID domain.RoomID, user domain.UserID, channel string) (core.Participant, error) {
	if err := domain.ValidateUserID(user); err != nil {
		return nil, err
	}
	if _, ok := s.participant(user); ok {
		s.Leave(user)
	}

	p := newParticipant(s, user, roomID)
	s.mu.Lock()
	s.getOrCreateRoom(roomID, channel).add(p)
	s.participants[user] = p
	s.mu.Unlock()

	p.logger.Info().Str("channel", channel).Msg("joined")
	return p, nil
}

// Leave tears down everything user published or consumed.
func (s *Server) Leave(user domain.UserID) {
	s.mu.Lock()
	p, ok := s.participants[user]
	if ok {
		delete(s.participants, user)
		if r, found := s.rooms[p.RoomID()]; found && r.remove(user) {
			delete(s.rooms, r.id)
		}
	}
	s.mu.Unlock()
	if !ok {
		return
	}

	for _, kind := range domain.TrackKinds {
		if err := p.Unpublish(kind); err != nil {
			p.logger.Warn().Err(err).Str("kind", string(kind)).Msg("unpublish on leave")
		}
	}
	p.close()
	p.logger.Info().Msg("left")
}

func (s *Server) participant(user domain.UserID) (*Participant, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.participants[user]
	return p, ok
}

func (s *Server) RoomMembers(roomID domain.RoomID) []core.Participant {
	s.mu.RLock()
	r, ok := s.rooms[roomID]
	s.mu.RUnlock()
	if !ok {
		return nil
	}
	members := r.snapshot()
	out := make([]core.Participant, 0, len(members))
	for _, p := range members {
		out = append(out, p)
	}
	return out
}

// Audience is the room membership: this node relays a room only to the
// participants it hosts for that room.
func (s *Server) Audience(roomID domain.RoomID) []core.Participant {
	return s.RoomMembers(roomID)
}

func (s *Server) Rooms() []core.RoomInfo {
	s.mu.RLock()
	out := make([]core.RoomInfo, 0, len(s.rooms))
	for id, r := range s.rooms {
		out = append(out, core.RoomInfo{ID: id, Channel: r.channel, Participants: r.len()})
	}
	s.mu.RUnlock()
	slices.SortFunc(out, func(a, b core.RoomInfo) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

func (s *Server) MembersSnapshot(roomID domain.RoomID) []core.MemberDTO {
	s.mu.RLock()
	r, ok := s.rooms[roomID]
	s.mu.RUnlock()
	if !ok {
		return nil
	}
	members := r.snapshot()
	out := make([]core.MemberDTO, 0, len(members))
	for _, p := range members {
		dto := core.MemberDTO{ID: p.UserID(), Incoming: p.IncomingStreams(), Producing: []domain.TrackKind{}}
		for _, kind := range domain.TrackKinds {
			if p.IsProducing(kind) {
				dto.Producing = append(dto.Producing, kind)
			}
		}
		out = append(out, dto)
	}
	slices.SortFunc(out, func(a, b core.MemberDTO) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

// dropConsumers removes every subscription to producer's kind.
func (s *Server) dropConsumers(producer domain.UserID, kind domain.TrackKind) {
	s.mu.RLock()
	consumers := make([]*Participant, 0, len(s.participants))
	for _, p := range s.participants {
		consumers = append(consumers, p)
	}
	s.mu.RUnlock()
	for _, c := range consumers {
		c.unsubscribe(producer, kind)
	}
}

// requestKeyframe asks producer for a new video keyframe.
func (s *Server) requestKeyframe(producer domain.UserID) {
	p, ok := s.participant(producer)
	if !ok {
		return
	}
	relay, ok := s.relays.Get(RelayKey{Producer: producer, Kind: domain.TrackVideo})
	if !ok {
		return
	}
	src := relay.Src()
	if src == nil {
		return
	}
	err := p.writeRTCP([]rtcp.Packet{&rtcp.PictureLossIndication{MediaSSRC: uint32(src.SSRC())}})
	if err != nil {
		p.logger.Debug().Err(err).Msg("pli forward failed")
	}
}

// Close drops every participant and stops all relays.
func (s *Server) Close() {
	s.mu.RLock()
	users := make([]domain.UserID, 0, len(s.participants))
	for u := range s.participants {
		users = append(users, u)
	}
	s.mu.RUnlock()
	for _, u := range users {
		s.Leave(u)
	}
	s.cancel()
	log.Info().Str("module", "sfu").Int("participants", len(users)).Msg("sfu closed")
}

func (s *Server) newConnection(user domain.UserID) (*rtc.Connection, error) {
	return rtc.NewConnection(s.api, s.iceConfig, user)
}
