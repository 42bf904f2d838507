package sfu

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/mediarelay/internal/adapters/rtc"
	"github.com/dkeye/mediarelay/internal/core"
	"github.com/dkeye/mediarelay/internal/domain"
)

// outgoing is one subscription's local track and, once the consumer has a
// peer connection, its sender.
type outgoing struct {
	track  *webrtc.TrackLocalStaticRTP
	out    *OutTrack
	sender *webrtc.RTPSender
}

type Participant struct {
	*core.ParticipantState
	server *Server
	logger zerolog.Logger

	mu      sync.Mutex
	conn    *rtc.Connection
	remotes map[domain.TrackKind]*webrtc.TrackRemote
	outs    map[core.Subscription]*outgoing
}

var _ core.Participant = (*Participant)(nil)

func newParticipant(s *Server, user domain.UserID, roomID domain.RoomID) *Participant {
	return &Participant{
		ParticipantState: core.NewParticipantState(user, roomID),
		server:           s,
		logger:           log.With().Str("module", "sfu").Str("user", string(user)).Str("room", string(roomID)).Logger(),
		remotes:          make(map[domain.TrackKind]*webrtc.TrackRemote),
		outs:             make(map[core.Subscription]*outgoing),
	}
}

func (p *Participant) IsSubscribed(producer domain.UserID, kind domain.TrackKind) bool {
	return p.SubscriptionsContain(producer, kind)
}

func (p *Participant) Publish(_ context.Context, kind domain.TrackKind, ssrcs domain.StreamSSRCs) error {
	if ssrcs.For(kind) == 0 {
		return errors.Wrapf(ErrNoSSRC, "publish %s", kind)
	}
	key := RelayKey{Producer: p.UserID(), Kind: kind}
	// Leave removes the participant under the same lock before unpublishing,
	// so a relay opened here is always closed again.
	p.server.mu.RLock()
	if p.server.participants[p.UserID()] != p {
		p.server.mu.RUnlock()
		return errors.Wrapf(ErrUnknownParticipant, "publish %s", kind)
	}
	p.server.relays.Open(key)
	p.SetProducing(kind, true)
	p.server.mu.RUnlock()

	p.mu.Lock()
	remote := p.remotes[kind]
	p.mu.Unlock()
	if remote != nil {
		p.server.relays.Attach(p.server.ctx, key, remote)
	}
	p.logger.Info().Str("kind", string(kind)).Uint32("ssrc", ssrcs.For(kind)).Msg("published")
	return nil
}

func (p *Participant) Unpublish(kind domain.TrackKind) error {
	if !p.IsProducing(kind) {
		return nil
	}
	p.SetProducing(kind, false)
	p.server.relays.Close(RelayKey{Producer: p.UserID(), Kind: kind})
	p.server.dropConsumers(p.UserID(), kind)
	p.logger.Info().Str("kind", string(kind)).Msg("unpublished")
	return nil
}

func (p *Participant) Subscribe(_ context.Context, producer domain.UserID, kind domain.TrackKind) error {
	if producer == p.UserID() {
		return ErrSelfSubscribe
	}
	q, ok := p.server.participant(producer)
	if !ok {
		return errors.Wrapf(ErrUnknownParticipant, "subscribe to %s", producer)
	}
	if !q.IsProducing(kind) {
		return errors.Wrapf(ErrNotProducing, "%s %s", producer, kind)
	}
	if p.IsSubscribed(producer, kind) {
		return nil
	}

	track, err := webrtc.NewTrackLocalStaticRTP(codecFor(kind), uuid.NewString(), string(producer))
	if err != nil {
		return errors.Wrap(err, "new local track")
	}
	o := &outgoing{track: track, out: NewOutTrack(track)}
	sub := core.Subscription{Producer: producer, Kind: kind}

	p.mu.Lock()
	if p.conn != nil {
		if err := p.bindLocked(sub, o); err != nil {
			p.mu.Unlock()
			return err
		}
	} else {
		o.out.SetMuted(true)
	}
	p.outs[sub] = o
	p.mu.Unlock()

	if !p.server.relays.AddSubscriber(RelayKey{Producer: producer, Kind: kind}, p.UserID(), o.out) {
		p.unsubscribe(producer, kind)
		return errors.Wrapf(ErrNotProducing, "%s %s", producer, kind)
	}
	p.RecordSubscription(producer, kind)
	return nil
}

// bindLocked adds o's track to the peer connection. p.mu must be held.
func (p *Participant) bindLocked(sub core.Subscription, o *outgoing) error {
	sender, err := p.conn.AddLocalTrack(o.track)
	if err != nil {
		return err
	}
	o.sender = sender
	o.out.SetMuted(false)
	go p.readRTCP(sender, sub)
	return nil
}

func (p *Participant) unsubscribe(producer domain.UserID, kind domain.TrackKind) {
	sub := core.Subscription{Producer: producer, Kind: kind}
	p.RemoveSubscription(producer, kind)

	p.mu.Lock()
	o, ok := p.outs[sub]
	delete(p.outs, sub)
	conn := p.conn
	var sender *webrtc.RTPSender
	if ok {
		sender = o.sender
	}
	p.mu.Unlock()
	if !ok {
		return
	}
	o.out.MarkDelete()
	p.server.relays.MarkSubscriberDelete(RelayKey{Producer: producer, Kind: kind}, p.UserID())
	if sender != nil && conn != nil {
		if err := conn.RemoveSender(sender); err != nil {
			p.logger.Debug().Err(err).Str("producer", string(producer)).Msg("remove sender")
		}
	}
}

// OutgoingView reads the SSRCs pion assigned to the senders of producer's
// tracks. They stay zero until the consumer has negotiated.
func (p *Participant) OutgoingView(producer domain.UserID) domain.SubscriptionView {
	return p.ResolveOutgoingView(producer, func(sub core.Subscription) (uint32, uint32) {
		var sender *webrtc.RTPSender
		p.mu.Lock()
		if o, ok := p.outs[sub]; ok {
			sender = o.sender
		}
		p.mu.Unlock()
		if sender == nil {
			return 0, 0
		}
		params := sender.GetParameters()
		if len(params.Encodings) == 0 {
			return 0, 0
		}
		enc := params.Encodings[0]
		return uint32(enc.SSRC), uint32(enc.RTX.SSRC)
	})
}

// attach installs conn as the participant's peer connection and binds every
// existing subscription to it. A previous connection is closed.
func (p *Participant) attach(conn *rtc.Connection) error {
	p.mu.Lock()
	old := p.conn
	p.conn = conn
	clear(p.remotes)
	var err error
	for sub, o := range p.outs {
		o.sender = nil
		if bindErr := p.bindLocked(sub, o); bindErr != nil && err == nil {
			err = bindErr
		}
	}
	p.mu.Unlock()

	if old != nil {
		old.Close()
	}
	return err
}

// detach forgets conn if it is still the current connection.
func (p *Participant) detach(conn *rtc.Connection) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn != conn {
		return
	}
	p.conn = nil
	clear(p.remotes)
	for _, o := range p.outs {
		o.sender = nil
		o.out.SetMuted(true)
	}
}

func (p *Participant) onTrack(_ context.Context, track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
	kind, ok := kindOf(track.Kind())
	if !ok {
		return
	}
	p.mu.Lock()
	p.remotes[kind] = track
	p.mu.Unlock()

	if want := p.IncomingStreams().For(kind); want != 0 && want != uint32(track.SSRC()) {
		p.logger.Warn().
			Str("kind", string(kind)).
			Uint32("announced", want).
			Uint32("received", uint32(track.SSRC())).
			Msg("remote track ssrc differs from announced")
	}
	if p.IsProducing(kind) {
		p.server.relays.Attach(p.server.ctx, RelayKey{Producer: p.UserID(), Kind: kind}, track)
	}
}

// readRTCP drains sender's RTCP and forwards keyframe requests to the
// producer.
func (p *Participant) readRTCP(sender *webrtc.RTPSender, sub core.Subscription) {
	for {
		pkts, _, err := sender.ReadRTCP()
		if err != nil {
			return
		}
		if sub.Kind != domain.TrackVideo {
			continue
		}
		for _, pkt := range pkts {
			switch pkt.(type) {
			case *rtcp.PictureLossIndication, *rtcp.FullIntraRequest:
				p.server.requestKeyframe(sub.Producer)
			}
		}
	}
}

func (p *Participant) writeRTCP(pkts []rtcp.Packet) error {
	p.mu.Lock()
	conn := p.conn
	p.mu.Unlock()
	if conn == nil {
		return errors.New("no peer connection")
	}
	return conn.WriteRTCP(pkts)
}

// close drops the participant's own subscriptions and its peer connection.
func (p *Participant) close() {
	for _, sub := range p.Subscriptions() {
		p.unsubscribe(sub.Producer, sub.Kind)
	}
	p.mu.Lock()
	conn := p.conn
	p.conn = nil
	p.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}
