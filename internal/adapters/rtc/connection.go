package rtc

import (
	"context"
	"sync"

	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/mediarelay/internal/domain"
)

type Connection struct {
	pc     *webrtc.PeerConnection
	user   domain.UserID
	logger zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	onTrack  func(ctx context.Context, track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver)
	onClosed func()
	closed   bool
}

// Configuration returns the peer connection config for the given STUN
// servers (host:port form).
func Configuration(stunServers []string) webrtc.Configuration {
	cfg := webrtc.Configuration{}
	for _, s := range stunServers {
		cfg.ICEServers = append(cfg.ICEServers, webrtc.ICEServer{URLs: []string{"stun:" + s}})
	}
	return cfg
}

func NewConnection(api *webrtc.API, cfg webrtc.Configuration, user domain.UserID) (*Connection, error) {
	pc, err := api.NewPeerConnection(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "new peer connection")
	}
	return &Connection{
		pc:     pc,
		user:   user,
		logger: log.With().Str("module", "rtc").Str("user", string(user)).Logger(),
	}, nil
}

// Start installs the pion callbacks. ctx bounds the lifetime of every track
// handed to OnTrack.
func (c *Connection) Start(ctx context.Context) {
	c.ctx, c.cancel = context.WithCancel(ctx)

	c.pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		c.logger.Info().Str("ice_state", s.String()).Msg("ICE state")
	})

	c.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		c.logger.Info().Str("peer_connection_state", s.String()).Msg("Peer state")
		if s == webrtc.PeerConnectionStateFailed ||
			s == webrtc.PeerConnectionStateClosed {
			c.fireClosed()
		}
	})

	c.pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		c.logger.Info().
			Str("kind", track.Kind().String()).
			Uint32("ssrc", uint32(track.SSRC())).
			Str("track_id", track.ID()).
			Msg("OnTrack received")
		c.mu.Lock()
		fn := c.onTrack
		c.mu.Unlock()
		if fn != nil {
			fn(c.ctx, track, receiver)
		}
	})
}

// Answer applies a remote offer and returns the local answer once ICE
// gathering has completed.
func (c *Connection) Answer(ctx context.Context, offer string) (*webrtc.SessionDescription, error) {
	err := c.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offer})
	if err != nil {
		return nil, errors.Wrap(err, "set remote description")
	}
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return nil, errors.Wrap(err, "create answer")
	}

	gatherComplete := webrtc.GatheringCompletePromise(c.pc)
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return nil, errors.Wrap(err, "set local description")
	}
	select {
	case <-gatherComplete:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return c.pc.LocalDescription(), nil
}

func (c *Connection) Close() {
	if c.cancel != nil {
		c.cancel()
	}
	if err := c.pc.Close(); err != nil {
		c.logger.Error().Err(err).Msg("close error")
	} else {
		c.logger.Info().Msg("closed")
	}
	c.fireClosed()
}

func (c *Connection) fireClosed() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	fn := c.onClosed
	c.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// OnTrack sets the callback for remote tracks.
func (c *Connection) OnTrack(fn func(ctx context.Context, track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onTrack = fn
}

// OnClosed sets the callback run once when the connection fails or closes.
func (c *Connection) OnClosed(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onClosed = fn
}

// AddLocalTrack attaches a local static RTP track to the PeerConnection.
func (c *Connection) AddLocalTrack(track *webrtc.TrackLocalStaticRTP) (*webrtc.RTPSender, error) {
	sender, err := c.pc.AddTrack(track)
	if err != nil {
		return nil, errors.Wrapf(err, "add track %s", track.ID())
	}
	return sender, nil
}

func (c *Connection) RemoveSender(sender *webrtc.RTPSender) error {
	return c.pc.RemoveTrack(sender)
}

func (c *Connection) WriteRTCP(pkts []rtcp.Packet) error {
	return c.pc.WriteRTCP(pkts)
}
