package sfu

import (
	"context"
	"maps"
	"sync"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/dkeye/mediarelay/internal/domain"
)

// packetSource is the read side of a producer track. *webrtc.TrackRemote
// satisfies it. A source must have at most one reader at a time.
type packetSource interface {
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
	SSRC() webrtc.SSRC
}

// Relay copies one producer track to every subscribed consumer. The source
// is attached once the producer's remote track shows up.
type Relay struct {
	mu        sync.RWMutex
	src       packetSource
	outTracks map[domain.UserID]*OutTrack

	cancel context.CancelFunc
}

func NewRelay() *Relay {
	return &Relay{
		outTracks: make(map[domain.UserID]*OutTrack),
	}
}

// Src returns the attached remote track, nil before attach.
func (r *Relay) Src() packetSource {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.src
}

// attach binds src and starts the forwarding loop once after is closed, so a
// loop still blocked in ReadRTP on the same source keeps it to itself. A
// previous loop of r is stopped first. The returned channel is closed when
// the new loop exits.
func (r *Relay) attach(ctx context.Context, src packetSource, after <-chan struct{}, logger *zerolog.Logger) <-chan struct{} {
	loopCtx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	if r.cancel != nil {
		r.cancel()
	}
	r.src = src
	r.cancel = cancel
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		if after != nil {
			<-after
		}
		r.loop(loopCtx, src, logger)
	}()
	return done
}

// loop reads RTP packets from src and forwards them to all OutTracks.
func (r *Relay) loop(ctx context.Context, src packetSource, logger *zerolog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		pkt, _, err := src.ReadRTP()
		if err != nil {
			logger.Info().Err(err).Msg("relay source ended")
			return
		}
		r.forward(pkt, logger)
	}
}

func (r *Relay) forward(pkt *rtp.Packet, logger *zerolog.Logger) {
	r.mu.RLock()
	snapshot := maps.Clone(r.outTracks)
	r.mu.RUnlock()

	var dirty []domain.UserID
	for dst, ot := range snapshot {
		switch ot.State() {
		case TrackStateDelete:
			dirty = append(dirty, dst)
		case TrackStateMuted:
		case TrackStateOk:
			if err := ot.Track.WriteRTP(pkt); err != nil {
				logger.Error().
					Err(err).
					Str("dst", string(dst)).
					Msg("relay write RTP error, marking outtrack as delete")
				ot.MarkDelete()
				dirty = append(dirty, dst)
			}
		}
	}

	// Cleanup is done outside the RLock.
	if len(dirty) > 0 {
		r.cleanupDeleted(dirty)
	}
}

func (r *Relay) cleanupDeleted(dirty []domain.UserID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, dst := range dirty {
		if ot, ok := r.outTracks[dst]; ok && ot.State() == TrackStateDelete {
			delete(r.outTracks, dst)
		}
	}
}

func (r *Relay) stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
	for _, ot := range r.outTracks {
		ot.MarkDelete()
	}
}

func (r *Relay) AddOutTrack(dst domain.UserID, ot *OutTrack) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.outTracks[dst]; ok {
		old.MarkDelete()
	}
	r.outTracks[dst] = ot
}

func (r *Relay) OutTrack(dst domain.UserID) (*OutTrack, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ot, ok := r.outTracks[dst]
	return ot, ok
}

func (r *Relay) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.outTracks)
}
