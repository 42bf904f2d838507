package control

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/mediarelay/internal/app"
	"github.com/dkeye/mediarelay/internal/app/orch"
	"github.com/dkeye/mediarelay/internal/domain"
)

// Engine is the reconciliation surface the dispatcher drives.
type Engine interface {
	Identify(ctx context.Context, user domain.UserID, room domain.RoomID, ip string, ssrc uint32) error
	Close(user domain.UserID)
	Offer(ctx context.Context, req orch.OfferParams)
	ProducerState(ctx context.Context, user domain.UserID, ssrcs domain.StreamSSRCs)
	Speaking(ctx context.Context, user domain.UserID, room domain.RoomID, speaking bool, audioSSRC uint32)
}

var _ Engine = (*orch.Orchestrator)(nil)

// Dispatcher routes client events to the engine. Offers is optional and
// caps how often one user may renegotiate.
type Dispatcher struct {
	Engine Engine
	Offers *app.RateLimiter
}

func (d Dispatcher) Handle(ctx context.Context, ev Event) {
	switch ev := ev.(type) {
	case ClientIdentify:
		if err := d.Engine.Identify(ctx, ev.UserID, ev.RoomID, ev.IPAddress, ev.SSRC); err != nil {
			log.Error().Err(err).Str("module", "control").Str("user", string(ev.UserID)).Msg("identify failed")
		}
	case ClientClose:
		d.Engine.Close(ev.UserID)
		if d.Offers != nil {
			d.Offers.Forget(ev.UserID)
		}
	case Offer:
		if d.Offers != nil && !d.Offers.Allow(ev.UserID) {
			log.Warn().Str("module", "control").Str("user", string(ev.UserID)).Msg("offer rate limited")
			return
		}
		d.Engine.Offer(ctx, orch.OfferParams{
			UserID:          ev.UserID,
			RoomID:          ev.RoomID,
			SDP:             ev.SDP,
			Codecs:          ev.Codecs,
			ClientBuild:     ev.ClientBuild,
			ClientBuildDate: ev.ClientBuildDate,
		})
	case Video:
		d.Engine.ProducerState(ctx, ev.UserID, ev.StreamSSRCs)
	case ClientSpeaking:
		d.Engine.Speaking(ctx, ev.UserID, ev.RoomID, ev.Speaking, ev.AudioSSRC)
	case Alright, HeartbeatInfo:
		// handled by the client
	default:
		log.Warn().Str("module", "control").Str("op", string(ev.op())).Msg("no handler for event")
	}
}
