package orch

import (
	"context"
	"time"

	"github.com/dkeye/mediarelay/internal/app"
	"github.com/dkeye/mediarelay/internal/core"
	"github.com/dkeye/mediarelay/internal/domain"
	"github.com/dkeye/mediarelay/internal/telemetry/prometheus"
)

const answerAudioCodec = "opus"

type OfferParams struct {
	UserID          domain.UserID
	RoomID          domain.RoomID
	SDP             string
	Codecs          []core.ClientCodec
	ClientBuild     string
	ClientBuildDate time.Time
}

// Offer answers a client's SDP offer and, once answered, runs the join pass
// for that client.
func (o *Orchestrator) Offer(ctx context.Context, req OfferParams) {
	o.mu.Lock()
	defer o.mu.Unlock()
	logger := passLogger("offer", req.UserID)
	c, ok := o.lookup(&logger, req.UserID)
	if !ok {
		return
	}

	answer, err := o.SFU.AnswerOffer(ctx, core.OfferRequest{
		ClientBuild:     req.ClientBuild,
		ClientBuildDate: req.ClientBuildDate,
		Participant:     c.Participant,
		SDP:             req.SDP,
		Codecs:          req.Codecs,
	})
	if err != nil {
		logger.Error().Err(err).Msg("answer offer")
		return
	}

	err = o.Notifier.SendAnswer(ctx, core.AnswerMessage{
		RoomID:     req.RoomID,
		UserID:     req.UserID,
		SDP:        answer.SDP,
		AudioCodec: answerAudioCodec,
		VideoCodec: answer.VideoCodec,
	})
	if err != nil {
		logger.Error().Err(err).Msg("send answer")
		return
	}
	logger.Info().Str("video_codec", answer.VideoCodec).Msg("answered client")

	o.reconcileJoin(ctx, req.UserID)
}

// ProducerState applies a VIDEO report: user now wants to produce exactly the
// kinds with a non-zero SSRC.
func (o *Orchestrator) ProducerState(ctx context.Context, user domain.UserID, ssrcs domain.StreamSSRCs) {
	o.mu.Lock()
	defer o.mu.Unlock()
	logger := passLogger("video", user)
	c, ok := o.lookup(&logger, user)
	if !ok {
		return
	}
	prometheus.ReconcilePass("video")
	p := c.Participant
	prev := p.IncomingStreams()
	p.SetIncomingStreams(ssrcs)
	if ssrcs.IsZero() {
		logger.Debug().Msg("report carries no streams")
	}

	others := o.others(p)
	needUpdate := app.NewBatch[core.Participant]()

	for _, kind := range domain.TrackKinds {
		wants := ssrcs.For(kind) != 0
		currently := p.IsProducing(kind)

		switch {
		case wants && !currently:
			logger.Info().Str("kind", string(kind)).Uint32("ssrc", ssrcs.For(kind)).Msg("starting production")
			if err := p.Publish(ctx, kind, ssrcs); err != nil {
				fanoutFailure(&logger, "publish", user, user, kind, err)
				p.SetIncomingStreams(withKindOf(p.IncomingStreams(), domain.StreamSSRCs{}, kind))
				continue
			}
			o.fanout(others, func(m core.Participant) {
				if err := m.Subscribe(ctx, user, kind); err != nil {
					fanoutFailure(&logger, "subscribe", m.UserID(), user, kind, err)
					return
				}
				needUpdate.Stage(m.UserID(), m)
			})

		case !wants && currently:
			logger.Info().Str("kind", string(kind)).Msg("stopping production")
			if err := p.Unpublish(kind); err != nil {
				fanoutFailure(&logger, "unpublish", user, user, kind, err)
				p.SetIncomingStreams(withKindOf(p.IncomingStreams(), prev, kind))
				continue
			}
			for _, m := range others {
				needUpdate.Stage(m.UserID(), m)
			}
		}
	}

	batch := app.NewBatch[core.VideoUpdate]()
	o.fanout(values(needUpdate.Entries()), func(m core.Participant) {
		batch.Stage(m.UserID(), core.VideoUpdate{
			UserID:      user,
			StreamSSRCs: m.OutgoingView(user),
		})
	})
	o.flushVideo(ctx, &logger, batch)
}

// withKindOf returns s with kind's SSRCs taken from src.
func withKindOf(s, src domain.StreamSSRCs, kind domain.TrackKind) domain.StreamSSRCs {
	if kind == domain.TrackAudio {
		s.Audio = src.Audio
		return s
	}
	s.Video, s.RTX = src.Video, src.RTX
	return s
}

func values(m map[domain.UserID]core.Participant) []core.Participant {
	out := make([]core.Participant, 0, len(m))
	for _, p := range m {
		out = append(out, p)
	}
	return out
}
