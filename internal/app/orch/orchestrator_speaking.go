package orch

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/dkeye/mediarelay/internal/app"
	"github.com/dkeye/mediarelay/internal/core"
	"github.com/dkeye/mediarelay/internal/domain"
	"github.com/dkeye/mediarelay/internal/telemetry/prometheus"
)

// Speaking handles a speaking toggle from user. audioSSRC is the SSRC the
// client claims to be sending on.
func (o *Orchestrator) Speaking(ctx context.Context, user domain.UserID, room domain.RoomID, speaking bool, audioSSRC uint32) {
	o.mu.Lock()
	defer o.mu.Unlock()
	logger := passLogger("speaking", user)
	c, ok := o.lookup(&logger, user)
	if !ok {
		return
	}
	if !o.Throttle.Allow(user, speaking) {
		prometheus.SpeakingThrottled()
		return
	}
	prometheus.ReconcilePass("speaking")

	p := c.Participant
	if !p.IsProducing(domain.TrackAudio) {
		logger.Debug().Msg("not producing audio, speaking ignored")
		return
	}
	switch recorded := p.IncomingStreams().Audio; {
	case audioSSRC == 0:
		logger.Debug().Uint32("recorded", recorded).Msg("speaking without audio ssrc, keeping recorded")
	case recorded != audioSSRC:
		prometheus.SSRCMismatch()
		logger.Warn().Uint32("recorded", recorded).Uint32("claimed", audioSSRC).Msg("audio ssrc mismatch")
		o.correctAudioSSRC(ctx, &logger, p, audioSSRC)
	}

	if room == "" {
		room = p.RoomID()
	}
	var audience []core.Participant
	for _, m := range o.SFU.Audience(room) {
		if m.UserID() != user {
			audience = append(audience, m)
		}
	}

	batch := app.NewBatch[core.SpeakingUpdate]()
	o.fanout(audience, func(m core.Participant) {
		ssrc := m.OutgoingView(user).Audio
		if speaking && ssrc == 0 {
			if o.Options.Suppression == SuppressOmit {
				return
			}
			batch.Stage(m.UserID(), core.SpeakingUpdate{UserID: user, Speaking: false, SSRC: 0})
			return
		}
		batch.Stage(m.UserID(), core.SpeakingUpdate{UserID: user, Speaking: speaking, SSRC: ssrc})
	})
	o.flushSpeaking(ctx, &logger, batch)
}

// correctAudioSSRC republishes p's audio on a non-zero ssrc and resubscribes
// every other room member.
func (o *Orchestrator) correctAudioSSRC(ctx context.Context, logger *zerolog.Logger, p core.Participant, ssrc uint32) {
	user := p.UserID()
	if err := p.Unpublish(domain.TrackAudio); err != nil {
		fanoutFailure(logger, "unpublish", user, user, domain.TrackAudio, err)
	}
	incoming := p.IncomingStreams().WithAudio(ssrc)
	p.SetIncomingStreams(incoming)

	published := true
	if err := p.Publish(ctx, domain.TrackAudio, incoming); err != nil {
		fanoutFailure(logger, "publish", user, user, domain.TrackAudio, err)
		p.SetIncomingStreams(incoming.WithAudio(0))
		published = false
	}

	batch := app.NewBatch[core.VideoUpdate]()
	o.fanout(o.others(p), func(m core.Participant) {
		if published {
			if err := m.Subscribe(ctx, user, domain.TrackAudio); err != nil {
				fanoutFailure(logger, "subscribe", m.UserID(), user, domain.TrackAudio, err)
				return
			}
		}
		batch.Stage(m.UserID(), core.VideoUpdate{
			UserID:      user,
			StreamSSRCs: m.OutgoingView(user),
		})
	})
	o.flushVideo(ctx, logger, batch)
}
