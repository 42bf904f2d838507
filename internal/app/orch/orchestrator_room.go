package orch

import (
	"context"

	"github.com/pkg/errors"

	"github.com/dkeye/mediarelay/internal/app"
	"github.com/dkeye/mediarelay/internal/core"
	"github.com/dkeye/mediarelay/internal/domain"
	"github.com/dkeye/mediarelay/internal/telemetry/prometheus"
)

// Identify creates the participant for user in room. A repeated identify
// replaces the previous record.
func (o *Orchestrator) Identify(ctx context.Context, user domain.UserID, room domain.RoomID, ip string, ssrc uint32) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	logger := passLogger("identify", user)
	if err := domain.ValidateUserID(user); err != nil {
		return err
	}
	if _, ok := o.Registry.Get(user); ok {
		logger.Info().Msg("re-identify, dropping previous participant")
		o.SFU.Leave(user)
		o.Throttle.Forget(user)
	}

	p, err := o.SFU.Join(ctx, room, user, voiceChannel)
	if err != nil {
		return errors.Wrapf(err, "join %s", room)
	}
	p.SetIncomingStreams(domain.StreamSSRCs{})

	o.Registry.Put(&app.Client{
		UserID:      user,
		RoomID:      room,
		IPAddress:   ip,
		SSRC:        ssrc,
		Participant: p,
	})
	prometheus.SetParticipants(o.Registry.Len())
	logger.Info().Str("room", string(room)).Msg("client joined room")
	return nil
}

// Close forgets user. Closing an unknown user is a no-op.
func (o *Orchestrator) Close(user domain.UserID) {
	o.mu.Lock()
	defer o.mu.Unlock()
	logger := passLogger("close", user)
	if _, ok := o.Registry.Remove(user); !ok {
		logger.Debug().Msg("close for unknown participant")
		return
	}
	o.SFU.Leave(user)
	o.Throttle.Forget(user)
	prometheus.SetParticipants(o.Registry.Len())
	logger.Info().Msg("client closed, removed from internal store")
}

// ReconcileJoin subscribes user to every active producer in its room and
// reports the producers whose visibility changed.
func (o *Orchestrator) ReconcileJoin(ctx context.Context, user domain.UserID) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.reconcileJoin(ctx, user)
}

func (o *Orchestrator) reconcileJoin(ctx context.Context, user domain.UserID) {
	logger := passLogger("join", user)
	c, ok := o.lookup(&logger, user)
	if !ok {
		return
	}
	prometheus.ReconcilePass("join")
	joiner := c.Participant
	batch := app.NewBatch[core.VideoUpdate]()

	o.fanout(o.others(joiner), func(q core.Participant) {
		changed := false
		for _, kind := range domain.TrackKinds {
			if !q.IsProducing(kind) || joiner.IsSubscribed(q.UserID(), kind) {
				continue
			}
			if err := joiner.Subscribe(ctx, q.UserID(), kind); err != nil {
				fanoutFailure(&logger, "subscribe", joiner.UserID(), q.UserID(), kind, err)
				return
			}
			changed = true
		}
		if !changed {
			return
		}

		key := q.UserID()
		if o.Options.JoinKeying == KeyByJoiner {
			key = joiner.UserID()
		}
		batch.Stage(key, core.VideoUpdate{
			UserID:      q.UserID(),
			StreamSSRCs: joiner.OutgoingView(q.UserID()),
		})
	})

	o.flushVideo(ctx, &logger, batch)
}
