package orch

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc/pool"

	"github.com/dkeye/mediarelay/internal/app"
	"github.com/dkeye/mediarelay/internal/core"
	"github.com/dkeye/mediarelay/internal/domain"
	"github.com/dkeye/mediarelay/internal/telemetry/prometheus"
)

// JoinKeying selects the recipient key of join batch entries.
type JoinKeying string

const (
	// KeyByProducer emits one entry per producer whose visibility changed.
	KeyByProducer JoinKeying = "producer"
	// KeyByJoiner keys every entry by the joining participant, so only the
	// last producer processed survives.
	KeyByJoiner JoinKeying = "joiner"
)

// Suppression selects what a consumer gets when a speaking=true toggle
// arrives before its audio subscription has an SSRC.
type Suppression string

const (
	// SuppressOmit leaves the consumer out of the batch.
	SuppressOmit Suppression = "omit"
	// SuppressZero sends the consumer speaking=false with a zero SSRC, so a
	// client never sees someone speaking on a stream it cannot play.
	SuppressZero Suppression = "zero"
)

const (
	DefaultFanoutWorkers = 16
	voiceChannel         = "guild-voice"
)

type Options struct {
	FanoutWorkers int
	JoinKeying    JoinKeying
	Suppression   Suppression
}

// Orchestrator runs reconciliation passes. Passes run one at a time, whichever
// goroutine starts them; fan-out inside a pass is concurrent.
type Orchestrator struct {
	// mu is held for the whole of a pass.
	mu sync.Mutex

	Registry *app.Registry
	SFU      core.SFU
	Notifier core.Notifier
	Throttle *app.SpeakingThrottle
	Options  Options
}

func New(reg *app.Registry, sfu core.SFU, notifier core.Notifier, throttle *app.SpeakingThrottle, opts Options) *Orchestrator {
	if opts.FanoutWorkers <= 0 {
		opts.FanoutWorkers = DefaultFanoutWorkers
	}
	if opts.JoinKeying == "" {
		opts.JoinKeying = KeyByProducer
	}
	if opts.Suppression == "" {
		opts.Suppression = SuppressOmit
	}
	return &Orchestrator{
		Registry: reg,
		SFU:      sfu,
		Notifier: notifier,
		Throttle: throttle,
		Options:  opts,
	}
}

func passLogger(event string, user domain.UserID) zerolog.Logger {
	return log.With().Str("module", "orch").Str("event", event).Str("user", string(user)).Logger()
}

// fanout runs fn for every member on a bounded pool and returns once all of
// them have finished.
func (o *Orchestrator) fanout(members []core.Participant, fn func(m core.Participant)) {
	if len(members) == 0 {
		return
	}
	p := pool.New().WithMaxGoroutines(o.Options.FanoutWorkers)
	for _, m := range members {
		p.Go(func() { fn(m) })
	}
	p.Wait()
}

// others returns the members of p's room except p itself.
func (o *Orchestrator) others(p core.Participant) []core.Participant {
	members := o.SFU.RoomMembers(p.RoomID())
	out := make([]core.Participant, 0, len(members))
	for _, m := range members {
		if m.UserID() != p.UserID() {
			out = append(out, m)
		}
	}
	return out
}

func (o *Orchestrator) flushVideo(ctx context.Context, logger *zerolog.Logger, batch *app.Batch[core.VideoUpdate]) {
	sent, err := batch.FlushIfAny(func(entries map[domain.UserID]core.VideoUpdate) error {
		return o.Notifier.SendVideoBatch(ctx, entries)
	})
	if err != nil {
		logger.Error().Err(err).Msg("send video batch")
		return
	}
	if sent {
		prometheus.BatchSent("video", batch.Len())
		logger.Debug().Int("entries", batch.Len()).Msg("video batch sent")
	}
}

func (o *Orchestrator) flushSpeaking(ctx context.Context, logger *zerolog.Logger, batch *app.Batch[core.SpeakingUpdate]) {
	err := batch.Flush(func(entries map[domain.UserID]core.SpeakingUpdate) error {
		return o.Notifier.SendSpeakingBatch(ctx, entries)
	})
	if err != nil {
		logger.Error().Err(err).Msg("send speaking batch")
		return
	}
	prometheus.BatchSent("speaking", batch.Len())
}

func (o *Orchestrator) lookup(logger *zerolog.Logger, user domain.UserID) (*app.Client, bool) {
	c, ok := o.Registry.Get(user)
	if !ok {
		logger.Debug().Msg("unknown participant, ignoring")
	}
	return c, ok
}

func fanoutFailure(logger *zerolog.Logger, op string, consumer, producer domain.UserID, kind domain.TrackKind, err error) {
	prometheus.FanoutFailure(op)
	logger.Warn().
		Err(err).
		Str("op", op).
		Str("consumer", string(consumer)).
		Str("producer", string(producer)).
		Str("kind", string(kind)).
		Msg("fan-out operation failed")
}
