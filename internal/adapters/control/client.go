package control

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/mediarelay/internal/app"
	"github.com/dkeye/mediarelay/internal/core"
	"github.com/dkeye/mediarelay/internal/telemetry/prometheus"
)

// Handler consumes the inbound events that drive reconciliation. Calls are
// made one at a time from the read loop.
type Handler interface {
	Handle(ctx context.Context, ev Event)
}

type Options struct {
	URL        string
	PublicIP   string
	PublicPort int
	SendBuffer int

	InitialInterval time.Duration
	MaxInterval     time.Duration

	Policy app.Policy
	Dialer *websocket.Dialer
	Clock  clock.Clock
}

// Client keeps one websocket to the central server alive.
type Client struct {
	opts    Options
	handler Handler

	mu            sync.RWMutex
	conn          *wsConn
	stopHeartbeat context.CancelFunc
}

func NewClient(opts Options, handler Handler) *Client {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 256
	}
	if opts.InitialInterval <= 0 {
		opts.InitialInterval = 500 * time.Millisecond
	}
	if opts.MaxInterval < opts.InitialInterval {
		opts.MaxInterval = 30 * time.Second
	}
	if opts.Policy == nil {
		opts.Policy = app.SimplePolicy{}
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	return &Client{opts: opts, handler: handler}
}

// Run connects and serves until ctx is cancelled, reconnecting with
// exponential backoff whenever the socket drops.
func (c *Client) Run(ctx context.Context) error {
	for {
		conn, err := c.dial(ctx)
		if err != nil {
			return err
		}
		err = c.serve(ctx, conn)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Warn().Err(err).Str("module", "control").Msg("connection lost, reconnecting")
	}
}

func (c *Client) dial(ctx context.Context) (*wsConn, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.opts.InitialInterval
	b.MaxInterval = c.opts.MaxInterval
	b.MaxElapsedTime = 0

	var conn *wsConn
	op := func() error {
		ws, _, err := c.opts.Dialer.DialContext(ctx, c.opts.URL, nil)
		if err != nil {
			return err
		}
		conn = newWSConn(ws, c.opts.SendBuffer)
		return nil
	}
	notify := func(err error, wait time.Duration) {
		log.Warn().Err(err).Str("module", "control").Str("url", c.opts.URL).Dur("retry_in", wait).Msg("dial failed")
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(b, ctx), notify); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errors.Wrap(err, "dial control server")
	}
	return conn, nil
}

func (c *Client) serve(ctx context.Context, conn *wsConn) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	prometheus.SetControlConnected(true)
	defer func() {
		c.mu.Lock()
		if c.conn == conn {
			c.conn = nil
		}
		c.stopHeartbeat = nil
		c.mu.Unlock()
		prometheus.SetControlConnected(false)
	}()

	go conn.writePump(ctx)

	frame, err := EncodeIdentify(c.opts.PublicIP, c.opts.PublicPort, c.opts.Clock.Now())
	if err != nil {
		return err
	}
	if err := conn.TrySend(frame); err != nil {
		return errors.Wrap(err, "send identify")
	}
	log.Info().Str("module", "control").Str("url", c.opts.URL).Msg("connected to central server")

	return conn.readPump(ctx, func(data []byte) { c.onFrame(ctx, data) })
}

func (c *Client) onFrame(ctx context.Context, data []byte) {
	ev, err := Decode(data)
	if err != nil {
		log.Warn().Err(err).Str("module", "control").Msg("dropping frame")
		return
	}
	switch ev := ev.(type) {
	case Alright:
		log.Info().Str("module", "control").Int("ahead", ev.Location-1).Msg("identified with central server")
	case HeartbeatInfo:
		c.startHeartbeat(ctx, time.Duration(ev.HeartbeatInterval)*time.Millisecond)
	default:
		c.handler.Handle(ctx, ev)
	}
}

// startHeartbeat (re)starts the HEARTBEAT ticker for the current session.
func (c *Client) startHeartbeat(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		log.Warn().Str("module", "control").Dur("interval", interval).Msg("ignoring heartbeat interval")
		return
	}
	hbCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	if c.stopHeartbeat != nil {
		c.stopHeartbeat()
	}
	c.stopHeartbeat = cancel
	c.mu.Unlock()

	ticker := c.opts.Clock.Ticker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-hbCtx.Done():
				return
			case now := <-ticker.C:
				frame, err := EncodeHeartbeat(now)
				if err != nil {
					log.Error().Err(err).Str("module", "control").Msg("encode heartbeat")
					continue
				}
				_ = c.send(OpHeartbeat, frame)
			}
		}
	}()
	log.Debug().Str("module", "control").Dur("interval", interval).Msg("heartbeat started")
}

// send queues frame on the live connection and applies the backpressure
// policy when the queue is full.
func (c *Client) send(op Op, frame core.Frame) error {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil {
		return ErrClosed
	}
	err := conn.TrySend(frame)
	if !errors.Is(err, ErrBackpressure) {
		return err
	}
	switch c.opts.Policy.OnBackPressure(string(op)) {
	case app.DropFrame:
		log.Debug().Str("module", "control").Str("op", string(op)).Msg("send queue full, frame dropped")
	case app.Reconnect:
		log.Warn().Str("module", "control").Str("op", string(op)).Msg("send queue full, reconnecting")
		conn.Close()
	}
	return err
}

// Connected reports whether a control session is live.
func (c *Client) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn != nil
}
