package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
	"github.com/spf13/pflag"

	"github.com/dkeye/mediarelay/internal/adapters/control"
	router "github.com/dkeye/mediarelay/internal/adapters/http"
	"github.com/dkeye/mediarelay/internal/adapters/rtc"
	"github.com/dkeye/mediarelay/internal/app"
	"github.com/dkeye/mediarelay/internal/app/orch"
	"github.com/dkeye/mediarelay/internal/app/sfu"
	"github.com/dkeye/mediarelay/internal/config"
	"github.com/dkeye/mediarelay/internal/telemetry/prometheus"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	flags := pflag.NewFlagSet("mediarelay", pflag.ExitOnError)
	config.RegisterFlags(flags)
	_ = flags.Parse(os.Args[1:])

	loader := config.NewLoader(afero.NewOsFs(), flags)
	cfg, err := loader.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	applyLogLevel(cfg)
	loader.Watch(applyLogLevel)

	if err := run(ctx, cfg); err != nil {
		log.Fatal().Err(err).Msg("relay stopped")
	}
	log.Info().Msg("Relay exited gracefully")
}

func applyLogLevel(cfg *config.Config) {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		log.Warn().Str("log_level", cfg.LogLevel).Msg("unknown log level, keeping current")
		return
	}
	if cfg.Mode == "release" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
	zerolog.SetGlobalLevel(level)
}

func run(ctx context.Context, cfg *config.Config) error {
	prometheus.Register()

	publicIP := cfg.DeterminePublicIP(ctx)
	api, err := sfu.NewAPI(sfu.APIOptions{
		PortMin:  cfg.RTC.PortMin,
		PortMax:  cfg.RTC.PortMax,
		PublicIP: publicIP,
	})
	if err != nil {
		return errors.Wrap(err, "webrtc api")
	}
	media := sfu.NewServer(ctx, api, rtc.Configuration(cfg.STUNServers))
	defer media.Close()

	reg := app.NewRegistry()
	throttle := app.NewSpeakingThrottle(cfg.SpeakingThrottle, clock.New())

	// The control client is both the event source and the notifier, so the
	// dispatcher gets its engine after the orchestrator exists.
	dispatcher := &control.Dispatcher{
		Offers: app.NewRateLimiter(cfg.OfferRate.Limit, cfg.OfferRate.Interval, clock.New()),
	}
	client := control.NewClient(control.Options{
		URL:             cfg.ControlURL,
		PublicIP:        publicIP,
		PublicPort:      int(cfg.RTC.PortMin),
		SendBuffer:      cfg.SendBuffer,
		InitialInterval: cfg.Reconnect.InitialInterval,
		MaxInterval:     cfg.Reconnect.MaxInterval,
		Policy:          app.SimplePolicy{},
	}, dispatcher)

	engine := orch.New(reg, media, client, throttle, orch.Options{
		FanoutWorkers: cfg.FanoutWorkers,
		JoinKeying:    orch.JoinKeying(cfg.JoinBatchKeying),
		Suppression:   orch.Suppression(cfg.SpeakingSuppression),
	})
	dispatcher.Engine = engine

	r := router.SetupRouter(cfg, router.Deps{
		Rooms:        media,
		Control:      client,
		Participants: reg,
		Kicker:       engine,
	})
	addr := fmt.Sprintf(":%d", cfg.HTTPPort)
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("admin server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("admin server error")
		}
	}()

	log.Info().
		Str("public_ip", publicIP).
		Uint16("port_min", cfg.RTC.PortMin).
		Uint16("port_max", cfg.RTC.PortMax).
		Msg("media relay started")
	err = client.Run(ctx)

	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if serr := srv.Shutdown(shutdownCtx); serr != nil {
		log.Error().Err(serr).Msg("admin server forced to shutdown")
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
