// Command server runs the DropZone HTTP service together with the expiry
// sweeper. One-shot deletions use in-process timers, or the asynq queue when
// Redis is configured (then run cmd/worker as well).
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/dharsanguruparan/DropZone/internal/app"
	"github.com/dharsanguruparan/DropZone/internal/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// The logger depends on config, so fall back to a default one.
		fallback := config.SetupLogger(&config.Config{})
		fallback.Fatal().Err(err).Msg("load config")
	}
	log := config.SetupLogger(cfg)
	if cfg.KeyErr != nil {
		log.Warn().Err(cfg.KeyErr).Msg("DROPZONE_ENCRYPTION_KEY is unusable; using an insecure placeholder key")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("init")
	}
	defer a.Close()

	// Timers are lost on restart; queue tasks are not.
	if !a.ExternalScheduler() {
		n, err := a.Expiry.Rearm(ctx)
		if err != nil {
			log.Error().Err(err).Msg("rearm expiry timers")
		}
		log.Info().Int("files", n).Msg("expiry timers armed")
	}

	sweeper := a.Sweeper()
	sweeper.Start(ctx)
	defer sweeper.Stop()

	srv, err := a.HTTPServer()
	if err != nil {
		log.Fatal().Err(err).Msg("init server")
	}
	if err := srv.Run(ctx); err != nil {
		log.Error().Err(err).Msg("server stopped")
		sweeper.Stop()
		a.Close()
		os.Exit(1)
	}
	log.Info().Msg("shut down")
}
