// Command worker consumes the file:expire tasks the server schedules when
// Redis is configured.
package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/dharsanguruparan/DropZone/internal/app"
	"github.com/dharsanguruparan/DropZone/internal/config"
	"github.com/dharsanguruparan/DropZone/internal/worker"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		fallback := config.SetupLogger(&config.Config{})
		fallback.Fatal().Err(err).Msg("load config")
	}
	log := config.SetupLogger(cfg).With().Str("binary", "worker").Logger()
	if !cfg.RedisEnabled() {
		log.Fatal().Msg("DROPZONE_REDIS_ADDR is required for the worker")
	}
	if strings.HasPrefix(cfg.DatabaseURL, "memory://") {
		log.Warn().Msg("worker is using its own in-memory store and cannot see the server's files")
	}

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("init")
	}
	defer a.Close()

	server := asynq.NewServer(a.RedisOpt(), asynq.Config{
		Concurrency: cfg.Workers,
		Logger:      worker.NewAsynqLogger(log),
	})
	processor := worker.NewProcessor(a.Expiry, log)
	mux := processor.Handler()

	go func() {
		<-ctx.Done()
		server.Shutdown()
	}()

	log.Info().Int("concurrency", cfg.Workers).Msg("worker started")
	if err := server.Run(mux); err != nil {
		log.Error().Err(err).Msg("worker stopped")
		a.Close()
		os.Exit(1)
	}
}
