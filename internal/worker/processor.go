package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/dharsanguruparan/DropZone/internal/expiry"
	"github.com/dharsanguruparan/DropZone/internal/metrics"
	"github.com/dharsanguruparan/DropZone/internal/queue"
)

// Expirer is the part of expiry.Manager the worker needs.
type Expirer interface {
	ExpireDue(ctx context.Context, shareID, trigger string) error
}

// Processor is plugged into the asynq worker loop.
type Processor struct {
	expirer Expirer
	log     zerolog.Logger
}

// NewProcessor constructs a worker processor.
func NewProcessor(expirer Expirer, log zerolog.Logger) *Processor {
	return &Processor{expirer: expirer, log: log.With().Str("component", "worker").Logger()}
}

// Handler registers the expiry job handler.
func (p *Processor) Handler() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.ExpireFileTask, p.handleExpire)
	return mux
}

func (p *Processor) handleExpire(ctx context.Context, task *asynq.Task) error {
	payload, err := queue.ParseExpirePayload(task)
	if err != nil {
		// A malformed payload will never succeed.
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	err = p.expirer.ExpireDue(ctx, payload.ShareID, metrics.TriggerTimer)
	switch {
	case err == nil:
		p.log.Debug().Str("share_id", payload.ShareID).Msg("expire task done")
		return nil
	case errors.Is(err, expiry.ErrNotDue):
		// Ran early; asynq retries with backoff and the hourly sweep remains
		// the backstop.
		return err
	default:
		p.log.Error().Err(err).Str("share_id", payload.ShareID).Msg("expire task failed")
		return err
	}
}
