package expiry

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/dharsanguruparan/DropZone/internal/metrics"
)

// sweepLockKey names the lock shared by every replica.
const sweepLockKey = "dropzone:sweep:lock"

// Sweeper runs Manager.Sweep on a fixed interval, starting immediately.
type Sweeper struct {
	manager  *Manager
	interval time.Duration
	locker   Locker
	log      zerolog.Logger

	mu     sync.Mutex // serializes RunOnce
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSweeper builds a Sweeper. A nil locker means this process is the only
// one sweeping.
func NewSweeper(m *Manager, interval time.Duration, locker Locker, log zerolog.Logger) *Sweeper {
	if locker == nil {
		locker = NoopLocker{}
	}
	return &Sweeper{
		manager:  m,
		interval: interval,
		locker:   locker,
		log:      log.With().Str("component", "sweeper").Logger(),
	}
}

// Start launches the background loop.
func (s *Sweeper) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.run(ctx)
	s.log.Info().Dur("interval", s.interval).Msg("sweeper started")
}

// Stop cancels the loop and waits for an in-flight sweep to finish.
func (s *Sweeper) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.log.Info().Msg("sweeper stopped")
}

func (s *Sweeper) run(ctx context.Context) {
	defer close(s.done)
	s.RunOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single sweep and returns the number of deleted files.
// When another replica holds the sweep lock it returns 0 without sweeping.
func (s *Sweeper) RunOnce(ctx context.Context) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	unlock, ok, err := s.locker.TryLock(ctx, sweepLockKey, s.lockTTL())
	if err != nil {
		s.log.Error().Err(err).Msg("acquire sweep lock")
		return 0
	}
	if !ok {
		s.log.Debug().Msg("sweep lock held elsewhere, skipping")
		return 0
	}
	defer unlock()

	start := time.Now()
	deleted, err := s.manager.Sweep(ctx)
	elapsed := time.Since(start)
	metrics.SweepRunsTotal.Inc()
	metrics.SweepDuration.Observe(elapsed.Seconds())

	evt := s.log.Info()
	if err != nil {
		evt = s.log.Error().Err(err)
	}
	evt.Int("deleted", deleted).Dur("took", elapsed).Msg("sweep finished")
	return deleted
}

// lockTTL keeps a crashed holder from blocking sweeps for longer than one
// interval.
func (s *Sweeper) lockTTL() time.Duration {
	if s.interval <= 0 || s.interval > 10*time.Minute {
		return 10 * time.Minute
	}
	return s.interval
}
