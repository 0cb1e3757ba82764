// Package expiry enforces the fixed lifetime of every upload. Files are
// removed lazily when a reader notices they are past due, by a periodic sweep,
// and by a one-shot deletion scheduled at upload time. The sweep is the
// durable backstop; the one-shot schedule only shortens the window between
// expiry and deletion.
package expiry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/dharsanguruparan/DropZone/internal/blob"
	"github.com/dharsanguruparan/DropZone/internal/metrics"
	"github.com/dharsanguruparan/DropZone/internal/model"
	"github.com/dharsanguruparan/DropZone/internal/storage"
)

// ErrNotDue is returned by ExpireDue when the record is still servable.
var ErrNotDue = errors.New("file has not expired yet")

// fireTimeout bounds the work a single timer callback may do.
const fireTimeout = 30 * time.Second

// Scheduler hands one-shot deletions to something durable, such as a task
// queue. When a Manager has none it falls back to in-process timers.
type Scheduler interface {
	ScheduleExpiry(ctx context.Context, shareID string, at time.Time) error
}

// Option configures a Manager.
type Option func(*Manager)

// WithScheduler routes ScheduleDeletion to s instead of in-process timers.
func WithScheduler(s Scheduler) Option {
	return func(m *Manager) { m.scheduler = s }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// Manager deletes expired files. It is safe for concurrent use; concurrent
// deletions of the same file are harmless.
type Manager struct {
	store     storage.Store
	blobs     blob.Store
	scheduler Scheduler
	now       func() time.Time
	log       zerolog.Logger

	mu     sync.Mutex
	timers map[string]*time.Timer
	closed bool
}

// NewManager wires a Manager to the metadata and blob stores.
func NewManager(store storage.Store, blobs blob.Store, log zerolog.Logger, opts ...Option) *Manager {
	m := &Manager{
		store:  store,
		blobs:  blobs,
		now:    time.Now,
		log:    log.With().Str("component", "expiry").Logger(),
		timers: make(map[string]*time.Timer),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Now returns the manager's notion of the current time.
func (m *Manager) Now() time.Time {
	return m.now()
}

// Delete removes the blob and then the metadata record. A blob that is
// already gone is logged and skipped so a half-finished earlier deletion can
// complete; a record that is already gone is not an error.
func (m *Manager) Delete(ctx context.Context, rec *model.FileRecord, trigger string) error {
	m.cancelTimer(rec.ShareID)

	if err := m.blobs.Delete(ctx, rec.StorageName); err != nil {
		if !errors.Is(err, blob.ErrNotExist) {
			return fmt.Errorf("delete blob %s: %w", rec.StorageName, err)
		}
		m.log.Warn().Str("share_id", rec.ShareID).Str("storage_name", rec.StorageName).
			Msg("blob already missing, removing metadata")
	}
	if err := m.store.Delete(ctx, rec.ShareID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("delete record %s: %w", rec.ShareID, err)
	}
	metrics.DeletionsTotal.WithLabelValues(trigger).Inc()
	m.log.Info().Str("share_id", rec.ShareID).Str("trigger", trigger).Msg("file deleted")
	return nil
}

// DeleteIfExpired deletes the file when it is past its expiry. It reports
// whether a deletion happened; an unknown id is not an error.
func (m *Manager) DeleteIfExpired(ctx context.Context, shareID string) (bool, error) {
	rec, err := m.store.Find(ctx, shareID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if !rec.Expired(m.now()) {
		return false, nil
	}
	if err := m.Delete(ctx, rec, metrics.TriggerLazy); err != nil {
		return false, err
	}
	return true, nil
}

// ExpireDue is the one-shot deletion callback. It deletes the file if it is
// due, returns nil when the file no longer exists and ErrNotDue otherwise.
func (m *Manager) ExpireDue(ctx context.Context, shareID string, trigger string) error {
	rec, err := m.store.Find(ctx, shareID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		return err
	}
	if !rec.Expired(m.now()) {
		return ErrNotDue
	}
	return m.Delete(ctx, rec, trigger)
}

// Sweep deletes every record that expired before now and returns how many
// were removed. A failure on one file does not stop the others.
func (m *Manager) Sweep(ctx context.Context) (int, error) {
	expired, err := m.store.ListExpiringBefore(ctx, m.now())
	if err != nil {
		return 0, fmt.Errorf("list expired: %w", err)
	}
	var (
		deleted int
		errs    []error
	)
	for _, rec := range expired {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := m.Delete(ctx, rec, metrics.TriggerSweep); err != nil {
			errs = append(errs, err)
			continue
		}
		deleted++
	}
	return deleted, errors.Join(errs...)
}

// ScheduleDeletion arranges for shareID to be deleted at at.
func (m *Manager) ScheduleDeletion(ctx context.Context, shareID string, at time.Time) error {
	if m.scheduler != nil {
		return m.scheduler.ScheduleExpiry(ctx, shareID, at)
	}
	m.armTimer(shareID, at)
	return nil
}

// Rearm schedules deletion for every live record. Run it at process start:
// in-process timers do not survive a restart.
func (m *Manager) Rearm(ctx context.Context) (int, error) {
	active, err := m.store.ListActive(ctx, m.now())
	if err != nil {
		return 0, fmt.Errorf("list active: %w", err)
	}
	n := 0
	for _, rec := range active {
		if err := m.ScheduleDeletion(ctx, rec.ShareID, rec.ExpiresAt); err != nil {
			return n, fmt.Errorf("schedule %s: %w", rec.ShareID, err)
		}
		n++
	}
	return n, nil
}

// PendingTimers returns the number of armed in-process timers.
func (m *Manager) PendingTimers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.timers)
}

// Close stops all in-process timers. Scheduling after Close is a no-op.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	for id, t := range m.timers {
		t.Stop()
		delete(m.timers, id)
	}
	metrics.PendingTimers.Set(0)
}

func (m *Manager) armTimer(shareID string, at time.Time) {
	delay := at.Sub(m.now())
	if delay < 0 {
		delay = 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	if old, ok := m.timers[shareID]; ok {
		old.Stop()
	}
	m.timers[shareID] = time.AfterFunc(delay, func() { m.fire(shareID) })
	metrics.PendingTimers.Set(float64(len(m.timers)))
}

func (m *Manager) fire(shareID string) {
	m.mu.Lock()
	delete(m.timers, shareID)
	metrics.PendingTimers.Set(float64(len(m.timers)))
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), fireTimeout)
	defer cancel()

	err := m.ExpireDue(ctx, shareID, metrics.TriggerTimer)
	switch {
	case err == nil:
	case errors.Is(err, ErrNotDue):
		// Fired early (clock skew or a coarse timer); try again at expiry.
		rec, ferr := m.store.Find(ctx, shareID)
		if ferr == nil {
			m.armTimer(shareID, rec.ExpiresAt.Add(time.Millisecond))
		}
	default:
		// The sweep will pick it up.
		m.log.Error().Err(err).Str("share_id", shareID).Msg("timed deletion failed")
	}
}

func (m *Manager) cancelTimer(shareID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.timers[shareID]; ok {
		t.Stop()
		delete(m.timers, shareID)
		metrics.PendingTimers.Set(float64(len(m.timers)))
	}
}
