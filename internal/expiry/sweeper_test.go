package expiry

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

type denyLocker struct{ err error }

func (d denyLocker) TryLock(context.Context, string, time.Duration) (func(), bool, error) {
	return nil, false, d.err
}

func TestSweeperRunOnce(t *testing.T) {
	f := newFixture(t)
	now := f.clock.Now()
	old := f.add(t, "old", now.Add(-48*time.Hour))
	m := NewManager(f.store, f.blobs, zerolog.Nop(), WithClock(f.clock.Now))

	s := NewSweeper(m, time.Hour, nil, zerolog.Nop())
	if n := s.RunOnce(context.Background()); n != 1 {
		t.Fatalf("expected 1 deletion, got %d", n)
	}
	if !f.gone(t, old) {
		t.Fatalf("expired file survived the sweep")
	}
}

func TestSweeperRespectsLock(t *testing.T) {
	f := newFixture(t)
	old := f.add(t, "old", f.clock.Now().Add(-48*time.Hour))
	m := NewManager(f.store, f.blobs, zerolog.Nop(), WithClock(f.clock.Now))

	for _, l := range []Locker{denyLocker{}, denyLocker{err: errors.New("redis down")}} {
		s := NewSweeper(m, time.Hour, l, zerolog.Nop())
		if n := s.RunOnce(context.Background()); n != 0 {
			t.Fatalf("expected no sweep without the lock, got %d", n)
		}
	}
	if f.gone(t, old) {
		t.Fatalf("file deleted although the lock was not held")
	}
}

func TestSweeperStartRunsImmediately(t *testing.T) {
	f := newFixture(t)
	old := f.add(t, "old", f.clock.Now().Add(-48*time.Hour))
	m := NewManager(f.store, f.blobs, zerolog.Nop(), WithClock(f.clock.Now))

	s := NewSweeper(m, time.Hour, NoopLocker{}, zerolog.Nop())
	s.Start(context.Background())
	waitFor(t, func() bool { return f.gone(t, old) })
	s.Stop()
	// Stop twice must not block.
	s.Stop()
}

func TestRedisLocker(t *testing.T) {
	addr := os.Getenv("DROPZONE_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("DROPZONE_TEST_REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()
	ctx := context.Background()
	key := "dropzone:test:lock:" + time.Now().Format(time.RFC3339Nano)

	l := NewRedisLocker(client)
	unlock, ok, err := l.TryLock(ctx, key, time.Minute)
	if err != nil || !ok {
		t.Fatalf("first lock: ok=%v err=%v", ok, err)
	}
	if _, ok, err := l.TryLock(ctx, key, time.Minute); err != nil || ok {
		t.Fatalf("second lock must fail: ok=%v err=%v", ok, err)
	}
	unlock()
	unlock2, ok, err := l.TryLock(ctx, key, time.Minute)
	if err != nil || !ok {
		t.Fatalf("lock after release: ok=%v err=%v", ok, err)
	}
	unlock2()
}
