package app

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/dharsanguruparan/DropZone/internal/blob"
	"github.com/dharsanguruparan/DropZone/internal/config"
	"github.com/dharsanguruparan/DropZone/internal/notify"
	"github.com/dharsanguruparan/DropZone/internal/repository"
	"github.com/dharsanguruparan/DropZone/internal/storage"
)

func testConfig(t *testing.T, dsn string) *config.Config {
	t.Helper()
	return &config.Config{
		Address:        ":0",
		EncryptionKey:  bytes.Repeat([]byte{9}, 32),
		DatabaseURL:    dsn,
		BlobBackend:    "disk",
		UploadDir:      filepath.Join(t.TempDir(), "uploads"),
		MaxUploadBytes: 1 << 20,
		SweepInterval:  time.Hour,
		QRCacheSize:    8,
	}
}

func TestNewMemoryAndDisk(t *testing.T) {
	cfg := testConfig(t, "memory://")
	a, err := New(context.Background(), cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer a.Close()

	if _, ok := a.Store.(*storage.MemoryStore); !ok {
		t.Fatalf("store is %T, want *storage.MemoryStore", a.Store)
	}
	if _, ok := a.Blobs.(*blob.DiskStore); !ok {
		t.Fatalf("blobs is %T, want *blob.DiskStore", a.Blobs)
	}
	if a.ExternalScheduler() || a.Redis != nil {
		t.Fatalf("redis features enabled without an address")
	}
	if _, ok := a.Notifier().(*notify.LogNotifier); !ok {
		t.Fatalf("expected log notifier without SMTP credentials")
	}

	srv, err := a.HTTPServer()
	if err != nil {
		t.Fatalf("http server: %v", err)
	}
	if _, err := os.Stat(a.TempDir); err != nil {
		t.Fatalf("temp dir not created: %v", err)
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz status %d", rec.Code)
	}
	if n := a.Sweeper().RunOnce(context.Background()); n != 0 {
		t.Fatalf("sweep of empty store removed %d files", n)
	}
}

func TestNewSQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "dropzone.db")
	a, err := New(context.Background(), testConfig(t, "sqlite://"+path), zerolog.Nop())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, ok := a.Store.(*repository.SQLiteStore); !ok {
		t.Fatalf("store is %T, want *repository.SQLiteStore", a.Store)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("sqlite file missing: %v", err)
	}
}

func TestNewRejectsUnknownDatabase(t *testing.T) {
	_, err := New(context.Background(), testConfig(t, "mongodb://user:pw@db/files"), zerolog.Nop())
	if !errors.Is(err, ErrUnsupportedDatabase) {
		t.Fatalf("expected ErrUnsupportedDatabase, got %v", err)
	}
	if strings.Contains(err.Error(), "pw@") {
		t.Fatalf("error leaks credentials: %v", err)
	}
}

func TestSMTPNotifierWhenConfigured(t *testing.T) {
	cfg := testConfig(t, "memory://")
	cfg.SMTP = config.SMTPConfig{Host: "smtp.example.com", Port: 587, User: "bot@example.com", Pass: "hunter2"}
	a, err := New(context.Background(), cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer a.Close()
	if _, ok := a.Notifier().(*notify.SMTPNotifier); !ok {
		t.Fatalf("expected SMTP notifier")
	}
}
