// Package app builds DropZone's components from a Config. The server, the
// worker and the operator CLI all go through New so they agree on which
// metadata store, blob backend and scheduler are in use.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/dharsanguruparan/DropZone/internal/blob"
	"github.com/dharsanguruparan/DropZone/internal/config"
	"github.com/dharsanguruparan/DropZone/internal/crypt"
	"github.com/dharsanguruparan/DropZone/internal/database"
	"github.com/dharsanguruparan/DropZone/internal/expiry"
	"github.com/dharsanguruparan/DropZone/internal/model"
	"github.com/dharsanguruparan/DropZone/internal/notify"
	"github.com/dharsanguruparan/DropZone/internal/qrcode"
	"github.com/dharsanguruparan/DropZone/internal/queue"
	"github.com/dharsanguruparan/DropZone/internal/repository"
	"github.com/dharsanguruparan/DropZone/internal/s3storage"
	"github.com/dharsanguruparan/DropZone/internal/server"
	"github.com/dharsanguruparan/DropZone/internal/share"
	"github.com/dharsanguruparan/DropZone/internal/signing"
	"github.com/dharsanguruparan/DropZone/internal/storage"
)

// ErrUnsupportedDatabase reports a DATABASE_URL with an unknown scheme.
var ErrUnsupportedDatabase = errors.New("unsupported database url")

// App holds the wired components. Fields are nil when the matching feature is
// not configured (Redis, Tasks).
type App struct {
	Config  *config.Config
	Store   storage.Store
	Blobs   blob.Store
	Expiry  *expiry.Manager
	Share   *share.Service
	Redis   *redis.Client
	Tasks   *asynq.Client
	TempDir string

	log     zerolog.Logger
	closers []func() error
}

// New connects to every configured backend. On error anything already opened
// is closed again.
func New(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*App, error) {
	a := &App{
		Config:  cfg,
		TempDir: filepath.Join(cfg.UploadDir, "tmp"),
		log:     log,
	}
	if err := a.open(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) open(ctx context.Context) error {
	cfg := a.Config
	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	a.Store = store
	a.onClose(store.Close)

	if a.Blobs, err = a.openBlobs(ctx); err != nil {
		return err
	}

	var opts []expiry.Option
	if cfg.RedisEnabled() {
		a.Redis = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		a.onClose(a.Redis.Close)
		if err := a.Redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("ping redis: %w", err)
		}
		a.Tasks = asynq.NewClient(a.RedisOpt())
		a.onClose(a.Tasks.Close)
		opts = append(opts, expiry.WithScheduler(queue.NewScheduler(a.Tasks)))
	}
	a.Expiry = expiry.NewManager(a.Store, a.Blobs, a.log, opts...)
	a.onClose(func() error {
		a.Expiry.Close()
		return nil
	})

	engine, err := crypt.NewEngine(cfg.EncryptionKey)
	if err != nil {
		return fmt.Errorf("init crypto: %w", err)
	}
	a.Share = share.NewService(a.Store, a.Blobs, engine, signing.NewSigner(cfg.EncryptionKey), a.Expiry, a.log)
	return nil
}

// RedisOpt returns the asynq connection settings.
func (a *App) RedisOpt() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     a.Config.RedisAddr,
		Password: a.Config.RedisPassword,
		DB:       a.Config.RedisDB,
	}
}

// ExternalScheduler reports whether one-shot deletions go to the task queue
// instead of in-process timers.
func (a *App) ExternalScheduler() bool {
	return a.Tasks != nil
}

// Sweeper returns a sweeper that takes the Redis lock when Redis is
// configured, so replicas do not sweep at the same time.
func (a *App) Sweeper() *expiry.Sweeper {
	var locker expiry.Locker
	if a.Redis != nil {
		locker = expiry.NewRedisLocker(a.Redis)
	}
	return expiry.NewSweeper(a.Expiry, a.Config.SweepInterval, locker, a.log)
}

// Notifier sends mail over SMTP when credentials are configured and only logs
// otherwise.
func (a *App) Notifier() notify.Notifier {
	smtp := a.Config.SMTP
	if !smtp.Enabled() {
		a.log.Warn().Msg("SMTP credentials not set; share e-mails are only logged")
		return notify.NewLogNotifier(a.log)
	}
	return notify.NewSMTPNotifier(notify.SMTPConfig{
		Host:     smtp.Host,
		Port:     smtp.Port,
		Username: smtp.User,
		Password: smtp.Pass,
		From:     smtp.From,
	})
}

// HTTPServer builds the HTTP server on top of the shared components.
func (a *App) HTTPServer() (*server.Server, error) {
	return server.New(server.Options{
		Address:        a.Config.Address,
		PublicHost:     a.Config.PublicHost,
		MaxUploadBytes: a.Config.MaxUploadBytes,
		TempDir:        a.TempDir,
	}, a.Share, qrcode.NewGenerator(a.Config.QRCacheSize, model.Lifetime), a.Notifier(), a.log)
}

// Close releases everything New opened, newest first.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *App) onClose(fn func() error) {
	a.closers = append(a.closers, fn)
}

func (a *App) openStore(ctx context.Context) (storage.Store, error) {
	dsn := a.Config.DatabaseURL
	switch {
	case dsn == "" || strings.HasPrefix(dsn, "memory://"):
		a.log.Warn().Msg("using in-memory metadata store; shares are lost on restart")
		return storage.NewMemoryStore(), nil
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		if err := database.Migrate(dsn, a.log); err != nil {
			return nil, err
		}
		pool, err := database.Connect(ctx, dsn)
		if err != nil {
			return nil, fmt.Errorf("connect database: %w", err)
		}
		return repository.NewPostgresStore(pool), nil
	case strings.HasPrefix(dsn, "sqlite://"):
		path := strings.TrimPrefix(dsn, "sqlite://")
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o700); err != nil {
				return nil, fmt.Errorf("create sqlite dir: %w", err)
			}
		}
		db, err := database.OpenSQLite(ctx, path)
		if err != nil {
			return nil, err
		}
		return repository.NewSQLiteStore(db), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDatabase, schemeOf(dsn))
	}
}

func (a *App) openBlobs(ctx context.Context) (blob.Store, error) {
	cfg := a.Config
	if cfg.BlobBackend != "s3" {
		disk, err := blob.NewDiskStore(cfg.UploadDir)
		if err != nil {
			return nil, err
		}
		return disk, nil
	}
	s3, err := s3storage.New(s3storage.Options{
		Endpoint:  cfg.S3.Endpoint,
		AccessKey: cfg.S3.AccessKey,
		SecretKey: cfg.S3.SecretKey,
		Bucket:    cfg.S3.Bucket,
		Region:    cfg.S3.Region,
		UseSSL:    cfg.S3.UseSSL,
	})
	if err != nil {
		return nil, err
	}
	if err := s3.EnsureBucket(ctx); err != nil {
		return nil, err
	}
	return s3, nil
}

// schemeOf keeps credentials out of error messages.
func schemeOf(dsn string) string {
	if i := strings.Index(dsn, "://"); i >= 0 {
		return dsn[:i]
	}
	return "unknown"
}
