package repository

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/dharsanguruparan/DropZone/internal/database"
)

// setupPostgres starts PostgreSQL in Docker and returns a migrated DSN.
func setupPostgres(t *testing.T) string {
	t.Helper()
	if os.Getenv("TEST_INTEGRATION") == "" {
		t.Skip("skipping integration test: TEST_INTEGRATION not set")
	}
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"docker.io/postgres:17-alpine",
		postgres.WithDatabase("dropzone_test"),
		postgres.WithUsername("dropzone"),
		postgres.WithPassword("test-password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("start postgres container: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("terminate container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("connection string: %v", err)
	}
	if err := database.Migrate(dsn, zerolog.Nop()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	// Applying twice must be a no-op.
	if err := database.Migrate(dsn, zerolog.Nop()); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
	return dsn
}

func TestPostgresStore(t *testing.T) {
	dsn := setupPostgres(t)
	pool, err := database.Connect(context.Background(), dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	s := NewPostgresStore(pool)
	t.Cleanup(func() { s.Close() })
	exerciseStore(t, s)
}
