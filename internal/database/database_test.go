package database

import (
	"context"
	"path/filepath"
	"testing"
)

func TestMigrateURL(t *testing.T) {
	cases := map[string]string{
		"postgres://u:p@db:5432/dropzone?sslmode=disable":   "pgx5://u:p@db:5432/dropzone?sslmode=disable",
		"postgresql://u:p@db:5432/dropzone?sslmode=disable": "pgx5://u:p@db:5432/dropzone?sslmode=disable",
		"pgx5://already":                                    "pgx5://already",
	}
	for in, want := range cases {
		if got := MigrateURL(in); got != want {
			t.Errorf("MigrateURL(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestMigrationsEmbedded(t *testing.T) {
	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		t.Fatalf("read embedded migrations: %v", err)
	}
	if len(entries) < 2 {
		t.Fatalf("expected up and down migrations, got %d files", len(entries))
	}
}

func TestOpenSQLiteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "meta.db")
	for i := 0; i < 2; i++ {
		db, err := OpenSQLite(ctx, path)
		if err != nil {
			t.Fatalf("open %d: %v", i, err)
		}
		var n int
		if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM files`).Scan(&n); err != nil {
			t.Fatalf("query files table: %v", err)
		}
		db.Close()
	}
}
