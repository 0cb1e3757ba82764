// Package repository holds the durable metadata store backends. All queries
// are plain SQL; no ORM.
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dharsanguruparan/DropZone/internal/model"
	"github.com/dharsanguruparan/DropZone/internal/storage"
)

// DBTX is satisfied by both *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const fileColumns = `share_id, batch_id, original_name, storage_name, size, mime_type, page_count,
	uploaded_at, expires_at, download_count, password_hash, iv`

// PostgresStore implements storage.Store on top of a pgx pool.
type PostgresStore struct {
	db   DBTX
	pool *pgxpool.Pool
}

var _ storage.Store = (*PostgresStore)(nil)

// NewPostgresStore constructs a store. The pool is closed by Close.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: pool, pool: pool}
}

func (s *PostgresStore) Insert(ctx context.Context, rec *model.FileRecord) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO files (`+fileColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`, rec.ShareID, nullable(rec.BatchID), rec.OriginalName, rec.StorageName, rec.Size, rec.MimeType, rec.PageCount,
		rec.UploadedAt.UTC(), rec.ExpiresAt.UTC(), rec.DownloadCount, nullable(rec.PasswordHash), rec.IV)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrDuplicate
		}
		return fmt.Errorf("insert file: %w", err)
	}
	return nil
}

func (s *PostgresStore) Find(ctx context.Context, shareID string) (*model.FileRecord, error) {
	row := s.db.QueryRow(ctx, `SELECT `+fileColumns+` FROM files WHERE share_id=$1`, shareID)
	rec, err := scanFile(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("select file: %w", err)
	}
	return rec, nil
}

func (s *PostgresStore) FindByBatch(ctx context.Context, batchID string) ([]*model.FileRecord, error) {
	return s.list(ctx, `SELECT `+fileColumns+` FROM files WHERE batch_id=$1 ORDER BY seq`, batchID)
}

func (s *PostgresStore) CountByBatch(ctx context.Context, batchID string) (int, error) {
	var n int
	if err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM files WHERE batch_id=$1`, batchID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count batch: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) IncrementDownloads(ctx context.Context, shareID string) (int64, error) {
	var n int64
	err := s.db.QueryRow(ctx, `
		UPDATE files SET download_count = download_count + 1
		WHERE share_id=$1
		RETURNING download_count
	`, shareID).Scan(&n)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, storage.ErrNotFound
		}
		return 0, fmt.Errorf("increment downloads: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) Delete(ctx context.Context, shareID string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM files WHERE share_id=$1`, shareID)
	if err != nil {
		return fmt.Errorf("delete file: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListExpiringBefore(ctx context.Context, t time.Time) ([]*model.FileRecord, error) {
	return s.list(ctx, `SELECT `+fileColumns+` FROM files WHERE expires_at < $1 ORDER BY expires_at`, t.UTC())
}

func (s *PostgresStore) ListActive(ctx context.Context, now time.Time) ([]*model.FileRecord, error) {
	return s.list(ctx, `SELECT `+fileColumns+` FROM files WHERE expires_at >= $1 ORDER BY expires_at`, now.UTC())
}

func (s *PostgresStore) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

func (s *PostgresStore) list(ctx context.Context, query string, args ...any) ([]*model.FileRecord, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query files: %w", err)
	}
	defer rows.Close()
	var out []*model.FileRecord
	for rows.Next() {
		rec, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("scan file: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate files: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanFile(row scanner) (*model.FileRecord, error) {
	var (
		rec          model.FileRecord
		batchID      *string
		passwordHash *string
	)
	if err := row.Scan(&rec.ShareID, &batchID, &rec.OriginalName, &rec.StorageName, &rec.Size, &rec.MimeType,
		&rec.PageCount, &rec.UploadedAt, &rec.ExpiresAt, &rec.DownloadCount, &passwordHash, &rec.IV); err != nil {
		return nil, err
	}
	if batchID != nil {
		rec.BatchID = *batchID
	}
	if passwordHash != nil {
		rec.PasswordHash = *passwordHash
	}
	rec.UploadedAt = rec.UploadedAt.UTC()
	rec.ExpiresAt = rec.ExpiresAt.UTC()
	if len(rec.IV) == 0 {
		rec.IV = nil
	}
	return &rec, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

// nullable maps the zero string to SQL NULL.
func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
