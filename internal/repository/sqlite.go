package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/dharsanguruparan/DropZone/internal/model"
	"github.com/dharsanguruparan/DropZone/internal/storage"
)

// SQLiteStore implements storage.Store on a local SQLite file. It suits a
// single server process; use PostgresStore when a worker runs alongside.
type SQLiteStore struct {
	db *sql.DB
}

var _ storage.Store = (*SQLiteStore)(nil)

// NewSQLiteStore wraps a handle opened by database.OpenSQLite.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

func (s *SQLiteStore) Insert(ctx context.Context, rec *model.FileRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO files (`+fileColumns+`)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?)
	`, rec.ShareID, nullable(rec.BatchID), rec.OriginalName, rec.StorageName, rec.Size, rec.MimeType, rec.PageCount,
		rec.UploadedAt.UTC(), rec.ExpiresAt.UTC(), rec.DownloadCount, nullable(rec.PasswordHash), rec.IV)
	if err != nil {
		if isSQLiteDuplicate(err) {
			return storage.ErrDuplicate
		}
		return fmt.Errorf("insert file: %w", err)
	}
	return nil
}

// isSQLiteDuplicate reports a key collision. Other constraint failures, such
// as NOT NULL, are real errors.
func isSQLiteDuplicate(err error) bool {
	var sqErr sqlite3.Error
	if !errors.As(err, &sqErr) {
		return false
	}
	return sqErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey || sqErr.ExtendedCode == sqlite3.ErrConstraintUnique
}

func (s *SQLiteStore) Find(ctx context.Context, shareID string) (*model.FileRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+fileColumns+` FROM files WHERE share_id=?`, shareID)
	rec, err := scanSQLiteFile(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("select file: %w", err)
	}
	return rec, nil
}

func (s *SQLiteStore) FindByBatch(ctx context.Context, batchID string) ([]*model.FileRecord, error) {
	return s.list(ctx, `SELECT `+fileColumns+` FROM files WHERE batch_id=? ORDER BY rowid`, batchID)
}

func (s *SQLiteStore) CountByBatch(ctx context.Context, batchID string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM files WHERE batch_id=?`, batchID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count batch: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) IncrementDownloads(ctx context.Context, shareID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE files SET download_count = download_count + 1 WHERE share_id=?`, shareID)
	if err != nil {
		return 0, fmt.Errorf("increment downloads: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return 0, storage.ErrNotFound
	}
	var count int64
	if err := s.db.QueryRowContext(ctx, `SELECT download_count FROM files WHERE share_id=?`, shareID).Scan(&count); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, storage.ErrNotFound
		}
		return 0, fmt.Errorf("read downloads: %w", err)
	}
	return count, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, shareID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM files WHERE share_id=?`, shareID)
	if err != nil {
		return fmt.Errorf("delete file: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) ListExpiringBefore(ctx context.Context, t time.Time) ([]*model.FileRecord, error) {
	return s.list(ctx, `SELECT `+fileColumns+` FROM files WHERE expires_at < ? ORDER BY expires_at`, t.UTC())
}

func (s *SQLiteStore) ListActive(ctx context.Context, now time.Time) ([]*model.FileRecord, error) {
	return s.list(ctx, `SELECT `+fileColumns+` FROM files WHERE expires_at >= ? ORDER BY expires_at`, now.UTC())
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) list(ctx context.Context, query string, args ...any) ([]*model.FileRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query files: %w", err)
	}
	defer rows.Close()
	var out []*model.FileRecord
	for rows.Next() {
		rec, err := scanSQLiteFile(rows)
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

func scanSQLiteFile(row scanner) (*model.FileRecord, error) {
	var (
		rec          model.FileRecord
		batchID      sql.NullString
		passwordHash sql.NullString
	)
	if err := row.Scan(&rec.ShareID, &batchID, &rec.OriginalName, &rec.StorageName, &rec.Size, &rec.MimeType,
		&rec.PageCount, &rec.UploadedAt, &rec.ExpiresAt, &rec.DownloadCount, &passwordHash, &rec.IV); err != nil {
		return nil, err
	}
	rec.BatchID = batchID.String
	rec.PasswordHash = passwordHash.String
	rec.UploadedAt = rec.UploadedAt.UTC()
	rec.ExpiresAt = rec.ExpiresAt.UTC()
	if len(rec.IV) == 0 {
		rec.IV = nil
	}
	return &rec, nil
}
