// Package blob stores the encrypted file bodies. Metadata lives elsewhere;
// a blob is addressed only by its storage name.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

var (
	// ErrNotExist reports a missing blob.
	ErrNotExist = errors.New("blob does not exist")
	// ErrInvalidName rejects names that could escape the storage root.
	ErrInvalidName = errors.New("invalid blob name")
)

// Store is implemented by DiskStore and s3storage.Storage.
type Store interface {
	// Put streams r into the blob called name. size is the exact length when
	// known, or -1.
	Put(ctx context.Context, name string, r io.Reader, size int64) error
	// Open returns the blob contents or ErrNotExist.
	Open(ctx context.Context, name string) (io.ReadCloser, error)
	// Delete removes the blob or returns ErrNotExist.
	Delete(ctx context.Context, name string) error
}

// ValidName reports whether name is a flat storage key.
func ValidName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	return !strings.ContainsAny(name, `/\`) && !strings.HasSuffix(name, partSuffix)
}

const partSuffix = ".part"

// DiskStore keeps blobs as files in a single directory.
type DiskStore struct {
	dir string
}

var _ Store = (*DiskStore)(nil)

// NewDiskStore creates dir if needed.
func NewDiskStore(dir string) (*DiskStore, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create blob dir: %w", err)
	}
	return &DiskStore{dir: dir}, nil
}

// Dir returns the storage root.
func (d *DiskStore) Dir() string { return d.dir }

// Put writes to a temporary ".part" file and renames it into place once the
// stream is complete, so readers never observe a half-written blob.
func (d *DiskStore) Put(ctx context.Context, name string, r io.Reader, _ int64) error {
	if !ValidName(name) {
		return ErrInvalidName
	}
	final := filepath.Join(d.dir, name)
	part := final + partSuffix
	f, err := os.OpenFile(part, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o640)
	if err != nil {
		return fmt.Errorf("create blob: %w", err)
	}
	_, err = io.Copy(f, contextReader{ctx: ctx, r: r})
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(part)
		return fmt.Errorf("write blob: %w", err)
	}
	if err := os.Rename(part, final); err != nil {
		os.Remove(part)
		return fmt.Errorf("commit blob: %w", err)
	}
	return nil
}

func (d *DiskStore) Open(_ context.Context, name string) (io.ReadCloser, error) {
	if !ValidName(name) {
		return nil, ErrInvalidName
	}
	f, err := os.Open(filepath.Join(d.dir, name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotExist
		}
		return nil, fmt.Errorf("open blob: %w", err)
	}
	return f, nil
}

func (d *DiskStore) Delete(_ context.Context, name string) error {
	if !ValidName(name) {
		return ErrInvalidName
	}
	if err := os.Remove(filepath.Join(d.dir, name)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ErrNotExist
		}
		return fmt.Errorf("remove blob: %w", err)
	}
	return nil
}

// contextReader aborts a copy once ctx is done, so a cancelled upload stops
// writing promptly.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
