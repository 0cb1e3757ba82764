// Package model contains simple struct definitions shared across packages.
package model

import (
	"time"
)

// Lifetime is how long every upload stays servable. It is fixed at upload time
// and never extended.
const Lifetime = 24 * time.Hour

// FileRecord holds metadata about an uploaded file. Secrets and storage
// details carry the "-" json tag so a record can be encoded for API output
// without leaking them.
type FileRecord struct {
	ShareID string `json:"shareId"`
	// BatchID is empty for single file uploads.
	BatchID      string `json:"batchId,omitempty"`
	OriginalName string `json:"originalName"`
	Size         int64  `json:"size"`
	MimeType     string `json:"mimetype"`
	// StorageName is the blob key; it never appears in URLs.
	StorageName string `json:"-"`
	PageCount   int    `json:"pageCount,omitempty"`

	UploadedAt    time.Time `json:"uploadedAt"`
	ExpiresAt     time.Time `json:"expiresAt"`
	DownloadCount int64     `json:"downloadCount"`

	// PasswordHash is empty when the file is not protected.
	PasswordHash string `json:"-"`
	// IV is nil for records stored before encryption at rest.
	IV []byte `json:"-"`
}

// NewFileRecord stamps UploadedAt and derives ExpiresAt from it.
func NewFileRecord(now time.Time) *FileRecord {
	uploaded := now.UTC()
	return &FileRecord{
		UploadedAt: uploaded,
		ExpiresAt:  uploaded.Add(Lifetime),
	}
}

// Expired reports whether the record may no longer be served. A record is
// still servable at exactly ExpiresAt.
func (r *FileRecord) Expired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

// Protected reports whether a password guards the record.
func (r *FileRecord) Protected() bool {
	return r.PasswordHash != ""
}

// InBatch reports whether the record was uploaded together with other files.
func (r *FileRecord) InBatch() bool {
	return r.BatchID != ""
}

// Clone returns a deep copy so callers cannot mutate stored state.
func (r *FileRecord) Clone() *FileRecord {
	c := *r
	if r.IV != nil {
		c.IV = append([]byte(nil), r.IV...)
	}
	return &c
}
