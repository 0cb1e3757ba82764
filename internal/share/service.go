// Package share implements the upload and retrieval pipelines: files are
// encrypted on the way into blob storage, and decrypted on the way out once
// the password or view token checks pass.
package share

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dharsanguruparan/DropZone/internal/blob"
	"github.com/dharsanguruparan/DropZone/internal/crypt"
	"github.com/dharsanguruparan/DropZone/internal/expiry"
	"github.com/dharsanguruparan/DropZone/internal/signing"
	"github.com/dharsanguruparan/DropZone/internal/storage"
)

var (
	ErrNotFound   = errors.New("file not found")
	ErrExpired    = errors.New("file has expired")
	ErrForbidden  = errors.New("access denied")
	ErrValidation = errors.New("invalid request")
	ErrStorage    = errors.New("storage failure")

	// ErrPasswordRequired and ErrIncorrectPassword both match ErrForbidden;
	// landing pages tell them apart to decide whether to show an error.
	ErrPasswordRequired  = fmt.Errorf("%w: password required", ErrForbidden)
	ErrIncorrectPassword = fmt.Errorf("%w: incorrect password", ErrForbidden)
)

// insertAttempts bounds retries after a share id collision.
const insertAttempts = 3

// Service ties together metadata, blobs, crypto and expiry.
type Service struct {
	store   storage.Store
	blobs   blob.Store
	engine  *crypt.Engine
	signer  *signing.Signer
	expiry  *expiry.Manager
	log     zerolog.Logger
	blobKey func() string
}

// NewService wires the pipelines.
func NewService(store storage.Store, blobs blob.Store, engine *crypt.Engine, signer *signing.Signer, manager *expiry.Manager, log zerolog.Logger) *Service {
	return &Service{
		store:   store,
		blobs:   blobs,
		engine:  engine,
		signer:  signer,
		expiry:  manager,
		log:     log.With().Str("component", "share").Logger(),
		blobKey: func() string { return uuid.NewString() + ".enc" },
	}
}

func (s *Service) now() time.Time {
	return s.expiry.Now()
}

// ShareURL is the landing page link for a single file.
func ShareURL(base, shareID string) string {
	return strings.TrimRight(base, "/") + "/download/" + shareID
}

// BatchURL is the landing page link for a batch.
func BatchURL(base, batchID string) string {
	return strings.TrimRight(base, "/") + "/download/batch/" + batchID
}

// Previewable reports whether browsers can render mimeType inline.
func Previewable(mimeType string) bool {
	switch {
	case strings.HasPrefix(mimeType, "image/"),
		strings.HasPrefix(mimeType, "video/"),
		strings.HasPrefix(mimeType, "audio/"):
		return true
	}
	return mimeType == "application/pdf" || mimeType == "text/plain"
}
