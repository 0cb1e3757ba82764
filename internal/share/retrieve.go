package share

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/dharsanguruparan/DropZone/internal/blob"
	"github.com/dharsanguruparan/DropZone/internal/metrics"
	"github.com/dharsanguruparan/DropZone/internal/model"
	"github.com/dharsanguruparan/DropZone/internal/shareid"
	"github.com/dharsanguruparan/DropZone/internal/signing"
	"github.com/dharsanguruparan/DropZone/internal/storage"
	"github.com/dharsanguruparan/DropZone/internal/thumbnail"
)

// ErrInvalidToken matches ErrForbidden.
var ErrInvalidToken = fmt.Errorf("%w: invalid token", ErrForbidden)

// FileView is one file as shown on a landing page.
type FileView struct {
	Record      *model.FileRecord
	Token       string
	Previewable bool
	Thumbnail   bool
	// Remaining is the time left before expiry as of the unlock.
	Remaining time.Duration
}

// Landing is what a landing page needs once access has been granted.
type Landing struct {
	BatchID string
	Files   []FileView
	// Password is echoed into the download form, since downloads are
	// separate requests with no session.
	Password string
}

// TotalSize sums the plaintext sizes of every file.
func (l *Landing) TotalSize() int64 {
	var n int64
	for _, f := range l.Files {
		n += f.Record.Size
	}
	return n
}

// Content is a decrypted file ready to be streamed. The caller must close
// Body.
type Content struct {
	Record *model.FileRecord
	Body   io.ReadCloser
}

// Info is the public JSON summary of a file.
type Info struct {
	OriginalName        string    `json:"originalName"`
	Size                int64     `json:"size"`
	MimeType            string    `json:"mimetype"`
	PageCount           int       `json:"pageCount,omitempty"`
	UploadedAt          time.Time `json:"uploadedAt"`
	ExpiresAt           time.Time `json:"expiresAt"`
	DownloadCount       int64     `json:"downloadCount"`
	IsPasswordProtected bool      `json:"isPasswordProtected"`
	BatchID             string    `json:"batchId,omitempty"`
}

// Resolve returns the live record for shareID. A record past its expiry is
// deleted on the spot and reported as ErrExpired.
func (s *Service) Resolve(ctx context.Context, shareID string) (*model.FileRecord, error) {
	if !shareid.Valid(shareID) {
		return nil, ErrNotFound
	}
	rec, err := s.store.Find(ctx, shareID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: find %s: %v", ErrStorage, shareID, err)
	}
	if rec.Expired(s.now()) {
		s.expireLazily(ctx, rec)
		return nil, ErrExpired
	}
	return rec, nil
}

// ResolveBatch returns the live members of a batch in upload order. Expired
// members are deleted and left out; if none are left the batch is expired.
// Members whose password differs from the first member's are left out too.
func (s *Service) ResolveBatch(ctx context.Context, batchID string) ([]*model.FileRecord, error) {
	if !shareid.Valid(batchID) {
		return nil, ErrNotFound
	}
	members, err := s.store.FindByBatch(ctx, batchID)
	if err != nil {
		return nil, fmt.Errorf("%w: find batch %s: %v", ErrStorage, batchID, err)
	}
	if len(members) == 0 {
		return nil, ErrNotFound
	}

	now := s.now()
	live := members[:0]
	for _, rec := range members {
		if rec.Expired(now) {
			s.expireLazily(ctx, rec)
			continue
		}
		live = append(live, rec)
	}
	if len(live) == 0 {
		return nil, ErrExpired
	}

	uniform := live[:1]
	for _, rec := range live[1:] {
		if rec.PasswordHash != live[0].PasswordHash {
			s.log.Warn().Str("batch_id", batchID).Str("share_id", rec.ShareID).
				Msg("batch member has a different password, omitting it")
			continue
		}
		uniform = append(uniform, rec)
	}
	return uniform, nil
}

// Unlock checks password against a single file and returns its landing data.
func (s *Service) Unlock(ctx context.Context, shareID, password string) (*Landing, error) {
	rec, err := s.Resolve(ctx, shareID)
	if err != nil {
		return nil, err
	}
	return s.UnlockRecords("", []*model.FileRecord{rec}, password)
}

// UnlockBatch checks password once, against the first live member, and
// returns landing data for the whole batch.
func (s *Service) UnlockBatch(ctx context.Context, batchID, password string) (*Landing, error) {
	members, err := s.ResolveBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	return s.UnlockRecords(batchID, members, password)
}

// UnlockRecords is Unlock for records the caller already resolved, so a
// landing page can show their names on the password form. The password is
// checked against recs[0] only.
func (s *Service) UnlockRecords(batchID string, recs []*model.FileRecord, password string) (*Landing, error) {
	if len(recs) == 0 {
		return nil, ErrNotFound
	}
	if err := checkPassword(recs[0], password); err != nil {
		return nil, err
	}
	l := &Landing{BatchID: batchID, Files: make([]FileView, 0, len(recs))}
	if recs[0].Protected() {
		l.Password = password
	}
	now := s.now()
	for _, rec := range recs {
		v := FileView{
			Record:      rec,
			Previewable: Previewable(rec.MimeType),
			Thumbnail:   thumbnail.Supported(rec.MimeType),
			Remaining:   rec.ExpiresAt.Sub(now),
		}
		if rec.Protected() {
			v.Token = s.signer.Sign(rec.ShareID, rec.PasswordHash)
		}
		l.Files = append(l.Files, v)
	}
	return l, nil
}

// Preview opens a file for inline display. Protected files need the view
// token handed out by Unlock. Previews do not count as downloads.
func (s *Service) Preview(ctx context.Context, shareID, token string) (*Content, error) {
	rec, err := s.Resolve(ctx, shareID)
	if err != nil {
		return nil, err
	}
	if err := s.checkToken(rec, token); err != nil {
		return nil, err
	}
	c, err := s.open(ctx, rec)
	if err != nil {
		return nil, err
	}
	metrics.PreviewsTotal.Inc()
	return c, nil
}

// Thumbnail renders a small JPEG of an image file, gated like Preview.
func (s *Service) Thumbnail(ctx context.Context, shareID, token string) ([]byte, error) {
	rec, err := s.Resolve(ctx, shareID)
	if err != nil {
		return nil, err
	}
	if err := s.checkToken(rec, token); err != nil {
		return nil, err
	}
	if !thumbnail.Supported(rec.MimeType) {
		return nil, fmt.Errorf("%w: no thumbnail for %s", ErrValidation, rec.MimeType)
	}
	c, err := s.open(ctx, rec)
	if err != nil {
		return nil, err
	}
	defer c.Body.Close()

	var buf bytes.Buffer
	if err := thumbnail.Render(&buf, c.Body); err != nil {
		if errors.Is(err, thumbnail.ErrUnsupported) || errors.Is(err, thumbnail.ErrTooLarge) {
			return nil, fmt.Errorf("%w: %v", ErrValidation, err)
		}
		return nil, fmt.Errorf("%w: render thumbnail: %v", ErrStorage, err)
	}
	return buf.Bytes(), nil
}

// Download checks the password, counts the download and opens the file.
func (s *Service) Download(ctx context.Context, shareID, password string) (*Content, error) {
	rec, err := s.Resolve(ctx, shareID)
	if err != nil {
		return nil, err
	}
	if err := checkPassword(rec, password); err != nil {
		return nil, err
	}
	return s.Deliver(ctx, rec)
}

// Deliver counts a download and opens the file without checking a password.
// It is for records the caller has already unlocked with UnlockRecords.
func (s *Service) Deliver(ctx context.Context, rec *model.FileRecord) (*Content, error) {
	if err := s.countDownload(ctx, rec); err != nil {
		return nil, err
	}
	return s.open(ctx, rec)
}

// Info returns the public summary of a file.
func (s *Service) Info(ctx context.Context, shareID string) (*Info, error) {
	rec, err := s.Resolve(ctx, shareID)
	if err != nil {
		return nil, err
	}
	return &Info{
		OriginalName:        rec.OriginalName,
		Size:                rec.Size,
		MimeType:            rec.MimeType,
		PageCount:           rec.PageCount,
		UploadedAt:          rec.UploadedAt,
		ExpiresAt:           rec.ExpiresAt,
		DownloadCount:       rec.DownloadCount,
		IsPasswordProtected: rec.Protected(),
		BatchID:             rec.BatchID,
	}, nil
}

func checkPassword(rec *model.FileRecord, password string) error {
	if !rec.Protected() {
		return nil
	}
	if password == "" {
		return ErrPasswordRequired
	}
	if !signing.VerifyPassword(rec.PasswordHash, password) {
		return ErrIncorrectPassword
	}
	return nil
}

func (s *Service) checkToken(rec *model.FileRecord, token string) error {
	if !rec.Protected() {
		return nil
	}
	if token == "" {
		return ErrPasswordRequired
	}
	if !s.signer.Validate(rec.ShareID, rec.PasswordHash, token) {
		return ErrInvalidToken
	}
	return nil
}

func (s *Service) countDownload(ctx context.Context, rec *model.FileRecord) error {
	n, err := s.store.IncrementDownloads(ctx, rec.ShareID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			// Deleted between Resolve and now.
			return ErrNotFound
		}
		return fmt.Errorf("%w: count download: %v", ErrStorage, err)
	}
	rec.DownloadCount = n
	metrics.DownloadsTotal.Inc()
	return nil
}

// open streams the decrypted blob. A record whose blob has vanished is
// removed so later requests see a clean not found.
func (s *Service) open(ctx context.Context, rec *model.FileRecord) (*Content, error) {
	r, err := s.blobs.Open(ctx, rec.StorageName)
	if err != nil {
		if errors.Is(err, blob.ErrNotExist) {
			s.log.Warn().Str("share_id", rec.ShareID).Str("storage_name", rec.StorageName).
				Msg("blob missing, removing record")
			if derr := s.expiry.Delete(ctx, rec, metrics.TriggerManual); derr != nil {
				s.log.Error().Err(derr).Str("share_id", rec.ShareID).Msg("remove orphaned record")
			}
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: open blob: %v", ErrStorage, err)
	}
	plain, err := s.engine.NewDecrypter(r, rec.IV)
	if err != nil {
		r.Close()
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return &Content{Record: rec, Body: readCloser{Reader: plain, Closer: r}}, nil
}

func (s *Service) expireLazily(ctx context.Context, rec *model.FileRecord) {
	if err := s.expiry.Delete(ctx, rec, metrics.TriggerLazy); err != nil {
		// The sweep will retry.
		s.log.Error().Err(err).Str("share_id", rec.ShareID).Msg("lazy expiry failed")
	}
}

type readCloser struct {
	io.Reader
	io.Closer
}
