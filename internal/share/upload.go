package share

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dharsanguruparan/DropZone/internal/crypt"
	"github.com/dharsanguruparan/DropZone/internal/metrics"
	"github.com/dharsanguruparan/DropZone/internal/model"
	pdfutil "github.com/dharsanguruparan/DropZone/internal/pdf"
	"github.com/dharsanguruparan/DropZone/internal/shareid"
	"github.com/dharsanguruparan/DropZone/internal/signing"
	"github.com/dharsanguruparan/DropZone/internal/storage"
)

// IncomingFile is one plaintext upload already spooled to disk.
type IncomingFile struct {
	Name     string
	MimeType string
	TempPath string
}

// UploadRequest is everything the HTTP layer collected from one request.
type UploadRequest struct {
	Files    []IncomingFile
	Password string
	// BaseURL is the scheme and host used to build share links.
	BaseURL string
}

// FileResult describes one stored file in the upload response.
type FileResult struct {
	ShareID      string    `json:"shareId"`
	ShareURL     string    `json:"shareUrl"`
	OriginalName string    `json:"originalName"`
	Size         int64     `json:"size"`
	MimeType     string    `json:"mimetype"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

// UploadResult is the upload response body.
type UploadResult struct {
	Files    []FileResult `json:"files"`
	BatchID  string       `json:"batchId,omitempty"`
	BatchURL string       `json:"batchUrl,omitempty"`
}

// Upload encrypts every file into blob storage and records its metadata.
// Temp files are removed whatever the outcome. Files stored before a failure
// stay stored; the batch is not atomic.
func (s *Service) Upload(ctx context.Context, req UploadRequest) (*UploadResult, error) {
	defer func() {
		for _, f := range req.Files {
			removeTemp(f.TempPath)
		}
	}()
	if len(req.Files) == 0 {
		return nil, fmt.Errorf("%w: no files uploaded", ErrValidation)
	}

	result := &UploadResult{Files: make([]FileResult, 0, len(req.Files))}
	var batchID string
	if len(req.Files) > 1 {
		id, err := shareid.NewBatchID()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStorage, err)
		}
		batchID = id
		result.BatchID = id
		result.BatchURL = BatchURL(req.BaseURL, id)
	}

	// One hash for the whole request: every member of a batch shares it.
	var passwordHash string
	if req.Password != "" {
		h, err := signing.HashPassword(req.Password)
		if err != nil {
			return nil, fmt.Errorf("%w: hash password: %v", ErrStorage, err)
		}
		passwordHash = h
	}

	for i, f := range req.Files {
		rec, err := s.storeFile(ctx, f, batchID, passwordHash)
		if err != nil {
			s.log.Error().Err(err).Str("file", f.Name).Int("index", i).Int("stored", len(result.Files)).
				Msg("upload failed")
			return nil, err
		}
		result.Files = append(result.Files, FileResult{
			ShareID:      rec.ShareID,
			ShareURL:     ShareURL(req.BaseURL, rec.ShareID),
			OriginalName: rec.OriginalName,
			Size:         rec.Size,
			MimeType:     rec.MimeType,
			ExpiresAt:    rec.ExpiresAt,
		})
	}
	s.log.Info().Int("files", len(result.Files)).Str("batch_id", batchID).
		Bool("protected", passwordHash != "").Msg("upload stored")
	return result, nil
}

func (s *Service) storeFile(ctx context.Context, f IncomingFile, batchID, passwordHash string) (*model.FileRecord, error) {
	info, err := os.Stat(f.TempPath)
	if err != nil {
		return nil, fmt.Errorf("%w: stat temp file: %v", ErrStorage, err)
	}
	iv, err := crypt.NewIV()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}

	rec := model.NewFileRecord(s.now())
	rec.BatchID = batchID
	rec.OriginalName = f.Name
	rec.Size = info.Size()
	rec.MimeType = f.MimeType
	rec.StorageName = s.blobKey()
	rec.PasswordHash = passwordHash
	rec.IV = iv

	if f.MimeType == pdfutil.MimeType {
		if n, err := pdfutil.PageCount(f.TempPath); err == nil {
			rec.PageCount = n
		} else {
			s.log.Debug().Err(err).Str("file", f.Name).Msg("pdf page count unavailable")
		}
	}

	if err := s.encryptToBlob(ctx, f.TempPath, rec); err != nil {
		return nil, err
	}
	// The plaintext must not outlive its encryption.
	removeTemp(f.TempPath)

	if err := s.insert(ctx, rec); err != nil {
		if derr := s.blobs.Delete(context.WithoutCancel(ctx), rec.StorageName); derr != nil {
			s.log.Warn().Err(derr).Str("storage_name", rec.StorageName).Msg("orphaned blob left behind")
		}
		return nil, err
	}

	if err := s.expiry.ScheduleDeletion(ctx, rec.ShareID, rec.ExpiresAt); err != nil {
		// The sweep still deletes the file; only the latency suffers.
		s.log.Warn().Err(err).Str("share_id", rec.ShareID).Msg("schedule deletion")
	}
	metrics.UploadsTotal.Inc()
	metrics.UploadedBytesTotal.Add(float64(rec.Size))
	return rec, nil
}

func (s *Service) encryptToBlob(ctx context.Context, path string, rec *model.FileRecord) error {
	src, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("%w: open temp file: %v", ErrStorage, err)
	}
	defer src.Close()

	sealed, err := s.engine.EncryptReader(src, rec.IV)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}
	// Closing the pipe stops the encrypting goroutine if Put bailed out early.
	defer sealed.Close()

	if err := s.blobs.Put(ctx, rec.StorageName, sealed, crypt.CiphertextSize(rec.Size)); err != nil {
		return fmt.Errorf("%w: store blob: %v", ErrStorage, err)
	}
	return nil
}

// insert stores rec, drawing a fresh share id on collision.
func (s *Service) insert(ctx context.Context, rec *model.FileRecord) error {
	for attempt := 1; ; attempt++ {
		id, err := shareid.NewShareID()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrStorage, err)
		}
		rec.ShareID = id
		err = s.store.Insert(ctx, rec)
		if err == nil {
			return nil
		}
		if !errors.Is(err, storage.ErrDuplicate) || attempt == insertAttempts {
			return fmt.Errorf("%w: insert record: %v", ErrStorage, err)
		}
		s.log.Warn().Str("share_id", id).Int("attempt", attempt).Msg("share id collision, retrying")
	}
}

func removeTemp(path string) {
	if path == "" {
		return
	}
	// Leftovers are cleared when the temp dir is reset at startup.
	_ = os.Remove(path)
}
