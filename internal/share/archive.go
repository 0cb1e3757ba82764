package share

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"

	"github.com/dharsanguruparan/DropZone/internal/model"
)

// Archive is a batch download that has passed the password check.
type Archive struct {
	BatchID string
	Records []*model.FileRecord

	svc *Service
}

// DownloadBatch checks the password against the first live member and counts
// a download for every member. The zip is produced by WriteZip.
func (s *Service) DownloadBatch(ctx context.Context, batchID, password string) (*Archive, error) {
	members, err := s.ResolveBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if err := checkPassword(members[0], password); err != nil {
		return nil, err
	}
	return s.archive(ctx, batchID, members)
}

// DeliverBatch is DownloadBatch for a landing that UnlockRecords already
// granted, so the password is not checked again.
func (s *Service) DeliverBatch(ctx context.Context, l *Landing) (*Archive, error) {
	members := make([]*model.FileRecord, 0, len(l.Files))
	for _, f := range l.Files {
		members = append(members, f.Record)
	}
	return s.archive(ctx, l.BatchID, members)
}

func (s *Service) archive(ctx context.Context, batchID string, members []*model.FileRecord) (*Archive, error) {
	counted := make([]*model.FileRecord, 0, len(members))
	for _, rec := range members {
		if err := s.countDownload(ctx, rec); err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		counted = append(counted, rec)
	}
	if len(counted) == 0 {
		return nil, ErrNotFound
	}
	return &Archive{BatchID: batchID, Records: counted, svc: s}, nil
}

// Filename is the suggested name of the zip.
func (a *Archive) Filename() string {
	return "dropzone-" + a.BatchID + ".zip"
}

// WriteZip streams every member, decrypted, into a zip written to w. Members
// whose blob has gone missing are skipped.
func (a *Archive) WriteZip(ctx context.Context, w io.Writer) error {
	zw := zip.NewWriter(w)
	names := make(map[string]int, len(a.Records))
	for _, rec := range a.Records {
		if err := ctx.Err(); err != nil {
			return err
		}
		c, err := a.svc.open(ctx, rec)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return err
		}
		err = a.writeEntry(zw, uniqueName(names, entryName(rec.OriginalName)), c)
		c.Body.Close()
		if err != nil {
			return err
		}
	}
	return zw.Close()
}

func (a *Archive) writeEntry(zw *zip.Writer, name string, c *Content) error {
	hdr := &zip.FileHeader{
		Name:     name,
		Method:   zip.Deflate,
		Modified: c.Record.UploadedAt,
	}
	fw, err := zw.CreateHeader(hdr)
	if err != nil {
		return fmt.Errorf("zip header %s: %w", name, err)
	}
	if _, err := io.Copy(fw, c.Body); err != nil {
		return fmt.Errorf("zip entry %s: %w", name, err)
	}
	return nil
}

// entryName flattens a client supplied name so it cannot escape the archive
// root.
func entryName(name string) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	switch name {
	case "", ".", "/", "..":
		return "file"
	}
	return name
}

func uniqueName(seen map[string]int, name string) string {
	n := seen[name]
	seen[name] = n + 1
	if n == 0 {
		return name
	}
	ext := path.Ext(name)
	base := strings.TrimSuffix(name, ext)
	candidate := base + " (" + strconv.Itoa(n+1) + ")" + ext
	if _, taken := seen[candidate]; taken {
		return uniqueName(seen, candidate)
	}
	seen[candidate] = 1
	return candidate
}
