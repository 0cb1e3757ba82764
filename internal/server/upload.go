package server

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"os"
	"strconv"

	"github.com/dharsanguruparan/DropZone/internal/share"
)

const (
	tempPattern = "upload-*"
	// multipartOverhead is allowed on top of the file bytes for boundaries,
	// part headers and the password field.
	multipartOverhead = 1 << 20
	maxPasswordBytes  = 1024
	sniffLen          = 512
)

var (
	errTooLarge        = errors.New("upload exceeds size limit")
	errPasswordTooLong = errors.New("password too long")
)

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes+multipartOverhead)
	mr, err := r.MultipartReader()
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "expecting multipart form")
		return
	}
	files, password, err := s.spool(mr)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.Is(err, errTooLarge) || errors.As(err, &maxErr) {
			s.respondError(w, http.StatusRequestEntityTooLarge,
				"Upload exceeds the "+formatSize(s.opts.MaxUploadBytes)+" limit")
			return
		}
		if errors.Is(err, errPasswordTooLong) {
			s.respondError(w, http.StatusBadRequest, "Password too long")
			return
		}
		s.log.Warn().Err(err).Msg("read upload")
		s.respondError(w, http.StatusBadRequest, "failed to read upload")
		return
	}
	if len(files) == 0 {
		s.respondError(w, http.StatusBadRequest, "No files uploaded")
		return
	}

	res, err := s.svc.Upload(r.Context(), share.UploadRequest{
		Files:    files,
		Password: password,
		BaseURL:  s.baseURL(r),
	})
	if err != nil {
		if errors.Is(err, share.ErrValidation) {
			s.respondError(w, http.StatusBadRequest, "No files uploaded")
			return
		}
		s.respondError(w, http.StatusInternalServerError, "Upload failed")
		return
	}
	s.respondJSON(w, http.StatusOK, struct {
		Success bool `json:"success"`
		*share.UploadResult
	}{true, res})
}

// spool streams every file part to its own temp file and collects the
// password field. On error nothing is left on disk.
func (s *Server) spool(mr *multipart.Reader) ([]share.IncomingFile, string, error) {
	var (
		files    []share.IncomingFile
		password string
		budget   = s.opts.MaxUploadBytes
	)
	cleanup := func() {
		for _, f := range files {
			os.Remove(f.TempPath)
		}
	}
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return files, password, nil
		}
		if err != nil {
			cleanup()
			return nil, "", err
		}
		switch part.FormName() {
		case "password":
			v, err := io.ReadAll(io.LimitReader(part, maxPasswordBytes+1))
			part.Close()
			if err == nil && len(v) > maxPasswordBytes {
				err = errPasswordTooLong
			}
			if err != nil {
				cleanup()
				return nil, "", err
			}
			password = string(v)
		case "files", "file":
			f, n, err := s.persistPart(part, budget, len(files))
			part.Close()
			if err != nil {
				cleanup()
				return nil, "", err
			}
			budget -= n
			files = append(files, *f)
		default:
			part.Close()
		}
	}
}

// persistPart copies one part to a temp file, failing with errTooLarge once
// more than budget bytes arrive.
func (s *Server) persistPart(part *multipart.Part, budget int64, index int) (*share.IncomingFile, int64, error) {
	dst, err := os.CreateTemp(s.opts.TempDir, tempPattern)
	if err != nil {
		return nil, 0, fmt.Errorf("create temp file: %w", err)
	}
	fail := func(err error) (*share.IncomingFile, int64, error) {
		dst.Close()
		os.Remove(dst.Name())
		return nil, 0, err
	}

	var sniff []byte
	buf := make([]byte, 32*1024)
	var written int64
	for {
		n, readErr := part.Read(buf)
		if n > 0 {
			written += int64(n)
			if written > budget {
				return fail(errTooLarge)
			}
			if len(sniff) < sniffLen {
				chunk := n
				if remain := sniffLen - len(sniff); chunk > remain {
					chunk = remain
				}
				sniff = append(sniff, buf[:chunk]...)
			}
			if _, err := dst.Write(buf[:n]); err != nil {
				return fail(fmt.Errorf("write temp file: %w", err))
			}
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				break
			}
			return fail(readErr)
		}
	}
	if err := dst.Close(); err != nil {
		os.Remove(dst.Name())
		return nil, 0, fmt.Errorf("close temp file: %w", err)
	}

	name := part.FileName()
	if name == "" {
		name = "file-" + strconv.Itoa(index+1)
	}
	return &share.IncomingFile{
		Name:     name,
		MimeType: detectType(part.Header.Get("Content-Type"), sniff),
		TempPath: dst.Name(),
	}, written, nil
}

// detectType trusts the client's part header unless it is missing or
// generic, then falls back to sniffing. Parameters such as charset are
// dropped.
func detectType(declared string, sniff []byte) string {
	if mt, _, err := mime.ParseMediaType(declared); err == nil && mt != "application/octet-stream" {
		return mt
	}
	if len(sniff) == 0 {
		return "application/octet-stream"
	}
	mt, _, err := mime.ParseMediaType(http.DetectContentType(sniff))
	if err != nil {
		return "application/octet-stream"
	}
	return mt
}
