package server

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/dharsanguruparan/DropZone/internal/model"
	"github.com/dharsanguruparan/DropZone/internal/share"
)

// maxFormBytes bounds the urlencoded body of landing page posts.
const maxFormBytes = 64 << 10

type landingPage struct {
	Title     string
	Heading   string
	Batch     bool
	SubmitURL string
	*share.Landing
}

type passwordPage struct {
	Name      string
	SubmitURL string
	Error     string
}

func (s *Server) handleContent(w http.ResponseWriter, r *http.Request) {
	c, err := s.svc.Preview(r.Context(), chi.URLParam(r, "id"), r.URL.Query().Get("token"))
	if err != nil {
		switch {
		case errors.Is(err, share.ErrNotFound), errors.Is(err, share.ErrExpired):
			http.Error(w, "Not Found", http.StatusNotFound)
		case errors.Is(err, share.ErrInvalidToken):
			http.Error(w, "Invalid Token", http.StatusForbidden)
		case errors.Is(err, share.ErrForbidden):
			http.Error(w, "Protected Content", http.StatusForbidden)
		default:
			s.log.Error().Err(err).Msg("preview")
			http.Error(w, "Server Error", http.StatusInternalServerError)
		}
		return
	}
	s.stream(w, c, "inline")
}

func (s *Server) handleThumbnail(w http.ResponseWriter, r *http.Request) {
	img, err := s.svc.Thumbnail(r.Context(), chi.URLParam(r, "id"), r.URL.Query().Get("token"))
	if err != nil {
		switch {
		case errors.Is(err, share.ErrNotFound), errors.Is(err, share.ErrExpired):
			http.Error(w, "Not Found", http.StatusNotFound)
		case errors.Is(err, share.ErrForbidden):
			http.Error(w, "Protected Content", http.StatusForbidden)
		case errors.Is(err, share.ErrValidation):
			http.Error(w, "No thumbnail available", http.StatusUnsupportedMediaType)
		default:
			s.log.Error().Err(err).Msg("thumbnail")
			http.Error(w, "Server Error", http.StatusInternalServerError)
		}
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Content-Length", strconv.Itoa(len(img)))
	w.Header().Set("Cache-Control", "private, max-age=3600")
	_, _ = w.Write(img)
}

// handleDownload renders the landing page for one file, or streams it as an
// attachment when the form posts action=download.
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}
	password, action, ok := s.readForm(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")
	ctx := r.Context()

	rec, err := s.svc.Resolve(ctx, id)
	if err != nil {
		s.retrievalError(w, err, "File not found or expired", "File has expired")
		return
	}
	submitURL := "/download/" + rec.ShareID
	landing, err := s.svc.UnlockRecords("", []*model.FileRecord{rec}, password)
	if err != nil {
		s.passwordError(w, err, rec.OriginalName, submitURL)
		return
	}

	if action == "download" && r.Method == http.MethodPost {
		c, err := s.svc.Deliver(ctx, rec)
		if err != nil {
			s.retrievalError(w, err, "File not found or expired", "File has expired")
			return
		}
		s.stream(w, c, "attachment")
		return
	}

	s.renderPage(w, http.StatusOK, "landing.html", landingPage{
		Title:     rec.OriginalName,
		Heading:   "File Shared With You",
		SubmitURL: submitURL,
		Landing:   landing,
	})
}

// handleBatch is handleDownload for a batch; the download action returns a
// zip of every member.
func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}
	password, action, ok := s.readForm(w, r)
	if !ok {
		return
	}
	batchID := chi.URLParam(r, "id")
	ctx := r.Context()

	members, err := s.svc.ResolveBatch(ctx, batchID)
	if err != nil {
		s.retrievalError(w, err, "Batch not found or expired", "Batch has expired")
		return
	}
	submitURL := "/download/batch/" + batchID
	landing, err := s.svc.UnlockRecords(batchID, members, password)
	if err != nil {
		s.passwordError(w, err, strconv.Itoa(len(members))+" Files", submitURL)
		return
	}

	if action == "download" && r.Method == http.MethodPost {
		archive, err := s.svc.DeliverBatch(ctx, landing)
		if err != nil {
			s.retrievalError(w, err, "Batch not found or expired", "Batch has expired")
			return
		}
		w.Header().Set("Content-Type", "application/zip")
		w.Header().Set("Content-Disposition", disposition("attachment", archive.Filename()))
		if err := archive.WriteZip(ctx, w); err != nil {
			// Headers are gone; all that is left is to cut the response short.
			s.log.Error().Err(err).Str("batch_id", batchID).Msg("write zip")
		}
		return
	}

	s.renderPage(w, http.StatusOK, "landing.html", landingPage{
		Title:     strconv.Itoa(len(landing.Files)) + " Files Shared",
		Heading:   strconv.Itoa(len(landing.Files)) + " Files Shared",
		Batch:     true,
		SubmitURL: submitURL,
		Landing:   landing,
	})
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	info, err := s.svc.Info(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		switch {
		case errors.Is(err, share.ErrNotFound):
			s.respondError(w, http.StatusNotFound, "File not found")
		case errors.Is(err, share.ErrExpired):
			s.respondError(w, http.StatusGone, "File has expired")
		default:
			s.log.Error().Err(err).Msg("file info")
			s.respondError(w, http.StatusInternalServerError, "Server Error")
		}
		return
	}
	s.respondJSON(w, http.StatusOK, info)
}

// readForm returns the password and action fields of a posted form. GET
// requests carry neither. An over-long password is answered with a 400 and
// ok is false.
func (s *Server) readForm(w http.ResponseWriter, r *http.Request) (password, action string, ok bool) {
	if r.Method != http.MethodPost {
		return "", "", true
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)
	if err := r.ParseForm(); err != nil {
		s.log.Debug().Err(err).Msg("parse form")
		return "", "", true
	}
	password = r.PostForm.Get("password")
	if len(password) > maxPasswordBytes {
		s.renderMessage(w, http.StatusBadRequest, "Password too long")
		return "", "", false
	}
	return password, r.PostForm.Get("action"), true
}

func (s *Server) retrievalError(w http.ResponseWriter, err error, notFound, expired string) {
	switch {
	case errors.Is(err, share.ErrNotFound):
		s.renderMessage(w, http.StatusNotFound, notFound)
	case errors.Is(err, share.ErrExpired):
		s.renderMessage(w, http.StatusGone, expired)
	case errors.Is(err, share.ErrForbidden):
		s.renderMessage(w, http.StatusForbidden, "Incorrect Password")
	default:
		s.log.Error().Err(err).Msg("retrieve")
		s.renderMessage(w, http.StatusInternalServerError, "Server Error")
	}
}

// passwordError turns a failed password check into the password form; a
// wrong password is a 403 with an error line, a missing one a plain 200.
func (s *Server) passwordError(w http.ResponseWriter, err error, name, submitURL string) {
	page := passwordPage{Name: name, SubmitURL: submitURL}
	switch {
	case errors.Is(err, share.ErrPasswordRequired):
		s.renderPage(w, http.StatusOK, "password.html", page)
	case errors.Is(err, share.ErrIncorrectPassword):
		page.Error = "Incorrect Password"
		s.renderPage(w, http.StatusForbidden, "password.html", page)
	default:
		s.retrievalError(w, err, "File not found or expired", "File has expired")
	}
}

// stream writes decrypted content with the given disposition.
func (s *Server) stream(w http.ResponseWriter, c *share.Content, kind string) {
	defer c.Body.Close()
	rec := c.Record
	contentType := rec.MimeType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	h := w.Header()
	h.Set("Content-Type", contentType)
	h.Set("Content-Length", strconv.FormatInt(rec.Size, 10))
	h.Set("Content-Disposition", disposition(kind, rec.OriginalName))
	h.Set("X-Content-Type-Options", "nosniff")
	// Uploaded HTML or SVG must not run scripts on this origin. Browsers
	// refuse to show PDFs in a sandbox, and PDF viewers do not run page
	// scripts anyway.
	if contentType != "application/pdf" {
		h.Set("Content-Security-Policy", "sandbox")
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, c.Body); err != nil {
		s.log.Warn().Err(err).Str("share_id", rec.ShareID).Msg("stream interrupted")
	}
}
