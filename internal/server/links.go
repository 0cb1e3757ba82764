package server

import (
	"encoding/json"
	"errors"
	"mime"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dharsanguruparan/DropZone/internal/metrics"
	"github.com/dharsanguruparan/DropZone/internal/notify"
	"github.com/dharsanguruparan/DropZone/internal/share"
)

type qrResponse struct {
	Success bool   `json:"success"`
	QRCode  string `json:"qrCode"`
}

func (s *Server) handleQR(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.svc.Resolve(r.Context(), id); err != nil {
		if errors.Is(err, share.ErrNotFound) || errors.Is(err, share.ErrExpired) {
			s.respondError(w, http.StatusNotFound, "File not found or expired")
			return
		}
		s.log.Error().Err(err).Msg("qr lookup")
		s.respondError(w, http.StatusInternalServerError, "Failed to generate QR code")
		return
	}
	s.writeQR(w, share.ShareURL(s.baseURL(r), id))
}

func (s *Server) handleBatchQR(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.svc.ResolveBatch(r.Context(), id); err != nil {
		if errors.Is(err, share.ErrNotFound) || errors.Is(err, share.ErrExpired) {
			s.respondError(w, http.StatusNotFound, "Batch not found")
			return
		}
		s.log.Error().Err(err).Msg("batch qr lookup")
		s.respondError(w, http.StatusInternalServerError, "Failed to generate QR code")
		return
	}
	s.writeQR(w, share.BatchURL(s.baseURL(r), id))
}

func (s *Server) writeQR(w http.ResponseWriter, link string) {
	dataURL, err := s.qr.DataURL(link)
	if err != nil {
		s.log.Error().Err(err).Msg("qr encode")
		s.respondError(w, http.StatusInternalServerError, "Failed to generate QR code")
		return
	}
	s.respondJSON(w, http.StatusOK, qrResponse{Success: true, QRCode: dataURL})
}

type emailRequest struct {
	ShareURL       string `json:"shareUrl"`
	RecipientEmail string `json:"recipientEmail"`
	SenderEmail    string `json:"senderEmail"`
	FileName       string `json:"fileName"`
}

// handleSendEmail mails a share link. It accepts JSON or a regular form.
func (s *Server) handleSendEmail(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)
	var req emailRequest
	mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mt == "application/json" {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	} else {
		if err := r.ParseForm(); err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid form body")
			return
		}
		req = emailRequest{
			ShareURL:       r.PostForm.Get("shareUrl"),
			RecipientEmail: r.PostForm.Get("recipientEmail"),
			SenderEmail:    r.PostForm.Get("senderEmail"),
			FileName:       r.PostForm.Get("fileName"),
		}
	}
	if req.ShareURL == "" || req.RecipientEmail == "" {
		s.respondError(w, http.StatusBadRequest, "Missing required fields")
		return
	}

	msg := notify.Share{
		ShareURL:  req.ShareURL,
		Recipient: req.RecipientEmail,
		Sender:    req.SenderEmail,
		FileName:  req.FileName,
	}
	if err := msg.Validate(); err != nil {
		metrics.EmailsTotal.WithLabelValues("rejected").Inc()
		s.respondError(w, http.StatusBadRequest, "Invalid email address")
		return
	}
	if err := s.notifier.Send(r.Context(), msg); err != nil {
		metrics.EmailsTotal.WithLabelValues("failed").Inc()
		s.log.Error().Err(err).Str("to", req.RecipientEmail).Msg("send email")
		s.respondError(w, http.StatusInternalServerError, "Failed to send email")
		return
	}
	metrics.EmailsTotal.WithLabelValues("sent").Inc()
	s.respondJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Email sent successfully",
	})
}
