// Package server exposes DropZone over HTTP: uploads, landing pages, inline
// previews, downloads and the small JSON helpers the upload page calls.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/dharsanguruparan/DropZone/internal/notify"
	"github.com/dharsanguruparan/DropZone/internal/qrcode"
	"github.com/dharsanguruparan/DropZone/internal/share"
)

// Options carries the HTTP settings taken from config.
type Options struct {
	Address string
	// PublicHost, when set, is the base of every generated share link.
	PublicHost     string
	MaxUploadBytes int64
	// TempDir receives plaintext uploads until they are encrypted.
	TempDir string
}

// Server hosts the HTTP handlers.
type Server struct {
	opts     Options
	svc      *share.Service
	qr       *qrcode.Generator
	notifier notify.Notifier
	log      zerolog.Logger

	// lanIP finds the address used instead of localhost in share links.
	lanIP func() string

	server *http.Server
	once   sync.Once
}

// New prepares the temp directory and returns a Server. Plaintext left over
// from a previous run is removed.
func New(opts Options, svc *share.Service, qr *qrcode.Generator, notifier notify.Notifier, log zerolog.Logger) (*Server, error) {
	if err := os.MkdirAll(opts.TempDir, 0o700); err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	log = log.With().Str("component", "http").Logger()
	stale, _ := filepath.Glob(filepath.Join(opts.TempDir, tempPattern))
	for _, path := range stale {
		if err := os.Remove(path); err != nil {
			log.Warn().Err(err).Str("path", path).Msg("remove stale upload")
		}
	}
	return &Server{
		opts:     opts,
		svc:      svc,
		qr:       qr,
		notifier: notifier,
		log:      log,
		lanIP:    lanIPv4,
	}, nil
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(corsMiddleware)
	r.Use(s.observe)

	r.Get("/", s.handleIndex)
	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/content/{id}", s.handleContent)
	r.Get("/content/{id}/thumbnail", s.handleThumbnail)
	r.HandleFunc("/download/{id}", s.handleDownload)
	r.HandleFunc("/download/batch/{id}", s.handleBatch)

	// The JSON endpoints answer both at the root and under /api.
	r.Group(s.apiRoutes)
	r.Route("/api", s.apiRoutes)
	return r
}

func (s *Server) apiRoutes(r chi.Router) {
	r.Post("/upload", s.handleUpload)
	r.Get("/file/{id}", s.handleInfo)
	r.Get("/qr/{id}", s.handleQR)
	r.Get("/qr-batch/{id}", s.handleBatchQR)
	r.Post("/send-email", s.handleSendEmail)
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	s.once.Do(func() {
		s.server = &http.Server{
			Addr:              s.opts.Address,
			Handler:           s.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       120 * time.Second,
		}
	})
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()
	s.log.Info().Str("addr", s.opts.Address).Msg("http listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	s.renderPage(w, http.StatusOK, "index.html", map[string]any{
		"MaxUploadBytes": s.opts.MaxUploadBytes,
	})
}

// baseURL is the scheme and host share links are built from.
func (s *Server) baseURL(r *http.Request) string {
	if s.opts.PublicHost != "" {
		return s.opts.PublicHost
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto == "https" || proto == "http" {
		scheme = proto
	}

	host := r.Host
	name, port, err := net.SplitHostPort(host)
	if err != nil {
		name, port = host, ""
	}
	if name == "localhost" || name == "127.0.0.1" || name == "::1" {
		// A link to localhost is useless on the phone scanning the QR code.
		if ip := s.lanIP(); ip != "" {
			name = ip
		}
	}
	if port != "" {
		host = net.JoinHostPort(name, port)
	} else {
		host = name
	}
	return scheme + "://" + host
}

// lanIPv4 returns the first non-loopback IPv4 address, or "".
func lanIPv4() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return ""
	}
	for _, addr := range addrs {
		ipnet, ok := addr.(*net.IPNet)
		if !ok || ipnet.IP.IsLoopback() {
			continue
		}
		if ip4 := ipnet.IP.To4(); ip4 != nil {
			return ip4.String()
		}
	}
	return ""
}
