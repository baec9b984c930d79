// Package asset serves binary file content, previews, and thumbnails
// to the shell over a token-guarded loopback HTTP server.
package asset

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/neuralfs/neuralfs/internal/faults"
	"github.com/neuralfs/neuralfs/internal/models"
	"github.com/neuralfs/neuralfs/internal/store"
)

// previewByteLimit bounds text previews.
const previewByteLimit = 64 << 10

// Server is the loopback asset server.
type Server struct {
	files        *store.FilesRepo
	thumbs       *Thumbnailer
	token        string
	port         int
	allowOrigins []string
	logger       *zap.Logger
	srv          *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(s *Server) { s.logger = l } }

// WithAllowedOrigins extends the Origin/Referer allow-list beyond the
// loopback defaults.
func WithAllowedOrigins(origins ...string) Option {
	return func(s *Server) { s.allowOrigins = append(s.allowOrigins, origins...) }
}

// NewServer wires the asset server. token guards every route.
func NewServer(files *store.FilesRepo, thumbs *Thumbnailer, token string, port int, opts ...Option) *Server {
	s := &Server{
		files:  files,
		thumbs: thumbs,
		token:  token,
		port:   port,
		logger: zap.NewNop(),
		allowOrigins: []string{
			fmt.Sprintf("http://127.0.0.1:%d", port),
			fmt.Sprintf("http://localhost:%d", port),
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler builds the routed handler with the security chain applied.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(s.secure)

	r.Get("/thumbnail/{id}", s.handleThumbnail)
	r.Get("/preview/{id}", s.handlePreview)
	r.Get("/file/{id}", s.handleFile)
	r.Get("/health/check", s.handleHealth)
	return r
}

// Start serves on loopback and blocks until the listener stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("127.0.0.1:%d", s.port)
	s.srv = &http.Server{Addr: addr, Handler: s.Handler()}
	s.logger.Info("asset server listening", zap.String("addr", addr))
	return s.srv.ListenAndServe()
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	if s.srv != nil {
		return s.srv.Shutdown(ctx)
	}
	return nil
}

func (s *Server) handleThumbnail(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.lookup(w, r)
	if !ok {
		return
	}
	if rec.FileType != models.FileTypeImage {
		http.Error(w, "no thumbnail for this file type", http.StatusUnsupportedMediaType)
		return
	}
	size := r.URL.Query().Get("size")
	path, err := s.thumbs.Render(rec.ID, rec.Path, size)
	if err != nil {
		s.respondFault(w, err)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	http.ServeFile(w, r, path)
}

// handlePreview serves a bounded representation: a large thumbnail for
// images, the leading bytes for text-like files.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.lookup(w, r)
	if !ok {
		return
	}
	switch rec.FileType {
	case models.FileTypeImage:
		path, err := s.thumbs.Render(rec.ID, rec.Path, "large")
		if err != nil {
			s.respondFault(w, err)
			return
		}
		w.Header().Set("Content-Type", "image/jpeg")
		http.ServeFile(w, r, path)
	case models.FileTypeDocument, models.FileTypeCode:
		f, err := os.Open(rec.Path)
		if err != nil {
			http.Error(w, "file unavailable", http.StatusNotFound)
			return
		}
		defer f.Close()
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		io.Copy(w, io.LimitReader(f, previewByteLimit))
	default:
		http.Error(w, "no preview for this file type", http.StatusUnsupportedMediaType)
	}
}

func (s *Server) handleFile(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.lookup(w, r)
	if !ok {
		return
	}
	if _, err := os.Stat(rec.Path); err != nil {
		http.Error(w, "file unavailable", http.StatusNotFound)
		return
	}
	if mt, err := mimetype.DetectFile(rec.Path); err == nil {
		w.Header().Set("Content-Type", mt.String())
	}
	http.ServeFile(w, r, rec.Path)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

// lookup resolves the id route parameter to a file record.
func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*models.FileRecord, bool) {
	id := chi.URLParam(r, "id")
	rec, err := s.files.Get(r.Context(), id)
	if err != nil {
		http.Error(w, "unknown file", http.StatusNotFound)
		return nil, false
	}
	return rec, true
}

func (s *Server) respondFault(w http.ResponseWriter, err error) {
	switch faults.KindOf(err) {
	case faults.NotFound:
		http.Error(w, "file unavailable", http.StatusNotFound)
	case faults.UnsupportedFormat:
		http.Error(w, "unsupported format", http.StatusUnsupportedMediaType)
	default:
		s.logger.Warn("asset request failed", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
