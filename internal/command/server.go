// Package command exposes the engine to the shell as a loopback JSON
// command surface. Each route is one named command with a typed payload
// and response; errors return an {error, tag} envelope whose tag is the
// machine-readable fault kind.
package command

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/neuralfs/neuralfs/internal/config"
	"github.com/neuralfs/neuralfs/internal/faults"
	"github.com/neuralfs/neuralfs/internal/indexer"
	"github.com/neuralfs/neuralfs/internal/inference"
	"github.com/neuralfs/neuralfs/internal/relation"
	"github.com/neuralfs/neuralfs/internal/search"
	"github.com/neuralfs/neuralfs/internal/store"
	"github.com/neuralfs/neuralfs/internal/tags"
	"github.com/neuralfs/neuralfs/internal/watcher"
)

// Deps collects the services the command surface fronts. Engine, Tags,
// Relations, and Store must be set; the rest degrade to "command not
// available" when nil.
type Deps struct {
	Config     *config.Config
	ConfigPath string
	Store      *store.Store
	Engine     *search.Engine
	Suggester  *search.Suggester
	Tags       *tags.Service
	Relations  *relation.Engine
	Tracker    *relation.Tracker
	Indexer    *indexer.Indexer
	Inference  *inference.Coordinator
	Filter     *watcher.Filter
	Scan       *ScanManager

	// SessionToken guards the asset server; get_session_token hands it
	// to the shell together with the asset URLs.
	SessionToken string
	AssetPort    int
	LogPath      string
}

// Server is the loopback command server.
type Server struct {
	deps   Deps
	port   int
	logger *zap.Logger
	srv    *http.Server

	cfgMu sync.Mutex // serializes set_config read-modify-write
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(s *Server) { s.logger = l } }

// NewServer wires the command server on the given loopback port.
func NewServer(deps Deps, port int, opts ...Option) *Server {
	s := &Server{deps: deps, port: port, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler builds the routed handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Route("/commands", func(r chi.Router) {
		r.Post("/search_files", s.handleSearchFiles)
		r.Get("/get_search_suggestions", s.handleSearchSuggestions)

		r.Get("/get_tags", s.handleGetTags)
		r.Get("/get_file_tags", s.handleGetFileTags)
		r.Get("/suggest_tags", s.handleSuggestTags)
		r.Post("/execute_tag_command", s.handleTagCommand)

		r.Get("/get_relations", s.handleGetRelations)
		r.Get("/get_relation_graph", s.handleRelationGraph)
		r.Post("/execute_relation_command", s.handleRelationCommand)

		r.Get("/get_config", s.handleGetConfig)
		r.Post("/set_config", s.handleSetConfig)
		r.Get("/get_cloud_status", s.handleCloudStatus)
		r.Get("/get_status", s.handleStatus)

		r.Get("/browse_directory", s.handleBrowseDirectory)
		r.Post("/start_initial_scan", s.handleStartScan)
		r.Get("/get_scan_progress", s.handleScanProgress)

		r.Post("/record_file_access", s.handleRecordAccess)
		r.Post("/retry_dead_letter", s.handleRetryDeadLetter)

		r.Get("/get_session_token", s.handleSessionToken)
	})
	r.Get("/health", s.handleHealth)
	return r
}

// Start serves on loopback and blocks until the listener stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("127.0.0.1:%d", s.port)
	s.srv = &http.Server{Addr: addr, Handler: s.Handler()}
	s.logger.Info("command server listening", zap.String("addr", addr))
	return s.srv.ListenAndServe()
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	if s.srv != nil {
		return s.srv.Shutdown(ctx)
	}
	return nil
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// respondFault maps a fault kind onto an HTTP status and the {error, tag}
// envelope the shell keys its notices on.
func (s *Server) respondFault(w http.ResponseWriter, err error) {
	kind := faults.KindOf(err)
	status := http.StatusInternalServerError
	switch kind {
	case faults.NotFound:
		status = http.StatusNotFound
	case faults.InvalidArgument, faults.UnsupportedFormat, faults.Parse:
		status = http.StatusBadRequest
	case faults.PermissionDenied:
		status = http.StatusForbidden
	case faults.RateLimited:
		status = http.StatusTooManyRequests
	case faults.Timeout, faults.Cancelled:
		status = http.StatusGatewayTimeout
	case faults.FileLocked, faults.TransientIO, faults.TransientNetwork,
		faults.TransientStorage, faults.TransientLock:
		status = http.StatusServiceUnavailable
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error("command failed", zap.Error(err))
	}
	s.respondJSON(w, status, map[string]string{
		"error": err.Error(),
		"tag":   kind.String(),
	})
}

func (s *Server) respondBadRequest(w http.ResponseWriter, msg string) {
	s.respondJSON(w, http.StatusBadRequest, map[string]string{
		"error": msg,
		"tag":   faults.InvalidArgument.String(),
	})
}

func (s *Server) respondUnavailable(w http.ResponseWriter, what string) {
	s.respondJSON(w, http.StatusNotImplemented, map[string]string{
		"error": what + " is not available",
		"tag":   faults.Internal.String(),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
