package command

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"go.uber.org/zap"

	"github.com/neuralfs/neuralfs/internal/config"
	"github.com/neuralfs/neuralfs/internal/models"
	"github.com/neuralfs/neuralfs/internal/relation"
	"github.com/neuralfs/neuralfs/internal/tags"
)

func (s *Server) handleSearchFiles(w http.ResponseWriter, r *http.Request) {
	var req models.SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondBadRequest(w, "invalid request body")
		return
	}
	s.logger.Debug("search request",
		zap.String("query", req.Query),
		zap.Int("limit", req.Limit))
	resp, err := s.deps.Engine.Search(r.Context(), &req)
	if err != nil {
		s.respondFault(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSearchSuggestions(w http.ResponseWriter, r *http.Request) {
	if s.deps.Suggester == nil {
		s.respondUnavailable(w, "search suggestions")
		return
	}
	query := r.URL.Query().Get("query")
	if query == "" {
		s.respondBadRequest(w, "query is required")
		return
	}
	max := 5
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			max = n
		}
	}
	out, err := s.deps.Suggester.Suggest(query, max)
	if err != nil {
		s.respondFault(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"suggestions": out})
}

func (s *Server) handleGetTags(w http.ResponseWriter, r *http.Request) {
	list, err := s.deps.Tags.List(r.Context())
	if err != nil {
		s.respondFault(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"tags": list})
}

func (s *Server) handleGetFileTags(w http.ResponseWriter, r *http.Request) {
	fileID := r.URL.Query().Get("file_id")
	if fileID == "" {
		s.respondBadRequest(w, "file_id is required")
		return
	}
	tagList, fileTags, err := s.deps.Tags.TagsForFile(r.Context(), fileID)
	if err != nil {
		s.respondFault(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{
		"tags":      tagList,
		"file_tags": fileTags,
	})
}

func (s *Server) handleSuggestTags(w http.ResponseWriter, r *http.Request) {
	fileID := r.URL.Query().Get("file_id")
	if fileID == "" {
		s.respondBadRequest(w, "file_id is required")
		return
	}
	ctx := r.Context()
	rec, err := s.deps.Store.Files.Get(ctx, fileID)
	if err != nil {
		s.respondFault(w, err)
		return
	}
	chunks, err := s.deps.Store.Chunks.ListForFile(ctx, fileID)
	if err != nil {
		s.respondFault(w, err)
		return
	}
	suggestions, err := s.deps.Tags.Suggest(ctx, rec, chunks)
	if err != nil {
		s.respondFault(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"suggestions": suggestions})
}

// tagCommandRequest accepts a single correction command or a batch.
type tagCommandRequest struct {
	tags.Command
	Commands []tags.Command `json:"commands,omitempty"`
}

func (s *Server) handleTagCommand(w http.ResponseWriter, r *http.Request) {
	var req tagCommandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondBadRequest(w, "invalid request body")
		return
	}
	if len(req.Commands) > 0 {
		applied, err := s.deps.Tags.ApplyBatch(r.Context(), req.Commands)
		if err != nil {
			s.respondFault(w, err)
			return
		}
		s.respondJSON(w, http.StatusOK, map[string]any{"applied": applied})
		return
	}
	if err := s.deps.Tags.Apply(r.Context(), req.Command); err != nil {
		s.respondFault(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"applied": 1})
}

func (s *Server) handleGetRelations(w http.ResponseWriter, r *http.Request) {
	fileID := r.URL.Query().Get("file_id")
	if fileID == "" {
		s.respondBadRequest(w, "file_id is required")
		return
	}
	rels, err := s.deps.Relations.RelationsForFile(r.Context(), fileID)
	if err != nil {
		s.respondFault(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"relations": rels})
}

func (s *Server) handleRelationGraph(w http.ResponseWriter, r *http.Request) {
	fileID := r.URL.Query().Get("file_id")
	if fileID == "" {
		s.respondBadRequest(w, "file_id is required")
		return
	}
	depth := 2
	if v := r.URL.Query().Get("depth"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			s.respondBadRequest(w, "depth must be a positive integer")
			return
		}
		depth = n
	}
	graph, err := s.deps.Relations.Graph(r.Context(), fileID, depth)
	if err != nil {
		s.respondFault(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, graph)
}

// relationCommandRequest is one feedback action on a relation.
type relationCommandRequest struct {
	Op           string               `json:"op"` // confirm, reject, adjust, batch-reject
	RelationID   string               `json:"relation_id"`
	Reason       string               `json:"reason,omitempty"`
	BlockSimilar bool                 `json:"block_similar,omitempty"`
	Strength     float64              `json:"strength,omitempty"`
	Scope        relation.RejectScope `json:"scope,omitempty"`
	TagA         string               `json:"tag_a,omitempty"`
	TagB         string               `json:"tag_b,omitempty"`
}

func (s *Server) handleRelationCommand(w http.ResponseWriter, r *http.Request) {
	var req relationCommandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondBadRequest(w, "invalid request body")
		return
	}
	if req.RelationID == "" {
		s.respondBadRequest(w, "relation_id is required")
		return
	}
	ctx := r.Context()
	var err error
	switch req.Op {
	case "confirm":
		err = s.deps.Relations.Confirm(ctx, req.RelationID)
	case "reject":
		err = s.deps.Relations.Reject(ctx, req.RelationID, req.Reason, req.BlockSimilar)
	case "adjust":
		err = s.deps.Relations.Adjust(ctx, req.RelationID, req.Strength)
	case "batch-reject":
		err = s.deps.Relations.BatchReject(ctx, req.RelationID, req.Scope, req.TagA, req.TagB)
	default:
		s.respondBadRequest(w, fmt.Sprintf("unknown relation op: %q", req.Op))
		return
	}
	if err != nil {
		s.respondFault(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "applied"})
}

func (s *Server) handleGetConfig(w http.ResponseWriter, _ *http.Request) {
	s.cfgMu.Lock()
	cfg := s.deps.Config.Redacted()
	s.cfgMu.Unlock()
	s.respondJSON(w, http.StatusOK, cfg)
}

func (s *Server) handleSetConfig(w http.ResponseWriter, r *http.Request) {
	var incoming config.Config
	if err := json.NewDecoder(r.Body).Decode(&incoming); err != nil {
		s.respondBadRequest(w, "invalid request body")
		return
	}

	s.cfgMu.Lock()
	defer s.cfgMu.Unlock()

	// The redacted key round-trips from get_config; keep the stored one.
	if incoming.Cloud.APIKey == "" || incoming.Cloud.APIKey == "********" {
		incoming.Cloud.APIKey = s.deps.Config.Cloud.APIKey
	}
	if incoming.DataDir == "" {
		incoming.DataDir = s.deps.Config.DataDir
	}
	config.ApplyDefaults(&incoming)

	if s.deps.ConfigPath != "" {
		if err := config.Save(s.deps.ConfigPath, &incoming); err != nil {
			s.respondFault(w, err)
			return
		}
	}
	*s.deps.Config = incoming
	s.logger.Info("configuration updated")
	s.respondJSON(w, http.StatusOK, incoming.Redacted())
}

func (s *Server) handleCloudStatus(w http.ResponseWriter, r *http.Request) {
	if s.deps.Inference == nil {
		s.respondUnavailable(w, "cloud inference")
		return
	}
	status, err := s.deps.Inference.Status(r.Context())
	if err != nil {
		s.respondFault(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, status)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	counts, err := s.deps.Store.Files.CountByStatus(ctx)
	if err != nil {
		s.respondFault(w, err)
		return
	}
	chunkCount, err := s.deps.Store.Chunks.Count(ctx)
	if err != nil {
		s.respondFault(w, err)
		return
	}
	resp := map[string]any{
		"files":  counts,
		"chunks": chunkCount,
	}
	if s.deps.Indexer != nil {
		resp["queue_len"] = s.deps.Indexer.QueueLen()
		resp["dead_letters"] = len(s.deps.Indexer.DeadLetters())
	}
	if s.deps.LogPath != "" {
		resp["log_path"] = s.deps.LogPath
	}
	s.respondJSON(w, http.StatusOK, resp)
}

// browseEntry is one row of a browse_directory listing.
type browseEntry struct {
	Name    string `json:"name"`
	Path    string `json:"path"`
	IsDir   bool   `json:"is_dir"`
	Size    int64  `json:"size,omitempty"`
	Skipped bool   `json:"skipped,omitempty"` // filtered by the blacklist or caps
}

func (s *Server) handleBrowseDirectory(w http.ResponseWriter, r *http.Request) {
	dir := r.URL.Query().Get("path")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			s.respondFault(w, err)
			return
		}
		dir = home
	}
	dir = filepath.Clean(dir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		s.respondFault(w, err)
		return
	}
	out := make([]browseEntry, 0, len(entries))
	for _, entry := range entries {
		full := filepath.Join(dir, entry.Name())
		be := browseEntry{Name: entry.Name(), Path: full, IsDir: entry.IsDir()}
		if entry.IsDir() {
			if s.deps.Filter != nil {
				skip, _ := s.deps.Filter.SkipDir(full, 0)
				be.Skipped = skip
			}
		} else if info, err := entry.Info(); err == nil {
			be.Size = info.Size()
			if s.deps.Filter != nil {
				be.Skipped = !s.deps.Filter.AllowFile(full, info.Size())
			}
		}
		out = append(out, be)
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"path": dir, "entries": out})
}

func (s *Server) handleStartScan(w http.ResponseWriter, r *http.Request) {
	if s.deps.Scan == nil {
		s.respondUnavailable(w, "scanning")
		return
	}
	var req struct {
		Paths []string `json:"paths"`
		Deep  bool     `json:"deep,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondBadRequest(w, "invalid request body")
		return
	}
	if len(req.Paths) == 0 {
		req.Paths = s.deps.Config.MonitoredDirectories
	}
	// The scan outlives the request.
	if err := s.deps.Scan.Start(context.WithoutCancel(r.Context()), req.Paths, req.Deep); err != nil {
		s.respondFault(w, err)
		return
	}
	s.respondJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

func (s *Server) handleScanProgress(w http.ResponseWriter, r *http.Request) {
	if s.deps.Scan == nil {
		s.respondUnavailable(w, "scanning")
		return
	}
	s.respondJSON(w, http.StatusOK, s.deps.Scan.Progress(r.Context()))
}

func (s *Server) handleRecordAccess(w http.ResponseWriter, r *http.Request) {
	if s.deps.Tracker == nil {
		s.respondUnavailable(w, "session tracking")
		return
	}
	var req struct {
		FileID string            `json:"file_id"`
		Kind   models.AccessKind `json:"kind"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondBadRequest(w, "invalid request body")
		return
	}
	if req.FileID == "" {
		s.respondBadRequest(w, "file_id is required")
		return
	}
	if req.Kind == "" {
		req.Kind = models.AccessOpen
	}
	if err := s.deps.Tracker.RecordAccess(r.Context(), req.FileID, req.Kind); err != nil {
		s.respondFault(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "recorded"})
}

func (s *Server) handleRetryDeadLetter(w http.ResponseWriter, r *http.Request) {
	if s.deps.Indexer == nil {
		s.respondUnavailable(w, "indexing")
		return
	}
	var req struct {
		ID    string `json:"id,omitempty"`
		Clear bool   `json:"clear,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondBadRequest(w, "invalid request body")
		return
	}
	if req.Clear {
		cleared := s.deps.Indexer.ClearDeadLetters()
		s.respondJSON(w, http.StatusOK, map[string]any{"cleared": cleared})
		return
	}
	if req.ID == "" {
		s.respondBadRequest(w, "id or clear is required")
		return
	}
	if err := s.deps.Indexer.RetryDeadLetter(req.ID); err != nil {
		s.respondFault(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "requeued"})
}

func (s *Server) handleSessionToken(w http.ResponseWriter, _ *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{
		"token":        s.deps.SessionToken,
		"protocol_url": "nfs://",
		"http_url":     fmt.Sprintf("http://127.0.0.1:%d", s.deps.AssetPort),
	})
}
