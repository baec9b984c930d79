package inference

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/neuralfs/neuralfs/internal/config"
	"github.com/neuralfs/neuralfs/internal/faults"
	"github.com/neuralfs/neuralfs/internal/models"
	"github.com/neuralfs/neuralfs/internal/store"
)

// Merge weights for files present in both result sets.
const (
	localWeight  = 0.5
	remoteWeight = 0.5
)

// FileScore is one ranked file in an inference result.
type FileScore struct {
	FileID  string   `json:"file_id"`
	Path    string   `json:"path"`
	Score   float64  `json:"score"`
	Sources []string `json:"sources"`
}

// Result is a merged inference answer.
type Result struct {
	Query       string             `json:"query"`
	Intent      models.QueryIntent `json:"intent"`
	Source      string             `json:"source"` // "local" or "combined"
	Files       []FileScore        `json:"files"`
	MatchedTags []string           `json:"matched_tags,omitempty"`
	Cached      bool               `json:"cached"`
}

// CloudStatus reports the remote path's health for the status command.
type CloudStatus struct {
	Enabled           bool    `json:"enabled"`
	Provider          string  `json:"provider,omitempty"`
	MonthSpendUSD     float64 `json:"month_spend_usd"`
	MonthLimitUSD     float64 `json:"month_limit_usd"`
	MonthRequests     int64   `json:"month_requests"`
	RequestsRemaining int     `json:"requests_remaining"`
}

// Coordinator orchestrates the hybrid inference path. It is the sole
// owner of the cache, cost tracker, and rate limiter; the local engine
// and providers are stateless workers.
type Coordinator struct {
	local      *LocalEngine
	provider   Provider
	cfg        config.CloudConfig
	cache      *resultCache
	tracker    *CostTracker
	limiter    *rate.Limiter
	remoteWait time.Duration
	logger     *zap.Logger
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithCoordinatorLogger sets the logger.
func WithCoordinatorLogger(l *zap.Logger) CoordinatorOption {
	return func(c *Coordinator) { c.logger = l }
}

// WithRemoteWait overrides the post-local remote wait.
func WithRemoteWait(d time.Duration) CoordinatorOption {
	return func(c *Coordinator) { c.remoteWait = d }
}

// NewCoordinator wires the hybrid path. provider may be nil; the
// coordinator then runs local-only regardless of cfg.Enabled.
func NewCoordinator(local *LocalEngine, provider Provider, usage *store.UsageRepo, cfg config.CloudConfig, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		local:      local,
		provider:   provider,
		cfg:        cfg,
		cache:      newResultCache(time.Duration(cfg.CacheTTLSecs) * time.Second),
		tracker:    NewCostTracker(usage, cfg.MonthlyCostLimit),
		remoteWait: time.Duration(cfg.RemoteWaitMs) * time.Millisecond,
		logger:     zap.NewNop(),
	}
	rpm := cfg.RequestsPerMinute
	if rpm <= 0 {
		rpm = 20
	}
	c.limiter = rate.NewLimiter(rate.Limit(float64(rpm)/60.0), rpm)
	if c.remoteWait <= 0 {
		c.remoteWait = 500 * time.Millisecond
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Infer answers one query via the hybrid path.
func (c *Coordinator) Infer(ctx context.Context, query string) (*Result, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, faults.New(faults.InvalidArgument, "empty query")
	}
	key := normalizeQuery(query)
	if cached, ok := c.cache.get(key); ok {
		out := *cached
		out.Cached = true
		return &out, nil
	}

	// The remote call needs the local candidate list for its prompt, so
	// it starts after local finishes; the bounded wait keeps the remote
	// round trip from stalling the answer.
	local, err := c.local.Run(ctx, query)
	if err != nil {
		return nil, err
	}

	result := &Result{
		Query:       query,
		Intent:      local.Intent,
		Source:      "local",
		MatchedTags: local.MatchedTags,
	}

	remoteScores := c.tryRemote(ctx, local)
	if remoteScores != nil {
		result.Source = "combined"
	}
	result.Files = c.mergeScores(ctx, local, remoteScores)

	c.cache.put(key, result)
	return result, nil
}

// tryRemote dispatches the remote ranker when eligible and returns its
// per-file scores, or nil for local-only fallback. Remote failures are
// logged, never surfaced.
func (c *Coordinator) tryRemote(ctx context.Context, local *LocalResult) map[string]float64 {
	if c.provider == nil || !c.cfg.Enabled || local.RemotePrompt == "" {
		return nil
	}
	if err := c.tracker.Allowed(ctx); err != nil {
		c.logger.Debug("remote inference skipped", zap.Error(err))
		return nil
	}
	if !c.limiter.Allow() {
		c.logger.Debug("remote inference skipped", zap.String("reason", "rate limit"))
		return nil
	}

	type remoteOut struct {
		comp *Completion
		err  error
	}
	remoteCtx, cancel := context.WithCancel(ctx)
	remoteCh := make(chan remoteOut, 1)
	go func() {
		comp, err := callWithRetry(remoteCtx, func(ctx context.Context) (*Completion, error) {
			return c.provider.Complete(ctx, PromptRequest{
				System: "You rank file candidates for a desktop search engine.",
				Prompt: local.RemotePrompt,
			})
		})
		remoteCh <- remoteOut{comp, err}
	}()

	timer := time.NewTimer(c.remoteWait)
	defer timer.Stop()
	select {
	case ro := <-remoteCh:
		cancel()
		if ro.err != nil {
			c.logger.Warn("remote inference failed", zap.Error(ro.err))
			return nil
		}
		if err := c.tracker.Record(ctx, ro.comp); err != nil {
			c.logger.Warn("record cloud usage", zap.Error(err))
		}
		scores := parseRemoteRanking(ro.comp.Content, local.Candidates)
		if scores == nil {
			c.logger.Warn("remote ranking unparseable",
				zap.String("provider", c.provider.Name()))
		}
		return scores
	case <-timer.C:
		cancel()
		c.logger.Debug("remote inference timed out",
			zap.Duration("wait", c.remoteWait))
		return nil
	}
}

// mergeScores combines local and remote per-file scores: weighted
// average where both rank a file, pass-through otherwise.
func (c *Coordinator) mergeScores(ctx context.Context, local *LocalResult, remote map[string]float64) []FileScore {
	paths := make(map[string]string, len(local.Candidates))
	for _, cand := range local.Candidates {
		paths[cand.FileID] = cand.Path
	}

	merged := make(map[string]*FileScore)
	for id, score := range local.Scores {
		merged[id] = &FileScore{FileID: id, Path: paths[id], Score: score, Sources: []string{"local"}}
	}
	for id, score := range remote {
		if fs, ok := merged[id]; ok {
			fs.Score = localWeight*fs.Score + remoteWeight*score
			fs.Sources = append(fs.Sources, "remote")
		} else {
			merged[id] = &FileScore{FileID: id, Path: paths[id], Score: score, Sources: []string{"remote"}}
		}
	}

	out := make([]FileScore, 0, len(merged))
	for _, fs := range merged {
		if fs.Path == "" {
			if rec, err := c.local.files.Get(ctx, fs.FileID); err == nil {
				fs.Path = rec.Path
			}
		}
		out = append(out, *fs)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].FileID < out[j].FileID
	})
	return out
}

// Status reports budget and rate-limit headroom for get_cloud_status.
func (c *Coordinator) Status(ctx context.Context) (*CloudStatus, error) {
	u, err := c.tracker.MonthUsage(ctx)
	if err != nil {
		return nil, err
	}
	return &CloudStatus{
		Enabled:           c.cfg.Enabled && c.provider != nil,
		Provider:          c.cfg.Provider,
		MonthSpendUSD:     u.CostUSD,
		MonthLimitUSD:     c.tracker.Limit(),
		MonthRequests:     u.RequestCount,
		RequestsRemaining: int(c.limiter.Tokens()),
	}, nil
}

// InvalidateCache drops cached answers, used after reindexing.
func (c *Coordinator) InvalidateCache() {
	c.cache.mu.Lock()
	c.cache.entries = make(map[string]cacheEntry)
	c.cache.mu.Unlock()
}

type remoteRank struct {
	ID    int     `json:"id"`
	Score float64 `json:"score"`
}

// parseRemoteRanking extracts the JSON candidate ranking from a model
// completion. Returns nil when no usable ranking is present.
func parseRemoteRanking(content string, cands []Candidate) map[string]float64 {
	start := strings.Index(content, "[")
	end := strings.LastIndex(content, "]")
	if start < 0 || end <= start {
		return nil
	}
	var ranks []remoteRank
	if err := json.Unmarshal([]byte(content[start:end+1]), &ranks); err != nil {
		return nil
	}

	byNum := make(map[int]string, len(cands))
	for _, c := range cands {
		byNum[c.Num] = c.FileID
	}
	scores := make(map[string]float64)
	for _, r := range ranks {
		id, ok := byNum[r.ID]
		if !ok {
			continue
		}
		score := r.Score
		if score < 0 {
			score = 0
		}
		if score > 1 {
			score = 1
		}
		scores[id] = score
	}
	if len(scores) == 0 {
		return nil
	}
	return scores
}
