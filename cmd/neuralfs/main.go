// Package main is the NeuralFS engine daemon. It owns every core
// subsystem and exposes them to the shell through the loopback command
// and asset servers. Process supervision lives in neuralfs-watchdog.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/neuralfs/neuralfs/internal/asset"
	"github.com/neuralfs/neuralfs/internal/command"
	"github.com/neuralfs/neuralfs/internal/config"
	"github.com/neuralfs/neuralfs/internal/embedding"
	"github.com/neuralfs/neuralfs/internal/indexer"
	"github.com/neuralfs/neuralfs/internal/inference"
	"github.com/neuralfs/neuralfs/internal/models"
	"github.com/neuralfs/neuralfs/internal/parser"
	"github.com/neuralfs/neuralfs/internal/relation"
	"github.com/neuralfs/neuralfs/internal/search"
	"github.com/neuralfs/neuralfs/internal/store"
	"github.com/neuralfs/neuralfs/internal/tags"
	"github.com/neuralfs/neuralfs/internal/textindex"
	"github.com/neuralfs/neuralfs/internal/vector"
	"github.com/neuralfs/neuralfs/internal/watchdog"
	"github.com/neuralfs/neuralfs/internal/watcher"
	"github.com/neuralfs/neuralfs/pkg/logging"
)

var version = "dev"

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.json"
	}
	return filepath.Join(home, ".neuralfs", "config.json")
}

func main() {
	configPath := flag.String("config", defaultConfigPath(), "config file path")
	debug := flag.Bool("debug", false, "enable debug logging")
	startupScan := flag.Bool("scan", true, "reconcile monitored directories on startup")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("neuralfs %s\n", version)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	debugMode := cfg.Debug || *debug

	logger, err := logging.New(debugMode, cfg.LogDir())
	if err != nil {
		fmt.Fprintf(os.Stderr, "create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	logger.Info("engine starting",
		zap.String("version", version),
		zap.String("config", *configPath),
		zap.String("data_dir", cfg.DataDir))

	eng, err := initialize(cfg, *configPath, logger)
	if err != nil {
		logger.Fatal("initialization failed", zap.Error(err))
	}
	defer eng.Close(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	eng.Run(ctx, cfg, *startupScan, logger)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = eng.CommandServer.Stop(shutdownCtx)
	_ = eng.AssetServer.Stop(shutdownCtx)
	eng.Watcher.Stop()
	eng.Indexer.Stop()
	if err := eng.Vectors.Save(eng.SnapshotPath); err != nil {
		logger.Warn("vector snapshot save failed", zap.Error(err))
	}
}

// Engine holds the wired subsystems.
type Engine struct {
	Store         *store.Store
	Vectors       *vector.HNSW
	SnapshotPath  string
	Text          *textindex.Index
	Pool          *embedding.ModelPool
	Indexer       *indexer.Indexer
	Watcher       *watcher.Watcher
	Tracker       *relation.Tracker
	Heartbeat     *watchdog.Heartbeat
	AssetServer   *asset.Server
	CommandServer *command.Server
	Scan          *command.ScanManager
}

func initialize(cfg *config.Config, configPath string, logger *zap.Logger) (*Engine, error) {
	st, err := store.Open(cfg.DatabasePath(), store.DefaultOptions())
	if err != nil {
		return nil, fmt.Errorf("open metadata store: %w", err)
	}
	applied, err := st.Migrate(context.Background())
	if err != nil {
		return nil, fmt.Errorf("migrate metadata store: %w", err)
	}
	if applied > 0 {
		logger.Info("schema migrated", zap.Int("applied", applied))
	}

	pool := buildModelPool(cfg, logger)
	active := "fast"
	if !cfg.Performance.FastInferenceMode {
		active = "accurate"
	}
	if err := pool.SetActive(context.Background(), active); err != nil {
		return nil, fmt.Errorf("load embedding model: %w", err)
	}
	emb := pool.Active()

	vs, err := vector.NewHNSW(emb.Dimensions())
	if err != nil {
		return nil, fmt.Errorf("create vector store: %w", err)
	}
	if err := os.MkdirAll(cfg.VectorDir(), 0755); err != nil {
		return nil, fmt.Errorf("create vector dir: %w", err)
	}
	snapshotPath := filepath.Join(cfg.VectorDir(), "index.hnsw")
	if err := vs.Load(snapshotPath); err != nil {
		logger.Warn("vector snapshot load failed; starting empty", zap.Error(err))
	}

	tix, err := textindex.Open(cfg.TextIndexDir())
	if err != nil {
		return nil, fmt.Errorf("open text index: %w", err)
	}

	lexicon, err := tags.LoadLexicon(cfg.Privacy.SensitivePatterns)
	if err != nil {
		return nil, fmt.Errorf("load tag lexicon: %w", err)
	}
	tagSvc, err := tags.New(st,
		tags.WithLogger(logger),
		tags.WithLexicon(lexicon))
	if err != nil {
		return nil, fmt.Errorf("create tag service: %w", err)
	}

	relEngine := relation.NewEngine(st, vs, relation.WithLogger(logger))
	tracker := relation.NewTracker(st, relEngine, relation.WithTrackerLogger(logger))

	pipeline := &indexer.Pipeline{
		Store:    st,
		Vectors:  vs,
		Text:     tix,
		Parsers:  parser.NewRegistry(),
		Embedder: emb,
		Logger:   logger,
		OnIndexed: func(ctx context.Context, f *models.FileRecord, chunks []*models.ContentChunk) {
			tagSvc.HandleIndexed(ctx, f, chunks)
			relEngine.HandleIndexed(ctx, f, chunks)
		},
	}
	idx := indexer.New(pipeline,
		indexer.WithLogger(logger),
		indexer.WithMaxConcurrent(cfg.Indexer.MaxConcurrent),
		indexer.WithTaskTimeout(time.Duration(cfg.Indexer.TaskTimeoutSecs)*time.Second),
		indexer.WithBatchSize(cfg.Indexer.BatchSize),
		indexer.WithMaxRetries(cfg.Indexer.MaxRetries),
		indexer.WithDeadLetterCap(cfg.Indexer.DeadLetterCap))

	excludes := append([]string{}, cfg.Privacy.ExcludedPatterns...)
	excludes = append(excludes, cfg.Privacy.ExcludedDirectories...)
	filter, err := watcher.NewFilter(excludes, nil)
	if err != nil {
		return nil, fmt.Errorf("build directory filter: %w", err)
	}

	watchSvc := watcher.New(cfg.MonitoredDirectories, filter, func(ev watcher.Event) {
		task := &models.IndexTask{ID: models.NewID(), Path: ev.Path}
		switch ev.Kind {
		case watcher.EventCreated:
			task.Priority = models.PriorityHigh
		case watcher.EventModified:
			task.Priority = models.PriorityNormal
		case watcher.EventRemoved:
			task.Delete = true
			task.Priority = models.PriorityNormal
		}
		idx.Submit(task)
	},
		watcher.WithLogger(logger),
		watcher.WithDebounce(time.Duration(cfg.Indexer.DebounceMs)*time.Millisecond))

	engine := search.NewEngine(st, vs, tix, emb,
		search.WithLogger(logger),
		search.WithVectorWeight(cfg.Search.DefaultVectorWt),
		search.WithBoosts(cfg.Search.FilenameMatchBoost, cfg.Search.ExactMatchBoost),
		search.WithClarityThreshold(cfg.Search.ClarityThreshold),
		search.WithRetrievalTimeout(time.Duration(cfg.Search.QueryTimeoutMs)*time.Millisecond))
	suggester := search.NewSuggester(tix)

	anonymizer := inference.NewAnonymizer(cfg.Privacy.SensitivePatterns)
	local := inference.NewLocalEngine(vs, emb, st.Files, st.Tags, anonymizer, logger)
	coordinator := inference.NewCoordinator(local, remoteProvider(cfg), st.Usage, cfg.Cloud,
		inference.WithCoordinatorLogger(logger))

	token, err := asset.NewSessionToken()
	if err != nil {
		return nil, fmt.Errorf("generate session token: %w", err)
	}
	thumbs, err := asset.NewThumbnailer(cfg.ThumbnailDir())
	if err != nil {
		return nil, fmt.Errorf("create thumbnailer: %w", err)
	}
	assetSrv := asset.NewServer(st.Files, thumbs, token, cfg.Server.AssetPort,
		asset.WithLogger(logger))

	scan := command.NewScanManager(st, idx, filter, logger)
	cmdSrv := command.NewServer(command.Deps{
		Config:       cfg,
		ConfigPath:   configPath,
		Store:        st,
		Engine:       engine,
		Suggester:    suggester,
		Tags:         tagSvc,
		Relations:    relEngine,
		Tracker:      tracker,
		Indexer:      idx,
		Inference:    coordinator,
		Filter:       filter,
		Scan:         scan,
		SessionToken: token,
		AssetPort:    cfg.Server.AssetPort,
		LogPath:      filepath.Join(cfg.LogDir(), "neuralfs.log"),
	}, cfg.Server.CommandPort, command.WithLogger(logger))

	heartbeat := watchdog.NewHeartbeat(cfg.HeartbeatPath(),
		time.Duration(cfg.Watchdog.HeartbeatIntervalMs)*time.Millisecond)

	return &Engine{
		Store:         st,
		Vectors:       vs,
		SnapshotPath:  snapshotPath,
		Text:          tix,
		Pool:          pool,
		Indexer:       idx,
		Watcher:       watchSvc,
		Tracker:       tracker,
		Heartbeat:     heartbeat,
		AssetServer:   assetSrv,
		CommandServer: cmdSrv,
		Scan:          scan,
	}, nil
}

// buildModelPool registers the fast and accurate text models. The loader
// prefers the ONNX runtime and falls back to the deterministic hash
// embedder when the runtime or the model file is unavailable.
func buildModelPool(cfg *config.Config, logger *zap.Logger) *embedding.ModelPool {
	loader := func(spec embedding.ModelSpec) (embedding.Embedder, error) {
		onnx, err := embedding.NewONNXEmbedder(spec.Path, spec.Dimensions, spec.MaxTokens, 4096)
		if err != nil {
			logger.Warn("onnx embedder unavailable, using fallback",
				zap.String("model", spec.Name), zap.Error(err))
			return embedding.NewMockEmbedder(spec.Dimensions), nil
		}
		return onnx, nil
	}
	pool := embedding.NewModelPool(loader,
		embedding.WithMemoryBudget(int64(cfg.Performance.MaxVRAMMB)<<20),
		embedding.WithPoolLogger(logger))

	dims := cfg.Performance.EmbeddingDims
	maxSeq := cfg.Performance.MaxSequenceLength
	_ = pool.Register(embedding.ModelSpec{
		Name:        "fast",
		Path:        filepath.Join(cfg.ModelDir(), "minilm-l6.onnx"),
		Dimensions:  dims,
		MaxTokens:   maxSeq,
		MemoryBytes: 256 << 20,
	})
	_ = pool.Register(embedding.ModelSpec{
		Name:        "accurate",
		Path:        filepath.Join(cfg.ModelDir(), "bge-base.onnx"),
		Dimensions:  dims,
		MaxTokens:   maxSeq,
		MemoryBytes: 1 << 30,
	})
	return pool
}

// remoteProvider returns the configured cloud provider, or nil when the
// remote path is disabled.
func remoteProvider(cfg *config.Config) inference.Provider {
	if !cfg.Cloud.Enabled || cfg.Cloud.APIKey == "" {
		return nil
	}
	switch cfg.Cloud.Provider {
	case "anthropic":
		return inference.NewAnthropicProvider(cfg.Cloud.APIKey, cfg.Cloud.Model)
	default:
		return inference.NewOpenAIProvider(cfg.Cloud.APIKey, cfg.Cloud.Endpoint, cfg.Cloud.Model)
	}
}

// Run starts the long-lived goroutines: servers, watcher, heartbeat,
// session maintenance, and the startup reconciliation scan.
func (e *Engine) Run(ctx context.Context, cfg *config.Config, startupScan bool, logger *zap.Logger) {
	e.Indexer.Start()

	if err := e.Watcher.Start(ctx); err != nil {
		logger.Error("watcher start failed", zap.Error(err))
	}

	go func() {
		if err := e.Heartbeat.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("heartbeat stopped", zap.Error(err))
		}
	}()

	go func() {
		if err := e.AssetServer.Start(); err != nil && ctx.Err() == nil {
			logger.Fatal("asset server failed", zap.Error(err))
		}
	}()
	go func() {
		if err := e.CommandServer.Start(); err != nil && ctx.Err() == nil {
			logger.Fatal("command server failed", zap.Error(err))
		}
	}()

	// Session upkeep: close idle sessions often, decay co-occurrence
	// strengths daily.
	go func() {
		sweep := time.NewTicker(time.Minute)
		decay := time.NewTicker(24 * time.Hour)
		defer sweep.Stop()
		defer decay.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-sweep.C:
				if err := e.Tracker.Sweep(ctx); err != nil {
					logger.Warn("session sweep failed", zap.Error(err))
				}
			case <-decay.C:
				if _, err := e.Tracker.Decay(ctx); err != nil {
					logger.Warn("relation decay failed", zap.Error(err))
				}
			}
		}
	}()

	if startupScan && len(cfg.MonitoredDirectories) > 0 {
		if err := e.Scan.Start(ctx, cfg.MonitoredDirectories, false); err != nil {
			logger.Warn("startup scan failed to start", zap.Error(err))
		}
	}
}

// Close releases storage and model resources.
func (e *Engine) Close(logger *zap.Logger) {
	if err := e.Text.Close(); err != nil {
		logger.Warn("text index close failed", zap.Error(err))
	}
	if err := e.Pool.Close(); err != nil {
		logger.Warn("model pool close failed", zap.Error(err))
	}
	if err := e.Store.Close(); err != nil {
		logger.Warn("store close failed", zap.Error(err))
	}
}
