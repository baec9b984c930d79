package config

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Cloud.MonthlyCostLimit == 0 {
		cfg.Cloud.MonthlyCostLimit = 10.0
	}
	if cfg.Cloud.RequestsPerMinute == 0 {
		cfg.Cloud.RequestsPerMinute = 20
	}
	if cfg.Cloud.Provider == "" {
		cfg.Cloud.Provider = "openai"
	}
	if cfg.Cloud.RemoteWaitMs == 0 {
		cfg.Cloud.RemoteWaitMs = 500
	}
	if cfg.Cloud.CacheTTLSecs == 0 {
		cfg.Cloud.CacheTTLSecs = 300
	}
	if cfg.Performance.MaxVRAMMB == 0 {
		cfg.Performance.MaxVRAMMB = 4096
	}
	if cfg.Performance.IndexingThreads == 0 {
		cfg.Performance.IndexingThreads = 4
	}
	if cfg.Performance.EmbeddingBatchSize == 0 {
		cfg.Performance.EmbeddingBatchSize = 32
	}
	if cfg.Performance.EmbeddingDims == 0 {
		cfg.Performance.EmbeddingDims = 384
	}
	if cfg.Performance.MaxSequenceLength == 0 {
		cfg.Performance.MaxSequenceLength = 256
	}
	if cfg.UI.Theme == "" {
		cfg.UI.Theme = "dark"
	}
	if cfg.UI.Language == "" {
		cfg.UI.Language = "zh-CN"
	}
	if cfg.UI.DefaultView == "" {
		cfg.UI.DefaultView = "grid"
	}
	if cfg.UI.ThumbnailSize == "" {
		cfg.UI.ThumbnailSize = "medium"
	}
	if cfg.Server.CommandPort == 0 {
		cfg.Server.CommandPort = 8417
	}
	if cfg.Server.AssetPort == 0 {
		cfg.Server.AssetPort = 8418
	}
	if cfg.Indexer.MaxConcurrent == 0 {
		cfg.Indexer.MaxConcurrent = 4
	}
	if cfg.Indexer.TaskTimeoutSecs == 0 {
		cfg.Indexer.TaskTimeoutSecs = 60
	}
	if cfg.Indexer.BatchSize == 0 {
		cfg.Indexer.BatchSize = 10
	}
	if cfg.Indexer.MaxRetries == 0 {
		cfg.Indexer.MaxRetries = 5
	}
	if cfg.Indexer.FileLockRetrySecs == 0 {
		cfg.Indexer.FileLockRetrySecs = 5
	}
	if cfg.Indexer.DeadLetterCap == 0 {
		cfg.Indexer.DeadLetterCap = 1000
	}
	if cfg.Indexer.QueueCap == 0 {
		cfg.Indexer.QueueCap = 10000
	}
	if cfg.Indexer.MaxFileSizeMB == 0 {
		cfg.Indexer.MaxFileSizeMB = 500
	}
	if cfg.Indexer.MaxDepth == 0 {
		cfg.Indexer.MaxDepth = 20
	}
	if cfg.Indexer.PerDirFileCap == 0 {
		cfg.Indexer.PerDirFileCap = 10000
	}
	if cfg.Indexer.DebounceMs == 0 {
		cfg.Indexer.DebounceMs = 200
	}
	if cfg.Search.TopKCandidates == 0 {
		cfg.Search.TopKCandidates = 100
	}
	if cfg.Search.DefaultVectorWt == 0 && cfg.Search.DefaultBM25Wt == 0 {
		cfg.Search.DefaultVectorWt = 0.6
		cfg.Search.DefaultBM25Wt = 0.4
	}
	if cfg.Search.FilenameMatchBoost == 0 {
		cfg.Search.FilenameMatchBoost = 1.5
	}
	if cfg.Search.ExactMatchBoost == 0 {
		cfg.Search.ExactMatchBoost = 2.0
	}
	if cfg.Search.QueryTimeoutMs == 0 {
		cfg.Search.QueryTimeoutMs = 2000
	}
	if cfg.Search.ClarityThreshold == 0 {
		cfg.Search.ClarityThreshold = 0.05
	}
	if cfg.Watchdog.HeartbeatIntervalMs == 0 {
		cfg.Watchdog.HeartbeatIntervalMs = 1000
	}
	if cfg.Watchdog.HeartbeatTimeoutSec == 0 {
		cfg.Watchdog.HeartbeatTimeoutSec = 5
	}
	if cfg.Watchdog.MaxRestartAttempts == 0 {
		cfg.Watchdog.MaxRestartAttempts = 3
	}
	if cfg.Watchdog.RestartCooldownSec == 0 {
		cfg.Watchdog.RestartCooldownSec = 10
	}
}
