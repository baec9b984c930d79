// Package config loads and persists the engine configuration from
// config.json in the data directory.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Config holds all engine configuration.
type Config struct {
	DataDir              string            `json:"data_dir,omitempty"`
	Debug                bool              `json:"debug,omitempty"`
	MonitoredDirectories []string          `json:"monitored_directories"`
	Cloud                CloudConfig       `json:"cloud"`
	Performance          PerformanceConfig `json:"performance"`
	Privacy              PrivacyConfig     `json:"privacy"`
	UI                   UIConfig          `json:"ui"`
	Server               ServerConfig      `json:"server"`
	Indexer              IndexerConfig     `json:"indexer"`
	Search               SearchConfig      `json:"search"`
	Watchdog             WatchdogConfig    `json:"watchdog"`
}

// CloudConfig controls the remote inference path.
type CloudConfig struct {
	Enabled           bool    `json:"enabled"`
	Provider          string  `json:"provider,omitempty"` // "openai" or "anthropic"
	Endpoint          string  `json:"endpoint,omitempty"`
	APIKey            string  `json:"api_key,omitempty"` // sensitive; never logged
	Model             string  `json:"model,omitempty"`
	MonthlyCostLimit  float64 `json:"monthly_cost_limit"`
	RequestsPerMinute int     `json:"requests_per_minute"`
	RemoteWaitMs      int     `json:"remote_wait_ms"`
	CacheTTLSecs      int     `json:"cache_ttl_secs"`
}

// PerformanceConfig bounds resource usage.
type PerformanceConfig struct {
	MaxVRAMMB          int  `json:"max_vram_mb"`
	IndexingThreads    int  `json:"indexing_threads"`
	EmbeddingBatchSize int  `json:"embedding_batch_size"`
	EnableCUDA         bool `json:"enable_cuda"`
	FastInferenceMode  bool `json:"fast_inference_mode"`
	EmbeddingDims      int  `json:"embedding_dims"`
	MaxSequenceLength  int  `json:"max_sequence_length"`
}

// PrivacyConfig controls what leaves the machine and what is indexed.
type PrivacyConfig struct {
	PrivacyMode         bool     `json:"privacy_mode"`
	ExcludedDirectories []string `json:"excluded_directories,omitempty"`
	ExcludedPatterns    []string `json:"excluded_patterns,omitempty"`
	SensitivePatterns   []string `json:"sensitive_patterns,omitempty"`
	Telemetry           bool     `json:"telemetry"`
}

// UIConfig is passed through to the shell; the engine only reads
// ThumbnailSize.
type UIConfig struct {
	Theme            string `json:"theme"`
	Language         string `json:"language"`
	EnableAnimations bool   `json:"enable_animations"`
	ShowExtensions   bool   `json:"show_extensions"`
	DefaultView      string `json:"default_view"`
	ThumbnailSize    string `json:"thumbnail_size"` // small, medium, large
}

// ServerConfig holds the loopback command and asset server ports.
type ServerConfig struct {
	CommandPort int `json:"command_port"`
	AssetPort   int `json:"asset_port"`
}

// IndexerConfig tunes the resilient indexing pipeline.
type IndexerConfig struct {
	MaxConcurrent     int `json:"max_concurrent"`
	TaskTimeoutSecs   int `json:"task_timeout_secs"`
	BatchSize         int `json:"batch_size"`
	MaxRetries        int `json:"max_retries"`
	FileLockRetrySecs int `json:"file_lock_retry_secs"`
	DeadLetterCap     int `json:"dead_letter_cap"`
	QueueCap          int `json:"queue_cap"`
	MaxFileSizeMB     int `json:"max_file_size_mb"`
	MaxDepth          int `json:"max_depth"`
	PerDirFileCap     int `json:"per_dir_file_cap"`
	DebounceMs        int `json:"debounce_ms"`
}

// SearchConfig tunes hybrid retrieval.
type SearchConfig struct {
	TopKCandidates     int     `json:"top_k_candidates"`
	DefaultVectorWt    float64 `json:"default_vector_weight"`
	DefaultBM25Wt      float64 `json:"default_bm25_weight"`
	FilenameMatchBoost float64 `json:"filename_match_boost"`
	ExactMatchBoost    float64 `json:"exact_match_boost"`
	QueryTimeoutMs     int     `json:"query_timeout_ms"`
	ClarityThreshold   float64 `json:"clarity_threshold"`
}

// WatchdogConfig tunes process supervision.
type WatchdogConfig struct {
	HeartbeatIntervalMs int `json:"heartbeat_interval_ms"`
	HeartbeatTimeoutSec int `json:"heartbeat_timeout_secs"`
	MaxRestartAttempts  int `json:"max_restart_attempts"`
	RestartCooldownSec  int `json:"restart_cooldown_secs"`
}

// Load reads config.json at path, applies defaults, and expands paths.
// A missing file yields the defaults with DataDir derived from path.
func Load(path string) (*Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		// First run: defaults only.
	case err != nil:
		return nil, fmt.Errorf("read config: %w", err)
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	if cfg.DataDir == "" {
		cfg.DataDir = filepath.Dir(path)
	}
	ApplyDefaults(&cfg)
	cfg.DataDir = expandPath(cfg.DataDir)
	for i := range cfg.MonitoredDirectories {
		cfg.MonitoredDirectories[i] = expandPath(cfg.MonitoredDirectories[i])
	}
	for i := range cfg.Privacy.ExcludedDirectories {
		cfg.Privacy.ExcludedDirectories[i] = expandPath(cfg.Privacy.ExcludedDirectories[i])
	}
	return &cfg, nil
}

// Save writes the config as indented JSON. Mode 0600: the file carries the
// cloud API key.
func Save(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Redacted returns a copy safe for logging and the get_config command:
// the API key is masked.
func (c *Config) Redacted() *Config {
	out := *c
	if out.Cloud.APIKey != "" {
		out.Cloud.APIKey = "********"
	}
	return &out
}

// Paths into the data directory.

func (c *Config) DatabasePath() string  { return filepath.Join(c.DataDir, "metadata.db") }
func (c *Config) VectorDir() string     { return filepath.Join(c.DataDir, "vectors") }
func (c *Config) TextIndexDir() string  { return filepath.Join(c.DataDir, "text_index") }
func (c *Config) ThumbnailDir() string  { return filepath.Join(c.DataDir, "thumbnails") }
func (c *Config) ModelDir() string      { return filepath.Join(c.DataDir, "models") }
func (c *Config) LogDir() string        { return filepath.Join(c.DataDir, "logs") }
func (c *Config) HeartbeatPath() string { return filepath.Join(c.DataDir, "heartbeat") }
func (c *Config) WatchdogSocket() string { return filepath.Join(c.DataDir, "watchdog.sock") }

// expandPath expands a leading ~ and makes relative paths absolute under
// the home directory.
func expandPath(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if path == "~" {
		return home
	}
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(home, path[2:])
	}
	return filepath.Join(home, path)
}
