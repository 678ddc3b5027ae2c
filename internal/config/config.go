// Package config loads and validates the askdocs configuration.
//
// Configuration is resolved in priority order:
//  1. Built-in defaults (spec values)
//  2. Config file (askdocs.yaml in the data dir or an explicit path)
//  3. Environment variables (ASKDOCS_*) - highest priority
package config

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	aerr "github.com/askdocs/askdocs/internal/errors"
)

// TTLMode selects how cache entry expiry is measured.
type TTLMode string

const (
	// TTLModeSliding extends expiry on every access.
	TTLModeSliding TTLMode = "sliding"
	// TTLModeAbsolute expires entries a fixed interval after creation.
	TTLModeAbsolute TTLMode = "absolute"
)

// Config is the complete askdocs configuration.
type Config struct {
	Version    int              `yaml:"version" json:"version"`
	Paths      PathsConfig      `yaml:"paths" json:"paths"`
	Search     SearchConfig     `yaml:"search" json:"search"`
	Embeddings EmbeddingsConfig `yaml:"embeddings" json:"embeddings"`
	Cache      CacheConfig      `yaml:"cache" json:"cache"`
	Reindex    ReindexConfig    `yaml:"reindex" json:"reindex"`
	LLM        LLMConfig        `yaml:"llm" json:"llm"`
	Server     ServerConfig     `yaml:"server" json:"server"`
	Logging    LoggingConfig    `yaml:"logging" json:"logging"`
}

// PathsConfig locates the corpus and index artifacts.
type PathsConfig struct {
	// DocumentsRoot is the root of the PDF tree. Every stored path must
	// resolve under this root; escapes are rejected.
	DocumentsRoot string `yaml:"documents_root" json:"documents_root"`

	// ExtractedDir holds the authoritative .txt bodies, basename-matched
	// to the PDFs. Defaults to <documents_root>/extracted.
	ExtractedDir string `yaml:"extracted_dir" json:"extracted_dir"`

	// DataDir holds index artifacts, caches, and logs.
	DataDir string `yaml:"data_dir" json:"data_dir"`
}

// SearchConfig configures hybrid retrieval.
type SearchConfig struct {
	BM25TopK      int    `yaml:"bm25_top_k" json:"bm25_top_k"`
	VecTopK       int    `yaml:"vec_top_k" json:"vec_top_k"`
	RRFK          int    `yaml:"rrf_k" json:"rrf_k"`
	FinalTopK     int    `yaml:"final_top_k" json:"final_top_k"`
	MinTextLength int    `yaml:"min_text_length" json:"min_text_length"`

	// BM25Backend selects the lexical backend: "sqlite" (FTS5, default)
	// or "bleve".
	BM25Backend string `yaml:"bm25_backend" json:"bm25_backend"`

	// ValidateDrafters checks author-intent extractions against the set of
	// known drafters before boosting. Off by default (preserves the loose
	// extraction behavior).
	ValidateDrafters bool `yaml:"validate_drafters" json:"validate_drafters"`
}

// EmbeddingsConfig configures the embedding provider.
type EmbeddingsConfig struct {
	// Provider is "ollama" or "static".
	Provider   string `yaml:"provider" json:"provider"`
	Model      string `yaml:"model" json:"model"`
	Dimensions int    `yaml:"dimensions" json:"dimensions"`
	BatchSize  int    `yaml:"batch_size" json:"batch_size"`
	OllamaHost string `yaml:"ollama_host" json:"ollama_host"`
}

// CacheConfig configures the two-tier answer cache.
type CacheConfig struct {
	MaxSize     int     `yaml:"max_size" json:"max_size"`
	TTLSeconds  int     `yaml:"ttl_seconds" json:"ttl_seconds"`
	TTLMode     TTLMode `yaml:"ttl_mode" json:"ttl_mode"`
	MaxDBMB     int     `yaml:"max_db_mb" json:"max_db_mb"`
	CleanupProb float64 `yaml:"cleanup_prob" json:"cleanup_prob"`

	// AllowUngroundedChat permits free-form answers when retrieval found
	// nothing. When false, the fixed "no related documents" reply is used.
	AllowUngroundedChat bool `yaml:"allow_ungrounded_chat" json:"allow_ungrounded_chat"`
}

// ReindexConfig configures the reindex lock.
type ReindexConfig struct {
	LockTimeoutSec float64 `yaml:"lock_timeout_sec" json:"lock_timeout_sec"`
	PollMs         int     `yaml:"poll_ms" json:"poll_ms"`
}

// LLMConfig configures the completion service.
type LLMConfig struct {
	Model             string `yaml:"model" json:"model"`
	Host              string `yaml:"host" json:"host"`
	MaxRetry          int    `yaml:"max_retry" json:"max_retry"`
	MaxContextTokens  int    `yaml:"max_context_tokens" json:"max_context_tokens"`
	MaxResponseTokens int    `yaml:"max_response_tokens" json:"max_response_tokens"`
	TimeoutSec        int    `yaml:"timeout_sec" json:"timeout_sec"`
}

// ServerConfig configures the outer service surface.
type ServerConfig struct {
	AllowedOrigins    []string `yaml:"cors_allowed_origins" json:"cors_allowed_origins"`
	TrustProxy        bool     `yaml:"trust_proxy" json:"trust_proxy"`
	AllowedProxyCIDRs []string `yaml:"allowed_proxy_cidrs" json:"allowed_proxy_cidrs"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level     string `yaml:"level" json:"level"`
	File      string `yaml:"file" json:"file"`
	MaxSizeMB int    `yaml:"max_size_mb" json:"max_size_mb"`
	MaxFiles  int    `yaml:"max_files" json:"max_files"`
}

// CurrentConfigVersion is the config schema version this build writes.
const CurrentConfigVersion = 1

// NewConfig returns a Config populated with spec defaults.
func NewConfig() *Config {
	return &Config{
		Version: CurrentConfigVersion,
		Paths: PathsConfig{
			DataDir: ".askdocs",
		},
		Search: SearchConfig{
			BM25TopK:      20,
			VecTopK:       20,
			RRFK:          60,
			FinalTopK:     5,
			MinTextLength: 100,
			BM25Backend:   "sqlite",
		},
		Embeddings: EmbeddingsConfig{
			Provider:   "static",
			Model:      "static-256",
			Dimensions: 256,
			BatchSize:  32,
			OllamaHost: "http://localhost:11434",
		},
		Cache: CacheConfig{
			MaxSize:     500,
			TTLSeconds:  7200,
			TTLMode:     TTLModeSliding,
			MaxDBMB:     256,
			CleanupProb: 0.01,
		},
		Reindex: ReindexConfig{
			LockTimeoutSec: 1.5,
			PollMs:         200,
		},
		LLM: LLMConfig{
			Model:             "qwen2.5:7b",
			Host:              "http://localhost:11434",
			MaxRetry:          1,
			MaxContextTokens:  2000,
			MaxResponseTokens: 1200,
			TimeoutSec:        120,
		},
		Logging: LoggingConfig{
			Level:     "info",
			MaxSizeMB: 10,
			MaxFiles:  5,
		},
	}
}

// Load reads configuration from the given path (optional), applies env
// overrides, and validates. Missing file is not an error when path is empty.
func Load(path string) (*Config, error) {
	cfg := NewConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, aerr.New(aerr.ErrCodeConfigNotFound,
					fmt.Sprintf("config file not found: %s", path), err)
			}
			return nil, aerr.ConfigError("failed to read config file", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, aerr.ConfigError("failed to parse config file", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides applies ASKDOCS_* environment variables.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ASKDOCS_DOCUMENTS_ROOT"); v != "" {
		cfg.Paths.DocumentsRoot = v
	}
	if v := os.Getenv("ASKDOCS_DATA_DIR"); v != "" {
		cfg.Paths.DataDir = v
	}
	if v := os.Getenv("ASKDOCS_BM25_BACKEND"); v != "" {
		cfg.Search.BM25Backend = v
	}
	if v := os.Getenv("ASKDOCS_EMBED_PROVIDER"); v != "" {
		cfg.Embeddings.Provider = v
	}
	if v := os.Getenv("ASKDOCS_OLLAMA_HOST"); v != "" {
		cfg.Embeddings.OllamaHost = v
		cfg.LLM.Host = v
	}
	if v := os.Getenv("ASKDOCS_LLM_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := os.Getenv("ASKDOCS_CACHE_TTL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Cache.TTLSeconds = n
		}
	}
	if v := os.Getenv("ASKDOCS_ALLOW_UNGROUNDED_CHAT"); v != "" {
		cfg.Cache.AllowUngroundedChat = v == "1" || strings.EqualFold(v, "true")
	}
	if v := os.Getenv("ASKDOCS_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks ranges and enum values. All failures are ConfigErrors and
// fatal at startup.
func (c *Config) Validate() error {
	if c.Paths.DocumentsRoot != "" {
		if !filepath.IsAbs(c.Paths.DocumentsRoot) {
			abs, err := filepath.Abs(c.Paths.DocumentsRoot)
			if err != nil {
				return aerr.ConfigError("documents_root cannot be resolved", err)
			}
			c.Paths.DocumentsRoot = abs
		}
	}
	if c.Paths.ExtractedDir == "" && c.Paths.DocumentsRoot != "" {
		c.Paths.ExtractedDir = filepath.Join(c.Paths.DocumentsRoot, "extracted")
	}

	if c.Search.BM25TopK <= 0 || c.Search.BM25TopK > 1000 {
		return aerr.New(aerr.ErrCodeConfigRange,
			fmt.Sprintf("search.bm25_top_k out of range: %d", c.Search.BM25TopK), nil)
	}
	if c.Search.VecTopK <= 0 || c.Search.VecTopK > 1000 {
		return aerr.New(aerr.ErrCodeConfigRange,
			fmt.Sprintf("search.vec_top_k out of range: %d", c.Search.VecTopK), nil)
	}
	if c.Search.RRFK <= 0 {
		return aerr.New(aerr.ErrCodeConfigRange,
			fmt.Sprintf("search.rrf_k must be positive: %d", c.Search.RRFK), nil)
	}
	if c.Search.FinalTopK <= 0 || c.Search.FinalTopK > 100 {
		return aerr.New(aerr.ErrCodeConfigRange,
			fmt.Sprintf("search.final_top_k out of range: %d", c.Search.FinalTopK), nil)
	}
	if c.Search.MinTextLength < 0 {
		return aerr.New(aerr.ErrCodeConfigRange,
			fmt.Sprintf("search.min_text_length must be >= 0: %d", c.Search.MinTextLength), nil)
	}

	switch c.Search.BM25Backend {
	case "sqlite", "bleve":
	default:
		return aerr.New(aerr.ErrCodeConfigEnum,
			fmt.Sprintf("unknown bm25_backend: %q (valid: sqlite, bleve)", c.Search.BM25Backend), nil)
	}

	switch c.Embeddings.Provider {
	case "ollama", "static":
	default:
		return aerr.New(aerr.ErrCodeConfigEnum,
			fmt.Sprintf("unknown embeddings.provider: %q (valid: ollama, static)", c.Embeddings.Provider), nil)
	}

	switch c.Cache.TTLMode {
	case TTLModeSliding, TTLModeAbsolute, "":
		if c.Cache.TTLMode == "" {
			c.Cache.TTLMode = TTLModeSliding
		}
	default:
		return aerr.New(aerr.ErrCodeConfigEnum,
			fmt.Sprintf("unknown cache.ttl_mode: %q (valid: sliding, absolute)", c.Cache.TTLMode), nil)
	}

	if c.Cache.MaxSize < 1 {
		return aerr.New(aerr.ErrCodeConfigRange,
			fmt.Sprintf("cache.max_size must be >= 1: %d", c.Cache.MaxSize), nil)
	}
	if c.Cache.CleanupProb < 0 || c.Cache.CleanupProb > 1 {
		return aerr.New(aerr.ErrCodeConfigRange,
			fmt.Sprintf("cache.cleanup_prob out of range: %f", c.Cache.CleanupProb), nil)
	}
	if c.Reindex.LockTimeoutSec <= 0 {
		return aerr.New(aerr.ErrCodeConfigRange,
			fmt.Sprintf("reindex.lock_timeout_sec must be positive: %f", c.Reindex.LockTimeoutSec), nil)
	}
	if c.Reindex.PollMs <= 0 {
		return aerr.New(aerr.ErrCodeConfigRange,
			fmt.Sprintf("reindex.poll_ms must be positive: %d", c.Reindex.PollMs), nil)
	}
	if c.LLM.MaxRetry < 0 {
		return aerr.New(aerr.ErrCodeConfigRange,
			fmt.Sprintf("llm.max_retry must be >= 0: %d", c.LLM.MaxRetry), nil)
	}

	return nil
}

// LockTimeout returns the reindex lock acquisition timeout.
func (c *Config) LockTimeout() time.Duration {
	return time.Duration(c.Reindex.LockTimeoutSec * float64(time.Second))
}

// LockPoll returns the reindex lock poll interval.
func (c *Config) LockPoll() time.Duration {
	return time.Duration(c.Reindex.PollMs) * time.Millisecond
}

// retrievalAffecting captures the config fields whose change must invalidate
// cached answers. Anything else (logging, server surface) is excluded so that
// operational tweaks do not flush the cache.
type retrievalAffecting struct {
	Search     SearchConfig     `json:"search"`
	Embeddings EmbeddingsConfig `json:"embeddings"`
	LLMModel   string           `json:"llm_model"`
	Ungrounded bool             `json:"allow_ungrounded_chat"`
}

// Hash returns a short hash over retrieval-affecting configuration.
// It is embedded in the cache namespace alongside the index version.
func (c *Config) Hash() string {
	ra := retrievalAffecting{
		Search:     c.Search,
		Embeddings: c.Embeddings,
		LLMModel:   c.LLM.Model,
		Ungrounded: c.Cache.AllowUngroundedChat,
	}
	data, err := json.Marshal(ra)
	if err != nil {
		return "unknown"
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:4])
}

// Save writes the configuration to the given path as YAML.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return aerr.ConfigError("failed to marshal config", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return aerr.ConfigError("failed to create config directory", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return aerr.ConfigError("failed to write config", err)
	}
	return os.Rename(tmp, path)
}
