// Package config provides configuration loading and structs for the docqa server and CLI.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultPath is the config file used when none is given.
const DefaultPath = "config.yaml"

// Provider and backend names accepted in the config file.
const (
	ProviderOpenAI     = "openai"
	ProviderONNX       = "onnx"
	ProviderHash       = "hash"
	ProviderExtractive = "extractive"

	BackendSQLite  = "sqlite"
	BackendChromem = "chromem"

	FusionWeighted = "weighted"
	FusionRRF      = "rrf"
)

// Config holds all configuration for the application.
type Config struct {
	Debug     bool            `yaml:"debug"`
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Documents DocumentsConfig `yaml:"documents"`
	Chunking  ChunkingConfig  `yaml:"chunking"`
	Sync      SyncConfig      `yaml:"sync"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	LLM       LLMConfig       `yaml:"llm"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Watch     WatchConfig     `yaml:"watch"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host               string   `yaml:"host"`
	Port               int      `yaml:"port"`
	AllowedOrigins     []string `yaml:"allowed_origins"`
	RequestTimeoutSecs int      `yaml:"request_timeout_secs"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// RequestTimeout bounds a single HTTP request.
func (s ServerConfig) RequestTimeout() time.Duration {
	return time.Duration(s.RequestTimeoutSecs) * time.Second
}

// StorageConfig holds where and how the index is persisted.
type StorageConfig struct {
	Backend          string `yaml:"backend"`
	IndexDir         string `yaml:"index_dir"`
	CollectionName   string `yaml:"collection_name"`
	KeywordIndexPath string `yaml:"keyword_index_path"`
}

// DatabasePath is the SQLite file inside IndexDir.
func (s StorageConfig) DatabasePath() string {
	return filepath.Join(s.IndexDir, "index.db")
}

// DocumentsConfig describes the data directory.
type DocumentsConfig struct {
	DataDir   string `yaml:"data_dir"`
	Extension string `yaml:"extension"`
}

// ChunkingConfig holds chunk sizes in word units.
type ChunkingConfig struct {
	ChunkSize    int  `yaml:"chunk_size"`
	ChunkOverlap *int `yaml:"chunk_overlap"`
}

// Overlap returns the configured overlap; 50 when unset.
func (c ChunkingConfig) Overlap() int {
	if c.ChunkOverlap != nil {
		return *c.ChunkOverlap
	}
	return defaultChunkOverlap
}

// SyncConfig controls directory synchronization.
type SyncConfig struct {
	SkipUnchanged bool `yaml:"skip_unchanged"`
}

// EmbeddingConfig selects and tunes the embedding provider.
type EmbeddingConfig struct {
	Provider          string  `yaml:"provider"`
	Model             string  `yaml:"model"`
	Dimensions        int     `yaml:"dimensions"`
	BaseURL           string  `yaml:"base_url"`
	APIKeyEnv         string  `yaml:"api_key_env"`
	TimeoutSecs       int     `yaml:"timeout_secs"`
	BatchSize         int     `yaml:"batch_size"`
	CacheSize         int     `yaml:"cache_size"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	ModelPath         string  `yaml:"model_path"`
	MaxTokens         int     `yaml:"max_tokens"`
}

// APIKey reads the key from the environment variable named by APIKeyEnv.
func (e EmbeddingConfig) APIKey() string {
	return os.Getenv(e.APIKeyEnv)
}

// Timeout bounds a single provider call.
func (e EmbeddingConfig) Timeout() time.Duration {
	return time.Duration(e.TimeoutSecs) * time.Second
}

// LLMConfig selects and tunes the answer synthesizer.
type LLMConfig struct {
	Provider     string   `yaml:"provider"`
	Model        string   `yaml:"model"`
	BaseURL      string   `yaml:"base_url"`
	APIKeyEnv    string   `yaml:"api_key_env"`
	Temperature  *float64 `yaml:"temperature"`
	TimeoutSecs  int      `yaml:"timeout_secs"`
	MaxSentences int      `yaml:"max_sentences"`
}

// APIKey reads the key from the environment variable named by APIKeyEnv.
func (l LLMConfig) APIKey() string {
	return os.Getenv(l.APIKeyEnv)
}

// Timeout bounds a single synthesis call.
func (l LLMConfig) Timeout() time.Duration {
	return time.Duration(l.TimeoutSecs) * time.Second
}

// TemperatureOrDefault returns the temperature; 0.1 when unset.
func (l LLMConfig) TemperatureOrDefault() float64 {
	if l.Temperature != nil {
		return *l.Temperature
	}
	return defaultTemperature
}

// RetrievalConfig holds query-time settings.
type RetrievalConfig struct {
	DefaultMaxResults int     `yaml:"default_max_results"`
	ExcerptLength     int     `yaml:"excerpt_length"`
	Hybrid            bool    `yaml:"hybrid"`
	Fusion            string  `yaml:"fusion"`
	KeywordWeight     float64 `yaml:"keyword_weight"`
	SemanticWeight    float64 `yaml:"semantic_weight"`
	Candidates        int     `yaml:"candidates"`
	RRFK              int     `yaml:"rrf_k"`
	KeywordFuzziness  int     `yaml:"keyword_fuzziness"`
}

// WatchConfig holds data directory watch settings.
type WatchConfig struct {
	Enabled    bool `yaml:"enabled"`
	DebounceMs int  `yaml:"debounce_ms"`
}

// Debounce returns the debounce interval.
func (w WatchConfig) Debounce() time.Duration {
	return time.Duration(w.DebounceMs) * time.Millisecond
}

// Load reads and parses the config file at path, loads .env files, expands
// paths, and applies defaults. A missing file yields the defaults with paths
// resolved against the file's directory.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path: %w", err)
	}
	configDir := filepath.Dir(abs)
	if err := loadEnv(filepath.Join(configDir, ".env"), ".env"); err != nil {
		return nil, err
	}

	var cfg Config
	data, err := os.ReadFile(abs)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("failed to read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	ApplyDefaults(&cfg)

	cfg.Storage.IndexDir = expandPath(cfg.Storage.IndexDir, configDir)
	if cfg.Storage.KeywordIndexPath == "" {
		cfg.Storage.KeywordIndexPath = filepath.Join(cfg.Storage.IndexDir, "keyword.bleve")
	} else {
		cfg.Storage.KeywordIndexPath = expandPath(cfg.Storage.KeywordIndexPath, configDir)
	}
	cfg.Documents.DataDir = expandPath(cfg.Documents.DataDir, configDir)
	if cfg.Embedding.ModelPath != "" {
		cfg.Embedding.ModelPath = expandPath(cfg.Embedding.ModelPath, configDir)
	}
	if base := os.Getenv("OPENAI_BASE_URL"); base != "" {
		cfg.Embedding.BaseURL = base
		cfg.LLM.BaseURL = base
	}
	return &cfg, nil
}

// loadEnv loads each existing .env file. Variables already set win.
func loadEnv(paths ...string) error {
	seen := make(map[string]bool)
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil || seen[abs] {
			continue
		}
		seen[abs] = true
		if _, err := os.Stat(abs); err != nil {
			continue
		}
		if err := godotenv.Load(abs); err != nil {
			return fmt.Errorf("failed to load %s: %w", abs, err)
		}
	}
	return nil
}

// Save writes the config to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// Validate reports the first setting that cannot work.
func (c *Config) Validate() error {
	if c.Chunking.ChunkSize <= 0 {
		return fmt.Errorf("chunking.chunk_size must be positive, got %d", c.Chunking.ChunkSize)
	}
	if o := c.Chunking.Overlap(); o < 0 || o >= c.Chunking.ChunkSize {
		return fmt.Errorf("chunking.chunk_overlap must be in [0, %d), got %d", c.Chunking.ChunkSize, o)
	}
	if strings.TrimSpace(c.Documents.Extension) == "" {
		return errors.New("documents.extension must not be empty")
	}
	switch c.Storage.Backend {
	case BackendSQLite, BackendChromem:
	default:
		return fmt.Errorf("unknown storage.backend %q", c.Storage.Backend)
	}
	if c.Embedding.Dimensions <= 0 {
		return fmt.Errorf("embedding.dimensions must be positive, got %d", c.Embedding.Dimensions)
	}
	switch c.Embedding.Provider {
	case ProviderOpenAI:
		if c.Embedding.APIKey() == "" {
			return fmt.Errorf("embedding provider openai requires %s to be set", c.Embedding.APIKeyEnv)
		}
	case ProviderONNX:
		if c.Embedding.ModelPath == "" {
			return errors.New("embedding provider onnx requires embedding.model_path")
		}
	case ProviderHash:
	default:
		return fmt.Errorf("unknown embedding.provider %q", c.Embedding.Provider)
	}
	switch c.LLM.Provider {
	case ProviderOpenAI:
		if c.LLM.APIKey() == "" {
			return fmt.Errorf("llm provider openai requires %s to be set", c.LLM.APIKeyEnv)
		}
	case ProviderExtractive:
	default:
		return fmt.Errorf("unknown llm.provider %q", c.LLM.Provider)
	}
	switch c.Retrieval.Fusion {
	case FusionWeighted, FusionRRF:
	default:
		return fmt.Errorf("unknown retrieval.fusion %q", c.Retrieval.Fusion)
	}
	if c.Retrieval.DefaultMaxResults < 1 || c.Retrieval.DefaultMaxResults > 20 {
		return fmt.Errorf("retrieval.default_max_results must be in [1, 20], got %d", c.Retrieval.DefaultMaxResults)
	}
	return nil
}

// expandPath converts a path to absolute. "~/" is relative to the home
// directory; other relative paths are relative to configDir.
func expandPath(path string, configDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
		return path
	}
	return filepath.Join(configDir, path)
}
