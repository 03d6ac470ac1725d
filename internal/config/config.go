// Package config provides configuration loading and structs for the kioku server.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug     bool            `yaml:"debug"`
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Fetch     FetchConfig     `yaml:"fetch"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Search    SearchConfig    `yaml:"search"`
	Source    SourceConfig    `yaml:"source"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// StorageConfig holds the page database location.
type StorageConfig struct {
	DatabasePath string `yaml:"database_path"`
}

// Embedding providers.
const (
	ProviderONNX   = "onnx"
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"
	ProviderMock   = "mock"
)

// EmbeddingConfig selects and configures the embedding provider.
type EmbeddingConfig struct {
	Provider   string `yaml:"provider"`
	ModelPath  string `yaml:"model_path"` // onnx
	Model      string `yaml:"model"`      // openai, ollama
	BaseURL    string `yaml:"base_url"`
	APIKey     string `yaml:"api_key"`
	Dimensions int    `yaml:"dimensions"`
	MaxTokens  int    `yaml:"max_tokens"`
	CacheSize  int    `yaml:"cache_size"`
}

// FetchConfig holds page download settings.
type FetchConfig struct {
	MaxContentChars   int           `yaml:"max_content_chars"`
	Timeout           time.Duration `yaml:"timeout"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Burst             int           `yaml:"burst"`
	UserAgent         string        `yaml:"user_agent"`
}

// IngestConfig holds ingestion pipeline settings.
type IngestConfig struct {
	// Workers is the number of items processed concurrently; 1 is sequential.
	Workers int `yaml:"workers"`
}

// SearchConfig holds the ranking constants and query debounce window.
type SearchConfig struct {
	SemanticWeight   float64       `yaml:"semantic_weight"`
	KeywordWeight    float64       `yaml:"keyword_weight"`
	KeywordTermScore float64       `yaml:"keyword_term_score"`
	ScoreCap         float64       `yaml:"score_cap"`
	MaxResults       int           `yaml:"max_results"`
	DebounceWindow   time.Duration `yaml:"debounce_window"`
}

// Bookmark source types.
const (
	SourceChrome   = "chrome"
	SourceNetscape = "netscape"
)

// SourceConfig describes where bookmarks are read from.
type SourceConfig struct {
	Type  string `yaml:"type"`
	Path  string `yaml:"path"`
	Watch bool   `yaml:"watch"` // re-ingest when the file changes (serve only)
}

// Load reads and parses the config file at path, applies defaults, environment
// overrides, and expands paths. Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := zeroableDefaults()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)
	if err := ApplyEnv(&cfg); err != nil {
		return nil, err
	}
	expandPaths(&cfg, filepath.Dir(path))
	return &cfg, nil
}

// Default returns a config built from defaults and environment overrides only.
func Default() (*Config, error) {
	cfg := Defaults()
	if err := ApplyEnv(&cfg); err != nil {
		return nil, err
	}
	wd, err := os.Getwd()
	if err != nil {
		wd = "."
	}
	expandPaths(&cfg, wd)
	return &cfg, nil
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

// Environment variables that override file values.
const (
	EnvDebug             = "KIOKU_DEBUG"
	EnvDatabasePath      = "KIOKU_DATABASE_PATH"
	EnvEmbeddingProvider = "KIOKU_EMBEDDING_PROVIDER"
	EnvEmbeddingBaseURL  = "KIOKU_EMBEDDING_BASE_URL"
	EnvOpenAIAPIKey      = "KIOKU_OPENAI_API_KEY"
	EnvSourcePath        = "KIOKU_SOURCE_PATH"
)

// ApplyEnv overlays KIOKU_* environment variables onto cfg.
func ApplyEnv(cfg *Config) error {
	if v := os.Getenv(EnvDebug); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvDebug, err)
		}
		cfg.Debug = b
	}
	if v := os.Getenv(EnvDatabasePath); v != "" {
		cfg.Storage.DatabasePath = v
	}
	if v := os.Getenv(EnvEmbeddingProvider); v != "" {
		cfg.Embedding.Provider = strings.ToLower(v)
	}
	if v := os.Getenv(EnvEmbeddingBaseURL); v != "" {
		cfg.Embedding.BaseURL = v
	}
	if v := os.Getenv(EnvOpenAIAPIKey); v != "" {
		cfg.Embedding.APIKey = v
	}
	if v := os.Getenv(EnvSourcePath); v != "" {
		cfg.Source.Path = v
	}
	return nil
}

func expandPaths(cfg *Config, configDir string) {
	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	cfg.Embedding.ModelPath = expandPath(cfg.Embedding.ModelPath, configDir)
	cfg.Source.Path = expandPath(cfg.Source.Path, configDir)
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory. Empty and ":memory:" are returned as is.
func expandPath(path string, configDir string) string {
	if path == "" || path == ":memory:" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if strings.HasPrefix(path, "~/") {
		path = path[2:]
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
