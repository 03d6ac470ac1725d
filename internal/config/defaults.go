package config

import (
	"runtime"
	"time"
)

// Defaults returns a fully populated default config.
func Defaults() Config {
	cfg := zeroableDefaults()
	ApplyDefaults(&cfg)
	return cfg
}

// zeroableDefaults holds the defaults of fields where 0 is a valid setting: the
// ranking weights, the term score, the debounce window (0 disables it) and the
// request rate (0 disables limiting). Config files are decoded on top of it so an
// explicit 0 is kept.
func zeroableDefaults() Config {
	return Config{
		Fetch:  FetchConfig{RequestsPerSecond: 4},
		Search: DefaultSearchConfig(),
	}
}

// ApplyDefaults sets default values for zero fields where 0 means unset. Fields
// whose zero value is meaningful are left alone; see Defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8484
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = ".kioku/pages.db"
	}
	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = ProviderONNX
	}
	if cfg.Embedding.ModelPath == "" {
		cfg.Embedding.ModelPath = ".kioku/models/all-MiniLM-L6-v2.onnx"
	}
	if cfg.Embedding.Model == "" {
		switch cfg.Embedding.Provider {
		case ProviderOllama:
			cfg.Embedding.Model = "nomic-embed-text"
		default:
			cfg.Embedding.Model = "text-embedding-3-small"
		}
	}
	if cfg.Embedding.BaseURL == "" && cfg.Embedding.Provider == ProviderOllama {
		cfg.Embedding.BaseURL = "http://localhost:11434/v1"
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = 384
	}
	if cfg.Embedding.MaxTokens == 0 {
		cfg.Embedding.MaxTokens = 256
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 1000
	}
	if cfg.Fetch.MaxContentChars == 0 {
		cfg.Fetch.MaxContentChars = 2000
	}
	if cfg.Fetch.Timeout == 0 {
		cfg.Fetch.Timeout = 15 * time.Second
	}
	if cfg.Fetch.Burst == 0 {
		cfg.Fetch.Burst = 4
	}
	if cfg.Fetch.UserAgent == "" {
		cfg.Fetch.UserAgent = "kioku/1.0 (+bookmark indexer)"
	}
	if cfg.Ingest.Workers <= 0 {
		cfg.Ingest.Workers = 1
	}
	if cfg.Search.ScoreCap <= 0 {
		cfg.Search.ScoreCap = 1.0
	}
	if cfg.Search.MaxResults <= 0 {
		cfg.Search.MaxResults = 10
	}
	if cfg.Source.Type == "" {
		cfg.Source.Type = SourceChrome
	}
	if cfg.Source.Path == "" && cfg.Source.Type == SourceChrome {
		cfg.Source.Path = chromeBookmarksPath()
	}
}

// DefaultSearchConfig returns the standard ranking constants.
func DefaultSearchConfig() SearchConfig {
	return SearchConfig{
		SemanticWeight:   0.6,
		KeywordWeight:    0.4,
		KeywordTermScore: 0.5,
		ScoreCap:         1.0,
		MaxResults:       10,
		DebounceWindow:   300 * time.Millisecond,
	}
}

// chromeBookmarksPath is relative to the home directory.
func chromeBookmarksPath() string {
	switch runtime.GOOS {
	case "darwin":
		return "Library/Application Support/Google/Chrome/Default/Bookmarks"
	case "windows":
		return "AppData/Local/Google/Chrome/User Data/Default/Bookmarks"
	default:
		return ".config/google-chrome/Default/Bookmarks"
	}
}
