// Package main is the Kioku CLI entry point.
package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hyperjump/kioku/internal/config"
	"github.com/hyperjump/kioku/internal/embedding"
	"github.com/hyperjump/kioku/internal/fetch"
	"github.com/hyperjump/kioku/internal/ingest"
	"github.com/hyperjump/kioku/internal/metrics"
	"github.com/hyperjump/kioku/internal/search"
	"github.com/hyperjump/kioku/internal/storage"
	"github.com/hyperjump/kioku/pkg/utils"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/kioku/config.yaml"

// globalFlags are the persistent flags shared by every command.
type globalFlags struct {
	configPath string
	debug      bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:          "kioku",
		Short:        "Semantic search over your browser bookmarks",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// A missing .env is fine.
			_ = godotenv.Load()
			return nil
		},
	}
	root.PersistentFlags().StringVar(&g.configPath, "config", defaultConfigPath, "config file path")
	root.PersistentFlags().BoolVar(&g.debug, "debug", false, "enable debug logging")

	root.AddCommand(
		newServeCmd(g),
		newIngestCmd(g),
		newSearchCmd(g),
		newRecentCmd(g),
		newStatusCmd(g),
		newVersionCmd(),
	)
	return root
}

// loadConfig loads config from path. When path is the default, it first looks for
// config.yaml in the current directory (for development), and when neither file
// exists it falls back to built-in defaults. Returns the config and the path that
// was loaded, empty for defaults.
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
		if _, statErr := os.Stat(path); errors.Is(statErr, os.ErrNotExist) {
			cfg, err := config.Default()
			if err != nil {
				return nil, "", err
			}
			return cfg, "", nil
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

// setup loads config and builds a logger. Long-running commands log JSON in
// production mode; one-shot commands log warnings to stderr only.
func setup(g *globalFlags, longRunning bool) (*config.Config, *zap.Logger, error) {
	cfg, resolved, err := loadConfig(g.configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	if g.debug {
		cfg.Debug = true
	}
	var logger *zap.Logger
	if longRunning {
		logger, err = utils.NewLogger(cfg.Debug)
	} else {
		logger, err = utils.NewCLILogger(cfg.Debug)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create logger: %w", err)
	}
	logger.Debug("config loaded",
		zap.String("config_path", resolved),
		zap.String("database_path", cfg.Storage.DatabasePath),
		zap.String("embedding_provider", cfg.Embedding.Provider),
	)
	return cfg, logger, nil
}

// Components holds initialized services.
type Components struct {
	Storage  *storage.SQLiteStorage
	Embedder *embedding.Lazy
	Metrics  *metrics.Collector
	Engine   *search.Engine
	Pipeline *ingest.Pipeline
}

func (c *Components) Close() {
	if c.Embedder != nil {
		_ = c.Embedder.Close()
	}
	if c.Storage != nil {
		_ = c.Storage.Close()
	}
}

// initializeComponents wires storage, the (uninitialized) embedding provider,
// the fetchers, the ingestion pipeline and the search engine. The caller decides
// when to call Embedder.Init.
func initializeComponents(cfg *config.Config, logger *zap.Logger, pipelineOpts ...ingest.Option) (*Components, error) {
	store, err := storage.NewSQLiteStorage(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	embedder, err := embedding.New(cfg.Embedding, logger)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to configure embedding provider: %w", err)
	}

	collector := metrics.New()
	fetcher := fetch.NewRouter(
		fetch.NewHTTPFetcher(cfg.Fetch, fetch.WithLogger(logger)),
		fetch.NewFileFetcher(cfg.Fetch.MaxContentChars),
	)

	opts := append([]ingest.Option{
		ingest.WithLogger(logger),
		ingest.WithMetrics(collector),
	}, pipelineOpts...)
	pipeline := ingest.NewPipeline(store, embedder, fetcher, cfg.Ingest, opts...)

	engine := search.NewEngine(store, embedder, cfg.Search,
		search.WithLogger(logger),
		search.WithMetrics(collector),
	)

	return &Components{
		Storage:  store,
		Embedder: embedder,
		Metrics:  collector,
		Engine:   engine,
		Pipeline: pipeline,
	}, nil
}
