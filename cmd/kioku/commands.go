package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hyperjump/kioku/internal/bookmarks"
	"github.com/hyperjump/kioku/internal/cli"
	"github.com/hyperjump/kioku/internal/config"
	"github.com/hyperjump/kioku/internal/ingest"
	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/internal/search"
	"github.com/hyperjump/kioku/internal/server"
	"github.com/hyperjump/kioku/internal/storage"
	"github.com/hyperjump/kioku/internal/watcher"
)

const (
	embedderInitTimeout = 2 * time.Minute
	shutdownTimeout     = 10 * time.Second
	defaultRecentCount  = 10
)

func newServeCmd(g *globalFlags) *cobra.Command {
	var ingestOnStart bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API, and watch the bookmark file when configured",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(g, ingestOnStart)
		},
	}
	cmd.Flags().BoolVar(&ingestOnStart, "ingest", false, "ingest the bookmark source once the embedding provider is ready")
	return cmd
}

func runServe(g *globalFlags, ingestOnStart bool) error {
	cfg, logger, err := setup(g, true)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	components, err := initializeComponents(cfg, logger)
	if err != nil {
		return err
	}
	defer components.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	src, srcErr := bookmarks.Open(cfg.Source)
	if srcErr != nil {
		logger.Warn("bookmark source unavailable, ingestion disabled", zap.Error(srcErr))
	}

	trigger := newIngestTrigger(ctx, func(ctx context.Context, reason string) error {
		report, err := components.Pipeline.RunSource(ctx, src)
		switch {
		case errors.Is(err, ingest.ErrRunInProgress):
			logger.Debug("ingestion already running, will retry", zap.String("trigger", reason))
		case err != nil:
			logger.Error("ingestion failed", zap.String("trigger", reason), zap.Error(err))
		default:
			logger.Info("ingestion finished",
				zap.String("trigger", reason),
				zap.Int("embedded", report.Embedded),
				zap.Int("skipped", report.Skipped),
				zap.Int("failed", report.Failed))
		}
		return err
	}, logger)
	defer func() {
		cancel()
		trigger.Wait()
	}()

	// The model can take a while to load; search runs keyword-only until it is
	// ready, and ingestion requests wait for it.
	go func() {
		initCtx, initCancel := context.WithTimeout(ctx, embedderInitTimeout)
		defer initCancel()
		if err := components.Embedder.Init(initCtx); err != nil {
			if src != nil {
				logger.Warn("embedding provider unavailable, ingestion disabled", zap.Error(err))
			}
			return
		}
		if src != nil && ingestOnStart {
			trigger.Request("startup")
		}
		trigger.Ready()
	}()

	if src != nil && cfg.Source.Watch {
		w := watcher.NewWatcher([]string{cfg.Source.Path}, func(path string) {
			logger.Info("bookmark file changed", zap.String("path", path))
			trigger.Request("watch")
		}, watcher.WithLogger(logger))
		if err := w.Start(ctx); err != nil {
			logger.Warn("failed to watch bookmark file", zap.String("path", cfg.Source.Path), zap.Error(err))
		} else {
			defer w.Stop()
		}
	}

	opts := []server.Option{
		server.WithEmbedderStatus(components.Embedder),
		server.WithMetrics(components.Metrics),
	}
	if src != nil {
		opts = append(opts, server.WithIngester(components.Pipeline, src))
	}
	srv := server.NewServer(components.Engine, components.Storage, cfg, logger, opts...)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sigChan:
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	}

	logger.Info("Shutting down...")
	cancel()
	stopCtx, stopCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stopCancel()
	return srv.Stop(stopCtx)
}

func newIngestCmd(g *globalFlags) *cobra.Command {
	var (
		sourcePath string
		sourceType string
		jsonOut    bool
	)
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Fetch, embed and store every bookmark in the source",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(g, false)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			if sourcePath != "" {
				cfg.Source.Path = sourcePath
			}
			if sourceType != "" {
				cfg.Source.Type = sourceType
			}
			src, err := bookmarks.Open(cfg.Source)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			var opts []ingest.Option
			if !jsonOut {
				opts = append(opts, ingest.WithProgress(cli.ProgressPrinter(cmd.ErrOrStderr())))
			}
			components, err := initializeComponents(cfg, logger, opts...)
			if err != nil {
				return err
			}
			defer components.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if err := components.Embedder.Init(ctx); err != nil {
				return fmt.Errorf("embedding provider unavailable: %w", err)
			}
			report, err := components.Pipeline.RunSource(ctx, src)
			if err != nil {
				return fmt.Errorf("ingestion failed: %w", err)
			}
			return cli.WriteIngestReport(out, report, outputFormat(jsonOut))
		},
	}
	cmd.Flags().StringVar(&sourcePath, "source", "", "bookmark file to ingest (default from config)")
	cmd.Flags().StringVar(&sourceType, "type", "", "bookmark file type: chrome or netscape (default from config)")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "print the run report as JSON")
	return cmd
}

func newSearchCmd(g *globalFlags) *cobra.Command {
	var (
		interactive bool
		jsonOut     bool
		limit       int
		serverURL   string
	)
	cmd := &cobra.Command{
		Use:   "search [flags] <query>",
		Short: "Search indexed bookmarks",
		Long: `Search indexed bookmarks by meaning and by keyword.

The query is all remaining arguments joined by spaces, so multi-word queries
work with or without quotes. With -i, queries are read from stdin one per line
and only the latest one is answered once input pauses.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			query := buildSearchQuery(args)
			if !interactive && query == "" {
				return errors.New("query is required")
			}
			format := outputFormat(jsonOut)
			out := cmd.OutOrStdout()

			if serverURL != "" && !interactive {
				resp, err := searchViaHTTP(serverURL, &models.SearchQuery{Query: query, Limit: limit})
				if err != nil {
					return fmt.Errorf("search failed: %w", err)
				}
				return cli.WriteSearchResults(out, resp, format)
			}

			cfg, logger, err := setup(g, false)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			components, err := initializeComponents(cfg, logger)
			if err != nil {
				return err
			}
			defer components.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if err := components.Embedder.Init(ctx); err != nil {
				logger.Debug("embedding provider unavailable, searching by keyword only", zap.Error(err))
			}

			if interactive {
				return runInteractive(ctx, components.Engine, cfg.Search, cmd.InOrStdin(), out, format)
			}
			resp, err := components.Engine.Query(ctx, &models.SearchQuery{Query: query, Limit: limit})
			if err != nil {
				return fmt.Errorf("search failed: %w", err)
			}
			return cli.WriteSearchResults(out, resp, format)
		},
	}
	cmd.Flags().BoolVarP(&interactive, "interactive", "i", false, "read queries from stdin, debounced")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "print results as JSON")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "maximum number of results (default from config)")
	cmd.Flags().StringVar(&serverURL, "server", "", "query a running kioku server instead of the local database")
	return cmd
}

// buildSearchQuery joins all positional args with spaces so multi-word queries
// work the same with or without shell quoting.
func buildSearchQuery(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

func outputFormat(jsonOut bool) cli.OutputFormat {
	if jsonOut {
		return cli.OutputJSON
	}
	return cli.OutputText
}

// runInteractive feeds each input line to a debouncer and prints the results of
// the queries that survive it. Superseded queries print nothing.
func runInteractive(ctx context.Context, searcher search.Searcher, cfg config.SearchConfig, in io.Reader, out io.Writer, format cli.OutputFormat) error {
	d := search.NewDebouncer(searcher, cfg.DebounceWindow)
	defer d.Close()

	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		query := strings.TrimSpace(scanner.Text())
		if query == "" {
			continue
		}
		task := d.Submit(ctx, query)
		wg.Add(1)
		go func() {
			defer wg.Done()
			start := time.Now()
			results, err := task.Wait(ctx)
			if errors.Is(err, search.ErrSuperseded) || errors.Is(err, context.Canceled) {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				fmt.Fprintf(out, "search %q failed: %v\n", task.Query(), err)
				return
			}
			_ = cli.WriteSearchResults(out, &models.SearchResponse{
				Query:     task.Query(),
				Results:   results,
				Total:     len(results),
				QueryTime: time.Since(start).Milliseconds(),
			}, format)
		}()
	}
	wg.Wait()
	return scanner.Err()
}

func searchViaHTTP(serverURL string, query *models.SearchQuery) (*models.SearchResponse, error) {
	body, err := json.Marshal(query)
	if err != nil {
		return nil, err
	}
	resp, err := http.Post(strings.TrimRight(serverURL, "/")+"/api/v1/search", "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	var out models.SearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &out, nil
}

func newRecentCmd(g *globalFlags) *cobra.Command {
	var (
		count   int
		jsonOut bool
	)
	cmd := &cobra.Command{
		Use:   "recent",
		Short: "List the most recently indexed pages",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(g, false)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			store, err := storage.NewSQLiteStorage(cfg.Storage.DatabasePath)
			if err != nil {
				return fmt.Errorf("failed to open storage: %w", err)
			}
			defer store.Close()
			pages, err := store.Recent(cmd.Context(), count)
			if err != nil {
				return err
			}
			return cli.WritePages(cmd.OutOrStdout(), pages, outputFormat(jsonOut))
		},
	}
	cmd.Flags().IntVarP(&count, "number", "n", defaultRecentCount, "number of pages to list")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "print pages as JSON")
	return cmd
}

type statusResponse struct {
	Pages          int64  `json:"pages"`
	EmbeddedPages  int64  `json:"embedded_pages"`
	DiskUsageBytes *int64 `json:"disk_usage_bytes,omitempty"`
	DatabasePath   string `json:"database_path"`
	Provider       string `json:"embedding_provider"`
	Dimensions     int    `json:"embedding_dimensions"`
	SourceType     string `json:"source_type"`
	SourcePath     string `json:"source_path"`
}

func newStatusCmd(g *globalFlags) *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show index and configuration status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(g, false)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			status, err := localStatus(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			return writeStatus(cmd.OutOrStdout(), status, jsonOut)
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "print status as JSON")
	return cmd
}

func localStatus(ctx context.Context, cfg *config.Config) (*statusResponse, error) {
	store, err := storage.NewSQLiteStorage(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}
	defer store.Close()
	pages, err := store.Count(ctx)
	if err != nil {
		return nil, err
	}
	embedded, err := store.CountEmbedded(ctx)
	if err != nil {
		return nil, err
	}
	status := &statusResponse{
		Pages:         pages,
		EmbeddedPages: embedded,
		DatabasePath:  cfg.Storage.DatabasePath,
		Provider:      cfg.Embedding.Provider,
		Dimensions:    cfg.Embedding.Dimensions,
		SourceType:    cfg.Source.Type,
		SourcePath:    cfg.Source.Path,
	}
	if diskBytes, err := store.SizeBytes(); err == nil {
		status.DiskUsageBytes = &diskBytes
	}
	return status, nil
}

func writeStatus(w io.Writer, status *statusResponse, jsonOut bool) error {
	if jsonOut {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(status)
	}
	fmt.Fprintf(w, "pages:              %d   # indexed bookmarks\n", status.Pages)
	fmt.Fprintf(w, "embedded_pages:     %d   # pages with an embedding\n", status.EmbeddedPages)
	if status.DiskUsageBytes != nil {
		fmt.Fprintf(w, "disk_usage_bytes:   %d   # database on disk\n", *status.DiskUsageBytes)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "# configuration")
	fmt.Fprintf(w, "database_path:      %s\n", status.DatabasePath)
	fmt.Fprintf(w, "embedding_provider: %s\n", status.Provider)
	fmt.Fprintf(w, "embedding_dims:     %d\n", status.Dimensions)
	fmt.Fprintf(w, "source:             %s %s\n", status.SourceType, status.SourcePath)
	return nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "kioku version %s\n", version)
		},
	}
}
