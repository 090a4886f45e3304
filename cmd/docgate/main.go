// Package main is the docgate CLI entry point.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/docgate/internal/cache"
	"github.com/hyperjump/docgate/internal/cli"
	"github.com/hyperjump/docgate/internal/config"
	"github.com/hyperjump/docgate/internal/ingest"
	"github.com/hyperjump/docgate/internal/mutation"
	"github.com/hyperjump/docgate/internal/search"
	"github.com/hyperjump/docgate/internal/server"
	"github.com/hyperjump/docgate/internal/storage"
	"github.com/hyperjump/docgate/internal/watcher"
	"github.com/hyperjump/docgate/pkg/utils"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/docgate/config.yaml"

// loadConfig loads config from path. When path is the default and config.yaml exists in
// the current directory, that file is used instead so a checkout runs with its own config.
// Returns the config and the path that was actually loaded.
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
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	switch command {
	case "server":
		os.Exit(runServer())
	case "stuck":
		runStuck()
	case "version", "--version", "-v":
		fmt.Printf("docgate version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

// runServer runs the API until SIGINT or SIGTERM and returns the process exit code.
// Deferred cleanup runs before the caller exits.
func runServer() int {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(os.Args[2:])

	cfg, resolvedConfigPath, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		return 1
	}
	debugMode := cfg.Debug || *debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		return 1
	}
	defer logger.Sync()

	logger.Info("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.Bool("debug", debugMode),
		zap.String("storage_backend", cfg.Storage.Backend),
		zap.String("cache_backend", cfg.Cache.Backend),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	components, err := initializeComponents(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize components", zap.Error(err))
		return 1
	}
	defer components.Close()

	if inbox := cfg.Ingest.Inbox; len(inbox.Directories) > 0 {
		w := watcher.NewWatcher(
			inbox.Directories,
			inbox.RecursiveOrDefault(),
			watcher.Target{Database: inbox.Database, Collection: inbox.Collection, UploadedBy: inbox.UploadedBy},
			components.Pipeline,
			watcher.WithLogger(logger),
		)
		if err := w.Start(ctx); err != nil {
			logger.Error("Failed to start inbox watcher", zap.Error(err))
			return 1
		}
		defer w.Stop()
	}

	srv := server.NewServer(
		components.Engine,
		components.Mutations,
		components.Pipeline,
		components.Storage,
		cfg,
		logger,
	)
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	if err := serve(srv, sigChan, 10*time.Second, logger); err != nil {
		logger.Error("Server failed", zap.Error(err))
		return 1
	}
	return 0
}

// runner is a server that blocks in Start until Stop is called.
type runner interface {
	Start() error
	Stop(ctx context.Context) error
}

// serve runs srv until it fails or stop fires, then shuts it down within timeout.
// A graceful shutdown returns nil.
func serve(srv runner, stop <-chan os.Signal, timeout time.Duration, logger *zap.Logger) error {
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-stop:
	}

	logger.Info("Shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Stop(ctx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func runStuck() {
	fs := flag.NewFlagSet("stuck", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	database := fs.String("database", "", "database holding the jobs (default: storage.default_database)")
	olderThan := fs.Duration("older-than", time.Hour, "report jobs uploading for longer than this")
	fail := fs.Bool("fail", false, "mark the reported jobs as failed")
	output := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger, err := utils.NewLogger(cfg.Debug)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx := context.Background()
	components, err := initializeComponents(ctx, cfg, logger)
	if err != nil {
		fmt.Printf("Failed to initialize components: %v\n", err)
		os.Exit(1)
	}
	defer components.Close()

	db := *database
	if db == "" {
		db = cfg.Storage.DefaultDatabase
	}
	if err := reportStuck(ctx, os.Stdout, components.Pipeline, db, *olderThan, *fail, cli.OutputFormat(*output)); err != nil {
		fmt.Printf("Stuck job scan failed: %v\n", err)
		components.Close()
		_ = logger.Sync()
		os.Exit(1)
	}
}

// reportStuck lists jobs stuck in uploading and, when fail is set, moves them to failed.
func reportStuck(ctx context.Context, out io.Writer, p *ingest.Pipeline, database string, olderThan time.Duration, fail bool, format cli.OutputFormat) error {
	jobs, err := p.StuckJobs(ctx, database, olderThan)
	if err != nil {
		return err
	}
	report := &cli.JobReport{Database: database, Cutoff: time.Now().UTC().Add(-olderThan), Jobs: jobs}
	if fail {
		for _, job := range jobs {
			id, _ := job["_id"].(string)
			if err := p.FailJob(ctx, database, id); err != nil {
				return fmt.Errorf("fail job %s: %w", id, err)
			}
			report.Failed = append(report.Failed, id)
		}
	}
	return cli.WriteJobReport(out, report, format)
}

// Components holds initialized services for the server and maintenance commands.
type Components struct {
	Storage   storage.Storage
	Cache     cache.Cache
	Engine    *search.Engine
	Mutations *mutation.Service
	Pipeline  *ingest.Pipeline
}

// Close releases all resources.
func (c *Components) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if closer, ok := c.Cache.(io.Closer); ok {
		_ = closer.Close()
	}
	if c.Storage != nil {
		_ = c.Storage.Close(ctx)
	}
}

func initializeComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Components, error) {
	store, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	resultCache, err := cache.New(ctx, cfg.Cache)
	if err != nil {
		logger.Warn("result cache unavailable, continuing without it", zap.String("backend", cfg.Cache.Backend), zap.Error(err))
		resultCache = cache.Nop{}
	}

	return &Components{
		Storage:   store,
		Cache:     resultCache,
		Engine:    search.NewEngine(store, search.WithCache(resultCache), search.WithLogger(logger)),
		Mutations: mutation.NewService(store, mutation.WithLogger(logger)),
		Pipeline:  ingest.NewPipeline(store, pipelineOptions(cfg.Ingest, logger)...),
	}, nil
}

func pipelineOptions(cfg config.IngestConfig, logger *zap.Logger) []ingest.Option {
	opts := []ingest.Option{
		ingest.WithBatchSize(cfg.BatchSize),
		ingest.WithCollections(cfg.JobsCollection, cfg.ErrorsCollection),
		ingest.WithLogger(logger),
	}
	if cfg.Validation.Enabled {
		opts = append(opts, ingest.WithValidator(ingest.RequiredPositive(cfg.Validation.RequiredField, cfg.Validation.PositiveField)))
	}
	return opts
}

func printUsage() {
	fmt.Println(`docgate - HTTP gateway over a document store

Usage:
  docgate server [flags]   Start the HTTP server (and the inbox watcher when configured)
  docgate stuck [flags]    List ingestion jobs stuck in uploading
  docgate version          Show version
  docgate help             Show this help

Server Flags:
  --config string    Config file path (default: /usr/local/etc/docgate/config.yaml)
  --debug            Enable debug logging

Stuck Flags:
  --config string        Config file path
  --database string      Database holding the jobs (default: storage.default_database)
  --older-than duration  Minimum time in uploading (default: 1h)
  --fail                 Mark the listed jobs as failed
  --output string        Output format: text or json (default: text)

Examples:
  docgate server
  docgate server --config ./config.yaml --debug
  docgate stuck --database reports --older-than 30m
  docgate stuck --database reports --fail --output json`)
}
