// Searchd is the image similarity search and indexing daemon.
//
// It keeps an S3-compatible object store, a relational metadata store, and a
// Qdrant vector index in sync, and serves semantic and reference-image
// search over HTTP.
//
// Configuration is loaded from an optional YAML file and overridden by
// environment variables. See internal/config for details.
//
// Usage:
//
//	# Start with defaults
//	searchd
//
//	# Configure via file and environment
//	SERVER_PORT=8000 QDRANT_HOST=localhost searchd -config searchd.yaml
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/totenbilder/searchd/internal/app"
	"github.com/totenbilder/searchd/internal/config"
	"github.com/totenbilder/searchd/internal/logging"
	"github.com/totenbilder/searchd/internal/server"
	"github.com/totenbilder/searchd/internal/telemetry"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("searchd %s (%s)\n", version, gitCommit)
		os.Exit(0)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("received signal %v, shutting down", sig)
		cancel()
	}()

	if err := run(ctx, *configPath); err != nil {
		log.Fatalf("searchd: %v", err)
	}
}

// run starts the daemon and blocks until the context is cancelled.
func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	logger.Info("starting searchd",
		zap.String("version", version),
		zap.Int("port", cfg.Server.Port),
		zap.String("collection", cfg.Qdrant.Collection),
	)

	tel, err := telemetry.Init(ctx, cfg.Telemetry, version, logger)
	if err != nil {
		return fmt.Errorf("initializing telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown", zap.Error(err))
		}
	}()

	application := app.New(*cfg, logger)
	defer application.Close()

	// Warm connections off the main path so a slow store never delays
	// accepting requests.
	go application.Warm(ctx)

	srv, err := server.NewServer(server.NewAppBackend(application), logger, cfg.Server)
	if err != nil {
		return fmt.Errorf("creating http server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down: %w", err)
	}

	logger.Info("shutdown complete")
	return nil
}
