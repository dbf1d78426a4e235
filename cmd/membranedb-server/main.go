package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/daniacca/membranedb/internal/psystem"
	"github.com/daniacca/membranedb/internal/snapshotstore"
	"github.com/daniacca/membranedb/internal/tracestore"
)

func main() {
	cfg, err := loadServerConfig(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error:\n%v\n", err)
		os.Exit(2)
	}

	configureLogging()
	logger := NewLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv, err := newServerFromConfig(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("Failed to initialize server: %v", err)
	}

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		logger.Infof("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	logger.Infof("membranedb-server listening on %s (dissolution=%s workers=%d snapshots=%s)",
		cfg.Addr, cfg.Dissolution, cfg.Workers, cfg.SnapshotDriver)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Errorf("Server error: %v", err)
	}

	if err := srv.Close(); err != nil {
		logger.Errorf("Shutdown error: %v", err)
	}
}

// newServerFromConfig builds a Server with its stores attached and the
// startup system, if any, installed.
func newServerFromConfig(ctx context.Context, cfg ServerConfig, logger *Logger) (*Server, error) {
	srv := NewServer(logger,
		psystem.WithDissolutionPolicy(cfg.Dissolution),
		psystem.WithWorkers(cfg.Workers),
	)

	store, err := openSnapshotStore(ctx, cfg)
	if err != nil {
		_ = srv.Close()
		return nil, err
	}
	if store != nil {
		srv.SetSnapshotStore(store, cfg.SnapshotEverySteps)
	}

	if cfg.TraceDB != "" {
		traces, err := tracestore.Open(cfg.TraceDB)
		if err != nil {
			_ = srv.Close()
			return nil, err
		}
		srv.SetTraceStore(traces)
		logger.Infof("Recording simulations to %s", cfg.TraceDB)
	}

	if cfg.SystemFile != "" {
		sys, err := loadInitialSystemFromFile(cfg.SystemFile)
		if err != nil {
			_ = srv.Close()
			return nil, fmt.Errorf("load system %s: %w", cfg.SystemFile, err)
		}
		if _, err := srv.installSystem(psystem.EnvironmentID(cfg.DefaultEnvID), sys); err != nil {
			_ = srv.Close()
			return nil, err
		}
		logger.Infof("Loaded system %q into environment %s", sys.Name(), cfg.DefaultEnvID)
	}

	return srv, nil
}

func openSnapshotStore(ctx context.Context, cfg ServerConfig) (psystem.SnapshotStore, error) {
	format, err := snapshotstore.ParseFormat(cfg.SnapshotFormat)
	if err != nil {
		return nil, err
	}
	switch cfg.SnapshotDriver {
	case "fs":
		return snapshotstore.NewFileStore(cfg.SnapshotDir, format)
	case "s3":
		return snapshotstore.NewS3Store(ctx, snapshotstore.S3Config{
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3Endpoint,
			Prefix:    cfg.S3Prefix,
			PathStyle: cfg.S3PathStyle,
			Format:    format,
		})
	default:
		return nil, nil
	}
}
