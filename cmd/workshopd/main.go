// Command workshopd runs the shared-workspace daemon: publish/subscribe
// channels, a task queue, content-addressed blob storage, and presence
// tracking over a single local SQLite log.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/agentmesh/workshop/internal/blobstore"
	"github.com/agentmesh/workshop/internal/config"
	"github.com/agentmesh/workshop/internal/httpapi"
	"github.com/agentmesh/workshop/internal/registry"
	"github.com/agentmesh/workshop/internal/store"
	"github.com/agentmesh/workshop/internal/stream"
	"github.com/agentmesh/workshop/internal/workshop"
)

const shutdownGrace = 10 * time.Second

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	cfg, err := config.Load()
	if err != nil {
		logger.Error("config", "error", err)
		os.Exit(1)
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("workshopd failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()
	logger.Info("store opened", "path", cfg.DBPath)

	blobs, err := blobstore.Open(cfg.BlobDir)
	if err != nil {
		return fmt.Errorf("open blob store: %w", err)
	}
	logger.Info("blob store opened", "dir", cfg.BlobDir)

	reg := registry.New()
	eng := stream.NewEngine(reg, logger)
	ws := workshop.New(st, eng, logger)

	router := httpapi.NewRouter(ws, st, blobs, reg, logger, cfg.Verbose)
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // push streams are long-lived; no write deadline at the server level
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go eng.RunKeepalive(ctx)
	go ws.RunRetention(ctx, cfg.RetentionDays)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutdown signal received")
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown", "error", err)
		}
	}()

	logger.Info("workshopd listening", "port", cfg.Port, "retention_days", cfg.RetentionDays)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("serve: %w", err)
	}

	logger.Info("workshopd stopped")
	return nil
}
