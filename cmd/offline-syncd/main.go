package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/goliatone/go-offline-sync/config"
	"github.com/goliatone/go-offline-sync/internal/server"
	"github.com/goliatone/go-offline-sync/pkg/di"
)

func main() {
	configDir := flag.String("config", "", "directory holding offline-sync.yaml")
	flag.Parse()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var paths []string
	if *configDir != "" {
		paths = append(paths, *configDir)
	}
	cfg, err := config.Load(paths...)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	container, err := di.NewContainer(ctx, cfg)
	if err != nil {
		log.Fatalf("failed to initialize container: %v", err)
	}
	logger := container.Logger()

	if err := container.Start(); err != nil {
		logger.Fatal("failed to start maintenance scheduler", zap.Error(err))
	}

	// probe once so /status is meaningful before the first scheduled check
	container.Oracle().Refresh(ctx)

	srv := &http.Server{
		Addr: cfg.Server.Address,
		Handler: server.NewRouter(server.Deps{
			Oracle:    container.Oracle(),
			Queue:     container.Queue(),
			Syncer:    container.Cleaner(),
			Navigator: container.Prefetch(),
			Gatherer:  container.Gatherer(),
			Logger:    logger,
		}),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("starting status server", zap.String("address", cfg.Server.Address))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("status server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("status server shutdown error", zap.Error(err))
	}
	if err := container.Close(shutdownCtx); err != nil {
		logger.Error("container shutdown error", zap.Error(err))
	}
}
