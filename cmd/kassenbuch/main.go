package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"kassenbuch/internal/config"
	"kassenbuch/internal/export"
	apphttp "kassenbuch/internal/http"
	applog "kassenbuch/internal/log"
	"kassenbuch/internal/receipts"
	"kassenbuch/internal/storage"
)

func main() {
	// Load .env for local development; absence is fine.
	_ = godotenv.Load()

	cfg := config.Load()
	logger := applog.New(applog.Config{Level: cfg.LogLevel})
	applog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", applog.FieldError, err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repo, err := storage.Open(ctx, cfg.DBPath, logger)
	if err != nil {
		logger.Error("failed to open storage", applog.FieldError, err, "db_path", cfg.DBPath)
		os.Exit(1)
	}
	defer repo.Close()

	store := receipts.NewStore(cfg.ReceiptBaseDir, repo, logger)
	exporter := export.NewExporter(repo, store, logger)

	srv := apphttp.NewServer(":"+cfg.Port, repo, store, exporter, cfg.ExportFormat, logger)
	srv.ReadTimeout = cfg.ReadTimeout
	srv.WriteTimeout = cfg.WriteTimeout
	srv.IdleTimeout = 60 * time.Second
	srv.MaxHeaderBytes = 1 << 16 // 64KB

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.InfoContext(gctx, "server starting",
			"port", cfg.Port,
			"db_path", cfg.DBPath,
			"receipt_dir", cfg.ReceiptBaseDir,
			"export_format", cfg.ExportFormat)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("server error", applog.FieldError, err)
		os.Exit(1)
	}
	logger.Info("server stopped gracefully")
}
