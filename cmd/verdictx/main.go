package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"

	"github.com/rewired-gh/verdictx/internal/analysis"
	"github.com/rewired-gh/verdictx/internal/config"
	"github.com/rewired-gh/verdictx/internal/curated"
	"github.com/rewired-gh/verdictx/internal/dexscreener"
	"github.com/rewired-gh/verdictx/internal/llm"
	"github.com/rewired-gh/verdictx/internal/logger"
	"github.com/rewired-gh/verdictx/internal/metrics"
	"github.com/rewired-gh/verdictx/internal/realtime"
	"github.com/rewired-gh/verdictx/internal/router"
	"github.com/rewired-gh/verdictx/internal/storage"
	"github.com/rewired-gh/verdictx/internal/storage/postgres"
	"github.com/rewired-gh/verdictx/internal/storage/sqlite"
	"github.com/rewired-gh/verdictx/internal/telegram"
)

var configPath = flag.String("config", "", "Path to configuration file (optional)")

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	if *configPath != "" {
		logger.Info("Configuration loaded from %s", *configPath)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	ledger, err := openLedger(ctx, cfg.Storage)
	if err != nil {
		logger.Fatal("Failed to initialize storage: %v", err)
	}
	defer func() {
		if err := ledger.Close(); err != nil {
			logger.Error("Failed to close storage: %v", err)
		}
	}()

	list, err := curated.Open(cfg.Curated.DBPath, cfg.Curated.Fallback)
	if err != nil {
		logger.Fatal("Failed to open curated list: %v", err)
	}
	defer list.Close()
	if list.ReadOnly() {
		logger.Info("Curated list is read-only, serving %d fallback tokens", len(cfg.Curated.Fallback))
	}

	dex := dexscreener.NewClient(cfg.DexScreener.BaseURL, cfg.DexScreener.Timeout, cfg.DexScreener.MaxRetries)
	var completer analysis.Completer
	if cfg.LLM.Enabled() {
		completer = llm.NewClient(cfg.LLM.BaseURL, cfg.LLM.APIKey, cfg.LLM.Model, cfg.LLM.Timeout)
		logger.Info("LLM judgement enabled (model: %s)", cfg.LLM.Model)
	} else {
		logger.Debug("LLM judgement disabled, using rule-based verdicts")
	}
	analyzer := analysis.New(dex, completer, ledger, cfg.Analysis.Timeout)

	hub := realtime.NewHub(cfg.Server.StreamBuffer)
	defer hub.Close()

	var notifier router.Notifier
	if cfg.Telegram.Enabled {
		telegramClient, err := telegram.NewClient(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Telegram.MaxRetries, cfg.Telegram.RetryDelayBase, ledger)
		if err != nil {
			logger.Fatal("Failed to initialize Telegram client: %v", err)
		}
		telegramClient.ListenForCommands(ctx)
		notifier = telegramClient
		logger.Info("Telegram client initialized successfully")
	} else {
		logger.Debug("Telegram notifications disabled")
	}

	opts := router.Options{
		TrendingLimit:    cfg.Server.TrendingLimit,
		VoterIdentity:    cfg.Server.VoterIdentity,
		MaxMessageLength: cfg.Server.MaxMessageLength,
		CORSOrigins:      cfg.Server.CORSOrigins,
		TrustedProxies:   cfg.Server.TrustedProxies,
	}
	if cfg.Metrics.Enabled {
		metrics.MustRegister()
		opts.MetricsPath = cfg.Metrics.Path
	}

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	rt := router.NewRouter(ledger, analyzer, list, hub, notifier, opts)

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      rt.Engine(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Listening on %s (storage: %s, voter identity: %s)", cfg.Server.Addr, cfg.Storage.Driver, cfg.Server.VoterIdentity)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received, cleaning up...")
	case err := <-errCh:
		if err != nil {
			logger.Error("HTTP server failed: %v", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	// Streams are hijacked connections that Shutdown does not wait for.
	hub.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP server shutdown: %v", err)
	}
	logger.Info("Service stopped")
}

func openLedger(ctx context.Context, cfg config.StorageConfig) (storage.Ledger, error) {
	switch cfg.Driver {
	case "sqlite":
		store, err := sqlite.New(cfg.DBPath)
		if err != nil {
			return nil, err
		}
		return store, nil
	case "postgres":
		store, err := postgres.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		return store, nil
	}
	return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
}
