// Kestrel - Real-time fraud scoring for every transaction.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/opensource-finance/kestrel/internal/api"
	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/combine"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/drift"
	"github.com/opensource-finance/kestrel/internal/feature"
	"github.com/opensource-finance/kestrel/internal/flags"
	"github.com/opensource-finance/kestrel/internal/kv"
	"github.com/opensource-finance/kestrel/internal/pipeline"
	"github.com/opensource-finance/kestrel/internal/profile"
	"github.com/opensource-finance/kestrel/internal/providers"
	"github.com/opensource-finance/kestrel/internal/refresh"
	"github.com/opensource-finance/kestrel/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	// Initialize structured logger
	logLevel := slog.LevelInfo
	if os.Getenv("KESTREL_DEBUG") == "true" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	slog.Info("starting kestrel",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	// Load configuration
	cfg := domain.DefaultConfig()

	// Check for Pro tier via environment
	if os.Getenv("KESTREL_TIER") == "pro" {
		cfg = domain.ProConfig()
		slog.Info("running in Pro tier mode")
	}

	cfg.Providers.ModelURL = os.Getenv("KESTREL_MODEL_URL")
	cfg.Providers.GraphURL = os.Getenv("KESTREL_GRAPH_URL")
	if secs := envInt("KESTREL_REFRESH_SECS"); secs > 0 {
		cfg.Providers.RefreshSecs = secs
	}

	if cfg.Providers.ModelURL == "" {
		slog.Error("KESTREL_MODEL_URL is required")
		os.Exit(1)
	}

	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"kv", cfg.KV.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"model_url", cfg.Providers.ModelURL,
		"graph_url", cfg.Providers.GraphURL,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Initialize KV store
	store, err := kv.New(cfg.KV)
	if err != nil {
		slog.Error("failed to initialize kv store", "error", err)
		os.Exit(1)
	}
	defer store.Close()
	slog.Info("kv store initialized", "driver", cfg.KV.Driver)

	// Initialize Cache
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	// Initialize flag rule engine with the built-in rules
	ruleEngine, err := flags.NewEngine()
	if err != nil {
		slog.Error("failed to initialize flag rules", "error", err)
		os.Exit(1)
	}
	if err := ruleEngine.LoadRules(flags.BuiltinRules()); err != nil {
		slog.Error("failed to load flag rules", "error", err)
		os.Exit(1)
	}
	slog.Info("flag rules loaded", "rules_count", ruleEngine.RuleCount())

	// Initialize profile store
	profiles := profile.NewStore(store, nil, ruleEngine)
	slog.Info("profile store initialized")

	// Resolve model providers
	loadProviders := providerLoader(cfg.Providers)
	initialSet, err := loadProviders(ctx)
	if err != nil {
		slog.Error("failed to connect to model providers", "error", err)
		os.Exit(1)
	}
	registry := pipeline.NewRegistry(initialSet)
	slog.Info("model providers connected",
		"schema_size", len(initialSet.Models.Schema()),
		"graph_enabled", initialSet.Graph != nil,
	)

	// Periodic provider refresh picks up retrained models
	var refresher *refresh.Refresher
	if cfg.Providers.RefreshSecs > 0 {
		refresher = refresh.New(registry, loadProviders, time.Duration(cfg.Providers.RefreshSecs)*time.Second)
		refresher.Start()
		slog.Info("provider refresh started", "interval_secs", cfg.Providers.RefreshSecs)
	}

	// Initialize drift monitor
	monitor := drift.NewMonitor(drift.Config{
		WindowSize:        cfg.Drift.WindowSize,
		PValueThreshold:   cfg.Drift.PValueThreshold,
		CovRatioThreshold: cfg.Drift.CovRatioThreshold,
		PersistCycles:     cfg.Drift.PersistCycles,
		RefreshEvery:      cfg.Drift.RefreshEvery,
	})

	// Initialize score combiner
	combiner := combine.New(combine.Config{
		AnomalyWeight:    cfg.Scoring.AnomalyWeight,
		ClassifierWeight: cfg.Scoring.ClassifierWeight,
		GraphWeight:      cfg.Scoring.GraphWeight,
		RiskMultiplier:   cfg.Scoring.RiskMultiplier,
		TopK:             cfg.Scoring.TopK,
	})

	// Normalizer follows the provider-declared schema
	normalizer := feature.NewNormalizer(initialSet.Models.Schema(), 0)

	// Assemble the pipeline
	pipe := pipeline.New(registry, profiles, monitor, combiner, normalizer, cacheImpl, busImpl)
	slog.Info("scoring pipeline assembled")

	// Initialize async Worker (Pro tier)
	var asyncWorker *worker.Worker
	if cfg.Tier == domain.TierPro || os.Getenv("KESTREL_ASYNC_WORKER") == "true" {
		asyncWorker = worker.NewWorker(busImpl, pipe)
		if err := asyncWorker.Start(); err != nil {
			slog.Error("failed to start async worker", "error", err)
		}
	}

	// Initialize Server
	srv := api.NewServer(cfg.Server, pipe, profiles, monitor, cacheImpl, store, busImpl, Version)

	// Start Server in goroutine
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("kestrel is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutting down...")

	if asyncWorker != nil {
		asyncWorker.Stop()
	}
	if refresher != nil {
		refresher.Stop()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("kestrel shutdown complete")
}

// providerLoader builds the LoadFunc used both at startup and by the
// periodic refresher.
func providerLoader(cfg domain.ProviderConfig) refresh.LoadFunc {
	timeout := time.Duration(cfg.TimeoutSecs) * time.Second

	return func(ctx context.Context) (*pipeline.ProviderSet, error) {
		models, err := providers.NewHTTPProvider(cfg.ModelURL, timeout)
		if err != nil {
			return nil, err
		}

		set := &pipeline.ProviderSet{Models: models}

		if cfg.GraphURL != "" {
			graph, err := providers.NewGraphHTTPProvider(cfg.GraphURL, timeout)
			if err != nil {
				// Graph signal is optional, score without it.
				slog.Warn("graph provider unavailable", "error", err)
			} else {
				set.Graph = graph
			}
		}

		return set, nil
	}
}

func envInt(name string) int {
	if v := os.Getenv(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return 0
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════╗")
	fmt.Println("  ║               KESTREL                     ║")
	fmt.Println("  ║      Real-time Fraud Scoring Engine       ║")
	fmt.Println("  ║      A score for every transaction.       ║")
	fmt.Println("  ╚═══════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /score                   - Score a transaction")
	fmt.Println("    GET  /scores/{id}             - Get a recent score by ID")
	fmt.Println("    GET  /customers/{id}/profile  - Get a customer risk profile")
	fmt.Println("    GET  /drift/status            - Drift monitor state")
	fmt.Println("    GET  /health                  - Health check")
	fmt.Println()
}
