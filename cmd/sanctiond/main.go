// sanctiond - Administrative sanctions for social-care facilities.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/opensource-finance/sanctiond/internal/api"
	"github.com/opensource-finance/sanctiond/internal/bus"
	"github.com/opensource-finance/sanctiond/internal/cache"
	"github.com/opensource-finance/sanctiond/internal/calculator"
	"github.com/opensource-finance/sanctiond/internal/catalog"
	"github.com/opensource-finance/sanctiond/internal/config"
	"github.com/opensource-finance/sanctiond/internal/deadline"
	"github.com/opensource-finance/sanctiond/internal/domain"
	"github.com/opensource-finance/sanctiond/internal/metrics"
	"github.com/opensource-finance/sanctiond/internal/recidivism"
	"github.com/opensource-finance/sanctiond/internal/registry"
	"github.com/opensource-finance/sanctiond/internal/repository"
	"github.com/opensource-finance/sanctiond/internal/sanction"
	"github.com/opensource-finance/sanctiond/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	envFile := flag.String("env", "", "Path to an env file (default .env when present)")
	showEnv := flag.Bool("env-help", false, "Print the supported environment variables and exit")
	flag.Parse()

	if *showEnv {
		usage, err := config.Usage()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Println(usage)
		return
	}

	var envFiles []string
	if *envFile != "" {
		envFiles = append(envFiles, *envFile)
	}
	cfg, err := config.Load(envFiles...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	slog.SetDefault(newLogger(cfg.Logging))

	// Log startup
	slog.Info("starting sanctiond",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)
	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"timezone", cfg.Deadlines.TimeZone,
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

	// Initialize Repository
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

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

	// Load the violation catalog (rules are managed via POST /rules)
	cat, err := catalog.New()
	if err != nil {
		slog.Error("failed to initialize catalog", "error", err)
		os.Exit(1)
	}
	if err := cat.LoadFrom(ctx, repo); err != nil {
		slog.Error("failed to load rules", "error", err)
		os.Exit(1)
	}
	if cat.Count() == 0 {
		slog.Info("no rules in database - configure via POST /rules or catalog-import")
	}
	slog.Info("catalog initialized", "rules_count", cat.Count())

	resolver, err := deadline.NewResolver(cfg.Deadlines)
	if err != nil {
		slog.Error("failed to initialize deadline resolver", "error", err)
		os.Exit(1)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	directory := registry.NewDirectory(repo, cacheImpl, cfg.Cache.LookupTTL)

	svc, err := sanction.NewService(sanction.Deps{
		Store:      repo,
		Structures: directory,
		Rules:      cat,
		Recidivism: recidivism.NewCounter(repo, cacheImpl, cfg.Cache.LookupTTL),
		Calculator: calculator.New(cfg.Policy),
		Deadlines:  resolver,
		Bus:        busImpl,
		Metrics:    m,
	})
	if err != nil {
		slog.Error("failed to initialize sanction service", "error", err)
		os.Exit(1)
	}

	// Export worker produces the fiscal record as soon as a decision is approved
	var exportWorker *worker.Worker
	if cfg.Worker.AutoExport {
		exportWorker = worker.NewWorker(busImpl, svc)
		if err := exportWorker.Start(worker.Config{WorkerCount: cfg.Worker.ExportWorkers}); err != nil {
			slog.Error("failed to start export worker", "error", err)
		} else {
			slog.Info("export worker started", "workers", cfg.Worker.ExportWorkers)
		}
	}

	sweeper := worker.NewSweeper(svc, cfg.Worker, m)
	go sweeper.Run(ctx)

	// Initialize Server
	srv := api.NewServer(cfg.Server, api.Deps{
		Repo:       repo,
		Cache:      cacheImpl,
		Bus:        busImpl,
		Catalog:    cat,
		Structures: directory,
		Service:    svc,
		Sweeper:    sweeper,
		Gatherer:   reg,
		Auth:       cfg.Auth,
		Version:    Version,
	})

	// Start Server in goroutine
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("sanctiond is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutting down...")

	// Stop export worker first
	if exportWorker != nil {
		if err := exportWorker.Stop(); err != nil {
			slog.Error("failed to stop export worker", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("sanctiond shutdown complete")
}

func newLogger(cfg domain.LoggingConfig) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if cfg.Debug {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════╗")
	fmt.Println("  ║                 SANCTIOND                 ║")
	fmt.Println("  ║   Administrative Sanctions for Care       ║")
	fmt.Println("  ╚═══════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /calculate                  - Preview a fine")
	fmt.Println("    POST /decisions                  - Create a draft decision")
	fmt.Println("    GET  /decisions                  - List decisions")
	fmt.Println("    POST /decisions/{id}/submit      - Submit for approval")
	fmt.Println("    POST /decisions/{id}/approve     - Approve and assign protocol number")
	fmt.Println("    POST /decisions/{id}/notify      - Record notification, set deadlines")
	fmt.Println("    POST /decisions/{id}/payment     - Record paid, appealed or cancelled")
	fmt.Println("    POST /decisions/{id}/exports     - Produce the fiscal export")
	fmt.Println("    POST /decisions/overdue-sweep    - Mark overdue decisions now")
	fmt.Println("    GET  /rules                      - List violation rules")
	fmt.Println("    POST /rules                      - Create or update a rule")
	fmt.Println("    PUT  /structures/{id}            - Store a registry structure")
	fmt.Println("    GET  /health                     - Health check")
	fmt.Println("    GET  /metrics                    - Prometheus metrics")
	fmt.Println()
}
