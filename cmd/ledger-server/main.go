/*-------------------------------------------------------------------------
 *
 * main.go
 *    Main entry point for NeuronLedger server
 *
 * Copyright (c) 2024-2026, neurondb, Inc. <admin@neurondb.com>
 *
 * IDENTIFICATION
 *    NeuronLedger/cmd/ledger-server/main.go
 *
 *-------------------------------------------------------------------------
 */

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/neurondb/NeuronLedger/internal/api"
	"github.com/neurondb/NeuronLedger/internal/budget"
	"github.com/neurondb/NeuronLedger/internal/config"
	"github.com/neurondb/NeuronLedger/internal/cost"
	"github.com/neurondb/NeuronLedger/internal/db"
	"github.com/neurondb/NeuronLedger/internal/events"
	"github.com/neurondb/NeuronLedger/internal/jobs"
	"github.com/neurondb/NeuronLedger/internal/metrics"
	"github.com/neurondb/NeuronLedger/internal/observability"
	"github.com/neurondb/NeuronLedger/internal/pricing"
	"github.com/neurondb/NeuronLedger/internal/webhooks"
)

var (
	version   = "dev"
	buildDate = "unknown"
	gitCommit = "unknown"
)

const poolStatsInterval = 30 * time.Second

func main() {
	var (
		showVersion      = flag.Bool("version", false, "Show version information")
		showVersionShort = flag.Bool("v", false, "Show version information (short)")
		configPath       = flag.String("c", "", "Path to configuration file")
		configPathLong   = flag.String("config", "", "Path to configuration file")
		showHelp         = flag.Bool("help", false, "Show help message")
		showHelpShort    = flag.Bool("h", false, "Show help message (short)")
	)

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [OPTIONS]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "NeuronLedger Server - cost tracking, budgets and webhooks for AI agents\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s                    Start server with default configuration\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -c config.yaml     Start server with custom config file\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --version          Show version information\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\nConfiguration:\n")
		fmt.Fprintf(os.Stderr, "  Configuration can be provided via:\n")
		fmt.Fprintf(os.Stderr, "  - Command line flag: -c or --config\n")
		fmt.Fprintf(os.Stderr, "  - Environment variable: CONFIG_PATH\n")
		fmt.Fprintf(os.Stderr, "  - Environment variables (see config package for details)\n")
	}

	flag.Parse()

	if *showVersion || *showVersionShort {
		fmt.Printf("neuronledger version %s\n", version)
		fmt.Printf("Build date: %s\n", buildDate)
		fmt.Printf("Git commit: %s\n", gitCommit)
		os.Exit(0)
	}

	if *showHelp || *showHelpShort {
		flag.Usage()
		os.Exit(0)
	}

	/* Command line flag takes precedence over CONFIG_PATH */
	cfgPath := *configPath
	if cfgPath == "" {
		cfgPath = *configPathLong
	}
	if cfgPath == "" {
		cfgPath = os.Getenv("CONFIG_PATH")
	}

	cfg := config.DefaultConfig()
	if cfgPath != "" {
		loaded, err := config.LoadConfig(cfgPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	} else {
		config.LoadFromEnv(cfg)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: invalid configuration: %v\n", err)
		os.Exit(1)
	}

	if err := run(cfg); err != nil {
		metrics.ErrorWithContext(context.Background(), "NeuronLedger server exited", err, nil)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	metrics.InitLogging(metrics.LogOptions{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
		Compress:   cfg.Logging.Compress,
	})
	ctx := context.Background()

	shutdownTracing, err := observability.InitTracing(ctx, cfg.Tracing, version)
	if err != nil {
		return fmt.Errorf("tracing initialization failed: %w", err)
	}
	defer func() {
		tctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(tctx); err != nil {
			metrics.WarnWithContext(tctx, "Tracer shutdown failed", map[string]interface{}{"error": err.Error()})
		}
	}()

	/* Connect to database */
	database, err := db.NewDBWithRetry(cfg.Database.ConnectionString(), db.PoolConfig{
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
	}, 5, 2*time.Second)
	if err != nil {
		return err
	}
	defer database.Close()

	if err := db.NewMigrationRunner(cfg.Database.URL()).Run(ctx); err != nil {
		return err
	}

	queries := db.NewQueries(database.DB)
	queries.SetConnInfoFunc(database.GetConnInfoString)

	/* Pricing: seed missing rows, then load the table */
	seeded, err := pricing.Seed(ctx, queries, cfg.Pricing.Seed)
	if err != nil {
		return err
	}
	calculator := pricing.NewCalculator(queries)
	if err := calculator.Refresh(ctx); err != nil {
		return err
	}
	metrics.InfoWithContext(ctx, "Pricing table loaded", map[string]interface{}{
		"models": len(calculator.Prices()),
		"seeded": seeded,
	})

	/* Delivery engine, event dispatch and cost tracking */
	engine := webhooks.NewEngine(queries, cfg.Webhooks)
	engine.Start()
	sweeper := webhooks.NewSweeper(queries, engine, cfg.Webhooks)

	dispatcher := events.NewDispatcher(queries, engine, events.NewBroker())
	tracker := cost.NewTracker(cost.NewStore(queries), calculator, dispatcher)
	registry := webhooks.NewRegistry(queries, engine)

	/* Background jobs */
	scheduler := jobs.NewScheduler()
	for _, job := range []jobs.Job{
		jobs.RetrySweep(sweeper, cfg.Webhooks.SweepInterval),
		jobs.BudgetRollover(budget.NewRoller(queries, cfg.Budgets.RolloverBatchSize), cfg.Budgets.RolloverInterval),
		jobs.PricingRefresh(calculator, cfg.Pricing.RefreshInterval),
		jobs.PoolStats(database, poolStatsInterval),
	} {
		if err := scheduler.Register(job); err != nil {
			return err
		}
	}
	scheduler.Start()

	/* HTTP */
	authenticator, err := api.NewAuthenticator(cfg.Auth)
	if err != nil {
		return err
	}
	handlers := api.NewHandlers(tracker, dispatcher, registry, calculator, database, version)
	handler := api.NewRouter(handlers, api.RouterOptions{
		Authenticator: authenticator,
		CORSOrigins:   cfg.Server.CORSOrigins,
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.Server.WriteTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		metrics.InfoWithContext(ctx, "NeuronLedger server starting", map[string]interface{}{
			"addr":      addr,
			"version":   version,
			"auth_mode": cfg.Auth.Mode,
			"jobs":      scheduler.Jobs(),
		})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- fmt.Errorf("server failed on %s: %w", addr, err)
		}
		close(serverErr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-quit:
		metrics.InfoWithContext(ctx, "Shutdown signal received", map[string]interface{}{"signal": sig.String()})
	case runErr = <-serverErr:
	}

	/* Stop intake first, then drain background work */
	sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		metrics.WarnWithContext(sctx, "HTTP server shutdown incomplete", map[string]interface{}{"error": err.Error()})
	}
	tracker.Wait()
	dispatcher.Wait()
	scheduler.Stop()
	engine.Stop()

	metrics.InfoWithContext(ctx, "NeuronLedger server stopped", nil)
	return runErr
}
