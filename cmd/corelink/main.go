// CoreLink - Integration gateway for core banking and regulatory systems.

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

	"github.com/opencompliance/corelink/internal/api"
	"github.com/opencompliance/corelink/internal/bus"
	"github.com/opencompliance/corelink/internal/cache"
	"github.com/opencompliance/corelink/internal/connector"
	"github.com/opencompliance/corelink/internal/domain"
	"github.com/opencompliance/corelink/internal/repository"
	"github.com/opencompliance/corelink/internal/router"
	"github.com/opencompliance/corelink/internal/transform"
	"github.com/opencompliance/corelink/internal/worker"
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
	if os.Getenv("CORELINK_DEBUG") == "true" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	// Log startup
	slog.Info("starting corelink",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	// Load configuration
	cfg := domain.DefaultConfig()

	// Multi-node deployments run against Postgres, Redis, and NATS.
	if os.Getenv("CORELINK_CLUSTER") == "true" {
		cfg = domain.ClusterConfig()
		slog.Info("running in cluster mode")
	}

	applyEnvOverrides(cfg)

	slog.Info("configuration loaded",
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"connectors", len(cfg.Connectors),
		"endpoints", len(cfg.Endpoints),
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

	// Initialize Transformation Engine
	engine, err := transform.NewEngine(cacheImpl)
	if err != nil {
		slog.Error("failed to initialize transformation engine", "error", err)
		os.Exit(1)
	}
	defer engine.Close()

	// Load rules and lookup tables from the rule store
	// (no hardcoded defaults - configure via API)
	if err := loadRulesFromDatabase(ctx, repo, engine); err != nil {
		slog.Error("failed to load rules", "error", err)
		os.Exit(1)
	}
	if err := loadLookupTablesFromDatabase(ctx, repo, engine); err != nil {
		slog.Error("failed to load lookup tables", "error", err)
		os.Exit(1)
	}
	slog.Info("transformation engine initialized", "rules_count", engine.RulesCount())

	// Initialize Router with connectors and REST endpoints
	rt := router.New(repo, busImpl)
	rt.SetTransformEngine(engine)

	for system, connCfg := range cfg.Connectors {
		connCfg.System = system
		fc := connector.NewFlexcube(connCfg, busImpl)
		rt.RegisterConnector(fc)

		// Connect eagerly; a down core system must not block startup.
		if err := fc.Connect(ctx); err != nil {
			slog.Warn("connector initial connect failed",
				"system", system,
				"error", err,
			)
		}
	}

	for system, epCfg := range cfg.Endpoints {
		rt.RegisterEndpoint(system, epCfg)
	}
	slog.Info("router initialized",
		"connectors", len(cfg.Connectors),
		"endpoints", len(cfg.Endpoints),
	)

	// Initialize async Worker for queued integration requests
	var asyncWorker *worker.Worker
	if os.Getenv("CORELINK_ASYNC_WORKER") != "false" {
		asyncWorker = worker.NewWorker(busImpl, rt)
		if err := asyncWorker.Start(worker.Config{Concurrency: 4}); err != nil {
			slog.Error("failed to start async worker", "error", err)
		}
	}

	// Initialize Server
	srv := api.NewServer(cfg.Server, repo, cacheImpl, busImpl, engine, rt, Version)

	// Start Server in goroutine
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("corelink is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutting down...")

	// Stop async worker first
	if asyncWorker != nil {
		if err := asyncWorker.Stop(); err != nil {
			slog.Error("failed to stop async worker", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	// Log out of every core banking session
	for _, conn := range rt.Connectors() {
		if err := conn.Disconnect(shutdownCtx); err != nil {
			slog.Error("failed to disconnect connector",
				"system", conn.System(),
				"error", err,
			)
		}
	}

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("corelink shutdown complete")
}

// applyEnvOverrides wires external systems from the environment, so a
// single-node deployment needs no config file at all.
func applyEnvOverrides(cfg *domain.Config) {
	if url := os.Getenv("CORELINK_FLEXCUBE_URL"); url != "" {
		cfg.Connectors["flexcube"] = domain.ConnectorConfig{
			System:     "flexcube",
			BaseURL:    url,
			Username:   os.Getenv("CORELINK_FLEXCUBE_USER"),
			Password:   os.Getenv("CORELINK_FLEXCUBE_PASSWORD"),
			BranchCode: os.Getenv("CORELINK_FLEXCUBE_BRANCH"),
		}
	}

	if url := os.Getenv("CORELINK_REGULATORY_URL"); url != "" {
		cfg.Endpoints["fiu-ind"] = domain.EndpointConfig{
			BaseURL: url,
			APIKey:  os.Getenv("CORELINK_REGULATORY_API_KEY"),
		}
	}
}

// loadRulesFromDatabase loads transformation rules from the rule store.
// All rules are configured via POST /rules - no hardcoded defaults.
func loadRulesFromDatabase(ctx context.Context, repo domain.Repository, engine *transform.Engine) error {
	dbRules, err := repo.ListRules(ctx)
	if err != nil {
		slog.Warn("failed to list rules from database", "error", err)
		return nil // Start with empty rules - they can be added via API
	}

	if len(dbRules) > 0 {
		slog.Info("loading rules from database", "count", len(dbRules))
		return engine.LoadRules(dbRules)
	}

	slog.Info("no rules in database - configure via POST /rules API")
	return nil
}

// loadLookupTablesFromDatabase loads lookup tables from the rule store.
func loadLookupTablesFromDatabase(ctx context.Context, repo domain.Repository, engine *transform.Engine) error {
	tables, err := repo.ListLookupTables(ctx)
	if err != nil {
		slog.Warn("failed to list lookup tables from database", "error", err)
		return nil
	}

	for _, table := range tables {
		if err := engine.AddLookupTable(table); err != nil {
			return err
		}
	}

	if len(tables) > 0 {
		slog.Info("loaded lookup tables from database", "count", len(tables))
	}
	return nil
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════╗")
	fmt.Println("  ║               CORELINK                    ║")
	fmt.Println("  ║        Integration Gateway                ║")
	fmt.Println("  ║   One wire to every core system.          ║")
	fmt.Println("  ╚═══════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /integrations               - Execute an integration")
	fmt.Println("    GET  /integrations/{id}          - Get integration by ID")
	fmt.Println("    POST /transform/{ruleId}         - Run a transformation")
	fmt.Println("    GET  /rules                      - List transformation rules")
	fmt.Println("    POST /rules                      - Create a transformation rule")
	fmt.Println("    POST /rules/reload               - Hot-reload rules from database")
	fmt.Println("    GET  /lookup-tables              - List lookup tables")
	fmt.Println("    PUT  /lookup-tables/{id}         - Create or replace a lookup table")
	fmt.Println("    GET  /connectors                 - Connector session status")
	fmt.Println("    POST /connectors/{sys}/connect   - Establish a core session")
	fmt.Println("    GET  /health                     - Health check")
	fmt.Println()
}
