// cmd/service/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/robfig/cron/v3"

	"ecosystem-harvester/internal/activity"
	"ecosystem-harvester/internal/api"
	"ecosystem-harvester/internal/config"
	"ecosystem-harvester/internal/discovery"
	gh "ecosystem-harvester/internal/github"
	"ecosystem-harvester/internal/pool"
	"ecosystem-harvester/internal/runner"
	"ecosystem-harvester/internal/store"
)

func main() {
	if err := run(); err != nil {
		slog.Error("Application startup error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Initialize structured logger
	logLevel := new(slog.LevelVar)
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	logger := slog.New(handler)
	slog.SetDefault(logger)

	// 2. Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	setLogLevel(cfg.LogLevel, logLevel)
	logger.Info("Configuration loaded successfully", "credentials", len(cfg.GithubTokens))

	// 3. Setup context for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// 4. Initialize database connection and run migrations
	dbpool, err := pgxpool.New(ctx, cfg.DBURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer dbpool.Close()
	logger.Info("Database connection established")

	if err := runMigrations(cfg.DBURL); err != nil {
		return fmt.Errorf("failed to run database migrations: %w", err)
	}
	logger.Info("Database migrations applied successfully")

	// 5. Build the credential pool and request scheduler
	creds, err := buildCredentials(cfg, logger)
	if err != nil {
		return err
	}
	credPool, err := pool.New(creds, pool.DefaultPolicy(), logger)
	if err != nil {
		return fmt.Errorf("failed to create credential pool: %w", err)
	}
	scheduler := pool.NewScheduler(credPool, logger)

	// 6. Initialize application components
	db := store.NewPostgres(dbpool, logger)
	engine := discovery.NewEngine(scheduler, db, logger, discovery.Config{
		Ecosystem:         cfg.Ecosystem,
		Language:          cfg.Language,
		Targets:           cfg.ParsedTargets,
		Keywords:          cfg.BroadKeywords,
		BroadStarFloor:    cfg.BroadStarFloor,
		TrendingStarFloor: cfg.TrendingStarFloor,
	})
	collector := activity.NewCollector(scheduler, db, logger, activity.Config{
		Ecosystem: cfg.Ecosystem,
		PageSize:  cfg.ActivityPageSize,
	})

	// 7. Schedule recurring runs
	scheduleRuns(ctx, cfg, engine, collector, logger)

	// 8. Start the HTTP operational surface
	server := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: api.NewRouter(ctx, engine, collector, logger),
	}
	go func() {
		logger.Info("HTTP server listening", "addr", cfg.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server error", "error", err)
		}
	}()

	// 9. Wait for shutdown signal
	logger.Info("Application started. Waiting for shutdown signal...")
	<-ctx.Done()
	logger.Info("Shutdown signal received. Exiting.")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	return nil
}

// buildCredentials wraps each configured token in an authenticated client.
func buildCredentials(cfg *config.Config, logger *slog.Logger) ([]*pool.Credential, error) {
	creds := make([]*pool.Credential, 0, len(cfg.GithubTokens))
	for i, token := range cfg.GithubTokens {
		id := fmt.Sprintf("token-%02d", i+1)
		var client *gh.Client
		if cfg.GithubBaseURL != "" {
			var err error
			client, err = gh.NewEnterpriseClient(token, cfg.GithubBaseURL, logger)
			if err != nil {
				return nil, fmt.Errorf("failed to create client for %s: %w", id, err)
			}
		} else {
			client = gh.NewClient(token, logger)
		}
		creds = append(creds, pool.NewCredential(id, client))
	}
	return creds, nil
}

// scheduleRuns registers the cron entries for the recurring workers. A
// trigger that lands while the previous run is still active is rejected by
// the worker's guard and logged, never queued.
func scheduleRuns(ctx context.Context, cfg *config.Config, engine *discovery.Engine, collector *activity.Collector, logger *slog.Logger) {
	c := cron.New()
	mustSchedule(c, cfg.DiscoveryCron, "discovery", logger, func() error {
		return engine.Start(ctx)
	})
	mustSchedule(c, cfg.ActivityCron, "activity", logger, func() error {
		return collector.Start(ctx, false)
	})
	mustSchedule(c, cfg.BackfillCron, "backfill", logger, func() error {
		return collector.Start(ctx, true)
	})
	c.Start()
	go func() {
		<-ctx.Done()
		c.Stop()
	}()
}

func mustSchedule(c *cron.Cron, spec, name string, logger *slog.Logger, start func() error) {
	_, err := c.AddFunc(spec, func() {
		if err := start(); err != nil {
			if errors.Is(err, runner.ErrAlreadyRunning) {
				logger.Warn("Skipping scheduled run, previous one still active", "run", name)
				return
			}
			logger.Error("Failed to start scheduled run", "run", name, "error", err)
		}
	})
	if err != nil {
		logger.Error("Invalid cron expression, run not scheduled", "run", name, "spec", spec, "error", err)
	}
}

func runMigrations(dbURL string) error {
	m, err := migrate.New("file://migrations", dbURL)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return err
	}
	return nil
}

func setLogLevel(level string, v *slog.LevelVar) {
	switch level {
	case "debug":
		v.Set(slog.LevelDebug)
	case "warn":
		v.Set(slog.LevelWarn)
	case "error":
		v.Set(slog.LevelError)
	default:
		v.Set(slog.LevelInfo)
	}
}
