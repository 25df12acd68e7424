// Package main is the entry point for the refdata auxiliary market data
// service. It synthesizes factor files, map files and daily coarse universe
// snapshots from Polygon.io market data, serves them over HTTP, and answers
// point-in-time fundamental lookups against a per-ticker filing cache.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/aristath/refdata/internal/clients/polygon"
	"github.com/aristath/refdata/internal/config"
	"github.com/aristath/refdata/internal/database"
	"github.com/aristath/refdata/internal/events"
	"github.com/aristath/refdata/internal/modules/factors"
	"github.com/aristath/refdata/internal/modules/mapfiles"
	"github.com/aristath/refdata/internal/modules/market_hours"
	"github.com/aristath/refdata/internal/modules/universe"
	"github.com/aristath/refdata/internal/registry"
	"github.com/aristath/refdata/internal/reliability"
	"github.com/aristath/refdata/internal/scheduler"
	"github.com/aristath/refdata/internal/server"
	"github.com/aristath/refdata/pkg/logger"
)

// Cron schedules for the background jobs. Coarse generation runs after the
// US close on weekdays; backups run nightly and rotation keeps a month.
const (
	coarseSchedule      = "0 0 22 * * MON-FRI"
	backupSchedule      = "0 0 3 * * *"
	backupRetentionDays = 30
)

// main orchestrates the startup sequence:
//  1. Load configuration from environment variables (.env optional)
//  2. Initialize structured logging
//  3. Open the permanent-identifier registry database
//  4. Wire the Polygon gateway into the three generation engines
//  5. Register scheduled jobs (nightly coarse generation, optional backups)
//  6. Start the HTTP server and wait for a shutdown signal
func main() {
	cfg, err := config.Load()
	if err != nil {
		// Use fallback logger if config fails
		fallbackLog := logger.New(logger.Config{
			Level:  "info",
			Pretty: true,
		})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: true,
	})
	logger.SetGlobalLogger(log)

	log.Info().Str("data_dir", cfg.DataDir).Msg("Starting refdata")

	// Event system: engines and jobs publish through the manager, the HTTP
	// server forwards the bus to SSE and websocket clients.
	bus := events.NewBus(log)
	eventManager := events.NewManager(bus, log)

	// Permanent-identifier registry. Assignments are created on first sight
	// and never rewritten, so the database must outlive any one process.
	registryDB, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "registry.db"),
		Profile: database.ProfileStandard,
		Name:    "registry",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open registry database")
	}
	defer registryDB.Close()

	reg, err := registry.New(registryDB.Conn(), log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize permanent-ID registry")
	}

	// Upstream gateway and the trading calendar shared by the engines.
	gateway := polygon.NewClient(cfg.PolygonAPIKey, log)
	calendar := market_hours.NewService()

	// Generation engines. The factor engine doubles as the factor source for
	// coarse rows; the registry is the permanent-ID source.
	factorEngine := factors.NewEngine(cfg.DataDir, gateway, calendar, eventManager, log)
	mapEngine := mapfiles.NewEngine(cfg.DataDir, gateway, eventManager, log)
	universeEngine := universe.NewEngine(universe.Options{
		DataDir:            cfg.DataDir,
		MaxConcurrent:      cfg.CoarseMaxConcurrent,
		FinancialsCacheHrs: cfg.FinancialsCacheHours,
		LiveMode:           cfg.LiveMode,
	}, gateway, factorEngine, reg, eventManager, log)

	// Background jobs.
	sched := scheduler.New(eventManager, log)
	coarseJob := scheduler.NewCoarseGenerationJob(universeEngine, calendar, log)
	if err := sched.AddJob(coarseSchedule, coarseJob); err != nil {
		log.Fatal().Err(err).Msg("Failed to register coarse generation job")
	}

	if cfg.Backup.Enabled() {
		s3Client, err := reliability.NewS3Client(cfg.Backup, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize S3 backup client")
		}
		backupService := reliability.NewBackupService(s3Client, cfg.DataDir, eventManager, log)
		backupJob := scheduler.NewBackupJob(backupService, backupRetentionDays, log)
		if err := sched.AddJob(backupSchedule, backupJob); err != nil {
			log.Fatal().Err(err).Msg("Failed to register backup job")
		}
		log.Info().Str("bucket", cfg.Backup.Bucket).Msg("Backups enabled")
	} else {
		log.Info().Msg("Backups disabled (no bucket configured)")
	}

	sched.Start()
	defer sched.Stop()

	// HTTP server. Artifact requests drive generation on demand, so the
	// server is the live entry point into the same engines the jobs use.
	srv := server.New(server.Config{
		Log:      log,
		DataDir:  cfg.DataDir,
		Port:     cfg.Port,
		DevMode:  cfg.DevMode,
		Factors:  factorEngine,
		Maps:     mapEngine,
		Universe: universeEngine,
		Registry: reg,
		EventBus: bus,
	})

	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	log.Info().Int("port", cfg.Port).Msg("Server started successfully")

	// Block until SIGINT or SIGTERM.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	// In-flight requests get up to 10 seconds to finish.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server stopped")
}
