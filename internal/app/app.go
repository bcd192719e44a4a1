package app

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/folio/internal/common"
	"github.com/ternarybob/folio/internal/interfaces"
	"github.com/ternarybob/folio/internal/services/content"
	"github.com/ternarybob/folio/internal/services/extraction"
	"github.com/ternarybob/folio/internal/services/parsers"
	"github.com/ternarybob/folio/internal/services/scheduler"
	"github.com/ternarybob/folio/internal/storage"
)

// Maintenance job names
const (
	JobStuckSweep = "stuck_extraction_sweep"
	JobRetention  = "attempt_retention"
)

// shutdownTimeout bounds how long Close waits for in-flight extractions
const shutdownTimeout = 30 * time.Second

// App holds all application components and dependencies
type App struct {
	Config         *common.Config
	Logger         arbor.ILogger
	StorageManager interfaces.StorageManager

	Parsers           *parsers.Registry
	Normalizer        *content.Normalizer
	ExtractionService *extraction.Service
	SchedulerService  interfaces.SchedulerService
}

// New wires storage, parsers, the extraction orchestrator and the maintenance scheduler
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	if err := app.initDatabase(); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	if err := app.initServices(); err != nil {
		app.StorageManager.Close()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	if err := app.initScheduler(); err != nil {
		app.StorageManager.Close()
		return nil, fmt.Errorf("failed to initialize scheduler: %w", err)
	}

	logger.Info().
		Str("storage", cfg.Storage.Type).
		Int("max_concurrent", cfg.Extraction.MaxConcurrent).
		Str("admission", cfg.Extraction.Admission).
		Bool("ocr_enabled", cfg.OCR.Enabled).
		Bool("scheduler_enabled", cfg.Scheduler.Enabled).
		Msg("Application initialization complete")

	return app, nil
}

// initDatabase initializes the storage layer (Badger or SQLite)
func (a *App) initDatabase() error {
	storageManager, err := storage.NewStorageManager(a.Logger, a.Config)
	if err != nil {
		return fmt.Errorf("failed to create storage manager: %w", err)
	}
	a.StorageManager = storageManager

	a.Logger.Debug().Str("type", a.Config.Storage.Type).Msg("Storage layer initialized")
	return nil
}

func (a *App) initServices() error {
	a.Parsers = parsers.NewRegistry(a.Config.OCR, a.Logger)
	a.Normalizer = content.NewNormalizer(a.Config.Extraction.PreviewLength, a.Logger)

	a.ExtractionService = extraction.NewService(
		a.Config.Extraction,
		a.StorageManager,
		a.Parsers,
		a.Normalizer,
		a.Config.Scheduler.ResubmitRate,
		a.Logger,
	)

	a.Logger.Debug().Msg("Extraction service initialized")
	return nil
}

// initScheduler registers the stuck sweep and attempt retention jobs
func (a *App) initScheduler() error {
	sched := scheduler.NewService(a.Logger)
	a.SchedulerService = sched

	if err := sched.RegisterJob(JobStuckSweep, a.Config.Scheduler.StuckSweepSchedule,
		"Retry or fail extraction attempts stuck in processing", a.runStuckSweep); err != nil {
		return err
	}

	if err := sched.RegisterJob(JobRetention, a.Config.Scheduler.RetentionSchedule,
		"Delete finished extraction attempts past the retention age", a.runRetention); err != nil {
		return err
	}

	if !a.Config.Scheduler.Enabled {
		a.Logger.Info().Msg("Scheduler disabled, maintenance jobs will only run when triggered")
		return nil
	}
	return sched.Start()
}

func (a *App) runStuckSweep() error {
	ctx, cancel := context.WithTimeout(context.Background(), a.Config.Extraction.StuckTimeoutDuration())
	defer cancel()

	retried, err := a.ExtractionService.RetryStuckExtractions(ctx)
	if err != nil {
		return err
	}
	if len(retried) > 0 {
		a.Logger.Info().Int("retried", len(retried)).Msg("Stuck sweep finished")
	}
	return nil
}

func (a *App) runRetention() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	_, err := a.ExtractionService.CleanupOldAttempts(ctx, a.Config.Scheduler.RetentionAgeDuration())
	return err
}

// Close stops the scheduler, drains the extraction service and closes storage
func (a *App) Close() error {
	if a.SchedulerService != nil {
		if err := a.SchedulerService.Stop(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to stop scheduler service")
		}
	}

	if a.ExtractionService != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := a.ExtractionService.Shutdown(ctx); err != nil {
			a.Logger.Warn().Err(err).Msg("Extraction service did not drain before timeout")
		}
		cancel()
	}

	if a.StorageManager != nil {
		if err := a.StorageManager.Close(); err != nil {
			return fmt.Errorf("failed to close storage: %w", err)
		}
		a.Logger.Info().Msg("Storage closed")
	}

	return nil
}
