package app

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/taskferry/internal/common"
	"github.com/ternarybob/taskferry/internal/handlers"
	"github.com/ternarybob/taskferry/internal/interfaces"
	"github.com/ternarybob/taskferry/internal/services/cooldown"
	"github.com/ternarybob/taskferry/internal/services/export"
	"github.com/ternarybob/taskferry/internal/services/jobs"
	"github.com/ternarybob/taskferry/internal/services/transform"
	"github.com/ternarybob/taskferry/internal/storage/badger"
)

// App holds all application components and dependencies
type App struct {
	Config    *common.Config
	Logger    arbor.ILogger
	ctx       context.Context
	cancelCtx context.CancelFunc

	// Storage
	DB      *badger.BadgerDB
	Results interfaces.ResultStorage

	// Services
	Registry     *jobs.Registry
	Sweeper      *jobs.Sweeper
	Broadcaster  *jobs.Broadcaster
	Gate         *cooldown.Gate
	Transform    *transform.Service
	Orchestrator *export.Orchestrator

	// HTTP handlers
	ExportHandler *handlers.ExportHandler
	StreamHandler *handlers.StreamHandler
	WSHandler     *handlers.WebSocketHandler
}

// New initializes the application with all dependencies
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	ctx, cancel := context.WithCancel(context.Background())

	app := &App{
		Config:    cfg,
		Logger:    logger,
		ctx:       ctx,
		cancelCtx: cancel,
	}

	if err := app.initStorage(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	if err := app.initServices(); err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	app.initHandlers()

	logger.Info().
		Int("replication_width", cfg.Export.ReplicationConcurrency).
		Int("enrichment_width", cfg.Export.EnrichmentConcurrency).
		Dur("retention", cfg.Jobs.Retention).
		Msg("Application initialization complete")

	return app, nil
}

// initStorage opens the result store
func (a *App) initStorage() error {
	db, err := badger.NewBadgerDB(a.Logger, &a.Config.Storage.Badger)
	if err != nil {
		return err
	}
	a.DB = db
	a.Results = badger.NewResultStorage(db, a.Logger)
	return nil
}

// initServices wires the export pipeline. One cooldown gate and one
// registry serve every job in the process.
func (a *App) initServices() error {
	clock := common.SystemClock{}

	a.Gate = cooldown.NewGate(a.Config.Productive.Cooldown, clock)
	a.Registry = jobs.NewRegistry(clock, a.Logger)
	a.Broadcaster = jobs.NewBroadcaster(a.Registry, a.Config.Jobs.StreamInterval, a.Config.Jobs.StreamLinger, a.Logger)
	a.Transform = transform.NewService(a.Logger)

	a.Sweeper = jobs.NewSweeper(a.Registry, a.Results, a.Config.Jobs.Retention, a.Config.Jobs.SweepSchedule, a.Logger)
	if err := a.Sweeper.Start(); err != nil {
		return fmt.Errorf("failed to start job sweeper: %w", err)
	}

	a.Orchestrator = export.NewOrchestrator(a.ctx, a.Registry, a.Results, a.Gate, a.Config, a.Logger,
		export.WithClock(clock),
		export.WithConverter(a.Transform),
	)
	return nil
}

func (a *App) initHandlers() {
	a.ExportHandler = handlers.NewExportHandler(a.Orchestrator, a.Registry, a.Results, common.SystemClock{}, a.Logger)
	a.StreamHandler = handlers.NewStreamHandler(a.Broadcaster, a.Registry, a.Logger)
	a.WSHandler = handlers.NewWebSocketHandler(a.StreamHandler, a.Logger)
}

// Close cancels running jobs and releases resources
func (a *App) Close() error {
	if a.cancelCtx != nil {
		a.Logger.Info().Msg("Cancelling running export jobs")
		a.cancelCtx()
	}

	if a.Sweeper != nil {
		a.Sweeper.Stop()
		a.Logger.Info().Msg("Job sweeper stopped")
	}

	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close result store")
			return err
		}
	}

	a.Logger.Info().Msg("Application closed")
	return nil
}
