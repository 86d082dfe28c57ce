package di

import (
	"context"

	"faceflow/application/serviceimpl"
	"faceflow/domain/services"
	"faceflow/infrastructure/faceapi"
	"faceflow/infrastructure/googledrive"
	"faceflow/infrastructure/imaging"
	"faceflow/infrastructure/store"
	"faceflow/infrastructure/worker"
	"faceflow/interfaces/api/handlers"
	"faceflow/pkg/config"
	"faceflow/pkg/logger"
	"faceflow/pkg/scheduler"
)

const jobQueueCapacity = 1024

type Container struct {
	// Configuration
	Config *config.Config

	// Infrastructure
	Store          *store.Store
	Processor      *imaging.Processor
	FaceClient     *faceapi.FaceClient
	DriveStore     *googledrive.DriveStore
	EventScheduler scheduler.EventScheduler

	// Services
	ClusterService    services.ClusterService
	RoutingService    services.RoutingService
	EnrollmentService services.EnrollmentService

	// Pipeline
	JobQueue    chan worker.Job
	Coordinator *worker.PhaseCoordinator
	Watcher     *worker.Watcher
	Pool        *worker.Pool
	Drainer     *worker.Drainer
	Supervisor  *worker.Supervisor
}

func NewContainer() *Container {
	return &Container{}
}

func (c *Container) Initialize() error {
	if err := c.initConfig(); err != nil {
		return err
	}
	if err := c.initInfrastructure(); err != nil {
		return err
	}
	if err := c.initServices(); err != nil {
		return err
	}
	if err := c.initPipeline(); err != nil {
		return err
	}
	return nil
}

func (c *Container) initConfig() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	c.Config = cfg

	if err := logger.Init(cfg.App.LogDir, true); err != nil {
		return err
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}
	logger.Startup("config_loaded", "Configuration loaded", map[string]interface{}{
		"event_root": cfg.App.EventRoot,
		"dry_run":    cfg.App.DryRun,
	})
	return nil
}

func (c *Container) initInfrastructure() error {
	st, err := store.NewStore(c.Config.Store.DBPath)
	if err != nil {
		return err
	}
	c.Store = st
	logger.Startup("db_connected", "Database opened and migrated", nil)

	// RAW decoding needs an external toolchain; without one RAW inputs
	// land in Admin/Errors with a decode error.
	c.Processor = imaging.NewProcessor(
		c.Config.Processing.MaxImageSize,
		c.Config.Processing.ThumbnailSize,
		nil,
	)

	c.FaceClient = faceapi.NewFaceClient(c.Config.Processing.AnalyzerURL)
	if !c.FaceClient.IsAvailable(context.Background()) {
		logger.StartupWarn("analyzer_unreachable", "Face analyzer not reachable yet, workers will wait", map[string]interface{}{
			"url": c.Config.Processing.AnalyzerURL,
		})
	}

	c.DriveStore = googledrive.NewDriveStore(c.Config.Drive, c.Config.Upload)

	c.EventScheduler = scheduler.NewEventScheduler()
	return nil
}

func (c *Container) initServices() error {
	c.ClusterService = serviceimpl.NewClusterService(c.Store, c.Config.Processing.ClusterThreshold)
	c.RoutingService = serviceimpl.NewRoutingService(c.Store, c.DriveStore, c.Config)
	c.EnrollmentService = serviceimpl.NewEnrollmentService(c.Store, c.FaceClient, c.DriveStore, c.Processor, c.Config)
	logger.Startup("services_initialized", "Services initialized", nil)
	return nil
}

func (c *Container) initPipeline() error {
	c.JobQueue = make(chan worker.Job, jobQueueCapacity)
	c.Coordinator = worker.NewPhaseCoordinator(c.Config.Processing.BatchSize)

	c.Watcher = worker.NewWatcher(c.Config, c.Store, c.JobQueue)
	c.Pool = worker.NewPool(
		c.JobQueue,
		c.Store,
		c.Processor,
		faceapi.NewFactory(c.Config.Processing.AnalyzerURL),
		c.ClusterService,
		c.RoutingService,
		c.Coordinator,
		c.Config,
	)
	c.Drainer = worker.NewDrainer(c.Store, c.DriveStore, c.Coordinator, c.Config)
	c.Supervisor = worker.NewSupervisor(
		c.Store,
		c.Watcher,
		c.Pool,
		c.Drainer,
		c.Coordinator,
		c.EventScheduler,
		c.JobQueue,
		c.Config,
	)

	logger.Startup("pipeline_initialized", "Pipeline initialized", map[string]interface{}{
		"workers":    c.Config.Processing.WorkerCount,
		"batch_size": c.Config.Processing.BatchSize,
	})
	return nil
}

// Handlers builds the admin API handler set.
func (c *Container) Handlers() *handlers.Handlers {
	return handlers.NewHandlers(
		c.Store,
		c.FaceClient,
		c.ClusterService,
		c.RoutingService,
		c.EnrollmentService,
		c.Coordinator,
		c.Pool,
		logger.Default(),
	)
}

func (c *Container) Cleanup() error {
	logger.Startup("cleanup_started", "Starting cleanup...", nil)

	if c.Supervisor != nil {
		c.Supervisor.Stop()
	}
	if c.Store != nil {
		if err := c.Store.Close(); err != nil {
			logger.StartupWarn("db_close_failed", "Failed to close database", map[string]interface{}{"error": err.Error()})
		} else {
			logger.Startup("db_closed", "Database closed", nil)
		}
	}

	logger.Startup("cleanup_completed", "Cleanup completed", nil)
	return nil
}
