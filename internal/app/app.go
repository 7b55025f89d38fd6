package app

import (
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/relay/internal/common"
	"github.com/ternarybob/relay/internal/devices"
	"github.com/ternarybob/relay/internal/drivers"
	"github.com/ternarybob/relay/internal/handlers"
	"github.com/ternarybob/relay/internal/interfaces"
	"github.com/ternarybob/relay/internal/jobs"
	"github.com/ternarybob/relay/internal/logs"
	"github.com/ternarybob/relay/internal/queue"
	"github.com/ternarybob/relay/internal/services/scheduler"
	"github.com/ternarybob/relay/internal/ssh"
	storage "github.com/ternarybob/relay/internal/storage/badger"
)

// App holds all application components and dependencies
type App struct {
	Config *common.Config
	Logger arbor.ILogger

	StorageManager *storage.Manager
	Queue          interfaces.Queue
	Fanout         *logs.Fanout
	Registry       *jobs.Registry
	Cancels        *jobs.Cancellations
	JobService     *jobs.Service
	Resolver       *devices.Resolver
	Driver         *drivers.SSHDriver
	Runner         *jobs.Runner
	WorkerPool     *queue.WorkerPool
	Reaper         *scheduler.Reaper
	SessionRelay   *ssh.Relay

	// HTTP handlers
	APIHandler      *handlers.APIHandler
	JobHandler      *handlers.JobHandler
	DeviceHandler   *handlers.DeviceHandler
	StreamHandler   *handlers.StreamHandler
	TerminalHandler *handlers.TerminalHandler
}

// New initializes the application with all dependencies
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	if err := app.initStorage(); err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	if err := app.initServices(); err != nil {
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}
	app.initHandlers()

	logger.Info().
		Int("job_types", len(app.Registry.Types())).
		Msg("Application initialization complete")

	return app, nil
}

func (a *App) initStorage() error {
	manager, err := storage.NewManager(a.Logger, &a.Config.Storage.Badger)
	if err != nil {
		return err
	}
	a.StorageManager = manager

	a.Logger.Debug().
		Str("storage", "badger").
		Str("path", a.Config.Storage.Badger.Path).
		Msg("Storage layer initialized")
	return nil
}

func (a *App) initServices() error {
	queueConfig := queue.Config{
		Name:              a.Config.Queue.QueueName,
		PollInterval:      common.ParseDuration(a.Config.Queue.PollInterval, 250*time.Millisecond),
		VisibilityTimeout: common.ParseDuration(a.Config.Queue.VisibilityTimeout, 5*time.Minute),
		MaxReceive:        a.Config.Queue.MaxReceive,
		Concurrency:       a.Config.Queue.Concurrency,
	}

	badgerQueue, err := queue.NewBadgerQueue(a.StorageManager.DB(), queueConfig)
	if err != nil {
		return fmt.Errorf("failed to initialize queue: %w", err)
	}
	a.Queue = badgerQueue
	a.Logger.Debug().Str("queue_name", queueConfig.Name).Msg("Dispatch queue initialized")

	a.Fanout = logs.NewFanout(a.StorageManager.JobLogStorage(), a.Config.WebSocket.SubscriberQueue, a.Logger)

	a.Registry = jobs.NewRegistry()
	jobs.RegisterBuiltinHandlers(a.Registry)

	a.Cancels = jobs.NewCancellations()

	a.JobService = jobs.NewService(
		a.StorageManager.JobStorage(),
		a.StorageManager.JobLogStorage(),
		a.Queue,
		a.Fanout,
		a.Registry,
		a.Cancels,
		a.Logger,
	)
	a.JobService.CancelGrace = common.ParseDuration(a.Config.Engine.CancelGrace, 10*time.Second)

	a.Resolver = devices.NewResolver(a.StorageManager.DeviceStorage(), a.Logger)

	sshConfig := ssh.Config{
		DialTimeout:       common.ParseDuration(a.Config.SSH.DialTimeout, 10*time.Second),
		CommandTimeout:    common.ParseDuration(a.Config.SSH.CommandTimeout, 60*time.Second),
		KeepaliveInterval: common.ParseDuration(a.Config.SSH.KeepaliveInterval, 30*time.Second),
		IdleTimeout:       common.ParseDuration(a.Config.SSH.IdleTimeout, 10*time.Minute),
		CommandsPerSecond: a.Config.SSH.CommandsPerSecond,
	}

	a.Driver = drivers.NewSSHDriver(drivers.SSHDriverConfig{
		DialTimeout: sshConfig.DialTimeout,
	}, a.Logger)

	runnerConfig := jobs.RunnerConfig{
		FanOutLimit:   common.ParseInt(a.Config.Engine.FanOutLimit, 10),
		TargetTimeout: common.ParseDuration(a.Config.Engine.TargetTimeout, 30*time.Second),
		JobTimeout:    common.ParseDuration(a.Config.Engine.JobTimeout, 0),
		Heartbeat:     common.ParseDuration(a.Config.Engine.Heartbeat, 15*time.Second),
		Visibility:    queueConfig.VisibilityTimeout,
	}

	a.Runner = jobs.NewRunner(
		a.JobService,
		a.Registry,
		a.Resolver,
		a.Resolver,
		a.Driver,
		a.Queue,
		a.Cancels,
		runnerConfig,
		a.Logger,
	)

	a.WorkerPool = queue.NewWorkerPool(a.Queue, queueConfig, a.Runner.Dispatch, a.Logger)

	a.Reaper = scheduler.NewReaper(
		a.JobService,
		a.StorageManager.JobStorage(),
		&a.Config.Reaper,
		a.Logger,
	)

	a.SessionRelay = ssh.NewRelay(
		a.StorageManager.DeviceStorage(),
		a.Resolver,
		sshConfig,
		a.Logger,
	)

	return nil
}

func (a *App) initHandlers() {
	a.APIHandler = handlers.NewAPIHandler(a.StorageManager.JobStorage(), a.Logger)
	a.JobHandler = handlers.NewJobHandler(a.JobService, a.Logger)
	a.DeviceHandler = handlers.NewDeviceHandler(a.StorageManager.DeviceStorage(), a.Logger)
	a.StreamHandler = handlers.NewStreamHandler(a.JobService, a.Fanout, &a.Config.WebSocket, a.Logger)
	a.TerminalHandler = handlers.NewTerminalHandler(a.SessionRelay, &a.Config.WebSocket, a.Logger)
}

// Start launches background processing
func (a *App) Start() error {
	if err := a.WorkerPool.Start(); err != nil {
		return fmt.Errorf("failed to start worker pool: %w", err)
	}
	if err := a.Reaper.Start(); err != nil {
		return fmt.Errorf("failed to start reaper: %w", err)
	}
	return nil
}

// Close closes all application resources
func (a *App) Close() error {
	if a.Reaper != nil {
		a.Reaper.Stop()
	}

	if a.WorkerPool != nil {
		if err := a.WorkerPool.Stop(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to stop worker pool")
		}
	}

	if a.Queue != nil {
		if err := a.Queue.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close queue")
		}
	}

	if a.StorageManager != nil {
		if err := a.StorageManager.Close(); err != nil {
			return fmt.Errorf("failed to close storage: %w", err)
		}
		a.Logger.Info().Msg("Storage closed")
	}

	return nil
}
