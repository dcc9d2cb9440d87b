// Package daemon assembles the long-running openrunner service: the provider
// registry, the run manager and janitor, the run archive and the HTTP server.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/lipish/openrunner/internal/config"
	"github.com/lipish/openrunner/internal/logger"
	"github.com/lipish/openrunner/internal/observability"
	"github.com/lipish/openrunner/internal/tracing"
	"github.com/lipish/openrunner/pkg/agent"
	"github.com/lipish/openrunner/pkg/archive"
	"github.com/lipish/openrunner/pkg/gateway"
	"github.com/lipish/openrunner/pkg/run"
	"github.com/lipish/openrunner/pkg/server"
	"github.com/rs/zerolog"
)

const defaultShutdownTimeout = 10 * time.Second

// Daemon represents the openrunner service
type Daemon struct {
	config *config.Config
	loader *config.Loader
	logger *logger.Logger
	log    zerolog.Logger

	// Core modules
	providers *gateway.Registry
	factory   *agent.Factory
	runs      *run.Registry
	manager   *run.Manager
	janitor   *run.Janitor
	archive   *archive.Store

	// Services
	server    *server.Server
	watcher   *config.Watcher
	lifecycle *LifecycleManager

	serveErr chan error

	startTime time.Time
	running   bool
	mu        sync.RWMutex

	tracingEnabled bool
}

// Status is a point-in-time view of the daemon.
type Status struct {
	Running    bool
	Uptime     time.Duration
	StartTime  time.Time
	ActiveRuns int
	Providers  int
}

// New creates a daemon from cfg. A non-nil loader enables hot reload of the
// providers section from the loader's file.
func New(cfg *config.Config, log *logger.Logger, loader *config.Loader) (*Daemon, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	observability.EnsureRegistered()

	d := &Daemon{
		config:   cfg,
		loader:   loader,
		logger:   log,
		log:      log.Component("daemon"),
		serveErr: make(chan error, 1),
	}

	if cfg.Tracing.Enabled {
		if err := tracing.InitOpenTelemetry(cfg.Tracing.ServiceName, cfg.Tracing.SampleRatio); err != nil {
			d.log.Warn().Err(err).Msg("Failed to initialize tracing, continuing without distributed tracing")
		} else {
			d.tracingEnabled = true
		}
	}
	if err := observability.InitAuditLogger(filepath.Join(cfg.DataDir, "audit.log")); err != nil {
		d.log.Warn().Err(err).Msg("Failed to open audit log, auditing to stderr")
	}

	if err := d.initializeCoreModules(); err != nil {
		d.abort()
		return nil, fmt.Errorf("failed to initialize core modules: %w", err)
	}
	if err := d.initializeServices(); err != nil {
		d.abort()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	d.lifecycle = NewLifecycleManager(d)
	return d, nil
}

func (d *Daemon) initializeCoreModules() error {
	d.providers = gateway.NewRegistry(d.logger.Component("gateway"))
	if err := d.config.ApplyProviders(d.providers); err != nil {
		return fmt.Errorf("failed to register providers: %w", err)
	}
	d.log.Info().Strs("providers", d.providers.List()).Msg("Provider registry initialized")

	d.factory = agent.NewFactory(
		agent.WithGatewayBuilder(d.providers.AgentBuilder()),
		agent.WithFactoryLogger(d.logger.Component("agent")),
	)

	store, err := archive.Open(d.config.Runs.ArchivePath, d.logger.Component("archive"))
	if err != nil {
		return err
	}
	d.archive = store

	d.runs = run.NewRegistry()
	janitor, err := run.NewJanitor(d.runs, run.JanitorConfig{
		Schedule:         d.config.Runs.CleanupSchedule,
		MaxAge:           d.config.Runs.MaxAgeDuration(),
		Archiver:         store,
		ArchiveRetention: d.config.Runs.ArchiveRetentionDuration(),
		Logger:           d.logger.GetZerolog(),
	})
	if err != nil {
		return err
	}
	d.janitor = janitor
	return nil
}

func (d *Daemon) initializeServices() error {
	broadcaster := server.NewEventBroadcaster(server.NewClientRegistry(), d.logger.Component("broadcaster"))

	d.manager = run.NewManager(run.ManagerConfig{
		Registry:    d.runs,
		Factory:     d.factory,
		Logger:      d.logger.Component("run_manager"),
		EventBuffer: d.config.Runs.EventBuffer,
		MailboxSize: d.config.Runs.MailboxSize,
		Observer:    broadcaster.ObserveRun,
	})

	srv, err := server.New(server.Config{
		Host:          d.config.Server.Host,
		Port:          d.config.Server.Port,
		Manager:       d.manager,
		Providers:     d.providers,
		Factory:       d.factory,
		Archive:       d.archive,
		Broadcaster:   broadcaster,
		DefaultAgent:  d.config.Agent.RunConfig(),
		RateLimit:     d.config.Server.RateLimit,
		MaxConcurrent: d.config.Server.MaxConcurrent,
		CORSOrigins:   d.config.Server.CORSOrigins,
		Logger:        d.logger.Component("server"),
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}
	d.server = srv
	return nil
}

// abort releases what New acquired before failing.
func (d *Daemon) abort() {
	if d.archive != nil {
		_ = d.archive.Close()
	}
	if d.tracingEnabled {
		_ = tracing.ShutdownOpenTelemetry(context.Background())
		d.tracingEnabled = false
	}
}

// Start writes the PID file, starts the janitor and the config watcher, and
// starts serving HTTP in the background. Serve failures surface on Wait.
func (d *Daemon) Start() error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is already running")
	}
	d.running = true
	d.startTime = time.Now()
	d.mu.Unlock()

	logger := d.log.With().Str("trace_id", tracing.NewTraceID()).Logger()
	logger.Info().Msg("Starting openrunner daemon")

	if err := d.lifecycle.Start(); err != nil {
		d.setStopped()
		return fmt.Errorf("failed to start lifecycle manager: %w", err)
	}

	if err := d.janitor.Start(); err != nil {
		_ = d.lifecycle.Stop()
		d.setStopped()
		return fmt.Errorf("failed to start run janitor: %w", err)
	}
	logger.Info().Str("schedule", d.config.Runs.CleanupSchedule).Msg("Run janitor started")

	if d.loader != nil {
		watcher, err := config.NewWatcher(d.loader, d.logger.Component("config"), d.reloadProviders)
		if err != nil {
			logger.Warn().Err(err).Msg("Config hot reload disabled")
		} else {
			d.watcher = watcher
		}
	}

	go func() {
		if err := d.server.Start(); err != nil {
			d.serveErr <- err
		}
	}()

	logger.Info().
		Str("host", d.config.Server.Host).
		Int("port", d.config.Server.Port).
		Msg("Daemon started successfully")
	return nil
}

// reloadProviders re-applies the providers section of a reloaded config.
func (d *Daemon) reloadProviders(cfg *config.Config) {
	if err := cfg.ApplyProviders(d.providers); err != nil {
		d.log.Error().Err(err).Msg("Rejected reloaded providers")
		return
	}
	observability.RecordConfigAudit(context.Background(), "config.reload", "system", map[string]interface{}{
		"providers": d.providers.List(),
	})
	d.log.Info().Strs("providers", d.providers.List()).Msg("Providers reloaded")
}

// Stop stops the daemon gracefully: the HTTP server first, then active runs,
// the janitor, and finally the archive.
func (d *Daemon) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is not running")
	}
	d.running = false
	d.mu.Unlock()

	logger := d.log.With().Str("trace_id", tracing.NewTraceID()).Logger()
	logger.Info().Msg("Stopping openrunner daemon")

	timeout := time.Duration(d.config.Server.ShutdownTimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = defaultShutdownTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var errs []error
	if err := d.server.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("Failed to stop HTTP server")
		errs = append(errs, err)
	}
	if err := d.manager.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("Failed to drain active runs")
		errs = append(errs, err)
	}
	if err := d.janitor.Stop(ctx); err != nil {
		logger.Error().Err(err).Msg("Failed to stop run janitor")
		errs = append(errs, err)
	}
	if d.watcher != nil {
		if err := d.watcher.Stop(); err != nil {
			logger.Error().Err(err).Msg("Failed to stop config watcher")
		}
	}
	if err := d.archive.Close(); err != nil {
		logger.Error().Err(err).Msg("Failed to close run archive")
		errs = append(errs, err)
	}
	if err := d.lifecycle.Stop(); err != nil {
		logger.Error().Err(err).Msg("Failed to stop lifecycle manager")
	}
	if d.tracingEnabled {
		if err := tracing.ShutdownOpenTelemetry(ctx); err != nil {
			logger.Warn().Err(err).Msg("Failed to flush traces")
		}
	}

	logger.Info().Msg("Daemon stopped")
	return errors.Join(errs...)
}

func (d *Daemon) setStopped() {
	d.mu.Lock()
	d.running = false
	d.mu.Unlock()
}

// Wait blocks until SIGINT or SIGTERM arrives, ctx is done or the HTTP
// server fails, then stops the daemon.
func (d *Daemon) Wait(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var serveErr error
	select {
	case <-ctx.Done():
		d.log.Info().Msg("Shutdown requested")
	case serveErr = <-d.serveErr:
		d.log.Error().Err(serveErr).Msg("HTTP server failed")
	}
	return errors.Join(serveErr, d.Stop())
}

// Status returns the current daemon status
func (d *Daemon) Status() Status {
	d.mu.RLock()
	defer d.mu.RUnlock()

	status := Status{
		Running:    d.running,
		ActiveRuns: d.manager.ActiveCount(),
		Providers:  len(d.providers.List()),
	}
	if d.running {
		status.Uptime = time.Since(d.startTime)
		status.StartTime = d.startTime
	}
	return status
}

func (d *Daemon) GetConfig() *config.Config {
	return d.config
}

func (d *Daemon) GetManager() *run.Manager {
	return d.manager
}

func (d *Daemon) GetProviders() *gateway.Registry {
	return d.providers
}

func (d *Daemon) GetServer() *server.Server {
	return d.server
}
