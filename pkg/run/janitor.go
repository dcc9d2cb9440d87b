package run

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/lipish/openrunner/internal/observability"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

const (
	DefaultCleanupSchedule = "@every 1m"
	DefaultMaxAge          = time.Hour
)

// Archiver receives the final snapshots of evicted runs.
type Archiver interface {
	Archive(ctx context.Context, runs []Run) error
}

// Pruner is implemented by archivers that can drop their own old entries.
type Pruner interface {
	Prune(ctx context.Context, cutoff time.Time) (int64, error)
}

// JanitorConfig configures NewJanitor. Zero values take the defaults.
type JanitorConfig struct {
	Schedule string
	MaxAge   time.Duration
	Archiver Archiver
	// ArchiveRetention bounds how long archived runs are kept when the
	// archiver is a Pruner. Zero keeps them forever.
	ArchiveRetention time.Duration
	Logger           zerolog.Logger
}

// Janitor periodically evicts old terminal runs from the registry.
type Janitor struct {
	registry *Registry
	maxAge   time.Duration
	archiver Archiver
	retain   time.Duration
	logger   zerolog.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
}

func NewJanitor(registry *Registry, cfg JanitorConfig) (*Janitor, error) {
	if cfg.Schedule == "" {
		cfg.Schedule = DefaultCleanupSchedule
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = DefaultMaxAge
	}

	j := &Janitor{
		registry: registry,
		maxAge:   cfg.MaxAge,
		archiver: cfg.Archiver,
		retain:   cfg.ArchiveRetention,
		logger:   cfg.Logger.With().Str("component", "run_janitor").Logger(),
		cron:     cron.New(),
	}
	if _, err := j.cron.AddFunc(cfg.Schedule, func() {
		if _, err := j.Sweep(context.Background()); err != nil {
			j.logger.Error().Err(err).Msg("Run cleanup failed")
		}
	}); err != nil {
		return nil, fmt.Errorf("invalid cleanup schedule %q: %w", cfg.Schedule, err)
	}
	return j, nil
}

// Start begins the cleanup schedule.
func (j *Janitor) Start() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.running {
		return fmt.Errorf("janitor is already running")
	}
	j.running = true
	j.cron.Start()

	j.logger.Info().Dur("max_age", j.maxAge).Msg("Run janitor started")
	return nil
}

// Stop halts the schedule and waits for a sweep in progress, if any.
func (j *Janitor) Stop(ctx context.Context) error {
	j.mu.Lock()
	if !j.running {
		j.mu.Unlock()
		return fmt.Errorf("janitor is not running")
	}
	j.running = false
	j.mu.Unlock()

	select {
	case <-j.cron.Stop().Done():
	case <-ctx.Done():
		return ctx.Err()
	}

	j.logger.Info().Msg("Run janitor stopped")
	return nil
}

// Sweep evicts expired runs once and hands them to the archiver, then trims
// the archive to the retention window.
func (j *Janitor) Sweep(ctx context.Context) (int, error) {
	n, err := j.evict(ctx)
	if err != nil {
		return n, err
	}
	return n, j.pruneArchive(ctx)
}

func (j *Janitor) pruneArchive(ctx context.Context) error {
	p, ok := j.archiver.(Pruner)
	if !ok || j.retain <= 0 {
		return nil
	}
	removed, err := p.Prune(ctx, time.Now().Add(-j.retain))
	if err != nil {
		return fmt.Errorf("failed to prune run archive: %w", err)
	}
	if removed > 0 {
		j.logger.Info().Int64("removed", removed).Msg("Pruned run archive")
	}
	return nil
}

func (j *Janitor) evict(ctx context.Context) (int, error) {
	evicted := j.registry.CleanupExpired(j.maxAge)
	observability.SetRegistrySize(j.registry.Len())
	if len(evicted) == 0 {
		return 0, nil
	}

	observability.RecordRunsEvicted(len(evicted))
	j.logger.Info().Int("evicted", len(evicted)).Msg("Cleaned up expired runs")

	if j.archiver == nil {
		return len(evicted), nil
	}
	if err := j.archiver.Archive(ctx, evicted); err != nil {
		return len(evicted), fmt.Errorf("failed to archive %d runs: %w", len(evicted), err)
	}
	return len(evicted), nil
}
