// Package sweeper prunes abandoned sessions in the background.
package sweeper

import (
	"context"
	"log/slog"
	"time"

	"github.com/fluia/leadmagnet/internal/metrics"
)

const (
	defaultInterval    = 5 * time.Minute
	defaultIdleTimeout = 30 * time.Minute
)

// Store is the part of the repository the sweeper needs.
type Store interface {
	CleanupExpired(ctx context.Context, ttl time.Duration) (int64, error)
}

// Registry holds live sessions that can be evicted when idle.
type Registry interface {
	EvictIdle(idle time.Duration) int
}

// CleanupCallback is called after each sweep with the counts removed.
type CleanupCallback func(evicted int, deleted int64)

// Config controls a sweeper.
type Config struct {
	// TTL is how long an untouched snapshot is kept in the store. Zero
	// disables store cleanup.
	TTL time.Duration
	// IdleTimeout is how long an untouched session stays in memory before
	// it is evicted. Evicted sessions are restored from the store on demand.
	IdleTimeout time.Duration
	// Interval between sweeps.
	Interval time.Duration
	// OnCleanup, if set, observes every sweep.
	OnCleanup CleanupCallback
}

// Sweeper evicts idle orchestrators from memory and deletes expired
// snapshots from the store.
type Sweeper struct {
	store    Store
	registry Registry
	cfg      Config
	logger   *slog.Logger
}

// New creates a sweeper. registry may be nil.
func New(store Store, registry Registry, cfg Config, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = defaultIdleTimeout
	}
	return &Sweeper{store: store, registry: registry, cfg: cfg, logger: logger}
}

// Run sweeps on every tick until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	s.logger.Info("TTL sweeper started", "interval", s.cfg.Interval, "ttl", s.cfg.TTL, "idle_timeout", s.cfg.IdleTimeout)

	for {
		select {
		case <-ticker.C:
			s.Sweep(ctx)
		case <-ctx.Done():
			s.logger.Info("TTL sweeper shutting down", "reason", ctx.Err())
			return nil
		}
	}
}

// Sweep runs one pass. Failures are logged; the next tick tries again.
func (s *Sweeper) Sweep(ctx context.Context) (evicted int, deleted int64) {
	if s.registry != nil {
		evicted = s.registry.EvictIdle(s.cfg.IdleTimeout)
	}

	if s.cfg.TTL > 0 {
		var err error
		deleted, err = s.store.CleanupExpired(ctx, s.cfg.TTL)
		if err != nil {
			if ctx.Err() != nil {
				s.logger.Debug("TTL sweeper canceled during cleanup, cleanup may be incomplete", "error", err)
			} else {
				s.logger.Error("TTL sweeper failed to cleanup expired snapshots", "error", err)
			}
			deleted = 0
		}
		metrics.AddSwept(deleted)
	}

	if evicted > 0 || deleted > 0 {
		s.logger.Info("TTL sweeper cleanup completed", "evicted", evicted, "deleted", deleted)
	}
	if s.cfg.OnCleanup != nil {
		s.cfg.OnCleanup(evicted, deleted)
	}
	return evicted, deleted
}
