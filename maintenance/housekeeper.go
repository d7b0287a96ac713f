// Package maintenance runs the background jobs of the engine: connectivity
// probes, queue draining, trending prewarm and storage housekeeping.
package maintenance

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/goliatone/go-offline-sync/backup"
	"github.com/goliatone/go-offline-sync/internal/logging"
)

// DefaultBudgetBytes is the backup size kept by housekeeping.
const DefaultBudgetBytes int64 = 100 * 1024 * 1024

// Backup is the offline store being swept.
type Backup interface {
	SweepExpired(ctx context.Context) (int64, error)
	EvictLeastValuable(ctx context.Context, budgetBytes int64) (backup.EvictionReport, error)
}

// Forgetter drops keys from the fast cache.
type Forgetter interface {
	Forget(ctx context.Context, key string) error
}

// Purger removes completed queue rows.
type Purger interface {
	PurgeCompleted(ctx context.Context, olderThan time.Duration) (int64, error)
}

// Report summarizes one housekeeping pass.
type Report struct {
	Swept       int64
	Evicted     []string
	BeforeBytes int64
	AfterBytes  int64
	Purged      int64
}

// Housekeeper keeps the durable tables bounded.
type Housekeeper struct {
	backup    Backup
	fast      Forgetter
	queue     Purger
	budget    int64
	retention time.Duration
	logger    *zap.Logger
}

// HousekeeperOption configures a Housekeeper.
type HousekeeperOption func(*Housekeeper)

// WithBackup sets the backup store to sweep and evict.
func WithBackup(b Backup) HousekeeperOption {
	return func(h *Housekeeper) { h.backup = b }
}

// WithFastCache sets the cache whose entries follow backup evictions.
func WithFastCache(f Forgetter) HousekeeperOption {
	return func(h *Housekeeper) { h.fast = f }
}

// WithQueue sets the queue to purge.
func WithQueue(q Purger) HousekeeperOption {
	return func(h *Housekeeper) { h.queue = q }
}

// WithBudget overrides DefaultBudgetBytes.
func WithBudget(bytes int64) HousekeeperOption {
	return func(h *Housekeeper) {
		if bytes > 0 {
			h.budget = bytes
		}
	}
}

// WithRetention sets the age of completed queue rows to purge. Zero uses the
// queue's own retention.
func WithRetention(d time.Duration) HousekeeperOption {
	return func(h *Housekeeper) { h.retention = d }
}

// WithHousekeeperLogger sets the logger.
func WithHousekeeperLogger(l *zap.Logger) HousekeeperOption {
	return func(h *Housekeeper) { h.logger = l }
}

// NewHousekeeper builds a Housekeeper. A missing dependency skips its step.
func NewHousekeeper(opts ...HousekeeperOption) *Housekeeper {
	h := &Housekeeper{budget: DefaultBudgetBytes}
	for _, opt := range opts {
		opt(h)
	}
	h.logger = logging.WithModule(h.logger, "maintenance")
	return h
}

// Run sweeps expired backups, evicts down to the budget and purges old
// completed mutations. Each step runs even if an earlier one failed.
func (h *Housekeeper) Run(ctx context.Context) (Report, error) {
	var (
		report Report
		errs   error
	)

	if h.backup != nil {
		swept, err := h.backup.SweepExpired(ctx)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("sweep expired backups: %w", err))
		}
		report.Swept = swept

		eviction, err := h.backup.EvictLeastValuable(ctx, h.budget)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("evict backups: %w", err))
		}
		report.Evicted = eviction.Keys
		report.BeforeBytes = eviction.BeforeBytes
		report.AfterBytes = eviction.AfterBytes

		if h.fast != nil {
			for _, key := range eviction.Keys {
				if err := h.fast.Forget(ctx, key); err != nil {
					errs = multierr.Append(errs, fmt.Errorf("forget %s: %w", key, err))
				}
			}
		}
	}

	if h.queue != nil {
		purged, err := h.queue.PurgeCompleted(ctx, h.retention)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("purge completed mutations: %w", err))
		}
		report.Purged = purged
	}

	if errs != nil {
		h.logger.Warn("cache cleanup finished with errors", zap.Error(errs))
		return report, errs
	}
	h.logger.Info("cache cleanup completed",
		zap.Int64("swept", report.Swept),
		zap.Int("evicted", len(report.Evicted)),
		zap.Int64("purged", report.Purged))
	return report, nil
}
