package dispatch

import (
	"context"
	"log/slog"
	"time"

	"github.com/Xenocodek/crypto-webhook-server/internal/log"
)

// Purger removes expired dedupe entries and old delivery-log rows.
type Purger interface {
	PurgeExpired(ctx context.Context, dedupeTTL, retention time.Duration) (int64, error)
}

// Janitor periodically purges expired rows so the state database stays
// bounded.
type Janitor struct {
	purger    Purger
	interval  time.Duration
	dedupeTTL time.Duration
	retention time.Duration
	logger    *slog.Logger
}

// NewJanitor creates a Janitor.
func NewJanitor(purger Purger, interval, dedupeTTL, retention time.Duration) *Janitor {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Janitor{
		purger:    purger,
		interval:  interval,
		dedupeTTL: dedupeTTL,
		retention: retention,
		logger:    log.WithComponent("janitor"),
	}
}

// Start runs the cleanup loop until ctx is cancelled. A purge runs
// immediately at startup, then on every interval tick.
func (j *Janitor) Start(ctx context.Context) error {
	j.logger.Info("janitor started", "interval", j.interval)
	defer j.logger.Info("janitor stopped")

	j.purge(ctx)

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			j.purge(ctx)
		}
	}
}

func (j *Janitor) purge(ctx context.Context) {
	purged, err := j.purger.PurgeExpired(ctx, j.dedupeTTL, j.retention)
	if err != nil {
		j.logger.Error("purge failed", "error", err)
		return
	}
	if purged > 0 {
		j.logger.Info("purged expired rows", "count", purged)
	}
}
