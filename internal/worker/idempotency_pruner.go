package worker

import (
	"context"
	"log/slog"
	"time"
)

// PruneStore defines the store operations needed by the pruner.
type PruneStore interface {
	PruneIdempotencyKeys(ctx context.Context, cutoff time.Time) (int64, error)
}

// IdempotencyPruner periodically removes idempotency keys older than the
// retention window from the reference remote.
type IdempotencyPruner struct {
	store     PruneStore
	interval  time.Duration
	retention time.Duration
}

// NewIdempotencyPruner creates a pruner that runs every interval and keeps
// keys for retention.
func NewIdempotencyPruner(store PruneStore, interval, retention time.Duration) *IdempotencyPruner {
	return &IdempotencyPruner{
		store:     store,
		interval:  interval,
		retention: retention,
	}
}

// Run starts the worker loop. Blocks until ctx is cancelled.
// Does NOT run immediately on start.
func (w *IdempotencyPruner) Run(ctx context.Context) {
	slog.Info("worker started",
		"component", "worker",
		"worker", "idempotency-pruner",
		"action", "worker_started",
		"interval", w.interval.String(),
		"retention", w.retention.String(),
	)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("worker stopped",
				"component", "worker",
				"worker", "idempotency-pruner",
				"action", "worker_stopped",
				"reason", "context_cancelled",
			)
			return
		case <-ticker.C:
			w.prune(ctx)
		}
	}
}

// prune executes a single cycle.
func (w *IdempotencyPruner) prune(ctx context.Context) {
	start := time.Now()
	cutoff := start.Add(-w.retention)

	removed, err := w.store.PruneIdempotencyKeys(ctx, cutoff)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		slog.Error("prune failed",
			"component", "worker",
			"worker", "idempotency-pruner",
			"action", "prune_failed",
			"error", err,
		)
		return
	}

	slog.Debug("prune cycle completed",
		"component", "worker",
		"worker", "idempotency-pruner",
		"action", "prune_complete",
		"removed", removed,
		"cutoff", cutoff.Format(time.RFC3339),
		"duration_ms", time.Since(start).Milliseconds(),
	)
}
