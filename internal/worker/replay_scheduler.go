package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hyperengineering/pantry/internal/types"
)

// PendingCounter reports how many writes are waiting for replay.
type PendingCounter interface {
	CountPendingWrites(ctx context.Context) (int64, error)
}

// HealthChecker probes the remote source.
type HealthChecker interface {
	Health(ctx context.Context) (*types.HealthResponse, error)
}

// ReplayScheduler decides when queued writes are replayed. It signals the
// registered handler when:
//   - Request is called (a write was just queued),
//   - the periodic tick finds writes waiting,
//   - a health probe sees the remote come back after being unreachable.
//
// Signals are delivered one at a time from the Run goroutine. Requests that
// arrive while a replay is running collapse into one follow-up signal.
type ReplayScheduler struct {
	pending       PendingCounter
	health        HealthChecker
	interval      time.Duration
	probeInterval time.Duration

	mu      sync.Mutex
	handler func(ctx context.Context)
	online  bool

	requests chan struct{}
}

// NewReplayScheduler creates a scheduler. A nil health checker disables
// reconnect probing; a zero interval disables the periodic tick.
func NewReplayScheduler(pending PendingCounter, health HealthChecker, interval, probeInterval time.Duration) *ReplayScheduler {
	return &ReplayScheduler{
		pending:       pending,
		health:        health,
		interval:      interval,
		probeInterval: probeInterval,
		online:        true,
		requests:      make(chan struct{}, 1),
	}
}

// OnSignal registers the replay handler. A later call replaces the handler.
func (s *ReplayScheduler) OnSignal(handler func(ctx context.Context)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = handler
}

// Request asks for a replay as soon as possible. It never blocks.
func (s *ReplayScheduler) Request() {
	select {
	case s.requests <- struct{}{}:
	default:
	}
}

// Run starts the scheduler loop. It returns when ctx is cancelled.
func (s *ReplayScheduler) Run(ctx context.Context) {
	slog.Info("worker started",
		"component", "worker",
		"worker", "replay-scheduler",
		"action", "worker_started",
	)

	var tick, probe <-chan time.Time
	if s.interval > 0 {
		t := time.NewTicker(s.interval)
		defer t.Stop()
		tick = t.C
	}
	if s.health != nil && s.probeInterval > 0 {
		p := time.NewTicker(s.probeInterval)
		defer p.Stop()
		probe = p.C
	}

	// Replay anything left over from a previous run.
	s.fireIfPending(ctx, "startup")

	for {
		select {
		case <-ctx.Done():
			slog.Info("worker stopped",
				"component", "worker",
				"worker", "replay-scheduler",
				"action", "worker_stopped",
				"reason", "context_cancelled",
			)
			return
		case <-s.requests:
			s.fire(ctx, "request")
		case <-tick:
			s.fireIfPending(ctx, "tick")
		case <-probe:
			if s.probe(ctx) {
				s.fireIfPending(ctx, "reconnect")
			}
		}
	}
}

// probe checks the remote and reports whether it just came back.
func (s *ReplayScheduler) probe(ctx context.Context) bool {
	_, err := s.health.Health(ctx)
	up := err == nil

	s.mu.Lock()
	wasUp := s.online
	s.online = up
	s.mu.Unlock()

	if up != wasUp {
		slog.Info("remote connectivity changed",
			"component", "worker",
			"worker", "replay-scheduler",
			"action", "connectivity_changed",
			"online", up,
		)
	}
	return up && !wasUp
}

func (s *ReplayScheduler) fireIfPending(ctx context.Context, reason string) {
	n, err := s.pending.CountPendingWrites(ctx)
	if err != nil {
		if ctx.Err() == nil {
			slog.Error("failed to count pending writes",
				"component", "worker",
				"worker", "replay-scheduler",
				"action", "count_failed",
				"error", err,
			)
		}
		return
	}
	if n == 0 {
		return
	}
	s.fire(ctx, reason)
}

func (s *ReplayScheduler) fire(ctx context.Context, reason string) {
	s.mu.Lock()
	handler := s.handler
	s.mu.Unlock()
	if handler == nil || ctx.Err() != nil {
		return
	}

	slog.Debug("replay signalled",
		"component", "worker",
		"worker", "replay-scheduler",
		"action", "replay_signal",
		"reason", reason,
	)
	handler(ctx)
}
