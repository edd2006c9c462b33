// Package writequeue submits writes to the remote source and, when the remote
// cannot be reached, keeps them in the durable pending-writes queue until a
// replay succeeds.
//
// A queued write is removed only after the remote confirmed it, and every
// attempt for the same write carries the same idempotency key. Queued writes
// are never dropped and never expire; there is no retry timer here. Replays
// happen when the injected ReplayTrigger signals, or when ReplayQueued is
// called directly.
package writequeue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hyperengineering/pantry/internal/types"
	"github.com/hyperengineering/pantry/internal/validation"
	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// Defaults applied by New for zero Config fields.
const (
	DefaultConcurrency = 4
	DefaultLease       = 2 * time.Minute
)

// Remote is the write side of the remote source.
type Remote interface {
	CreateComment(ctx context.Context, idempotencyKey string, payload json.RawMessage) (*types.Comment, error)
	SetFavorite(ctx context.Context, idempotencyKey string, id int64, favorite bool) (*types.Entity, error)
}

// LocalStore is the subset of the local store the queue needs.
type LocalStore interface {
	PutEntities(ctx context.Context, entities []types.Entity) (*types.PutResult, error)
	PutComments(ctx context.Context, comments []types.Comment) (*types.PutResult, error)
	EnqueuePendingWrite(ctx context.Context, kind types.WriteKind, idempotencyKey string, payload json.RawMessage) (*types.PendingWrite, error)
	ListPendingWrites(ctx context.Context) ([]types.PendingWrite, error)
	ClaimPendingWrites(ctx context.Context, owner string, lease time.Duration, after int64, limit int) ([]types.PendingWrite, error)
	ReleasePendingWrite(ctx context.Context, id int64, owner, lastErr string) error
	DeletePendingWrite(ctx context.Context, id int64, owner string) error
}

// ReplayTrigger is the host facility that decides when queued writes are
// replayed. The queue registers its replay handler with OnSignal and calls
// Request whenever it queues a write.
type ReplayTrigger interface {
	OnSignal(handler func(ctx context.Context))
	Request()
}

// State is the outcome of a submission.
type State string

const (
	// StateConfirmed means the remote accepted the write and the result was
	// merged into the local store.
	StateConfirmed State = "confirmed"
	// StateQueued means the remote could not be reached and the write waits
	// in the pending-writes queue.
	StateQueued State = "queued"
)

// Submission reports what happened to one write.
type Submission struct {
	State   State               `json:"state"`
	Comment *types.Comment      `json:"comment,omitempty"`
	Entity  *types.Entity       `json:"entity,omitempty"`
	Pending *types.PendingWrite `json:"pending,omitempty"`
}

// ReplayStats summarizes one replay run.
type ReplayStats struct {
	Claimed   int           `json:"claimed"`
	Confirmed int           `json:"confirmed"`
	Failed    int           `json:"failed"`
	Duration  time.Duration `json:"duration"`
}

// Config tunes replay.
type Config struct {
	// Concurrency bounds how many queued writes are claimed and replayed at
	// once.
	Concurrency int
	// Lease is how long a claimed write stays invisible to other replayers.
	// It must outlast one remote submission.
	Lease time.Duration
	// Owner identifies this queue in claims. Generated when empty.
	Owner string
}

// Queue is the write queue and replay engine.
type Queue struct {
	remote  Remote
	local   LocalStore
	trigger ReplayTrigger
	cfg     Config

	replays  singleflight.Group
	inflight sync.WaitGroup
}

// New creates a Queue and registers its replay handler with trigger. A nil
// trigger disables automatic replay; ReplayQueued still works.
func New(remote Remote, local LocalStore, trigger ReplayTrigger, cfg Config) *Queue {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.Lease <= 0 {
		cfg.Lease = DefaultLease
	}
	if cfg.Owner == "" {
		cfg.Owner = "replay-" + ulid.Make().String()
	}

	q := &Queue{remote: remote, local: local, trigger: trigger, cfg: cfg}
	if trigger != nil {
		trigger.OnSignal(func(ctx context.Context) {
			if _, err := q.ReplayQueued(ctx); err != nil && ctx.Err() == nil {
				slog.Error("replay failed",
					"error", err,
					"component", "writequeue",
				)
			}
		})
	}
	return q
}

// SubmitComment sends a new review to the remote. Invalid input is rejected
// with validation.Errors before any I/O. A missing CreatedAt is set to now.
//
// When the remote is unreachable the review is queued and the Submission is
// StateQueued with a nil error. When the remote confirmed but the result could
// not be stored locally, both the confirmed Submission and the storage error
// are returned.
func (q *Queue) SubmitComment(ctx context.Context, nc types.NewComment) (*Submission, error) {
	if nc.CreatedAt.IsZero() {
		nc.CreatedAt = types.Now()
	}
	if err := validation.ValidateNewComment(nc); err != nil {
		return nil, err
	}

	payload, err := json.Marshal(nc)
	if err != nil {
		return nil, fmt.Errorf("encode review: %w", err)
	}
	key := ulid.Make().String()

	created, err := q.remote.CreateComment(ctx, key, payload)
	if err != nil {
		return q.enqueue(ctx, types.WriteKindComment, key, payload, err)
	}

	sub := &Submission{State: StateConfirmed, Comment: created}
	if _, err := q.local.PutComments(ctx, []types.Comment{*created}); err != nil {
		return sub, fmt.Errorf("persist confirmed review: %w", err)
	}
	return sub, nil
}

// SetFavorite sets the favorite flag of a restaurant on the remote, queueing
// the change when the remote is unreachable. The local copy is only updated
// once the remote confirms.
func (q *Queue) SetFavorite(ctx context.Context, id int64, favorite bool) (*Submission, error) {
	var c validation.Collector
	c.Add(validation.ValidateID("restaurant_id", id))
	if err := c.Err(); err != nil {
		return nil, err
	}

	payload, err := json.Marshal(types.FavoriteUpdate{RestaurantID: id, IsFavorite: favorite})
	if err != nil {
		return nil, fmt.Errorf("encode favorite: %w", err)
	}
	key := ulid.Make().String()

	entity, err := q.remote.SetFavorite(ctx, key, id, favorite)
	if err != nil {
		return q.enqueue(ctx, types.WriteKindFavorite, key, payload, err)
	}

	sub := &Submission{State: StateConfirmed, Entity: entity}
	if _, err := q.local.PutEntities(ctx, []types.Entity{*entity}); err != nil {
		return sub, fmt.Errorf("persist confirmed favorite: %w", err)
	}
	return sub, nil
}

func (q *Queue) enqueue(ctx context.Context, kind types.WriteKind, key string, payload json.RawMessage, cause error) (*Submission, error) {
	pending, err := q.local.EnqueuePendingWrite(ctx, kind, key, payload)
	if err != nil {
		return nil, fmt.Errorf("queue %s: %w", kind, err)
	}

	slog.Info("write queued for replay",
		"action", "queue",
		"kind", kind,
		"pending_id", pending.ID,
		"cause", cause,
		"component", "writequeue",
	)

	if q.trigger != nil {
		q.trigger.Request()
	}
	return &Submission{State: StateQueued, Pending: pending}, nil
}

// ReplayQueued replays every queued write that no other replayer holds.
// Concurrent calls share one run. Each write is replayed independently: a
// failure is recorded on that write and never affects the others.
//
// The shared run is not tied to any caller's context. A caller whose context
// ends stops waiting and gets ctx.Err(); the run continues for the others and
// Wait blocks until it is over.
func (q *Queue) ReplayQueued(ctx context.Context) (*ReplayStats, error) {
	q.inflight.Add(1)
	flight := q.replays.DoChan("replay", func() (any, error) {
		return q.replay(context.WithoutCancel(ctx))
	})
	done := make(chan singleflight.Result, 1)
	go func() {
		res := <-flight
		q.inflight.Done()
		done <- res
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-done:
		if res.Err != nil {
			return nil, res.Err
		}
		stats := *res.Val.(*ReplayStats)
		return &stats, nil
	}
}

// Wait blocks until no replay is running.
func (q *Queue) Wait() {
	q.inflight.Wait()
}

// replay claims at most Concurrency writes at a time, so no claimed write
// waits for a free slot while its lease runs. The id cursor makes a run visit
// each write once even when a failed write is released straight back.
func (q *Queue) replay(ctx context.Context) (*ReplayStats, error) {
	start := time.Now()
	stats := &ReplayStats{}

	var after int64
	for {
		claimed, err := q.local.ClaimPendingWrites(ctx, q.cfg.Owner, q.cfg.Lease, after, q.cfg.Concurrency)
		if err != nil {
			return nil, fmt.Errorf("claim pending writes: %w", err)
		}
		if len(claimed) == 0 {
			break
		}
		stats.Claimed += len(claimed)
		after = claimed[len(claimed)-1].ID

		var mu sync.Mutex
		var g errgroup.Group
		for _, w := range claimed {
			w := w
			g.Go(func() error {
				err := q.replayOne(ctx, w)
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					stats.Failed++
				} else {
					stats.Confirmed++
				}
				return nil
			})
		}
		g.Wait()
	}

	stats.Duration = time.Since(start)
	if stats.Claimed > 0 {
		slog.Info("replayed pending writes",
			"action", "replay",
			"claimed", stats.Claimed,
			"confirmed", stats.Confirmed,
			"failed", stats.Failed,
			"component", "writequeue",
		)
	}
	return stats, nil
}

// replayOne submits one queued write and settles it: deleted on confirmation,
// released with the failure recorded otherwise. A write whose claim was lost
// to another replayer is left to that replayer.
func (q *Queue) replayOne(ctx context.Context, w types.PendingWrite) error {
	err := q.submitPending(ctx, w)
	if err != nil {
		slog.Warn("replay attempt failed",
			"pending_id", w.ID,
			"kind", w.Kind,
			"attempts", w.Attempts+1,
			"error", err,
			"component", "writequeue",
		)
		if relErr := q.local.ReleasePendingWrite(ctx, w.ID, q.cfg.Owner, err.Error()); relErr != nil {
			slog.Error("failed to release pending write",
				"pending_id", w.ID,
				"error", relErr,
				"component", "writequeue",
			)
		}
		return err
	}

	// The remote has the write. If this delete fails the lease expires and the
	// next replay resubmits under the same idempotency key.
	if err := q.local.DeletePendingWrite(ctx, w.ID, q.cfg.Owner); err != nil {
		slog.Error("failed to delete confirmed write",
			"pending_id", w.ID,
			"error", err,
			"component", "writequeue",
		)
	}
	return nil
}

var errUnknownKind = errors.New("unknown pending write kind")

func (q *Queue) submitPending(ctx context.Context, w types.PendingWrite) error {
	switch w.Kind {
	case types.WriteKindComment:
		created, err := q.remote.CreateComment(ctx, w.IdempotencyKey, w.Payload)
		if err != nil {
			return err
		}
		if _, err := q.local.PutComments(ctx, []types.Comment{*created}); err != nil {
			return fmt.Errorf("persist confirmed review: %w", err)
		}
		return nil

	case types.WriteKindFavorite:
		var fu types.FavoriteUpdate
		if err := json.Unmarshal(w.Payload, &fu); err != nil {
			return fmt.Errorf("decode favorite payload: %w", err)
		}
		entity, err := q.remote.SetFavorite(ctx, w.IdempotencyKey, fu.RestaurantID, fu.IsFavorite)
		if err != nil {
			return err
		}
		if _, err := q.local.PutEntities(ctx, []types.Entity{*entity}); err != nil {
			return fmt.Errorf("persist confirmed favorite: %w", err)
		}
		return nil
	}
	return fmt.Errorf("%w: %q", errUnknownKind, w.Kind)
}

// PendingWrites returns every write still waiting for the remote.
func (q *Queue) PendingWrites(ctx context.Context) ([]types.PendingWrite, error) {
	return q.local.ListPendingWrites(ctx)
}

// PendingComments returns the queued reviews of one restaurant as provisional
// comments without ids, oldest first.
func (q *Queue) PendingComments(ctx context.Context, entityID int64) ([]types.Comment, error) {
	writes, err := q.local.ListPendingWrites(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]types.Comment, 0)
	for _, w := range writes {
		if w.Kind != types.WriteKindComment {
			continue
		}
		var nc types.NewComment
		if err := json.Unmarshal(w.Payload, &nc); err != nil {
			continue
		}
		if int64(nc.RestaurantID) == entityID {
			out = append(out, nc.Provisional())
		}
	}
	return out, nil
}
