// Package pantry is the caller-facing client of the offline-capable
// restaurant cache. Reads go to the remote source first and fall back to the
// local store; writes that cannot reach the remote are queued and replayed.
package pantry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hyperengineering/pantry/internal/reconcile"
	"github.com/hyperengineering/pantry/internal/remote"
	"github.com/hyperengineering/pantry/internal/store"
	"github.com/hyperengineering/pantry/internal/worker"
	"github.com/hyperengineering/pantry/internal/writequeue"
)

// Client is the pantry client.
type Client struct {
	config    Config
	store     *store.SQLiteStore
	remote    *remote.Client
	reads     *reconcile.Reconciler
	writes    *writequeue.Queue
	scheduler *worker.ReplayScheduler

	mu         sync.RWMutex
	closed     bool
	stopReplay context.CancelFunc
	replayDone chan struct{}
}

// New creates a client. Nothing is opened until Initialize.
func New(config Config) (*Client, error) {
	if config.LocalPath == "" {
		return nil, errors.New("LocalPath is required")
	}

	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}
	if config.ReplayInterval == 0 {
		config.ReplayInterval = time.Minute
	}
	if config.ProbeInterval == 0 {
		config.ProbeInterval = 15 * time.Second
	}

	rc := remote.NewClient(config.RemoteURL, config.Timeout)
	if config.HTTPClient != nil {
		rc = remote.NewClientWithHTTP(config.RemoteURL, config.HTTPClient)
	}
	local := store.NewSQLiteStore(config.LocalPath)
	scheduler := worker.NewReplayScheduler(local, rc, config.ReplayInterval, config.ProbeInterval)

	c := &Client{
		config:    config,
		store:     local,
		remote:    rc,
		reads:     reconcile.New(rc, local),
		scheduler: scheduler,
		writes: writequeue.New(rc, local, scheduler, writequeue.Config{
			Concurrency: config.Concurrency,
			Lease:       config.Lease,
		}),
	}
	return c, nil
}

// Initialize opens the local store and, with AutoReplay, starts the replay
// scheduler. Writes left queued by an earlier run are replayed on start.
func (c *Client) Initialize(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if err := c.store.Open(ctx); err != nil {
		return fmt.Errorf("open local store: %w", err)
	}

	if c.config.AutoReplay && c.stopReplay == nil {
		loopCtx, cancel := context.WithCancel(context.Background())
		c.stopReplay = cancel
		c.replayDone = make(chan struct{})
		go func() {
			defer close(c.replayDone)
			c.scheduler.Run(loopCtx)
		}()
	}

	slog.Info("client initialized",
		"component", "pantry",
		"local_path", c.config.LocalPath,
		"remote", c.remote.BaseURL(),
		"auto_replay", c.config.AutoReplay,
	)
	return nil
}

// Shutdown stops the replay scheduler and closes the local store. Queued
// writes stay queued for the next run.
func (c *Client) Shutdown() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	if c.stopReplay != nil {
		c.stopReplay()
		<-c.replayDone
	}
	c.writes.Wait()
	return c.store.Close()
}

// FetchAll returns every restaurant.
func (c *Client) FetchAll(ctx context.Context) ([]Entity, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return nil, ErrClosed
	}
	return c.reads.FetchAll(ctx)
}

// FetchByID returns one restaurant.
func (c *Client) FetchByID(ctx context.Context, id int64) (*Entity, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return nil, ErrClosed
	}
	return c.reads.FetchByID(ctx, id)
}

// FetchByFilter returns the restaurants keep accepts.
func (c *Client) FetchByFilter(ctx context.Context, keep func(Entity) bool) ([]Entity, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return nil, ErrClosed
	}
	return c.reads.FetchByFilter(ctx, keep)
}

// FetchByCategory returns the restaurants of one cuisine.
func (c *Client) FetchByCategory(ctx context.Context, cuisine string) ([]Entity, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return nil, ErrClosed
	}
	return c.reads.FetchByCategory(ctx, cuisine)
}

// FetchByGrouping returns the restaurants of one neighborhood.
func (c *Client) FetchByGrouping(ctx context.Context, neighborhood string) ([]Entity, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return nil, ErrClosed
	}
	return c.reads.FetchByGrouping(ctx, neighborhood)
}

// FetchByCategoryAndGrouping filters by cuisine and neighborhood; Wildcard
// matches any value.
func (c *Client) FetchByCategoryAndGrouping(ctx context.Context, cuisine, neighborhood string) ([]Entity, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return nil, ErrClosed
	}
	return c.reads.FetchByCategoryAndGrouping(ctx, cuisine, neighborhood)
}

// FetchFavorites returns the restaurants marked favorite.
func (c *Client) FetchFavorites(ctx context.Context) ([]Entity, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return nil, ErrClosed
	}
	return c.reads.FetchFavorites(ctx)
}

// DistinctCategories returns the cuisines in first-seen order.
func (c *Client) DistinctCategories(ctx context.Context) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return nil, ErrClosed
	}
	return c.reads.DistinctCategories(ctx)
}

// DistinctGroupings returns the neighborhoods in first-seen order.
func (c *Client) DistinctGroupings(ctx context.Context) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return nil, ErrClosed
	}
	return c.reads.DistinctGroupings(ctx)
}

// FetchCommentsFor returns the reviews of one restaurant.
func (c *Client) FetchCommentsFor(ctx context.Context, entityID int64) ([]Comment, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return nil, ErrClosed
	}
	return c.reads.FetchCommentsFor(ctx, entityID)
}

// SubmitComment sends a review, queueing it when the remote is unreachable.
func (c *Client) SubmitComment(ctx context.Context, nc NewComment) (*Submission, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return nil, ErrClosed
	}
	return c.writes.SubmitComment(ctx, nc)
}

// SetFavorite sets the favorite flag of a restaurant, queueing the change
// when the remote is unreachable.
func (c *Client) SetFavorite(ctx context.Context, id int64, favorite bool) (*Submission, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return nil, ErrClosed
	}
	return c.writes.SetFavorite(ctx, id, favorite)
}

// PendingWrites lists the writes waiting for the remote.
func (c *Client) PendingWrites(ctx context.Context) ([]PendingWrite, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return nil, ErrClosed
	}
	return c.writes.PendingWrites(ctx)
}

// PendingComments returns the queued reviews of one restaurant for
// provisional display.
func (c *Client) PendingComments(ctx context.Context, entityID int64) ([]Comment, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return nil, ErrClosed
	}
	return c.writes.PendingComments(ctx, entityID)
}

// ReplayQueued replays queued writes now.
func (c *Client) ReplayQueued(ctx context.Context) (*ReplayStats, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return nil, ErrClosed
	}
	return c.writes.ReplayQueued(ctx)
}

// Stats returns local store statistics.
func (c *Client) Stats(ctx context.Context) (*StoreStats, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return nil, ErrClosed
	}
	return c.store.GetStats(ctx)
}

// HealthCheck reports whether the local store and the remote are usable.
func (c *Client) HealthCheck(ctx context.Context) HealthStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var status HealthStatus
	if c.closed {
		status.LastError = ErrClosed.Error()
		return status
	}

	n, err := c.store.CountPendingWrites(ctx)
	if err != nil {
		status.LastError = err.Error()
		return status
	}
	status.LocalStore = true
	status.PendingWrites = n

	h, err := c.remote.Health(ctx)
	if err != nil {
		status.LastError = err.Error()
		return status
	}
	status.Remote = true
	status.RemoteVersion = h.Version
	return status
}
