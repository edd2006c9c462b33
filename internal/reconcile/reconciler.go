// Package reconcile serves reads network-first and falls back to the local
// store when the network cannot answer.
//
// A successful network read is merged into the local store before it is
// returned, so the local copy is never staler than the last answer a caller
// saw. Network failures of any kind (transport, non-2xx, malformed body) are
// logged and absorbed; callers only ever see ErrNotFoundLocally or a storage
// failure.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hyperengineering/pantry/internal/store"
	"github.com/hyperengineering/pantry/internal/types"
	"github.com/hyperengineering/pantry/internal/views"
)

// Wildcard matches every value in FetchByCategoryAndGrouping.
const Wildcard = "all"

// Source is the read side of the remote source.
type Source interface {
	ListEntities(ctx context.Context) ([]types.Entity, error)
	GetEntity(ctx context.Context, id int64) (*types.Entity, error)
	ListComments(ctx context.Context, entityID int64) ([]types.Comment, error)
}

// LocalStore is the subset of the local store the reconciler reads and fills.
type LocalStore interface {
	PutEntities(ctx context.Context, entities []types.Entity) (*types.PutResult, error)
	PutComments(ctx context.Context, comments []types.Comment) (*types.PutResult, error)
	GetEntity(ctx context.Context, id int64) (*types.Entity, error)
	ListEntities(ctx context.Context) ([]types.Entity, error)
	ListCommentsByEntity(ctx context.Context, entityID int64) ([]types.Comment, error)
}

// Reconciler answers reads from the remote source, or from the local store
// when the remote is unreachable.
type Reconciler struct {
	remote Source
	local  LocalStore
}

// New creates a Reconciler.
func New(remote Source, local LocalStore) *Reconciler {
	return &Reconciler{remote: remote, local: local}
}

// FetchAll returns every restaurant.
func (r *Reconciler) FetchAll(ctx context.Context) ([]types.Entity, error) {
	entities, err := r.remote.ListEntities(ctx)
	if err == nil {
		if _, err := r.local.PutEntities(ctx, entities); err != nil {
			return nil, fmt.Errorf("persist restaurants: %w", err)
		}
		return entities, nil
	}
	networkFailed("fetch_all", err)

	local, err := r.local.ListEntities(ctx)
	if err != nil {
		return nil, fmt.Errorf("read local restaurants: %w", err)
	}
	if len(local) == 0 {
		return nil, ErrNotFoundLocally
	}
	return local, nil
}

// FetchByID returns one restaurant.
func (r *Reconciler) FetchByID(ctx context.Context, id int64) (*types.Entity, error) {
	e, err := r.remote.GetEntity(ctx, id)
	if err == nil {
		if _, err := r.local.PutEntities(ctx, []types.Entity{*e}); err != nil {
			return nil, fmt.Errorf("persist restaurant %d: %w", id, err)
		}
		return e, nil
	}
	networkFailed("fetch_by_id", err, "id", id)

	local, err := r.local.GetEntity(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFoundLocally
	}
	if err != nil {
		return nil, fmt.Errorf("read local restaurant %d: %w", id, err)
	}
	return local, nil
}

// FetchByFilter returns the restaurants matching keep. It is FetchAll plus a
// filter and inherits FetchAll's fallback.
func (r *Reconciler) FetchByFilter(ctx context.Context, keep func(types.Entity) bool) ([]types.Entity, error) {
	all, err := r.FetchAll(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]types.Entity, 0, len(all))
	for _, e := range all {
		if keep(e) {
			out = append(out, e)
		}
	}
	return out, nil
}

// FetchByCategory returns the restaurants of one cuisine.
func (r *Reconciler) FetchByCategory(ctx context.Context, cuisine string) ([]types.Entity, error) {
	return r.FetchByFilter(ctx, func(e types.Entity) bool { return e.CuisineType == cuisine })
}

// FetchByGrouping returns the restaurants of one neighborhood.
func (r *Reconciler) FetchByGrouping(ctx context.Context, neighborhood string) ([]types.Entity, error) {
	return r.FetchByFilter(ctx, func(e types.Entity) bool { return e.Neighborhood == neighborhood })
}

// FetchByCategoryAndGrouping filters on both fields. Either argument may be
// Wildcard to match everything.
func (r *Reconciler) FetchByCategoryAndGrouping(ctx context.Context, cuisine, neighborhood string) ([]types.Entity, error) {
	return r.FetchByFilter(ctx, func(e types.Entity) bool {
		return (cuisine == Wildcard || e.CuisineType == cuisine) &&
			(neighborhood == Wildcard || e.Neighborhood == neighborhood)
	})
}

// FetchFavorites returns the restaurants flagged as favorite.
func (r *Reconciler) FetchFavorites(ctx context.Context) ([]types.Entity, error) {
	return r.FetchByFilter(ctx, func(e types.Entity) bool { return bool(e.IsFavorite) })
}

// DistinctCategories returns every cuisine in first-seen order.
func (r *Reconciler) DistinctCategories(ctx context.Context) ([]string, error) {
	all, err := r.FetchAll(ctx)
	if err != nil {
		return nil, err
	}
	return views.Distinct(all, func(e types.Entity) string { return e.CuisineType }), nil
}

// DistinctGroupings returns every neighborhood in first-seen order.
func (r *Reconciler) DistinctGroupings(ctx context.Context) ([]string, error) {
	all, err := r.FetchAll(ctx)
	if err != nil {
		return nil, err
	}
	return views.Distinct(all, func(e types.Entity) string { return e.Neighborhood }), nil
}

// FetchCommentsFor returns the reviews of one restaurant. When the network
// fails and nothing is stored locally the result is nil with no error.
func (r *Reconciler) FetchCommentsFor(ctx context.Context, entityID int64) ([]types.Comment, error) {
	comments, err := r.remote.ListComments(ctx, entityID)
	if err == nil {
		if _, err := r.local.PutComments(ctx, comments); err != nil {
			return nil, fmt.Errorf("persist reviews of %d: %w", entityID, err)
		}
		return comments, nil
	}
	networkFailed("fetch_comments", err, "restaurant_id", entityID)

	local, err := r.local.ListCommentsByEntity(ctx, entityID)
	if err != nil {
		return nil, fmt.Errorf("read local reviews of %d: %w", entityID, err)
	}
	if len(local) == 0 {
		return nil, nil
	}
	return local, nil
}

func networkFailed(action string, err error, attrs ...any) {
	args := append([]any{
		"action", action,
		"error", err,
		"component", "reconcile",
	}, attrs...)
	slog.Warn("network read failed, serving local copy", args...)
}
