package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/hyperengineering/pantry/internal/types"
)

// Store defines the contract of the local store used by the cache.
type Store interface {
	Open(ctx context.Context) error
	PutEntities(ctx context.Context, entities []types.Entity) (*types.PutResult, error)
	PutComments(ctx context.Context, comments []types.Comment) (*types.PutResult, error)
	GetEntity(ctx context.Context, id int64) (*types.Entity, error)
	GetComment(ctx context.Context, id int64) (*types.Comment, error)
	ListEntities(ctx context.Context) ([]types.Entity, error)
	ListComments(ctx context.Context) ([]types.Comment, error)
	ListCommentsByEntity(ctx context.Context, entityID int64) ([]types.Comment, error)
	ListByIndex(ctx context.Context, collection, index string, value int64) ([]json.RawMessage, error)
	PendingQueue
	SchemaVersion(ctx context.Context) (int64, error)
	GetStats(ctx context.Context) (*types.StoreStats, error)
	Close() error
}

// PendingQueue is the durable queue of writes awaiting remote confirmation.
type PendingQueue interface {
	EnqueuePendingWrite(ctx context.Context, kind types.WriteKind, idempotencyKey string, payload json.RawMessage) (*types.PendingWrite, error)
	ListPendingWrites(ctx context.Context) ([]types.PendingWrite, error)
	CountPendingWrites(ctx context.Context) (int64, error)
	ClaimPendingWrites(ctx context.Context, owner string, lease time.Duration, after int64, limit int) ([]types.PendingWrite, error)
	ReleasePendingWrite(ctx context.Context, id int64, owner, lastErr string) error
	DeletePendingWrite(ctx context.Context, id int64, owner string) error
}

// Authority is implemented by stores that can act as the remote source of
// record.
type Authority interface {
	PutEntities(ctx context.Context, entities []types.Entity) (*types.PutResult, error)
	GetEntity(ctx context.Context, id int64) (*types.Entity, error)
	ListEntities(ctx context.Context) ([]types.Entity, error)
	ListComments(ctx context.Context) ([]types.Comment, error)
	ListCommentsByEntity(ctx context.Context, entityID int64) ([]types.Comment, error)
	CreateComment(ctx context.Context, c types.NewComment) (*types.Comment, error)
	SetFavorite(ctx context.Context, id int64, favorite bool) (*types.Entity, error)
	LookupIdempotencyKey(ctx context.Context, key string) (json.RawMessage, bool, error)
	RecordIdempotencyKey(ctx context.Context, key string, response json.RawMessage) error
	GetStats(ctx context.Context) (*types.StoreStats, error)
}

var (
	_ Store     = (*SQLiteStore)(nil)
	_ Authority = (*SQLiteStore)(nil)
)
