package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hyperengineering/pantry/internal/types"
)

// The methods in this file make the store act as the authoritative source
// rather than a cache: they assign ids and stamp updatedAt themselves instead
// of applying the freshness rule.

// CreateComment inserts a new comment, assigning the next id and stamping
// updatedAt with the current time.
func (s *SQLiteStore) CreateComment(ctx context.Context, c types.NewComment) (*types.Comment, error) {
	db, err := s.handle(ctx)
	if err != nil {
		return nil, err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, unavailable("create comment", err)
	}
	defer tx.Rollback()

	var id int64
	if err := tx.QueryRowContext(ctx, "SELECT COALESCE(MAX(id), 0) + 1 FROM comments").Scan(&id); err != nil {
		return nil, unavailable("create comment", err)
	}

	now := types.Now()
	comment := c.Provisional()
	comment.ID = id
	if comment.CreatedAt.IsZero() {
		comment.CreatedAt = now
	}
	comment.UpdatedAt = now

	doc, err := json.Marshal(comment)
	if err != nil {
		return nil, fmt.Errorf("create comment: marshal: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO comments (id, restaurant_id, updated_at, doc, stored_at)
		VALUES (?, ?, ?, ?, ?)
	`, comment.ID, comment.ParentID(), comment.UpdatedAt.String(), string(doc), now.String()); err != nil {
		return nil, unavailable("create comment", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, unavailable("create comment", err)
	}
	return &comment, nil
}

// SetFavorite sets the favorite flag of an existing entity and stamps
// updatedAt. Unknown ids yield ErrNotFound.
func (s *SQLiteStore) SetFavorite(ctx context.Context, id int64, favorite bool) (*types.Entity, error) {
	db, err := s.handle(ctx)
	if err != nil {
		return nil, err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, unavailable("set favorite", err)
	}
	defer tx.Rollback()

	var doc string
	err = tx.QueryRowContext(ctx, "SELECT doc FROM entities WHERE id = ?", id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, unavailable("set favorite", err)
	}

	var e types.Entity
	if err := json.Unmarshal([]byte(doc), &e); err != nil {
		return nil, unavailable("set favorite", fmt.Errorf("decode entity %d: %w", id, err))
	}

	now := types.Now()
	e.IsFavorite = types.Flag(favorite)
	e.UpdatedAt = now

	updated, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("set favorite: marshal: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE entities SET updated_at = ?, doc = ?, stored_at = ? WHERE id = ?
	`, now.String(), string(updated), now.String(), id); err != nil {
		return nil, unavailable("set favorite", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, unavailable("set favorite", err)
	}
	return &e, nil
}

// LookupIdempotencyKey returns the response recorded under key, if any.
func (s *SQLiteStore) LookupIdempotencyKey(ctx context.Context, key string) (json.RawMessage, bool, error) {
	db, err := s.handle(ctx)
	if err != nil {
		return nil, false, err
	}

	var response string
	err = db.QueryRowContext(ctx, "SELECT response FROM idempotency_keys WHERE key = ?", key).Scan(&response)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, unavailable("lookup idempotency key", err)
	}
	return json.RawMessage(response), true, nil
}

// RecordIdempotencyKey stores the response produced for key. The first
// recorded response wins.
func (s *SQLiteStore) RecordIdempotencyKey(ctx context.Context, key string, response json.RawMessage) error {
	db, err := s.handle(ctx)
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO idempotency_keys (key, response, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO NOTHING
	`, key, string(response), formatFixed(time.Now()))
	if err != nil {
		return unavailable("record idempotency key", err)
	}
	return nil
}

// PruneIdempotencyKeys deletes keys recorded before cutoff and returns how
// many were removed. A write replayed after its key was pruned is applied
// again.
func (s *SQLiteStore) PruneIdempotencyKeys(ctx context.Context, cutoff time.Time) (int64, error) {
	db, err := s.handle(ctx)
	if err != nil {
		return 0, err
	}

	res, err := db.ExecContext(ctx, "DELETE FROM idempotency_keys WHERE created_at < ?", formatFixed(cutoff))
	if err != nil {
		return 0, unavailable("prune idempotency keys", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, unavailable("prune idempotency keys", err)
	}
	return n, nil
}
