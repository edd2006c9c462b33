package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hyperengineering/pantry/internal/types"
	"github.com/oklog/ulid/v2"
)

// fixedLayout keeps queue instants the same width so they order as strings.
const fixedLayout = "2006-01-02T15:04:05.000000000Z"

func formatFixed(t time.Time) string {
	return t.UTC().Format(fixedLayout)
}

// EnqueuePendingWrite persists a write the remote has not confirmed. The
// payload is stored verbatim. An empty idempotencyKey is replaced by a fresh
// ULID; a key that is already queued yields ErrDuplicateIdempotent.
func (s *SQLiteStore) EnqueuePendingWrite(ctx context.Context, kind types.WriteKind, idempotencyKey string, payload json.RawMessage) (*types.PendingWrite, error) {
	db, err := s.handle(ctx)
	if err != nil {
		return nil, err
	}
	if idempotencyKey == "" {
		idempotencyKey = ulid.Make().String()
	}

	now := time.Now().UTC()
	res, err := db.ExecContext(ctx, `
		INSERT INTO pending_writes (kind, idempotency_key, payload, queued_at, attempts)
		VALUES (?, ?, ?, ?, 0)
		ON CONFLICT(idempotency_key) DO NOTHING
	`, string(kind), idempotencyKey, string(payload), formatFixed(now))
	if err != nil {
		return nil, unavailable("enqueue pending write", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return nil, unavailable("enqueue pending write", err)
	}
	if affected == 0 {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateIdempotent, idempotencyKey)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, unavailable("enqueue pending write", err)
	}

	return &types.PendingWrite{
		ID:             id,
		Kind:           kind,
		IdempotencyKey: idempotencyKey,
		Payload:        payload,
		QueuedAt:       now,
	}, nil
}

const pendingColumns = `id, kind, idempotency_key, payload, queued_at, attempts, last_error, claimed_by, claimed_until`

// ListPendingWrites returns every queued write in queue order, claimed or not.
func (s *SQLiteStore) ListPendingWrites(ctx context.Context) ([]types.PendingWrite, error) {
	db, err := s.handle(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, "SELECT "+pendingColumns+" FROM pending_writes ORDER BY id")
	if err != nil {
		return nil, unavailable("list pending writes", err)
	}
	defer rows.Close()

	writes, err := scanPendingWrites(rows)
	if err != nil {
		return nil, unavailable("list pending writes", err)
	}
	return writes, nil
}

// CountPendingWrites returns the number of queued writes.
func (s *SQLiteStore) CountPendingWrites(ctx context.Context) (int64, error) {
	db, err := s.handle(ctx)
	if err != nil {
		return 0, err
	}
	var n int64
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM pending_writes").Scan(&n); err != nil {
		return 0, unavailable("count pending writes", err)
	}
	return n, nil
}

// ClaimPendingWrites leases to owner, for lease, up to limit unclaimed writes
// whose id is greater than after, in queue order. A write whose lease has
// expired is claimable again. A limit of zero or less claims everything
// available.
func (s *SQLiteStore) ClaimPendingWrites(ctx context.Context, owner string, lease time.Duration, after int64, limit int) ([]types.PendingWrite, error) {
	db, err := s.handle(ctx)
	if err != nil {
		return nil, err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, unavailable("claim pending writes", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	if limit <= 0 {
		limit = -1
	}
	rows, err := tx.QueryContext(ctx, `
		SELECT `+pendingColumns+`
		FROM pending_writes
		WHERE id > ? AND (claimed_until IS NULL OR claimed_until < ?)
		ORDER BY id
		LIMIT ?
	`, after, formatFixed(now), limit)
	if err != nil {
		return nil, unavailable("claim pending writes", err)
	}
	writes, err := scanPendingWrites(rows)
	rows.Close()
	if err != nil {
		return nil, unavailable("claim pending writes", err)
	}

	until := now.Add(lease)
	untilStr := formatFixed(until)
	for i := range writes {
		if _, err := tx.ExecContext(ctx, `
			UPDATE pending_writes SET claimed_by = ?, claimed_until = ? WHERE id = ?
		`, owner, untilStr, writes[i].ID); err != nil {
			return nil, unavailable("claim pending writes", err)
		}
		writes[i].ClaimedBy = owner
		writes[i].ClaimedUntil = &until
	}

	if err := tx.Commit(); err != nil {
		return nil, unavailable("claim pending writes", err)
	}
	return writes, nil
}

// ReleasePendingWrite returns a write claimed by owner to the queue after a
// failed attempt, counting the attempt and recording lastErr. It returns
// ErrClaimLost when owner no longer holds the claim.
func (s *SQLiteStore) ReleasePendingWrite(ctx context.Context, id int64, owner, lastErr string) error {
	db, err := s.handle(ctx)
	if err != nil {
		return err
	}

	res, err := db.ExecContext(ctx, `
		UPDATE pending_writes
		SET claimed_by = NULL, claimed_until = NULL, attempts = attempts + 1, last_error = ?
		WHERE id = ? AND claimed_by = ?
	`, lastErr, id, owner)
	if err != nil {
		return unavailable("release pending write", err)
	}
	return requireClaim(res, "release pending write")
}

// DeletePendingWrite removes a write claimed by owner once the remote has
// confirmed it. It returns ErrClaimLost when owner no longer holds the claim.
func (s *SQLiteStore) DeletePendingWrite(ctx context.Context, id int64, owner string) error {
	db, err := s.handle(ctx)
	if err != nil {
		return err
	}

	res, err := db.ExecContext(ctx, "DELETE FROM pending_writes WHERE id = ? AND claimed_by = ?", id, owner)
	if err != nil {
		return unavailable("delete pending write", err)
	}
	return requireClaim(res, "delete pending write")
}

func requireClaim(res sql.Result, op string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return unavailable(op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", op, ErrClaimLost)
	}
	return nil
}

func scanPendingWrites(rows *sql.Rows) ([]types.PendingWrite, error) {
	writes := make([]types.PendingWrite, 0)
	for rows.Next() {
		var w types.PendingWrite
		var kind, payload, queuedAt string
		var lastError, claimedBy, claimedUntil sql.NullString

		if err := rows.Scan(&w.ID, &kind, &w.IdempotencyKey, &payload, &queuedAt,
			&w.Attempts, &lastError, &claimedBy, &claimedUntil); err != nil {
			return nil, err
		}

		w.Kind = types.WriteKind(kind)
		w.Payload = json.RawMessage(payload)
		if t, err := time.Parse(fixedLayout, queuedAt); err == nil {
			w.QueuedAt = t
		}
		w.LastError = lastError.String
		w.ClaimedBy = claimedBy.String
		if claimedUntil.Valid {
			if t, err := time.Parse(fixedLayout, claimedUntil.String); err == nil {
				w.ClaimedUntil = &t
			}
		}
		writes = append(writes, w)
	}
	return writes, rows.Err()
}
