package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/hyperengineering/pantry/internal/merge"
	"github.com/hyperengineering/pantry/internal/types"
	_ "modernc.org/sqlite"
)

// gatherChunk bounds the number of keys looked up per statement.
const gatherChunk = 500

// SQLiteStore is the local store backed by a single SQLite database file.
//
// The handle is opened lazily and at most once: every operation first waits
// for Open, and concurrent callers share the same *sql.DB.
type SQLiteStore struct {
	path string

	mu      sync.Mutex
	db      *sql.DB
	version int64
	closed  bool
}

// NewSQLiteStore returns a store for the database at path. Nothing is opened
// until Open or the first operation.
func NewSQLiteStore(path string) *SQLiteStore {
	return &SQLiteStore{path: path}
}

// OpenSQLiteStore creates a store and opens it.
func OpenSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	s := NewSQLiteStore(path)
	if err := s.Open(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Open opens the database and applies pending schema versions. It is safe to
// call repeatedly and from several goroutines; only the first call does work.
func (s *SQLiteStore) Open(ctx context.Context) error {
	_, err := s.handle(ctx)
	return err
}

func (s *SQLiteStore) handle(ctx context.Context) (*sql.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, unavailable("open", errors.New("store is closed"))
	}
	if s.db != nil {
		return s.db, nil
	}

	if dir := filepath.Dir(s.path); s.path != ":memory:" && dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, unavailable("create database directory", err)
		}
	}

	db, err := sql.Open("sqlite", dsn(s.path))
	if err != nil {
		return nil, unavailable("open database", err)
	}
	if s.path == ":memory:" {
		// Each connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	version, err := RunMigrations(ctx, db)
	if err != nil {
		db.Close()
		return nil, unavailable("migrate", err)
	}

	s.db = db
	s.version = version
	return db, nil
}

// dsn applies the pragmas on every pooled connection. Write transactions take
// the write lock up front so a gather-then-write batch cannot be invalidated
// by a concurrent writer between its read and its write.
func dsn(path string) string {
	q := url.Values{}
	q.Add("_pragma", "busy_timeout(5000)")
	q.Add("_pragma", "foreign_keys(ON)")
	q.Add("_pragma", "synchronous(NORMAL)")
	if path != ":memory:" {
		q.Add("_pragma", "journal_mode(WAL)")
	}
	q.Set("_txlock", "immediate")
	return "file:" + path + "?" + q.Encode()
}

// Close releases the database handle. Further operations fail with
// ErrStorageUnavailable.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// SchemaVersion returns the schema version recorded when the store was opened.
func (s *SQLiteStore) SchemaVersion(ctx context.Context) (int64, error) {
	if _, err := s.handle(ctx); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version, nil
}

// collection describes how a record type maps onto its table.
type collection[T merge.Versioned] struct {
	table   string
	upsert  string
	columns func(rec T, doc, updatedAt, storedAt string) []any
}

var entityCollection = collection[types.Entity]{
	table: "entities",
	upsert: `
		INSERT INTO entities (id, updated_at, doc, stored_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			updated_at = excluded.updated_at,
			doc = excluded.doc,
			stored_at = excluded.stored_at
	`,
	columns: func(e types.Entity, doc, updatedAt, storedAt string) []any {
		return []any{e.ID, updatedAt, doc, storedAt}
	},
}

var commentCollection = collection[types.Comment]{
	table: "comments",
	upsert: `
		INSERT INTO comments (id, restaurant_id, updated_at, doc, stored_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			restaurant_id = excluded.restaurant_id,
			updated_at = excluded.updated_at,
			doc = excluded.doc,
			stored_at = excluded.stored_at
	`,
	columns: func(c types.Comment, doc, updatedAt, storedAt string) []any {
		return []any{c.ID, c.ParentID(), updatedAt, doc, storedAt}
	},
}

// PutEntities merges a batch of entities into the store. Each record is
// written only if it is fresher than the stored copy of the same key.
func (s *SQLiteStore) PutEntities(ctx context.Context, entities []types.Entity) (*types.PutResult, error) {
	return putBatch(ctx, s, entityCollection, entities)
}

// PutComments merges a batch of comments into the store under the same
// freshness rule as PutEntities.
func (s *SQLiteStore) PutComments(ctx context.Context, comments []types.Comment) (*types.PutResult, error) {
	return putBatch(ctx, s, commentCollection, comments)
}

// putBatch gathers the stored instants for the whole batch, decides every
// record against them, and writes the winners, all in one transaction.
func putBatch[T merge.Versioned](ctx context.Context, s *SQLiteStore, c collection[T], records []T) (*types.PutResult, error) {
	if len(records) == 0 {
		return &types.PutResult{}, nil
	}

	db, err := s.handle(ctx)
	if err != nil {
		return nil, err
	}

	op := "put " + c.table
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, unavailable(op, err)
	}
	defer tx.Rollback()

	keys := make([]int64, len(records))
	for i, rec := range records {
		keys[i] = rec.Key()
	}
	stored, err := gatherModified(ctx, tx, c.table, keys)
	if err != nil {
		return nil, unavailable(op, err)
	}

	winners, skipped := merge.Winners(records, stored)

	stmt, err := tx.PrepareContext(ctx, c.upsert)
	if err != nil {
		return nil, unavailable(op, err)
	}
	defer stmt.Close()

	storedAt := time.Now().UTC().Format(time.RFC3339Nano)
	for _, rec := range winners {
		doc, err := json.Marshal(rec)
		if err != nil {
			return nil, fmt.Errorf("%s: marshal record %d: %w", op, rec.Key(), err)
		}
		updatedAt := types.NewTimestamp(rec.Modified()).String()
		if _, err := stmt.ExecContext(ctx, c.columns(rec, string(doc), updatedAt, storedAt)...); err != nil {
			return nil, unavailable(op, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, unavailable(op, err)
	}

	return &types.PutResult{Written: len(winners), Skipped: skipped}, nil
}

// gatherModified loads the stored last-modified instant for every key present.
func gatherModified(ctx context.Context, tx *sql.Tx, table string, keys []int64) (map[int64]time.Time, error) {
	stored := make(map[int64]time.Time, len(keys))
	for start := 0; start < len(keys); start += gatherChunk {
		end := min(start+gatherChunk, len(keys))
		chunk := keys[start:end]

		args := make([]any, len(chunk))
		for i, k := range chunk {
			args[i] = k
		}
		query := fmt.Sprintf("SELECT id, updated_at FROM %s WHERE id IN (%s)", table, placeholders(len(chunk)))

		rows, err := tx.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, err
		}
		for rows.Next() {
			var id int64
			var updatedAt string
			if err := rows.Scan(&id, &updatedAt); err != nil {
				rows.Close()
				return nil, err
			}
			ts, err := types.ParseTimestamp(updatedAt)
			if err != nil {
				rows.Close()
				return nil, fmt.Errorf("stored updated_at for %d: %w", id, err)
			}
			stored[id] = ts.Time
		}
		if err := rows.Close(); err != nil {
			return nil, err
		}
		if err := rows.Err(); err != nil {
			return nil, err
		}
	}
	return stored, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

// GetEntity returns the entity stored under id, or ErrNotFound.
func (s *SQLiteStore) GetEntity(ctx context.Context, id int64) (*types.Entity, error) {
	var e types.Entity
	if err := s.getDoc(ctx, "entities", id, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// GetComment returns the comment stored under id, or ErrNotFound.
func (s *SQLiteStore) GetComment(ctx context.Context, id int64) (*types.Comment, error) {
	var c types.Comment
	if err := s.getDoc(ctx, "comments", id, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *SQLiteStore) getDoc(ctx context.Context, table string, id int64, dst any) error {
	db, err := s.handle(ctx)
	if err != nil {
		return err
	}

	var doc string
	err = db.QueryRowContext(ctx, "SELECT doc FROM "+table+" WHERE id = ?", id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return unavailable("get "+table, err)
	}
	if err := json.Unmarshal([]byte(doc), dst); err != nil {
		return unavailable("get "+table, fmt.Errorf("decode record %d: %w", id, err))
	}
	return nil
}

// ListEntities returns every stored entity ordered by key.
func (s *SQLiteStore) ListEntities(ctx context.Context) ([]types.Entity, error) {
	return listDocs[types.Entity](ctx, s, "list entities", "SELECT doc FROM entities ORDER BY id")
}

// ListComments returns every stored comment ordered by key.
func (s *SQLiteStore) ListComments(ctx context.Context) ([]types.Comment, error) {
	return listDocs[types.Comment](ctx, s, "list comments", "SELECT doc FROM comments ORDER BY id")
}

// ListCommentsByEntity returns the stored comments whose parent is entityID.
func (s *SQLiteStore) ListCommentsByEntity(ctx context.Context, entityID int64) ([]types.Comment, error) {
	return listDocs[types.Comment](ctx, s, "list comments by entity",
		"SELECT doc FROM comments WHERE restaurant_id = ? ORDER BY id", entityID)
}

// secondaryIndexes maps collection and index names to the indexed column.
var secondaryIndexes = map[string]map[string]string{
	"comments": {"by-entity": "restaurant_id"},
}

// ListByIndex returns the raw documents of collection whose indexed field
// equals value. Unknown collections or indexes yield ErrUnknownIndex.
func (s *SQLiteStore) ListByIndex(ctx context.Context, collection, index string, value int64) ([]json.RawMessage, error) {
	column, ok := secondaryIndexes[collection][index]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrUnknownIndex, collection, index)
	}
	query := fmt.Sprintf("SELECT doc FROM %s WHERE %s = ? ORDER BY id", collection, column)
	return listDocs[json.RawMessage](ctx, s, "list "+collection+" by "+index, query, value)
}

func listDocs[T any](ctx context.Context, s *SQLiteStore, op, query string, args ...any) ([]T, error) {
	db, err := s.handle(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, unavailable(op, err)
	}
	defer rows.Close()

	out := make([]T, 0)
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, unavailable(op, err)
		}
		var rec T
		if err := json.Unmarshal([]byte(doc), &rec); err != nil {
			return nil, unavailable(op, fmt.Errorf("decode record: %w", err))
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(op, err)
	}
	return out, nil
}

// GetStats returns aggregate store statistics.
func (s *SQLiteStore) GetStats(ctx context.Context) (*types.StoreStats, error) {
	db, err := s.handle(ctx)
	if err != nil {
		return nil, err
	}

	stats := &types.StoreStats{}
	err = db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM entities),
			(SELECT COUNT(*) FROM comments),
			(SELECT COUNT(*) FROM pending_writes)
	`).Scan(&stats.EntityCount, &stats.CommentCount, &stats.PendingWrites)
	if err != nil {
		return nil, unavailable("stats", err)
	}

	var oldest sql.NullString
	if err := db.QueryRowContext(ctx, "SELECT MIN(queued_at) FROM pending_writes").Scan(&oldest); err != nil {
		return nil, unavailable("stats", err)
	}
	if oldest.Valid {
		if t, err := time.Parse(fixedLayout, oldest.String); err == nil {
			stats.OldestPending = &t
		}
	}

	stats.SchemaVersion, err = s.SchemaVersion(ctx)
	if err != nil {
		return nil, err
	}
	return stats, nil
}
