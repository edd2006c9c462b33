package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/hyperengineering/pantry/internal/types"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := OpenSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "pantry.db"))
	if err != nil {
		t.Fatalf("OpenSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func entity(id int64, name, updatedAt string) types.Entity {
	return types.Entity{
		ID:           id,
		Name:         name,
		Neighborhood: "Brooklyn",
		CuisineType:  "Pizza",
		UpdatedAt:    types.MustParseTimestamp(updatedAt),
	}
}

func comment(id, parent int64, body, updatedAt string) types.Comment {
	return types.Comment{
		ID:           id,
		RestaurantID: types.FlexInt(parent),
		Name:         "Steve",
		Rating:       4,
		Comments:     body,
		UpdatedAt:    types.MustParseTimestamp(updatedAt),
	}
}

func TestOpen_Idempotent(t *testing.T) {
	s := NewSQLiteStore(filepath.Join(t.TempDir(), "nested", "pantry.db"))
	defer s.Close()
	ctx := context.Background()

	// When: Open is called several times concurrently
	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- s.Open(ctx)
		}()
	}
	wg.Wait()
	close(errs)

	// Then: Every caller succeeds against the same handle
	for err := range errs {
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
	}
	first, _ := s.handle(ctx)
	second, _ := s.handle(ctx)
	if first != second {
		t.Error("expected a single shared handle")
	}

	version, err := s.SchemaVersion(ctx)
	if err != nil {
		t.Fatalf("SchemaVersion: %v", err)
	}
	if version != 4 {
		t.Errorf("SchemaVersion = %d, want 4", version)
	}
}

func TestClose_FurtherOperationsUnavailable(t *testing.T) {
	s := newTestStore(t)
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	_, err := s.ListEntities(context.Background())
	if !errors.Is(err, ErrStorageUnavailable) {
		t.Errorf("expected ErrStorageUnavailable after Close, got %v", err)
	}
}

func TestPutEntities_FreshnessRule(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name        string
		incoming    string
		wantName    string
		wantWritten int
	}{
		{"later wins", "2024-01-02T00:00:00Z", "incoming", 1},
		{"equal is discarded", "2024-01-01T00:00:00Z", "stored", 0},
		{"earlier is discarded", "2023-12-31T00:00:00Z", "stored", 0},
		{"later as epoch millis wins", "1704153600000", "incoming", 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestStore(t)
			if _, err := s.PutEntities(ctx, []types.Entity{entity(1, "stored", "2024-01-01T00:00:00Z")}); err != nil {
				t.Fatalf("seed: %v", err)
			}

			res, err := s.PutEntities(ctx, []types.Entity{entity(1, "incoming", tt.incoming)})
			if err != nil {
				t.Fatalf("PutEntities: %v", err)
			}
			if res.Written != tt.wantWritten || res.Written+res.Skipped != 1 {
				t.Errorf("result = %+v, want %d written", res, tt.wantWritten)
			}

			got, err := s.GetEntity(ctx, 1)
			if err != nil {
				t.Fatalf("GetEntity: %v", err)
			}
			if got.Name != tt.wantName {
				t.Errorf("Name = %q, want %q", got.Name, tt.wantName)
			}
		})
	}
}

func TestPutEntities_Idempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	batch := []types.Entity{
		entity(1, "a", "2024-01-01T00:00:00Z"),
		entity(2, "b", "2024-01-01T00:00:00Z"),
	}

	if _, err := s.PutEntities(ctx, batch); err != nil {
		t.Fatalf("first put: %v", err)
	}
	before, _ := s.ListEntities(ctx)

	res, err := s.PutEntities(ctx, batch)
	if err != nil {
		t.Fatalf("second put: %v", err)
	}
	if res.Written != 0 || res.Skipped != 2 {
		t.Errorf("second put = %+v, want everything skipped", res)
	}

	after, _ := s.ListEntities(ctx)
	if len(before) != len(after) {
		t.Fatalf("entity count changed: %d -> %d", len(before), len(after))
	}
	for i := range before {
		if before[i].Name != after[i].Name || !before[i].UpdatedAt.Equal(after[i].UpdatedAt.Time) {
			t.Errorf("entity %d changed on re-put", before[i].ID)
		}
	}
}

func TestPutEntities_EmptyBatch(t *testing.T) {
	s := newTestStore(t)
	res, err := s.PutEntities(context.Background(), nil)
	if err != nil {
		t.Fatalf("PutEntities(nil): %v", err)
	}
	if res.Written != 0 || res.Skipped != 0 {
		t.Errorf("result = %+v", res)
	}
}

func TestPutEntities_LargeBatchSpansGatherChunks(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	batch := make([]types.Entity, gatherChunk+25)
	for i := range batch {
		batch[i] = entity(int64(i+1), fmt.Sprintf("r%d", i+1), "2024-01-01T00:00:00Z")
	}
	if _, err := s.PutEntities(ctx, batch); err != nil {
		t.Fatalf("PutEntities: %v", err)
	}

	res, err := s.PutEntities(ctx, batch)
	if err != nil {
		t.Fatalf("PutEntities again: %v", err)
	}
	if res.Skipped != len(batch) {
		t.Errorf("Skipped = %d, want %d", res.Skipped, len(batch))
	}
}

func TestPutEntities_ConcurrentBatches(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ts := fmt.Sprintf("2024-01-01T00:00:%02dZ", i)
			if _, err := s.PutEntities(ctx, []types.Entity{entity(1, ts, ts)}); err != nil {
				t.Errorf("PutEntities: %v", err)
			}
		}(i)
	}
	wg.Wait()

	// Then: The freshest write survives regardless of arrival order
	got, err := s.GetEntity(ctx, 1)
	if err != nil {
		t.Fatalf("GetEntity: %v", err)
	}
	if got.Name != "2024-01-01T00:00:09Z" {
		t.Errorf("Name = %q, want the latest write", got.Name)
	}
}

func TestGetEntity_NotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetEntity(context.Background(), 42)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if errors.Is(err, ErrStorageUnavailable) {
		t.Error("absence must not be reported as a storage failure")
	}
}

func TestListEntities_EmptyIsNotNil(t *testing.T) {
	s := newTestStore(t)
	got, err := s.ListEntities(context.Background())
	if err != nil {
		t.Fatalf("ListEntities: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("ListEntities = %#v, want empty slice", got)
	}
}

func TestEntity_RoundTripsDocument(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	e := entity(3, "Roberta's", "2024-05-01T10:00:00.123Z")
	e.LatLng = &types.LatLng{Lat: 40.705089, Lng: -73.933585}
	e.OperatingHours = map[string]string{"Monday": "5:00 pm - 10:00 pm"}
	e.IsFavorite = true

	if _, err := s.PutEntities(ctx, []types.Entity{e}); err != nil {
		t.Fatalf("PutEntities: %v", err)
	}
	got, err := s.GetEntity(ctx, 3)
	if err != nil {
		t.Fatalf("GetEntity: %v", err)
	}
	if got.LatLng == nil || *got.LatLng != *e.LatLng {
		t.Errorf("LatLng = %+v", got.LatLng)
	}
	if !got.IsFavorite || got.OperatingHours["Monday"] != "5:00 pm - 10:00 pm" {
		t.Errorf("entity = %+v", got)
	}
	if !got.UpdatedAt.Equal(e.UpdatedAt.Time) {
		t.Errorf("UpdatedAt = %v, want %v", got.UpdatedAt.Time, e.UpdatedAt.Time)
	}
}

func TestComments_ByEntityIndex(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.PutComments(ctx, []types.Comment{
		comment(1, 7, "first", "2024-01-01T00:00:00Z"),
		comment(2, 8, "other", "2024-01-01T00:00:00Z"),
		comment(3, 7, "second", "2024-01-01T00:00:00Z"),
		comment(4, 99, "orphan", "2024-01-01T00:00:00Z"),
	})
	if err != nil {
		t.Fatalf("PutComments: %v", err)
	}

	got, err := s.ListCommentsByEntity(ctx, 7)
	if err != nil {
		t.Fatalf("ListCommentsByEntity: %v", err)
	}
	if len(got) != 2 || got[0].Comments != "first" || got[1].Comments != "second" {
		t.Errorf("ListCommentsByEntity(7) = %+v", got)
	}

	raw, err := s.ListByIndex(ctx, "comments", "by-entity", 99)
	if err != nil {
		t.Fatalf("ListByIndex: %v", err)
	}
	if len(raw) != 1 {
		t.Fatalf("ListByIndex(99) returned %d docs, want the orphan", len(raw))
	}
	var orphan types.Comment
	if err := json.Unmarshal(raw[0], &orphan); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if orphan.ID != 4 {
		t.Errorf("orphan id = %d", orphan.ID)
	}

	none, err := s.ListCommentsByEntity(ctx, 1000)
	if err != nil || len(none) != 0 {
		t.Errorf("ListCommentsByEntity(1000) = %v, %v", none, err)
	}
}

func TestListByIndex_Unknown(t *testing.T) {
	s := newTestStore(t)
	_, err := s.ListByIndex(context.Background(), "entities", "by-cuisine", 1)
	if !errors.Is(err, ErrUnknownIndex) {
		t.Errorf("expected ErrUnknownIndex, got %v", err)
	}
}

func TestGetStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.PutEntities(ctx, []types.Entity{entity(1, "a", "2024-01-01T00:00:00Z")})
	s.PutComments(ctx, []types.Comment{comment(1, 1, "x", "2024-01-01T00:00:00Z")})
	if _, err := s.EnqueuePendingWrite(ctx, types.WriteKindComment, "", json.RawMessage(`{}`)); err != nil {
		t.Fatalf("EnqueuePendingWrite: %v", err)
	}

	stats, err := s.GetStats(ctx)
	if err != nil {
		t.Fatalf("GetStats: %v", err)
	}
	if stats.EntityCount != 1 || stats.CommentCount != 1 || stats.PendingWrites != 1 {
		t.Errorf("stats = %+v", stats)
	}
	if stats.SchemaVersion != 4 {
		t.Errorf("SchemaVersion = %d", stats.SchemaVersion)
	}
	if stats.OldestPending == nil {
		t.Error("expected OldestPending to be set")
	}
}
