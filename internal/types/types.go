package types

import (
	"encoding/json"
	"strconv"
	"time"
)

// LatLng is a map position.
type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Entity is a cached restaurant record.
// CuisineType is its category and Neighborhood its grouping.
type Entity struct {
	ID             int64             `json:"id"`
	Name           string            `json:"name"`
	Neighborhood   string            `json:"neighborhood"`
	CuisineType    string            `json:"cuisine_type"`
	Photograph     string            `json:"photograph,omitempty"`
	Address        string            `json:"address,omitempty"`
	LatLng         *LatLng           `json:"latlng,omitempty"`
	OperatingHours map[string]string `json:"operating_hours,omitempty"`
	IsFavorite     Flag              `json:"is_favorite"`
	CreatedAt      Timestamp         `json:"createdAt"`
	UpdatedAt      Timestamp         `json:"updatedAt"`
}

// Key returns the primary key.
func (e Entity) Key() int64 { return e.ID }

// Modified returns the last-modified instant.
func (e Entity) Modified() time.Time { return e.UpdatedAt.Time }

// PhotoRef returns the photo reference, falling back to the entity id
// when the remote omitted one.
func (e Entity) PhotoRef() string {
	if e.Photograph != "" {
		return e.Photograph
	}
	return strconv.FormatInt(e.ID, 10)
}

// Comment is a cached review attached to exactly one Entity.
type Comment struct {
	ID           int64     `json:"id"`
	RestaurantID FlexInt   `json:"restaurant_id"`
	Name         string    `json:"name"`
	Rating       FlexInt   `json:"rating"`
	Comments     string    `json:"comments"`
	CreatedAt    Timestamp `json:"createdAt"`
	UpdatedAt    Timestamp `json:"updatedAt"`
}

// Key returns the primary key.
func (c Comment) Key() int64 { return c.ID }

// Modified returns the last-modified instant.
func (c Comment) Modified() time.Time { return c.UpdatedAt.Time }

// ParentID returns the id of the entity the comment belongs to.
func (c Comment) ParentID() int64 { return int64(c.RestaurantID) }

// NewComment is the payload submitted to create a review. It has no remote id yet.
type NewComment struct {
	RestaurantID FlexInt   `json:"restaurant_id"`
	Name         string    `json:"name"`
	Rating       FlexInt   `json:"rating"`
	Comments     string    `json:"comments"`
	CreatedAt    Timestamp `json:"createdAt"`
}

// Provisional returns the comment as it should be displayed before the
// remote has confirmed it. It carries no id.
func (n NewComment) Provisional() Comment {
	return Comment{
		RestaurantID: n.RestaurantID,
		Name:         n.Name,
		Rating:       n.Rating,
		Comments:     n.Comments,
		CreatedAt:    n.CreatedAt,
		UpdatedAt:    n.CreatedAt,
	}
}

// FavoriteUpdate is the payload of a favorite toggle.
type FavoriteUpdate struct {
	RestaurantID int64 `json:"restaurant_id"`
	IsFavorite   bool  `json:"is_favorite"`
}

// WriteKind identifies the payload type of a pending write.
type WriteKind string

const (
	WriteKindComment  WriteKind = "comment"
	WriteKindFavorite WriteKind = "favorite"
)

// PendingWrite is a write that has not yet been confirmed by the remote.
// ID is a local auto-increment key, never a remote id.
type PendingWrite struct {
	ID             int64           `json:"id"`
	Kind           WriteKind       `json:"kind"`
	IdempotencyKey string          `json:"idempotency_key"`
	Payload        json.RawMessage `json:"payload"`
	QueuedAt       time.Time       `json:"queued_at"`
	Attempts       int             `json:"attempts"`
	LastError      string          `json:"last_error,omitempty"`
	ClaimedBy      string          `json:"claimed_by,omitempty"`
	ClaimedUntil   *time.Time      `json:"claimed_until,omitempty"`
}

// PutResult reports how many records of a batch were written or discarded
// by the freshness rule.
type PutResult struct {
	Written int `json:"written"`
	Skipped int `json:"skipped"`
}

// StoreStats holds local store statistics.
type StoreStats struct {
	EntityCount   int64      `json:"entity_count"`
	CommentCount  int64      `json:"comment_count"`
	PendingWrites int64      `json:"pending_writes"`
	SchemaVersion int64      `json:"schema_version"`
	OldestPending *time.Time `json:"oldest_pending,omitempty"`
}

// HealthResponse is returned by the remote health endpoint.
type HealthResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	EntityCount   int64  `json:"entity_count"`
	CommentCount  int64  `json:"comment_count"`
	SchemaVersion int64  `json:"schema_version"`
}
