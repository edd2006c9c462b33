package pantry

import (
	"errors"
	"net/http"
	"time"

	"github.com/hyperengineering/pantry/internal/reconcile"
	"github.com/hyperengineering/pantry/internal/remote"
	"github.com/hyperengineering/pantry/internal/store"
	"github.com/hyperengineering/pantry/internal/types"
	"github.com/hyperengineering/pantry/internal/validation"
	"github.com/hyperengineering/pantry/internal/writequeue"
)

// Config holds the client configuration.
type Config struct {
	LocalPath      string        // Local database path (required)
	RemoteURL      string        // Remote source base URL; empty means always offline
	Timeout        time.Duration // Per-request remote timeout (default: 10s)
	ReplayInterval time.Duration // Periodic replay while writes are queued (default: 1m)
	ProbeInterval  time.Duration // Reconnect probe interval (default: 15s)
	Concurrency    int           // Queued writes replayed at once (default: 4)
	Lease          time.Duration // Claim lease of a replayed write (default: 2m)
	AutoReplay     bool          // Run the replay scheduler after Initialize
	HTTPClient     *http.Client  // Optional; overrides Timeout
}

// Re-exported data types.
type (
	Entity       = types.Entity
	Comment      = types.Comment
	NewComment   = types.NewComment
	PendingWrite = types.PendingWrite
	StoreStats   = types.StoreStats
	Submission   = writequeue.Submission
	ReplayStats  = writequeue.ReplayStats
	State        = writequeue.State
	FlexInt      = types.FlexInt
)

// Submission states.
const (
	StateConfirmed = writequeue.StateConfirmed
	StateQueued    = writequeue.StateQueued
)

// Wildcard matches every cuisine or neighborhood in FetchByCategoryAndGrouping.
const Wildcard = reconcile.Wildcard

// Errors callers can match with errors.Is.
var (
	ErrClosed             = errors.New("pantry: client is closed")
	ErrNotFoundLocally    = reconcile.ErrNotFoundLocally
	ErrStorageUnavailable = store.ErrStorageUnavailable
	ErrUnavailable        = remote.ErrUnavailable
	ErrMalformedResponse  = remote.ErrMalformedResponse
)

// ValidationErrors is returned, via errors.As, for rejected input.
type ValidationErrors = validation.Errors

// HealthStatus represents the health status
type HealthStatus struct {
	LocalStore    bool   `json:"local_store"`
	Remote        bool   `json:"remote"`
	RemoteVersion string `json:"remote_version,omitempty"`
	PendingWrites int64  `json:"pending_writes"`
	LastError     string `json:"last_error,omitempty"`
}
