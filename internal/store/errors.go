package store

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound reports that no record exists under the requested key.
	ErrNotFound = errors.New("record not found")

	// ErrStorageUnavailable wraps every failure of the underlying engine.
	ErrStorageUnavailable = errors.New("local storage unavailable")

	ErrUnknownIndex        = errors.New("unknown index")
	ErrDuplicateIdempotent = errors.New("idempotency key already queued")

	// ErrClaimLost reports that a pending write is no longer held by the
	// caller: its lease expired and another replayer took it, or it is gone.
	ErrClaimLost = errors.New("pending write claim lost")
)

// unavailable wraps an engine error so callers can match ErrStorageUnavailable
// while keeping the cause.
func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStorageUnavailable, err)
}
