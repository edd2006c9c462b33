package remote

import (
	"errors"
	"fmt"
)

var (
	// ErrUnavailable reports a transport failure or a non-2xx response.
	ErrUnavailable = errors.New("remote source unavailable")

	// ErrMalformedResponse reports a 2xx response whose body could not be
	// decoded or had the wrong shape.
	ErrMalformedResponse = errors.New("malformed remote response")
)

// StatusError carries the status of a non-2xx response. It is always wrapped
// together with ErrUnavailable.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("remote returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("remote returned status %d: %s", e.StatusCode, e.Body)
}
