package reconcile

import "errors"

// ErrNotFoundLocally reports that the network failed and the local store had
// nothing to fall back on.
var ErrNotFoundLocally = errors.New("not found locally")
