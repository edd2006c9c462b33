// Package migrations embeds the versioned schema of the local store.
//
// Each file is one schema version. Versions are applied in order and recorded
// in goose_db_version, so opening a store only ever applies the steps between
// the recorded version and the newest file.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
