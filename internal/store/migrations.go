package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hyperengineering/pantry/migrations"
	"github.com/pressly/goose/v3"
)

// RunMigrations applies every schema version newer than the one recorded in
// the database and returns the resulting version. Versions already applied are
// never re-run.
func RunMigrations(ctx context.Context, db *sql.DB) (int64, error) {
	provider, err := goose.NewProvider(goose.DialectSQLite3, db, migrations.FS)
	if err != nil {
		return 0, fmt.Errorf("create migration provider: %w", err)
	}

	if _, err := provider.Up(ctx); err != nil {
		return 0, fmt.Errorf("run migrations: %w", err)
	}

	version, err := provider.GetDBVersion(ctx)
	if err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return version, nil
}
