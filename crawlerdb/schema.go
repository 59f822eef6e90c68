package crawlerdb

import (
	"context"
	"fmt"
)

var schemas = map[string]string{
	DriverSQLite: `CREATE TABLE IF NOT EXISTS resources (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		url TEXT NOT NULL UNIQUE
	)`,
	DriverPostgres: `CREATE TABLE IF NOT EXISTS resources (
		id BIGSERIAL PRIMARY KEY,
		url TEXT NOT NULL UNIQUE
	)`,
}

// Migrate creates the resources table if it does not exist.
func (d *DB) Migrate(ctx context.Context) error {
	schema, ok := schemas[d.db.DriverName()]
	if !ok {
		return fmt.Errorf("no schema for driver %q", d.db.DriverName())
	}
	if _, err := d.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("unable to create resources table: %w", err)
	}
	return nil
}
