package crawlerdb

import (
	"context"
	"database/sql"
	"errors"
)

// Record stores url unless it has been stored before. The check and the
// insert are one statement: a second insert of the same url fails the unique
// constraint and is reported as AlreadyPresent.
func (d *DB) Record(ctx context.Context, url string) (Outcome, error) {
	var id int64
	err := d.db.QueryRowxContext(ctx, d.db.Rebind(
		`INSERT INTO resources (url)
		VALUES (?)
		RETURNING id`), url).Scan(&id)
	if err == nil {
		return Inserted, nil
	}
	if isUniqueViolation(err) {
		return AlreadyPresent, nil
	}
	return Unknown, &StorageError{Op: "record", URL: url, Err: err}
}

// GetResource returns the resource recorded for url.
func (d *DB) GetResource(ctx context.Context, url string) (*Resource, error) {
	var r Resource
	err := d.db.GetContext(ctx, &r, d.db.Rebind(
		`SELECT id, url
		FROM resources
		WHERE url = ?`), url)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrDoesNotExist
	}
	if err != nil {
		return nil, &StorageError{Op: "get", URL: url, Err: err}
	}
	return &r, nil
}

// ListResources returns recorded resources ordered by id.
func (d *DB) ListResources(ctx context.Context, limit, offset int) ([]Resource, error) {
	resources := []Resource{}
	err := d.db.SelectContext(ctx, &resources, d.db.Rebind(
		`SELECT id, url
		FROM resources
		ORDER BY id ASC
		LIMIT ? OFFSET ?`), limit, offset)
	if err != nil {
		return nil, &StorageError{Op: "list", Err: err}
	}
	return resources, nil
}

// CountResources returns the number of recorded resources.
func (d *DB) CountResources(ctx context.Context) (int, error) {
	var n int
	if err := d.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM resources`); err != nil {
		return 0, &StorageError{Op: "count", Err: err}
	}
	return n, nil
}
