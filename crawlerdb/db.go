package crawlerdb

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/jackc/pgx/v4/stdlib" // registers the "pgx" driver
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/emilyzhang/scrapr/logger"
)

const (
	// DriverSQLite stores resources in a local SQLite file.
	DriverSQLite = "sqlite"
	// DriverPostgres stores resources in Postgres through pgx.
	DriverPostgres = "pgx"

	sqliteBusyTimeoutMs = 10000
)

// Config holds database configuration.
type Config struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
	// ConnectRetries is how many extra connection attempts are made before
	// giving up; RetryDelay is the first wait and grows by half each attempt.
	ConnectRetries int           `mapstructure:"connect_retries"`
	RetryDelay     time.Duration `mapstructure:"retry_delay"`
}

// DB is the dedup store: an append-only table of every resource URL that was
// ever visited.
type DB struct {
	db *sqlx.DB
}

// New connects to the configured database, retrying a few times before it
// gives up, and makes sure the schema exists.
func New(ctx context.Context, cfg Config, log logger.Interface) (*DB, error) {
	if log == nil {
		log = logger.NewNop()
	}
	sleep := cfg.RetryDelay
	if sleep <= 0 {
		sleep = time.Second
	}

	db, err := Open(ctx, cfg.Driver, cfg.DSN)
	for count := 0; err != nil; count++ {
		if count >= cfg.ConnectRetries {
			return nil, err
		}
		log.Warn("Database connection failed, retrying",
			"driver", cfg.Driver, "attempt", count+1, "retry_in", sleep, "error", err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(sleep):
		}
		sleep += sleep / 2
		db, err = Open(ctx, cfg.Driver, cfg.DSN)
	}
	return db, nil
}

// Open opens a database once and creates the schema.
func Open(ctx context.Context, driver, dsn string) (*DB, error) {
	switch driver {
	case DriverSQLite:
		if dsn == "" {
			return nil, fmt.Errorf("sqlite database path is empty")
		}
		if dsn != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
				return nil, fmt.Errorf("unable to create database directory: %w", err)
			}
		}
	case DriverPostgres:
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := sqlx.ConnectContext(ctx, driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to %s database: %w", driver, err)
	}

	if driver == DriverSQLite {
		// SQLite allows a single writer; one connection also keeps an
		// in-memory database alive for the life of the pool.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
		if err := applyPragmas(ctx, db, dsn); err != nil {
			db.Close()
			return nil, err
		}
	}

	d := NewFromDB(db)
	if err := d.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return d, nil
}

// NewFromDB wraps an existing connection without touching the schema.
func NewFromDB(db *sqlx.DB) *DB {
	return &DB{db: db}
}

// Close closes the underlying connection pool.
func (d *DB) Close() error {
	return d.db.Close()
}

// Ping verifies the database is reachable.
func (d *DB) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

func applyPragmas(ctx context.Context, db *sqlx.DB, dsn string) error {
	pragmas := []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", sqliteBusyTimeoutMs),
		"PRAGMA synchronous = NORMAL",
	}
	if dsn != ":memory:" {
		pragmas = append(pragmas, "PRAGMA journal_mode = WAL")
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("unable to apply %q: %w", p, err)
		}
	}
	return nil
}
