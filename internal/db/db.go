package db

import (
	"context"
	_ "embed"
	"fmt"

	"agrosmart/internal/store"

	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	_ store.CommandStore   = (*DB)(nil)
	_ store.HistoryLog     = (*DB)(nil)
	_ store.HistoryReader  = (*DB)(nil)
	_ store.ScheduleSource = (*DB)(nil)
	_ store.DeviceSource   = (*DB)(nil)
)

//go:embed schema.sql
var schemaSQL string

const currentSchemaVersion = 1

// DB wraps pgxpool.Pool and implements the store ports on Postgres.
type DB struct {
	pool *pgxpool.Pool
}

// NewDB creates a connection pool and verifies it with a ping.
func NewDB(ctx context.Context, url string) (*DB, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return &DB{pool: pool}, nil
}

// Close closes the connection pool
func (d *DB) Close(ctx context.Context) error {
	d.pool.Close()
	return nil
}

// Pool returns the underlying pgxpool.Pool
func (d *DB) Pool() *pgxpool.Pool {
	return d.pool
}

// Ping checks connectivity.
func (d *DB) Ping(ctx context.Context) error {
	return d.pool.Ping(ctx)
}

// Migrate applies the embedded schema. It is idempotent.
func (d *DB) Migrate(ctx context.Context) error {
	if _, err := d.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}

	var version int
	err := d.pool.QueryRow(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_meta").Scan(&version)
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}
	if version < currentSchemaVersion {
		if _, err := d.pool.Exec(ctx, "INSERT INTO schema_meta (version) VALUES ($1)", currentSchemaVersion); err != nil {
			return fmt.Errorf("failed to record schema version: %w", err)
		}
	}
	return nil
}
