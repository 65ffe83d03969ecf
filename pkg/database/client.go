// Package database provides the PostgreSQL client and schema migrations.
package database

import (
	"context"
	stdsql "database/sql"
	"fmt"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver
)

// Client shares one *sql.DB between the services. Statements are built with
// Builder and run through an ent dialect driver over the same pool.
type Client struct {
	db     *stdsql.DB
	driver *entsql.Driver
}

// NewClient opens the pool described by cfg, verifies it answers and brings
// the schema up to date.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	db, err := stdsql.Open("pgx", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	cfg.applyPool(db)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database %s@%s:%d: %w", cfg.Database, cfg.Host, cfg.Port, err)
	}
	if err := RunMigrations(db, cfg.Database); err != nil {
		_ = db.Close()
		return nil, err
	}
	return NewClientFromDB(db), nil
}

// NewClientFromDB wraps a pool whose schema is already migrated.
func NewClientFromDB(db *stdsql.DB) *Client {
	return &Client{db: db, driver: entsql.OpenDB(dialect.Postgres, db)}
}

// DB exposes the pool for health checks and hand-written transactions.
func (c *Client) DB() *stdsql.DB { return c.db }

func (c *Client) Close() error { return c.db.Close() }
