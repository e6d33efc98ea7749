// Package store provides the PostgreSQL persistence layer: connection
// pooling, embedded schema migrations, and typed repositories over sqlx.
package store

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib" // register pgx driver for database/sql
	"github.com/jmoiron/sqlx"

	"github.com/replyworks/sage/pkg/config"
)

//go:embed migrations
var migrationsFS embed.FS

// ErrNotFound is returned by repository getters when no row matches.
// Callers translate it into their own error vocabulary at the boundary.
var ErrNotFound = errors.New("store: not found")

// Client owns the shared connection pool and exposes one repository per
// aggregate. All repositories share the same *sqlx.DB.
type Client struct {
	db *sqlx.DB

	Pairs     *PairStore
	Documents *DocumentStore
	Records   *RecordStore
	Vectors   *VectorStore
	Webhooks  *WebhookStore
}

// Open connects to Postgres via the pgx stdlib driver, configures the pool,
// and applies any pending embedded migrations before returning.
func Open(ctx context.Context, dsn string, cfg *config.PostgresConfig) (*Client, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres DSN is empty")
	}

	db, err := sqlx.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := runMigrations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return newClient(db), nil
}

func newClient(db *sqlx.DB) *Client {
	c := &Client{db: db}
	c.Pairs = &PairStore{db: db}
	c.Documents = &DocumentStore{db: db}
	c.Records = &RecordStore{db: db}
	c.Vectors = &VectorStore{db: db}
	c.Webhooks = &WebhookStore{db: db}
	return c
}

// DB returns the underlying pool for health checks and transactions that
// span repositories.
func (c *Client) DB() *sqlx.DB {
	return c.db
}

// Ping reports connectivity for readiness probes.
func (c *Client) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// Close releases the connection pool.
func (c *Client) Close() error {
	return c.db.Close()
}

// runMigrations applies embedded SQL migrations with golang-migrate.
// Migration files live in pkg/store/migrations and are compiled into the
// binary, so deployments never depend on files on disk.
func runMigrations(db *sqlx.DB) error {
	driver, err := postgres.WithInstance(db.DB, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("failed to create postgres driver: %w", err)
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sage", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	// Close only the migration source. m.Close() would also close the
	// database driver, which closes the shared *sql.DB underneath us.
	if err := sourceDriver.Close(); err != nil {
		return fmt.Errorf("failed to close migration source: %w", err)
	}

	return nil
}
