// Package storage is the PostgreSQL persistence layer: the incremental selector,
// the enrichment writer, the reporting table reconciliation, and play-event import.
package storage

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/listenlog/listenlog/migrations"
)

const healthCheckTimeout = 5 * time.Second

var (
	// ErrNoDatabaseConnection is returned when a store is built without a connection.
	ErrNoDatabaseConnection = errors.New("no database connection")
	// ErrConnectionFailed is returned when the database cannot be opened or reached.
	ErrConnectionFailed = errors.New("database connection failed")
	// ErrSchemaApplyFailed is returned when the embedded migrations cannot be applied.
	ErrSchemaApplyFailed = errors.New("schema apply failed")
)

// Connection is a pooled PostgreSQL connection.
type Connection struct {
	*sql.DB
}

// NewConnection opens a pool using cfg and verifies the database answers.
func NewConnection(ctx context.Context, cfg *Config) (*Connection, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	db, err := sql.Open("postgres", cfg.databaseURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	conn := &Connection{DB: db}

	if err := conn.HealthCheck(ctx); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("%w: %s: %w", ErrConnectionFailed, cfg.MaskDatabaseURL(), err)
	}

	return conn, nil
}

// HealthCheck pings the database.
func (c *Connection) HealthCheck(ctx context.Context) error {
	if c == nil || c.DB == nil {
		return ErrNoDatabaseConnection
	}

	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	return c.PingContext(ctx)
}

// ApplySchema creates or upgrades every table the pipeline uses. Safe to run before every command.
func ApplySchema(ctx context.Context, conn *Connection, logger *slog.Logger) error {
	if conn == nil || conn.DB == nil {
		return ErrNoDatabaseConnection
	}

	if err := migrations.Apply(ctx, conn.DB, logger); err != nil {
		return fmt.Errorf("%w: %w", ErrSchemaApplyFailed, err)
	}

	return nil
}

// isDatabaseConnectionError reports whether err means the connection itself is gone
// (PostgreSQL class 08) rather than a failed statement.
func isDatabaseConnectionError(err error) bool {
	if err == nil {
		return false
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return strings.HasPrefix(string(pqErr.Code), "08")
	}

	return errors.Is(err, sql.ErrConnDone) || errors.Is(err, driver.ErrBadConn)
}
