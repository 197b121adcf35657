package migrations

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

// DefaultTable is the golang-migrate bookkeeping table.
const DefaultTable = "listenlog_schema_migrations"

var (
	// ErrSchemaDirty is returned when a previous migration failed halfway and needs manual repair.
	ErrSchemaDirty = errors.New("schema is dirty")

	_ migrate.Logger = (*slogAdapter)(nil)
)

// Status is the schema version recorded in the database.
type Status struct {
	Version uint
	Dirty   bool
	Latest  int
}

// slogAdapter routes golang-migrate output into slog.
type slogAdapter struct {
	logger *slog.Logger
}

func (l *slogAdapter) Printf(format string, v ...interface{}) {
	l.logger.Debug(fmt.Sprintf("[MIGRATE] "+format, v...))
}

func (l *slogAdapter) Verbose() bool {
	return false
}

// Apply brings the schema on db up to the latest embedded migration.
// It is safe to call on every start: an up-to-date schema is a no-op.
func Apply(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	m, conn, err := newMigrate(ctx, db, logger)
	if err != nil {
		return err
	}

	defer func() {
		_ = conn.Close()
	}()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}

	return nil
}

// Down rolls back the most recent migration.
func Down(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	m, conn, err := newMigrate(ctx, db, logger)
	if err != nil {
		return err
	}

	defer func() {
		_ = conn.Close()
	}()

	if err := m.Steps(-1); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration down failed: %w", err)
	}

	return nil
}

// CurrentStatus reports the applied schema version.
func CurrentStatus(ctx context.Context, db *sql.DB, logger *slog.Logger) (*Status, error) {
	m, conn, err := newMigrate(ctx, db, logger)
	if err != nil {
		return nil, err
	}

	defer func() {
		_ = conn.Close()
	}()

	status := &Status{Latest: LatestVersion(embedded)}

	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return status, nil
	}

	if err != nil {
		return nil, fmt.Errorf("failed to read migration version: %w", err)
	}

	status.Version = version
	status.Dirty = dirty

	if dirty {
		return status, fmt.Errorf("%w at version %d", ErrSchemaDirty, version)
	}

	return status, nil
}

// newMigrate binds golang-migrate to a single connection taken from db.
// Callers close the returned connection; the migrate instance itself is never
// closed because that would close db as well.
func newMigrate(ctx context.Context, db *sql.DB, logger *slog.Logger) (*migrate.Migrate, *sql.Conn, error) {
	if err := Validate(embedded); err != nil {
		return nil, nil, fmt.Errorf("embedded migration validation failed: %w", err)
	}

	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to acquire migration connection: %w", err)
	}

	driver, err := postgres.WithConnection(ctx, conn, &postgres.Config{MigrationsTable: DefaultTable})
	if err != nil {
		_ = conn.Close()

		return nil, nil, fmt.Errorf("failed to create postgres migration driver: %w", err)
	}

	source, err := iofs.New(embedded, ".")
	if err != nil {
		_ = conn.Close()

		return nil, nil, fmt.Errorf("failed to create embedded migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		_ = conn.Close()

		return nil, nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}

	if logger != nil {
		m.Log = &slogAdapter{logger: logger}
	}

	return m, conn, nil
}
