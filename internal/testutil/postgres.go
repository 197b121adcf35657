// Package testutil provides shared integration test infrastructure.
package testutil

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"testing"

	_ "github.com/lib/pq" // postgres driver
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/listenlog/listenlog/migrations"
)

const postgresImage = "postgres:16-alpine"

// Postgres is a throwaway PostgreSQL database with the listenlog schema applied.
type Postgres struct {
	DB        *sql.DB
	container *postgres.PostgresContainer
}

// StartPostgres runs a container, applies the embedded migrations and returns an open pool.
// The pool and the container are released when t finishes.
func StartPostgres(ctx context.Context, t *testing.T) *Postgres {
	t.Helper()

	ctr, err := postgres.Run(ctx, postgresImage,
		postgres.WithDatabase("listenlog_test"),
		postgres.WithUsername("listenlog"),
		postgres.WithPassword("listenlog"),
		postgres.BasicWaitStrategies(),
	)
	testcontainers.CleanupContainer(t, ctr)
	require.NoError(t, err, "start postgres container")

	pg := &Postgres{container: ctr}

	pg.DB, err = sql.Open("postgres", pg.DSN(ctx, t))
	require.NoError(t, err, "open database")
	t.Cleanup(func() { _ = pg.DB.Close() })

	require.NoError(t, migrations.Apply(ctx, pg.DB, DiscardLogger()), "apply migrations")

	return pg
}

// DSN returns the connection string of the running container.
func (p *Postgres) DSN(ctx context.Context, t *testing.T) string {
	t.Helper()

	dsn, err := p.container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err, "container connection string")

	return dsn
}

// DiscardLogger returns a logger that drops everything.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
