package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/listenlog/listenlog/internal/acousticbrainz"
	"github.com/listenlog/listenlog/internal/history"
	"github.com/listenlog/listenlog/internal/musicbrainz"
	"github.com/listenlog/listenlog/internal/pipeline"
	"github.com/listenlog/listenlog/internal/storage"
	"github.com/listenlog/listenlog/internal/upstream"
	"github.com/listenlog/listenlog/migrations"
)

const (
	cmdRun     = "run"
	cmdImport  = "import"
	cmdMigrate = "migrate"

	migrateUp     = "up"
	migrateDown   = "down"
	migrateStatus = "status"
)

var (
	// ErrUnknownCommand is returned for a command the CLI does not know.
	ErrUnknownCommand = errors.New("unknown command")
	// ErrMissingArgument is returned when a command is missing a required argument.
	ErrMissingArgument = errors.New("missing argument")
)

type command struct {
	name       string
	file       string // import: recently played response
	genresFile string // import: optional several-artists response
	migrateOp  string
}

func parseCommand(args []string) (command, error) {
	if len(args) == 0 {
		return command{name: cmdRun}, nil
	}

	switch args[0] {
	case cmdRun:
		if len(args) > 1 {
			return command{}, fmt.Errorf("%w: run takes no arguments", ErrUnknownCommand)
		}

		return command{name: cmdRun}, nil
	case cmdImport:
		fs := flag.NewFlagSet(cmdImport, flag.ContinueOnError)
		fs.SetOutput(io.Discard)
		genres := fs.String("genres", "", "several-artists JSON response used for artist genres")

		if err := fs.Parse(args[1:]); err != nil {
			return command{}, err
		}

		if fs.NArg() != 1 {
			return command{}, fmt.Errorf("%w: import needs exactly one FILE", ErrMissingArgument)
		}

		return command{name: cmdImport, file: fs.Arg(0), genresFile: *genres}, nil
	case cmdMigrate:
		op := migrateUp
		if len(args) > 1 {
			op = args[1]
		}

		switch op {
		case migrateUp, migrateDown, migrateStatus:
			return command{name: cmdMigrate, migrateOp: op}, nil
		default:
			return command{}, fmt.Errorf("%w: migrate %s", ErrUnknownCommand, op)
		}
	default:
		return command{}, fmt.Errorf("%w: %s", ErrUnknownCommand, args[0])
	}
}

// execute connects, applies the schema, and runs cmd.
func execute(ctx context.Context, cmd command, databaseURL string, logger *slog.Logger) error {
	storageConfig := storage.LoadConfig().WithDatabaseURL(databaseURL)

	conn, err := storage.NewConnection(ctx, storageConfig)
	if err != nil {
		return err
	}

	defer func() {
		_ = conn.Close()
	}()

	logger.Info("Connected to database",
		slog.String("database_url", storageConfig.MaskDatabaseURL()),
		slog.Int("database_max_open_conns", storageConfig.MaxOpenConns),
		slog.Int("database_max_idle_conns", storageConfig.MaxIdleConns),
	)

	// migrate manages the schema itself.
	if cmd.name == cmdMigrate {
		return runMigrate(ctx, conn, cmd.migrateOp, logger)
	}

	if err := storage.ApplySchema(ctx, conn, logger); err != nil {
		return err
	}

	store, err := storage.NewStore(conn, storage.WithLogger(logger))
	if err != nil {
		return err
	}

	switch cmd.name {
	case cmdImport:
		return runImport(ctx, store, cmd, logger)
	default:
		return runPipeline(ctx, store, logger)
	}
}

func runPipeline(ctx context.Context, store *storage.Store, logger *slog.Logger) error {
	identity, err := upstream.LoadIdentityFromEnv(logger)
	if err != nil {
		return err
	}

	mbConfig := musicbrainz.LoadConfig()

	resolver, err := musicbrainz.NewResolver(mbConfig, identity, musicbrainz.WithLogger(logger))
	if err != nil {
		return err
	}

	abConfig := acousticbrainz.LoadConfig()

	fetcher, err := acousticbrainz.NewFetcher(abConfig, identity, acousticbrainz.WithLogger(logger))
	if err != nil {
		return err
	}

	logger.Info("Upstream clients initialized",
		slog.String("user_agent", identity.UserAgent()),
		slog.String("musicbrainz_base_url", mbConfig.BaseURL),
		slog.Duration("musicbrainz_min_interval", mbConfig.MinInterval),
		slog.String("acousticbrainz_base_url", abConfig.BaseURL),
		slog.Int("acousticbrainz_requests_per_window", abConfig.RequestsPerWindow),
		slog.Duration("acousticbrainz_window", abConfig.Window),
	)

	runner, err := pipeline.NewRunner(store, resolver, fetcher, pipeline.LoadConfig(), pipeline.WithLogger(logger))
	if err != nil {
		return err
	}

	report, err := runner.Run(ctx)
	if err != nil {
		return err
	}

	if report.Status == pipeline.StatusNoOp {
		logger.Info("Nothing to do", slog.String("run_id", report.RunID))
	}

	return nil
}

func runImport(ctx context.Context, store *storage.Store, cmd command, logger *slog.Logger) error {
	var genres map[string]string

	if cmd.genresFile != "" {
		f, err := os.Open(cmd.genresFile)
		if err != nil {
			return fmt.Errorf("failed to open genres file: %w", err)
		}

		genres, err = history.ParseArtistGenres(f)
		_ = f.Close()

		if err != nil {
			return err
		}
	}

	f, err := os.Open(cmd.file)
	if err != nil {
		return fmt.Errorf("failed to open import file: %w", err)
	}

	defer func() {
		_ = f.Close()
	}()

	events, err := history.ParseRecentlyPlayed(f, genres, logger)
	if err != nil {
		return err
	}

	result, err := store.ImportPlayEvents(ctx, events)
	if err != nil {
		return err
	}

	logger.Info("Import finished",
		slog.String("file", cmd.file),
		slog.String("status", string(result.Status)),
		slog.Int("received", result.Received),
		slog.Int64("inserted", result.Inserted),
	)

	return nil
}

func runMigrate(ctx context.Context, conn *storage.Connection, op string, logger *slog.Logger) error {
	switch op {
	case migrateDown:
		return migrations.Down(ctx, conn.DB, logger)
	case migrateStatus:
		status, err := migrations.CurrentStatus(ctx, conn.DB, logger)
		if err != nil {
			return err
		}

		logger.Info("Schema status",
			slog.Uint64("version", uint64(status.Version)),
			slog.Bool("dirty", status.Dirty),
			slog.Int("latest", status.Latest),
		)

		return nil
	default:
		return storage.ApplySchema(ctx, conn, logger)
	}
}
