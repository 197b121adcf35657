// Package main provides the listenlog CLI.
//
// listenlog imports listening history, enriches each played ISRC with MusicBrainz
// and AcousticBrainz metadata, and merges the result into a reporting table.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/listenlog/listenlog/internal/config"
	"github.com/listenlog/listenlog/internal/observability"
)

// Version information.
const (
	version = "1.0.0-dev"
	name    = "listenlog"

	traceFlushTimeout = 5 * time.Second
)

func main() {
	var (
		showVersion = flag.Bool("version", false, "show version information")
		databaseURL = flag.String("database-url", "", "PostgreSQL connection string (overrides DATABASE_URL)")
		dotEnvPath  = flag.String("env-file", config.DefaultDotEnvPath, "optional .env file to load")
	)

	flag.Usage = printUsage
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s v%s\n", name, version)
		os.Exit(0)
	}

	loaded, err := config.LoadDotEnv(*dotEnvPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load %s: %v\n", *dotEnvPath, err)
		os.Exit(1)
	}

	logger := config.NewLogger()
	slog.SetDefault(logger)

	if loaded {
		logger.Debug("Loaded environment file", slog.String("path", *dotEnvPath))
	}

	cmd, err := parseCommand(flag.Args())
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		printUsage()
		os.Exit(2)
	}

	shutdownTracing, err := observability.InitTracing(observability.LoadConfig(), os.Stderr)
	if err != nil {
		logger.Error("Failed to initialise tracing", slog.String("error", err.Error()))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("Starting listenlog",
		slog.String("service", name),
		slog.String("version", version),
		slog.String("command", cmd.name),
	)

	if err := execute(ctx, cmd, *databaseURL, logger); err != nil {
		logger.Error("Command failed",
			slog.String("command", cmd.name),
			slog.String("error", err.Error()),
		)
		stop()
		flushTraces(shutdownTracing, logger)
		os.Exit(1)
	}

	flushTraces(shutdownTracing, logger)
}

func flushTraces(shutdown observability.Shutdown, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), traceFlushTimeout)
	defer cancel()

	if err := shutdown(ctx); err != nil {
		logger.Warn("Failed to flush traces", slog.String("error", err.Error()))
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `%s v%s - listening history enrichment

USAGE:
    %s [OPTIONS] [COMMAND]

COMMANDS:
    run                         Enrich pending ISRCs and sync the reporting table (default)
    import [-genres FILE] FILE  Import a Spotify "recently played" JSON response
    migrate [up|down|status]    Manage the database schema (default: up)

OPTIONS:
    -database-url URL  PostgreSQL connection string (overrides DATABASE_URL)
    -env-file PATH     .env file to load (default: .env)
    -version           Show version information

ENVIRONMENT VARIABLES:
    DATABASE_URL                      PostgreSQL connection string (REQUIRED unless -database-url)
    LOG_LEVEL                         debug, info, warn, error (default: info)
    LISTENLOG_CONFIG_PATH             client identity file (default: .listenlog.yaml)
    LISTENLOG_APP_NAME, LISTENLOG_CONTACT
                                      override the identity sent as User-Agent
    LISTENLOG_SELECT_ABOVE_WATERMARK  only enrich plays newer than the reporting table
    LISTENLOG_MAX_CANDIDATES          cap ISRCs per run (default: 0, no cap)
    MUSICBRAINZ_*, ACOUSTICBRAINZ_*   upstream base URLs, pacing and retry limits
    LISTENLOG_TRACE_EXPORTER          none or stdout (spans to stderr, default: none)
`, name, version, name)
}
