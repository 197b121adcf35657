package storage

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/listenlog/listenlog/internal/config"
)

var (
	// ErrSelectFailed is returned when pending ISRCs cannot be computed.
	ErrSelectFailed = errors.New("pending ISRC selection failed")
	// ErrEnrichmentPersistFailed is returned when the enrichment transaction is rolled back.
	ErrEnrichmentPersistFailed = errors.New("enrichment persist failed")
	// ErrReportingSyncFailed is returned when the reporting table merge is rolled back.
	ErrReportingSyncFailed = errors.New("reporting sync failed")
	// ErrImportFailed is returned when a play-event import is rolled back.
	ErrImportFailed = errors.New("play event import failed")
)

type (
	// Store is the PostgreSQL-backed store for play events, features and failure markers.
	// It does not own the connection; the caller closes it.
	Store struct {
		conn   *Connection
		logger *slog.Logger
	}

	// StoreOption configures optional Store behavior.
	StoreOption func(*Store)
)

// WithLogger replaces the default JSON logger.
func WithLogger(logger *slog.Logger) StoreOption {
	return func(s *Store) {
		s.logger = logger
	}
}

// NewStore creates a Store on conn.
func NewStore(conn *Connection, opts ...StoreOption) (*Store, error) {
	if conn == nil || conn.DB == nil {
		return nil, ErrNoDatabaseConnection
	}

	s := &Store{
		conn:   conn,
		logger: config.NewLogger(),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

// storageError wraps err under sentinel and tags lost connections with ErrConnectionFailed.
func storageError(sentinel error, op string, err error) error {
	if isDatabaseConnectionError(err) {
		return fmt.Errorf("%w: %s: %w: %w", sentinel, op, ErrConnectionFailed, err)
	}

	return fmt.Errorf("%w: %s: %w", sentinel, op, err)
}
