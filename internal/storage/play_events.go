package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/listenlog/listenlog/internal/history"
)

const playEventsWatermarkQuery = `SELECT MAX(played_at) FROM play_events`

var insertPlayEventQuery = buildInsertPlayEventQuery()

func buildInsertPlayEventQuery() string {
	placeholders := make([]string, len(playEventColumns))
	for i := range playEventColumns {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}

	return fmt.Sprintf(
		"INSERT INTO play_events (%s) VALUES (%s) ON CONFLICT (played_at) DO NOTHING",
		strings.Join(playEventColumns, ", "),
		strings.Join(placeholders, ", "),
	)
}

func nullIfEmpty(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func playEventArgs(e history.PlayEvent) []any {
	return []any{
		e.PlayedAt.UTC(),
		e.PlayedDate().Format(time.DateOnly),
		e.SongName,
		e.MainArtist,
		e.FeaturedArtists,
		e.AlbumName,
		e.ArtistGenre,
		nullIfEmpty(e.ReleaseDate),
		e.DurationSec,
		e.TrackID,
		nullIfEmpty(e.ArtistID),
		nullIfEmpty(e.SpotifyURL),
		nullIfEmpty(e.ISRC),
	}
}

// ImportPlayEvents appends events played after the newest stored play event, oldest first,
// in one transaction. A batch that is empty after filtering is reported as
// history.ImportStatusEmpty. Duplicate played_at values within the batch abort the import.
func (s *Store) ImportPlayEvents(ctx context.Context, events []history.PlayEvent) (*history.ImportResult, error) {
	result := &history.ImportResult{Status: history.ImportStatusEmpty, Received: len(events)}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, storageError(ErrImportFailed, "begin transaction", err)
	}

	defer func() {
		_ = tx.Rollback()
	}()

	var watermark sql.NullTime
	if err := tx.QueryRowContext(ctx, playEventsWatermarkQuery).Scan(&watermark); err != nil {
		return nil, storageError(ErrImportFailed, "read watermark", err)
	}

	fresh := history.After(events, watermark.Time)

	if err := history.Validate(fresh); err != nil {
		if errors.Is(err, history.ErrEmptyBatch) {
			s.logger.Info("No new play events to import", slog.Int("received", len(events)))

			return result, nil
		}

		return nil, fmt.Errorf("%w: %w", ErrImportFailed, err)
	}

	for _, e := range fresh {
		res, err := tx.ExecContext(ctx, insertPlayEventQuery, playEventArgs(e)...)
		if err != nil {
			return nil, storageError(ErrImportFailed, "insert play event", err)
		}

		n, err := res.RowsAffected()
		if err != nil {
			return nil, storageError(ErrImportFailed, "rows affected", err)
		}

		result.Inserted += n
	}

	if err := tx.Commit(); err != nil {
		return nil, storageError(ErrImportFailed, "commit", err)
	}

	result.Status = history.ImportStatusImported

	s.logger.Info("Play events imported",
		slog.Int("received", result.Received),
		slog.Int64("inserted", result.Inserted),
		slog.Time("first_played_at", fresh[0].PlayedAt),
		slog.Time("last_played_at", fresh[len(fresh)-1].PlayedAt),
	)

	return result, nil
}
