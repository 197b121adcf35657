package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
)

const reportingWatermarkQuery = `SELECT MAX(played_at) FROM reporting_rows`

// playEventColumns is the column list shared by play_events and reporting_rows.
var playEventColumns = []string{
	"played_at", "played_date", "song_name", "main_artist", "featured_artists",
	"album_name", "artist_genre", "release_date", "duration_sec", "track_id",
	"artist_id", "spotify_url", "isrc",
}

var syncReportingQuery = buildSyncReportingQuery()

func buildSyncReportingQuery() string {
	features := featureColumns()
	target := make([]string, 0, len(playEventColumns)+1+len(features))
	source := make([]string, 0, cap(target))

	for _, c := range playEventColumns {
		target = append(target, c)
		source = append(source, "p."+c)
	}

	target = append(target, "mbid")
	source = append(source, "f.mbid")

	for _, c := range features {
		target = append(target, c)
		source = append(source, "f."+c)
	}

	return fmt.Sprintf(`
		INSERT INTO reporting_rows (%s)
		SELECT %s
		FROM play_events p
		LEFT JOIN LATERAL (
			SELECT fr.* FROM feature_records fr WHERE fr.isrc = p.isrc
			UNION ALL
			SELECT fr.* FROM shared_recordings s
			JOIN feature_records fr ON fr.mbid = s.mbid
			WHERE s.isrc = p.isrc
			LIMIT 1
		) f ON TRUE
		WHERE $1::timestamptz IS NULL OR p.played_at > $1::timestamptz
		ON CONFLICT (played_at) DO NOTHING`,
		strings.Join(target, ", "),
		strings.Join(source, ", "),
	)
}

// SyncReportingRows appends every play event newer than the reporting watermark to
// reporting_rows, joined with its feature record when one exists, and returns the
// number of rows inserted. An ISRC linked in shared_recordings takes the features of
// the recording it shares. Play events without features are kept with null feature
// columns. Running it twice in a row inserts nothing the second time.
func (s *Store) SyncReportingRows(ctx context.Context) (int64, error) {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, storageError(ErrReportingSyncFailed, "begin transaction", err)
	}

	defer func() {
		_ = tx.Rollback()
	}()

	var watermark sql.NullTime
	if err := tx.QueryRowContext(ctx, reportingWatermarkQuery).Scan(&watermark); err != nil {
		return 0, storageError(ErrReportingSyncFailed, "read watermark", err)
	}

	res, err := tx.ExecContext(ctx, syncReportingQuery, watermark)
	if err != nil {
		return 0, storageError(ErrReportingSyncFailed, "merge play events", err)
	}

	inserted, err := res.RowsAffected()
	if err != nil {
		return 0, storageError(ErrReportingSyncFailed, "rows affected", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, storageError(ErrReportingSyncFailed, "commit", err)
	}

	attrs := []any{slog.Int64("inserted", inserted)}
	if watermark.Valid {
		attrs = append(attrs, slog.Time("watermark", watermark.Time))
	}

	s.logger.Info("Reporting rows synced", attrs...)

	return inserted, nil
}
