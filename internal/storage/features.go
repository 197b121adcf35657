package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/listenlog/listenlog/internal/enrichment"
)

const (
	existingMBIDsQuery = `SELECT mbid, isrc FROM feature_records WHERE mbid = ANY($1)`

	insertFailedISRCQuery = `
		INSERT INTO failed_identifiers (isrc, last_attempt)
		VALUES ($1, $2)
		ON CONFLICT (isrc) DO NOTHING
	`

	insertInvalidMBIDQuery = `
		INSERT INTO invalid_secondary_ids (mbid, isrc, last_attempt)
		VALUES ($1, $2, $3)
		ON CONFLICT (mbid) DO NOTHING
	`

	insertSharedRecordingQuery = `
		INSERT INTO shared_recordings (isrc, mbid, recorded_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (isrc) DO NOTHING
	`
)

// insertFeatureQuery is built from the feature catalog so the column list cannot drift from it.
var insertFeatureQuery = buildInsertFeatureQuery()

// featureColumns lists value then probability column for every catalogued feature.
func featureColumns() []string {
	cols := make([]string, 0, 2*len(enrichment.Features))

	for _, f := range enrichment.Features {
		cols = append(cols, f.Column, f.ProbabilityColumn())
	}

	return cols
}

func buildInsertFeatureQuery() string {
	cols := append([]string{"isrc", "mbid"}, featureColumns()...)

	placeholders := make([]string, len(cols))
	for i := range cols {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}

	return fmt.Sprintf(
		"INSERT INTO feature_records (%s) VALUES (%s) ON CONFLICT DO NOTHING",
		strings.Join(cols, ", "),
		strings.Join(placeholders, ", "),
	)
}

func featureArgs(rec enrichment.FeatureRecord) []any {
	args := make([]any, 0, 2+2*len(enrichment.Features))
	args = append(args, rec.ISRC, rec.MBID)

	for _, f := range enrichment.Features {
		v := rec.Value(f.Column)
		args = append(args, v.Value, v.Probability)
	}

	return args
}

// PersistEnrichment writes one run's features, failed ISRCs, invalid MBIDs and shared
// recordings in a single transaction. Nothing is committed unless every write succeeds.
//
// A record whose MBID is already stored under another ISRC is not inserted; its ISRC is
// linked to the stored recording instead. Invalid MBIDs are paired with their ISRC through
// the batch's reverse mapping; those without one are skipped and counted.
func (s *Store) PersistEnrichment(ctx context.Context, batch *enrichment.Batch) (*enrichment.PersistResult, error) {
	result := &enrichment.PersistResult{}

	if batch == nil || batch.IsEmpty() {
		return result, nil
	}

	attemptedAt := batch.AttemptedAt
	if attemptedAt.IsZero() {
		attemptedAt = time.Now().UTC()
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, storageError(ErrEnrichmentPersistFailed, "begin transaction", err)
	}

	defer func() {
		_ = tx.Rollback()
	}()

	if err := s.insertFeatures(ctx, tx, batch.Features, attemptedAt, result); err != nil {
		return nil, err
	}

	for _, shared := range batch.SharedRecordings {
		if err := linkSharedRecording(ctx, tx, shared, attemptedAt, result); err != nil {
			return nil, err
		}
	}

	if err := s.insertFailedISRCs(ctx, tx, batch.FailedISRCs, attemptedAt, result); err != nil {
		return nil, err
	}

	if err := s.insertInvalidMBIDs(ctx, tx, batch, attemptedAt, result); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, storageError(ErrEnrichmentPersistFailed, "commit", err)
	}

	s.logger.Info("Enrichment persisted",
		slog.Int64("features_inserted", result.FeaturesInserted),
		slog.Int64("features_skipped", result.FeaturesSkipped),
		slog.Int64("failures_logged", result.FailuresLogged),
		slog.Int64("invalid_logged", result.InvalidLogged),
		slog.Int64("invalid_unmapped", result.InvalidUnmapped),
		slog.Int64("shared_linked", result.SharedLinked),
	)

	return result, nil
}

func (s *Store) insertFeatures(
	ctx context.Context,
	tx *sql.Tx,
	records []enrichment.FeatureRecord,
	attemptedAt time.Time,
	result *enrichment.PersistResult,
) error {
	if len(records) == 0 {
		return nil
	}

	mbids := make([]string, len(records))
	for i, rec := range records {
		mbids[i] = rec.MBID
	}

	existing, err := existingMBIDs(ctx, tx, mbids)
	if err != nil {
		return err
	}

	for _, rec := range records {
		if owner, stored := existing[rec.MBID]; stored {
			result.FeaturesSkipped++

			if owner != rec.ISRC {
				shared := enrichment.SharedRecording{ISRC: rec.ISRC, MBID: rec.MBID}
				if err := linkSharedRecording(ctx, tx, shared, attemptedAt, result); err != nil {
					return err
				}
			}

			continue
		}

		res, err := tx.ExecContext(ctx, insertFeatureQuery, featureArgs(rec)...)
		if err != nil {
			return storageError(ErrEnrichmentPersistFailed, "insert feature record "+rec.ISRC, err)
		}

		n, err := res.RowsAffected()
		if err != nil {
			return storageError(ErrEnrichmentPersistFailed, "rows affected", err)
		}

		// Zero rows means a concurrent writer or another ISRC already claimed this row.
		if n == 0 {
			result.FeaturesSkipped++

			continue
		}

		result.FeaturesInserted += n
	}

	return nil
}

// existingMBIDs maps every already stored MBID among mbids to the ISRC that owns it.
func existingMBIDs(ctx context.Context, tx *sql.Tx, mbids []string) (map[string]string, error) {
	rows, err := tx.QueryContext(ctx, existingMBIDsQuery, pq.Array(mbids))
	if err != nil {
		return nil, storageError(ErrEnrichmentPersistFailed, "query existing mbids", err)
	}

	defer func() {
		_ = rows.Close()
	}()

	existing := make(map[string]string)

	for rows.Next() {
		var mbid, isrc string
		if err := rows.Scan(&mbid, &isrc); err != nil {
			return nil, storageError(ErrEnrichmentPersistFailed, "scan existing mbid", err)
		}

		existing[mbid] = isrc
	}

	if err := rows.Err(); err != nil {
		return nil, storageError(ErrEnrichmentPersistFailed, "iterate existing mbids", err)
	}

	return existing, nil
}

func (s *Store) insertFailedISRCs(
	ctx context.Context,
	tx *sql.Tx,
	isrcs []string,
	attemptedAt time.Time,
	result *enrichment.PersistResult,
) error {
	for _, isrc := range isrcs {
		res, err := tx.ExecContext(ctx, insertFailedISRCQuery, isrc, attemptedAt)
		if err != nil {
			return storageError(ErrEnrichmentPersistFailed, "insert failed isrc "+isrc, err)
		}

		n, err := res.RowsAffected()
		if err != nil {
			return storageError(ErrEnrichmentPersistFailed, "rows affected", err)
		}

		result.FailuresLogged += n
	}

	return nil
}

func (s *Store) insertInvalidMBIDs(
	ctx context.Context,
	tx *sql.Tx,
	batch *enrichment.Batch,
	attemptedAt time.Time,
	result *enrichment.PersistResult,
) error {
	for _, mbid := range batch.InvalidMBIDs {
		isrc, ok := batch.ISRCByMBID[mbid]
		if !ok {
			s.logger.Warn("Invalid MBID has no ISRC mapping, not recorded", slog.String("mbid", mbid))

			result.InvalidUnmapped++

			continue
		}

		res, err := tx.ExecContext(ctx, insertInvalidMBIDQuery, mbid, isrc, attemptedAt)
		if err != nil {
			return storageError(ErrEnrichmentPersistFailed, "insert invalid mbid "+mbid, err)
		}

		n, err := res.RowsAffected()
		if err != nil {
			return storageError(ErrEnrichmentPersistFailed, "rows affected", err)
		}

		result.InvalidLogged += n
	}

	return nil
}

func linkSharedRecording(
	ctx context.Context,
	tx *sql.Tx,
	shared enrichment.SharedRecording,
	attemptedAt time.Time,
	result *enrichment.PersistResult,
) error {
	res, err := tx.ExecContext(ctx, insertSharedRecordingQuery, shared.ISRC, shared.MBID, attemptedAt)
	if err != nil {
		return storageError(ErrEnrichmentPersistFailed, "link shared recording "+shared.ISRC, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return storageError(ErrEnrichmentPersistFailed, "rows affected", err)
	}

	result.SharedLinked += n

	return nil
}
