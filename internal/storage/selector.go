package storage

import (
	"context"

	"github.com/listenlog/listenlog/internal/enrichment"
)

// Each NOT EXISTS is backed by the primary key or an isrc index on the excluded table.
const pendingISRCsQuery = `
	SELECT DISTINCT p.isrc
	FROM play_events p
	WHERE p.isrc IS NOT NULL
	  AND p.isrc <> ''
	  AND NOT EXISTS (SELECT 1 FROM feature_records f WHERE f.isrc = p.isrc)
	  AND NOT EXISTS (SELECT 1 FROM failed_identifiers fi WHERE fi.isrc = p.isrc)
	  AND NOT EXISTS (SELECT 1 FROM invalid_secondary_ids iv WHERE iv.isrc = p.isrc)
	  AND NOT EXISTS (SELECT 1 FROM shared_recordings s WHERE s.isrc = p.isrc)
	  AND (
	      NOT $1::boolean
	      OR NOT EXISTS (SELECT 1 FROM reporting_rows)
	      OR p.played_at > (SELECT MAX(r.played_at) FROM reporting_rows r)
	  )
	ORDER BY p.isrc
	LIMIT NULLIF($2::integer, 0)
`

// PendingISRCs returns the ISRCs that have play events but no feature record,
// no failure or invalid-MBID marker and no shared-recording link yet, ordered by ISRC.
// An empty result is a normal outcome.
func (s *Store) PendingISRCs(ctx context.Context, opts enrichment.SelectOptions) ([]string, error) {
	limit := opts.Limit
	if limit < 0 {
		limit = 0
	}

	rows, err := s.conn.QueryContext(ctx, pendingISRCsQuery, opts.AboveWatermark, limit)
	if err != nil {
		return nil, storageError(ErrSelectFailed, "query", err)
	}

	defer func() {
		_ = rows.Close()
	}()

	isrcs := make([]string, 0)

	for rows.Next() {
		var isrc string
		if err := rows.Scan(&isrc); err != nil {
			return nil, storageError(ErrSelectFailed, "scan", err)
		}

		isrcs = append(isrcs, isrc)
	}

	if err := rows.Err(); err != nil {
		return nil, storageError(ErrSelectFailed, "iterate", err)
	}

	return isrcs, nil
}
