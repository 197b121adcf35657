// Package history models listening history imported from the streaming service.
package history

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

var (
	// ErrEmptyBatch is returned by Validate when there is nothing to import.
	// Callers treat it as a no-op rather than a failure.
	ErrEmptyBatch = errors.New("no play events to import")
	// ErrDuplicatePlayedAt is returned when two events share a played_at timestamp.
	ErrDuplicatePlayedAt = errors.New("duplicate played_at in import batch")
)

// PlayEvent is one play of one track, keyed by the instant it was played.
type PlayEvent struct {
	PlayedAt        time.Time
	SongName        string
	MainArtist      string
	FeaturedArtists string // Comma separated, empty when the track has one artist
	AlbumName       string
	ArtistGenre     string // Comma separated genres of the main artist
	ReleaseDate     string // As reported upstream: YYYY, YYYY-MM or YYYY-MM-DD
	DurationSec     int
	TrackID         string
	ArtistID        string
	SpotifyURL      string
	ISRC            string // Empty when the service did not report one
}

// PlayedDate is the UTC calendar date of the play.
func (e PlayEvent) PlayedDate() time.Time {
	y, m, d := e.PlayedAt.UTC().Date()

	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ImportStatus describes how an import ended.
type ImportStatus string

const (
	// ImportStatusEmpty means no event survived the watermark filter.
	ImportStatusEmpty ImportStatus = "empty"
	// ImportStatusImported means at least one event was inserted.
	ImportStatusImported ImportStatus = "imported"
)

// ImportResult summarises one import.
type ImportResult struct {
	Status   ImportStatus
	Received int
	Inserted int64
}

// After returns the events strictly later than watermark, sorted by PlayedAt ascending.
// A zero watermark keeps every event.
func After(events []PlayEvent, watermark time.Time) []PlayEvent {
	kept := make([]PlayEvent, 0, len(events))

	for _, e := range events {
		if watermark.IsZero() || e.PlayedAt.After(watermark) {
			kept = append(kept, e)
		}
	}

	sort.SliceStable(kept, func(i, j int) bool {
		return kept[i].PlayedAt.Before(kept[j].PlayedAt)
	})

	return kept
}

// Validate checks an import batch before it is written.
func Validate(events []PlayEvent) error {
	if len(events) == 0 {
		return ErrEmptyBatch
	}

	seen := make(map[int64]struct{}, len(events))

	for _, e := range events {
		key := e.PlayedAt.UnixNano()
		if _, dup := seen[key]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicatePlayedAt, e.PlayedAt.UTC().Format(time.RFC3339Nano))
		}

		seen[key] = struct{}{}
	}

	return nil
}
