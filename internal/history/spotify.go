package history

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/listenlog/listenlog/internal/canonicalization"
)

type (
	recentlyPlayed struct {
		Items []struct {
			PlayedAt string `json:"played_at"`
			Track    struct {
				ID         string `json:"id"`
				Name       string `json:"name"`
				DurationMS int64  `json:"duration_ms"`
				Album      struct {
					Name        string `json:"name"`
					ReleaseDate string `json:"release_date"`
				} `json:"album"`
				ExternalURLs struct {
					Spotify string `json:"spotify"`
				} `json:"external_urls"`
				ExternalIDs struct {
					ISRC string `json:"isrc"`
				} `json:"external_ids"`
				Artists []struct {
					ID   string `json:"id"`
					Name string `json:"name"`
				} `json:"artists"`
			} `json:"track"`
		} `json:"items"`
	}

	severalArtists struct {
		Artists []struct {
			ID     string   `json:"id"`
			Genres []string `json:"genres"`
		} `json:"artists"`
	}
)

// ParseRecentlyPlayed decodes a Spotify "recently played" response into play events.
// genres maps artist id to its comma separated genres and may be nil.
// Items without a track id are skipped and malformed ISRCs are dropped, both
// with a warning on logger. A nil logger uses slog.Default.
func ParseRecentlyPlayed(r io.Reader, genres map[string]string, logger *slog.Logger) ([]PlayEvent, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var doc recentlyPlayed
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode recently played response: %w", err)
	}

	events := make([]PlayEvent, 0, len(doc.Items))

	for idx, item := range doc.Items {
		track := item.Track
		if track.ID == "" {
			logger.Warn("Skipping recently played item without track id", slog.Int("index", idx))

			continue
		}

		playedAt, err := time.Parse(time.RFC3339Nano, item.PlayedAt)
		if err != nil {
			return nil, fmt.Errorf("item %d has invalid played_at %q: %w", idx, item.PlayedAt, err)
		}

		event := PlayEvent{
			PlayedAt:    playedAt.UTC(),
			SongName:    track.Name,
			AlbumName:   track.Album.Name,
			ReleaseDate: track.Album.ReleaseDate,
			DurationSec: int(math.Round(float64(track.DurationMS) / 1000)),
			TrackID:     track.ID,
			SpotifyURL:  track.ExternalURLs.Spotify,
		}

		if raw := track.ExternalIDs.ISRC; raw != "" {
			isrc, ok := canonicalization.NormalizeISRC(raw)
			if !ok {
				logger.Warn("Dropping malformed ISRC",
					slog.String("track_id", track.ID),
					slog.String("isrc", raw))
			}

			event.ISRC = isrc
		}

		if len(track.Artists) > 0 {
			event.MainArtist = track.Artists[0].Name
			event.ArtistID = track.Artists[0].ID

			featured := make([]string, 0, len(track.Artists)-1)
			for _, a := range track.Artists[1:] {
				featured = append(featured, a.Name)
			}

			event.FeaturedArtists = strings.Join(featured, ", ")
		}

		event.ArtistGenre = genres[event.ArtistID]

		events = append(events, event)
	}

	return events, nil
}

// ParseArtistGenres decodes a Spotify "several artists" response into an
// artist id to comma separated genres map, the shape ParseRecentlyPlayed expects.
func ParseArtistGenres(r io.Reader) (map[string]string, error) {
	var doc severalArtists
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode artists response: %w", err)
	}

	genres := make(map[string]string, len(doc.Artists))

	for _, a := range doc.Artists {
		if a.ID == "" {
			continue
		}

		genres[a.ID] = strings.Join(a.Genres, ", ")
	}

	return genres, nil
}
