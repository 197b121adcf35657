package history

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const recentlyPlayedFixture = `{
  "items": [
    {
      "played_at": "2025-03-02T08:15:30.123Z",
      "track": {
        "id": "4uLU6hMCjMI75M1A2tKUQC",
        "name": "Never Gonna Give You Up",
        "duration_ms": 213573,
        "album": {"name": "Whenever You Need Somebody", "release_date": "1987-11-12"},
        "external_urls": {"spotify": "https://open.spotify.com/track/4uLU6hMCjMI75M1A2tKUQC"},
        "external_ids": {"isrc": "gb-arl-93-00135"},
        "artists": [{"id": "0gxyHStUsqpMadRV0Di1Qt", "name": "Rick Astley"}]
      }
    },
    {
      "played_at": "2025-03-02T07:00:00Z",
      "track": {
        "id": "",
        "name": "Local file"
      }
    },
    {
      "played_at": "2025-03-01T22:01:02Z",
      "track": {
        "id": "7ouMYWpwJ422jRcDASZB7P",
        "name": "Collab",
        "duration_ms": 1499,
        "album": {"name": "Single", "release_date": "2020"},
        "external_ids": {"isrc": "not-an-isrc"},
        "artists": [
          {"id": "a1", "name": "Main"},
          {"id": "a2", "name": "Guest One"},
          {"id": "a3", "name": "Guest Two"}
        ]
      }
    }
  ]
}`

func TestParseRecentlyPlayed(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	genres := map[string]string{"0gxyHStUsqpMadRV0Di1Qt": "dance pop, new wave pop"}

	events, err := ParseRecentlyPlayed(strings.NewReader(recentlyPlayedFixture), genres, nil)
	require.NoError(t, err)
	require.Len(t, events, 2, "item without track id is skipped")

	first := events[0]
	assert.Equal(t, time.Date(2025, 3, 2, 8, 15, 30, 123000000, time.UTC), first.PlayedAt)
	assert.Equal(t, time.Date(2025, 3, 2, 0, 0, 0, 0, time.UTC), first.PlayedDate())
	assert.Equal(t, "Never Gonna Give You Up", first.SongName)
	assert.Equal(t, "Rick Astley", first.MainArtist)
	assert.Empty(t, first.FeaturedArtists)
	assert.Equal(t, "dance pop, new wave pop", first.ArtistGenre)
	assert.Equal(t, 214, first.DurationSec)
	assert.Equal(t, "GBARL9300135", first.ISRC)
	assert.Equal(t, "1987-11-12", first.ReleaseDate)
	assert.Equal(t, "https://open.spotify.com/track/4uLU6hMCjMI75M1A2tKUQC", first.SpotifyURL)

	second := events[1]
	assert.Equal(t, "Main", second.MainArtist)
	assert.Equal(t, "a1", second.ArtistID)
	assert.Equal(t, "Guest One, Guest Two", second.FeaturedArtists)
	assert.Empty(t, second.ArtistGenre)
	assert.Empty(t, second.ISRC, "malformed ISRC is dropped")
	assert.Equal(t, 1, second.DurationSec)
}

func TestParseRecentlyPlayed_Errors(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	_, err := ParseRecentlyPlayed(strings.NewReader(`{"items":`), nil, nil)
	require.Error(t, err)

	_, err = ParseRecentlyPlayed(strings.NewReader(`{"items":[{"played_at":"yesterday","track":{"id":"x"}}]}`), nil, nil)
	require.Error(t, err)
}

func TestParseRecentlyPlayed_WarnsThroughGivenLogger(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	var buf bytes.Buffer

	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	events, err := ParseRecentlyPlayed(strings.NewReader(recentlyPlayedFixture), nil, logger)
	require.NoError(t, err)
	require.Len(t, events, 2)

	out := buf.String()
	assert.Contains(t, out, `"msg":"Skipping recently played item without track id"`)
	assert.Contains(t, out, `"index":1`)
	assert.Contains(t, out, `"msg":"Dropping malformed ISRC"`)
	assert.Contains(t, out, `"isrc":"not-an-isrc"`)
}

func TestParseArtistGenres(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	genres, err := ParseArtistGenres(strings.NewReader(`{"artists":[
		{"id":"a1","genres":["indie","shoegaze"]},
		{"id":"a2","genres":[]},
		{"id":"","genres":["ignored"]}
	]}`))
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a1": "indie, shoegaze", "a2": ""}, genres)
}

func TestValidate(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	t0 := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		events  []PlayEvent
		wantErr error
	}{
		{name: "empty", events: nil, wantErr: ErrEmptyBatch},
		{name: "unique", events: []PlayEvent{{PlayedAt: t0}, {PlayedAt: t0.Add(time.Second)}}},
		{
			name:    "duplicate across zones",
			events:  []PlayEvent{{PlayedAt: t0}, {PlayedAt: t0.In(time.FixedZone("CET", 3600))}},
			wantErr: ErrDuplicatePlayedAt,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.events)
			if tt.wantErr == nil {
				assert.NoError(t, err)

				return
			}

			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestAfter(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	t0 := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	events := []PlayEvent{
		{PlayedAt: t0.Add(2 * time.Minute), TrackID: "c"},
		{PlayedAt: t0, TrackID: "a"},
		{PlayedAt: t0.Add(time.Minute), TrackID: "b"},
	}

	all := After(events, time.Time{})
	require.Len(t, all, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{all[0].TrackID, all[1].TrackID, all[2].TrackID})

	newer := After(events, t0)
	require.Len(t, newer, 2, "events at the watermark are dropped")
	assert.Equal(t, "b", newer[0].TrackID)
	assert.Equal(t, "c", newer[1].TrackID)
}
