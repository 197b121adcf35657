package pipeline

import (
	"context"
	"database/sql"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/listenlog/listenlog/internal/acousticbrainz"
	"github.com/listenlog/listenlog/internal/history"
	"github.com/listenlog/listenlog/internal/musicbrainz"
	"github.com/listenlog/listenlog/internal/storage"
	"github.com/listenlog/listenlog/internal/testutil"
	"github.com/listenlog/listenlog/internal/upstream"
)

const (
	isrcNoMatch  = "XXX000000001"
	isrcEnriched = "YYY000000001"
	isrcNoFeat   = "ZZZ000000001"
	isrcFlaky    = "FLK000000001"
	isrcTwin     = "TWN000000001"
	isrcCorrupt  = "CRP000000001"
	mbidY        = "aaaaaaaa-0000-4000-8000-000000000001"
	mbidZ        = "aaaaaaaa-0000-4000-8000-000000000002"
	mbidCorrupt  = "aaaaaaaa-0000-4000-8000-000000000003"
)

var t0 = time.Date(2025, 4, 1, 8, 0, 0, 0, time.UTC)

type harness struct {
	runner *Runner
	store  *storage.Store
	db     *sql.DB

	mu     sync.Mutex
	abHits map[string]int
}

func (h *harness) featureHits(mbid string) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	if mbid == "" {
		total := 0
		for _, n := range h.abHits {
			total += n
		}

		return total
	}

	return h.abHits[mbid]
}

func newHarness(ctx context.Context, t *testing.T) *harness {
	t.Helper()

	pg := testutil.StartPostgres(ctx, t)

	h := &harness{db: pg.DB, abHits: make(map[string]int)}

	mb := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch strings.TrimPrefix(r.URL.Query().Get("query"), "isrc:") {
		case isrcEnriched, isrcTwin:
			_, _ = io.WriteString(w, `{"recordings":[{"id":"`+mbidY+`"}]}`)
		case isrcCorrupt:
			_, _ = io.WriteString(w, `{"recordings":[{"id":"`+mbidCorrupt+`"}]}`)
		case isrcNoFeat:
			_, _ = io.WriteString(w, `{"recordings":[{"id":"`+mbidZ+`"}]}`)
		case isrcFlaky:
			w.WriteHeader(http.StatusInternalServerError)
		default:
			_, _ = io.WriteString(w, `{"recordings":[]}`)
		}
	}))
	t.Cleanup(mb.Close)

	ab := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mbid := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/api/v1/"), "/high-level")
		h.mu.Lock()
		h.abHits[mbid]++
		h.mu.Unlock()

		switch mbid {
		case mbidCorrupt:
			_, _ = io.WriteString(w, `{"highlevel":{"danceab`)

			return
		case mbidY:
		default:
			w.WriteHeader(http.StatusNotFound)

			return
		}

		_, _ = io.WriteString(w, `{"highlevel":{
			"danceability":{"value":"danceable","probability":0.83},
			"mood_happy":{"value":"happy","probability":0.61}
		}}`)
	}))
	t.Cleanup(ab.Close)

	logger := testutil.DiscardLogger()
	identity := &upstream.Identity{AppName: "listenlog-test", Contact: "test@example.com"}

	resolver, err := musicbrainz.NewResolver(&musicbrainz.Config{
		BaseURL: mb.URL, MaxAttempts: 2, RateLimitCooldown: time.Millisecond, Timeout: 2 * time.Second,
	}, identity, musicbrainz.WithLogger(logger))
	require.NoError(t, err)

	fetcher, err := acousticbrainz.NewFetcher(&acousticbrainz.Config{
		BaseURL: ab.URL, RequestsPerWindow: 1000, Window: time.Second,
		MaxAttempts: 2, RateLimitCooldown: time.Millisecond, Timeout: 2 * time.Second,
	}, identity, acousticbrainz.WithLogger(logger))
	require.NoError(t, err)

	h.store, err = storage.NewStore(&storage.Connection{DB: pg.DB}, storage.WithLogger(logger))
	require.NoError(t, err)

	h.runner, err = NewRunner(h.store, resolver, fetcher, &Config{}, WithLogger(logger))
	require.NoError(t, err)

	return h
}

func (h *harness) importPlays(ctx context.Context, t *testing.T, events ...history.PlayEvent) {
	t.Helper()

	_, err := h.store.ImportPlayEvents(ctx, events)
	require.NoError(t, err)
}

func (h *harness) count(ctx context.Context, t *testing.T, query string, args ...any) int {
	t.Helper()

	var n int
	require.NoError(t, h.db.QueryRowContext(ctx, query, args...).Scan(&n))

	return n
}

func playAt(at time.Time, isrc string) history.PlayEvent {
	return history.PlayEvent{PlayedAt: at, SongName: isrc, MainArtist: "Artist", TrackID: "t-" + isrc, ISRC: isrc}
}

func TestRun_UnmatchedISRCIsRecordedAndStillReported(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	h := newHarness(ctx, t)
	h.importPlays(ctx, t, playAt(t0, isrcNoMatch))

	report, err := h.runner.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, report.Status)

	assert.Equal(t, 1, h.count(ctx, t, `SELECT COUNT(*) FROM failed_identifiers WHERE isrc = $1`, isrcNoMatch))
	assert.Equal(t, 0, h.featureHits(""), "feature API is never called")

	var dance sql.NullString
	require.NoError(t, h.db.QueryRowContext(ctx,
		`SELECT danceability FROM reporting_rows WHERE played_at = $1`, t0).Scan(&dance))
	assert.False(t, dance.Valid)

	pending, err := h.store.PendingISRCs(ctx, h.runner.cfg.selectOptions())
	require.NoError(t, err)
	assert.NotContains(t, pending, isrcNoMatch)
}

func TestRun_EnrichedPlayMergedOnce(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	h := newHarness(ctx, t)
	h.importPlays(ctx, t, playAt(t0, isrcEnriched))

	_, err := h.runner.Run(ctx)
	require.NoError(t, err)

	second, err := h.runner.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, StatusNoOp, second.Status)
	assert.Equal(t, int64(0), second.ReportingRows)

	assert.Equal(t, 1, h.count(ctx, t, `SELECT COUNT(*) FROM reporting_rows WHERE played_at = $1`, t0))

	var (
		mbid  string
		dance string
		prob  float64
		happy string
	)
	require.NoError(t, h.db.QueryRowContext(ctx,
		`SELECT mbid, danceability, danceability_prob, mood_happy FROM reporting_rows WHERE played_at = $1`, t0,
	).Scan(&mbid, &dance, &prob, &happy))
	assert.Equal(t, mbidY, mbid)
	assert.Equal(t, "danceable", dance)
	assert.InDelta(t, 0.83, prob, 1e-9)
	assert.Equal(t, "happy", happy)
	assert.Equal(t, 1, h.featureHits(mbidY), "second run does not refetch")
}

func TestRun_FeatureNotFoundMarksMBIDInvalid(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	h := newHarness(ctx, t)
	h.importPlays(ctx, t, playAt(t0, isrcNoFeat))

	_, err := h.runner.Run(ctx)
	require.NoError(t, err)

	var isrc string
	require.NoError(t, h.db.QueryRowContext(ctx,
		`SELECT isrc FROM invalid_secondary_ids WHERE mbid = $1`, mbidZ).Scan(&isrc))
	assert.Equal(t, isrcNoFeat, isrc)
	assert.Equal(t, 0, h.count(ctx, t, `SELECT COUNT(*) FROM feature_records`))

	pending, err := h.store.PendingISRCs(ctx, h.runner.cfg.selectOptions())
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestRun_ServerErrorIsRetriedNextRun(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	h := newHarness(ctx, t)
	h.importPlays(ctx, t, playAt(t0, isrcFlaky))

	first, err := h.runner.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Deferred)
	assert.Equal(t, 0, first.Failed)

	assert.Equal(t, 0, h.count(ctx, t, `SELECT COUNT(*) FROM failed_identifiers`), "server errors are not recorded")
	assert.Equal(t, 1, h.count(ctx, t, `SELECT COUNT(*) FROM reporting_rows`))

	second, err := h.runner.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, second.Candidates, "deferred ISRC is selected again")
	assert.Equal(t, StatusCompleted, second.Status)
}

func TestRun_TruncatedFeatureDocumentIsRetriedNextRun(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	h := newHarness(ctx, t)
	h.importPlays(ctx, t, playAt(t0, isrcCorrupt))

	first, err := h.runner.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Abandoned)
	assert.Equal(t, 0, h.count(ctx, t, `SELECT COUNT(*) FROM feature_records`), "no all-null feature row")
	assert.Equal(t, 0, h.count(ctx, t, `SELECT COUNT(*) FROM invalid_secondary_ids`))

	pending, err := h.store.PendingISRCs(ctx, h.runner.cfg.selectOptions())
	require.NoError(t, err)
	assert.Equal(t, []string{isrcCorrupt}, pending)

	_, err = h.runner.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, h.featureHits(mbidCorrupt), "document is requested again")
}

func TestRun_SharedRecordingIsLinkedOnce(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	h := newHarness(ctx, t)
	h.importPlays(ctx, t, playAt(t0, isrcEnriched), playAt(t0.Add(time.Minute), isrcTwin))

	first, err := h.runner.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Shared)
	assert.Equal(t, int64(1), first.Persisted.SharedLinked)

	second, err := h.runner.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, second.Candidates, "linked ISRC is not selected again")
	assert.Equal(t, 1, h.featureHits(mbidY))

	assert.Equal(t, 2, h.count(ctx, t,
		`SELECT COUNT(*) FROM reporting_rows WHERE mbid = $1 AND danceability = 'danceable'`, mbidY),
		"both ISRCs report the shared features")
}
