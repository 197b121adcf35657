// Package musicbrainz resolves ISRCs to MusicBrainz recording identifiers (MBIDs).
package musicbrainz

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"

	"github.com/listenlog/listenlog/internal/config"
	"github.com/listenlog/listenlog/internal/enrichment"
	"github.com/listenlog/listenlog/internal/upstream"
)

const recordingPath = "/ws/2/recording/"

type (
	// Resolver looks up ISRCs against the MusicBrainz recording search, one at a time.
	Resolver struct {
		http   *resty.Client
		pacer  *upstream.Pacer
		policy upstream.RetryPolicy
		logger *slog.Logger
	}

	// Option configures optional Resolver behavior.
	Option func(*Resolver)

	recordingSearch struct {
		Recordings []struct {
			ID string `json:"id"`
		} `json:"recordings"`
	}
)

// WithLogger replaces the default JSON logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Resolver) {
		r.logger = logger
	}
}

// NewResolver creates a Resolver. The identity becomes the User-Agent on every request.
func NewResolver(cfg *Config, identity *upstream.Identity, opts ...Option) (*Resolver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if err := identity.Validate(); err != nil {
		return nil, err
	}

	r := &Resolver{
		http:  upstream.NewHTTPClient(cfg.BaseURL, cfg.Timeout, identity),
		pacer: upstream.NewIntervalPacer(cfg.MinInterval),
		policy: upstream.RetryPolicy{
			MaxAttempts: cfg.MaxAttempts,
			Cooldown:    cfg.RateLimitCooldown,
		},
		logger: config.NewLogger(),
	}

	for _, opt := range opts {
		opt(r)
	}

	return r, nil
}

// Resolve looks up every ISRC in order and returns one Lookup per input.
//
// Outcomes per ISRC:
//   - 200 with recordings: resolved to the first recording's MBID
//   - 200 without recordings, or a 4xx other than 429: not found (terminal)
//   - 429: cooldown and resubmit, deferred once MaxAttempts is reached
//   - 5xx, transport failure or an unusable 200 body: deferred
//
// The only error returned is the context's, in which case the partial resolution
// is discarded by the caller.
func (r *Resolver) Resolve(ctx context.Context, isrcs []string) (*enrichment.Resolution, error) {
	started := time.Now()
	res := &enrichment.Resolution{Lookups: make([]enrichment.Lookup, 0, len(isrcs))}

	r.logger.Info("Resolving ISRCs against MusicBrainz",
		slog.Int("isrcs", len(isrcs)),
	)

	for _, isrc := range isrcs {
		lookup, err := r.resolveOne(ctx, isrc)
		if err != nil {
			return nil, err
		}

		res.Lookups = append(res.Lookups, lookup)
	}

	r.logger.Info("MusicBrainz resolution finished",
		slog.Int("isrcs", len(isrcs)),
		slog.Int("resolved", res.ResolvedCount()),
		slog.Int("failed", len(res.Failed())),
		slog.Int("deferred", len(res.Deferred())),
		slog.Duration("duration", time.Since(started)),
	)

	return res, nil
}

func (r *Resolver) resolveOne(ctx context.Context, isrc string) (enrichment.Lookup, error) {
	for attempt := 1; ; attempt++ {
		if err := r.pacer.Wait(ctx); err != nil {
			return enrichment.Lookup{}, err
		}

		resp, err := r.http.R().
			SetContext(ctx).
			SetQueryParams(map[string]string{
				"query": "isrc:" + isrc,
				"fmt":   "json",
			}).
			Get(recordingPath)
		if err != nil {
			if ctx.Err() != nil {
				return enrichment.Lookup{}, ctx.Err()
			}

			r.logger.Warn("MusicBrainz request failed, deferring ISRC",
				slog.String("isrc", isrc),
				slog.String("error", err.Error()),
			)

			return deferred(isrc), nil
		}

		status := resp.StatusCode()

		switch {
		case status == http.StatusOK:
			return r.parseRecordings(isrc, resp.Body()), nil
		case status >= http.StatusInternalServerError:
			r.logger.Warn("MusicBrainz server error, deferring ISRC",
				slog.String("isrc", isrc),
				slog.Int("status", status),
			)

			return deferred(isrc), nil
		case status == http.StatusTooManyRequests:
			r.logger.Info("MusicBrainz rate limit hit, pausing",
				slog.String("isrc", isrc),
				slog.Int("attempt", attempt),
			)

			if err := r.policy.Await(ctx, attempt); err != nil {
				if errors.Is(err, upstream.ErrRetriesExhausted) {
					r.logger.Warn("MusicBrainz rate limit retries exhausted, deferring ISRC",
						slog.String("isrc", isrc),
						slog.Int("attempts", attempt),
					)

					return deferred(isrc), nil
				}

				return enrichment.Lookup{}, err
			}
		default:
			r.logger.Warn("MusicBrainz lookup failed",
				slog.String("isrc", isrc),
				slog.Int("status", status),
			)

			return notFound(isrc), nil
		}
	}
}

func (r *Resolver) parseRecordings(isrc string, body []byte) enrichment.Lookup {
	var search recordingSearch
	if err := json.Unmarshal(body, &search); err != nil {
		r.logger.Warn("MusicBrainz response is not valid JSON, deferring ISRC",
			slog.String("isrc", isrc),
			slog.String("error", err.Error()),
		)

		return deferred(isrc)
	}

	if len(search.Recordings) == 0 {
		r.logger.Debug("No MusicBrainz recording for ISRC", slog.String("isrc", isrc))

		return notFound(isrc)
	}

	mbid, err := uuid.Parse(search.Recordings[0].ID)
	if err != nil {
		r.logger.Warn("MusicBrainz returned a malformed recording id, deferring ISRC",
			slog.String("isrc", isrc),
			slog.String("id", search.Recordings[0].ID),
		)

		return deferred(isrc)
	}

	return enrichment.Lookup{ISRC: isrc, MBID: mbid.String(), Outcome: enrichment.LookupResolved}
}

func notFound(isrc string) enrichment.Lookup {
	return enrichment.Lookup{ISRC: isrc, MBID: enrichment.NoMBID, Outcome: enrichment.LookupNotFound}
}

func deferred(isrc string) enrichment.Lookup {
	return enrichment.Lookup{ISRC: isrc, MBID: enrichment.NoMBID, Outcome: enrichment.LookupDeferred}
}

// String identifies the resolver in logs.
func (r *Resolver) String() string {
	return fmt.Sprintf("musicbrainz(%s)", r.http.BaseURL)
}
