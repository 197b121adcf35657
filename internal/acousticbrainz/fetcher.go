// Package acousticbrainz fetches high-level acoustic feature documents by MBID.
package acousticbrainz

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/listenlog/listenlog/internal/config"
	"github.com/listenlog/listenlog/internal/enrichment"
	"github.com/listenlog/listenlog/internal/upstream"
)

const highLevelPath = "/api/v1/{mbid}/high-level"

var (
	errMalformedDocument = errors.New("response body is not valid JSON")
	errMissingHighLevel  = errors.New("response has no highlevel object")
)

type (
	// Fetcher retrieves feature documents one MBID at a time. It never writes to storage.
	Fetcher struct {
		http   *resty.Client
		pacer  *upstream.Pacer
		policy upstream.RetryPolicy
		logger *slog.Logger
	}

	// Option configures optional Fetcher behavior.
	Option func(*Fetcher)

	highLevelDocument struct {
		HighLevel json.RawMessage `json:"highlevel"`
	}

	outcome int
)

const (
	fetched outcome = iota
	invalid
	abandoned
)

// WithLogger replaces the default JSON logger.
func WithLogger(logger *slog.Logger) Option {
	return func(f *Fetcher) {
		f.logger = logger
	}
}

// NewFetcher creates a Fetcher.
func NewFetcher(cfg *Config, identity *upstream.Identity, opts ...Option) (*Fetcher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if err := identity.Validate(); err != nil {
		return nil, err
	}

	f := &Fetcher{
		http:  upstream.NewHTTPClient(cfg.BaseURL, cfg.Timeout, identity),
		pacer: upstream.NewWindowPacer(cfg.RequestsPerWindow, cfg.Window),
		policy: upstream.RetryPolicy{
			MaxAttempts: cfg.MaxAttempts,
			Cooldown:    cfg.RateLimitCooldown,
		},
		logger: config.NewLogger(),
	}

	for _, opt := range opts {
		opt(f)
	}

	return f, nil
}

// Fetch requests the high-level document for every distinct MBID, skipping NoMBID markers.
//
// A 2xx body carrying a highlevel object is kept as-is; any other 2xx body is
// abandoned so the MBID is fetched again next run. 404 marks the MBID invalid. 429 is retried after the
// cooldown until MaxAttempts, then the MBID is abandoned along with any other
// failure. Abandoned MBIDs are not recorded anywhere and come back next run.
// The only error returned is the context's.
func (f *Fetcher) Fetch(ctx context.Context, mbids []string) (*enrichment.FetchResult, error) {
	started := time.Now()
	result := &enrichment.FetchResult{
		Payloads:  make(map[string]json.RawMessage),
		Invalid:   make([]string, 0),
		Abandoned: make([]string, 0),
	}

	seen := make(map[string]struct{}, len(mbids))

	for _, mbid := range mbids {
		if mbid == enrichment.NoMBID {
			continue
		}

		if _, dup := seen[mbid]; dup {
			continue
		}

		seen[mbid] = struct{}{}

		payload, out, err := f.fetchOne(ctx, mbid)
		if err != nil {
			return nil, err
		}

		switch out {
		case fetched:
			result.Payloads[mbid] = payload
		case invalid:
			result.Invalid = append(result.Invalid, mbid)
		case abandoned:
			result.Abandoned = append(result.Abandoned, mbid)
		}
	}

	f.logger.Info("AcousticBrainz fetch finished",
		slog.Int("requested", len(seen)),
		slog.Int("fetched", len(result.Payloads)),
		slog.Int("invalid", len(result.Invalid)),
		slog.Int("abandoned", len(result.Abandoned)),
		slog.Duration("duration", time.Since(started)),
	)

	return result, nil
}

func (f *Fetcher) fetchOne(ctx context.Context, mbid string) (json.RawMessage, outcome, error) {
	for attempt := 1; ; attempt++ {
		if err := f.pacer.Wait(ctx); err != nil {
			return nil, abandoned, err
		}

		resp, err := f.http.R().
			SetContext(ctx).
			SetPathParam("mbid", mbid).
			Get(highLevelPath)
		if err != nil {
			if ctx.Err() != nil {
				return nil, abandoned, ctx.Err()
			}

			f.logger.Warn("AcousticBrainz request failed",
				slog.String("mbid", mbid),
				slog.String("error", err.Error()),
			)

			return nil, abandoned, nil
		}

		status := resp.StatusCode()

		switch {
		case status >= http.StatusOK && status < http.StatusMultipleChoices:
			body := resp.Body()
			if err := checkHighLevel(body); err != nil {
				f.logger.Warn("AcousticBrainz returned an unusable document, abandoning MBID",
					slog.String("mbid", mbid),
					slog.String("error", err.Error()),
				)

				return nil, abandoned, nil
			}

			return json.RawMessage(body), fetched, nil
		case status == http.StatusNotFound:
			f.logger.Debug("AcousticBrainz has no features for MBID", slog.String("mbid", mbid))

			return nil, invalid, nil
		case status == http.StatusTooManyRequests:
			f.logger.Info("AcousticBrainz rate limit hit, pausing",
				slog.String("mbid", mbid),
				slog.Int("attempt", attempt),
			)

			if err := f.policy.Await(ctx, attempt); err != nil {
				if errors.Is(err, upstream.ErrRetriesExhausted) {
					f.logger.Warn("AcousticBrainz rate limit retries exhausted, abandoning MBID",
						slog.String("mbid", mbid),
						slog.Int("attempts", attempt),
					)

					return nil, abandoned, nil
				}

				return nil, abandoned, err
			}
		default:
			f.logger.Warn("AcousticBrainz request returned an error status",
				slog.String("mbid", mbid),
				slog.Int("status", status),
			)

			return nil, abandoned, nil
		}
	}
}

// checkHighLevel accepts a body only if it is a JSON object carrying a highlevel object.
// Keys inside highlevel are not checked; projection nulls whatever is missing.
func checkHighLevel(body []byte) error {
	if !json.Valid(body) {
		return errMalformedDocument
	}

	var doc highLevelDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		return fmt.Errorf("%w: %w", errMalformedDocument, err)
	}

	if len(doc.HighLevel) == 0 || doc.HighLevel[0] != '{' {
		return errMissingHighLevel
	}

	return nil
}
