// Package pipeline runs one enrichment pass end to end:
// select → resolve → fetch → project → persist → sync reporting.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/listenlog/listenlog/internal/config"
	"github.com/listenlog/listenlog/internal/enrichment"
	"github.com/listenlog/listenlog/internal/observability"
)

var (
	// ErrRunFailed wraps any error that aborts a run.
	ErrRunFailed = errors.New("pipeline run failed")
	// ErrMissingDependency is returned by NewRunner when a collaborator is nil.
	ErrMissingDependency = errors.New("pipeline dependency is nil")
)

// RunStatus describes how a run ended.
type RunStatus string

const (
	// StatusNoOp means nothing was selected and no reporting row was added.
	StatusNoOp RunStatus = "noop"
	// StatusCompleted means every stage ran.
	StatusCompleted RunStatus = "completed"
)

type (
	// Store is the persistence the pipeline needs.
	Store interface {
		PendingISRCs(ctx context.Context, opts enrichment.SelectOptions) ([]string, error)
		PersistEnrichment(ctx context.Context, batch *enrichment.Batch) (*enrichment.PersistResult, error)
		SyncReportingRows(ctx context.Context) (int64, error)
	}

	// Resolver maps ISRCs to MBIDs.
	Resolver interface {
		Resolve(ctx context.Context, isrcs []string) (*enrichment.Resolution, error)
	}

	// FeatureFetcher retrieves feature documents by MBID.
	FeatureFetcher interface {
		Fetch(ctx context.Context, mbids []string) (*enrichment.FetchResult, error)
	}

	// RunReport summarises one run.
	RunReport struct {
		RunID         string
		Status        RunStatus
		Candidates    int
		Resolved      int
		Failed        int
		Deferred      int
		Shared        int
		Fetched       int
		Invalid       int
		Abandoned     int
		Persisted     enrichment.PersistResult
		ReportingRows int64
		Duration      time.Duration
	}

	// Runner wires the stages together. It holds no state between runs.
	Runner struct {
		store    Store
		resolver Resolver
		fetcher  FeatureFetcher
		cfg      *Config
		logger   *slog.Logger
		tracer   trace.Tracer
		now      func() time.Time
	}

	// Option configures optional Runner behavior.
	Option func(*Runner)
)

// WithLogger replaces the default JSON logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		r.logger = logger
	}
}

// WithClock replaces time.Now for attempt timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) {
		r.now = now
	}
}

// WithTracer replaces the global listenlog tracer.
func WithTracer(tracer trace.Tracer) Option {
	return func(r *Runner) {
		r.tracer = tracer
	}
}

// NewRunner creates a Runner.
func NewRunner(store Store, resolver Resolver, fetcher FeatureFetcher, cfg *Config, opts ...Option) (*Runner, error) {
	if store == nil || resolver == nil || fetcher == nil {
		return nil, ErrMissingDependency
	}

	if cfg == nil {
		cfg = &Config{}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	r := &Runner{
		store:    store,
		resolver: resolver,
		fetcher:  fetcher,
		cfg:      cfg,
		logger:   config.NewLogger(),
		tracer:   observability.Tracer(),
		now:      time.Now,
	}

	for _, opt := range opts {
		opt(r)
	}

	return r, nil
}

// Run executes one pass. Upstream calls finish before any transaction opens, so a
// cancelled or failed run leaves storage untouched. The reporting sync runs even when
// nothing was selected, so play events imported since the last run are still merged.
func (r *Runner) Run(ctx context.Context) (*RunReport, error) {
	started := time.Now()
	report := &RunReport{RunID: uuid.NewString(), Status: StatusNoOp}
	logger := r.logger.With(slog.String("run_id", report.RunID))

	ctx, span := r.tracer.Start(ctx, "pipeline.run", trace.WithAttributes(
		attribute.String("run_id", report.RunID),
	))
	defer span.End()

	logger.Info("Pipeline run started",
		slog.Bool("above_watermark", r.cfg.AboveWatermark),
		slog.Int("max_candidates", r.cfg.MaxCandidates),
	)

	isrcs, err := r.selectPending(ctx)
	if err != nil {
		return nil, failSpan(span, err)
	}

	report.Candidates = len(isrcs)
	logger.Info("Selected pending ISRCs", slog.Int("candidates", report.Candidates))

	if len(isrcs) > 0 {
		if err := r.enrich(ctx, logger, isrcs, report); err != nil {
			return nil, failSpan(span, err)
		}
	} else {
		logger.Info("No pending ISRCs, skipping enrichment")
	}

	inserted, err := r.syncReporting(ctx)
	if err != nil {
		return nil, failSpan(span, err)
	}

	report.ReportingRows = inserted

	if report.Candidates > 0 || report.ReportingRows > 0 {
		report.Status = StatusCompleted
	}

	report.Duration = time.Since(started)

	span.SetAttributes(
		attribute.String("status", string(report.Status)),
		attribute.Int("candidates", report.Candidates),
		attribute.Int("resolved", report.Resolved),
		attribute.Int64("reporting_rows", report.ReportingRows),
	)

	logger.Info("Pipeline run finished",
		slog.String("status", string(report.Status)),
		slog.Int("candidates", report.Candidates),
		slog.Int("resolved", report.Resolved),
		slog.Int("failed", report.Failed),
		slog.Int("deferred", report.Deferred),
		slog.Int("shared", report.Shared),
		slog.Int("fetched", report.Fetched),
		slog.Int("invalid", report.Invalid),
		slog.Int("abandoned", report.Abandoned),
		slog.Int64("features_inserted", report.Persisted.FeaturesInserted),
		slog.Int64("reporting_rows", report.ReportingRows),
		slog.Duration("duration", report.Duration),
	)

	return report, nil
}

func (r *Runner) selectPending(ctx context.Context) ([]string, error) {
	ctx, span := r.tracer.Start(ctx, "pipeline.select")
	defer span.End()

	isrcs, err := r.store.PendingISRCs(ctx, r.cfg.selectOptions())
	if err != nil {
		return nil, failSpan(span, fmt.Errorf("%w: select: %w", ErrRunFailed, err))
	}

	span.SetAttributes(attribute.Int("candidates", len(isrcs)))

	return isrcs, nil
}

func (r *Runner) syncReporting(ctx context.Context) (int64, error) {
	ctx, span := r.tracer.Start(ctx, "pipeline.sync_reporting")
	defer span.End()

	inserted, err := r.store.SyncReportingRows(ctx)
	if err != nil {
		return 0, failSpan(span, fmt.Errorf("%w: sync reporting: %w", ErrRunFailed, err))
	}

	span.SetAttributes(attribute.Int64("rows", inserted))

	return inserted, nil
}

func (r *Runner) enrich(ctx context.Context, logger *slog.Logger, isrcs []string, report *RunReport) error {
	resolution, err := r.resolve(ctx, isrcs)
	if err != nil {
		return err
	}

	isrcByMBID := resolution.ISRCByMBID()
	shared := resolution.Collisions()
	logCollisions(logger, shared, isrcByMBID)

	report.Resolved = resolution.ResolvedCount()
	report.Failed = len(resolution.Failed())
	report.Deferred = len(resolution.Deferred())
	report.Shared = len(shared)

	logger.Info("Resolved ISRCs",
		slog.Int("resolved", report.Resolved),
		slog.Int("failed", report.Failed),
		slog.Int("deferred", report.Deferred),
		slog.Int("shared", report.Shared),
	)

	fetched := &enrichment.FetchResult{}

	if report.Resolved > 0 {
		fetched, err = r.fetch(ctx, resolution.MBIDs())
		if err != nil {
			return err
		}

		report.Fetched = len(fetched.Payloads)
		report.Invalid = len(fetched.Invalid)
		report.Abandoned = len(fetched.Abandoned)

		logger.Info("Fetched features",
			slog.Int("fetched", report.Fetched),
			slog.Int("invalid", report.Invalid),
			slog.Int("abandoned", report.Abandoned),
		)
	} else {
		logger.Info("No MBIDs resolved, skipping feature fetch")
	}

	records := enrichment.Project(fetched.Payloads, resolution.MBIDs(), fetched.Invalid, isrcByMBID, logger)

	batch := &enrichment.Batch{
		Features:         records,
		FailedISRCs:      resolution.Failed(),
		InvalidMBIDs:     fetched.Invalid,
		ISRCByMBID:       isrcByMBID,
		SharedRecordings: shared,
		AttemptedAt:      r.now().UTC(),
	}

	persisted, err := r.persist(ctx, batch)
	if err != nil {
		return err
	}

	report.Persisted = *persisted

	return nil
}

func (r *Runner) resolve(ctx context.Context, isrcs []string) (*enrichment.Resolution, error) {
	ctx, span := r.tracer.Start(ctx, "pipeline.resolve", trace.WithAttributes(
		attribute.Int("isrcs", len(isrcs)),
	))
	defer span.End()

	resolution, err := r.resolver.Resolve(ctx, isrcs)
	if err != nil {
		return nil, failSpan(span, fmt.Errorf("%w: resolve: %w", ErrRunFailed, err))
	}

	span.SetAttributes(
		attribute.Int("resolved", resolution.ResolvedCount()),
		attribute.Int("deferred", len(resolution.Deferred())),
	)

	return resolution, nil
}

func (r *Runner) fetch(ctx context.Context, mbids []string) (*enrichment.FetchResult, error) {
	ctx, span := r.tracer.Start(ctx, "pipeline.fetch")
	defer span.End()

	fetched, err := r.fetcher.Fetch(ctx, mbids)
	if err != nil {
		return nil, failSpan(span, fmt.Errorf("%w: fetch: %w", ErrRunFailed, err))
	}

	span.SetAttributes(
		attribute.Int("fetched", len(fetched.Payloads)),
		attribute.Int("invalid", len(fetched.Invalid)),
	)

	return fetched, nil
}

func (r *Runner) persist(ctx context.Context, batch *enrichment.Batch) (*enrichment.PersistResult, error) {
	ctx, span := r.tracer.Start(ctx, "pipeline.persist")
	defer span.End()

	persisted, err := r.store.PersistEnrichment(ctx, batch)
	if err != nil {
		return nil, failSpan(span, fmt.Errorf("%w: persist: %w", ErrRunFailed, err))
	}

	span.SetAttributes(attribute.Int64("features_inserted", persisted.FeaturesInserted))

	return persisted, nil
}

// failSpan marks span as failed and returns err unchanged.
func failSpan(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	return err
}

// logCollisions reports ISRCs whose MBID was already claimed by an earlier ISRC.
func logCollisions(logger *slog.Logger, shared []enrichment.SharedRecording, isrcByMBID map[string]string) {
	for _, c := range shared {
		logger.Info("MBID already resolved from another ISRC, linking to its features",
			slog.String("mbid", c.MBID),
			slog.String("isrc", c.ISRC),
			slog.String("kept_isrc", isrcByMBID[c.MBID]),
		)
	}
}
