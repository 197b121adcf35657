// Package enrichment holds the domain model of the ISRC → MBID → feature pipeline.
//
// The types here are shared by the MusicBrainz resolver, the AcousticBrainz fetcher,
// the storage layer, and the pipeline orchestrator. Nothing in this package performs I/O.
package enrichment

import (
	"encoding/json"
	"time"
)

// NoMBID marks a lookup that produced no MusicBrainz identifier.
const NoMBID = ""

// LookupOutcome classifies the result of resolving one ISRC.
type LookupOutcome string

const (
	// LookupResolved means MusicBrainz returned at least one recording.
	LookupResolved LookupOutcome = "resolved"
	// LookupNotFound is terminal: no recordings, or a non-retryable status.
	LookupNotFound LookupOutcome = "not_found"
	// LookupDeferred is not recorded anywhere; the ISRC is selected again next run.
	LookupDeferred LookupOutcome = "deferred"
)

// Lookup is the resolution of a single ISRC.
type Lookup struct {
	ISRC    string
	MBID    string // NoMBID unless Outcome is LookupResolved
	Outcome LookupOutcome
}

// Resolution is the resolver output for one run, aligned to the input order.
type Resolution struct {
	Lookups []Lookup
}

// MBIDs returns one entry per lookup in input order, NoMBID where nothing resolved.
func (r *Resolution) MBIDs() []string {
	mbids := make([]string, len(r.Lookups))
	for i, l := range r.Lookups {
		mbids[i] = l.MBID
	}

	return mbids
}

// Failed returns the ISRCs that failed permanently.
func (r *Resolution) Failed() []string {
	failed := make([]string, 0)

	for _, l := range r.Lookups {
		if l.Outcome == LookupNotFound {
			failed = append(failed, l.ISRC)
		}
	}

	return failed
}

// Deferred returns the ISRCs left for a future run.
func (r *Resolution) Deferred() []string {
	deferred := make([]string, 0)

	for _, l := range r.Lookups {
		if l.Outcome == LookupDeferred {
			deferred = append(deferred, l.ISRC)
		}
	}

	return deferred
}

// ResolvedCount returns the number of lookups that produced an MBID.
func (r *Resolution) ResolvedCount() int {
	n := 0

	for _, l := range r.Lookups {
		if l.Outcome == LookupResolved {
			n++
		}
	}

	return n
}

// ISRCByMBID returns the reverse mapping used to key later failures by ISRC.
// When two ISRCs resolve to the same recording the first one in input order keeps it.
func (r *Resolution) ISRCByMBID() map[string]string {
	reverse := make(map[string]string, len(r.Lookups))

	for _, l := range r.Lookups {
		if l.Outcome != LookupResolved || l.MBID == NoMBID {
			continue
		}

		if _, taken := reverse[l.MBID]; !taken {
			reverse[l.MBID] = l.ISRC
		}
	}

	return reverse
}

// SharedRecording links an ISRC to a recording whose features are stored under another ISRC.
type SharedRecording struct {
	ISRC string
	MBID string
}

// Collisions returns the resolved lookups that lost their MBID to an earlier ISRC
// in ISRCByMBID, in input order.
func (r *Resolution) Collisions() []SharedRecording {
	owners := r.ISRCByMBID()
	shared := make([]SharedRecording, 0)

	for _, l := range r.Lookups {
		if l.Outcome != LookupResolved || l.MBID == NoMBID {
			continue
		}

		if owners[l.MBID] != l.ISRC {
			shared = append(shared, SharedRecording{ISRC: l.ISRC, MBID: l.MBID})
		}
	}

	return shared
}

// FetchResult is the feature fetcher output for one run.
type FetchResult struct {
	// Payloads holds the raw high-level document per MBID, only for 2xx responses.
	Payloads map[string]json.RawMessage
	// Invalid lists MBIDs the feature API reported as not found, deduplicated.
	Invalid []string
	// Abandoned lists MBIDs that failed for other reasons and stay eligible next run.
	Abandoned []string
}

// FeatureValue is one categorical classifier and its optional confidence.
type FeatureValue struct {
	Value       *string
	Probability *float64
}

// FeatureRecord is one row of acoustic features for a resolved ISRC.
type FeatureRecord struct {
	ISRC   string
	MBID   string
	Values map[string]FeatureValue // keyed by Feature.Column
}

// Value returns the feature stored under column, or an all-null value.
func (r FeatureRecord) Value(column string) FeatureValue {
	return r.Values[column]
}

// Batch is everything one run writes in its single enrichment transaction.
type Batch struct {
	Features     []FeatureRecord
	FailedISRCs  []string
	InvalidMBIDs []string
	ISRCByMBID   map[string]string

	// SharedRecordings are ISRCs that resolved to an MBID already claimed in this batch.
	SharedRecordings []SharedRecording
	AttemptedAt      time.Time
}

// IsEmpty reports whether the batch has nothing to write.
func (b *Batch) IsEmpty() bool {
	return len(b.Features) == 0 && len(b.FailedISRCs) == 0 && len(b.InvalidMBIDs) == 0 &&
		len(b.SharedRecordings) == 0
}

// PersistResult counts the rows a batch actually inserted.
type PersistResult struct {
	FeaturesInserted int64
	FeaturesSkipped  int64
	FailuresLogged   int64
	InvalidLogged    int64
	InvalidUnmapped  int64

	// SharedLinked counts ISRCs linked to features stored under another ISRC.
	SharedLinked int64
}

// SelectOptions bounds what the selector returns.
type SelectOptions struct {
	// AboveWatermark only considers play events newer than the reporting watermark.
	AboveWatermark bool
	// Limit caps the number of ISRCs returned. Zero means no cap.
	Limit int
}
