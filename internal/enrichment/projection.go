package enrichment

import (
	"bytes"
	"encoding/json"
	"log/slog"
)

// Feature maps a storage column to an AcousticBrainz high-level classifier.
// Each feature is stored as <Column> (value) and <Column>_prob (probability).
type Feature struct {
	Column     string
	Classifier string
}

// ProbabilityColumn is the column holding the classifier confidence.
func (f Feature) ProbabilityColumn() string {
	return f.Column + "_prob"
}

// Features is the fixed feature schema. Order matches the storage columns.
var Features = []Feature{
	{Column: "danceability", Classifier: "danceability"},
	{Column: "instrumentality", Classifier: "voice_instrumental"},
	{Column: "gender", Classifier: "gender"},
	{Column: "timbre", Classifier: "timbre"},
	{Column: "tonality", Classifier: "tonal_atonal"},
	{Column: "mood_acoustic", Classifier: "mood_acoustic"},
	{Column: "mood_aggressive", Classifier: "mood_aggressive"},
	{Column: "mood_electronic", Classifier: "mood_electronic"},
	{Column: "mood_happy", Classifier: "mood_happy"},
	{Column: "mood_party", Classifier: "mood_party"},
	{Column: "mood_relaxed", Classifier: "mood_relaxed"},
	{Column: "mood_sad", Classifier: "mood_sad"},
}

type highLevelDocument struct {
	HighLevel map[string]json.RawMessage `json:"highlevel"`
}

type classifier struct {
	Value       json.RawMessage `json:"value"`
	Probability json.RawMessage `json:"probability"`
}

// Project turns raw high-level payloads into feature records.
//
// mbids is the resolver output in input order and may contain NoMBID markers.
// Rows are skipped, with a log line, when the MBID is a marker, was reported
// invalid, has no payload, or has no ISRC in isrcByMBID. Missing or ill-typed
// keys inside a payload become nulls.
func Project(
	payloads map[string]json.RawMessage,
	mbids []string,
	invalid []string,
	isrcByMBID map[string]string,
	logger *slog.Logger,
) []FeatureRecord {
	if logger == nil {
		logger = slog.Default()
	}

	invalidSet := make(map[string]struct{}, len(invalid))
	for _, mbid := range invalid {
		invalidSet[mbid] = struct{}{}
	}

	seen := make(map[string]struct{}, len(mbids))
	records := make([]FeatureRecord, 0, len(payloads))

	for _, mbid := range mbids {
		if mbid == NoMBID {
			continue
		}

		if _, dup := seen[mbid]; dup {
			continue
		}

		seen[mbid] = struct{}{}

		if _, bad := invalidSet[mbid]; bad {
			continue
		}

		isrc, ok := isrcByMBID[mbid]
		if !ok || isrc == "" {
			logger.Warn("no ISRC mapped to MBID, skipping features", slog.String("mbid", mbid))

			continue
		}

		payload, ok := payloads[mbid]
		if !ok {
			logger.Debug("no feature payload for MBID", slog.String("mbid", mbid), slog.String("isrc", isrc))

			continue
		}

		records = append(records, FeatureRecord{
			ISRC:   isrc,
			MBID:   mbid,
			Values: extractFeatures(payload, logger),
		})
	}

	return records
}

func extractFeatures(payload json.RawMessage, logger *slog.Logger) map[string]FeatureValue {
	values := make(map[string]FeatureValue, len(Features))

	var doc highLevelDocument
	if err := json.Unmarshal(payload, &doc); err != nil {
		logger.Warn("feature payload is not a high-level document", slog.String("error", err.Error()))

		return values
	}

	for _, f := range Features {
		raw, ok := doc.HighLevel[f.Classifier]
		if !ok {
			continue
		}

		var c classifier
		if err := json.Unmarshal(raw, &c); err != nil {
			continue
		}

		values[f.Column] = FeatureValue{
			Value:       decodeString(c.Value),
			Probability: decodeFloat(c.Probability),
		}
	}

	return values
}

func decodeString(raw json.RawMessage) *string {
	if isNull(raw) {
		return nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil
	}

	return &s
}

func decodeFloat(raw json.RawMessage) *float64 {
	if isNull(raw) {
		return nil
	}

	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil
	}

	return &f
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)

	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}
