package enrichment

import (
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleHighLevel = `{
  "highlevel": {
    "danceability": {"value": "danceable", "probability": 0.91},
    "voice_instrumental": {"value": "voice", "probability": 0.77},
    "gender": {"value": "female", "probability": 0.64},
    "timbre": {"value": "bright"},
    "tonal_atonal": {"value": "tonal", "probability": null},
    "mood_happy": {"value": 7, "probability": "high"}
  },
  "metadata": {"version": {"essentia": "2.1-beta2"}}
}`

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestProject_ExtractsFixedSchema(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	payloads := map[string]json.RawMessage{"mbid-1": json.RawMessage(sampleHighLevel)}

	records := Project(payloads, []string{"mbid-1"}, nil, map[string]string{"mbid-1": "USRC17607839"}, discardLogger())

	require.Len(t, records, 1)
	rec := records[0]
	assert.Equal(t, "USRC17607839", rec.ISRC)
	assert.Equal(t, "mbid-1", rec.MBID)

	dance := rec.Value("danceability")
	require.NotNil(t, dance.Value)
	require.NotNil(t, dance.Probability)
	assert.Equal(t, "danceable", *dance.Value)
	assert.InDelta(t, 0.91, *dance.Probability, 1e-9)

	instr := rec.Value("instrumentality")
	require.NotNil(t, instr.Value)
	assert.Equal(t, "voice", *instr.Value)

	timbre := rec.Value("timbre")
	require.NotNil(t, timbre.Value)
	assert.Equal(t, "bright", *timbre.Value)
	assert.Nil(t, timbre.Probability, "missing probability resolves to null")

	tonality := rec.Value("tonality")
	require.NotNil(t, tonality.Value)
	assert.Nil(t, tonality.Probability, "explicit null probability resolves to null")

	happy := rec.Value("mood_happy")
	assert.Nil(t, happy.Value, "ill-typed value resolves to null")
	assert.Nil(t, happy.Probability, "ill-typed probability resolves to null")

	sad := rec.Value("mood_sad")
	assert.Nil(t, sad.Value, "absent classifier resolves to null")
	assert.Nil(t, sad.Probability)
}

func TestProject_SkipsMarkersInvalidAndUnmapped(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	payloads := map[string]json.RawMessage{
		"good":     json.RawMessage(sampleHighLevel),
		"invalid":  json.RawMessage(sampleHighLevel),
		"unmapped": json.RawMessage(sampleHighLevel),
	}
	mbids := []string{NoMBID, "good", "invalid", "unmapped", "missing-payload", "good"}
	isrcByMBID := map[string]string{
		"good":            "GOOD00000001",
		"invalid":         "BAD000000001",
		"missing-payload": "MISS00000001",
	}

	records := Project(payloads, mbids, []string{"invalid"}, isrcByMBID, discardLogger())

	require.Len(t, records, 1)
	assert.Equal(t, "good", records[0].MBID)
	assert.Equal(t, "GOOD00000001", records[0].ISRC)
}

func TestProject_MalformedPayloadYieldsNulls(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	payloads := map[string]json.RawMessage{
		"array":   json.RawMessage(`[1, 2, 3]`),
		"nohigh":  json.RawMessage(`{"metadata": {}}`),
		"nullish": json.RawMessage(`{"highlevel": null}`),
	}
	isrcByMBID := map[string]string{"array": "A", "nohigh": "B", "nullish": "C"}

	records := Project(payloads, []string{"array", "nohigh", "nullish"}, nil, isrcByMBID, discardLogger())

	require.Len(t, records, 3)

	for _, rec := range records {
		for _, f := range Features {
			v := rec.Value(f.Column)
			assert.Nil(t, v.Value, "%s/%s", rec.MBID, f.Column)
			assert.Nil(t, v.Probability, "%s/%s", rec.MBID, f.Column)
		}
	}
}

func TestFeatures_ColumnsAreUnique(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	seen := make(map[string]bool)

	for _, f := range Features {
		assert.False(t, seen[f.Column], "duplicate column %s", f.Column)
		assert.False(t, seen[f.ProbabilityColumn()], "duplicate column %s", f.ProbabilityColumn())
		seen[f.Column] = true
		seen[f.ProbabilityColumn()] = true
	}
}

func TestResolution_Derivations(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	res := &Resolution{Lookups: []Lookup{
		{ISRC: "A", MBID: "m1", Outcome: LookupResolved},
		{ISRC: "B", MBID: NoMBID, Outcome: LookupNotFound},
		{ISRC: "C", MBID: NoMBID, Outcome: LookupDeferred},
		{ISRC: "D", MBID: "m1", Outcome: LookupResolved},
		{ISRC: "E", MBID: "m2", Outcome: LookupResolved},
	}}

	assert.Equal(t, []string{"m1", NoMBID, NoMBID, "m1", "m2"}, res.MBIDs())
	assert.Equal(t, []string{"B"}, res.Failed())
	assert.Equal(t, []string{"C"}, res.Deferred())
	assert.Equal(t, 3, res.ResolvedCount())
	assert.Equal(t, map[string]string{"m1": "A", "m2": "E"}, res.ISRCByMBID())
	assert.Equal(t, []SharedRecording{{ISRC: "D", MBID: "m1"}}, res.Collisions())
}

func TestBatch_IsEmpty(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	assert.True(t, (&Batch{ISRCByMBID: map[string]string{"m": "i"}}).IsEmpty())
	assert.False(t, (&Batch{FailedISRCs: []string{"X"}}).IsEmpty())
	assert.False(t, (&Batch{SharedRecordings: []SharedRecording{{ISRC: "X", MBID: "m"}}}).IsEmpty())
}
