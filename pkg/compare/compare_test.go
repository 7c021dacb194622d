package compare

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethpandaops/trendoor/pkg/store"
)

func successCase(name string, samples ...float64) store.RawCase {
	raw := make([]store.RawSample, 0, len(samples))
	for _, s := range samples {
		raw = append(raw, store.RawSample{ElapsedMs: s})
	}

	return store.RawCase{Case: name, Success: true, Samples: raw}
}

func payload(cases ...store.RawCase) *store.RawPayload {
	return &store.RawPayload{SchemaVersion: 1, Cases: cases}
}

func TestCompareRunsVerdicts(t *testing.T) {
	baseline := payload(
		successCase("faster_case", 200, 210),
		successCase("slower_case", 100),
		successCase("stable_case", 100),
		successCase("gone_case", 50),
		store.RawCase{Case: "failed_case", Success: false},
		successCase("zero_case", 0),
	)
	candidate := payload(
		successCase("faster_case", 100),
		successCase("slower_case", 150, 160),
		successCase("stable_case", 103),
		successCase("new_case", 42),
		successCase("failed_case", 10),
		successCase("zero_case", 25),
	)

	comparison := CompareRuns(baseline, candidate, 0.05)

	byCase := map[string]Row{}
	for _, row := range comparison.Rows {
		byCase[row.Case] = row
	}

	assert.Equal(t, "+2.00x faster", byCase["faster_case"].Change)
	assert.Equal(t, "1.50x slower", byCase["slower_case"].Change)
	assert.Equal(t, ChangeNoChange, byCase["stable_case"].Change)
	assert.Equal(t, ChangeRemoved, byCase["gone_case"].Change)
	assert.Equal(t, ChangeNew, byCase["new_case"].Change)
	assert.Equal(t, ChangeIncomparable, byCase["failed_case"].Change)
	assert.Equal(t, ChangeIncomparable, byCase["zero_case"].Change)

	assert.Equal(t, Summary{
		Faster:       1,
		Slower:       1,
		NoChange:     1,
		Incomparable: 2,
		New:          1,
		Removed:      1,
	}, comparison.Summary)

	// Best sample drives the comparison, not the first.
	require.NotNil(t, byCase["faster_case"].BaselineMs)
	assert.Equal(t, 200.0, *byCase["faster_case"].BaselineMs)
	require.NotNil(t, byCase["slower_case"].CandidateMs)
	assert.Equal(t, 150.0, *byCase["slower_case"].CandidateMs)
}

func TestCompareRunsRowsSortedByCase(t *testing.T) {
	baseline := payload(successCase("zeta", 10), successCase("alpha", 10))
	candidate := payload(successCase("zeta", 10), successCase("alpha", 10), successCase("mid", 5))

	comparison := CompareRuns(baseline, candidate, 0.05)

	require.Len(t, comparison.Rows, 3)
	assert.Equal(t, "alpha", comparison.Rows[0].Case)
	assert.Equal(t, "mid", comparison.Rows[1].Case)
	assert.Equal(t, "zeta", comparison.Rows[2].Case)
}

func TestFormatChange(t *testing.T) {
	tests := []struct {
		name      string
		baseline  float64
		candidate float64
		threshold float64
		want      string
	}{
		{name: "within threshold", baseline: 100, candidate: 104, threshold: 0.05, want: ChangeNoChange},
		{name: "exactly at threshold", baseline: 100, candidate: 105, threshold: 0.05, want: ChangeNoChange},
		{name: "faster", baseline: 100, candidate: 50, threshold: 0.05, want: "+2.00x faster"},
		{name: "slower", baseline: 100, candidate: 125, threshold: 0.05, want: "1.25x slower"},
		{name: "both zero", baseline: 0, candidate: 0, threshold: 0.05, want: ChangeNoChange},
		{name: "zero baseline", baseline: 0, candidate: 10, threshold: 0.05, want: ChangeIncomparable},
		{name: "zero candidate", baseline: 10, candidate: 0, threshold: 0.05, want: ChangeIncomparable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, formatChange(tt.baseline, tt.candidate, tt.threshold))
		})
	}
}

func TestLoadPayload(t *testing.T) {
	dir := t.TempDir()

	path := filepath.Join(dir, "result.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"schemaVersion":1,"cases":[{"case":"a","success":true,"samples":[{"elapsedMs":12.5}]}]}`), 0o644))

	loaded, err := LoadPayload(path)
	require.NoError(t, err)
	require.Len(t, loaded.Cases, 1)
	assert.Equal(t, "a", loaded.Cases[0].Case)
	assert.Equal(t, 12.5, loaded.Cases[0].Samples[0].ElapsedMs)

	_, err = LoadPayload(filepath.Join(dir, "missing.json"))
	require.Error(t, err)

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte("{"), 0o644))

	_, err = LoadPayload(bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing result file")
}

func TestRenderText(t *testing.T) {
	comparison := CompareRuns(
		payload(successCase("a", 100)),
		payload(successCase("a", 50)),
		0.05,
	)

	out := RenderText(comparison)

	assert.Contains(t, out, "Case | baseline | candidate | change")
	assert.Contains(t, out, "a | 100.00 ms | 50.00 ms | +2.00x faster")
	assert.Contains(t, out, "summary: faster=1 slower=0 no_change=0 incomparable=0 new=0 removed=0")
}

func TestRenderMarkdown(t *testing.T) {
	comparison := CompareRuns(
		payload(successCase("a", 100), successCase("b", 100)),
		payload(successCase("a", 100), successCase("b", 150)),
		0.05,
	)

	out := RenderMarkdown(comparison)

	assert.Contains(t, out, "| metric | value |")
	assert.Contains(t, out, "| slower | 1 |")
	assert.Contains(t, out, "| no_change | 1 |")
	assert.Contains(t, out, "b | 100.00 ms | 150.00 ms | 1.50x slower")
}

func TestRenderMissingValuesShowDash(t *testing.T) {
	comparison := CompareRuns(
		payload(successCase("gone", 10)),
		payload(successCase("new", 20)),
		0.05,
	)

	out := RenderText(comparison)

	assert.Contains(t, out, "gone | 10.00 ms | - | removed")
	assert.Contains(t, out, "new | - | 20.00 ms | new")
}
