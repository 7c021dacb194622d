package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	return log
}

func writeResultFile(t *testing.T, dir, name string, payload RawPayload) string {
	t.Helper()

	data, err := json.Marshal(payload)
	require.NoError(t, err)

	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	return path
}

func samplePayload() RawPayload {
	return RawPayload{
		SchemaVersion: 1,
		Context: RawContext{
			Label:                  "longitudinal-abc-small",
			GitSHA:                 "abc",
			CreatedAt:              "2026-02-01T10:00:00Z",
			Host:                   "bench-host-1",
			Suite:                  "scan",
			Scale:                  "small",
			HardeningProfileID:     "baseline-v2",
			HardeningProfileSHA256: "deadbeef",
		},
		Cases: []RawCase{
			{
				Case:    "scan_sequential",
				Success: true,
				Samples: []RawSample{
					{ElapsedMs: 120},
					{ElapsedMs: 100},
					{ElapsedMs: 110},
				},
			},
			{
				Case:    "scan_random",
				Success: false,
				Failure: &RawFailure{Message: "segfault"},
			},
		},
	}
}

func TestIngestAppendsNormalizedRows(t *testing.T) {
	dir := t.TempDir()
	st := NewStore(testLogger(), dir)

	path := writeResultFile(t, dir, "result.json", samplePayload())

	res, err := st.Ingest(path, "abc", "2026-01-31T00:00:00+00:00")
	require.NoError(t, err)
	assert.False(t, res.Deduped)
	assert.Equal(t, 2, res.RowsAppended)
	assert.NotEmpty(t, res.RunID)

	rows, invalid, err := st.ReadRows()
	require.NoError(t, err)
	assert.Zero(t, invalid)
	require.Len(t, rows, 2)

	success := rows[0]
	assert.Equal(t, res.RunID, success.RunID)
	assert.Equal(t, "scan_sequential", success.Case)
	assert.True(t, success.Success)
	assert.Equal(t, 3, success.SampleCount)
	assert.Equal(t, []float64{120, 100, 110}, success.SampleValuesMs)
	require.NotNil(t, success.BestMs)
	assert.Equal(t, 100.0, *success.BestMs)
	require.NotNil(t, success.MaxMs)
	assert.Equal(t, 120.0, *success.MaxMs)
	require.NotNil(t, success.MeanMs)
	assert.InDelta(t, 110.0, *success.MeanMs, 1e-9)
	require.NotNil(t, success.MedianMs)
	assert.Equal(t, 110.0, *success.MedianMs)
	assert.Equal(t, "2026-02-01T10:00:00Z", success.BenchmarkCreatedAt)
	assert.Equal(t, "baseline-v2", success.HardeningProfileID)
	assert.Equal(t, "deadbeef", success.HardeningProfileSHA256)
	assert.Equal(t, path, success.SourceResultPath)

	failure := rows[1]
	assert.Equal(t, "scan_random", failure.Case)
	assert.False(t, failure.Success)
	assert.Equal(t, "segfault", failure.FailureReason)
	assert.Zero(t, failure.SampleCount)
	assert.Nil(t, failure.MedianMs)
}

func TestIngestIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	st := NewStore(testLogger(), dir)

	path := writeResultFile(t, dir, "result.json", samplePayload())

	first, err := st.Ingest(path, "abc", "2026-01-31T00:00:00+00:00")
	require.NoError(t, err)
	require.False(t, first.Deduped)

	second, err := st.Ingest(path, "abc", "2026-01-31T00:00:00+00:00")
	require.NoError(t, err)
	assert.True(t, second.Deduped)
	assert.Equal(t, first.RunID, second.RunID)
	assert.Zero(t, second.RowsAppended)

	rows, _, err := st.ReadRows()
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestIngestDedupeSurvivesIndexLoss(t *testing.T) {
	dir := t.TempDir()
	st := NewStore(testLogger(), dir)

	path := writeResultFile(t, dir, "result.json", samplePayload())

	_, err := st.Ingest(path, "abc", "2026-01-31T00:00:00+00:00")
	require.NoError(t, err)

	// Deleting the index forces a rescan of the append log; the run must
	// still be recognized as already ingested.
	require.NoError(t, os.Remove(IndexPath(dir)))

	res, err := st.Ingest(path, "abc", "2026-01-31T00:00:00+00:00")
	require.NoError(t, err)
	assert.True(t, res.Deduped)

	rows, _, err := st.ReadRows()
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestIngestStaleIndexRescans(t *testing.T) {
	dir := t.TempDir()
	st := NewStore(testLogger(), dir)

	path := writeResultFile(t, dir, "result.json", samplePayload())

	_, err := st.Ingest(path, "abc", "2026-01-31T00:00:00+00:00")
	require.NoError(t, err)

	// Corrupt the index fingerprint so it no longer matches rows.jsonl.
	var idx Index

	data, err := os.ReadFile(IndexPath(dir))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &idx))

	idx.RowsSize++
	idx.RunIDs = map[string]bool{"bogus": true}

	data, err = json.Marshal(idx)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(IndexPath(dir), data, 0o644))

	res, err := st.Ingest(path, "abc", "2026-01-31T00:00:00+00:00")
	require.NoError(t, err)
	assert.True(t, res.Deduped)
}

func TestIngestRejectsEmptyPayload(t *testing.T) {
	dir := t.TempDir()
	st := NewStore(testLogger(), dir)

	path := writeResultFile(t, dir, "empty.json", RawPayload{SchemaVersion: 1})

	_, err := st.Ingest(path, "abc", "2026-01-31T00:00:00+00:00")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no cases")
}

func TestReadRowsSkipsMalformedLines(t *testing.T) {
	dir := t.TempDir()
	st := NewStore(testLogger(), dir)

	path := writeResultFile(t, dir, "result.json", samplePayload())

	_, err := st.Ingest(path, "abc", "2026-01-31T00:00:00+00:00")
	require.NoError(t, err)

	f, err := os.OpenFile(RowsPath(dir), os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)

	_, err = f.WriteString("{not json\n{\"runId\":\"\"}\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	rows, invalid, err := st.ReadRows()
	require.NoError(t, err)
	assert.Len(t, rows, 2)
	assert.Equal(t, 2, invalid)
}

func TestReadRowsMissingLog(t *testing.T) {
	st := NewStore(testLogger(), t.TempDir())

	rows, invalid, err := st.ReadRows()
	require.NoError(t, err)
	assert.Empty(t, rows)
	assert.Zero(t, invalid)
}

func TestRemoveRuns(t *testing.T) {
	dir := t.TempDir()
	st := NewStore(testLogger(), dir)

	firstPath := writeResultFile(t, dir, "first.json", samplePayload())

	other := samplePayload()
	other.Context.CreatedAt = "2026-02-02T10:00:00Z"
	otherPath := writeResultFile(t, dir, "second.json", other)

	first, err := st.Ingest(firstPath, "abc", "2026-01-31T00:00:00+00:00")
	require.NoError(t, err)

	second, err := st.Ingest(otherPath, "def", "2026-02-01T00:00:00+00:00")
	require.NoError(t, err)
	require.NotEqual(t, first.RunID, second.RunID)

	removed, err := st.RemoveRuns(map[string]bool{first.RunID: true})
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	rows, _, err := st.ReadRows()
	require.NoError(t, err)
	require.Len(t, rows, 2)

	for _, row := range rows {
		assert.Equal(t, second.RunID, row.RunID)
	}

	// The removed run can be ingested again afterwards.
	res, err := st.Ingest(firstPath, "abc", "2026-01-31T00:00:00+00:00")
	require.NoError(t, err)
	assert.False(t, res.Deduped)
}

func TestRemoveRunsNoMatch(t *testing.T) {
	dir := t.TempDir()
	st := NewStore(testLogger(), dir)

	path := writeResultFile(t, dir, "result.json", samplePayload())

	_, err := st.Ingest(path, "abc", "2026-01-31T00:00:00+00:00")
	require.NoError(t, err)

	removed, err := st.RemoveRuns(map[string]bool{"does-not-exist": true})
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestDeriveRunID(t *testing.T) {
	ctx := RawContext{
		Label:     "l",
		CreatedAt: "2026-02-01T10:00:00Z",
		Suite:     "scan",
		Scale:     "small",
	}
	payload := []byte(`{"cases":[]}`)

	base := DeriveRunID("abc", "2026-01-31T00:00:00+00:00", ctx, payload)

	// Stable for identical inputs.
	assert.Equal(t, base, DeriveRunID("abc", "2026-01-31T00:00:00+00:00", ctx, payload))

	// Any input change yields a different ID.
	assert.NotEqual(t, base, DeriveRunID("abd", "2026-01-31T00:00:00+00:00", ctx, payload))
	assert.NotEqual(t, base, DeriveRunID("abc", "2026-01-31T00:00:01+00:00", ctx, payload))
	assert.NotEqual(t, base, DeriveRunID("abc", "2026-01-31T00:00:00+00:00", ctx, []byte(`{"cases":[{}]}`)))

	altered := ctx
	altered.Scale = "large"
	assert.NotEqual(t, base, DeriveRunID("abc", "2026-01-31T00:00:00+00:00", altered, payload))
}

func TestDeriveRunIDSeparatorSafety(t *testing.T) {
	// Field boundaries are delimited, so shifting a character between
	// adjacent fields cannot collide.
	a := DeriveRunID("ab", "c", RawContext{}, nil)
	b := DeriveRunID("a", "bc", RawContext{}, nil)

	assert.NotEqual(t, a, b)
}

func TestMedian(t *testing.T) {
	tests := []struct {
		name   string
		values []float64
		want   float64
	}{
		{name: "odd", values: []float64{3, 1, 2}, want: 2},
		{name: "even", values: []float64{4, 1, 3, 2}, want: 2.5},
		{name: "single", values: []float64{7}, want: 7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			input := append([]float64(nil), tt.values...)

			assert.Equal(t, tt.want, Median(tt.values))
			assert.Equal(t, input, tt.values, "input must not be reordered")
		})
	}
}

func TestConcurrentIngestSerializes(t *testing.T) {
	dir := t.TempDir()

	payloads := make([]string, 0, 4)

	for i := 0; i < 4; i++ {
		p := samplePayload()
		p.Context.CreatedAt = time.Date(2026, 2, 1, 10, i, 0, 0, time.UTC).Format(time.RFC3339)
		payloads = append(payloads, writeResultFile(t, dir, p.Context.CreatedAt[11:16]+".json", p))
	}

	done := make(chan error, len(payloads))

	for _, path := range payloads {
		go func(p string) {
			st := NewStore(testLogger(), dir)

			_, err := st.Ingest(p, "abc", "2026-01-31T00:00:00+00:00")
			done <- err
		}(path)
	}

	for range payloads {
		require.NoError(t, <-done)
	}

	rows, invalid, err := NewStore(testLogger(), dir).ReadRows()
	require.NoError(t, err)
	assert.Zero(t, invalid)
	assert.Len(t, rows, 8)
}

func TestPruneRunsDryRunSelectsWithoutRewrite(t *testing.T) {
	dir := t.TempDir()
	st := NewStore(testLogger(), dir)

	path := writeResultFile(t, dir, "result.json", samplePayload())
	res, err := st.Ingest(path, "abc", "2026-01-31T00:00:00+00:00")
	require.NoError(t, err)

	var seen []Row

	removed, invalid, err := st.PruneRuns(false, func(rows []Row) map[string]bool {
		seen = rows

		return map[string]bool{res.RunID: true}
	})
	require.NoError(t, err)
	assert.Zero(t, removed)
	assert.Zero(t, invalid)
	assert.Len(t, seen, 2)

	rows, _, err := st.ReadRows()
	require.NoError(t, err)
	assert.Len(t, rows, 2, "dry run must leave the log untouched")
}

func TestPruneRunsApplyRemovesSelected(t *testing.T) {
	dir := t.TempDir()
	st := NewStore(testLogger(), dir)

	first := writeResultFile(t, dir, "first.json", samplePayload())
	keep := samplePayload()
	keep.Context.CreatedAt = "2026-02-02T10:00:00Z"
	second := writeResultFile(t, dir, "second.json", keep)

	dropRes, err := st.Ingest(first, "abc", "2026-01-31T00:00:00+00:00")
	require.NoError(t, err)
	keepRes, err := st.Ingest(second, "def", "2026-02-01T00:00:00+00:00")
	require.NoError(t, err)

	removed, _, err := st.PruneRuns(true, func(rows []Row) map[string]bool {
		return map[string]bool{dropRes.RunID: true}
	})
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	rows, _, err := st.ReadRows()
	require.NoError(t, err)
	require.Len(t, rows, 2)

	for _, row := range rows {
		assert.Equal(t, keepRes.RunID, row.RunID)
	}

	// The dropped run must be ingestable again after the rewrite.
	res, err := st.Ingest(first, "abc", "2026-01-31T00:00:00+00:00")
	require.NoError(t, err)
	assert.False(t, res.Deduped)
}

func TestPruneRunsHoldsLockAcrossSelection(t *testing.T) {
	dir := t.TempDir()
	st := NewStore(testLogger(), dir)

	lock, err := AcquireLock(dir)
	require.NoError(t, err)

	done := make(chan struct{})

	go func() {
		defer close(done)

		_, _, _ = st.PruneRuns(false, func([]Row) map[string]bool { return nil })
	}()

	select {
	case <-done:
		t.Fatal("prune ran while the store lock was held elsewhere")
	case <-time.After(200 * time.Millisecond):
	}

	require.NoError(t, lock.Release())

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("prune did not proceed after the lock was released")
	}
}
