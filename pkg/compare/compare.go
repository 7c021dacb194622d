// Package compare diffs two raw benchmark result payloads case by case,
// using each case's best sample as the comparison value.
package compare

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/ethpandaops/trendoor/pkg/store"
)

// Change labels.
const (
	ChangeNoChange     = "no change"
	ChangeIncomparable = "incomparable"
	ChangeNew          = "new"
	ChangeRemoved      = "removed"
)

// Row is one per-case comparison result.
type Row struct {
	Case        string   `json:"case"`
	BaselineMs  *float64 `json:"baselineMs"`
	CandidateMs *float64 `json:"candidateMs"`
	Change      string   `json:"change"`
}

// Summary counts rows by verdict.
type Summary struct {
	Faster       int `json:"faster"`
	Slower       int `json:"slower"`
	NoChange     int `json:"noChange"`
	Incomparable int `json:"incomparable"`
	New          int `json:"new"`
	Removed      int `json:"removed"`
}

// Comparison is a full baseline/candidate diff.
type Comparison struct {
	Rows    []Row   `json:"rows"`
	Summary Summary `json:"summary"`
}

// LoadPayload reads one raw result file.
func LoadPayload(path string) (*store.RawPayload, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading result file: %w", err)
	}

	var payload store.RawPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("parsing result file %s: %w", path, err)
	}

	return &payload, nil
}

// CompareRuns diffs candidate against baseline with the given noise
// threshold (0.05 means deltas within 5% count as no change).
func CompareRuns(baseline, candidate *store.RawPayload, threshold float64) *Comparison {
	baselineCases := casesByName(baseline)
	candidateCases := casesByName(candidate)

	names := map[string]bool{}
	for name := range baselineCases {
		names[name] = true
	}

	for name := range candidateCases {
		names[name] = true
	}

	ordered := make([]string, 0, len(names))
	for name := range names {
		ordered = append(ordered, name)
	}

	sort.Strings(ordered)

	comparison := &Comparison{Rows: []Row{}}

	for _, name := range ordered {
		b, hasBaseline := baselineCases[name]
		c, hasCandidate := candidateCases[name]

		switch {
		case !hasBaseline:
			comparison.Summary.New++
			comparison.Rows = append(comparison.Rows, Row{
				Case:        name,
				CandidateMs: bestMs(c),
				Change:      ChangeNew,
			})
		case !hasCandidate:
			comparison.Summary.Removed++
			comparison.Rows = append(comparison.Rows, Row{
				Case:       name,
				BaselineMs: bestMs(b),
				Change:     ChangeRemoved,
			})
		default:
			comparison.Rows = append(comparison.Rows, compareCase(name, b, c, threshold, &comparison.Summary))
		}
	}

	return comparison
}

func compareCase(name string, b, c store.RawCase, threshold float64, summary *Summary) Row {
	baseMs := bestMs(b)
	candMs := bestMs(c)

	row := Row{Case: name, BaselineMs: baseMs, CandidateMs: candMs}

	if baseMs == nil || candMs == nil {
		summary.Incomparable++
		row.Change = ChangeIncomparable

		return row
	}

	row.Change = formatChange(*baseMs, *candMs, threshold)

	switch {
	case row.Change == ChangeNoChange:
		summary.NoChange++
	case row.Change == ChangeIncomparable:
		summary.Incomparable++
	case *candMs < *baseMs:
		summary.Faster++
	default:
		summary.Slower++
	}

	return row
}

// formatChange labels the delta between two best-sample timings. Deltas
// inside the threshold are noise, non-positive timings are incomparable.
func formatChange(baselineMs, candidateMs, threshold float64) string {
	if baselineMs <= 0 {
		if candidateMs <= 0 {
			return ChangeNoChange
		}

		return ChangeIncomparable
	}

	if candidateMs <= 0 {
		return ChangeIncomparable
	}

	delta := (candidateMs - baselineMs) / baselineMs
	if delta <= threshold && delta >= -threshold {
		return ChangeNoChange
	}

	if candidateMs < baselineMs {
		return fmt.Sprintf("+%.2fx faster", baselineMs/candidateMs)
	}

	return fmt.Sprintf("%.2fx slower", candidateMs/baselineMs)
}

func casesByName(payload *store.RawPayload) map[string]store.RawCase {
	out := make(map[string]store.RawCase, len(payload.Cases))
	for _, c := range payload.Cases {
		out[c.Case] = c
	}

	return out
}

// bestMs is the fastest successful sample of a case, or nil when the case
// failed or carries no samples.
func bestMs(c store.RawCase) *float64 {
	if !c.Success || len(c.Samples) == 0 {
		return nil
	}

	best := c.Samples[0].ElapsedMs
	for _, sample := range c.Samples[1:] {
		if sample.ElapsedMs < best {
			best = sample.ElapsedMs
		}
	}

	return &best
}
