// Package retention prunes old store runs and artifact builds according to
// age and count policies.
package retention

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/trendoor/pkg/artifacts"
	"github.com/ethpandaops/trendoor/pkg/store"
)

// Policy is an age/count retention policy. At least one limit must be set.
type Policy struct {
	// MaxAgeDays removes entries older than this many days.
	MaxAgeDays int `yaml:"max_age_days"`
	// MaxCount keeps at most this many newest entries.
	MaxCount int `yaml:"max_count"`
}

// Validate checks the policy.
func (p *Policy) Validate() error {
	if p.MaxAgeDays == 0 && p.MaxCount == 0 {
		return fmt.Errorf("at least one retention policy must be configured")
	}

	if p.MaxAgeDays < 0 {
		return fmt.Errorf("max_age_days must be > 0, got %d", p.MaxAgeDays)
	}

	if p.MaxCount < 0 {
		return fmt.Errorf("max_count must be > 0, got %d", p.MaxCount)
	}

	return nil
}

// StoreResult reports a store prune pass.
type StoreResult struct {
	TotalRuns     int      `json:"totalRuns"`
	CandidateRuns []string `json:"candidateRuns"`
	RemovedRuns   int      `json:"removedRuns"`
	RemainingRuns int      `json:"remainingRuns"`
	InvalidRows   int      `json:"invalidRowsSkipped"`
	Applied       bool     `json:"applied"`
}

// ArtifactsResult reports an artifacts prune pass.
type ArtifactsResult struct {
	Total      int      `json:"total"`
	Candidates []string `json:"candidates"`
	Removed    int      `json:"removed"`
	Applied    bool     `json:"applied"`
}

// Pruner applies retention policies to the store and the artifacts tree.
type Pruner interface {
	// PruneStore removes whole runs from the append log. The pass runs
	// under the store lock so it serializes with concurrent ingestion.
	PruneStore(policy *Policy, apply bool) (*StoreResult, error)
	// PruneArtifacts removes per-revision artifact directories.
	PruneArtifacts(artifactsDir string, policy *Policy, apply bool) (*ArtifactsResult, error)
}

type pruner struct {
	log logrus.FieldLogger
	st  store.Store
	now func() time.Time
}

var _ Pruner = (*pruner)(nil)

// NewPruner creates a retention pruner over st.
func NewPruner(log logrus.FieldLogger, st store.Store) Pruner {
	return &pruner{
		log: log.WithField("component", "retention"),
		st:  st,
		now: time.Now,
	}
}

func (p *pruner) PruneStore(policy *Policy, apply bool) (*StoreResult, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}

	result := &StoreResult{
		CandidateRuns: []string{},
		Applied:       apply,
	}

	// Candidate selection runs inside the store transaction so the rows it
	// sees cannot change before the rewrite.
	removed, invalid, err := p.st.PruneRuns(apply, func(rows []store.Row) map[string]bool {
		if len(rows) == 0 {
			return nil
		}

		// Bucket rows by run, keeping the newest timestamp seen per run.
		runTimestamps := map[string]time.Time{}

		for _, row := range rows {
			ts := rowTimestamp(row)
			if existing, ok := runTimestamps[row.RunID]; !ok || ts.After(existing) {
				runTimestamps[row.RunID] = ts
			}
		}

		entries := make([]entry, 0, len(runTimestamps))
		for runID, ts := range runTimestamps {
			entries = append(entries, entry{id: runID, timestamp: ts})
		}

		sortNewestFirst(entries)

		result.TotalRuns = len(entries)
		result.CandidateRuns = selectCandidates(entries, policy, p.now())

		drop := map[string]bool{}
		for _, runID := range result.CandidateRuns {
			drop[runID] = true
		}

		return drop
	})
	if err != nil {
		return nil, err
	}

	result.InvalidRows = invalid

	if apply && removed > 0 {
		result.RemovedRuns = len(result.CandidateRuns)
	}

	result.RemainingRuns = result.TotalRuns - result.RemovedRuns

	if apply && result.RemovedRuns > 0 {
		p.log.WithFields(logrus.Fields{
			"removed_runs":   result.RemovedRuns,
			"remaining_runs": result.RemainingRuns,
		}).Info("Pruned store")
	}

	return result, nil
}

func (p *pruner) PruneArtifacts(artifactsDir string, policy *Policy, apply bool) (*ArtifactsResult, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}

	result := &ArtifactsResult{
		Candidates: []string{},
		Applied:    apply,
	}

	children, err := os.ReadDir(artifactsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return result, nil
		}

		return nil, fmt.Errorf("reading artifacts dir: %w", err)
	}

	entries := []entry{}

	for _, child := range children {
		if !child.IsDir() {
			continue
		}

		path := filepath.Join(artifactsDir, child.Name())
		entries = append(entries, entry{
			id:        child.Name(),
			timestamp: artifactTimestamp(path),
		})
	}

	sortNewestFirst(entries)

	result.Total = len(entries)
	result.Candidates = selectCandidates(entries, policy, p.now())

	if !apply {
		return result, nil
	}

	for _, revision := range result.Candidates {
		if err := os.RemoveAll(filepath.Join(artifactsDir, revision)); err != nil {
			return nil, fmt.Errorf("removing artifact %s: %w", revision, err)
		}

		result.Removed++
	}

	p.log.WithFields(logrus.Fields{
		"removed": result.Removed,
		"total":   result.Total,
	}).Info("Pruned artifacts")

	return result, nil
}

type entry struct {
	id        string
	timestamp time.Time
}

func sortNewestFirst(entries []entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].timestamp.After(entries[j].timestamp)
	})
}

// selectCandidates returns the sorted ids falling outside the policy:
// everything past the first MaxCount newest entries, plus everything older
// than the age cutoff.
func selectCandidates(entries []entry, policy *Policy, now time.Time) []string {
	candidates := map[string]bool{}

	if policy.MaxCount > 0 && len(entries) > policy.MaxCount {
		for _, e := range entries[policy.MaxCount:] {
			candidates[e.id] = true
		}
	}

	if policy.MaxAgeDays > 0 {
		cutoff := now.Add(-time.Duration(policy.MaxAgeDays) * 24 * time.Hour)
		for _, e := range entries {
			if e.timestamp.Before(cutoff) {
				candidates[e.id] = true
			}
		}
	}

	out := make([]string, 0, len(candidates))
	for id := range candidates {
		out = append(out, id)
	}

	sort.Strings(out)

	return out
}

func rowTimestamp(row store.Row) time.Time {
	if ts, ok := parseTime(row.BenchmarkCreatedAt); ok {
		return ts
	}

	if ts, ok := parseTime(row.IngestedAt); ok {
		return ts
	}

	return time.Unix(0, 0).UTC()
}

// artifactTimestamp prefers the recorded build timestamp and falls back to
// the directory mtime.
func artifactTimestamp(path string) time.Time {
	if data, err := os.ReadFile(filepath.Join(path, "metadata.json")); err == nil {
		var meta artifacts.BuildMetadata
		if json.Unmarshal(data, &meta) == nil {
			if ts, ok := parseTime(meta.BuildTimestamp); ok {
				return ts
			}
		}
	}

	info, err := os.Stat(path)
	if err != nil {
		return time.Unix(0, 0).UTC()
	}

	return info.ModTime().UTC()
}

func parseTime(value string) (time.Time, bool) {
	if value == "" {
		return time.Time{}, false
	}

	ts, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, false
	}

	return ts.UTC(), true
}
