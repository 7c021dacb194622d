// Package revisions selects which commits of the target repository get
// benchmarked, and persists the selection as a manifest.
package revisions

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/trendoor/pkg/fsutil"
)

// ManifestSchemaVersion is the manifest document schema version.
const ManifestSchemaVersion = 1

// Selection strategies.
const (
	StrategyReleaseTags = "release-tags"
	StrategyDateWindow  = "date-window"
	StrategyOnePerDay   = "one-per-day"
)

// DefaultReleaseTagPattern matches semver-style release tags.
const DefaultReleaseTagPattern = `^v\d+\.\d+\.\d+([.-].+)?$`

// Entry is one selected revision.
type Entry struct {
	Commit          string `json:"commit"`
	CommitTimestamp string `json:"commitTimestamp"`
	Source          string `json:"source"`
	Tag             string `json:"tag,omitempty"`
}

// Manifest is the persisted revision selection.
type Manifest struct {
	SchemaVersion int     `json:"schemaVersion"`
	GeneratedAt   string  `json:"generatedAt"`
	Repository    string  `json:"repository"`
	Strategy      string  `json:"strategy"`
	Ref           string  `json:"ref,omitempty"`
	Revisions     []Entry `json:"revisions"`
}

// Config controls revision selection.
type Config struct {
	Repository        string `yaml:"repository"`
	Strategy          string `yaml:"strategy"`
	StartDate         string `yaml:"start_date"`
	EndDate           string `yaml:"end_date"`
	ReleaseTagPattern string `yaml:"release_tag_pattern"`
	Ref               string `yaml:"ref"`
}

func (c *Config) applyDefaults() {
	if c.ReleaseTagPattern == "" {
		c.ReleaseTagPattern = DefaultReleaseTagPattern
	}

	if c.Ref == "" {
		c.Ref = "HEAD"
	}
}

// Validate checks the selection configuration.
func (c *Config) Validate() error {
	if c.Repository == "" {
		return fmt.Errorf("repository is required")
	}

	switch c.Strategy {
	case StrategyReleaseTags:
	case StrategyDateWindow, StrategyOnePerDay:
		start, err := parseDate(c.StartDate, "start_date")
		if err != nil {
			return err
		}

		end, err := parseDate(c.EndDate, "end_date")
		if err != nil {
			return err
		}

		if start.After(end) {
			return fmt.Errorf("start_date must be <= end_date")
		}
	default:
		return fmt.Errorf("strategy must be one of: release-tags, date-window, one-per-day, got %q", c.Strategy)
	}

	if _, err := regexp.Compile(c.ReleaseTagPattern); err != nil {
		return fmt.Errorf("invalid releaseTagPattern: %w", err)
	}

	return nil
}

// Selector picks revisions from a git repository.
type Selector interface {
	Select(ctx context.Context) (*Manifest, error)
}

type selector struct {
	log logrus.FieldLogger
	cfg *Config
	now func() time.Time
}

var _ Selector = (*selector)(nil)

// NewSelector creates a revision selector.
func NewSelector(log logrus.FieldLogger, cfg *Config) (Selector, error) {
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &selector{
		log: log.WithField("component", "revisions"),
		cfg: cfg,
		now: time.Now,
	}, nil
}

func (s *selector) Select(ctx context.Context) (*Manifest, error) {
	repo, err := filepath.Abs(s.cfg.Repository)
	if err != nil {
		return nil, fmt.Errorf("resolving repository path: %w", err)
	}

	manifest := &Manifest{
		SchemaVersion: ManifestSchemaVersion,
		GeneratedAt:   s.now().UTC().Format(time.RFC3339),
		Repository:    repo,
		Strategy:      s.cfg.Strategy,
	}

	switch s.cfg.Strategy {
	case StrategyReleaseTags:
		manifest.Revisions, err = s.selectReleaseTags(ctx, repo)
	case StrategyDateWindow:
		manifest.Ref = s.cfg.Ref
		manifest.Revisions, err = s.selectDateWindow(ctx, repo)
	case StrategyOnePerDay:
		manifest.Ref = s.cfg.Ref
		manifest.Revisions, err = s.selectOnePerDay(ctx, repo)
	}

	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"strategy":  s.cfg.Strategy,
		"revisions": len(manifest.Revisions),
	}).Info("Selected revisions")

	return manifest, nil
}

func (s *selector) selectReleaseTags(ctx context.Context, repo string) ([]Entry, error) {
	pattern := regexp.MustCompile(s.cfg.ReleaseTagPattern)

	out, err := git(ctx, repo, "tag", "--list", "--sort=creatordate")
	if err != nil {
		return nil, err
	}

	entries := []Entry{}

	for _, tag := range strings.Split(out, "\n") {
		if tag == "" || !pattern.MatchString(tag) {
			continue
		}

		commit, err := git(ctx, repo, "rev-list", "-n", "1", tag)
		if err != nil {
			return nil, err
		}

		commitTS, err := git(ctx, repo, "show", "-s", "--date=iso-strict", "--format=%cI", commit)
		if err != nil {
			return nil, err
		}

		entries = append(entries, Entry{
			Commit:          commit,
			CommitTimestamp: commitTS,
			Source:          StrategyReleaseTags,
			Tag:             tag,
		})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].CommitTimestamp != entries[j].CommitTimestamp {
			return entries[i].CommitTimestamp < entries[j].CommitTimestamp
		}

		return entries[i].Tag < entries[j].Tag
	})

	return entries, nil
}

func (s *selector) selectDateWindow(ctx context.Context, repo string) ([]Entry, error) {
	rows, err := s.commitRows(ctx, repo)
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, Entry{
			Commit:          row.commit,
			CommitTimestamp: row.timestamp,
			Source:          StrategyDateWindow,
		})
	}

	return entries, nil
}

// selectOnePerDay keeps the last commit of each committer day inside the
// window.
func (s *selector) selectOnePerDay(ctx context.Context, repo string) ([]Entry, error) {
	rows, err := s.commitRows(ctx, repo)
	if err != nil {
		return nil, err
	}

	latestPerDay := map[string]commitRow{}
	for _, row := range rows {
		if len(row.timestamp) < 10 {
			continue
		}

		latestPerDay[row.timestamp[:10]] = row
	}

	days := make([]string, 0, len(latestPerDay))
	for day := range latestPerDay {
		days = append(days, day)
	}

	sort.Strings(days)

	entries := make([]Entry, 0, len(days))
	for _, day := range days {
		row := latestPerDay[day]
		entries = append(entries, Entry{
			Commit:          row.commit,
			CommitTimestamp: row.timestamp,
			Source:          StrategyOnePerDay,
		})
	}

	return entries, nil
}

type commitRow struct {
	commit    string
	timestamp string
}

func (s *selector) commitRows(ctx context.Context, repo string) ([]commitRow, error) {
	out, err := git(ctx, repo,
		"log", "--first-parent", s.cfg.Ref, "--reverse",
		"--date=iso-strict", "--pretty=format:%H|%cI",
		"--since", s.cfg.StartDate+"T00:00:00+00:00",
		"--until", s.cfg.EndDate+"T23:59:59+00:00")
	if err != nil {
		return nil, err
	}

	rows := []commitRow{}

	for _, line := range strings.Split(out, "\n") {
		if line == "" {
			continue
		}

		commit, timestamp, found := strings.Cut(line, "|")
		if !found {
			continue
		}

		rows = append(rows, commitRow{commit: commit, timestamp: timestamp})
	}

	return rows, nil
}

// WriteManifest persists a manifest atomically.
func WriteManifest(path string, manifest *Manifest) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating manifest dir: %w", err)
	}

	return fsutil.WriteJSONAtomic(path, manifest)
}

// LoadManifest reads a manifest from path.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}

	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("parsing manifest %s: %w", path, err)
	}

	return &manifest, nil
}

func git(ctx context.Context, repo string, args ...string) (string, error) {
	fullArgs := append([]string{"-C", repo}, args...)
	cmd := exec.CommandContext(ctx, "git", fullArgs...)

	output, err := cmd.Output()
	if err != nil {
		detail := "unknown git error"
		if exitErr, ok := err.(*exec.ExitError); ok && len(exitErr.Stderr) > 0 {
			detail = strings.TrimSpace(string(exitErr.Stderr))
		}

		return "", fmt.Errorf("git %s: %s", strings.Join(args, " "), detail)
	}

	return strings.TrimSpace(string(output)), nil
}

func parseDate(value, field string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("%s is required for this strategy", field)
	}

	t, err := time.Parse("2006-01-02", value)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s must be YYYY-MM-DD", field)
	}

	return t, nil
}
