// Package artifacts builds benchmark binaries per revision and keeps their
// build metadata alongside them so completed builds are skipped on rerun.
package artifacts

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/trendoor/pkg/fsutil"
)

// Build statuses recorded in metadata.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

const errTruncateLimit = 4000

// BuildMetadata records the outcome of one revision build.
type BuildMetadata struct {
	Revision        string `json:"revision"`
	CommitTimestamp string `json:"commitTimestamp"`
	BuildTimestamp  string `json:"buildTimestamp"`
	Toolchain       string `json:"toolchain"`
	Status          string `json:"status"`
	ArtifactPath    string `json:"artifactPath,omitempty"`
	Error           string `json:"error,omitempty"`
}

// Config controls where and how artifacts are built.
type Config struct {
	// ArtifactsDir is the root directory holding one subdirectory per
	// revision.
	ArtifactsDir string `yaml:"artifacts_dir"`
	// Repository is the git repository revisions are checked out from.
	Repository string `yaml:"repository"`
	// BuildCommand is the command run inside the checkout. Defaults to a
	// release cargo build of the bench crate.
	BuildCommand []string `yaml:"build_command"`
	// BuildOutput is the binary path produced by BuildCommand, relative to
	// the checkout root.
	BuildOutput string `yaml:"build_output"`
}

func (c *Config) applyDefaults() {
	if len(c.BuildCommand) == 0 {
		c.BuildCommand = []string{"cargo", "build", "-p", "delta-bench", "--release"}
	}

	if c.BuildOutput == "" {
		c.BuildOutput = filepath.Join("target", "release", "delta-bench")
	}
}

// Validate checks the builder configuration.
func (c *Config) Validate() error {
	if c.ArtifactsDir == "" {
		return fmt.Errorf("artifacts_dir is required")
	}

	if c.Repository == "" {
		return fmt.Errorf("repository is required")
	}

	return nil
}

// Builder produces per-revision benchmark binaries.
type Builder interface {
	// BuildRevision builds the benchmark binary for one revision via a
	// detached git worktree, reusing a previously successful build when
	// its artifact is still trusted.
	BuildRevision(ctx context.Context, revision, commitTimestamp string) (*BuildMetadata, error)
}

type builder struct {
	log logrus.FieldLogger
	cfg *Config
	now func() time.Time
}

var _ Builder = (*builder)(nil)

// NewBuilder creates an artifact builder.
func NewBuilder(log logrus.FieldLogger, cfg *Config) (Builder, error) {
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &builder{
		log: log.WithField("component", "artifacts"),
		cfg: cfg,
		now: time.Now,
	}, nil
}

// BinaryPath returns the canonical binary location for a revision.
func BinaryPath(artifactsDir, revision string) (string, error) {
	safe, err := sanitizeRevision(revision)
	if err != nil {
		return "", err
	}

	return filepath.Join(artifactsDir, safe, "delta-bench-"+safe), nil
}

// MetadataPath returns the build metadata location for a revision.
func MetadataPath(artifactsDir, revision string) (string, error) {
	safe, err := sanitizeRevision(revision)
	if err != nil {
		return "", err
	}

	return filepath.Join(artifactsDir, safe, "metadata.json"), nil
}

// WriteMetadata persists build metadata atomically.
func WriteMetadata(path string, meta *BuildMetadata) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating metadata dir: %w", err)
	}

	return fsutil.WriteJSONAtomic(path, meta)
}

// LoadMetadata reads build metadata from path.
func LoadMetadata(path string) (*BuildMetadata, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading metadata: %w", err)
	}

	var meta BuildMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("parsing metadata %s: %w", path, err)
	}

	return &meta, nil
}

// ShouldSkipBuild reports whether a trusted successful build already exists
// for the revision.
func ShouldSkipBuild(artifactsDir, revision string) bool {
	metaPath, err := MetadataPath(artifactsDir, revision)
	if err != nil {
		return false
	}

	meta, err := LoadMetadata(metaPath)
	if err != nil {
		return false
	}

	if meta.Status != StatusSuccess || meta.ArtifactPath == "" {
		return false
	}

	return IsTrustedArtifactPath(artifactsDir, revision, meta.ArtifactPath)
}

// IsTrustedArtifactPath reports whether artifactPath is exactly the canonical
// binary for the revision. Symlinks and paths resolving elsewhere are
// rejected so metadata cannot redirect execution outside the artifacts tree.
func IsTrustedArtifactPath(artifactsDir, revision, artifactPath string) bool {
	expected, err := BinaryPath(artifactsDir, revision)
	if err != nil {
		return false
	}

	expectedResolved, err := filepath.EvalSymlinks(expected)
	if err != nil {
		expectedAbs, absErr := filepath.Abs(expected)
		if absErr != nil {
			return false
		}

		expectedResolved = expectedAbs
	}

	candidateResolved, err := filepath.EvalSymlinks(artifactPath)
	if err != nil {
		return false
	}

	if candidateResolved != expectedResolved {
		return false
	}

	info, err := os.Lstat(artifactPath)
	if err != nil || info.Mode()&os.ModeSymlink != 0 {
		return false
	}

	return info.Mode().IsRegular()
}

func (b *builder) BuildRevision(ctx context.Context, revision, commitTimestamp string) (*BuildMetadata, error) {
	metaPath, err := MetadataPath(b.cfg.ArtifactsDir, revision)
	if err != nil {
		return nil, err
	}

	if ShouldSkipBuild(b.cfg.ArtifactsDir, revision) {
		b.log.WithField("revision", revision).Info("Artifact already built, skipping")

		return LoadMetadata(metaPath)
	}

	repo, err := filepath.Abs(b.cfg.Repository)
	if err != nil {
		return nil, fmt.Errorf("resolving repository path: %w", err)
	}

	tmpDir, err := os.MkdirTemp("", "trendoor-build-")
	if err != nil {
		return nil, fmt.Errorf("creating build dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	checkout := filepath.Join(tmpDir, "checkout")

	var buildErr string

	meta, addErr := b.buildInWorktree(ctx, repo, checkout, revision, commitTimestamp)
	if addErr != nil {
		buildErr = addErr.Error()
	}

	if removeErr := runGit(ctx, repo, "worktree", "remove", "--force", checkout); removeErr != nil && addErr == nil {
		buildErr = fmt.Sprintf("worktree cleanup failed: %v", removeErr)
	}

	if buildErr != "" {
		meta = &BuildMetadata{
			Revision:        revision,
			CommitTimestamp: commitTimestamp,
			BuildTimestamp:  b.now().UTC().Format(time.RFC3339),
			Toolchain:       "unknown",
			Status:          StatusFailure,
			Error:           truncateErr(buildErr),
		}
	}

	if err := WriteMetadata(metaPath, meta); err != nil {
		return nil, err
	}

	return meta, nil
}

func (b *builder) buildInWorktree(ctx context.Context, repo, checkout, revision, commitTimestamp string) (*BuildMetadata, error) {
	if err := runGit(ctx, repo, "worktree", "add", "--detach", checkout, revision); err != nil {
		return nil, err
	}

	toolchain := detectToolchain(ctx, checkout)

	meta := &BuildMetadata{
		Revision:        revision,
		CommitTimestamp: commitTimestamp,
		BuildTimestamp:  b.now().UTC().Format(time.RFC3339),
		Toolchain:       toolchain,
	}

	cmd := exec.CommandContext(ctx, b.cfg.BuildCommand[0], b.cfg.BuildCommand[1:]...)
	cmd.Dir = checkout

	output, err := cmd.CombinedOutput()
	if err != nil {
		meta.Status = StatusFailure
		meta.Error = truncateErr(string(output))

		return meta, nil
	}

	builtBinary := filepath.Join(checkout, b.cfg.BuildOutput)
	if _, err := os.Stat(builtBinary); err != nil {
		meta.Status = StatusFailure
		meta.Error = fmt.Sprintf("built binary not found: %s", builtBinary)

		return meta, nil
	}

	outputBinary, err := BinaryPath(b.cfg.ArtifactsDir, revision)
	if err != nil {
		return nil, err
	}

	if err := copyExecutable(builtBinary, outputBinary); err != nil {
		return nil, err
	}

	meta.Status = StatusSuccess
	meta.ArtifactPath = outputBinary

	b.log.WithFields(logrus.Fields{
		"revision": revision,
		"artifact": outputBinary,
	}).Info("Built artifact")

	return meta, nil
}

func copyExecutable(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("creating artifact dir: %w", err)
	}

	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening built binary: %w", err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o755)
	if err != nil {
		return fmt.Errorf("creating artifact binary: %w", err)
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()

		return fmt.Errorf("copying artifact binary: %w", err)
	}

	if err := out.Close(); err != nil {
		return fmt.Errorf("closing artifact binary: %w", err)
	}

	return nil
}

func detectToolchain(ctx context.Context, checkout string) string {
	cmd := exec.CommandContext(ctx, "rustup", "show", "active-toolchain")
	cmd.Dir = checkout

	output, err := cmd.Output()
	if err != nil {
		return "unknown"
	}

	toolchain := strings.TrimSpace(string(output))
	if toolchain == "" {
		return "unknown"
	}

	return toolchain
}

func runGit(ctx context.Context, repo string, args ...string) error {
	fullArgs := append([]string{"-C", repo}, args...)
	cmd := exec.CommandContext(ctx, "git", fullArgs...)

	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("git %s: %s", strings.Join(args, " "), truncateErr(string(output)))
	}

	return nil
}

func sanitizeRevision(revision string) (string, error) {
	var sb strings.Builder

	for _, r := range revision {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			sb.WriteRune(r)
		} else {
			sb.WriteRune('_')
		}
	}

	safe := strings.Trim(sb.String(), "_")
	if safe == "" {
		return "", fmt.Errorf("revision must contain at least one alphanumeric character")
	}

	return safe, nil
}

func truncateErr(value string) string {
	trimmed := strings.TrimSpace(value)
	if len(trimmed) <= errTruncateLimit {
		return trimmed
	}

	return trimmed[len(trimmed)-errTruncateLimit:]
}
