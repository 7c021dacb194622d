package matrix

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// ResultLabel builds the per-cell result label embedded in result paths and
// passed to the benchmark binary.
func ResultLabel(labelPrefix, revision, scale string) string {
	return SanitizeLabel(labelPrefix + "-" + revision + "-" + scale)
}

// SanitizeLabel replaces characters outside the safe allowlist with
// underscores and guards against empty or path-traversal labels.
func SanitizeLabel(value string) string {
	var sb strings.Builder

	sb.Grow(len(value))

	for _, ch := range value {
		if safeToken.MatchString(string(ch)) {
			sb.WriteRune(ch)
		} else {
			sb.WriteByte('_')
		}
	}

	trimmed := strings.Trim(sb.String(), "_")
	if trimmed == "" || trimmed == "." || trimmed == ".." {
		return "longitudinal"
	}

	return trimmed
}

// defaultExecutor builds the subprocess executor that invokes the benchmark
// artifact binary directly. The per-attempt timeout is enforced through the
// context handed to exec.CommandContext.
func defaultExecutor(cfg *Config) Executor {
	return func(
		ctx context.Context,
		artifact Artifact,
		suite, scale string,
		_ int,
		_ time.Duration,
	) (int, string, error) {
		if _, err := os.Stat(artifact.ArtifactPath); err != nil {
			return 1, fmt.Sprintf("artifact binary not found: %s", artifact.ArtifactPath), nil
		}

		label := ResultLabel(cfg.LabelPrefix, artifact.Revision, scale)

		cmd := exec.CommandContext(ctx, artifact.ArtifactPath,
			"--fixtures-dir", cfg.FixturesDir,
			"--results-dir", cfg.ResultsDir,
			"--label", label,
			"--git-sha", artifact.Revision,
			"run",
			"--scale", scale,
			"--target", suite,
			"--warmup", strconv.Itoa(cfg.Warmup),
			"--iterations", strconv.Itoa(cfg.Iterations),
		)

		var stdout, stderr bytes.Buffer

		cmd.Stdout = &stdout
		cmd.Stderr = &stderr

		err := cmd.Run()
		if err == nil {
			return 0, "", nil
		}

		// Attempt deadline expiry surfaces as a timeout failure reason.
		if ctx.Err() == context.DeadlineExceeded {
			return 124, "", context.DeadlineExceeded
		}

		exitCode := 1
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		}

		message := strings.TrimSpace(stderr.String())
		if message == "" {
			message = strings.TrimSpace(stdout.String())
		}

		return exitCode, message, nil
	}
}
