package matrix

import (
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/load"
	"github.com/sirupsen/logrus"
)

// safeToken is the allowlist for suite, scale, and revision tokens. These
// values end up in file paths and subprocess arguments, so anything outside
// the allowlist is rejected before scheduling starts.
var safeToken = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// Artifact is a pre-built benchmark binary for one revision. Supplied by an
// external builder and read-only to the scheduler.
type Artifact struct {
	Revision        string `json:"revision"`
	CommitTimestamp string `json:"commitTimestamp"`
	ArtifactPath    string `json:"artifactPath"`
}

// Executor runs one benchmark cell attempt. A zero exit code means success;
// any error is recorded against the cell, never propagated as fatal.
type Executor func(
	ctx context.Context,
	artifact Artifact,
	suite, scale string,
	attempt int,
	timeout time.Duration,
) (exitCode int, message string, err error)

// LoadProvider reports the current one-minute load average per logical CPU.
// A nil value means load could not be measured and the guard is skipped.
type LoadProvider func() *float64

// Config holds the scheduler configuration for one Run invocation.
type Config struct {
	Suites            []string
	Scales            []string
	Timeout           time.Duration
	MaxRetries        int
	MaxParallel       int
	MaxLoadPerCPU     float64 // 0 disables the load guard
	LoadCheckInterval time.Duration
	StatePath         string
	ResultsDir        string
	FixturesDir       string
	Warmup            int
	Iterations        int
	LabelPrefix       string
}

// Runner schedules and executes benchmark cells with bounded parallelism,
// per-invocation retries, resumable state, and load-based admission control.
type Runner interface {
	// Run executes the artifacts x suites x scales matrix and returns the
	// final state. Per-cell failures are recorded in the state; only
	// configuration errors are returned.
	Run(ctx context.Context, artifacts []Artifact) (*State, error)
}

// Option customizes a Runner, mainly to inject deterministic providers in
// tests.
type Option func(*runner)

// WithLoadProvider overrides the system load-per-CPU provider.
func WithLoadProvider(p LoadProvider) Option {
	return func(r *runner) {
		r.loadPerCPU = p
	}
}

// WithSleep overrides the load-guard sleep function.
func WithSleep(sleep func(time.Duration)) Option {
	return func(r *runner) {
		r.sleep = sleep
	}
}

// WithClock overrides the wall clock used for cell timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *runner) {
		r.now = now
	}
}

// Compile-time interface check.
var _ Runner = (*runner)(nil)

type runner struct {
	log        logrus.FieldLogger
	cfg        *Config
	executor   Executor
	loadPerCPU LoadProvider
	sleep      func(time.Duration)
	now        func() time.Time

	// stateMu serializes cell completions: state mutation and persistence
	// happen under this mutex even though cells execute in parallel.
	stateMu sync.Mutex
}

// NewRunner creates a matrix runner. When executor is nil the default
// subprocess executor is used.
func NewRunner(log logrus.FieldLogger, cfg *Config, executor Executor, opts ...Option) Runner {
	r := &runner{
		log:        log.WithField("component", "matrix"),
		cfg:        cfg,
		executor:   executor,
		loadPerCPU: systemLoadPerCPU,
		sleep:      time.Sleep,
		now:        time.Now,
	}

	if r.executor == nil {
		r.executor = defaultExecutor(cfg)
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// validate checks the configuration and artifact tokens. All failures here
// are fatal and abort before any cell is dispatched.
func (r *runner) validate(artifacts []Artifact) error {
	if r.cfg.Timeout <= 0 {
		return fmt.Errorf("timeout must be > 0")
	}

	if r.cfg.MaxRetries < 0 {
		return fmt.Errorf("max retries must be >= 0")
	}

	if r.cfg.MaxParallel <= 0 {
		return fmt.Errorf("max parallel must be > 0")
	}

	if r.cfg.MaxLoadPerCPU < 0 {
		return fmt.Errorf("max load per CPU must be > 0 when configured")
	}

	if r.cfg.MaxLoadPerCPU > 0 && r.cfg.LoadCheckInterval <= 0 {
		return fmt.Errorf("load check interval must be > 0")
	}

	if r.cfg.Warmup < 0 {
		return fmt.Errorf("warmup must be >= 0")
	}

	if r.cfg.Iterations <= 0 {
		return fmt.Errorf("iterations must be > 0")
	}

	if err := validateTokens(r.cfg.Suites, "suite"); err != nil {
		return err
	}

	if err := validateTokens(r.cfg.Scales, "scale"); err != nil {
		return err
	}

	for _, artifact := range artifacts {
		if err := validateTokens([]string{artifact.Revision}, "revision"); err != nil {
			return err
		}

		if err := checkArtifactBinary(artifact.ArtifactPath); err != nil {
			return fmt.Errorf("artifact for %s: %w", artifact.Revision, err)
		}
	}

	return nil
}

// checkArtifactBinary rejects artifact paths that are missing, symlinks, or
// otherwise not regular files. The builder hands over plain binaries, so
// anything else means the path was swapped after the build and must not be
// executed.
func checkArtifactBinary(path string) error {
	info, err := os.Lstat(path)
	if err != nil {
		return fmt.Errorf("stat artifact: %w", err)
	}

	if info.Mode()&os.ModeSymlink != 0 {
		return fmt.Errorf("artifact path %s is a symlink", path)
	}

	if !info.Mode().IsRegular() {
		return fmt.Errorf("artifact path %s is not a regular file", path)
	}

	return nil
}

// pendingCell is one unit of work handed to the worker pool.
type pendingCell struct {
	key      string
	artifact Artifact
	suite    string
	scale    string
}

// Run executes the matrix. Cells already marked success in the loaded state
// are skipped; everything else is scheduled with a fresh attempt budget.
func (r *runner) Run(ctx context.Context, artifacts []Artifact) (*State, error) {
	if err := r.validate(artifacts); err != nil {
		return nil, err
	}

	state, err := LoadState(r.cfg.StatePath)
	if err != nil {
		return nil, err
	}

	var pending []pendingCell

	for _, artifact := range artifacts {
		for _, suite := range r.cfg.Suites {
			for _, scale := range r.cfg.Scales {
				key := CellKey(artifact.Revision, suite, scale)
				if existing, ok := state.Cells[key]; ok && existing.Status == StatusSuccess {
					continue
				}

				pending = append(pending, pendingCell{
					key:      key,
					artifact: artifact,
					suite:    suite,
					scale:    scale,
				})
			}
		}
	}

	if len(pending) == 0 {
		r.log.Info("No pending cells, matrix already complete")

		return state, nil
	}

	r.log.WithFields(logrus.Fields{
		"pending":      len(pending),
		"max_parallel": r.cfg.MaxParallel,
	}).Info("Starting matrix run")

	cells := make(chan pendingCell)

	var wg sync.WaitGroup

	for i := 0; i < r.cfg.MaxParallel; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			for cell := range cells {
				r.waitForLoad(ctx)

				status, attempts, reason := r.executeCell(ctx, cell)
				r.completeCell(state, cell, status, attempts, reason)
			}
		}()
	}

	for _, cell := range pending {
		cells <- cell
	}

	close(cells)
	wg.Wait()

	r.log.WithField("cells", len(state.Cells)).Info("Matrix run complete")

	return state, nil
}

// executeCell runs one cell through its retry loop. The retry budget is per
// invocation: attempts always start at 1 regardless of prior runs.
func (r *runner) executeCell(ctx context.Context, cell pendingCell) (status string, attempts int, reason string) {
	maxAttempts := r.cfg.MaxRetries + 1
	status = StatusFailure
	reason = "unknown failure"

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		exitCode, message, err := r.callExecutor(ctx, cell, attempt)

		attempts = attempt

		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				exitCode = 124
				message = fmt.Sprintf("timeout after %ds", int(r.cfg.Timeout.Seconds()))
			} else {
				exitCode = 1
				message = fmt.Sprintf("executor error: %v", err)
			}
		}

		if exitCode == 0 {
			return StatusSuccess, attempts, ""
		}

		if message == "" {
			message = fmt.Sprintf("exit code %d", exitCode)
		}

		reason = message

		r.log.WithFields(logrus.Fields{
			"cell":    cell.key,
			"attempt": attempt,
			"reason":  reason,
		}).Warn("Cell attempt failed")
	}

	return status, attempts, reason
}

// callExecutor invokes the executor with a per-attempt deadline, converting
// panics into recorded failures so a broken executor cannot abort the run.
func (r *runner) callExecutor(ctx context.Context, cell pendingCell, attempt int) (exitCode int, message string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			exitCode = 1
			message = ""
			err = fmt.Errorf("executor panic: %v", rec)
		}
	}()

	attemptCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	return r.executor(attemptCtx, cell.artifact, cell.suite, cell.scale, attempt, r.cfg.Timeout)
}

// completeCell records a cell outcome and persists the whole state document
// before the worker picks up its next cell.
func (r *runner) completeCell(state *State, cell pendingCell, status string, attempts int, reason string) {
	r.stateMu.Lock()
	defer r.stateMu.Unlock()

	state.Cells[cell.key] = &Cell{
		Revision:      cell.artifact.Revision,
		Suite:         cell.suite,
		Scale:         cell.scale,
		Status:        status,
		Attempts:      attempts,
		FailureReason: reason,
		UpdatedAt:     r.now().UTC().Format(time.RFC3339),
	}

	if err := SaveState(r.cfg.StatePath, state); err != nil {
		r.log.WithError(err).WithField("cell", cell.key).Error("Failed to persist matrix state")
	}
}

// waitForLoad blocks while the measured load per CPU exceeds the configured
// ceiling, polling at the configured interval. Cooperative backpressure
// against other tenants of a shared benchmark host.
func (r *runner) waitForLoad(ctx context.Context) {
	if r.cfg.MaxLoadPerCPU <= 0 {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		current := r.loadPerCPU()
		if current == nil || *current <= r.cfg.MaxLoadPerCPU {
			return
		}

		r.log.WithFields(logrus.Fields{
			"load_per_cpu": *current,
			"ceiling":      r.cfg.MaxLoadPerCPU,
		}).Debug("Load above ceiling, waiting before dispatch")

		r.sleep(r.cfg.LoadCheckInterval)
	}
}

// systemLoadPerCPU reads the one-minute load average and divides it by the
// logical CPU count.
func systemLoadPerCPU() *float64 {
	avg, err := load.Avg()
	if err != nil {
		return nil
	}

	cpus := runtime.NumCPU()
	if cpus <= 0 {
		return nil
	}

	perCPU := avg.Load1 / float64(cpus)

	return &perCPU
}

// validateTokens checks every value against the safe-character allowlist.
func validateTokens(values []string, field string) error {
	for _, value := range values {
		if !safeToken.MatchString(value) {
			return fmt.Errorf("%s %q contains invalid characters; allowed [A-Za-z0-9._-]", field, value)
		}
	}

	return nil
}
