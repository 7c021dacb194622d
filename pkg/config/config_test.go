package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethpandaops/trendoor/pkg/trend"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "global:\n  log_level: debug\n"))
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Global.LogLevel)
	assert.Equal(t, DefaultStoreDir, cfg.Store.Dir)
	assert.Equal(t, DefaultResultsDir, cfg.Matrix.ResultsDir)
	assert.Equal(t, DefaultStatePath, cfg.Matrix.StatePath)
	assert.Equal(t, DefaultMatrixTimeout, cfg.Matrix.Timeout)
	require.NotNil(t, cfg.Matrix.MaxRetries)
	assert.Equal(t, DefaultMaxRetries, *cfg.Matrix.MaxRetries)
	assert.Equal(t, 1, cfg.Matrix.MaxParallel)
	require.NotNil(t, cfg.Matrix.Warmup)
	assert.Equal(t, DefaultWarmup, *cfg.Matrix.Warmup)
	assert.Equal(t, DefaultIterations, cfg.Matrix.Iterations)
	assert.Equal(t, DefaultLabelPrefix, cfg.Matrix.LabelPrefix)
	assert.Equal(t, DefaultArtifactsDir, cfg.Artifacts.ArtifactsDir)
	assert.Equal(t, DefaultBaselineWindow, cfg.Trend.BaselineWindow)
	assert.Equal(t, DefaultRegressionThreshold, cfg.Trend.RegressionThreshold)
	assert.Equal(t, trend.SignificanceNone, cfg.Trend.SignificanceMethod)
	assert.Equal(t, DefaultSignificanceAlpha, cfg.Trend.SignificanceAlpha)
	assert.Equal(t, ":8080", cfg.Server.Listen)
	assert.Equal(t, 120, cfg.Server.RequestsPerMinute)
}

func TestLoadFullConfig(t *testing.T) {
	content := `
global:
  log_level: warn
store:
  dir: /data/store
matrix:
  suites: [scan, rewrite]
  scales: [small, large]
  timeout: 30m
  max_retries: 1
  max_parallel: 4
  max_load_per_cpu: 1.5
  load_check_interval: 10s
  state_path: /data/state.json
  results_dir: /data/results
  fixtures_dir: /data/fixtures
  warmup: 2
  iterations: 7
  label_prefix: nightly
trend:
  baseline_window: 10
  regression_threshold: 0.1
  significance_method: mann-whitney
  significance_alpha: 0.01
artifacts:
  artifacts_dir: /data/artifacts
  repository: /src/delta
revisions:
  repository: /src/delta
  strategy: one-per-day
  start_date: "2026-01-01"
  end_date: "2026-02-01"
retention:
  store:
    max_age_days: 90
    max_count: 500
  artifacts:
    max_count: 20
server:
  listen: ":9090"
  database_path: /data/series.db
  refresh_interval: 5m
  requests_per_minute: 60
`

	cfg, err := Load(writeConfig(t, content))
	require.NoError(t, err)

	assert.Equal(t, []string{"scan", "rewrite"}, cfg.Matrix.Suites)
	assert.Equal(t, "30m", cfg.Matrix.Timeout)
	assert.Equal(t, 1.5, cfg.Matrix.MaxLoadPerCPU)
	assert.Equal(t, "nightly", cfg.Matrix.LabelPrefix)
	assert.Equal(t, 10, cfg.Trend.BaselineWindow)
	assert.Equal(t, "mann-whitney", cfg.Trend.SignificanceMethod)
	assert.Equal(t, "/src/delta", cfg.Artifacts.Repository)
	assert.Equal(t, "one-per-day", cfg.Revisions.Strategy)
	assert.Equal(t, 90, cfg.Retention.Store.MaxAgeDays)
	assert.Equal(t, 20, cfg.Retention.Artifacts.MaxCount)
	assert.Equal(t, ":9090", cfg.Server.Listen)
	assert.Equal(t, 60, cfg.Server.RequestsPerMinute)

	require.NoError(t, cfg.Validate())

	runnerCfg, err := cfg.Matrix.RunnerConfig()
	require.NoError(t, err)
	assert.Equal(t, 30*time.Minute, runnerCfg.Timeout)
	assert.Equal(t, 10*time.Second, runnerCfg.LoadCheckInterval)
	assert.Equal(t, 4, runnerCfg.MaxParallel)
	assert.Equal(t, 1, runnerCfg.MaxRetries)
	assert.Equal(t, 2, runnerCfg.Warmup)
}

func TestLoadKeepsExplicitZeroRetriesAndWarmup(t *testing.T) {
	content := `
matrix:
  suites: [scan]
  scales: [small]
  max_retries: 0
  warmup: 0
`

	cfg, err := Load(writeConfig(t, content))
	require.NoError(t, err)

	require.NotNil(t, cfg.Matrix.MaxRetries)
	assert.Equal(t, 0, *cfg.Matrix.MaxRetries)
	require.NotNil(t, cfg.Matrix.Warmup)
	assert.Equal(t, 0, *cfg.Matrix.Warmup)

	runnerCfg, err := cfg.Matrix.RunnerConfig()
	require.NoError(t, err)
	assert.Equal(t, 0, runnerCfg.MaxRetries)
	assert.Equal(t, 0, runnerCfg.Warmup)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	_, err = Load(writeConfig(t, "global: [not a map"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing config file")
}

func TestValidateRejectsBadDurations(t *testing.T) {
	cfg, err := Load(writeConfig(t, "matrix:\n  timeout: soon\n"))
	require.NoError(t, err)

	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "matrix.timeout")
}

func TestValidateRejectsBadTrendConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, "trend:\n  significance_method: t-test\n"))
	require.NoError(t, err)

	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "significance_method")
}

func TestRefreshIntervalDuration(t *testing.T) {
	s := &ServerConfig{}

	d, err := s.RefreshIntervalDuration()
	require.NoError(t, err)
	assert.Equal(t, time.Minute, d)

	s.RefreshInterval = "90s"
	d, err = s.RefreshIntervalDuration()
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, d)

	s.RefreshInterval = "often"
	_, err = s.RefreshIntervalDuration()
	require.Error(t, err)
}
