package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ethpandaops/trendoor/pkg/artifacts"
	"github.com/ethpandaops/trendoor/pkg/matrix"
	"github.com/ethpandaops/trendoor/pkg/retention"
	"github.com/ethpandaops/trendoor/pkg/revisions"
	"github.com/ethpandaops/trendoor/pkg/trend"
)

const (
	// DefaultLogLevel is the default logging level.
	DefaultLogLevel = "info"

	// DefaultStoreDir is the default longitudinal store directory.
	DefaultStoreDir = "./store"

	// DefaultResultsDir is the default directory for raw benchmark results.
	DefaultResultsDir = "./results"

	// DefaultArtifactsDir is the default directory for built artifacts.
	DefaultArtifactsDir = "./artifacts"

	// DefaultStatePath is the default matrix state file.
	DefaultStatePath = "./matrix-state.json"

	// DefaultMatrixTimeout is the default per-attempt benchmark timeout.
	DefaultMatrixTimeout = "1h"

	// DefaultMaxRetries is the default per-cell retry budget.
	DefaultMaxRetries = 2

	// DefaultLoadCheckInterval is the default load guard poll interval.
	DefaultLoadCheckInterval = "5s"

	// DefaultWarmup is the default warmup iteration count per case.
	DefaultWarmup = 1

	// DefaultIterations is the default measured iteration count per case.
	DefaultIterations = 5

	// DefaultLabelPrefix is the default result label prefix.
	DefaultLabelPrefix = "longitudinal"

	// DefaultBaselineWindow is the default trend baseline window.
	DefaultBaselineWindow = 7

	// DefaultRegressionThreshold is the default relative regression
	// threshold.
	DefaultRegressionThreshold = 0.05

	// DefaultSignificanceAlpha is the default one-sided p-value cutoff.
	DefaultSignificanceAlpha = 0.05
)

// Config is the root configuration for trendoor.
type Config struct {
	Global    GlobalConfig     `yaml:"global"`
	Store     StoreConfig      `yaml:"store"`
	Matrix    MatrixConfig     `yaml:"matrix"`
	Trend     trend.Config     `yaml:"trend"`
	Artifacts artifacts.Config `yaml:"artifacts"`
	Revisions revisions.Config `yaml:"revisions"`
	Retention RetentionConfig  `yaml:"retention"`
	Server    ServerConfig     `yaml:"server"`
}

// MatrixConfig is the YAML-facing matrix scheduler configuration. Durations
// are Go duration strings ("90s", "5m") parsed when the runner config is
// built. MaxRetries and Warmup are pointers so an explicit zero in the file
// is distinguishable from an unset field.
type MatrixConfig struct {
	Suites            []string `yaml:"suites"`
	Scales            []string `yaml:"scales"`
	Timeout           string   `yaml:"timeout,omitempty"`
	MaxRetries        *int     `yaml:"max_retries,omitempty"`
	MaxParallel       int      `yaml:"max_parallel,omitempty"`
	MaxLoadPerCPU     float64  `yaml:"max_load_per_cpu,omitempty"`
	LoadCheckInterval string   `yaml:"load_check_interval,omitempty"`
	StatePath         string   `yaml:"state_path,omitempty"`
	ResultsDir        string   `yaml:"results_dir,omitempty"`
	FixturesDir       string   `yaml:"fixtures_dir,omitempty"`
	Warmup            *int     `yaml:"warmup,omitempty"`
	Iterations        int      `yaml:"iterations,omitempty"`
	LabelPrefix       string   `yaml:"label_prefix,omitempty"`
}

// RunnerConfig converts the YAML configuration into the scheduler's runtime
// configuration.
func (m *MatrixConfig) RunnerConfig() (*matrix.Config, error) {
	timeout, err := parseDuration(m.Timeout, "matrix.timeout")
	if err != nil {
		return nil, err
	}

	loadInterval, err := parseDuration(m.LoadCheckInterval, "matrix.load_check_interval")
	if err != nil {
		return nil, err
	}

	maxRetries := DefaultMaxRetries
	if m.MaxRetries != nil {
		maxRetries = *m.MaxRetries
	}

	warmup := DefaultWarmup
	if m.Warmup != nil {
		warmup = *m.Warmup
	}

	return &matrix.Config{
		Suites:            m.Suites,
		Scales:            m.Scales,
		Timeout:           timeout,
		MaxRetries:        maxRetries,
		MaxParallel:       m.MaxParallel,
		MaxLoadPerCPU:     m.MaxLoadPerCPU,
		LoadCheckInterval: loadInterval,
		StatePath:         m.StatePath,
		ResultsDir:        m.ResultsDir,
		FixturesDir:       m.FixturesDir,
		Warmup:            warmup,
		Iterations:        m.Iterations,
		LabelPrefix:       m.LabelPrefix,
	}, nil
}

func parseDuration(value, field string) (time.Duration, error) {
	if value == "" {
		return 0, nil
	}

	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", field, err)
	}

	return d, nil
}

// GlobalConfig contains global application settings.
type GlobalConfig struct {
	LogLevel string `yaml:"log_level"`
}

// StoreConfig contains longitudinal store settings.
type StoreConfig struct {
	Dir string `yaml:"dir"`
}

// RetentionConfig contains the store and artifacts retention policies.
type RetentionConfig struct {
	Store     retention.Policy `yaml:"store"`
	Artifacts retention.Policy `yaml:"artifacts"`
}

// ServerConfig contains the report API server settings.
type ServerConfig struct {
	Listen            string   `yaml:"listen"`
	CORSOrigins       []string `yaml:"cors_origins,omitempty"`
	DatabasePath      string   `yaml:"database_path"`
	RefreshInterval   string   `yaml:"refresh_interval,omitempty"`
	RequestsPerMinute int      `yaml:"requests_per_minute,omitempty"`
}

// RefreshIntervalDuration parses the configured refresh interval.
func (s *ServerConfig) RefreshIntervalDuration() (time.Duration, error) {
	if s.RefreshInterval == "" {
		return time.Minute, nil
	}

	d, err := time.ParseDuration(s.RefreshInterval)
	if err != nil {
		return 0, fmt.Errorf("invalid refresh_interval: %w", err)
	}

	return d, nil
}

// Load reads and parses a configuration file from the given path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()

	return &cfg, nil
}

// applyDefaults sets default values for unspecified configuration options.
func (c *Config) applyDefaults() {
	if c.Global.LogLevel == "" {
		c.Global.LogLevel = DefaultLogLevel
	}

	if c.Store.Dir == "" {
		c.Store.Dir = DefaultStoreDir
	}

	if c.Matrix.ResultsDir == "" {
		c.Matrix.ResultsDir = DefaultResultsDir
	}

	if c.Matrix.StatePath == "" {
		c.Matrix.StatePath = DefaultStatePath
	}

	if c.Matrix.Timeout == "" {
		c.Matrix.Timeout = DefaultMatrixTimeout
	}

	if c.Matrix.MaxRetries == nil {
		retries := DefaultMaxRetries
		c.Matrix.MaxRetries = &retries
	}

	if c.Matrix.MaxParallel == 0 {
		c.Matrix.MaxParallel = 1
	}

	if c.Matrix.LoadCheckInterval == "" {
		c.Matrix.LoadCheckInterval = DefaultLoadCheckInterval
	}

	if c.Matrix.Warmup == nil {
		warmup := DefaultWarmup
		c.Matrix.Warmup = &warmup
	}

	if c.Matrix.Iterations == 0 {
		c.Matrix.Iterations = DefaultIterations
	}

	if c.Matrix.LabelPrefix == "" {
		c.Matrix.LabelPrefix = DefaultLabelPrefix
	}

	if c.Artifacts.ArtifactsDir == "" {
		c.Artifacts.ArtifactsDir = DefaultArtifactsDir
	}

	if c.Trend.BaselineWindow == 0 {
		c.Trend.BaselineWindow = DefaultBaselineWindow
	}

	if c.Trend.RegressionThreshold == 0 {
		c.Trend.RegressionThreshold = DefaultRegressionThreshold
	}

	if c.Trend.SignificanceMethod == "" {
		c.Trend.SignificanceMethod = trend.SignificanceNone
	}

	if c.Trend.SignificanceAlpha == 0 {
		c.Trend.SignificanceAlpha = DefaultSignificanceAlpha
	}

	if c.Server.Listen == "" {
		c.Server.Listen = ":8080"
	}

	if c.Server.RequestsPerMinute == 0 {
		c.Server.RequestsPerMinute = 120
	}
}

// Validate checks the trend configuration shared by reporting commands.
// Component configurations are validated by their own constructors so a
// command only pays for the sections it uses.
func (c *Config) Validate() error {
	if c.Store.Dir == "" {
		return fmt.Errorf("store dir is required")
	}

	if err := c.Trend.Validate(); err != nil {
		return fmt.Errorf("trend: %w", err)
	}

	if _, err := c.Matrix.RunnerConfig(); err != nil {
		return err
	}

	if _, err := c.Server.RefreshIntervalDuration(); err != nil {
		return err
	}

	return nil
}
