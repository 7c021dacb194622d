package trend

import (
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/trendoor/pkg/store"
)

// Significance methods accepted by the analyzer.
const (
	SignificanceNone        = "none"
	SignificanceMannWhitney = "mann-whitney"
)

// Series statuses.
const (
	StatusInsufficientBaseline     = "insufficient-baseline"
	StatusStable                   = "stable"
	StatusImprovement              = "improvement"
	StatusRegression               = "regression"
	StatusRegressionSignificant    = "regression-significant"
	StatusRegressionNotSignificant = "regression-not-significant"
)

// Config controls report generation.
type Config struct {
	// BaselineWindow is the number of points preceding the latest point
	// that form the comparison baseline.
	BaselineWindow int `yaml:"baseline_window"`
	// RegressionThreshold is the relative delta beyond which the latest
	// point counts as a regression (0.05 means 5%).
	RegressionThreshold float64 `yaml:"regression_threshold"`
	// SignificanceMethod is "none" or "mann-whitney".
	SignificanceMethod string `yaml:"significance_method"`
	// SignificanceAlpha is the one-sided p-value cutoff.
	SignificanceAlpha float64 `yaml:"significance_alpha"`
}

// Validate checks the analyzer configuration.
func (c *Config) Validate() error {
	if c.BaselineWindow <= 0 {
		return fmt.Errorf("baseline_window must be > 0, got %d", c.BaselineWindow)
	}

	if c.RegressionThreshold < 0 {
		return fmt.Errorf("regression_threshold must be >= 0, got %g", c.RegressionThreshold)
	}

	if c.SignificanceMethod != SignificanceNone && c.SignificanceMethod != SignificanceMannWhitney {
		return fmt.Errorf("significance_method must be one of: none, mann-whitney, got %q", c.SignificanceMethod)
	}

	if c.SignificanceAlpha <= 0 || c.SignificanceAlpha > 1 {
		return fmt.Errorf("significance_alpha must be in (0, 1], got %g", c.SignificanceAlpha)
	}

	return nil
}

// Series is the per-(suite, scale, case) trend verdict.
type Series struct {
	Suite          string    `json:"suite"`
	Scale          string    `json:"scale"`
	Case           string    `json:"case"`
	Points         []float64 `json:"points"`
	Latest         float64   `json:"latest"`
	BaselineMedian *float64  `json:"baselineMedian"`
	ChangePct      *float64  `json:"changePct"`
	Status         string    `json:"status"`
	PValue         *float64  `json:"pValue,omitempty"`
	Significant    *bool     `json:"significant,omitempty"`
}

// Report is the result of one analyzer pass over the store.
type Report struct {
	Markdown               string   `json:"-"`
	HTML                   string   `json:"-"`
	Series                 []Series `json:"series"`
	TotalSeries            int      `json:"totalSeries"`
	Regressions            int      `json:"regressions"`
	SignificantRegressions int      `json:"significantRegressions"`
	InvalidRows            int      `json:"invalidRows"`
}

// Analyzer turns the store's historical rows into regression reports.
type Analyzer interface {
	Generate() (*Report, error)
}

type analyzer struct {
	log logrus.FieldLogger
	cfg *Config
	st  store.Store
}

var _ Analyzer = (*analyzer)(nil)

// NewAnalyzer creates a trend analyzer reading from st.
func NewAnalyzer(log logrus.FieldLogger, cfg *Config, st store.Store) (Analyzer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &analyzer{
		log: log.WithField("component", "trend"),
		cfg: cfg,
		st:  st,
	}, nil
}

func (a *analyzer) Generate() (*Report, error) {
	rows, invalid, err := a.st.ReadRows()
	if err != nil {
		return nil, fmt.Errorf("reading store rows: %w", err)
	}

	report := &Report{InvalidRows: invalid}

	if len(rows) == 0 {
		report.Markdown = emptyMarkdown()
		report.HTML = emptyHTML()

		a.log.Info("No rows found, emitting empty report")

		return report, nil
	}

	grouped := groupSeries(rows)

	keys := make([]seriesKey, 0, len(grouped))
	for key := range grouped {
		keys = append(keys, key)
	}

	sort.Slice(keys, func(i, j int) bool {
		if keys[i].suite != keys[j].suite {
			return keys[i].suite < keys[j].suite
		}

		if keys[i].scale != keys[j].scale {
			return keys[i].scale < keys[j].scale
		}

		return keys[i].kase < keys[j].kase
	})

	var regressions []Series

	for _, key := range keys {
		series := a.analyzeSeries(key, grouped[key])
		report.Series = append(report.Series, series)

		if isRegressionStatus(series.Status) {
			regressions = append(regressions, series)
			if a.cfg.SignificanceMethod == SignificanceNone || (series.Significant != nil && *series.Significant) {
				report.SignificantRegressions++
			}
		}
	}

	report.TotalSeries = len(report.Series)
	report.Regressions = len(regressions)
	report.Markdown = renderMarkdown(report.Series, regressions, a.cfg.SignificanceMethod, invalid)
	report.HTML = renderHTML(report.Series, regressions, report.SignificantRegressions, a.cfg, invalid)

	a.log.WithFields(logrus.Fields{
		"series":      report.TotalSeries,
		"regressions": report.Regressions,
	}).Info("Generated trend report")

	return report, nil
}

type seriesKey struct {
	suite string
	scale string
	kase  string
}

// groupSeries selects successful rows carrying a median and buckets them by
// (suite, scale, case), ordered by benchmark creation time with ingestion
// time as the fallback.
func groupSeries(rows []store.Row) map[seriesKey][]store.Row {
	grouped := map[seriesKey][]store.Row{}

	for _, row := range rows {
		if !row.Success || row.MedianMs == nil {
			continue
		}

		key := seriesKey{
			suite: orUnknown(row.Suite),
			scale: orUnknown(row.Scale),
			kase:  orUnknown(row.Case),
		}
		grouped[key] = append(grouped[key], row)
	}

	for key := range grouped {
		series := grouped[key]
		sort.SliceStable(series, func(i, j int) bool {
			return orderKey(series[i]) < orderKey(series[j])
		})
	}

	return grouped
}

func orderKey(row store.Row) string {
	if row.BenchmarkCreatedAt != "" {
		return row.BenchmarkCreatedAt
	}

	return row.IngestedAt
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}

	return s
}

func (a *analyzer) analyzeSeries(key seriesKey, ordered []store.Row) Series {
	medians := make([]float64, len(ordered))
	for i, row := range ordered {
		medians[i] = *row.MedianMs
	}

	series := Series{
		Suite:  key.suite,
		Scale:  key.scale,
		Case:   key.kase,
		Points: medians,
		Latest: medians[len(medians)-1],
		Status: StatusInsufficientBaseline,
	}

	baselineStart := len(ordered) - 1 - a.cfg.BaselineWindow
	if baselineStart < 0 {
		baselineStart = 0
	}

	baselineRows := ordered[baselineStart : len(ordered)-1]

	if a.cfg.SignificanceMethod == SignificanceMannWhitney {
		latestSamples := extractSamples(ordered[len(ordered)-1])

		var baselineSamples []float64
		for _, row := range baselineRows {
			baselineSamples = append(baselineSamples, extractSamples(row)...)
		}

		if p, ok := MannWhitneyOneSidedP(baselineSamples, latestSamples); ok {
			significant := p <= a.cfg.SignificanceAlpha
			series.PValue = &p
			series.Significant = &significant
		}
	}

	if len(baselineRows) == 0 {
		return series
	}

	baselineValues := make([]float64, len(baselineRows))
	for i, row := range baselineRows {
		baselineValues[i] = *row.MedianMs
	}

	baselineMedian := store.Median(baselineValues)
	series.BaselineMedian = &baselineMedian

	switch {
	case baselineMedian > 0:
		changePct := (series.Latest - baselineMedian) / baselineMedian * 100
		series.ChangePct = &changePct

		switch {
		case series.Latest > baselineMedian*(1+a.cfg.RegressionThreshold):
			series.Status = a.regressionStatus(series.Significant)
		case series.Latest < baselineMedian*(1-a.cfg.RegressionThreshold):
			series.Status = StatusImprovement
		default:
			series.Status = StatusStable
		}
	case series.Latest > 0:
		// Zero baseline with a positive latest is always a regression,
		// sidestepping the division entirely.
		series.Status = a.regressionStatus(series.Significant)
	default:
		zero := 0.0
		series.ChangePct = &zero
		series.Status = StatusStable
	}

	return series
}

func (a *analyzer) regressionStatus(significant *bool) string {
	if a.cfg.SignificanceMethod == SignificanceNone {
		return StatusRegression
	}

	if significant != nil && *significant {
		return StatusRegressionSignificant
	}

	return StatusRegressionNotSignificant
}

func isRegressionStatus(status string) bool {
	switch status {
	case StatusRegression, StatusRegressionSignificant, StatusRegressionNotSignificant:
		return true
	default:
		return false
	}
}

// extractSamples returns the row's raw timing samples, falling back to the
// single median when no samples were recorded.
func extractSamples(row store.Row) []float64 {
	if len(row.SampleValuesMs) > 0 {
		return row.SampleValuesMs
	}

	if row.MedianMs != nil {
		return []float64{*row.MedianMs}
	}

	return nil
}
