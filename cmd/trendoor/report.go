package main

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ethpandaops/trendoor/pkg/fsutil"
	"github.com/ethpandaops/trendoor/pkg/store"
	"github.com/ethpandaops/trendoor/pkg/trend"
)

var (
	reportMarkdownPath string
	reportHTMLPath     string
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Generate Markdown and HTML trend reports from the store",
	RunE:  runReport,
}

func init() {
	rootCmd.AddCommand(reportCmd)
	reportCmd.Flags().StringVar(&reportMarkdownPath, "markdown", "trend-summary.md",
		"Output Markdown path")
	reportCmd.Flags().StringVar(&reportHTMLPath, "html", "trend-report.html",
		"Output HTML path")
}

func runReport(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	st := store.NewStore(log, cfg.Store.Dir)

	analyzer, err := trend.NewAnalyzer(log, &cfg.Trend, st)
	if err != nil {
		return err
	}

	report, err := analyzer.Generate()
	if err != nil {
		return fmt.Errorf("generating report: %w", err)
	}

	if err := fsutil.WriteFileAtomic(reportMarkdownPath, []byte(report.Markdown), 0o644); err != nil {
		return fmt.Errorf("writing markdown report: %w", err)
	}

	if err := fsutil.WriteFileAtomic(reportHTMLPath, []byte(report.HTML), 0o644); err != nil {
		return fmt.Errorf("writing html report: %w", err)
	}

	log.WithFields(logrus.Fields{
		"series":      report.TotalSeries,
		"regressions": report.Regressions,
		"markdown":    reportMarkdownPath,
		"html":        reportHTMLPath,
	}).Info("Wrote trend reports")

	return nil
}
