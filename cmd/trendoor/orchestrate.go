package main

import (
	"fmt"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ethpandaops/trendoor/pkg/artifacts"
	"github.com/ethpandaops/trendoor/pkg/fsutil"
	"github.com/ethpandaops/trendoor/pkg/matrix"
	"github.com/ethpandaops/trendoor/pkg/revisions"
	"github.com/ethpandaops/trendoor/pkg/store"
	"github.com/ethpandaops/trendoor/pkg/trend"
)

var (
	orchestrateMarkdownPath string
	orchestrateHTMLPath     string
)

var orchestrateCmd = &cobra.Command{
	Use:   "orchestrate",
	Short: "Run the full pipeline: select, build, run, ingest, report",
	RunE:  runOrchestrate,
}

func init() {
	rootCmd.AddCommand(orchestrateCmd)
	orchestrateCmd.Flags().StringVar(&orchestrateMarkdownPath, "markdown", "trend-summary.md",
		"Output Markdown path")
	orchestrateCmd.Flags().StringVar(&orchestrateHTMLPath, "html", "trend-report.html",
		"Output HTML path")
}

func runOrchestrate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	// Select.
	selector, err := revisions.NewSelector(log, &cfg.Revisions)
	if err != nil {
		return err
	}

	manifest, err := selector.Select(ctx)
	if err != nil {
		return fmt.Errorf("selecting revisions: %w", err)
	}

	// Build.
	builder, err := artifacts.NewBuilder(log, &cfg.Artifacts)
	if err != nil {
		return err
	}

	arts := make([]matrix.Artifact, 0, len(manifest.Revisions))

	for _, entry := range manifest.Revisions {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		meta, err := builder.BuildRevision(ctx, entry.Commit, entry.CommitTimestamp)
		if err != nil {
			return fmt.Errorf("building %s: %w", entry.Commit, err)
		}

		if meta.Status != artifacts.StatusSuccess {
			log.WithFields(logrus.Fields{
				"revision": entry.Commit,
				"error":    meta.Error,
			}).Warn("Artifact build failed, skipping revision")

			continue
		}

		// Only canonical, non-symlinked artifact paths may reach the
		// scheduler.
		if !artifacts.IsTrustedArtifactPath(cfg.Artifacts.ArtifactsDir, entry.Commit, meta.ArtifactPath) {
			log.WithFields(logrus.Fields{
				"revision": entry.Commit,
				"path":     meta.ArtifactPath,
			}).Warn("Untrusted artifact path, skipping revision")

			continue
		}

		arts = append(arts, matrix.Artifact{
			Revision:        entry.Commit,
			CommitTimestamp: entry.CommitTimestamp,
			ArtifactPath:    meta.ArtifactPath,
		})
	}

	if len(arts) == 0 {
		return fmt.Errorf("no artifacts built successfully")
	}

	// Run.
	runnerCfg, err := cfg.Matrix.RunnerConfig()
	if err != nil {
		return err
	}

	runner := matrix.NewRunner(log, runnerCfg, nil)

	state, err := runner.Run(ctx, arts)
	if err != nil {
		return fmt.Errorf("running matrix: %w", err)
	}

	// Ingest every result file produced by successful cells.
	st := store.NewStore(log, cfg.Store.Dir)

	commitTimestamps := make(map[string]string, len(arts))
	for _, artifact := range arts {
		commitTimestamps[artifact.Revision] = artifact.CommitTimestamp
	}

	ingested := 0

	for _, cell := range state.Cells {
		if cell.Status != matrix.StatusSuccess {
			continue
		}

		label := matrix.ResultLabel(cfg.Matrix.LabelPrefix, cell.Revision, cell.Scale)
		resultPath := filepath.Join(cfg.Matrix.ResultsDir, label+".json")

		result, err := st.Ingest(resultPath, cell.Revision, commitTimestamps[cell.Revision])
		if err != nil {
			log.WithError(err).WithField("result", resultPath).Warn("Ingest failed")

			continue
		}

		if !result.Deduped {
			ingested++
		}
	}

	log.WithField("ingested", ingested).Info("Ingest pass complete")

	// Report.
	analyzer, err := trend.NewAnalyzer(log, &cfg.Trend, st)
	if err != nil {
		return err
	}

	report, err := analyzer.Generate()
	if err != nil {
		return fmt.Errorf("generating report: %w", err)
	}

	if err := fsutil.WriteFileAtomic(orchestrateMarkdownPath, []byte(report.Markdown), 0o644); err != nil {
		return fmt.Errorf("writing markdown report: %w", err)
	}

	if err := fsutil.WriteFileAtomic(orchestrateHTMLPath, []byte(report.HTML), 0o644); err != nil {
		return fmt.Errorf("writing html report: %w", err)
	}

	log.WithFields(logrus.Fields{
		"series":      report.TotalSeries,
		"regressions": report.Regressions,
	}).Info("Pipeline complete")

	return nil
}
