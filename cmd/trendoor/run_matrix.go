package main

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ethpandaops/trendoor/pkg/artifacts"
	"github.com/ethpandaops/trendoor/pkg/matrix"
	"github.com/ethpandaops/trendoor/pkg/revisions"
)

var runManifestPath string

var runMatrixCmd = &cobra.Command{
	Use:   "run-matrix",
	Short: "Execute the benchmark matrix across built artifacts",
	Long: `Run every pending (revision, suite, scale) cell against the built
artifacts with bounded parallelism. Completed cells are recorded in the
state file, so an interrupted run resumes where it left off.`,
	RunE: runMatrix,
}

func init() {
	rootCmd.AddCommand(runMatrixCmd)
	runMatrixCmd.Flags().StringVar(&runManifestPath, "manifest", "revisions.json",
		"Revision manifest path")
}

func runMatrix(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	manifest, err := revisions.LoadManifest(runManifestPath)
	if err != nil {
		return err
	}

	// Only revisions with a trusted successful build enter the matrix.
	arts := make([]matrix.Artifact, 0, len(manifest.Revisions))

	for _, entry := range manifest.Revisions {
		if !artifacts.ShouldSkipBuild(cfg.Artifacts.ArtifactsDir, entry.Commit) {
			log.WithField("revision", entry.Commit).Warn("No trusted artifact, skipping revision")

			continue
		}

		binaryPath, err := artifacts.BinaryPath(cfg.Artifacts.ArtifactsDir, entry.Commit)
		if err != nil {
			return err
		}

		arts = append(arts, matrix.Artifact{
			Revision:        entry.Commit,
			CommitTimestamp: entry.CommitTimestamp,
			ArtifactPath:    binaryPath,
		})
	}

	if len(arts) == 0 {
		return fmt.Errorf("no runnable artifacts found under %s", cfg.Artifacts.ArtifactsDir)
	}

	runnerCfg, err := cfg.Matrix.RunnerConfig()
	if err != nil {
		return err
	}

	runner := matrix.NewRunner(log, runnerCfg, nil)

	state, err := runner.Run(ctx, arts)
	if err != nil {
		return fmt.Errorf("running matrix: %w", err)
	}

	success, failure := 0, 0

	for _, cell := range state.Cells {
		switch cell.Status {
		case matrix.StatusSuccess:
			success++
		case matrix.StatusFailure:
			failure++
		}
	}

	log.WithFields(logrus.Fields{
		"success": success,
		"failure": failure,
		"total":   len(state.Cells),
	}).Info("Matrix run complete")

	return nil
}
