package main

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ethpandaops/trendoor/pkg/retention"
	"github.com/ethpandaops/trendoor/pkg/store"
)

var pruneApply bool

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Prune old store runs and artifact builds",
	Long: `Apply the configured retention policies to the store and the
artifacts tree. Without --apply only the removal candidates are reported.`,
	RunE: runPrune,
}

func init() {
	rootCmd.AddCommand(pruneCmd)
	pruneCmd.Flags().BoolVar(&pruneApply, "apply", false,
		"Actually remove candidates instead of reporting them")
}

func runPrune(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	st := store.NewStore(log, cfg.Store.Dir)
	pruner := retention.NewPruner(log, st)

	storeResult, err := pruner.PruneStore(&cfg.Retention.Store, pruneApply)
	if err != nil {
		return err
	}

	log.WithFields(logrus.Fields{
		"total_runs": storeResult.TotalRuns,
		"candidates": len(storeResult.CandidateRuns),
		"removed":    storeResult.RemovedRuns,
		"applied":    storeResult.Applied,
	}).Info("Store prune pass")

	artifactsResult, err := pruner.PruneArtifacts(
		cfg.Artifacts.ArtifactsDir, &cfg.Retention.Artifacts, pruneApply,
	)
	if err != nil {
		return err
	}

	log.WithFields(logrus.Fields{
		"total":      artifactsResult.Total,
		"candidates": len(artifactsResult.Candidates),
		"removed":    artifactsResult.Removed,
		"applied":    artifactsResult.Applied,
	}).Info("Artifacts prune pass")

	return nil
}
