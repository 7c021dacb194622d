package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ethpandaops/trendoor/pkg/revisions"
)

var manifestPath string

var selectRevisionsCmd = &cobra.Command{
	Use:   "select-revisions",
	Short: "Select revisions to benchmark and write a manifest",
	RunE:  runSelectRevisions,
}

func init() {
	rootCmd.AddCommand(selectRevisionsCmd)
	selectRevisionsCmd.Flags().StringVar(&manifestPath, "manifest", "revisions.json",
		"Output manifest path")
}

func runSelectRevisions(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	selector, err := revisions.NewSelector(log, &cfg.Revisions)
	if err != nil {
		return err
	}

	manifest, err := selector.Select(ctx)
	if err != nil {
		return fmt.Errorf("selecting revisions: %w", err)
	}

	if err := revisions.WriteManifest(manifestPath, manifest); err != nil {
		return fmt.Errorf("writing manifest: %w", err)
	}

	log.WithField("manifest", manifestPath).Info("Wrote revision manifest")

	return nil
}
