package main

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ethpandaops/trendoor/pkg/artifacts"
	"github.com/ethpandaops/trendoor/pkg/revisions"
)

var buildManifestPath string

var buildArtifactsCmd = &cobra.Command{
	Use:   "build-artifacts",
	Short: "Build benchmark binaries for every revision in a manifest",
	RunE:  runBuildArtifacts,
}

func init() {
	rootCmd.AddCommand(buildArtifactsCmd)
	buildArtifactsCmd.Flags().StringVar(&buildManifestPath, "manifest", "revisions.json",
		"Revision manifest path")
}

func runBuildArtifacts(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	manifest, err := revisions.LoadManifest(buildManifestPath)
	if err != nil {
		return err
	}

	builder, err := artifacts.NewBuilder(log, &cfg.Artifacts)
	if err != nil {
		return err
	}

	failures := 0

	for _, entry := range manifest.Revisions {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		meta, err := builder.BuildRevision(ctx, entry.Commit, entry.CommitTimestamp)
		if err != nil {
			return fmt.Errorf("building %s: %w", entry.Commit, err)
		}

		if meta.Status != artifacts.StatusSuccess {
			failures++

			log.WithFields(logrus.Fields{
				"revision": entry.Commit,
				"error":    meta.Error,
			}).Warn("Artifact build failed")
		}
	}

	log.WithFields(logrus.Fields{
		"total":    len(manifest.Revisions),
		"failures": failures,
	}).Info("Artifact builds complete")

	return nil
}
