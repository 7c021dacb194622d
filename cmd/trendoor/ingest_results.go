package main

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ethpandaops/trendoor/pkg/store"
)

var (
	ingestRevision        string
	ingestCommitTimestamp string
)

var ingestResultsCmd = &cobra.Command{
	Use:   "ingest-results <result-file>...",
	Short: "Ingest raw benchmark result files into the store",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runIngestResults,
}

func init() {
	rootCmd.AddCommand(ingestResultsCmd)
	ingestResultsCmd.Flags().StringVar(&ingestRevision, "revision", "",
		"Revision the results were produced from")
	ingestResultsCmd.Flags().StringVar(&ingestCommitTimestamp, "commit-timestamp", "",
		"Commit timestamp of the revision")

	_ = ingestResultsCmd.MarkFlagRequired("revision")
}

func runIngestResults(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	st := store.NewStore(log, cfg.Store.Dir)

	appended, deduped := 0, 0

	for _, path := range args {
		result, err := st.Ingest(path, ingestRevision, ingestCommitTimestamp)
		if err != nil {
			return fmt.Errorf("ingesting %s: %w", path, err)
		}

		if result.Deduped {
			deduped++
		} else {
			appended += result.RowsAppended
		}
	}

	log.WithFields(logrus.Fields{
		"files":         len(args),
		"rows_appended": appended,
		"deduped":       deduped,
	}).Info("Ingest complete")

	return nil
}
