package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ethpandaops/trendoor/pkg/api"
	"github.com/ethpandaops/trendoor/pkg/store"
	"github.com/ethpandaops/trendoor/pkg/trend"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve analyzed trend data over HTTP",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	if cfg.Server.DatabasePath == "" {
		return fmt.Errorf("server database_path is required")
	}

	ctx, cancel := signalContext()
	defer cancel()

	st := store.NewStore(log, cfg.Store.Dir)

	analyzer, err := trend.NewAnalyzer(log, &cfg.Trend, st)
	if err != nil {
		return err
	}

	srv := api.NewServer(log, &cfg.Server, analyzer)
	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("starting server: %w", err)
	}

	<-ctx.Done()

	return srv.Stop()
}
