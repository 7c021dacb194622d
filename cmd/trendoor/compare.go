package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ethpandaops/trendoor/pkg/compare"
)

var (
	compareNoiseThreshold float64
	compareFormat         string
)

var compareCmd = &cobra.Command{
	Use:   "compare <baseline> <candidate>",
	Short: "Compare two raw benchmark result files",
	Args:  cobra.ExactArgs(2),
	RunE:  runCompare,
}

func init() {
	rootCmd.AddCommand(compareCmd)
	compareCmd.Flags().Float64Var(&compareNoiseThreshold, "noise-threshold", 0.05,
		"Relative delta treated as noise")
	compareCmd.Flags().StringVar(&compareFormat, "format", "text",
		"Output format (text, markdown)")
}

func runCompare(cmd *cobra.Command, args []string) error {
	baseline, err := compare.LoadPayload(args[0])
	if err != nil {
		return err
	}

	candidate, err := compare.LoadPayload(args[1])
	if err != nil {
		return err
	}

	comparison := compare.CompareRuns(baseline, candidate, compareNoiseThreshold)

	switch compareFormat {
	case "text":
		fmt.Println(compare.RenderText(comparison))
	case "markdown":
		fmt.Println(compare.RenderMarkdown(comparison))
	default:
		return fmt.Errorf("unknown format %q (expected text or markdown)", compareFormat)
	}

	return nil
}
