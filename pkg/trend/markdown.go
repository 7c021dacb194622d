package trend

import (
	"fmt"
	"strings"
)

func emptyMarkdown() string {
	return "# Longitudinal Benchmark Summary\n\nNo longitudinal rows found.\n"
}

// renderMarkdown produces the deterministic summary document: totals plus a
// regression highlight table, with p-values when significance is enabled.
func renderMarkdown(series, regressions []Series, significanceMethod string, invalidRows int) string {
	var sb strings.Builder

	sb.WriteString("# Longitudinal Benchmark Summary\n\n")
	sb.WriteString(fmt.Sprintf("- Total series: %d\n", len(series)))
	sb.WriteString(fmt.Sprintf("- Regressions: %d\n", len(regressions)))

	if invalidRows > 0 {
		sb.WriteString(fmt.Sprintf("- Invalid rows skipped: %d\n", invalidRows))
	}

	sb.WriteString("\n## Regression Highlights\n")

	if len(regressions) == 0 {
		sb.WriteString("\nNo regressions detected in the latest window.\n")

		return sb.String()
	}

	sb.WriteString("\n")

	withSignificance := significanceMethod != SignificanceNone

	if withSignificance {
		sb.WriteString("| suite | scale | case | baseline median (ms) | latest (ms) | delta | p-value | significant |\n")
		sb.WriteString("| --- | --- | --- | ---: | ---: | ---: | ---: | --- |\n")
	} else {
		sb.WriteString("| suite | scale | case | baseline median (ms) | latest (ms) | delta |\n")
		sb.WriteString("| --- | --- | --- | ---: | ---: | ---: |\n")
	}

	for _, item := range regressions {
		baseline := 0.0
		if item.BaselineMedian != nil {
			baseline = *item.BaselineMedian
		}

		if withSignificance {
			pDisplay := "n/a"
			if item.PValue != nil {
				pDisplay = fmt.Sprintf("%.6f", *item.PValue)
			}

			significant := "no"
			if item.Significant != nil && *item.Significant {
				significant = "yes"
			}

			sb.WriteString(fmt.Sprintf("| %s | %s | %s | %.2f | %.2f | %s | %s | %s |\n",
				item.Suite, item.Scale, item.Case, baseline, item.Latest, deltaDisplay(item), pDisplay, significant))
		} else {
			sb.WriteString(fmt.Sprintf("| %s | %s | %s | %.2f | %.2f | %s |\n",
				item.Suite, item.Scale, item.Case, baseline, item.Latest, deltaDisplay(item)))
		}
	}

	return sb.String()
}

func deltaDisplay(item Series) string {
	if item.ChangePct == nil {
		return "n/a"
	}

	return fmt.Sprintf("%+.2f%%", *item.ChangePct)
}
