package compare

import (
	"fmt"
	"strings"
)

// RenderText formats the comparison as a pipe-separated table with a summary
// line.
func RenderText(comparison *Comparison) string {
	var sb strings.Builder

	sb.WriteString(renderTable(comparison))
	sb.WriteString("\n\n")

	s := comparison.Summary
	sb.WriteString(fmt.Sprintf("summary: faster=%d slower=%d no_change=%d incomparable=%d new=%d removed=%d",
		s.Faster, s.Slower, s.NoChange, s.Incomparable, s.New, s.Removed))

	return sb.String()
}

// RenderMarkdown formats the comparison as a Markdown table followed by a
// summary table.
func RenderMarkdown(comparison *Comparison) string {
	var sb strings.Builder

	sb.WriteString(renderTable(comparison))
	sb.WriteString("\n\n| metric | value |\n| --- | --- |\n")

	s := comparison.Summary
	sb.WriteString(fmt.Sprintf("| faster | %d |\n", s.Faster))
	sb.WriteString(fmt.Sprintf("| slower | %d |\n", s.Slower))
	sb.WriteString(fmt.Sprintf("| no_change | %d |\n", s.NoChange))
	sb.WriteString(fmt.Sprintf("| incomparable | %d |\n", s.Incomparable))
	sb.WriteString(fmt.Sprintf("| new | %d |\n", s.New))
	sb.WriteString(fmt.Sprintf("| removed | %d |", s.Removed))

	return sb.String()
}

func renderTable(comparison *Comparison) string {
	lines := []string{
		"Case | baseline | candidate | change",
		"--- | --- | --- | ---",
	}

	for _, row := range comparison.Rows {
		lines = append(lines, fmt.Sprintf("%s | %s | %s | %s",
			row.Case, fmtMs(row.BaselineMs), fmtMs(row.CandidateMs), row.Change))
	}

	return strings.Join(lines, "\n")
}

func fmtMs(value *float64) string {
	if value == nil {
		return "-"
	}

	return fmt.Sprintf("%.2f ms", *value)
}
