package trend

import (
	"fmt"
	"html"
	"strings"
)

func emptyHTML() string {
	return `<!doctype html>
<html lang="en">
<head><meta charset="utf-8" /><title>Longitudinal Benchmark Trends</title></head>
<body><h1>Longitudinal Benchmark Trends</h1><p>No longitudinal rows found.</p></body>
</html>
`
}

const htmlStyle = `    :root {
      --bg: #f5f7fb;
      --surface: #ffffff;
      --ink: #1b2432;
      --muted: #5f6b7a;
      --accent: #145a8d;
      --warn: #b24020;
    }
    body { background: linear-gradient(160deg, #eff4fb, #f9f3eb); color: var(--ink); font-family: "Iowan Old Style", "Palatino Linotype", serif; margin: 0; padding: 24px; }
    h1 { margin-top: 0; }
    .grid { display: grid; grid-template-columns: repeat(auto-fit, minmax(320px, 1fr)); gap: 16px; }
    .card { background: var(--surface); border-radius: 12px; padding: 16px; box-shadow: 0 4px 18px rgba(20, 90, 141, 0.08); }
    .meta { color: var(--muted); }
    svg { width: 100%; height: 90px; }
`

// renderHTML produces the static trend dashboard, one card per series with
// an inlined sparkline of the historical medians.
func renderHTML(series, regressions []Series, significantRegressions int, cfg *Config, invalidRows int) string {
	var cards strings.Builder

	for _, item := range series {
		pLine := ""
		if cfg.SignificanceMethod != SignificanceNone {
			if item.PValue == nil {
				pLine = "<p>p-value: n/a</p>"
			} else {
				pLine = fmt.Sprintf("<p>p-value: %.6f</p>", *item.PValue)
			}
		}

		cards.WriteString("<section class='card'>")
		cards.WriteString(fmt.Sprintf("<h2>%s / %s / %s</h2>",
			html.EscapeString(item.Suite), html.EscapeString(item.Scale), html.EscapeString(item.Case)))
		cards.WriteString(fmt.Sprintf("<p>Status: <strong>%s</strong></p>", html.EscapeString(item.Status)))
		cards.WriteString(fmt.Sprintf("<p>Latest: %.2f ms</p>", item.Latest))
		cards.WriteString(pLine)
		cards.WriteString(sparklineSVG(item.Points))
		cards.WriteString("</section>")
	}

	significanceMeta := ""
	if cfg.SignificanceMethod != SignificanceNone {
		significanceMeta = fmt.Sprintf(" | Significant regressions: %d | Method: %s (alpha=%.3f)",
			significantRegressions, cfg.SignificanceMethod, cfg.SignificanceAlpha)
	}

	invalidRowsMeta := ""
	if invalidRows > 0 {
		invalidRowsMeta = fmt.Sprintf(" | Invalid rows skipped: %d", invalidRows)
	}

	return fmt.Sprintf(`<!doctype html>
<html lang="en">
<head>
  <meta charset="utf-8" />
  <title>Longitudinal Benchmark Trends</title>
  <style>
%s  </style>
</head>
<body>
  <h1>Longitudinal Benchmark Trends</h1>
  <p class="meta">Series: %d | Regressions: %d%s%s | Threshold: %.2f%%</p>
  <div class="grid">
    %s
  </div>
</body>
</html>
`, htmlStyle, len(series), len(regressions), significanceMeta, invalidRowsMeta, cfg.RegressionThreshold*100, cards.String())
}

// sparklineSVG renders the median history as an inline polyline. The y axis
// is normalized to the observed range with a small vertical margin.
func sparklineSVG(values []float64) string {
	if len(values) == 0 {
		return "<svg viewBox='0 0 300 90'><text x='4' y='45'>no data</text></svg>"
	}

	const (
		width  = 300.0
		height = 90.0
	)

	step := width
	if len(values) > 1 {
		step = width / float64(len(values)-1)
	}

	minV, maxV := values[0], values[0]
	for _, v := range values {
		if v < minV {
			minV = v
		}

		if v > maxV {
			maxV = v
		}
	}

	valueRange := maxV - minV
	if valueRange < 1 {
		valueRange = 1
	}

	points := make([]string, 0, len(values))
	for i, v := range values {
		x := float64(i) * step
		normalized := (v - minV) / valueRange
		y := height - normalized*(height-10) - 5
		points = append(points, fmt.Sprintf("%.2f,%.2f", x, y))
	}

	return fmt.Sprintf("<svg viewBox='0 0 300 90' role='img' aria-label='trend chart'>"+
		"<polyline fill='none' stroke='#145a8d' stroke-width='2.5' points='%s' /></svg>",
		strings.Join(points, " "))
}
