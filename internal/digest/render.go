package digest

import (
	"fmt"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var usd = message.NewPrinter(language.English)

// formatUSD renders a dollar amount with thousands separators and no
// cents ($1,250,000).
func formatUSD(v float64) string {
	return usd.Sprintf("$%.0f", v)
}

// render produces the plain-text body lines for the digest. One line
// per fact, blank lines between sections, so Notion and webhook
// consumers can render paragraphs directly.
func render(d *Digest) []string {
	lines := []string{
		fmt.Sprintf("Weekly Revenue Digest | %s, week %d of 13", d.Quarter, d.Week),
		"",
		fmt.Sprintf("Team: %s closed of %s quota (%.0f%% of pace target, %s)",
			formatUSD(d.Team.ClosedWon), formatUSD(d.Team.Quota),
			d.TeamVariance.PercentOfForecast, paceLabel(string(d.TeamVariance.Status))),
		fmt.Sprintf("Projected quarter end: %s (coverage %.2fx)",
			formatUSD(d.Team.Projected), d.Team.CoverageRatio),
		fmt.Sprintf("Open exceptions: %d across %d owners (%d red)",
			d.TotalExceptions, len(d.Owners), d.RedOwners),
	}

	for _, o := range d.Owners {
		lines = append(lines, "",
			fmt.Sprintf("%s [%s]: %s closed, projected %s of %s (%s)",
				ownerLabel(o), strings.ToUpper(string(o.Rollup.Status)),
				formatUSD(o.Forecast.ClosedWon), formatUSD(o.Forecast.Projected),
				formatUSD(o.Quota), paceLabel(string(o.Variance.Status))),
		)
		for _, ex := range o.TopExceptions {
			lines = append(lines, fmt.Sprintf("  - %s: %s", ex.DealName, ex.Detail))
		}
	}

	return lines
}

func ownerLabel(o OwnerSection) string {
	if o.OwnerName != "" {
		return o.OwnerName
	}
	return o.OwnerID
}

func paceLabel(status string) string {
	return strings.ReplaceAll(status, "_", " ")
}
