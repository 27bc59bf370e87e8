package metrics

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
)

// FormatReport renders a run summary as plain text for the CLI.
func FormatReport(m RunMetrics, agentCount int) string {
	var b strings.Builder
	rule := strings.Repeat("=", 40)
	thin := strings.Repeat("-", 40)

	fmt.Fprintln(&b, rule)
	fmt.Fprintln(&b, "SIMULATION REPORT")
	fmt.Fprintln(&b, rule)
	fmt.Fprintf(&b, "Run: %s\n", m.RunID)
	fmt.Fprintf(&b, "Agents: %d   Turns: %d\n", agentCount, m.Turns)
	fmt.Fprintln(&b, thin)
	fmt.Fprintf(&b, "Gini Coefficient: %.4f (%s)\n", m.GiniCoefficient, inequalityLabel(m.GiniCoefficient))
	fmt.Fprintf(&b, "Avg Profit:       %s\n", humanize.CommafWithDigits(m.AvgAgentProfit, 2))
	fmt.Fprintf(&b, "Profit Range:     %s .. %s\n",
		humanize.CommafWithDigits(m.MinProfit, 2),
		humanize.CommafWithDigits(m.MaxProfit, 2))
	fmt.Fprintf(&b, "Total Trades:     %s\n", humanize.Comma(int64(m.TotalTrades)))
	fmt.Fprintf(&b, "Cooperation Rate: %.2f\n", m.CooperationRate)
	fmt.Fprintf(&b, "Betrayals:        %d\n", m.BetrayalCount)
	fmt.Fprintf(&b, "Pool Stability:   %.4f\n", m.PoolStability)
	fmt.Fprintln(&b, rule)
	return b.String()
}

func inequalityLabel(gini float64) string {
	switch {
	case gini < 0.2:
		return "low inequality"
	case gini < 0.4:
		return "moderate inequality"
	default:
		return "high inequality"
	}
}
