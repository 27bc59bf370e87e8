package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/talgya/defi-arena/internal/engine"
	"github.com/talgya/defi-arena/internal/metrics"
)

// Summarizer generates post-run narrative summaries and per-agent
// learning extracts.
type Summarizer struct {
	client *Client
}

// NewSummarizer wraps a MiniMax client for run summaries.
func NewSummarizer(client *Client) (*Summarizer, error) {
	if !client.Enabled() {
		return nil, fmt.Errorf("oracle: summarizer needs a configured client")
	}
	return &Summarizer{client: client}, nil
}

// Summarize produces a short narrative of a completed run from its turn
// history and terminal metrics.
func (s *Summarizer) Summarize(ctx context.Context, runNumber int, turns []engine.TurnRecord, m metrics.RunMetrics) (string, error) {
	if len(turns) == 0 {
		return "", fmt.Errorf("oracle: nothing to summarize")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Summarize run %d of a DeFi agent simulation in 3-5 sentences.\n\n", runNumber)
	fmt.Fprintf(&b, "=== METRICS ===\n")
	fmt.Fprintf(&b, "Gini: %.3f, Avg profit: %.2f, Cooperation rate: %.2f, Betrayals: %d, Pool stability: %.3f, Trades: %d\n\n",
		m.GiniCoefficient, m.AvgAgentProfit, m.CooperationRate, m.BetrayalCount, m.PoolStability, m.TotalTrades)

	fmt.Fprintf(&b, "=== FINAL STANDINGS (by profit) ===\n")
	final := turns[len(turns)-1].Agents
	standings := make([]string, 0, len(final))
	for _, a := range final {
		standings = append(standings, fmt.Sprintf("%s: profit=%s strategy=%s tokens=%sA/%sB",
			a.Name, a.Profit.StringFixed(2), a.Strategy,
			a.TokenA.StringFixed(0), a.TokenB.StringFixed(0)))
	}
	sort.Strings(standings)
	b.WriteString(strings.Join(standings, "\n"))
	b.WriteString("\n\n")

	fmt.Fprintf(&b, "=== ACTION DISTRIBUTION ===\n")
	dist := make(map[string]int)
	events := make([]string, 0, 4)
	for _, t := range turns {
		for _, res := range t.Actions {
			dist[string(res.Action.Type)]++
		}
		for _, ev := range t.Events {
			events = append(events, fmt.Sprintf("turn %d: %s", t.Turn, ev.Kind))
		}
	}
	distJSON, err := json.Marshal(dist)
	if err != nil {
		return "", err
	}
	b.Write(distJSON)
	b.WriteString("\n\n")

	if len(events) > 0 {
		fmt.Fprintf(&b, "=== MARKET EVENTS ===\n%s\n\n", strings.Join(events, "\n"))
	}
	b.WriteString("Focus on who won, who cooperated, who betrayed, and how the pool moved. Plain prose, no JSON.")

	summary, _, err := s.client.Complete(ctx, "", b.String(), 1024)
	if err != nil {
		return "", fmt.Errorf("oracle: summarize run %d: %w", runNumber, err)
	}
	return strings.TrimSpace(summary), nil
}

// ExtractLearning asks the model what one agent should take into its
// next run: a 1-2 sentence note carried forward via DecisionContext.
func (s *Summarizer) ExtractLearning(ctx context.Context, agentName string, runNumber int, profit, strategy string, m metrics.RunMetrics) (string, error) {
	prompt := fmt.Sprintf(`You are %s. You just completed run %d.

Your performance: Profit=%s, Strategy=%s
Market metrics: Gini=%.3f, Avg Profit=%.2f

What did you learn in 1-2 sentences?
Output JSON: {"learning": "your learning"}
`, agentName, runNumber, profit, strategy, m.GiniCoefficient, m.AvgAgentProfit)

	content, _, err := s.client.Complete(ctx, "", prompt, 256)
	if err != nil {
		return "", fmt.Errorf("oracle: extract learning for %s: %w", agentName, err)
	}

	raw, err := extractJSON(content)
	if err != nil {
		return "", err
	}
	var out struct {
		Learning string `json:"learning"`
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return "", fmt.Errorf("oracle: parse learning: %w", err)
	}
	return out.Learning, nil
}
