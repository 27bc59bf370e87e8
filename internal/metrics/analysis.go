package metrics

import (
	"sort"

	"github.com/talgya/defi-arena/internal/agents"
	"github.com/talgya/defi-arena/internal/engine"
)

// trendThreshold is the minimum half-over-half change before a trend
// reads as anything other than stable.
const trendThreshold = 0.1

// AgentProfile summarizes one agent's behavior over a run: what it did
// most, how varied it was, and how aggressively it engaged the pool.
type AgentProfile struct {
	Agent             string         `json:"agent"`
	DominantStrategy  string         `json:"dominant_strategy"`
	StrategyCounts    map[string]int `json:"strategy_counts"`
	StrategyDiversity float64        `json:"strategy_diversity"`
	Aggressiveness    float64        `json:"aggressiveness"`
}

// ArmsRace profiles every agent's strategy over a run's action history,
// sorted by agent name. Swaps and liquidity provision count as
// aggressive engagement; do_nothing as passive.
func ArmsRace(turns []engine.TurnRecord) []AgentProfile {
	history := make(map[string][]agents.ActionType)
	for _, t := range turns {
		for _, res := range t.Actions {
			name := res.Action.AgentName
			history[name] = append(history[name], res.Action.Type)
		}
	}

	profiles := make([]AgentProfile, 0, len(history))
	for name, actions := range history {
		counts := make(map[string]int)
		aggressive := 0
		for _, a := range actions {
			counts[string(a)]++
			if a == agents.ActionSwap || a == agents.ActionProvideLiquidity {
				aggressive++
			}
		}

		dominant, best := "", 0
		for a, c := range counts {
			if c > best || (c == best && a < dominant) {
				dominant, best = a, c
			}
		}

		profiles = append(profiles, AgentProfile{
			Agent:             name,
			DominantStrategy:  dominant,
			StrategyCounts:    counts,
			StrategyDiversity: float64(len(counts)) / float64(len(actions)),
			Aggressiveness:    float64(aggressive) / float64(len(actions)),
		})
	}

	sort.Slice(profiles, func(i, j int) bool { return profiles[i].Agent < profiles[j].Agent })
	return profiles
}

// Trends compares the first and second halves of a run series to call
// direction on profit and inequality.
type Trends struct {
	ProfitTrend     string  `json:"profit_trend"`
	InequalityTrend string  `json:"inequality_trend"`
	AvgProfit       float64 `json:"avg_profit"`
	AvgGini         float64 `json:"avg_gini"`
	RunCount        int     `json:"run_count"`
}

// DetectTrends summarizes direction across a chronological series of
// completed-run metrics.
func DetectTrends(runs []RunMetrics) Trends {
	t := Trends{ProfitTrend: "stable", InequalityTrend: "stable", RunCount: len(runs)}
	if len(runs) == 0 {
		return t
	}

	profits := make([]float64, len(runs))
	ginis := make([]float64, len(runs))
	for i, r := range runs {
		profits[i] = r.AvgAgentProfit
		ginis[i] = r.GiniCoefficient
	}

	t.ProfitTrend = trendDirection(profits)
	t.InequalityTrend = trendDirection(ginis)
	t.AvgProfit = mean(profits)
	t.AvgGini = mean(ginis)
	return t
}

func trendDirection(values []float64) string {
	if len(values) < 2 {
		return "stable"
	}
	mid := len(values) / 2
	diff := mean(values[mid:]) - mean(values[:mid])
	switch {
	case diff > trendThreshold:
		return "up"
	case diff < -trendThreshold:
		return "down"
	default:
		return "stable"
	}
}
