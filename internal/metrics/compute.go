// Package metrics derives aggregate statistics from completed run
// histories. Unlike the simulation core, everything here is float64:
// these are descriptive statistics, not balances.
package metrics

import (
	"math"
	"sort"

	"github.com/talgya/defi-arena/internal/agents"
	"github.com/talgya/defi-arena/internal/engine"
)

// RunMetrics is the terminal summary of one completed run. Computed once
// from the full turn history, never mutated afterward.
type RunMetrics struct {
	RunID           string  `json:"run_id"`
	GiniCoefficient float64 `json:"gini_coefficient"`
	CooperationRate float64 `json:"cooperation_rate"`
	AvgAgentProfit  float64 `json:"avg_agent_profit"`
	MinProfit       float64 `json:"min_profit"`
	MaxProfit       float64 `json:"max_profit"`
	PoolStability   float64 `json:"pool_stability"`
	BetrayalCount   int     `json:"betrayal_count"`
	TotalTrades     int     `json:"total_trades"`
	Turns           int     `json:"turns"`
}

// Compute derives RunMetrics from a run's full turn history. An empty
// history yields the zero value with PoolStability 1.
func Compute(turns []engine.TurnRecord) RunMetrics {
	m := RunMetrics{PoolStability: 1.0, Turns: len(turns)}
	if len(turns) == 0 {
		return m
	}
	m.RunID = turns[0].RunID

	final := turns[len(turns)-1]
	profits := make([]float64, len(final.Agents))
	for i, s := range final.Agents {
		profits[i] = s.Profit.InexactFloat64()
	}
	m.GiniCoefficient = Gini(profits)
	m.AvgAgentProfit = mean(profits)
	if len(profits) > 0 {
		m.MinProfit, m.MaxProfit = profits[0], profits[0]
		for _, p := range profits[1:] {
			m.MinProfit = math.Min(m.MinProfit, p)
			m.MaxProfit = math.Max(m.MaxProfit, p)
		}
	}

	prices := make([]float64, 0, len(turns))
	cooperative := 0
	for _, t := range turns {
		prices = append(prices, t.Pool.Price.InexactFloat64())
		if len(t.Alliances) > 0 {
			cooperative++
		}
		m.BetrayalCount += len(t.Betrayals)
		for _, res := range t.Actions {
			if res.Action.Type == agents.ActionSwap && res.Status == engine.StatusApplied {
				m.TotalTrades++
			}
		}
	}
	m.CooperationRate = float64(cooperative) / float64(len(turns))
	m.PoolStability = Stability(prices)
	return m
}

// Gini computes the Gini coefficient over a profit distribution using
// the sorted-index formula G = 2*Σ(i+1)·p_i / (n·Σp) − (n+1)/n. Profits
// can be negative; the distribution is shifted so its minimum sits at
// zero before the formula applies, keeping the result in [0, 1].
// Fewer than two values, or an all-equal distribution, gives 0.
func Gini(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	if sorted[0] < 0 {
		shift := -sorted[0]
		for i := range sorted {
			sorted[i] += shift
		}
	}

	var total, weighted float64
	for i, v := range sorted {
		total += v
		weighted += float64(i+1) * v
	}
	if total == 0 {
		return 0
	}

	n := float64(len(sorted))
	g := 2*weighted/(n*total) - (n+1)/n
	return math.Max(0, math.Min(1, g))
}

// Stability maps a price series to (0, 1]: the inverse of one plus the
// coefficient of variation. A flat series scores 1; wilder swings score
// lower. A series whose mean is zero is maximally unstable.
func Stability(prices []float64) float64 {
	if len(prices) < 2 {
		return 1.0
	}
	mu := mean(prices)
	if mu == 0 {
		return 0
	}
	var ss float64
	for _, p := range prices {
		d := p - mu
		ss += d * d
	}
	sd := math.Sqrt(ss / float64(len(prices)))
	cv := math.Abs(sd / mu)
	return 1 / (1 + cv)
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
