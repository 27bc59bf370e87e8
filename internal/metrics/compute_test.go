package metrics

import (
	"math"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/talgya/defi-arena/internal/agents"
	"github.com/talgya/defi-arena/internal/amm"
	"github.com/talgya/defi-arena/internal/engine"
)

func approx(t *testing.T, got, want float64, label string) {
	t.Helper()
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("%s: got %v, want %v", label, got, want)
	}
}

func TestGini_EqualDistributionIsZero(t *testing.T) {
	approx(t, Gini([]float64{10, 10, 10}), 0, "equal")
	approx(t, Gini(nil), 0, "empty")
	approx(t, Gini([]float64{42}), 0, "single")
	approx(t, Gini([]float64{0, 0, 0}), 0, "all zero")
}

func TestGini_ConcentratedDistribution(t *testing.T) {
	approx(t, Gini([]float64{0, 0, 0, 100}), 0.75, "one winner of four")
}

func TestGini_NegativeValuesShifted(t *testing.T) {
	// Shifted to [0, 20, 20]: G = 2*100/(3*40) - 4/3 = 1/3.
	approx(t, Gini([]float64{-30, -10, -10}), 1.0/3.0, "negative profits")
}

func TestGini_StaysInUnitInterval(t *testing.T) {
	g := Gini([]float64{-1000, 0.001, 0.002, 5000})
	if g < 0 || g > 1 {
		t.Errorf("gini out of [0,1]: %v", g)
	}
}

func TestStability_FlatSeriesIsOne(t *testing.T) {
	approx(t, Stability([]float64{1, 1, 1, 1}), 1, "flat")
	approx(t, Stability([]float64{2.5}), 1, "single point")
	approx(t, Stability(nil), 1, "empty")
}

func TestStability_ZeroMeanIsZero(t *testing.T) {
	approx(t, Stability([]float64{-1, 1}), 0, "zero mean")
}

func TestStability_MoreVolatileScoresLower(t *testing.T) {
	calm := Stability([]float64{1.0, 1.01, 0.99, 1.0})
	wild := Stability([]float64{1.0, 2.0, 0.5, 1.5})
	if calm <= wild {
		t.Errorf("expected calm (%v) > wild (%v)", calm, wild)
	}
}

func snap(name string, profit float64) agents.Snapshot {
	return agents.Snapshot{Name: name, Profit: decimal.NewFromFloat(profit)}
}

func action(name string, typ agents.ActionType, status engine.ResolutionStatus) engine.Resolution {
	return engine.Resolution{
		Action: agents.AgentAction{AgentName: name, Type: typ, Payload: agents.NoOpPayload{}},
		Status: status,
	}
}

func testHistory() []engine.TurnRecord {
	price := decimal.NewFromInt(1)
	return []engine.TurnRecord{
		{
			RunID: "run-1",
			Turn:  1,
			Actions: []engine.Resolution{
				action("Agent_0", agents.ActionSwap, engine.StatusApplied),
				action("Agent_1", agents.ActionProposeAlliance, engine.StatusApplied),
			},
			Alliances: []engine.AlliancePair{{A: "Agent_0", B: "Agent_1"}},
			Pool:      amm.Snapshot{Price: price},
		},
		{
			RunID: "run-1",
			Turn:  2,
			Actions: []engine.Resolution{
				action("Agent_0", agents.ActionSwap, engine.StatusRejected),
				action("Agent_1", agents.ActionSwap, engine.StatusApplied),
			},
			Betrayals: []string{"Agent_0"},
			Pool:      amm.Snapshot{Price: price},
			Agents:    []agents.Snapshot{snap("Agent_0", 10), snap("Agent_1", -10)},
		},
	}
}

func TestCompute_FullHistory(t *testing.T) {
	m := Compute(testHistory())

	if m.RunID != "run-1" {
		t.Errorf("run id: got %q", m.RunID)
	}
	if m.Turns != 2 {
		t.Errorf("turns: got %d", m.Turns)
	}
	// Rejected swaps do not count as trades.
	if m.TotalTrades != 2 {
		t.Errorf("trades: got %d, want 2", m.TotalTrades)
	}
	if m.BetrayalCount != 1 {
		t.Errorf("betrayals: got %d, want 1", m.BetrayalCount)
	}
	approx(t, m.CooperationRate, 0.5, "cooperation rate")
	approx(t, m.AvgAgentProfit, 0, "avg profit")
	approx(t, m.MinProfit, -10, "min profit")
	approx(t, m.MaxProfit, 10, "max profit")
	// Profits [10, -10] shift to [0, 20]: G = 0.5.
	approx(t, m.GiniCoefficient, 0.5, "gini")
	approx(t, m.PoolStability, 1, "stability of a flat price")
}

func TestCompute_EmptyHistory(t *testing.T) {
	m := Compute(nil)
	if m.Turns != 0 || m.TotalTrades != 0 {
		t.Errorf("unexpected counts: %+v", m)
	}
	approx(t, m.PoolStability, 1, "stability")
}

func TestArmsRace_ProfilesAgents(t *testing.T) {
	profiles := ArmsRace(testHistory())
	if len(profiles) != 2 {
		t.Fatalf("expected 2 profiles, got %d", len(profiles))
	}

	a0 := profiles[0]
	if a0.Agent != "Agent_0" {
		t.Fatalf("expected sorted order, got %q first", a0.Agent)
	}
	if a0.DominantStrategy != string(agents.ActionSwap) {
		t.Errorf("Agent_0 dominant: got %q", a0.DominantStrategy)
	}
	approx(t, a0.Aggressiveness, 1, "Agent_0 aggressiveness")

	a1 := profiles[1]
	if a1.StrategyCounts[string(agents.ActionSwap)] != 1 ||
		a1.StrategyCounts[string(agents.ActionProposeAlliance)] != 1 {
		t.Errorf("Agent_1 counts: %+v", a1.StrategyCounts)
	}
	approx(t, a1.StrategyDiversity, 1, "Agent_1 diversity")
	approx(t, a1.Aggressiveness, 0.5, "Agent_1 aggressiveness")
}

func TestDetectTrends_Directions(t *testing.T) {
	rising := []RunMetrics{
		{AvgAgentProfit: 0, GiniCoefficient: 0.5},
		{AvgAgentProfit: 1, GiniCoefficient: 0.5},
		{AvgAgentProfit: 10, GiniCoefficient: 0.1},
		{AvgAgentProfit: 11, GiniCoefficient: 0.1},
	}
	tr := DetectTrends(rising)
	if tr.ProfitTrend != "up" {
		t.Errorf("profit trend: got %q, want up", tr.ProfitTrend)
	}
	if tr.InequalityTrend != "down" {
		t.Errorf("inequality trend: got %q, want down", tr.InequalityTrend)
	}
	if tr.RunCount != 4 {
		t.Errorf("run count: got %d", tr.RunCount)
	}
	approx(t, tr.AvgProfit, 5.5, "avg profit")

	flat := DetectTrends([]RunMetrics{{AvgAgentProfit: 1}, {AvgAgentProfit: 1.05}})
	if flat.ProfitTrend != "stable" {
		t.Errorf("flat trend: got %q", flat.ProfitTrend)
	}

	if tr := DetectTrends(nil); tr.ProfitTrend != "stable" || tr.RunCount != 0 {
		t.Errorf("empty trends: %+v", tr)
	}
}
