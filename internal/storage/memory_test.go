package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/talgya/defi-arena/internal/agents"
	"github.com/talgya/defi-arena/internal/amm"
	"github.com/talgya/defi-arena/internal/engine"
	"github.com/talgya/defi-arena/internal/metrics"
)

func testMeta(id string, number int) engine.RunMeta {
	return engine.RunMeta{
		ID:        id,
		Number:    number,
		Status:    engine.RunRunning,
		Config:    engine.DefaultConfig(),
		StartedAt: time.Now().UTC(),
	}
}

func testTurn(runID string, turn int) engine.TurnRecord {
	return engine.TurnRecord{
		RunID: runID,
		Turn:  turn,
		Actions: []engine.Resolution{{
			ID: runID + "-act-1",
			Action: agents.AgentAction{
				AgentName: "Agent_0",
				Turn:      turn,
				Type:      agents.ActionSwap,
				Payload:   agents.SwapPayload{From: amm.AssetA, Amount: decimal.NewFromInt(25)},
				Reasoning: "buying the dip",
				Thinking:  "reserves look thin on the B side",
			},
			Status:    engine.StatusApplied,
			DeltaA:    decimal.NewFromInt(-25),
			DeltaB:    decimal.NewFromFloat(24.3),
			AmountOut: decimal.NewFromFloat(24.3),
		}},
		Betrayals: []string{"Agent_1"},
		Pool: amm.Snapshot{
			ReserveA: decimal.NewFromInt(1025),
			ReserveB: decimal.NewFromFloat(975.7),
			Price:    decimal.NewFromFloat(0.9519),
		},
		Agents: []agents.Snapshot{{
			Name:   "Agent_0",
			TokenA: decimal.NewFromInt(75),
			TokenB: decimal.NewFromFloat(124.3),
			Profit: decimal.NewFromFloat(-0.7),
		}},
	}
}

func testMetrics(runID string) metrics.RunMetrics {
	return metrics.RunMetrics{
		RunID:           runID,
		GiniCoefficient: 0.42,
		CooperationRate: 0.2,
		AvgAgentProfit:  -3.5,
		MinProfit:       -10,
		MaxProfit:       4,
		PoolStability:   0.97,
		BetrayalCount:   1,
		TotalTrades:     7,
		Turns:           5,
	}
}

func TestMemory_RunLifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	if err := s.CreateRun(ctx, testMeta("run-1", 1)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	info, err := s.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if info.Status != engine.RunRunning || info.Number != 1 {
		t.Errorf("unexpected run info: %+v", info)
	}
	if info.CompletedAt != nil {
		t.Error("fresh run should not be completed")
	}

	if err := s.CompleteRun(ctx, "run-1", engine.RunCompleted, ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	info, err = s.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if info.Status != engine.RunCompleted {
		t.Errorf("status: got %s", info.Status)
	}
	if info.CompletedAt == nil {
		t.Error("completed run needs a completion time")
	}

	if err := s.SaveSummary(ctx, "run-1", "a quiet run"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	info, _ = s.GetRun(ctx, "run-1")
	if info.Summary != "a quiet run" {
		t.Errorf("summary: got %q", info.Summary)
	}
}

func TestMemory_FailedRunKeepsReason(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	if err := s.CreateRun(ctx, testMeta("run-1", 1)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.CompleteRun(ctx, "run-1", engine.RunFailed, "pool drained"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	info, err := s.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if info.Status != engine.RunFailed || info.FailureReason != "pool drained" {
		t.Errorf("unexpected run info: %+v", info)
	}
}

func TestMemory_ListRunsNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	for i := 1; i <= 3; i++ {
		meta := testMeta("run-"+string(rune('0'+i)), i)
		if err := s.CreateRun(ctx, meta); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	runs, err := s.ListRuns(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(runs) != 3 {
		t.Fatalf("expected 3 runs, got %d", len(runs))
	}
	for i, want := range []int{3, 2, 1} {
		if runs[i].Number != want {
			t.Errorf("position %d: got run %d, want %d", i, runs[i].Number, want)
		}
	}
}

func TestMemory_TurnsInOrder(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	if err := s.CreateRun(ctx, testMeta("run-1", 1)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for turn := 1; turn <= 3; turn++ {
		if err := s.SaveTurn(ctx, testTurn("run-1", turn)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	turns, err := s.Turns(ctx, "run-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(turns) != 3 {
		t.Fatalf("expected 3 turns, got %d", len(turns))
	}
	for i, rec := range turns {
		if rec.Turn != i+1 {
			t.Errorf("position %d: turn %d", i, rec.Turn)
		}
	}
}

func TestMemory_MetricsRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	if err := s.CreateRun(ctx, testMeta("run-1", 1)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.SaveMetrics(ctx, testMetrics("run-1")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	m, err := s.Metrics(ctx, "run-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.GiniCoefficient != 0.42 || m.TotalTrades != 7 {
		t.Errorf("unexpected metrics: %+v", m)
	}

	if err := s.CreateRun(ctx, testMeta("run-2", 2)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.SaveMetrics(ctx, testMetrics("run-2")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	all, err := s.AllMetrics(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(all) != 2 || all[0].RunID != "run-1" || all[1].RunID != "run-2" {
		t.Errorf("expected oldest first, got %+v", all)
	}
}

func TestMemory_ThinkingLookup(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	if err := s.CreateRun(ctx, testMeta("run-1", 1)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.SaveTurn(ctx, testTurn("run-1", 1)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	thought, err := s.Thinking(ctx, "run-1-act-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if thought.AgentName != "Agent_0" || thought.Turn != 1 {
		t.Errorf("unexpected thought: %+v", thought)
	}
	if thought.Reasoning != "buying the dip" {
		t.Errorf("reasoning: got %q", thought.Reasoning)
	}
	if thought.Thinking != "reserves look thin on the B side" {
		t.Errorf("thinking: got %q", thought.Thinking)
	}
}

func TestMemory_NotFound(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	if _, err := s.GetRun(ctx, "ghost"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetRun: got %v", err)
	}
	if _, err := s.Metrics(ctx, "ghost"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Metrics: got %v", err)
	}
	if _, err := s.Thinking(ctx, "ghost"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Thinking: got %v", err)
	}
	if err := s.CompleteRun(ctx, "ghost", engine.RunCompleted, ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("CompleteRun: got %v", err)
	}
	if err := s.SaveSummary(ctx, "ghost", "x"); !errors.Is(err, ErrNotFound) {
		t.Errorf("SaveSummary: got %v", err)
	}
	if err := s.SaveMetrics(ctx, testMetrics("ghost")); !errors.Is(err, ErrNotFound) {
		t.Errorf("SaveMetrics: got %v", err)
	}
	if _, err := s.Turns(ctx, "ghost"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Turns: got %v", err)
	}
}
