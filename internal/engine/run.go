package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/talgya/defi-arena/internal/agents"
	"github.com/talgya/defi-arena/internal/amm"
	"github.com/talgya/defi-arena/internal/entropy"
	"github.com/talgya/defi-arena/internal/observability"
)

// Status is a run's lifecycle state.
type Status string

const (
	RunPending   Status = "pending"
	RunRunning   Status = "running"
	RunCompleted Status = "completed"
	RunFailed    Status = "failed"
)

// recentHistoryWindow is how many trailing turn records the oracle sees.
const recentHistoryWindow = 3

// DecisionContext is the read-only view handed to the decision oracle for
// one agent/turn. Snapshots are values; the oracle cannot reach live state.
type DecisionContext struct {
	RunID     string
	RunNumber int
	Turn      int

	Agent  agents.Snapshot
	Others []agents.Snapshot
	Pool   amm.Snapshot

	// Recent turn records, oldest first.
	Recent []TurnRecord

	// Learning carried over from the agent's previous runs, if any.
	Learning string
}

// Decider is the external decision oracle contract. Implementations may
// be LLM-backed or scripted; the engine treats them identically. A failed
// or timed-out call is substituted with do_nothing for that agent.
type Decider interface {
	Decide(ctx context.Context, dc DecisionContext) (agents.AgentAction, error)
}

// Sink receives immutable run output. The engine only appends; it never
// reads back. A nil sink runs the simulation in memory only.
type Sink interface {
	CreateRun(ctx context.Context, meta RunMeta) error
	SaveTurn(ctx context.Context, rec TurnRecord) error
	CompleteRun(ctx context.Context, runID string, status Status, failure string) error
}

// RunMeta identifies a run to the sink at creation time.
type RunMeta struct {
	ID        string    `json:"id"`
	Number    int       `json:"number"`
	Status    Status    `json:"status"`
	Config    Config    `json:"config"`
	StartedAt time.Time `json:"started_at"`
}

// TurnRecord is the immutable per-turn output: every resolved action,
// incentive adjustment, and market event, plus full pool and agent
// snapshots taken after all effects applied.
type TurnRecord struct {
	RunID       string            `json:"run_id"`
	Turn        int               `json:"turn"`
	Actions     []Resolution      `json:"actions"`
	Adjustments []Adjustment      `json:"adjustments,omitempty"`
	Alliances   []AlliancePair    `json:"alliances,omitempty"`
	Betrayals   []string          `json:"betrayals,omitempty"`
	Events      []MarketEvent     `json:"events,omitempty"`
	Pool        amm.Snapshot      `json:"pool"`
	Agents      []agents.Snapshot `json:"agents"`
}

// Run owns all mutable state for one simulation: the pool, the agent set,
// and the turn history. Runs are independent; many may execute in
// parallel, but within a run everything is strictly sequential.
type Run struct {
	ID            string
	Number        int
	Status        Status
	FailureReason string
	History       []TurnRecord

	cfg      Config
	pool     *amm.Pool
	agents   []*agents.Agent
	resolver *resolver
	sched    *scheduler
	decider  Decider
	sink     Sink

	// Spot price at run start; the reference for all profit valuation.
	initialPrice decimal.Decimal

	// Per-agent learning carried in from previous runs (optional).
	Learnings map[string]string
}

// NewRun builds a pending run: fresh pool, identical agent endowments,
// fixed agent order Agent_0..Agent_{n-1}.
func NewRun(number int, cfg Config, decider Decider, sink Sink) (*Run, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if decider == nil {
		return nil, fmt.Errorf("engine: run %d needs a decision oracle", number)
	}

	pool, err := amm.New(cfg.InitialReserveA, cfg.InitialReserveB, cfg.FeeRate)
	if err != nil {
		return nil, fmt.Errorf("engine: pool for run %d: %w", number, err)
	}
	initialPrice, err := pool.Price()
	if err != nil {
		return nil, fmt.Errorf("engine: initial price for run %d: %w", number, err)
	}

	list := make([]*agents.Agent, cfg.NumAgents)
	for i := range list {
		list[i] = agents.New(fmt.Sprintf("Agent_%d", i), cfg.InitialTokens, cfg.InitialTokens)
	}

	src := entropy.NewSource(cfg.Seed)

	return &Run{
		ID:           uuid.New().String(),
		Number:       number,
		Status:       RunPending,
		cfg:          cfg,
		pool:         pool,
		agents:       list,
		resolver:     newResolver(pool, list, cfg),
		sched:        newScheduler(cfg, src),
		decider:      decider,
		sink:         sink,
		initialPrice: initialPrice,
		Learnings:    make(map[string]string),
	}, nil
}

// Config returns the run's configuration.
func (r *Run) Config() Config {
	return r.cfg
}

// InitialPrice returns the profit-valuation reference price.
func (r *Run) InitialPrice() decimal.Decimal {
	return r.initialPrice
}

// Agents returns the live agent set, in turn order.
func (r *Run) Agents() []*agents.Agent {
	return r.agents
}

// Pool returns the live pool.
func (r *Run) Pool() *amm.Pool {
	return r.pool
}

// Execute drives the run to completion: for each turn, batch-fetch
// decisions concurrently, resolve them sequentially in fixed agent order,
// settle alliances and penalties, apply scheduled market events, snapshot,
// and emit the turn record. Cancellation is honored between turns only; a
// cancelled run keeps every completed turn and ends failed.
func (r *Run) Execute(ctx context.Context) error {
	r.Status = RunRunning
	slog.Info("run started",
		"run_id", r.ID,
		"run_number", r.Number,
		"agents", len(r.agents),
		"turns", r.cfg.TurnsPerRun,
	)

	if r.sink != nil {
		meta := RunMeta{
			ID:        r.ID,
			Number:    r.Number,
			Status:    RunRunning,
			Config:    r.cfg,
			StartedAt: time.Now().UTC(),
		}
		if err := r.sink.CreateRun(ctx, meta); err != nil {
			return r.fail(fmt.Errorf("engine: create run: %w", err))
		}
	}

	for turn := 1; turn <= r.cfg.TurnsPerRun; turn++ {
		select {
		case <-ctx.Done():
			return r.fail(fmt.Errorf("engine: run cancelled after turn %d: %w", turn-1, ctx.Err()))
		default:
		}

		start := time.Now()
		if err := r.executeTurn(ctx, turn); err != nil {
			return r.fail(err)
		}
		observability.TurnDuration.Observe(time.Since(start).Seconds())
	}

	r.Status = RunCompleted
	observability.RunsTotal.WithLabelValues(string(RunCompleted)).Inc()
	if r.sink != nil {
		if err := r.sink.CompleteRun(ctx, r.ID, RunCompleted, ""); err != nil {
			return fmt.Errorf("engine: complete run: %w", err)
		}
	}
	slog.Info("run completed", "run_id", r.ID, "run_number", r.Number)
	return nil
}

func (r *Run) executeTurn(ctx context.Context, turn int) error {
	decisions := r.collectDecisions(ctx, turn)

	r.resolver.beginTurn()
	resolutions := make([]Resolution, 0, len(decisions))
	for _, d := range decisions {
		res, err := r.resolver.resolve(d.action)
		if err != nil {
			return err
		}
		res.OracleFailure = d.oracleFailure
		resolutions = append(resolutions, res)

		slog.Debug("action resolved",
			"run_id", r.ID,
			"turn", turn,
			"agent", d.action.AgentName,
			"action", d.action.Type,
			"status", res.Status,
			"failure", res.Failure,
		)
	}

	adjustments, mutual, betrayed, err := r.resolver.endTurn()
	if err != nil {
		return err
	}

	events, err := r.sched.apply(turn, r.pool)
	if err != nil {
		return err
	}

	rec := TurnRecord{
		RunID:       r.ID,
		Turn:        turn,
		Actions:     resolutions,
		Adjustments: adjustments,
		Alliances:   mutual,
		Betrayals:   betrayed,
		Events:      events,
		Pool:        r.pool.Snapshot(),
		Agents:      r.snapshotAgents(),
	}
	r.History = append(r.History, rec)

	if r.sink != nil {
		if err := r.sink.SaveTurn(ctx, rec); err != nil {
			return fmt.Errorf("engine: save turn %d: %w", turn, err)
		}
	}
	return nil
}

type decidedAction struct {
	action        agents.AgentAction
	oracleFailure string
}

// collectDecisions batch-issues oracle calls concurrently over read-only
// views, then returns results in fixed agent order. Pipelining the I/O
// here does not affect outcome math: resolution stays sequential.
func (r *Run) collectDecisions(ctx context.Context, turn int) []decidedAction {
	snapshots := r.snapshotAgents()
	poolView := r.pool.Snapshot()
	recent := r.History
	if len(recent) > recentHistoryWindow {
		recent = recent[len(recent)-recentHistoryWindow:]
	}

	results := make([]decidedAction, len(r.agents))
	var wg sync.WaitGroup
	for i, ag := range r.agents {
		others := make([]agents.Snapshot, 0, len(snapshots)-1)
		for j, s := range snapshots {
			if j != i {
				others = append(others, s)
			}
		}
		dc := DecisionContext{
			RunID:     r.ID,
			RunNumber: r.Number,
			Turn:      turn,
			Agent:     snapshots[i],
			Others:    others,
			Pool:      poolView,
			Recent:    recent,
			Learning:  r.Learnings[ag.Name],
		}

		wg.Add(1)
		go func(i int, name string, dc DecisionContext) {
			defer wg.Done()
			callCtx, cancel := context.WithTimeout(ctx, r.cfg.OracleTimeout)
			defer cancel()

			action, err := r.decider.Decide(callCtx, dc)
			if err != nil {
				observability.OracleFailures.Inc()
				slog.Warn("oracle failure, substituting do_nothing",
					"run_id", r.ID, "turn", turn, "agent", name, "error", err)
				results[i] = decidedAction{
					action:        agents.DoNothing(name, turn, ""),
					oracleFailure: err.Error(),
				}
				return
			}

			// Normalize: the oracle decides type and payload, never identity.
			action.AgentName = name
			action.Turn = turn
			if !action.Type.Valid() {
				observability.OracleFailures.Inc()
				results[i] = decidedAction{
					action:        agents.DoNothing(name, turn, ""),
					oracleFailure: fmt.Sprintf("invalid action type %q", action.Type),
				}
				return
			}
			if action.Payload == nil {
				action.Payload = agents.NoOpPayload{}
			}
			results[i] = decidedAction{action: action}
		}(i, ag.Name, dc)
	}
	wg.Wait()
	return results
}

func (r *Run) snapshotAgents() []agents.Snapshot {
	out := make([]agents.Snapshot, len(r.agents))
	for i, ag := range r.agents {
		out[i] = ag.Snapshot(r.initialPrice)
	}
	return out
}

// fail marks the run failed, preserving all completed turns. Partial runs
// are never reported as complete: the failure reason travels to the sink.
func (r *Run) fail(cause error) error {
	r.Status = RunFailed
	r.FailureReason = cause.Error()
	observability.RunsTotal.WithLabelValues(string(RunFailed)).Inc()
	slog.Error("run failed",
		"run_id", r.ID,
		"run_number", r.Number,
		"turns_completed", len(r.History),
		"error", cause,
	)
	if r.sink != nil {
		if err := r.sink.CompleteRun(context.Background(), r.ID, RunFailed, r.FailureReason); err != nil {
			slog.Error("failed to persist run failure", "run_id", r.ID, "error", err)
		}
	}
	return cause
}
