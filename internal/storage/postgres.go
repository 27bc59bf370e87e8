package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/talgya/defi-arena/internal/agents"
	"github.com/talgya/defi-arena/internal/engine"
	"github.com/talgya/defi-arena/internal/metrics"
)

// Postgres implements Store on PostgreSQL for shared deployments. Turn
// records are stored whole as JSONB; balances in the breakout tables
// are NUMERIC for exact decimal precision.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres creates a PostgreSQL-backed store and applies the schema.
func NewPostgres(ctx context.Context, pool *pgxpool.Pool) (*Postgres, error) {
	db := &Postgres{pool: pool}
	if err := db.migrate(ctx); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

// Close releases the connection pool.
func (db *Postgres) Close() error {
	db.pool.Close()
	return nil
}

func (db *Postgres) migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id UUID PRIMARY KEY,
		number INT NOT NULL,
		status TEXT NOT NULL,
		failure_reason TEXT NOT NULL DEFAULT '',
		summary TEXT NOT NULL DEFAULT '',
		config JSONB NOT NULL,
		started_at TIMESTAMPTZ NOT NULL,
		completed_at TIMESTAMPTZ
	);

	CREATE TABLE IF NOT EXISTS turns (
		run_id UUID NOT NULL REFERENCES runs(id),
		turn INT NOT NULL,
		record JSONB NOT NULL,
		PRIMARY KEY (run_id, turn)
	);

	CREATE TABLE IF NOT EXISTS actions (
		id UUID PRIMARY KEY,
		run_id UUID NOT NULL REFERENCES runs(id),
		turn INT NOT NULL,
		agent_name TEXT NOT NULL,
		action_type TEXT NOT NULL,
		status TEXT NOT NULL,
		failure TEXT NOT NULL DEFAULT '',
		payload JSONB NOT NULL,
		reasoning TEXT NOT NULL DEFAULT '',
		thinking TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_actions_run ON actions(run_id, turn);

	CREATE TABLE IF NOT EXISTS agent_states (
		run_id UUID NOT NULL REFERENCES runs(id),
		turn INT NOT NULL,
		agent_name TEXT NOT NULL,
		token_a_balance NUMERIC NOT NULL,
		token_b_balance NUMERIC NOT NULL,
		profit NUMERIC NOT NULL,
		strategy TEXT NOT NULL,
		PRIMARY KEY (run_id, turn, agent_name)
	);

	CREATE TABLE IF NOT EXISTS pool_states (
		run_id UUID NOT NULL REFERENCES runs(id),
		turn INT NOT NULL,
		reserve_a NUMERIC NOT NULL,
		reserve_b NUMERIC NOT NULL,
		price NUMERIC NOT NULL,
		k NUMERIC NOT NULL,
		PRIMARY KEY (run_id, turn)
	);

	CREATE TABLE IF NOT EXISTS run_metrics (
		run_id UUID PRIMARY KEY REFERENCES runs(id),
		gini_coefficient DOUBLE PRECISION NOT NULL,
		cooperation_rate DOUBLE PRECISION NOT NULL,
		avg_agent_profit DOUBLE PRECISION NOT NULL,
		min_profit DOUBLE PRECISION NOT NULL,
		max_profit DOUBLE PRECISION NOT NULL,
		pool_stability DOUBLE PRECISION NOT NULL,
		betrayal_count INT NOT NULL,
		total_trades INT NOT NULL,
		turns INT NOT NULL
	);
	`
	_, err := db.pool.Exec(ctx, schema)
	return err
}

func (db *Postgres) CreateRun(ctx context.Context, meta engine.RunMeta) error {
	cfg, err := json.Marshal(meta.Config)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	_, err = db.pool.Exec(ctx,
		`INSERT INTO runs (id, number, status, config, started_at) VALUES ($1, $2, $3, $4, $5)`,
		meta.ID, meta.Number, meta.Status, cfg, meta.StartedAt)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

func (db *Postgres) SaveTurn(ctx context.Context, rec engine.TurnRecord) error {
	record, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal turn record: %w", err)
	}

	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`INSERT INTO turns (run_id, turn, record) VALUES ($1, $2, $3)`,
		rec.RunID, rec.Turn, record); err != nil {
		return fmt.Errorf("insert turn: %w", err)
	}

	for _, res := range rec.Actions {
		payload := agents.MarshalPayload(res.Action.Payload)
		if _, err := tx.Exec(ctx,
			`INSERT INTO actions (id, run_id, turn, agent_name, action_type, status, failure, payload, reasoning, thinking)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			res.ID, rec.RunID, rec.Turn, res.Action.AgentName, res.Action.Type,
			res.Status, res.Failure, payload, res.Action.Reasoning, res.Action.Thinking); err != nil {
			return fmt.Errorf("insert action: %w", err)
		}
	}

	for _, a := range rec.Agents {
		if _, err := tx.Exec(ctx,
			`INSERT INTO agent_states (run_id, turn, agent_name, token_a_balance, token_b_balance, profit, strategy)
			 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6::NUMERIC, $7)`,
			rec.RunID, rec.Turn, a.Name, a.TokenA.String(), a.TokenB.String(),
			a.Profit.String(), a.Strategy); err != nil {
			return fmt.Errorf("insert agent state: %w", err)
		}
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO pool_states (run_id, turn, reserve_a, reserve_b, price, k)
		 VALUES ($1, $2, $3::NUMERIC, $4::NUMERIC, $5::NUMERIC, $6::NUMERIC)`,
		rec.RunID, rec.Turn, rec.Pool.ReserveA.String(), rec.Pool.ReserveB.String(),
		rec.Pool.Price.String(), rec.Pool.K.String()); err != nil {
		return fmt.Errorf("insert pool state: %w", err)
	}

	return tx.Commit(ctx)
}

func (db *Postgres) CompleteRun(ctx context.Context, runID string, status engine.Status, failure string) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE runs SET status = $1, failure_reason = $2, completed_at = $3 WHERE id = $4`,
		status, failure, time.Now().UTC(), runID)
	if err != nil {
		return fmt.Errorf("complete run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("storage: run %s: %w", runID, ErrNotFound)
	}
	return nil
}

func (db *Postgres) SaveSummary(ctx context.Context, runID, summary string) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE runs SET summary = $1 WHERE id = $2`, summary, runID)
	if err != nil {
		return fmt.Errorf("save summary: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("storage: run %s: %w", runID, ErrNotFound)
	}
	return nil
}

func (db *Postgres) GetRun(ctx context.Context, id string) (RunInfo, error) {
	var run RunInfo
	err := db.pool.QueryRow(ctx,
		`SELECT id, number, status, failure_reason, summary, started_at, completed_at
		 FROM runs WHERE id = $1`, id).
		Scan(&run.ID, &run.Number, &run.Status, &run.FailureReason,
			&run.Summary, &run.StartedAt, &run.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return RunInfo{}, fmt.Errorf("storage: run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return RunInfo{}, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

func (db *Postgres) ListRuns(ctx context.Context) ([]RunInfo, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, number, status, failure_reason, summary, started_at, completed_at
		 FROM runs ORDER BY started_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []RunInfo
	for rows.Next() {
		var run RunInfo
		if err := rows.Scan(&run.ID, &run.Number, &run.Status, &run.FailureReason,
			&run.Summary, &run.StartedAt, &run.CompletedAt); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

func (db *Postgres) Turns(ctx context.Context, runID string) ([]engine.TurnRecord, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT record FROM turns WHERE run_id = $1 ORDER BY turn ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("select turns: %w", err)
	}
	defer rows.Close()

	var out []engine.TurnRecord
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		var rec engine.TurnRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, fmt.Errorf("decode turn record: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (db *Postgres) SaveMetrics(ctx context.Context, m metrics.RunMetrics) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO run_metrics (run_id, gini_coefficient, cooperation_rate, avg_agent_profit,
			min_profit, max_profit, pool_stability, betrayal_count, total_trades, turns)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (run_id) DO UPDATE SET
			gini_coefficient = EXCLUDED.gini_coefficient,
			cooperation_rate = EXCLUDED.cooperation_rate,
			avg_agent_profit = EXCLUDED.avg_agent_profit,
			min_profit = EXCLUDED.min_profit,
			max_profit = EXCLUDED.max_profit,
			pool_stability = EXCLUDED.pool_stability,
			betrayal_count = EXCLUDED.betrayal_count,
			total_trades = EXCLUDED.total_trades,
			turns = EXCLUDED.turns`,
		m.RunID, m.GiniCoefficient, m.CooperationRate, m.AvgAgentProfit,
		m.MinProfit, m.MaxProfit, m.PoolStability, m.BetrayalCount, m.TotalTrades, m.Turns)
	if err != nil {
		return fmt.Errorf("save metrics: %w", err)
	}
	return nil
}

func (db *Postgres) Metrics(ctx context.Context, runID string) (metrics.RunMetrics, error) {
	var m metrics.RunMetrics
	err := db.pool.QueryRow(ctx,
		`SELECT run_id, gini_coefficient, cooperation_rate, avg_agent_profit,
			min_profit, max_profit, pool_stability, betrayal_count, total_trades, turns
		 FROM run_metrics WHERE run_id = $1`, runID).
		Scan(&m.RunID, &m.GiniCoefficient, &m.CooperationRate, &m.AvgAgentProfit,
			&m.MinProfit, &m.MaxProfit, &m.PoolStability, &m.BetrayalCount, &m.TotalTrades, &m.Turns)
	if errors.Is(err, pgx.ErrNoRows) {
		return metrics.RunMetrics{}, fmt.Errorf("storage: metrics for %s: %w", runID, ErrNotFound)
	}
	if err != nil {
		return metrics.RunMetrics{}, fmt.Errorf("get metrics: %w", err)
	}
	return m, nil
}

func (db *Postgres) AllMetrics(ctx context.Context) ([]metrics.RunMetrics, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT m.run_id, m.gini_coefficient, m.cooperation_rate, m.avg_agent_profit,
			m.min_profit, m.max_profit, m.pool_stability, m.betrayal_count, m.total_trades, m.turns
		 FROM run_metrics m JOIN runs r ON r.id = m.run_id ORDER BY r.started_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("list metrics: %w", err)
	}
	defer rows.Close()

	var out []metrics.RunMetrics
	for rows.Next() {
		var m metrics.RunMetrics
		if err := rows.Scan(&m.RunID, &m.GiniCoefficient, &m.CooperationRate, &m.AvgAgentProfit,
			&m.MinProfit, &m.MaxProfit, &m.PoolStability, &m.BetrayalCount, &m.TotalTrades, &m.Turns); err != nil {
			return nil, fmt.Errorf("scan metrics: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (db *Postgres) Thinking(ctx context.Context, actionID string) (Thought, error) {
	var t Thought
	err := db.pool.QueryRow(ctx,
		`SELECT id, run_id, turn, agent_name, action_type, reasoning, thinking
		 FROM actions WHERE id = $1`, actionID).
		Scan(&t.ActionID, &t.RunID, &t.Turn, &t.AgentName, &t.Action, &t.Reasoning, &t.Thinking)
	if errors.Is(err, pgx.ErrNoRows) {
		return Thought{}, fmt.Errorf("storage: action %s: %w", actionID, ErrNotFound)
	}
	if err != nil {
		return Thought{}, fmt.Errorf("get thinking: %w", err)
	}
	return t, nil
}
