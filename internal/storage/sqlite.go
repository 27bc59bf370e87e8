package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/talgya/defi-arena/internal/agents"
	"github.com/talgya/defi-arena/internal/engine"
	"github.com/talgya/defi-arena/internal/metrics"
)

// SQLite implements Store on a local SQLite file. The full turn record
// is kept as JSON; actions, agent states, and pool states are also
// broken out into query tables for the API.
type SQLite struct {
	conn *sqlx.DB
}

// OpenSQLite opens or creates a SQLite database at the given path.
func OpenSQLite(path string) (*SQLite, error) {
	conn, err := sqlx.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	db := &SQLite{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return db, nil
}

// Close closes the database connection.
func (db *SQLite) Close() error {
	return db.conn.Close()
}

func (db *SQLite) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		number INTEGER NOT NULL,
		status TEXT NOT NULL,
		failure_reason TEXT NOT NULL DEFAULT '',
		summary TEXT NOT NULL DEFAULT '',
		config_json TEXT NOT NULL,
		started_at TIMESTAMP NOT NULL,
		completed_at TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS turns (
		run_id TEXT NOT NULL,
		turn INTEGER NOT NULL,
		record_json TEXT NOT NULL,
		PRIMARY KEY (run_id, turn)
	);

	CREATE TABLE IF NOT EXISTS actions (
		id TEXT PRIMARY KEY,
		run_id TEXT NOT NULL,
		turn INTEGER NOT NULL,
		agent_name TEXT NOT NULL,
		action_type TEXT NOT NULL,
		status TEXT NOT NULL,
		failure TEXT NOT NULL DEFAULT '',
		payload_json TEXT NOT NULL,
		reasoning TEXT NOT NULL DEFAULT '',
		thinking TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_actions_run ON actions(run_id, turn);

	CREATE TABLE IF NOT EXISTS agent_states (
		run_id TEXT NOT NULL,
		turn INTEGER NOT NULL,
		agent_name TEXT NOT NULL,
		token_a_balance TEXT NOT NULL,
		token_b_balance TEXT NOT NULL,
		profit TEXT NOT NULL,
		strategy TEXT NOT NULL,
		PRIMARY KEY (run_id, turn, agent_name)
	);

	CREATE TABLE IF NOT EXISTS pool_states (
		run_id TEXT NOT NULL,
		turn INTEGER NOT NULL,
		reserve_a TEXT NOT NULL,
		reserve_b TEXT NOT NULL,
		price TEXT NOT NULL,
		k TEXT NOT NULL,
		PRIMARY KEY (run_id, turn)
	);

	CREATE TABLE IF NOT EXISTS run_metrics (
		run_id TEXT PRIMARY KEY,
		gini_coefficient REAL NOT NULL,
		cooperation_rate REAL NOT NULL,
		avg_agent_profit REAL NOT NULL,
		min_profit REAL NOT NULL,
		max_profit REAL NOT NULL,
		pool_stability REAL NOT NULL,
		betrayal_count INTEGER NOT NULL,
		total_trades INTEGER NOT NULL,
		turns INTEGER NOT NULL
	);
	`
	_, err := db.conn.Exec(schema)
	return err
}

func (db *SQLite) CreateRun(ctx context.Context, meta engine.RunMeta) error {
	cfg, err := json.Marshal(meta.Config)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	_, err = db.conn.ExecContext(ctx,
		`INSERT INTO runs (id, number, status, config_json, started_at) VALUES (?, ?, ?, ?, ?)`,
		meta.ID, meta.Number, meta.Status, string(cfg), meta.StartedAt)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

func (db *SQLite) SaveTurn(ctx context.Context, rec engine.TurnRecord) error {
	record, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal turn record: %w", err)
	}

	tx, err := db.conn.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO turns (run_id, turn, record_json) VALUES (?, ?, ?)`,
		rec.RunID, rec.Turn, string(record)); err != nil {
		return fmt.Errorf("insert turn: %w", err)
	}

	for _, res := range rec.Actions {
		payload := agents.MarshalPayload(res.Action.Payload)
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO actions (id, run_id, turn, agent_name, action_type, status, failure, payload_json, reasoning, thinking)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			res.ID, rec.RunID, rec.Turn, res.Action.AgentName, res.Action.Type,
			res.Status, res.Failure, string(payload), res.Action.Reasoning, res.Action.Thinking); err != nil {
			return fmt.Errorf("insert action: %w", err)
		}
	}

	for _, a := range rec.Agents {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO agent_states (run_id, turn, agent_name, token_a_balance, token_b_balance, profit, strategy)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			rec.RunID, rec.Turn, a.Name, a.TokenA.String(), a.TokenB.String(), a.Profit.String(), a.Strategy); err != nil {
			return fmt.Errorf("insert agent state: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO pool_states (run_id, turn, reserve_a, reserve_b, price, k) VALUES (?, ?, ?, ?, ?, ?)`,
		rec.RunID, rec.Turn, rec.Pool.ReserveA.String(), rec.Pool.ReserveB.String(),
		rec.Pool.Price.String(), rec.Pool.K.String()); err != nil {
		return fmt.Errorf("insert pool state: %w", err)
	}

	return tx.Commit()
}

func (db *SQLite) CompleteRun(ctx context.Context, runID string, status engine.Status, failure string) error {
	res, err := db.conn.ExecContext(ctx,
		`UPDATE runs SET status = ?, failure_reason = ?, completed_at = ? WHERE id = ?`,
		status, failure, time.Now().UTC(), runID)
	if err != nil {
		return fmt.Errorf("complete run: %w", err)
	}
	return requireRow(res, runID)
}

func (db *SQLite) SaveSummary(ctx context.Context, runID, summary string) error {
	res, err := db.conn.ExecContext(ctx,
		`UPDATE runs SET summary = ? WHERE id = ?`, summary, runID)
	if err != nil {
		return fmt.Errorf("save summary: %w", err)
	}
	return requireRow(res, runID)
}

func (db *SQLite) GetRun(ctx context.Context, id string) (RunInfo, error) {
	var run RunInfo
	err := db.conn.GetContext(ctx, &run,
		`SELECT id, number, status, failure_reason, summary, started_at, completed_at
		 FROM runs WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return RunInfo{}, fmt.Errorf("storage: run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return RunInfo{}, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

func (db *SQLite) ListRuns(ctx context.Context) ([]RunInfo, error) {
	var runs []RunInfo
	err := db.conn.SelectContext(ctx, &runs,
		`SELECT id, number, status, failure_reason, summary, started_at, completed_at
		 FROM runs ORDER BY started_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return runs, nil
}

func (db *SQLite) Turns(ctx context.Context, runID string) ([]engine.TurnRecord, error) {
	var rows []string
	err := db.conn.SelectContext(ctx, &rows,
		`SELECT record_json FROM turns WHERE run_id = ? ORDER BY turn ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("select turns: %w", err)
	}

	out := make([]engine.TurnRecord, 0, len(rows))
	for _, raw := range rows {
		var rec engine.TurnRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, fmt.Errorf("decode turn record: %w", err)
		}
		out = append(out, rec)
	}
	return out, nil
}

func (db *SQLite) SaveMetrics(ctx context.Context, m metrics.RunMetrics) error {
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO run_metrics (run_id, gini_coefficient, cooperation_rate, avg_agent_profit,
			min_profit, max_profit, pool_stability, betrayal_count, total_trades, turns)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (run_id) DO UPDATE SET
			gini_coefficient = excluded.gini_coefficient,
			cooperation_rate = excluded.cooperation_rate,
			avg_agent_profit = excluded.avg_agent_profit,
			min_profit = excluded.min_profit,
			max_profit = excluded.max_profit,
			pool_stability = excluded.pool_stability,
			betrayal_count = excluded.betrayal_count,
			total_trades = excluded.total_trades,
			turns = excluded.turns`,
		m.RunID, m.GiniCoefficient, m.CooperationRate, m.AvgAgentProfit,
		m.MinProfit, m.MaxProfit, m.PoolStability, m.BetrayalCount, m.TotalTrades, m.Turns)
	if err != nil {
		return fmt.Errorf("save metrics: %w", err)
	}
	return nil
}

func (db *SQLite) Metrics(ctx context.Context, runID string) (metrics.RunMetrics, error) {
	var m metricsRow
	err := db.conn.GetContext(ctx, &m,
		`SELECT * FROM run_metrics WHERE run_id = ?`, runID)
	if errors.Is(err, sql.ErrNoRows) {
		return metrics.RunMetrics{}, fmt.Errorf("storage: metrics for %s: %w", runID, ErrNotFound)
	}
	if err != nil {
		return metrics.RunMetrics{}, fmt.Errorf("get metrics: %w", err)
	}
	return m.toMetrics(), nil
}

func (db *SQLite) AllMetrics(ctx context.Context) ([]metrics.RunMetrics, error) {
	var rows []metricsRow
	err := db.conn.SelectContext(ctx, &rows,
		`SELECT m.* FROM run_metrics m JOIN runs r ON r.id = m.run_id ORDER BY r.started_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("list metrics: %w", err)
	}
	out := make([]metrics.RunMetrics, len(rows))
	for i, m := range rows {
		out[i] = m.toMetrics()
	}
	return out, nil
}

func (db *SQLite) Thinking(ctx context.Context, actionID string) (Thought, error) {
	var t Thought
	err := db.conn.GetContext(ctx, &t,
		`SELECT id AS action_id, run_id, turn, agent_name, action_type AS action, reasoning, thinking
		 FROM actions WHERE id = ?`, actionID)
	if errors.Is(err, sql.ErrNoRows) {
		return Thought{}, fmt.Errorf("storage: action %s: %w", actionID, ErrNotFound)
	}
	if err != nil {
		return Thought{}, fmt.Errorf("get thinking: %w", err)
	}
	return t, nil
}

// metricsRow is the db-tagged mirror of metrics.RunMetrics.
type metricsRow struct {
	RunID           string  `db:"run_id"`
	GiniCoefficient float64 `db:"gini_coefficient"`
	CooperationRate float64 `db:"cooperation_rate"`
	AvgAgentProfit  float64 `db:"avg_agent_profit"`
	MinProfit       float64 `db:"min_profit"`
	MaxProfit       float64 `db:"max_profit"`
	PoolStability   float64 `db:"pool_stability"`
	BetrayalCount   int     `db:"betrayal_count"`
	TotalTrades     int     `db:"total_trades"`
	Turns           int     `db:"turns"`
}

func (r metricsRow) toMetrics() metrics.RunMetrics {
	return metrics.RunMetrics{
		RunID:           r.RunID,
		GiniCoefficient: r.GiniCoefficient,
		CooperationRate: r.CooperationRate,
		AvgAgentProfit:  r.AvgAgentProfit,
		MinProfit:       r.MinProfit,
		MaxProfit:       r.MaxProfit,
		PoolStability:   r.PoolStability,
		BetrayalCount:   r.BetrayalCount,
		TotalTrades:     r.TotalTrades,
		Turns:           r.Turns,
	}
}

func requireRow(res sql.Result, runID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("storage: run %s: %w", runID, ErrNotFound)
	}
	return nil
}
