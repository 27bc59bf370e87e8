// Package storage defines the persistence interface for simulation
// output. Implementations include SQLite (single-node default),
// PostgreSQL (shared deployments), and in-memory (for testing).
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/talgya/defi-arena/internal/engine"
	"github.com/talgya/defi-arena/internal/metrics"
)

var (
	// ErrNotFound is returned when a run, action, or metrics row does
	// not exist.
	ErrNotFound = errors.New("storage: not found")
)

// RunInfo is a run's stored identity and lifecycle.
type RunInfo struct {
	ID            string        `json:"id" db:"id"`
	Number        int           `json:"number" db:"number"`
	Status        engine.Status `json:"status" db:"status"`
	FailureReason string        `json:"failure_reason,omitempty" db:"failure_reason"`
	Summary       string        `json:"summary,omitempty" db:"summary"`
	StartedAt     time.Time     `json:"started_at" db:"started_at"`
	CompletedAt   *time.Time    `json:"completed_at,omitempty" db:"completed_at"`
}

// Thought is one action's recorded decision transparency: the model's
// stated reasoning plus its separated chain of thought.
type Thought struct {
	ActionID  string `json:"action_id" db:"action_id"`
	RunID     string `json:"run_id" db:"run_id"`
	Turn      int    `json:"turn" db:"turn"`
	AgentName string `json:"agent_name" db:"agent_name"`
	Action    string `json:"action" db:"action"`
	Reasoning string `json:"reasoning" db:"reasoning"`
	Thinking  string `json:"thinking" db:"thinking"`
}

// Store is the persistence interface. It is a superset of engine.Sink:
// the engine appends through the Sink methods, the API layer reads
// through the rest.
type Store interface {
	engine.Sink

	// SaveSummary attaches a post-run narrative summary to a run.
	SaveSummary(ctx context.Context, runID, summary string) error

	// GetRun retrieves one run by ID.
	GetRun(ctx context.Context, id string) (RunInfo, error)

	// ListRuns returns all runs, newest first.
	ListRuns(ctx context.Context) ([]RunInfo, error)

	// Turns returns a run's full turn history in turn order.
	Turns(ctx context.Context, runID string) ([]engine.TurnRecord, error)

	// SaveMetrics stores a run's terminal metrics.
	SaveMetrics(ctx context.Context, m metrics.RunMetrics) error

	// Metrics returns one run's terminal metrics.
	Metrics(ctx context.Context, runID string) (metrics.RunMetrics, error)

	// AllMetrics returns metrics for every completed run, oldest first.
	AllMetrics(ctx context.Context) ([]metrics.RunMetrics, error)

	// Thinking returns the decision transparency record for one action.
	Thinking(ctx context.Context, actionID string) (Thought, error)

	// Close releases the underlying connection, if any.
	Close() error
}
