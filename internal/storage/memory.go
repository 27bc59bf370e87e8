package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/talgya/defi-arena/internal/engine"
	"github.com/talgya/defi-arena/internal/metrics"
)

// Memory implements Store with in-memory maps. Used for testing and dry
// runs. Not suitable for anything that should survive a restart.
type Memory struct {
	mu      sync.RWMutex
	runs    map[string]*RunInfo
	turns   map[string][]engine.TurnRecord
	metrics map[string]metrics.RunMetrics
	order   []string // run IDs in creation order
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		runs:    make(map[string]*RunInfo),
		turns:   make(map[string][]engine.TurnRecord),
		metrics: make(map[string]metrics.RunMetrics),
	}
}

func (s *Memory) CreateRun(_ context.Context, meta engine.RunMeta) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.runs[meta.ID]; ok {
		return fmt.Errorf("storage: run %s already exists", meta.ID)
	}
	s.runs[meta.ID] = &RunInfo{
		ID:        meta.ID,
		Number:    meta.Number,
		Status:    meta.Status,
		StartedAt: meta.StartedAt,
	}
	s.order = append(s.order, meta.ID)
	return nil
}

func (s *Memory) SaveTurn(_ context.Context, rec engine.TurnRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.runs[rec.RunID]; !ok {
		return fmt.Errorf("storage: save turn: run %s: %w", rec.RunID, ErrNotFound)
	}
	s.turns[rec.RunID] = append(s.turns[rec.RunID], rec)
	return nil
}

func (s *Memory) CompleteRun(_ context.Context, runID string, status engine.Status, failure string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[runID]
	if !ok {
		return fmt.Errorf("storage: complete run %s: %w", runID, ErrNotFound)
	}
	now := time.Now().UTC()
	run.Status = status
	run.FailureReason = failure
	run.CompletedAt = &now
	return nil
}

func (s *Memory) SaveSummary(_ context.Context, runID, summary string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[runID]
	if !ok {
		return fmt.Errorf("storage: save summary for %s: %w", runID, ErrNotFound)
	}
	run.Summary = summary
	return nil
}

func (s *Memory) GetRun(_ context.Context, id string) (RunInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[id]
	if !ok {
		return RunInfo{}, fmt.Errorf("storage: run %s: %w", id, ErrNotFound)
	}
	return *run, nil
}

func (s *Memory) ListRuns(_ context.Context) ([]RunInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]RunInfo, 0, len(s.order))
	for i := len(s.order) - 1; i >= 0; i-- {
		out = append(out, *s.runs[s.order[i]])
	}
	return out, nil
}

func (s *Memory) Turns(_ context.Context, runID string) ([]engine.TurnRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.runs[runID]; !ok {
		return nil, fmt.Errorf("storage: turns for %s: %w", runID, ErrNotFound)
	}
	recs := s.turns[runID]
	out := make([]engine.TurnRecord, len(recs))
	copy(out, recs)
	sort.Slice(out, func(i, j int) bool { return out[i].Turn < out[j].Turn })
	return out, nil
}

func (s *Memory) SaveMetrics(_ context.Context, m metrics.RunMetrics) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.runs[m.RunID]; !ok {
		return fmt.Errorf("storage: metrics for %s: %w", m.RunID, ErrNotFound)
	}
	s.metrics[m.RunID] = m
	return nil
}

func (s *Memory) Metrics(_ context.Context, runID string) (metrics.RunMetrics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.metrics[runID]
	if !ok {
		return metrics.RunMetrics{}, fmt.Errorf("storage: metrics for %s: %w", runID, ErrNotFound)
	}
	return m, nil
}

func (s *Memory) AllMetrics(_ context.Context) ([]metrics.RunMetrics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]metrics.RunMetrics, 0, len(s.metrics))
	for _, id := range s.order {
		if m, ok := s.metrics[id]; ok {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *Memory) Thinking(_ context.Context, actionID string) (Thought, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, id := range s.order {
		for _, rec := range s.turns[id] {
			for _, res := range rec.Actions {
				if res.ID == actionID {
					return Thought{
						ActionID:  res.ID,
						RunID:     rec.RunID,
						Turn:      rec.Turn,
						AgentName: res.Action.AgentName,
						Action:    string(res.Action.Type),
						Reasoning: res.Action.Reasoning,
						Thinking:  res.Action.Thinking,
					}, nil
				}
			}
		}
	}
	return Thought{}, fmt.Errorf("storage: action %s: %w", actionID, ErrNotFound)
}

func (s *Memory) Close() error {
	return nil
}
