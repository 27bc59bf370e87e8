package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/talgya/defi-arena/internal/engine"
	"github.com/talgya/defi-arena/internal/metrics"
	"github.com/talgya/defi-arena/internal/observability"
	"github.com/talgya/defi-arena/internal/oracle"
	"github.com/talgya/defi-arena/internal/storage"
)

// Server wires the simulation engine, storage, and WebSocket hub behind
// an HTTP API. GET endpoints are read-only observation; POST /runs
// launches simulations and is rate limited since each run may consume
// LLM budget.
type Server struct {
	store      storage.Store
	hub        *Hub
	decider    engine.Decider
	summarizer *oracle.Summarizer // nil when LLM features are disabled
	cfg        engine.Config
	limiter    *RateLimiter

	mu      sync.Mutex
	nextRun int
}

// NewServer builds the API server. summarizer may be nil.
func NewServer(store storage.Store, hub *Hub, decider engine.Decider, summarizer *oracle.Summarizer, cfg engine.Config) *Server {
	return &Server{
		store:      store,
		hub:        hub,
		decider:    decider,
		summarizer: summarizer,
		cfg:        cfg,
		limiter:    NewRateLimiter(10, time.Minute),
		nextRun:    1,
	}
}

// Router builds the chi route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(observability.Middleware)

	// CORS middleware for frontend cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"defi-arena"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", observability.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for live turn updates.
		r.Get("/ws", s.hub.HandleWS)

		r.With(s.limiter.Middleware).Post("/runs", s.startRun)
		r.Get("/runs", s.listRuns)
		r.Get("/runs/{id}", s.getRun)
		r.Get("/runs/{id}/turns", s.getTurns)
		r.Get("/runs/{id}/metrics", s.getMetrics)

		r.Get("/analysis/trends", s.getTrends)
		r.Get("/analysis/arms-race/{id}", s.getArmsRace)

		r.Get("/thinking/{actionID}", s.getThinking)
	})

	return r
}

// startRunRequest optionally overrides a few per-run knobs.
type startRunRequest struct {
	Agents int    `json:"agents,omitempty"`
	Turns  int    `json:"turns,omitempty"`
	Seed   *int64 `json:"seed,omitempty"`
}

// startRun launches a simulation run in the background and returns 202
// with the run ID. Progress streams over the WebSocket feed.
func (s *Server) startRun(w http.ResponseWriter, r *http.Request) {
	var req startRunRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, "invalid request body", http.StatusBadRequest)
			return
		}
	}

	cfg := s.cfg
	if req.Agents > 0 {
		cfg.NumAgents = req.Agents
	}
	if req.Turns > 0 {
		cfg.TurnsPerRun = req.Turns
	}
	if req.Seed != nil {
		cfg.Seed = *req.Seed
	}

	s.mu.Lock()
	number := s.nextRun
	s.nextRun++
	s.mu.Unlock()

	run, err := engine.NewRun(number, cfg, s.decider, &broadcastSink{store: s.store, hub: s.hub})
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	go s.executeRun(run)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]any{
		"run_id":     run.ID,
		"run_number": run.Number,
		"status":     run.Status,
	})
}

// executeRun drives one run to completion, then computes and stores its
// terminal metrics and optional narrative summary.
func (s *Server) executeRun(run *engine.Run) {
	ctx := context.Background()
	if err := run.Execute(ctx); err != nil {
		return // already logged and persisted by the engine
	}

	m := metrics.Compute(run.History)
	if err := s.store.SaveMetrics(ctx, m); err != nil {
		slog.Error("failed to save metrics", "run_id", run.ID, "error", err)
		return
	}

	if s.summarizer != nil {
		summary, err := s.summarizer.Summarize(ctx, run.Number, run.History, m)
		if err != nil {
			slog.Warn("run summary failed", "run_id", run.ID, "error", err)
			return
		}
		if err := s.store.SaveSummary(ctx, run.ID, summary); err != nil {
			slog.Error("failed to save summary", "run_id", run.ID, "error", err)
		}
	}
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.store.ListRuns(r.Context())
	if err != nil {
		writeError(w, "failed to list runs", http.StatusInternalServerError)
		return
	}
	if runs == nil {
		runs = []storage.RunInfo{}
	}
	writeJSON(w, runs)
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.store.GetRun(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, run)
}

func (s *Server) getTurns(w http.ResponseWriter, r *http.Request) {
	turns, err := s.store.Turns(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if turns == nil {
		turns = []engine.TurnRecord{}
	}
	writeJSON(w, turns)
}

func (s *Server) getMetrics(w http.ResponseWriter, r *http.Request) {
	m, err := s.store.Metrics(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, m)
}

func (s *Server) getTrends(w http.ResponseWriter, r *http.Request) {
	all, err := s.store.AllMetrics(r.Context())
	if err != nil {
		writeError(w, "failed to load metrics", http.StatusInternalServerError)
		return
	}
	writeJSON(w, metrics.DetectTrends(all))
}

func (s *Server) getArmsRace(w http.ResponseWriter, r *http.Request) {
	turns, err := s.store.Turns(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	profiles := metrics.ArmsRace(turns)
	if profiles == nil {
		profiles = []metrics.AgentProfile{}
	}
	writeJSON(w, profiles)
}

func (s *Server) getThinking(w http.ResponseWriter, r *http.Request) {
	t, err := s.store.Thinking(r.Context(), chi.URLParam(r, "actionID"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, t)
}

// broadcastSink feeds the store and pushes live updates to WebSocket
// clients as each turn lands.
type broadcastSink struct {
	store storage.Store
	hub   *Hub
}

func (b *broadcastSink) CreateRun(ctx context.Context, meta engine.RunMeta) error {
	if err := b.store.CreateRun(ctx, meta); err != nil {
		return err
	}
	b.hub.Broadcast(WSMessage{
		Type:      "run_started",
		RunID:     meta.ID,
		RunNumber: meta.Number,
		Status:    string(meta.Status),
	})
	return nil
}

func (b *broadcastSink) SaveTurn(ctx context.Context, rec engine.TurnRecord) error {
	if err := b.store.SaveTurn(ctx, rec); err != nil {
		return err
	}
	b.hub.Broadcast(WSMessage{
		Type:     "turn_completed",
		RunID:    rec.RunID,
		Turn:     rec.Turn,
		Price:    rec.Pool.Price.String(),
		ReserveA: rec.Pool.ReserveA.String(),
		ReserveB: rec.Pool.ReserveB.String(),
	})
	return nil
}

func (b *broadcastSink) CompleteRun(ctx context.Context, runID string, status engine.Status, failure string) error {
	if err := b.store.CompleteRun(ctx, runID, status, failure); err != nil {
		return err
	}
	b.hub.Broadcast(WSMessage{
		Type:   "run_completed",
		RunID:  runID,
		Status: string(status),
	})
	return nil
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, err.Error(), http.StatusNotFound)
		return
	}
	writeError(w, "internal error", http.StatusInternalServerError)
}
