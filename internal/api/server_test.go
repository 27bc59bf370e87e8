package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/talgya/defi-arena/internal/api"
	"github.com/talgya/defi-arena/internal/engine"
	"github.com/talgya/defi-arena/internal/metrics"
	"github.com/talgya/defi-arena/internal/oracle"
	"github.com/talgya/defi-arena/internal/storage"
)

func newTestEnv(t *testing.T) (*storage.Memory, http.Handler) {
	t.Helper()
	store := storage.NewMemory()
	hub := api.NewHub()
	go hub.Run()

	cfg := engine.DefaultConfig()
	cfg.NumAgents = 2
	cfg.TurnsPerRun = 2
	cfg.MarketMakerInterval = 0
	cfg.ShockProbability = 0
	cfg.Seed = 7

	srv := api.NewServer(store, hub, oracle.DefaultScript(), nil, cfg)
	return store, srv.Router()
}

func startRun(t *testing.T, router http.Handler, body string) string {
	t.Helper()
	req := httptest.NewRequest("POST", "/api/v1/runs", bytes.NewReader([]byte(body)))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusAccepted {
		t.Fatalf("start run: status %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		RunID string `json:"run_id"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.RunID == "" {
		t.Fatal("empty run_id")
	}
	return resp.RunID
}

// waitForRun polls the store until the run leaves the running state.
func waitForRun(t *testing.T, store *storage.Memory, runID string) storage.RunInfo {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		info, err := store.GetRun(context.Background(), runID)
		if err == nil && info.Status != engine.RunRunning && info.Status != engine.RunPending {
			return info
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("run %s did not finish in time", runID)
	return storage.RunInfo{}
}

// waitForMetrics polls until the post-run metrics land in the store;
// they are written after the run is marked complete.
func waitForMetrics(t *testing.T, store *storage.Memory, runID string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := store.Metrics(context.Background(), runID); err == nil {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("metrics for %s did not land in time", runID)
}

func get(t *testing.T, router http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("GET", path, nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	_, router := newTestEnv(t)
	if w := get(t, router, "/health"); w.Code != http.StatusOK {
		t.Errorf("health: status %d", w.Code)
	}
}

func TestStartRun_CompletesAndServesResults(t *testing.T) {
	store, router := newTestEnv(t)

	runID := startRun(t, router, `{"agents": 3, "turns": 2, "seed": 42}`)
	info := waitForRun(t, store, runID)
	if info.Status != engine.RunCompleted {
		t.Fatalf("run status %s (%s)", info.Status, info.FailureReason)
	}
	waitForMetrics(t, store, runID)

	w := get(t, router, "/api/v1/runs/"+runID)
	if w.Code != http.StatusOK {
		t.Fatalf("get run: status %d", w.Code)
	}

	w = get(t, router, "/api/v1/runs/"+runID+"/turns")
	if w.Code != http.StatusOK {
		t.Fatalf("get turns: status %d", w.Code)
	}
	var turns []engine.TurnRecord
	if err := json.Unmarshal(w.Body.Bytes(), &turns); err != nil {
		t.Fatalf("decode turns: %v", err)
	}
	if len(turns) != 2 {
		t.Errorf("expected 2 turns, got %d", len(turns))
	}
	if len(turns) > 0 && len(turns[0].Actions) != 3 {
		t.Errorf("expected 3 actions per turn, got %d", len(turns[0].Actions))
	}

	w = get(t, router, "/api/v1/runs/"+runID+"/metrics")
	if w.Code != http.StatusOK {
		t.Fatalf("get metrics: status %d", w.Code)
	}
	var m metrics.RunMetrics
	if err := json.Unmarshal(w.Body.Bytes(), &m); err != nil {
		t.Fatalf("decode metrics: %v", err)
	}
	if m.Turns != 2 {
		t.Errorf("metrics turns: got %d", m.Turns)
	}
}

func TestStartRun_RejectsMalformedBody(t *testing.T) {
	_, router := newTestEnv(t)
	req := httptest.NewRequest("POST", "/api/v1/runs", bytes.NewReader([]byte(`{"agents": "lots"`)))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status %d, want 400", w.Code)
	}
}

func TestListRuns(t *testing.T) {
	store, router := newTestEnv(t)

	first := startRun(t, router, `{"turns": 1}`)
	waitForRun(t, store, first)
	second := startRun(t, router, `{"turns": 1}`)
	waitForRun(t, store, second)

	w := get(t, router, "/api/v1/runs")
	if w.Code != http.StatusOK {
		t.Fatalf("list runs: status %d", w.Code)
	}
	var runs []storage.RunInfo
	if err := json.Unmarshal(w.Body.Bytes(), &runs); err != nil {
		t.Fatalf("decode runs: %v", err)
	}
	if len(runs) != 2 {
		t.Errorf("expected 2 runs, got %d", len(runs))
	}
}

func TestGetRun_UnknownIDIs404(t *testing.T) {
	_, router := newTestEnv(t)
	for _, path := range []string{
		"/api/v1/runs/ghost",
		"/api/v1/runs/ghost/metrics",
		"/api/v1/thinking/ghost",
	} {
		if w := get(t, router, path); w.Code != http.StatusNotFound {
			t.Errorf("%s: status %d, want 404", path, w.Code)
		}
	}
}

func TestAnalysisEndpoints(t *testing.T) {
	store, router := newTestEnv(t)

	runID := startRun(t, router, `{"turns": 2}`)
	waitForRun(t, store, runID)
	waitForMetrics(t, store, runID)

	w := get(t, router, "/api/v1/analysis/trends")
	if w.Code != http.StatusOK {
		t.Fatalf("trends: status %d", w.Code)
	}
	var trends metrics.Trends
	if err := json.Unmarshal(w.Body.Bytes(), &trends); err != nil {
		t.Fatalf("decode trends: %v", err)
	}
	if trends.RunCount != 1 {
		t.Errorf("trends run count: got %d", trends.RunCount)
	}

	w = get(t, router, "/api/v1/analysis/arms-race/"+runID)
	if w.Code != http.StatusOK {
		t.Fatalf("arms race: status %d", w.Code)
	}
	var profiles []metrics.AgentProfile
	if err := json.Unmarshal(w.Body.Bytes(), &profiles); err != nil {
		t.Fatalf("decode profiles: %v", err)
	}
	if len(profiles) != 2 {
		t.Errorf("expected 2 profiles, got %d", len(profiles))
	}
}

func TestStartRun_RateLimited(t *testing.T) {
	_, router := newTestEnv(t)

	var last int
	for i := 0; i < 11; i++ {
		req := httptest.NewRequest("POST", "/api/v1/runs", bytes.NewReader([]byte(`{"turns": 1}`)))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		last = w.Code
	}
	if last != http.StatusTooManyRequests {
		t.Errorf("11th request: status %d, want 429", last)
	}
}
