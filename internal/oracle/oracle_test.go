package oracle

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/talgya/defi-arena/internal/agents"
	"github.com/talgya/defi-arena/internal/amm"
	"github.com/talgya/defi-arena/internal/engine"
)

func testContext(turn int) engine.DecisionContext {
	return engine.DecisionContext{
		RunID:     "run-1",
		RunNumber: 1,
		Turn:      turn,
		Agent: agents.Snapshot{
			Name:   "Agent_0",
			TokenA: decimal.NewFromInt(100),
			TokenB: decimal.NewFromInt(100),
		},
		Others: []agents.Snapshot{{
			Name:   "Agent_1",
			TokenA: decimal.NewFromInt(100),
			TokenB: decimal.NewFromInt(100),
		}},
		Pool: amm.Snapshot{
			ReserveA: decimal.NewFromInt(1000),
			ReserveB: decimal.NewFromInt(1000),
			Price:    decimal.NewFromInt(1),
		},
	}
}

// fakeCompletions returns an httptest server speaking the
// chat-completions shape, and points a client at it.
func fakeCompletions(t *testing.T, content, reasoning string) *Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("bad auth header %q", got)
		}
		var req request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if !req.ReasoningSplit {
			t.Error("reasoning_split not requested")
		}
		if len(req.Messages) != 2 || req.Messages[0].Role != "system" {
			t.Errorf("unexpected messages: %+v", req.Messages)
		}

		resp := map[string]any{
			"choices": []map[string]any{{
				"message": map[string]any{
					"content": content,
					"reasoning_details": []map[string]any{
						{"text": reasoning},
					},
				},
			}},
			"usage": map[string]int{"prompt_tokens": 10, "completion_tokens": 20},
		}
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			t.Errorf("encode response: %v", err)
		}
	}))
	t.Cleanup(srv.Close)

	c := NewClient("test-key")
	c.baseURL = srv.URL
	return c
}

func TestClient_NilWhenDisabled(t *testing.T) {
	if c := NewClient(""); c != nil {
		t.Error("expected nil client without an API key")
	}
	var c *Client
	if c.Enabled() {
		t.Error("nil client must report disabled")
	}
}

func TestClient_CompleteParsesAnswerAndThinking(t *testing.T) {
	c := fakeCompletions(t, "the answer", "the reasoning")
	answer, thinking, err := c.Complete(context.Background(), "system", "user", 256)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if answer != "the answer" {
		t.Errorf("answer: got %q", answer)
	}
	if thinking != "the reasoning" {
		t.Errorf("thinking: got %q", thinking)
	}
}

func TestClient_SurfacesAPIErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":"overloaded"}`, http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	c := NewClient("test-key")
	c.baseURL = srv.URL
	if _, _, err := c.Complete(context.Background(), "s", "u", 16); err == nil {
		t.Error("expected an error on 503")
	}
}

func TestTrader_DecodesValidDecision(t *testing.T) {
	c := fakeCompletions(t, `Here is my move:
`+"```json"+`
{"action": "swap", "reasoning": "price is favorable", "payload": {"from": "a", "amount": 25}}
`+"```", "thought about it")

	trader, err := NewTrader(c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	action, err := trader.Decide(context.Background(), testContext(1))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if action.Type != agents.ActionSwap {
		t.Errorf("type: got %s", action.Type)
	}
	swap, ok := action.Payload.(agents.SwapPayload)
	if !ok {
		t.Fatalf("payload type %T", action.Payload)
	}
	if swap.From != amm.AssetA || !swap.Amount.Equal(decimal.NewFromInt(25)) {
		t.Errorf("payload: %+v", swap)
	}
	if action.Reasoning != "price is favorable" {
		t.Errorf("reasoning: got %q", action.Reasoning)
	}
	if action.Thinking != "thought about it" {
		t.Errorf("thinking: got %q", action.Thinking)
	}
	if action.AgentName != "Agent_0" || action.Turn != 1 {
		t.Errorf("identity not normalized: %s/%d", action.AgentName, action.Turn)
	}
}

func TestTrader_RejectsBadModelOutput(t *testing.T) {
	cases := map[string]string{
		"unknown action":  `{"action": "rug_pull", "payload": {}}`,
		"bad payload":     `{"action": "swap", "payload": {"from": "c", "amount": 10}}`,
		"negative amount": `{"action": "swap", "payload": {"from": "a", "amount": -5}}`,
		"no json at all":  `I would rather not say.`,
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			trader, err := NewTrader(fakeCompletions(t, content, ""))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if _, err := trader.Decide(context.Background(), testContext(1)); err == nil {
				t.Error("expected a decode error")
			}
		})
	}
}

func TestNewTrader_RequiresEnabledClient(t *testing.T) {
	if _, err := NewTrader(nil); err == nil {
		t.Error("expected error for nil client")
	}
}

func TestExtractJSON(t *testing.T) {
	cases := []struct {
		name, in, want string
		wantErr        bool
	}{
		{name: "bare object", in: `{"a": 1}`, want: `{"a": 1}`},
		{name: "surrounded by prose", in: `Sure! {"a": 1} Hope that helps.`, want: `{"a": 1}`},
		{name: "json fence", in: "```json\n{\"a\": 1}\n```", want: `{"a": 1}`},
		{name: "anonymous fence", in: "```\n{\"a\": 1}\n```", want: `{"a": 1}`},
		{name: "no object", in: `no json here`, wantErr: true},
		{name: "empty", in: ``, wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := extractJSON(tc.in)
			if tc.wantErr {
				if err == nil {
					t.Error("expected an error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if strings.TrimSpace(got) != tc.want {
				t.Errorf("got %q, want %q", got, tc.want)
			}
		})
	}
}

func TestBuildDecisionPrompt_CarriesState(t *testing.T) {
	dc := testContext(3)
	dc.Learning = "liquidity pays better than churning"
	prompt, err := buildDecisionPrompt(dc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, want := range []string{
		"Agent_0", "Agent_1", "Turn: 3",
		"liquidity pays better than churning",
		`"swap"`, `"provide_liquidity"`, `"propose_alliance"`, `"do_nothing"`,
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}

	dc.Learning = ""
	prompt, err = buildDecisionPrompt(dc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(prompt, "No previous runs yet.") {
		t.Error("prompt missing first-run placeholder")
	}
}

func TestDefaultScript_Behavior(t *testing.T) {
	script := DefaultScript()

	// Turn 1: alliance proposal to the first listed neighbor.
	action, err := script.Decide(context.Background(), testContext(1))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if action.Type != agents.ActionProposeAlliance {
		t.Fatalf("turn 1: got %s", action.Type)
	}
	if p := action.Payload.(agents.AlliancePayload); p.Target != "Agent_1" {
		t.Errorf("turn 1 target: got %q", p.Target)
	}

	// Odd turns swap A, even turns swap B, always 5% of that balance.
	action, _ = script.Decide(context.Background(), testContext(3))
	swap := action.Payload.(agents.SwapPayload)
	if swap.From != amm.AssetA || !swap.Amount.Equal(decimal.NewFromInt(5)) {
		t.Errorf("turn 3: %+v", swap)
	}

	action, _ = script.Decide(context.Background(), testContext(4))
	swap = action.Payload.(agents.SwapPayload)
	if swap.From != amm.AssetB {
		t.Errorf("turn 4 side: %s", swap.From)
	}

	// A drained balance falls back to doing nothing.
	dc := testContext(3)
	dc.Agent.TokenA = decimal.Zero
	action, _ = script.Decide(context.Background(), dc)
	if action.Type != agents.ActionDoNothing {
		t.Errorf("broke agent: got %s", action.Type)
	}
}
