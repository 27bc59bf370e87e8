package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/talgya/defi-arena/internal/agents"
	"github.com/talgya/defi-arena/internal/engine"
)

const traderSystemPrompt = `You are a strategic DeFi trader in an automated market simulation.
Analyze the market state and make optimal trading decisions.
Output ONLY valid JSON with your reasoning.`

// decision is the JSON shape the model must produce.
type decision struct {
	Action    string          `json:"action"`
	Reasoning string          `json:"reasoning"`
	Payload   json.RawMessage `json:"payload"`
}

// Trader turns LLM completions into validated agent actions. It
// implements engine.Decider; any parse or validation failure surfaces
// as an error so the engine substitutes do_nothing.
type Trader struct {
	client *Client
}

// NewTrader wraps a MiniMax client as a decision oracle.
func NewTrader(client *Client) (*Trader, error) {
	if !client.Enabled() {
		return nil, fmt.Errorf("oracle: trader needs a configured client")
	}
	return &Trader{client: client}, nil
}

// Decide asks the model for one action and validates it at the boundary.
// Nothing the model says is trusted past this point: unknown action
// types and malformed payloads are errors, not actions.
func (t *Trader) Decide(ctx context.Context, dc engine.DecisionContext) (agents.AgentAction, error) {
	prompt, err := buildDecisionPrompt(dc)
	if err != nil {
		return agents.AgentAction{}, fmt.Errorf("oracle: build prompt: %w", err)
	}

	content, thinking, err := t.client.Complete(ctx, traderSystemPrompt, prompt, 1024)
	if err != nil {
		return agents.AgentAction{}, fmt.Errorf("oracle: %s turn %d: %w", dc.Agent.Name, dc.Turn, err)
	}

	raw, err := extractJSON(content)
	if err != nil {
		return agents.AgentAction{}, fmt.Errorf("oracle: %s turn %d: %w", dc.Agent.Name, dc.Turn, err)
	}

	var d decision
	if err := json.Unmarshal([]byte(raw), &d); err != nil {
		return agents.AgentAction{}, fmt.Errorf("oracle: parse decision: %w", err)
	}

	typ := agents.ActionType(d.Action)
	if !typ.Valid() {
		return agents.AgentAction{}, fmt.Errorf("oracle: unknown action %q", d.Action)
	}
	payload, err := agents.DecodePayload(typ, d.Payload)
	if err != nil {
		return agents.AgentAction{}, fmt.Errorf("oracle: %s payload: %w", typ, err)
	}

	return agents.AgentAction{
		AgentName: dc.Agent.Name,
		Turn:      dc.Turn,
		Type:      typ,
		Payload:   payload,
		Reasoning: d.Reasoning,
		Thinking:  thinking,
	}, nil
}

func buildDecisionPrompt(dc engine.DecisionContext) (string, error) {
	others, err := json.MarshalIndent(dc.Others, "", "  ")
	if err != nil {
		return "", err
	}

	learning := dc.Learning
	if learning == "" {
		learning = "No previous runs yet."
	}

	var b strings.Builder
	fmt.Fprintf(&b, "You are %s, an AI agent in a DeFi market simulation.\n\n", dc.Agent.Name)
	fmt.Fprintf(&b, "=== YOUR STATE ===\n")
	fmt.Fprintf(&b, "Token A: %s\nToken B: %s\nProfit: %s\n\n",
		dc.Agent.TokenA.StringFixed(2), dc.Agent.TokenB.StringFixed(2), dc.Agent.Profit.StringFixed(2))
	fmt.Fprintf(&b, "=== MARKET STATE ===\n")
	fmt.Fprintf(&b, "Turn: %d\nPool reserves: A=%s, B=%s\nPrice (B/A): %s\n\n",
		dc.Turn, dc.Pool.ReserveA.StringFixed(2), dc.Pool.ReserveB.StringFixed(2), dc.Pool.Price.StringFixed(4))
	fmt.Fprintf(&b, "=== OTHER AGENTS ===\n%s\n\n", others)
	fmt.Fprintf(&b, "=== YOUR LEARNING ===\n%s\n\n", learning)
	b.WriteString(`=== AVAILABLE ACTIONS ===
1. "swap": Trade tokens (payload: {"from": "a"|"b", "amount": number})
2. "provide_liquidity": Add liquidity to pool (payload: {"amount_a": number, "amount_b": number})
3. "propose_alliance": Suggest collaboration (payload: {"agent_name": "Agent_N"})
4. "do_nothing": Wait for better opportunity (payload: {})

Output JSON:
{
    "action": "swap|provide_liquidity|propose_alliance|do_nothing",
    "reasoning": "your reasoning",
    "payload": {...action specific data...}
}
`)
	return b.String(), nil
}

// extractJSON pulls the first JSON object out of a model response (the
// LLM might include explanation text or code fences around it).
func extractJSON(content string) (string, error) {
	if i := strings.Index(content, "```json"); i != -1 {
		content = content[i+len("```json"):]
		if j := strings.Index(content, "```"); j != -1 {
			content = content[:j]
		}
	} else if i := strings.Index(content, "```"); i != -1 {
		content = content[i+3:]
		if j := strings.Index(content, "```"); j != -1 {
			content = content[:j]
		}
	}

	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start == -1 || end == -1 || end <= start {
		return "", fmt.Errorf("no JSON object found in response")
	}
	return content[start : end+1], nil
}
