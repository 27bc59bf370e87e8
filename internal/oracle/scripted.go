package oracle

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/talgya/defi-arena/internal/agents"
	"github.com/talgya/defi-arena/internal/amm"
	"github.com/talgya/defi-arena/internal/engine"
)

// ScriptFunc maps a decision context to an action. Used for dry runs and
// tests where the LLM is out of the loop.
type ScriptFunc func(dc engine.DecisionContext) agents.AgentAction

// Scripted is a deterministic engine.Decider backed by a ScriptFunc.
type Scripted struct {
	Script ScriptFunc
}

// Decide runs the script. It never fails and ignores the context.
func (s Scripted) Decide(_ context.Context, dc engine.DecisionContext) (agents.AgentAction, error) {
	return s.Script(dc), nil
}

// DefaultScript is the built-in dry-run strategy: each agent swaps five
// percent of its richer balance every turn, alternating sides by turn
// parity, and proposes an alliance to its neighbor on the first turn.
func DefaultScript() Scripted {
	five := decimal.NewFromFloat(0.05)
	return Scripted{Script: func(dc engine.DecisionContext) agents.AgentAction {
		if dc.Turn == 1 && len(dc.Others) > 0 {
			return agents.AgentAction{
				AgentName: dc.Agent.Name,
				Turn:      dc.Turn,
				Type:      agents.ActionProposeAlliance,
				Payload:   agents.AlliancePayload{Target: dc.Others[0].Name},
				Reasoning: "opening alliance proposal",
			}
		}

		from := amm.AssetA
		balance := dc.Agent.TokenA
		if dc.Turn%2 == 0 {
			from = amm.AssetB
			balance = dc.Agent.TokenB
		}
		amount := balance.Mul(five)
		if !amount.IsPositive() {
			return agents.DoNothing(dc.Agent.Name, dc.Turn, "nothing left to trade")
		}
		return agents.AgentAction{
			AgentName: dc.Agent.Name,
			Turn:      dc.Turn,
			Type:      agents.ActionSwap,
			Payload:   agents.SwapPayload{From: from, Amount: amount},
			Reasoning: "rotating five percent of balance",
		}
	}}
}
