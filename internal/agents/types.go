// Package agents provides the wallet-holding market participants of a run
// and the action vocabulary they speak.
package agents

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/talgya/defi-arena/internal/amm"
)

// ActionType enumerates what an agent can do in one turn.
type ActionType string

const (
	ActionSwap             ActionType = "swap"
	ActionProvideLiquidity ActionType = "provide_liquidity"
	ActionProposeAlliance  ActionType = "propose_alliance"
	ActionDoNothing        ActionType = "do_nothing"
)

// Valid reports whether t names a known action type.
func (t ActionType) Valid() bool {
	switch t {
	case ActionSwap, ActionProvideLiquidity, ActionProposeAlliance, ActionDoNothing:
		return true
	}
	return false
}

// ErrInvalidPayload is returned when an action payload fails validation
// at ingestion. Payloads come from an external decision oracle and are
// never trusted downstream — they are decoded into a typed variant here
// or rejected.
var ErrInvalidPayload = errors.New("agents: invalid action payload")

// Payload is the tagged-variant interface for action parameters.
type Payload interface {
	isPayload()
}

// SwapPayload trades Amount of the From asset against the pool.
type SwapPayload struct {
	From   amm.Asset       `json:"from"`
	Amount decimal.Decimal `json:"amount"`
}

// LiquidityPayload adds both legs to the pool.
type LiquidityPayload struct {
	AmountA decimal.Decimal `json:"amount_a"`
	AmountB decimal.Decimal `json:"amount_b"`
}

// AlliancePayload proposes an alliance with another agent this turn.
type AlliancePayload struct {
	Target string `json:"agent_name"`
}

// NoOpPayload carries no parameters.
type NoOpPayload struct{}

func (SwapPayload) isPayload()      {}
func (LiquidityPayload) isPayload() {}
func (AlliancePayload) isPayload()  {}
func (NoOpPayload) isPayload()      {}

// AgentAction is one decided action for one agent in one turn. The core
// consumes these — it never decides them. Reasoning and Thinking are
// opaque oracle text, passed through for storage.
type AgentAction struct {
	AgentName string     `json:"agent_name"`
	Turn      int        `json:"turn"`
	Type      ActionType `json:"action_type"`
	Payload   Payload    `json:"payload"`
	Reasoning string     `json:"reasoning,omitempty"`
	Thinking  string     `json:"thinking,omitempty"`
}

// actionJSON mirrors AgentAction with the payload left raw, so stored
// actions can be decoded back into their tagged variant.
type actionJSON struct {
	AgentName string          `json:"agent_name"`
	Turn      int             `json:"turn"`
	Type      ActionType      `json:"action_type"`
	Payload   json.RawMessage `json:"payload"`
	Reasoning string          `json:"reasoning,omitempty"`
	Thinking  string          `json:"thinking,omitempty"`
}

// UnmarshalJSON restores the typed payload variant from the action_type
// tag. Stored actions already passed validation, so a decode failure
// here means corrupted data.
func (a *AgentAction) UnmarshalJSON(data []byte) error {
	var raw actionJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw.Payload) == 0 {
		raw.Payload = json.RawMessage("{}")
	}
	payload, err := DecodePayload(raw.Type, raw.Payload)
	if err != nil {
		return err
	}
	*a = AgentAction{
		AgentName: raw.AgentName,
		Turn:      raw.Turn,
		Type:      raw.Type,
		Payload:   payload,
		Reasoning: raw.Reasoning,
		Thinking:  raw.Thinking,
	}
	return nil
}

// DoNothing builds the substitute action used when the oracle fails or
// times out for an agent.
func DoNothing(agentName string, turn int, reason string) AgentAction {
	return AgentAction{
		AgentName: agentName,
		Turn:      turn,
		Type:      ActionDoNothing,
		Payload:   NoOpPayload{},
		Reasoning: reason,
	}
}

// DecodePayload validates raw oracle JSON into the typed variant for the
// given action type.
func DecodePayload(t ActionType, raw json.RawMessage) (Payload, error) {
	switch t {
	case ActionSwap:
		var p SwapPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		if !p.From.Valid() {
			return nil, fmt.Errorf("%w: unknown asset %q", ErrInvalidPayload, p.From)
		}
		if !p.Amount.IsPositive() {
			return nil, fmt.Errorf("%w: swap amount must be positive", ErrInvalidPayload)
		}
		return p, nil

	case ActionProvideLiquidity:
		var p LiquidityPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		if !p.AmountA.IsPositive() || !p.AmountB.IsPositive() {
			return nil, fmt.Errorf("%w: liquidity amounts must be positive", ErrInvalidPayload)
		}
		return p, nil

	case ActionProposeAlliance:
		var p AlliancePayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		if p.Target == "" {
			return nil, fmt.Errorf("%w: alliance target is required", ErrInvalidPayload)
		}
		return p, nil

	case ActionDoNothing:
		return NoOpPayload{}, nil
	}
	return nil, fmt.Errorf("%w: unknown action type %q", ErrInvalidPayload, t)
}

// MarshalPayload serializes a typed payload back to JSON for storage.
func MarshalPayload(p Payload) json.RawMessage {
	if p == nil {
		return json.RawMessage("{}")
	}
	data, err := json.Marshal(p)
	if err != nil {
		return json.RawMessage("{}")
	}
	return data
}
