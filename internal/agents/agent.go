package agents

import (
	"errors"

	"github.com/shopspring/decimal"
)

var (
	// ErrNegativeBalance is returned when a delta would push a balance
	// below zero. Affordability is validated upstream, so hitting this
	// indicates a resolution bug.
	ErrNegativeBalance = errors.New("agents: balance would go negative")

	// ErrZeroPrice is returned when profit is valued at a non-positive price.
	ErrZeroPrice = errors.New("agents: reference price must be positive")
)

// historyWindow is how many recent actions feed strategy inference.
const historyWindow = 10

// Agent owns a two-token wallet, a strategy tag, and its recent action
// history. All agents in a run are created with the same endowment and
// mutated once per turn by the resolver.
type Agent struct {
	Name     string
	Strategy string

	balanceA decimal.Decimal
	balanceB decimal.Decimal

	// Endowment snapshot for profit computation.
	initialA decimal.Decimal
	initialB decimal.Decimal

	doNothingStreak int
	recent          []ActionType
}

// New creates an agent with the given starting balances.
func New(name string, endowA, endowB decimal.Decimal) *Agent {
	return &Agent{
		Name:     name,
		Strategy: "unknown",
		balanceA: endowA,
		balanceB: endowB,
		initialA: endowA,
		initialB: endowB,
	}
}

// Balances returns the current wallet quantities.
func (a *Agent) Balances() (tokenA, tokenB decimal.Decimal) {
	return a.balanceA, a.balanceB
}

// BalanceOf returns the balance for one pool asset ("a" or "b").
func (a *Agent) BalanceOf(asset string) decimal.Decimal {
	if asset == "b" {
		return a.balanceB
	}
	return a.balanceA
}

// ApplyDelta adds signed deltas to both balances. Fails without mutating
// if either balance would go below zero.
func (a *Agent) ApplyDelta(deltaA, deltaB decimal.Decimal) error {
	newA := a.balanceA.Add(deltaA)
	newB := a.balanceB.Add(deltaB)
	if newA.IsNegative() || newB.IsNegative() {
		return ErrNegativeBalance
	}
	a.balanceA = newA
	a.balanceB = newB
	return nil
}

// Profit values both token legs in asset A at one reference price and
// subtracts the endowment valued the same way:
//
//	(a + b/ref) - (a0 + b0/ref)
//
// The run engine passes the pool's initial spot price, so profit reflects
// realized token deltas rather than unrealized marks against a price the
// agent itself moved.
func (a *Agent) Profit(refPrice decimal.Decimal) (decimal.Decimal, error) {
	if !refPrice.IsPositive() {
		return decimal.Zero, ErrZeroPrice
	}
	current := a.balanceA.Add(a.balanceB.Div(refPrice))
	initial := a.initialA.Add(a.initialB.Div(refPrice))
	return current.Sub(initial), nil
}

// RecordAction tracks the action for boredom accounting and strategy
// inference. Only an explicit do_nothing extends the idle streak; any
// attempted action — even one the resolver rejects — resets it.
func (a *Agent) RecordAction(t ActionType) {
	if t == ActionDoNothing {
		a.doNothingStreak++
	} else {
		a.doNothingStreak = 0
	}
	a.recent = append(a.recent, t)
	if len(a.recent) > historyWindow {
		a.recent = a.recent[len(a.recent)-historyWindow:]
	}
	a.Strategy = a.InferStrategy()
}

// DoNothingStreak returns the current consecutive do_nothing count.
func (a *Agent) DoNothingStreak() int {
	return a.doNothingStreak
}

// InferStrategy returns the most common action type in the recent window,
// or "unknown" before the agent has acted.
func (a *Agent) InferStrategy() string {
	if len(a.recent) == 0 {
		return "unknown"
	}
	counts := make(map[ActionType]int, 4)
	for _, t := range a.recent {
		counts[t]++
	}
	best := a.recent[0]
	for _, t := range a.recent {
		if counts[t] > counts[best] {
			best = t
		}
	}
	return string(best)
}

// Snapshot is an immutable per-turn view of one agent.
type Snapshot struct {
	Name     string          `json:"name"`
	TokenA   decimal.Decimal `json:"token_a_balance"`
	TokenB   decimal.Decimal `json:"token_b_balance"`
	Profit   decimal.Decimal `json:"profit"`
	Strategy string          `json:"strategy"`
}

// Snapshot captures the agent's state with profit valued at refPrice.
func (a *Agent) Snapshot(refPrice decimal.Decimal) Snapshot {
	profit, err := a.Profit(refPrice)
	if err != nil {
		profit = decimal.Zero
	}
	return Snapshot{
		Name:     a.Name,
		TokenA:   a.balanceA,
		TokenB:   a.balanceB,
		Profit:   profit,
		Strategy: a.Strategy,
	}
}
