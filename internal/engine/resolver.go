package engine

import (
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/talgya/defi-arena/internal/agents"
	"github.com/talgya/defi-arena/internal/amm"
	"github.com/talgya/defi-arena/internal/observability"
)

// ResolutionStatus tells whether an action's economic effect was applied.
type ResolutionStatus string

const (
	StatusApplied  ResolutionStatus = "applied"
	StatusRejected ResolutionStatus = "rejected"
)

// Failure kinds for rejected actions. These are expected domain failures:
// the action becomes a no-op and the run continues.
const (
	FailureInsufficientBalance   = "insufficient_balance"
	FailureInsufficientLiquidity = "insufficient_liquidity"
	FailureRatioMismatch         = "ratio_mismatch"
	FailureInvalidPayload        = "invalid_payload"
	FailureUnknownAgent          = "unknown_agent"
)

// Resolution is the record of one action's outcome within a turn.
type Resolution struct {
	ID     string             `json:"id"`
	Action agents.AgentAction `json:"action"`
	Status ResolutionStatus   `json:"status"`

	// Failure kind when Status is rejected.
	Failure string `json:"failure,omitempty"`

	// Oracle failure reason when the action is a substituted do_nothing.
	OracleFailure string `json:"oracle_failure,omitempty"`

	// Net wallet effect applied to the acting agent.
	DeltaA decimal.Decimal `json:"delta_a"`
	DeltaB decimal.Decimal `json:"delta_b"`

	// Swap output or minted LP share; zero when not applicable.
	AmountOut decimal.Decimal `json:"amount_out"`
	LPShare   decimal.Decimal `json:"lp_share"`
}

// Adjustment is an incentive applied outside an agent's own action:
// a boredom penalty or an alliance bonus.
type Adjustment struct {
	Agent  string          `json:"agent"`
	Kind   string          `json:"kind"`
	DeltaA decimal.Decimal `json:"delta_a"`
}

const (
	AdjustBoredomPenalty = "boredom_penalty"
	AdjustAllianceBonus  = "alliance_bonus"
)

// AlliancePair records a mutually resolved alliance within one turn.
type AlliancePair struct {
	A string `json:"a"`
	B string `json:"b"`
}

// resolver applies decided actions to pool and agent state. Invalid agent
// decisions are absorbed as rejected no-ops; only invariant violations
// (which indicate bugs, not bad decisions) surface as errors.
type resolver struct {
	pool  *amm.Pool
	index map[string]*agents.Agent
	cfg   Config

	// Alliance intents collected during the current turn, proposer → target.
	proposals map[string]string
}

func newResolver(pool *amm.Pool, list []*agents.Agent, cfg Config) *resolver {
	index := make(map[string]*agents.Agent, len(list))
	for _, a := range list {
		index[a.Name] = a
	}
	return &resolver{pool: pool, index: index, cfg: cfg}
}

// beginTurn resets per-turn alliance intents.
func (r *resolver) beginTurn() {
	r.proposals = make(map[string]string)
}

// resolve applies one decided action. The returned error is fatal to the
// run; rejected actions come back with StatusRejected and a nil error.
func (r *resolver) resolve(action agents.AgentAction) (Resolution, error) {
	ag, ok := r.index[action.AgentName]
	if !ok {
		return Resolution{}, fmt.Errorf("engine: action for unknown agent %q", action.AgentName)
	}

	res := Resolution{
		ID:     uuid.New().String(),
		Action: action,
		Status: StatusApplied,
	}

	// The attempt counts against the boredom streak even if it is rejected.
	ag.RecordAction(action.Type)

	var err error
	switch action.Type {
	case agents.ActionSwap:
		err = r.resolveSwap(ag, &res)
	case agents.ActionProvideLiquidity:
		err = r.resolveLiquidity(ag, &res)
	case agents.ActionProposeAlliance:
		r.resolveAlliance(ag, &res)
	case agents.ActionDoNothing:
		// No economic effect; the streak was recorded above and any
		// penalty lands in endTurn.
	default:
		res.Status = StatusRejected
		res.Failure = FailureInvalidPayload
	}
	if err != nil {
		return Resolution{}, err
	}

	observability.ActionsResolved.WithLabelValues(string(action.Type), string(res.Status)).Inc()
	return res, nil
}

func (r *resolver) resolveSwap(ag *agents.Agent, res *Resolution) error {
	payload, ok := res.Action.Payload.(agents.SwapPayload)
	if !ok {
		res.reject(FailureInvalidPayload)
		return nil
	}

	if ag.BalanceOf(string(payload.From)).LessThan(payload.Amount) {
		res.reject(FailureInsufficientBalance)
		return nil
	}

	quote, err := r.pool.ExecuteSwap(payload.From, payload.Amount)
	switch {
	case errors.Is(err, amm.ErrInsufficientLiquidity):
		res.reject(FailureInsufficientLiquidity)
		return nil
	case errors.Is(err, amm.ErrInvalidAmount):
		res.reject(FailureInvalidPayload)
		return nil
	case err != nil:
		return fmt.Errorf("engine: swap execution: %w", err)
	}

	if payload.From == amm.AssetA {
		res.DeltaA = payload.Amount.Neg()
		res.DeltaB = quote.AmountOut
	} else {
		res.DeltaA = quote.AmountOut
		res.DeltaB = payload.Amount.Neg()
	}
	res.AmountOut = quote.AmountOut

	// Balance was checked above; failure here is an invariant violation.
	if err := ag.ApplyDelta(res.DeltaA, res.DeltaB); err != nil {
		return fmt.Errorf("engine: swap settlement for %s: %w", ag.Name, err)
	}

	observability.SwapVolume.WithLabelValues(string(payload.From)).Add(payload.Amount.InexactFloat64())
	return nil
}

func (r *resolver) resolveLiquidity(ag *agents.Agent, res *Resolution) error {
	payload, ok := res.Action.Payload.(agents.LiquidityPayload)
	if !ok {
		res.reject(FailureInvalidPayload)
		return nil
	}

	balA, balB := ag.Balances()
	if balA.LessThan(payload.AmountA) || balB.LessThan(payload.AmountB) {
		res.reject(FailureInsufficientBalance)
		return nil
	}

	share, err := r.pool.AddLiquidity(ag.Name, payload.AmountA, payload.AmountB)
	switch {
	case errors.Is(err, amm.ErrRatioMismatch):
		res.reject(FailureRatioMismatch)
		return nil
	case errors.Is(err, amm.ErrInvalidAmount):
		res.reject(FailureInvalidPayload)
		return nil
	case err != nil:
		return fmt.Errorf("engine: liquidity execution: %w", err)
	}

	res.DeltaA = payload.AmountA.Neg()
	res.DeltaB = payload.AmountB.Neg()
	res.LPShare = share

	if err := ag.ApplyDelta(res.DeltaA, res.DeltaB); err != nil {
		return fmt.Errorf("engine: liquidity settlement for %s: %w", ag.Name, err)
	}
	return nil
}

// resolveAlliance records the intent; mutuality is checked at end of turn.
// Proposing an alliance always succeeds as an intent — unless the target
// does not exist or is the proposer itself.
func (r *resolver) resolveAlliance(ag *agents.Agent, res *Resolution) {
	payload, ok := res.Action.Payload.(agents.AlliancePayload)
	if !ok {
		res.reject(FailureInvalidPayload)
		return
	}
	if _, exists := r.index[payload.Target]; !exists || payload.Target == ag.Name {
		res.reject(FailureUnknownAgent)
		return
	}
	r.proposals[ag.Name] = payload.Target
}

// endTurn resolves alliance intents and boredom penalties after all
// agents have acted. Mutual proposals pay the alliance bonus to both
// sides; unreciprocated intents are betrayals. Agents whose do_nothing
// streak exceeds the threshold lose the boredom penalty, floored at a
// zero balance.
func (r *resolver) endTurn() (adjustments []Adjustment, mutual []AlliancePair, betrayed []string, err error) {
	// Alliance resolution: deterministic order over proposers.
	proposers := make([]string, 0, len(r.proposals))
	for name := range r.proposals {
		proposers = append(proposers, name)
	}
	sort.Strings(proposers)

	paired := make(map[string]bool)
	for _, name := range proposers {
		target := r.proposals[name]
		if paired[name] {
			continue
		}
		if r.proposals[target] == name {
			paired[name], paired[target] = true, true
			mutual = append(mutual, AlliancePair{A: name, B: target})
			for _, member := range []string{name, target} {
				if applyErr := r.index[member].ApplyDelta(r.cfg.AllianceBonus, decimal.Zero); applyErr != nil {
					return nil, nil, nil, fmt.Errorf("engine: alliance bonus for %s: %w", member, applyErr)
				}
				adjustments = append(adjustments, Adjustment{
					Agent:  member,
					Kind:   AdjustAllianceBonus,
					DeltaA: r.cfg.AllianceBonus,
				})
			}
		} else {
			betrayed = append(betrayed, name)
		}
	}

	// Boredom penalties, in stable agent-name order.
	names := make([]string, 0, len(r.index))
	for name := range r.index {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		ag := r.index[name]
		if ag.DoNothingStreak() <= r.cfg.BoredomThreshold {
			continue
		}
		balA, _ := ag.Balances()
		penalty := r.cfg.BoredomPenalty
		if balA.LessThan(penalty) {
			penalty = balA
		}
		if !penalty.IsPositive() {
			continue
		}
		if applyErr := ag.ApplyDelta(penalty.Neg(), decimal.Zero); applyErr != nil {
			return nil, nil, nil, fmt.Errorf("engine: boredom penalty for %s: %w", name, applyErr)
		}
		adjustments = append(adjustments, Adjustment{
			Agent:  name,
			Kind:   AdjustBoredomPenalty,
			DeltaA: penalty.Neg(),
		})
	}

	return adjustments, mutual, betrayed, nil
}

func (res *Resolution) reject(failure string) {
	res.Status = StatusRejected
	res.Failure = failure
	res.DeltaA = decimal.Zero
	res.DeltaB = decimal.Zero
}
