// Package engine drives one simulation run: it obtains decided actions
// from an external decision oracle, resolves them against the shared pool,
// applies incentive adjustments and scheduled market events, and emits an
// immutable record per turn. The engine never decides actions itself and
// has no dependency on any model API.
package engine

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Config holds everything a run needs at creation time. Values mirror the
// knobs exposed through the environment (see internal/config).
type Config struct {
	NumAgents   int `json:"num_agents"`
	TurnsPerRun int `json:"turns_per_run"`

	InitialReserveA decimal.Decimal `json:"initial_reserve_a"`
	InitialReserveB decimal.Decimal `json:"initial_reserve_b"`
	FeeRate         decimal.Decimal `json:"fee_rate"`

	// Per-agent starting balance of each asset.
	InitialTokens decimal.Decimal `json:"initial_tokens"`

	// Incentive mechanics.
	BoredomThreshold int             `json:"boredom_threshold"`
	BoredomPenalty   decimal.Decimal `json:"boredom_penalty"`
	AllianceBonus    decimal.Decimal `json:"alliance_bonus"`

	// Scheduled market events. An interval of 0 disables the market maker;
	// a probability of 0 disables shocks.
	MarketMakerInterval int     `json:"market_maker_interval"`
	MarketMakerFraction float64 `json:"market_maker_fraction"`
	ShockProbability    float64 `json:"shock_probability"`
	ShockMagnitude      float64 `json:"shock_magnitude"`

	// Seed for the event entropy source. 0 means nondeterministic.
	Seed int64 `json:"seed"`

	// Per-call decision oracle timeout. Timeout substitutes do_nothing.
	OracleTimeout time.Duration `json:"oracle_timeout"`
}

// DefaultConfig returns the stock simulation parameters.
func DefaultConfig() Config {
	return Config{
		NumAgents:           5,
		TurnsPerRun:         5,
		InitialReserveA:     decimal.NewFromInt(1000),
		InitialReserveB:     decimal.NewFromInt(1000),
		FeeRate:             decimal.NewFromFloat(0.003),
		InitialTokens:       decimal.NewFromInt(100),
		BoredomThreshold:    2,
		BoredomPenalty:      decimal.NewFromInt(10),
		AllianceBonus:       decimal.NewFromInt(15),
		MarketMakerInterval: 3,
		MarketMakerFraction: 0.15,
		ShockProbability:    0.1,
		ShockMagnitude:      0.10,
		OracleTimeout:       30 * time.Second,
	}
}

func (c Config) validate() error {
	if c.NumAgents <= 0 {
		return errors.New("engine: num_agents must be positive")
	}
	if c.TurnsPerRun <= 0 {
		return errors.New("engine: turns_per_run must be positive")
	}
	if !c.InitialTokens.IsPositive() {
		return errors.New("engine: initial_tokens must be positive")
	}
	if c.BoredomThreshold < 0 {
		return errors.New("engine: boredom_threshold must be non-negative")
	}
	if c.BoredomPenalty.IsNegative() || c.AllianceBonus.IsNegative() {
		return errors.New("engine: incentive amounts must be non-negative")
	}
	if c.MarketMakerFraction < 0 || c.MarketMakerFraction >= 1 {
		return errors.New("engine: market_maker_fraction must be in [0, 1)")
	}
	if c.ShockProbability < 0 || c.ShockProbability > 1 {
		return errors.New("engine: shock_probability must be in [0, 1]")
	}
	if c.ShockMagnitude < 0 || c.ShockMagnitude >= 1 {
		return errors.New("engine: shock_magnitude must be in [0, 1)")
	}
	if c.OracleTimeout <= 0 {
		return errors.New("engine: oracle_timeout must be positive")
	}
	return nil
}
