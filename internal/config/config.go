// Package config loads runtime settings from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/talgya/defi-arena/internal/engine"
)

// Settings is everything the binaries read from the environment:
// the simulation parameters plus service-level knobs.
type Settings struct {
	Simulation engine.Config

	// TotalRuns is how many runs a batch executes back to back.
	TotalRuns int

	// MiniMaxAPIKey enables the LLM oracle; empty means scripted mode.
	MiniMaxAPIKey string

	// DatabaseURL selects PostgreSQL when set; otherwise SQLitePath.
	DatabaseURL string
	SQLitePath  string

	Port int
}

// Load reads settings from the environment, falling back to defaults
// for anything unset. Malformed values are errors, not silent defaults.
func Load() (Settings, error) {
	s := Settings{
		Simulation:    engine.DefaultConfig(),
		TotalRuns:     100,
		MiniMaxAPIKey: os.Getenv("MINIMAX_API_KEY"),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		SQLitePath:    "data/arena.db",
		Port:          8080,
	}
	if v := os.Getenv("ARENA_DB_PATH"); v != "" {
		s.SQLitePath = v
	}

	var err error
	if s.TotalRuns, err = intEnv("TOTAL_RUNS", s.TotalRuns); err != nil {
		return s, err
	}
	if s.Port, err = intEnv("PORT", s.Port); err != nil {
		return s, err
	}

	sim := &s.Simulation
	if sim.NumAgents, err = intEnv("NUM_AGENTS", sim.NumAgents); err != nil {
		return s, err
	}
	if sim.TurnsPerRun, err = intEnv("TURNS_PER_RUN", sim.TurnsPerRun); err != nil {
		return s, err
	}
	if sim.BoredomThreshold, err = intEnv("BOREDOM_THRESHOLD", sim.BoredomThreshold); err != nil {
		return s, err
	}
	if sim.MarketMakerInterval, err = intEnv("MARKET_MAKER_INTERVAL", sim.MarketMakerInterval); err != nil {
		return s, err
	}

	if sim.InitialTokens, err = decimalEnv("INITIAL_TOKENS", sim.InitialTokens); err != nil {
		return s, err
	}
	if sim.InitialReserveA, err = decimalEnv("POOL_RESERVE_A", sim.InitialReserveA); err != nil {
		return s, err
	}
	if sim.InitialReserveB, err = decimalEnv("POOL_RESERVE_B", sim.InitialReserveB); err != nil {
		return s, err
	}
	if sim.FeeRate, err = decimalEnv("SWAP_FEE", sim.FeeRate); err != nil {
		return s, err
	}
	if sim.BoredomPenalty, err = decimalEnv("BOREDOM_PENALTY", sim.BoredomPenalty); err != nil {
		return s, err
	}
	if sim.AllianceBonus, err = decimalEnv("ALLIANCE_BONUS", sim.AllianceBonus); err != nil {
		return s, err
	}

	if sim.MarketMakerFraction, err = floatEnv("MARKET_MAKER_FRACTION", sim.MarketMakerFraction); err != nil {
		return s, err
	}
	if sim.ShockProbability, err = floatEnv("SHOCK_PROBABILITY", sim.ShockProbability); err != nil {
		return s, err
	}
	if sim.ShockMagnitude, err = floatEnv("SHOCK_MAGNITUDE", sim.ShockMagnitude); err != nil {
		return s, err
	}

	if v := os.Getenv("SEED"); v != "" {
		seed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return s, fmt.Errorf("config: SEED: %w", err)
		}
		sim.Seed = seed
	}
	if v := os.Getenv("ORACLE_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return s, fmt.Errorf("config: ORACLE_TIMEOUT: %w", err)
		}
		sim.OracleTimeout = d
	}

	return s, nil
}

func intEnv(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return n, nil
}

func floatEnv(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return f, nil
}

func decimalEnv(key string, fallback decimal.Decimal) (decimal.Decimal, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Zero, fmt.Errorf("config: %s: %w", key, err)
	}
	return d, nil
}
