package engine

import (
	"errors"
	"fmt"
	"log/slog"

	opensimplex "github.com/ojrac/opensimplex-go"
	"github.com/shopspring/decimal"

	"github.com/talgya/defi-arena/internal/amm"
	"github.com/talgya/defi-arena/internal/entropy"
	"github.com/talgya/defi-arena/internal/observability"
)

// Market event kinds applied after all agent actions in a turn.
const (
	EventMarketMaker = "market_maker"
	EventPriceShock  = "price_shock"
)

// MarketEvent records one scheduled effect on the pool. These are not
// attributable to any agent.
type MarketEvent struct {
	Turn   int             `json:"turn"`
	Kind   string          `json:"kind"`
	Asset  amm.Asset       `json:"asset"`
	Amount decimal.Decimal `json:"amount,omitempty"`
	Factor decimal.Decimal `json:"factor,omitempty"`
}

// mmNoiseFrequency spaces market-maker noise samples far enough apart on
// the turn axis that consecutive events stay decorrelated but smooth.
const mmNoiseFrequency = 0.37

// scheduler injects volatility: a synthetic market-maker trade every N
// turns (size modulated by coherent noise over the turn index, so volumes
// drift rather than jump), and an exogenous price shock with configured
// probability.
type scheduler struct {
	cfg   Config
	noise opensimplex.Noise
	rand  *entropy.Source
}

func newScheduler(cfg Config, src *entropy.Source) *scheduler {
	return &scheduler{
		cfg:   cfg,
		noise: opensimplex.NewNormalized(src.Seed()),
		rand:  src,
	}
}

// apply runs the scheduled effects for one turn. Domain-level swap
// rejections are skipped with a log; a pool left unpriceable after a
// shock is an invariant violation and aborts the run.
func (s *scheduler) apply(turn int, pool *amm.Pool) ([]MarketEvent, error) {
	var events []MarketEvent

	if s.cfg.MarketMakerInterval > 0 && turn%s.cfg.MarketMakerInterval == 0 {
		if ev, ok := s.marketMakerTrade(turn, pool); ok {
			events = append(events, ev)
		}
	}

	if s.cfg.ShockProbability > 0 && s.rand.Float() < s.cfg.ShockProbability {
		ev, err := s.priceShock(turn, pool)
		if err != nil {
			return events, err
		}
		events = append(events, ev)
	}

	return events, nil
}

// marketMakerTrade executes a synthetic swap of roughly
// MarketMakerFraction of one reserve. The noise sample picks the side
// and scales the size between 0.5x and 1.5x of the configured fraction.
func (s *scheduler) marketMakerTrade(turn int, pool *amm.Pool) (MarketEvent, bool) {
	n := s.noise.Eval2(float64(turn)*mmNoiseFrequency, 0)

	input := amm.AssetA
	if n >= 0.5 {
		input = amm.AssetB
	}

	reserveA, reserveB := pool.Reserves()
	reserveIn := reserveA
	if input == amm.AssetB {
		reserveIn = reserveB
	}

	fraction := decimal.NewFromFloat(s.cfg.MarketMakerFraction * (0.5 + n))
	amount := reserveIn.Mul(fraction)

	if _, err := pool.ExecuteSwap(input, amount); err != nil {
		// A rejected synthetic trade is harmless; skip the event.
		slog.Warn("market maker trade rejected", "turn", turn, "asset", input, "error", err)
		return MarketEvent{}, false
	}

	observability.MarketEvents.WithLabelValues(EventMarketMaker).Inc()
	return MarketEvent{
		Turn:   turn,
		Kind:   EventMarketMaker,
		Asset:  input,
		Amount: amount,
	}, true
}

// priceShock perturbs one reserve by ±ShockMagnitude, bypassing the
// constant-product formula. Afterwards it confirms the pool still prices,
// so subsequent normal swaps recalculate k off the shocked reserves.
func (s *scheduler) priceShock(turn int, pool *amm.Pool) (MarketEvent, error) {
	asset := amm.AssetA
	if s.rand.Float() >= 0.5 {
		asset = amm.AssetB
	}
	factor := decimal.NewFromFloat(s.cfg.ShockMagnitude)
	if s.rand.Float() < 0.5 {
		factor = factor.Neg()
	}

	if err := pool.ApplyShock(asset, factor); err != nil {
		return MarketEvent{}, fmt.Errorf("engine: price shock: %w", err)
	}
	if _, err := pool.Price(); err != nil {
		return MarketEvent{}, errors.Join(errors.New("engine: pool unpriceable after shock"), err)
	}

	observability.MarketEvents.WithLabelValues(EventPriceShock).Inc()
	return MarketEvent{
		Turn:   turn,
		Kind:   EventPriceShock,
		Asset:  asset,
		Factor: factor,
	}, nil
}
