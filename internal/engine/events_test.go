package engine

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/talgya/defi-arena/internal/amm"
	"github.com/talgya/defi-arena/internal/entropy"
)

func newTestScheduler(t *testing.T, cfg Config) (*scheduler, *amm.Pool) {
	t.Helper()
	pool, err := amm.New(cfg.InitialReserveA, cfg.InitialReserveB, cfg.FeeRate)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return newScheduler(cfg, entropy.NewSource(cfg.Seed)), pool
}

func TestScheduler_DisabledConfigProducesNoEvents(t *testing.T) {
	cfg := testConfig(2)
	sched, pool := newTestScheduler(t, cfg)

	for turn := 1; turn <= 10; turn++ {
		events, err := sched.apply(turn, pool)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(events) != 0 {
			t.Fatalf("turn %d: expected no events, got %+v", turn, events)
		}
	}

	reserveA, reserveB := pool.Reserves()
	if !reserveA.Equal(d(1000)) || !reserveB.Equal(d(1000)) {
		t.Errorf("reserves moved without events: %s/%s", reserveA, reserveB)
	}
}

func TestScheduler_MarketMakerFiresOnInterval(t *testing.T) {
	cfg := testConfig(2)
	cfg.MarketMakerInterval = 3
	sched, pool := newTestScheduler(t, cfg)

	for turn := 1; turn <= 7; turn++ {
		events, err := sched.apply(turn, pool)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if turn%3 != 0 {
			if len(events) != 0 {
				t.Errorf("turn %d: off-interval event %+v", turn, events)
			}
			continue
		}
		if len(events) != 1 || events[0].Kind != EventMarketMaker {
			t.Fatalf("turn %d: expected one market_maker event, got %+v", turn, events)
		}
		if !events[0].Amount.IsPositive() {
			t.Errorf("turn %d: expected positive trade size, got %s", turn, events[0].Amount)
		}
		if !events[0].Asset.Valid() {
			t.Errorf("turn %d: bad asset %q", turn, events[0].Asset)
		}
	}

	reserveA, reserveB := pool.Reserves()
	if reserveA.Equal(d(1000)) && reserveB.Equal(d(1000)) {
		t.Error("market maker trades left the pool untouched")
	}
}

func TestScheduler_ShockAlwaysFiresAtProbabilityOne(t *testing.T) {
	cfg := testConfig(2)
	cfg.ShockProbability = 1
	cfg.ShockMagnitude = 0.10
	sched, pool := newTestScheduler(t, cfg)

	events, err := sched.apply(1, pool)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(events) != 1 || events[0].Kind != EventPriceShock {
		t.Fatalf("expected one price_shock event, got %+v", events)
	}
	if !events[0].Factor.Abs().Equal(d(0.1)) {
		t.Errorf("expected |factor| 0.1, got %s", events[0].Factor)
	}

	// Exactly one reserve moved by 10%, the other is untouched.
	reserveA, reserveB := pool.Reserves()
	moved := 0
	for _, r := range []decimal.Decimal{reserveA, reserveB} {
		switch {
		case r.Equal(d(1000)):
		case r.Equal(d(1100)) || r.Equal(d(900)):
			moved++
		default:
			t.Errorf("unexpected reserve %s", r)
		}
	}
	if moved != 1 {
		t.Errorf("expected exactly one shocked reserve, got %d (%s/%s)", moved, reserveA, reserveB)
	}
}

func TestScheduler_SameSeedReplaysIdentically(t *testing.T) {
	cfg := testConfig(2)
	cfg.MarketMakerInterval = 2
	cfg.ShockProbability = 0.5
	cfg.Seed = 1234

	runOnce := func() []MarketEvent {
		sched, pool := newTestScheduler(t, cfg)
		var all []MarketEvent
		for turn := 1; turn <= 10; turn++ {
			events, err := sched.apply(turn, pool)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			all = append(all, events...)
		}
		return all
	}

	first := runOnce()
	second := runOnce()
	if len(first) != len(second) {
		t.Fatalf("event counts differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		a, b := first[i], second[i]
		if a.Turn != b.Turn || a.Kind != b.Kind || a.Asset != b.Asset ||
			!a.Amount.Equal(b.Amount) || !a.Factor.Equal(b.Factor) {
			t.Errorf("event %d differs: %+v vs %+v", i, a, b)
		}
	}
	if len(first) == 0 {
		t.Error("expected at least one event over ten turns")
	}
}
