// Package amm implements the constant-product pool shared by every agent
// in a run. One pool, two assets, no routing.
//
// All monetary values use shopspring/decimal — never float64 for money.
// The only transcendental operation (the geometric mean for the first
// liquidity provider's share) drops to float64 and converts straight back.
package amm

import (
	"errors"
	"math"

	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidAmount is returned when a swap or liquidity amount is not positive.
	ErrInvalidAmount = errors.New("amm: amount must be positive")

	// ErrInsufficientLiquidity is returned when a swap would drain the
	// output-side reserve.
	ErrInsufficientLiquidity = errors.New("amm: swap would drain pool reserve")

	// ErrRatioMismatch is returned when provided liquidity does not match
	// the current reserve ratio within RatioTolerance.
	ErrRatioMismatch = errors.New("amm: liquidity amounts must match reserve ratio")

	// ErrDrainedPool signals a zero reserve on a price query. Reserves are
	// validated on every mutation, so hitting this means resolution logic
	// has a bug — callers treat it as fatal.
	ErrDrainedPool = errors.New("amm: pool reserve is zero")

	// ErrUnknownProvider is returned when removing liquidity for a provider
	// with no recorded share.
	ErrUnknownProvider = errors.New("amm: no liquidity share for provider")

	// ErrShockTooLarge is returned when a price shock would zero out or
	// negate a reserve.
	ErrShockTooLarge = errors.New("amm: shock factor must stay above -1")

	// RatioTolerance is the maximum relative deviation between the provided
	// liquidity ratio and the reserve ratio.
	RatioTolerance = decimal.NewFromFloat(0.01)
)

// Asset identifies one side of the pool.
type Asset string

const (
	AssetA Asset = "a"
	AssetB Asset = "b"
)

// Other returns the opposite side of the pair.
func (a Asset) Other() Asset {
	if a == AssetA {
		return AssetB
	}
	return AssetA
}

// Valid reports whether the asset names a real pool side.
func (a Asset) Valid() bool {
	return a == AssetA || a == AssetB
}

// Pool holds constant-product reserve state for one asset pair.
// It is not safe for concurrent use; a run serializes all access by
// strict turn order.
type Pool struct {
	reserveA decimal.Decimal
	reserveB decimal.Decimal
	feeRate  decimal.Decimal

	// LP share ledger, provider name → share.
	shares map[string]decimal.Decimal
}

// New creates a pool with the given initial reserves and fee rate.
// Reserves must be positive and the fee rate must lie in [0, 1).
func New(reserveA, reserveB, feeRate decimal.Decimal) (*Pool, error) {
	if !reserveA.IsPositive() || !reserveB.IsPositive() {
		return nil, ErrInvalidAmount
	}
	if feeRate.IsNegative() || feeRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return nil, errors.New("amm: fee rate must be in [0, 1)")
	}
	return &Pool{
		reserveA: reserveA,
		reserveB: reserveB,
		feeRate:  feeRate,
		shares:   make(map[string]decimal.Decimal),
	}, nil
}

// Reserves returns the current reserve quantities.
func (p *Pool) Reserves() (a, b decimal.Decimal) {
	return p.reserveA, p.reserveB
}

// FeeRate returns the swap fee fraction.
func (p *Pool) FeeRate() decimal.Decimal {
	return p.feeRate
}

// K returns the constant product reserveA * reserveB. After any valid
// swap, K never decreases (strictly increases when feeRate > 0).
func (p *Pool) K() decimal.Decimal {
	return p.reserveA.Mul(p.reserveB)
}

// Price returns the spot exchange rate reserveB / reserveA: how many
// units of B one unit of A buys at the margin.
func (p *Pool) Price() (decimal.Decimal, error) {
	if !p.reserveA.IsPositive() || !p.reserveB.IsPositive() {
		return decimal.Zero, ErrDrainedPool
	}
	return p.reserveB.Div(p.reserveA), nil
}

// SwapQuote describes the outcome of a swap without mutating the pool.
type SwapQuote struct {
	Input       Asset           `json:"input"`
	AmountIn    decimal.Decimal `json:"amount_in"`
	Fee         decimal.Decimal `json:"fee"`
	AmountOut   decimal.Decimal `json:"amount_out"`
	NewReserveA decimal.Decimal `json:"new_reserve_a"`
	NewReserveB decimal.Decimal `json:"new_reserve_b"`
}

// QuoteSwap computes the output for swapping amountIn of the input asset.
// The fee is taken on input: effective = amountIn * (1 - feeRate), then
//
//	out = rOut - rIn*rOut / (rIn + effective)
//
// The full amountIn (fee included) enters the reserve, which is what makes
// K grow on fee-bearing pools.
func (p *Pool) QuoteSwap(input Asset, amountIn decimal.Decimal) (SwapQuote, error) {
	if !input.Valid() {
		return SwapQuote{}, ErrInvalidAmount
	}
	if !amountIn.IsPositive() {
		return SwapQuote{}, ErrInvalidAmount
	}

	rIn, rOut := p.reserveA, p.reserveB
	if input == AssetB {
		rIn, rOut = p.reserveB, p.reserveA
	}

	fee := amountIn.Mul(p.feeRate)
	effective := amountIn.Sub(fee)
	out := rOut.Sub(rIn.Mul(rOut).Div(rIn.Add(effective)))

	if out.GreaterThanOrEqual(rOut) || rOut.Sub(out).LessThanOrEqual(decimal.Zero) {
		return SwapQuote{}, ErrInsufficientLiquidity
	}

	q := SwapQuote{
		Input:     input,
		AmountIn:  amountIn,
		Fee:       fee,
		AmountOut: out,
	}
	if input == AssetA {
		q.NewReserveA = p.reserveA.Add(amountIn)
		q.NewReserveB = p.reserveB.Sub(out)
	} else {
		q.NewReserveA = p.reserveA.Sub(out)
		q.NewReserveB = p.reserveB.Add(amountIn)
	}
	return q, nil
}

// ExecuteSwap applies a swap to the reserves and returns the realized
// quote. Validation happens up front; after it passes, the state
// transition cannot partially fail, so there is no rollback path.
func (p *Pool) ExecuteSwap(input Asset, amountIn decimal.Decimal) (SwapQuote, error) {
	q, err := p.QuoteSwap(input, amountIn)
	if err != nil {
		return SwapQuote{}, err
	}
	p.reserveA = q.NewReserveA
	p.reserveB = q.NewReserveB
	return q, nil
}

// AddLiquidity increases both reserves and mints an LP share for the
// provider. The amounts must match the current reserve ratio within
// RatioTolerance. The first provider's share is the geometric mean
// sqrt(a*b); later providers get min(a/rA, b/rB) * (rA + rB).
func (p *Pool) AddLiquidity(provider string, amountA, amountB decimal.Decimal) (decimal.Decimal, error) {
	if !amountA.IsPositive() || !amountB.IsPositive() {
		return decimal.Zero, ErrInvalidAmount
	}

	// Ratio check: |a*rB - b*rA| <= tolerance * b*rA.
	diff := amountA.Mul(p.reserveB).Sub(amountB.Mul(p.reserveA)).Abs()
	base := amountB.Mul(p.reserveA)
	if diff.GreaterThan(base.Mul(RatioTolerance)) {
		return decimal.Zero, ErrRatioMismatch
	}

	var share decimal.Decimal
	if p.TotalShares().IsZero() {
		share = decimal.NewFromFloat(math.Sqrt(amountA.Mul(amountB).InexactFloat64()))
	} else {
		shareA := amountA.Div(p.reserveA)
		shareB := amountB.Div(p.reserveB)
		frac := shareA
		if shareB.LessThan(frac) {
			frac = shareB
		}
		share = frac.Mul(p.reserveA.Add(p.reserveB))
	}

	p.reserveA = p.reserveA.Add(amountA)
	p.reserveB = p.reserveB.Add(amountB)
	p.shares[provider] = p.shares[provider].Add(share)
	return share, nil
}

// RemoveLiquidity burns up to `share` LP units for the provider and pays
// out the proportional slice of both reserves.
func (p *Pool) RemoveLiquidity(provider string, share decimal.Decimal) (outA, outB decimal.Decimal, err error) {
	if !share.IsPositive() {
		return decimal.Zero, decimal.Zero, ErrInvalidAmount
	}
	held := p.shares[provider]
	if !held.IsPositive() {
		return decimal.Zero, decimal.Zero, ErrUnknownProvider
	}
	if share.GreaterThan(held) {
		share = held
	}

	frac := share.Div(p.TotalShares())
	outA = p.reserveA.Mul(frac)
	outB = p.reserveB.Mul(frac)

	p.reserveA = p.reserveA.Sub(outA)
	p.reserveB = p.reserveB.Sub(outB)
	p.shares[provider] = held.Sub(share)
	return outA, outB, nil
}

// TotalShares returns the sum of all outstanding LP shares.
func (p *Pool) TotalShares() decimal.Decimal {
	total := decimal.Zero
	for _, s := range p.shares {
		total = total.Add(s)
	}
	return total
}

// Share returns the LP share held by one provider.
func (p *Pool) Share(provider string) decimal.Decimal {
	return p.shares[provider]
}

// ApplyShock multiplies one reserve by (1 + factor), bypassing the
// constant-product formula. This models an exogenous market disruption
// and intentionally breaks the K invariant; subsequent swaps price off
// the shocked reserves.
func (p *Pool) ApplyShock(asset Asset, factor decimal.Decimal) error {
	if !asset.Valid() {
		return ErrInvalidAmount
	}
	if factor.LessThanOrEqual(decimal.NewFromInt(-1)) {
		return ErrShockTooLarge
	}
	mult := decimal.NewFromInt(1).Add(factor)
	if asset == AssetA {
		p.reserveA = p.reserveA.Mul(mult)
	} else {
		p.reserveB = p.reserveB.Mul(mult)
	}
	return nil
}

// Snapshot is an immutable view of pool state for turn records and
// decision prompts.
type Snapshot struct {
	ReserveA    decimal.Decimal `json:"reserve_a"`
	ReserveB    decimal.Decimal `json:"reserve_b"`
	Price       decimal.Decimal `json:"price"`
	K           decimal.Decimal `json:"k"`
	TotalShares decimal.Decimal `json:"total_shares"`
}

// Snapshot captures the current pool state. Price is zero on a drained
// pool; callers that care check reserves themselves.
func (p *Pool) Snapshot() Snapshot {
	price, _ := p.Price()
	return Snapshot{
		ReserveA:    p.reserveA,
		ReserveB:    p.reserveB,
		Price:       price,
		K:           p.K(),
		TotalShares: p.TotalShares(),
	}
}
