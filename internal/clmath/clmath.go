// Package clmath holds the pure, deterministic concentrated-liquidity price
// math: tick<->sqrt-price conversion, ratio-for-range, amounts-for-liquidity,
// and new-range computation (spec.md §4.1). Grounded on the teacher's
// pkg/util amm/calculation helpers (TickToSqrtPriceX96, SqrtPriceToPrice,
// ComputeAmounts, CalculateTokenAmountsFromLiquidity, CalculateTickBounds,
// CalculateRebalanceAmounts), generalized from the teacher's hardcoded
// WAVAX/USDC 18/6-decimal pair to arbitrary token decimals and any tick
// spacing, and switched from float64 sqrt-price approximations to
// uint256-backed integer math on the hot path per spec.md's preference for
// on-chain integers over doubles wherever available.
package clmath

import (
	"errors"
	"math"
	"math/big"

	"github.com/holiman/uint256"
)

// MinTick and MaxTick bound the valid tick range on a Uniswap-V3-style AMM.
const (
	MinTick = -887272
	MaxTick = 887272
)

// ErrInvalidRange is returned when tick alignment collapses a range to zero
// width or outside [MinTick, MaxTick].
var ErrInvalidRange = errors.New("clmath: invalid tick range")

// AlignMode selects the rounding direction used by AlignToSpacing.
type AlignMode int

const (
	Floor AlignMode = iota
	Ceil
)

// q96 is 2^96, the fixed-point base for sqrtPriceX96.
var q96 = new(big.Float).SetInt(new(big.Int).Lsh(big.NewInt(1), 96))

// SqrtPriceX96 returns floor(1.0001^(tick/2) * 2^96) as the on-chain integer
// representation of the tick's square-root price.
func SqrtPriceX96(tick int) *big.Int {
	sqrtPrice := math.Pow(1.0001, float64(tick)/2)
	scaled := new(big.Float).Mul(big.NewFloat(sqrtPrice), q96)
	result, _ := scaled.Int(nil)
	return result
}

// SqrtPriceX96ToFloat converts an on-chain sqrtPriceX96 integer back to a
// plain sqrt-price float (token1/token0, raw units, no decimal adjustment).
func SqrtPriceX96ToFloat(sqrtPriceX96 *big.Int) *big.Float {
	sp := new(big.Float).SetInt(sqrtPriceX96)
	return new(big.Float).Quo(sp, q96)
}

// PriceFromSqrtPriceX96 returns (sqrtPriceX96/2^96)^2, the raw (non-decimal-
// adjusted) price of token1 per token0.
func PriceFromSqrtPriceX96(sqrtPriceX96 *big.Int) *big.Float {
	sp := SqrtPriceX96ToFloat(sqrtPriceX96)
	return new(big.Float).Mul(sp, sp)
}

// HumanPrice returns token1-per-token0 in decimal-adjusted units:
// 1.0001^tick * 10^(dec0-dec1). For diagnostics and ratio math only — never
// for minimum-output bounds, which must use on-chain quoter/amount data.
func HumanPrice(tick int, dec0, dec1 int) float64 {
	rawPrice := math.Pow(1.0001, float64(tick))
	return rawPrice * math.Pow(10, float64(dec0-dec1))
}

// RatioResult is the outcome of RatioForRange: the token split a rebalance
// should target, plus whether the current tick sits inside, below, or above
// the range.
type RatioResult struct {
	Token0Ratio float64 // value-weighted desired fraction of token0
	Token1Ratio float64
	InRange     bool
	BelowRange  bool
	AboveRange  bool
}

// RatioForRange implements spec.md §4.1's three-branch ratio computation.
func RatioForRange(currentTick, tickLower, tickUpper int, dec0, dec1 int) RatioResult {
	if currentTick < tickLower {
		return RatioResult{Token0Ratio: 1, Token1Ratio: 0, BelowRange: true}
	}
	if currentTick > tickUpper {
		return RatioResult{Token0Ratio: 0, Token1Ratio: 1, AboveRange: true}
	}

	sqrtCur, _ := sqrtPriceFloat(currentTick).Float64()
	sqrtLower, _ := sqrtPriceFloat(tickLower).Float64()
	sqrtUpper, _ := sqrtPriceFloat(tickUpper).Float64()

	r := (1/sqrtCur - 1/sqrtUpper) / (sqrtCur - sqrtLower)
	r *= math.Pow(10, float64(dec1-dec0))

	price := HumanPrice(currentTick, dec0, dec1)
	value0 := r * price
	value1 := 1.0
	total := value0 + value1

	return RatioResult{
		Token0Ratio: value0 / total,
		Token1Ratio: value1 / total,
		InRange:     true,
	}
}

func sqrtPriceFloat(tick int) *big.Float {
	return big.NewFloat(math.Pow(1.0001, float64(tick)/2))
}

// AmountsForLiquidity computes (amount0, amount1) in raw integer units for a
// given liquidity L at currentTick against [tickLower, tickUpper], using the
// standard three-branch Uniswap V3 formulas. Observability/analytics only —
// on-chain slippage bounds use quoter output instead (spec.md §4.1).
func AmountsForLiquidity(l *uint256.Int, currentTick, tickLower, tickUpper int) (amount0, amount1 *uint256.Int) {
	sqrtCur := sqrtPriceX96U256(currentTick)
	sqrtLower := sqrtPriceX96U256(tickLower)
	sqrtUpper := sqrtPriceX96U256(tickUpper)

	switch {
	case currentTick < tickLower:
		return amount0ForLiquidity(l, sqrtLower, sqrtUpper), uint256.NewInt(0)
	case currentTick >= tickUpper:
		return uint256.NewInt(0), amount1ForLiquidity(l, sqrtLower, sqrtUpper)
	default:
		a0 := amount0ForLiquidity(l, sqrtCur, sqrtUpper)
		a1 := amount1ForLiquidity(l, sqrtLower, sqrtCur)
		return a0, a1
	}
}

func sqrtPriceX96U256(tick int) *uint256.Int {
	v, _ := uint256.FromBig(SqrtPriceX96(tick))
	return v
}

// amount0ForLiquidity = L * (1/sqrtA - 1/sqrtB) * 2^96, for sqrtA < sqrtB.
func amount0ForLiquidity(l, sqrtA, sqrtB *uint256.Int) *uint256.Int {
	if sqrtA.Cmp(sqrtB) > 0 {
		sqrtA, sqrtB = sqrtB, sqrtA
	}
	if sqrtA.IsZero() || sqrtB.IsZero() {
		return uint256.NewInt(0)
	}

	lBig := l.ToBig()
	aBig := sqrtA.ToBig()
	bBig := sqrtB.ToBig()

	numerator := new(big.Int).Mul(lBig, new(big.Int).Lsh(big.NewInt(1), 96))
	numerator.Mul(numerator, new(big.Int).Sub(bBig, aBig))
	denom := new(big.Int).Mul(aBig, bBig)
	if denom.Sign() == 0 {
		return uint256.NewInt(0)
	}
	result := new(big.Int).Div(numerator, denom)
	out, _ := uint256.FromBig(result)
	return out
}

// amount1ForLiquidity = L * (sqrtB - sqrtA) / 2^96, for sqrtA < sqrtB.
func amount1ForLiquidity(l, sqrtA, sqrtB *uint256.Int) *uint256.Int {
	if sqrtA.Cmp(sqrtB) > 0 {
		sqrtA, sqrtB = sqrtB, sqrtA
	}
	lBig := l.ToBig()
	diff := new(big.Int).Sub(sqrtB.ToBig(), sqrtA.ToBig())
	product := new(big.Int).Mul(lBig, diff)
	result := new(big.Int).Rsh(product, 96)
	out, _ := uint256.FromBig(result)
	return out
}

// AlignToSpacing rounds tick to a multiple of spacing in the given direction,
// clamped into [MinTick, MaxTick].
func AlignToSpacing(tick, spacing int, mode AlignMode) int {
	quotient := tick / spacing
	remainder := tick % spacing

	switch {
	case remainder == 0:
		// already aligned
	case mode == Floor && remainder < 0:
		quotient--
	case mode == Ceil && remainder > 0:
		quotient++
	}

	aligned := quotient * spacing
	if aligned < MinTick {
		aligned = (MinTick / spacing) * spacing
		if aligned < MinTick {
			aligned += spacing
		}
	}
	if aligned > MaxTick {
		aligned = (MaxTick / spacing) * spacing
	}
	return aligned
}

// ComputeNewRange derives a fresh [tickLower, tickUpper] centered on
// currentTick per spec.md §4.1: halfWidth = 30 ticks * rangeMultiplier, a
// flat tick count independent of the pool's spacing, aligned outward to
// that spacing.
func ComputeNewRange(currentTick, spacing int, rangeMultiplier float64) (tickLower, tickUpper int, err error) {
	if spacing <= 0 {
		return 0, 0, errors.New("clmath: tickSpacing must be positive")
	}

	halfWidth := int(30 * rangeMultiplier)
	if halfWidth <= 0 {
		return 0, 0, ErrInvalidRange
	}

	tickLower = AlignToSpacing(currentTick-halfWidth, spacing, Floor)
	tickUpper = AlignToSpacing(currentTick+halfWidth, spacing, Ceil)

	if tickLower >= tickUpper {
		return 0, 0, ErrInvalidRange
	}
	return tickLower, tickUpper, nil
}

// AmountOutMinimum returns amount * (10_000 - slippageBps) / 10_000 using
// integer division, per spec.md §4.4/§4.5's slippage formula.
func AmountOutMinimum(amount *big.Int, slippageBps int) *big.Int {
	numerator := new(big.Int).Mul(amount, big.NewInt(10_000-int64(slippageBps)))
	return numerator.Div(numerator, big.NewInt(10_000))
}
