package rebalance

import (
	"math"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"blackholego/internal/clmath"
)

// SwapPlan is the Swapping stage's decision: which token to sell for which,
// how much, or whether the drift is small enough to skip entirely
// (spec.md §4.5 Swapping, §4.1's ratio-for-range branches).
type SwapPlan struct {
	Skip       bool
	TokenIn    common.Address
	TokenOut   common.Address
	AmountIn   *big.Int
	DeltaValue float64 // signed delta (current minus target token0 value), in token1 value units; 0 for out-of-range plans
}

// computeSwapPlan implements spec.md §4.5's three-branch swap-plan logic.
// Below/above-range positions swap the entire off-side balance; an in-range
// position swaps only the value delta between its current split and the
// ratio RatioForRange computed for the target range, and skips the swap
// altogether when that delta is under minSwapValue.
func computeSwapPlan(d *Descriptor, minSwapValue float64) SwapPlan {
	r := d.Ratio

	switch {
	case !r.InRange && r.BelowRange:
		return SwapPlan{TokenIn: d.Token1, TokenOut: d.Token0, AmountIn: new(big.Int).Set(d.Balance1)}
	case !r.InRange && r.AboveRange:
		return SwapPlan{TokenIn: d.Token0, TokenOut: d.Token1, AmountIn: new(big.Int).Set(d.Balance0)}
	}

	price := clmath.HumanPrice(d.CurrentTick, int(d.Dec0), int(d.Dec1))
	bal0 := humanUnits(d.Balance0, d.Dec0)
	bal1 := humanUnits(d.Balance1, d.Dec1)

	totalValue := bal0*price + bal1
	target0Value := totalValue * r.Token0Ratio
	current0Value := bal0 * price
	delta := current0Value - target0Value

	if math.Abs(delta) < minSwapValue {
		return SwapPlan{Skip: true, DeltaValue: delta}
	}

	if delta > 0 {
		// Too much token0 value: sell the excess for token1.
		amount := delta / price
		return SwapPlan{TokenIn: d.Token0, TokenOut: d.Token1, AmountIn: rawUnits(amount, d.Dec0), DeltaValue: delta}
	}
	// Too much token1 value: sell the excess for token0.
	amount := -delta
	return SwapPlan{TokenIn: d.Token1, TokenOut: d.Token0, AmountIn: rawUnits(amount, d.Dec1), DeltaValue: delta}
}

func humanUnits(amount *big.Int, decimals uint8) float64 {
	f := new(big.Float).SetInt(amount)
	scale := new(big.Float).SetFloat64(math.Pow10(int(decimals)))
	f.Quo(f, scale)
	out, _ := f.Float64()
	return out
}

func rawUnits(amount float64, decimals uint8) *big.Int {
	f := new(big.Float).SetFloat64(amount)
	scale := new(big.Float).SetFloat64(math.Pow10(int(decimals)))
	f.Mul(f, scale)
	out, _ := f.Int(nil)
	return out
}
