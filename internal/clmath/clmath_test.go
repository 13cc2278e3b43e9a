package clmath

import (
	"math/big"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAlignToSpacing_RoundTrip(t *testing.T) {
	// alignToSpacing(alignToSpacing(t, s, floor), s, ceil) == alignToSpacing(t, s, floor)
	// when t is already aligned (spec.md §8 round-trip property).
	for _, tc := range []struct {
		tick, spacing int
	}{
		{-196440, 60},
		{0, 200},
		{600, 200},
		{-887000, 200},
	} {
		floored := AlignToSpacing(tc.tick, tc.spacing, Floor)
		require.Zero(t, floored%tc.spacing)
		roundTripped := AlignToSpacing(floored, tc.spacing, Ceil)
		assert.Equal(t, floored, roundTripped, "tick=%d spacing=%d", tc.tick, tc.spacing)
	}
}

func TestComputeNewRange_AlignmentInvariant(t *testing.T) {
	cases := []struct {
		tick     int
		spacing  int
		rangeMul float64
	}{
		{-196320, 60, 2.6},
		{0, 200, 1.0},
		{123456, 10, 3.3},
		{-249587, 200, 2.6},
	}

	for _, tc := range cases {
		lower, upper, err := ComputeNewRange(tc.tick, tc.spacing, tc.rangeMul)
		require.NoError(t, err)

		assert.Zero(t, lower%tc.spacing, "tickLower must be a spacing multiple")
		assert.Zero(t, upper%tc.spacing, "tickUpper must be a spacing multiple")
		assert.Less(t, lower, upper)
		assert.LessOrEqual(t, lower, tc.tick)
		assert.LessOrEqual(t, tc.tick, upper)
		assert.GreaterOrEqual(t, lower, MinTick)
		assert.LessOrEqual(t, upper, MaxTick)
	}
}

func TestComputeNewRange_ScenarioA(t *testing.T) {
	// spec.md §8 scenario A: currentTick=-196320, spacing=60, rangeMultiplier=2.6
	lower, upper, err := ComputeNewRange(-196320, 60, 2.6)
	require.NoError(t, err)
	assert.Equal(t, -196440, lower)
	assert.Equal(t, -196200, upper)
}

func TestRatioForRange_Boundaries(t *testing.T) {
	// ratioForRange returns (1,0) exactly when currentTick < tickLower, and
	// (0,1) exactly when currentTick > tickUpper (spec.md §8 property 3).
	below := RatioForRange(-100, -50, 50, 18, 6)
	assert.Equal(t, RatioResult{Token0Ratio: 1, Token1Ratio: 0, BelowRange: true}, below)

	above := RatioForRange(100, -50, 50, 18, 6)
	assert.Equal(t, RatioResult{Token0Ratio: 0, Token1Ratio: 1, AboveRange: true}, above)

	inRange := RatioForRange(0, -50, 50, 18, 6)
	assert.True(t, inRange.InRange)
	assert.False(t, inRange.BelowRange || inRange.AboveRange)
}

func TestRatioForRange_Monotonicity(t *testing.T) {
	// Fixing currentTick and tickUpper, moving tickLower toward currentTick
	// must monotonically decrease token0Ratio (spec.md §8 property 2).
	currentTick, tickUpper := 0, 1000
	prevRatio := 1.1 // sentinel above any valid ratio
	for tickLower := -1000; tickLower < currentTick; tickLower += 100 {
		r := RatioForRange(currentTick, tickLower, tickUpper, 18, 18)
		require.True(t, r.InRange)
		assert.Less(t, r.Token0Ratio, prevRatio)
		prevRatio = r.Token0Ratio
	}
}

func TestAmountOutMinimum_NeverExceedsAmount(t *testing.T) {
	amount := big.NewInt(1_000_000)
	for bps := 0; bps <= 10_000; bps += 137 {
		min := AmountOutMinimum(amount, bps)
		assert.LessOrEqual(t, min.Cmp(amount), 0)
		assert.GreaterOrEqual(t, min.Sign(), 0)
	}
}

func TestAmountOutMinimum_ZeroSlippageIsIdentity(t *testing.T) {
	amount := big.NewInt(123_456_789)
	assert.Equal(t, amount, AmountOutMinimum(amount, 0))
}

func TestAmountsForLiquidity_OutOfRangeBranches(t *testing.T) {
	l := uint256.NewInt(1_000_000_000_000)

	a0, a1 := AmountsForLiquidity(l, -1000, -500, 500)
	assert.False(t, a0.IsZero())
	assert.True(t, a1.IsZero(), "fully below range should hold only token0")

	b0, b1 := AmountsForLiquidity(l, 1000, -500, 500)
	assert.True(t, b0.IsZero(), "fully above range should hold only token1")
	assert.False(t, b1.IsZero())
}

func TestSqrtPriceX96_Monotonic(t *testing.T) {
	prev := SqrtPriceX96(-887272)
	for _, tick := range []int{-500000, -100000, 0, 100000, 500000} {
		cur := SqrtPriceX96(tick)
		assert.Greater(t, cur.Cmp(prev), 0)
		prev = cur
	}
}
