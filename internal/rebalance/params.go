package rebalance

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// DecreaseLiquidityParams mirrors the Position Manager's
// decreaseLiquidity(params) input tuple, packed positionally by component
// order (spec.md §4.5 Withdrawing).
type DecreaseLiquidityParams struct {
	TokenID    *big.Int
	Liquidity  *big.Int
	Amount0Min *big.Int
	Amount1Min *big.Int
	Deadline   *big.Int
}

// CollectParams mirrors the Position Manager's collect(params) input tuple.
type CollectParams struct {
	TokenID    *big.Int
	Recipient  common.Address
	Amount0Max *big.Int
	Amount1Max *big.Int
}

// maxUint128 is the collect() sentinel meaning "collect everything owed",
// the standard pattern for draining fees/principal in one call.
func maxUint128() *big.Int {
	max := new(big.Int).Lsh(big.NewInt(1), 128)
	return max.Sub(max, big.NewInt(1))
}
