package chain

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// These ABI fragments cover exactly the methods the Chain Client binds
// (spec.md §6's External Interfaces): the standard ERC-20 surface, the
// CL pool/position-manager/factory surface, and the gauge surface this
// engine's dialect exposes. Kept as inline JSON rather than Hardhat
// artifact files (the teacher's util.LoadABI/LoadABIFromHardhatArtifact
// convention) because this rewrite targets a generic deployment, not one
// pinned set of compiled contracts; see DESIGN.md.
const (
	erc20ABIJSON = `[
		{"type":"function","name":"balanceOf","inputs":[{"name":"account","type":"address"}],"outputs":[{"type":"uint256"}],"stateMutability":"view"},
		{"type":"function","name":"decimals","inputs":[],"outputs":[{"type":"uint8"}],"stateMutability":"view"},
		{"type":"function","name":"symbol","inputs":[],"outputs":[{"type":"string"}],"stateMutability":"view"},
		{"type":"function","name":"allowance","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"type":"uint256"}],"stateMutability":"view"},
		{"type":"function","name":"approve","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"type":"bool"}],"stateMutability":"nonpayable"},
		{"type":"event","name":"Transfer","inputs":[{"name":"from","type":"address","indexed":true},{"name":"to","type":"address","indexed":true},{"name":"value","type":"uint256","indexed":false}]}
	]`

	poolABIJSON = `[
		{"type":"function","name":"slot0","inputs":[],"outputs":[
			{"name":"sqrtPriceX96","type":"uint160"},
			{"name":"tick","type":"int24"},
			{"name":"observationIndex","type":"uint16"},
			{"name":"observationCardinality","type":"uint16"},
			{"name":"observationCardinalityNext","type":"uint16"},
			{"name":"feeProtocol","type":"uint8"},
			{"name":"unlocked","type":"bool"}
		],"stateMutability":"view"},
		{"type":"function","name":"token0","inputs":[],"outputs":[{"type":"address"}],"stateMutability":"view"},
		{"type":"function","name":"token1","inputs":[],"outputs":[{"type":"address"}],"stateMutability":"view"},
		{"type":"function","name":"tickSpacing","inputs":[],"outputs":[{"type":"int24"}],"stateMutability":"view"},
		{"type":"function","name":"fee","inputs":[],"outputs":[{"type":"uint24"}],"stateMutability":"view"}
	]`

	positionManagerABIJSON = `[
		{"type":"function","name":"balanceOf","inputs":[{"name":"owner","type":"address"}],"outputs":[{"type":"uint256"}],"stateMutability":"view"},
		{"type":"function","name":"tokenOfOwnerByIndex","inputs":[{"name":"owner","type":"address"},{"name":"index","type":"uint256"}],"outputs":[{"type":"uint256"}],"stateMutability":"view"},
		{"type":"function","name":"getApproved","inputs":[{"name":"tokenId","type":"uint256"}],"outputs":[{"type":"address"}],"stateMutability":"view"},
		{"type":"function","name":"approve","inputs":[{"name":"to","type":"address"},{"name":"tokenId","type":"uint256"}],"outputs":[],"stateMutability":"nonpayable"},
		{"type":"function","name":"positions","inputs":[{"name":"tokenId","type":"uint256"}],"outputs":[
			{"name":"nonce","type":"uint96"},
			{"name":"operator","type":"address"},
			{"name":"token0","type":"address"},
			{"name":"token1","type":"address"},
			{"name":"tickSpacing","type":"int24"},
			{"name":"tickLower","type":"int24"},
			{"name":"tickUpper","type":"int24"},
			{"name":"liquidity","type":"uint128"},
			{"name":"feeGrowthInside0LastX128","type":"uint256"},
			{"name":"feeGrowthInside1LastX128","type":"uint256"},
			{"name":"tokensOwed0","type":"uint128"},
			{"name":"tokensOwed1","type":"uint128"}
		],"stateMutability":"view"},
		{"type":"function","name":"mint","inputs":[{"name":"params","type":"tuple","components":[
			{"name":"token0","type":"address"},
			{"name":"token1","type":"address"},
			{"name":"tickSpacing","type":"int24"},
			{"name":"tickLower","type":"int24"},
			{"name":"tickUpper","type":"int24"},
			{"name":"amount0Desired","type":"uint256"},
			{"name":"amount1Desired","type":"uint256"},
			{"name":"amount0Min","type":"uint256"},
			{"name":"amount1Min","type":"uint256"},
			{"name":"recipient","type":"address"},
			{"name":"deadline","type":"uint256"}
		]}],"outputs":[
			{"name":"tokenId","type":"uint256"},
			{"name":"liquidity","type":"uint128"},
			{"name":"amount0","type":"uint256"},
			{"name":"amount1","type":"uint256"}
		],"stateMutability":"payable"},
		{"type":"function","name":"decreaseLiquidity","inputs":[{"name":"params","type":"tuple","components":[
			{"name":"tokenId","type":"uint256"},
			{"name":"liquidity","type":"uint128"},
			{"name":"amount0Min","type":"uint256"},
			{"name":"amount1Min","type":"uint256"},
			{"name":"deadline","type":"uint256"}
		]}],"outputs":[{"name":"amount0","type":"uint256"},{"name":"amount1","type":"uint256"}],"stateMutability":"payable"},
		{"type":"function","name":"collect","inputs":[{"name":"params","type":"tuple","components":[
			{"name":"tokenId","type":"uint256"},
			{"name":"recipient","type":"address"},
			{"name":"amount0Max","type":"uint128"},
			{"name":"amount1Max","type":"uint128"}
		]}],"outputs":[{"name":"amount0","type":"uint256"},{"name":"amount1","type":"uint256"}],"stateMutability":"payable"},
		{"type":"function","name":"burn","inputs":[{"name":"tokenId","type":"uint256"}],"outputs":[],"stateMutability":"payable"},
		{"type":"function","name":"multicall","inputs":[{"name":"data","type":"bytes[]"}],"outputs":[{"name":"results","type":"bytes[]"}],"stateMutability":"payable"},
		{"type":"event","name":"Transfer","inputs":[{"name":"from","type":"address","indexed":true},{"name":"to","type":"address","indexed":true},{"name":"tokenId","type":"uint256","indexed":true}]},
		{"type":"event","name":"IncreaseLiquidity","inputs":[{"name":"tokenId","type":"uint256","indexed":true},{"name":"liquidity","type":"uint128","indexed":false},{"name":"amount0","type":"uint256","indexed":false},{"name":"amount1","type":"uint256","indexed":false}]}
	]`

	factoryABIJSON = `[
		{"type":"function","name":"getPool","inputs":[{"name":"tokenA","type":"address"},{"name":"tokenB","type":"address"},{"name":"fee","type":"uint24"}],"outputs":[{"type":"address"}],"stateMutability":"view"}
	]`

	gaugeABIJSON = `[
		{"type":"function","name":"pool","inputs":[],"outputs":[{"type":"address"}],"stateMutability":"view"},
		{"type":"function","name":"token0","inputs":[],"outputs":[{"type":"address"}],"stateMutability":"view"},
		{"type":"function","name":"token1","inputs":[],"outputs":[{"type":"address"}],"stateMutability":"view"},
		{"type":"function","name":"stakedValues","inputs":[{"name":"account","type":"address"}],"outputs":[{"type":"uint256[]"}],"stateMutability":"view"},
		{"type":"function","name":"stakedLength","inputs":[{"name":"account","type":"address"}],"outputs":[{"type":"uint256"}],"stateMutability":"view"},
		{"type":"function","name":"stakedByIndex","inputs":[{"name":"account","type":"address"},{"name":"index","type":"uint256"}],"outputs":[{"type":"uint256"}],"stateMutability":"view"},
		{"type":"function","name":"earned","inputs":[{"name":"account","type":"address"},{"name":"tokenId","type":"uint256"}],"outputs":[{"type":"uint256"}],"stateMutability":"view"},
		{"type":"function","name":"deposit","inputs":[{"name":"tokenId","type":"uint256"}],"outputs":[],"stateMutability":"nonpayable"},
		{"type":"function","name":"withdraw","inputs":[{"name":"tokenId","type":"uint256"}],"outputs":[],"stateMutability":"nonpayable"}
	]`

	quoterABIJSON = `[
		{"type":"function","name":"quoteExactInputSingle","inputs":[
			{"name":"tokenIn","type":"address"},
			{"name":"tokenOut","type":"address"},
			{"name":"fee","type":"uint24"},
			{"name":"amountIn","type":"uint256"},
			{"name":"sqrtPriceLimitX96","type":"uint160"}
		],"outputs":[{"name":"amountOut","type":"uint256"}],"stateMutability":"nonpayable"}
	]`

	routerABIJSON = `[
		{"type":"function","name":"exactInputSingle","inputs":[{"name":"params","type":"tuple","components":[
			{"name":"tokenIn","type":"address"},
			{"name":"tokenOut","type":"address"},
			{"name":"fee","type":"uint24"},
			{"name":"recipient","type":"address"},
			{"name":"deadline","type":"uint256"},
			{"name":"amountIn","type":"uint256"},
			{"name":"amountOutMinimum","type":"uint256"},
			{"name":"sqrtPriceLimitX96","type":"uint160"}
		]}],"outputs":[{"name":"amountOut","type":"uint256"}],"stateMutability":"payable"}
	]`

	permit2ABIJSON = `[
		{"type":"function","name":"allowance","inputs":[{"name":"owner","type":"address"},{"name":"token","type":"address"},{"name":"spender","type":"address"}],"outputs":[
			{"name":"amount","type":"uint160"},{"name":"expiration","type":"uint48"},{"name":"nonce","type":"uint48"}
		],"stateMutability":"view"},
		{"type":"function","name":"approve","inputs":[
			{"name":"token","type":"address"},{"name":"spender","type":"address"},{"name":"amount","type":"uint160"},{"name":"expiration","type":"uint48"}
		],"outputs":[],"stateMutability":"nonpayable"}
	]`
)

func mustParseABI(name, jsonStr string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(jsonStr))
	if err != nil {
		panic(fmt.Sprintf("chain: malformed %s ABI: %v", name, err))
	}
	return parsed
}

// DefaultABISet parses the engine's built-in ABI fragments into an ABISet.
// QuoterABI, RouterABI, and Permit2ABI are exposed separately since they
// feed internal/swap's variants rather than being bound by name on Client.
func DefaultABISet() (ABISet, abi.ABI, abi.ABI, abi.ABI) {
	set := ABISet{
		ERC20:           mustParseABI("ERC20", erc20ABIJSON),
		Pool:            mustParseABI("Pool", poolABIJSON),
		PositionManager: mustParseABI("PositionManager", positionManagerABIJSON),
		Factory:         mustParseABI("Factory", factoryABIJSON),
		Gauge:           mustParseABI("Gauge", gaugeABIJSON),
		Quoter:          mustParseABI("Quoter", quoterABIJSON),
		Router:          mustParseABI("Router", routerABIJSON),
	}
	return set, set.Quoter, set.Router, mustParseABI("Permit2", permit2ABIJSON)
}
