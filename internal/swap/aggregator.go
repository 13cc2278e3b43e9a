package swap

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// RouteSummary is the aggregator's quoted route: an opaque payload the build
// endpoint needs back verbatim, plus the fields the engine inspects.
type RouteSummary struct {
	Raw           json.RawMessage
	RouterAddress common.Address
	AmountOut     *big.Int
}

// BuildResult is the aggregator's encoded transaction for a previously
// quoted route.
type BuildResult struct {
	Data          []byte
	Value         *big.Int
	RouterAddress common.Address
	AmountOut     *big.Int
}

// AggregatorClient is the narrow contract the aggregator Swap Executor
// variant depends on; spec.md §6 describes its two HTTP endpoints.
type AggregatorClient interface {
	Route(ctx context.Context, tokenIn, tokenOut common.Address, amountIn *big.Int) (RouteSummary, error)
	Build(ctx context.Context, summary RouteSummary, sender, recipient common.Address, slippageBps int) (BuildResult, error)
}

// Permit2Config names the Permit2 contract and ABI used for the two-step
// allowance spec.md §4.4 step 4 describes. A zero Address disables Permit2
// handling and falls back to a plain ERC-20 approve of the router.
type Permit2Config struct {
	Address common.Address
	ABI     abi.ABI
}

// AggregatorExecutor implements Executor over an off-chain route aggregator.
type AggregatorExecutor struct {
	client      AggregatorClient
	chain       ChainOps
	permit2     Permit2Config
	allowlist   Allowlist
	slippageBps int
	owner       common.Address
	recipient   common.Address
}

// NewAggregatorExecutor builds an AggregatorExecutor. recipient is usually
// the same address as owner (the EOA receives the swapped tokens directly).
func NewAggregatorExecutor(client AggregatorClient, chain ChainOps, permit2 Permit2Config, allowlist Allowlist, slippageBps int, owner, recipient common.Address) *AggregatorExecutor {
	return &AggregatorExecutor{
		client: client, chain: chain, permit2: permit2, allowlist: allowlist,
		slippageBps: slippageBps, owner: owner, recipient: recipient,
	}
}

func (e *AggregatorExecutor) Swap(ctx context.Context, tokenIn, tokenOut common.Address, amountIn *big.Int, poolHint common.Address) (*Receipt, error) {
	if amountIn == nil || amountIn.Sign() == 0 {
		return nil, nil
	}

	receipt, err := e.attempt(ctx, tokenIn, tokenOut, amountIn)
	if err == nil {
		return receipt, nil
	}
	if !isRetryableRoute(err) {
		return nil, err
	}
	return e.attempt(ctx, tokenIn, tokenOut, amountIn)
}

func (e *AggregatorExecutor) attempt(ctx context.Context, tokenIn, tokenOut common.Address, amountIn *big.Int) (*Receipt, error) {
	route, err := e.client.Route(ctx, tokenIn, tokenOut, amountIn)
	if err != nil {
		return nil, fmt.Errorf("swap: route: %w", err)
	}
	if !e.allowlist.Permits(route.RouterAddress) {
		return nil, fmt.Errorf("%w: route returned %s", ErrUntrustedRouter, route.RouterAddress.Hex())
	}

	build, err := e.client.Build(ctx, route, e.owner, e.recipient, e.slippageBps)
	if err != nil {
		return nil, fmt.Errorf("swap: build: %w", err)
	}
	if build.RouterAddress != route.RouterAddress {
		return nil, fmt.Errorf("%w: route quoted %s, build returned %s", ErrUntrustedRouter, route.RouterAddress.Hex(), build.RouterAddress.Hex())
	}

	if err := e.ensureSpendable(ctx, tokenIn, route.RouterAddress, amountIn); err != nil {
		return nil, err
	}

	txReceipt, err := e.chain.RawSend(ctx, build.RouterAddress, build.Data, build.Value)
	if err != nil {
		return nil, wrapRouteFailure(err)
	}

	gasCost, err := txReceipt.GasCost()
	if err != nil {
		return nil, fmt.Errorf("swap: gas cost: %w", err)
	}

	return &Receipt{TxHash: txReceipt.TxHash, AmountOut: build.AmountOut, GasCostWei: gasCost}, nil
}

// ensureSpendable authorizes router to pull amountIn of token from the
// owner's wallet. When Permit2 is configured this is the two-step dance
// spec.md §4.4 step 4 describes: approve(token, permit2) once, then a
// Permit2-level approve(token, router, maxUint160, maxExpiration) whenever
// the existing Permit2 allowance is insufficient.
func (e *AggregatorExecutor) ensureSpendable(ctx context.Context, token, router common.Address, amountIn *big.Int) error {
	if e.permit2.Address == (common.Address{}) {
		return ensureApproval(ctx, e.chain, token, e.owner, router, amountIn)
	}

	if err := ensureApproval(ctx, e.chain, token, e.owner, e.permit2.Address, amountIn); err != nil {
		return err
	}

	out, err := e.chain.GenericCall(ctx, e.permit2.Address, e.permit2.ABI, "allowance", e.owner, token, router)
	if err != nil {
		return fmt.Errorf("swap: permit2 allowance: %w", err)
	}
	permitAmount, ok := out[0].(*big.Int)
	if !ok {
		return fmt.Errorf("swap: permit2 allowance: unexpected return shape")
	}

	if permitAmount.Cmp(amountIn) >= 0 {
		return nil
	}

	maxExpiration := big.NewInt(281474976710655) // 2^48 - 1, "never expires"
	if _, err := e.chain.GenericSend(ctx, e.permit2.Address, e.permit2.ABI, "approve", token, router, maxUint160(), maxExpiration); err != nil {
		return fmt.Errorf("swap: permit2 approve: %w", err)
	}
	return nil
}
