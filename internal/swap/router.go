package swap

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// RouterConfig names the direct on-chain router/quoter pair the
// RouterExecutor variant targets, plus the fee tier it quotes against.
type RouterConfig struct {
	Router    common.Address
	RouterABI abi.ABI
	Quoter    common.Address
	QuoterABI abi.ABI
	Fee       *big.Int
	Deadline  func() *big.Int
}

// RouterExecutor implements Executor by calling a pool's quoter for a quote
// and a router's exactInputSingle for execution, with no off-chain
// dependency (spec.md §4.4's "direct on-chain router" variant).
type RouterExecutor struct {
	chain       ChainOps
	cfg         RouterConfig
	allowlist   Allowlist
	slippageBps int
	recipient   common.Address
}

// NewRouterExecutor builds a RouterExecutor. The configured router is
// checked against the allowlist like any other router: an empty allowlist
// permits it, a non-empty one must list it or Swap returns ErrUntrustedRouter.
func NewRouterExecutor(chain ChainOps, cfg RouterConfig, allowlist Allowlist, slippageBps int, recipient common.Address) *RouterExecutor {
	return &RouterExecutor{chain: chain, cfg: cfg, allowlist: allowlist, slippageBps: slippageBps, recipient: recipient}
}

func (e *RouterExecutor) Swap(ctx context.Context, tokenIn, tokenOut common.Address, amountIn *big.Int, poolHint common.Address) (*Receipt, error) {
	if amountIn == nil || amountIn.Sign() == 0 {
		return nil, nil
	}

	if !e.allowlist.Permits(e.cfg.Router) {
		return nil, fmt.Errorf("%w: configured router %s is not in the allowlist", ErrUntrustedRouter, e.cfg.Router.Hex())
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

func (e *RouterExecutor) attempt(ctx context.Context, tokenIn, tokenOut common.Address, amountIn *big.Int) (*Receipt, error) {
	amountOut, err := e.quote(ctx, tokenIn, tokenOut, amountIn)
	if err != nil {
		return nil, fmt.Errorf("swap: quote: %w", err)
	}
	amountOutMin := amountOutMinimum(amountOut, e.slippageBps)

	if err := ensureApproval(ctx, e.chain, tokenIn, e.recipient, e.cfg.Router, amountIn); err != nil {
		return nil, err
	}

	deadline := big.NewInt(0)
	if e.cfg.Deadline != nil {
		deadline = e.cfg.Deadline()
	}

	params := struct {
		TokenIn           common.Address
		TokenOut          common.Address
		Fee               *big.Int
		Recipient         common.Address
		Deadline          *big.Int
		AmountIn          *big.Int
		AmountOutMinimum  *big.Int
		SqrtPriceLimitX96 *big.Int
	}{
		TokenIn: tokenIn, TokenOut: tokenOut, Fee: e.cfg.Fee, Recipient: e.recipient,
		Deadline: deadline, AmountIn: amountIn, AmountOutMinimum: amountOutMin,
		SqrtPriceLimitX96: big.NewInt(0),
	}

	txReceipt, err := e.chain.GenericSend(ctx, e.cfg.Router, e.cfg.RouterABI, "exactInputSingle", params)
	if err != nil {
		return nil, wrapRouteFailure(err)
	}

	gasCost, err := txReceipt.GasCost()
	if err != nil {
		return nil, fmt.Errorf("swap: gas cost: %w", err)
	}

	return &Receipt{TxHash: txReceipt.TxHash, AmountOut: amountOut, GasCostWei: gasCost}, nil
}

func (e *RouterExecutor) quote(ctx context.Context, tokenIn, tokenOut common.Address, amountIn *big.Int) (*big.Int, error) {
	out, err := e.chain.GenericCall(ctx, e.cfg.Quoter, e.cfg.QuoterABI, "quoteExactInputSingle", tokenIn, tokenOut, e.cfg.Fee, amountIn, big.NewInt(0))
	if err != nil {
		return nil, err
	}
	amountOut, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("swap: quoter returned unexpected shape")
	}
	return amountOut, nil
}
