// Package swap implements the Swap Executor (spec.md §4.4): a common
// quote/approve/build/send contract with two variants, an off-chain
// aggregator route and a direct on-chain router. Grounded on the teacher's
// Swap method in blackhole.go (quote via simulation, ensureApproval,
// transaction submission, balance-delta-derived amountOut) generalized from
// one hardcoded router to a pluggable AggregatorClient/router ABI pair, and
// on the teacher's own interface-first style (pkg/contractclient.ContractClient)
// for the AggregatorClient abstraction.
package swap

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	enginetypes "blackholego/pkg/types"
)

// ErrUntrustedRouter is returned when a quote or build names a router
// address outside the configured allowlist (spec.md §7).
var ErrUntrustedRouter = errors.New("swap: untrusted router")

// ErrRouteReverted wraps a retryable on-chain failure kind: CallFailed,
// InsufficientReturn, or TransferFromFailed (spec.md §7).
var ErrRouteReverted = errors.New("swap: route reverted")

// Receipt is the outcome of a successful swap.
type Receipt struct {
	TxHash     common.Hash
	AmountOut  *big.Int
	GasCostWei *big.Int
}

// Executor is the common contract both swap variants satisfy.
type Executor interface {
	// Swap exchanges amountIn of tokenIn for tokenOut. amountIn == 0 returns
	// (nil, nil): the caller must treat a nil receipt as "no swap performed."
	Swap(ctx context.Context, tokenIn, tokenOut common.Address, amountIn *big.Int, poolHint common.Address) (*Receipt, error)
}

// ChainOps is the subset of the Chain Client every swap variant needs:
// ERC-20 approvals and generic (unnamed-method) call/send for router,
// quoter, and Permit2 contracts whose ABIs the engine doesn't otherwise bind
// a dedicated method to.
type ChainOps interface {
	Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error)
	Approve(ctx context.Context, token, spender common.Address, amount *big.Int) (*enginetypes.TxReceipt, error)
	GenericCall(ctx context.Context, address common.Address, contractABI abi.ABI, method string, args ...interface{}) ([]interface{}, error)
	GenericSend(ctx context.Context, address common.Address, contractABI abi.ABI, method string, args ...interface{}) (*enginetypes.TxReceipt, error)
	RawSend(ctx context.Context, to common.Address, data []byte, value *big.Int) (*enginetypes.TxReceipt, error)
}

// Allowlist reports whether router is acceptable. An empty allowlist accepts
// any router, matching spec.md §4.4 step 3's "when non-empty" qualifier.
type Allowlist map[common.Address]bool

func (a Allowlist) Permits(router common.Address) bool {
	if len(a) == 0 {
		return true
	}
	return a[router]
}

// amountOutMinimum applies spec.md §4.4 step 2's integer slippage formula.
func amountOutMinimum(amountOut *big.Int, slippageBps int) *big.Int {
	numerator := new(big.Int).Mul(amountOut, big.NewInt(10_000-int64(slippageBps)))
	return numerator.Div(numerator, big.NewInt(10_000))
}

// ensureApproval sends a standard ERC-20 approve(spender, amount) only if
// the existing allowance is below amountIn, caching the just-sent approval
// decision implicitly via the allowance read itself (spec.md §4.4 step 4).
func ensureApproval(ctx context.Context, chain ChainOps, token, owner, spender common.Address, amountIn *big.Int) error {
	current, err := chain.Allowance(ctx, token, owner, spender)
	if err != nil {
		return fmt.Errorf("swap: read allowance: %w", err)
	}
	if current.Cmp(amountIn) >= 0 {
		return nil
	}
	if _, err := chain.Approve(ctx, token, spender, maxUint256()); err != nil {
		return fmt.Errorf("swap: approve: %w", err)
	}
	return nil
}

func maxUint256() *big.Int {
	max := new(big.Int).Lsh(big.NewInt(1), 256)
	return max.Sub(max, big.NewInt(1))
}

func maxUint160() *big.Int {
	max := new(big.Int).Lsh(big.NewInt(1), 160)
	return max.Sub(max, big.NewInt(1))
}

// isRetryableRoute reports whether err's message names one of the three
// retry-once failure kinds spec.md §4.4 step 6 enumerates (CallFailed,
// InsufficientReturn, TransferFromFailed). Anything else — a send that
// failed for an unrelated reason — propagates as-is and is never retried.
func isRetryableRoute(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, needle := range []string{"CallFailed", "InsufficientReturn", "TransferFromFailed"} {
		if containsSubstring(msg, needle) {
			return true
		}
	}
	return false
}

// wrapRouteFailure classifies a submit failure: a retryable kind is wrapped
// in ErrRouteReverted so a caller's errors.Is check can see it after the
// retry budget is spent; anything else is returned unwrapped so it
// propagates to the rebalance state machine as the distinct failure it is.
func wrapRouteFailure(err error) error {
	if isRetryableRoute(err) {
		return fmt.Errorf("%w: %v", ErrRouteReverted, err)
	}
	return err
}

func containsSubstring(s, sub string) bool {
	n, m := len(s), len(sub)
	if m == 0 {
		return true
	}
	for i := 0; i+m <= n; i++ {
		if s[i:i+m] == sub {
			return true
		}
	}
	return false
}
