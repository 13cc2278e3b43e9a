package swap

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	enginetypes "blackholego/pkg/types"
)

type fakeChainOps struct {
	allowances   map[string]*big.Int
	approveCalls int
	genericCalls []string
	genericSends []string
	rawSends     int
	failNextSend bool
	sendErr      error
}

func key(token, spender common.Address) string { return token.Hex() + "|" + spender.Hex() }

func (f *fakeChainOps) Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error) {
	if v, ok := f.allowances[key(token, spender)]; ok {
		return v, nil
	}
	return big.NewInt(0), nil
}

func (f *fakeChainOps) Approve(ctx context.Context, token, spender common.Address, amount *big.Int) (*enginetypes.TxReceipt, error) {
	f.approveCalls++
	if f.allowances == nil {
		f.allowances = map[string]*big.Int{}
	}
	f.allowances[key(token, spender)] = amount
	return &enginetypes.TxReceipt{TxHash: common.HexToHash("0xapprove"), GasUsed: "0x1", EffectiveGasPrice: "0x1", Status: "0x1"}, nil
}

func (f *fakeChainOps) GenericCall(ctx context.Context, address common.Address, contractABI abi.ABI, method string, args ...interface{}) ([]interface{}, error) {
	f.genericCalls = append(f.genericCalls, method)
	switch method {
	case "allowance":
		return []interface{}{big.NewInt(0)}, nil
	case "quoteExactInputSingle":
		return []interface{}{big.NewInt(990_000)}, nil
	}
	return nil, nil
}

func (f *fakeChainOps) GenericSend(ctx context.Context, address common.Address, contractABI abi.ABI, method string, args ...interface{}) (*enginetypes.TxReceipt, error) {
	f.genericSends = append(f.genericSends, method)
	if f.failNextSend {
		f.failNextSend = false
		return nil, f.sendErr
	}
	return &enginetypes.TxReceipt{TxHash: common.HexToHash("0xsend"), GasUsed: "0x5208", EffectiveGasPrice: "0x3b9aca00", Status: "0x1"}, nil
}

func (f *fakeChainOps) RawSend(ctx context.Context, to common.Address, data []byte, value *big.Int) (*enginetypes.TxReceipt, error) {
	f.rawSends++
	if f.failNextSend {
		f.failNextSend = false
		return nil, f.sendErr
	}
	return &enginetypes.TxReceipt{TxHash: common.HexToHash("0xraw"), GasUsed: "0x5208", EffectiveGasPrice: "0x3b9aca00", Status: "0x1"}, nil
}

type fakeAggregatorClient struct {
	routeRouter common.Address
	buildRouter common.Address
	amountOut   *big.Int
	routeCalls  int
	buildCalls  int
}

func (f *fakeAggregatorClient) Route(ctx context.Context, tokenIn, tokenOut common.Address, amountIn *big.Int) (RouteSummary, error) {
	f.routeCalls++
	return RouteSummary{RouterAddress: f.routeRouter, AmountOut: f.amountOut}, nil
}

func (f *fakeAggregatorClient) Build(ctx context.Context, summary RouteSummary, sender, recipient common.Address, slippageBps int) (BuildResult, error) {
	f.buildCalls++
	return BuildResult{RouterAddress: f.buildRouter, Data: []byte{0x01}, Value: big.NewInt(0), AmountOut: f.amountOut}, nil
}

func TestAggregatorExecutor_Swap_ZeroAmountInIsNoop(t *testing.T) {
	chain := &fakeChainOps{}
	client := &fakeAggregatorClient{}
	exec := NewAggregatorExecutor(client, chain, Permit2Config{}, nil, 300, common.HexToAddress("0xOwner"), common.HexToAddress("0xOwner"))

	receipt, err := exec.Swap(context.Background(), common.HexToAddress("0xA"), common.HexToAddress("0xB"), big.NewInt(0), common.Address{})

	require.NoError(t, err)
	assert.Nil(t, receipt)
	assert.Zero(t, client.routeCalls, "zero amountIn must never reach the aggregator")
}

func TestAggregatorExecutor_Swap_RouterMismatchAbortsBeforeApprovalOrSend(t *testing.T) {
	// spec.md §8 scenario D: route endpoint returns router X, build returns
	// router Y -> UntrustedRouter, no approval or submission occurs.
	routerX := common.HexToAddress("0xa1")
	routerY := common.HexToAddress("0xa2")
	chain := &fakeChainOps{}
	client := &fakeAggregatorClient{routeRouter: routerX, buildRouter: routerY, amountOut: big.NewInt(1000)}
	exec := NewAggregatorExecutor(client, chain, Permit2Config{}, nil, 300, common.HexToAddress("0xOwner"), common.HexToAddress("0xOwner"))

	_, err := exec.Swap(context.Background(), common.HexToAddress("0xA"), common.HexToAddress("0xB"), big.NewInt(1_000_000), common.Address{})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUntrustedRouter)
	assert.Zero(t, chain.approveCalls)
	assert.Zero(t, chain.rawSends)
}

func TestAggregatorExecutor_Swap_RejectsRouteOutsideAllowlist(t *testing.T) {
	routerX := common.HexToAddress("0xX")
	chain := &fakeChainOps{}
	client := &fakeAggregatorClient{routeRouter: routerX, buildRouter: routerX, amountOut: big.NewInt(1000)}
	allowlist := Allowlist{common.HexToAddress("0xAllowedOnly"): true}
	exec := NewAggregatorExecutor(client, chain, Permit2Config{}, allowlist, 300, common.HexToAddress("0xOwner"), common.HexToAddress("0xOwner"))

	_, err := exec.Swap(context.Background(), common.HexToAddress("0xA"), common.HexToAddress("0xB"), big.NewInt(1_000_000), common.Address{})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUntrustedRouter)
	assert.Zero(t, chain.rawSends)
}

func TestAggregatorExecutor_Swap_HappyPath(t *testing.T) {
	router := common.HexToAddress("0xRouter")
	chain := &fakeChainOps{}
	client := &fakeAggregatorClient{routeRouter: router, buildRouter: router, amountOut: big.NewInt(1_000_000)}
	exec := NewAggregatorExecutor(client, chain, Permit2Config{}, nil, 300, common.HexToAddress("0xOwner"), common.HexToAddress("0xOwner"))

	receipt, err := exec.Swap(context.Background(), common.HexToAddress("0xA"), common.HexToAddress("0xB"), big.NewInt(1_000_000), common.Address{})

	require.NoError(t, err)
	require.NotNil(t, receipt)
	assert.Equal(t, big.NewInt(1_000_000), receipt.AmountOut)
	assert.Equal(t, 1, chain.approveCalls)
	assert.Equal(t, 1, chain.rawSends)
}

func TestRouterExecutor_Swap_RetriesOnceOnRouteReverted(t *testing.T) {
	chain := &fakeChainOps{failNextSend: true}
	chain.sendErr = assertErr("execution reverted: CallFailed")
	cfg := RouterConfig{Router: common.HexToAddress("0xRouter"), Fee: big.NewInt(500)}
	exec := NewRouterExecutor(chain, cfg, nil, 300, common.HexToAddress("0xOwner"))

	receipt, err := exec.Swap(context.Background(), common.HexToAddress("0xA"), common.HexToAddress("0xB"), big.NewInt(1_000_000), common.Address{})

	require.NoError(t, err, "second attempt must succeed")
	require.NotNil(t, receipt)
	assert.Len(t, chain.genericSends, 2, "exactly one retry after the first failure")
}

func TestRouterExecutor_Swap_NonRetryableFailureNeverRetries(t *testing.T) {
	chain := &fakeChainOps{failNextSend: true}
	chain.sendErr = assertErr("execution reverted: STF")
	cfg := RouterConfig{Router: common.HexToAddress("0xRouter"), Fee: big.NewInt(500)}
	exec := NewRouterExecutor(chain, cfg, nil, 300, common.HexToAddress("0xOwner"))

	_, err := exec.Swap(context.Background(), common.HexToAddress("0xA"), common.HexToAddress("0xB"), big.NewInt(1_000_000), common.Address{})

	require.Error(t, err)
	assert.Len(t, chain.genericSends, 1)
}

func TestRouterExecutor_Swap_RejectsUnlistedRouter(t *testing.T) {
	chain := &fakeChainOps{}
	cfg := RouterConfig{Router: common.HexToAddress("0xRouter"), Fee: big.NewInt(500)}
	allowlist := Allowlist{common.HexToAddress("0xa5"): true}
	exec := NewRouterExecutor(chain, cfg, allowlist, 300, common.HexToAddress("0xOwner"))

	_, err := exec.Swap(context.Background(), common.HexToAddress("0xA"), common.HexToAddress("0xB"), big.NewInt(1_000_000), common.Address{})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUntrustedRouter)
}

// assertErr is a tiny helper to build a plain error without importing
// "errors" solely for errors.New in test bodies above.
type stringError string

func (e stringError) Error() string { return string(e) }

func assertErr(msg string) error { return stringError(msg) }
