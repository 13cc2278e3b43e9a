package rebalance

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"blackholego/internal/chain"
	"blackholego/internal/clmath"
	"blackholego/internal/contractclient"
	"blackholego/internal/position"
	"blackholego/internal/swap"
	enginetypes "blackholego/pkg/types"
)

type fakeChainOps struct {
	slot0             chain.Slot0
	balances          map[common.Address]*big.Int
	decimals          map[common.Address]uint8
	allowances        map[common.Address]*big.Int
	gaugeWithdrawErr  error
	multicallErr      error
	staticCallErr     error
	mintErr           error
	parseEvents       []contractclient.DecodedEvent
	approvedGauge     common.Address
	gaugeDepositErr   error
	approveNFTErr     error
	multicallCalls    int
	mintCalls         int
	gaugeWithdrawDone bool
	gaugeDepositDone  bool
}

func (f *fakeChainOps) GaugeWithdraw(ctx context.Context, gauge common.Address, tokenID *big.Int) (*enginetypes.TxReceipt, error) {
	f.gaugeWithdrawDone = true
	if f.gaugeWithdrawErr != nil {
		return nil, f.gaugeWithdrawErr
	}
	return okReceipt(), nil
}

func (f *fakeChainOps) EncodeCall(contractABI abi.ABI, method string, args ...interface{}) ([]byte, error) {
	return []byte(method), nil
}

func (f *fakeChainOps) PositionManagerABI() abi.ABI { return abi.ABI{} }

func (f *fakeChainOps) Multicall(ctx context.Context, manager common.Address, data [][]byte) (*enginetypes.TxReceipt, error) {
	f.multicallCalls++
	if f.multicallErr != nil {
		return nil, f.multicallErr
	}
	return okReceipt(), nil
}

func (f *fakeChainOps) BalanceOf(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	if v, ok := f.balances[token]; ok {
		return v, nil
	}
	return big.NewInt(0), nil
}

func (f *fakeChainOps) Decimals(ctx context.Context, token common.Address) (uint8, error) {
	if v, ok := f.decimals[token]; ok {
		return v, nil
	}
	return 18, nil
}

func (f *fakeChainOps) Slot0(ctx context.Context, pool common.Address) (chain.Slot0, error) {
	return f.slot0, nil
}

func (f *fakeChainOps) Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error) {
	if v, ok := f.allowances[token]; ok {
		return v, nil
	}
	return big.NewInt(0), nil
}

func (f *fakeChainOps) Approve(ctx context.Context, token, spender common.Address, amount *big.Int) (*enginetypes.TxReceipt, error) {
	if f.allowances == nil {
		f.allowances = map[common.Address]*big.Int{}
	}
	f.allowances[token] = amount
	return okReceipt(), nil
}

func (f *fakeChainOps) StaticCall(ctx context.Context, address common.Address, contractABI abi.ABI, method string, args ...interface{}) ([]interface{}, error) {
	return nil, f.staticCallErr
}

func (f *fakeChainOps) Mint(ctx context.Context, manager common.Address, params chain.MintParams) (*enginetypes.TxReceipt, error) {
	f.mintCalls++
	if f.mintErr != nil {
		return nil, f.mintErr
	}
	return okReceipt(), nil
}

func (f *fakeChainOps) ParseReceiptFor(address common.Address, contractABI abi.ABI, receipt *enginetypes.TxReceipt) ([]contractclient.DecodedEvent, error) {
	return f.parseEvents, nil
}

func (f *fakeChainOps) NFTApproved(ctx context.Context, manager common.Address, tokenID *big.Int) (common.Address, error) {
	return f.approvedGauge, nil
}

func (f *fakeChainOps) ApproveNFT(ctx context.Context, manager, to common.Address, tokenID *big.Int) (*enginetypes.TxReceipt, error) {
	if f.approveNFTErr != nil {
		return nil, f.approveNFTErr
	}
	f.approvedGauge = to
	return okReceipt(), nil
}

func (f *fakeChainOps) GaugeDeposit(ctx context.Context, gauge common.Address, tokenID *big.Int) (*enginetypes.TxReceipt, error) {
	f.gaugeDepositDone = true
	if f.gaugeDepositErr != nil {
		return nil, f.gaugeDepositErr
	}
	return okReceipt(), nil
}

// recordingSwap is a fakeExecutor satisfying swap.Executor, recording every
// call so tests can assert a swap did or didn't happen.
type recordingSwap struct {
	calls   int
	tokenIn common.Address
	err     error
}

func (f *recordingSwap) Swap(ctx context.Context, tokenIn, tokenOut common.Address, amountIn *big.Int, poolHint common.Address) (*swap.Receipt, error) {
	f.calls++
	f.tokenIn = tokenIn
	if f.err != nil {
		return nil, f.err
	}
	return &swap.Receipt{TxHash: common.HexToHash("0xswap"), AmountOut: amountIn, GasCostWei: big.NewInt(1)}, nil
}

func okReceipt() *enginetypes.TxReceipt {
	return &enginetypes.TxReceipt{TxHash: common.HexToHash("0x1"), GasUsed: "0x5208", EffectiveGasPrice: "0x3b9aca00", Status: "0x1"}
}

func mintedTransferEvent(tokenID *big.Int) contractclient.DecodedEvent {
	return contractclient.DecodedEvent{
		EventName: "Transfer",
		Parameter: map[string]interface{}{"from": common.Address{}, "to": common.HexToAddress("0xOwner"), "tokenId": tokenID},
	}
}

func newTestMachine(chainOps *fakeChainOps, executor swap.Executor) *Machine {
	cfg := Config{Account: common.HexToAddress("0xOwner"), SlippageBps: 300, MinSwapValueUSDC: 5}
	return NewMachine(chainOps, executor, cfg, nil, func() int64 { return 1_700_000_000 })
}

func TestMachine_Run_BootstrapEntrySkipsUnstakeAndWithdraw(t *testing.T) {
	token0 := common.HexToAddress("0xToken0")
	token1 := common.HexToAddress("0xToken1")
	c := &fakeChainOps{
		slot0:       chain.Slot0{Tick: 0},
		balances:    map[common.Address]*big.Int{token0: big.NewInt(1_000_000), token1: big.NewInt(1_000_000)},
		decimals:    map[common.Address]uint8{token0: 18, token1: 18},
		parseEvents: []contractclient.DecodedEvent{mintedTransferEvent(big.NewInt(42))},
	}
	swapExec := &recordingSwap{}
	m := newTestMachine(c, swapExec)

	d := &Descriptor{
		Stage:       StageComputingRatio,
		Token0:      token0,
		Token1:      token1,
		TickSpacing: 60,
		TargetRange: clmath.TickRange{TickLower: -600, TickUpper: 600},
		Manager:     common.HexToAddress("0xManager"),
		Balance0:    big.NewInt(1_000_000),
		Balance1:    big.NewInt(1_000_000),
		Dec0:        18,
		Dec1:        18,
	}

	err := m.Run(context.Background(), d)

	require.NoError(t, err)
	assert.Equal(t, StageDone, d.Stage)
	assert.False(t, c.gaugeWithdrawDone, "bootstrap has no source position to unstake")
	assert.Zero(t, c.multicallCalls, "bootstrap has nothing to withdraw")
	assert.Equal(t, big.NewInt(42), d.NewTokenID)
}

func TestMachine_Run_UnstakeFailureContinuesToWithdraw(t *testing.T) {
	token0 := common.HexToAddress("0xToken0")
	token1 := common.HexToAddress("0xToken1")
	c := &fakeChainOps{
		slot0:            chain.Slot0{Tick: 0},
		balances:         map[common.Address]*big.Int{token0: big.NewInt(500_000), token1: big.NewInt(500_000)},
		gaugeWithdrawErr: assertErr("transient rpc error"),
		parseEvents:      []contractclient.DecodedEvent{mintedTransferEvent(big.NewInt(7))},
	}
	m := newTestMachine(c, &recordingSwap{})

	src := &position.Position{
		TokenID: big.NewInt(1), Manager: common.HexToAddress("0xManager"), Gauge: common.HexToAddress("0xGauge"),
		IsStaked: true, Liquidity: big.NewInt(100), Token0: token0, Token1: token1,
	}
	d := &Descriptor{
		SourcePosition: src,
		Token0:         token0, Token1: token1, TickSpacing: 60,
		TargetRange: clmath.TickRange{TickLower: -600, TickUpper: 600},
		Manager:     common.HexToAddress("0xManager"),
	}

	err := m.Run(context.Background(), d)

	require.NoError(t, err)
	assert.True(t, c.gaugeWithdrawDone)
	assert.Equal(t, 1, c.multicallCalls, "withdraw still runs after the unstake failure")
	assert.Equal(t, StageDone, d.Stage)
}

func TestMachine_Run_DustSwapIsSkipped(t *testing.T) {
	token0 := common.HexToAddress("0xToken0")
	token1 := common.HexToAddress("0xToken1")
	c := &fakeChainOps{
		slot0:       chain.Slot0{Tick: 0},
		balances:    map[common.Address]*big.Int{token0: big.NewInt(1_000_000_000_000_000_000), token1: big.NewInt(1_000_000_000_000_000_000)},
		decimals:    map[common.Address]uint8{token0: 18, token1: 18},
		parseEvents: []contractclient.DecodedEvent{mintedTransferEvent(big.NewInt(9))},
	}
	swapExec := &recordingSwap{}
	m := newTestMachine(c, swapExec)

	d := &Descriptor{
		Stage: StageComputingRatio, Token0: token0, Token1: token1, TickSpacing: 60,
		TargetRange: clmath.TickRange{TickLower: -600, TickUpper: 600},
		Manager:     common.HexToAddress("0xManager"),
		Balance0:    c.balances[token0], Balance1: c.balances[token1], Dec0: 18, Dec1: 18,
	}

	err := m.Run(context.Background(), d)

	require.NoError(t, err)
	assert.Zero(t, swapExec.calls, "balanced 50/50 position in a symmetric range should not trigger a swap")
}

func TestMachine_Run_MintRevertedStopsBeforeStaking(t *testing.T) {
	token0 := common.HexToAddress("0xToken0")
	token1 := common.HexToAddress("0xToken1")
	c := &fakeChainOps{
		slot0:    chain.Slot0{Tick: 0},
		balances: map[common.Address]*big.Int{token0: big.NewInt(1_000_000), token1: big.NewInt(1_000_000)},
		decimals: map[common.Address]uint8{token0: 18, token1: 18},
		mintErr:  assertErr("execution reverted"),
	}
	m := newTestMachine(c, &recordingSwap{})

	d := &Descriptor{
		Stage: StageComputingRatio, Token0: token0, Token1: token1, TickSpacing: 60,
		TargetRange: clmath.TickRange{TickLower: -600, TickUpper: 600},
		Manager:     common.HexToAddress("0xManager"),
		Balance0:    big.NewInt(1_000_000), Balance1: big.NewInt(1_000_000), Dec0: 18, Dec1: 18,
	}

	err := m.Run(context.Background(), d)

	require.Error(t, err)
	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, StageMinting, stageErr.Stage)
	assert.Equal(t, KindMintReverted, stageErr.Kind)
	assert.False(t, c.gaugeDepositDone, "staking must never run after a mint revert")
}

// assertErr and stringError below are tiny test-only helpers kept
// alongside the tests they serve, matching the style of
// internal/swap/swap_test.go's stringError/fakeChainOps.
type stringError string

func (e stringError) Error() string { return string(e) }

func assertErr(msg string) error { return stringError(msg) }
