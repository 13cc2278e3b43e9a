package orchestrator

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"blackholego/internal/cache"
	"blackholego/internal/chain"
	"blackholego/internal/contractclient"
	"blackholego/internal/monitor"
	"blackholego/internal/position"
	"blackholego/internal/rebalance"
	"blackholego/internal/swap"
	enginetypes "blackholego/pkg/types"
)

var (
	manager = common.HexToAddress("0x1001")
	pool    = common.HexToAddress("0x1003")
	factory = common.HexToAddress("0x1004")
	token0  = common.HexToAddress("0x1005")
	token1  = common.HexToAddress("0x1006")
	owner   = common.HexToAddress("0x1007")
)

// fakeChain satisfies every chain-facing interface the Monitor and Machine
// need: position.ChainReader, position.FactoryReader, monitor.ChainOps, and
// rebalance.ChainOps.
type fakeChain struct {
	balances      map[common.Address]*big.Int
	getPoolResult common.Address
	parseEvents   []contractclient.DecodedEvent
}

func (f *fakeChain) NFTBalanceOf(ctx context.Context, manager, owner common.Address) (*big.Int, error) {
	return big.NewInt(0), nil
}
func (f *fakeChain) TokenOfOwnerByIndex(ctx context.Context, manager, owner common.Address, index *big.Int) (*big.Int, error) {
	return big.NewInt(0), nil
}
func (f *fakeChain) Positions(ctx context.Context, manager common.Address, tokenID *big.Int) (chain.PositionInfo, error) {
	return chain.PositionInfo{}, nil
}
func (f *fakeChain) GaugePool(ctx context.Context, g common.Address) (common.Address, error) {
	return common.Address{}, nil
}
func (f *fakeChain) GaugeTokens(ctx context.Context, g common.Address) (common.Address, common.Address, error) {
	return common.Address{}, common.Address{}, nil
}
func (f *fakeChain) StakedValues(ctx context.Context, g, account common.Address) ([]*big.Int, error) {
	return nil, nil
}
func (f *fakeChain) StakedLength(ctx context.Context, g, account common.Address) (*big.Int, error) {
	return big.NewInt(0), nil
}
func (f *fakeChain) StakedByIndex(ctx context.Context, g, account common.Address, index *big.Int) (*big.Int, error) {
	return big.NewInt(0), nil
}
func (f *fakeChain) GetPool(ctx context.Context, factory, tokenA, tokenB common.Address, fee *big.Int) (common.Address, error) {
	return f.getPoolResult, nil
}
func (f *fakeChain) Decimals(ctx context.Context, token common.Address) (uint8, error) { return 18, nil }
func (f *fakeChain) Symbol(ctx context.Context, token common.Address) (string, error)  { return "TOK", nil }
func (f *fakeChain) PoolStructure(ctx context.Context, p common.Address) (cache.PoolInfo, error) {
	return cache.PoolInfo{Token0: token0, Token1: token1, TickSpacing: 60}, nil
}
func (f *fakeChain) Slot0(ctx context.Context, p common.Address) (chain.Slot0, error) {
	return chain.Slot0{Tick: 0}, nil
}
func (f *fakeChain) BalanceOf(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	if v, ok := f.balances[token]; ok {
		return v, nil
	}
	return big.NewInt(0), nil
}
func (f *fakeChain) NFTApproved(ctx context.Context, manager common.Address, tokenID *big.Int) (common.Address, error) {
	return common.Address{}, nil
}
func (f *fakeChain) ApproveNFT(ctx context.Context, manager, to common.Address, tokenID *big.Int) (*enginetypes.TxReceipt, error) {
	return okReceipt(), nil
}
func (f *fakeChain) GaugeDeposit(ctx context.Context, g common.Address, tokenID *big.Int) (*enginetypes.TxReceipt, error) {
	return okReceipt(), nil
}
func (f *fakeChain) Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error) {
	return big.NewInt(0), nil
}
func (f *fakeChain) Approve(ctx context.Context, token, spender common.Address, amount *big.Int) (*enginetypes.TxReceipt, error) {
	return okReceipt(), nil
}
func (f *fakeChain) GaugeWithdraw(ctx context.Context, gauge common.Address, tokenID *big.Int) (*enginetypes.TxReceipt, error) {
	return okReceipt(), nil
}
func (f *fakeChain) EncodeCall(contractABI abi.ABI, method string, args ...interface{}) ([]byte, error) {
	return []byte(method), nil
}
func (f *fakeChain) PositionManagerABI() abi.ABI { return abi.ABI{} }
func (f *fakeChain) Multicall(ctx context.Context, manager common.Address, data [][]byte) (*enginetypes.TxReceipt, error) {
	return okReceipt(), nil
}
func (f *fakeChain) StaticCall(ctx context.Context, address common.Address, contractABI abi.ABI, method string, args ...interface{}) ([]interface{}, error) {
	return nil, nil
}
func (f *fakeChain) Mint(ctx context.Context, manager common.Address, params chain.MintParams) (*enginetypes.TxReceipt, error) {
	return okReceipt(), nil
}
func (f *fakeChain) ParseReceiptFor(address common.Address, contractABI abi.ABI, receipt *enginetypes.TxReceipt) ([]contractclient.DecodedEvent, error) {
	return f.parseEvents, nil
}

func okReceipt() *enginetypes.TxReceipt {
	return &enginetypes.TxReceipt{TxHash: common.HexToHash("0x1"), GasUsed: "0x5208", EffectiveGasPrice: "0x3b9aca00", Status: "0x1"}
}

type noopExecutor struct{}

func (noopExecutor) Swap(ctx context.Context, tokenIn, tokenOut common.Address, amountIn *big.Int, poolHint common.Address) (*swap.Receipt, error) {
	return nil, nil
}

func buildOrchestrator(t *testing.T, f *fakeChain, reports chan Report) *Orchestrator {
	t.Helper()
	c := cache.New()
	locator := position.NewPoolLocator(f, []common.Address{factory}, []*big.Int{big.NewInt(500)})
	reader := position.NewReader(f, c, locator, manager, nil)
	monCfg := monitor.Config{
		Account: owner, Manager: manager,
		BootstrapTokenA: token0, BootstrapTokenB: token1, BootstrapDustHuman: 0.01,
	}
	mon := monitor.New(reader, c, locator, f, nil, monCfg)

	machineCfg := rebalance.Config{Account: owner, SlippageBps: 300, MinSwapValueUSDC: 5}
	machine := rebalance.NewMachine(f, noopExecutor{}, machineCfg, nil, func() int64 { return 1_700_000_000 })

	cfg := Config{CheckInterval: time.Hour, RangeMultiplier: 1.0}
	var ch chan<- Report
	if reports != nil {
		ch = reports
	}
	return New(mon, machine, cfg, nil, ch)
}

func TestOrchestrator_RunCycle_BootstrapsWhenNoPositionsAndBalancesAboveDust(t *testing.T) {
	f := &fakeChain{
		balances: map[common.Address]*big.Int{
			token0: big.NewInt(2_000_000_000_000_000_000),
			token1: big.NewInt(2_000_000_000_000_000_000),
		},
		getPoolResult: pool,
		parseEvents: []contractclient.DecodedEvent{{
			EventName: "Transfer",
			Parameter: map[string]interface{}{"from": common.Address{}, "to": owner, "tokenId": big.NewInt(1)},
		}},
	}
	reports := make(chan Report, 16)
	o := buildOrchestrator(t, f, reports)

	o.runCycle(context.Background())

	events := drainReports(reports)

	assert.Contains(t, events, EventCycleStart)
	assert.Contains(t, events, EventRebalanceStart)
	assert.Contains(t, events, EventRebalanceDone)
	assert.False(t, o.active.Load(), "descriptor must be cleared once the cycle finishes")
}

func TestOrchestrator_RunCycle_NoOpWhenBalancesAreDust(t *testing.T) {
	f := &fakeChain{
		balances: map[common.Address]*big.Int{
			token0: big.NewInt(1),
			token1: big.NewInt(1),
		},
		getPoolResult: pool,
	}
	reports := make(chan Report, 16)
	o := buildOrchestrator(t, f, reports)

	o.runCycle(context.Background())

	events := drainReports(reports)

	require.Contains(t, events, EventCycleStart)
	assert.NotContains(t, events, EventRebalanceStart)
}

func drainReports(reports chan Report) []string {
	var events []string
	for {
		select {
		case r := <-reports:
			events = append(events, r.EventType)
		default:
			return events
		}
	}
}
