// Package rebalance implements the RebalanceDescriptor and the state machine
// that drives it through spec.md §4.5's nine stages. Grounded on the
// teacher's Mint/Stake/Unstake methods in blackhole.go (ownership checks,
// approve-if-needed, StakingResult-style bookkeeping, ⚠️/✓ logging) and
// generalized from one hardcoded WAVAX/USDC/BLACK position into a
// pool-agnostic sequence driven entirely off a narrow ChainOps interface, in
// the teacher's own interface-first style (pkg/contractclient.ContractClient).
package rebalance

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"blackholego/internal/chain"
	"blackholego/internal/clmath"
	"blackholego/internal/contractclient"
	"blackholego/internal/swap"
	enginetypes "blackholego/pkg/types"
)

// ChainOps is the subset of the Chain Client the Machine needs to drive a
// Descriptor end to end, kept narrow per the teacher's per-package interface
// convention.
type ChainOps interface {
	GaugeWithdraw(ctx context.Context, gauge common.Address, tokenID *big.Int) (*enginetypes.TxReceipt, error)
	EncodeCall(contractABI abi.ABI, method string, args ...interface{}) ([]byte, error)
	PositionManagerABI() abi.ABI
	Multicall(ctx context.Context, manager common.Address, data [][]byte) (*enginetypes.TxReceipt, error)
	BalanceOf(ctx context.Context, token, owner common.Address) (*big.Int, error)
	Decimals(ctx context.Context, token common.Address) (uint8, error)
	Slot0(ctx context.Context, pool common.Address) (chain.Slot0, error)
	Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error)
	Approve(ctx context.Context, token, spender common.Address, amount *big.Int) (*enginetypes.TxReceipt, error)
	StaticCall(ctx context.Context, address common.Address, contractABI abi.ABI, method string, args ...interface{}) ([]interface{}, error)
	Mint(ctx context.Context, manager common.Address, params chain.MintParams) (*enginetypes.TxReceipt, error)
	ParseReceiptFor(address common.Address, contractABI abi.ABI, receipt *enginetypes.TxReceipt) ([]contractclient.DecodedEvent, error)
	NFTApproved(ctx context.Context, manager common.Address, tokenID *big.Int) (common.Address, error)
	ApproveNFT(ctx context.Context, manager, to common.Address, tokenID *big.Int) (*enginetypes.TxReceipt, error)
	GaugeDeposit(ctx context.Context, gauge common.Address, tokenID *big.Int) (*enginetypes.TxReceipt, error)
}

// Logger is the narrow logging surface the Machine reports stage progress
// and failures through (internal/logx satisfies this).
type Logger interface {
	Info(format string, args ...interface{})
	Success(format string, args ...interface{})
	Warn(format string, args ...interface{})
	Error(format string, args ...interface{})
}

// Config bundles the Machine's tunables: slippage, dust threshold, the
// inter-stage settle delays the teacher's own Mint/Stake/Unstake methods
// observe after a send, and the owner account everything executes as.
type Config struct {
	Account          common.Address
	SlippageBps      int
	MinSwapValueUSDC float64
	DeadlineWindow   time.Duration

	SettleAfterUnstake  time.Duration
	SettleAfterWithdraw time.Duration
	SettleAfterSwap     time.Duration
}

// Machine drives a Descriptor through spec.md §4.5's stages. It holds no
// per-cycle state itself: all mutable state lives on the Descriptor, so a
// Machine instance is safe to reuse across cycles (only one Descriptor is
// ever in flight per spec.md §5's single-flight rule).
type Machine struct {
	chain   ChainOps
	swap    swap.Executor
	cfg     Config
	log     Logger
	nowUnix func() int64
}

// NewMachine builds a Machine. nowUnix defaults to a wall-clock reader but is
// overridable in tests for deterministic deadlines.
func NewMachine(chainOps ChainOps, swapExecutor swap.Executor, cfg Config, logger Logger, nowUnix func() int64) *Machine {
	if nowUnix == nil {
		nowUnix = func() int64 { return time.Now().Unix() }
	}
	if cfg.DeadlineWindow == 0 {
		cfg.DeadlineWindow = 5 * time.Minute
	}
	return &Machine{chain: chainOps, swap: swapExecutor, cfg: cfg, log: logger, nowUnix: nowUnix}
}

func (m *Machine) deadline() *big.Int {
	return big.NewInt(m.nowUnix() + int64(m.cfg.DeadlineWindow.Seconds()))
}

// Run drives d through every stage from its current Stage (StageStarting if
// unset) to StageDone, or returns a *StageError the first time a stage's
// action fails unrecoverably. Each stage is advanced into before its action
// begins, not after it completes (spec.md §4.5): a crash mid-action leaves
// d.Stage naming the work that was in flight.
func (m *Machine) Run(ctx context.Context, d *Descriptor) error {
	if d.Stage == "" {
		d.Stage = StageStarting
	}

	for {
		select {
		case <-ctx.Done():
			return m.fail(d, d.Stage, KindCancelled, ctx.Err())
		default:
		}

		switch d.Stage {
		case StageStarting:
			if d.SourcePosition != nil && d.SourcePosition.IsStaked {
				d.Stage = StageUnstaking
			} else {
				d.Stage = StageWithdrawing
			}
		case StageUnstaking:
			if err := m.runUnstaking(ctx, d); err != nil {
				return err
			}
		case StageWithdrawing:
			if err := m.runWithdrawing(ctx, d); err != nil {
				return err
			}
		case StageReadingBalances:
			if err := m.runReadingBalances(ctx, d); err != nil {
				return err
			}
		case StageComputingRatio:
			if err := m.runComputingRatio(ctx, d); err != nil {
				return err
			}
		case StageSwapping:
			if err := m.runSwapping(ctx, d); err != nil {
				return err
			}
		case StageMinting:
			if err := m.runMinting(ctx, d); err != nil {
				return err
			}
		case StageStaking:
			if err := m.runStaking(ctx, d); err != nil {
				return err
			}
		case StageDone:
			return nil
		default:
			return m.fail(d, d.Stage, KindConfigError, fmt.Errorf("unknown stage %q", d.Stage))
		}
	}
}

func (m *Machine) fail(d *Descriptor, stage Stage, kind ErrorKind, err error) error {
	d.FailedStage = stage
	d.FailErr = err
	if m.log != nil {
		m.log.Error("rebalance failed at %s: %v", stage, err)
	}
	return &StageError{Stage: stage, Kind: kind, Err: err}
}

// runUnstaking withdraws the source position's NFT from its gauge. A
// failure here is logged and the machine continues into Withdrawing rather
// than aborting: the unstake may have already landed before a transient RPC
// failure, and the withdrawal call below will surface a genuine problem on
// its own terms if one exists. This is a deliberate policy decision
// (spec.md §9 Open Question 2), not a bug to silently "fix".
func (m *Machine) runUnstaking(ctx context.Context, d *Descriptor) error {
	receipt, err := m.chain.GaugeWithdraw(ctx, d.SourcePosition.Gauge, d.SourcePosition.TokenID)
	if err != nil {
		if m.log != nil {
			m.log.Warn("unstake %s failed, continuing to withdraw: %v", d.SourcePosition.TokenID, err)
		}
		d.Stage = StageWithdrawing
		return nil
	}
	if m.cfg.SettleAfterUnstake > 0 {
		time.Sleep(m.cfg.SettleAfterUnstake)
	}
	d.recordTx(StageUnstaking, receipt.TxHash, mustGasCost(receipt, m.log))
	d.Stage = StageWithdrawing
	return nil
}

func (m *Machine) runWithdrawing(ctx context.Context, d *Descriptor) error {
	if d.SourcePosition == nil {
		// Bootstrap entry: nothing to withdraw, wallet balances are read
		// fresh in the next stage.
		d.Stage = StageReadingBalances
		return nil
	}

	pmABI := m.chain.PositionManagerABI()
	deadline := m.deadline()

	decreaseData, err := m.chain.EncodeCall(pmABI, "decreaseLiquidity", DecreaseLiquidityParams{
		TokenID: d.SourcePosition.TokenID, Liquidity: d.SourcePosition.Liquidity,
		Amount0Min: big.NewInt(0), Amount1Min: big.NewInt(0), Deadline: deadline,
	})
	if err != nil {
		return m.fail(d, StageWithdrawing, KindRpcTransient, fmt.Errorf("encode decreaseLiquidity: %w", err))
	}

	collectData, err := m.chain.EncodeCall(pmABI, "collect", CollectParams{
		TokenID: d.SourcePosition.TokenID, Recipient: m.cfg.Account,
		Amount0Max: maxUint128(), Amount1Max: maxUint128(),
	})
	if err != nil {
		return m.fail(d, StageWithdrawing, KindRpcTransient, fmt.Errorf("encode collect: %w", err))
	}

	burnData, err := m.chain.EncodeCall(pmABI, "burn", d.SourcePosition.TokenID)
	if err != nil {
		return m.fail(d, StageWithdrawing, KindRpcTransient, fmt.Errorf("encode burn: %w", err))
	}

	receipt, err := m.chain.Multicall(ctx, d.SourcePosition.Manager, [][]byte{decreaseData, collectData, burnData})
	if err != nil {
		return m.fail(d, StageWithdrawing, classifyChainErr(err), err)
	}
	if m.cfg.SettleAfterWithdraw > 0 {
		time.Sleep(m.cfg.SettleAfterWithdraw)
	}
	d.recordTx(StageWithdrawing, receipt.TxHash, mustGasCost(receipt, m.log))
	d.Stage = StageReadingBalances
	return nil
}

func (m *Machine) runReadingBalances(ctx context.Context, d *Descriptor) error {
	bal0, err := m.chain.BalanceOf(ctx, d.Token0, m.cfg.Account)
	if err != nil {
		return m.fail(d, StageReadingBalances, KindRpcTransient, fmt.Errorf("balanceOf token0: %w", err))
	}
	bal1, err := m.chain.BalanceOf(ctx, d.Token1, m.cfg.Account)
	if err != nil {
		return m.fail(d, StageReadingBalances, KindRpcTransient, fmt.Errorf("balanceOf token1: %w", err))
	}
	dec0, err := m.chain.Decimals(ctx, d.Token0)
	if err != nil {
		return m.fail(d, StageReadingBalances, KindRpcTransient, fmt.Errorf("decimals token0: %w", err))
	}
	dec1, err := m.chain.Decimals(ctx, d.Token1)
	if err != nil {
		return m.fail(d, StageReadingBalances, KindRpcTransient, fmt.Errorf("decimals token1: %w", err))
	}

	d.Balance0, d.Balance1, d.Dec0, d.Dec1 = bal0, bal1, dec0, dec1
	d.Stage = StageComputingRatio
	return nil
}

func (m *Machine) runComputingRatio(ctx context.Context, d *Descriptor) error {
	slot0, err := m.chain.Slot0(ctx, d.Pool)
	if err != nil {
		return m.fail(d, StageComputingRatio, KindRpcTransient, fmt.Errorf("slot0: %w", err))
	}
	d.CurrentTick = slot0.Tick
	d.Ratio = clmath.RatioForRange(slot0.Tick, d.TargetRange.TickLower, d.TargetRange.TickUpper, int(d.Dec0), int(d.Dec1))
	d.Stage = StageSwapping
	return nil
}

func (m *Machine) runSwapping(ctx context.Context, d *Descriptor) error {
	plan := computeSwapPlan(d, m.cfg.MinSwapValueUSDC)
	if plan.Skip {
		if m.log != nil {
			m.log.Info("dust swap skipped: delta=%.6f below min %.6f", plan.DeltaValue, m.cfg.MinSwapValueUSDC)
		}
		d.Stage = StageMinting
		return nil
	}

	receipt, err := m.swap.Swap(ctx, plan.TokenIn, plan.TokenOut, plan.AmountIn, d.Pool)
	if err != nil {
		return m.fail(d, StageSwapping, classifySwapErr(err), err)
	}
	if receipt != nil {
		d.recordTx(StageSwapping, receipt.TxHash, receipt.GasCostWei)
	}
	if m.cfg.SettleAfterSwap > 0 {
		time.Sleep(m.cfg.SettleAfterSwap)
	}

	bal0, err := m.chain.BalanceOf(ctx, d.Token0, m.cfg.Account)
	if err != nil {
		return m.fail(d, StageSwapping, KindRpcTransient, fmt.Errorf("post-swap balanceOf token0: %w", err))
	}
	bal1, err := m.chain.BalanceOf(ctx, d.Token1, m.cfg.Account)
	if err != nil {
		return m.fail(d, StageSwapping, KindRpcTransient, fmt.Errorf("post-swap balanceOf token1: %w", err))
	}
	d.Balance0, d.Balance1 = bal0, bal1
	d.Stage = StageMinting
	return nil
}

func (m *Machine) runMinting(ctx context.Context, d *Descriptor) error {
	if err := m.ensureApproved(ctx, d.Token0, d.Manager, d.Balance0); err != nil {
		return m.fail(d, StageMinting, KindRpcTransient, err)
	}
	if err := m.ensureApproved(ctx, d.Token1, d.Manager, d.Balance1); err != nil {
		return m.fail(d, StageMinting, KindRpcTransient, err)
	}

	params := chain.MintParams{
		Token0: d.Token0, Token1: d.Token1, TickSpacing: d.TickSpacing,
		TickLower: d.TargetRange.TickLower, TickUpper: d.TargetRange.TickUpper,
		Amount0Desired: d.Balance0, Amount1Desired: d.Balance1,
		Amount0Min: clmath.AmountOutMinimum(d.Balance0, m.cfg.SlippageBps),
		Amount1Min: clmath.AmountOutMinimum(d.Balance1, m.cfg.SlippageBps),
		Recipient:  m.cfg.Account,
		Deadline:   m.deadline(),
	}

	pmABI := m.chain.PositionManagerABI()
	if _, err := m.chain.StaticCall(ctx, d.Manager, pmABI, "mint", params); err != nil {
		return m.fail(d, StageMinting, KindMintReverted, fmt.Errorf("simulate mint: %w", err))
	}

	receipt, err := m.chain.Mint(ctx, d.Manager, params)
	if err != nil {
		return m.fail(d, StageMinting, KindMintReverted, err)
	}
	d.recordTx(StageMinting, receipt.TxHash, mustGasCost(receipt, m.log))

	tokenID, err := m.extractMintedTokenID(d.Manager, pmABI, receipt)
	if err != nil {
		return m.fail(d, StageMinting, KindMintReverted, err)
	}
	d.NewTokenID = tokenID
	if m.log != nil {
		m.log.Success("minted position %s in [%d, %d)", tokenID, d.TargetRange.TickLower, d.TargetRange.TickUpper)
	}
	d.Stage = StageStaking
	return nil
}

func (m *Machine) extractMintedTokenID(manager common.Address, pmABI abi.ABI, receipt *enginetypes.TxReceipt) (*big.Int, error) {
	events, err := m.chain.ParseReceiptFor(manager, pmABI, receipt)
	if err != nil {
		return nil, fmt.Errorf("parse mint receipt: %w", err)
	}
	for _, e := range events {
		if e.EventName == "IncreaseLiquidity" {
			if id, ok := e.Parameter["tokenId"].(*big.Int); ok {
				return id, nil
			}
		}
	}
	for _, e := range events {
		if e.EventName != "Transfer" {
			continue
		}
		from, _ := e.Parameter["from"].(common.Address)
		if from == (common.Address{}) {
			if id, ok := e.Parameter["tokenId"].(*big.Int); ok {
				return id, nil
			}
		}
	}
	return nil, errors.New("mint receipt had no IncreaseLiquidity or mint Transfer event")
}

// runStaking stakes the newly minted position if a gauge was configured for
// it. A failure here is logged and the cycle still ends Done: the position
// itself was minted successfully and is valuable even sitting unstaked.
func (m *Machine) runStaking(ctx context.Context, d *Descriptor) error {
	if d.Gauge == (common.Address{}) {
		d.Stage = StageDone
		return nil
	}

	approved, err := m.chain.NFTApproved(ctx, d.Manager, d.NewTokenID)
	if err != nil && m.log != nil {
		m.log.Warn("stake %s: check approval: %v", d.NewTokenID, err)
	}
	if approved != d.Gauge {
		if _, err := m.chain.ApproveNFT(ctx, d.Manager, d.Gauge, d.NewTokenID); err != nil {
			if m.log != nil {
				m.log.Warn("stake %s: approve failed, leaving unstaked: %v", d.NewTokenID, err)
			}
			d.Stage = StageDone
			return nil
		}
	}

	receipt, err := m.chain.GaugeDeposit(ctx, d.Gauge, d.NewTokenID)
	if err != nil {
		if m.log != nil {
			m.log.Warn("stake %s: deposit failed, leaving unstaked: %v", d.NewTokenID, err)
		}
		d.Stage = StageDone
		return nil
	}
	d.recordTx(StageStaking, receipt.TxHash, mustGasCost(receipt, m.log))
	if m.log != nil {
		m.log.Success("staked position %s into gauge %s", d.NewTokenID, d.Gauge.Hex())
	}
	d.Stage = StageDone
	return nil
}

func (m *Machine) ensureApproved(ctx context.Context, token, spender common.Address, amount *big.Int) error {
	current, err := m.chain.Allowance(ctx, token, m.cfg.Account, spender)
	if err != nil {
		return fmt.Errorf("read allowance: %w", err)
	}
	if current.Cmp(amount) >= 0 {
		return nil
	}
	maxAllowance := new(big.Int).Lsh(big.NewInt(1), 256)
	maxAllowance.Sub(maxAllowance, big.NewInt(1))
	if _, err := m.chain.Approve(ctx, token, spender, maxAllowance); err != nil {
		return fmt.Errorf("approve: %w", err)
	}
	return nil
}

func mustGasCost(receipt *enginetypes.TxReceipt, log Logger) *big.Int {
	cost, err := receipt.GasCost()
	if err != nil {
		if log != nil {
			log.Warn("gas cost: %v", err)
		}
		return nil
	}
	return cost
}

// classifySwapErr maps a swap.Executor error onto the rebalance error
// taxonomy (spec.md §7).
func classifySwapErr(err error) ErrorKind {
	switch {
	case errors.Is(err, swap.ErrUntrustedRouter):
		return KindUntrustedRouter
	case errors.Is(err, swap.ErrRouteReverted):
		return KindRouteReverted
	default:
		return KindRpcTransient
	}
}

// classifyChainErr maps a Chain Client send failure onto the taxonomy;
// nonce-expired recovery is already retried once inside the Signer
// (internal/chain.WithRetryOnNonceExpired), so seeing it here means that
// retry was also exhausted.
func classifyChainErr(err error) ErrorKind {
	if errors.Is(err, chain.ErrNonceExpired) {
		return KindNonceExpired
	}
	return KindRpcTransient
}
