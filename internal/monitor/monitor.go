// Package monitor implements the Monitor component (spec.md §4.6): the
// candidate-selection loop that scans an account's positions every cycle,
// auto-stakes in-range unstaked NFTs, picks at most one out-of-range
// rebalance candidate, and detects the bootstrap case (zero positions,
// wallet balances above dust). Grounded on the teacher's Mint/Stake methods
// in blackhole.go for the auto-stake approve-if-needed/deposit sequence,
// and on internal/position.Reader for enumeration (spec.md §4.6 steps 1-6).
package monitor

import (
	"context"
	"fmt"
	"math"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"blackholego/internal/cache"
	"blackholego/internal/chain"
	"blackholego/internal/clmath"
	"blackholego/internal/position"
	enginetypes "blackholego/pkg/types"
)

// ChainOps is the subset of the Chain Client the Monitor needs directly:
// fresh tick reads for classification, wallet balances for the bootstrap
// check, and the idempotent approve/deposit pair for auto-staking.
type ChainOps interface {
	cache.TokenReader
	cache.PoolReader
	Slot0(ctx context.Context, pool common.Address) (chain.Slot0, error)
	BalanceOf(ctx context.Context, token, owner common.Address) (*big.Int, error)
	NFTApproved(ctx context.Context, manager common.Address, tokenID *big.Int) (common.Address, error)
	ApproveNFT(ctx context.Context, manager, to common.Address, tokenID *big.Int) (*enginetypes.TxReceipt, error)
	GaugeDeposit(ctx context.Context, gauge common.Address, tokenID *big.Int) (*enginetypes.TxReceipt, error)
}

// Logger is the narrow logging surface the Monitor reports through.
type Logger interface {
	Info(format string, args ...interface{})
	Success(format string, args ...interface{})
	Warn(format string, args ...interface{})
}

// RebalanceCandidate is an out-of-range position the Monitor has selected as
// this cycle's (at most one) rebalance target, per spec.md §5's
// single-flight rule.
type RebalanceCandidate struct {
	Position    position.Position
	CurrentTick int
	TargetRange clmath.TickRange
}

// BootstrapCandidate is spec.md §4.6's degenerate case: the account holds no
// LP positions at all, but its wallet balances for a configured token pair
// sit above the dust threshold.
type BootstrapCandidate struct {
	Manager     common.Address
	Pool        common.Address
	Token0      common.Address
	Token1      common.Address
	TickSpacing int
	CurrentTick int
	Gauge       common.Address
	Balance0    *big.Int
	Balance1    *big.Int
	Dec0        uint8
	Dec1        uint8
}

// StakeOutcome records what happened when the Monitor tried to auto-stake
// one unstaked, in-range position.
type StakeOutcome struct {
	TokenID *big.Int
	Gauge   common.Address
	Skipped bool
	Err     error
}

// Result is one cycle's candidate-selection outcome.
type Result struct {
	AutoStaked         []StakeOutcome
	RebalanceCandidate *RebalanceCandidate
	BootstrapCandidate *BootstrapCandidate
}

// Config bundles the Monitor's tunables (spec.md §6).
type Config struct {
	Account               common.Address
	Manager               common.Address
	AutoRebalance         bool
	RebalanceThresholdPct float64
	RangeMultiplier       float64
	BootstrapTokenA       common.Address
	BootstrapTokenB       common.Address
	BootstrapDustHuman    float64
}

// Monitor drives one cycle's worth of position scanning and classification.
type Monitor struct {
	reader  *position.Reader
	cache   *cache.Cache
	locator *position.PoolLocator
	chain   ChainOps
	log     Logger
	cfg     Config
}

// New builds a Monitor.
func New(reader *position.Reader, c *cache.Cache, locator *position.PoolLocator, chainOps ChainOps, logger Logger, cfg Config) *Monitor {
	return &Monitor{reader: reader, cache: c, locator: locator, chain: chainOps, log: logger, cfg: cfg}
}

// Scan performs spec.md §4.6's full per-cycle pass: enumerate positions,
// classify each against a freshly read tick, auto-stake in-range unstaked
// NFTs immediately (idempotent, not subject to single-flight), and surface
// at most one rebalance candidate plus an optional bootstrap candidate for
// the caller (the Orchestrator, which owns the single-flight Descriptor) to
// act on. rebalanceInProgress suppresses picking a new rebalance candidate
// while one is already running.
func (m *Monitor) Scan(ctx context.Context, rebalanceInProgress bool) (Result, error) {
	positions, err := m.reader.Scan(ctx, m.cfg.Account)
	if err != nil {
		return Result{}, fmt.Errorf("monitor: scan positions: %w", err)
	}

	if len(positions) == 0 {
		candidate, err := m.bootstrapCandidate(ctx)
		if err != nil {
			return Result{}, err
		}
		return Result{BootstrapCandidate: candidate}, nil
	}

	var result Result
	slot0ByPool := map[common.Address]chain.Slot0{}

	for _, p := range positions {
		if p.Pool == (common.Address{}) {
			// Unclassifiable this cycle (spec.md §4.7): pool membership
			// couldn't be determined. Skip rather than fail the whole scan.
			continue
		}

		slot0, ok := slot0ByPool[p.Pool]
		if !ok {
			slot0, err = m.chain.Slot0(ctx, p.Pool)
			if err != nil {
				if m.log != nil {
					m.log.Warn("monitor: slot0 %s: %v", p.Pool.Hex(), err)
				}
				continue
			}
			slot0ByPool[p.Pool] = slot0
		}

		classification := position.Classify(slot0.Tick, p.TickLower, p.TickUpper)

		switch {
		case classification.IsInRange && !p.IsStaked:
			result.AutoStaked = append(result.AutoStaked, m.autoStake(ctx, p))

		case !classification.IsInRange && m.cfg.AutoRebalance && !rebalanceInProgress && result.RebalanceCandidate == nil:
			if classification.PercentOut < m.cfg.RebalanceThresholdPct {
				continue
			}
			tickLower, tickUpper, err := clmath.ComputeNewRange(slot0.Tick, p.TickSpacing, m.cfg.RangeMultiplier)
			if err != nil {
				if m.log != nil {
					m.log.Warn("monitor: compute new range for %s: %v", p.TokenID.String(), err)
				}
				continue
			}
			result.RebalanceCandidate = &RebalanceCandidate{
				Position:    p,
				CurrentTick: slot0.Tick,
				TargetRange: clmath.TickRange{TickLower: tickLower, TickUpper: tickUpper},
			}
		}
	}

	return result, nil
}

// autoStake approves and deposits an in-range, unstaked position into its
// configured gauge. A position whose pair has no configured gauge is left
// alone; staking failures are logged, not fatal (spec.md §4.6).
func (m *Monitor) autoStake(ctx context.Context, p position.Position) StakeOutcome {
	gauge, err := m.reader.GaugeForPair(ctx, p.Token0, p.Token1)
	if err != nil || gauge == (common.Address{}) {
		return StakeOutcome{TokenID: p.TokenID, Skipped: true, Err: err}
	}

	approved, err := m.chain.NFTApproved(ctx, p.Manager, p.TokenID)
	if err != nil && m.log != nil {
		m.log.Warn("monitor: check approval for %s: %v", p.TokenID, err)
	}
	if approved != gauge {
		if _, err := m.chain.ApproveNFT(ctx, p.Manager, gauge, p.TokenID); err != nil {
			if m.log != nil {
				m.log.Warn("monitor: approve nft %s for gauge %s: %v", p.TokenID, gauge.Hex(), err)
			}
			return StakeOutcome{TokenID: p.TokenID, Err: err}
		}
	}

	if _, err := m.chain.GaugeDeposit(ctx, gauge, p.TokenID); err != nil {
		if m.log != nil {
			m.log.Warn("monitor: stake %s: %v", p.TokenID, err)
		}
		return StakeOutcome{TokenID: p.TokenID, Err: err}
	}

	if m.log != nil {
		m.log.Success("auto-staked position %s into gauge %s", p.TokenID, gauge.Hex())
	}
	return StakeOutcome{TokenID: p.TokenID, Gauge: gauge}
}

// bootstrapCandidate checks the configured bootstrap pair's wallet balances
// and, if either sits above the dust threshold, resolves the pool the
// Descriptor will mint into. Returns (nil, nil) both when both balances are
// dust and when the pair's pool can't be located (PoolNotFound is treated as
// "nothing to do yet", not an error worth failing the cycle over).
func (m *Monitor) bootstrapCandidate(ctx context.Context) (*BootstrapCandidate, error) {
	tokenA, tokenB := m.cfg.BootstrapTokenA, m.cfg.BootstrapTokenB
	if tokenA == (common.Address{}) || tokenB == (common.Address{}) {
		return nil, nil
	}

	balA, err := m.chain.BalanceOf(ctx, tokenA, m.cfg.Account)
	if err != nil {
		return nil, fmt.Errorf("monitor: bootstrap balanceOf tokenA: %w", err)
	}
	balB, err := m.chain.BalanceOf(ctx, tokenB, m.cfg.Account)
	if err != nil {
		return nil, fmt.Errorf("monitor: bootstrap balanceOf tokenB: %w", err)
	}

	decA, err := m.chain.Decimals(ctx, tokenA)
	if err != nil {
		return nil, fmt.Errorf("monitor: bootstrap decimals tokenA: %w", err)
	}
	decB, err := m.chain.Decimals(ctx, tokenB)
	if err != nil {
		return nil, fmt.Errorf("monitor: bootstrap decimals tokenB: %w", err)
	}

	if humanUnits(balA, decA) < m.cfg.BootstrapDustHuman && humanUnits(balB, decB) < m.cfg.BootstrapDustHuman {
		return nil, nil
	}

	pool, err := m.locator.Locate(ctx, tokenA, tokenB)
	if err != nil {
		if m.log != nil {
			m.log.Warn("monitor: bootstrap pool for %s/%s not found yet: %v", tokenA.Hex(), tokenB.Hex(), err)
		}
		return nil, nil
	}

	poolInfo, err := m.cache.Pool(ctx, m.chain, pool)
	if err != nil {
		return nil, fmt.Errorf("monitor: bootstrap pool structure: %w", err)
	}
	slot0, err := m.chain.Slot0(ctx, pool)
	if err != nil {
		return nil, fmt.Errorf("monitor: bootstrap slot0: %w", err)
	}

	gauge, err := m.reader.GaugeForPair(ctx, tokenA, tokenB)
	if err != nil && m.log != nil {
		m.log.Warn("monitor: bootstrap gauge lookup: %v", err)
	}

	// The pool's own token0/token1 ordering may not match the configured
	// tokenA/tokenB order, so balances/decimals must be realigned to it.
	bal0, bal1, dec0, dec1 := balA, balB, decA, decB
	if poolInfo.Token0 != tokenA {
		bal0, bal1, dec0, dec1 = balB, balA, decB, decA
	}

	return &BootstrapCandidate{
		Manager: m.cfg.Manager, Pool: pool, Token0: poolInfo.Token0, Token1: poolInfo.Token1,
		TickSpacing: poolInfo.TickSpacing, CurrentTick: slot0.Tick, Gauge: gauge,
		Balance0: bal0, Balance1: bal1, Dec0: dec0, Dec1: dec1,
	}, nil
}

func humanUnits(amount *big.Int, decimals uint8) float64 {
	f := new(big.Float).SetInt(amount)
	scale := new(big.Float).SetFloat64(math.Pow10(int(decimals)))
	f.Quo(f, scale)
	out, _ := f.Float64()
	return out
}
