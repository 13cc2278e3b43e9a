package position

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"blackholego/internal/cache"
	"blackholego/internal/chain"
)

// Position is a value snapshot of one LP NFT, assembled from the Position
// Manager, its gauge (if staked), and its pool, per spec.md §3's Position
// entity and §4.6's enumeration steps.
type Position struct {
	TokenID     *big.Int
	Manager     common.Address
	Token0      common.Address
	Token1      common.Address
	TickSpacing int
	TickLower   int
	TickUpper   int
	Liquidity   *big.Int
	TokensOwed0 *big.Int
	TokensOwed1 *big.Int
	IsStaked    bool
	Gauge       common.Address
	Pool        common.Address
}

// Classification is the per-cycle read of a position's relationship to the
// pool's current tick (spec.md §4.6 step 7).
type Classification struct {
	IsInRange  bool
	PercentOut float64 // only meaningful when !IsInRange
	BelowRange bool
	AboveRange bool
}

// Classify reports whether tick sits inside [tickLower, tickUpper) and, if
// not, how far out as a percentage of the range's width.
func Classify(tick, tickLower, tickUpper int) Classification {
	if tick >= tickLower && tick < tickUpper {
		return Classification{IsInRange: true}
	}
	width := float64(tickUpper - tickLower)
	if tick < tickLower {
		return Classification{
			PercentOut: absFloat(float64(tickLower-tick)) / width * 100,
			BelowRange: true,
		}
	}
	return Classification{
		PercentOut: absFloat(float64(tick-tickUpper)) / width * 100,
		AboveRange: true,
	}
}

func absFloat(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

// GaugeConfig names one configured reward gauge.
type GaugeConfig struct {
	Address common.Address
}

// ChainReader is the subset of chain.Client the Position Reader needs.
type ChainReader interface {
	NFTBalanceOf(ctx context.Context, manager, owner common.Address) (*big.Int, error)
	TokenOfOwnerByIndex(ctx context.Context, manager, owner common.Address, index *big.Int) (*big.Int, error)
	Positions(ctx context.Context, manager common.Address, tokenID *big.Int) (chain.PositionInfo, error)
	GaugePool(ctx context.Context, gauge common.Address) (common.Address, error)
	GaugeTokens(ctx context.Context, gauge common.Address) (token0, token1 common.Address, err error)
	StakedValues(ctx context.Context, gauge, account common.Address) ([]*big.Int, error)
	StakedLength(ctx context.Context, gauge, account common.Address) (*big.Int, error)
	StakedByIndex(ctx context.Context, gauge, account common.Address, index *big.Int) (*big.Int, error)
}

// Reader enumerates and classifies an account's LP positions, per spec.md
// §4.6 steps 1-7.
type Reader struct {
	chain   ChainReader
	cache   *cache.Cache
	locator *PoolLocator
	manager common.Address
	gauges  []GaugeConfig
}

// NewReader builds a Reader bound to one Position Manager and the configured
// set of gauges.
func NewReader(chainReader ChainReader, c *cache.Cache, locator *PoolLocator, manager common.Address, gauges []GaugeConfig) *Reader {
	return &Reader{chain: chainReader, cache: c, locator: locator, manager: manager, gauges: gauges}
}

type gaugeMeta struct {
	address common.Address
	pool    common.Address
	token0  common.Address
	token1  common.Address
}

// Scan performs spec.md §4.6 steps 1-6 and returns every live (liquidity > 0)
// position owned by account, with Pool and IsStaked/Gauge populated. Step 7
// (classify against slot0) is the caller's responsibility since it needs a
// fresh tick read per distinct pool.
func (r *Reader) Scan(ctx context.Context, account common.Address) ([]Position, error) {
	gauges, err := r.readGaugeMeta(ctx)
	if err != nil {
		return nil, err
	}

	unstakedIDs, err := r.enumerateUnstaked(ctx, account)
	if err != nil {
		return nil, err
	}

	stakedIDs := map[common.Address][]*big.Int{}
	for _, g := range gauges {
		ids, err := r.enumerateStaked(ctx, g.address, account)
		if err != nil {
			return nil, fmt.Errorf("position: enumerate staked for gauge %s: %w", g.address.Hex(), err)
		}
		stakedIDs[g.address] = ids
	}

	var positions []Position
	for _, tokenID := range unstakedIDs {
		p, ok, err := r.loadPosition(ctx, tokenID, common.Address{}, gauges)
		if err != nil {
			return nil, err
		}
		if ok {
			positions = append(positions, p)
		}
	}
	for gaugeAddr, ids := range stakedIDs {
		for _, tokenID := range ids {
			p, ok, err := r.loadPosition(ctx, tokenID, gaugeAddr, gauges)
			if err != nil {
				return nil, err
			}
			if ok {
				positions = append(positions, p)
			}
		}
	}

	return positions, nil
}

// readGaugeMeta reads each configured gauge's pool/token0/token1 once,
// fanning the reads out concurrently (spec.md §9's join_all-style
// parallelism) while still joining before the caller proceeds, preserving
// the stage boundary.
func (r *Reader) readGaugeMeta(ctx context.Context) ([]gaugeMeta, error) {
	metas := make([]gaugeMeta, len(r.gauges))
	group, gctx := errgroup.WithContext(ctx)

	for i, g := range r.gauges {
		i, g := i, g
		group.Go(func() error {
			pool, err := r.chain.GaugePool(gctx, g.Address)
			if err != nil {
				return fmt.Errorf("position: gauge pool %s: %w", g.Address.Hex(), err)
			}
			token0, token1, err := r.chain.GaugeTokens(gctx, g.Address)
			if err != nil {
				return fmt.Errorf("position: gauge tokens %s: %w", g.Address.Hex(), err)
			}
			metas[i] = gaugeMeta{address: g.Address, pool: pool, token0: token0, token1: token1}
			r.cache.PutPool(pool, cache.PoolInfo{Token0: token0, Token1: token1})
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return nil, err
	}
	return metas, nil
}

func (r *Reader) enumerateUnstaked(ctx context.Context, account common.Address) ([]*big.Int, error) {
	balance, err := r.chain.NFTBalanceOf(ctx, r.manager, account)
	if err != nil {
		return nil, fmt.Errorf("position: nft balanceOf: %w", err)
	}

	ids := make([]*big.Int, 0, balance.Int64())
	for i := int64(0); i < balance.Int64(); i++ {
		id, err := r.chain.TokenOfOwnerByIndex(ctx, r.manager, account, big.NewInt(i))
		if err != nil {
			return nil, fmt.Errorf("position: tokenOfOwnerByIndex(%d): %w", i, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// enumerateStaked prefers the bulk stakedValues accessor and falls back to
// (stakedLength, stakedByIndex) when it errors, per spec.md §4.6 step 3.
func (r *Reader) enumerateStaked(ctx context.Context, gauge, account common.Address) ([]*big.Int, error) {
	if ids, err := r.chain.StakedValues(ctx, gauge, account); err == nil {
		return ids, nil
	}

	length, err := r.chain.StakedLength(ctx, gauge, account)
	if err != nil {
		return nil, fmt.Errorf("staked length fallback: %w", err)
	}

	ids := make([]*big.Int, 0, length.Int64())
	for i := int64(0); i < length.Int64(); i++ {
		id, err := r.chain.StakedByIndex(ctx, gauge, account, big.NewInt(i))
		if err != nil {
			return nil, fmt.Errorf("staked by index(%d) fallback: %w", i, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// loadPosition fetches the positions() tuple for tokenID and derives its
// pool, preferring the matching gauge's cached pool over a locator scan
// (spec.md §4.6 step 5). Returns ok=false for a closed (zero-liquidity)
// position, which the caller should discard.
func (r *Reader) loadPosition(ctx context.Context, tokenID *big.Int, stakedGauge common.Address, gauges []gaugeMeta) (Position, bool, error) {
	info, err := r.chain.Positions(ctx, r.manager, tokenID)
	if err != nil {
		return Position{}, false, fmt.Errorf("position: positions(%s): %w", tokenID.String(), err)
	}
	if info.Liquidity == nil || info.Liquidity.Sign() == 0 {
		return Position{}, false, nil
	}

	pool := r.findMatchingGaugePool(info.Token0, info.Token1, gauges)
	if pool == (common.Address{}) {
		located, err := r.locator.Locate(ctx, info.Token0, info.Token1)
		if err != nil {
			// PoolNotFound: unclassifiable this cycle, skip rather than fail
			// the whole scan (spec.md §4.7).
			return Position{}, false, nil
		}
		pool = located
	}

	return Position{
		TokenID:     tokenID,
		Manager:     r.manager,
		Token0:      info.Token0,
		Token1:      info.Token1,
		TickSpacing: info.TickSpacing,
		TickLower:   info.TickLower,
		TickUpper:   info.TickUpper,
		Liquidity:   info.Liquidity,
		TokensOwed0: info.TokensOwed0,
		TokensOwed1: info.TokensOwed1,
		IsStaked:    stakedGauge != (common.Address{}),
		Gauge:       stakedGauge,
		Pool:        pool,
	}, true, nil
}

func (r *Reader) findMatchingGaugePool(token0, token1 common.Address, gauges []gaugeMeta) common.Address {
	for _, g := range gauges {
		if (g.token0 == token0 && g.token1 == token1) || (g.token0 == token1 && g.token1 == token0) {
			return g.pool
		}
	}
	return common.Address{}
}

// GaugeForPair returns the configured gauge whose pair matches tokenA/tokenB,
// for callers outside Scan (the Monitor's auto-stake and bootstrap actions)
// that need a staking target without re-deriving pool membership themselves.
// Returns the zero address when no configured gauge covers the pair.
func (r *Reader) GaugeForPair(ctx context.Context, tokenA, tokenB common.Address) (common.Address, error) {
	gauges, err := r.readGaugeMeta(ctx)
	if err != nil {
		return common.Address{}, err
	}
	for _, g := range gauges {
		if (g.token0 == tokenA && g.token1 == tokenB) || (g.token0 == tokenB && g.token1 == tokenA) {
			return g.address, nil
		}
	}
	return common.Address{}, nil
}
