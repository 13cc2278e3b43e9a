// Package cache memoizes the structural, slow-changing chain facts the rest
// of the engine reads every cycle: ERC-20 decimals/symbol and pool
// token0/token1/tickSpacing/fee (spec.md §3's Token/PriceCache entities).
// Grounded on the teacher's bare package-level `tokenCache = map[...]` globals
// referenced throughout blackhole.go's balance/decimals lookups, re-architected
// per spec.md §9 into a process-wide cache with an explicit constructor
// instead of a package-level global, built once by cmd/rebalancer and shared
// by the Position Reader and the Monitor. Append-only: entries are never invalidated, matching
// spec.md §3's "invalidation not required for correctness."
package cache

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// TokenInfo is a token's cached, immutable-once-observed attributes.
type TokenInfo struct {
	Symbol   string
	Decimals uint8
}

// PoolInfo is a pool's cached structural fields. slot0 is deliberately not
// part of this type — it is fast-changing and read fresh every cycle.
type PoolInfo struct {
	Token0      common.Address
	Token1      common.Address
	TickSpacing int
	Fee         uint32
}

// TokenReader fetches a token's decimals and symbol from the chain.
type TokenReader interface {
	Decimals(ctx context.Context, token common.Address) (uint8, error)
	Symbol(ctx context.Context, token common.Address) (string, error)
}

// PoolReader fetches a pool's structural fields from the chain.
type PoolReader interface {
	PoolStructure(ctx context.Context, pool common.Address) (PoolInfo, error)
}

// Cache memoizes tokens and pools behind a mutex so it can be shared safely:
// the Position Reader's errgroup fan-out over configured gauges calls
// PutPool from concurrent goroutines.
type Cache struct {
	mu     sync.Mutex
	tokens map[common.Address]TokenInfo
	pools  map[common.Address]PoolInfo
}

// New builds an empty Cache.
func New() *Cache {
	return &Cache{
		tokens: make(map[common.Address]TokenInfo),
		pools:  make(map[common.Address]PoolInfo),
	}
}

// Token returns the cached TokenInfo for address, fetching and memoizing it
// via reader on first access.
func (c *Cache) Token(ctx context.Context, reader TokenReader, address common.Address) (TokenInfo, error) {
	c.mu.Lock()
	if info, ok := c.tokens[address]; ok {
		c.mu.Unlock()
		return info, nil
	}
	c.mu.Unlock()

	decimals, err := reader.Decimals(ctx, address)
	if err != nil {
		return TokenInfo{}, err
	}
	symbol, err := reader.Symbol(ctx, address)
	if err != nil {
		return TokenInfo{}, err
	}

	info := TokenInfo{Symbol: symbol, Decimals: decimals}
	c.mu.Lock()
	c.tokens[address] = info
	c.mu.Unlock()
	return info, nil
}

// Pool returns the cached PoolInfo for address, fetching and memoizing it via
// reader on first access.
func (c *Cache) Pool(ctx context.Context, reader PoolReader, address common.Address) (PoolInfo, error) {
	c.mu.Lock()
	if info, ok := c.pools[address]; ok {
		c.mu.Unlock()
		return info, nil
	}
	c.mu.Unlock()

	info, err := reader.PoolStructure(ctx, address)
	if err != nil {
		return PoolInfo{}, err
	}

	c.mu.Lock()
	c.pools[address] = info
	c.mu.Unlock()
	return info, nil
}

// PutPool seeds the cache directly, used when a pool's structure is already
// known from another source (e.g. a configured gauge's cached pool) without
// requiring a redundant chain read.
func (c *Cache) PutPool(address common.Address, info PoolInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pools[address] = info
}

// CachedPool returns a pool's info without fetching, reporting whether it was
// present.
func (c *Cache) CachedPool(address common.Address) (PoolInfo, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	info, ok := c.pools[address]
	return info, ok
}
