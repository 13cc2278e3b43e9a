// Package position enumerates owned LP positions across a Position Manager
// and its gauges, classifies them, and locates the pool backing a token
// pair (spec.md §4.6, §4.7). Grounded on the teacher's AMM-state assembly in
// blackhole.go's GetAMMState, generalized from one hardcoded pool to the
// configured (factory × fee tier) scan spec.md §4.7 requires.
package position

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// ErrPoolNotFound is returned when the locator exhausts the configured
// (factory, feeTier) space without finding a non-zero pool (spec.md §7's
// PoolNotFound error kind).
var ErrPoolNotFound = errors.New("position: pool not found")

// FactoryReader looks up a pool address for a token pair at a fee tier.
type FactoryReader interface {
	GetPool(ctx context.Context, factory, tokenA, tokenB common.Address, fee *big.Int) (common.Address, error)
}

// PoolLocator finds a pool address for a token pair by scanning configured
// factories and fee tiers in order, per spec.md §4.7.
type PoolLocator struct {
	reader    FactoryReader
	factories []common.Address
	feeTiers  []*big.Int
}

// NewPoolLocator builds a PoolLocator over an ordered factory list and an
// ordered fee-tier list. Order is authoritative: the first non-zero match
// wins, matching the source's first-match semantics (spec.md §9 Open
// Question 1 — this spec treats the configured order as intentional).
func NewPoolLocator(reader FactoryReader, factories []common.Address, feeTiers []*big.Int) *PoolLocator {
	return &PoolLocator{reader: reader, factories: factories, feeTiers: feeTiers}
}

// Locate iterates factories (outer) × feeTiers (inner) in configured order,
// calling factory.getPool(a, b, fee), and returns the first non-zero result.
// Returns ErrPoolNotFound if none of the combinations yield a pool.
func (l *PoolLocator) Locate(ctx context.Context, tokenA, tokenB common.Address) (common.Address, error) {
	var zero common.Address
	for _, factory := range l.factories {
		for _, fee := range l.feeTiers {
			pool, err := l.reader.GetPool(ctx, factory, tokenA, tokenB, fee)
			if err != nil {
				return zero, fmt.Errorf("position: getPool(factory=%s, fee=%s): %w", factory.Hex(), fee.String(), err)
			}
			if pool != zero {
				return pool, nil
			}
		}
	}
	return zero, fmt.Errorf("position: %s/%s: %w", tokenA.Hex(), tokenB.Hex(), ErrPoolNotFound)
}
