// Package chain provides the typed wrapper over JSON-RPC the rest of the
// engine depends on: reads, gas estimation, receipt waits, and event
// decoding, plus the fee policy and nonce-managed signer that sit next to it
// (spec.md §4.2, §4.3). Grounded on the teacher's gas-estimation convention
// (blackhole.go's "nil // Use automatic gas limit estimation" sends, always
// scaled in contractclient by the 1.2x buffer) generalized to also support
// EIP-1559 fee computation, which the teacher's single-chain, single-RPC
// design never needed.
package chain

import (
	"context"
	"fmt"
	"math/big"
)

// GasStrategy selects between EIP-1559 and legacy gas pricing.
type GasStrategy string

const (
	GasStrategyAuto   GasStrategy = "auto"
	GasStrategyLegacy GasStrategy = "legacy"
)

// FeePolicyConfig bounds the fees FeePolicy is allowed to compute.
type FeePolicyConfig struct {
	Strategy          GasStrategy
	MaxGasPriceWei    *big.Int // hard cap on maxFee / legacy gasPrice
	PriorityFeeWei    *big.Int // default 0.001 gwei per spec.md §4.2
	WarnOnClamp       func(msg string)
}

// BaseFeeReader reads the latest block's base fee (or, for legacy chains, a
// suggested gas price).
type BaseFeeReader interface {
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	HeaderBaseFee(ctx context.Context) (*big.Int, error)
}

// FeePolicy computes EIP-1559 maxFee/maxPriorityFee (or a legacy gas price)
// from chain state plus configured bounds.
type FeePolicy struct {
	cfg    FeePolicyConfig
	reader BaseFeeReader
}

// NewFeePolicy builds a FeePolicy. A nil WarnOnClamp is replaced with a no-op.
func NewFeePolicy(reader BaseFeeReader, cfg FeePolicyConfig) *FeePolicy {
	if cfg.PriorityFeeWei == nil {
		cfg.PriorityFeeWei = weiFromGwei(0.001)
	}
	if cfg.WarnOnClamp == nil {
		cfg.WarnOnClamp = func(string) {}
	}
	return &FeePolicy{cfg: cfg, reader: reader}
}

// Fees is the computed fee parameters for a single transaction.
type Fees struct {
	Legacy        bool
	GasPrice      *big.Int // set iff Legacy
	MaxFeePerGas  *big.Int // set iff !Legacy
	MaxPriorityFeePerGas *big.Int // set iff !Legacy
}

// Compute derives the fee parameters for the next transaction, per spec.md
// §4.2: maxPriorityFee = configured priority gwei; maxFee = baseFee +
// maxPriorityFee, capped at MAX_GAS_PRICE. If the cap forces
// maxFee < maxPriorityFee, maxPriorityFee is clamped down to maxFee (testable
// property 4: maxPriorityFeePerGas <= maxFeePerGas always holds).
func (p *FeePolicy) Compute(ctx context.Context) (Fees, error) {
	if p.cfg.Strategy == GasStrategyLegacy {
		gasPrice, err := p.reader.SuggestGasPrice(ctx)
		if err != nil {
			return Fees{}, fmt.Errorf("chain: suggest gas price: %w", err)
		}
		if p.cfg.MaxGasPriceWei != nil && gasPrice.Cmp(p.cfg.MaxGasPriceWei) > 0 {
			gasPrice = new(big.Int).Set(p.cfg.MaxGasPriceWei)
		}
		return Fees{Legacy: true, GasPrice: gasPrice}, nil
	}

	baseFee, err := p.reader.HeaderBaseFee(ctx)
	if err != nil {
		return Fees{}, fmt.Errorf("chain: read base fee: %w", err)
	}

	priorityFee := new(big.Int).Set(p.cfg.PriorityFeeWei)
	maxFee := new(big.Int).Add(baseFee, priorityFee)

	if p.cfg.MaxGasPriceWei != nil && maxFee.Cmp(p.cfg.MaxGasPriceWei) > 0 {
		maxFee = new(big.Int).Set(p.cfg.MaxGasPriceWei)
	}
	if priorityFee.Cmp(maxFee) > 0 {
		p.cfg.WarnOnClamp(fmt.Sprintf(
			"clamping maxPriorityFeePerGas from %s to %s to satisfy maxPriorityFee <= maxFee",
			priorityFee.String(), maxFee.String()))
		priorityFee = new(big.Int).Set(maxFee)
	}

	return Fees{MaxFeePerGas: maxFee, MaxPriorityFeePerGas: priorityFee}, nil
}

func weiFromGwei(gwei float64) *big.Int {
	f := new(big.Float).Mul(big.NewFloat(gwei), big.NewFloat(1e9))
	out, _ := f.Int(nil)
	return out
}

// WeiFromGwei converts a gwei float into wei, exported for configuration
// parsing (PRIORITY_FEE_GWEI, MAX_GAS_PRICE).
func WeiFromGwei(gwei float64) *big.Int { return weiFromGwei(gwei) }
