package rebalance

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"blackholego/internal/clmath"
	"blackholego/internal/position"
)

// TxRecord is one on-chain send the Machine made while driving a Descriptor
// through its stages, kept for reporting and gas-cost bookkeeping
// (SPEC_FULL.md §4's supplemented gas-cost tracking).
type TxRecord struct {
	Stage      Stage
	TxHash     common.Hash
	GasCostWei *big.Int
}

// Descriptor is spec.md §3's RebalanceDescriptor: the single piece of
// mutable state a rebalance cycle carries as it moves through the Machine.
// At most one Descriptor is ever alive at a time (spec.md §5's
// single-flight rule); the Orchestrator owns that invariant, not the
// Machine itself.
type Descriptor struct {
	Stage Stage

	// SourcePosition is nil for a bootstrap entry (spec.md §4.6's
	// "degenerate entry starting at ComputingRatio"): there is no existing
	// NFT to unstake, withdraw, or burn.
	SourcePosition *position.Position

	Manager     common.Address
	Pool        common.Address
	Token0      common.Address
	Token1      common.Address
	TickSpacing int
	Dec0        uint8
	Dec1        uint8

	TargetRange clmath.TickRange
	// Gauge is the staking target for the newly minted position, resolved
	// by the caller (Monitor) before the Descriptor is handed to the
	// Machine. The zero address means "leave unstaked."
	Gauge common.Address

	CurrentTick int
	Balance0    *big.Int
	Balance1    *big.Int
	Ratio       clmath.RatioResult

	NewTokenID *big.Int
	TxRecords  []TxRecord

	FailedStage Stage
	FailErr     error
}

func (d *Descriptor) recordTx(stage Stage, hash common.Hash, gasCostWei *big.Int) {
	d.TxRecords = append(d.TxRecords, TxRecord{Stage: stage, TxHash: hash, GasCostWei: gasCostWei})
}

// CumulativeGasWei sums gas cost across every tx the Descriptor has sent so
// far, for the Orchestrator's running gas counter.
func (d *Descriptor) CumulativeGasWei() *big.Int {
	total := big.NewInt(0)
	for _, tx := range d.TxRecords {
		if tx.GasCostWei != nil {
			total.Add(total, tx.GasCostWei)
		}
	}
	return total
}
