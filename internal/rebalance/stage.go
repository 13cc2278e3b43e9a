package rebalance

// Stage names one step of the rebalance state machine (spec.md §4.5). A
// Descriptor holds exactly one live Stage at a time; the machine advances it
// before the corresponding action begins, not after it completes, so a
// Report emitted mid-stage always names the work in flight rather than the
// work just finished.
type Stage string

const (
	StageStarting        Stage = "starting"
	StageUnstaking       Stage = "unstaking"
	StageWithdrawing     Stage = "withdrawing"
	StageReadingBalances Stage = "reading_balances"
	StageComputingRatio  Stage = "computing_ratio"
	StageSwapping        Stage = "swapping"
	StageMinting         Stage = "minting"
	StageStaking         Stage = "staking"
	StageDone            Stage = "done"
)

func (s Stage) String() string { return string(s) }
