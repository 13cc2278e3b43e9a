// Package orchestrator implements the Orchestrator (spec.md §5): the
// periodic tick loop that owns the single live RebalanceDescriptor,
// drives the Monitor each cycle, and hands any
// selected candidate to the Machine. Grounded on the teacher's main.go
// goroutine-plus-report-channel wiring (report events read off a channel
// and printed by the caller) and generalized into a structured Report value
// instead of a bare string (SPEC_FULL.md §4's supplemented reporting
// feature).
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync/atomic"
	"time"

	"blackholego/internal/clmath"
	"blackholego/internal/monitor"
	"blackholego/internal/rebalance"
)

// Report is one event worth surfacing to an operator: a stage transition, an
// auto-stake or bootstrap action, a cumulative gas update, or an error. It
// supplements spec.md §7's plain text logging with a structured channel a
// caller can also persist or alert on (SPEC_FULL.md §4).
type Report struct {
	Timestamp       int64
	EventType       string
	Message         string
	Stage           string
	CumulativeGasWei *big.Int
}

const (
	EventCycleStart    = "cycle_start"
	EventAutoStake     = "auto_stake"
	EventRebalanceStart = "rebalance_start"
	EventRebalanceDone = "rebalance_done"
	EventNonceReset    = "nonce_reset"
	EventError         = "error"
	EventShutdown      = "shutdown"
)

// Logger is the narrow logging surface the Orchestrator reports through.
type Logger interface {
	Info(format string, args ...interface{})
	Warn(format string, args ...interface{})
	Error(format string, args ...interface{})
}

// Config bundles the Orchestrator's scheduling and bootstrap tunables.
type Config struct {
	CheckInterval   time.Duration
	RangeMultiplier float64
}

// Orchestrator drives the periodic tick loop described in spec.md §5: one
// cycle at a time, cooperative (a cycle in flight suppresses the next
// tick rather than running concurrently with it), with shutdown observed at
// the next suspension point rather than interrupting a stage mid-send.
type Orchestrator struct {
	mon     *monitor.Monitor
	machine *rebalance.Machine
	cfg     Config
	log     Logger
	reports chan<- Report
	nowUnix func() int64

	inProgress    atomic.Bool
	cumulativeGas *big.Int
	active        atomic.Bool // true while a Descriptor is being driven
}

// New builds an Orchestrator. reports may be nil if the caller doesn't want
// a structured event feed.
func New(mon *monitor.Monitor, machine *rebalance.Machine, cfg Config, logger Logger, reports chan<- Report) *Orchestrator {
	return &Orchestrator{
		mon: mon, machine: machine, cfg: cfg, log: logger, reports: reports,
		nowUnix: func() int64 { return time.Now().Unix() }, cumulativeGas: big.NewInt(0),
	}
}

// Run blocks, ticking every cfg.CheckInterval, until ctx is cancelled.
// Signal handling is the caller's responsibility (cancel ctx from an
// os/signal-derived context); Run only ever observes ctx.Done() at a tick or
// cycle boundary, never mid-stage.
func (o *Orchestrator) Run(ctx context.Context) {
	ticker := time.NewTicker(o.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			o.report(Report{EventType: EventShutdown, Message: "context cancelled"})
			return
		case <-ticker.C:
			if !o.inProgress.CompareAndSwap(false, true) {
				if o.log != nil {
					o.log.Warn("orchestrator: previous cycle still running, skipping tick")
				}
				continue
			}
			o.runCycle(ctx)
			o.inProgress.Store(false)
		}
	}
}

func (o *Orchestrator) runCycle(ctx context.Context) {
	o.report(Report{EventType: EventCycleStart, CumulativeGasWei: new(big.Int).Set(o.cumulativeGas)})

	result, err := o.mon.Scan(ctx, o.active.Load())
	if err != nil {
		o.report(Report{EventType: EventError, Message: err.Error()})
		return
	}

	for _, outcome := range result.AutoStaked {
		switch {
		case outcome.Err != nil:
			o.report(Report{EventType: EventError, Message: fmt.Sprintf("auto-stake %s: %v", outcome.TokenID, outcome.Err)})
		case !outcome.Skipped:
			o.report(Report{EventType: EventAutoStake, Message: fmt.Sprintf("staked %s into gauge %s", outcome.TokenID, outcome.Gauge.Hex())})
		}
	}

	if o.active.Load() {
		return
	}

	switch {
	case result.RebalanceCandidate != nil:
		o.runDescriptor(ctx, descriptorFromCandidate(result.RebalanceCandidate))
	case result.BootstrapCandidate != nil:
		o.runDescriptor(ctx, descriptorFromBootstrap(result.BootstrapCandidate, o.cfg.RangeMultiplier))
	}
}

// runDescriptor hands one Descriptor to the Machine, running it to
// completion synchronously: spec.md §5's single-flight rule holds for the
// whole cycle, not just until the next tick.
func (o *Orchestrator) runDescriptor(ctx context.Context, d *rebalance.Descriptor) {
	o.active.Store(true)
	defer o.active.Store(false)

	o.report(Report{EventType: EventRebalanceStart, Stage: string(d.Stage)})

	err := o.machine.Run(ctx, d)
	o.cumulativeGas.Add(o.cumulativeGas, d.CumulativeGasWei())

	if err != nil {
		var stageErr *rebalance.StageError
		if errors.As(err, &stageErr) && stageErr.Kind == rebalance.KindNonceExpired {
			o.report(Report{EventType: EventNonceReset, Stage: string(stageErr.Stage), Message: stageErr.Error()})
		}
		o.report(Report{EventType: EventError, Stage: string(d.FailedStage), Message: err.Error(), CumulativeGasWei: new(big.Int).Set(o.cumulativeGas)})
		if o.log != nil {
			o.log.Error("rebalance cycle failed: %v", err)
		}
		return
	}

	o.report(Report{
		EventType: EventRebalanceDone,
		Message:   fmt.Sprintf("minted position %v in [%d, %d)", d.NewTokenID, d.TargetRange.TickLower, d.TargetRange.TickUpper),
		CumulativeGasWei: new(big.Int).Set(o.cumulativeGas),
	})
}

func (o *Orchestrator) report(r Report) {
	r.Timestamp = o.nowUnix()
	if o.log != nil {
		if r.Message != "" {
			o.log.Info("[%s] %s", r.EventType, r.Message)
		} else {
			o.log.Info("[%s]", r.EventType)
		}
	}
	if o.reports == nil {
		return
	}
	select {
	case o.reports <- r:
	default:
		if o.log != nil {
			o.log.Warn("orchestrator: report channel full, dropping %s event", r.EventType)
		}
	}
}

func descriptorFromCandidate(c *monitor.RebalanceCandidate) *rebalance.Descriptor {
	p := c.Position
	return &rebalance.Descriptor{
		Stage:          rebalance.StageStarting,
		SourcePosition: &p,
		Manager:        p.Manager,
		Pool:           p.Pool,
		Token0:         p.Token0,
		Token1:         p.Token1,
		TickSpacing:    p.TickSpacing,
		TargetRange:    c.TargetRange,
		// Preserve the source position's staking state: a rebalance out of
		// a staked position restakes into the same gauge it came from.
		Gauge: p.Gauge,
	}
}

func descriptorFromBootstrap(c *monitor.BootstrapCandidate, rangeMultiplier float64) *rebalance.Descriptor {
	tickLower, tickUpper, err := clmath.ComputeNewRange(c.CurrentTick, c.TickSpacing, rangeMultiplier)
	if err != nil {
		// Degenerate tickSpacing/multiplier combination: nothing sane to
		// mint into this cycle. The next cycle will re-derive from
		// on-chain truth and try again.
		return &rebalance.Descriptor{Stage: rebalance.StageDone}
	}
	return &rebalance.Descriptor{
		Stage:       rebalance.StageComputingRatio,
		Manager:     c.Manager,
		Pool:        c.Pool,
		Token0:      c.Token0,
		Token1:      c.Token1,
		TickSpacing: c.TickSpacing,
		TargetRange: clmath.TickRange{TickLower: tickLower, TickUpper: tickUpper},
		Gauge:       c.Gauge,
		Balance0:    c.Balance0,
		Balance1:    c.Balance1,
		Dec0:        c.Dec0,
		Dec1:        c.Dec1,
	}
}
