// Package txlistener waits for transaction receipts with a bounded timeout,
// polling rather than subscribing so it works against plain JSON-RPC
// endpoints that don't expose websockets. Adapted from the teacher's
// txlistener package (referenced throughout blackhole_test.go and cmd/main.go
// as txlistener.NewTxListener/WithPollInterval/WithTimeout), generalized to
// return the engine's own types.TxReceipt instead of a Blackhole-specific
// shape and to honor context cancellation at every poll (spec.md §5: every
// receipt wait is a suspension point).
package txlistener

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	enginetypes "blackholego/pkg/types"
)

// ErrTimeout is returned when a transaction's receipt does not appear within
// the configured timeout.
var ErrTimeout = errors.New("txlistener: timed out waiting for receipt")

// Client is the subset of ethclient.Client the listener needs.
type Client interface {
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// TxListener polls for a transaction receipt until it appears, times out, or
// the caller's context is cancelled.
type TxListener struct {
	client       Client
	pollInterval time.Duration
	timeout      time.Duration
}

// Option configures a TxListener.
type Option func(*TxListener)

// WithPollInterval sets the interval between receipt polls. Default 3s.
func WithPollInterval(d time.Duration) Option {
	return func(l *TxListener) { l.pollInterval = d }
}

// WithTimeout bounds how long WaitForTransaction will poll before giving up.
// Default 180s, matching spec.md's TX_WAIT_TIMEOUT_MS default.
func WithTimeout(d time.Duration) Option {
	return func(l *TxListener) { l.timeout = d }
}

// NewTxListener builds a TxListener over an *ethclient.Client (or any Client).
func NewTxListener(client Client, opts ...Option) *TxListener {
	l := &TxListener{
		client:       client,
		pollInterval: 3 * time.Second,
		timeout:      180 * time.Second,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// WaitForTransaction blocks until txHash's receipt is available, the timeout
// elapses, or ctx is cancelled — whichever comes first.
func (l *TxListener) WaitForTransaction(ctx context.Context, txHash common.Hash) (*enginetypes.TxReceipt, error) {
	deadline := time.Now().Add(l.timeout)
	ticker := time.NewTicker(l.pollInterval)
	defer ticker.Stop()

	for {
		receipt, err := l.client.TransactionReceipt(ctx, txHash)
		if err == nil && receipt != nil {
			return toEngineReceipt(receipt), nil
		}

		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%w: tx %s", ErrTimeout, txHash.Hex())
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("txlistener: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

func toEngineReceipt(r *types.Receipt) *enginetypes.TxReceipt {
	status := "0x0"
	if r.Status == types.ReceiptStatusSuccessful {
		status = "0x1"
	}

	logs := make([]enginetypes.Log, 0, len(r.Logs))
	for _, lg := range r.Logs {
		logs = append(logs, enginetypes.Log{
			Address: lg.Address,
			Topics:  lg.Topics,
			Data:    lg.Data,
		})
	}

	var blockNumber string
	if r.BlockNumber != nil {
		blockNumber = hexBig(r.BlockNumber)
	}

	return &enginetypes.TxReceipt{
		TxHash:            r.TxHash,
		BlockNumber:       blockNumber,
		GasUsed:           hexUint(r.GasUsed),
		EffectiveGasPrice: hexBig(r.EffectiveGasPrice),
		Status:            status,
		Logs:              logs,
	}
}

func hexBig(v *big.Int) string {
	if v == nil {
		return "0x0"
	}
	return fmt.Sprintf("0x%x", v)
}

func hexUint(v uint64) string {
	return fmt.Sprintf("0x%x", v)
}
