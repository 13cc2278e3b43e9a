// Package types holds the small value types shared between the low-level
// contract-call layer and the rest of the engine. Kept deliberately thin:
// anything with real domain meaning (Position, Pool, TickRange, ...) lives in
// the packages that own that meaning instead of piling up here.
package types

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// SendKind selects the transaction envelope used by a Send call.
type SendKind int

const (
	// Standard is an EIP-1559 (type 2) transaction.
	Standard SendKind = iota
	// Legacy is a pre-EIP-1559 transaction with a single gas price.
	Legacy
)

// TxReceipt mirrors the JSON-RPC receipt shape: numeric fields travel as hex
// strings exactly as eth_getTransactionReceipt returns them, so callers decide
// when (and whether) to pay for a big.Int parse.
type TxReceipt struct {
	TxHash            common.Hash
	BlockNumber       string
	GasUsed           string
	EffectiveGasPrice string
	Status            string
	Logs              []Log
}

// Log is a decoded-address, raw-topics/data event log entry.
type Log struct {
	Address common.Address
	Topics  []common.Hash
	Data    []byte
}

// GasCost returns GasUsed * EffectiveGasPrice in wei.
func (r *TxReceipt) GasCost() (*big.Int, error) {
	gasUsed := new(big.Int)
	if _, ok := gasUsed.SetString(trimHex(r.GasUsed), 16); !ok {
		return nil, errInvalidHex(r.GasUsed)
	}
	gasPrice := new(big.Int)
	if _, ok := gasPrice.SetString(trimHex(r.EffectiveGasPrice), 16); !ok {
		return nil, errInvalidHex(r.EffectiveGasPrice)
	}
	return new(big.Int).Mul(gasUsed, gasPrice), nil
}

// Success reports whether the receipt's status is 0x1.
func (r *TxReceipt) Success() bool {
	return r.Status == "0x1" || r.Status == "0x01"
}

func trimHex(s string) string {
	if len(s) > 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}

type hexErr string

func (e hexErr) Error() string { return "invalid hex quantity: " + string(e) }

func errInvalidHex(s string) error { return hexErr(s) }
