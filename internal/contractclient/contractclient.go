// Package contractclient is the thin, reflection-based ABI call/send layer
// the core depends on only through its abstract operations (spec.md §1 keeps
// the low-level chain RPC client out of scope). It is adapted, not rewritten,
// from the teacher's pkg/contractclient: same Call/Send/Abi/ParseReceipt
// shape, generalized so the higher-level internal/chain.Client can bind it to
// any ABI (ERC-20, pool, position manager, gauge, factory) instead of the
// teacher's hardcoded Blackhole contract set.
package contractclient

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	enginetypes "blackholego/pkg/types"
)

// Backend is the subset of *ethclient.Client the contract client needs,
// narrowed for testability.
type Backend interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionByHash(ctx context.Context, txHash common.Hash) (*types.Transaction, bool, error)
	NetworkID(ctx context.Context) (*big.Int, error)
}

var _ Backend = (*ethclient.Client)(nil)

// SendOpts carries everything a Send call needs beyond the method and its
// arguments. GasLimit of 0 triggers estimation with the standard 1.2x buffer
// spec.md §6 mandates. Exactly one of {FeeCap+TipCap, GasPrice} should be set,
// selected by Kind.
type SendOpts struct {
	From       common.Address
	PrivateKey *ecdsa.PrivateKey
	Nonce      uint64
	GasLimit   uint64
	Kind       enginetypes.SendKind
	FeeCap     *big.Int // EIP-1559 maxFeePerGas
	TipCap     *big.Int // EIP-1559 maxPriorityFeePerGas
	GasPrice   *big.Int // legacy gasPrice
	Value      *big.Int
}

// DecodedCall is a method call decoded from raw transaction input data.
type DecodedCall struct {
	MethodName string
	Parameter  map[string]interface{}
}

// DecodedEvent is a single decoded log entry.
type DecodedEvent struct {
	EventName string
	Parameter map[string]interface{}
}

// ContractClient binds one ABI to one on-chain address and exposes
// call/send/decode operations over it.
type ContractClient interface {
	ContractAddress() common.Address
	Abi() abi.ABI
	Call(ctx context.Context, from *common.Address, method string, args ...interface{}) ([]interface{}, error)
	Send(ctx context.Context, opts SendOpts, method string, args ...interface{}) (common.Hash, error)
	TransactionData(ctx context.Context, txHash common.Hash) ([]byte, error)
	DecodeTransaction(data []byte) (*DecodedCall, error)
	ParseReceipt(receipt *enginetypes.TxReceipt) ([]DecodedEvent, error)
}

type client struct {
	backend Backend
	address common.Address
	abi     abi.ABI
}

// NewContractClient builds a ContractClient for address using the given ABI.
func NewContractClient(backend Backend, address common.Address, contractABI abi.ABI) ContractClient {
	return &client{backend: backend, address: address, abi: contractABI}
}

func (c *client) ContractAddress() common.Address { return c.address }

func (c *client) Abi() abi.ABI { return c.abi }

func (c *client) Call(ctx context.Context, from *common.Address, method string, args ...interface{}) ([]interface{}, error) {
	input, err := c.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("contractclient: pack %s: %w", method, err)
	}

	msg := ethereum.CallMsg{To: &c.address, Data: input}
	if from != nil {
		msg.From = *from
	}

	out, err := c.backend.CallContract(ctx, msg, nil)
	if err != nil {
		return nil, fmt.Errorf("contractclient: call %s: %w", method, err)
	}

	result, err := c.abi.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("contractclient: unpack %s: %w", method, err)
	}
	return result, nil
}

func (c *client) Send(ctx context.Context, opts SendOpts, method string, args ...interface{}) (common.Hash, error) {
	input, err := c.abi.Pack(method, args...)
	if err != nil {
		return common.Hash{}, fmt.Errorf("contractclient: pack %s: %w", method, err)
	}

	value := opts.Value
	if value == nil {
		value = big.NewInt(0)
	}

	gasLimit := opts.GasLimit
	if gasLimit == 0 {
		estimate, err := c.backend.EstimateGas(ctx, ethereum.CallMsg{
			From:  opts.From,
			To:    &c.address,
			Data:  input,
			Value: value,
		})
		if err != nil {
			return common.Hash{}, fmt.Errorf("contractclient: estimate gas %s: %w", method, err)
		}
		gasLimit = estimate * 12 / 10
	}

	chainID, err := c.backend.NetworkID(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("contractclient: chain id: %w", err)
	}

	var txdata types.TxData
	switch opts.Kind {
	case enginetypes.Legacy:
		txdata = &types.LegacyTx{
			Nonce:    opts.Nonce,
			To:       &c.address,
			Value:    value,
			Gas:      gasLimit,
			GasPrice: opts.GasPrice,
			Data:     input,
		}
	default:
		txdata = &types.DynamicFeeTx{
			ChainID:   chainID,
			Nonce:     opts.Nonce,
			To:        &c.address,
			Value:     value,
			Gas:       gasLimit,
			GasFeeCap: opts.FeeCap,
			GasTipCap: opts.TipCap,
			Data:      input,
		}
	}

	signer := types.LatestSignerForChainID(chainID)
	signedTx, err := types.SignNewTx(opts.PrivateKey, signer, txdata)
	if err != nil {
		return common.Hash{}, fmt.Errorf("contractclient: sign %s: %w", method, err)
	}

	if err := c.backend.SendTransaction(ctx, signedTx); err != nil {
		return common.Hash{}, fmt.Errorf("contractclient: send %s: %w", method, err)
	}
	return signedTx.Hash(), nil
}

func (c *client) TransactionData(ctx context.Context, txHash common.Hash) ([]byte, error) {
	tx, _, err := c.backend.TransactionByHash(ctx, txHash)
	if err != nil {
		return nil, fmt.Errorf("contractclient: transaction by hash %s: %w", txHash.Hex(), err)
	}
	return tx.Data(), nil
}

func (c *client) DecodeTransaction(data []byte) (*DecodedCall, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("contractclient: input too short to contain a selector")
	}

	method, err := c.abi.MethodById(data[:4])
	if err != nil {
		return nil, fmt.Errorf("contractclient: unknown method selector %x: %w", data[:4], err)
	}

	args := map[string]interface{}{}
	if err := method.Inputs.UnpackIntoMap(args, data[4:]); err != nil {
		return nil, fmt.Errorf("contractclient: unpack input for %s: %w", method.Name, err)
	}

	return &DecodedCall{MethodName: method.Name, Parameter: args}, nil
}

func (c *client) ParseReceipt(receipt *enginetypes.TxReceipt) ([]DecodedEvent, error) {
	events := make([]DecodedEvent, 0, len(receipt.Logs))
	for _, lg := range receipt.Logs {
		if len(lg.Topics) == 0 {
			continue
		}

		event, err := c.abi.EventByID(lg.Topics[0])
		if err != nil {
			continue // log from an event this ABI doesn't define; not an error
		}

		params := map[string]interface{}{}
		if len(lg.Data) > 0 {
			if err := event.Inputs.UnpackIntoMap(params, lg.Data); err != nil {
				return nil, fmt.Errorf("contractclient: unpack event %s: %w", event.Name, err)
			}
		}

		indexed := abi.Arguments{}
		for _, input := range event.Inputs {
			if input.Indexed {
				indexed = append(indexed, input)
			}
		}
		if len(indexed) > 0 && len(lg.Topics) > 1 {
			if err := abi.ParseTopicsIntoMap(params, indexed, lg.Topics[1:]); err != nil {
				return nil, fmt.Errorf("contractclient: unpack indexed event %s: %w", event.Name, err)
			}
		}

		events = append(events, DecodedEvent{EventName: event.Name, Parameter: params})
	}
	return events, nil
}

// ZeroAddressHex is the canonical zero address used to detect mint-style
// Transfer events (from == 0x0).
var ZeroAddressHex = (common.Address{}).Hex()
