// Package evm implements the tracelot Ledger interface against EVM
// contracts over a JSON-RPC node.
package evm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/tracelot/tracelot"
)

// nodeBackend is the subset of ethclient.Client the ledger needs. Kept as
// an interface so tests can drive the ledger without a node.
type nodeBackend interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

var _ nodeBackend = (*ethclient.Client)(nil)

// Ledger is an EVM-backed tracelot.Ledger. Contracts are registered with
// their ABI up front; reads are eth_call with normalized decoding, writes
// are locally signed legacy transactions so explicit gas overrides are
// honored by every node.
type Ledger struct {
	backend      nodeBackend
	signer       *PrivateKeySigner
	chainID      *big.Int
	pollInterval time.Duration
	contracts    map[common.Address]abi.ABI
	log          *slog.Logger
}

// Option tunes the ledger.
type Option func(*Ledger)

// WithPollInterval sets the receipt polling interval used by Wait.
func WithPollInterval(d time.Duration) Option {
	return func(l *Ledger) {
		if d > 0 {
			l.pollInterval = d
		}
	}
}

// WithLogger sets the ledger's logger.
func WithLogger(log *slog.Logger) Option {
	return func(l *Ledger) {
		if log != nil {
			l.log = log
		}
	}
}

// NewLedger creates a ledger over an ethclient (or compatible backend).
// signer may be nil for a read-only ledger.
func NewLedger(backend nodeBackend, signer *PrivateKeySigner, chainID *big.Int, opts ...Option) *Ledger {
	l := &Ledger{
		backend:      backend,
		signer:       signer,
		chainID:      chainID,
		pollInterval: tracelot.DefaultPollInterval,
		contracts:    make(map[common.Address]abi.ABI),
		log:          slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// RegisterContract parses and registers a contract ABI under its address.
func (l *Ledger) RegisterContract(address, abiJSON string) error {
	if !common.IsHexAddress(address) {
		return fmt.Errorf("invalid contract address: %s", address)
	}
	parsed, err := abi.JSON(strings.NewReader(abiJSON))
	if err != nil {
		return fmt.Errorf("parse abi for %s: %w", address, err)
	}
	l.contracts[common.HexToAddress(address)] = parsed
	return nil
}

func (l *Ledger) lookup(contract, method string) (common.Address, abi.ABI, abi.Method, error) {
	if !common.IsHexAddress(contract) {
		return common.Address{}, abi.ABI{}, abi.Method{}, fmt.Errorf("invalid contract address: %s", contract)
	}
	addr := common.HexToAddress(contract)
	contractABI, ok := l.contracts[addr]
	if !ok {
		return common.Address{}, abi.ABI{}, abi.Method{}, fmt.Errorf("no abi registered for %s", contract)
	}
	m, ok := contractABI.Methods[method]
	if !ok {
		return common.Address{}, abi.ABI{}, abi.Method{}, fmt.Errorf("contract %s has no method %s", contract, method)
	}
	return addr, contractABI, m, nil
}

// Read performs an eth_call and returns the unpacked outputs with addresses
// normalized to hex strings.
func (l *Ledger) Read(ctx context.Context, contract, method string, args ...interface{}) ([]interface{}, error) {
	addr, contractABI, m, err := l.lookup(contract, method)
	if err != nil {
		return nil, err
	}
	coerced, err := coerceArgs(m.Inputs, args)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	data, err := contractABI.Pack(method, coerced...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	result, err := l.backend.CallContract(ctx, ethereum.CallMsg{To: &addr, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	outputs, err := contractABI.Unpack(method, result)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	normalized := make([]interface{}, len(outputs))
	for i, out := range outputs {
		normalized[i] = normalizeOutput(out)
	}
	return normalized, nil
}

// Write signs and broadcasts one state-changing call. Gas is estimated
// unless the override supplies an explicit limit; estimation failures are
// wrapped with tracelot.ErrFeeEstimation so callers can retry with an
// override. Legacy transactions are used throughout so the gas limit the
// caller sets is the gas limit the node sees.
func (l *Ledger) Write(ctx context.Context, contract, method string, value *big.Int, override *tracelot.WriteOverride, args ...interface{}) (tracelot.TxHandle, error) {
	if l.signer == nil {
		return "", fmt.Errorf("ledger has no signer; writes are disabled")
	}
	addr, contractABI, m, err := l.lookup(contract, method)
	if err != nil {
		return "", err
	}
	coerced, err := coerceArgs(m.Inputs, args)
	if err != nil {
		return "", fmt.Errorf("%s: %w", method, err)
	}
	data, err := contractABI.Pack(method, coerced...)
	if err != nil {
		return "", fmt.Errorf("pack %s: %w", method, err)
	}
	if value == nil {
		value = big.NewInt(0)
	}

	from := l.signer.EthAddress()
	nonce, err := l.backend.PendingNonceAt(ctx, from)
	if err != nil {
		return "", fmt.Errorf("pending nonce: %w", err)
	}

	gasPrice := override.GetGasPrice()
	if gasPrice == nil {
		gasPrice, err = l.backend.SuggestGasPrice(ctx)
		if err != nil {
			return "", fmt.Errorf("%w: suggest gas price: %v", tracelot.ErrFeeEstimation, err)
		}
	}

	gasLimit := override.GetGasLimit()
	if gasLimit == 0 {
		gasLimit, err = l.backend.EstimateGas(ctx, ethereum.CallMsg{
			From:     from,
			To:       &addr,
			Value:    value,
			GasPrice: gasPrice,
			Data:     data,
		})
		if err != nil {
			return "", fmt.Errorf("%w: estimate gas for %s: %v", tracelot.ErrFeeEstimation, method, err)
		}
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gasLimit,
		To:       &addr,
		Value:    value,
		Data:     data,
	})
	signed, err := l.signer.SignTx(tx, l.chainID)
	if err != nil {
		return "", fmt.Errorf("sign %s: %w", method, err)
	}
	if err := l.backend.SendTransaction(ctx, signed); err != nil {
		return "", fmt.Errorf("send %s: %w", method, err)
	}

	l.log.Debug("transaction submitted", "method", method, "tx", signed.Hash().Hex(), "gas", gasLimit)
	return tracelot.TxHandle(signed.Hash().Hex()), nil
}

// Wait polls for the receipt until timeout. A mined receipt with failed
// status is a terminal error; an expired deadline returns
// tracelot.ErrTimedOut, which callers treat as non-fatal.
func (l *Ledger) Wait(ctx context.Context, handle tracelot.TxHandle, timeout time.Duration) error {
	hash := common.HexToHash(string(handle))
	deadline := time.Now().Add(timeout)
	for {
		receipt, err := l.backend.TransactionReceipt(ctx, hash)
		switch {
		case err == nil:
			if receipt.Status == types.ReceiptStatusFailed {
				return fmt.Errorf("transaction %s reverted", hash.Hex())
			}
			return nil
		case errors.Is(err, ethereum.NotFound):
			// keep polling
		default:
			return fmt.Errorf("receipt %s: %w", hash.Hex(), err)
		}

		if time.Now().After(deadline) {
			return fmt.Errorf("%w: %s after %s", tracelot.ErrTimedOut, hash.Hex(), timeout)
		}
		select {
		case <-time.After(l.pollInterval):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// coerceArgs converts caller-friendly Go values into the types the ABI
// encoder expects: uint64 ids become *big.Int, hex strings become
// addresses, nested validator lists become address matrices.
func coerceArgs(inputs abi.Arguments, args []interface{}) ([]interface{}, error) {
	if len(args) != len(inputs) {
		return nil, fmt.Errorf("expected %d args, got %d", len(inputs), len(args))
	}
	coerced := make([]interface{}, len(args))
	for i, arg := range args {
		v, err := coerceArg(inputs[i].Type, arg)
		if err != nil {
			return nil, fmt.Errorf("arg %d (%s): %w", i, inputs[i].Type.String(), err)
		}
		coerced[i] = v
	}
	return coerced, nil
}

func coerceArg(t abi.Type, arg interface{}) (interface{}, error) {
	switch t.T {
	case abi.UintTy, abi.IntTy:
		switch v := arg.(type) {
		case *big.Int:
			return v, nil
		case uint64:
			return new(big.Int).SetUint64(v), nil
		case int64:
			return big.NewInt(v), nil
		case int:
			return big.NewInt(int64(v)), nil
		default:
			return nil, fmt.Errorf("cannot encode %T as %s", arg, t.String())
		}
	case abi.AddressTy:
		s, ok := arg.(string)
		if !ok {
			return nil, fmt.Errorf("cannot encode %T as address", arg)
		}
		if !common.IsHexAddress(s) {
			return nil, fmt.Errorf("invalid address: %q", s)
		}
		return common.HexToAddress(s), nil
	case abi.SliceTy, abi.ArrayTy:
		switch t.Elem.T {
		case abi.AddressTy:
			ss, ok := arg.([]string)
			if !ok {
				return nil, fmt.Errorf("cannot encode %T as address[]", arg)
			}
			addrs := make([]common.Address, len(ss))
			for i, s := range ss {
				if !common.IsHexAddress(s) {
					return nil, fmt.Errorf("invalid address: %q", s)
				}
				addrs[i] = common.HexToAddress(s)
			}
			return addrs, nil
		case abi.SliceTy, abi.ArrayTy:
			if t.Elem.Elem.T != abi.AddressTy {
				return arg, nil
			}
			matrix, ok := arg.([][]string)
			if !ok {
				return nil, fmt.Errorf("cannot encode %T as address[][]", arg)
			}
			out := make([][]common.Address, len(matrix))
			for i, row := range matrix {
				out[i] = make([]common.Address, len(row))
				for j, s := range row {
					if !common.IsHexAddress(s) {
						return nil, fmt.Errorf("invalid address: %q", s)
					}
					out[i][j] = common.HexToAddress(s)
				}
			}
			return out, nil
		default:
			return arg, nil
		}
	default:
		return arg, nil
	}
}

// normalizeOutput maps decoded ABI values onto the ledger boundary types:
// addresses become hex strings, everything else passes through.
func normalizeOutput(out interface{}) interface{} {
	switch v := out.(type) {
	case common.Address:
		return v.Hex()
	case []common.Address:
		ss := make([]string, len(v))
		for i, a := range v {
			ss[i] = a.Hex()
		}
		return ss
	case [][]common.Address:
		matrix := make([][]string, len(v))
		for i, row := range v {
			matrix[i] = make([]string, len(row))
			for j, a := range row {
				matrix[i][j] = a.Hex()
			}
		}
		return matrix
	default:
		return out
	}
}
