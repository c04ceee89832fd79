package tracelot

import (
	"context"
	"errors"
	"math/big"
	"time"
)

// TxHandle identifies a submitted write while its confirmation is pending.
type TxHandle string

// WriteOverride forces explicit fee parameters on a write instead of the
// node's automatic estimation. Zero fields fall back to estimation.
type WriteOverride struct {
	GasLimit uint64
	GasPrice *big.Int
}

// GetGasLimit is nil-safe.
func (o *WriteOverride) GetGasLimit() uint64 {
	if o == nil {
		return 0
	}
	return o.GasLimit
}

// GetGasPrice is nil-safe.
func (o *WriteOverride) GetGasPrice() *big.Int {
	if o == nil {
		return nil
	}
	return o.GasPrice
}

// ErrTimedOut is returned by Ledger.Wait when the confirmation deadline
// expires. The write may still land; callers treat this as a scheduling
// signal, not a failure.
var ErrTimedOut = errors.New("confirmation wait timed out")

// ErrFeeEstimation marks a submission that failed during fee or gas
// estimation, before broadcast. Such writes are retried once with an
// explicit conservative override.
var ErrFeeEstimation = errors.New("fee estimation failed")

// Ledger is the append-only store boundary. Two independently deployed
// targets are consumed through it: the lot registry and the escrow. Reads
// return ABI-decoded values normalized to *big.Int, string, bool, []string
// and [][]string; writes are signed by the ambient signer and return a
// handle for confirmation polling.
type Ledger interface {
	Read(ctx context.Context, contract, method string, args ...interface{}) ([]interface{}, error)
	Write(ctx context.Context, contract, method string, value *big.Int, override *WriteOverride, args ...interface{}) (TxHandle, error)
	Wait(ctx context.Context, handle TxHandle, timeout time.Duration) error
}

// Signer supplies the acting account identifier. Transaction authorization
// itself lives behind the Ledger implementation.
type Signer interface {
	Address() string
}
