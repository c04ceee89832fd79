package evm

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracelot/tracelot"
)

// well-known local devnet key, never funded anywhere real
const testKey = "0x59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d"

const (
	testRegistryAddr = "0xAAA0000000000000000000000000000000000001"
	testEscrowAddr   = "0xBBB0000000000000000000000000000000000002"
)

// fakeBackend satisfies nodeBackend with canned responses.
type fakeBackend struct {
	callResult  []byte
	callErr     error
	lastCall    ethereum.CallMsg
	nonce       uint64
	gasPrice    *big.Int
	gasEstimate uint64
	estimateErr error
	estimated   bool
	sent        []*types.Transaction
	sendErr     error
	receipt     *types.Receipt
	receiptErr  error
}

func (b *fakeBackend) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	b.lastCall = msg
	return b.callResult, b.callErr
}

func (b *fakeBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	return b.nonce, nil
}

func (b *fakeBackend) SuggestGasPrice(context.Context) (*big.Int, error) {
	if b.gasPrice == nil {
		return big.NewInt(1), nil
	}
	return b.gasPrice, nil
}

func (b *fakeBackend) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	b.estimated = true
	if b.estimateErr != nil {
		return 0, b.estimateErr
	}
	return b.gasEstimate, nil
}

func (b *fakeBackend) SendTransaction(_ context.Context, tx *types.Transaction) error {
	b.sent = append(b.sent, tx)
	return b.sendErr
}

func (b *fakeBackend) TransactionReceipt(context.Context, common.Hash) (*types.Receipt, error) {
	return b.receipt, b.receiptErr
}

func newTestLedger(t *testing.T, backend *fakeBackend) *Ledger {
	t.Helper()
	signer, err := NewPrivateKeySigner(testKey)
	require.NoError(t, err)
	l := NewLedger(backend, signer, big.NewInt(1337), WithPollInterval(time.Millisecond))
	require.NoError(t, l.RegisterContract(testRegistryAddr, RegistryABI))
	require.NoError(t, l.RegisterContract(testEscrowAddr, EscrowABI))
	return l
}

func packOutputs(t *testing.T, abiJSON, method string, values ...interface{}) []byte {
	t.Helper()
	parsed, err := abi.JSON(strings.NewReader(abiJSON))
	require.NoError(t, err)
	data, err := parsed.Methods[method].Outputs.Pack(values...)
	require.NoError(t, err)
	return data
}

func TestABIConstantsParse(t *testing.T) {
	registry, err := abi.JSON(strings.NewReader(RegistryABI))
	require.NoError(t, err)
	for _, m := range []string{"createLot", "validateStep", "nextLotId", "getLot", "getLotStepsCount", "getStep"} {
		assert.Contains(t, registry.Methods, m)
	}

	escrow, err := abi.JSON(strings.NewReader(EscrowABI))
	require.NoError(t, err)
	for _, m := range []string{"depositPayment", "releasePayment", "refundPayment", "getPayment", "getPaymentsCount", "getPaymentByIndex", "isLotCompleted", "getContractBalance", "totalReceived", "totalSpent", "getLotPrice", "registry"} {
		assert.Contains(t, escrow.Methods, m)
	}
}

func TestReadNormalizesAddresses(t *testing.T) {
	bound := common.HexToAddress(testRegistryAddr)
	backend := &fakeBackend{callResult: packOutputs(t, EscrowABI, "registry", bound)}
	l := newTestLedger(t, backend)

	out, err := l.Read(context.Background(), testEscrowAddr, "registry")
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, bound.Hex(), out[0], "addresses cross the boundary as hex strings")
}

func TestReadCoercesUintArgs(t *testing.T) {
	backend := &fakeBackend{callResult: packOutputs(t, EscrowABI, "isLotCompleted", true)}
	l := newTestLedger(t, backend)

	// uint64 caller value must encode as the uint256 the ABI declares
	out, err := l.Read(context.Background(), testEscrowAddr, "isLotCompleted", uint64(7))
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, true, out[0])
	assert.NotEmpty(t, backend.lastCall.Data)
}

func TestReadRejectsUnknownContract(t *testing.T) {
	l := newTestLedger(t, &fakeBackend{})

	_, err := l.Read(context.Background(), "0xCCC0000000000000000000000000000000000003", "registry")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no abi registered")
}

func TestWriteEstimatesWhenNoOverride(t *testing.T) {
	backend := &fakeBackend{gasEstimate: 90000}
	l := newTestLedger(t, backend)

	handle, err := l.Write(context.Background(), testEscrowAddr, "depositPayment", big.NewInt(1000), nil, uint64(3))
	require.NoError(t, err)
	assert.NotEmpty(t, handle)
	assert.True(t, backend.estimated)
	require.Len(t, backend.sent, 1)
	assert.Equal(t, uint64(90000), backend.sent[0].Gas())
	assert.Equal(t, big.NewInt(1000), backend.sent[0].Value())
}

func TestWriteHonorsOverride(t *testing.T) {
	backend := &fakeBackend{estimateErr: errors.New("should not be called")}
	l := newTestLedger(t, backend)

	override := &tracelot.WriteOverride{GasLimit: 8_000_000, GasPrice: big.NewInt(5)}
	_, err := l.Write(context.Background(), testEscrowAddr, "depositPayment", big.NewInt(1000), override, uint64(3))
	require.NoError(t, err)
	assert.False(t, backend.estimated, "an explicit limit skips estimation entirely")
	require.Len(t, backend.sent, 1)
	assert.Equal(t, uint64(8_000_000), backend.sent[0].Gas())
	assert.Equal(t, big.NewInt(5), backend.sent[0].GasPrice())
}

func TestWriteWrapsEstimationFailure(t *testing.T) {
	backend := &fakeBackend{estimateErr: errors.New("intrinsic gas too low")}
	l := newTestLedger(t, backend)

	_, err := l.Write(context.Background(), testEscrowAddr, "depositPayment", big.NewInt(1000), nil, uint64(3))
	require.Error(t, err)
	assert.True(t, errors.Is(err, tracelot.ErrFeeEstimation), "estimation failures must be retryable with an override")
	assert.Empty(t, backend.sent)
}

func TestWriteRequiresSigner(t *testing.T) {
	l := NewLedger(&fakeBackend{}, nil, big.NewInt(1337))
	require.NoError(t, l.RegisterContract(testEscrowAddr, EscrowABI))

	_, err := l.Write(context.Background(), testEscrowAddr, "depositPayment", nil, nil, uint64(3))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no signer")
}

func TestWaitReturnsOnMinedReceipt(t *testing.T) {
	backend := &fakeBackend{receipt: &types.Receipt{Status: types.ReceiptStatusSuccessful}}
	l := newTestLedger(t, backend)

	require.NoError(t, l.Wait(context.Background(), "0xabc", time.Second))
}

func TestWaitRevertedIsTerminal(t *testing.T) {
	backend := &fakeBackend{receipt: &types.Receipt{Status: types.ReceiptStatusFailed}}
	l := newTestLedger(t, backend)

	err := l.Wait(context.Background(), "0xabc", time.Second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reverted")
	assert.False(t, errors.Is(err, tracelot.ErrTimedOut))
}

func TestWaitTimesOut(t *testing.T) {
	backend := &fakeBackend{receiptErr: ethereum.NotFound}
	l := newTestLedger(t, backend)

	err := l.Wait(context.Background(), "0xabc", 5*time.Millisecond)
	require.Error(t, err)
	assert.True(t, errors.Is(err, tracelot.ErrTimedOut))
}

func TestCoerceArg(t *testing.T) {
	uint256Ty, err := abi.NewType("uint256", "", nil)
	require.NoError(t, err)
	addressTy, err := abi.NewType("address", "", nil)
	require.NoError(t, err)
	matrixTy, err := abi.NewType("address[][]", "", nil)
	require.NoError(t, err)

	v, err := coerceArg(uint256Ty, uint64(42))
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(42), v)

	v, err = coerceArg(addressTy, testRegistryAddr)
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress(testRegistryAddr), v)

	_, err = coerceArg(addressTy, "not-an-address")
	require.Error(t, err)

	v, err = coerceArg(matrixTy, [][]string{{testRegistryAddr}, {}})
	require.NoError(t, err)
	matrix := v.([][]common.Address)
	require.Len(t, matrix, 2)
	assert.Equal(t, common.HexToAddress(testRegistryAddr), matrix[0][0])
}

func TestNormalizeOutput(t *testing.T) {
	addr := common.HexToAddress(testRegistryAddr)
	assert.Equal(t, addr.Hex(), normalizeOutput(addr))
	assert.Equal(t, []string{addr.Hex()}, normalizeOutput([]common.Address{addr}))
	assert.Equal(t, big.NewInt(7), normalizeOutput(big.NewInt(7)))
}

func TestSignerAddress(t *testing.T) {
	signer, err := NewPrivateKeySigner(testKey)
	require.NoError(t, err)
	assert.True(t, common.IsHexAddress(signer.Address()))

	// prefixless keys are accepted too
	again, err := NewPrivateKeySigner(strings.TrimPrefix(testKey, "0x"))
	require.NoError(t, err)
	assert.Equal(t, signer.Address(), again.Address())

	_, err = NewPrivateKeySigner("zz")
	require.Error(t, err)
}
