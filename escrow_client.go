package tracelot

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"time"
)

// Escrow contract methods.
const (
	methodDepositPayment     = "depositPayment"
	methodReleasePayment     = "releasePayment"
	methodRefundPayment      = "refundPayment"
	methodGetPayment         = "getPayment"
	methodGetPaymentsCount   = "getPaymentsCount"
	methodGetPaymentByIndex  = "getPaymentByIndex"
	methodIsLotCompleted     = "isLotCompleted"
	methodGetContractBalance = "getContractBalance"
	methodTotalReceived      = "totalReceived"
	methodTotalSpent         = "totalSpent"
	methodGetLotPrice        = "getLotPrice"
	methodRegistry           = "registry"
)

// ConservativeGasLimit is the explicit gas limit applied when a deposit's
// automatic estimation fails. Deposits trigger the registry lookup inside
// the escrow contract, which some nodes under-estimate.
const ConservativeGasLimit = 8_000_000

// EscrowClient is the typed read/write facade over the escrow payment
// ledger.
type EscrowClient struct {
	ledger      Ledger
	signer      Signer
	address     string
	confirmWait time.Duration
	log         *slog.Logger
}

// NewEscrowClient creates an escrow client bound to the contract at
// address.
func NewEscrowClient(ledger Ledger, signer Signer, address string, confirmWait time.Duration, log *slog.Logger) *EscrowClient {
	if log == nil {
		log = slog.Default()
	}
	if confirmWait <= 0 {
		confirmWait = DefaultConfirmWait
	}
	return &EscrowClient{
		ledger:      ledger,
		signer:      signer,
		address:     address,
		confirmWait: confirmWait,
		log:         log,
	}
}

// Address returns the configured escrow contract address.
func (c *EscrowClient) Address() string { return c.address }

// Deposit escrows amount for lotID on behalf of the signing buyer. The
// ledger rejects the write if a payment already exists for the lot or the
// amount differs from the lot price. When submission fails at fee
// estimation, the write is retried exactly once with an explicit
// conservative gas limit before surfacing a submission error.
func (c *EscrowClient) Deposit(ctx context.Context, lotID uint64, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return Errorf(ErrCodeValidation, "deposit amount must be a non-negative amount")
	}

	handle, err := c.ledger.Write(ctx, c.address, methodDepositPayment, amount, nil, lotID)
	if errors.Is(err, ErrFeeEstimation) {
		c.log.Warn("deposit fee estimation failed, retrying with explicit gas limit",
			"lotId", lotID, "gasLimit", ConservativeGasLimit, "err", err)
		handle, err = c.ledger.Write(ctx, c.address, methodDepositPayment, amount,
			&WriteOverride{GasLimit: ConservativeGasLimit}, lotID)
	}
	if err != nil {
		return submissionError(methodDepositPayment, err)
	}
	return c.wait(ctx, methodDepositPayment, handle)
}

// Release pays the escrowed amount out to the seller. Only valid once the
// bound registry reports the lot complete; the ledger enforces this.
func (c *EscrowClient) Release(ctx context.Context, lotID uint64) error {
	handle, err := c.ledger.Write(ctx, c.address, methodReleasePayment, nil, nil, lotID)
	if err != nil {
		return submissionError(methodReleasePayment, err)
	}
	return c.wait(ctx, methodReleasePayment, handle)
}

// Refund returns the escrowed amount to the buyer, the alternate terminal
// transition.
func (c *EscrowClient) Refund(ctx context.Context, lotID uint64) error {
	handle, err := c.ledger.Write(ctx, c.address, methodRefundPayment, nil, nil, lotID)
	if err != nil {
		return submissionError(methodRefundPayment, err)
	}
	return c.wait(ctx, methodRefundPayment, handle)
}

// Payment fetches the payment for a lot. A zero-amount record means no
// payment exists and is reported as not_found.
func (c *EscrowClient) Payment(ctx context.Context, lotID uint64) (*Payment, error) {
	out, err := c.ledger.Read(ctx, c.address, methodGetPayment, lotID)
	if err != nil {
		return nil, err
	}
	p, err := decodePayment(out)
	if err != nil {
		return nil, err
	}
	if p.Amount == nil || p.Amount.Sign() == 0 {
		return nil, Errorf(ErrCodeNotFound, "no payment for lot %d", lotID)
	}
	return p, nil
}

// PaymentsCount reads the total number of payments ever recorded.
func (c *EscrowClient) PaymentsCount(ctx context.Context) (uint64, error) {
	out, err := c.ledger.Read(ctx, c.address, methodGetPaymentsCount)
	if err != nil {
		return 0, err
	}
	return decodeUint(out, 0)
}

// PaymentByIndex reads a payment by its insertion index.
func (c *EscrowClient) PaymentByIndex(ctx context.Context, index uint64) (*Payment, error) {
	out, err := c.ledger.Read(ctx, c.address, methodGetPaymentByIndex, index)
	if err != nil {
		return nil, err
	}
	return decodePayment(out)
}

// LotCompleted asks the escrow whether its bound registry reports the lot's
// workflow complete.
func (c *EscrowClient) LotCompleted(ctx context.Context, lotID uint64) (bool, error) {
	out, err := c.ledger.Read(ctx, c.address, methodIsLotCompleted, lotID)
	if err != nil {
		return false, err
	}
	if len(out) == 0 {
		return false, Errorf(ErrCodeSubmission, "%s: unexpected empty result", methodIsLotCompleted)
	}
	done, _ := out[0].(bool)
	return done, nil
}

// LotPrice reads the lot price as resolved through the escrow's bound
// registry.
func (c *EscrowClient) LotPrice(ctx context.Context, lotID uint64) (*big.Int, error) {
	out, err := c.ledger.Read(ctx, c.address, methodGetLotPrice, lotID)
	if err != nil {
		return nil, err
	}
	price := decodeBig(out, 0)
	if price == nil {
		return nil, Errorf(ErrCodeSubmission, "%s: unexpected result", methodGetLotPrice)
	}
	return price, nil
}

// ContractBalance reads the escrow's custodial balance.
func (c *EscrowClient) ContractBalance(ctx context.Context) (*big.Int, error) {
	out, err := c.ledger.Read(ctx, c.address, methodGetContractBalance)
	if err != nil {
		return nil, err
	}
	balance := decodeBig(out, 0)
	if balance == nil {
		return nil, Errorf(ErrCodeSubmission, "%s: unexpected result", methodGetContractBalance)
	}
	return balance, nil
}

// Totals reads the per-account released/spent counters.
func (c *EscrowClient) Totals(ctx context.Context, account string) (AccountTotals, error) {
	totals := AccountTotals{Received: big.NewInt(0), Spent: big.NewInt(0)}
	out, err := c.ledger.Read(ctx, c.address, methodTotalReceived, account)
	if err != nil {
		return totals, err
	}
	if v := decodeBig(out, 0); v != nil {
		totals.Received = v
	}
	out, err = c.ledger.Read(ctx, c.address, methodTotalSpent, account)
	if err != nil {
		return totals, err
	}
	if v := decodeBig(out, 0); v != nil {
		totals.Spent = v
	}
	return totals, nil
}

// BoundRegistry reads the registry address the escrow was permanently bound
// to at its own creation.
func (c *EscrowClient) BoundRegistry(ctx context.Context) (string, error) {
	out, err := c.ledger.Read(ctx, c.address, methodRegistry)
	if err != nil {
		return "", err
	}
	if len(out) == 0 {
		return "", Errorf(ErrCodeSubmission, "%s: unexpected empty result", methodRegistry)
	}
	addr, ok := out[0].(string)
	if !ok {
		return "", Errorf(ErrCodeSubmission, "%s: unexpected result", methodRegistry)
	}
	return addr, nil
}

func (c *EscrowClient) wait(ctx context.Context, method string, handle TxHandle) error {
	if err := c.ledger.Wait(ctx, handle, c.confirmWait); err != nil {
		return waitError(method, handle, err)
	}
	return nil
}

func decodePayment(out []interface{}) (*Payment, error) {
	if len(out) != 7 {
		return nil, Errorf(ErrCodeSubmission, "payment: unexpected result arity %d", len(out))
	}
	p := &Payment{}
	var err error
	if p.LotID, err = decodeUint(out, 0); err != nil {
		return nil, err
	}
	p.Buyer, _ = out[1].(string)
	p.Seller, _ = out[2].(string)
	p.Amount = decodeBig(out, 3)
	createdAt, err := decodeUint(out, 4)
	if err != nil {
		return nil, err
	}
	p.CreatedAt = int64(createdAt)
	releasedAt, err := decodeUint(out, 5)
	if err != nil {
		return nil, err
	}
	p.Released, _ = out[6].(bool)
	if p.Released {
		p.ReleasedAt = int64(releasedAt)
	}
	return p, nil
}
