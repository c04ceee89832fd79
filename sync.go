package tracelot

import (
	"context"
	"log/slog"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Defaults for the coordinator's windows and timing policy.
const (
	DefaultLotWindow     = 10
	DefaultPaymentWindow = 50
	DefaultConfirmWait   = 120 * time.Second
	DefaultPollInterval  = 2 * time.Second
	DefaultGraceDelay    = 5 * time.Second
)

// Options tunes the coordinator. Zero fields take the defaults above.
type Options struct {
	// LotWindow is how many most-recent lots a refresh aggregates.
	LotWindow int
	// PaymentWindow is how many most-recent payments a refresh aggregates.
	PaymentWindow int
	// GraceDelay is the pause after a confirmation timeout before the
	// optimistic refresh.
	GraceDelay time.Duration
}

func (o Options) withDefaults() Options {
	if o.LotWindow <= 0 {
		o.LotWindow = DefaultLotWindow
	}
	if o.PaymentWindow <= 0 {
		o.PaymentWindow = DefaultPaymentWindow
	}
	if o.GraceDelay <= 0 {
		o.GraceDelay = DefaultGraceDelay
	}
	return o
}

// Coordinator orchestrates both clients: it serializes state-changing
// intents per lot, consults the binding guard before payment writes,
// fast-fails with the pure engines, and rebuilds the aggregate snapshot
// after every confirmed (or optimistically timed-out) write.
type Coordinator struct {
	registry *RegistryClient
	escrow   *EscrowClient
	guard    *BindingGuard
	signer   Signer
	opts     Options
	log      *slog.Logger

	snapshot atomic.Pointer[Snapshot]

	mu       sync.Mutex
	lotLocks map[uint64]*lotLock
}

// lotLock is one per-lot queue entry; refs counts holders and waiters so
// the entry can be dropped once the lot is uncontended.
type lotLock struct {
	mu   sync.Mutex
	refs int
}

// NewCoordinator wires the coordinator over the two clients and the guard.
func NewCoordinator(registry *RegistryClient, escrow *EscrowClient, guard *BindingGuard, signer Signer, opts Options, log *slog.Logger) *Coordinator {
	if log == nil {
		log = slog.Default()
	}
	return &Coordinator{
		registry: registry,
		escrow:   escrow,
		guard:    guard,
		signer:   signer,
		opts:     opts.withDefaults(),
		log:      log,
		lotLocks: make(map[uint64]*lotLock),
	}
}

// Snapshot returns the last aggregated view. Callers must treat it as
// immutable; it is replaced wholesale by the next refresh, never patched.
func (c *Coordinator) Snapshot() *Snapshot {
	if s := c.snapshot.Load(); s != nil {
		return s
	}
	return &Snapshot{Totals: AccountTotals{Received: big.NewInt(0), Spent: big.NewInt(0)}, ContractBalance: big.NewInt(0)}
}

// RefreshAll rebuilds the snapshot from both ledgers: the most recent lots
// and payments, per-account totals for the signing account, and the
// custodial balance. Per-item fetch failures are logged and skipped; the
// rebuild never aborts wholesale and the resulting partial snapshot is
// swapped in atomically.
func (c *Coordinator) RefreshAll(ctx context.Context) *Snapshot {
	snap := &Snapshot{
		Totals:          AccountTotals{Received: big.NewInt(0), Spent: big.NewInt(0)},
		ContractBalance: big.NewInt(0),
		RefreshedAt:     time.Now(),
	}

	for lot, err := range c.registry.RecentLots(ctx, c.opts.LotWindow) {
		if err != nil {
			c.log.Warn("skipping lot during refresh", "err", err)
			snap.Failures = append(snap.Failures, FetchFailure{Kind: "lot", Err: err.Error()})
			continue
		}
		snap.Lots = append(snap.Lots, lot)
	}

	count, err := c.escrow.PaymentsCount(ctx)
	if err != nil {
		c.log.Warn("skipping payments during refresh", "err", err)
		snap.Failures = append(snap.Failures, FetchFailure{Kind: "payment", Err: err.Error()})
	} else {
		low := uint64(0)
		if count > uint64(c.opts.PaymentWindow) {
			low = count - uint64(c.opts.PaymentWindow)
		}
		for i := count; i > low; i-- {
			p, err := c.escrow.PaymentByIndex(ctx, i-1)
			if err != nil {
				c.log.Warn("skipping payment during refresh", "index", i-1, "err", err)
				snap.Failures = append(snap.Failures, FetchFailure{Kind: "payment", ID: i - 1, Err: err.Error()})
				continue
			}
			snap.Payments = append(snap.Payments, p)
		}
	}

	if balance, err := c.escrow.ContractBalance(ctx); err != nil {
		c.log.Warn("skipping contract balance during refresh", "err", err)
		snap.Failures = append(snap.Failures, FetchFailure{Kind: "balance", Err: err.Error()})
	} else {
		snap.ContractBalance = balance
	}

	if c.signer != nil {
		if totals, err := c.escrow.Totals(ctx, c.signer.Address()); err != nil {
			c.log.Warn("skipping account totals during refresh", "err", err)
			snap.Failures = append(snap.Failures, FetchFailure{Kind: "totals", Err: err.Error()})
		} else {
			snap.Totals = totals
		}
	}

	c.snapshot.Store(snap)
	return snap
}

// CreateLot registers a new lot and refreshes the snapshot. Returns the
// assigned lot id.
func (c *Coordinator) CreateLot(ctx context.Context, spec LotSpec) (uint64, error) {
	op := uuid.NewString()
	c.log.Info("creating lot", "op", op, "title", spec.Title, "steps", len(spec.Steps))
	id, err := c.registry.CreateLot(ctx, spec)
	if serr := c.settle(ctx, op, err); serr != nil {
		return 0, serr
	}
	if err != nil {
		// Timed out before confirmation: the id cannot be reported yet,
		// the next refresh will surface the lot if the write landed.
		return 0, err
	}
	return id, nil
}

// ValidateStep validates one workflow step of a lot. Requests against the
// same lot are serialized; the pure gating rules fast-fail on the cached
// snapshot before the client re-checks against a fresh read.
func (c *Coordinator) ValidateStep(ctx context.Context, lotID uint64, stepIndex int) error {
	unlock := c.lockLot(lotID)
	defer unlock()

	if cached := c.Snapshot().Lot(lotID); cached != nil {
		if _, err := ApplyValidation(cached, stepIndex, c.signer.Address(), time.Now()); err != nil {
			return err
		}
	}

	op := uuid.NewString()
	c.log.Info("validating step", "op", op, "lotId", lotID, "stepIndex", stepIndex)
	return c.settle(ctx, op, c.registry.ValidateStep(ctx, lotID, stepIndex))
}

// Deposit escrows the lot price for lotID on behalf of the signing buyer.
func (c *Coordinator) Deposit(ctx context.Context, lotID uint64, amount *big.Int) error {
	unlock := c.lockLot(lotID)
	defer unlock()

	if err := c.guard.Verify(ctx); err != nil {
		return err
	}
	lot, err := c.registry.Lot(ctx, lotID)
	if err != nil {
		return err
	}
	existing, err := c.escrow.Payment(ctx, lotID)
	if err != nil && !IsNotFound(err) {
		return err
	}
	if StateOf(existing) != NoPayment {
		return NewError(ErrCodeInvalidTransition, "a payment already exists for this lot", map[string]interface{}{
			"lotId": lotID, "state": StateOf(existing).String(),
		})
	}
	if !CanDeposit(existing, lot, amount) {
		price := "unknown"
		if lot.Price != nil {
			price = lot.Price.String()
		}
		return NewError(ErrCodeValidation, "deposit amount must equal the lot price", map[string]interface{}{
			"lotId": lotID, "price": price,
		})
	}

	op := uuid.NewString()
	c.log.Info("depositing payment", "op", op, "lotId", lotID, "amount", amount.String())
	return c.settle(ctx, op, c.escrow.Deposit(ctx, lotID, amount))
}

// Release pays the escrowed amount out to the seller. The pure lifecycle
// rules fast-fail locally; an incomplete workflow never reaches the ledger.
func (c *Coordinator) Release(ctx context.Context, lotID uint64) error {
	unlock := c.lockLot(lotID)
	defer unlock()

	if err := c.guard.Verify(ctx); err != nil {
		return err
	}
	payment, err := c.escrow.Payment(ctx, lotID)
	if err != nil {
		return err
	}
	lot, err := c.registry.Lot(ctx, lotID)
	if err != nil {
		return err
	}
	if !CanRelease(payment, IsComplete(lot)) {
		return NewError(ErrCodeInvalidTransition, "payment is not releasable", map[string]interface{}{
			"lotId": lotID, "state": StateOf(payment).String(), "lotComplete": IsComplete(lot),
		})
	}

	op := uuid.NewString()
	c.log.Info("releasing payment", "op", op, "lotId", lotID)
	return c.settle(ctx, op, c.escrow.Release(ctx, lotID))
}

// Refund returns the escrowed amount to the buyer.
func (c *Coordinator) Refund(ctx context.Context, lotID uint64) error {
	unlock := c.lockLot(lotID)
	defer unlock()

	if err := c.guard.Verify(ctx); err != nil {
		return err
	}
	payment, err := c.escrow.Payment(ctx, lotID)
	if err != nil {
		return err
	}
	if !CanRefund(payment) {
		return NewError(ErrCodeInvalidTransition, "payment is not refundable", map[string]interface{}{
			"lotId": lotID, "state": StateOf(payment).String(),
		})
	}

	op := uuid.NewString()
	c.log.Info("refunding payment", "op", op, "lotId", lotID)
	return c.settle(ctx, op, c.escrow.Refund(ctx, lotID))
}

// settle applies the post-submission policy. A confirmed write triggers a
// refresh. A confirmation timeout is not a failure: the ledger is
// eventually consistent, so after a grace delay the snapshot is refreshed
// anyway and the next read reveals ground truth. Caller cancellation only
// forgoes the refresh; the submitted write proceeds regardless.
func (c *Coordinator) settle(ctx context.Context, op string, err error) error {
	switch {
	case err == nil:
		c.RefreshAll(ctx)
		return nil
	case isTimeout(err):
		if ctx.Err() != nil {
			c.log.Warn("caller abandoned confirmation wait, skipping refresh", "op", op)
			return nil
		}
		c.log.Warn("confirmation timed out, refreshing after grace delay", "op", op, "grace", c.opts.GraceDelay)
		select {
		case <-time.After(c.opts.GraceDelay):
		case <-ctx.Done():
			return nil
		}
		c.RefreshAll(context.WithoutCancel(ctx))
		return nil
	default:
		return err
	}
}

// lockLot serializes operations per lot id. Operations on different lots
// proceed concurrently; on the same lot they queue in submission order.
// The entry is dropped once the last holder releases, so the map only
// tracks lots with in-flight operations.
func (c *Coordinator) lockLot(id uint64) func() {
	c.mu.Lock()
	l, ok := c.lotLocks[id]
	if !ok {
		l = &lotLock{}
		c.lotLocks[id] = l
	}
	l.refs++
	c.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		c.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(c.lotLocks, id)
		}
		c.mu.Unlock()
	}
}
