package tracelot

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"math/big"
	"strings"
	"time"
)

// Lot registry contract methods.
const (
	methodCreateLot        = "createLot"
	methodValidateStep     = "validateStep"
	methodNextLotID        = "nextLotId"
	methodGetLot           = "getLot"
	methodGetLotStepsCount = "getLotStepsCount"
	methodGetStep          = "getStep"
)

// RegistryClient is the typed read/write facade over the lot registry
// ledger.
type RegistryClient struct {
	ledger      Ledger
	signer      Signer
	address     string
	confirmWait time.Duration
	log         *slog.Logger
}

// NewRegistryClient creates a registry client bound to the contract at
// address. confirmWait bounds the post-submission confirmation poll.
func NewRegistryClient(ledger Ledger, signer Signer, address string, confirmWait time.Duration, log *slog.Logger) *RegistryClient {
	if log == nil {
		log = slog.Default()
	}
	if confirmWait <= 0 {
		confirmWait = DefaultConfirmWait
	}
	return &RegistryClient{
		ledger:      ledger,
		signer:      signer,
		address:     address,
		confirmWait: confirmWait,
		log:         log,
	}
}

// Address returns the configured registry contract address.
func (c *RegistryClient) Address() string { return c.address }

// ValidateSpec checks a lot spec before submission.
func ValidateSpec(spec LotSpec) error {
	switch {
	case strings.TrimSpace(spec.Title) == "":
		return Errorf(ErrCodeValidation, "lot title is required")
	case strings.TrimSpace(spec.Description) == "":
		return Errorf(ErrCodeValidation, "lot description is required")
	case spec.Quantity == 0:
		return Errorf(ErrCodeValidation, "lot quantity must be positive")
	case spec.Price == nil || spec.Price.Sign() < 0:
		return Errorf(ErrCodeValidation, "lot price must be a non-negative amount")
	case len(spec.Steps) == 0:
		return Errorf(ErrCodeValidation, "at least one workflow step is required")
	}
	for i, s := range spec.Steps {
		if strings.TrimSpace(s.Description) == "" {
			return Errorf(ErrCodeValidation, "step %d description is required", i)
		}
	}
	return nil
}

// CreateLot validates the spec, submits one atomic registration and returns
// the assigned lot id once the write is confirmed.
func (c *RegistryClient) CreateLot(ctx context.Context, spec LotSpec) (uint64, error) {
	if err := ValidateSpec(spec); err != nil {
		return 0, err
	}

	before, err := c.NextLotID(ctx)
	if err != nil {
		return 0, err
	}

	descs := make([]string, len(spec.Steps))
	validators := make([][]string, len(spec.Steps))
	for i, s := range spec.Steps {
		descs[i] = s.Description
		validators[i] = append([]string(nil), s.Validators...)
	}

	handle, err := c.ledger.Write(ctx, c.address, methodCreateLot, nil, nil,
		spec.Title, spec.Description, spec.Quantity, spec.Unit, spec.Origin, spec.Price, descs, validators)
	if err != nil {
		return 0, submissionError(methodCreateLot, err)
	}
	if err := c.wait(ctx, methodCreateLot, handle); err != nil {
		return 0, err
	}

	return c.findCreatedLot(ctx, before)
}

// findCreatedLot locates the id assigned to the signer's registration among
// the ids minted since the pre-submission read. Falls back to the
// pre-submission id when the scan is inconclusive.
func (c *RegistryClient) findCreatedLot(ctx context.Context, before uint64) (uint64, error) {
	after, err := c.NextLotID(ctx)
	if err != nil || after <= before {
		return before, nil
	}
	for id := after; id > before; id-- {
		lot, err := c.Lot(ctx, id-1)
		if err != nil {
			continue
		}
		if strings.EqualFold(lot.Creator, c.signer.Address()) {
			return lot.ID, nil
		}
	}
	return before, nil
}

// ValidateStep submits one step validation. The gating and authorization
// rules are re-checked locally first so obviously doomed writes never reach
// the ledger; the ledger remains authoritative.
func (c *RegistryClient) ValidateStep(ctx context.Context, lotID uint64, stepIndex int) error {
	lot, err := c.Lot(ctx, lotID)
	if err != nil {
		return err
	}
	if _, err := ApplyValidation(lot, stepIndex, c.signer.Address(), time.Now()); err != nil {
		return err
	}

	handle, err := c.ledger.Write(ctx, c.address, methodValidateStep, nil, nil, lotID, uint64(stepIndex))
	if err != nil {
		return submissionError(methodValidateStep, err)
	}
	return c.wait(ctx, methodValidateStep, handle)
}

// NextLotID reads the registry's id watermark: ids [0, next) have been
// assigned.
func (c *RegistryClient) NextLotID(ctx context.Context) (uint64, error) {
	out, err := c.ledger.Read(ctx, c.address, methodNextLotID)
	if err != nil {
		return 0, err
	}
	return decodeUint(out, 0)
}

// Lot fetches one lot with all of its steps. Returns a not_found error when
// the id has never been assigned.
func (c *RegistryClient) Lot(ctx context.Context, id uint64) (*Lot, error) {
	out, err := c.ledger.Read(ctx, c.address, methodGetLot, id)
	if err != nil {
		return nil, err
	}
	if len(out) != 10 {
		return nil, Errorf(ErrCodeSubmission, "%s: unexpected result arity %d", methodGetLot, len(out))
	}
	exists, _ := out[9].(bool)
	if !exists {
		return nil, Errorf(ErrCodeNotFound, "lot %d does not exist", id)
	}

	lot := &Lot{}
	if lot.ID, err = decodeUint(out, 0); err != nil {
		return nil, err
	}
	lot.Title, _ = out[1].(string)
	lot.Description, _ = out[2].(string)
	if lot.Quantity, err = decodeUint(out, 3); err != nil {
		return nil, err
	}
	lot.Unit, _ = out[4].(string)
	lot.Origin, _ = out[5].(string)
	lot.Price = decodeBig(out, 6)
	lot.Creator, _ = out[7].(string)
	createdAt, err := decodeUint(out, 8)
	if err != nil {
		return nil, err
	}
	lot.CreatedAt = int64(createdAt)

	if lot.Steps, err = c.steps(ctx, id); err != nil {
		return nil, err
	}
	return lot, nil
}

func (c *RegistryClient) steps(ctx context.Context, lotID uint64) ([]Step, error) {
	out, err := c.ledger.Read(ctx, c.address, methodGetLotStepsCount, lotID)
	if err != nil {
		return nil, err
	}
	count, err := decodeUint(out, 0)
	if err != nil {
		return nil, err
	}

	steps := make([]Step, 0, count)
	for i := uint64(0); i < count; i++ {
		raw, err := c.ledger.Read(ctx, c.address, methodGetStep, lotID, i)
		if err != nil {
			return nil, err
		}
		if len(raw) != 5 {
			return nil, Errorf(ErrCodeSubmission, "%s: unexpected result arity %d", methodGetStep, len(raw))
		}
		step := Step{}
		step.Description, _ = raw[0].(string)
		step.Validators, _ = raw[1].([]string)
		validatedAt, err := decodeUint(raw, 3)
		if err != nil {
			return nil, err
		}
		status, err := decodeUint(raw, 4)
		if err != nil {
			return nil, err
		}
		step.Status = StepStatus(status)
		if step.Status == StepValidated {
			step.ValidatedBy, _ = raw[2].(string)
			step.ValidatedAt = int64(validatedAt)
		}
		steps = append(steps, step)
	}
	return steps, nil
}

// RecentLots returns a finite, restartable lazy sequence over the maxCount
// most recent lot snapshots, id-descending. Ids that were never assigned
// are skipped as gaps; any other per-id failure is yielded as an error so
// the caller can log and continue.
func (c *RegistryClient) RecentLots(ctx context.Context, maxCount int) iter.Seq2[*Lot, error] {
	return func(yield func(*Lot, error) bool) {
		next, err := c.NextLotID(ctx)
		if err != nil {
			yield(nil, err)
			return
		}
		low := uint64(0)
		if maxCount > 0 && next > uint64(maxCount) {
			low = next - uint64(maxCount)
		}
		for id := next; id > low; id-- {
			lot, err := c.Lot(ctx, id-1)
			if IsNotFound(err) {
				continue
			}
			if !yield(lot, err) {
				return
			}
		}
	}
}

func (c *RegistryClient) wait(ctx context.Context, method string, handle TxHandle) error {
	if err := c.ledger.Wait(ctx, handle, c.confirmWait); err != nil {
		return waitError(method, handle, err)
	}
	return nil
}

func decodeUint(out []interface{}, i int) (uint64, error) {
	if b := decodeBig(out, i); b != nil {
		return b.Uint64(), nil
	}
	return 0, Errorf(ErrCodeSubmission, "result %d is not an unsigned integer", i)
}

func decodeBig(out []interface{}, i int) *big.Int {
	if i >= len(out) {
		return nil
	}
	switch v := out[i].(type) {
	case *big.Int:
		return v
	case uint64:
		return new(big.Int).SetUint64(v)
	case uint8:
		return new(big.Int).SetUint64(uint64(v))
	default:
		return nil
	}
}

func submissionError(method string, err error) error {
	if IsCode(err, ErrCodeSubmission) {
		return err
	}
	return NewError(ErrCodeSubmission, fmt.Sprintf("%s: %v", method, err), map[string]interface{}{
		"method": method,
	})
}

func waitError(method string, handle TxHandle, err error) error {
	if isTimeout(err) {
		return NewError(ErrCodeConfirmationTimeout, fmt.Sprintf("%s: %v", method, err), map[string]interface{}{
			"method": method,
			"tx":     string(handle),
		})
	}
	return submissionError(method, err)
}

// isTimeout also covers caller-side cancellation of a confirmation wait:
// the submitted write proceeds to ledger completion either way, only the
// local refresh is at stake.
func isTimeout(err error) bool {
	return IsCode(err, ErrCodeConfirmationTimeout) ||
		errors.Is(err, ErrTimedOut) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}
