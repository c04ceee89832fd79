package tracelot

import (
	"strings"
	"time"
)

// Step validation rules. These are pure functions over an in-memory lot:
// the ledger's last read is ground truth, the local copy is a cache used to
// fast-fail before submission.

// CanValidate reports whether account may validate step index of lot.
// A step is eligible when it is pending, every earlier step is validated,
// and the account is authorized (an empty validator set is open to anyone).
func CanValidate(lot *Lot, index int, account string) bool {
	if lot == nil || index < 0 || index >= len(lot.Steps) {
		return false
	}
	step := lot.Steps[index]
	if step.Status != StepPending {
		return false
	}
	if index > 0 && lot.Steps[index-1].Status != StepValidated {
		return false
	}
	return stepOpenTo(step, account)
}

// ApplyValidation returns a copy of lot with step index validated by
// account at now. It never mutates its input. A transition that CanValidate
// rejects fails with an invalid_transition error, including a second
// validation of the same step.
func ApplyValidation(lot *Lot, index int, account string, now time.Time) (*Lot, error) {
	if !CanValidate(lot, index, account) {
		return nil, NewError(ErrCodeInvalidTransition, "step is not eligible for validation", map[string]interface{}{
			"lotId":     lotID(lot),
			"stepIndex": index,
			"account":   account,
		})
	}
	next := lot.Clone()
	next.Steps[index].Status = StepValidated
	next.Steps[index].ValidatedBy = account
	next.Steps[index].ValidatedAt = now.Unix()
	return next, nil
}

// IsComplete reports whether the lot's workflow is finished: a non-empty
// step list with every step validated. Completeness is monotonic.
func IsComplete(lot *Lot) bool {
	if lot == nil || len(lot.Steps) == 0 {
		return false
	}
	for _, s := range lot.Steps {
		if s.Status != StepValidated {
			return false
		}
	}
	return true
}

func stepOpenTo(step Step, account string) bool {
	if len(step.Validators) == 0 {
		return true
	}
	for _, v := range step.Validators {
		if strings.EqualFold(v, account) {
			return true
		}
	}
	return false
}

func lotID(lot *Lot) uint64 {
	if lot == nil {
		return 0
	}
	return lot.ID
}
