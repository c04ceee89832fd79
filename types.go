package tracelot

import (
	"math/big"
	"time"
)

// StepStatus is the validation state of a single workflow step.
type StepStatus uint8

const (
	StepPending StepStatus = iota
	StepValidated
)

// String returns the lowercase name used in logs and JSON payloads.
func (s StepStatus) String() string {
	switch s {
	case StepPending:
		return "pending"
	case StepValidated:
		return "validated"
	default:
		return "unknown"
	}
}

// Step is one gate in a lot's workflow. Validators is the set of accounts
// allowed to validate it; an empty set leaves the step open to any account.
// ValidatedBy and ValidatedAt are set only once Status is StepValidated.
type Step struct {
	Description string
	Validators  []string
	Status      StepStatus
	ValidatedBy string
	ValidatedAt int64
}

// Lot is a registered batch of goods with a fixed, ordered validation
// workflow. Steps never change shape after creation; only per-step
// validation mutates them. Price is in the smallest payment denomination.
type Lot struct {
	ID          uint64
	Title       string
	Description string
	Quantity    uint64
	Unit        string
	Origin      string
	Price       *big.Int
	Creator     string
	CreatedAt   int64
	Steps       []Step
}

// Clone returns a deep copy of the lot so callers can mutate the copy
// without affecting cached snapshots.
func (l *Lot) Clone() *Lot {
	if l == nil {
		return nil
	}
	clone := *l
	if l.Price != nil {
		clone.Price = new(big.Int).Set(l.Price)
	}
	clone.Steps = make([]Step, len(l.Steps))
	for i, s := range l.Steps {
		clone.Steps[i] = s
		clone.Steps[i].Validators = append([]string(nil), s.Validators...)
	}
	return &clone
}

// StepSpec describes one step of a lot to be created.
type StepSpec struct {
	Description string
	Validators  []string
}

// LotSpec is the input to lot registration. The registry assigns the ID.
type LotSpec struct {
	Title       string
	Description string
	Quantity    uint64
	Unit        string
	Origin      string
	Price       *big.Int
	Steps       []StepSpec
}

// Payment is the custodial escrow record for one lot. Amount is immutable
// after deposit. ReleasedAt is set only once Released is true. Refunded is
// tracked locally; a refunded payment reads back from the ledger as absent.
type Payment struct {
	LotID      uint64
	Buyer      string
	Seller     string
	Amount     *big.Int
	CreatedAt  int64
	ReleasedAt int64
	Released   bool
	Refunded   bool
}

// Clone returns a deep copy of the payment.
func (p *Payment) Clone() *Payment {
	if p == nil {
		return nil
	}
	clone := *p
	if p.Amount != nil {
		clone.Amount = new(big.Int).Set(p.Amount)
	}
	return &clone
}

// AccountTotals aggregates the escrow's per-account counters.
type AccountTotals struct {
	Received *big.Int
	Spent    *big.Int
}

// FetchFailure records one skipped item from an aggregate refresh.
type FetchFailure struct {
	Kind string // "lot", "payment", "totals", "balance"
	ID   uint64
	Err  string
}

// Snapshot is an immutable view over both ledgers, rebuilt wholesale by the
// coordinator and swapped atomically. Lots are id-descending, payments
// recency-descending. Failures lists items skipped during the rebuild.
type Snapshot struct {
	Lots            []*Lot
	Payments        []*Payment
	Totals          AccountTotals
	ContractBalance *big.Int
	RefreshedAt     time.Time
	Failures        []FetchFailure
}

// Lot returns the snapshot's copy of a lot, or nil when it is not in the
// window.
func (s *Snapshot) Lot(id uint64) *Lot {
	if s == nil {
		return nil
	}
	for _, l := range s.Lots {
		if l.ID == id {
			return l
		}
	}
	return nil
}

// Payment returns the snapshot's copy of a lot's payment, or nil.
func (s *Snapshot) Payment(lotID uint64) *Payment {
	if s == nil {
		return nil
	}
	for _, p := range s.Payments {
		if p.LotID == lotID {
			return p
		}
	}
	return nil
}
