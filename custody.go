package tracelot

import "math/big"

// Escrow custody rules. The state machine per lot is
//
//	NoPayment -> Escrowed -> {Released | Refunded}
//
// The two terminal states are mutually exclusive and have no outgoing
// transitions. Refund has no automatic trigger; it is a manual intent.

// PaymentState is the custody state derived from a payment record.
type PaymentState uint8

const (
	NoPayment PaymentState = iota
	Escrowed
	Released
	Refunded
)

func (s PaymentState) String() string {
	switch s {
	case NoPayment:
		return "no_payment"
	case Escrowed:
		return "escrowed"
	case Released:
		return "released"
	case Refunded:
		return "refunded"
	default:
		return "unknown"
	}
}

// StateOf derives the custody state of a payment record. A nil payment or
// a zero amount means no payment exists for the lot.
func StateOf(p *Payment) PaymentState {
	if p == nil || p.Amount == nil || p.Amount.Sign() == 0 {
		return NoPayment
	}
	switch {
	case p.Released:
		return Released
	case p.Refunded:
		return Refunded
	default:
		return Escrowed
	}
}

// CanDeposit reports whether a buyer may escrow amount for the lot: the lot
// exists, no payment exists for it yet, and amount equals the lot price.
// An existing payment blocks a second deposit regardless of amount.
func CanDeposit(existing *Payment, lot *Lot, amount *big.Int) bool {
	if lot == nil || amount == nil || amount.Sign() < 0 {
		return false
	}
	if StateOf(existing) != NoPayment {
		return false
	}
	return lot.Price != nil && lot.Price.Cmp(amount) == 0
}

// CanRelease reports whether the escrowed payment may be paid out to the
// seller. Release requires the registry to report the lot complete.
func CanRelease(p *Payment, lotComplete bool) bool {
	return StateOf(p) == Escrowed && lotComplete
}

// CanRefund reports whether the escrowed payment may be returned to the
// buyer. The trigger policy is external; this only guards the transition.
func CanRefund(p *Payment) bool {
	return StateOf(p) == Escrowed
}
