package tracelot

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"
)

const (
	registryAddr = "0xAAA0000000000000000000000000000000000001"
	escrowAddr   = "0xBBB0000000000000000000000000000000000002"
)

// fakeLedger simulates both contracts in memory. Writes apply atomically at
// submission; Wait returns waitErr so tests can drive the timeout policy.
type fakeLedger struct {
	mu sync.Mutex

	signer        string
	boundRegistry string

	nextLotID uint64
	lots      map[uint64]*Lot
	payments  map[uint64]*Payment
	order     []uint64
	balance   *big.Int
	received  map[string]*big.Int
	spent     map[string]*big.Int

	readErrs          map[string]error
	waitErr           error
	estimationFailing int
	overridesIgnored  bool

	reads     []string
	writes    []string
	overrides []*WriteOverride
}

func newFakeLedger(signer string) *fakeLedger {
	return &fakeLedger{
		signer:        signer,
		boundRegistry: registryAddr,
		lots:          make(map[uint64]*Lot),
		payments:      make(map[uint64]*Payment),
		balance:       big.NewInt(0),
		received:      make(map[string]*big.Int),
		spent:         make(map[string]*big.Int),
		readErrs:      make(map[string]error),
	}
}

func (f *fakeLedger) setSigner(account string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signer = account
}

func (f *fakeLedger) failRead(method string, id uint64, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readErrs[fmt.Sprintf("%s:%d", method, id)] = err
}

func (f *fakeLedger) seedLot(spec LotSpec, creator string) uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.addLot(spec, creator)
}

func (f *fakeLedger) addLot(spec LotSpec, creator string) uint64 {
	id := f.nextLotID
	f.nextLotID++
	steps := make([]Step, len(spec.Steps))
	for i, s := range spec.Steps {
		steps[i] = Step{Description: s.Description, Validators: append([]string(nil), s.Validators...)}
	}
	f.lots[id] = &Lot{
		ID:          id,
		Title:       spec.Title,
		Description: spec.Description,
		Quantity:    spec.Quantity,
		Unit:        spec.Unit,
		Origin:      spec.Origin,
		Price:       new(big.Int).Set(spec.Price),
		Creator:     creator,
		CreatedAt:   time.Now().Unix(),
		Steps:       steps,
	}
	return id
}

func (f *fakeLedger) Read(_ context.Context, contract, method string, args ...interface{}) ([]interface{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var id uint64
	if len(args) > 0 {
		if v, ok := args[0].(uint64); ok {
			id = v
		}
	}
	f.reads = append(f.reads, fmt.Sprintf("%s:%s", method, argKey(args)))
	if err, ok := f.readErrs[fmt.Sprintf("%s:%d", method, id)]; ok {
		return nil, err
	}

	switch {
	case strings.EqualFold(contract, registryAddr):
		return f.readRegistry(method, args)
	case strings.EqualFold(contract, escrowAddr):
		return f.readEscrow(method, args)
	default:
		return nil, fmt.Errorf("unknown contract %s", contract)
	}
}

func (f *fakeLedger) readRegistry(method string, args []interface{}) ([]interface{}, error) {
	switch method {
	case methodNextLotID:
		return []interface{}{new(big.Int).SetUint64(f.nextLotID)}, nil
	case methodGetLot:
		id := args[0].(uint64)
		lot, ok := f.lots[id]
		if !ok {
			return []interface{}{big.NewInt(0), "", "", big.NewInt(0), "", "", big.NewInt(0), zeroAddr, big.NewInt(0), false}, nil
		}
		return []interface{}{
			new(big.Int).SetUint64(lot.ID), lot.Title, lot.Description,
			new(big.Int).SetUint64(lot.Quantity), lot.Unit, lot.Origin,
			new(big.Int).Set(lot.Price), lot.Creator,
			big.NewInt(lot.CreatedAt), true,
		}, nil
	case methodGetLotStepsCount:
		id := args[0].(uint64)
		lot, ok := f.lots[id]
		if !ok {
			return []interface{}{big.NewInt(0)}, nil
		}
		return []interface{}{big.NewInt(int64(len(lot.Steps)))}, nil
	case methodGetStep:
		lot, ok := f.lots[args[0].(uint64)]
		if !ok {
			return nil, fmt.Errorf("no such lot")
		}
		i := args[1].(uint64)
		if i >= uint64(len(lot.Steps)) {
			return nil, fmt.Errorf("step index out of range")
		}
		s := lot.Steps[i]
		validatedBy := s.ValidatedBy
		if validatedBy == "" {
			validatedBy = zeroAddr
		}
		return []interface{}{s.Description, append([]string(nil), s.Validators...), validatedBy, big.NewInt(s.ValidatedAt), uint8(s.Status)}, nil
	default:
		return nil, fmt.Errorf("registry has no method %s", method)
	}
}

func (f *fakeLedger) readEscrow(method string, args []interface{}) ([]interface{}, error) {
	switch method {
	case methodRegistry:
		return []interface{}{f.boundRegistry}, nil
	case methodGetPayment:
		id := args[0].(uint64)
		p, ok := f.payments[id]
		if !ok {
			return []interface{}{big.NewInt(0), zeroAddr, zeroAddr, big.NewInt(0), big.NewInt(0), big.NewInt(0), false}, nil
		}
		return paymentTuple(p), nil
	case methodGetPaymentsCount:
		return []interface{}{big.NewInt(int64(len(f.order)))}, nil
	case methodGetPaymentByIndex:
		i := args[0].(uint64)
		if i >= uint64(len(f.order)) {
			return nil, fmt.Errorf("payment index out of range")
		}
		return paymentTuple(f.payments[f.order[i]]), nil
	case methodIsLotCompleted:
		lot := f.lots[args[0].(uint64)]
		return []interface{}{IsComplete(lot)}, nil
	case methodGetLotPrice:
		lot, ok := f.lots[args[0].(uint64)]
		if !ok {
			return []interface{}{big.NewInt(0)}, nil
		}
		return []interface{}{new(big.Int).Set(lot.Price)}, nil
	case methodGetContractBalance:
		return []interface{}{new(big.Int).Set(f.balance)}, nil
	case methodTotalReceived:
		return []interface{}{totalOf(f.received, args[0].(string))}, nil
	case methodTotalSpent:
		return []interface{}{totalOf(f.spent, args[0].(string))}, nil
	default:
		return nil, fmt.Errorf("escrow has no method %s", method)
	}
}

func (f *fakeLedger) Write(_ context.Context, contract, method string, value *big.Int, override *WriteOverride, args ...interface{}) (TxHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.estimationFailing > 0 && (override == nil || f.overridesIgnored) {
		f.estimationFailing--
		return "", fmt.Errorf("%w: intrinsic gas too low", ErrFeeEstimation)
	}

	f.writes = append(f.writes, method)
	f.overrides = append(f.overrides, override)

	switch method {
	case methodCreateLot:
		spec := LotSpec{
			Title:       args[0].(string),
			Description: args[1].(string),
			Quantity:    args[2].(uint64),
			Unit:        args[3].(string),
			Origin:      args[4].(string),
			Price:       args[5].(*big.Int),
		}
		descs := args[6].([]string)
		validators := args[7].([][]string)
		for i := range descs {
			spec.Steps = append(spec.Steps, StepSpec{Description: descs[i], Validators: validators[i]})
		}
		f.addLot(spec, f.signer)
	case methodValidateStep:
		lot := f.lots[args[0].(uint64)]
		next, err := ApplyValidation(lot, int(args[1].(uint64)), f.signer, time.Now())
		if err != nil {
			return "", err
		}
		f.lots[lot.ID] = next
	case methodDepositPayment:
		id := args[0].(uint64)
		lot, ok := f.lots[id]
		if !ok {
			return "", fmt.Errorf("execution reverted: no such lot")
		}
		if !CanDeposit(f.payments[id], lot, value) {
			return "", fmt.Errorf("execution reverted: deposit rejected")
		}
		f.payments[id] = &Payment{
			LotID:     id,
			Buyer:     f.signer,
			Seller:    lot.Creator,
			Amount:    new(big.Int).Set(value),
			CreatedAt: time.Now().Unix(),
		}
		f.order = append(f.order, id)
		f.balance.Add(f.balance, value)
		addTotal(f.spent, f.signer, value)
	case methodReleasePayment:
		id := args[0].(uint64)
		p := f.payments[id]
		if !CanRelease(p, IsComplete(f.lots[id])) {
			return "", fmt.Errorf("execution reverted: release rejected")
		}
		p.Released = true
		p.ReleasedAt = time.Now().Unix()
		f.balance.Sub(f.balance, p.Amount)
		addTotal(f.received, p.Seller, p.Amount)
	case methodRefundPayment:
		id := args[0].(uint64)
		p := f.payments[id]
		if !CanRefund(p) {
			return "", fmt.Errorf("execution reverted: refund rejected")
		}
		f.balance.Sub(f.balance, p.Amount)
		delete(f.payments, id)
		for i, o := range f.order {
			if o == id {
				f.order = append(f.order[:i], f.order[i+1:]...)
				break
			}
		}
	default:
		return "", fmt.Errorf("no such write method %s", method)
	}

	return TxHandle(fmt.Sprintf("0xfake%d", len(f.writes))), nil
}

func (f *fakeLedger) Wait(_ context.Context, _ TxHandle, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.waitErr
}

func (f *fakeLedger) writeCount(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, w := range f.writes {
		if w == method {
			n++
		}
	}
	return n
}

func (f *fakeLedger) readCount(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, r := range f.reads {
		if strings.HasPrefix(r, method+":") {
			n++
		}
	}
	return n
}

const zeroAddr = "0x0000000000000000000000000000000000000000"

func paymentTuple(p *Payment) []interface{} {
	return []interface{}{
		new(big.Int).SetUint64(p.LotID), p.Buyer, p.Seller,
		new(big.Int).Set(p.Amount), big.NewInt(p.CreatedAt),
		big.NewInt(p.ReleasedAt), p.Released,
	}
}

func totalOf(m map[string]*big.Int, account string) *big.Int {
	for k, v := range m {
		if strings.EqualFold(k, account) {
			return new(big.Int).Set(v)
		}
	}
	return big.NewInt(0)
}

func addTotal(m map[string]*big.Int, account string, amount *big.Int) {
	cur, ok := m[account]
	if !ok {
		cur = big.NewInt(0)
		m[account] = cur
	}
	cur.Add(cur, amount)
}

func argKey(args []interface{}) string {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = fmt.Sprint(a)
	}
	return strings.Join(parts, ",")
}

// fixedSigner satisfies Signer with a static account.
type fixedSigner string

func (s fixedSigner) Address() string { return string(s) }
