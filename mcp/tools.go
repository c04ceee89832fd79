package mcp

import (
	"context"
	"math/big"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	tracelot "github.com/tracelot/tracelot"
)

// Coordinator is the engine surface the tools call into. Satisfied by
// *tracelot.Coordinator.
type Coordinator interface {
	Snapshot() *tracelot.Snapshot
	RefreshAll(ctx context.Context) *tracelot.Snapshot
	CreateLot(ctx context.Context, spec tracelot.LotSpec) (uint64, error)
	ValidateStep(ctx context.Context, lotID uint64, stepIndex int) error
	Deposit(ctx context.Context, lotID uint64, amount *big.Int) error
	Release(ctx context.Context, lotID uint64) error
	Refund(ctx context.Context, lotID uint64) error
}

var _ Coordinator = (*tracelot.Coordinator)(nil)

// StepEntry is one workflow step in tool output.
type StepEntry struct {
	Index       int      `json:"index"`
	Description string   `json:"description"`
	Validators  []string `json:"validators,omitempty"`
	Status      string   `json:"status"`
	ValidatedBy string   `json:"validated_by,omitempty"`
}

// LotEntry is one lot in tool output. Price is a decimal string in the
// smallest payment denomination.
type LotEntry struct {
	ID           uint64      `json:"id"`
	Title        string      `json:"title"`
	Description  string      `json:"description"`
	Quantity     uint64      `json:"quantity"`
	Unit         string      `json:"unit"`
	Origin       string      `json:"origin"`
	Price        string      `json:"price"`
	Creator      string      `json:"creator"`
	Complete     bool        `json:"complete"`
	PaymentState string      `json:"payment_state"`
	Steps        []StepEntry `json:"steps"`
}

// ListLotsInput selects between the cached snapshot and a fresh read.
type ListLotsInput struct {
	Refresh bool `json:"refresh,omitempty" jsonschema:"rebuild the snapshot from the ledger before listing"`
}

// ListLotsResult is the list_lots output.
type ListLotsResult struct {
	Lots []LotEntry `json:"lots"`
}

// ListLotsTool defines the tool that lists recent lots.
func ListLotsTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "list_lots",
		Description: "Lists the most recent supply-chain lots with workflow progress and payment state",
	}
}

// ListLotsHandler serves list_lots from the coordinator's snapshot.
func ListLotsHandler(c Coordinator) mcp.ToolHandlerFor[ListLotsInput, ListLotsResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input ListLotsInput) (*mcp.CallToolResult, ListLotsResult, error) {
		snap := c.Snapshot()
		if input.Refresh {
			snap = c.RefreshAll(ctx)
		}
		result := ListLotsResult{Lots: make([]LotEntry, 0, len(snap.Lots))}
		for _, lot := range snap.Lots {
			result.Lots = append(result.Lots, toLotEntry(lot, snap.Payment(lot.ID)))
		}
		return nil, result, nil
	}
}

// GetLotInput identifies one lot.
type GetLotInput struct {
	LotID uint64 `json:"lot_id" jsonschema:"the lot identifier"`
}

// GetLotResult is the get_lot output.
type GetLotResult struct {
	Lot LotEntry `json:"lot"`
}

// GetLotTool defines the tool that fetches a single lot.
func GetLotTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "get_lot",
		Description: "Fetches one lot with its full workflow and payment state",
	}
}

// GetLotHandler serves get_lot. A lot missing from the cached snapshot
// triggers one refresh before reporting not found.
func GetLotHandler(c Coordinator) mcp.ToolHandlerFor[GetLotInput, GetLotResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input GetLotInput) (*mcp.CallToolResult, GetLotResult, error) {
		snap := c.Snapshot()
		lot := snap.Lot(input.LotID)
		if lot == nil {
			snap = c.RefreshAll(ctx)
			lot = snap.Lot(input.LotID)
		}
		if lot == nil {
			return nil, GetLotResult{}, tracelot.Errorf(tracelot.ErrCodeNotFound, "lot %d not found in the recent window", input.LotID)
		}
		return nil, GetLotResult{Lot: toLotEntry(lot, snap.Payment(lot.ID))}, nil
	}
}

// StepInput describes one workflow step of a lot to create.
type StepInput struct {
	Description string   `json:"description" jsonschema:"what this step certifies"`
	Validators  []string `json:"validators,omitempty" jsonschema:"accounts allowed to validate; empty leaves the step open"`
}

// CreateLotInput is the create_lot input. Price is a decimal string.
type CreateLotInput struct {
	Title       string      `json:"title" jsonschema:"short lot title"`
	Description string      `json:"description" jsonschema:"what the lot contains"`
	Quantity    uint64      `json:"quantity" jsonschema:"quantity in the given unit"`
	Unit        string      `json:"unit" jsonschema:"unit of measure"`
	Origin      string      `json:"origin" jsonschema:"geographic origin"`
	Price       string      `json:"price" jsonschema:"price as a decimal string in the smallest denomination"`
	Steps       []StepInput `json:"steps" jsonschema:"ordered validation workflow"`
}

// CreateLotResult reports the assigned id, or pending when confirmation
// timed out and the next refresh will surface the lot.
type CreateLotResult struct {
	LotID   uint64 `json:"lot_id"`
	Pending bool   `json:"pending,omitempty"`
}

// CreateLotTool defines the tool that registers a lot.
func CreateLotTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "create_lot",
		Description: "Registers a new lot with an ordered validation workflow",
	}
}

// CreateLotHandler serves create_lot.
func CreateLotHandler(c Coordinator) mcp.ToolHandlerFor[CreateLotInput, CreateLotResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input CreateLotInput) (*mcp.CallToolResult, CreateLotResult, error) {
		price, err := parseAmount(input.Price)
		if err != nil {
			return nil, CreateLotResult{}, err
		}
		spec := tracelot.LotSpec{
			Title:       input.Title,
			Description: input.Description,
			Quantity:    input.Quantity,
			Unit:        input.Unit,
			Origin:      input.Origin,
			Price:       price,
		}
		for _, st := range input.Steps {
			spec.Steps = append(spec.Steps, tracelot.StepSpec{Description: st.Description, Validators: st.Validators})
		}
		id, err := c.CreateLot(ctx, spec)
		if tracelot.IsCode(err, tracelot.ErrCodeConfirmationTimeout) {
			return nil, CreateLotResult{Pending: true}, nil
		}
		if err != nil {
			return nil, CreateLotResult{}, err
		}
		return nil, CreateLotResult{LotID: id}, nil
	}
}

// ValidateStepInput identifies the step to validate.
type ValidateStepInput struct {
	LotID     uint64 `json:"lot_id" jsonschema:"the lot identifier"`
	StepIndex int    `json:"step_index" jsonschema:"zero-based index of the step"`
}

// ValidateStepResult is the validate_step output.
type ValidateStepResult struct {
	LotID     uint64 `json:"lot_id"`
	StepIndex int    `json:"step_index"`
	Status    string `json:"status"`
}

// ValidateStepTool defines the tool that validates a workflow step.
func ValidateStepTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "validate_step",
		Description: "Validates one workflow step of a lot on behalf of the signing account",
	}
}

// ValidateStepHandler serves validate_step.
func ValidateStepHandler(c Coordinator) mcp.ToolHandlerFor[ValidateStepInput, ValidateStepResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input ValidateStepInput) (*mcp.CallToolResult, ValidateStepResult, error) {
		if err := c.ValidateStep(ctx, input.LotID, input.StepIndex); err != nil {
			return nil, ValidateStepResult{}, err
		}
		return nil, ValidateStepResult{LotID: input.LotID, StepIndex: input.StepIndex, Status: "validated"}, nil
	}
}

// DepositPaymentInput escrows a payment for a lot.
type DepositPaymentInput struct {
	LotID  uint64 `json:"lot_id" jsonschema:"the lot identifier"`
	Amount string `json:"amount" jsonschema:"amount as a decimal string; must equal the lot price"`
}

// PaymentResult reports the custody state after a payment intent.
type PaymentResult struct {
	LotID uint64 `json:"lot_id"`
	State string `json:"state"`
}

// DepositPaymentTool defines the tool that escrows the lot price.
func DepositPaymentTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "deposit_payment",
		Description: "Escrows the lot price on behalf of the signing buyer",
	}
}

// DepositPaymentHandler serves deposit_payment.
func DepositPaymentHandler(c Coordinator) mcp.ToolHandlerFor[DepositPaymentInput, PaymentResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input DepositPaymentInput) (*mcp.CallToolResult, PaymentResult, error) {
		amount, err := parseAmount(input.Amount)
		if err != nil {
			return nil, PaymentResult{}, err
		}
		if err := c.Deposit(ctx, input.LotID, amount); err != nil {
			return nil, PaymentResult{}, err
		}
		return nil, PaymentResult{LotID: input.LotID, State: tracelot.Escrowed.String()}, nil
	}
}

// ReleasePaymentInput identifies the payment to release.
type ReleasePaymentInput struct {
	LotID uint64 `json:"lot_id" jsonschema:"the lot identifier"`
}

// ReleasePaymentTool defines the tool that pays the seller out.
func ReleasePaymentTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "release_payment",
		Description: "Releases the escrowed payment to the seller once the workflow is complete",
	}
}

// ReleasePaymentHandler serves release_payment.
func ReleasePaymentHandler(c Coordinator) mcp.ToolHandlerFor[ReleasePaymentInput, PaymentResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input ReleasePaymentInput) (*mcp.CallToolResult, PaymentResult, error) {
		if err := c.Release(ctx, input.LotID); err != nil {
			return nil, PaymentResult{}, err
		}
		return nil, PaymentResult{LotID: input.LotID, State: tracelot.Released.String()}, nil
	}
}

// RefundPaymentInput identifies the payment to refund.
type RefundPaymentInput struct {
	LotID uint64 `json:"lot_id" jsonschema:"the lot identifier"`
}

// RefundPaymentTool defines the tool that returns the escrow to the buyer.
func RefundPaymentTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "refund_payment",
		Description: "Refunds the escrowed payment to the buyer",
	}
}

// RefundPaymentHandler serves refund_payment.
func RefundPaymentHandler(c Coordinator) mcp.ToolHandlerFor[RefundPaymentInput, PaymentResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input RefundPaymentInput) (*mcp.CallToolResult, PaymentResult, error) {
		if err := c.Refund(ctx, input.LotID); err != nil {
			return nil, PaymentResult{}, err
		}
		return nil, PaymentResult{LotID: input.LotID, State: tracelot.Refunded.String()}, nil
	}
}

// PaymentStatsInput selects between the cached snapshot and a fresh read.
type PaymentStatsInput struct {
	Refresh bool `json:"refresh,omitempty" jsonschema:"rebuild the snapshot from the ledger before reporting"`
}

// PaymentStatsResult aggregates escrow counters for the signing account.
type PaymentStatsResult struct {
	Payments        int    `json:"payments"`
	ContractBalance string `json:"contract_balance"`
	Received        string `json:"received"`
	Spent           string `json:"spent"`
	RefreshedAt     string `json:"refreshed_at"`
}

// PaymentStatsTool defines the tool that reports escrow aggregates.
func PaymentStatsTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "payment_stats",
		Description: "Reports the escrow balance and the signing account's totals",
	}
}

// PaymentStatsHandler serves payment_stats.
func PaymentStatsHandler(c Coordinator) mcp.ToolHandlerFor[PaymentStatsInput, PaymentStatsResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input PaymentStatsInput) (*mcp.CallToolResult, PaymentStatsResult, error) {
		snap := c.Snapshot()
		if input.Refresh {
			snap = c.RefreshAll(ctx)
		}
		return nil, PaymentStatsResult{
			Payments:        len(snap.Payments),
			ContractBalance: bigString(snap.ContractBalance),
			Received:        bigString(snap.Totals.Received),
			Spent:           bigString(snap.Totals.Spent),
			RefreshedAt:     snap.RefreshedAt.UTC().Format(time.RFC3339),
		}, nil
	}
}

func toLotEntry(lot *tracelot.Lot, payment *tracelot.Payment) LotEntry {
	entry := LotEntry{
		ID:           lot.ID,
		Title:        lot.Title,
		Description:  lot.Description,
		Quantity:     lot.Quantity,
		Unit:         lot.Unit,
		Origin:       lot.Origin,
		Price:        bigString(lot.Price),
		Creator:      lot.Creator,
		Complete:     tracelot.IsComplete(lot),
		PaymentState: tracelot.StateOf(payment).String(),
		Steps:        make([]StepEntry, 0, len(lot.Steps)),
	}
	for i, s := range lot.Steps {
		entry.Steps = append(entry.Steps, StepEntry{
			Index:       i,
			Description: s.Description,
			Validators:  s.Validators,
			Status:      s.Status.String(),
			ValidatedBy: s.ValidatedBy,
		})
	}
	return entry
}

func parseAmount(raw string) (*big.Int, error) {
	amount, ok := new(big.Int).SetString(raw, 10)
	if !ok || amount.Sign() < 0 {
		return nil, tracelot.Errorf(tracelot.ErrCodeValidation, "amount must be a non-negative decimal string, got %q", raw)
	}
	return amount, nil
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
