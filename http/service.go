// Package http exposes the lot coordinator over HTTP. The handler logic
// lives in a framework-agnostic Service; thin gin and echo adapters mount
// it so embedders can reuse whichever router their application already
// runs.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"
	"time"

	tracelot "github.com/tracelot/tracelot"
)

// Coordinator is the surface the service needs from the engine. It is
// satisfied by *tracelot.Coordinator and stubbed in tests.
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

// Service holds the route handlers independent of any router framework.
type Service struct {
	coordinator Coordinator
	log         *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *Service) { s.log = log }
}

// NewService creates the HTTP service over a coordinator.
func NewService(c Coordinator, opts ...Option) *Service {
	s := &Service{coordinator: c, log: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// StepDTO is the JSON shape of one workflow step.
type StepDTO struct {
	Description string   `json:"description"`
	Validators  []string `json:"validators"`
	Status      string   `json:"status"`
	ValidatedBy string   `json:"validatedBy,omitempty"`
	ValidatedAt int64    `json:"validatedAt,omitempty"`
}

// LotDTO is the JSON shape of a lot. Price is a decimal string so callers
// never lose precision to float parsing.
type LotDTO struct {
	ID          uint64    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Quantity    uint64    `json:"quantity"`
	Unit        string    `json:"unit"`
	Origin      string    `json:"origin"`
	Price       string    `json:"price"`
	Creator     string    `json:"creator"`
	CreatedAt   int64     `json:"createdAt"`
	Complete    bool      `json:"complete"`
	Steps       []StepDTO `json:"steps"`
}

// PaymentDTO is the JSON shape of an escrowed payment.
type PaymentDTO struct {
	LotID      uint64 `json:"lotId"`
	Buyer      string `json:"buyer"`
	Seller     string `json:"seller"`
	Amount     string `json:"amount"`
	CreatedAt  int64  `json:"createdAt"`
	ReleasedAt int64  `json:"releasedAt,omitempty"`
	State      string `json:"state"`
}

// TotalsDTO carries the signing account's escrow counters.
type TotalsDTO struct {
	Received string `json:"received"`
	Spent    string `json:"spent"`
}

// FailureDTO records one item skipped during the last refresh.
type FailureDTO struct {
	Kind  string `json:"kind"`
	ID    uint64 `json:"id"`
	Error string `json:"error"`
}

// SnapshotDTO is the aggregate view returned by GET /snapshot.
type SnapshotDTO struct {
	Lots            []LotDTO     `json:"lots"`
	Payments        []PaymentDTO `json:"payments"`
	Totals          TotalsDTO    `json:"totals"`
	ContractBalance string       `json:"contractBalance"`
	RefreshedAt     time.Time    `json:"refreshedAt"`
	Failures        []FailureDTO `json:"failures,omitempty"`
}

// CreateLotRequest is the POST /lots body. Validated against a JSON schema
// before decoding.
type CreateLotRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Quantity    uint64 `json:"quantity"`
	Unit        string `json:"unit"`
	Origin      string `json:"origin"`
	Price       string `json:"price"`
	Steps       []struct {
		Description string   `json:"description"`
		Validators  []string `json:"validators"`
	} `json:"steps"`
}

// CreateLotResponse reports the id the registry assigned.
type CreateLotResponse struct {
	LotID uint64 `json:"lotId"`
}

// DepositRequest is the POST /lots/:id/deposit body.
type DepositRequest struct {
	Amount string `json:"amount"`
}

// Snapshot returns the last aggregated view without touching the ledger.
func (s *Service) Snapshot() SnapshotDTO {
	return toSnapshotDTO(s.coordinator.Snapshot())
}

// Refresh rebuilds the snapshot from the ledger and returns it.
func (s *Service) Refresh(ctx context.Context) SnapshotDTO {
	return toSnapshotDTO(s.coordinator.RefreshAll(ctx))
}

// CreateLot validates the raw body against the create-lot schema, decodes
// it and registers the lot.
func (s *Service) CreateLot(ctx context.Context, body []byte) (CreateLotResponse, error) {
	if err := validateCreateLot(body); err != nil {
		return CreateLotResponse{}, err
	}
	var req CreateLotRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return CreateLotResponse{}, tracelot.Errorf(tracelot.ErrCodeValidation, "malformed request body: %v", err)
	}
	price, err := parseAmount(req.Price)
	if err != nil {
		return CreateLotResponse{}, err
	}
	spec := tracelot.LotSpec{
		Title:       req.Title,
		Description: req.Description,
		Quantity:    req.Quantity,
		Unit:        req.Unit,
		Origin:      req.Origin,
		Price:       price,
	}
	for _, st := range req.Steps {
		spec.Steps = append(spec.Steps, tracelot.StepSpec{Description: st.Description, Validators: st.Validators})
	}
	id, err := s.coordinator.CreateLot(ctx, spec)
	if err != nil {
		return CreateLotResponse{}, err
	}
	return CreateLotResponse{LotID: id}, nil
}

// ValidateStep validates one workflow step on behalf of the signing account.
func (s *Service) ValidateStep(ctx context.Context, lotID uint64, stepIndex int) error {
	return s.coordinator.ValidateStep(ctx, lotID, stepIndex)
}

// Deposit escrows the decoded amount for the lot.
func (s *Service) Deposit(ctx context.Context, lotID uint64, body []byte) error {
	var req DepositRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return tracelot.Errorf(tracelot.ErrCodeValidation, "malformed request body: %v", err)
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		return err
	}
	return s.coordinator.Deposit(ctx, lotID, amount)
}

// Release pays the escrowed amount out to the seller.
func (s *Service) Release(ctx context.Context, lotID uint64) error {
	return s.coordinator.Release(ctx, lotID)
}

// Refund returns the escrowed amount to the buyer.
func (s *Service) Refund(ctx context.Context, lotID uint64) error {
	return s.coordinator.Refund(ctx, lotID)
}

// StatusOf maps a coordinator error to an HTTP status. A confirmation
// timeout is reported as 202: the write was submitted and may still land.
func StatusOf(err error) int {
	var e *tracelot.Error
	if !errors.As(err, &e) {
		return http.StatusInternalServerError
	}
	switch e.Code {
	case tracelot.ErrCodeValidation:
		return http.StatusBadRequest
	case tracelot.ErrCodeInvalidTransition:
		return http.StatusConflict
	case tracelot.ErrCodeNotFound:
		return http.StatusNotFound
	case tracelot.ErrCodeConfigMismatch:
		return http.StatusServiceUnavailable
	case tracelot.ErrCodeSubmission:
		return http.StatusBadGateway
	case tracelot.ErrCodeConfirmationTimeout:
		return http.StatusAccepted
	default:
		return http.StatusInternalServerError
	}
}

// ErrorBody is the JSON error envelope written alongside StatusOf.
func ErrorBody(err error) map[string]interface{} {
	var e *tracelot.Error
	if !errors.As(err, &e) {
		e = tracelot.NewError("internal_error", err.Error(), nil)
	}
	return map[string]interface{}{"error": e}
}

func parseAmount(raw string) (*big.Int, error) {
	amount, ok := new(big.Int).SetString(raw, 10)
	if !ok || amount.Sign() < 0 {
		return nil, tracelot.Errorf(tracelot.ErrCodeValidation, "amount must be a non-negative decimal string, got %q", raw)
	}
	return amount, nil
}

func parseID(raw string) (uint64, error) {
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, tracelot.Errorf(tracelot.ErrCodeValidation, "invalid lot id %q", raw)
	}
	return id, nil
}

func parseIndex(raw string) (int, error) {
	i, err := strconv.Atoi(raw)
	if err != nil || i < 0 {
		return 0, tracelot.Errorf(tracelot.ErrCodeValidation, "invalid step index %q", raw)
	}
	return i, nil
}

func toSnapshotDTO(snap *tracelot.Snapshot) SnapshotDTO {
	dto := SnapshotDTO{
		Lots:            make([]LotDTO, 0, len(snap.Lots)),
		Payments:        make([]PaymentDTO, 0, len(snap.Payments)),
		Totals:          TotalsDTO{Received: bigString(snap.Totals.Received), Spent: bigString(snap.Totals.Spent)},
		ContractBalance: bigString(snap.ContractBalance),
		RefreshedAt:     snap.RefreshedAt,
	}
	for _, l := range snap.Lots {
		dto.Lots = append(dto.Lots, toLotDTO(l))
	}
	for _, p := range snap.Payments {
		dto.Payments = append(dto.Payments, toPaymentDTO(p))
	}
	for _, f := range snap.Failures {
		dto.Failures = append(dto.Failures, FailureDTO{Kind: f.Kind, ID: f.ID, Error: f.Err})
	}
	return dto
}

func toLotDTO(l *tracelot.Lot) LotDTO {
	dto := LotDTO{
		ID:          l.ID,
		Title:       l.Title,
		Description: l.Description,
		Quantity:    l.Quantity,
		Unit:        l.Unit,
		Origin:      l.Origin,
		Price:       bigString(l.Price),
		Creator:     l.Creator,
		CreatedAt:   l.CreatedAt,
		Complete:    tracelot.IsComplete(l),
		Steps:       make([]StepDTO, 0, len(l.Steps)),
	}
	for _, s := range l.Steps {
		dto.Steps = append(dto.Steps, StepDTO{
			Description: s.Description,
			Validators:  s.Validators,
			Status:      s.Status.String(),
			ValidatedBy: s.ValidatedBy,
			ValidatedAt: s.ValidatedAt,
		})
	}
	return dto
}

func toPaymentDTO(p *tracelot.Payment) PaymentDTO {
	return PaymentDTO{
		LotID:      p.LotID,
		Buyer:      p.Buyer,
		Seller:     p.Seller,
		Amount:     bigString(p.Amount),
		CreatedAt:  p.CreatedAt,
		ReleasedAt: p.ReleasedAt,
		State:      tracelot.StateOf(p).String(),
	}
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
