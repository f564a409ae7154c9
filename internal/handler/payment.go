package handler

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/example/o2c-lite/internal/domain"
	"github.com/example/o2c-lite/pkg/id"
)

// PaymentGateway captures and refunds customer payments. Implementations
// must treat a repeated idempotency key as the same capture. Refund returns
// nil and no error when nothing was captured under the key.
type PaymentGateway interface {
	Capture(ctx context.Context, customerID string, amount domain.Money, idempotencyKey string) (*domain.Payment, error)
	Refund(ctx context.Context, idempotencyKey string) (*domain.Refund, error)
}

// ApprovingGateway accepts every payment. It stands in for a real processor
// and remembers its captures so they can be refunded.
type ApprovingGateway struct {
	mu       sync.Mutex
	captures map[string]*domain.Payment
	refunds  map[string]*domain.Refund
}

// NewApprovingGateway creates an ApprovingGateway.
func NewApprovingGateway() *ApprovingGateway {
	return &ApprovingGateway{
		captures: make(map[string]*domain.Payment),
		refunds:  make(map[string]*domain.Refund),
	}
}

func (g *ApprovingGateway) Capture(ctx context.Context, customerID string, amount domain.Money, idempotencyKey string) (*domain.Payment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	if p, ok := g.captures[idempotencyKey]; ok {
		return p, nil
	}
	p := &domain.Payment{
		ID:         id.Payment(),
		CustomerID: customerID,
		Amount:     amount,
		Reference:  idempotencyKey,
		CapturedAt: time.Now().UTC(),
	}
	g.captures[idempotencyKey] = p
	return p, nil
}

func (g *ApprovingGateway) Refund(ctx context.Context, idempotencyKey string) (*domain.Refund, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	if r, ok := g.refunds[idempotencyKey]; ok {
		return r, nil
	}
	p, ok := g.captures[idempotencyKey]
	if !ok {
		return nil, nil
	}
	r := &domain.Refund{
		ID:         id.Refund(),
		PaymentID:  p.ID,
		Amount:     p.Amount,
		Reference:  idempotencyKey,
		RefundedAt: time.Now().UTC(),
	}
	g.refunds[idempotencyKey] = r
	return r, nil
}

// PaymentHandler charges the quoted total and proposes the matching cash entry.
type PaymentHandler struct {
	proposer Proposer
	gateway  PaymentGateway
	now      func() time.Time
}

// Capture charges the customer for the quote computed earlier in the execution.
func (h *PaymentHandler) Capture(ctx context.Context, sc domain.StepContext) (*domain.Payload, error) {
	quote, err := priorQuote(sc)
	if err != nil {
		return nil, err
	}

	payment, err := h.gateway.Capture(ctx, quote.CustomerID, quote.Total, sc.IdempotencyKey())
	if err != nil {
		return nil, err
	}
	if payment.CapturedAt.IsZero() {
		payment.CapturedAt = h.now()
	}

	proposal, err := h.proposer.ProposeAll(ctx, sc.CorrelationID, []domain.LedgerEntry{{
		DeltaCash: payment.Amount,
		Kind:      domain.EntrySale,
		Reason:    "payment " + payment.ID + " for quote " + quote.ID,
	}})
	if err != nil {
		return nil, err
	}
	return &domain.Payload{Payment: payment, Proposal: proposal}, nil
}

// Refund returns the payment a capture step may have taken. A capture that
// failed with a business rule never reached the processor; any other outcome
// is refunded by idempotency key, since the processor may have charged
// before the step gave up.
func (h *PaymentHandler) Refund(ctx context.Context, sc domain.StepContext, res domain.StepResult) (*domain.Reversal, error) {
	if res.Kind == domain.ResultFatal && res.Code != "" {
		return nil, nil
	}
	refund, err := h.gateway.Refund(ctx, sc.IdempotencyKey())
	if err != nil || refund == nil {
		return nil, err
	}
	log.Printf("payment: refunded %s of payment %s (%s)", refund.Amount, refund.PaymentID, refund.ID)
	return &domain.Reversal{StepKind: sc.Step.Kind, Reference: refund.ID, Amount: refund.Amount}, nil
}
