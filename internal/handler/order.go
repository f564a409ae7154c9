package handler

import (
	"context"
	"time"

	"github.com/example/o2c-lite/internal/domain"
	"github.com/example/o2c-lite/pkg/id"
)

// OrderHandler reserves stock and turns a paid quote into an order.
type OrderHandler struct {
	proposer Proposer
	now      func() time.Time
}

// ReserveStock proposes a hold on every ordered item. The hold is applied
// when the orchestrator commits the proposal.
func (h *OrderHandler) ReserveStock(ctx context.Context, sc domain.StepContext) (*domain.Payload, error) {
	entries := make([]domain.LedgerEntry, 0, len(sc.Step.Input.Items))
	for _, line := range sc.Step.Input.Items {
		entries = append(entries, domain.LedgerEntry{
			ItemID:        line.ItemID,
			DeltaQuantity: -line.Quantity,
			Kind:          domain.EntryStockHold,
			Reason:        "reserve for order",
		})
	}
	proposal, err := h.proposer.ProposeAll(ctx, sc.CorrelationID, entries)
	if err != nil {
		return nil, err
	}
	return &domain.Payload{Proposal: proposal}, nil
}

// Fulfill builds the shipped order from the quote and the captured payment.
func (h *OrderHandler) Fulfill(ctx context.Context, sc domain.StepContext) (*domain.Payload, error) {
	quote, err := priorQuote(sc)
	if err != nil {
		return nil, err
	}

	now := h.now()
	order := &domain.Order{
		ID:             id.Order(),
		CorrelationID:  sc.CorrelationID,
		QuoteID:        quote.ID,
		CustomerID:     quote.CustomerID,
		Lines:          quote.Lines,
		Total:          quote.Total,
		Status:         domain.OrderStatusFulfilled,
		TrackingNumber: id.Tracking(),
		DeliveryDate:   now.Add(domain.DeliveryLeadTime(domain.OrderStatusFulfilled)),
		CreatedAt:      now,
	}
	if p := sc.PriorPayload(domain.StepCapturePayment); p != nil && p.Payment != nil {
		order.PaymentID = p.Payment.ID
	}
	return &domain.Payload{Order: order}, nil
}
