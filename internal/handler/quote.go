package handler

import (
	"context"
	"fmt"

	"github.com/example/o2c-lite/internal/domain"
	"github.com/example/o2c-lite/internal/storage"
	"github.com/example/o2c-lite/pkg/id"
)

// QuoteHandler prices requests and records the issued quotes.
type QuoteHandler struct {
	storage storage.Storage
	opts    Options
}

// Compute prices every line with bulk discounts and stores the quote. A
// retried step gets back the quote stored by the first attempt.
func (h *QuoteHandler) Compute(ctx context.Context, sc domain.StepContext) (*domain.Payload, error) {
	for _, line := range sc.Step.Input.Items {
		if line.Quantity <= 0 || line.Quantity > domain.MaxLineQuantity {
			return nil, fmt.Errorf("%w: quantity for %s must be between 1 and %d",
				domain.ErrInvalidArgument, line.ItemID, domain.MaxLineQuantity)
		}
	}
	items, err := loadItems(ctx, h.storage, sc.Step.Input.Items)
	if err != nil {
		return nil, err
	}

	now := h.opts.Now()
	quote := &domain.Quote{
		ID:             id.Quote(now),
		IdempotencyKey: sc.IdempotencyKey(),
		CustomerID:     sc.Step.Input.CustomerID,
		Status:         domain.QuoteStatusPending,
		DeliveryDate:   now.Add(h.opts.QuoteLeadTime),
		ValidUntil:     now.Add(h.opts.QuoteValidity),
		CreatedAt:      now,
	}
	for _, line := range sc.Step.Input.Items {
		item := items[line.ItemID]
		priced, err := domain.PriceLine(item.ID, item.Name, line.Quantity, item.UnitPrice)
		if err != nil {
			return nil, err
		}
		quote.Lines = append(quote.Lines, priced)
		if quote.Total, err = domain.AddMoney(quote.Total, priced.Subtotal); err != nil {
			return nil, err
		}
		if quote.TotalSavings, err = domain.AddMoney(quote.TotalSavings, priced.Savings); err != nil {
			return nil, err
		}
	}

	uow, err := h.storage.BeginImmediate(ctx)
	if err != nil {
		return nil, err
	}
	defer uow.Rollback()

	stored, err := uow.Quotes().Create(ctx, quote)
	if err != nil {
		return nil, fmt.Errorf("store quote: %w", err)
	}
	if err := uow.Commit(); err != nil {
		return nil, err
	}
	return &domain.Payload{Quote: stored}, nil
}
