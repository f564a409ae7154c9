// Package handler implements the capability handlers a workflow step can be
// bound to. Handlers read committed state and propose ledger changes; they
// never commit.
package handler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/example/o2c-lite/internal/domain"
	"github.com/example/o2c-lite/internal/storage"
)

// Proposer validates ledger changes without applying them.
type Proposer interface {
	ProposeAll(ctx context.Context, correlationID string, entries []domain.LedgerEntry) (*domain.Proposal, error)
}

// Options holds the business parameters handlers work with.
type Options struct {
	QuoteValidity time.Duration // how long an issued quote stands
	QuoteLeadTime time.Duration // quoted delivery after the quote date
	Now           func() time.Time
}

// DefaultOptions returns the standard business parameters.
func DefaultOptions() Options {
	return Options{
		QuoteValidity: 30 * 24 * time.Hour,
		QuoteLeadTime: 5 * 24 * time.Hour,
		Now:           func() time.Time { return time.Now().UTC() },
	}
}

// Registry maps step kinds to handler operations.
type Registry struct {
	Inventory *InventoryHandler
	Quote     *QuoteHandler
	Order     *OrderHandler
	Payment   *PaymentHandler
}

// NewRegistry wires every handler.
func NewRegistry(store storage.Storage, proposer Proposer, gateway PaymentGateway, opts Options) *Registry {
	if opts.Now == nil {
		opts.Now = DefaultOptions().Now
	}
	if gateway == nil {
		gateway = NewApprovingGateway()
	}
	return &Registry{
		Inventory: &InventoryHandler{storage: store, now: opts.Now},
		Quote:     &QuoteHandler{storage: store, opts: opts},
		Order:     &OrderHandler{proposer: proposer, now: opts.Now},
		Payment:   &PaymentHandler{proposer: proposer, gateway: gateway, now: opts.Now},
	}
}

// Invoke runs the operation bound to the step's kind.
func (r *Registry) Invoke(ctx context.Context, sc domain.StepContext) domain.StepResult {
	switch sc.Step.Kind {
	case domain.StepCheckStock:
		return result(r.Inventory.CheckStock(ctx, sc))
	case domain.StepComputeQuote:
		return result(r.Quote.Compute(ctx, sc))
	case domain.StepReserveStock:
		return result(r.Order.ReserveStock(ctx, sc))
	case domain.StepCapturePayment:
		return result(r.Payment.Capture(ctx, sc))
	case domain.StepFulfillOrder:
		return result(r.Order.Fulfill(ctx, sc))
	default:
		return domain.Fatal(fmt.Sprintf("no handler for step %q", sc.Step.Kind))
	}
}

// Revert undoes what a recorded step did outside the ledger. Only payment
// capture reaches an outside system; every other step returns nil.
func (r *Registry) Revert(ctx context.Context, sc domain.StepContext, res domain.StepResult) (*domain.Reversal, error) {
	switch sc.Step.Kind {
	case domain.StepCapturePayment:
		return r.Payment.Refund(ctx, sc, res)
	default:
		return nil, nil
	}
}

// result classifies a handler outcome. Business rule violations and broken
// preconditions are permanent; anything else may succeed on retry.
func result(payload *domain.Payload, err error) domain.StepResult {
	if err == nil {
		return domain.Success(payload)
	}

	var shortage *domain.ShortageError
	if errors.As(err, &shortage) {
		r := domain.Fatal(err.Error())
		r.Code = domain.ErrorCode(err)
		r.Shortages = shortage.Shortages
		return r
	}
	if domain.IsBusinessRule(err) || errors.Is(err, domain.ErrInvalidState) {
		r := domain.Fatal(err.Error())
		r.Code = domain.ErrorCode(err)
		return r
	}
	return domain.Retryable(err.Error())
}

// priorQuote returns the quote computed earlier in the same execution.
func priorQuote(sc domain.StepContext) (*domain.Quote, error) {
	p := sc.PriorPayload(domain.StepComputeQuote)
	if p == nil || p.Quote == nil {
		return nil, fmt.Errorf("%w: %s needs a computed quote", domain.ErrInvalidState, sc.Step.Kind)
	}
	return p.Quote, nil
}

// loadItems reads the requested items, failing on the first unknown id.
func loadItems(ctx context.Context, store storage.Storage, lines []domain.LineItem) (map[string]*domain.Item, error) {
	if len(lines) == 0 {
		return nil, fmt.Errorf("%w: no items requested", domain.ErrInvalidArgument)
	}
	ids := make([]string, len(lines))
	for i, l := range lines {
		ids[i] = l.ItemID
	}

	uow, err := store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer uow.Rollback()

	items, err := uow.Items().List(ctx, storage.ListOptions{IDs: ids})
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*domain.Item, len(items))
	for _, item := range items {
		byID[item.ID] = item
	}
	for _, l := range lines {
		if _, ok := byID[l.ItemID]; !ok {
			return nil, fmt.Errorf("%w: %s", domain.ErrUnknownItem, l.ItemID)
		}
	}
	return byID, nil
}
