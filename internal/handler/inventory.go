package handler

import (
	"context"
	"time"

	"github.com/example/o2c-lite/internal/domain"
	"github.com/example/o2c-lite/internal/storage"
)

// InventoryHandler answers stock questions from committed state.
type InventoryHandler struct {
	storage storage.Storage
	now     func() time.Time
}

// CheckStock reports availability of every requested item. A shortfall is
// an answer, not a failure; reservation decides whether it blocks an order.
func (h *InventoryHandler) CheckStock(ctx context.Context, sc domain.StepContext) (*domain.Payload, error) {
	items, err := loadItems(ctx, h.storage, sc.Step.Input.Items)
	if err != nil {
		return nil, err
	}

	now := h.now()
	checks := make([]domain.StockCheck, 0, len(sc.Step.Input.Items))
	for _, line := range sc.Step.Input.Items {
		checks = append(checks, checkItem(*items[line.ItemID], line.Quantity, now))
	}
	return &domain.Payload{Stock: checks}, nil
}

func checkItem(item domain.Item, requested int64, now time.Time) domain.StockCheck {
	c := domain.StockCheck{
		ItemID:       item.ID,
		Name:         item.Name,
		Requested:    requested,
		Available:    item.Stock,
		Sufficient:   item.Stock >= requested,
		NeedsReorder: item.NeedsReorder(),
	}
	if !c.Sufficient {
		c.NeedsReorder = true
	}
	if c.NeedsReorder {
		qty := item.ReorderQuantity()
		if short := requested - item.Stock; short > qty {
			qty = short
		}
		c.ReorderQuantity = qty
		c.RestockBy = now.Add(domain.SupplierLeadTime(qty))
	}
	return c
}
