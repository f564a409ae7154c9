package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/example/o2c-lite/internal/domain"
	"github.com/example/o2c-lite/internal/ledger"
	"github.com/example/o2c-lite/internal/storage"
)

// SupplierReorder returns the handler for supplier.reorder jobs. It books
// the delivered stock and the supplier payment, priced at costRatio of the
// unit price, as one ledger batch under the job's own correlation ID.
func SupplierReorder(store storage.Storage, l *ledger.Ledger, costRatio float64) JobHandler {
	return func(ctx context.Context, job *domain.Job) (map[string]any, error) {
		itemID, _ := job.Payload["item_id"].(string)
		qty, ok := asInt64(job.Payload["quantity"])
		if itemID == "" || !ok || qty <= 0 {
			return nil, fmt.Errorf("%w: reorder job %s needs item_id and a positive quantity", domain.ErrInvalidArgument, job.ID)
		}
		correlationID := "job:" + job.ID

		// a retry after a lost status update must not restock twice
		batches, err := l.Batches(ctx, correlationID)
		if err != nil {
			return nil, err
		}
		if len(batches) > 0 {
			return map[string]any{"batch_id": batches[0].ID, "quantity": qty}, nil
		}

		item, err := getItem(ctx, store, itemID)
		if err != nil {
			return nil, err
		}
		cost := domain.Money(math.Round(float64(item.UnitPrice) * float64(qty) * costRatio))

		entries := []domain.LedgerEntry{{
			ItemID:        itemID,
			DeltaQuantity: qty,
			Kind:          domain.EntryRestock,
			Reason:        fmt.Sprintf("supplier delivery of %d", qty),
		}}
		if cost > 0 {
			entries = append(entries, domain.LedgerEntry{
				DeltaCash: -cost,
				Kind:      domain.EntryRestock,
				Reason:    fmt.Sprintf("supplier payment for %d %s", qty, itemID),
			})
		}
		proposal, err := l.ProposeAll(ctx, correlationID, entries)
		if err != nil {
			return nil, err
		}
		batch, err := l.Commit(ctx, proposal)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"batch_id": batch.ID,
			"quantity": qty,
			"cost":     int64(cost),
			"eta_days": int64(domain.SupplierLeadTime(qty).Hours() / 24),
		}, nil
	}
}

func getItem(ctx context.Context, store storage.Storage, itemID string) (*domain.Item, error) {
	uow, err := store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer uow.Rollback()

	item, err := uow.Items().Get(ctx, itemID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownItem, itemID)
	}
	return item, err
}

// asInt64 reads a number from a decoded JSON payload.
func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		if n != math.Trunc(n) {
			return 0, false
		}
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	default:
		return 0, false
	}
}
