// Package sqlitetest builds throwaway SQLite stores for tests.
package sqlitetest

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/example/o2c-lite/internal/domain"
	"github.com/example/o2c-lite/internal/observability"
	"github.com/example/o2c-lite/internal/storage/sqlite"
)

// Paper is a small catalog most tests start from.
func Paper() []domain.Item {
	return []domain.Item{
		{ID: "A4-GLOSSY", Name: "A4 glossy paper", Category: domain.CategoryPaper, UnitPrice: 5, Stock: 10000, MinStockLevel: 500},
		{ID: "A4-MATTE", Name: "A4 matte paper", Category: domain.CategoryPaper, UnitPrice: 4, Stock: 300, MinStockLevel: 200},
		{ID: "CARDSTOCK", Name: "Cardstock", Category: domain.CategoryPaper, UnitPrice: 15, Stock: 2000, MinStockLevel: 100},
	}
}

// New creates a migrated file-backed store in a per-test temp file, seeds
// items and opening cash, and registers cleanup.
func New(t testing.TB, cash domain.Money, items ...domain.Item) *sqlite.SQLiteStorage {
	t.Helper()
	return NewWithMetrics(t, observability.NewMetrics(), cash, items...)
}

// NewWithMetrics is New with caller-supplied metrics.
func NewWithMetrics(t testing.TB, metrics *observability.Metrics, cash domain.Money, items ...domain.Item) *sqlite.SQLiteStorage {
	t.Helper()
	ctx := context.Background()

	// WAL needs a real file; shared memory databases don't survive the
	// single-connection pool being recycled.
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dbPath := filepath.Join(t.TempDir(), "o2c_"+name+".db")

	store, err := sqlite.NewWithMetrics(dbPath, metrics)
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
		os.Remove(dbPath)
	})

	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	uow, err := store.BeginImmediate(ctx)
	if err != nil {
		t.Fatalf("failed to begin: %v", err)
	}
	defer uow.Rollback()

	for i := range items {
		item := items[i]
		if err := uow.Items().Upsert(ctx, &item); err != nil {
			t.Fatalf("failed to seed %s: %v", item.ID, err)
		}
	}
	if err := uow.Ledger().SetOpeningCash(ctx, cash); err != nil {
		t.Fatalf("failed to set opening cash: %v", err)
	}
	if err := uow.Commit(); err != nil {
		t.Fatalf("failed to commit seed: %v", err)
	}
	return store
}
