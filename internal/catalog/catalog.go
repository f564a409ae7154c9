// Package catalog loads the seed catalog from YAML and writes it to storage.
package catalog

import (
	"context"
	"fmt"
	"log"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/example/o2c-lite/internal/domain"
	"github.com/example/o2c-lite/internal/storage"
)

// Catalog is the parsed seed file. Prices and cash are written in dollars.
type Catalog struct {
	OpeningCash float64 `yaml:"opening_cash"`
	Items       []Entry `yaml:"items"`
}

// Entry is one item in the seed file.
type Entry struct {
	ID            string  `yaml:"id"`
	Name          string  `yaml:"name"`
	Category      string  `yaml:"category"`
	UnitPrice     float64 `yaml:"unit_price"`
	Stock         int64   `yaml:"stock"`
	MinStockLevel int64   `yaml:"min_stock_level"`
}

// Load reads and validates a catalog file.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading catalog: %w", err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// Parse decodes and validates catalog YAML.
func Parse(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("%w: parsing catalog: %v", domain.ErrInvalidArgument, err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks every entry and rejects duplicate IDs.
func (c *Catalog) Validate() error {
	if c.OpeningCash < 0 {
		return fmt.Errorf("%w: opening_cash must not be negative", domain.ErrInvalidArgument)
	}
	seen := make(map[string]bool, len(c.Items))
	for i, e := range c.Items {
		switch {
		case e.ID == "":
			return fmt.Errorf("%w: item %d has no id", domain.ErrInvalidArgument, i)
		case seen[e.ID]:
			return fmt.Errorf("%w: duplicate item id %q", domain.ErrInvalidArgument, e.ID)
		case e.Name == "":
			return fmt.Errorf("%w: item %q has no name", domain.ErrInvalidArgument, e.ID)
		case !domain.ValidCategory(domain.Category(e.Category)):
			return fmt.Errorf("%w: item %q has unknown category %q", domain.ErrInvalidArgument, e.ID, e.Category)
		case domain.Dollars(e.UnitPrice) <= 0:
			return fmt.Errorf("%w: item %q must have a positive unit_price", domain.ErrInvalidArgument, e.ID)
		case e.Stock < 0 || e.MinStockLevel < 0:
			return fmt.Errorf("%w: item %q has negative stock levels", domain.ErrInvalidArgument, e.ID)
		}
		seen[e.ID] = true
	}
	return nil
}

// DomainItems converts the entries to catalog items.
func (c *Catalog) DomainItems() []domain.Item {
	items := make([]domain.Item, len(c.Items))
	for i, e := range c.Items {
		items[i] = domain.Item{
			ID:            e.ID,
			Name:          e.Name,
			Category:      domain.Category(e.Category),
			UnitPrice:     domain.Dollars(e.UnitPrice),
			Stock:         e.Stock,
			MinStockLevel: e.MinStockLevel,
		}
	}
	return items
}

// SeedResult reports what Seed changed.
type SeedResult struct {
	Items       int
	CashApplied bool
}

// Seed upserts every item and sets the opening cash balance. Existing stock
// is left alone, and the cash balance is only set while the account is
// empty, so seeding a live database twice does not rewrite history.
func Seed(ctx context.Context, store storage.Storage, c *Catalog) (SeedResult, error) {
	var res SeedResult

	uow, err := store.BeginImmediate(ctx)
	if err != nil {
		return res, err
	}
	defer uow.Rollback()

	for _, item := range c.DomainItems() {
		item := item
		if err := uow.Items().Upsert(ctx, &item); err != nil {
			return res, fmt.Errorf("seeding %s: %w", item.ID, err)
		}
		res.Items++
	}

	balances, err := uow.Ledger().Balances(ctx)
	if err != nil {
		return res, err
	}
	if balances.Cash == 0 && c.OpeningCash > 0 {
		if err := uow.Ledger().SetOpeningCash(ctx, domain.Dollars(c.OpeningCash)); err != nil {
			return res, err
		}
		res.CashApplied = true
	}

	if err := uow.Commit(); err != nil {
		return res, err
	}
	log.Printf("catalog: seeded %d items (opening cash applied: %v)", res.Items, res.CashApplied)
	return res, nil
}
