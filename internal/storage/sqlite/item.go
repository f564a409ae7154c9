package sqlite

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/example/o2c-lite/internal/domain"
	"github.com/example/o2c-lite/internal/storage"
)

type itemRepo struct {
	tx *sql.Tx
}

const itemColumns = `id, name, category, unit_price, stock, min_stock_level, version, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (*domain.Item, error) {
	item := &domain.Item{}
	var category string
	err := row.Scan(&item.ID, &item.Name, &category, &item.UnitPrice, &item.Stock,
		&item.MinStockLevel, &item.Version, &item.UpdatedAt)
	if err != nil {
		return nil, err
	}
	item.Category = domain.Category(category)
	return item, nil
}

func (r *itemRepo) Get(ctx context.Context, id string) (*domain.Item, error) {
	row := r.tx.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM items WHERE id = ?`, id)
	item, err := scanItem(row)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	return item, err
}

func (r *itemRepo) List(ctx context.Context, opts storage.ListOptions) ([]*domain.Item, error) {
	query := `SELECT ` + itemColumns + ` FROM items`
	var args []any
	if len(opts.IDs) > 0 {
		query += ` WHERE id IN (` + placeholders(len(opts.IDs)) + `)`
		for _, id := range opts.IDs {
			args = append(args, id)
		}
	}
	query += ` ORDER BY id`
	if opts.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, opts.Limit, opts.Offset)
	}

	rows, err := r.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*domain.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (r *itemRepo) Upsert(ctx context.Context, item *domain.Item) error {
	_, err := r.tx.ExecContext(ctx, `
		INSERT INTO items (id, name, category, unit_price, stock, min_stock_level, version, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, 1, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			category = excluded.category,
			unit_price = excluded.unit_price,
			min_stock_level = excluded.min_stock_level,
			updated_at = excluded.updated_at
	`, item.ID, item.Name, string(item.Category), item.UnitPrice, item.Stock, item.MinStockLevel, time.Now().UTC())
	return err
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

// isUniqueViolation matches the constraint error text both drivers report.
func isUniqueViolation(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "PRIMARY KEY constraint failed")
}
