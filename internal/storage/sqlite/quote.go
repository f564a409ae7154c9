package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/example/o2c-lite/internal/domain"
	"github.com/example/o2c-lite/internal/storage"
)

type quoteRepo struct {
	tx *sql.Tx
}

const quoteColumns = `id, idempotency_key, customer_id, lines_json, total, total_savings, status, delivery_date, valid_until, created_at`

func (r *quoteRepo) Create(ctx context.Context, quote *domain.Quote) (*domain.Quote, error) {
	linesJSON, err := json.Marshal(quote.Lines)
	if err != nil {
		return nil, err
	}

	res, err := r.tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO quotes (`+quoteColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, quote.ID, quote.IdempotencyKey, nullString(quote.CustomerID), string(linesJSON), quote.Total, quote.TotalSavings,
		string(quote.Status), quote.DeliveryDate, quote.ValidUntil, quote.CreatedAt)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return quote, nil
	}

	row := r.tx.QueryRowContext(ctx, `SELECT `+quoteColumns+` FROM quotes WHERE idempotency_key = ?`, quote.IdempotencyKey)
	stored, err := scanQuote(row)
	if err == sql.ErrNoRows {
		return nil, domain.ErrAlreadyExists
	}
	return stored, err
}

func (r *quoteRepo) Get(ctx context.Context, id string) (*domain.Quote, error) {
	row := r.tx.QueryRowContext(ctx, `SELECT `+quoteColumns+` FROM quotes WHERE id = ?`, id)
	q, err := scanQuote(row)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	return q, err
}

func (r *quoteRepo) ExpireBefore(ctx context.Context, t time.Time) (int, error) {
	res, err := r.tx.ExecContext(ctx, `
		UPDATE quotes SET status = ? WHERE status = ? AND valid_until < ?
	`, string(domain.QuoteStatusExpired), string(domain.QuoteStatusPending), t)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (r *quoteRepo) Search(ctx context.Context, q storage.QuoteSearch) ([]*domain.Quote, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 50
	}

	var where []string
	var args []any
	var terms []string
	for _, t := range q.Terms {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		pattern := "%" + escapeLike(strings.ToLower(t)) + "%"
		terms = append(terms, `(LOWER(id) LIKE ? ESCAPE '\' OR LOWER(COALESCE(customer_id, '')) LIKE ? ESCAPE '\' OR LOWER(lines_json) LIKE ? ESCAPE '\')`)
		args = append(args, pattern, pattern, pattern)
	}
	if len(terms) > 0 {
		where = append(where, "("+strings.Join(terms, " OR ")+")")
	}
	if q.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(q.Status))
	}

	query := `SELECT ` + quoteColumns + ` FROM quotes`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC, id LIMIT ?`
	args = append(args, limit)

	rows, err := r.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var quotes []*domain.Quote
	for rows.Next() {
		quote, err := scanQuote(rows)
		if err != nil {
			return nil, err
		}
		quotes = append(quotes, quote)
	}
	return quotes, rows.Err()
}

// escapeLike escapes the LIKE wildcards in s.
func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`).Replace(s)
}

func scanQuote(row rowScanner) (*domain.Quote, error) {
	q := &domain.Quote{}
	var customerID sql.NullString
	var linesJSON, status string
	err := row.Scan(&q.ID, &q.IdempotencyKey, &customerID, &linesJSON, &q.Total, &q.TotalSavings,
		&status, &q.DeliveryDate, &q.ValidUntil, &q.CreatedAt)
	if err != nil {
		return nil, err
	}
	q.CustomerID = customerID.String
	q.Status = domain.QuoteStatus(status)
	if err := json.Unmarshal([]byte(linesJSON), &q.Lines); err != nil {
		return nil, err
	}
	return q, nil
}
