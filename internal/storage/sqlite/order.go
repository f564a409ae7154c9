package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/example/o2c-lite/internal/domain"
)

type orderRepo struct {
	tx *sql.Tx
}

func (r *orderRepo) Create(ctx context.Context, order *domain.Order) error {
	linesJSON, err := json.Marshal(order.Lines)
	if err != nil {
		return err
	}

	_, err = r.tx.ExecContext(ctx, `
		INSERT INTO orders (id, correlation_id, quote_id, customer_id, lines_json, total, payment_id, status, tracking_number, delivery_date, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, order.ID, order.CorrelationID, nullString(order.QuoteID), nullString(order.CustomerID), string(linesJSON),
		order.Total, nullString(order.PaymentID), string(order.Status), order.TrackingNumber, order.DeliveryDate, order.CreatedAt)
	return err
}

func (r *orderRepo) Get(ctx context.Context, id string) (*domain.Order, error) {
	o := &domain.Order{}
	var quoteID, customerID, paymentID sql.NullString
	var linesJSON, status string
	err := r.tx.QueryRowContext(ctx, `
		SELECT id, correlation_id, quote_id, customer_id, lines_json, total, payment_id, status, tracking_number, delivery_date, created_at
		FROM orders WHERE id = ?
	`, id).Scan(&o.ID, &o.CorrelationID, &quoteID, &customerID, &linesJSON, &o.Total, &paymentID,
		&status, &o.TrackingNumber, &o.DeliveryDate, &o.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	o.QuoteID = quoteID.String
	o.CustomerID = customerID.String
	o.PaymentID = paymentID.String
	o.Status = domain.OrderStatus(status)
	if err := json.Unmarshal([]byte(linesJSON), &o.Lines); err != nil {
		return nil, err
	}
	return o, nil
}
