package domain

import "time"

// OrderStatus describes the fulfillment state of an order.
type OrderStatus string

const (
	OrderStatusPending     OrderStatus = "pending"
	OrderStatusFulfilled   OrderStatus = "fulfilled"
	OrderStatusPartial     OrderStatus = "partial"
	OrderStatusBackordered OrderStatus = "backordered"
	OrderStatusCancelled   OrderStatus = "cancelled"
	OrderStatusCompleted   OrderStatus = "completed"
)

// DeliveryLeadTime returns how long after the order date delivery is expected.
func DeliveryLeadTime(status OrderStatus) time.Duration {
	const day = 24 * time.Hour
	switch status {
	case OrderStatusCompleted, OrderStatusFulfilled:
		return 2 * day
	case OrderStatusPartial:
		return 5 * day
	default:
		return 7 * day
	}
}

// Payment is a captured customer payment.
type Payment struct {
	ID         string    `json:"id"`
	CustomerID string    `json:"customer_id,omitempty"`
	Amount     Money     `json:"amount"`
	Reference  string    `json:"reference"`
	CapturedAt time.Time `json:"captured_at"`
}

// Refund returns a captured payment to the customer.
type Refund struct {
	ID         string    `json:"id"`
	PaymentID  string    `json:"payment_id"`
	Amount     Money     `json:"amount"`
	Reference  string    `json:"reference"`
	RefundedAt time.Time `json:"refunded_at"`
}

// Order is a fulfilled customer order.
type Order struct {
	ID             string      `json:"id"`
	CorrelationID  string      `json:"correlation_id"`
	QuoteID        string      `json:"quote_id,omitempty"`
	CustomerID     string      `json:"customer_id,omitempty"`
	Lines          []QuoteLine `json:"lines"`
	Total          Money       `json:"total"`
	PaymentID      string      `json:"payment_id,omitempty"`
	Status         OrderStatus `json:"status"`
	TrackingNumber string      `json:"tracking_number"`
	DeliveryDate   time.Time   `json:"delivery_date"`
	CreatedAt      time.Time   `json:"created_at"`
}
