package domain

import (
	"fmt"
	"math"
	"math/bits"
	"time"
)

// MaxLineQuantity is the most units a single quote or order line may ask for.
const MaxLineQuantity int64 = 10_000_000

// QuoteStatus describes the lifecycle of a quote.
type QuoteStatus string

const (
	QuoteStatusPending  QuoteStatus = "pending"
	QuoteStatusAccepted QuoteStatus = "accepted"
	QuoteStatusExpired  QuoteStatus = "expired"
)

// BulkDiscountPercent returns the discount applied to a line of quantity units.
func BulkDiscountPercent(quantity int64) int64 {
	switch {
	case quantity >= 10000:
		return 15
	case quantity >= 5000:
		return 10
	case quantity >= 1000:
		return 5
	default:
		return 0
	}
}

// QuoteLine is one priced item of a quote.
type QuoteLine struct {
	ItemID          string `json:"item_id"`
	Name            string `json:"name"`
	Quantity        int64  `json:"quantity"`
	UnitPrice       Money  `json:"unit_price"`
	DiscountPercent int64  `json:"discount_percent"`
	Subtotal        Money  `json:"subtotal"`
	Savings         Money  `json:"savings"`
}

// PriceLine prices quantity units at unitPrice with the bulk discount applied.
// It returns ErrInvalidArgument for a quantity outside 1..MaxLineQuantity, a
// negative price, or a line whose total does not fit in Money.
func PriceLine(itemID, name string, quantity int64, unitPrice Money) (QuoteLine, error) {
	if quantity <= 0 || quantity > MaxLineQuantity {
		return QuoteLine{}, fmt.Errorf("%w: quantity %d for %s must be between 1 and %d",
			ErrInvalidArgument, quantity, itemID, MaxLineQuantity)
	}
	if unitPrice < 0 {
		return QuoteLine{}, fmt.Errorf("%w: negative unit price for %s", ErrInvalidArgument, itemID)
	}
	hi, lo := bits.Mul64(uint64(unitPrice), uint64(quantity))
	// the discount below multiplies by up to 100 more
	if hi != 0 || lo > math.MaxInt64/100 {
		return QuoteLine{}, fmt.Errorf("%w: line total for %s is too large", ErrInvalidArgument, itemID)
	}

	pct := BulkDiscountPercent(quantity)
	gross := int64(lo)
	// round half up on the discounted total
	net := (gross*(100-pct) + 50) / 100
	return QuoteLine{
		ItemID:          itemID,
		Name:            name,
		Quantity:        quantity,
		UnitPrice:       unitPrice,
		DiscountPercent: pct,
		Subtotal:        Money(net),
		Savings:         Money(gross - net),
	}, nil
}

// AddMoney returns a+b, or ErrInvalidArgument if the sum overflows.
func AddMoney(a, b Money) (Money, error) {
	sum := a + b
	if (b > 0 && sum < a) || (b < 0 && sum > a) {
		return 0, fmt.Errorf("%w: amount overflows", ErrInvalidArgument)
	}
	return sum, nil
}

// Quote is a priced offer to a customer.
type Quote struct {
	ID             string      `json:"id"`
	IdempotencyKey string      `json:"-"`
	CustomerID     string      `json:"customer_id,omitempty"`
	Lines          []QuoteLine `json:"lines"`
	Total          Money       `json:"total"`
	TotalSavings   Money       `json:"total_savings"`
	Status         QuoteStatus `json:"status"`
	DeliveryDate   time.Time   `json:"delivery_date"`
	ValidUntil     time.Time   `json:"valid_until"`
	CreatedAt      time.Time   `json:"created_at"`
}

// QuoteValidation says whether a stored quote can still be honored.
type QuoteValidation struct {
	Quote  *Quote `json:"quote"`
	Valid  bool   `json:"valid"`
	Reason string `json:"reason,omitempty"`
}

// Validate checks q against now. Only a pending quote inside its validity
// window stands.
func (q *Quote) Validate(now time.Time) QuoteValidation {
	v := QuoteValidation{Quote: q}
	switch {
	case q.Status == QuoteStatusExpired:
		v.Reason = "quote has expired"
	case q.Status != QuoteStatusPending:
		v.Reason = fmt.Sprintf("quote is %s", q.Status)
	case now.After(q.ValidUntil):
		v.Reason = "quote was valid until " + q.ValidUntil.Format(time.RFC3339)
	default:
		v.Valid = true
	}
	return v
}
