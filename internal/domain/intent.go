package domain

import (
	"strings"
	"time"
)

// IntentKind is the closed set of things a customer can ask for.
type IntentKind int

const (
	IntentUnknown        IntentKind = 0
	IntentCheckInventory IntentKind = 10
	IntentRequestQuote   IntentKind = 20
	IntentPlaceOrder     IntentKind = 30
)

func (k IntentKind) String() string {
	switch k {
	case IntentCheckInventory:
		return "CHECK_INVENTORY"
	case IntentRequestQuote:
		return "REQUEST_QUOTE"
	case IntentPlaceOrder:
		return "PLACE_ORDER"
	default:
		return "UNKNOWN"
	}
}

// ParseIntentKind maps a classifier label onto an IntentKind. Labels outside
// the fixed set map to IntentUnknown.
func ParseIntentKind(s string) IntentKind {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "check_inventory", "inventory":
		return IntentCheckInventory
	case "request_quote", "quote":
		return IntentRequestQuote
	case "place_order", "order":
		return IntentPlaceOrder
	default:
		return IntentUnknown
	}
}

// LineItem is one requested item and quantity.
type LineItem struct {
	ItemID   string `json:"item_id"`
	Quantity int64  `json:"quantity"`
}

// Intent is the classified meaning of a request.
type Intent struct {
	Kind       IntentKind `json:"kind"`
	Items      []LineItem `json:"items,omitempty"`
	CustomerID string     `json:"customer_id,omitempty"`
	Confidence float64    `json:"confidence"`
	Reason     string     `json:"reason,omitempty"` // set for Unknown
}

// NewIntent builds an intent that does not share its item slice with the caller.
func NewIntent(kind IntentKind, customerID string, confidence float64, items ...LineItem) Intent {
	return Intent{
		Kind:       kind,
		Items:      append([]LineItem(nil), items...),
		CustomerID: customerID,
		Confidence: confidence,
	}
}

// UnknownIntent builds the clarification intent.
func UnknownIntent(reason string) Intent {
	return Intent{Kind: IntentUnknown, Reason: reason}
}

// Request is a single inbound customer message.
type Request struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"session_id"`
	Text       string    `json:"text"`
	ReceivedAt time.Time `json:"received_at"`
}
