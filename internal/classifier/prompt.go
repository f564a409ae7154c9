package classifier

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/example/o2c-lite/internal/domain"
)

const systemPromptHeader = `You classify messages sent to the order desk of a paper company.

Answer with a single JSON object and nothing else:
{"intent": "...", "customer_id": "...", "items": [{"item_id": "...", "quantity": 0}], "confidence": 0.0, "reason": "..."}

intent is one of:
  check_inventory  the customer asks whether or how much of something is in stock
  request_quote    the customer wants a price for a quantity
  place_order      the customer wants to buy a quantity
  unknown          anything else

item_id must be an id from the catalog below. quantity is the number of units
the customer mentioned, 0 if none. confidence is between 0 and 1. Use earlier
turns of the conversation to resolve references like "that paper".

Catalog:
`

// SystemPrompt builds the instruction shared by the model-backed capabilities.
func SystemPrompt(catalog []domain.Item) string {
	var b strings.Builder
	b.WriteString(systemPromptHeader)
	for _, item := range catalog {
		fmt.Fprintf(&b, "  %s  %s (%s, %s per unit)\n", item.ID, item.Name, item.Category, item.UnitPrice)
	}
	return b.String()
}

// ParseExtraction decodes a model reply. Models sometimes wrap the object in
// a markdown fence or surround it with prose, so only the outermost braces
// are decoded.
func ParseExtraction(reply string) (*Extraction, error) {
	start := strings.Index(reply, "{")
	end := strings.LastIndex(reply, "}")
	if start < 0 || end < start {
		return nil, fmt.Errorf("no JSON object in reply %q", truncate(reply, 80))
	}
	ext := &Extraction{}
	if err := json.Unmarshal([]byte(reply[start:end+1]), ext); err != nil {
		return nil, fmt.Errorf("decode extraction: %w", err)
	}
	return ext, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
