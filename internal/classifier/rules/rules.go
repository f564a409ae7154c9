// Package rules is an offline classifier capability that matches keywords
// and catalog names. It is deterministic, which makes it the default for
// tests and for running without a language model.
package rules

import (
	"context"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/example/o2c-lite/internal/classifier"
	"github.com/example/o2c-lite/internal/domain"
)

var (
	orderWords = keywords("order", "buy", "purchase", "i'll take", "i will take", "ship me", "send me")
	quoteWords = keywords("quote", "price", "prices", "pricing", "cost", "how much would", "how much for", "estimate")
	stockWords = keywords("stock", "in stock", "available", "availability", "inventory", "do you have", "how many", "how much")

	numberRE   = regexp.MustCompile(`\b\d[\d,]*\b`)
	customerRE = regexp.MustCompile(`(?i)\bcustomer(?:\s+id)?[\s#:]*([a-z0-9][a-z0-9_-]*)`)
)

func keywords(words ...string) *regexp.Regexp {
	quoted := make([]string, len(words))
	for i, w := range words {
		quoted[i] = regexp.QuoteMeta(w)
	}
	return regexp.MustCompile(`\b(?:` + strings.Join(quoted, "|") + `)\b`)
}

// Capability classifies by keyword and catalog lookup.
type Capability struct{}

// New returns the rules capability.
func New() *Capability { return &Capability{} }

func (c *Capability) Name() string { return "rules" }

// Classify picks the strongest intent keyword (order over quote over stock)
// and the catalog items mentioned with their quantities. When the text names
// no item, the most recent customer turn that did is used instead.
func (c *Capability) Classify(ctx context.Context, text string, cc classifier.ClassifyContext) (*classifier.Extraction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	lower := strings.ToLower(text)

	ext := &classifier.Extraction{}
	if m := customerRE.FindStringSubmatch(text); m != nil {
		ext.CustomerID = m[1]
	}

	switch {
	case orderWords.MatchString(lower):
		ext.Intent = "place_order"
	case quoteWords.MatchString(lower):
		ext.Intent = "request_quote"
	case stockWords.MatchString(lower):
		ext.Intent = "check_inventory"
	}

	ext.Items = extractItems(lower, cc.Catalog)
	fromHistory := false
	if len(ext.Items) == 0 && ext.Intent != "" {
		ext.Items = fromTurns(lower, cc)
		fromHistory = len(ext.Items) > 0
	}

	switch {
	case ext.Intent == "" && len(ext.Items) == 0:
		ext.Intent = "unknown"
		ext.Reason = "no recognizable request"
	case ext.Intent == "":
		ext.Intent = "check_inventory"
		ext.Confidence = 0.5
		ext.Reason = "items named without saying what to do with them"
	case fromHistory:
		ext.Confidence = 0.75
	default:
		ext.Confidence = 0.9
	}
	return ext, nil
}

// fromTurns reuses the items of the latest customer turn that named any.
// A single number in the current text overrides the old quantity.
func fromTurns(lower string, cc classifier.ClassifyContext) []classifier.ExtractedItem {
	for i := len(cc.History) - 1; i >= 0; i-- {
		turn := cc.History[i]
		if turn.Role != domain.RoleCustomer {
			continue
		}
		items := extractItems(strings.ToLower(turn.Text), cc.Catalog)
		if len(items) == 0 {
			continue
		}
		if nums := numberRE.FindAllString(lower, -1); len(nums) == 1 && len(items) == 1 {
			items[0].Quantity = parseQuantity(nums[0])
		}
		return items
	}
	return nil
}

type mention struct {
	itemID     string
	start, end int
}

// extractItems finds catalog mentions in order of appearance. The quantity
// of a mention is the last number between it and the previous mention, or
// failing that the first number after it.
func extractItems(lower string, catalog []domain.Item) []classifier.ExtractedItem {
	var found []mention
	for _, item := range catalog {
		for _, alias := range aliases(item) {
			if idx := indexWord(lower, alias); idx >= 0 {
				found = append(found, mention{itemID: item.ID, start: idx, end: idx + len(alias)})
				break
			}
		}
	}
	if len(found) == 0 {
		return nil
	}
	sort.Slice(found, func(i, j int) bool {
		if found[i].start != found[j].start {
			return found[i].start < found[j].start
		}
		return found[i].end > found[j].end
	})

	// drop mentions nested in a longer one
	mentions := found[:0]
	for _, m := range found {
		if len(mentions) > 0 && m.start < mentions[len(mentions)-1].end {
			continue
		}
		mentions = append(mentions, m)
	}

	masked := []byte(lower)
	for _, m := range mentions {
		for i := m.start; i < m.end; i++ {
			masked[i] = ' '
		}
	}
	numbers := numberRE.FindAllStringIndex(string(masked), -1)

	items := make([]classifier.ExtractedItem, 0, len(mentions))
	for i, m := range mentions {
		lo, hi := 0, len(lower)
		if i > 0 {
			lo = mentions[i-1].end
		}
		if i+1 < len(mentions) {
			hi = mentions[i+1].start
		}

		var qty int64
		for _, n := range numbers {
			if n[0] >= lo && n[1] <= m.start {
				qty = parseQuantity(lower[n[0]:n[1]])
			}
		}
		if qty == 0 {
			for _, n := range numbers {
				if n[0] >= m.end && n[1] <= hi {
					qty = parseQuantity(lower[n[0]:n[1]])
					break
				}
			}
		}
		items = append(items, classifier.ExtractedItem{ItemID: m.itemID, Quantity: qty})
	}
	return items
}

// aliases lists the ways an item may be written, longest first.
func aliases(item domain.Item) []string {
	id := strings.ToLower(item.ID)
	out := []string{strings.ToLower(item.Name), id}
	if spaced := strings.ReplaceAll(id, "-", " "); spaced != id {
		out = append(out, spaced)
	}
	sort.Slice(out, func(i, j int) bool { return len(out[i]) > len(out[j]) })
	return out
}

// indexWord finds alias in s where it is not part of a longer word.
func indexWord(s, alias string) int {
	if alias == "" {
		return -1
	}
	from := 0
	for {
		idx := strings.Index(s[from:], alias)
		if idx < 0 {
			return -1
		}
		idx += from
		end := idx + len(alias)
		if (idx == 0 || !isWordByte(s[idx-1])) && (end == len(s) || !isWordByte(s[end])) {
			return idx
		}
		from = idx + 1
	}
}

func isWordByte(b byte) bool {
	return b == '_' || b == '-' || ('a' <= b && b <= 'z') || ('0' <= b && b <= '9')
}

func parseQuantity(s string) int64 {
	n, err := strconv.ParseInt(strings.ReplaceAll(s, ",", ""), 10, 64)
	if err != nil {
		return 0
	}
	return n
}
