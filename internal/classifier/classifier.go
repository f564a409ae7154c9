// Package classifier maps free-form customer text to one of the fixed
// intents. The heavy lifting is delegated to a Capability; this package
// bounds each call, validates the extraction and decides when the answer is
// too weak to act on.
package classifier

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/example/o2c-lite/internal/domain"
	"github.com/example/o2c-lite/internal/observability"
	"github.com/example/o2c-lite/internal/storage"
)

// ExtractedItem is an item mention as the capability understood it.
type ExtractedItem struct {
	ItemID   string `json:"item_id"`
	Quantity int64  `json:"quantity"`
}

// Extraction is the raw output of a capability.
type Extraction struct {
	Intent     string          `json:"intent"`
	CustomerID string          `json:"customer_id,omitempty"`
	Items      []ExtractedItem `json:"items"`
	Confidence float64         `json:"confidence"`
	Reason     string          `json:"reason,omitempty"`
}

// ClassifyContext is what a capability may use besides the text itself.
type ClassifyContext struct {
	History []domain.Turn // oldest first
	Catalog []domain.Item
}

// Capability extracts an intent from text.
type Capability interface {
	Name() string
	Classify(ctx context.Context, text string, cc ClassifyContext) (*Extraction, error)
}

// Config tunes the classifier.
type Config struct {
	Timeout       time.Duration
	MinConfidence float64
}

// DefaultConfig returns the default classifier configuration.
func DefaultConfig() Config {
	return Config{Timeout: 10 * time.Second, MinConfidence: 0.6}
}

// Classifier turns requests into intents.
type Classifier struct {
	capability Capability
	storage    storage.Storage
	cfg        Config
	metrics    *observability.Metrics
}

// New creates a classifier. The catalog offered to the capability is read
// from store on every call.
func New(capability Capability, store storage.Storage, cfg Config) *Classifier {
	return NewWithMetrics(capability, store, cfg, nil)
}

// NewWithMetrics creates a classifier that records latency and availability.
func NewWithMetrics(capability Capability, store storage.Storage, cfg Config, metrics *observability.Metrics) *Classifier {
	def := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MinConfidence <= 0 {
		cfg.MinConfidence = def.MinConfidence
	}
	return &Classifier{capability: capability, storage: store, cfg: cfg, metrics: metrics}
}

// Classify returns the intent of req. Weak or incomplete extractions come
// back as an Unknown intent, not an error. The only error is
// domain.ErrClassificationUnavailable, returned when the capability fails or
// does not answer within the per-call timeout.
func (c *Classifier) Classify(ctx context.Context, req *domain.Request, history []domain.Turn) (domain.Intent, error) {
	start := time.Now()
	catalog, err := c.catalog(ctx)
	if err != nil {
		return domain.Intent{}, c.unavailable(fmt.Errorf("load catalog: %w", err))
	}

	ext, err := c.call(ctx, req.Text, ClassifyContext{History: history, Catalog: catalog})
	if c.metrics != nil {
		c.metrics.ClassifierLatency().Observe(time.Since(start))
	}
	if err != nil {
		return domain.Intent{}, c.unavailable(err)
	}
	if c.metrics != nil {
		c.metrics.ClassifierAttempts().WithLabels("ok").Inc()
	}
	return c.interpret(ext, catalog), nil
}

func (c *Classifier) call(ctx context.Context, text string, cc ClassifyContext) (*Extraction, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	type answer struct {
		ext *Extraction
		err error
	}
	done := make(chan answer, 1)
	go func() {
		ext, err := c.capability.Classify(callCtx, text, cc)
		done <- answer{ext, err}
	}()

	select {
	case a := <-done:
		if a.err == nil && a.ext == nil {
			return nil, fmt.Errorf("%s returned no extraction", c.capability.Name())
		}
		return a.ext, a.err
	case <-callCtx.Done():
		return nil, fmt.Errorf("%s timed out after %s", c.capability.Name(), c.cfg.Timeout)
	}
}

func (c *Classifier) unavailable(err error) error {
	if c.metrics != nil {
		c.metrics.ClassifierAttempts().WithLabels("unavailable").Inc()
	}
	log.Printf("classifier: %s unavailable: %v", c.capability.Name(), err)
	return fmt.Errorf("%w: %v", domain.ErrClassificationUnavailable, err)
}

// interpret validates an extraction against the fixed intent set and the
// catalog.
func (c *Classifier) interpret(ext *Extraction, catalog []domain.Item) domain.Intent {
	kind := domain.ParseIntentKind(ext.Intent)
	if kind == domain.IntentUnknown {
		reason := ext.Reason
		if reason == "" {
			reason = fmt.Sprintf("unrecognized intent %q", ext.Intent)
		}
		return domain.UnknownIntent(reason)
	}
	if ext.Confidence < c.cfg.MinConfidence {
		return domain.UnknownIntent(fmt.Sprintf("low confidence %.2f for %s", ext.Confidence, kind))
	}
	if len(ext.Items) == 0 {
		return domain.UnknownIntent(fmt.Sprintf("no items named for %s", kind))
	}

	known := make(map[string]string, len(catalog))
	for _, item := range catalog {
		known[strings.ToUpper(item.ID)] = item.ID
	}

	items := make([]domain.LineItem, 0, len(ext.Items))
	for _, it := range ext.Items {
		itemID := strings.TrimSpace(it.ItemID)
		if canonical, ok := known[strings.ToUpper(itemID)]; ok {
			itemID = canonical
		}
		if itemID == "" {
			return domain.UnknownIntent("item mention without an id")
		}
		if kind != domain.IntentCheckInventory && it.Quantity <= 0 {
			return domain.UnknownIntent(fmt.Sprintf("no quantity given for %s", itemID))
		}
		if it.Quantity < 0 {
			return domain.UnknownIntent(fmt.Sprintf("negative quantity for %s", itemID))
		}
		items = append(items, domain.LineItem{ItemID: itemID, Quantity: it.Quantity})
	}
	return domain.NewIntent(kind, ext.CustomerID, ext.Confidence, items...)
}

func (c *Classifier) catalog(ctx context.Context) ([]domain.Item, error) {
	uow, err := c.storage.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer uow.Rollback()

	items, err := uow.Items().List(ctx, storage.ListOptions{})
	if err != nil {
		return nil, err
	}
	out := make([]domain.Item, len(items))
	for i, item := range items {
		out[i] = *item
	}
	return out, nil
}
