package cli

import (
	"context"
	"fmt"

	"github.com/example/o2c-lite/internal/classifier"
	"github.com/example/o2c-lite/internal/classifier/anthropic"
	"github.com/example/o2c-lite/internal/classifier/llm"
	"github.com/example/o2c-lite/internal/classifier/rules"
	"github.com/example/o2c-lite/internal/config"
	"github.com/example/o2c-lite/internal/domain"
	"github.com/example/o2c-lite/internal/handler"
	"github.com/example/o2c-lite/internal/ledger"
	"github.com/example/o2c-lite/internal/observability"
	"github.com/example/o2c-lite/internal/service"
	"github.com/example/o2c-lite/internal/storage/sqlite"
	"github.com/example/o2c-lite/internal/workflow"
)

const defaultOpenAIModel = "gpt-4o-mini"

// app is the in-process object graph shared by serve and the local
// variants of ask, balances and audit.
type app struct {
	metrics      *observability.Metrics
	store        *sqlite.SQLiteStorage
	ledger       *ledger.Ledger
	orchestrator *service.OrchestratorService
	dispatcher   *service.Dispatcher
}

// openStore opens and migrates the configured database.
func openStore(ctx context.Context, c *config.Config, metrics *observability.Metrics) (*sqlite.SQLiteStorage, error) {
	store, err := sqlite.New(c.Storage.Path, sqlite.WithDriver(c.Storage.Driver), sqlite.WithMetrics(metrics))
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("migrate storage: %w", err)
	}
	return store, nil
}

func newApp(ctx context.Context, c *config.Config) (*app, error) {
	metrics := observability.NewMetrics()
	store, err := openStore(ctx, c, metrics)
	if err != nil {
		return nil, err
	}

	capability, err := newCapability(c.Classifier)
	if err != nil {
		store.Close()
		return nil, err
	}
	intents := classifier.NewWithMetrics(capability, store, classifier.Config{
		Timeout:       c.Classifier.Timeout,
		MinConfidence: c.Classifier.MinConfidence,
	}, metrics)

	l := ledger.NewWithMetrics(store, metrics)
	handlers := handler.NewRegistry(store, l, nil, handler.Options{
		QuoteValidity: c.Business.QuoteValidity(),
		QuoteLeadTime: c.Business.QuoteLeadTime(),
	})
	engine := workflow.NewEngineWithMetrics(handlers, l, workflow.Config{
		StepTimeout:         c.Workflow.StepTimeout,
		MaxAttempts:         c.Workflow.MaxAttempts,
		BackoffBase:         c.Workflow.BackoffBase,
		BackoffMax:          c.Workflow.BackoffMax,
		CompensationTimeout: c.Workflow.CompensationTimeout,
	}, metrics)
	orchestrator := service.NewOrchestrator(store, intents, engine, l, service.Config{
		RequestTimeout:     c.Workflow.RequestTimeout,
		HistoryWindow:      c.Classifier.HistoryWindow,
		ClassifierAttempts: c.Classifier.MaxAttempts,
		ClassifierBackoff:  c.Classifier.Backoff,
		AuditTimeout:       c.Workflow.AuditTimeout,
	}, metrics)

	dispatcher := service.NewDispatcher(store, service.DispatcherConfig{
		PollInterval:        c.Jobs.PollInterval,
		BatchSize:           c.Jobs.BatchSize,
		MaxConcurrency:      c.Jobs.MaxConcurrency,
		MaxRetries:          c.Jobs.MaxRetries,
		JobTimeout:          c.Jobs.JobTimeout,
		QuoteExpiryInterval: c.Jobs.QuoteExpiryInterval,
		StaleJobAfter:       c.Jobs.StaleJobAfter,
	}, metrics)
	dispatcher.Register(domain.JobKindSupplierReorder, service.SupplierReorder(store, l, c.Business.SupplierCostRatio))

	return &app{
		metrics:      metrics,
		store:        store,
		ledger:       l,
		orchestrator: orchestrator,
		dispatcher:   dispatcher,
	}, nil
}

func (a *app) Close() error {
	return a.store.Close()
}

// newCapability selects the language capability behind the classifier.
func newCapability(c config.ClassifierConfig) (classifier.Capability, error) {
	switch c.Provider {
	case "rules":
		return rules.New(), nil
	case "llm":
		model := c.Model
		if model == "" {
			model = defaultOpenAIModel
		}
		if c.OpenAI.APIKey == "" && c.OpenAI.BaseURL == "" {
			return nil, fmt.Errorf("classifier.provider=llm needs OPENAI_API_KEY or classifier.openai.base_url")
		}
		return llm.NewOpenAI(c.OpenAI.APIKey, model, c.OpenAI.BaseURL)
	case "anthropic":
		return anthropic.New(anthropic.Config{
			Model:      c.Model,
			APIKey:     c.Anthropic.APIKey,
			UseBedrock: c.Anthropic.UseBedrock,
			AWSRegion:  c.Anthropic.AWSRegion,
			AWSProfile: c.Anthropic.AWSProfile,
		})
	default:
		return nil, fmt.Errorf("unknown classifier provider %q", c.Provider)
	}
}
