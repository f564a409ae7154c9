package cli

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/o2c-lite/internal/catalog"
	"github.com/example/o2c-lite/internal/config"
	"github.com/example/o2c-lite/internal/domain"
	"github.com/example/o2c-lite/internal/storage"
)

func TestNewCapability(t *testing.T) {
	c, err := newCapability(config.ClassifierConfig{Provider: "rules"})
	require.NoError(t, err)
	assert.Equal(t, "rules", c.Name())

	_, err = newCapability(config.ClassifierConfig{Provider: "llm"})
	assert.ErrorContains(t, err, "OPENAI_API_KEY")

	_, err = newCapability(config.ClassifierConfig{Provider: "crystal-ball"})
	assert.Error(t, err)
}

func TestLocalDeskHandlesRequests(t *testing.T) {
	c := config.Default()
	c.Storage.Path = filepath.Join(t.TempDir(), "o2c.db")
	ctx := context.Background()

	a, err := newApp(ctx, c)
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })

	cat, err := catalog.Load("../../../../configs/catalog.yaml")
	require.NoError(t, err)
	_, err = catalog.Seed(ctx, a.store, cat)
	require.NoError(t, err)

	d := localDesk{a}
	resp, err := d.Handle(ctx, &domain.Request{ID: "req-1", Text: "quote 500 A4 glossy paper"})
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeQuoted, resp.Outcome)
	require.NotNil(t, resp.Quote)
	assert.Equal(t, domain.Money(2500), resp.Quote.Total)

	rec, err := d.GetAudit(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, domain.IntentRequestQuote, rec.Intent.Kind)

	b, err := d.GetBalances(ctx, domain.ReportPeriod{})
	require.NoError(t, err)
	assert.Equal(t, domain.Dollars(cat.OpeningCash), b.Cash)
	require.NotNil(t, b.Report)

	quotes, err := d.SearchQuotes(ctx, storage.QuoteSearch{Terms: []string{"glossy"}})
	require.NoError(t, err)
	require.Len(t, quotes, 1)
	v, err := d.ValidateQuote(ctx, quotes[0].ID)
	require.NoError(t, err)
	assert.True(t, v.Valid)
}

func TestParsePeriod(t *testing.T) {
	p, err := parsePeriod("", "")
	require.NoError(t, err)
	assert.True(t, p.From.IsZero())
	assert.True(t, p.To.IsZero())

	p, err = parsePeriod("2026-04-01", "2026-06-30")
	require.NoError(t, err)
	assert.Equal(t, 1, p.From.Day())
	assert.Equal(t, time.July, p.To.Month(), "the last day is included")

	_, err = parsePeriod("April", "")
	assert.ErrorContains(t, err, "--from")
}
