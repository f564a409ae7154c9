package sqlite_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/o2c-lite/internal/domain"
	"github.com/example/o2c-lite/internal/storage"
	"github.com/example/o2c-lite/internal/storage/sqlite"
	"github.com/example/o2c-lite/internal/storage/sqlite/sqlitetest"
)

const openingCash = domain.Money(100_000_00)

func snapshot(t *testing.T, s storage.Storage, ids ...string) *domain.Snapshot {
	t.Helper()
	ctx := context.Background()
	uow, err := s.Begin(ctx)
	require.NoError(t, err)
	defer uow.Rollback()
	snap, err := uow.Ledger().ReadSnapshot(ctx, ids)
	require.NoError(t, err)
	return snap
}

func commit(t *testing.T, s storage.Storage, batch *domain.CommitBatch, stamp domain.VersionStamp) error {
	t.Helper()
	ctx := context.Background()
	uow, err := s.BeginImmediate(ctx)
	require.NoError(t, err)
	defer uow.Rollback()
	if err := uow.Ledger().CommitBatch(ctx, batch, stamp); err != nil {
		return err
	}
	return uow.Commit()
}

func sale(correlationID, itemID string, qty int64, price domain.Money) *domain.CommitBatch {
	return &domain.CommitBatch{
		ID:            correlationID + "-b1",
		CorrelationID: correlationID,
		Entries: []domain.LedgerEntry{
			{ItemID: itemID, DeltaQuantity: -qty, Kind: domain.EntryStockHold, Reason: "reserve"},
			{DeltaCash: price * domain.Money(qty), Kind: domain.EntrySale, Reason: "payment"},
		},
	}
}

func TestReadSnapshot(t *testing.T) {
	s := sqlitetest.New(t, openingCash, sqlitetest.Paper()...)

	snap := snapshot(t, s, "A4-GLOSSY", "MISSING")
	require.Len(t, snap.Items, 1)
	assert.Equal(t, int64(10000), snap.Items["A4-GLOSSY"].Stock)
	assert.Equal(t, openingCash, snap.Cash)

	stamp := snap.Stamp()
	assert.Equal(t, []string{domain.CashKey, "A4-GLOSSY"}, stamp.Keys())
}

func TestCommitBatchAppliesEveryEntry(t *testing.T) {
	s := sqlitetest.New(t, openingCash, sqlitetest.Paper()...)
	before := snapshot(t, s, "A4-GLOSSY")

	batch := sale("corr-1", "A4-GLOSSY", 500, 5)
	require.NoError(t, commit(t, s, batch, before.Stamp()))
	assert.Equal(t, domain.BatchStatusCommitted, batch.Status)
	for _, e := range batch.Entries {
		assert.NotZero(t, e.ID)
		assert.Equal(t, batch.ID, e.BatchID)
	}

	after := snapshot(t, s, "A4-GLOSSY")
	assert.Equal(t, int64(9500), after.Items["A4-GLOSSY"].Stock)
	assert.Equal(t, before.Items["A4-GLOSSY"].Version+1, after.Items["A4-GLOSSY"].Version)
	assert.Equal(t, openingCash+2500, after.Cash)
	assert.Equal(t, before.CashVersion+1, after.CashVersion)
}

func TestCommitBatchStaleStampConflicts(t *testing.T) {
	s := sqlitetest.New(t, openingCash, sqlitetest.Paper()...)
	stale := snapshot(t, s, "A4-GLOSSY").Stamp()

	require.NoError(t, commit(t, s, sale("corr-1", "A4-GLOSSY", 100, 5), stale))

	err := commit(t, s, sale("corr-2", "A4-GLOSSY", 100, 5), stale)
	require.ErrorIs(t, err, domain.ErrConflict)

	after := snapshot(t, s, "A4-GLOSSY")
	assert.Equal(t, int64(9900), after.Items["A4-GLOSSY"].Stock, "conflicting batch must not apply")
}

func TestCommitBatchCreditsCommute(t *testing.T) {
	s := sqlitetest.New(t, openingCash, sqlitetest.Paper()...)
	stale := snapshot(t, s, "A4-MATTE").Stamp()

	require.NoError(t, commit(t, s, sale("corr-1", "A4-MATTE", 10, 4), stale))

	restock := &domain.CommitBatch{
		ID:            "restock-1",
		CorrelationID: "corr-2",
		Entries: []domain.LedgerEntry{
			{ItemID: "A4-MATTE", DeltaQuantity: 1000, Kind: domain.EntryRestock, Reason: "supplier delivery"},
		},
	}
	require.NoError(t, commit(t, s, restock, stale))
	assert.Equal(t, int64(1290), snapshot(t, s, "A4-MATTE").Items["A4-MATTE"].Stock)
}

func TestCommitBatchIsAllOrNothing(t *testing.T) {
	s := sqlitetest.New(t, openingCash, sqlitetest.Paper()...)
	stamp := snapshot(t, s, "A4-GLOSSY", "A4-MATTE").Stamp()

	batch := &domain.CommitBatch{
		ID:            "b-1",
		CorrelationID: "corr-1",
		Entries: []domain.LedgerEntry{
			{ItemID: "A4-GLOSSY", DeltaQuantity: -100, Kind: domain.EntryStockHold},
			{ItemID: "A4-MATTE", DeltaQuantity: -400, Kind: domain.EntryStockHold},
		},
	}
	err := commit(t, s, batch, stamp)

	var shortage *domain.ShortageError
	require.True(t, errors.As(err, &shortage), "got %v", err)
	require.Len(t, shortage.Shortages, 1)
	assert.Equal(t, domain.Shortage{ItemID: "A4-MATTE", Requested: 400, Available: 300}, shortage.Shortages[0])

	after := snapshot(t, s, "A4-GLOSSY", "A4-MATTE")
	assert.Equal(t, int64(10000), after.Items["A4-GLOSSY"].Stock)
	assert.Equal(t, int64(300), after.Items["A4-MATTE"].Stock)
}

func TestCommitBatchRejections(t *testing.T) {
	s := sqlitetest.New(t, domain.Money(1000), sqlitetest.Paper()...)
	stamp := snapshot(t, s, "A4-GLOSSY").Stamp()

	t.Run("unknown item", func(t *testing.T) {
		batch := &domain.CommitBatch{ID: "b-unknown", CorrelationID: "c", Entries: []domain.LedgerEntry{
			{ItemID: "NOPE", DeltaQuantity: -1, Kind: domain.EntryStockHold},
		}}
		err := commit(t, s, batch, domain.VersionStamp{"NOPE": 1})
		assert.ErrorIs(t, err, domain.ErrUnknownItem)
	})

	t.Run("debit without stamp", func(t *testing.T) {
		batch := &domain.CommitBatch{ID: "b-nostamp", CorrelationID: "c", Entries: []domain.LedgerEntry{
			{ItemID: "CARDSTOCK", DeltaQuantity: -1, Kind: domain.EntryStockHold},
		}}
		err := commit(t, s, batch, stamp)
		assert.ErrorIs(t, err, domain.ErrConflict)
	})

	t.Run("insufficient cash", func(t *testing.T) {
		batch := &domain.CommitBatch{ID: "b-cash", CorrelationID: "c", Entries: []domain.LedgerEntry{
			{ItemID: "A4-GLOSSY", DeltaQuantity: 1000, DeltaCash: -3500, Kind: domain.EntryRestock},
		}}
		err := commit(t, s, batch, stamp)
		assert.ErrorIs(t, err, domain.ErrInsufficientCash)
	})

	t.Run("empty batch", func(t *testing.T) {
		err := commit(t, s, &domain.CommitBatch{ID: "b-empty", CorrelationID: "c"}, stamp)
		assert.ErrorIs(t, err, domain.ErrInvalidArgument)
	})

	assert.Equal(t, domain.Money(1000), snapshot(t, s).Cash)
}

func TestListBatchesAndMarkCompensated(t *testing.T) {
	ctx := context.Background()
	s := sqlitetest.New(t, openingCash, sqlitetest.Paper()...)
	stamp := snapshot(t, s, "CARDSTOCK").Stamp()

	first := sale("corr-1", "CARDSTOCK", 10, 15)
	require.NoError(t, commit(t, s, first, stamp))
	second := sale("corr-1", "CARDSTOCK", 5, 15)
	second.ID = "corr-1-b2"
	require.NoError(t, commit(t, s, second, snapshot(t, s, "CARDSTOCK").Stamp()))

	uow, err := s.BeginImmediate(ctx)
	require.NoError(t, err)
	defer uow.Rollback()

	batches, err := uow.Ledger().ListBatches(ctx, "corr-1")
	require.NoError(t, err)
	require.Len(t, batches, 2)
	assert.Equal(t, "corr-1-b1", batches[0].ID)
	assert.Equal(t, "corr-1-b2", batches[1].ID)
	assert.Len(t, batches[1].Entries, 2)

	require.NoError(t, uow.Ledger().MarkCompensated(ctx, "corr-1-b2"))
	assert.ErrorIs(t, uow.Ledger().MarkCompensated(ctx, "corr-1-b2"), domain.ErrInvalidState)

	entries, err := uow.Ledger().Entries(ctx, "corr-1")
	require.NoError(t, err)
	assert.Len(t, entries, 4)
}

func TestBalances(t *testing.T) {
	ctx := context.Background()
	s := sqlitetest.New(t, openingCash, sqlitetest.Paper()...)

	uow, err := s.Begin(ctx)
	require.NoError(t, err)
	defer uow.Rollback()

	b, err := uow.Ledger().Balances(ctx)
	require.NoError(t, err)
	require.Len(t, b.Items, 3)
	// 10000*5 + 300*4 + 2000*15
	assert.Equal(t, domain.Money(81200), b.InventoryValue)
	assert.Equal(t, openingCash+81200, b.TotalAssets)
	assert.False(t, b.Items[1].NeedsReorder)
}

func TestQuoteCreateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := sqlitetest.New(t, openingCash, sqlitetest.Paper()...)
	now := time.Now().UTC().Truncate(time.Second)
	line, err := domain.PriceLine("A4-GLOSSY", "A4 glossy paper", 1000, 5)
	require.NoError(t, err)

	mk := func(id string) *domain.Quote {
		return &domain.Quote{
			ID:             id,
			IdempotencyKey: "corr-1:quote.compute",
			Lines:          []domain.QuoteLine{line},
			Total:          4750,
			TotalSavings:   250,
			Status:         domain.QuoteStatusPending,
			DeliveryDate:   now.Add(5 * 24 * time.Hour),
			ValidUntil:     now.Add(30 * 24 * time.Hour),
			CreatedAt:      now,
		}
	}

	uow, err := s.BeginImmediate(ctx)
	require.NoError(t, err)
	defer uow.Rollback()

	first, err := uow.Quotes().Create(ctx, mk("Q-2026-AAAAAA"))
	require.NoError(t, err)
	second, err := uow.Quotes().Create(ctx, mk("Q-2026-BBBBBB"))
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, domain.Money(4750), second.Total)
	require.Len(t, second.Lines, 1)
	assert.Equal(t, int64(5), second.Lines[0].DiscountPercent)

	_, err = uow.Quotes().Get(ctx, "Q-2026-BBBBBB")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	n, err := uow.Quotes().ExpireBefore(ctx, now.Add(31*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	q, err := uow.Quotes().Get(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.QuoteStatusExpired, q.Status)
}

func TestAuditRecords(t *testing.T) {
	ctx := context.Background()
	s := sqlitetest.New(t, openingCash)
	start := time.Now().UTC()

	uow, err := s.BeginImmediate(ctx)
	require.NoError(t, err)
	defer uow.Rollback()

	for i, id := range []string{"req-1", "req-2"} {
		rec := &domain.AuditRecord{
			RequestID:   id,
			Text:        "how much A4 glossy do you have?",
			Intent:      domain.NewIntent(domain.IntentCheckInventory, "", 0.9, domain.LineItem{ItemID: "A4-GLOSSY"}),
			FinalStatus: domain.ExecutionStatusCommitted,
			Outcome:     domain.OutcomeAnswered,
			StartedAt:   start,
			FinishedAt:  start.Add(time.Duration(i+1) * time.Second),
		}
		require.NoError(t, uow.Audits().Create(ctx, rec))
	}
	err = uow.Audits().Create(ctx, &domain.AuditRecord{RequestID: "req-1", FinishedAt: start})
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)

	rec, err := uow.Audits().Get(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, domain.IntentCheckInventory, rec.Intent.Kind)
	assert.Equal(t, domain.OutcomeAnswered, rec.Outcome)

	recs, err := uow.Audits().List(ctx, storage.ListOptions{})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "req-2", recs[0].RequestID, "newest first")

	_, err = uow.Audits().Get(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestConversationRecent(t *testing.T) {
	ctx := context.Background()
	s := sqlitetest.New(t, openingCash)

	uow, err := s.BeginImmediate(ctx)
	require.NoError(t, err)
	defer uow.Rollback()

	for _, text := range []string{"one", "two", "three", "four"} {
		require.NoError(t, uow.Conversations().Append(ctx, domain.Turn{SessionID: "s1", Role: domain.RoleCustomer, Text: text}))
	}
	require.NoError(t, uow.Conversations().Append(ctx, domain.Turn{SessionID: "s2", Role: domain.RoleCustomer, Text: "other"}))

	turns, err := uow.Conversations().Recent(ctx, "s1", 3)
	require.NoError(t, err)
	var texts []string
	for _, turn := range turns {
		texts = append(texts, turn.Text)
	}
	assert.Equal(t, []string{"two", "three", "four"}, texts)
}

func TestJobQueue(t *testing.T) {
	ctx := context.Background()
	s := sqlitetest.New(t, openingCash)

	uow, err := s.BeginImmediate(ctx)
	require.NoError(t, err)
	defer uow.Rollback()

	job := domain.NewJob(domain.JobKindSupplierReorder, "corr-1", map[string]any{"item_id": "A4-MATTE", "quantity": 400})
	require.NoError(t, uow.Jobs().Create(ctx, job))

	pending, err := uow.Jobs().GetPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "A4-MATTE", pending[0].Payload["item_id"])

	job.State = domain.JobStateComplete
	job.Result = map[string]any{"eta_days": 3}
	require.NoError(t, uow.Jobs().Update(ctx, job))

	pending, err = uow.Jobs().GetPending(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)

	byCorr, err := uow.Jobs().ListByCorrelation(ctx, "corr-1")
	require.NoError(t, err)
	require.Len(t, byCorr, 1)
	assert.Equal(t, domain.JobStateComplete, byCorr[0].State)
	assert.EqualValues(t, 3, byCorr[0].Result["eta_days"])

	assert.ErrorIs(t, uow.Jobs().Update(ctx, &domain.Job{ID: "missing"}), domain.ErrNotFound)
}

func TestPureGoDriver(t *testing.T) {
	ctx := context.Background()
	s, err := sqlite.New(filepath.Join(t.TempDir(), "purego.db"), sqlite.WithDriver(sqlite.DriverPureGo))
	require.NoError(t, err)
	defer s.Close()
	assert.Equal(t, sqlite.DriverPureGo, s.Driver())
	require.NoError(t, s.Migrate(ctx))

	uow, err := s.BeginImmediate(ctx)
	require.NoError(t, err)
	require.NoError(t, uow.Items().Upsert(ctx, &sqlitetest.Paper()[0]))
	require.NoError(t, uow.Ledger().SetOpeningCash(ctx, 500))
	require.NoError(t, uow.Commit())

	stamp := snapshot(t, s, "A4-GLOSSY").Stamp()
	require.NoError(t, commit(t, s, sale("corr-1", "A4-GLOSSY", 10, 5), stamp))
	assert.Equal(t, int64(9990), snapshot(t, s, "A4-GLOSSY").Items["A4-GLOSSY"].Stock)
}

func TestUnsupportedDriver(t *testing.T) {
	_, err := sqlite.New("x.db", sqlite.WithDriver("postgres"))
	assert.Error(t, err)
}

func TestReportCountsStandingBatches(t *testing.T) {
	ctx := context.Background()
	s := sqlitetest.New(t, openingCash, sqlitetest.Paper()...)
	start := time.Now().UTC().Add(-time.Minute)

	placeOrder := func(correlationID string, qty int64) *domain.CommitBatch {
		batch := sale(correlationID, "CARDSTOCK", qty, 15)
		require.NoError(t, commit(t, s, batch, snapshot(t, s, "CARDSTOCK").Stamp()))
		line, err := domain.PriceLine("CARDSTOCK", "Cardstock", qty, 15)
		require.NoError(t, err)

		uow, err := s.BeginImmediate(ctx)
		require.NoError(t, err)
		defer uow.Rollback()
		require.NoError(t, uow.Orders().Create(ctx, &domain.Order{
			ID:            "ORD-" + correlationID,
			CorrelationID: correlationID,
			Lines:         []domain.QuoteLine{line},
			Total:         line.Subtotal,
			Status:        domain.OrderStatusFulfilled,
			CreatedAt:     time.Now().UTC(),
		}))
		require.NoError(t, uow.Commit())
		return batch
	}
	placeOrder("corr-1", 10)
	reversed := placeOrder("corr-2", 40)

	restock := &domain.CommitBatch{
		ID:            "corr-3-b1",
		CorrelationID: "corr-3",
		Entries: []domain.LedgerEntry{
			{ItemID: "A4-MATTE", DeltaQuantity: 100, Kind: domain.EntryRestock, Reason: "restock"},
			{DeltaCash: -400, Kind: domain.EntryRestock, Reason: "supplier payment"},
		},
	}
	require.NoError(t, commit(t, s, restock, snapshot(t, s, "A4-MATTE").Stamp()))

	uow, err := s.BeginImmediate(ctx)
	require.NoError(t, err)
	defer uow.Rollback()
	require.NoError(t, uow.Ledger().MarkCompensated(ctx, reversed.ID))

	period := domain.ReportPeriod{From: start, To: time.Now().UTC().Add(time.Minute)}
	rep, err := uow.Ledger().Report(ctx, period, 10)
	require.NoError(t, err)
	assert.Equal(t, domain.Money(150), rep.Revenue)
	assert.Equal(t, domain.Money(400), rep.Expenses)
	assert.Equal(t, domain.Money(-250), rep.NetProfit)
	require.Len(t, rep.TopSellers, 1)
	assert.Equal(t, domain.ProductSales{ItemID: "CARDSTOCK", Name: "Cardstock", Units: 10, Revenue: 150}, rep.TopSellers[0])

	rep, err = uow.Ledger().Report(ctx, domain.ReportPeriod{From: start.Add(-48 * time.Hour), To: start}, 10)
	require.NoError(t, err)
	assert.Zero(t, rep.Revenue)
	assert.Empty(t, rep.TopSellers)
}

func TestQuoteSearch(t *testing.T) {
	ctx := context.Background()
	s := sqlitetest.New(t, openingCash, sqlitetest.Paper()...)
	now := time.Now().UTC().Truncate(time.Second)

	uow, err := s.BeginImmediate(ctx)
	require.NoError(t, err)
	defer uow.Rollback()

	create := func(id, customer, itemID, name string, age time.Duration) {
		line, err := domain.PriceLine(itemID, name, 100, 5)
		require.NoError(t, err)
		_, err = uow.Quotes().Create(ctx, &domain.Quote{
			ID:             id,
			IdempotencyKey: id + ":quote.compute",
			CustomerID:     customer,
			Lines:          []domain.QuoteLine{line},
			Total:          line.Subtotal,
			Status:         domain.QuoteStatusPending,
			ValidUntil:     now.Add(time.Hour - age),
			CreatedAt:      now.Add(-age),
		})
		require.NoError(t, err)
	}
	create("Q-2026-000001", "acme", "A4-GLOSSY", "A4 glossy paper", 2*time.Hour)
	create("Q-2026-000002", "globex", "CARDSTOCK", "Cardstock", time.Minute)
	create("Q-2026-000003", "acme_100%", "A4-MATTE", "A4 matte paper", 0)

	ids := func(quotes []*domain.Quote) []string {
		var out []string
		for _, q := range quotes {
			out = append(out, q.ID)
		}
		return out
	}

	all, err := uow.Quotes().Search(ctx, storage.QuoteSearch{})
	require.NoError(t, err)
	assert.Equal(t, []string{"Q-2026-000003", "Q-2026-000002", "Q-2026-000001"}, ids(all), "newest first")

	byItem, err := uow.Quotes().Search(ctx, storage.QuoteSearch{Terms: []string{"GLOSSY", "cardstock"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"Q-2026-000002", "Q-2026-000001"}, ids(byItem))

	byCustomer, err := uow.Quotes().Search(ctx, storage.QuoteSearch{Terms: []string{"100%"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"Q-2026-000003"}, ids(byCustomer), "wildcards are literal")

	limited, err := uow.Quotes().Search(ctx, storage.QuoteSearch{Terms: []string{"acme"}, Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{"Q-2026-000003"}, ids(limited))

	n, err := uow.Quotes().ExpireBefore(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	expired, err := uow.Quotes().Search(ctx, storage.QuoteSearch{Status: domain.QuoteStatusExpired})
	require.NoError(t, err)
	assert.Equal(t, []string{"Q-2026-000001"}, ids(expired))
}

func TestJobReclaimStale(t *testing.T) {
	ctx := context.Background()
	s := sqlitetest.New(t, openingCash)

	uow, err := s.BeginImmediate(ctx)
	require.NoError(t, err)
	defer uow.Rollback()

	stuck := domain.NewJob(domain.JobKindSupplierReorder, "corr-1", nil)
	stuck.State = domain.JobStateRunning
	stuck.UpdatedAt = time.Now().UTC().Add(-time.Hour)
	require.NoError(t, uow.Jobs().Create(ctx, stuck))

	busy := domain.NewJob(domain.JobKindSupplierReorder, "corr-2", nil)
	busy.State = domain.JobStateRunning
	require.NoError(t, uow.Jobs().Create(ctx, busy))

	n, err := uow.Jobs().ReclaimStale(ctx, time.Now().UTC().Add(-10*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	pending, err := uow.Jobs().GetPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, stuck.ID, pending[0].ID)

	got, err := uow.Jobs().Get(ctx, busy.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStateRunning, got.State)
}
