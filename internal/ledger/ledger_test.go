package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/o2c-lite/internal/domain"
	"github.com/example/o2c-lite/internal/observability"
	"github.com/example/o2c-lite/internal/storage/sqlite/sqlitetest"
)

const opening = domain.Money(1_000_00)

func newTestLedger(t *testing.T) (*Ledger, *observability.Metrics) {
	t.Helper()
	metrics := observability.NewMetrics()
	store := sqlitetest.NewWithMetrics(t, metrics, opening, sqlitetest.Paper()...)
	return NewWithMetrics(store, metrics), metrics
}

func hold(itemID string, qty int64) domain.LedgerEntry {
	return domain.LedgerEntry{ItemID: itemID, DeltaQuantity: -qty, Kind: domain.EntryStockHold, Reason: "reserve " + itemID}
}

func stockOf(t *testing.T, l *Ledger, itemID string) int64 {
	t.Helper()
	b, err := l.Balances(context.Background())
	require.NoError(t, err)
	for _, item := range b.Items {
		if item.ItemID == itemID {
			return item.Stock
		}
	}
	t.Fatalf("item %s not in balances", itemID)
	return 0
}

func TestProposeAllReportsEveryShortage(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLedger(t)

	_, err := l.ProposeAll(ctx, "corr-1", []domain.LedgerEntry{
		hold("A4-MATTE", 400),
		hold("CARDSTOCK", 2500),
		hold("A4-GLOSSY", 10),
	})
	var shortage *domain.ShortageError
	require.True(t, errors.As(err, &shortage), "got %v", err)
	assert.Equal(t, []domain.Shortage{
		{ItemID: "A4-MATTE", Requested: 400, Available: 300},
		{ItemID: "CARDSTOCK", Requested: 2500, Available: 2000},
	}, shortage.Shortages)
	assert.Equal(t, int64(300), stockOf(t, l, "A4-MATTE"), "proposing must not change state")
}

func TestProposeAllAggregatesPerItem(t *testing.T) {
	l, _ := newTestLedger(t)
	_, err := l.ProposeAll(context.Background(), "corr-1", []domain.LedgerEntry{
		hold("A4-MATTE", 200),
		hold("A4-MATTE", 200),
	})
	assert.ErrorIs(t, err, domain.ErrInsufficientStock)
}

func TestProposeAllRejections(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLedger(t)

	_, err := l.ProposeAll(ctx, "corr-1", []domain.LedgerEntry{hold("NOPE", 1)})
	assert.ErrorIs(t, err, domain.ErrUnknownItem)

	_, err = l.ProposeAll(ctx, "corr-1", []domain.LedgerEntry{{DeltaCash: -opening - 1, Kind: domain.EntryRestock}})
	assert.ErrorIs(t, err, domain.ErrInsufficientCash)

	_, err = l.ProposeAll(ctx, "", []domain.LedgerEntry{hold("A4-GLOSSY", 1)})
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	_, err = l.ProposeAll(ctx, "corr-1", nil)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestProposeAllStampsTouchedKeys(t *testing.T) {
	l, _ := newTestLedger(t)
	p, err := l.ProposeAll(context.Background(), "corr-1", []domain.LedgerEntry{
		hold("A4-GLOSSY", 10),
		{DeltaCash: 50, Kind: domain.EntrySale},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{domain.CashKey, "A4-GLOSSY"}, p.Stamp.Keys())
	for _, e := range p.Entries {
		assert.Equal(t, "corr-1", e.CorrelationID)
	}
}

func TestCommitAppliesProposals(t *testing.T) {
	ctx := context.Background()
	l, metrics := newTestLedger(t)

	reserve, err := l.ProposeAll(ctx, "corr-1", []domain.LedgerEntry{hold("A4-GLOSSY", 1000)})
	require.NoError(t, err)
	pay, err := l.ProposeAll(ctx, "corr-1", []domain.LedgerEntry{{DeltaCash: 4750, Kind: domain.EntrySale}})
	require.NoError(t, err)

	batch, err := l.Commit(ctx, reserve, pay)
	require.NoError(t, err)
	assert.Len(t, batch.Entries, 2)
	assert.Equal(t, "corr-1", batch.CorrelationID)

	b, err := l.Balances(ctx)
	require.NoError(t, err)
	assert.Equal(t, opening+4750, b.Cash)
	assert.Equal(t, int64(9000), stockOf(t, l, "A4-GLOSSY"))
	assert.Equal(t, int64(1), metrics.LedgerCommits().WithLabels("committed").Get())
}

func TestCommitStaleProposalConflicts(t *testing.T) {
	ctx := context.Background()
	l, metrics := newTestLedger(t)

	first, err := l.ProposeAll(ctx, "corr-1", []domain.LedgerEntry{hold("CARDSTOCK", 100)})
	require.NoError(t, err)
	second, err := l.ProposeAll(ctx, "corr-2", []domain.LedgerEntry{hold("CARDSTOCK", 100)})
	require.NoError(t, err)

	_, err = l.Commit(ctx, first)
	require.NoError(t, err)
	_, err = l.Commit(ctx, second)
	require.ErrorIs(t, err, domain.ErrConflict)

	assert.Equal(t, int64(1900), stockOf(t, l, "CARDSTOCK"))
	assert.Equal(t, int64(1), metrics.LedgerCommits().WithLabels("conflict").Get())
}

func TestCommitRejectsMixedCorrelations(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLedger(t)

	a, err := l.ProposeAll(ctx, "corr-1", []domain.LedgerEntry{hold("A4-GLOSSY", 1)})
	require.NoError(t, err)
	b, err := l.ProposeAll(ctx, "corr-2", []domain.LedgerEntry{hold("CARDSTOCK", 1)})
	require.NoError(t, err)

	_, err = l.Commit(ctx, a, b)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	_, err = l.Commit(ctx)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestConcurrentCommitsOnSameItem(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLedger(t)

	const n = 8
	proposals := make([]*domain.Proposal, n)
	for i := range proposals {
		p, err := l.ProposeAll(ctx, "corr-race", []domain.LedgerEntry{hold("A4-GLOSSY", 100)})
		require.NoError(t, err)
		proposals[i] = p
	}

	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := range proposals {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = l.Commit(ctx, proposals[i])
		}(i)
	}
	wg.Wait()

	var committed, conflicts int
	for _, err := range errs {
		switch {
		case err == nil:
			committed++
		case errors.Is(err, domain.ErrConflict):
			conflicts++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, committed)
	assert.Equal(t, n-1, conflicts)
	assert.Equal(t, int64(9900), stockOf(t, l, "A4-GLOSSY"))
}

func TestConcurrentCommitsOnDisjointItems(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLedger(t)

	items := []string{"A4-GLOSSY", "A4-MATTE", "CARDSTOCK"}
	var wg sync.WaitGroup
	errs := make([]error, len(items))
	for i, itemID := range items {
		wg.Add(1)
		go func(i int, itemID string) {
			defer wg.Done()
			p, err := l.ProposeAll(ctx, "corr-"+itemID, []domain.LedgerEntry{hold(itemID, 10)})
			if err != nil {
				errs[i] = err
				return
			}
			_, errs[i] = l.Commit(ctx, p)
		}(i, itemID)
	}
	wg.Wait()

	for i, err := range errs {
		assert.NoError(t, err, items[i])
	}
	assert.Equal(t, int64(290), stockOf(t, l, "A4-MATTE"))
}

func TestCompensateReversesLastFirst(t *testing.T) {
	ctx := context.Background()
	l, metrics := newTestLedger(t)

	reserve, err := l.ProposeAll(ctx, "corr-1", []domain.LedgerEntry{hold("A4-GLOSSY", 500)})
	require.NoError(t, err)
	first, err := l.Commit(ctx, reserve)
	require.NoError(t, err)

	pay, err := l.ProposeAll(ctx, "corr-1", []domain.LedgerEntry{{DeltaCash: 2500, Kind: domain.EntrySale}})
	require.NoError(t, err)
	second, err := l.Commit(ctx, pay)
	require.NoError(t, err)

	comps, err := l.Compensate(ctx, "corr-1")
	require.NoError(t, err)
	require.Len(t, comps, 2)
	assert.Equal(t, second.ID, comps[0].Compensates)
	assert.Equal(t, first.ID, comps[1].Compensates)

	b, err := l.Balances(ctx)
	require.NoError(t, err)
	assert.Equal(t, opening, b.Cash)
	assert.Equal(t, int64(10000), stockOf(t, l, "A4-GLOSSY"))
	assert.Equal(t, int64(2), metrics.LedgerCompensations().Get())

	again, err := l.Compensate(ctx, "corr-1")
	require.NoError(t, err)
	assert.Empty(t, again)

	batches, err := l.Batches(ctx, "corr-1")
	require.NoError(t, err)
	require.Len(t, batches, 4)
	assert.Equal(t, domain.BatchStatusCompensated, batches[0].Status)
	assert.Equal(t, domain.BatchStatusCompensated, batches[1].Status)

	entries, err := l.Entries(ctx, "corr-1")
	require.NoError(t, err)
	require.Len(t, entries, 4)
	assert.Equal(t, domain.EntryCompensation, entries[3].Kind)
}

func TestCompensateWithNothingCommitted(t *testing.T) {
	l, _ := newTestLedger(t)
	comps, err := l.Compensate(context.Background(), "corr-none")
	require.NoError(t, err)
	assert.Empty(t, comps)
}

func TestKeyLocksDedupe(t *testing.T) {
	k := newKeyLocks()
	unlock := k.lock([]string{"b", "a", "b"})
	unlock()
	// relocking proves every mutex was released exactly once
	k.lock([]string{"a", "b"})()
}

func TestReportLeavesOutCompensatedSales(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLedger(t)
	start := time.Now().UTC().Add(-time.Minute)

	for _, corr := range []string{"corr-1", "corr-2"} {
		pay, err := l.ProposeAll(ctx, corr, []domain.LedgerEntry{{DeltaCash: 2500, Kind: domain.EntrySale}})
		require.NoError(t, err)
		_, err = l.Commit(ctx, pay)
		require.NoError(t, err)
	}
	_, err := l.Compensate(ctx, "corr-2")
	require.NoError(t, err)

	l.now = func() time.Time { return time.Now().UTC().Add(time.Minute) }
	rep, err := l.Report(ctx, domain.ReportPeriod{From: start})
	require.NoError(t, err)
	assert.Equal(t, domain.Money(2500), rep.Revenue)
	assert.Equal(t, domain.Money(2500), rep.NetProfit)
	assert.False(t, rep.To.Before(rep.From))

	_, err = l.Report(ctx, domain.ReportPeriod{From: start, To: start.Add(-time.Hour)})
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}
