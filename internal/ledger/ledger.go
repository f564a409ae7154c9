// Package ledger is the single source of truth for stock and cash. Handlers
// validate changes with ProposeAll; only the orchestrator applies them with
// Commit, and Compensate reverses everything committed under a correlation ID.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/example/o2c-lite/internal/domain"
	"github.com/example/o2c-lite/internal/observability"
	"github.com/example/o2c-lite/internal/storage"
	"github.com/example/o2c-lite/pkg/id"
)

// Ledger validates, commits and compensates ledger entries.
type Ledger struct {
	storage storage.Storage
	locks   *keyLocks
	metrics *observability.Metrics
	now     func() time.Time
}

// New creates a ledger backed by store.
func New(store storage.Storage) *Ledger {
	return NewWithMetrics(store, nil)
}

// NewWithMetrics creates a ledger that records commit outcomes.
func NewWithMetrics(store storage.Storage, metrics *observability.Metrics) *Ledger {
	return &Ledger{
		storage: store,
		locks:   newKeyLocks(),
		metrics: metrics,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// ProposeAll validates entries against committed state without changing it.
// Every shortage is reported at once in a *domain.ShortageError. The
// returned proposal carries the versions it was validated against.
func (l *Ledger) ProposeAll(ctx context.Context, correlationID string, entries []domain.LedgerEntry) (*domain.Proposal, error) {
	if correlationID == "" {
		return nil, fmt.Errorf("%w: correlation id is required", domain.ErrInvalidArgument)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: nothing to propose", domain.ErrInvalidArgument)
	}

	itemDelta := make(map[string]int64)
	var cashDelta domain.Money
	var touchesCash bool
	for _, e := range entries {
		if e.DeltaQuantity == 0 && e.DeltaCash == 0 {
			return nil, fmt.Errorf("%w: entry %q changes nothing", domain.ErrInvalidArgument, e.Reason)
		}
		if e.DeltaQuantity != 0 {
			if e.ItemID == "" {
				return nil, fmt.Errorf("%w: quantity change without item", domain.ErrInvalidArgument)
			}
			itemDelta[e.ItemID] += e.DeltaQuantity
		}
		if e.DeltaCash != 0 {
			cashDelta += e.DeltaCash
			touchesCash = true
		}
	}

	ids := make([]string, 0, len(itemDelta))
	for itemID := range itemDelta {
		ids = append(ids, itemID)
	}
	sort.Strings(ids)

	snap, err := l.snapshot(ctx, ids)
	if err != nil {
		return nil, err
	}

	var shortages []domain.Shortage
	for _, itemID := range ids {
		item, ok := snap.Items[itemID]
		if !ok {
			return nil, fmt.Errorf("%w: %s", domain.ErrUnknownItem, itemID)
		}
		if item.Stock+itemDelta[itemID] < 0 {
			shortages = append(shortages, domain.Shortage{
				ItemID:    itemID,
				Requested: -itemDelta[itemID],
				Available: item.Stock,
			})
		}
	}
	if len(shortages) > 0 {
		return nil, &domain.ShortageError{Shortages: shortages}
	}
	if snap.Cash+cashDelta < 0 {
		return nil, fmt.Errorf("%w: balance %s, debit %s", domain.ErrInsufficientCash, snap.Cash, -cashDelta)
	}

	stamp := make(domain.VersionStamp, len(ids)+1)
	for _, itemID := range ids {
		stamp[itemID] = snap.Items[itemID].Version
	}
	if touchesCash {
		stamp[domain.CashKey] = snap.CashVersion
	}

	proposed := make([]domain.LedgerEntry, len(entries))
	for i, e := range entries {
		e.CorrelationID = correlationID
		proposed[i] = e
	}
	return &domain.Proposal{
		ID:            id.Generate(),
		CorrelationID: correlationID,
		Entries:       proposed,
		Stamp:         stamp,
		CreatedAt:     l.now(),
	}, nil
}

// Commit applies proposals as one atomic batch. Debited keys are locked in
// sorted order and checked against the proposals' versions; if any changed
// since proposing, nothing is applied and domain.ErrConflict is returned.
func (l *Ledger) Commit(ctx context.Context, proposals ...*domain.Proposal) (*domain.CommitBatch, error) {
	batch, stamp, err := merge(proposals)
	if err != nil {
		l.countCommit(err)
		return nil, err
	}
	batch.ID = id.Generate()

	keys := make([]string, 0, len(stamp))
	for k := range batch.Touched() {
		keys = append(keys, k)
	}
	unlock := l.locks.lock(keys)
	defer unlock()

	err = l.inTx(ctx, func(uow storage.UnitOfWork) error {
		return uow.Ledger().CommitBatch(ctx, batch, stamp)
	})
	l.countCommit(err)
	if err != nil {
		return nil, err
	}
	return batch, nil
}

// merge folds proposals into one batch and one version stamp.
func merge(proposals []*domain.Proposal) (*domain.CommitBatch, domain.VersionStamp, error) {
	batch := &domain.CommitBatch{}
	stamp := make(domain.VersionStamp)
	for _, p := range proposals {
		if p == nil {
			continue
		}
		if batch.CorrelationID == "" {
			batch.CorrelationID = p.CorrelationID
		} else if batch.CorrelationID != p.CorrelationID {
			return nil, nil, fmt.Errorf("%w: proposals span correlation ids %s and %s",
				domain.ErrInvalidArgument, batch.CorrelationID, p.CorrelationID)
		}
		if err := stamp.Merge(p.Stamp); err != nil {
			return nil, nil, err
		}
		batch.Entries = append(batch.Entries, p.Entries...)
	}
	if len(batch.Entries) == 0 {
		return nil, nil, fmt.Errorf("%w: no entries to commit", domain.ErrInvalidArgument)
	}
	return batch, stamp, nil
}

// Compensate reverses every still-standing batch committed under
// correlationID, most recent first, inside one transaction. It returns the
// compensation batches it wrote; batches already reversed are skipped, so
// calling it twice is harmless.
func (l *Ledger) Compensate(ctx context.Context, correlationID string) ([]*domain.CommitBatch, error) {
	var written []*domain.CommitBatch
	err := l.inTx(ctx, func(uow storage.UnitOfWork) error {
		batches, err := uow.Ledger().ListBatches(ctx, correlationID)
		if err != nil {
			return err
		}
		for i := len(batches) - 1; i >= 0; i-- {
			orig := batches[i]
			if orig.Status != domain.BatchStatusCommitted || orig.Compensates != "" {
				continue
			}
			comp := &domain.CommitBatch{
				ID:            id.Generate(),
				CorrelationID: correlationID,
				Compensates:   orig.ID,
			}
			for j := len(orig.Entries) - 1; j >= 0; j-- {
				comp.Entries = append(comp.Entries, orig.Entries[j].Inverse("compensates batch "+orig.ID))
			}

			// Read the versions inside the write transaction so the
			// reversal never conflicts with itself.
			stamp, err := currentStamp(ctx, uow, comp)
			if err != nil {
				return err
			}
			if err := uow.Ledger().CommitBatch(ctx, comp, stamp); err != nil {
				return fmt.Errorf("compensating batch %s: %w", orig.ID, err)
			}
			if err := uow.Ledger().MarkCompensated(ctx, orig.ID); err != nil {
				return err
			}
			written = append(written, comp)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if l.metrics != nil && len(written) > 0 {
		l.metrics.LedgerCompensations().Add(int64(len(written)))
	}
	if len(written) > 0 {
		log.Printf("ledger: compensated %d batch(es) for %s", len(written), correlationID)
	}
	return written, nil
}

func currentStamp(ctx context.Context, uow storage.UnitOfWork, batch *domain.CommitBatch) (domain.VersionStamp, error) {
	var ids []string
	for k := range batch.Touched() {
		if k != domain.CashKey {
			ids = append(ids, k)
		}
	}
	snap, err := uow.Ledger().ReadSnapshot(ctx, ids)
	if err != nil {
		return nil, err
	}
	return snap.Stamp(), nil
}

// Balances returns cash, inventory value and total assets.
func (l *Ledger) Balances(ctx context.Context) (*domain.Balances, error) {
	var b *domain.Balances
	err := l.read(ctx, func(uow storage.UnitOfWork) error {
		var err error
		b, err = uow.Ledger().Balances(ctx)
		return err
	})
	return b, err
}

// TopSellers is how many items a financial report ranks.
const TopSellers = 10

// Report returns the financial report for period, resolved against the
// current time.
func (l *Ledger) Report(ctx context.Context, period domain.ReportPeriod) (*domain.FinancialReport, error) {
	period, err := period.Resolve(l.now())
	if err != nil {
		return nil, err
	}
	var rep *domain.FinancialReport
	err = l.read(ctx, func(uow storage.UnitOfWork) error {
		var err error
		rep, err = uow.Ledger().Report(ctx, period, TopSellers)
		return err
	})
	return rep, err
}

// Entries returns every entry recorded under correlationID, oldest first.
func (l *Ledger) Entries(ctx context.Context, correlationID string) ([]domain.LedgerEntry, error) {
	var entries []domain.LedgerEntry
	err := l.read(ctx, func(uow storage.UnitOfWork) error {
		var err error
		entries, err = uow.Ledger().Entries(ctx, correlationID)
		return err
	})
	return entries, err
}

// Batches returns the batches recorded under correlationID, oldest first.
func (l *Ledger) Batches(ctx context.Context, correlationID string) ([]*domain.CommitBatch, error) {
	var batches []*domain.CommitBatch
	err := l.read(ctx, func(uow storage.UnitOfWork) error {
		var err error
		batches, err = uow.Ledger().ListBatches(ctx, correlationID)
		return err
	})
	return batches, err
}

func (l *Ledger) snapshot(ctx context.Context, ids []string) (*domain.Snapshot, error) {
	var snap *domain.Snapshot
	err := l.read(ctx, func(uow storage.UnitOfWork) error {
		var err error
		snap, err = uow.Ledger().ReadSnapshot(ctx, ids)
		return err
	})
	return snap, err
}

func (l *Ledger) read(ctx context.Context, fn func(storage.UnitOfWork) error) error {
	uow, err := l.storage.Begin(ctx)
	if err != nil {
		return err
	}
	defer uow.Rollback()
	return fn(uow)
}

func (l *Ledger) inTx(ctx context.Context, fn func(storage.UnitOfWork) error) error {
	uow, err := l.storage.BeginImmediate(ctx)
	if err != nil {
		return err
	}
	defer uow.Rollback()
	if err := fn(uow); err != nil {
		return err
	}
	return uow.Commit()
}

func (l *Ledger) countCommit(err error) {
	if l.metrics == nil {
		return
	}
	label := "committed"
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrConflict):
		label = "conflict"
	default:
		label = "rejected"
	}
	l.metrics.LedgerCommits().WithLabels(label).Inc()
}
