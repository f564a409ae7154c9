package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/example/o2c-lite/internal/domain"
)

type ledgerRepo struct {
	tx *sql.Tx
}

func (r *ledgerRepo) ReadSnapshot(ctx context.Context, itemIDs []string) (*domain.Snapshot, error) {
	snap := &domain.Snapshot{Items: make(map[string]domain.Item, len(itemIDs))}

	if len(itemIDs) > 0 {
		args := make([]any, len(itemIDs))
		for i, id := range itemIDs {
			args[i] = id
		}
		rows, err := r.tx.QueryContext(ctx,
			`SELECT `+itemColumns+` FROM items WHERE id IN (`+placeholders(len(itemIDs))+`)`, args...)
		if err != nil {
			return nil, err
		}
		defer rows.Close()
		for rows.Next() {
			item, err := scanItem(rows)
			if err != nil {
				return nil, err
			}
			snap.Items[item.ID] = *item
		}
		if err := rows.Err(); err != nil {
			return nil, err
		}
	}

	err := r.tx.QueryRowContext(ctx, `SELECT balance, version FROM cash_account WHERE id = 1`).
		Scan(&snap.Cash, &snap.CashVersion)
	if err != nil {
		return nil, err
	}
	return snap, nil
}

func (r *ledgerRepo) CommitBatch(ctx context.Context, batch *domain.CommitBatch, expected domain.VersionStamp) error {
	if len(batch.Entries) == 0 {
		return fmt.Errorf("%w: empty commit batch", domain.ErrInvalidArgument)
	}
	now := time.Now().UTC()

	itemDelta := make(map[string]int64)
	var cashDelta int64
	for _, e := range batch.Entries {
		if e.ItemID != "" {
			itemDelta[e.ItemID] += e.DeltaQuantity
		}
		cashDelta += int64(e.DeltaCash)
	}

	ids := make([]string, 0, len(itemDelta))
	for id := range itemDelta {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		if err := r.applyItemDelta(ctx, id, itemDelta[id], expected, now); err != nil {
			return err
		}
	}
	if cashDelta != 0 {
		if err := r.applyCashDelta(ctx, cashDelta, expected); err != nil {
			return err
		}
	}

	var seq int64
	if err := r.tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) + 1 FROM commit_batches`).Scan(&seq); err != nil {
		return err
	}
	_, err := r.tx.ExecContext(ctx, `
		INSERT INTO commit_batches (id, correlation_id, compensates, status, seq, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, batch.ID, batch.CorrelationID, nullString(batch.Compensates), domain.BatchStatusCommitted, seq, now)
	if err != nil {
		return err
	}

	for i := range batch.Entries {
		e := &batch.Entries[i]
		e.BatchID = batch.ID
		e.CorrelationID = batch.CorrelationID
		e.CreatedAt = now
		res, err := r.tx.ExecContext(ctx, `
			INSERT INTO ledger_entries (batch_id, correlation_id, item_id, delta_quantity, delta_cash, kind, reason, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, e.BatchID, e.CorrelationID, nullString(e.ItemID), e.DeltaQuantity, e.DeltaCash, string(e.Kind), e.Reason, e.CreatedAt)
		if err != nil {
			return err
		}
		if e.ID, err = res.LastInsertId(); err != nil {
			return err
		}
	}

	batch.Status = domain.BatchStatusCommitted
	batch.CreatedAt = now
	return nil
}

// applyItemDelta debits are checked against the expected version; credits
// commute and only need the item to exist.
func (r *ledgerRepo) applyItemDelta(ctx context.Context, id string, delta int64, expected domain.VersionStamp, now time.Time) error {
	if delta == 0 {
		return nil
	}
	if delta > 0 {
		res, err := r.tx.ExecContext(ctx, `
			UPDATE items SET stock = stock + ?, version = version + 1, updated_at = ? WHERE id = ?
		`, delta, now, id)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("%w: %s", domain.ErrUnknownItem, id)
		}
		return nil
	}

	want, ok := expected[id]
	if !ok {
		return fmt.Errorf("%w: debit of %s has no version stamp", domain.ErrConflict, id)
	}
	res, err := r.tx.ExecContext(ctx, `
		UPDATE items SET stock = stock + ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ? AND stock + ? >= 0
	`, delta, now, id, want, delta)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	var stock, version int64
	err = r.tx.QueryRowContext(ctx, `SELECT stock, version FROM items WHERE id = ?`, id).Scan(&stock, &version)
	if err == sql.ErrNoRows {
		return fmt.Errorf("%w: %s", domain.ErrUnknownItem, id)
	}
	if err != nil {
		return err
	}
	if version != want {
		return fmt.Errorf("%w: %s is at version %d, proposal saw %d", domain.ErrConflict, id, version, want)
	}
	return &domain.ShortageError{Shortages: []domain.Shortage{{ItemID: id, Requested: -delta, Available: stock}}}
}

func (r *ledgerRepo) applyCashDelta(ctx context.Context, delta int64, expected domain.VersionStamp) error {
	if delta > 0 {
		_, err := r.tx.ExecContext(ctx, `UPDATE cash_account SET balance = balance + ?, version = version + 1 WHERE id = 1`, delta)
		return err
	}

	want, ok := expected[domain.CashKey]
	if !ok {
		return fmt.Errorf("%w: cash debit has no version stamp", domain.ErrConflict)
	}
	res, err := r.tx.ExecContext(ctx, `
		UPDATE cash_account SET balance = balance + ?, version = version + 1
		WHERE id = 1 AND version = ? AND balance + ? >= 0
	`, delta, want, delta)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	var balance, version int64
	if err := r.tx.QueryRowContext(ctx, `SELECT balance, version FROM cash_account WHERE id = 1`).Scan(&balance, &version); err != nil {
		return err
	}
	if version != want {
		return fmt.Errorf("%w: cash is at version %d, proposal saw %d", domain.ErrConflict, version, want)
	}
	return fmt.Errorf("%w: balance %s, debit %s", domain.ErrInsufficientCash, domain.Money(balance), domain.Money(-delta))
}

func (r *ledgerRepo) ListBatches(ctx context.Context, correlationID string) ([]*domain.CommitBatch, error) {
	rows, err := r.tx.QueryContext(ctx, `
		SELECT id, correlation_id, compensates, status, created_at
		FROM commit_batches WHERE correlation_id = ?
		ORDER BY seq
	`, correlationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var batches []*domain.CommitBatch
	byID := make(map[string]*domain.CommitBatch)
	for rows.Next() {
		b := &domain.CommitBatch{}
		var compensates sql.NullString
		if err := rows.Scan(&b.ID, &b.CorrelationID, &compensates, &b.Status, &b.CreatedAt); err != nil {
			return nil, err
		}
		b.Compensates = compensates.String
		batches = append(batches, b)
		byID[b.ID] = b
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	entries, err := r.Entries(ctx, correlationID)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if b, ok := byID[e.BatchID]; ok {
			b.Entries = append(b.Entries, e)
		}
	}
	return batches, nil
}

func (r *ledgerRepo) MarkCompensated(ctx context.Context, batchID string) error {
	res, err := r.tx.ExecContext(ctx, `
		UPDATE commit_batches SET status = ? WHERE id = ? AND status = ?
	`, domain.BatchStatusCompensated, batchID, domain.BatchStatusCommitted)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: batch %s is not committed", domain.ErrInvalidState, batchID)
	}
	return nil
}

func (r *ledgerRepo) Entries(ctx context.Context, correlationID string) ([]domain.LedgerEntry, error) {
	rows, err := r.tx.QueryContext(ctx, `
		SELECT id, batch_id, correlation_id, item_id, delta_quantity, delta_cash, kind, reason, created_at
		FROM ledger_entries WHERE correlation_id = ?
		ORDER BY id
	`, correlationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.LedgerEntry
	for rows.Next() {
		var e domain.LedgerEntry
		var itemID, reason sql.NullString
		var kind string
		if err := rows.Scan(&e.ID, &e.BatchID, &e.CorrelationID, &itemID, &e.DeltaQuantity,
			&e.DeltaCash, &kind, &reason, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.ItemID = itemID.String
		e.Reason = reason.String
		e.Kind = domain.EntryKind(kind)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (r *ledgerRepo) SetOpeningCash(ctx context.Context, amount domain.Money) error {
	if amount < 0 {
		return fmt.Errorf("%w: opening cash must not be negative", domain.ErrInvalidArgument)
	}
	_, err := r.tx.ExecContext(ctx, `UPDATE cash_account SET balance = ?, version = version + 1 WHERE id = 1`, amount)
	return err
}

func (r *ledgerRepo) Balances(ctx context.Context) (*domain.Balances, error) {
	b := &domain.Balances{AsOf: time.Now().UTC()}
	if err := r.tx.QueryRowContext(ctx, `SELECT balance FROM cash_account WHERE id = 1`).Scan(&b.Cash); err != nil {
		return nil, err
	}

	rows, err := r.tx.QueryContext(ctx, `SELECT `+itemColumns+` FROM items ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		value := domain.Money(item.Stock) * item.UnitPrice
		b.Items = append(b.Items, domain.ItemBalance{
			ItemID:       item.ID,
			Name:         item.Name,
			Stock:        item.Stock,
			UnitPrice:    item.UnitPrice,
			Value:        value,
			NeedsReorder: item.NeedsReorder(),
		})
		b.InventoryValue += value
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	b.TotalAssets = b.Cash + b.InventoryValue
	return b, nil
}

func (r *ledgerRepo) Report(ctx context.Context, period domain.ReportPeriod, top int) (*domain.FinancialReport, error) {
	rep := &domain.FinancialReport{ReportPeriod: period}
	err := r.tx.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN e.kind = ? THEN e.delta_cash ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN e.kind = ? AND e.delta_cash < 0 THEN -e.delta_cash ELSE 0 END), 0)
		FROM ledger_entries e
		JOIN commit_batches b ON b.id = e.batch_id
		WHERE b.status = ? AND b.compensates IS NULL
			AND e.created_at >= ? AND e.created_at < ?
	`, string(domain.EntrySale), string(domain.EntryRestock), domain.BatchStatusCommitted,
		period.From, period.To).Scan(&rep.Revenue, &rep.Expenses)
	if err != nil {
		return nil, err
	}
	rep.NetProfit = rep.Revenue - rep.Expenses

	// only orders whose sale batch still stands
	rows, err := r.tx.QueryContext(ctx, `
		SELECT o.lines_json FROM orders o
		WHERE o.created_at >= ? AND o.created_at < ? AND o.status != ?
			AND EXISTS (
				SELECT 1 FROM ledger_entries e
				JOIN commit_batches b ON b.id = e.batch_id
				WHERE e.correlation_id = o.correlation_id AND e.kind = ? AND b.status = ?
			)
	`, period.From, period.To, string(domain.OrderStatusCancelled),
		string(domain.EntrySale), domain.BatchStatusCommitted)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byItem := make(map[string]*domain.ProductSales)
	for rows.Next() {
		var linesJSON string
		if err := rows.Scan(&linesJSON); err != nil {
			return nil, err
		}
		var lines []domain.QuoteLine
		if err := json.Unmarshal([]byte(linesJSON), &lines); err != nil {
			return nil, err
		}
		for _, l := range lines {
			ps, ok := byItem[l.ItemID]
			if !ok {
				ps = &domain.ProductSales{ItemID: l.ItemID, Name: l.Name}
				byItem[l.ItemID] = ps
			}
			ps.Units += l.Quantity
			ps.Revenue += l.Subtotal
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, ps := range byItem {
		rep.TopSellers = append(rep.TopSellers, *ps)
	}
	sort.Slice(rep.TopSellers, func(i, j int) bool {
		a, b := rep.TopSellers[i], rep.TopSellers[j]
		if a.Units != b.Units {
			return a.Units > b.Units
		}
		return a.ItemID < b.ItemID
	})
	if top > 0 && len(rep.TopSellers) > top {
		rep.TopSellers = rep.TopSellers[:top]
	}
	return rep, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
