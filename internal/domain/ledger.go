package domain

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// Money is an amount in cents.
type Money int64

// Dollars converts a dollar amount to Money, rounding to the nearest cent.
func Dollars(d float64) Money {
	return Money(math.Round(d * 100))
}

func (m Money) String() string {
	sign := ""
	if m < 0 {
		sign = "-"
		m = -m
	}
	return fmt.Sprintf("%s$%d.%02d", sign, m/100, m%100)
}

// EntryKind classifies a ledger entry.
type EntryKind string

const (
	EntryOpeningBalance EntryKind = "opening_balance"
	EntryStockHold      EntryKind = "stock_hold"
	EntrySale           EntryKind = "sale"
	EntryRestock        EntryKind = "stock_order"
	EntryCompensation   EntryKind = "compensation"
)

// LedgerEntry is one line of a commit batch. ItemID is empty for cash-only
// entries.
type LedgerEntry struct {
	ID            int64     `json:"id,omitempty"`
	BatchID       string    `json:"batch_id,omitempty"`
	CorrelationID string    `json:"correlation_id"`
	ItemID        string    `json:"item_id,omitempty"`
	DeltaQuantity int64     `json:"delta_quantity"`
	DeltaCash     Money     `json:"delta_cash"`
	Kind          EntryKind `json:"kind"`
	Reason        string    `json:"reason"`
	CreatedAt     time.Time `json:"created_at"`
}

// Inverse returns the entry that undoes e.
func (e LedgerEntry) Inverse(reason string) LedgerEntry {
	return LedgerEntry{
		CorrelationID: e.CorrelationID,
		ItemID:        e.ItemID,
		DeltaQuantity: -e.DeltaQuantity,
		DeltaCash:     -e.DeltaCash,
		Kind:          EntryCompensation,
		Reason:        reason,
	}
}

// CashKey is the version-stamp key of the cash account.
const CashKey = "$cash"

// VersionStamp maps every key a proposal read to the version it saw.
type VersionStamp map[string]int64

// Merge folds other into s. It fails if both saw the same key at different
// versions.
func (s VersionStamp) Merge(other VersionStamp) error {
	for k, v := range other {
		if cur, ok := s[k]; ok && cur != v {
			return fmt.Errorf("%w: %s seen at version %d and %d", ErrConflict, k, cur, v)
		}
		s[k] = v
	}
	return nil
}

// Keys returns the stamped keys in sorted order.
func (s VersionStamp) Keys() []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Snapshot is the committed state of a set of items and the cash account.
type Snapshot struct {
	Items       map[string]Item
	Cash        Money
	CashVersion int64
}

// Stamp returns the version stamp of the snapshot.
func (s *Snapshot) Stamp() VersionStamp {
	stamp := make(VersionStamp, len(s.Items)+1)
	for id, item := range s.Items {
		stamp[id] = item.Version
	}
	stamp[CashKey] = s.CashVersion
	return stamp
}

// Proposal is a validated, uncommitted set of ledger entries together with
// the version stamp they were validated against.
type Proposal struct {
	ID            string        `json:"id"`
	CorrelationID string        `json:"correlation_id"`
	Entries       []LedgerEntry `json:"entries"`
	Stamp         VersionStamp  `json:"stamp"`
	CreatedAt     time.Time     `json:"created_at"`
}

// BatchStatus tracks whether a committed batch still stands.
type BatchStatus int

const (
	BatchStatusCommitted   BatchStatus = 10
	BatchStatusCompensated BatchStatus = 20
)

func (s BatchStatus) String() string {
	switch s {
	case BatchStatusCommitted:
		return "COMMITTED"
	case BatchStatusCompensated:
		return "COMPENSATED"
	default:
		return "UNKNOWN"
	}
}

// CommitBatch is a set of entries applied atomically.
type CommitBatch struct {
	ID            string        `json:"id"`
	CorrelationID string        `json:"correlation_id"`
	Entries       []LedgerEntry `json:"entries"`
	Compensates   string        `json:"compensates,omitempty"` // id of the batch this one reverses
	Status        BatchStatus   `json:"status"`
	CreatedAt     time.Time     `json:"created_at"`
}

// Touched returns every stamp key whose balance the batch changes, mapped
// to whether its net delta is a debit.
func (b *CommitBatch) Touched() map[string]bool {
	net := make(map[string]int64)
	for _, e := range b.Entries {
		if e.ItemID != "" && e.DeltaQuantity != 0 {
			net[e.ItemID] += e.DeltaQuantity
		}
		if e.DeltaCash != 0 {
			net[CashKey] += int64(e.DeltaCash)
		}
	}
	touched := make(map[string]bool, len(net))
	for k, d := range net {
		touched[k] = d < 0
	}
	return touched
}

// ItemBalance is one line of the financial summary.
type ItemBalance struct {
	ItemID       string `json:"item_id"`
	Name         string `json:"name"`
	Stock        int64  `json:"stock"`
	UnitPrice    Money  `json:"unit_price"`
	Value        Money  `json:"value"`
	NeedsReorder bool   `json:"needs_reorder"`
}

// Balances is the financial summary of committed state.
type Balances struct {
	Cash           Money         `json:"cash"`
	InventoryValue Money         `json:"inventory_value"`
	TotalAssets    Money         `json:"total_assets"`
	Items          []ItemBalance `json:"items"`
	AsOf           time.Time     `json:"as_of"`

	// Report is set when balances were asked for with a reporting period.
	Report *FinancialReport `json:"report,omitempty"`
}

// ReportPeriod is the half-open range [From, To) a financial report covers.
// A zero To means now; a zero From means the start of To's year.
type ReportPeriod struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// Resolve fills the defaults of p relative to now.
func (p ReportPeriod) Resolve(now time.Time) (ReportPeriod, error) {
	if p.To.IsZero() {
		p.To = now
	}
	if p.From.IsZero() {
		p.From = time.Date(p.To.Year(), 1, 1, 0, 0, 0, 0, p.To.Location())
	}
	p.From, p.To = p.From.UTC(), p.To.UTC()
	if !p.From.Before(p.To) {
		return p, fmt.Errorf("%w: report period starts %s, after it ends %s",
			ErrInvalidArgument, p.From.Format(time.RFC3339), p.To.Format(time.RFC3339))
	}
	return p, nil
}

// FinancialReport summarizes what standing ledger batches earned and spent
// over a period. Reversed batches and their compensations are left out.
type FinancialReport struct {
	ReportPeriod
	Revenue    Money          `json:"revenue"`  // customer payments
	Expenses   Money          `json:"expenses"` // supplier payments
	NetProfit  Money          `json:"net_profit"`
	TopSellers []ProductSales `json:"top_sellers,omitempty"`
}

// ProductSales is the sales volume of one item over a report period.
type ProductSales struct {
	ItemID  string `json:"item_id"`
	Name    string `json:"name"`
	Units   int64  `json:"units"`
	Revenue Money  `json:"revenue"`
}
