package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidExecutionStatusTransition(t *testing.T) {
	tests := []struct {
		from, to ExecutionStatus
		want     bool
	}{
		{ExecutionStatusPending, ExecutionStatusInProgress, true},
		{ExecutionStatusPending, ExecutionStatusAwaitingCommit, true},
		{ExecutionStatusInProgress, ExecutionStatusAwaitingCommit, true},
		{ExecutionStatusInProgress, ExecutionStatusFailed, true},
		{ExecutionStatusInProgress, ExecutionStatusCompensated, true},
		{ExecutionStatusAwaitingCommit, ExecutionStatusCommitted, true},
		{ExecutionStatusAwaitingCommit, ExecutionStatusCompensated, true},
		{ExecutionStatusAwaitingCommit, ExecutionStatusFailed, true},
		{ExecutionStatusInProgress, ExecutionStatusPending, false},
		{ExecutionStatusAwaitingCommit, ExecutionStatusInProgress, false},
		{ExecutionStatusCommitted, ExecutionStatusCompensated, false},
		{ExecutionStatusFailed, ExecutionStatusInProgress, false},
		{ExecutionStatusPending, ExecutionStatusCommitted, false},
	}
	for _, tt := range tests {
		got := ValidExecutionStatusTransition(tt.from, tt.to)
		assert.Equal(t, tt.want, got, "%s -> %s", tt.from, tt.to)
	}
}

func TestExecutionRecordAdvances(t *testing.T) {
	plan := NewPlan(IntentRequestQuote,
		Step{Kind: StepCheckStock},
		Step{Kind: StepComputeQuote},
	)
	exec := NewWorkflowExecution("req-1", plan, 1)
	require.NoError(t, exec.SetStatus(ExecutionStatusInProgress))

	step, ok := exec.NextStep()
	require.True(t, ok)
	assert.Equal(t, StepCheckStock, step.Kind)

	res := Success(&Payload{})
	res.StepIndex, res.StepKind = step.Index, step.Kind
	require.NoError(t, exec.Record(res))

	// recording against a step that is no longer pending is rejected
	err := exec.Record(res)
	assert.True(t, errors.Is(err, ErrInvalidState))

	step, _ = exec.NextStep()
	prop := &Proposal{ID: "p1"}
	res = Success(&Payload{Proposal: prop})
	res.StepIndex, res.StepKind = step.Index, step.Kind
	require.NoError(t, exec.Record(res))

	assert.Equal(t, ExecutionStatusAwaitingCommit, exec.Status)
	assert.Len(t, exec.PendingProposals(), 1)
	_, ok = exec.NextStep()
	assert.False(t, ok)
	assert.ErrorIs(t, exec.Record(res), ErrNoPendingStep)
	assert.Len(t, exec.History(), 2)
}

func TestPlanIsImmutable(t *testing.T) {
	items := []LineItem{{ItemID: "A4-PAPER", Quantity: 5}}
	plan := NewPlan(IntentCheckInventory, Step{Kind: StepCheckStock, Input: StepInput{Items: items}})

	items[0].Quantity = 99
	steps := plan.Steps()
	steps[0].Kind = StepFulfillOrder

	assert.Equal(t, int64(5), plan.Step(0).Input.Items[0].Quantity)
	assert.Equal(t, StepCheckStock, plan.Step(0).Kind)
}

func TestPlanJSON(t *testing.T) {
	plan := NewPlan(IntentPlaceOrder,
		Step{Kind: StepCheckStock},
		Step{Kind: StepReserveStock, CommitPoint: true},
	)
	data, err := json.Marshal(plan)
	require.NoError(t, err)

	var decoded Plan
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, plan.Kinds(), decoded.Kinds())
	assert.True(t, decoded.Step(1).CommitPoint)
	assert.Equal(t, IntentPlaceOrder, decoded.Intent())
}

func TestPriceLineBulkDiscount(t *testing.T) {
	tests := []struct {
		qty      int64
		wantPct  int64
		wantCost Money
	}{
		{500, 0, 2500},
		{1000, 5, 4750},
		{5000, 10, 22500},
		{10000, 15, 42500},
	}
	for _, tt := range tests {
		line, err := PriceLine("A4-PAPER", "A4 paper", tt.qty, 5)
		require.NoError(t, err)
		assert.Equal(t, tt.wantPct, line.DiscountPercent, "qty %d", tt.qty)
		assert.Equal(t, tt.wantCost, line.Subtotal, "qty %d", tt.qty)
		assert.Equal(t, Money(tt.qty*5)-tt.wantCost, line.Savings)
	}
}

func TestPriceLineRejectsOutOfRangeLines(t *testing.T) {
	tests := []struct {
		name  string
		qty   int64
		price Money
	}{
		{"zero quantity", 0, 5},
		{"negative quantity", -3, 5},
		{"above the line maximum", 200000000000000000, 5},
		{"one past the maximum", MaxLineQuantity + 1, 5},
		{"negative price", 10, -1},
		{"total overflows", MaxLineQuantity, Money(math.MaxInt64 / 1000)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := PriceLine("A4-PAPER", "A4 paper", tt.qty, tt.price)
			assert.ErrorIs(t, err, ErrInvalidArgument)
		})
	}

	line, err := PriceLine("A4-PAPER", "A4 paper", MaxLineQuantity, 5)
	require.NoError(t, err)
	assert.Positive(t, line.Subtotal)
	assert.Equal(t, Money(42_500_000), line.Subtotal)
}

func TestAddMoneyOverflow(t *testing.T) {
	sum, err := AddMoney(150, 250)
	require.NoError(t, err)
	assert.Equal(t, Money(400), sum)

	_, err = AddMoney(Money(math.MaxInt64), 1)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = AddMoney(Money(math.MinInt64), -1)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestItemReorder(t *testing.T) {
	item := Item{Stock: 30, MinStockLevel: 100}
	assert.True(t, item.NeedsReorder())
	assert.Equal(t, int64(200), item.ReorderQuantity())

	item = Item{Stock: 0, MinStockLevel: 1000}
	assert.Equal(t, int64(2000), item.ReorderQuantity())
	assert.Equal(t, 5*24, int(SupplierLeadTime(2000).Hours()))
	assert.Equal(t, 3*24, int(SupplierLeadTime(999).Hours()))
	assert.Equal(t, 7*24, int(SupplierLeadTime(5000).Hours()))
}

func TestShortageError(t *testing.T) {
	err := error(&ShortageError{Shortages: []Shortage{{ItemID: "A4-PAPER", Requested: 10000, Available: 100}}})
	assert.ErrorIs(t, err, ErrInsufficientStock)
	assert.True(t, IsBusinessRule(err))
	assert.Contains(t, err.Error(), "A4-PAPER (requested 10000, available 100)")

	var se *ShortageError
	require.True(t, errors.As(err, &se))
	assert.Len(t, se.Shortages, 1)
}

func TestErrorCode(t *testing.T) {
	assert.Equal(t, "insufficient_stock", ErrorCode(&ShortageError{}))
	assert.Equal(t, "conflict", ErrorCode(fmt.Errorf("commit: %w", ErrConflict)))
	assert.Equal(t, "", ErrorCode(errors.New("disk I/O error")))
	assert.Equal(t, "", ErrorCode(nil))
}

func TestVersionStampMerge(t *testing.T) {
	s := VersionStamp{"A": 1, CashKey: 4}
	require.NoError(t, s.Merge(VersionStamp{"B": 2, CashKey: 4}))
	assert.Equal(t, []string{CashKey, "A", "B"}, s.Keys())
	assert.ErrorIs(t, s.Merge(VersionStamp{"A": 2}), ErrConflict)
}

func TestMoneyString(t *testing.T) {
	assert.Equal(t, "$25.00", Money(2500).String())
	assert.Equal(t, "-$0.05", Money(-5).String())
	assert.Equal(t, Money(5), Dollars(0.05))
}

func TestReportPeriodResolve(t *testing.T) {
	now := time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)

	p, err := ReportPeriod{}.Resolve(now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), p.From)
	assert.Equal(t, now, p.To)

	est := time.FixedZone("EST", -5*3600)
	p, err = ReportPeriod{From: time.Date(2026, 3, 1, 0, 0, 0, 0, est)}.Resolve(now)
	require.NoError(t, err)
	assert.Equal(t, time.UTC, p.From.Location())
	assert.Equal(t, 5, p.From.Hour())

	_, err = ReportPeriod{From: now, To: now}.Resolve(now)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = ReportPeriod{From: now.Add(time.Hour)}.Resolve(now)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestQuoteValidate(t *testing.T) {
	now := time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)
	q := &Quote{ID: "Q-2026-000001", Status: QuoteStatusPending, ValidUntil: now.Add(time.Hour)}

	v := q.Validate(now)
	assert.True(t, v.Valid)
	assert.Same(t, q, v.Quote)

	v = q.Validate(now.Add(2 * time.Hour))
	assert.False(t, v.Valid)
	assert.Contains(t, v.Reason, "valid until 2026-06-15T13:00:00Z")

	q.Status = QuoteStatusAccepted
	assert.Equal(t, "quote is accepted", q.Validate(now).Reason)
	q.Status = QuoteStatusExpired
	assert.Equal(t, "quote has expired", q.Validate(now).Reason)
}
