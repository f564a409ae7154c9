package ui

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/example/o2c-lite/internal/domain"
)

var (
	header  = color.New(color.Bold, color.FgBlue)
	success = color.New(color.FgGreen)
	failure = color.New(color.FgRed)
	warning = color.New(color.FgYellow)
	step    = color.New(color.FgCyan)
	faint   = color.New(color.FgHiBlack)
)

// Out is where everything is printed. Tests replace it.
var Out io.Writer = os.Stdout

// PrintHeader prints a section header
func PrintHeader(title string) {
	line := strings.Repeat("=", len(title)+4)
	header.Fprintf(Out, "\n%s\n  %s  \n%s\n\n", line, title, line)
}

// PrintStep prints a step in progress
func PrintStep(message string) {
	fmt.Fprintf(Out, "%s %s\n", step.Sprint("▶"), message)
}

// PrintSuccess prints a success message
func PrintSuccess(message string) {
	fmt.Fprintf(Out, "%s %s\n", success.Sprint("✓"), message)
}

// PrintError prints an error message
func PrintError(message string) {
	fmt.Fprintf(Out, "%s %s\n", failure.Sprint("✗"), message)
}

// PrintWarning prints a warning message
func PrintWarning(message string) {
	fmt.Fprintf(Out, "%s %s\n", warning.Sprint("⚠"), message)
}

// PrintInfo prints an informational message
func PrintInfo(message string) {
	fmt.Fprintf(Out, "  %s\n", message)
}

// PrintResponse prints the reply to a customer request, colored by outcome.
func PrintResponse(resp *domain.Response) {
	switch resp.Outcome {
	case domain.OutcomeAnswered, domain.OutcomeQuoted, domain.OutcomeOrdered:
		PrintSuccess(resp.Message)
	case domain.OutcomeClarification:
		PrintWarning(resp.Message)
	default:
		PrintError(resp.Message)
	}
	faint.Fprintf(Out, "  request %s · intent %s · %s\n", resp.RequestID, resp.Intent, resp.Status)
	if resp.Rejection != nil {
		faint.Fprintf(Out, "  %s: %s\n", resp.Rejection.Code, resp.Rejection.Reason)
	}
	if resp.Balances != nil {
		faint.Fprintf(Out, "  cash %s · inventory %s\n", resp.Balances.Cash, resp.Balances.InventoryValue)
	}
}

// PrintBalances prints the financial summary.
func PrintBalances(b *domain.Balances) {
	PrintHeader("Financial Summary")
	PrintInfo(fmt.Sprintf("Cash:            %12s", b.Cash))
	PrintInfo(fmt.Sprintf("Inventory value: %12s", b.InventoryValue))
	PrintInfo(fmt.Sprintf("Total assets:    %12s", b.TotalAssets))
	PrintInfo("")
	for _, item := range b.Items {
		line := fmt.Sprintf("%-14s %8d × %-7s = %10s", item.ItemID, item.Stock, item.UnitPrice, item.Value)
		if item.NeedsReorder {
			PrintWarning(line + "  (reorder)")
		} else {
			PrintInfo(line)
		}
	}
	if r := b.Report; r != nil {
		PrintHeader(fmt.Sprintf("Report %s to %s", r.From.Format(time.DateOnly), r.To.Format(time.DateOnly)))
		PrintInfo(fmt.Sprintf("Revenue:         %12s", r.Revenue))
		PrintInfo(fmt.Sprintf("Expenses:        %12s", r.Expenses))
		PrintInfo(fmt.Sprintf("Net profit:      %12s", r.NetProfit))
		if len(r.TopSellers) > 0 {
			PrintInfo("")
			PrintInfo("Top sellers:")
			for i, ps := range r.TopSellers {
				PrintInfo(fmt.Sprintf("%2d. %-20s %8d units  %10s", i+1, ps.Name, ps.Units, ps.Revenue))
			}
		}
	}
}

// PrintQuoteLine prints one row of a quote search.
func PrintQuoteLine(q *domain.Quote) {
	items := make([]string, 0, len(q.Lines))
	for _, l := range q.Lines {
		items = append(items, fmt.Sprintf("%d %s", l.Quantity, l.ItemID))
	}
	fmt.Fprintf(Out, "%s  %-14s %-8s %10s  %s\n",
		faint.Sprint(q.CreatedAt.Format("2006-01-02 15:04")), q.ID, q.Status, q.Total, strings.Join(items, ", "))
}

// PrintQuoteValidation prints whether a quote still stands.
func PrintQuoteValidation(v *domain.QuoteValidation) {
	if v.Valid {
		PrintSuccess(fmt.Sprintf("Quote %s for %s is valid until %s", v.Quote.ID, v.Quote.Total, v.Quote.ValidUntil.Format(time.DateOnly)))
		return
	}
	PrintError(fmt.Sprintf("Quote %s cannot be accepted: %s", v.Quote.ID, v.Reason))
}

// PrintAudit prints one audit record with its execution traces.
func PrintAudit(rec *domain.AuditRecord) {
	PrintHeader("Request " + rec.RequestID)
	PrintInfo(fmt.Sprintf("Text:     %q", rec.Text))
	PrintInfo(fmt.Sprintf("Intent:   %s (confidence %.2f, %d classifier attempts)", rec.Intent.Kind, rec.Intent.Confidence, rec.ClassifierAttempts))
	PrintInfo(fmt.Sprintf("Outcome:  %s / %s", rec.Outcome, rec.FinalStatus))
	PrintInfo(fmt.Sprintf("Duration: %s", rec.FinishedAt.Sub(rec.StartedAt)))
	if rec.Error != "" {
		PrintError(rec.Error)
	}
	for _, exec := range rec.Executions {
		PrintInfo("")
		PrintStep(fmt.Sprintf("execution %s (attempt %d): %s", exec.CorrelationID, exec.Attempt, exec.Status))
		for _, r := range exec.Results {
			msg := fmt.Sprintf("  %s/%d %s", r.StepKind, r.StepIndex, r.Kind)
			if r.Reason != "" {
				msg += ": " + r.Reason
			}
			PrintInfo(msg)
		}
		if exec.FailureReason != "" {
			PrintWarning(exec.FailureReason)
		}
		if len(exec.CompensationBatches) > 0 {
			PrintInfo(fmt.Sprintf("  compensated by %s", strings.Join(exec.CompensationBatches, ", ")))
		}
	}
}

// PrintAuditLine prints one row of the audit list.
func PrintAuditLine(rec *domain.AuditRecord) {
	fmt.Fprintf(Out, "%s  %-13s %-16s %s\n",
		faint.Sprint(rec.StartedAt.Format("2006-01-02 15:04:05")), rec.Outcome, rec.Intent.Kind, rec.RequestID)
}
