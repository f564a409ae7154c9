package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/o2c-lite/cmd/o2c/internal/ui"
	"github.com/example/o2c-lite/internal/domain"
)

var reportFrom, reportTo string

var balancesCmd = &cobra.Command{
	Use:   "balances",
	Short: "Show cash, inventory value, total assets and the sales report",
	Long: `Show the current balances and a financial report of revenue, supplier
expenses, net profit and top sellers. The report covers the year to date
unless --from or --to say otherwise; --to includes the whole day.

EXAMPLES:
  o2c balances
  o2c balances --from 2026-04-01 --to 2026-06-30`,
	RunE: func(cmd *cobra.Command, args []string) error {
		period, err := parsePeriod(reportFrom, reportTo)
		if err != nil {
			return err
		}
		return withDesk(cmd.Context(), func(d desk) error {
			b, err := d.GetBalances(cmd.Context(), period)
			if err != nil {
				return err
			}
			ui.PrintBalances(b)
			return nil
		})
	},
}

func init() {
	addServerFlag(balancesCmd)
	balancesCmd.Flags().StringVar(&reportFrom, "from", "", "first day of the report (YYYY-MM-DD)")
	balancesCmd.Flags().StringVar(&reportTo, "to", "", "last day of the report (YYYY-MM-DD)")
}

func parsePeriod(from, to string) (domain.ReportPeriod, error) {
	var p domain.ReportPeriod
	if from != "" {
		t, err := time.ParseInLocation(time.DateOnly, from, time.Local)
		if err != nil {
			return p, fmt.Errorf("--from: %w", err)
		}
		p.From = t
	}
	if to != "" {
		t, err := time.ParseInLocation(time.DateOnly, to, time.Local)
		if err != nil {
			return p, fmt.Errorf("--to: %w", err)
		}
		p.To = t.AddDate(0, 0, 1)
	}
	return p, nil
}
