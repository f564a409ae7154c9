package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/example/o2c-lite/cmd/o2c/internal/ui"
	"github.com/example/o2c-lite/internal/domain"
	"github.com/example/o2c-lite/internal/storage"
)

var (
	quoteStatus string
	quoteLimit  int
)

var quotesCmd = &cobra.Command{
	Use:   "quotes",
	Short: "Search past quotes or check whether one still stands",
}

var quotesSearchCmd = &cobra.Command{
	Use:   "search [terms...]",
	Short: "List quotes matching any of the terms",
	Long: `List issued quotes, newest first. A quote matches when any term appears
in its ID, customer or line items.

EXAMPLES:
  o2c quotes search
  o2c quotes search cardstock glossy
  o2c quotes search --status pending --limit 5`,
	RunE: func(cmd *cobra.Command, args []string) error {
		q := storage.QuoteSearch{Terms: args, Status: domain.QuoteStatus(quoteStatus), Limit: quoteLimit}
		return withDesk(cmd.Context(), func(d desk) error {
			quotes, err := d.SearchQuotes(cmd.Context(), q)
			if err != nil {
				return err
			}
			if len(quotes) == 0 {
				ui.PrintInfo("No matching quotes.")
				return nil
			}
			ui.PrintHeader(fmt.Sprintf("%d quotes", len(quotes)))
			for _, quote := range quotes {
				ui.PrintQuoteLine(quote)
			}
			return nil
		})
	},
}

var quotesValidateCmd = &cobra.Command{
	Use:   "validate <quote-id>",
	Short: "Check whether a quote can still be accepted",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDesk(cmd.Context(), func(d desk) error {
			v, err := d.ValidateQuote(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			ui.PrintQuoteValidation(v)
			return nil
		})
	},
}

func init() {
	for _, cmd := range []*cobra.Command{quotesSearchCmd, quotesValidateCmd} {
		addServerFlag(cmd)
		quotesCmd.AddCommand(cmd)
	}
	quotesSearchCmd.Flags().StringVar(&quoteStatus, "status", "", "only quotes in this state (pending, accepted, expired)")
	quotesSearchCmd.Flags().IntVarP(&quoteLimit, "limit", "n", 20, "maximum number of quotes")
}
