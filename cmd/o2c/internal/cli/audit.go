package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/example/o2c-lite/cmd/o2c/internal/ui"
	"github.com/example/o2c-lite/internal/storage"
)

var auditLimit int

var auditCmd = &cobra.Command{
	Use:   "audit [request-id]",
	Short: "Show the audit trail of a request, or list recent requests",
	Long: `Show how a request was classified, which steps ran, what they returned
and which ledger batches were committed or compensated.

Without a request ID, lists the most recent requests from the local
database.

EXAMPLES:
  o2c audit
  o2c audit --limit 50
  o2c audit --server localhost:50051 3f0c9a4e-...`,
	Args: cobra.MaximumNArgs(1),
	RunE: runAudit,
}

func init() {
	addServerFlag(auditCmd)
	auditCmd.Flags().IntVarP(&auditLimit, "limit", "n", 20, "number of requests to list")
}

func runAudit(cmd *cobra.Command, args []string) error {
	if len(args) == 1 {
		return withDesk(cmd.Context(), func(d desk) error {
			rec, err := d.GetAudit(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			ui.PrintAudit(rec)
			return nil
		})
	}

	if serverAddr != "" {
		return errors.New("listing audits needs the local database; pass a request ID to use --server")
	}
	a, err := newApp(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	recs, err := a.orchestrator.ListAudits(cmd.Context(), storage.ListOptions{Limit: auditLimit})
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		ui.PrintInfo("No requests yet. Try: o2c ask \"do you have cardstock in stock?\"")
		return nil
	}
	ui.PrintHeader(fmt.Sprintf("Last %d requests", len(recs)))
	for _, rec := range recs {
		ui.PrintAuditLine(rec)
	}
	return nil
}
