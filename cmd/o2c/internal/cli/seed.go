package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/example/o2c-lite/cmd/o2c/internal/ui"
	"github.com/example/o2c-lite/internal/catalog"
	"github.com/example/o2c-lite/internal/observability"
)

var catalogPath string

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load the item catalog and opening cash",
	Long: `Load catalog items from YAML into the database.

Items are upserted: names, categories, prices and minimum levels are
updated, stock is only set for new items. Opening cash is applied only
while the cash account is empty.

EXAMPLES:
  o2c seed
  o2c seed --catalog ./my-catalog.yaml`,
	RunE: runSeed,
}

func init() {
	seedCmd.Flags().StringVar(&catalogPath, "catalog", "", "catalog YAML (default catalog.path from config)")
}

func runSeed(cmd *cobra.Command, args []string) error {
	path := catalogPath
	if path == "" {
		path = cfg.Catalog.Path
	}
	c, err := catalog.Load(path)
	if err != nil {
		return err
	}

	store, err := openStore(cmd.Context(), cfg, observability.NewMetrics())
	if err != nil {
		return err
	}
	defer store.Close()

	res, err := catalog.Seed(cmd.Context(), store, c)
	if err != nil {
		return err
	}
	ui.PrintSuccess(fmt.Sprintf("Seeded %d items from %s", res.Items, path))
	if res.CashApplied {
		ui.PrintInfo(fmt.Sprintf("Opening cash set to $%.2f", c.OpeningCash))
	} else {
		ui.PrintWarning("Cash account already funded; opening cash left unchanged")
	}
	return nil
}
