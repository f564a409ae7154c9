package cli

import (
	"github.com/spf13/cobra"

	"github.com/example/o2c-lite/cmd/o2c/internal/ui"
	"github.com/example/o2c-lite/internal/observability"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or upgrade the database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(cmd.Context(), cfg, observability.NewMetrics())
		if err != nil {
			return err
		}
		defer store.Close()
		ui.PrintSuccess("Migrated " + cfg.Storage.Path)
		return nil
	},
}
