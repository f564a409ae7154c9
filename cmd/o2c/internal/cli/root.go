package cli

import (
	"github.com/spf13/cobra"

	"github.com/example/o2c-lite/internal/config"
)

var (
	configPath string
	cfg        *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "o2c",
	Short: "Order-to-cash orchestration for a paper supply business",
	Long: `o2c turns free-text customer requests into inventory answers, quotes and
orders. Every request is classified, planned as a workflow and executed step
by step; ledger changes commit atomically or not at all.

WORKFLOW:
  1. o2c migrate
  2. o2c seed --catalog configs/catalog.yaml
  3. o2c serve
  4. o2c ask --server localhost:50051 "quote 500 A4 glossy paper"

EXAMPLES:
  # Ask against the local database without a server
  o2c ask "do you have 200 cardstock in stock?"

  # Continue a conversation
  o2c ask --session s-42 "great, I'll take them"

  # Inspect what happened to a request
  o2c audit <request-id>

  # Check an earlier quote before ordering against it
  o2c quotes validate Q-2026-4F2A91

CONFIGURATION:
  Settings come from o2c.yaml (or --config) and O2C_* environment
  variables, e.g. O2C_STORAGE_PATH or O2C_CLASSIFIER_PROVIDER=anthropic.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
		return nil
	},
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default ./o2c.yaml or ./configs/o2c.yaml)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(seedCmd)
	rootCmd.AddCommand(balancesCmd)
	rootCmd.AddCommand(quotesCmd)
	rootCmd.AddCommand(auditCmd)
	rootCmd.AddCommand(versionCmd)
}
