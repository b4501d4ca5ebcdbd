package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spei-ledger/internal/config"
	"github.com/spei-ledger/internal/logger"
)

// cli carries what every subcommand needs once the root command has loaded
// the configuration.
type cli struct {
	configName string
	cfg        *config.Config
	log        *slog.Logger
	out        io.Writer
}

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd(out io.Writer) *cobra.Command {
	app := &cli{out: out}

	rootCmd := &cobra.Command{
		Use:           "ledgerctl",
		Short:         "Operator tooling for the SPEI ledger",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(app.configName)
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			app.cfg = cfg
			app.log = logger.NewLogger(cfg)
			return nil
		},
	}
	rootCmd.SetOut(out)
	rootCmd.PersistentFlags().StringVarP(&app.configName, "config", "c", "ledgerctl", "configuration file base name")

	rootCmd.AddCommand(app.reconcileCmd())
	rootCmd.AddCommand(app.migrateCmd())
	rootCmd.AddCommand(app.purgeWebhooksCmd())

	return rootCmd
}
