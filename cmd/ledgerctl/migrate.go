package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spei-ledger/internal/platform/persistence"
)

func (app *cli) migrateCmd() *cobra.Command {
	var path string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending PostgreSQL migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if path == "" {
				path = app.cfg.Postgres.MigrationsPath
			}
			if err := persistence.RunMigrations(app.cfg.Postgres.URL, path); err != nil {
				return err
			}
			app.log.Info("PostgreSQL migrations applied", "path", path)
			fmt.Fprintln(app.out, "migrations applied")
			return nil
		},
	}

	cmd.Flags().StringVar(&path, "path", "", "migrations directory (defaults to POSTGRES_MIGRATIONS_PATH)")

	return cmd
}
