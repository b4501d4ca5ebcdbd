package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spei-ledger/internal/data/postgres"
	"github.com/spei-ledger/internal/platform/clock"
	"github.com/spei-ledger/internal/platform/persistence"
	"github.com/spei-ledger/internal/webhook"
)

func (app *cli) purgeWebhooksCmd() *cobra.Command {
	var retention time.Duration

	cmd := &cobra.Command{
		Use:   "purge-webhooks",
		Short: "Delete processed webhook records older than the retention",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if retention == 0 {
				retention = app.cfg.Webhook.Retention
			}
			if retention <= 0 {
				return fmt.Errorf("retention must be positive")
			}

			postgresDB, err := persistence.NewPostgresDB(cmd.Context(), app.log, &app.cfg.Postgres)
			if err != nil {
				return fmt.Errorf("failed to initialize PostgreSQL: %w", err)
			}
			defer postgresDB.Close()

			purger := webhook.NewPurger(app.log, postgres.NewWebhookRepository(app.log, postgresDB), retention, clock.Real())
			deleted, err := purger.PurgeOnce(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(app.out, "deleted %d processed webhook records\n", deleted)
			return nil
		},
	}

	cmd.Flags().DurationVar(&retention, "retention", 0, "age after which processed records are deleted (defaults to WEBHOOK_RETENTION)")

	return cmd
}
