package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spei-ledger/internal/data/mongo"
	"github.com/spei-ledger/internal/data/postgres"
	"github.com/spei-ledger/internal/platform/clock"
	"github.com/spei-ledger/internal/platform/opm"
	"github.com/spei-ledger/internal/platform/persistence"
	"github.com/spei-ledger/internal/reconciliation"
	"github.com/spei-ledger/internal/statemachine"
)

func (app *cli) reconcileCmd() *cobra.Command {
	var (
		account string
		window  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Run one reconciliation sweep against the payment processor",
		Long: `Pulls the processor's orders for the window, brings the local ledger in
line with them and compares balances. The run summary is printed as JSON
and stored with the other reconciliation reports.

Examples:
  ledgerctl reconcile
  ledgerctl reconcile --window 72h --account 646180000000000012`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if window < 0 {
				return fmt.Errorf("window must not be negative")
			}
			ctx := cmd.Context()
			clk := clock.Real()

			postgresDB, err := persistence.NewPostgresDB(ctx, app.log, &app.cfg.Postgres)
			if err != nil {
				return fmt.Errorf("failed to initialize PostgreSQL: %w", err)
			}
			defer postgresDB.Close()

			mongoDB, err := persistence.NewMongoDB(ctx, app.log, &app.cfg.MongoDB)
			if err != nil {
				return fmt.Errorf("failed to initialize MongoDB: %w", err)
			}
			defer mongoDB.Close(ctx)

			opmClient, err := opm.NewClient(app.log, &app.cfg.OPM, nil)
			if err != nil {
				return fmt.Errorf("failed to initialize OPM client: %w", err)
			}

			transactionRepo := postgres.NewTransactionRepository(app.log, postgresDB)
			machine := statemachine.NewMachine(app.log, postgresDB, transactionRepo,
				postgres.NewStateLogRepository(app.log, postgresDB),
				postgres.NewOutboxRepository(app.log, postgresDB), clk)

			job := reconciliation.NewJob(app.log, &app.cfg.Reconciliation, &app.cfg.OPM, postgresDB,
				transactionRepo, postgres.NewAccountRepository(app.log, postgresDB), machine, opmClient,
				mongo.NewReportRepository(app.log, mongoDB.Database()), clk)

			summary, err := job.Run(ctx, reconciliation.Options{
				Account:     account,
				Window:      window,
				RequestedBy: "ledgerctl",
			})
			if err != nil {
				return fmt.Errorf("reconciliation failed: %w", err)
			}

			enc := json.NewEncoder(app.out)
			enc.SetIndent("", "  ")
			return enc.Encode(summary)
		},
	}

	cmd.Flags().StringVar(&account, "account", "", "CLABE whose balance is compared (defaults to the concentrator account)")
	cmd.Flags().DurationVar(&window, "window", 0, "lookback window (defaults to RECONCILIATION_WINDOW)")

	return cmd
}
