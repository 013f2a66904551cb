package cli

import (
	"fmt"
	"io"

	"competition-engine/models"
	"competition-engine/store"

	"github.com/spf13/cobra"
)

// NewReconcileCommand runs a single reconciliation tick.
func NewReconcileCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Run one reconciliation tick",
		Long: `End expired competitions, finalize ended ones and activate the next
scheduled competition of each kind. Exits non-zero when any item failed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, err := NewApp(ctx, opts, true)
			if err != nil {
				return err
			}
			defer app.Close()

			report := app.Reconciler.Tick(ctx)
			if err := render(cmd.OutOrStdout(), opts.Format, report, func(w io.Writer) { printTick(w, report) }); err != nil {
				return err
			}
			if !report.Clean() {
				return fmt.Errorf("%d item(s) failed", len(report.Errors))
			}
			return nil
		},
	}
}

// NewMonitorCommand runs the consistency checks once.
func NewMonitorCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "monitor",
		Short: "Run the consistency checks once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, err := NewApp(ctx, opts, true)
			if err != nil {
				return err
			}
			defer app.Close()

			report := app.Monitor.RunHealthCheck(ctx)
			if err := render(cmd.OutOrStdout(), opts.Format, report, func(w io.Writer) { printHealth(w, report) }); err != nil {
				return err
			}
			if !report.Healthy {
				return fmt.Errorf("health check failed")
			}
			return nil
		},
	}
}

// NewFinalizeCommand finalizes one competition by id.
func NewFinalizeCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "finalize <competition-id>",
		Short: "Finalize an expired competition",
		Long: `Finalize an expired competition into its ranking snapshot. Finalizing a
completed competition prints the existing snapshot.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, err := NewApp(ctx, opts, true)
			if err != nil {
				return err
			}
			defer app.Close()

			res, err := app.Finalizer.Finalize(ctx, args[0], models.TriggerManual)
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), opts.Format, res, func(w io.Writer) { printFinalization(w, res) })
		},
	}
}

// NewMigrateCommand applies the schema.
func NewMigrateCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := NewApp(cmd.Context(), opts, false)
			if err != nil {
				return err
			}
			defer app.Close()

			if err := store.Migrate(app.DB, app.Config.DatabaseDriver, app.Config.DatabaseURL); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s schema is up to date\n", app.Config.DatabaseDriver)
			return nil
		},
	}
}
