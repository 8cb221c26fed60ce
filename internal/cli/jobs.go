package cli

import (
	"errors"
	"time"

	"github.com/spf13/cobra"

	"github.com/dukerupert/allowance/internal/materialize"
	"github.com/dukerupert/allowance/internal/recurrence"
	"github.com/dukerupert/allowance/internal/scheduler"
	"github.com/dukerupert/allowance/internal/server"
	"github.com/dukerupert/allowance/internal/store"
)

// NewMaterializeCommand creates the materialize command.
func NewMaterializeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "materialize",
		Short: "Create occurrences for every active series over the horizon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := rootOpts.load()
			if err != nil {
				return err
			}
			db, err := openDB(cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			m := materialize.New(store.NewSeriesStore(db), cfg.HorizonDays, logger)
			res, err := m.Materialize(cmd.Context(), recurrence.Today(time.Now(), cfg.Location()))
			if err != nil {
				return err
			}
			if err := printJSON(cmd.OutOrStdout(), res); err != nil {
				return err
			}
			if len(res.Failures) > 0 {
				return &ExitError{Code: ExitFailure, Message: "some series failed to materialize"}
			}
			return nil
		},
	}
}

// NewRunDailyCommand creates the run-daily command.
func NewRunDailyCommand(rootOpts *RootOptions) *cobra.Command {
	var date string

	cmd := &cobra.Command{
		Use:   "run-daily",
		Short: "Run one daily cycle (defaults to crediting yesterday)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var target *time.Time
			if date != "" {
				d, err := recurrence.ParseDate(date)
				if err != nil {
					return &ExitError{Code: ExitCommandError, Message: "invalid --date", Err: err}
				}
				target = &d
			}

			cfg, logger, err := rootOpts.load()
			if err != nil {
				return err
			}
			db, err := openDB(cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			driver := server.NewDriver(db, cfg, nil, logger)
			sum, err := driver.RunDailyCycle(cmd.Context(), target)
			var verr *scheduler.ValidationError
			if errors.As(err, &verr) {
				return &ExitError{Code: ExitCommandError, Message: verr.Msg}
			}
			if perr := printJSON(cmd.OutOrStdout(), sum); perr != nil {
				return perr
			}
			if err != nil {
				return err
			}
			if len(sum.Failures) > 0 {
				return &ExitError{Code: ExitFailure, Message: "daily cycle reported failures"}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&date, "date", "", "target date YYYY-MM-DD")
	return cmd
}

// NewReprocessCommand creates the reprocess command.
func NewReprocessCommand(rootOpts *RootOptions) *cobra.Command {
	var startDate, endDate string

	cmd := &cobra.Command{
		Use:   "reprocess",
		Short: "Re-run reward evaluation over a past date range",
		Long: `Re-run reward evaluation for every date from --start-date to --end-date
inclusive. Rewards already credited are left alone, so the command is safe to
repeat.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			start, err := recurrence.ParseDate(startDate)
			if err != nil {
				return &ExitError{Code: ExitCommandError, Message: "invalid --start-date", Err: err}
			}
			end, err := recurrence.ParseDate(endDate)
			if err != nil {
				return &ExitError{Code: ExitCommandError, Message: "invalid --end-date", Err: err}
			}

			cfg, logger, err := rootOpts.load()
			if err != nil {
				return err
			}
			db, err := openDB(cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			driver := server.NewDriver(db, cfg, nil, logger)
			sum, err := driver.Reprocess(cmd.Context(), start, end)
			var verr *scheduler.ValidationError
			if errors.As(err, &verr) {
				return &ExitError{Code: ExitCommandError, Message: verr.Msg}
			}
			if perr := printJSON(cmd.OutOrStdout(), sum); perr != nil {
				return perr
			}
			if err != nil {
				return err
			}
			if sum.Failures > 0 {
				return &ExitError{Code: ExitFailure, Message: "reprocess reported failures"}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&startDate, "start-date", "", "first date YYYY-MM-DD (required)")
	cmd.Flags().StringVar(&endDate, "end-date", "", "last date YYYY-MM-DD (required)")
	cmd.MarkFlagRequired("start-date")
	cmd.MarkFlagRequired("end-date")
	return cmd
}
