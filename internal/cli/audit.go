package cli

import (
	"github.com/spf13/cobra"

	"github.com/dukerupert/allowance/internal/model"
	"github.com/dukerupert/allowance/internal/store"
)

// AuditReport is the output of the audit command.
type AuditReport struct {
	Drift      []model.BalanceDrift    `json:"drift"`
	Duplicates []model.DuplicateReward `json:"duplicates"`
	Rebuilt    int                     `json:"rebuilt,omitempty"`
}

// NewAuditCommand creates the audit command.
func NewAuditCommand(rootOpts *RootOptions) *cobra.Command {
	var fix bool

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Check cached balances and daily rewards against the ledger",
		Long: `Report wallets whose cached balance differs from the sum of their
ledger rows and any daily reward credited more than once. With --fix, cached
balances are recomputed from the ledger. Duplicate rows are reported only.`,
		Args: cobra.NoArgs,
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

			ctx := cmd.Context()
			wallets := store.NewWalletStore(db)

			var report AuditReport
			if report.Drift, err = wallets.FindDrift(ctx); err != nil {
				return err
			}
			if report.Duplicates, err = wallets.FindDuplicateRewards(ctx); err != nil {
				return err
			}
			if report.Drift == nil {
				report.Drift = []model.BalanceDrift{}
			}
			if report.Duplicates == nil {
				report.Duplicates = []model.DuplicateReward{}
			}

			if fix && len(report.Drift) > 0 {
				if report.Rebuilt, err = wallets.RebuildBalances(ctx); err != nil {
					return err
				}
				logger.Info("balances rebuilt", "wallets", report.Rebuilt)
			}

			if err := printJSON(cmd.OutOrStdout(), report); err != nil {
				return err
			}
			if (len(report.Drift) > 0 && !fix) || len(report.Duplicates) > 0 {
				return &ExitError{Code: ExitFailure, Message: "ledger audit found problems"}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&fix, "fix", false, "recompute cached balances from the ledger")
	return cmd
}
