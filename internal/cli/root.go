package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/dukerupert/allowance/internal/config"
	"github.com/dukerupert/allowance/internal/database"
	"github.com/dukerupert/allowance/internal/logging"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0
	ExitFailure      = 1 // the job ran but reported failures
	ExitCommandError = 2 // bad flags, bad config or an unreachable database
)

// ExitError carries the process exit code for a failed command.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// GetExitCode extracts the exit code from an error. Plain errors map to
// ExitFailure.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	LogLevel   string
}

// load reads the configuration and sets up logging for a command.
func (o *RootOptions) load() (config.Config, *slog.Logger, error) {
	path := o.ConfigPath
	if path == "" {
		path = os.Getenv("ALLOWANCE_CONFIG")
	}
	cfg, err := config.Load(path)
	if err != nil {
		return cfg, nil, &ExitError{Code: ExitCommandError, Message: "load config", Err: err}
	}
	if o.LogLevel != "" {
		cfg.LogLevel = o.LogLevel
	}
	return cfg, logging.Setup(cfg.LogLevel, cfg.LogFormat), nil
}

func openDB(cfg config.Config) (*database.DB, error) {
	db, err := database.OpenDialect(cfg.Dialect(), cfg.Database.DSN)
	if err != nil {
		return nil, &ExitError{Code: ExitCommandError, Message: "open database", Err: err}
	}
	return db, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// NewRootCommand creates the root command for the allowance CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "allowance",
		Short: "Family task, contract and wallet backend",
		Long: `allowance tracks recurring family tasks, evaluates allowance contracts
each night and credits children's wallets with their daily reward.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "path to a YAML config file (default $ALLOWANCE_CONFIG)")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "override the configured log level (debug|info|warn|error)")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewMaterializeCommand(opts))
	cmd.AddCommand(NewRunDailyCommand(opts))
	cmd.AddCommand(NewReprocessCommand(opts))
	cmd.AddCommand(NewAuditCommand(opts))
	cmd.AddCommand(NewHashTokenCommand())

	return cmd
}
