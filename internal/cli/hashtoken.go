package cli

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dukerupert/allowance/internal/middleware"
)

// NewHashTokenCommand creates the hash-token command. The token is read
// from the argument or, when absent, from the first line of stdin.
func NewHashTokenCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-token [token]",
		Short: "Print the bcrypt hash of an admin token for admin_token_hash",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var token string
			if len(args) == 1 {
				token = args[0]
			} else {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return &ExitError{Code: ExitCommandError, Message: "read token from stdin", Err: err}
				}
				token = line
			}
			token = strings.TrimSpace(token)
			if token == "" {
				return &ExitError{Code: ExitCommandError, Message: "token must not be empty"}
			}

			hash, err := middleware.HashToken(token)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}
