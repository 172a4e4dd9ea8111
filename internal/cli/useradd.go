package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"agrosmart/auth"
	"agrosmart/internal/db"

	"github.com/spf13/cobra"
)

type UserAddOptions struct {
	*RootOptions
	PasswordStdin bool
}

func NewUserAddCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &UserAddOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "useradd <username>",
		Short: "Create an operator account",
		Long: `Create an operator account for the HTTP API. The password is read from
the first line of stdin.

Example:
  echo 's3cret' | agrosmart useradd maria --password-stdin`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !opts.PasswordStdin {
				return errors.New("--password-stdin is required")
			}
			password, err := readPassword(cmd.InOrStdin())
			if err != nil {
				return err
			}
			hash, err := auth.HashPassword(password)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			dbConn, err := db.NewDB(ctx, opts.cfg.Database.URL)
			if err != nil {
				return fmt.Errorf("failed to connect to DB: %w", err)
			}
			defer dbConn.Close(ctx)

			id, err := dbConn.CreateUser(ctx, strings.TrimSpace(args[0]), hash)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created user %s (%s)\n", args[0], id)
			return nil
		},
	}

	cmd.Flags().BoolVar(&opts.PasswordStdin, "password-stdin", false, "read the password from stdin")

	return cmd
}

func readPassword(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	password := strings.TrimRight(line, "\r\n")
	if password == "" {
		return "", errors.New("empty password")
	}
	return password, nil
}
