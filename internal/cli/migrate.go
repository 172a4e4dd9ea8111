package cli

import (
	"fmt"

	"agrosmart/internal/db"
	"agrosmart/internal/log"

	"github.com/spf13/cobra"
)

func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the embedded database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			dbConn, err := db.NewDB(ctx, rootOpts.cfg.Database.URL)
			if err != nil {
				return fmt.Errorf("failed to connect to DB: %w", err)
			}
			defer dbConn.Close(ctx)

			if err := dbConn.Migrate(ctx); err != nil {
				return err
			}
			log.Info("database schema applied")
			return nil
		},
	}
}
