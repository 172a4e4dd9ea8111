package cli

import (
	"agrosmart/internal/config"
	"agrosmart/internal/log"

	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Log *log.Options

	cfg *config.Config
}

// NewRootCommand creates the root command for the agrosmart CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{Log: log.NewOptions()}

	cmd := &cobra.Command{
		Use:   "agrosmart",
		Short: "Irrigation command dispatcher",
		Long: `agrosmart evaluates irrigation schedules every minute, publishes pump
commands to field devices over MQTT and folds their acknowledgments back
into the command store.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig()
			if err != nil {
				return err
			}
			// Flags win over LOG_LEVEL and LOG_FORMAT.
			if !cmd.Flags().Changed("log.level") {
				opts.Log.Level = cfg.Log.Level
			}
			if !cmd.Flags().Changed("log.format") {
				opts.Log.Format = cfg.Log.Format
			}
			log.Init(opts.Log)
			opts.cfg = cfg
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			log.Sync()
		},
	}

	opts.Log.AddFlags(cmd.PersistentFlags())

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewMigrateCommand(opts))
	cmd.AddCommand(NewTickCommand(opts))
	cmd.AddCommand(NewUserAddCommand(opts))

	return cmd
}
