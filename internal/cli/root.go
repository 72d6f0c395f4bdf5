// Package cli holds the igmonitor command tree.
package cli

import (
	"errors"

	"github.com/spf13/cobra"
)

// Version is set at build time with -ldflags "-X igmonitor/internal/cli.Version=...".
var Version = "dev"

var errClientRequired = errors.New("--client is required")

// NewRootCmd returns the root command. Without a subcommand it runs the bot.
func NewRootCmd() *cobra.Command {
	var cfgFile string
	rootCmd := &cobra.Command{
		Use:           "igmonitor",
		Short:         "Instagram suspended account monitor",
		Long:          "igmonitor watches suspended Instagram accounts and announces their recovery in Telegram.",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cfgFile)
		},
	}
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "./config.yaml", "path to config (json or yaml)")

	rootCmd.AddCommand(newRunCmd(&cfgFile))
	rootCmd.AddCommand(newImportSessionsCmd(&cfgFile))
	rootCmd.AddCommand(newListCmd(&cfgFile))
	rootCmd.AddCommand(newVersionCmd())
	return rootCmd
}
