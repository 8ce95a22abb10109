package cmd

import (
	"log"

	"github.com/josephlewis42/jobsh/core/config"
	"github.com/spf13/cobra"
)

// initCmd intializes the shell configuration
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize the shell configuration in the config directory.",
	Args:  cobra.ExactArgs(0),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true

		logger := log.New(cmd.ErrOrStderr(), "", 0)

		dir := cfgPath
		if dir == "" {
			dir = "."
		}
		return config.Initialize(dir, logger)
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
