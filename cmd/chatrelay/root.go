package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mkarlsson/chatrelay/pkg/logging"
)

// Execute runs the CLI.
func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	var logLevel, logFormat string

	rootCmd := &cobra.Command{
		Use:           "chatrelay",
		Short:         "Realtime chat server with websocket delivery and a REST API",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			if err := logging.Setup(logging.Options{
				Level:  logLevel,
				Format: logFormat,
				Output: os.Stdout,
			}); err != nil {
				return fmt.Errorf("invalid logging config: %w", err)
			}
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level: "+logging.LevelNames())
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "Log format: text or json")

	rootCmd.AddCommand(
		newServeCmd(),
		newExportUsersCmd(),
		newVersionCmd(),
	)

	return rootCmd
}
