package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mkarlsson/chatrelay/pkg/datastore"
	"github.com/mkarlsson/chatrelay/pkg/server"
)

func newExportUsersCmd() *cobra.Command {
	var dbPath string

	cmd := &cobra.Command{
		Use:   "export-users",
		Short: "Export all users as YAML",
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := datastore.NewProviderFactory(dbPath)
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer func() { _ = st.NonTx().Close() }()

			data, err := server.ExportUsersYAML(st.NonTx())
			if err != nil {
				return fmt.Errorf("export users: %w", err)
			}
			_, err = fmt.Fprint(cmd.OutOrStdout(), string(data))
			return err
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", server.DefaultConfig().DBPath, "SQLite database file path")
	return cmd
}
