package main

import (
	"github.com/spf13/cobra"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		Long: `Create the inspection, catalog and settings tables if they are missing.
The default pricing rules are seeded when the rule table is empty.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			repo, err := openRepository(cmd.Context(), rt)
			if err != nil {
				return err
			}
			defer repo.Close()
			logger.Info("database ready", "driver", repo.Driver())
			return nil
		},
	}
}
