package main

import (
	"errors"
	"fmt"

	"github.com/lexdesk/claims_backend/config"
	"github.com/lexdesk/claims_backend/models"
	"github.com/spf13/cobra"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the claims table",
		RunE: func(cmd *cobra.Command, _ []string) error {
			db := config.ConnectDatabaseWithRetry()
			if db == nil {
				return errors.New("database not initialized; set DB_* env vars")
			}
			if err := models.AutoMigrate(db); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "migrated (%s)\n", config.GetDBDriver())
			return nil
		},
	}
}
