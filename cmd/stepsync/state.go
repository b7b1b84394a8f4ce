package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/TheMichaelB/stepsync/internal/client"
)

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Manage stored step state",
}

var stateMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Copy every user's state to another backend",
	Example: `  stepsync state migrate --to sqlite
  stepsync state migrate --to dynamodb --table stepsync-state`,
	Args: cobra.NoArgs,
	RunE: runStateMigrate,
}

var stateResetCmd = &cobra.Command{
	Use:   "reset [user-id]",
	Short: "Delete stored state (default: the logged-in user)",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runStateReset,
}

var (
	migrateTo    string
	migrateTable string
)

func init() {
	rootCmd.AddCommand(stateCmd)
	stateCmd.AddCommand(stateMigrateCmd)
	stateCmd.AddCommand(stateResetCmd)

	stateMigrateCmd.Flags().StringVar(&migrateTo, "to", "",
		"Target backend: json, sqlite or dynamodb (required)")
	stateMigrateCmd.Flags().StringVar(&migrateTable, "table", "",
		"DynamoDB table (defaults to storage.dynamodb_table)")
	_ = stateMigrateCmd.MarkFlagRequired("to")
}

func runStateMigrate(cmd *cobra.Command, args []string) error {
	if migrateTo == cfg.Storage.Backend {
		return fmt.Errorf("state already uses the %s backend", migrateTo)
	}

	target := cfg.Storage
	target.Backend = migrateTo
	if migrateTable != "" {
		target.DynamoDBTable = migrateTable
	}

	dst, err := client.NewStore(cmd.Context(), &target, logger)
	if err != nil {
		return fmt.Errorf("open %s backend: %w", migrateTo, err)
	}
	defer dst.Close()

	if err := apiClient.State.Migrate(dst); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	users, _ := dst.List()
	if jsonOutput {
		printJSON(map[string]interface{}{
			"success": true,
			"from":    cfg.Storage.Backend,
			"to":      migrateTo,
			"users":   len(users),
		})
	} else {
		printSuccess("Migrated state from %s to %s (%d users)", cfg.Storage.Backend, migrateTo, len(users))
	}
	return nil
}

func runStateReset(cmd *cobra.Command, args []string) error {
	var userID string
	if len(args) == 1 {
		userID = args[0]
	} else {
		var err error
		if userID, err = apiClient.Auth.UserID(); err != nil {
			return fmt.Errorf("no user given and not logged in: %w", err)
		}
	}

	if err := apiClient.State.Reset(userID); err != nil {
		return fmt.Errorf("reset state: %w", err)
	}

	if jsonOutput {
		printJSON(map[string]interface{}{"success": true, "user_id": userID})
	} else {
		printSuccess("Reset state for %s", userID)
	}
	return nil
}
