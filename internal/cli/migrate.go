package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/watzon/cadence/internal/database"
	"github.com/watzon/cadence/internal/database/migrations"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	Long: `Create the cadence tables and apply any pending migrations.

Migrations are embedded in the binary and also run whenever cadence opens
the database, so this command is only needed to prepare a database ahead of
time.

Examples:
  cadence migrate           Apply pending migrations
  cadence migrate status    List applied migrations`,
	RunE: runMigrateApply,
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show applied migrations",
	RunE:  runMigrateStatus,
}

func init() {
	migrateCmd.AddCommand(migrateStatusCmd)
	rootCmd.AddCommand(migrateCmd)
}

func openDatabase() (*database.DB, error) {
	cfg, err := loadConfig(nil)
	if err != nil {
		return nil, err
	}

	db, err := database.Open(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	return db, nil
}

func runMigrateApply(cmd *cobra.Command, args []string) error {
	db, err := openDatabase()
	if err != nil {
		return err
	}
	defer db.Close()

	fmt.Fprintln(cmd.OutOrStdout(), "Database is up to date.")
	return nil
}

func runMigrateStatus(cmd *cobra.Command, args []string) error {
	db, err := openDatabase()
	if err != nil {
		return err
	}
	defer db.Close()

	applied, err := migrations.GetApplied(cmd.Context(), db.DB)
	if err != nil {
		return fmt.Errorf("getting applied migrations: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(applied) == 0 {
		fmt.Fprintln(out, "No migrations have been applied yet.")
		return nil
	}

	fmt.Fprintln(out, "Applied migrations:")
	for _, m := range applied {
		fmt.Fprintf(out, "  ✓ %s (applied %s)\n", m.ID, m.AppliedAt.Format("2006-01-02 15:04:05"))
	}
	return nil
}
