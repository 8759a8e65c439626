// Package commands provides CLI commands for the admin tool
package commands

import (
	"context"
	"database/sql"
	"os"

	"mcqapp/internal/database"
	"mcqapp/internal/observability"
	"mcqapp/internal/services"
	contextutils "mcqapp/internal/utils"

	"github.com/spf13/cobra"
)

// DatabaseCommands returns the database management commands
func DatabaseCommands(userService *services.UserService, logger *observability.Logger, db *sql.DB, databaseURL string) *cobra.Command {
	dbCmd := &cobra.Command{
		Use:   "db",
		Short: "Database management commands",
		Long: `Database management commands for the MCQ application.

Available commands:
  stats    - Show database statistics
  migrate  - Run pending database migrations`,
	}

	// Add subcommands
	dbCmd.AddCommand(statsCmd(userService, logger, db))
	dbCmd.AddCommand(migrateCmd(logger, databaseURL))

	return dbCmd
}

// statsCmd returns the stats command
func statsCmd(userService *services.UserService, logger *observability.Logger, db *sql.DB) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show database statistics",
		Long:  `Show database statistics including user, test, and result counts.`,
		RunE:  runStats(userService, logger, db),
	}
}

// migrateCmd returns the migrate command
func migrateCmd(logger *observability.Logger, databaseURL string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Run pending database migrations",
		Long:  `Apply any pending schema migrations to the database.`,
		RunE:  runMigrate(logger, databaseURL),
	}
}

// runStats returns a function that shows database statistics
func runStats(userService *services.UserService, logger *observability.Logger, db *sql.DB) func(cmd *cobra.Command, args []string) error {
	return func(_ *cobra.Command, _ []string) error {
		ctx := context.Background()

		// Log diagnostic information
		logger.Info(ctx, "Diagnostic info", map[string]interface{}{"config_file": os.Getenv("MCQ_CONFIG_FILE"), "database": getDatabaseInfo(db)})

		users, err := userService.GetAllUsers(ctx)
		if err != nil {
			logger.Error(ctx, "Failed to get user statistics", err, map[string]interface{}{})
			return contextutils.WrapErrorf(contextutils.ErrInternalError, "failed to get user statistics: %v", err)
		}

		var testCount, resultCount int
		if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tests`).Scan(&testCount); err != nil {
			return contextutils.WrapErrorf(contextutils.ErrInternalError, "failed to count tests: %v", err)
		}
		if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM test_results`).Scan(&resultCount); err != nil {
			return contextutils.WrapErrorf(contextutils.ErrInternalError, "failed to count results: %v", err)
		}

		logger.Info(ctx, "Database statistics", map[string]interface{}{
			"total_users":   len(users),
			"total_tests":   testCount,
			"total_results": resultCount,
			"database":      "PostgreSQL",
			"status":        "Connected",
		})

		return nil
	}
}

// runMigrate returns a function that applies pending migrations
func runMigrate(logger *observability.Logger, databaseURL string) func(cmd *cobra.Command, args []string) error {
	return func(_ *cobra.Command, _ []string) error {
		ctx := context.Background()

		logger.Info(ctx, "Running database migrations", map[string]interface{}{"database_url": maskDatabaseURL(databaseURL)})

		dbManager := database.NewManager(logger)
		if err := dbManager.RunMigrations(databaseURL); err != nil {
			logger.Error(ctx, "Migrations failed", err, map[string]interface{}{})
			return contextutils.WrapErrorf(contextutils.ErrInternalError, "migrations failed: %v", err)
		}

		logger.Info(ctx, "Migrations completed successfully", map[string]interface{}{})
		return nil
	}
}
