package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/stacklok/catalog-feed-server/database"
	"github.com/stacklok/catalog-feed-server/internal/app/storage/auth"
	"github.com/stacklok/catalog-feed-server/internal/config"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Database migration tool",
	Long:  `Database migration tool for managing schema versions. Use with 'up' or 'down' subcommands.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return cmd.Usage()
	},
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply pending database migrations",
	Long: `Apply all pending database migrations to bring the schema up to date.
This command reads the database connection parameters from the config file
and applies all migrations that haven't been run yet.`,
	RunE: runMigrateUp,
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Migrate the database down",
	Long: `Migrate the database schema down by reverting migrations.
WARNING: This operation can result in data loss. Use with caution.

Examples:
  # Migrate down by 1 step
  thv-catalog-feed migrate down --config config.yaml --num-steps 1 --yes`,
	RunE: runMigrateDown,
}

func init() {
	migrateCmd.PersistentFlags().BoolP("yes", "y", false, "Answer yes to all questions")
	migrateCmd.PersistentFlags().String("config", "", "Path to configuration file (YAML format, required)")
	if err := migrateCmd.MarkPersistentFlagRequired("config"); err != nil {
		panic(err)
	}
	migrateDownCmd.Flags().UintP("num-steps", "n", 1, "Number of steps to migrate down")

	migrateCmd.AddCommand(migrateUpCmd)
	migrateCmd.AddCommand(migrateDownCmd)
}

// setupMigration loads the configuration and returns the connection string of the migration user
func setupMigration(ctx context.Context, cmd *cobra.Command) (*config.DatabaseConfig, string, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, "", err
	}
	if cfg.Database == nil {
		return nil, "", fmt.Errorf("database configuration is required")
	}

	connString, err := auth.MigrationConnectionString(ctx, cfg.Database)
	if err != nil {
		return nil, "", fmt.Errorf("failed to get migration connection string: %w", err)
	}
	return cfg.Database, connString, nil
}

func runMigrateUp(cmd *cobra.Command, _ []string) error {
	ctx := context.Background()

	db, connString, err := setupMigration(ctx, cmd)
	if err != nil {
		return err
	}

	slog.Info("About to apply migrations",
		"user", db.GetMigrationUser(),
		"host", db.Host,
		"port", db.Port,
		"database", db.Database)
	ok, err := confirm(cmd, "Continue?")
	if err != nil {
		return err
	}
	if !ok {
		slog.Info("Migration cancelled by user")
		return nil
	}

	slog.Info("Applying database migrations...")
	if err := database.MigrateUp(connString); err != nil {
		return err
	}

	displayMigrationVersion(connString)
	return nil
}

func runMigrateDown(cmd *cobra.Command, _ []string) error {
	ctx := context.Background()

	_, connString, err := setupMigration(ctx, cmd)
	if err != nil {
		return err
	}

	numSteps, err := cmd.Flags().GetUint("num-steps")
	if err != nil {
		return fmt.Errorf("failed to get num-steps flag: %w", err)
	}

	ok, err := confirm(cmd, fmt.Sprintf("WARNING: This will migrate down %d step(s) and may result in data loss. Continue?", numSteps))
	if err != nil {
		return err
	}
	if !ok {
		slog.Info("Migration cancelled by user")
		return nil
	}

	if err := database.MigrateDown(connString, int(numSteps)); err != nil {
		return err
	}

	displayMigrationVersion(connString)
	return nil
}

func displayMigrationVersion(connString string) {
	m, err := database.NewMigrator(connString)
	if err != nil {
		slog.Warn("Unable to get migration version", "error", err)
		return
	}
	defer func() { _, _ = m.Close() }()

	version, dirty, err := m.Version()
	switch {
	case err != nil:
		slog.Warn("Unable to get migration version", "error", err)
	case dirty:
		slog.Warn("Database is in a dirty state", "version", version)
	default:
		slog.Info("Migrations applied successfully", "version", version)
	}
}
