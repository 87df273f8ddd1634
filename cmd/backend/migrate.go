package main

import (
	"database/sql"
	"fmt"

	"github.com/hairizuan-noorazman/testflow/database"
	"github.com/spf13/cobra"
)

var (
	migrationsPath string
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Database migration commands",
}

// withMigrationDB connects to the configured database and hands the raw
// handle to fn.
func withMigrationDB(fn func(sqlDB *sql.DB) error) error {
	cfg, err := LoadConfig(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.Database.Driver == database.DriverSQLite {
		return fmt.Errorf("SQL migrations target mysql; sqlite schemas are created on serve")
	}

	db, err := database.Connect(databaseConfig(cfg))
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get database instance: %w", err)
	}
	defer sqlDB.Close()

	return fn(sqlDB)
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMigrationDB(func(sqlDB *sql.DB) error {
			if err := database.RunMigrations(sqlDB, migrationsPath); err != nil {
				return fmt.Errorf("failed to run migrations: %w", err)
			}
			fmt.Println("Migrations applied successfully")
			return nil
		})
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Rollback the most recent migration",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMigrationDB(func(sqlDB *sql.DB) error {
			if err := database.RollbackMigration(sqlDB, migrationsPath); err != nil {
				return fmt.Errorf("failed to rollback migration: %w", err)
			}
			fmt.Println("Migration rolled back successfully")
			return nil
		})
	},
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the current migration version",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMigrationDB(func(sqlDB *sql.DB) error {
			version, dirty, err := database.MigrationStatus(sqlDB, migrationsPath)
			if err != nil {
				return fmt.Errorf("failed to read migration status: %w", err)
			}
			fmt.Printf("Version: %d\nDirty: %t\n", version, dirty)
			return nil
		})
	},
}

func init() {
	migrateCmd.AddCommand(migrateUpCmd)
	migrateCmd.AddCommand(migrateDownCmd)
	migrateCmd.AddCommand(migrateStatusCmd)

	migrateCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file path")
	migrateCmd.PersistentFlags().StringVarP(&migrationsPath, "path", "p", "", "migrations directory (embedded migrations when empty)")

	rootCmd.AddCommand(migrateCmd)
}
