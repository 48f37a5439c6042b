package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Veraticus/mailtally/internal/cli"
	"github.com/Veraticus/mailtally/internal/config"
	"github.com/Veraticus/mailtally/internal/storage"
)

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		Long: `Initialize or update the database schema to the latest version.

SQLite databases are backed up next to the database file before any
pending migration is applied.`,
		RunE: runMigrate,
	}

	cmd.Flags().Bool("status", false, "Show whether migrations are pending without applying them")
	cmd.Flags().Bool("no-backup", false, "Skip the automatic backup before migrating")

	return cmd
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	statusOnly, _ := cmd.Flags().GetBool("status")
	noBackup, _ := cmd.Flags().GetBool("no-backup")
	ctx := cmd.Context()

	db := config.LoadDatabaseConfig(viper.GetViper())
	if db.URL != "" {
		if statusOnly {
			fmt.Println(cli.FormatInfo("Status checks are only available for SQLite databases"))
			return nil
		}
		store, err := storage.Open(ctx, storage.Options{URL: db.URL})
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()
		fmt.Println(cli.FormatSuccess("Database migrations completed"))
		return nil
	}

	slog.Info("Starting database migration", "database", db.Path, "status_only", statusOnly)

	store, err := storage.NewSQLiteStorage(db.Path)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() { _ = store.Close() }()

	pending, err := store.NeedsMigration(ctx)
	if err != nil {
		return err
	}

	if statusOnly {
		if pending {
			fmt.Println(cli.FormatWarning(fmt.Sprintf("Migrations pending (latest schema version %d)", storage.ExpectedSchemaVersion)))
		} else {
			fmt.Println(cli.FormatSuccess(fmt.Sprintf("Schema is up to date (version %d)", storage.ExpectedSchemaVersion)))
		}
		return nil
	}

	if !pending {
		fmt.Println(cli.FormatSuccess("Schema is already up to date"))
		return nil
	}

	if !noBackup {
		path, backupErr := store.AutoBackup(ctx, "pre-migrate")
		if backupErr != nil {
			return fmt.Errorf("pre-migration backup failed: %w", backupErr)
		}
		fmt.Println(cli.FormatInfo("Backup written to " + path))
	}

	if err := store.Migrate(ctx); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	fmt.Println(cli.FormatSuccess("Database migrations completed"))
	return nil
}
