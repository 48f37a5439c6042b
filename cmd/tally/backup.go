package main

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Veraticus/mailtally/internal/cli"
	"github.com/Veraticus/mailtally/internal/config"
	"github.com/Veraticus/mailtally/internal/storage"
)

func backupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "backup <destination>",
		Short: "Write a consistent copy of the SQLite database",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db := config.LoadDatabaseConfig(viper.GetViper())
			if db.URL != "" {
				return errors.New("backup only supports SQLite databases; use pg_dump for postgres")
			}

			dest, err := filepath.Abs(config.ExpandPath(args[0]))
			if err != nil {
				return fmt.Errorf("failed to resolve destination: %w", err)
			}

			store, err := storage.NewSQLiteStorage(db.Path)
			if err != nil {
				return fmt.Errorf("failed to open database: %w", err)
			}
			defer func() { _ = store.Close() }()

			if err := store.Backup(cmd.Context(), dest); err != nil {
				return err
			}
			fmt.Println(cli.FormatSuccess("Backup written to " + dest))
			return nil
		},
	}
}
