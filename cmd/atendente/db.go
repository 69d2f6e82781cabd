package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/lojaortopedic/atendente/internal/config"
	"github.com/lojaortopedic/atendente/internal/db"
	"github.com/lojaortopedic/atendente/internal/kvstore"
)

func newDBCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Database management commands",
	}

	cmd.AddCommand(newDBMigrateCmd())
	cmd.AddCommand(newDBPurgeCmd())
	return cmd
}

func newDBMigrateCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database tables",
		Long:  "Migrates the finance case and key-value tables. Safe to run multiple times.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDBMigrate(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to atendente config file")
	return cmd
}

func runDBMigrate(cmd *cobra.Command, configPath string) error {
	out := cmd.OutOrStdout()

	if _, _, err := connectFromConfig(configPath, out); err != nil {
		return err
	}
	fmt.Fprintf(out, "Migrated %d tables\n", len(db.AllModels()))
	return nil
}

func newDBPurgeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete expired key-value entries",
		Long:  "Removes expired rows from the SQL key-value tables. Redis expires keys on its own.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDBPurge(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to atendente config file")
	return cmd
}

func runDBPurge(cmd *cobra.Command, configPath string) error {
	out := cmd.OutOrStdout()

	cfg, gormDB, err := connectFromConfig(configPath, io.Discard)
	if err != nil {
		return err
	}
	if cfg.Store == "redis" {
		fmt.Fprintln(out, "Store is redis; nothing to purge.")
		return nil
	}
	store, err := kvstore.NewSQL(kvstore.SQLOpts{DB: gormDB})
	if err != nil {
		return err
	}
	n, err := store.PurgeExpired(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Purged %d expired entries\n", n)
	return nil
}

// connectFromConfig loads the config and opens the migrated database.
func connectFromConfig(configPath string, out io.Writer) (*config.Config, *gorm.DB, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	gormDB, err := openDB(cfg, out)
	if err != nil {
		return nil, nil, err
	}
	return cfg, gormDB, nil
}
