package main

import (
	"github.com/spf13/cobra"

	"github.com/deeptrace/deeptrace/internal/config"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the SQL schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.StoreBackend == config.BackendDatastore || cfg.StoreBackend == config.BackendFS {
			logger.Info("store needs no migration", "store", cfg.StoreBackend)
			return nil
		}
		b, err := openBackend(cmd.Context(), cfg, true)
		if err != nil {
			return err
		}
		defer b.close()
		logger.Info("schema migrated", "store", cfg.StoreBackend)
		return nil
	},
}

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete expired tokens and sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		b, err := openBackend(cmd.Context(), cfg, false)
		if err != nil {
			return err
		}
		defer b.close()
		b.sweep(cmd.Context())
		return nil
	},
}
