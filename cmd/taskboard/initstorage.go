package main

import (
	"errors"

	"github.com/spf13/cobra"

	"taskboard/storage"
)

func initStorageCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init-storage",
		Short: "Create the Azure table and event queue if missing",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.StorageConnStr == "" {
				return errors.New("missing STORAGE_CONNECTION_STRING")
			}
			if err := storage.Provision(cmd.Context(), cfg.StorageConnStr, cfg.TasksTable, cfg.EventQueue); err != nil {
				return err
			}
			logger.Info("storage initialized")
			return nil
		},
	}
}
