package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vortexion256/caremax-sub002/pkg/persistence"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or upgrade the database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, err := persistence.Open(cfg.Database.Path)
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		v, err := persistence.GetSchemaVersion(store.DB())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: schema version %d\n", cfg.Database.Path, v)
		return nil
	},
}
