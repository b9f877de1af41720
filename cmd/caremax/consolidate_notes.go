package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vortexion256/caremax-sub002/pkg/notes"
	"github.com/vortexion256/caremax-sub002/pkg/persistence"
)

var consolidateTenant string

var consolidateNotesCmd = &cobra.Command{
	Use:   "consolidate-notes",
	Short: "Merge near-duplicate agent notes",
	Long: `Merge near-duplicate notes of one tenant (--tenant) or of every tenant.

Within each category, notes whose similarity reaches
agent.consolidation_threshold are folded into the newest of the group and the
absorbed notes are deleted.`,
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

		svc := notes.NewService(store, cfg.Agent)
		var reports []notes.ConsolidationReport
		if consolidateTenant != "" {
			r, err := svc.Consolidate(cmd.Context(), consolidateTenant)
			if err != nil {
				return err
			}
			reports = append(reports, r)
		} else {
			if reports, err = svc.ConsolidateAll(cmd.Context(), store); err != nil {
				return err
			}
		}

		out := cmd.OutOrStdout()
		for _, r := range reports {
			fmt.Fprintf(out, "%s: examined %d, merged %d, deleted %d\n", r.TenantID, r.Examined, r.Merged, r.Deleted)
		}
		return nil
	},
}

func init() {
	consolidateNotesCmd.Flags().StringVar(&consolidateTenant, "tenant", "", "Tenant to consolidate (default: all tenants)")
}
