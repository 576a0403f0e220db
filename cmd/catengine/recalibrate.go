package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func recalibrateCMD(cfgPath *string) *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "recalibrate",
		Short: "Run one item recalibration pass against the item bank",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(*cfgPath)
			if err != nil {
				return err
			}
			defer a.log.Sync()

			st, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer st.Close()

			if dryRun {
				stats, err := st.FetchItemStats(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d items eligible for recalibration\n", len(stats))
				return nil
			}

			report, err := a.runner(st, nil).RunOnce(cmd.Context())
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(map[string]any{
				"run_id":   report.RunID,
				"updated":  report.Updated,
				"skipped":  report.Skipped,
				"failed":   report.Failed,
				"duration": report.Duration.String(),
			})
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "only count the items the stats view returns")
	return cmd
}
