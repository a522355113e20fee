package main

import (
	"github.com/cuemby/replcheck/pkg/scenario"
	"github.com/spf13/cobra"
)

var replicateCmd = &cobra.Command{
	Use:   "replicate",
	Short: "Check steady-state replication",
	Long: `Check that writes on the primary reach the replica.

Inserts and updates rows on the primary and waits for them on the replica,
confirms the replica rejects writes, compares row counts, bulk inserts rows
and measures the replication delay. Nothing is stopped or promoted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext(cmd.Context())
		defer stop()

		a := newApp(cmd)
		defer a.close(ctx)

		primary, replica := cfg.Endpoints()
		a.reporter.Title("Replication check")
		a.reporter.Info("%s", describeEndpoints())

		productTable, _ := cmd.Flags().GetString("product-table")
		bulkRows, _ := cmd.Flags().GetInt("bulk-rows")
		if !cmd.Flags().Changed("product-table") {
			productTable = cfg.Scenario.ProductTable
		}
		if !cmd.Flags().Changed("bulk-rows") {
			bulkRows = cfg.Scenario.BulkRows
		}

		steady := scenario.NewSteady(a.oracle, primary, replica, scenario.Config{
			Tables:       cfg.Tables,
			Probe:        cfg.ProbeRow(),
			ProductTable: productTable,
			BulkRows:     bulkRows,
			Deadline:     cfg.Deadline.Replication,
			BulkDeadline: cfg.Deadline.Bulk,
			MaxDelay:     cfg.Deadline.MaxDelay,
		}, a.reporter)

		res := steady.Run(ctx)
		passed := a.reporter.Summary()
		return verdict(passed && res.Passed())
	},
}

func init() {
	replicateCmd.Flags().String("product-table", "", "Table used for product insert/update checks, empty to skip")
	replicateCmd.Flags().Int("bulk-rows", 0, "Rows written by the bulk insert check, 0 to skip")
}
