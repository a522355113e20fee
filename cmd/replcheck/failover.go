package main

import (
	"errors"
	"fmt"

	"github.com/cuemby/replcheck/pkg/config"
	"github.com/cuemby/replcheck/pkg/control"
	"github.com/cuemby/replcheck/pkg/failover"
	"github.com/spf13/cobra"
)

var failoverCmd = &cobra.Command{
	Use:   "failover",
	Short: "Run a failover drill",
	Long: `Run a failover drill against the configured pair.

The drill checks the pair is in sync, stops the primary, waits until it no
longer answers, promotes the replica and validates that the promoted node
takes writes and holds every row the primary had before the failure.

The old primary is left stopped. Bring it back as a replica of the new
primary before running another drill.

This command stops a database node. Pass --yes to confirm.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		confirmed, _ := cmd.Flags().GetBool("yes")
		if !confirmed {
			return errors.New("failover stops the primary; re-run with --yes to confirm")
		}

		ctx, stop := signalContext(cmd.Context())
		defer stop()

		a := newApp(cmd)
		defer a.close(ctx)

		ctl, closeCtl, err := newControl(cfg)
		if err != nil {
			return err
		}
		defer closeCtl()

		postWrites := cfg.Scenario.PostWrites
		if cmd.Flags().Changed("post-writes") {
			postWrites, _ = cmd.Flags().GetInt("post-writes")
		}

		primary, replica := cfg.Endpoints()
		a.reporter.Title("Failover drill")
		a.reporter.Info("%s", describeEndpoints())
		a.reporter.Info("control backend: %s", cfg.Control.Backend)

		orch := failover.NewOrchestrator(a.oracle, control.Observe(ctl, a.bus), primary, replica, failover.Config{
			Tables:            cfg.Tables,
			Probe:             cfg.ProbeRow(),
			SyncDeadline:      cfg.Deadline.Sync,
			DownDeadline:      cfg.Deadline.Down,
			PromotionDeadline: cfg.Deadline.Promotion,
			RowDeadline:       cfg.Deadline.Row,
			PostWrites:        postWrites,
		}, a.bus)

		run, err := orch.Run(ctx)
		if err != nil {
			return err
		}
		a.reporter.Run(run)
		passed := a.reporter.Summary()
		return verdict(passed && run.Succeeded())
	},
}

func init() {
	failoverCmd.Flags().Bool("yes", false, "Confirm that the primary may be stopped")
	failoverCmd.Flags().Int("post-writes", 0, "Extra rows written to the promoted node")
}

// newControl builds the configured control backend. The returned func
// releases it.
func newControl(c *config.Config) (control.Control, func(), error) {
	switch c.Control.Backend {
	case config.BackendContainerd:
		cc, err := control.NewContainerdControl(c.ContainerdOptions())
		if err != nil {
			return nil, nil, err
		}
		return cc, func() { _ = cc.Close() }, nil
	case config.BackendCommand:
		return c.CommandControl(), func() {}, nil
	}
	return nil, nil, fmt.Errorf("unknown control backend %q", c.Control.Backend)
}
