package main

import (
	"fmt"

	"github.com/cuemby/replcheck/pkg/endpoint"
	"github.com/cuemby/replcheck/pkg/health"
	"github.com/cuemby/replcheck/pkg/inspect"
	"github.com/cuemby/replcheck/pkg/log"
	"github.com/cuemby/replcheck/pkg/types"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the state of the pair",
	Long: `Show whether each node answers, which one is in recovery, the
replication clients and slots on the primary and the WAL positions and
replay lag on the replica. Nothing is written.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext(cmd.Context())
		defer stop()

		retries, _ := cmd.Flags().GetInt("retries")
		if retries < 1 {
			retries = 1
		}
		hcfg := health.DefaultConfig()
		hcfg.Interval = cfg.Poll.Interval
		hcfg.Retries = retries

		a := newApp(cmd)
		defer a.close(ctx)

		dialer := endpoint.NewDialer()
		primary, replica := cfg.Endpoints()
		a.reporter.Title("Replication status")

		healthy := true
		for _, ep := range []types.Endpoint{primary, replica} {
			res := health.Wait(ctx, health.NewTCPChecker(ep), hcfg)
			a.reporter.Health(fmt.Sprintf("%s tcp", ep.Name), res)
			if res.Healthy {
				res = health.Wait(ctx, health.NewSQLChecker(ep, dialer), hcfg)
				a.reporter.Health(fmt.Sprintf("%s sql", ep.Name), res)
			}
			healthy = healthy && res.Healthy
		}

		ins := inspect.New(dialer, cfg.Poll.Timeout)
		if ps, err := ins.Primary(ctx, primary); err != nil {
			log.Logger.Warn().Err(err).Str("endpoint", primary.Name).Msg("Failed to inspect primary")
			healthy = false
		} else {
			a.reporter.Primary(ps)
		}
		if rs, err := ins.Replica(ctx, replica); err != nil {
			log.Logger.Warn().Err(err).Str("endpoint", replica.Name).Msg("Failed to inspect replica")
			healthy = false
		} else {
			a.reporter.Replica(rs)
		}

		return verdict(healthy)
	},
}

func init() {
	statusCmd.Flags().Int("retries", 1, "Health check attempts per node before reporting it down")
}
