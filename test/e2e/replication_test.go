package e2e

import (
	"context"
	"testing"

	"github.com/cuemby/replcheck/pkg/scenario"
	"github.com/cuemby/replcheck/test/framework"
)

type logProgress struct{ t *testing.T }

func (p logProgress) Step(n int, title string) { p.t.Logf("Step %d: %s", n, title) }
func (p logProgress) Info(format string, args ...any) { p.t.Logf(format, args...) }

// TestSteadyReplication runs the steady-state scenario against a live pair
func TestSteadyReplication(t *testing.T) {
	cluster := framework.NewCluster(t)
	ctx := context.Background()
	cluster.Ready(ctx, t)

	cfg := cluster.Config
	steady := scenario.NewSteady(cluster.Oracle, cluster.Primary, cluster.Replica, scenario.Config{
		Tables:       cfg.Tables,
		Probe:        cfg.ProbeRow(),
		ProductTable: cfg.Scenario.ProductTable,
		BulkRows:     cfg.Scenario.BulkRows,
		Deadline:     cfg.Deadline.Replication,
		BulkDeadline: cfg.Deadline.Bulk,
		MaxDelay:     cfg.Deadline.MaxDelay,
	}, logProgress{t})

	res := steady.Run(ctx)
	framework.NewAssertions(t).ScenarioPassed(res)
	t.Logf("Replication delay: %v", res.Delay)
}

// TestPairRoles checks each node reports the role it is configured with
func TestPairRoles(t *testing.T) {
	cluster := framework.NewCluster(t)
	ctx := context.Background()
	cluster.Ready(ctx, t)

	primary, err := cluster.Inspector.Primary(ctx, cluster.Primary)
	if err != nil {
		t.Fatalf("Failed to inspect primary: %v", err)
	}
	if primary.InRecovery {
		t.Fatalf("Primary %s is in recovery", cluster.Primary.Name)
	}

	replica, err := cluster.Inspector.Replica(ctx, cluster.Replica)
	if err != nil {
		t.Fatalf("Failed to inspect replica: %v", err)
	}
	if !replica.InRecovery {
		t.Fatalf("Replica %s is not in recovery", cluster.Replica.Name)
	}

	assert := framework.NewAssertions(t)
	assert.Converged(cluster.Oracle.AssertReadOnly(ctx, cluster.Replica, cluster.Config.ProbeRow()))
	assert.Converged(cluster.Oracle.AssertWritable(ctx, cluster.Primary, cluster.Config.ProbeRow(), cluster.Config.Deadline.Row))
}
