package framework

import (
	"github.com/cuemby/replcheck/pkg/scenario"
	"github.com/cuemby/replcheck/pkg/types"
)

// Assertions provides test assertion helpers
type Assertions struct {
	t TestingT
}

// NewAssertions creates a new Assertions instance
func NewAssertions(t TestingT) *Assertions {
	return &Assertions{t: t}
}

// Converged asserts that an outcome passed
func (a *Assertions) Converged(out types.Outcome) {
	a.t.Helper()

	if !out.OK() {
		a.t.Fatalf("%s on %s: %s, expected %v, observed %v, cause %v",
			out.Check, out.Endpoint, out.Status, out.Expected, out.Observed(), out.Cause)
	}
	a.t.Logf("✓ %s on %s in %v", out.Check, out.Endpoint, out.Elapsed)
}

// ScenarioPassed asserts that every outcome of a scenario passed
func (a *Assertions) ScenarioPassed(res *scenario.Result) {
	a.t.Helper()

	for _, out := range res.Outcomes {
		if !out.OK() {
			a.t.Errorf("%s on %s: %s (cause %v)", out.Check, out.Endpoint, out.Status, out.Cause)
		}
	}
	if res.Err != nil {
		a.t.Fatalf("Scenario failed: %v", res.Err)
	}
}

// RunSucceeded asserts that a failover run reached the succeeded state
func (a *Assertions) RunSucceeded(run *types.FailoverRun) {
	a.t.Helper()

	if !run.Succeeded() {
		a.t.Fatalf("Failover run %s ended %s: %s", run.ID, run.State, run.Reason)
	}
	for table, n := range run.PrePrimary.Counts {
		if run.Post.Counts[table] < n {
			a.t.Fatalf("Table %s lost rows: %d before, %d after", table, n, run.Post.Counts[table])
		}
	}
}
