package report

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/cuemby/replcheck/pkg/events"
	"github.com/cuemby/replcheck/pkg/health"
	"github.com/cuemby/replcheck/pkg/inspect"
	"github.com/cuemby/replcheck/pkg/types"
	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
)

func newTestReporter(t *testing.T) (*Reporter, *bytes.Buffer) {
	t.Helper()
	// Golden files hold plain text
	t.Setenv("NO_COLOR", "1")

	var buf bytes.Buffer
	return New(&buf), &buf
}

func assertGolden(t *testing.T, name string, got []byte) {
	t.Helper()
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, got)
}

func TestReplicateReport(t *testing.T) {
	r, buf := newTestReporter(t)

	r.Title("Replication check")
	r.Step(1, "Insert on primary")
	r.Info("inserted %s into %s", "replcheck_insert_0001", "users")
	r.Outcome(types.Outcome{
		Check:       "row_replicated",
		Endpoint:    "replica",
		Status:      types.StatusConverged,
		Expected:    "a@replcheck.invalid",
		Observation: &types.Observation{Endpoint: "replica", Value: "a@replcheck.invalid"},
		Elapsed:     512300 * time.Microsecond,
		Attempts:    3,
	})

	r.Step(2, "Compare counts")
	r.Outcome(types.Outcome{
		Check:       "counts_equal",
		Endpoint:    "replica",
		Status:      types.StatusTimedOut,
		Expected:    types.Snapshot{Counts: map[string]int64{"users": 10, "products": 3}},
		Observation: &types.Observation{Endpoint: "replica", Value: types.Snapshot{Counts: map[string]int64{"users": 9, "products": 3}}},
		Elapsed:     5 * time.Second,
		Attempts:    20,
	})
	r.Outcome(types.Outcome{
		Check:    "read_only",
		Endpoint: "replica",
		Status:   types.StatusUnreachable,
		Expected: "write rejected (read-only)",
		Attempts: 1,
		Cause:    errors.New("endpoint replica unreachable: connection refused"),
	})

	assert.True(t, r.Failed())
	assert.False(t, r.Summary())
	assertGolden(t, "replicate", buf.Bytes())
}

func TestSummaryAllPassed(t *testing.T) {
	r, buf := newTestReporter(t)

	r.Outcome(types.Outcome{Check: "writable", Endpoint: "primary", Status: types.StatusConverged, Attempts: 1, Elapsed: 3 * time.Millisecond})

	assert.False(t, r.Failed())
	assert.True(t, r.Summary())
	assert.Contains(t, buf.String(), "1/1 checks passed")
}

func TestFailoverReport(t *testing.T) {
	r, buf := newTestReporter(t)
	bus := events.NewBus()
	unsubscribe := r.Subscribe(bus)
	defer unsubscribe()

	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	run := &types.FailoverRun{
		ID:         "6f1c2b8e-0d4a-4a57-9b0e-2f3c1d5e7a90",
		State:      types.FailoverSucceeded,
		Promoted:   "replica",
		PrePrimary: types.Snapshot{Counts: map[string]int64{"users": 10, "products": 3, "orders": 0}},
		Post:       types.Snapshot{Counts: map[string]int64{"users": 16, "products": 3, "orders": 0}},
		StartedAt:  start,
		FinishedAt: start.Add(4 * time.Second),
	}

	r.Title("Failover drill")
	states := []types.FailoverState{
		types.FailoverIdle,
		types.FailoverPreCheck,
		types.FailoverInjectFailure,
		types.FailoverAwaitPromotion,
		types.FailoverPostCheck,
		types.FailoverSucceeded,
	}
	for i := 1; i < len(states); i++ {
		bus.Publish(events.FailoverTransition(run, types.Transition{From: states[i-1], To: states[i], At: start}))
		if states[i] == types.FailoverInjectFailure {
			bus.Publish(events.CheckFinished(types.Outcome{
				Check:    "unreachable",
				Endpoint: "primary",
				Status:   types.StatusConverged,
				Elapsed:  1250 * time.Millisecond,
				Attempts: 6,
			}))
		}
	}
	r.Run(run)

	assertGolden(t, "failover", buf.Bytes())
}

func TestFailedRunReport(t *testing.T) {
	r, buf := newTestReporter(t)

	r.Transition(types.Transition{
		From:   types.FailoverPostCheck,
		To:     types.FailoverFailed,
		Reason: "promoted node does not accept writes",
	})
	r.Run(&types.FailoverRun{
		ID:       "run-2",
		State:    types.FailoverFailed,
		Reason:   "promoted node does not accept writes",
		Promoted: "replica",
	})

	assertGolden(t, "failover_failed", buf.Bytes())
}

func TestStatusReport(t *testing.T) {
	r, buf := newTestReporter(t)
	lag := 1500 * time.Millisecond

	r.Health("primary", health.Result{Healthy: true, Message: "primary accepts queries (primary)"})
	r.Health("replica", health.Result{Healthy: false, Message: "connection failed: connection refused"})
	r.Primary(&inspect.PrimaryStatus{
		Endpoint: "primary",
		Clients:  []inspect.Client{{Addr: "172.18.0.3", Application: "walreceiver", State: "streaming", SyncState: "async"}},
		Slots:    []inspect.Slot{{Name: "replica_slot", Type: "physical", Active: true, RestartLSN: "0/3000148"}},
	})
	r.Replica(&inspect.ReplicaStatus{
		Endpoint:   "replica",
		InRecovery: true,
		ReceiveLSN: "0/3000148",
		ReplayLSN:  "0/3000100",
		ReplayLag:  &lag,
	})

	assertGolden(t, "status", buf.Bytes())
}

func TestStatusReportDegraded(t *testing.T) {
	r, buf := newTestReporter(t)

	r.Primary(&inspect.PrimaryStatus{
		Endpoint: "primary",
		Slots:    []inspect.Slot{{Name: "replica_slot", Type: "physical"}},
	})
	r.Replica(&inspect.ReplicaStatus{Endpoint: "replica", InRecovery: true})
	r.Replica(&inspect.ReplicaStatus{Endpoint: "replica"})

	assertGolden(t, "status_degraded", buf.Bytes())
}
