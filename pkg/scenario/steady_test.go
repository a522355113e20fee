package scenario

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/cuemby/replcheck/pkg/oracle"
	"github.com/cuemby/replcheck/pkg/testutil"
	"github.com/cuemby/replcheck/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var tables = []string{"users", "products", "orders"}

type recordingProgress struct {
	steps []string
	infos []string
}

func (p *recordingProgress) Step(n int, title string) {
	p.steps = append(p.steps, fmt.Sprintf("%d %s", n, title))
}

func (p *recordingProgress) Info(format string, args ...any) {
	p.infos = append(p.infos, fmt.Sprintf(format, args...))
}

func testConfig() Config {
	return Config{
		Tables:       tables,
		Probe:        types.DefaultProbe(),
		ProductTable: "products",
		BulkRows:     100,
		Deadline:     time.Second,
		BulkDeadline: 2 * time.Second,
		MaxDelay:     time.Second,
	}
}

func setup(t *testing.T, lag time.Duration) (*testutil.Cluster, *oracle.Oracle, types.Endpoint, types.Endpoint) {
	t.Helper()
	primary, replica := testutil.Endpoints()
	cluster := testutil.NewCluster(primary, replica, lag, tables...)
	t.Cleanup(func() {
		assert.Zero(t, cluster.OpenSessions(), "sessions leaked")
	})
	return cluster, oracle.New(cluster, oracle.WithInterval(5*time.Millisecond)), primary, replica
}

func checks(res *Result) []string {
	var out []string
	for _, o := range res.Outcomes {
		out = append(out, o.Check+":"+string(o.Status))
	}
	return out
}

func TestSteadyPasses(t *testing.T) {
	cluster, o, primary, replica := setup(t, 20*time.Millisecond)
	progress := &recordingProgress{}

	res := NewSteady(o, primary, replica, testConfig(), progress).Run(context.Background())

	require.True(t, res.Passed(), "first failure: %v", res.Err)
	assert.Equal(t, []string{
		"row_replicated:converged",
		"row_replicated:converged",
		"value_equals:converged",
		"read_only:converged",
		"counts_equal:converged",
		"count_matching:converged",
		"replication_delay:converged",
	}, checks(res))
	assert.Equal(t, []string{
		"1 Insert on primary, read from replica",
		"2 Insert product on primary",
		"3 Update product on primary",
		"4 Replica rejects writes",
		"5 Row counts converge",
		"6 Bulk insert",
		"7 Replication delay",
	}, progress.steps)
	assert.Greater(t, res.Delay, time.Duration(0))

	// Single insert, bulk insert and the delay marker
	assert.Equal(t, 102, cluster.Count("replica", "users"))
	assert.Equal(t, 1, cluster.Count("replica", "products"))
}

func TestSteadyMinimal(t *testing.T) {
	_, o, primary, replica := setup(t, 0)
	progress := &recordingProgress{}

	cfg := testConfig()
	cfg.ProductTable = ""
	cfg.BulkRows = 0

	res := NewSteady(o, primary, replica, cfg, progress).Run(context.Background())

	require.True(t, res.Passed(), "first failure: %v", res.Err)
	assert.Len(t, progress.steps, 4)
	assert.Len(t, res.Outcomes, 4)
}

func TestSteadyStopsOnWritableReplica(t *testing.T) {
	cluster, o, primary, replica := setup(t, 0)
	cluster.SetReadOnly("replica", false)

	res := NewSteady(o, primary, replica, testConfig(), &recordingProgress{}).Run(context.Background())

	assert.False(t, res.Passed())
	assert.Equal(t, "read_only:diverged", checks(res)[len(res.Outcomes)-1])

	var div *types.DivergenceError
	assert.ErrorAs(t, res.Err, &div)
}

func TestSteadyStopsOnUnreachableReplica(t *testing.T) {
	cluster, o, primary, replica := setup(t, 0)
	cluster.SetDown("replica", true)

	res := NewSteady(o, primary, replica, testConfig(), &recordingProgress{}).Run(context.Background())

	assert.False(t, res.Passed())
	assert.Equal(t, []string{"row_replicated:unreachable"}, checks(res))
}

func TestSteadyContinuesAfterTimeout(t *testing.T) {
	_, o, primary, replica := setup(t, time.Hour)

	cfg := testConfig()
	cfg.Deadline = 20 * time.Millisecond
	cfg.BulkDeadline = 20 * time.Millisecond
	cfg.MaxDelay = 20 * time.Millisecond

	res := NewSteady(o, primary, replica, cfg, &recordingProgress{}).Run(context.Background())

	assert.False(t, res.Passed())
	assert.Equal(t, []string{
		"row_replicated:timed_out",
		"row_replicated:timed_out",
		"value_equals:timed_out",
		"read_only:converged",
		"counts_equal:timed_out",
		"count_matching:timed_out",
		"replication_delay:timed_out",
	}, checks(res))
	assert.Zero(t, res.Delay)

	var te *types.TimeoutError
	require.ErrorAs(t, res.Err, &te)
	assert.Equal(t, oracle.CheckRowReplicated, te.Check, "the first failure is kept")
}

func TestSteadyWriteFailure(t *testing.T) {
	cluster, o, primary, replica := setup(t, 0)
	cluster.SetReadOnly("primary", true)

	res := NewSteady(o, primary, replica, testConfig(), &recordingProgress{}).Run(context.Background())

	assert.False(t, res.Passed())
	assert.Empty(t, res.Outcomes)
	assert.ErrorContains(t, res.Err, "insert on primary failed")
}

// bulkDeadlineRecorder keeps the deadline the bulk count check was given
type bulkDeadlineRecorder struct {
	*oracle.Oracle
	deadline time.Duration
}

func (r *bulkDeadlineRecorder) AssertCountMatching(ctx context.Context, filter oracle.Filter, want int64, target types.Endpoint, deadline time.Duration) types.Outcome {
	r.deadline = deadline
	return r.Oracle.AssertCountMatching(ctx, filter, want, target, deadline)
}

func TestSteadyBulkDeadline(t *testing.T) {
	tests := []struct {
		name string
		bulk time.Duration
		want time.Duration
	}{
		{name: "own deadline", bulk: 30 * time.Second, want: 30 * time.Second},
		{name: "falls back to row deadline", bulk: 0, want: time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, o, primary, replica := setup(t, 0)
			rec := &bulkDeadlineRecorder{Oracle: o}

			cfg := testConfig()
			cfg.BulkDeadline = tt.bulk

			res := NewSteady(rec, primary, replica, cfg, &recordingProgress{}).Run(context.Background())

			require.True(t, res.Passed(), "scenario failed: %v", res.Err)
			assert.Equal(t, tt.want, rec.deadline)
		})
	}
}
