package oracle

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/cuemby/replcheck/pkg/events"
	"github.com/cuemby/replcheck/pkg/testutil"
	"github.com/cuemby/replcheck/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var tables = []string{"users", "products", "orders"}

func newTestOracle(t *testing.T, lag time.Duration) (*Oracle, *testutil.Cluster, types.Endpoint, types.Endpoint) {
	t.Helper()

	primary, replica := testutil.Endpoints()
	cluster := testutil.NewCluster(primary, replica, lag, tables...)
	o := New(cluster, WithInterval(5*time.Millisecond), WithTimeout(time.Second))

	t.Cleanup(func() {
		assert.Zero(t, cluster.OpenSessions(), "sessions leaked")
	})
	return o, cluster, primary, replica
}

func insertUser(t *testing.T, o *Oracle, ep types.Endpoint, username, email string) {
	t.Helper()
	_, err := o.Exec(context.Background(), ep, "INSERT INTO users (username, email) VALUES ($1, $2)", username, email)
	require.NoError(t, err)
}

func TestAssertRowReplicated(t *testing.T) {
	o, _, primary, replica := newTestOracle(t, 30*time.Millisecond)
	ctx := context.Background()

	insertUser(t, o, primary, "alice", "a@x.com")

	out := o.AssertRowReplicated(ctx, RowRef{Table: "users", KeyColumn: "username", Key: "alice"}, replica, 5*time.Second)

	assert.Equal(t, types.StatusConverged, out.Status, out.Err())
	assert.Equal(t, CheckRowReplicated, out.Check)
	assert.Equal(t, "replica", out.Endpoint)
	require.NotNil(t, out.Observation)
	assert.Equal(t, "alice", out.Observed())
	assert.Greater(t, out.Attempts, 1)
}

func TestAssertRowReplicatedWithValue(t *testing.T) {
	o, _, primary, replica := newTestOracle(t, 0)
	ctx := context.Background()

	insertUser(t, o, primary, "alice", "a@x.com")

	ref := RowRef{Table: "users", KeyColumn: "username", Key: "alice", ValueColumn: "email", Value: "a@x.com"}
	out := o.AssertRowReplicated(ctx, ref, replica, time.Second)

	assert.True(t, out.OK(), out.Err())
	assert.Equal(t, "a@x.com", out.Observed())
}

func TestAssertRowReplicatedDiverged(t *testing.T) {
	o, cluster, _, replica := newTestOracle(t, 0)
	ctx := context.Background()

	cluster.Put("replica", "users", testutil.Row{"username": "alice", "email": "mallory@x.com"})

	ref := RowRef{Table: "users", KeyColumn: "username", Key: "alice", ValueColumn: "email", Value: "a@x.com"}
	out := o.AssertRowReplicated(ctx, ref, replica, 5*time.Second)

	assert.Equal(t, types.StatusDiverged, out.Status)
	assert.Equal(t, 1, out.Attempts)
	assert.True(t, out.Fatal())

	var div *types.DivergenceError
	require.ErrorAs(t, out.Err(), &div)
	assert.Equal(t, "a@x.com", div.Expected)
	assert.Equal(t, "mallory@x.com", div.Observed)
}

func TestAssertRowReplicatedNumericLookingText(t *testing.T) {
	o, cluster, _, replica := newTestOracle(t, 0)
	ctx := context.Background()

	cluster.Put("replica", "users", testutil.Row{"username": "bond", "email": "7"})

	ref := RowRef{Table: "users", KeyColumn: "username", Key: "bond", ValueColumn: "email", Value: "007"}
	out := o.AssertRowReplicated(ctx, ref, replica, time.Second)

	assert.Equal(t, types.StatusDiverged, out.Status)
	assert.Equal(t, "7", out.Observed())
}

func TestAssertRowReplicatedTimesOut(t *testing.T) {
	o, _, _, replica := newTestOracle(t, 0)

	out := o.AssertRowReplicated(context.Background(), RowRef{Table: "users", KeyColumn: "username", Key: "ghost"}, replica, 40*time.Millisecond)

	assert.Equal(t, types.StatusTimedOut, out.Status)
	require.NotNil(t, out.Observation)
	assert.Equal(t, Absent{}, out.Observed())
	assert.LessOrEqual(t, out.Elapsed, 40*time.Millisecond+50*time.Millisecond)

	var te *types.TimeoutError
	require.ErrorAs(t, out.Err(), &te)
	assert.Equal(t, "ghost", te.Expected)
}

func TestAssertRowReplicatedUnreachable(t *testing.T) {
	o, cluster, primary, _ := newTestOracle(t, 0)

	cluster.SetDown("primary", true)

	start := time.Now()
	out := o.AssertRowReplicated(context.Background(), RowRef{Table: "users", KeyColumn: "username", Key: "alice"}, primary, 2*time.Second)

	assert.Equal(t, types.StatusUnreachable, out.Status)
	assert.Less(t, time.Since(start), time.Second)
	assert.True(t, out.Fatal())
	assert.Error(t, out.Err())
}

func TestAssertRowReplicatedMissingTableIsRetried(t *testing.T) {
	o, _, _, replica := newTestOracle(t, 0)

	out := o.AssertRowReplicated(context.Background(), RowRef{Table: "accounts", KeyColumn: "id", Key: 1}, replica, 30*time.Millisecond)

	assert.Equal(t, types.StatusTimedOut, out.Status)
	assert.Nil(t, out.Observation)
	assert.Greater(t, out.Attempts, 1)
}

func TestAssertValueEquals(t *testing.T) {
	o, _, primary, replica := newTestOracle(t, 20*time.Millisecond)
	ctx := context.Background()

	_, err := o.Exec(ctx, primary, "INSERT INTO products (name, price) VALUES ($1, $2)", "widget", 199.99)
	require.NoError(t, err)
	out := o.AssertRowReplicated(ctx, RowRef{Table: "products", KeyColumn: "name", Key: "widget"}, replica, time.Second)
	require.True(t, out.OK())

	_, err = o.Exec(ctx, primary, "UPDATE products SET price = $1 WHERE name = $2", 299.99, "widget")
	require.NoError(t, err)

	ref := RowRef{Table: "products", KeyColumn: "name", Key: "widget", ValueColumn: "price", Value: 299.99}
	out = o.AssertValueEquals(ctx, ref, replica, time.Second)

	assert.True(t, out.OK(), out.Err())
	assert.Greater(t, out.Attempts, 1)
	assert.Equal(t, 299.99, out.Observed())
}

func TestAssertValueEqualsStaleTimesOut(t *testing.T) {
	o, cluster, _, replica := newTestOracle(t, 0)

	cluster.Put("replica", "products", testutil.Row{"name": "widget", "price": 199.99})

	ref := RowRef{Table: "products", KeyColumn: "name", Key: "widget", ValueColumn: "price", Value: 299.99}
	out := o.AssertValueEquals(context.Background(), ref, replica, 30*time.Millisecond)

	assert.Equal(t, types.StatusTimedOut, out.Status)
	assert.Equal(t, 199.99, out.Observed())
}

func TestAssertCountsEqual(t *testing.T) {
	o, _, primary, replica := newTestOracle(t, 20*time.Millisecond)
	ctx := context.Background()

	rows := make([][]any, 100)
	for i := range rows {
		rows[i] = []any{fmt.Sprintf("batch_user_%d", i), fmt.Sprintf("batch_%d@x.com", i)}
	}
	n, err := o.ExecBatch(ctx, primary, "INSERT INTO users (username, email) VALUES ($1, $2)", rows)
	require.NoError(t, err)
	require.Equal(t, int64(100), n)

	out := o.AssertCountsEqual(ctx, []string{"users"}, primary, replica, 10*time.Second)
	require.True(t, out.OK(), out.Err())

	expected := out.Expected.(types.Snapshot)
	observed := out.Observed().(types.Snapshot)
	assert.Equal(t, int64(100), expected.Counts["users"])
	assert.Equal(t, expected.Counts, observed.Counts)

	// No intervening writes: same outcome again
	again := o.AssertCountsEqual(ctx, []string{"users"}, primary, replica, 10*time.Second)
	assert.Equal(t, out.Status, again.Status)
	assert.Equal(t, observed.Counts, again.Observed().(types.Snapshot).Counts)
	assert.Equal(t, 1, again.Attempts)
}

func TestAssertCountsEqualReadsSourceOnce(t *testing.T) {
	o, cluster, primary, replica := newTestOracle(t, 0)
	ctx := context.Background()

	// Replica holds an extra row the primary never had
	cluster.Put("replica", "users", testutil.Row{"username": "extra"})

	before := cluster.SessionsOpened()
	out := o.AssertCountsEqual(ctx, []string{"users"}, primary, replica, 30*time.Millisecond)

	assert.Equal(t, types.StatusTimedOut, out.Status)
	assert.Equal(t, 2, cluster.SessionsOpened()-before)
	assert.Equal(t, int64(0), out.Expected.(types.Snapshot).Counts["users"])
	assert.Equal(t, int64(1), out.Observed().(types.Snapshot).Counts["users"])
}

func TestAssertCountsEqualSourceDown(t *testing.T) {
	o, cluster, primary, replica := newTestOracle(t, 0)
	cluster.SetDown("primary", true)

	out := o.AssertCountsEqual(context.Background(), tables, primary, replica, time.Second)

	assert.Equal(t, types.StatusUnreachable, out.Status)
	assert.Equal(t, "primary", out.Endpoint)
}

func TestAssertCountMatching(t *testing.T) {
	o, cluster, primary, replica := newTestOracle(t, 10*time.Millisecond)
	ctx := context.Background()

	cluster.Put("primary", "users", testutil.Row{"username": "batchXuser"})
	cluster.Put("replica", "users", testutil.Row{"username": "batchXuser"})

	rows := [][]any{{"batch_user_1"}, {"batch_user_2"}, {"batch_user_3"}}
	_, err := o.ExecBatch(ctx, primary, "INSERT INTO users (username) VALUES ($1)", rows)
	require.NoError(t, err)

	out := o.AssertCountMatching(ctx, Filter{Table: "users", Column: "username", Prefix: "batch_user_"}, 3, replica, time.Second)

	assert.True(t, out.OK(), out.Err())
	assert.Equal(t, int64(3), out.Observed())
}

func TestAssertReadOnly(t *testing.T) {
	o, cluster, primary, replica := newTestOracle(t, 0)
	ctx := context.Background()
	probe := types.DefaultProbe()

	out := o.AssertReadOnly(ctx, replica, probe)
	assert.Equal(t, types.StatusConverged, out.Status, out.Err())
	assert.Equal(t, WriteRejected, out.Observed())
	assert.Equal(t, 1, out.Attempts)

	out = o.AssertReadOnly(ctx, primary, probe)
	assert.Equal(t, types.StatusDiverged, out.Status)
	assert.Equal(t, WriteAccepted, out.Observed())

	// The probe is rolled back
	assert.Zero(t, cluster.Count("primary", "users"))
}

func TestAssertReadOnlyOtherError(t *testing.T) {
	o, _, primary, _ := newTestOracle(t, 0)
	probe := types.Probe{Table: "missing", KeyColumn: "id"}

	out := o.AssertReadOnly(context.Background(), primary, probe)

	assert.Equal(t, types.StatusFailed, out.Status)
	assert.Equal(t, 1, out.Attempts)
	assert.Error(t, out.Cause)
}

func TestAssertReadOnlyUnreachable(t *testing.T) {
	o, cluster, _, replica := newTestOracle(t, 0)
	cluster.SetDown("replica", true)

	out := o.AssertReadOnly(context.Background(), replica, types.DefaultProbe())
	assert.Equal(t, types.StatusUnreachable, out.Status)
}

func TestAssertWritable(t *testing.T) {
	o, cluster, _, replica := newTestOracle(t, 0)
	cluster.PromoteDelay = 30 * time.Millisecond

	require.NoError(t, cluster.Promote(context.Background(), replica.Node))

	out := o.AssertWritable(context.Background(), replica, types.DefaultProbe(), time.Second)

	assert.True(t, out.OK(), out.Err())
	assert.Greater(t, out.Attempts, 1)
	assert.Zero(t, cluster.Count("replica", "users"))
}

func TestAssertWritableTimesOut(t *testing.T) {
	o, _, _, replica := newTestOracle(t, 0)

	out := o.AssertWritable(context.Background(), replica, types.DefaultProbe(), 30*time.Millisecond)

	assert.Equal(t, types.StatusTimedOut, out.Status)
	assert.Equal(t, WriteRejected, out.Observed())
}

func TestAssertUnreachable(t *testing.T) {
	o, cluster, primary, _ := newTestOracle(t, 0)

	out := o.AssertUnreachable(context.Background(), primary, 30*time.Millisecond)
	assert.Equal(t, types.StatusTimedOut, out.Status)
	assert.Equal(t, string(types.LivenessReachable), out.Observed())

	cluster.SetDown("primary", true)
	out = o.AssertUnreachable(context.Background(), primary, time.Second)
	assert.True(t, out.OK())
	assert.Equal(t, string(types.LivenessUnreachable), out.Observed())
}

func TestMeasureReplicationDelay(t *testing.T) {
	o, _, primary, replica := newTestOracle(t, 40*time.Millisecond)

	out := o.MeasureReplicationDelay(context.Background(), types.DefaultProbe(), primary, replica, 5*time.Second)

	require.True(t, out.OK(), out.Err())
	assert.GreaterOrEqual(t, out.Elapsed, 35*time.Millisecond)
	assert.Less(t, out.Elapsed, 5*time.Second)
}

func TestMeasureReplicationDelayTimesOut(t *testing.T) {
	o, _, primary, replica := newTestOracle(t, time.Hour)

	out := o.MeasureReplicationDelay(context.Background(), types.DefaultProbe(), primary, replica, 30*time.Millisecond)

	assert.Equal(t, types.StatusTimedOut, out.Status)
	assert.GreaterOrEqual(t, out.Elapsed, time.Duration(0))
}

func TestMeasureReplicationDelayPrimaryReadOnly(t *testing.T) {
	o, cluster, primary, replica := newTestOracle(t, 0)
	cluster.SetReadOnly("primary", true)

	out := o.MeasureReplicationDelay(context.Background(), types.DefaultProbe(), primary, replica, time.Second)

	assert.Equal(t, types.StatusFailed, out.Status)
	assert.Equal(t, "primary", out.Endpoint)
}

func TestOutcomesArePublished(t *testing.T) {
	primary, replica := testutil.Endpoints()
	cluster := testutil.NewCluster(primary, replica, 0, tables...)
	bus := events.NewBus()
	o := New(cluster, WithInterval(5*time.Millisecond), WithEvents(bus))

	var got []types.Status
	bus.Subscribe(func(e *events.Event) {
		if e.Type == events.EventCheckFinished {
			got = append(got, e.Outcome.Status)
		}
	})

	o.AssertReadOnly(context.Background(), replica, types.DefaultProbe())
	o.AssertReadOnly(context.Background(), primary, types.DefaultProbe())

	assert.Equal(t, []types.Status{types.StatusConverged, types.StatusDiverged}, got)
}

func TestInsertProbe(t *testing.T) {
	stmt, args := InsertProbe(types.DefaultProbe(), "k1")

	assert.Equal(t, `INSERT INTO "users" ("username", "email") VALUES ($1, $2)`, stmt)
	assert.Equal(t, []any{"k1", "k1@replcheck.invalid"}, args)
}

func TestCountMatchingEscapesPrefix(t *testing.T) {
	stmt, pattern := countMatching(Filter{Table: "users", Column: "username", Prefix: "batch_1%"})

	assert.Equal(t, `SELECT COUNT(*) FROM "users" WHERE "username" LIKE $1`, stmt)
	assert.Equal(t, `batch\_1\%%`, pattern)
}

func TestSameValue(t *testing.T) {
	tests := []struct {
		expected any
		observed any
		want     bool
	}{
		{"a@x.com", "a@x.com", true},
		{299.99, "299.99", true},
		{30.0, "30.00", true},
		{int64(7), 7, true},
		{"a", "b", false},
		{299.99, "199.99", false},
		{"007", "7", false},
		{"1e2", "100", false},
		{"NULL", nil, false},
		{nil, "NULL", false},
		{nil, nil, true},
		{15, "15", true},
		{float32(1.5), "1.50", true},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, sameValue(tt.expected, tt.observed), "%v vs %v", tt.expected, tt.observed)
	}
}

func TestNewKeyIsUnique(t *testing.T) {
	a, b := NewKey("delay"), NewKey("delay")
	assert.NotEqual(t, a, b)
	assert.Contains(t, a, "replcheck_delay_")
}
